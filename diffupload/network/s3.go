package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const numRetries = 3
const retryWait = 5 * time.Second

// S3ClientParams ...
type S3ClientParams struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Client implements ObjectStorage on top of an S3 bucket.
// Transient call failures are retried internally with backoff.
type S3Client struct {
	client *s3.Client
	bucket string
	logger log.Logger
}

// NewS3Client ...
func NewS3Client(ctx context.Context, params S3ClientParams, logger log.Logger) (*S3Client, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.Region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return &S3Client{
		client: s3.NewFromConfig(*cfg),
		bucket: params.Bucket,
		logger: logger,
	}, nil
}

// HeadObject returns the object's size and tag set, or ErrObjectNotFound.
func (c *S3Client) HeadObject(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := retry.Times(numRetries).Wait(retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return ErrObjectNotFound, true
			}
			return fmt.Errorf("head object: %w", err), false
		}
		info.Size = aws.ToInt64(head.ContentLength)

		tagging, err := c.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("get object tagging: %w", err), false
		}
		info.Tags = make(map[string]string, len(tagging.TagSet))
		for _, tag := range tagging.TagSet {
			info.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
		return nil, true
	})
	if err != nil {
		return ObjectInfo{}, err
	}
	return info, nil
}

// GetObjectRange reads the object bytes in [start, end).
func (c *S3Client) GetObjectRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	var body []byte
	err := retry.Times(numRetries).Wait(retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
			Range:  aws.String(rangeSpec(start, end)),
		})
		if err != nil {
			if isNotFound(err) {
				return ErrObjectNotFound, true
			}
			return fmt.Errorf("get object range: %w", err), false
		}
		defer result.Body.Close() //nolint:errcheck
		body, err = io.ReadAll(result.Body)
		if err != nil {
			return fmt.Errorf("read object content: %w", err), false
		}
		return nil, true
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// CreateMultipartUpload ...
func (c *S3Client) CreateMultipartUpload(ctx context.Context, key string) (MultipartUpload, error) {
	var upload MultipartUpload
	err := retry.Times(numRetries).Wait(retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		result, err := c.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("create multipart upload: %w", err), false
		}
		upload = MultipartUpload{
			UploadID: aws.ToString(result.UploadId),
			Key:      key,
		}
		return nil, true
	})
	if err != nil {
		return MultipartUpload{}, err
	}
	return upload, nil
}

// UploadPartCopy copies [start, end) of the source object into the session as the given part.
func (c *S3Client) UploadPartCopy(ctx context.Context, upload MultipartUpload, partNumber int32, sourceKey string, start, end int64) (Part, error) {
	var part Part
	err := retry.Times(numRetries).Wait(retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		result, err := c.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:          aws.String(c.bucket),
			Key:             aws.String(upload.Key),
			UploadId:        aws.String(upload.UploadID),
			PartNumber:      aws.Int32(partNumber),
			CopySource:      aws.String(fmt.Sprintf("%s/%s", c.bucket, sourceKey)),
			CopySourceRange: aws.String(rangeSpec(start, end)),
		})
		if err != nil {
			return fmt.Errorf("copy part %d: %w", partNumber, err), false
		}
		part = Part{
			PartNumber: partNumber,
			ETag:       aws.ToString(result.CopyPartResult.ETag),
		}
		return nil, true
	})
	if err != nil {
		return Part{}, err
	}
	return part, nil
}

// UploadPart ...
func (c *S3Client) UploadPart(ctx context.Context, upload MultipartUpload, partNumber int32, body []byte) (Part, error) {
	var part Part
	err := retry.Times(numRetries).Wait(retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		result, err := c.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(upload.Key),
			UploadId:      aws.String(upload.UploadID),
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
		})
		if err != nil {
			return fmt.Errorf("upload part %d: %w", partNumber, err), false
		}
		part = Part{
			PartNumber: partNumber,
			ETag:       aws.ToString(result.ETag),
		}
		return nil, true
	})
	if err != nil {
		return Part{}, err
	}
	return part, nil
}

// CompleteMultipartUpload assembles the object from the listed parts.
// Parts must already be ordered by part number.
func (c *S3Client) CompleteMultipartUpload(ctx context.Context, upload MultipartUpload, parts []Part) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, part := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(part.PartNumber),
			ETag:       aws.String(part.ETag),
		}
	}

	return retry.Times(numRetries).Wait(retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(c.bucket),
			Key:      aws.String(upload.Key),
			UploadId: aws.String(upload.UploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: completed,
			},
		})
		if err != nil {
			return fmt.Errorf("complete multipart upload: %w", err), false
		}
		return nil, true
	})
}

// AbortMultipartUpload cancels the session so the backend doesn't retain it.
func (c *S3Client) AbortMultipartUpload(ctx context.Context, upload MultipartUpload) error {
	_, err := c.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(upload.Key),
		UploadId: aws.String(upload.UploadID),
	})
	if err != nil {
		return fmt.Errorf("abort multipart upload: %w", err)
	}
	return nil
}

// PutObjectTag replaces the object's tag set with the single provided tag.
func (c *S3Client) PutObjectTag(ctx context.Context, key string, tagKey, tagValue string) error {
	return retry.Times(numRetries).Wait(retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := c.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
			Tagging: &types.Tagging{
				TagSet: []types.Tag{
					{Key: aws.String(tagKey), Value: aws.String(tagValue)},
				},
			},
		})
		if err != nil {
			if isNotFound(err) {
				return ErrObjectNotFound, true
			}
			return fmt.Errorf("put object tagging: %w", err), false
		}
		return nil, true
	})
}

func isNotFound(err error) bool {
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.(type) {
		case *types.NotFound, *types.NoSuchKey:
			return true
		}
		// See https://github.com/boto/boto3/issues/2442 for why the code check is
		// needed on top of the typed errors.
		if apiError.ErrorCode() == "NotFound" {
			return true
		}
	}
	return false
}

// rangeSpec formats a Range/CopySourceRange value for [start, end).
// HTTP byte ranges are inclusive on both ends.
func rangeSpec(start, end int64) string {
	return fmt.Sprintf("bytes=%d-%d", start, end-1)
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("using static aws credentials from config")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
