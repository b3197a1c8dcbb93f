package network

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by HeadObject when no object exists at the key.
var ErrObjectNotFound = errors.New("no object found for the provided key")

// ObjectInfo describes an existing remote object.
type ObjectInfo struct {
	// Size is the stored (compressed) object size in bytes.
	Size int64
	// Tags holds the object's tag set.
	Tags map[string]string
}

// Part identifies one completed part of a multipart upload.
type Part struct {
	PartNumber int32
	ETag       string
}

// MultipartUpload is the handle of an in-flight multipart upload session.
type MultipartUpload struct {
	UploadID string
	Key      string
}

// ObjectStorage is the storage backend capability consumed by the upload engine.
// All operations are blocking and honor context cancellation.
type ObjectStorage interface {
	HeadObject(ctx context.Context, key string) (ObjectInfo, error)
	GetObjectRange(ctx context.Context, key string, start, end int64) ([]byte, error)
	CreateMultipartUpload(ctx context.Context, key string) (MultipartUpload, error)
	UploadPartCopy(ctx context.Context, upload MultipartUpload, partNumber int32, sourceKey string, start, end int64) (Part, error)
	UploadPart(ctx context.Context, upload MultipartUpload, partNumber int32, body []byte) (Part, error)
	CompleteMultipartUpload(ctx context.Context, upload MultipartUpload, parts []Part) error
	AbortMultipartUpload(ctx context.Context, upload MultipartUpload) error
	PutObjectTag(ctx context.Context, key string, tagKey, tagValue string) error
}
