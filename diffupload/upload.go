// Package diffupload implements incremental uploads of a growing local file
// to object storage. Each run determines how much of the file is already
// represented in the destination object, seeds a new object version with the
// stored bytes via server-side copy, and appends only the new bytes as a
// freshly compressed gzip member. The uncompressed byte count is persisted as
// a tag on the object itself, so runs are stateless.
package diffupload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"

	"github.com/growfile/diffupload/diffupload/network"
)

// Uploader ...
type Uploader interface {
	Upload(ctx context.Context, input UploadInput) error
}

type uploader struct {
	envRepo      env.Repository
	logger       log.Logger
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	storage      network.ObjectStorage
}

// NewUploader creates a new uploader instance. `storage` can be nil, unless
// you want to provide a custom ObjectStorage implementation; by default an S3
// client is created from the run's config.
func NewUploader(
	envRepo env.Repository,
	logger log.Logger,
	pathModifier pathutil.PathModifier,
	pathChecker pathutil.PathChecker,
	storage network.ObjectStorage,
) *uploader {
	return &uploader{
		envRepo:      envRepo,
		logger:       logger,
		pathModifier: pathModifier,
		pathChecker:  pathChecker,
		storage:      storage,
	}
}

// Upload runs one differential upload: read state, compute the plan, execute
// it. The plan is computed once and never revisited, so a file that keeps
// growing during the run is picked up by the next run instead.
func (u *uploader) Upload(ctx context.Context, input UploadInput) error {
	config, err := u.createConfig(input)
	if err != nil {
		return fmt.Errorf("failed to parse inputs: %w", err)
	}

	src, err := newLocalFile(config.SourcePath)
	if err != nil {
		return err
	}

	storage := u.storage
	if storage == nil {
		storage, err = network.NewS3Client(ctx, network.S3ClientParams{
			Region:          config.Region,
			Bucket:          config.Bucket,
			AccessKeyID:     string(config.AccessKeyID),
			SecretAccessKey: string(config.SecretAccessKey),
		}, u.logger)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
	}

	tracker := newUploadTracker(u.envRepo, u.logger)
	defer tracker.wait()

	u.logger.Println()
	u.logger.Infof("Uploading %s to s3://%s/%s", config.SourcePath, config.Bucket, config.Key)
	u.logger.Printf("Local file size: %s", units.HumanSizeWithPrecision(float64(src.Size()), 3))

	remote, err := readRemoteState(ctx, storage, config.Key, config.Compress)
	if errors.Is(err, ErrStateCorrupt) {
		if config.StrictRemoteState {
			return err
		}
		// Not the same situation as a clean first run: the object is there,
		// only its state is unusable.
		u.logger.Warnf("Remote object exists but has no usable size tag, falling back to a full re-upload: %s", err)
		remote = RemoteObjectState{}
	} else if err != nil {
		return err
	}
	u.logger.Printf("Already uploaded: %s", units.HumanSizeWithPrecision(float64(remote.UncompressedBytesIncluded), 3))

	plan := buildPlan(remote, src.Size())
	u.logger.Donef("Plan: %s", plan.Mode)

	if plan.Mode == ModeNoOp {
		u.logger.Donef("Remote object is already up to date")
		tracker.logUploadFinished(plan.Mode, 0, 0, remote.UncompressedBytesIncluded)
		return nil
	}

	if config.TailCheckBytes > 0 && plan.Mode == ModeDifferentialUpload {
		if err := u.verifyTail(ctx, storage, config, remote, src); err != nil {
			return err
		}
	}

	uploadStartTime := time.Now()
	err = newOrchestrator(storage, u.logger).run(ctx, plan, src, config)
	if errors.Is(err, ErrTagWriteFailed) {
		u.logger.Warnf("Upload finished but the size tag could not be written; the next run will re-upload the whole file: %s", err)
		return err
	}
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	uploadTime := time.Since(uploadStartTime).Round(time.Millisecond)

	bytesUploaded := plan.DeltaRange.Size()
	bytesReused := plan.DeltaRange.Start
	u.logger.Donef("Uploaded %s in %s (%s reused from the previous upload)",
		units.HumanSizeWithPrecision(float64(bytesUploaded), 3),
		uploadTime,
		units.HumanSizeWithPrecision(float64(bytesReused), 3))
	tracker.logUploadFinished(plan.Mode, uploadTime, bytesUploaded, bytesReused)

	return nil
}

// verifyTail compares the last bytes of the remote object against the
// corresponding local bytes before a differential upload. The engine assumes
// append-only growth and would silently produce a corrupt object when history
// was edited in place; the spot-check catches that for uncompressed
// destinations at the cost of one ranged read.
func (u *uploader) verifyTail(ctx context.Context, storage network.ObjectStorage, config uploadConfig, remote RemoteObjectState, src *localFile) error {
	n := config.TailCheckBytes
	if n > remote.UncompressedBytesIncluded {
		n = remote.UncompressedBytesIncluded
	}
	if n == 0 {
		return nil
	}
	start := remote.UncompressedBytesIncluded - n
	end := remote.UncompressedBytesIncluded

	remoteTail, err := storage.GetObjectRange(ctx, config.Key, start, end)
	if err != nil {
		return fmt.Errorf("read remote tail: %w", err)
	}

	reader, err := src.RangeReader(start, end)
	if err != nil {
		return err
	}
	defer reader.Close() //nolint:errcheck
	localTail, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read local tail: %w", err)
	}

	if !bytes.Equal(remoteTail, localTail) {
		return fmt.Errorf("%w: last %d bytes differ", ErrPrefixMismatch, n)
	}
	u.logger.Debugf("Tail check passed for bytes [%d, %d)", start, end)
	return nil
}
