package diffupload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/growfile/diffupload/diffupload/compression"
	"github.com/growfile/diffupload/diffupload/network"
)

const (
	// minPartSize is the smallest non-final part the backend accepts (5 MiB
	// for S3). Copy parts are never final, so every seed part has to reach it.
	minPartSize = 5 * 1024 * 1024
	// maxCopyPartSize caps a single server-side copy so very large seeds are
	// split into multiple parts that can be copied in parallel.
	maxCopyPartSize = 1024 * 1024 * 1024

	copyConcurrency = 4
)

// orchestrator executes one UploadPlan as a multipart upload session:
// initiate, seed part(s) via server-side copy, delta part(s) via direct
// upload, complete, tag. Every exit path after initiation except a successful
// complete aborts the session so the backend doesn't retain it.
type orchestrator struct {
	storage         network.ObjectStorage
	logger          log.Logger
	minPartSize     int64
	maxCopyPartSize int64
	copyConcurrency int
}

func newOrchestrator(storage network.ObjectStorage, logger log.Logger) *orchestrator {
	return &orchestrator{
		storage:         storage,
		logger:          logger,
		minPartSize:     minPartSize,
		maxCopyPartSize: maxCopyPartSize,
		copyConcurrency: copyConcurrency,
	}
}

// run executes the plan against the destination key. The caller handles
// ModeNoOp; run is only invoked when there is something to upload.
func (o *orchestrator) run(ctx context.Context, plan UploadPlan, src *localFile, config uploadConfig) error {
	upload, err := o.storage.CreateMultipartUpload(ctx, config.Key)
	if err != nil {
		return fmt.Errorf("initiate multipart upload: %w", err)
	}
	o.logger.Debugf("Multipart upload session: %s", upload.UploadID)

	completed := false
	defer func() {
		if completed {
			return
		}
		// The session context may already be cancelled; abort must still go out.
		if abortErr := o.storage.AbortMultipartUpload(context.Background(), upload); abortErr != nil {
			o.logger.Warnf("Failed to abort multipart upload %s: %s", upload.UploadID, abortErr)
		} else {
			o.logger.Debugf("Aborted multipart upload %s", upload.UploadID)
		}
	}()

	var parts []network.Part
	nextPartNumber := int32(1)
	seedFallback := false

	if plan.Mode == ModeDifferentialUpload {
		if plan.SeedRange.Size() >= o.minPartSize {
			seedParts, err := o.copySeed(ctx, upload, config.Key, plan.SeedRange)
			if err != nil {
				return fmt.Errorf("seed copy: %w", err)
			}
			parts = append(parts, seedParts...)
			nextPartNumber += int32(len(seedParts))
		} else {
			// A copy part below the backend minimum would be rejected, so the
			// seed content is re-sent directly instead of copied.
			o.logger.Debugf("Seed of %d bytes is below the minimum part size, re-uploading it instead of copying", plan.SeedRange.Size())
			seedFallback = true
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	writer := newPartWriter(ctx, o.storage, upload, nextPartNumber, o.minPartSize)

	if seedFallback {
		if err := o.writeLocalRange(writer, src, ByteRange{Start: 0, End: plan.DeltaRange.Start}, config); err != nil {
			return fmt.Errorf("re-upload seed: %w", err)
		}
	}
	if err := o.writeLocalRange(writer, src, plan.DeltaRange, config); err != nil {
		return fmt.Errorf("upload delta: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("flush final part: %w", err)
	}
	parts = append(parts, writer.Parts()...)

	if err := ctx.Err(); err != nil {
		return err
	}

	sort.Slice(parts, func(i, j int) bool {
		return parts[i].PartNumber < parts[j].PartNumber
	})
	if err := o.storage.CompleteMultipartUpload(ctx, upload, parts); err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}
	completed = true

	tagValue := strconv.FormatInt(plan.NewUncompressedTotal, 10)
	if err := o.storage.PutObjectTag(ctx, config.Key, sizeTagKey, tagValue); err != nil {
		// The object itself is intact; only the next run's state is degraded.
		return fmt.Errorf("%w: %s", ErrTagWriteFailed, err)
	}

	return nil
}

// writeLocalRange streams a byte range of the source file into the part
// writer, as one self-contained gzip member or as raw bytes.
func (o *orchestrator) writeLocalRange(writer *partWriter, src *localFile, r ByteRange, config uploadConfig) error {
	reader, err := src.RangeReader(r.Start, r.End)
	if err != nil {
		return err
	}
	defer reader.Close() //nolint:errcheck

	if config.Compress {
		written, err := compression.WriteMember(writer, reader, config.CompressionLevel)
		if err != nil {
			return err
		}
		o.logger.Debugf("Compressed bytes [%d, %d) into a %d byte member", r.Start, r.End, written)
		return nil
	}

	if _, err := io.Copy(writer, reader); err != nil {
		return fmt.Errorf("copy source range: %w", err)
	}
	return nil
}

// copySeed issues the server-side copy part(s) covering the seed range. Part
// numbers are assigned before dispatch, so parallel completion order can't
// reorder the final object.
func (o *orchestrator) copySeed(ctx context.Context, upload network.MultipartUpload, sourceKey string, seed ByteRange) ([]network.Part, error) {
	ranges := splitCopyRanges(seed, o.maxCopyPartSize, o.minPartSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	parts := make([]network.Part, len(ranges))
	errChan := make(chan error, len(ranges))
	semaphore := make(chan struct{}, o.copyConcurrency)

	for i, r := range ranges {
		go func(index int, r ByteRange) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			part, err := o.storage.UploadPartCopy(ctx, upload, int32(index+1), sourceKey, r.Start, r.End)
			if err != nil {
				errChan <- fmt.Errorf("copy part %d: %w", index+1, err)
				cancel()
				return
			}
			parts[index] = part
			errChan <- nil
		}(i, r)
	}

	for range ranges {
		if err := <-errChan; err != nil {
			return nil, err
		}
	}

	return parts, nil
}

// splitCopyRanges cuts a range into copy-part sized windows. A trailing
// remainder below minSize is folded into the previous window because copy
// parts are never the final part of the session.
func splitCopyRanges(r ByteRange, maxSize, minSize int64) []ByteRange {
	var ranges []ByteRange
	for start := r.Start; start < r.End; start += maxSize {
		end := start + maxSize
		if end > r.End {
			end = r.End
		}
		ranges = append(ranges, ByteRange{Start: start, End: end})
	}

	if n := len(ranges); n > 1 && ranges[n-1].Size() < minSize {
		ranges[n-2].End = ranges[n-1].End
		ranges = ranges[:n-1]
	}

	return ranges
}

// partWriter buffers written bytes and uploads a part every time the buffer
// reaches the minimum part size. The remainder is flushed on Close as the
// final part, which the backend accepts at any size.
type partWriter struct {
	ctx        context.Context
	storage    network.ObjectStorage
	upload     network.MultipartUpload
	chunkSize  int64
	nextNumber int32
	buf        bytes.Buffer
	parts      []network.Part
}

func newPartWriter(ctx context.Context, storage network.ObjectStorage, upload network.MultipartUpload, firstPartNumber int32, chunkSize int64) *partWriter {
	return &partWriter{
		ctx:        ctx,
		storage:    storage,
		upload:     upload,
		chunkSize:  chunkSize,
		nextNumber: firstPartNumber,
	}
}

func (w *partWriter) Write(p []byte) (int, error) {
	w.buf.Write(p) // never returns an error

	for int64(w.buf.Len()) >= w.chunkSize {
		if err := w.flush(int(w.chunkSize)); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close uploads whatever is left as the final part. A session needs at least
// one part, so an empty remainder is still flushed when nothing was uploaded.
func (w *partWriter) Close() error {
	if w.buf.Len() == 0 && len(w.parts) > 0 {
		return nil
	}
	return w.flush(w.buf.Len())
}

func (w *partWriter) Parts() []network.Part {
	return w.parts
}

func (w *partWriter) flush(n int) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(&w.buf, body); err != nil {
		return fmt.Errorf("drain part buffer: %w", err)
	}

	part, err := w.storage.UploadPart(w.ctx, w.upload, w.nextNumber, body)
	if err != nil {
		return fmt.Errorf("upload part %d: %w", w.nextNumber, err)
	}
	w.parts = append(w.parts, part)
	w.nextNumber++
	return nil
}
