package diffupload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/growfile/diffupload/diffupload/network"
)

// sizeTagKey is the object tag holding the uncompressed byte count already
// incorporated into the object, as a decimal string. The tag is the only state
// persisted between runs; there is no side database.
const sizeTagKey = "total_uncompressed_size"

// RemoteObjectState is what a run knows about the destination object.
// The zero value represents "no object exists yet".
type RemoteObjectState struct {
	// UncompressedBytesIncluded is how much of the local file (uncompressed)
	// is already represented in the remote object.
	UncompressedBytesIncluded int64
	// CompressedObjectSize is the stored object size; server-side copies are
	// addressed over these bytes.
	CompressedObjectSize int64
}

// readRemoteState derives the remote state from the destination object. A
// missing object maps to the zero state. An object without a parseable size
// tag is ErrStateCorrupt when the destination is compressed; for uncompressed
// destinations the object size itself is the uncompressed count.
func readRemoteState(ctx context.Context, storage network.ObjectStorage, key string, compressed bool) (RemoteObjectState, error) {
	info, err := storage.HeadObject(ctx, key)
	if errors.Is(err, network.ErrObjectNotFound) {
		return RemoteObjectState{}, nil
	}
	if err != nil {
		return RemoteObjectState{}, fmt.Errorf("read remote object state: %w", err)
	}

	if !compressed {
		return RemoteObjectState{
			UncompressedBytesIncluded: info.Size,
			CompressedObjectSize:      info.Size,
		}, nil
	}

	value, ok := info.Tags[sizeTagKey]
	if !ok {
		return RemoteObjectState{}, ErrStateCorrupt
	}
	included, err := strconv.ParseInt(value, 10, 64)
	if err != nil || included < 0 {
		return RemoteObjectState{}, fmt.Errorf("%w: tag %s=%q", ErrStateCorrupt, sizeTagKey, value)
	}

	return RemoteObjectState{
		UncompressedBytesIncluded: included,
		CompressedObjectSize:      info.Size,
	}, nil
}

// localFile reports the source file's size and hands out byte-range readers.
// Ranges are read through a section reader so large files are never loaded
// into memory as a whole.
type localFile struct {
	path string
	size int64
}

func newLocalFile(path string) (*localFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrFileUnreadable, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrFileUnreadable, path)
	}
	return &localFile{path: path, size: info.Size()}, nil
}

func (f *localFile) Size() int64 {
	return f.size
}

// RangeReader returns a sequential reader over [start, end) of the file.
func (f *localFile) RangeReader(start, end int64) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrFileUnreadable, f.path, err)
	}
	return &sectionReadCloser{
		Reader: io.NewSectionReader(file, start, end-start),
		file:   file,
	}, nil
}

type sectionReadCloser struct {
	io.Reader
	file *os.File
}

func (s *sectionReadCloser) Close() error {
	return s.file.Close()
}
