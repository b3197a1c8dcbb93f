// Package compression produces self-contained gzip members. A gzip stream may
// consist of multiple members back to back; decompressing the concatenation
// yields the concatenation of each member's content, which is what lets the
// engine append freshly compressed bytes after bytes that are already stored.
package compression

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// DefaultLevel is the gzip compression level used when none is provided.
const DefaultLevel = gzip.DefaultCompression

// WriteMember compresses everything read from src into dst as one complete
// gzip member, including its own header and trailer. It holds no state across
// calls: a member written by one process appends cleanly after a member
// written by another. Returns the number of compressed bytes written to dst.
func WriteMember(dst io.Writer, src io.Reader, level int) (int64, error) {
	counter := &countingWriter{w: dst}

	zw, err := gzip.NewWriterLevel(counter, level)
	if err != nil {
		return 0, fmt.Errorf("create gzip writer: %w", err)
	}

	if _, err := io.Copy(zw, src); err != nil {
		return counter.n, fmt.Errorf("compress content: %w", err)
	}

	// Close finalizes the member: flushes pending bytes and writes the
	// CRC32/ISIZE trailer.
	if err := zw.Close(); err != nil {
		return counter.n, fmt.Errorf("close gzip writer: %w", err)
	}

	return counter.n, nil
}

// Decompress reads a possibly multi-member gzip stream and returns the full
// decompressed content.
func Decompress(r io.Reader) ([]byte, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer zr.Close() //nolint:errcheck

	content, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress content: %w", err)
	}
	return content, nil
}

// ValidLevel reports whether level is accepted by the gzip encoder.
func ValidLevel(level int) bool {
	return level >= gzip.HuffmanOnly && level <= gzip.BestCompression
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
