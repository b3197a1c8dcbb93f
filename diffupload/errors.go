package diffupload

import "errors"

// ErrStateCorrupt means the destination object exists but carries no parseable
// size tag, so the engine can't tell how much uncompressed content the stored
// bytes represent.
var ErrStateCorrupt = errors.New("remote object exists but its size tag is missing or unparseable")

// ErrFileUnreadable means the source file is missing or inaccessible.
var ErrFileUnreadable = errors.New("source file is not readable")

// ErrTagWriteFailed means the object was assembled correctly but the size tag
// could not be written afterwards. The data is intact; the next run will treat
// the object as first-run state and fall back to a full re-upload.
var ErrTagWriteFailed = errors.New("upload succeeded but writing the size tag failed")

// ErrPrefixMismatch means the tail spot-check found that previously uploaded
// bytes no longer match the local file, i.e. the file was edited in place
// rather than appended to.
var ErrPrefixMismatch = errors.New("previously uploaded bytes do not match the local file")
