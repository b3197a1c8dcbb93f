package diffupload

import "fmt"

// UploadMode is the action a single run has to take.
type UploadMode int

const (
	// ModeNoOp means the remote object already contains the whole local file.
	ModeNoOp UploadMode = iota
	// ModeFullUpload means the whole local file is uploaded from scratch.
	ModeFullUpload
	// ModeDifferentialUpload means the existing object is reused as a seed and
	// only the newly appended bytes are compressed and uploaded.
	ModeDifferentialUpload
)

func (m UploadMode) String() string {
	switch m {
	case ModeNoOp:
		return "no-op"
	case ModeFullUpload:
		return "full upload"
	case ModeDifferentialUpload:
		return "differential upload"
	default:
		return fmt.Sprintf("unknown mode (%d)", int(m))
	}
}

// ByteRange is the half-open interval [Start, End).
type ByteRange struct {
	Start int64
	End   int64
}

// Size ...
func (r ByteRange) Size() int64 {
	return r.End - r.Start
}

// UploadPlan is computed once per run and consumed exactly once. It is never
// recomputed mid-flight, so a file growing while the upload runs can't shift
// the ranges under the orchestrator.
type UploadPlan struct {
	Mode UploadMode
	// SeedRange addresses the compressed bytes of the existing remote object
	// that are copied server-side into the new object. Empty unless Mode is
	// ModeDifferentialUpload.
	SeedRange ByteRange
	// DeltaRange addresses the uncompressed bytes of the local file that still
	// have to be compressed and uploaded.
	DeltaRange ByteRange
	// NewUncompressedTotal is persisted as the size tag after a successful
	// upload; it always equals the local file size observed at plan time.
	NewUncompressedTotal int64
}

// buildPlan decides what a run has to do. Pure function over the two observed
// states, no I/O, so the decision table is testable without a backend.
//
// A local file smaller than what was already uploaded can't be represented by
// append-only growth, so a shrink resets to a full upload instead of failing.
func buildPlan(remote RemoteObjectState, localSize int64) UploadPlan {
	prev := remote.UncompressedBytesIncluded

	switch {
	case localSize == prev:
		return UploadPlan{
			Mode:                 ModeNoOp,
			NewUncompressedTotal: localSize,
		}
	case prev == 0 || localSize < prev:
		return UploadPlan{
			Mode:                 ModeFullUpload,
			DeltaRange:           ByteRange{Start: 0, End: localSize},
			NewUncompressedTotal: localSize,
		}
	default:
		return UploadPlan{
			Mode:                 ModeDifferentialUpload,
			SeedRange:            ByteRange{Start: 0, End: remote.CompressedObjectSize},
			DeltaRange:           ByteRange{Start: prev, End: localSize},
			NewUncompressedTotal: localSize,
		}
	}
}
