package sync

import "errors"

// Run-level failure conditions surfaced to the invoking layer. Both mark
// the run as mismatch and must propagate as erroring outcomes; the sync
// cursor is left untouched so the next run re-covers the same window.
var (
	// ErrSanityGuardTripped reports an implausible collapse of the
	// source identity set; the deletion phase was aborted, upserts from
	// the same run still applied.
	ErrSanityGuardTripped = errors.New("source identity count collapsed, deletion phase aborted")

	// ErrValidationMismatch reports diverging source and destination
	// counts after a completed sync.
	ErrValidationMismatch = errors.New("source and destination record counts do not match")
)
