package api

import "errors"

// ErrAllocFull the region allocator could not satisfy a request from
// the arena it was made against (hot for Allocate, cold for
// AllocateCold); neither arena falls back to the other, and growth is
// not possible. Treated as fatal by callers, mirroring how the
// teacher's malloc package panics on exhaustion.
var ErrAllocFull = errors.New("ssncore.allocFull")

// ErrGcOverlap a compaction pass was requested for a region while a
// previous compaction on the same region had not yet returned to
// NORMAL. Two concurrent compactions over one region are never
// valid.
var ErrGcOverlap = errors.New("ssncore.gcOverlap")

// ErrSlotExhausted the readers registry has no free slot to assign to
// a newly registering reader. Bounded by the registry's fixed slot
// width (64 in this build, see version.Version.Readers).
var ErrSlotExhausted = errors.New("ssncore.slotExhausted")

// ErrEngineClosed operation attempted after the engine has begun or
// completed shutdown.
var ErrEngineClosed = errors.New("ssncore.engineClosed")
