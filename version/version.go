// Package version implements the per-tuple version record and
// version chain: the multi-version payload storage that the SSN/SSI
// validator reads and writes, and the bridge through which writers
// install new versions and the reclaim daemon compacts old ones.
package version

import "sync/atomic"

import "github.com/bnclabs/ssncore/api"

// Marker bits packed into Version.marker. LSB records that some
// reader has already classified this version as old; MSB is the
// lockout bit a committing writer sets so that no new reader may
// start classifying this version as old while the writer resolves
// persistent readers at pre-commit.
const (
	markerOld     = uint32(1) << 0
	markerLockout = uint32(1) << 1
)

// Version is one entry in a tuple's version chain. Fields other than
// Payload are accessed exclusively through atomics: pstamp/sstamp by
// CAS min/max-merge, marker by CAS, readers by atomic OR/XOR, next by
// atomic.Pointer swap during chain installation, unlinking and
// compaction.
type Version struct {
	// CLSN creation LSN, set once at construction, never mutated.
	CLSN api.LSN

	pstamp  atomic.Uint64 // max commit-stamp of successful readers
	sstamp  atomic.Uint64 // min commit-stamp of successful overwriters
	marker  atomic.Uint32 // 2 significant bits, see markerOld/markerLockout
	readers atomic.Uint64 // bit i set => registry slot i is a reader

	next   atomic.Pointer[Version]
	writer atomic.Value // holds api.WriterHandle

	// Payload is the tuple's value bytes for this version, carved out
	// of a region.Region allocation. Immutable once installed.
	Payload []byte
}

// NewVersion construct a version with the given creation LSN and
// payload, ready to be linked and installed via Bridge.Install. Its
// pstamp/sstamp start at their respective identity values (0 for
// pstamp's max-merge, maximum for sstamp's min-merge).
func NewVersion(clsn api.LSN, payload []byte) *Version {
	v := &Version{CLSN: clsn, Payload: payload}
	v.sstamp.Store(^uint64(0))
	return v
}

// Next return the version this one supersedes, or nil at the tail.
func (v *Version) Next() *Version {
	return v.next.Load()
}

// LinkNext set v's successor pointer directly. Used only while v is
// still private to its constructor (the reclaim daemon building a
// relocated replacement) and has not yet been published through
// Bridge.Install/RelinkNext; once published, next is only ever
// mutated through the CAS methods on Bridge.
func (v *Version) LinkNext(next *Version) {
	v.next.Store(next)
}

// Pstamp return the version's current predecessor stamp.
func (v *Version) Pstamp() uint64 {
	return v.pstamp.Load()
}

// Sstamp return the version's current successor stamp.
func (v *Version) Sstamp() uint64 {
	return v.sstamp.Load()
}

// MergePstamp atomically raise v.pstamp to max(current, val).
// Concurrent-safe CAS retry loop.
func (v *Version) MergePstamp(val uint64) {
	for {
		old := v.pstamp.Load()
		if val <= old {
			return
		}
		if v.pstamp.CompareAndSwap(old, val) {
			return
		}
	}
}

// MergeSstamp atomically lower v.sstamp to min(current, val).
// Concurrent-safe CAS retry loop.
func (v *Version) MergeSstamp(val uint64) {
	for {
		old := v.sstamp.Load()
		if val >= old {
			return
		}
		if v.sstamp.CompareAndSwap(old, val) {
			return
		}
	}
}

// SetLockout sets the persistent-reader marker's MSB, the "new
// readers must not classify this as old" bit. Called by a committing
// writer of the prior version before it resolves persistent readers
// at pre-commit.
func (v *Version) SetLockout() {
	for {
		old := v.marker.Load()
		newval := old | markerLockout
		if old == newval || v.marker.CompareAndSwap(old, newval) {
			return
		}
	}
}

// IsLockedOut report whether the lockout bit is set.
func (v *Version) IsLockedOut() bool {
	return v.marker.Load()&markerLockout != 0
}

// TryMarkOld attempts to CAS the marker's LSB from unset to set,
// provided the lockout bit (MSB) is not set. Returns true if the bit
// is now set, whether this call set it or another reader already had
// (the version is classified old either way). Returns false only when
// the version is locked out, in which case Validator.Read aborts the
// read with ReasonReaderLockout.
func (v *Version) TryMarkOld() bool {
	for {
		old := v.marker.Load()
		if old&markerLockout != 0 {
			return false
		}
		if old&markerOld != 0 {
			return true
		}
		newval := old | markerOld
		if v.marker.CompareAndSwap(old, newval) {
			return true
		}
	}
}

// Marker return the raw 2-bit marker value, for tests and debug
// assertions.
func (v *Version) Marker() uint32 {
	return v.marker.Load()
}

// SetWriter records w as the transaction that created v. Called once,
// by Write(), before v is published through Bridge.Install — never
// called again afterward, so Writer() below never races against a
// second SetWriter.
func (v *Version) SetWriter(w api.WriterHandle) {
	v.writer.Store(w)
}

// Writer returns the transaction that created v, or nil for a version
// that predates this build's tracking (e.g. one fabricated directly
// in a test) or was relocated by the reclaim daemon without carrying
// a writer forward, since a relocated version's original writer has
// long since committed and the copy no longer needs one.
func (v *Version) Writer() api.WriterHandle {
	w, _ := v.writer.Load().(api.WriterHandle)
	return w
}

// ReadersBitmap return the current readers bitmap snapshot.
func (v *Version) ReadersBitmap() uint64 {
	return v.readers.Load()
}

// SetReaderBit atomically OR slot's bit into the readers bitmap.
func (v *Version) SetReaderBit(slot int) {
	mask := uint64(1) << uint(slot)
	for {
		old := v.readers.Load()
		if old&mask != 0 || v.readers.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// ClearReaderBit atomically XOR slot's bit out of the readers bitmap.
// Idempotent against duplicate reads: clearing an already-clear bit
// is a no-op because XOR-ing a bit that is not actually set in the
// live value would flip it back on, so this checks-then-XORs in a CAS
// loop rather than blindly XOR-ing.
func (v *Version) ClearReaderBit(slot int) {
	mask := uint64(1) << uint(slot)
	for {
		old := v.readers.Load()
		if old&mask == 0 {
			return
		}
		if v.readers.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}
