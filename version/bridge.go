package version

import "sync"
import "sync/atomic"

import "github.com/bnclabs/ssncore/api"

// head wraps the atomic pointer to the newest Version of one tuple's
// chain. A separate type (rather than embedding atomic.Pointer
// directly in the map) keeps Bridge's map values fixed-size and
// addressable for CompareAndSwap.
type head struct {
	ptr atomic.Pointer[Version]
}

// Bridge is the tuple-vector bridge: the one place writers and the
// reclaim daemon touch per-object head pointers. It owns a table from
// stable numeric oid to that oid's version chain head, and exposes
// only the CAS primitives spec'd for the core — no key comparison, no
// indexing, those live in the external api.Index collaborator.
type Bridge struct {
	mu     sync.RWMutex
	tables map[uint64]*head
}

// NewBridge construct an empty tuple-vector bridge.
func NewBridge() *Bridge {
	return &Bridge{tables: make(map[uint64]*head)}
}

// Head atomically load oid's current chain head. Returns nil if oid
// has never been written.
func (b *Bridge) Head(oid uint64) *Version {
	h := b.headfor(oid, false)
	if h == nil {
		return nil
	}
	return h.ptr.Load()
}

// Install CAS oid's head from oldhead to newver. Used both by a
// writer committing a new version and by the compactor relocating a
// version forward. Returns false on CAS failure (write-write conflict
// for writers; "somebody else already relocated it" for the
// compactor, which should restart its walk).
func (b *Bridge) Install(oid uint64, oldhead, newver *Version) bool {
	h := b.headfor(oid, true)
	return h.ptr.CompareAndSwap(oldhead, newver)
}

// UnlinkNext CAS prev.next from cur to nil, truncating the tail of a
// chain during reclamation. Returns false on CAS failure, meaning
// some other goroutine already mutated prev.next and the reclaim
// daemon's walk must restart from head.
func (b *Bridge) UnlinkNext(prev, cur *Version) bool {
	return prev.next.CompareAndSwap(cur, nil)
}

// RelinkNext CAS prev.next from cur to replacement, used by the
// reclaim daemon when relocating a middle-of-chain version forward
// into a fresh allocation rather than truncating it.
func (b *Bridge) RelinkNext(prev, cur, replacement *Version) bool {
	return prev.next.CompareAndSwap(cur, replacement)
}

// ReadersOf return v's readers bitmap, optionally excluding the
// calling transaction's own slot so a transaction never observes
// itself while resolving persistent readers.
func (b *Bridge) ReadersOf(v *Version, excludeSelf bool, selfslot int) uint64 {
	bitmap := v.ReadersBitmap()
	if excludeSelf {
		bitmap &^= uint64(1) << uint(selfslot)
	}
	return bitmap
}

// SetReaderBit register slot as a reader of v.
func (b *Bridge) SetReaderBit(v *Version, slot int) {
	v.SetReaderBit(slot)
}

// ClearReaderBit deregister slot as a reader of v. Idempotent.
func (b *Bridge) ClearReaderBit(v *Version, slot int) {
	v.ClearReaderBit(slot)
}

// ForEachOID visit every oid this bridge currently tracks a chain
// for. Implements api.TupleVectorSource for the epoch reclaim daemon.
// fn must not block or mutate the bridge's oid set.
func (b *Bridge) ForEachOID(fn func(oid uint64)) {
	b.mu.RLock()
	oids := make([]uint64, 0, len(b.tables))
	for oid := range b.tables {
		oids = append(oids, oid)
	}
	b.mu.RUnlock()
	for _, oid := range oids {
		fn(oid)
	}
}

// headfor return oid's head slot, creating it under write lock if
// create is true and it does not yet exist.
func (b *Bridge) headfor(oid uint64, create bool) *head {
	b.mu.RLock()
	h, ok := b.tables[oid]
	b.mu.RUnlock()
	if ok || !create {
		return h
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok = b.tables[oid]; ok {
		return h
	}
	h = &head{}
	b.tables[oid] = h
	return h
}

var _ api.TupleVectorSource = (*Bridge)(nil)
