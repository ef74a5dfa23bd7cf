// Package txn implements the SSN/SSI certifier: the transaction
// context (XC) and the Validator that drives Begin/Read/Write/
// Precommit/Postcommit over a version.Bridge and a readers.Registry.
package txn

import "sync/atomic"

import "github.com/bnclabs/ssncore/api"
import "github.com/bnclabs/ssncore/version"

// Transaction state, the ACTIVE/COMMITTING/COMMITTED/ABORTED machine
// spec'd for XC: only the owning goroutine drives ACTIVE->COMMITTING
// and any transition into a terminal state; any other goroutine may
// only request an abort via SetShouldAbort.
const (
	StateActive int32 = iota
	StateCommitting
	StateCommitted
	StateAborted
)

// readEntry is one entry in a transaction's tracked read set: the oid
// is kept alongside the version so Precommit can walk forward from
// the bridge's current head to find v's direct successor (if any) and
// spin on it while it is still committing.
type readEntry struct {
	oid uint64
	v   *version.Version
}

// writeEntry is one entry in a transaction's write set: old is the
// version this transaction's Write() call unlinked from the head (nil
// for a first insert), nv is the version it installed in old's place.
// Precommit walks writes in order to fold each old.Pstamp() into the
// transaction's pstamp and to resolve old's persistent readers; an
// abort walks writes in reverse to CAS each chain head back from nv
// to old.
type writeEntry struct {
	oid uint64
	old *version.Version
	nv  *version.Version
}

// XC is one transaction's context: the bstamp/cstamp/pstamp/sstamp
// quadruple, its state, its read and write sets, and the registry
// slot it holds for the lifetime of the transaction. Every stamp and
// the state are atomics because other transactions' Precommit calls
// read (and, for sstamp under AllowViaSstampCAS, write) them
// concurrently with the owner's own progress.
type XC struct {
	xid    uint64
	slot   int
	bstamp api.LSN

	cstamp atomic.Uint64
	pstamp atomic.Uint64
	sstamp atomic.Uint64

	state       atomic.Int32
	shouldAbort atomic.Bool

	trackedReads []readEntry
	oldReads     []*version.Version
	writes       []writeEntry
}

// reset clear an XC for reuse from the pool. bstamp/xid/slot are
// reassigned by the caller right after reset, since they vary per
// acquisition.
func (xc *XC) reset() {
	xc.xid, xc.slot, xc.bstamp = 0, -1, api.InvalidLSN
	xc.cstamp.Store(uint64(api.InvalidLSN))
	xc.pstamp.Store(0)
	xc.sstamp.Store(^uint64(0))
	xc.state.Store(StateActive)
	xc.shouldAbort.Store(false)
	xc.trackedReads = xc.trackedReads[:0]
	xc.oldReads = xc.oldReads[:0]
	xc.writes = xc.writes[:0]
}

// XID return the transaction's id, assigned at Begin.
func (xc *XC) XID() uint64 {
	return xc.xid
}

// Bstamp return the LSN this transaction's read view is anchored to:
// the current LSN at Begin, used to classify a version as old.
func (xc *XC) Bstamp() api.LSN {
	return xc.bstamp
}

// State return the transaction's current state.
func (xc *XC) State() int32 {
	return xc.state.Load()
}

// Cstamp return the transaction's commit stamp. Zero until Precommit
// assigns one, just before the final commit/abort decision.
func (xc *XC) Cstamp() uint64 {
	return xc.cstamp.Load()
}

// Pstamp return the transaction's current predecessor stamp.
func (xc *XC) Pstamp() uint64 {
	return xc.pstamp.Load()
}

// Sstamp return the transaction's current successor stamp.
func (xc *XC) Sstamp() uint64 {
	return xc.sstamp.Load()
}

// mergePstamp raise xc.pstamp to max(current, val), owner-thread only
// (no concurrent writer ever touches another transaction's pstamp).
func (xc *XC) mergePstamp(val uint64) {
	if val > xc.pstamp.Load() {
		xc.pstamp.Store(val)
	}
}

// MergeSstamp atomically lower xc.sstamp to min(current, val). Unlike
// mergePstamp this IS called by other transactions: a committing
// overwriter of one of xc's read versions CASes its own sstamp in
// under the AllowViaSstampCAS back-edge policy while xc may
// concurrently be reading its own sstamp in Precommit, so this goes
// through a CAS retry loop rather than a plain load-compare-store.
func (xc *XC) MergeSstamp(val uint64) {
	for {
		old := xc.sstamp.Load()
		if val >= old {
			return
		}
		if xc.sstamp.CompareAndSwap(old, val) {
			return
		}
	}
}

// ShouldAbort report whether another transaction has flagged xc for
// abort via a should-abort back-edge.
func (xc *XC) ShouldAbort() bool {
	return xc.shouldAbort.Load()
}

// SetShouldAbort raise the should-abort flag. Called by a committing
// overwriter of one of xc's read versions under the ForbidWithAbort
// back-edge policy; xc observes it at its own Precommit, or never, if
// it has already left ACTIVE by the time the flag lands.
func (xc *XC) SetShouldAbort() {
	xc.shouldAbort.Store(true)
}

var _ api.WriterHandle = (*XC)(nil)

// pool is a channel-backed free list of XC values, grounded on
// bogn/acid.go's txnmeta.gettxn/puttxn: a non-blocking channel receive
// with a fallback allocation, and a non-blocking send back that simply
// drops the value (left for GC) when the pool is full.
type pool struct {
	cache chan *XC
}

// newPool construct a pool with room for size cached XCs.
func newPool(size int) *pool {
	return &pool{cache: make(chan *XC, size)}
}

func (p *pool) get() *XC {
	select {
	case xc := <-p.cache:
		return xc
	default:
		return &XC{}
	}
}

func (p *pool) put(xc *XC) {
	select {
	case p.cache <- xc:
	default: // left for GC
	}
}
