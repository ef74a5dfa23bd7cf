// Package readers implements the readers registry: the fixed-width
// table of currently-active transaction slots that versions record
// their readers against, and the side-channel (last-committed cstamp
// per slot) that lets a committing writer infer a departed reader's
// commit stamp.
package readers

import "sync/atomic"

import "github.com/bnclabs/ssncore/api"
import "github.com/bnclabs/ssncore/lib"

// MaxSlots is the number of concurrent registry slots this build
// supports. Bounded at 64 so a slot index fits one bit of a single
// atomic.Uint64 claim bitmap and of version.Version.Readers; widening
// past 64 is a direct extension (one more claim word, one more
// readers-bitmap word per version) left undone since nothing in this
// build calls for more than 64 concurrent transactions.
const MaxSlots = 64

// Registry tracks which slots are claimed, which transaction (xid)
// currently owns each claimed slot, and the last committed cstamp
// left behind by the previous occupant of each slot. All operations
// are lock-free.
//
// Slot ownership: exactly one goroutine claims and owns a slot at a
// time; xids[i] and lastCommitted[i] are written only by that owner
// and read by any validator.
type Registry struct {
	claimed       atomic.Uint64
	xids          [MaxSlots]atomic.Uint64
	lastCommitted [MaxSlots]atomic.Uint64
}

// NewRegistry construct an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// ClaimSlot atomically allocate the lowest unset bit in the claimed
// bitmap and return its index. Returns api.ErrSlotExhausted if every
// slot is taken.
func (r *Registry) ClaimSlot() (int, error) {
	for {
		old := r.claimed.Load()
		if old == ^uint64(0) {
			return -1, api.ErrSlotExhausted
		}
		idx := firstZeroBit(old)
		newbits := old | (uint64(1) << uint(idx))
		if r.claimed.CompareAndSwap(old, newbits) {
			return idx, nil
		}
	}
}

// firstZeroBit return the position of the lowest unset bit in v.
func firstZeroBit(v uint64) int {
	inv := ^v
	for i := 0; i < 64; i += 8 {
		byt := lib.Bit8(uint8(inv >> uint(i)))
		if byt != 0 {
			return i + int(byt.Findfirstset())
		}
	}
	return 64
}

// ReleaseSlot clear bit i in the claimed bitmap. xids[i] and
// lastCommitted[i] are zeroed first, so a slot never appears claimed
// with stale payload to a racing claimer.
func (r *Registry) ReleaseSlot(i int) {
	r.xids[i].Store(0)
	r.lastCommitted[i].Store(uint64(api.InvalidLSN))
	for {
		old := r.claimed.Load()
		newbits := old &^ (uint64(1) << uint(i))
		if r.claimed.CompareAndSwap(old, newbits) {
			return
		}
	}
}

// RegisterTx publish xid into slot i. Called once by the slot's owner
// before its first read, mirrors serial_register_tx.
func (r *Registry) RegisterTx(i int, xid uint64) {
	r.xids[i].Store(xid)
}

// DeregisterTx zero the xid held in slot i. Called by the slot's
// owner after commit/abort post-processing, mirrors
// serial_deregister_tx.
func (r *Registry) DeregisterTx(i int) {
	r.xids[i].Store(0)
}

// XID return the transaction id currently published in slot i, or 0
// if the slot's owner has deregistered (or never registered).
func (r *Registry) XID(i int) uint64 {
	return r.xids[i].Load()
}

// StampLastCommitted leave cstamp behind for slot i. A committed
// read-only/read-mostly transaction calls this before deregistering
// so that a future writer which finds the slot's xid gone can still
// recover a safe worst-case cstamp, mirrors
// serial_stamp_last_committed_lsn.
func (r *Registry) StampLastCommitted(i int, cstamp api.LSN) {
	r.lastCommitted[i].Store(uint64(cstamp))
}

// GetLastCommitted read the cstamp left behind in slot i, mirrors
// serial_get_last_read_mostly_cstamp.
func (r *Registry) GetLastCommitted(i int) api.LSN {
	return api.LSN(r.lastCommitted[i].Load())
}

// IsClaimed report whether slot i is presently claimed.
func (r *Registry) IsClaimed(i int) bool {
	return r.claimed.Load()&(uint64(1)<<uint(i)) != 0
}
