// Package epoch implements the epoch manager and per-region reclaim
// daemon: the quiescence-tracking mechanism that determines when old
// segments are safe to compact, and advances the process-global trim
// LSN below which no reader can still exist.
package epoch

import "sync"
import "sync/atomic"

import "github.com/bnclabs/ssncore/api"
import "github.com/bnclabs/ssncore/region"

// Cookie snapshots the current LSN at the moment an epoch ends. Once
// that epoch is fully reclaimed (every thread that was active during
// it has quiesced), the cookie's LSN becomes the new trim LSN.
type Cookie struct {
	LSN api.LSN
}

// threadState tracks one registered goroutine's quiescence since the
// last epoch advance, the Go analogue of ERMIA's per-thread
// epoch_mgr::tls_storage.
type threadState struct {
	quiesced atomic.Bool
}

// Manager tracks epoch membership and quiescence across every
// registered worker goroutine, and drives each region's GC state
// machine at epoch boundaries. Grounded on sm-alloc.cpp's
// RA::epoch_enter/epoch_exit/epoch_thread_quiesce plus the
// epoch_mgr callback set (epoch_ended/epoch_reclaimed), reworked as
// plain Go methods since there is no RCU-style epoch framework in
// this pack's dependency set to reuse.
type Manager struct {
	mu      sync.Mutex
	epoch   atomic.Uint64
	threads map[*threadState]bool

	regions []*region.Region
	log     api.LogService

	trimLSN atomic.Uint64

	// pending holds the cookie produced by the previous NewEpoch
	// call. It is applied (onReclaimed) at the START of the next
	// NewEpoch call, one full epoch later — by then every goroutine
	// has quiesced at least once since the cookie's epoch ended, so
	// no reader can still hold a reference predating it. This
	// one-epoch delay is what makes reclamation safe; applying a
	// cookie immediately inside the epoch that produced it would not
	// wait for that guarantee.
	pending *Cookie
}

// NewManager construct an epoch manager over the given regions, using
// log to snapshot the current LSN at each epoch boundary.
func NewManager(regions []*region.Region, log api.LogService) *Manager {
	return &Manager{
		threads: make(map[*threadState]bool),
		regions: regions,
		log:     log,
	}
}

// Register a new worker goroutine with the epoch manager. Call once
// per goroutine lifetime; the returned handle is passed to
// Enter/Exit/Quiesce for that goroutine.
func (m *Manager) Register() *threadState {
	ts := &threadState{}
	m.mu.Lock()
	m.threads[ts] = true
	m.mu.Unlock()
	return ts
}

// Deregister remove a worker goroutine from epoch tracking, called at
// goroutine exit.
func (m *Manager) Deregister(ts *threadState) {
	m.mu.Lock()
	delete(m.threads, ts)
	m.mu.Unlock()
}

// Enter mark ts active in the current epoch; a reader/writer must
// call this before touching any version it did not allocate itself,
// and call Exit when done, so the epoch manager never advances past
// an epoch still holding live references.
func (m *Manager) Enter(ts *threadState) {
	ts.quiesced.Store(false)
}

// Exit is the paired call to Enter, and immediately quiesces ts
// (mirrors epoch_exit's thread_quiesce()+thread_exit() pair: a
// goroutine that has exited its critical section has, by definition,
// quiesced with respect to the current epoch).
func (m *Manager) Exit(ts *threadState) {
	m.Quiesce(ts)
}

// Quiesce mark ts as having observed a safe point since the last
// epoch advance. A new epoch becomes possible only once every
// registered goroutine has quiesced at least once since the previous
// advance.
func (m *Manager) Quiesce(ts *threadState) {
	ts.quiesced.Store(true)
}

// NewEpochPossible report whether every currently registered
// goroutine has quiesced since the last advance.
func (m *Manager) NewEpochPossible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ts := range m.threads {
		if !ts.quiesced.Load() {
			return false
		}
	}
	return true
}

// NewEpoch advance the epoch if NewEpochPossible still holds: reset
// every thread's quiescence flag, then apply the previous call's
// pending cookie (onReclaimed), then compute this epoch's cookie
// (onEnded), requesting GC on every region sitting in GCRequested
// along the way. Returns false (no-op) if quiescence was lost between
// the caller's check and this call.
func (m *Manager) NewEpoch() bool {
	m.mu.Lock()
	for ts := range m.threads {
		if !ts.quiesced.Load() {
			m.mu.Unlock()
			return false
		}
	}
	for ts := range m.threads {
		ts.quiesced.Store(false)
	}
	m.mu.Unlock()

	if m.pending != nil {
		m.onReclaimed(m.pending)
	}

	m.epoch.Add(1)
	m.pending = m.onEnded()
	return true
}

// onEnded is the epoch_ended analogue: request GC on every region
// still sitting in GCRequested, and snapshot the current LSN into a
// cookie if any region is mid-reclamation (GCRequested or
// GCFinished) — mirroring sm-alloc.cpp's guard "only snapshot an LSN
// when there's actually a region whose reclamation this cookie would
// gate".
func (m *Manager) onEnded() *Cookie {
	var interesting bool
	for _, r := range m.regions {
		switch r.State() {
		case region.GCRequested:
			r.RequestGC()
			interesting = true
		case region.GCFinished:
			interesting = true
		}
	}
	if !interesting {
		return nil
	}
	return &Cookie{LSN: m.log.CurrentLSN()}
}

// onReclaimed is the epoch_reclaimed analogue, applied one epoch
// after cookie was produced: install cookie's LSN as the new trim
// LSN, and for every region now sitting in GCFinished, advance its
// reclaimed_offset and return it to Normal.
func (m *Manager) onReclaimed(cookie *Cookie) {
	m.installTrimLSN(cookie.LSN)
	for _, r := range m.regions {
		if r.State() == region.GCFinished {
			r.AdvanceReclaimed()
		}
	}
}

// installTrimLSN raise the process-global trim LSN to lsn if lsn is
// greater, via CAS retry.
func (m *Manager) installTrimLSN(lsn api.LSN) {
	for {
		old := m.trimLSN.Load()
		if uint64(lsn) <= old {
			return
		}
		if m.trimLSN.CompareAndSwap(old, uint64(lsn)) {
			return
		}
	}
}

// TrimLSN return the current trim LSN: the upper bound below which
// no reader can still exist, read by the log/reclaim subsystem to
// know how far it may truncate the redo log.
func (m *Manager) TrimLSN() api.LSN {
	return api.LSN(m.trimLSN.Load())
}

// Epoch return the current epoch number.
func (m *Manager) Epoch() uint64 {
	return m.epoch.Load()
}
