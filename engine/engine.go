// Package engine wires lsn, readers, version, region, epoch and txn
// together into the concurrency-control core's external façade: one
// construction order (log/lsn -> registry -> allocator -> epoch
// manager -> validator -> daemons), grounded on the teacher's
// bogn.Bogn (New/Start, background daemons, Close) and Txn (ID,
// Commit, Abort) types.
package engine

import "fmt"
import "runtime"
import "runtime/debug"
import "sync/atomic"
import "time"

import humanize "github.com/dustin/go-humanize"
import s "github.com/bnclabs/gosettings"

import "github.com/bnclabs/ssncore/api"
import "github.com/bnclabs/ssncore/epoch"
import "github.com/bnclabs/ssncore/lib"
import "github.com/bnclabs/ssncore/lsn"
import "github.com/bnclabs/ssncore/readers"
import "github.com/bnclabs/ssncore/region"
import "github.com/bnclabs/ssncore/txn"
import "github.com/bnclabs/ssncore/version"

// Engine is the concurrency-control core's external façade: the one
// object a caller constructs, drives transactions through, and
// eventually closes. It owns exactly the collaborators spec.md §9
// enumerates and runs the housekeeping goroutines the teacher always
// pairs with its core data structure.
type Engine struct {
	name      string
	logprefix string

	lsnsvc    *lsn.Service
	registry  *readers.Registry
	bridge    *version.Bridge
	regions   *region.Manager
	epochmgr  *epoch.Manager
	validator *txn.Validator

	reclaimers []*epoch.ReclaimDaemon
	nroutines  atomic.Int64
	finch      chan struct{}
	ticktime   time.Duration
}

// New construct and start an engine named name, configured by setts
// (typically Defaultsettings(), optionally mixed with overrides).
// Construction follows spec.md §9's mandated order: log/lsn, then the
// readers registry, then the region allocator, then the epoch
// manager, then the validator, then the background daemons.
func New(name string, setts s.Settings) *Engine {
	cfg := NewConfig(setts)

	e := &Engine{
		name:      name,
		logprefix: fmt.Sprintf("SSNCORE [%v]", name),
		finch:     make(chan struct{}),
		ticktime:  cfg.EpochTick,
	}

	e.lsnsvc = lsn.NewService(api.InvalidLSN)
	e.registry = readers.NewRegistry()
	e.bridge = version.NewBridge()

	// Regions and the epoch manager are mutually referential (a
	// region's Allocate opportunistically drives an epoch advance
	// through the manager; the manager is itself constructed over the
	// finished region slice), so the callbacks close over a variable
	// assigned only after every region exists. Neither callback fires
	// until the first Allocate call, by which time epochmgr is set.
	var epochmgr *epoch.Manager
	newEpochPossible := func() bool { return epochmgr.NewEpochPossible() }
	newEpoch := func() { epochmgr.NewEpoch() }

	hotcapacity := cfg.NumSegments * (int64(1) << cfg.SegmentBits)
	regions := make([]*region.Region, cfg.NumNodes)
	for i := range regions {
		regions[i] = region.New(i, cfg.SegmentBits, hotcapacity, cfg.ColdCapacity, cfg.TrimMark, newEpochPossible, newEpoch)
	}

	epochmgr = epoch.NewManager(regions, e.lsnsvc)
	e.epochmgr = epochmgr
	e.regions = region.NewManager(regions)

	e.validator = txn.NewValidator(e.bridge, e.registry, e.lsnsvc, cfg.Txn)

	e.reclaimers = make([]*epoch.ReclaimDaemon, len(regions))
	for i, r := range regions {
		e.reclaimers[i] = epoch.NewReclaimDaemon(i, r, e.bridge, e.epochmgr, &e.nroutines)
	}

	e.start()
	infof("%v started with %v region(s)", e.logprefix, cfg.NumNodes)
	return e
}

// start the background daemons and block until every one of them has
// recorded itself in nroutines, mirroring bogn.Bogn.Start's
// spin-wait-for-nroutines idiom.
func (e *Engine) start() {
	for _, d := range e.reclaimers {
		d.Start()
	}
	go e.houseKeep()

	want := int64(len(e.reclaimers) + 1)
	for e.nroutines.Load() < want {
		runtime.Gosched()
	}
}

// Begin start a new transaction. Registry slot exhaustion is retried
// with a bounded backoff rather than surfaced to the caller, since a
// transiently full registry is an engine-internal capacity limit, not
// an application-visible condition spec.md's façade models as an
// error.
func (e *Engine) Begin() *txn.XC {
	xc, err := e.validator.Begin()
	if err == nil {
		return xc
	}
	bo := lib.NewBackoff(0, 0)
	for err != nil {
		bo.Wait()
		xc, err = e.validator.Begin()
	}
	return xc
}

// Read resolve oid's current version for xc and return its payload.
// A nil, nil result means oid has never been written.
func (e *Engine) Read(xc *txn.XC, oid uint64) ([]byte, error) {
	v, err := e.validator.Read(xc, oid)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Payload, nil
}

// Write install payload as oid's new version under xc, allocating the
// backing storage from a round-robin NUMA region via the region
// manager. A real per-goroutine pinned handle (one Acquire at worker
// startup, reused for that goroutine's lifetime) would keep every
// write from one caller in the same region; this façade's per-call
// Write signature has no way to carry such a handle across calls, so
// it acquires fresh round-robin each time instead.
func (e *Engine) Write(xc *txn.XC, oid uint64, payload []byte) error {
	h := e.regions.Acquire()
	_, err := e.validator.Write(xc, oid, payload, h.Region().Allocate)
	return err
}

// Precommit run the SSN/SSI certification pass over xc.
func (e *Engine) Precommit(xc *txn.XC) (api.LSN, error) {
	return e.validator.Precommit(xc)
}

// Postcommit release xc's registry slot back to the pool. Callers
// must call this exactly once per transaction, after Precommit,
// whether it committed or aborted.
func (e *Engine) Postcommit(xc *txn.XC) {
	e.validator.Postcommit(xc)
}

// TrimLSN return the LSN below which no reader can still exist, the
// value the log/recovery subsystem uses to know how far it may
// truncate the redo log.
func (e *Engine) TrimLSN() api.LSN {
	return e.epochmgr.TrimLSN()
}

// Close stop every background daemon and block until they have all
// exited, mirroring bogn.Bogn.Close's close-finch-then-drain idiom.
// No calls are allowed on the engine after Close.
func (e *Engine) Close() {
	close(e.finch)
	for _, d := range e.reclaimers {
		d.Stop()
	}
	for e.nroutines.Load() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	infof("%v closed", e.logprefix)
}

// LogStats report each region's hot/cold arena occupancy at info
// level, humanizing byte counts the way bogn.Bogn.Start logs its disk
// footprint and llrb_stats.go's Log(involved, humanize) logs its node/
// value arena usage.
func (e *Engine) LogStats() {
	for _, r := range e.regions.Regions() {
		infof("%v region[%d]: hot %s/%s cold %s/%s", e.logprefix, r.Node(),
			humanize.Bytes(uint64(r.AllocatedHot())), humanize.Bytes(uint64(r.HotCapacity())),
			humanize.Bytes(uint64(r.AllocatedCold())), humanize.Bytes(uint64(r.ColdCapacity())))
	}
}

// recoverDaemon is the shared panic-recovery tail used by houseKeep,
// grounded on bogn's go_purge.go purger/epoch's ReclaimDaemon.run.
func recoverDaemon(logprefix, name string, nroutines *atomic.Int64) {
	if r := recover(); r != nil {
		errorf("%v %v crashed: %v", logprefix, name, r)
		errorf("\n%s", lib.GetStacktrace(2, debug.Stack()))
	} else {
		infof("%v %v stopped", logprefix, name)
	}
	nroutines.Add(-1)
}
