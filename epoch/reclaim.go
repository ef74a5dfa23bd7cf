package epoch

import "sync/atomic"
import "runtime/debug"
import "unsafe"

import "github.com/bnclabs/ssncore/api"
import "github.com/bnclabs/ssncore/lib"
import "github.com/bnclabs/ssncore/region"
import "github.com/bnclabs/ssncore/version"

// ReclaimDaemon is one region's background compactor: it wakes when
// its region enters GCInProgress, walks every version chain, relocates
// versions that still fall within the segment being reclaimed, and
// truncates chain tails whose creation LSN is already below the
// process-wide trim LSN. Grounded on sm-alloc.cpp's
// region_allocator::reclaim_daemon, translated from its single
// C++ thread-per-socket into one goroutine per region started by the
// engine, in bogn/go_purge.go's daemon idiom (panic recovery,
// nroutines bookkeeping); it wakes by waiting on its region's
// WaitForGC rather than on a ticker.
type ReclaimDaemon struct {
	node    int
	region  *region.Region
	bridge  *version.Bridge
	manager *Manager

	finch     chan struct{}
	nroutines *atomic.Int64
}

// NewReclaimDaemon construct the reclaim daemon for one region. bridge
// supplies the tuple-vector walk (ForEachOID/Head/Install/UnlinkNext/
// RelinkNext), manager supplies the current trim LSN. nroutines is a
// shared counter the engine polls to know how many daemons are still
// running during shutdown.
func NewReclaimDaemon(node int, r *region.Region, bridge *version.Bridge, manager *Manager, nroutines *atomic.Int64) *ReclaimDaemon {
	return &ReclaimDaemon{
		node:      node,
		region:    r,
		bridge:    bridge,
		manager:   manager,
		finch:     make(chan struct{}),
		nroutines: nroutines,
	}
}

// Start the daemon's background goroutine.
func (d *ReclaimDaemon) Start() {
	go d.run()
}

// Stop signal the daemon to exit once its current reclaim pass (if
// any) finishes.
func (d *ReclaimDaemon) Stop() {
	close(d.finch)
}

func (d *ReclaimDaemon) run() {
	infof("region[%d]: reclaim daemon starting", d.node)
	d.nroutines.Add(1)
	defer func() {
		if r := recover(); r != nil {
			errorf("region[%d]: reclaim daemon crashed: %v", d.node, r)
			errorf("\n%s", lib.GetStacktrace(2, debug.Stack()))
		} else {
			infof("region[%d]: reclaim daemon stopped", d.node)
		}
		d.nroutines.Add(-1)
	}()

	for {
		select {
		case <-d.finch:
			return
		default:
		}

		start, end := d.region.WaitForGC()
		d.reclaim(start, end)
		d.region.FinishGC()
	}
}

// reclaim walk every version chain the bridge knows about, relocating
// and truncating versions landing in [start, end) of the hot arena,
// per spec.md §4.6 step 3's two cases: the head-of-chain short-circuit
// into the cold arena, and the walk-and-truncate/relocate-forward of
// the rest of the chain.
func (d *ReclaimDaemon) reclaim(start, end int64) {
	tlsn := d.manager.TrimLSN()
	hotbase := uintptr(unsafe.Pointer(&d.region.HotData()[0]))

	var hotcopy, coldcopy int64
	d.bridge.ForEachOID(func(oid uint64) {
		h, c := d.reclaimOID(oid, start, end, tlsn, hotbase)
		hotcopy += h
		coldcopy += c
	})

	debugf("region[%d]: reclaimed hot=%d cold=%d bytes", d.node, hotcopy, coldcopy)
}

// reclaimOID compact a single tuple's version chain, restarting the
// whole walk from head on any lost CAS race, mirroring the
// start_over: label in sm-alloc.cpp's reclaim_daemon.
func (d *ReclaimDaemon) reclaimOID(oid uint64, start, end int64, tlsn api.LSN, hotbase uintptr) (hotcopy, coldcopy int64) {
startover:
	head := d.bridge.Head(oid)
	if head == nil {
		return 0, 0
	}

	if _, size, ok := withinWindow(hotbase, head.Payload, start, end); ok && head.CLSN.Less(tlsn) {
		// head itself already predates every reader: relocate it alone
		// to the cold arena and drop the rest of the chain beneath it,
		// nobody can still need an even-older committed version.
		relocated := d.relocateDropTail(head, d.region.AllocateCold(size))
		if !d.bridge.Install(oid, head, relocated) {
			goto startover
		}
		return 0, size
	}

	// prev always tracks the live, already-relocated predecessor node
	// (or the original node if it was never in the reclaimed window),
	// never the stale pre-relocation object — otherwise a second
	// in-window version in the same chain would CAS an edge that is
	// no longer reachable from the installed head.
	var prev *version.Version
	for cur := head; cur != nil; {
		_, size, ok := withinWindow(hotbase, cur.Payload, start, end)
		if !ok {
			prev, cur = cur, cur.Next()
			continue
		}

		if cur.CLSN.Less(tlsn) && prev != nil {
			if !d.bridge.UnlinkNext(prev, cur) {
				goto startover
			}
			return hotcopy, coldcopy
		}

		relocated := d.relocate(cur, d.region.Allocate(size))
		if cur == head {
			if !d.bridge.Install(oid, head, relocated) {
				goto startover
			}
		} else {
			if !d.bridge.RelinkNext(prev, cur, relocated) {
				goto startover
			}
		}
		hotcopy += size
		prev, cur = relocated, cur.Next()
	}
	return hotcopy, coldcopy
}

// relocate copy src's payload into dst (a fresh allocation from either
// arena) and return a new Version carrying the same stamps and the
// same successor, preserving the remainder of the chain below it —
// the Go analogue of memcpy(new_obj, cur, size) carrying the old
// object's _next pointer along with it.
func (d *ReclaimDaemon) relocate(src *version.Version, dst []byte) *version.Version {
	nv := d.relocateDropTail(src, dst)
	nv.LinkNext(src.Next())
	return nv
}

// relocateDropTail is relocate without preserving the chain beneath
// src, used when src itself already predates every possible reader
// and so does everything below it.
func (d *ReclaimDaemon) relocateDropTail(src *version.Version, dst []byte) *version.Version {
	copy(dst, src.Payload)
	nv := version.NewVersion(src.CLSN, dst)
	nv.MergePstamp(src.Pstamp())
	nv.MergeSstamp(src.Sstamp())
	return nv
}

// withinWindow report whether payload's backing array falls entirely
// inside the region's hot arena at an offset within [start, end),
// using the same base-pointer-difference idiom malloc/pool_fbit.go
// uses to recover a block's offset from its address.
func withinWindow(hotbase uintptr, payload []byte, start, end int64) (offset, size int64, ok bool) {
	if len(payload) == 0 {
		return 0, 0, false
	}
	p := uintptr(unsafe.Pointer(&payload[0]))
	if p < hotbase {
		return 0, 0, false
	}
	offset = int64(p - hotbase)
	size = int64(len(payload))
	return offset, size, offset >= start && offset+size <= end
}
