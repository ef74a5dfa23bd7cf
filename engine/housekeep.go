package engine

import "time"

// houseKeep is the engine's own background goroutine: a ticker-driven
// epoch-advance loop, grounded on llrb/go_tick.go's housekeeper
// (ticker + select over tick/finch) and bogn/go_purge.go's purger
// (nroutines bookkeeping, panic-recover-log). Unlike a region's own
// reclaim daemon, which wakes only when its region asks for GC,
// houseKeep calls NewEpoch proactively on every tick so a workload
// with no writer ever touching a full segment still reclaims versions
// no reader can see any more.
func (e *Engine) houseKeep() {
	infof("%v housekeeper starting", e.logprefix)
	e.nroutines.Add(1)
	defer recoverDaemon(e.logprefix, "housekeeper", &e.nroutines)

	tick := time.NewTicker(e.ticktime)
	defer tick.Stop()

	for {
		select {
		case <-e.finch:
			return

		case <-tick.C:
			e.epochmgr.NewEpoch()
		}
	}
}
