package region

import "sync/atomic"

// Handle is a worker goroutine's long-lived reference to its assigned
// region, the Go analogue of "a thread pinned to a NUMA node on its
// first allocation" (see SPEC_FULL.md's Go-mapping design note: Go
// exposes no portable OS-thread-to-core pinning, so affinity is
// modeled as an explicit handle a goroutine acquires once and keeps,
// rather than a real sched_setaffinity call).
type Handle struct {
	region *Region
}

// Region return the handle's assigned region.
func (h *Handle) Region() *Region {
	return h.region
}

// Manager owns every NUMA region and assigns handles to worker
// goroutines, generalizing sm-alloc.cpp's RA::register_thread/
// RA::allocate (which dispatch through a thread-local region pointer)
// to Go's handle-per-goroutine model.
type Manager struct {
	regions  []*Region
	rotation atomic.Uint64
}

// NewManager wrap an already-constructed slice of regions, one per
// NUMA node, in round-robin assignment order.
func NewManager(regions []*Region) *Manager {
	return &Manager{regions: regions}
}

// NumNodes return the number of regions under management.
func (m *Manager) NumNodes() int {
	return len(m.regions)
}

// Acquire assigns the next region in round-robin order to a new
// Handle and returns it. Call once per worker goroutine at startup
// and retain the Handle for that goroutine's lifetime.
func (m *Manager) Acquire() *Handle {
	idx := m.rotation.Add(1) - 1
	region := m.regions[int(idx)%len(m.regions)]
	return &Handle{region: region}
}

// ForCPU is the unpinned fallback: pick a region by a notional CPU id
// modulo the node count, in place of a real sched_getcpu() syscall
// (which no example in this pack's dependency set exposes).
func (m *Manager) ForCPU(cpuid int) *Region {
	return m.regions[cpuid%len(m.regions)]
}

// Region return the region for a given NUMA node index.
func (m *Manager) Region(node int) *Region {
	return m.regions[node]
}

// Regions return every region under management, in node order. Used
// by the engine to spawn one reclaim daemon per region.
func (m *Manager) Regions() []*Region {
	return m.regions
}
