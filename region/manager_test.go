package region

import "testing"

func newtestregions(n int) []*Region {
	regions := make([]*Region, n)
	for i := 0; i < n; i++ {
		regions[i] = New(i, 4, 64, 64, 1<<30, func() bool { return false }, func() {})
	}
	return regions
}

func TestManagerAcquireRoundRobin(t *testing.T) {
	m := NewManager(newtestregions(3))
	nodes := make([]int, 6)
	for i := range nodes {
		nodes[i] = m.Acquire().Region().Node()
	}
	want := []int{0, 1, 2, 0, 1, 2}
	for i, w := range want {
		if nodes[i] != w {
			t.Errorf("at %v: expected node %v, got %v", i, w, nodes[i])
		}
	}
}

func TestManagerForCPU(t *testing.T) {
	m := NewManager(newtestregions(4))
	if node := m.ForCPU(5).Node(); node != 1 {
		t.Errorf("expected node 1, got %v", node)
	}
	if node := m.ForCPU(0).Node(); node != 0 {
		t.Errorf("expected node 0, got %v", node)
	}
}

func TestManagerNumNodesAndRegions(t *testing.T) {
	m := NewManager(newtestregions(2))
	if n := m.NumNodes(); n != 2 {
		t.Errorf("expected 2, got %v", n)
	}
	if len(m.Regions()) != 2 {
		t.Errorf("expected 2 regions, got %v", len(m.Regions()))
	}
	if m.Region(1).Node() != 1 {
		t.Errorf("expected node 1")
	}
}
