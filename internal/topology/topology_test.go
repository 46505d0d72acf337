package topology

import "testing"

func TestFullyConnected_LinksAllDistinctPairsInRange(t *testing.T) {
	f := FullyConnected{N: 4}
	if f.NumNodes() != 4 {
		t.Fatalf("expected 4 nodes, got %d", f.NumNodes())
	}
	if !f.Link(0, 3) {
		t.Error("expected link within range")
	}
	if f.Link(0, 4) {
		t.Error("expected no link to out-of-range node")
	}
	if f.Link(-1, 0) {
		t.Error("expected no link from negative node")
	}
}

func TestAdjacencyMatrix_ConnectIsDirectedConnectBothIsNot(t *testing.T) {
	a := NewAdjacencyMatrix(3)
	a.Connect(0, 1)
	if !a.Link(0, 1) {
		t.Error("expected directed link 0->1")
	}
	if a.Link(1, 0) {
		t.Error("did not expect reverse link from a one-directional Connect")
	}

	a.ConnectBoth(1, 2)
	if !a.Link(1, 2) || !a.Link(2, 1) {
		t.Error("expected both directions linked after ConnectBoth")
	}
}

func TestRing_ConnectsOnlyImmediateNeighborsModN(t *testing.T) {
	r := Ring(4)
	if !r.Link(0, 1) || !r.Link(1, 0) {
		t.Error("expected 0 and 1 to be ring neighbors")
	}
	if !r.Link(3, 0) || !r.Link(0, 3) {
		t.Error("expected 3 and 0 to wrap around as ring neighbors")
	}
	if r.Link(0, 2) {
		t.Error("did not expect a direct link between non-adjacent ring nodes")
	}
}
