package tbassign

import (
	"testing"

	"github.com/quantarax/collectivec/internal/ir"
)

func mkRef(rank int, buf ir.BufferRef, index, size int) *ir.ChunkRef {
	r := ir.ChunkRef{Rank: rank, Buffer: buf, Index: index, Size: size}
	return &r
}

func TestAutomatic_GroupsByPeerChannelDirection(t *testing.T) {
	arena := ir.NewArena()
	output := ir.Output()

	send1 := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, Dst: mkRef(1, output, 0, 1), Channel: 0})
	send2 := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, Dst: mkRef(1, output, 1, 1), Channel: 0})
	sendOther := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, Dst: mkRef(2, output, 0, 1), Channel: 0})
	cpy := arena.New(ir.Op{Inst: ir.InstCopy, Rank: 0, Channel: 0})

	tbs := Automatic(arena, 0, []ir.OpID{send1, send2, sendOther, cpy})
	if len(tbs) != 3 {
		t.Fatalf("expected 3 threadblocks (peer1, peer2, local), got %d", len(tbs))
	}
	if len(tbs[0].Ops) != 2 {
		t.Fatalf("expected send1 and send2 to share a threadblock, got %d ops", len(tbs[0].Ops))
	}
	if tbs[0].SendPeer != 1 {
		t.Errorf("expected tb0 send peer 1, got %d", tbs[0].SendPeer)
	}
	if tbs[2].SendPeer != ir.NoPeer || tbs[2].RecvPeer != ir.NoPeer {
		t.Errorf("expected local-op tb to have no peers, got send=%d recv=%d", tbs[2].SendPeer, tbs[2].RecvPeer)
	}
}

func TestManual_RejectsPeerConflict(t *testing.T) {
	arena := ir.NewArena()
	output := ir.Output()

	a := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, TB: 0, Dst: mkRef(1, output, 0, 1)})
	b := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, TB: 0, Dst: mkRef(2, output, 0, 1)})

	if _, err := Manual(arena, 0, []ir.OpID{a, b}); err == nil {
		t.Fatal("expected a peer conflict error")
	}
}

func TestAssignSteps_OrdersWithinThreadblock(t *testing.T) {
	arena := ir.NewArena()
	a := arena.New(ir.Op{})
	b := arena.New(ir.Op{})
	tb := &ir.Threadblock{Ops: []ir.OpID{a, b}}

	AssignSteps(arena, []*ir.Threadblock{tb})

	if arena.Get(a).Step != 0 || arena.Get(b).Step != 1 {
		t.Fatalf("expected steps 0,1, got %d,%d", arena.Get(a).Step, arena.Get(b).Step)
	}
}
