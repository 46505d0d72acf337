package validate

import (
	"errors"
	"testing"

	"github.com/quantarax/collectivec/internal/ir"
)

// S4 (cycle detection): tb_A depends on tb_B and tb_B depends on tb_A via a
// pathological manual assignment; expect a fatal cycle error.
func TestCheckCycles_DetectsCycle(t *testing.T) {
	arena := ir.NewArena()
	a := arena.New(ir.Op{Rank: 0, TB: 0})
	b := arena.New(ir.Op{Rank: 0, TB: 1, Depends: []ir.OpID{a}})
	arena.Get(a).Depends = []ir.OpID{b}

	tbA := &ir.Threadblock{ID: 0, Ops: []ir.OpID{a}}
	tbB := &ir.Threadblock{ID: 1, Ops: []ir.OpID{b}}
	gpu := &ir.Gpu{Rank: 0, Threadblocks: []*ir.Threadblock{tbA, tbB}}

	err := CheckCycles(arena, []*ir.Gpu{gpu})
	if !errors.Is(err, ir.ErrDependencyCycle) {
		t.Fatalf("expected a dependency cycle error, got %v", err)
	}
}

func TestCheckCycles_AcceptsAcyclicChain(t *testing.T) {
	arena := ir.NewArena()
	a := arena.New(ir.Op{Rank: 0, TB: 0})
	b := arena.New(ir.Op{Rank: 0, TB: 1, Depends: []ir.OpID{a}})

	tbA := &ir.Threadblock{ID: 0, Ops: []ir.OpID{a}}
	tbB := &ir.Threadblock{ID: 1, Ops: []ir.OpID{b}}
	gpu := &ir.Gpu{Rank: 0, Threadblocks: []*ir.Threadblock{tbA, tbB}}

	if err := CheckCycles(arena, []*ir.Gpu{gpu}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckOrdering_RejectsUnmatchedSend(t *testing.T) {
	arena := ir.NewArena()
	send := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0})
	tb := &ir.Threadblock{ID: 0, Ops: []ir.OpID{send}}
	gpu := &ir.Gpu{Rank: 0, Threadblocks: []*ir.Threadblock{tb}}

	err := CheckOrdering(arena, []*ir.Gpu{gpu})
	if !errors.Is(err, ir.ErrUnmatchedSendRecv) {
		t.Fatalf("expected an unmatched send/recv error, got %v", err)
	}
}

// TestCheckOrdering_RejectsChannelReordering constructs two sends from rank
// 0 to rank 1 on the same channel where the later-stepped send's recv is
// scheduled before the earlier-stepped send's recv: a channel cannot
// deliver out of order, so this must be rejected.
func TestCheckOrdering_RejectsChannelReordering(t *testing.T) {
	arena := ir.NewArena()
	send0 := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, Channel: 0, Step: 0})
	send1 := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, Channel: 0, Step: 1})
	recv0 := arena.New(ir.Op{Inst: ir.InstRecv, Rank: 1, Channel: 0, Step: 1})
	recv1 := arena.New(ir.Op{Inst: ir.InstRecv, Rank: 1, Channel: 0, Step: 0})
	arena.Get(send0).Match = []ir.OpID{recv0}
	arena.Get(recv0).Match = []ir.OpID{send0}
	arena.Get(send1).Match = []ir.OpID{recv1}
	arena.Get(recv1).Match = []ir.OpID{send1}

	tbS := &ir.Threadblock{ID: 0, Ops: []ir.OpID{send0, send1}}
	tbR := &ir.Threadblock{ID: 0, Ops: []ir.OpID{recv1, recv0}}
	gpus := []*ir.Gpu{
		{Rank: 0, Threadblocks: []*ir.Threadblock{tbS}},
		{Rank: 1, Threadblocks: []*ir.Threadblock{tbR}},
	}

	err := CheckOrdering(arena, gpus)
	if !errors.Is(err, ir.ErrChannelReordered) {
		t.Fatalf("expected a channel reordering error, got %v", err)
	}
}

func TestCheckOrdering_AcceptsInOrderChannelDelivery(t *testing.T) {
	arena := ir.NewArena()
	send0 := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, Channel: 0, Step: 0})
	send1 := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, Channel: 0, Step: 1})
	recv0 := arena.New(ir.Op{Inst: ir.InstRecv, Rank: 1, Channel: 0, Step: 0})
	recv1 := arena.New(ir.Op{Inst: ir.InstRecv, Rank: 1, Channel: 0, Step: 1})
	arena.Get(send0).Match = []ir.OpID{recv0}
	arena.Get(recv0).Match = []ir.OpID{send0}
	arena.Get(send1).Match = []ir.OpID{recv1}
	arena.Get(recv1).Match = []ir.OpID{send1}

	tbS := &ir.Threadblock{ID: 0, Ops: []ir.OpID{send0, send1}}
	tbR := &ir.Threadblock{ID: 0, Ops: []ir.OpID{recv0, recv1}}
	gpus := []*ir.Gpu{
		{Rank: 0, Threadblocks: []*ir.Threadblock{tbS}},
		{Rank: 1, Threadblocks: []*ir.Threadblock{tbR}},
	}

	if err := CheckOrdering(arena, gpus); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckOrdering_AcceptsMutualMatch(t *testing.T) {
	arena := ir.NewArena()
	send := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0})
	recv := arena.New(ir.Op{Inst: ir.InstRecv, Rank: 1})
	arena.Get(send).Match = []ir.OpID{recv}
	arena.Get(recv).Match = []ir.OpID{send}

	tbS := &ir.Threadblock{ID: 0, Ops: []ir.OpID{send}}
	tbR := &ir.Threadblock{ID: 0, Ops: []ir.OpID{recv}}
	gpus := []*ir.Gpu{
		{Rank: 0, Threadblocks: []*ir.Threadblock{tbS}},
		{Rank: 1, Threadblocks: []*ir.Threadblock{tbR}},
	}

	if err := CheckOrdering(arena, gpus); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
