package replicate

import (
	"testing"

	"github.com/quantarax/collectivec/internal/ir"
)

// S3 (AllToAll, 4 ranks, 2 instances, interleaved): replication multiplies
// threadblock count by 2 and channel ids by 2; indices on input/output
// scale as index*2+i. No cross-instance dependency edges exist.
func TestPlan_InterleavedDoublesThreadblocksAndScalesIndices(t *testing.T) {
	arena := ir.NewArena()
	output := ir.Output()
	dst := ir.ChunkRef{Rank: 1, Buffer: output, Index: 3, Size: 1}
	id := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, Dst: &dst, TB: 0, Channel: 0, Step: 0})
	tb := ir.NewThreadblock(0, 0)
	tb.Ops = []ir.OpID{id}

	out := Plan(arena, []*ir.Threadblock{tb}, 2, 1, Interleaved, Sizes{OutputLen: 8})

	if len(out) != 2 {
		t.Fatalf("expected 2 threadblocks after 2-way replication, got %d", len(out))
	}
	if out[0].Channel != 0 || out[1].Channel != 1 {
		t.Fatalf("expected channels 0 and 1, got %d and %d", out[0].Channel, out[1].Channel)
	}
	if out[0].ID != 0 || out[1].ID != 1 {
		t.Fatalf("expected tb ids 0 and 1, got %d and %d", out[0].ID, out[1].ID)
	}

	op0 := arena.Get(out[0].Ops[0])
	op1 := arena.Get(out[1].Ops[0])
	if op0.Dst.Index != 3*2+0 {
		t.Errorf("expected instance 0 index %d, got %d", 3*2+0, op0.Dst.Index)
	}
	if op1.Dst.Index != 3*2+1 {
		t.Errorf("expected instance 1 index %d, got %d", 3*2+1, op1.Dst.Index)
	}
}

func TestPlan_NoCrossInstanceDependencyEdges(t *testing.T) {
	arena := ir.NewArena()
	output := ir.Output()
	d0 := ir.ChunkRef{Rank: 0, Buffer: output, Index: 0, Size: 1}
	d1 := ir.ChunkRef{Rank: 0, Buffer: output, Index: 1, Size: 1}

	a := arena.New(ir.Op{Inst: ir.InstCopy, Rank: 0, TB: 0, Step: 0, Dst: &d0})
	tbA := ir.NewThreadblock(0, 0)
	tbA.Ops = []ir.OpID{a}

	b := arena.New(ir.Op{Inst: ir.InstCopy, Rank: 0, TB: 1, Step: 0, Dst: &d1, Depends: []ir.OpID{a}})
	tbB := ir.NewThreadblock(1, 0)
	tbB.Ops = []ir.OpID{b}

	out := Plan(arena, []*ir.Threadblock{tbA, tbB}, 2, 1, Interleaved, Sizes{OutputLen: 4})

	for _, tb := range out {
		for _, id := range tb.Ops {
			op := arena.Get(id)
			for _, dep := range op.Depends {
				depOp := arena.Get(dep)
				if (op.TB % 2) != (depOp.TB % 2) {
					t.Fatalf("dependency crosses instances: op tb=%d dep tb=%d", op.TB, depOp.TB)
				}
			}
		}
	}
}

// PlanAll must rebuild Match edges across ranks per instance: rank 0's send
// and rank 1's recv, each replicated twice, should match within the same
// instance and never across instances.
func TestPlanAll_RebuildsCrossRankMatchPerInstance(t *testing.T) {
	arena := ir.NewArena()
	src := ir.ChunkRef{Rank: 0, Buffer: ir.Input(), Index: 0, Size: 1}
	dst := ir.ChunkRef{Rank: 1, Buffer: ir.Output(), Index: 0, Size: 1}

	sendID := arena.New(ir.Op{Inst: ir.InstSend, Rank: 0, Src: &src, Dst: &dst, TB: 0, Step: 0})
	recvID := arena.New(ir.Op{Inst: ir.InstRecv, Rank: 1, Src: &src, Dst: &dst, TB: 0, Step: 0})
	arena.Get(sendID).Match = []ir.OpID{recvID}
	arena.Get(recvID).Match = []ir.OpID{sendID}

	sendTB := ir.NewThreadblock(0, 0)
	sendTB.Ops = []ir.OpID{sendID}
	recvTB := ir.NewThreadblock(0, 0)
	recvTB.Ops = []ir.OpID{recvID}

	tbsByRank := map[int][]*ir.Threadblock{0: {sendTB}, 1: {recvTB}}
	rankChannels := map[int]int{0: 1, 1: 1}
	sizes := map[int]Sizes{0: {InputLen: 4}, 1: {OutputLen: 4}}

	out := PlanAll(arena, tbsByRank, 2, rankChannels, Interleaved, sizes)

	for inst := 0; inst < 2; inst++ {
		sendClone := arena.Get(out[0][inst].Ops[0])
		recvClone := arena.Get(out[1][inst].Ops[0])
		if len(sendClone.Match) != 1 || sendClone.Match[0] != recvClone.ID {
			t.Fatalf("instance %d: expected send clone matched to its own instance's recv clone", inst)
		}
		if len(recvClone.Match) != 1 || recvClone.Match[0] != sendClone.ID {
			t.Fatalf("instance %d: expected recv clone matched back to its own instance's send clone", inst)
		}
	}
}
