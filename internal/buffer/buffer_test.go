package buffer

import (
	"testing"

	"github.com/quantarax/collectivec/internal/ir"
)

func chunkAt(rank, index int) ir.Chunk {
	return ir.Chunk{OriginRank: rank, OriginIndex: index}
}

// S5 (scratch layout): two scratch buffers of sizes 3 and 5 on rank 0 with
// instances=2 yield offsets 0 and 6; the global scratch region size is 16.
func TestAssignOffsets_S5(t *testing.T) {
	set := NewSet(1)
	rank := set.Ranks[0]

	a := rank.EnsureScratch("a")
	for i := 0; i < 3; i++ {
		a.Append(Value{})
	}
	b := rank.EnsureScratch("b")
	for i := 0; i < 5; i++ {
		b.Append(Value{})
	}

	AssignOffsets(set, 2)

	if a.Offset != 0 {
		t.Errorf("expected buffer a offset 0, got %d", a.Offset)
	}
	if b.Offset != 6 {
		t.Errorf("expected buffer b offset 6, got %d", b.Offset)
	}
	if got := GlobalScratchSize(rank, 2); got != 16 {
		t.Errorf("expected global scratch size 16, got %d", got)
	}
}

func TestRank_GetSetScratchGrows(t *testing.T) {
	r := &Rank{scratch: make(map[string]*Scratch)}
	buf := ir.Scratch("buf")

	r.Set(buf, 2, ChunkValue(chunkAt(0, 1)))
	got := r.Get(buf, 2)
	if got.Chunk.OriginIndex != 1 {
		t.Errorf("expected chunk origin index 1, got %d", got.Chunk.OriginIndex)
	}
	if len(r.scratch["buf"].Values) != 3 {
		t.Errorf("expected scratch to have grown to 3 slots, got %d", len(r.scratch["buf"].Values))
	}
}

func TestReduceChunkValueSemantics(t *testing.T) {
	c1 := ChunkValue(chunkAt(0, 0))
	c2 := chunkAt(1, 0)

	reduced := c1.ReduceWith(ChunkValue(c2))
	if !reduced.IsReduce || len(reduced.Reduce.Chunks) != 2 {
		t.Fatalf("expected a 2-member reduce chunk, got %+v", reduced)
	}

	c3 := chunkAt(2, 0)
	reducedAgain := reduced.ReduceWith(ChunkValue(c3))
	if len(reducedAgain.Reduce.Chunks) != 3 {
		t.Fatalf("expected a 3-member reduce chunk, got %+v", reducedAgain)
	}
}
