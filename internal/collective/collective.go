// Package collective defines the external collective adapter from spec.md
// §6: the logical pattern name, the inplace flag, initial buffer seeding,
// the inplace buffer-index remap, and the post-construction correctness
// oracle. Reference implementations cover allgather, allreduce, and
// alltoall; the oracle evaluates the shadow buffer state the front-end
// façade maintains while the user script runs (spec.md §4.1), not a
// simulated execution of the emitted schedule — building a schedule
// interpreter is explicitly out of scope.
package collective

import (
	"github.com/quantarax/collectivec/internal/buffer"
	"github.com/quantarax/collectivec/internal/ir"
)

// Collective is the external collaborator supplied by the caller.
type Collective interface {
	Name() string
	Inplace() bool
	// InitBuffers seeds every rank's input (and, for inplace collectives,
	// output) buffer with its starting chunks.
	InitBuffers(set *buffer.Set)
	// GetBufferIndex remaps a logical (buffer, index) to its physical
	// location, used by inplace collectives where input and output share
	// storage.
	GetBufferIndex(rank int, buf ir.BufferRef, index int) (ir.BufferRef, int)
	// Check evaluates the collective's correctness oracle against the
	// shadow buffer state after the user script has run.
	Check(set *buffer.Set) bool
}

func identityIndex(_ int, buf ir.BufferRef, index int) (ir.BufferRef, int) {
	return buf, index
}

// AllGather seeds each rank with one input chunk and expects every rank's
// output to end up holding every rank's chunk, in rank order.
type AllGather struct {
	NumRanks int
}

func (a AllGather) Name() string { return "allgather" }
func (a AllGather) Inplace() bool { return false }

func (a AllGather) InitBuffers(set *buffer.Set) {
	for r, rank := range set.Ranks {
		rank.Input = []buffer.Value{buffer.ChunkValue(ir.Chunk{OriginRank: r, OriginIndex: 0})}
		rank.Output = make([]buffer.Value, a.NumRanks)
	}
}

func (a AllGather) GetBufferIndex(rank int, buf ir.BufferRef, index int) (ir.BufferRef, int) {
	return identityIndex(rank, buf, index)
}

func (a AllGather) Check(set *buffer.Set) bool {
	for _, rank := range set.Ranks {
		for origin := 0; origin < a.NumRanks; origin++ {
			v := rank.Output[origin]
			if v.IsReduce || v.Chunk.OriginRank != origin || v.Chunk.OriginIndex != 0 {
				return false
			}
		}
	}
	return true
}

// AllReduce seeds each rank with one input chunk and expects every rank's
// output to hold the reduction of every rank's chunk.
type AllReduce struct {
	NumRanks int
}

func (a AllReduce) Name() string { return "allreduce" }
func (a AllReduce) Inplace() bool { return false }

func (a AllReduce) InitBuffers(set *buffer.Set) {
	for r, rank := range set.Ranks {
		rank.Input = []buffer.Value{buffer.ChunkValue(ir.Chunk{OriginRank: r, OriginIndex: 0})}
		rank.Output = make([]buffer.Value, 1)
	}
}

func (a AllReduce) GetBufferIndex(rank int, buf ir.BufferRef, index int) (ir.BufferRef, int) {
	return identityIndex(rank, buf, index)
}

func (a AllReduce) Check(set *buffer.Set) bool {
	expected := ir.ReduceChunk{}
	for r := 0; r < a.NumRanks; r++ {
		expected = expected.ReduceOne(ir.Chunk{OriginRank: r, OriginIndex: 0})
	}
	for _, rank := range set.Ranks {
		v := rank.Output[0]
		if !v.IsReduce || !v.Reduce.Equal(expected) {
			return false
		}
	}
	return true
}

// AllToAll seeds each rank with NumRanks input chunks, one destined for
// each peer (including itself), and expects rank r's output slot s to hold
// the chunk rank s addressed to r.
type AllToAll struct {
	NumRanks int
}

func (a AllToAll) Name() string { return "alltoall" }
func (a AllToAll) Inplace() bool { return false }

func (a AllToAll) InitBuffers(set *buffer.Set) {
	for r, rank := range set.Ranks {
		rank.Input = make([]buffer.Value, a.NumRanks)
		for dst := 0; dst < a.NumRanks; dst++ {
			rank.Input[dst] = buffer.ChunkValue(ir.Chunk{OriginRank: r, OriginIndex: dst, DstRank: dst, DstIndex: r})
		}
		rank.Output = make([]buffer.Value, a.NumRanks)
	}
}

func (a AllToAll) GetBufferIndex(rank int, buf ir.BufferRef, index int) (ir.BufferRef, int) {
	return identityIndex(rank, buf, index)
}

func (a AllToAll) Check(set *buffer.Set) bool {
	for r, rank := range set.Ranks {
		for s := 0; s < a.NumRanks; s++ {
			v := rank.Output[s]
			if v.IsReduce || v.Chunk.OriginRank != s || v.Chunk.OriginIndex != r {
				return false
			}
		}
	}
	return true
}
