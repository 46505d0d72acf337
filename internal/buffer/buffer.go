// Package buffer implements the per-rank buffer model from spec.md §3/§4.8:
// fixed-size input/output buffers, named scratch buffers that grow
// monotonically as chunks are appended, and the final assignment of each
// scratch buffer to an offset inside one global per-rank scratch region.
package buffer

import "github.com/quantarax/collectivec/internal/ir"

// Value is the tagged union stored in a buffer slot: either a Chunk or a
// ReduceChunk, mirroring the source's heterogeneous chunk/ReduceChunk union.
type Value struct {
	IsReduce bool
	Chunk    ir.Chunk
	Reduce   ir.ReduceChunk
}

// ChunkValue wraps a plain Chunk.
func ChunkValue(c ir.Chunk) Value { return Value{Chunk: c} }

// ReduceValue wraps a ReduceChunk.
func ReduceValue(r ir.ReduceChunk) Value { return Value{IsReduce: true, Reduce: r} }

// ReduceWith combines v with an incoming chunk value, producing the
// ReduceChunk semantics from spec.md §3: reduce(Chunk) appends; reduce
// (ReduceChunk) concatenates.
func (v Value) ReduceWith(incoming Value) Value {
	base := v.Reduce
	if !v.IsReduce {
		base = ir.ReduceChunk{Chunks: []ir.Chunk{v.Chunk}}
	}
	if incoming.IsReduce {
		return ReduceValue(base.ReduceWith(incoming.Reduce))
	}
	return ReduceValue(base.ReduceOne(incoming.Chunk))
}

// Scratch is one named scratch buffer. It grows monotonically: Append is
// the only way new slots come into existence, always at the end.
type Scratch struct {
	Name   string
	Values []Value
	Offset int // assigned into the rank's global scratch region by AssignOffsets
}

// Append grows the scratch buffer by one slot and returns its local index.
func (s *Scratch) Append(v Value) int {
	idx := len(s.Values)
	s.Values = append(s.Values, v)
	return idx
}

// InstanceSize is the number of slots used by one replication instance.
func (s *Scratch) InstanceSize() int { return len(s.Values) }

// Rank holds one rank's input, output, and named scratch buffers.
type Rank struct {
	Input, Output []Value
	scratchNames  []string // insertion order, per spec.md §4.8
	scratch       map[string]*Scratch
}

// NewRank returns a rank buffer set with the given input/output sizes
// pre-populated with zero Values (overwritten by the collective's
// init_buffers step).
func NewRank(inputSize, outputSize int) *Rank {
	return &Rank{
		Input:   make([]Value, inputSize),
		Output:  make([]Value, outputSize),
		scratch: make(map[string]*Scratch),
	}
}

// EnsureScratch returns the named scratch buffer, creating it (in insertion
// order) if this is the first reference.
func (r *Rank) EnsureScratch(name string) *Scratch {
	if s, ok := r.scratch[name]; ok {
		return s
	}
	s := &Scratch{Name: name}
	r.scratch[name] = s
	r.scratchNames = append(r.scratchNames, name)
	return s
}

// ScratchNames returns scratch buffer names in first-reference order.
func (r *Rank) ScratchNames() []string {
	out := make([]string, len(r.scratchNames))
	copy(out, r.scratchNames)
	return out
}

// Get reads the value at a ref's buffer kind/index on this rank. size must
// be 1; callers iterate refs slot by slot.
func (r *Rank) Get(buf ir.BufferRef, index int) Value {
	switch buf.Kind {
	case ir.BufferInput:
		return r.Input[index]
	case ir.BufferOutput:
		return r.Output[index]
	default:
		return r.scratch[buf.Name].Values[index]
	}
}

// Set writes the value at a ref's buffer kind/index on this rank.
func (r *Rank) Set(buf ir.BufferRef, index int, v Value) {
	switch buf.Kind {
	case ir.BufferInput:
		r.Input[index] = v
	case ir.BufferOutput:
		r.Output[index] = v
	default:
		s := r.EnsureScratch(buf.Name)
		for len(s.Values) <= index {
			s.Append(Value{})
		}
		s.Values[index] = v
	}
}

// Set holds every rank's buffers for one compiled program.
type Set struct {
	Ranks []*Rank
}

// NewSet allocates an empty buffer set for numRanks ranks; callers
// populate Input/Output via the collective adapter's init_buffers.
func NewSet(numRanks int) *Set {
	s := &Set{Ranks: make([]*Rank, numRanks)}
	for i := range s.Ranks {
		s.Ranks[i] = &Rank{scratch: make(map[string]*Scratch)}
	}
	return s
}

// AssignOffsets implements spec.md §4.8: per rank, iterate named scratch
// buffers in insertion order and assign each an offset equal to the running
// sum of prior scratch sizes, scaled by the instance count.
func AssignOffsets(set *Set, instances int) {
	for _, rank := range set.Ranks {
		offset := 0
		for _, name := range rank.scratchNames {
			s := rank.scratch[name]
			s.Offset = offset
			offset += s.InstanceSize() * instances
		}
	}
}

// GlobalScratchSize returns the size of rank's global scratch region after
// AssignOffsets has run.
func GlobalScratchSize(rank *Rank, instances int) int {
	total := 0
	for _, name := range rank.scratchNames {
		total += rank.scratch[name].InstanceSize() * instances
	}
	return total
}

// GlobalIndex returns the offset of local index idx inside the named
// scratch buffer's slot of the rank's global scratch region.
func GlobalIndex(rank *Rank, name string, idx int) int {
	return rank.scratch[name].Offset + idx
}
