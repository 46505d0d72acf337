package ir

import "sort"

// Chunk identifies a unit of data by where it was first placed. Chunks never
// move; they are copied between buffer slots and compared by origin alone.
type Chunk struct {
	OriginRank  int
	OriginIndex int
	// DstRank/DstIndex are hints recorded by the collective adapter for
	// chunks with a known final destination (e.g. ReduceScatter/AllGather);
	// they do not participate in equality.
	DstRank  int
	DstIndex int
}

// ReduceChunk is the commutative, associative combination of an unordered
// multiset of Chunks. Equality is multiset equality.
type ReduceChunk struct {
	Chunks []Chunk
}

// ReduceOne appends a single Chunk to the combination.
func (r ReduceChunk) ReduceOne(c Chunk) ReduceChunk {
	out := make([]Chunk, len(r.Chunks), len(r.Chunks)+1)
	copy(out, r.Chunks)
	out = append(out, c)
	return ReduceChunk{Chunks: out}
}

// ReduceWith concatenates another ReduceChunk's members into this one.
func (r ReduceChunk) ReduceWith(other ReduceChunk) ReduceChunk {
	out := make([]Chunk, 0, len(r.Chunks)+len(other.Chunks))
	out = append(out, r.Chunks...)
	out = append(out, other.Chunks...)
	return ReduceChunk{Chunks: out}
}

// sortedChunks returns a copy of chunks sorted by (origin rank, origin
// index), used to make ReduceChunk equality independent of member order.
func sortedChunks(chunks []Chunk) []Chunk {
	out := make([]Chunk, len(chunks))
	copy(out, chunks)
	sort.Slice(out, func(i, j int) bool {
		if out[i].OriginRank != out[j].OriginRank {
			return out[i].OriginRank < out[j].OriginRank
		}
		return out[i].OriginIndex < out[j].OriginIndex
	})
	return out
}

// Equal reports multiset equality, invariant under permutation of members.
func (r ReduceChunk) Equal(other ReduceChunk) bool {
	if len(r.Chunks) != len(other.Chunks) {
		return false
	}
	a, b := sortedChunks(r.Chunks), sortedChunks(other.Chunks)
	for i := range a {
		if a[i].OriginRank != b[i].OriginRank || a[i].OriginIndex != b[i].OriginIndex {
			return false
		}
	}
	return true
}
