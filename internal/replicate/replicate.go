// Package replicate implements instance replication from spec.md §4.9:
// producing N interleaved or batched copies of a compiled program's
// threadblocks, rewriting buffer indices and rebuilding dependency edges
// within each instance.
package replicate

import "github.com/quantarax/collectivec/internal/ir"

// Policy selects how per-instance indices are interleaved across the
// original buffer range.
type Policy int

const (
	Interleaved Policy = iota
	Batched
)

// Sizes carries the per-rank buffer sizes needed to rewrite input/output
// indices under the batched policy (`buffer_len·i + index`).
type Sizes struct {
	InputLen, OutputLen int
}

// Plan replicates one rank's threadblocks into `instances` copies, per
// spec.md §4.9. rankChannels is the number of distinct channels used by
// this rank prior to replication (rankdag.DAG.NumChannels), used to offset each
// instance's channel ids so instances never collide on the same channel.
func Plan(arena *ir.Arena, tbs []*ir.Threadblock, instances, rankChannels int, policy Policy, sizes Sizes) []*ir.Threadblock {
	if instances <= 1 {
		return tbs
	}

	// posKey identifies an op by its pre-replication (threadblock id, step);
	// clones[inst] maps that position to the instance's cloned op id, so
	// depends edges can be re-resolved at (dep_tbid*N+i, dep_step) per
	// spec.md §4.9.
	type posKey struct{ tb, step int }

	var out []*ir.Threadblock
	// clone[i][origTB][origStep] -> new op id, built incrementally.
	clones := make([]map[posKey]ir.OpID, instances)
	for i := range clones {
		clones[i] = make(map[posKey]ir.OpID)
	}

	for _, tb := range tbs {
		for inst := 0; inst < instances; inst++ {
			newTB := ir.NewThreadblock(tb.ID*instances+inst, rankChannels*inst+tb.Channel)
			newTB.SendPeer = tb.SendPeer
			newTB.RecvPeer = tb.RecvPeer
			for step, id := range tb.Ops {
				orig := arena.Get(id)
				clone := *orig
				clone.TB = newTB.ID
				clone.Channel = newTB.Channel
				clone.Step = step
				clone.Src = rewriteRef(orig.Src, inst, instances, policy, sizes)
				clone.Dst = rewriteRef(orig.Dst, inst, instances, policy, sizes)
				clone.Match = nil // cross-rank matches are rebuilt by the caller across all ranks' clones
				clone.Depends = nil
				newID := arena.New(clone)
				clones[inst][posKey{tb.ID, step}] = newID
				newTB.Ops = append(newTB.Ops, newID)
			}
			out = append(out, newTB)
		}
	}

	// Rebuild depends within each instance: the cloned op at (tb,step)
	// depends on (dep_tbid*N+i, dep_step), found by looking up the
	// original dependency's own (tb, step) position, then taking that
	// instance's clone of it.
	for _, tb := range tbs {
		for step, id := range tb.Ops {
			orig := arena.Get(id)
			if len(orig.Depends) == 0 {
				continue
			}
			depOrig := arena.Get(orig.Depends[0])
			for inst := 0; inst < instances; inst++ {
				cloneID := clones[inst][posKey{tb.ID, step}]
				depClone, ok := clones[inst][posKey{depOrig.TB, depOrig.Step}]
				if !ok {
					continue
				}
				arena.Get(cloneID).Depends = []ir.OpID{depClone}
			}
		}
	}

	return out
}

// PlanAll replicates every rank's threadblocks together, keyed by rank, so
// that cross-rank Match edges (a send on one rank paired with a recv on
// another) can be rebuilt once every rank's clones exist — Plan's doc
// comment defers exactly this ("rebuilt by the caller across all ranks'
// clones"). rankChannels and sizesByRank are keyed by rank, since the
// replication stride depends on each rank's own prior channel count and
// buffer sizes.
func PlanAll(arena *ir.Arena, tbsByRank map[int][]*ir.Threadblock, instances int, rankChannels map[int]int, policy Policy, sizesByRank map[int]Sizes) map[int][]*ir.Threadblock {
	if instances <= 1 {
		return tbsByRank
	}

	type globalKey struct{ rank, tb, step int }
	clones := make([]map[globalKey]ir.OpID, instances)
	for i := range clones {
		clones[i] = make(map[globalKey]ir.OpID)
	}

	out := make(map[int][]*ir.Threadblock, len(tbsByRank))
	for rank, tbs := range tbsByRank {
		var newTBs []*ir.Threadblock
		for _, tb := range tbs {
			for inst := 0; inst < instances; inst++ {
				newTB := ir.NewThreadblock(tb.ID*instances+inst, rankChannels[rank]*inst+tb.Channel)
				newTB.SendPeer = tb.SendPeer
				newTB.RecvPeer = tb.RecvPeer
				for step, id := range tb.Ops {
					orig := arena.Get(id)
					clone := *orig
					clone.TB = newTB.ID
					clone.Channel = newTB.Channel
					clone.Step = step
					clone.Src = rewriteRef(orig.Src, inst, instances, policy, sizesByRank[rank])
					clone.Dst = rewriteRef(orig.Dst, inst, instances, policy, sizesByRank[rank])
					clone.Match = nil
					clone.Depends = nil
					newID := arena.New(clone)
					clones[inst][globalKey{rank, tb.ID, step}] = newID
					newTB.Ops = append(newTB.Ops, newID)
				}
				newTBs = append(newTBs, newTB)
			}
		}
		out[rank] = newTBs
	}

	for rank, tbs := range tbsByRank {
		for _, tb := range tbs {
			for step, id := range tb.Ops {
				orig := arena.Get(id)
				if len(orig.Depends) == 0 {
					continue
				}
				depOrig := arena.Get(orig.Depends[0])
				for inst := 0; inst < instances; inst++ {
					cloneID, ok := clones[inst][globalKey{rank, tb.ID, step}]
					if !ok {
						continue
					}
					depClone, ok := clones[inst][globalKey{rank, depOrig.TB, depOrig.Step}]
					if !ok {
						continue
					}
					arena.Get(cloneID).Depends = []ir.OpID{depClone}
				}
			}
		}
	}

	for rank, tbs := range tbsByRank {
		for _, tb := range tbs {
			for step, id := range tb.Ops {
				orig := arena.Get(id)
				for _, partner := range orig.Match {
					p := arena.Get(partner)
					for inst := 0; inst < instances; inst++ {
						selfClone, ok := clones[inst][globalKey{rank, tb.ID, step}]
						if !ok {
							continue
						}
						partnerClone, ok := clones[inst][globalKey{p.Rank, p.TB, p.Step}]
						if !ok {
							continue
						}
						arena.Get(selfClone).Match = append(arena.Get(selfClone).Match, partnerClone)
					}
				}
			}
		}
	}

	return out
}

// rewriteRef returns a copy of ref for instance inst: input/output indices
// become `index·N + i` (interleaved) or `buffer_len·i + index` (batched);
// scratch indices are left unchanged. size is preserved.
func rewriteRef(ref *ir.ChunkRef, inst, instances int, policy Policy, sizes Sizes) *ir.ChunkRef {
	if ref == nil {
		return nil
	}
	r := *ref
	switch ref.Buffer.Kind {
	case ir.BufferScratch:
		// Scratch indices stay local here; the compiler pipeline adds the
		// scratch region's global offset and the instance_size stride after
		// replication (frontend's rewriteScratchOffsets).
		return &r
	case ir.BufferInput:
		r.Index = rewriteIndex(ref.Index, inst, instances, policy, sizes.InputLen)
	case ir.BufferOutput:
		r.Index = rewriteIndex(ref.Index, inst, instances, policy, sizes.OutputLen)
	}
	return &r
}

func rewriteIndex(index, inst, instances int, policy Policy, bufferLen int) int {
	if policy == Batched {
		return bufferLen*inst + index
	}
	return index*instances + inst
}
