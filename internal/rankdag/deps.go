package rankdag

import (
	"sort"

	"github.com/quantarax/collectivec/internal/ir"
)

// InferDependencies implements spec.md §4.7: after threadblock assignment,
// compute each op's cross-threadblock depends, prune any dependency already
// transitively covered by an earlier op in the same threadblock's sequence,
// and expand any op left with more than one dependency into preceding nop
// rows so every real op carries at most one explicit depends.
func (d *DAG) InferDependencies(gpus []*ir.Gpu) {
	for _, gpu := range gpus {
		for _, tb := range gpu.Threadblocks {
			d.inferForThreadblock(tb)
		}
	}
}

func (d *DAG) inferForThreadblock(tb *ir.Threadblock) {
	// satisfied[foreignTB] is the highest step in foreignTB already implied
	// by a dependency emitted earlier in this threadblock's sequence.
	satisfied := make(map[int]int)
	var rows []ir.OpID

	for _, id := range tb.Ops {
		op := d.Arena.Get(id)
		raw := d.crossTBDependency(op)

		var kept []ir.OpID
		for _, dep := range raw {
			depOp := d.Arena.Get(dep)
			if prevStep, ok := satisfied[depOp.TB]; ok && prevStep >= depOp.Step {
				continue // transitively covered by an earlier dependency on the same foreign tb
			}
			satisfied[depOp.TB] = depOp.Step
			kept = append(kept, dep)
		}

		if len(kept) > 1 {
			for _, extra := range kept[1:] {
				nopID := d.Arena.New(ir.Op{Inst: ir.InstNop, Rank: op.Rank, TB: op.TB, Channel: op.Channel, Depends: []ir.OpID{extra}})
				d.Arena.Link(nopID, id)
				rows = append(rows, nopID)
			}
			kept = kept[:1]
		}
		op.Depends = kept
		rows = append(rows, id)
	}

	for i, id := range rows {
		d.Arena.Get(id).Step = i
	}
	tb.Ops = rows
}

// crossTBDependency collects one representative prev per distinct foreign
// threadblock: same-tb prevs are dropped (sequential step order in that tb
// already orders them), and when several prevs share a foreign tb, only the
// one with the highest step is kept, since its completion implies every
// earlier op in that tb already ran. Results are ordered by foreign
// threadblock id for deterministic output.
func (d *DAG) crossTBDependency(op *ir.Op) []ir.OpID {
	best := make(map[int]ir.OpID)
	for _, p := range op.Prev {
		pop := d.Arena.Get(p)
		if pop.TB == op.TB {
			continue
		}
		if cur, ok := best[pop.TB]; !ok || d.Arena.Get(cur).Step < pop.Step {
			best[pop.TB] = p
		}
	}
	tbs := make([]int, 0, len(best))
	for tb := range best {
		tbs = append(tbs, tb)
	}
	sort.Ints(tbs)
	out := make([]ir.OpID, 0, len(tbs))
	for _, tb := range tbs {
		out = append(out, best[tb])
	}
	return out
}
