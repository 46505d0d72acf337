package rankdag

import (
	"github.com/quantarax/collectivec/internal/bitset"
	"github.com/quantarax/collectivec/internal/ir"
)

// writesToSlot reports whether op's destination range covers slot, per
// spec.md §9's resolution of the source's writes_to_slot: "an op writes the
// slot iff the destination range contains it" — sends never write locally,
// since their payload lands on the peer rank's matching recv.
func writesToSlot(op *ir.Op, slot ir.Slot) bool {
	if op.Inst == ir.InstSend || op.Dst == nil {
		return false
	}
	if op.Dst.Rank != slot.Rank || op.Dst.Buffer != slot.Buffer {
		return false
	}
	return slot.Index >= op.Dst.Index && slot.Index < op.Dst.Index+op.Dst.Size
}

// findLastRecv returns the most recently scheduled op that writes slot,
// walking forward from the slot's root op. It descends to children first so
// a deeper (more recent) writer wins over a shallower one; when no
// descendant writes the slot it falls back to the root itself, which by
// construction always does (spec.md §4.4).
func (d *DAG) findLastRecv(slot ir.Slot) ir.OpID {
	root, ok := d.roots[slot]
	if !ok {
		return ir.NoOp
	}
	memo := make(map[ir.OpID]ir.OpID)
	var dfs func(id ir.OpID) ir.OpID
	dfs = func(id ir.OpID) ir.OpID {
		if v, seen := memo[id]; seen {
			return v
		}
		op := d.Arena.Get(id)
		for _, n := range op.Next {
			if r := dfs(n); r != ir.NoOp {
				memo[id] = r
				return r
			}
		}
		result := ir.NoOp
		if writesToSlot(op, slot) {
			result = id
		}
		memo[id] = result
		return result
	}
	if r := dfs(root); r != ir.NoOp {
		return r
	}
	return root
}

// findLastOps returns every leaf op (no outgoing edges yet) currently
// reachable forward from slot's root, via breadth-first search. A new op
// touching this slot must wait on all of them, since independent branches
// may both still be in flight (spec.md §4.4).
func (d *DAG) findLastOps(slot ir.Slot) []ir.OpID {
	root, ok := d.roots[slot]
	if !ok {
		return nil
	}
	visited := bitset.New(d.Arena.Len())
	visited.Add(int(root))
	queue := []ir.OpID{root}
	var leaves []ir.OpID
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		op := d.Arena.Get(id)
		if len(op.Next) == 0 {
			leaves = append(leaves, id)
			continue
		}
		for _, n := range op.Next {
			if visited.Add(int(n)) {
				queue = append(queue, n)
			}
		}
	}
	return leaves
}
