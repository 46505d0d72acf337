package ir

// Arena owns every Op created while lowering a program's rank DAG; one
// arena holds the ops of all ranks. Ops
// are addressed by OpID (an index into ops); this keeps prev/next/match/
// depends edges as plain integer sets instead of Go pointers, so the DAG
// (which is not acyclic in the general "prev points back at next" adjacency
// sense) never becomes a pointer cycle the garbage collector or a naive
// recursive Stringer would choke on.
type Arena struct {
	ops []Op
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// New allocates a fresh Op in the arena and returns its ID.
func (a *Arena) New(op Op) OpID {
	id := OpID(len(a.ops))
	op.ID = id
	a.ops = append(a.ops, op)
	return id
}

// Get returns a pointer to the op addressed by id. The pointer is valid
// until the next New call may reallocate the backing slice; callers that
// need a stable pointer across inserts should re-fetch by ID.
func (a *Arena) Get(id OpID) *Op {
	return &a.ops[id]
}

// Len returns the number of ops ever allocated in this arena.
func (a *Arena) Len() int { return len(a.ops) }

// All returns the IDs of every op in allocation order.
func (a *Arena) All() []OpID {
	ids := make([]OpID, len(a.ops))
	for i := range a.ops {
		ids[i] = OpID(i)
	}
	return ids
}

// Link records a prev/next edge between two ops addressed by id, skipping
// the insert if the edge already exists (the source models prev/next as
// sets for exactly this reason).
func (a *Arena) Link(prev, next OpID) {
	p, n := a.Get(prev), a.Get(next)
	for _, id := range p.Next {
		if id == next {
			return
		}
	}
	p.Next = append(p.Next, next)
	n.Prev = append(n.Prev, prev)
}

// Unlink removes a prev/next edge in both directions, if present.
func (a *Arena) Unlink(prev, next OpID) {
	p, n := a.Get(prev), a.Get(next)
	p.Next = removeID(p.Next, next)
	n.Prev = removeID(n.Prev, prev)
}

func removeID(ids []OpID, target OpID) []OpID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// RemoveOp splices op out of the DAG: every predecessor is linked directly
// to every successor, matching the source's remove_op. The op itself is
// marked InstDelete rather than erased (OpIDs are stable array indices, and
// other ops' Match/Depends may still reference it at this point in the
// pipeline); rankdag.DAG.OpsForRank filters InstDelete ops out, so the
// passes fed from it never see them.
func (a *Arena) RemoveOp(id OpID) {
	op := a.Get(id)
	prevs := append([]OpID(nil), op.Prev...)
	nexts := append([]OpID(nil), op.Next...)
	for _, p := range prevs {
		a.Unlink(p, id)
		for _, n := range nexts {
			a.Link(p, n)
		}
	}
	for _, n := range nexts {
		a.Unlink(id, n)
	}
	op.Prev = nil
	op.Next = nil
	op.Inst = InstDelete
}
