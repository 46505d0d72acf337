// Package chunkdag builds the chunk-level data-flow DAG (spec.md §4.2) as
// the front-end API records sends and reductions, then lowers it into a
// per-rank operation DAG (spec.md §4.3).
package chunkdag

import (
	"fmt"

	"github.com/quantarax/collectivec/internal/bitset"
	"github.com/quantarax/collectivec/internal/buffer"
	"github.com/quantarax/collectivec/internal/ir"
	"github.com/quantarax/collectivec/internal/rankdag"
)

// ChunkInstruction is a chunk DAG node kind.
type ChunkInstruction int

const (
	ChunkStart ChunkInstruction = iota
	ChunkSend
	ChunkReduce
)

// ChunkOpID addresses a ChunkOp inside a DAG, the same arena-of-IDs
// discipline used for the rank DAG (see ir.Arena).
type ChunkOpID int

// ChunkOp is a chunk-level operation: start | send | reduce.
type ChunkOp struct {
	ID      ChunkOpID
	Inst    ChunkInstruction
	Src     ir.ChunkRef // zero value for start
	Dst     ir.ChunkRef
	SendTB  int
	RecvTB  int
	Channel int

	StepsFromStart int
	StepsToEnd     int

	Prev []ChunkOpID
	Next []ChunkOpID
}

// slotKey is a single (rank, buffer, index) addressable location, used to
// track which ChunkOp most recently produced the value currently held
// there. This replaces the source's identity map from Chunk/ReduceChunk
// values to their producing op plus a forward search through `next` for the
// op that currently overlaps a given ref: since the front-end always
// records sends/reduces in the program's own execution order, "the op that
// last wrote this slot" is equivalent to "the op the forward search would
// find", and is O(1) instead of a graph walk.
type slotKey struct {
	rank  int
	buf   ir.BufferRef
	index int
}

// DAG is the chunk-level data-flow graph for one program.
type DAG struct {
	ops          []ChunkOp
	lastProducer map[slotKey]ChunkOpID
}

// New returns an empty chunk DAG.
func New() *DAG {
	return &DAG{lastProducer: make(map[slotKey]ChunkOpID)}
}

func (d *DAG) alloc(op ChunkOp) ChunkOpID {
	id := ChunkOpID(len(d.ops))
	op.ID = id
	d.ops = append(d.ops, op)
	return id
}

func (d *DAG) get(id ChunkOpID) *ChunkOp { return &d.ops[id] }

func slotsOf(ref ir.ChunkRef) []slotKey {
	slots := make([]slotKey, ref.Size)
	for i := 0; i < ref.Size; i++ {
		slots[i] = slotKey{rank: ref.Rank, buf: ref.Buffer, index: ref.Index + i}
	}
	return slots
}

// InitChunk registers a seeded input chunk's start op, per spec.md §4.2:
// one start op per seeded input chunk; start.dst is the initial ChunkRef.
func (d *DAG) InitChunk(ref ir.ChunkRef) ChunkOpID {
	id := d.alloc(ChunkOp{Inst: ChunkStart, Dst: ref, StepsFromStart: -1, SendTB: -1, RecvTB: -1, Channel: -1})
	for _, s := range slotsOf(ref) {
		d.lastProducer[s] = id
	}
	return id
}

func (d *DAG) producersOf(ref ir.ChunkRef) ([]ChunkOpID, error) {
	seen := make(map[ChunkOpID]bool)
	var out []ChunkOpID
	for _, s := range slotsOf(ref) {
		prod, ok := d.lastProducer[s]
		if !ok {
			return nil, fmt.Errorf("%w: slot %+v has no producer", ir.ErrUnreachableSlot, s)
		}
		if !seen[prod] {
			seen[prod] = true
			out = append(out, prod)
		}
	}
	return out, nil
}

func (d *DAG) maxStepsFromStart(ids []ChunkOpID) int {
	best := 0
	for _, id := range ids {
		if s := d.get(id).StepsFromStart; s > best {
			best = s
		}
	}
	return best
}

func (d *DAG) markProduced(id ChunkOpID, ref ir.ChunkRef) {
	for _, s := range slotsOf(ref) {
		d.lastProducer[s] = id
	}
}

// AddSend records a chunk-level send op, per spec.md §4.2: finds the most
// recent producer(s) of src, wires prev/next edges, and sets
// steps_from_start = 1 + max(0, producers' steps_from_start). Sends do not
// create new chunks, but they do relocate the value, so the destination's
// producer is updated to this op (see slotKey doc comment).
func (d *DAG) AddSend(src, dst ir.ChunkRef, sendtb, recvtb, ch int) (ChunkOpID, error) {
	prevOps, err := d.producersOf(src)
	if err != nil {
		return 0, err
	}
	id := d.alloc(ChunkOp{Inst: ChunkSend, Src: src, Dst: dst, SendTB: sendtb, RecvTB: recvtb, Channel: ch,
		StepsFromStart: d.maxStepsFromStart(prevOps) + 1})
	for _, p := range prevOps {
		d.get(p).Next = append(d.get(p).Next, id)
	}
	d.get(id).Prev = prevOps
	d.markProduced(id, dst)
	return id, nil
}

// AddReduce records a chunk-level reduce op, per spec.md §4.2: symmetric to
// AddSend but combines the producers of both the incoming (src) and
// existing (dst) values, since reduce consumes both.
func (d *DAG) AddReduce(src, dst ir.ChunkRef, sendtb, recvtb, ch int) (ChunkOpID, error) {
	srcProds, err := d.producersOf(src)
	if err != nil {
		return 0, err
	}
	dstProds, err := d.producersOf(dst)
	if err != nil {
		return 0, err
	}
	prevOps := append(append([]ChunkOpID{}, srcProds...), dstProds...)
	id := d.alloc(ChunkOp{Inst: ChunkReduce, Src: src, Dst: dst, SendTB: sendtb, RecvTB: recvtb, Channel: ch,
		StepsFromStart: d.maxStepsFromStart(prevOps) + 1})
	for _, p := range prevOps {
		d.get(p).Next = append(d.get(p).Next, id)
	}
	d.get(id).Prev = prevOps
	d.markProduced(id, dst)
	return id, nil
}

// CompleteMetadata computes steps_to_end for every op via a memoized
// depth-first walk forward along Next from each op, per spec.md §4.2's
// `_complete_metadata`.
func (d *DAG) CompleteMetadata() {
	memo := make([]int, len(d.ops))
	done := bitset.New(len(d.ops))

	var dfs func(id ChunkOpID) int
	dfs = func(id ChunkOpID) int {
		if done.Has(int(id)) {
			return memo[id]
		}
		op := d.get(id)
		best := 0
		for _, n := range op.Next {
			if v := dfs(n) + 1; v > best {
				best = v
			}
		}
		op.StepsToEnd = best
		memo[id] = best
		done.Add(int(id))
		return best
	}
	for id := range d.ops {
		dfs(ChunkOpID(id))
	}
}

// Lower traverses the chunk DAG in topological order using a min-heap keyed
// by chunk-op ordering (spec.md §4.3) and emits the corresponding rank-DAG
// ops, returning the lowered RankDAG.
func (d *DAG) Lower(numRanks int, buffers *buffer.Set) (*rankdag.DAG, error) {
	rd := rankdag.New(numRanks, buffers)
	sched := newScheduler()
	for i := range d.ops {
		if len(d.ops[i].Prev) == 0 {
			sched.push(d, ChunkOpID(i))
		}
	}

	visited := bitset.New(len(d.ops))
	for sched.len() > 0 {
		id := sched.pop()
		if !visited.Add(int(id)) {
			continue
		}
		op := d.get(id)
		if err := d.lowerOne(rd, op); err != nil {
			return nil, err
		}
		for _, n := range op.Next {
			sched.push(d, n)
		}
	}
	rd.FreezeAdjacency()
	return rd, nil
}

func (d *DAG) lowerOne(rd *rankdag.DAG, op *ChunkOp) error {
	switch op.Inst {
	case ChunkStart:
		rd.AddStart(op.Dst.Rank, op.Dst)
	case ChunkSend:
		d.lowerSend(rd, op)
	case ChunkReduce:
		d.lowerReduce(rd, op)
	}
	return nil
}

// The factor-of-two offset from spec.md §4.3 ensures send precedes recv in
// priority ordering while keeping the pair adjacent.
func (d *DAG) lowerSend(rd *rankdag.DAG, op *ChunkOp) {
	if op.Src.Rank == op.Dst.Rank {
		rd.AddCopy(op.Src.Rank, op.Src, op.Dst, op.StepsFromStart*2, op.StepsToEnd*2, op.SendTB)
		return
	}
	sop := rd.AddSend(op.Src.Rank, op.Src, op.Dst, op.StepsFromStart*2, op.StepsToEnd*2+1, op.SendTB, op.Channel)
	rop := rd.AddRecv(op.Dst.Rank, op.Src, op.Dst, op.StepsFromStart*2+1, op.StepsToEnd*2, op.RecvTB, op.Channel)
	rd.Match(sop, rop)
}

func (d *DAG) lowerReduce(rd *rankdag.DAG, op *ChunkOp) {
	if op.Src.Rank == op.Dst.Rank {
		rd.AddLocalReduce(op.Src.Rank, op.Src, op.Dst, op.StepsFromStart*2, op.StepsToEnd*2, op.SendTB)
		return
	}
	sop := rd.AddSend(op.Src.Rank, op.Src, op.Dst, op.StepsFromStart*2, op.StepsToEnd*2+1, op.SendTB, op.Channel)
	rop := rd.AddRecvReduceCopy(op.Dst.Rank, op.Src, op.Dst, op.StepsFromStart*2+1, op.StepsToEnd*2, op.RecvTB, op.Channel)
	rd.Match(sop, rop)
}
