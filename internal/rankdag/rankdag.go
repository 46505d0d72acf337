// Package rankdag builds the per-rank operation DAG from spec.md §4.4: nodes
// are primitive instructions; edges are slot-based (buffer-index)
// read-after-write / write-after-write dependencies. It also carries the
// peephole fusion passes (fusion.go), dependency inference and pruning
// (deps.go), and forward traversal helpers (traverse.go).
package rankdag

import (
	"sort"

	"github.com/quantarax/collectivec/internal/buffer"
	"github.com/quantarax/collectivec/internal/ir"
)

// DAG is the set of per-rank operation graphs for one compiled program.
type DAG struct {
	Arena   *ir.Arena
	Buffers *buffer.Set
	NumRanks int

	// roots maps each slot ever touched to the op that first referenced it,
	// per spec.md §4.4 ("operations[slot]: the root op that first
	// referenced that slot"). Traversals walk forward from this root.
	roots map[ir.Slot]ir.OpID
	slots []ir.Slot // insertion order, for deterministic iteration

	// channelsUsed tracks the highest channel number seen per rank, needed
	// by replication (spec.md §4.9: "rank_channels·i + channel").
	channelsUsed []int
}

// New returns an empty rank DAG over numRanks ranks.
func New(numRanks int, buffers *buffer.Set) *DAG {
	d := &DAG{
		Arena:        ir.NewArena(),
		Buffers:      buffers,
		NumRanks:     numRanks,
		roots:        make(map[ir.Slot]ir.OpID),
		channelsUsed: make([]int, numRanks),
	}
	return d
}

func slotsOf(ref ir.ChunkRef) []ir.Slot {
	out := make([]ir.Slot, ref.Size)
	for i := 0; i < ref.Size; i++ {
		out[i] = ir.Slot{Rank: ref.Rank, Buffer: ref.Buffer, Index: ref.Index + i}
	}
	return out
}

func (d *DAG) touchChannel(rank, ch int) {
	if ch > d.channelsUsed[rank] {
		d.channelsUsed[rank] = ch
	}
}

// NumChannels returns 1 + the highest channel number used on rank, the
// per-rank channel count replication needs.
func (d *DAG) NumChannels(rank int) int { return d.channelsUsed[rank] + 1 }

// AddStart registers the phantom root op for a seeded chunk, per spec.md
// §4.3: "emit a sentinel start op on the destination rank's slot; used as a
// phantom root."
func (d *DAG) AddStart(rank int, ref ir.ChunkRef) ir.OpID {
	id := d.Arena.New(ir.Op{Inst: ir.InstStart, Rank: rank, Src: refPtr(ref), Dst: refPtr(ref), TB: -1, Channel: -1})
	for _, s := range slotsOf(ref) {
		d.roots[s] = id
		d.slots = append(d.slots, s)
	}
	return id
}

func refPtr(r ir.ChunkRef) *ir.ChunkRef { return &r }

// linkSources links op as the successor of the last writer of every slot in
// src (spec.md §4.4's add_send/add_copy/add_reduce "source slots" half).
// Every last writer is collected before any edge is added, so a later slot's
// search never reaches op through an edge added for an earlier slot.
func (d *DAG) linkSources(op ir.OpID, src ir.ChunkRef) {
	seen := make(map[ir.OpID]bool)
	var prevs []ir.OpID
	for _, s := range slotsOf(src) {
		prev := d.findLastRecv(s)
		if !seen[prev] {
			seen[prev] = true
			prevs = append(prevs, prev)
		}
	}
	for _, prev := range prevs {
		d.Arena.Link(prev, op)
	}
}

// linkDests links op as the successor of every current leaf op touching a
// slot in dst, or registers op as that slot's root if unseen (spec.md §4.4's
// add_recv/add_recv_reduce_copy/add_copy/add_reduce "destination slots"
// half).
func (d *DAG) linkDests(op ir.OpID, dst ir.ChunkRef) {
	seen := make(map[ir.OpID]bool)
	for _, s := range slotsOf(dst) {
		if _, ok := d.roots[s]; ok {
			for _, leaf := range d.findLastOps(s) {
				if leaf != op && !seen[leaf] {
					seen[leaf] = true
					d.Arena.Link(leaf, op)
				}
			}
		} else {
			d.roots[s] = op
			d.slots = append(d.slots, s)
		}
	}
}

// AddSend records a send op on rank, linking it after the last writer of
// each source slot (spec.md §4.4's add_send).
func (d *DAG) AddSend(rank int, src, dst ir.ChunkRef, chunkStep, priority, tb, ch int) ir.OpID {
	d.touchChannel(rank, ch)
	op := d.Arena.New(ir.Op{Inst: ir.InstSend, Rank: rank, Src: refPtr(src), Dst: refPtr(dst),
		ChunkStep: chunkStep, Priority: priority, TB: tb, Channel: ch})
	d.linkSources(op, src)
	return op
}

// AddRecv records a recv op, linking it after the current leaves of every
// destination slot (spec.md §4.4's add_recv).
func (d *DAG) AddRecv(rank int, src, dst ir.ChunkRef, chunkStep, priority, tb, ch int) ir.OpID {
	d.touchChannel(rank, ch)
	op := d.Arena.New(ir.Op{Inst: ir.InstRecv, Rank: rank, Src: refPtr(src), Dst: refPtr(dst),
		ChunkStep: chunkStep, Priority: priority, TB: tb, Channel: ch})
	d.linkDests(op, dst)
	return op
}

// AddRecvReduceCopy records a recv-reduce-copy op: a recv that additionally
// combines with the slot's existing value, so it links after the source
// slot's... no, it is cross-rank (the source lives on the peer), so — like
// AddRecv — only the destination side is local; linking is identical to
// AddRecv (spec.md §4.4).
func (d *DAG) AddRecvReduceCopy(rank int, src, dst ir.ChunkRef, chunkStep, priority, tb, ch int) ir.OpID {
	d.touchChannel(rank, ch)
	op := d.Arena.New(ir.Op{Inst: ir.InstRecvReduceCopy, Rank: rank, Src: refPtr(src), Dst: refPtr(dst),
		ChunkStep: chunkStep, Priority: priority, TB: tb, Channel: ch})
	d.linkDests(op, dst)
	return op
}

// AddCopy records a local copy op, combining last-writer linking on the
// source range with all-leaves linking on the destination range (spec.md
// §4.4's add_copy).
func (d *DAG) AddCopy(rank int, src, dst ir.ChunkRef, chunkStep, priority, tb int) ir.OpID {
	op := d.Arena.New(ir.Op{Inst: ir.InstCopy, Rank: rank, Src: refPtr(src), Dst: refPtr(dst),
		ChunkStep: chunkStep, Priority: priority, TB: tb, Channel: -1})
	d.linkSources(op, src)
	d.linkDests(op, dst)
	return op
}

// AddLocalReduce records a local reduce op (same-rank reduce), per spec.md
// §4.4's add_reduce.
func (d *DAG) AddLocalReduce(rank int, src, dst ir.ChunkRef, chunkStep, priority, tb int) ir.OpID {
	op := d.Arena.New(ir.Op{Inst: ir.InstReduce, Rank: rank, Src: refPtr(src), Dst: refPtr(dst),
		ChunkStep: chunkStep, Priority: priority, TB: tb, Channel: -1})
	d.linkSources(op, src)
	d.linkDests(op, dst)
	return op
}

// Match cross-links a send and its paired recv-family op, per spec.md §3/§4.3.
func (d *DAG) Match(send, recv ir.OpID) {
	d.Arena.Get(send).Match = append(d.Arena.Get(send).Match, recv)
	d.Arena.Get(recv).Match = append(d.Arena.Get(recv).Match, send)
}

// FreezeAdjacency is a no-op placeholder kept for symmetry with the
// source's convert_set_list: this implementation stores Prev/Next as slices
// from the start (via ir.Arena), so there is no separate set→list
// conversion pass to run.
func (d *DAG) FreezeAdjacency() {}

// AllOps returns every op ID ever allocated, in allocation order.
func (d *DAG) AllOps() []ir.OpID { return d.Arena.All() }

// OpsForRank returns the live (non-deleted) op IDs belonging to rank, sorted
// into scheduling order per spec.md §3 (chunk_step asc, priority desc,
// src.index asc).
func (d *DAG) OpsForRank(rank int) []ir.OpID {
	var out []ir.OpID
	for _, id := range d.Arena.All() {
		op := d.Arena.Get(id)
		if op.Rank == rank && op.Inst != ir.InstDelete {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return ir.Less(d.Arena.Get(out[i]), d.Arena.Get(out[j]))
	})
	return out
}
