// Package frontend implements the embedded algorithm-construction API from
// spec.md §4.1: a Program region entered by one script at a time, and a Ref
// handle exposing split/group/send/reduce. It also wires the full pipeline
// (chunk DAG → rank DAG → fusion → threadblock assignment → dependency
// inference → scratch layout → replication → validation → descriptor) into
// a single Program.Compile entry point, following the teacher's daemon
// session lifecycle (one active region, guarded by a mutex) described in
// SPEC_FULL.md §5.
package frontend

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quantarax/collectivec/internal/buffer"
	"github.com/quantarax/collectivec/internal/chunkdag"
	"github.com/quantarax/collectivec/internal/collective"
	"github.com/quantarax/collectivec/internal/config"
	"github.com/quantarax/collectivec/internal/ir"
	"github.com/quantarax/collectivec/internal/observability"
	"github.com/quantarax/collectivec/internal/replicate"
	"github.com/quantarax/collectivec/internal/topology"
)

// CallEntry records one front-end call, in order, for compile-cache keying
// (SPEC_FULL.md §4.11's replay log) and for diagnostics.
type CallEntry struct {
	Op                       string
	Src, Dst                 ir.ChunkRef
	SendTB, RecvTB, Channel  int
}

// Program is one collective-communication algorithm under construction.
type Program struct {
	Name      string
	Protocol  string
	Instances int
	Policy    replicate.Policy
	Automatic bool // threadblock policy: true = automatic, false = manual

	coll     collective.Collective
	topo     topology.Topology
	numRanks int

	buffers *buffer.Set
	chunks  *chunkdag.DAG
	calls   []CallEntry

	RunID string

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

var (
	regionMu sync.Mutex
	active   *Program
)

// New constructs a program and seeds its buffers via the collective
// adapter's InitBuffers, then registers one chunk-DAG start op per seeded
// input slot (spec.md §4.2: "one start op per seeded input chunk").
func New(name string, coll collective.Collective, topo topology.Topology, cfg *config.Config) (*Program, error) {
	if !ir.ValidProtocol(cfg.DefaultProtocol) {
		return nil, fmt.Errorf("%w: %s", ir.ErrUnknownProtocol, cfg.DefaultProtocol)
	}
	numRanks := topo.NumNodes()
	buffers := buffer.NewSet(numRanks)
	coll.InitBuffers(buffers)

	chunks := chunkdag.New()
	for rank, r := range buffers.Ranks {
		for idx := range r.Input {
			chunks.InitChunk(ir.ChunkRef{Rank: rank, Buffer: ir.Input(), Index: idx, Size: 1})
		}
	}

	p := &Program{
		Name:      name,
		Protocol:  cfg.DefaultProtocol,
		Instances: cfg.DefaultInstances,
		Policy:    replicate.Interleaved,
		Automatic: cfg.ThreadblockPolicy == config.PolicyAutomatic,
		coll:      coll,
		topo:      topo,
		numRanks:  numRanks,
		buffers:   buffers,
		chunks:    chunks,
		RunID:     uuid.New().String(),
	}
	return p, nil
}

// Enter binds p as the active program region. Entering while another region
// is active is the Structural error from spec.md §7/§5.
func Enter(p *Program) error {
	regionMu.Lock()
	defer regionMu.Unlock()
	if active != nil {
		return ir.ErrNestedProgram
	}
	active = p
	return nil
}

// Exit releases the active program region, if any.
func Exit() {
	regionMu.Lock()
	defer regionMu.Unlock()
	active = nil
}

// Build runs fn with p bound as the active region, always releasing it
// afterward, following the teacher's session-scoped defer pattern.
func Build(p *Program, fn func(*Program) error) error {
	if err := Enter(p); err != nil {
		return err
	}
	defer Exit()
	return fn(p)
}

// Current returns the active program region, or ErrNoActiveProgram.
func Current() (*Program, error) {
	regionMu.Lock()
	defer regionMu.Unlock()
	if active == nil {
		return nil, ir.ErrNoActiveProgram
	}
	return active, nil
}

func (p *Program) record(e CallEntry) {
	p.calls = append(p.calls, e)
}

// Ref is a user-facing handle over a ChunkRef bound to an owning program.
type Ref struct {
	prog    *Program
	ref     ir.ChunkRef
	missing []bool // per-slot hole tracking, populated by Group
}

func newRef(prog *Program, ref ir.ChunkRef) Ref {
	return Ref{prog: prog, ref: ref, missing: make([]bool, ref.Size)}
}

// Input returns a Ref over a slice of rank's input buffer.
func (p *Program) Input(rank, index, size int) Ref {
	return newRef(p, ir.ChunkRef{Rank: rank, Buffer: ir.Input(), Index: index, Size: size})
}

// Output returns a Ref over a slice of rank's output buffer.
func (p *Program) Output(rank, index, size int) Ref {
	return newRef(p, ir.ChunkRef{Rank: rank, Buffer: ir.Output(), Index: index, Size: size})
}

// Ref returns the underlying ChunkRef.
func (r Ref) Ref() ir.ChunkRef { return r.ref }

func (r Ref) hasMissing() bool {
	for _, m := range r.missing {
		if m {
			return true
		}
	}
	return false
}

// Split returns n non-overlapping sub-refs, per spec.md §4.1.
func (r Ref) Split(n int) ([]Ref, error) {
	if n <= 0 || r.ref.Size%n != 0 {
		return nil, fmt.Errorf("%w: ref size %d not divisible by %d", ir.ErrNotDivisor, r.ref.Size, n)
	}
	each := r.ref.Size / n
	out := make([]Ref, n)
	for i := 0; i < n; i++ {
		sub := ir.ChunkRef{Rank: r.ref.Rank, Buffer: r.ref.Buffer, Index: r.ref.Index + i*each, Size: each}
		rf := newRef(r.prog, sub)
		copy(rf.missing, r.missing[i*each:(i+1)*each])
		out[i] = rf
	}
	return out, nil
}

// Group returns a Ref spanning the union of r and other, which must share
// (rank, buffer). Slots covered by neither input become holes in the
// result, tracked in the "missing" set per spec.md §4.1.
func (r Ref) Group(other Ref) (Ref, error) {
	if r.ref.Rank != other.ref.Rank || r.ref.Buffer != other.ref.Buffer {
		return Ref{}, fmt.Errorf("%w: group requires same rank and buffer", ir.ErrBufferMismatch)
	}
	lo := minInt(r.ref.Index, other.ref.Index)
	hi := maxInt(r.ref.End(), other.ref.End())
	out := newRef(r.prog, ir.ChunkRef{Rank: r.ref.Rank, Buffer: r.ref.Buffer, Index: lo, Size: hi - lo})
	for i := range out.missing {
		out.missing[i] = true
	}
	markCovered(&out, r)
	markCovered(&out, other)
	return out, nil
}

func markCovered(out *Ref, src Ref) {
	for i := 0; i < src.ref.Size; i++ {
		pos := src.ref.Index + i - out.ref.Index
		if !src.missing[i] {
			out.missing[pos] = false
		}
	}
}

// Send instantiates a send from r to (dstRank, dstBuf, dstIndex), per
// spec.md §4.1. dst == r's rank lowers to a local copy at chunk-DAG level
// (handled by chunkdag.DAG.AddSend/Lower); dstIndex == -1 on a scratch
// buffer allocates the next slab.
func (r Ref) Send(dstRank int, dstBuf ir.BufferRef, dstIndex, sendtb, recvtb, ch int) (Ref, error) {
	if r.hasMissing() {
		return Ref{}, fmt.Errorf("%w: send with unfilled holes", ir.ErrMissingSet)
	}
	if dstRank != r.ref.Rank && !r.prog.topo.Link(r.ref.Rank, dstRank) {
		return Ref{}, fmt.Errorf("%w: rank %d -> %d", ir.ErrNoLink, r.ref.Rank, dstRank)
	}
	if dstBuf.Kind == ir.BufferScratch && dstIndex == -1 {
		dstIndex = r.prog.allocScratch(dstRank, dstBuf.Name, r.ref.Size)
	}
	dst := ir.ChunkRef{Rank: dstRank, Buffer: dstBuf, Index: dstIndex, Size: r.ref.Size}
	r.prog.record(CallEntry{Op: "send", Src: r.ref, Dst: dst, SendTB: sendtb, RecvTB: recvtb, Channel: ch})
	if _, err := r.prog.chunks.AddSend(r.ref, dst, sendtb, recvtb, ch); err != nil {
		return Ref{}, err
	}
	r.prog.shadowMove(r.ref, dst, false)
	return newRef(r.prog, dst), nil
}

// Reduce is like Send, but combines the destination's existing value with
// the incoming one via ReduceChunk semantics, per spec.md §4.1.
func (r Ref) Reduce(dstRank int, dstBuf ir.BufferRef, dstIndex, sendtb, recvtb, ch int) (Ref, error) {
	if r.hasMissing() {
		return Ref{}, fmt.Errorf("%w: reduce with unfilled holes", ir.ErrMissingSet)
	}
	if dstRank != r.ref.Rank && !r.prog.topo.Link(r.ref.Rank, dstRank) {
		return Ref{}, fmt.Errorf("%w: rank %d -> %d", ir.ErrNoLink, r.ref.Rank, dstRank)
	}
	if dstBuf.Kind == ir.BufferScratch && dstIndex == -1 {
		dstIndex = r.prog.allocScratch(dstRank, dstBuf.Name, r.ref.Size)
	}
	dst := ir.ChunkRef{Rank: dstRank, Buffer: dstBuf, Index: dstIndex, Size: r.ref.Size}
	r.prog.record(CallEntry{Op: "reduce", Src: r.ref, Dst: dst, SendTB: sendtb, RecvTB: recvtb, Channel: ch})
	if _, err := r.prog.chunks.AddReduce(r.ref, dst, sendtb, recvtb, ch); err != nil {
		return Ref{}, err
	}
	r.prog.shadowMove(r.ref, dst, true)
	return newRef(r.prog, dst), nil
}

// GetOriginRank/GetOriginIndex inspect provenance of a size-1 ref.
func (r Ref) GetOriginRank() int { return r.prog.shadowGet(r.ref).chunkOrReduceOrigin().OriginRank }
func (r Ref) GetOriginIndex() int {
	return r.prog.shadowGet(r.ref).chunkOrReduceOrigin().OriginIndex
}

// GetDstRank/GetDstIndex inspect the destination hint of a size-1 ref's
// chunk, per spec.md §4.1.
func (r Ref) GetDstRank() int { return r.prog.shadowGet(r.ref).chunkOrReduceOrigin().DstRank }
func (r Ref) GetDstIndex() int { return r.prog.shadowGet(r.ref).chunkOrReduceOrigin().DstIndex }

func (v shadowValue) chunkOrReduceOrigin() ir.Chunk {
	if v.val.IsReduce && len(v.val.Reduce.Chunks) > 0 {
		return v.val.Reduce.Chunks[0]
	}
	return v.val.Chunk
}

type shadowValue struct{ val buffer.Value }

func (p *Program) shadowGet(ref ir.ChunkRef) shadowValue {
	return shadowValue{val: p.buffers.Ranks[ref.Rank].Get(ref.Buffer, ref.Index)}
}

func (p *Program) allocScratch(rank int, name string, size int) int {
	r := p.buffers.Ranks[rank]
	s := r.EnsureScratch(name)
	start := len(s.Values)
	for i := 0; i < size; i++ {
		s.Append(buffer.Value{})
	}
	return start
}

// shadowMove propagates the shadow buffer simulation for a send/reduce,
// per spec.md §4.1: "simultaneously updates a shadow buffer simulation so
// subsequent refs see the correct provenance."
func (p *Program) shadowMove(src, dst ir.ChunkRef, reduceOp bool) {
	srcRank := p.buffers.Ranks[src.Rank]
	dstRank := p.buffers.Ranks[dst.Rank]
	for i := 0; i < src.Size; i++ {
		v := srcRank.Get(src.Buffer, src.Index+i)
		if reduceOp {
			existing := dstRank.Get(dst.Buffer, dst.Index+i)
			v = existing.ReduceWith(v)
		}
		dstRank.Set(dst.Buffer, dst.Index+i, v)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
