// Package emit renders a compiled ir.Program into the descriptor tree from
// spec.md §6: root attributes name/proto/nchannels/nchunksperloop/ngpus/
// coll/inplace; gpu children; tb grandchildren; step leaves. Encoder turns a
// Descriptor into bytes for tests and the CLI.
package emit

import (
	"encoding/json"

	"github.com/quantarax/collectivec/internal/ir"
)

// Step is one leaf of the descriptor tree, corresponding to a single op.
type Step struct {
	S       int    `json:"s"`
	Type    string `json:"type"`
	SrcBuf  string `json:"srcbuf,omitempty"`
	SrcOff  int    `json:"srcoff"`
	DstBuf  string `json:"dstbuf,omitempty"`
	DstOff  int    `json:"dstoff"`
	Cnt     int    `json:"cnt"`
	DepID   int    `json:"depid"`
	Deps    int    `json:"deps"`
	HasDep  bool   `json:"hasdep"`
}

// Threadblock is one grandchild of the descriptor tree.
type Threadblock struct {
	ID   int    `json:"id"`
	Send int    `json:"send"`
	Recv int    `json:"recv"`
	Chan int    `json:"chan"`
	Steps []Step `json:"steps"`
}

// Gpu is one child of the descriptor tree.
type Gpu struct {
	ID       int           `json:"id"`
	IChunks  int           `json:"i_chunks"`
	OChunks  int           `json:"o_chunks"`
	SChunks  int           `json:"s_chunks"`
	Threadblocks []Threadblock `json:"tb"`
}

// Descriptor is the root of the emitted artifact tree.
type Descriptor struct {
	Name           string `json:"name"`
	Proto          string `json:"proto"`
	NChannels      int    `json:"nchannels"`
	NChunksPerLoop int    `json:"nchunksperloop"`
	NGpus          int    `json:"ngpus"`
	Coll           string `json:"coll"`
	Inplace        bool   `json:"inplace"`
	Gpus           []Gpu  `json:"gpu"`
}

// bufCode maps an ir.BufferKind to the descriptor's single-letter buffer
// code from spec.md §6 ("i, o, s").
func bufCode(k ir.BufferKind) string {
	switch k {
	case ir.BufferInput:
		return "i"
	case ir.BufferOutput:
		return "o"
	default:
		return "s"
	}
}

// Build renders a compiled program into its descriptor tree. nChunksPerLoop
// is the chunk count the caller split its collective's buffers into (the
// loop unit the schedule repeats), carried through unchanged from the
// front-end's split policy; nChannels is the max channel index used plus
// one.
func Build(arena *ir.Arena, prog *ir.Program, nChunksPerLoop int) Descriptor {
	d := Descriptor{
		Name:           prog.Name,
		Proto:          prog.Protocol,
		NChunksPerLoop: nChunksPerLoop,
		NGpus:          len(prog.Gpus),
		Coll:           prog.Collective,
		Inplace:        prog.Inplace,
	}

	maxChannel := -1
	for _, gpu := range prog.Gpus {
		g := Gpu{ID: gpu.Rank}
		for _, tb := range gpu.Threadblocks {
			if tb.Channel > maxChannel {
				maxChannel = tb.Channel
			}
			etb := Threadblock{ID: tb.ID, Send: tb.SendPeer, Recv: tb.RecvPeer, Chan: tb.Channel}
			for _, opID := range tb.Ops {
				op := arena.Get(opID)
				step := stepOf(op)
				etb.Steps = append(etb.Steps, step)
				countChunks(op, &g)
			}
			g.Threadblocks = append(g.Threadblocks, etb)
		}
		d.Gpus = append(d.Gpus, g)
	}
	d.NChannels = maxChannel + 1
	return d
}

func stepOf(op *ir.Op) Step {
	s := Step{S: op.Step, Type: op.Inst.Code(), Cnt: op.Count()}
	if op.Src != nil {
		s.SrcBuf = bufCode(op.Src.Buffer.Kind)
		s.SrcOff = op.Src.Index
	}
	if op.Dst != nil {
		s.DstBuf = bufCode(op.Dst.Buffer.Kind)
		s.DstOff = op.Dst.Index
	}
	s.Deps = len(op.Depends)
	s.HasDep = len(op.Depends) > 0
	if s.HasDep {
		s.DepID = int(op.Depends[0])
	} else {
		s.DepID = -1
	}
	return s
}

// countChunks raises the gpu descriptor's i_chunks/o_chunks/s_chunks to the
// end index (index + size) of each ref this op touches in that buffer, so
// each count ends up one past the highest slot used, per spec.md §6.
func countChunks(op *ir.Op, g *Gpu) {
	for _, ref := range []*ir.ChunkRef{op.Src, op.Dst} {
		if ref == nil {
			continue
		}
		switch ref.Buffer.Kind {
		case ir.BufferInput:
			if ref.End() > g.IChunks {
				g.IChunks = ref.End()
			}
		case ir.BufferOutput:
			if ref.End() > g.OChunks {
				g.OChunks = ref.End()
			}
		case ir.BufferScratch:
			if ref.End() > g.SChunks {
				g.SChunks = ref.End()
			}
		}
	}
}

// Encoder renders a Descriptor to bytes.
type Encoder interface {
	Encode(d Descriptor) ([]byte, error)
}

// JSONEncoder is the reference Encoder used by tests and the CLI.
type JSONEncoder struct {
	Indent bool
}

func (e JSONEncoder) Encode(d Descriptor) ([]byte, error) {
	if e.Indent {
		return json.MarshalIndent(d, "", "  ")
	}
	return json.Marshal(d)
}
