package frontend

import (
	"fmt"
	"sort"
	"time"

	"github.com/zeebo/blake3"

	"github.com/quantarax/collectivec/internal/buffer"
	"github.com/quantarax/collectivec/internal/emit"
	"github.com/quantarax/collectivec/internal/ir"
	"github.com/quantarax/collectivec/internal/replicate"
	"github.com/quantarax/collectivec/internal/tbassign"
	"github.com/quantarax/collectivec/internal/validate"
)

// CompileResult is the outcome of one compile run: the emitted program, its
// content-addressed BuildID, and the (non-fatal) collective correctness
// oracle result, per SPEC_FULL.md §7 ("Collective.Check failures are
// non-fatal").
type CompileResult struct {
	Program *ir.Program
	Arena   *ir.Arena
	Buffers *buffer.Set
	BuildID string
	RunID   string
	CheckOK bool
}

// Compile lowers the program's chunk DAG through the full pipeline: rank
// DAG construction, peephole fusion, threadblock assignment, dependency
// inference, scratch layout, instance replication, and validation, per
// spec.md §4 end to end.
func (p *Program) Compile() (*CompileResult, error) {
	start := time.Now()
	if p.Logger != nil {
		p.Logger.CompileStarted(p.RunID, p.coll.Name(), p.numRanks)
	}
	if p.Metrics != nil {
		p.Metrics.RecordCompileStart()
	}

	result, err := p.compile()

	if p.Metrics != nil {
		p.Metrics.RecordCompileComplete(err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		if p.Logger != nil {
			p.Logger.ValidationFailed(p.RunID, err)
		}
		return nil, err
	}
	if p.Logger != nil {
		p.Logger.CompileCompleted(p.RunID, result.BuildID, time.Since(start), result.CheckOK)
	}
	return result, nil
}

func (p *Program) compile() (*CompileResult, error) {
	p.chunks.CompleteMetadata()

	rd, err := p.chunks.Lower(p.numRanks, p.buffers)
	if err != nil {
		return nil, fmt.Errorf("lowering chunk dag: %w", err)
	}
	rd.Fuse()
	if p.Logger != nil {
		// each fusion splices out exactly one op, marking it InstDelete
		rewrites := 0
		for _, id := range rd.Arena.All() {
			if rd.Arena.Get(id).Inst == ir.InstDelete {
				rewrites++
			}
		}
		p.Logger.FusionPassCompleted(p.RunID, "recv-send-chains", rewrites)
	}

	tbsByRank := make(map[int][]*ir.Threadblock, p.numRanks)
	rankChannelsBefore := make(map[int]int, p.numRanks)
	for rank := 0; rank < p.numRanks; rank++ {
		ops := rd.OpsForRank(rank)
		var tbs []*ir.Threadblock
		if p.Automatic {
			tbs = tbassign.Automatic(rd.Arena, rank, ops)
		} else {
			tbs, err = tbassign.Manual(rd.Arena, rank, ops)
			if err != nil {
				return nil, fmt.Errorf("threadblock assignment rank %d: %w", rank, err)
			}
		}
		tbassign.AssignSteps(rd.Arena, tbs)
		tbsByRank[rank] = tbs
		rankChannelsBefore[rank] = rd.NumChannels(rank)
		if p.Logger != nil {
			mode := "manual"
			if p.Automatic {
				mode = "automatic"
			}
			p.Logger.ThreadblockAssignmentCompleted(p.RunID, rank, len(tbs), mode)
		}
	}

	gpus := buildGpus(tbsByRank)
	rd.InferDependencies(gpus)

	buffer.AssignOffsets(p.buffers, p.Instances)

	if p.Instances > 1 {
		sizesByRank := make(map[int]replicate.Sizes, p.numRanks)
		for rank := 0; rank < p.numRanks; rank++ {
			sizesByRank[rank] = replicate.Sizes{
				InputLen:  len(p.buffers.Ranks[rank].Input),
				OutputLen: len(p.buffers.Ranks[rank].Output),
			}
		}
		tbsByRank = replicate.PlanAll(rd.Arena, tbsByRank, p.Instances, rankChannelsBefore, p.Policy, sizesByRank)
		gpus = buildGpus(tbsByRank)
	}

	p.rewriteScratchOffsets(rd.Arena, gpus)

	if err := validate.CheckCycles(rd.Arena, gpus); err != nil {
		return nil, err
	}
	if err := validate.CheckOrdering(rd.Arena, gpus); err != nil {
		return nil, err
	}

	prog := &ir.Program{
		Name:       p.Name,
		Collective: p.coll.Name(),
		Inplace:    p.coll.Inplace(),
		Protocol:   p.Protocol,
		Gpus:       gpus,
	}

	checkOK := p.coll.Check(p.buffers)
	if p.Metrics != nil {
		p.Metrics.RecordOracleCheck(checkOK)
	}

	return &CompileResult{
		Program: prog,
		Arena:   rd.Arena,
		Buffers: p.buffers,
		BuildID: p.buildID(),
		RunID:   p.RunID,
		CheckOK: checkOK,
	}, nil
}

func buildGpus(tbsByRank map[int][]*ir.Threadblock) []*ir.Gpu {
	ranks := make([]int, 0, len(tbsByRank))
	for rank := range tbsByRank {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	gpus := make([]*ir.Gpu, 0, len(ranks))
	for _, rank := range ranks {
		gpus = append(gpus, &ir.Gpu{Rank: rank, Threadblocks: tbsByRank[rank]})
	}
	return gpus
}

// rewriteScratchOffsets applies buffer.AssignOffsets' global scratch-region
// offsets to every op's scratch-buffer ref, per spec.md §4.8. Replication
// (if any) has already run, so a cloned op's instance is recovered from
// tb.ID modulo Instances; an unreplicated op's instance is always 0.
func (p *Program) rewriteScratchOffsets(arena *ir.Arena, gpus []*ir.Gpu) {
	for _, gpu := range gpus {
		rank := p.buffers.Ranks[gpu.Rank]
		for _, tb := range gpu.Threadblocks {
			inst := 0
			if p.Instances > 1 {
				inst = tb.ID % p.Instances
			}
			for _, id := range tb.Ops {
				op := arena.Get(id)
				for _, ref := range []*ir.ChunkRef{op.Src, op.Dst} {
					if ref == nil || ref.Buffer.Kind != ir.BufferScratch {
						continue
					}
					s := rank.EnsureScratch(ref.Buffer.Name)
					ref.Index = s.Offset + inst*s.InstanceSize() + ref.Index
				}
			}
		}
	}
}

// buildID content-addresses this compile: a blake3 digest of the program's
// identity plus its ordered front-end call log, per SPEC_FULL.md §4.11 —
// grounded on the teacher's chunker.ComputeManifest blake3 hashing.
func (p *Program) buildID() string {
	h := blake3.New()
	fmt.Fprintf(h, "%s|%s|%d|%s\n", p.Name, p.coll.Name(), p.Instances, p.Protocol)
	for _, c := range p.calls {
		fmt.Fprintf(h, "%s %+v %+v %d %d %d\n", c.Op, c.Src, c.Dst, c.SendTB, c.RecvTB, c.Channel)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Descriptor renders the compiled program, following SPEC_FULL.md §4.11's
// note that a cache hit must return a byte-identical descriptor to a cache
// miss that recompiles.
func Descriptor(result *CompileResult, nChunksPerLoop int) emit.Descriptor {
	return emit.Build(result.Arena, result.Program, nChunksPerLoop)
}
