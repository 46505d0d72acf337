// Package validate implements the final validity checks from spec.md
// §4.10: threadblock-level dependency-cycle detection and send/recv
// ordering consistency between matched pairs.
package validate

import (
	"fmt"
	"sort"

	"github.com/quantarax/collectivec/internal/bitset"
	"github.com/quantarax/collectivec/internal/ir"
)

// CheckCycles runs a DFS over the threadblock graph induced by cross-tb
// depends edges across every gpu, reporting the first back edge found as a
// fatal structural error (spec.md §4.10, §8 property 4).
func CheckCycles(arena *ir.Arena, gpus []*ir.Gpu) error {
	tbByOp := make(map[ir.OpID]int) // op -> global tb key (rank*bigPrime + tb.ID), see tbKey
	adj := make(map[int]map[int]bool)

	for _, gpu := range gpus {
		for _, tb := range gpu.Threadblocks {
			key := tbKey(gpu.Rank, tb.ID)
			if adj[key] == nil {
				adj[key] = make(map[int]bool)
			}
			for _, id := range tb.Ops {
				tbByOp[id] = key
			}
		}
	}
	for _, gpu := range gpus {
		for _, tb := range gpu.Threadblocks {
			from := tbKey(gpu.Rank, tb.ID)
			for _, id := range tb.Ops {
				op := arena.Get(id)
				for _, dep := range op.Depends {
					to := tbByOp[dep]
					if to != from {
						adj[from][to] = true
					}
				}
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int)
	var dfs func(node int) error
	dfs = func(node int) error {
		color[node] = gray
		for next := range adj[node] {
			switch color[next] {
			case gray:
				return fmt.Errorf("%w: threadblock %d", ir.ErrDependencyCycle, next)
			case white:
				if err := dfs(next); err != nil {
					return err
				}
			}
		}
		color[node] = black
		return nil
	}
	for node := range adj {
		if color[node] == white {
			if err := dfs(node); err != nil {
				return err
			}
		}
	}
	return nil
}

func tbKey(rank, tbID int) int { return rank*1_000_003 + tbID }

// CheckOrdering verifies, for every matched send/recv pair, that both
// threadblocks exist, that the pairing is mutual, and that the relative
// order of matched pairs sharing a channel does not contradict the
// send-before-recv invariant: a channel is a FIFO link, so if one send
// precedes another (by step) in a sending threadblock, their matched recvs
// must appear in that same relative order in the receiving threadblock
// (spec.md §4.10, §8 property 3).
func CheckOrdering(arena *ir.Arena, gpus []*ir.Gpu) error {
	located := bitset.New(arena.Len())
	for _, gpu := range gpus {
		for _, tb := range gpu.Threadblocks {
			for _, id := range tb.Ops {
				located.Add(int(id))
			}
		}
	}

	for _, gpu := range gpus {
		for _, tb := range gpu.Threadblocks {
			for _, id := range tb.Ops {
				op := arena.Get(id)
				if !op.Inst.IsSend() && !op.Inst.IsRecv() {
					continue
				}
				if len(op.Match) == 0 {
					return fmt.Errorf("%w: op %d (rank %d, tb %d)", ir.ErrUnmatchedSendRecv, id, op.Rank, tb.ID)
				}
				for _, m := range op.Match {
					if !located.Has(int(m)) {
						return fmt.Errorf("%w: op %d's match %d is not placed in any threadblock", ir.ErrUnmatchedSendRecv, id, m)
					}
					partner := arena.Get(m)
					if !containsID(partner.Match, id) {
						return fmt.Errorf("%w: op %d and %d do not mutually match", ir.ErrUnmatchedSendRecv, id, m)
					}
				}
			}
		}
	}

	return checkChannelOrder(arena, gpus)
}

// channelKey identifies one directed channel link: a sender rank, a
// receiver rank, and the channel number they share.
type channelKey struct {
	fromRank, toRank, channel int
}

type channelEdge struct {
	sendStep, recvStep int
}

// checkChannelOrder groups matched pairs by their directed channel and
// verifies that sorting by send step yields a non-decreasing recv step
// sequence — a channel delivers in the order it was given, so two sends
// cannot be observed by their recvs out of relative order.
//
// Only plain (unfused) Send/Recv-family ops are unambiguous about which
// side of a Match edge they play: a fused op (recv_copy_send and kin) is
// simultaneously the recv side of its upstream transfer and the send side
// of its downstream transfer, and those two transfers are pinned to be
// immediately adjacent by the fusion precondition itself (same
// threadblock, the send being the recv's sole successor and the recv the
// send's sole predecessor), so they need no separate ordering check.
func checkChannelOrder(arena *ir.Arena, gpus []*ir.Gpu) error {
	edges := make(map[channelKey][]channelEdge)
	for _, gpu := range gpus {
		for _, tb := range gpu.Threadblocks {
			for _, id := range tb.Ops {
				op := arena.Get(id)
				if op.Inst != ir.InstSend {
					continue
				}
				for _, m := range op.Match {
					partner := arena.Get(m)
					if partner.Inst != ir.InstRecv && partner.Inst != ir.InstRecvReduceCopy {
						continue
					}
					key := channelKey{fromRank: op.Rank, toRank: partner.Rank, channel: op.Channel}
					edges[key] = append(edges[key], channelEdge{sendStep: op.Step, recvStep: partner.Step})
				}
			}
		}
	}

	for key, es := range edges {
		sort.Slice(es, func(i, j int) bool { return es[i].sendStep < es[j].sendStep })
		for i := 1; i < len(es); i++ {
			if es[i].recvStep < es[i-1].recvStep {
				return fmt.Errorf("%w: rank %d -> %d channel %d: send step %d observed before send step %d",
					ir.ErrChannelReordered, key.fromRank, key.toRank, key.channel, es[i].sendStep, es[i-1].sendStep)
			}
		}
	}
	return nil
}

func containsID(ids []ir.OpID, target ir.OpID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
