// Package tbassign groups a rank's ops into threadblocks, per spec.md §4.6:
// either honoring user-supplied (sendtb, recvtb, channel) triples verbatim
// ("manual"), or deriving a baseline set of threadblocks from each
// (peer, channel, direction) key actually used ("automatic").
package tbassign

import (
	"fmt"
	"sort"

	"github.com/quantarax/collectivec/internal/ir"
)

// peerKey identifies one baseline threadblock: the remote peer (or
// ir.NoPeer for a local copy/reduce), the channel, and whether this
// threadblock carries the rank's outbound or inbound half of that
// peer/channel pair.
type peerKey struct {
	peer      int
	channel   int
	direction direction
}

type direction int

const (
	dirOut direction = iota
	dirIn
	dirLocal
)

// Manual assigns ops to threadblocks using the (TB, Channel) values already
// carried on each op (set verbatim from user-supplied sendtb/recvtb/ch),
// verifying that every threadblock's send/recv peer stays fixed across all
// of its assigned ops.
func Manual(arena *ir.Arena, rank int, ops []ir.OpID) ([]*ir.Threadblock, error) {
	byID := make(map[int]*ir.Threadblock)
	var order []int
	for _, id := range ops {
		op := arena.Get(id)
		tb, ok := byID[op.TB]
		if !ok {
			tb = ir.NewThreadblock(op.TB, op.Channel)
			byID[op.TB] = tb
			order = append(order, op.TB)
		}
		if op.Channel != tb.Channel {
			return nil, fmt.Errorf("%w: rank %d tb %d carries channels %d and %d", ir.ErrPeerConflict, rank, op.TB, tb.Channel, op.Channel)
		}
		if err := bindPeers(tb, op); err != nil {
			return nil, err
		}
		tb.Ops = append(tb.Ops, id)
	}
	sort.Ints(order)
	out := make([]*ir.Threadblock, len(order))
	for i, id := range order {
		out[i] = byID[id]
	}
	return out, nil
}

func bindPeers(tb *ir.Threadblock, op *ir.Op) error {
	if op.Inst.IsSend() {
		peer := op.Dst.Rank
		if tb.SendPeer == ir.NoPeer {
			tb.SendPeer = peer
		} else if tb.SendPeer != peer {
			return fmt.Errorf("%w: tb %d already sends to %d, op wants %d", ir.ErrPeerConflict, tb.ID, tb.SendPeer, peer)
		}
	}
	if op.Inst.IsRecv() {
		peer := op.Src.Rank
		if tb.RecvPeer == ir.NoPeer {
			tb.RecvPeer = peer
		} else if tb.RecvPeer != peer {
			return fmt.Errorf("%w: tb %d already recvs from %d, op wants %d", ir.ErrPeerConflict, tb.ID, tb.RecvPeer, peer)
		}
	}
	return nil
}

// Automatic assigns ops to a baseline set of threadblocks, one per
// (peer, channel, direction) key actually used on rank, per spec.md §4.6.
// Copies and local reduces get their own threadblock per channel, keyed by
// (-1, -1) peers. Ops are appended in the order they are given; callers
// must supply ops already in scheduling order so Threadblock.Ops reflects
// final step order once IDs are reassigned.
func Automatic(arena *ir.Arena, rank int, ops []ir.OpID) []*ir.Threadblock {
	keyOf := func(op *ir.Op) peerKey {
		switch {
		case op.Inst.IsSend() && op.Inst.IsRecv():
			// fused ops (rcs/rrcs/rrs) carry both directions; key by the
			// outbound peer since that is what later binds the tb's identity.
			return peerKey{peer: op.Dst.Rank, channel: op.Channel, direction: dirOut}
		case op.Inst.IsSend():
			return peerKey{peer: op.Dst.Rank, channel: op.Channel, direction: dirOut}
		case op.Inst.IsRecv():
			return peerKey{peer: op.Src.Rank, channel: op.Channel, direction: dirIn}
		default:
			return peerKey{peer: ir.NoPeer, channel: op.Channel, direction: dirLocal}
		}
	}

	byKey := make(map[peerKey]*ir.Threadblock)
	var order []peerKey
	nextID := 0
	for _, id := range ops {
		op := arena.Get(id)
		key := keyOf(op)
		tb, ok := byKey[key]
		if !ok {
			tb = ir.NewThreadblock(nextID, key.channel)
			nextID++
			byKey[key] = tb
			order = append(order, key)
		}
		bindPeers(tb, op)
		op.TB = tb.ID
		tb.Ops = append(tb.Ops, id)
	}

	out := make([]*ir.Threadblock, len(order))
	for i, key := range order {
		out[i] = byKey[key]
	}
	return out
}

// AssignSteps sets each op's final Step to its index within tb.Ops, per
// spec.md §4.6: "within a threadblock, step is the op's final index in
// ascending order after all scheduling decisions."
func AssignSteps(arena *ir.Arena, tbs []*ir.Threadblock) {
	for _, tb := range tbs {
		for i, id := range tb.Ops {
			arena.Get(id).Step = i
		}
	}
}
