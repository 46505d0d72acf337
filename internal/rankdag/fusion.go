package rankdag

import "github.com/quantarax/collectivec/internal/ir"

// Fuse runs the two peephole fusion passes from spec.md §4.5, repeatedly
// rewriting matched recv/send chains into single fused instructions until a
// pass makes no further change.
func (d *DAG) Fuse() {
	for d.optimizeRecvCopySend() {
	}
	for d.optimizeRecvReduceCopySendAndRecvReduceSend() {
	}
}

// optimizeRecvCopySend implements spec.md §4.5's recv-copy-send fusion: a
// recv whose sole successor is a send in the same threadblock, with the same
// count, whose source equals this recv's destination, fuses into a single
// recv_copy_send that receives from the recv's remote peer and forwards
// straight to the send's remote peer — no local buffer round-trip.
func (d *DAG) optimizeRecvCopySend() bool {
	changed := false
	for _, id := range d.Arena.All() {
		op := d.Arena.Get(id)
		if op.Inst != ir.InstRecv || len(op.Next) != 1 {
			continue
		}
		sendID := op.Next[0]
		send := d.Arena.Get(sendID)
		if send.Inst != ir.InstSend || len(send.Prev) != 1 || send.TB != op.TB {
			continue
		}
		if send.Src == nil || op.Dst == nil || *send.Src != *op.Dst {
			continue
		}

		op.Inst = ir.InstRecvCopySend
		op.Dst = send.Dst
		op.Match = append(op.Match, send.Match...)
		for _, m := range send.Match {
			replaceMatch(d.Arena.Get(m), sendID, id)
		}
		d.Arena.RemoveOp(sendID)
		changed = true
	}
	return changed
}

// optimizeRecvReduceCopySendAndRecvReduceSend implements spec.md §4.5's
// second pass: a recv_reduce_copy whose sole successor is a same-tb,
// same-count send fuses into recv_reduce_copy_send. If, after absorbing the
// send, the fused op's sole remaining successor is itself a recv (the value
// is immediately overwritten — S2's reverse-broadcast pattern), the locally
// written copy is dead weight, so the op demotes to the narrower
// recv_reduce_send.
func (d *DAG) optimizeRecvReduceCopySendAndRecvReduceSend() bool {
	changed := false
	for _, id := range d.Arena.All() {
		op := d.Arena.Get(id)
		if op.Inst != ir.InstRecvReduceCopy || len(op.Next) != 1 {
			continue
		}
		sendID := op.Next[0]
		send := d.Arena.Get(sendID)
		if send.Inst != ir.InstSend || len(send.Prev) != 1 || send.TB != op.TB {
			continue
		}
		if send.Src == nil || op.Dst == nil || *send.Src != *op.Dst {
			continue
		}

		demote := len(send.Next) == 1 && d.Arena.Get(send.Next[0]).Inst.IsRecv()

		op.Dst = send.Dst
		op.Match = append(op.Match, send.Match...)
		for _, m := range send.Match {
			replaceMatch(d.Arena.Get(m), sendID, id)
		}
		d.Arena.RemoveOp(sendID)

		if demote {
			op.Inst = ir.InstRecvReduceSend
		} else {
			op.Inst = ir.InstRecvReduceCopySend
		}
		changed = true
	}
	return changed
}

func replaceMatch(op *ir.Op, old, new ir.OpID) {
	for i, m := range op.Match {
		if m == old {
			op.Match[i] = new
		}
	}
}
