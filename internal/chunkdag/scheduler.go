package chunkdag

import "container/heap"

// scheduler orders ChunkOps for topological lowering. Where the teacher's
// transport.PriorityScheduler dispatches sends across three discrete
// priority classes (P0 > P1 > P2), lowering needs a fully ordered priority
// keyed by (steps_from_start, steps_to_end, src index) — spec.md §4.3 — so
// this is a proper binary min-heap (container/heap) instead of class
// buckets. Ties are broken by insertion order so compilation is
// reproducible independent of map iteration order upstream.
type scheduler struct {
	h schedHeap
}

type schedItem struct {
	id             ChunkOpID
	stepsFromStart int
	stepsToEnd     int
	srcIndex       int
	seq            int
}

func newScheduler() *scheduler { return &scheduler{} }

func (s *scheduler) len() int { return s.h.Len() }

// push snapshots the op's ordering key at push time. Lowering only pushes an
// op after CompleteMetadata has run, so StepsToEnd is already final.
func (s *scheduler) push(d *DAG, id ChunkOpID) {
	op := d.get(id)
	s.h.seqCounter++
	heap.Push(&s.h, schedItem{
		id:             id,
		stepsFromStart: op.StepsFromStart,
		stepsToEnd:     op.StepsToEnd,
		srcIndex:       op.Src.Index,
		seq:            s.h.seqCounter,
	})
}

func (s *scheduler) pop() ChunkOpID {
	return heap.Pop(&s.h).(schedItem).id
}

// schedHeap adapts scheduler to container/heap.Interface.
type schedHeap struct {
	items      []schedItem
	seqCounter int
}

func (h *schedHeap) Len() int { return len(h.items) }

func (h *schedHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.stepsFromStart != b.stepsFromStart {
		return a.stepsFromStart < b.stepsFromStart
	}
	if a.stepsToEnd != b.stepsToEnd {
		return a.stepsToEnd > b.stepsToEnd
	}
	if a.srcIndex != b.srcIndex {
		return a.srcIndex < b.srcIndex
	}
	return a.seq < b.seq
}

func (h *schedHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *schedHeap) Push(x any) { h.items = append(h.items, x.(schedItem)) }

func (h *schedHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
