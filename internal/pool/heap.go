package pool

import "container/heap"

// priorityHeap orders arena slot indices by descending priority, with
// ties broken by ascending ingest timestamp then ascending fingerprint
// (spec §4.2's deterministic tie-break, applied here too since
// peek_best/remove_highest share the same ordering). It implements
// container/heap.Interface directly over the pool's arena so no
// entries are copied.
type priorityHeap struct {
	idx   []uint32
	arena []slotEntry
}

func (h *priorityHeap) Len() int { return len(h.idx) }

func (h *priorityHeap) Less(i, j int) bool {
	a := &h.arena[h.idx[i]].entry
	b := &h.arena[h.idx[j]].entry
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.IngestNS != b.IngestNS {
		return a.IngestNS < b.IngestNS
	}
	return a.fingerprint < b.fingerprint
}

func (h *priorityHeap) Swap(i, j int) {
	h.idx[i], h.idx[j] = h.idx[j], h.idx[i]
	h.arena[h.idx[i]].heapPos = i
	h.arena[h.idx[j]].heapPos = j
}

func (h *priorityHeap) Push(x any) {
	ai := x.(uint32)
	h.arena[ai].heapPos = len(h.idx)
	h.idx = append(h.idx, ai)
}

func (h *priorityHeap) Pop() any {
	n := len(h.idx)
	ai := h.idx[n-1]
	h.idx = h.idx[:n-1]
	h.arena[ai].heapPos = -1
	return ai
}

// removeAt removes the arena index currently at heap position pos.
func (h *priorityHeap) removeAt(pos int) {
	heap.Remove(h, pos)
}

// push inserts an arena index into the heap.
func (h *priorityHeap) push(ai uint32) {
	heap.Push(h, ai)
}

// peek returns the arena index at the top of the heap without
// removing it.
func (h *priorityHeap) peek() (uint32, bool) {
	if len(h.idx) == 0 {
		return 0, false
	}
	return h.idx[0], true
}
