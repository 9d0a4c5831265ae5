package runtime

import "container/heap"

// BrainId is the runtime-assigned, monotonically increasing identifier for
// one added model. Never reused within the lifetime of a Runtime.
type BrainId uint16

// ticket is one entry in the fairness queue: lower sequence means the
// model was executed (or added) longer ago, and so has higher priority.
type ticket struct {
	sequence uint64
	brain    BrainId
}

// ticketHeap is a min-heap over tickets ordered by ascending sequence,
// mirroring how a deterministic event queue orders work by timestamp.
type ticketHeap []ticket

func newTicketHeap() *ticketHeap {
	h := &ticketHeap{}
	heap.Init(h)
	return h
}

func (h ticketHeap) Len() int            { return len(h) }
func (h ticketHeap) Less(i, j int) bool  { return h[i].sequence < h[j].sequence }
func (h ticketHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *ticketHeap) Push(x interface{}) { *h = append(*h, x.(ticket)) }

func (h *ticketHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *ticketHeap) push(t ticket) { heap.Push(h, t) }

func (h *ticketHeap) popAll() []ticket {
	out := make([]ticket, 0, h.Len())
	for h.Len() > 0 {
		out = append(out, heap.Pop(h).(ticket))
	}
	return out
}

// remove drops the first ticket for brain, if present, restoring heap
// order. Returns whether a ticket was found.
func (h *ticketHeap) remove(brain BrainId) bool {
	for i, t := range *h {
		if t.brain == brain {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
