package sim

import (
	"container/heap"
)

// eventQueue is a min-priority queue over events, ordered by (time, seq).
// Because seq is assigned monotonically at insertion, two events at the
// same instant always pop in insertion order, which is what makes runs
// reproducible independent of heap internals.
//
// Cancellation is by tombstone: Cancel records the seq, and Pop discards
// tombstoned events when they surface. This keeps Cancel O(1) without
// scanning the heap.
type eventQueue struct {
	items     eventHeap
	tombstone map[EventSeq]struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{tombstone: make(map[EventSeq]struct{})}
}

// Push inserts an event.
func (q *eventQueue) Push(e Event) {
	heap.Push(&q.items, e)
}

// Pop removes and returns the earliest live event, or nil when the queue
// holds only tombstones or nothing at all.
func (q *eventQueue) Pop() Event {
	for q.items.Len() > 0 {
		e := heap.Pop(&q.items).(Event)
		if _, dead := q.tombstone[e.Seq()]; dead {
			delete(q.tombstone, e.Seq())
			continue
		}
		return e
	}
	return nil
}

// Peek returns the earliest live event without removing it, or nil.
func (q *eventQueue) Peek() Event {
	for q.items.Len() > 0 {
		e := q.items[0]
		if _, dead := q.tombstone[e.Seq()]; !dead {
			return e
		}
		heap.Pop(&q.items)
		delete(q.tombstone, e.Seq())
	}
	return nil
}

// Cancel marks the event with the given seq as dead. Cancelling a seq that
// is absent or already popped is harmless.
func (q *eventQueue) Cancel(seq EventSeq) {
	q.tombstone[seq] = struct{}{}
}

// Len returns the number of queued entries including tombstoned ones.
func (q *eventQueue) Len() int { return q.items.Len() }

// LiveLen returns the number of events that would still fire.
func (q *eventQueue) LiveLen() int {
	n := 0
	for _, e := range q.items {
		if _, dead := q.tombstone[e.Seq()]; !dead {
			n++
		}
	}
	return n
}

type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if c := h[i].Time().Compare(h[j].Time()); c != 0 {
		return c < 0
	}
	return h[i].Seq() < h[j].Seq()
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) {
	*h = append(*h, x.(Event))
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
