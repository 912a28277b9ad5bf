package reactor

import (
	"container/heap"
	"time"
)

// Timer is a scheduled callback owned by a single Reactor. Periodic timers
// re-arm themselves to deadline+interval after firing; one-shot timers are
// removed from the heap once fired.
type Timer struct {
	deadline time.Time
	interval time.Duration
	periodic bool
	cb       func()
	seq      uint64 // insertion order, breaks deadline ties
	index    int    // heap.Interface bookkeeping
	cancelled bool
}

// timerHeap is a min-heap ordered by deadline, falling back to insertion
// order (seq) to break ties, matching the reactor's "ties broken by
// insertion order" firing rule.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timerQueue wraps timerHeap with the sequencing counter used for insertion
// order tie-breaking.
type timerQueue struct {
	heap timerHeap
	seq  uint64
}

func (q *timerQueue) add(interval time.Duration, periodic bool, cb func()) *Timer {
	q.seq++
	t := &Timer{
		deadline: time.Now().Add(interval),
		interval: interval,
		periodic: periodic,
		cb:       cb,
		seq:      q.seq,
	}
	heap.Push(&q.heap, t)
	return t
}

func (q *timerQueue) remove(t *Timer) {
	if t.index < 0 || t.index >= len(q.heap) {
		t.cancelled = true
		return
	}
	t.cancelled = true
	heap.Remove(&q.heap, t.index)
}

// nextDeadline returns the earliest pending deadline, or the zero time if
// the queue is empty.
func (q *timerQueue) nextDeadline() (time.Time, bool) {
	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.heap[0].deadline, true
}

// fireDue fires, in deadline order, every timer whose deadline has passed
// as of now. Periodic timers are re-armed to deadline+interval (no
// catch-up: at most one fire per tick per timer) and re-inserted.
func (q *timerQueue) fireDue(now time.Time) {
	var due []*Timer
	for len(q.heap) > 0 && !q.heap[0].deadline.After(now) {
		t := heap.Pop(&q.heap).(*Timer)
		due = append(due, t)
	}
	for _, t := range due {
		if t.cancelled {
			continue
		}
		if t.periodic {
			t.deadline = t.deadline.Add(t.interval)
			if t.deadline.Before(now) {
				t.deadline = now.Add(t.interval)
			}
			heap.Push(&q.heap, t)
		}
		runProtected(t.cb)
	}
}
