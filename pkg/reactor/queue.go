package reactor

import (
	"sync"

	"github.com/eapache/queue"
)

// EventTarget receives posted events. Alive lets the reactor drop events
// whose target was torn down between Post and drain, mirroring the "weak
// reference to a Notifier/target" semantics of spec'd reactors without
// requiring a garbage collector hook.
type EventTarget interface {
	HandleEvent(ev any)
	Alive() bool
}

type postedEvent struct {
	target EventTarget
	event  any
}

// eventQueue is the mutex-guarded FIFO of (target, event) tuples that
// cross-thread Post appends to. eapache/queue backs it with a growable
// ring buffer so steady posting load doesn't repeatedly reallocate a slice.
type eventQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newEventQueue() *eventQueue {
	return &eventQueue{q: queue.New()}
}

func (eq *eventQueue) push(target EventTarget, ev any) {
	eq.mu.Lock()
	eq.q.Add(postedEvent{target: target, event: ev})
	eq.mu.Unlock()
}

// drain removes and returns every currently queued event. New events posted
// concurrently while draining land in the next tick's drain.
func (eq *eventQueue) drain() []postedEvent {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	n := eq.q.Length()
	if n == 0 {
		return nil
	}
	out := make([]postedEvent, n)
	for i := 0; i < n; i++ {
		out[i] = eq.q.Peek().(postedEvent)
		eq.q.Remove()
	}
	return out
}

// deferredQueue is the mutex-guarded FIFO of zero-argument callables used to
// deliver cross-thread signal emissions onto their target reactor's thread.
type deferredQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newDeferredQueue() *deferredQueue {
	return &deferredQueue{q: queue.New()}
}

func (dq *deferredQueue) push(fn func()) {
	dq.mu.Lock()
	dq.q.Add(fn)
	dq.mu.Unlock()
}

func (dq *deferredQueue) drain() []func() {
	dq.mu.Lock()
	defer dq.mu.Unlock()
	n := dq.q.Length()
	if n == 0 {
		return nil
	}
	out := make([]func(), n)
	for i := 0; i < n; i++ {
		out[i] = dq.q.Peek().(func())
		dq.q.Remove()
	}
	return out
}
