// Package reactor implements a single-threaded readiness-based event loop:
// file descriptor notifiers, monotonic timers, a cross-thread posted-event
// queue, and a deferred-slot queue used to marshal signal emissions onto a
// reactor's owning goroutine. It is grounded on the pack's own epoll-backed
// reactor, generalized from a fixed WebSocket server loop into a general
// purpose event loop any component (DNS resolution, sockets, timers,
// cross-thread signals) can register against.
package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Reactor is a single-threaded event loop. All Notifier callbacks, fired
// timers, and drained events run on whichever goroutine calls Exec or
// ProcessEvents; nothing here is safe to call concurrently with that
// goroutine except Post, Defer, and Wake, which are explicitly cross-thread
// safe.
type Reactor struct {
	backend backend

	mu        sync.Mutex
	notifiers map[int]*Notifier
	nextID    uint64

	timers timerQueue

	events   *eventQueue
	deferred *deferredQueue

	quit int32
}

// PanicHook is invoked when a notifier callback, timer callback, event
// handler, or deferred slot panics. When it is nil (the default) the panic
// is dropped without being logged; set PanicHook to integrate with the
// ambient logger. The reactor always continues running afterward.
var PanicHook func(recovered any)

func reportPanic(r any) {
	if PanicHook != nil {
		PanicHook(r)
	}
}

// runProtected invokes fn, recovering any panic so a single misbehaving
// callback can't take down the whole tick. Matches the "an exception
// escaping a slot or event handler... reactor continues" failure semantics.
func runProtected(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			reportPanic(r)
		}
	}()
	fn()
}

// New creates a Reactor bound to the platform's native backend.
func New() (*Reactor, error) {
	b, err := newBackend()
	if err != nil {
		return nil, fmt.Errorf("reactor: new: %w", err)
	}
	return &Reactor{
		backend:   b,
		notifiers: make(map[int]*Notifier),
		events:    newEventQueue(),
		deferred:  newDeferredQueue(),
	}, nil
}

// RegisterNotifier starts watching fd for the given readiness kinds. cb
// runs on the reactor's own goroutine whenever fd becomes ready.
func (r *Reactor) RegisterNotifier(fd int, kind Kind, cb FDCallback) (*Notifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.notifiers[fd]; exists {
		return nil, fmt.Errorf("reactor: fd %d already registered", fd)
	}
	if err := r.backend.add(fd, kind); err != nil {
		return nil, fmt.Errorf("reactor: register fd %d: %w", fd, err)
	}
	r.nextID++
	n := &Notifier{reactor: r, fd: fd, kind: kind, cb: cb, id: r.nextID}
	r.notifiers[fd] = n
	return n, nil
}

// ModifyNotifier changes the readiness kinds watched for an already
// registered notifier, e.g. adding Write interest once an outbound buffer
// has data queued.
func (r *Reactor) ModifyNotifier(n *Notifier, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.backend.modify(n.fd, kind); err != nil {
		return fmt.Errorf("reactor: modify fd %d: %w", n.fd, err)
	}
	n.kind = kind
	return nil
}

// UnregisterNotifier stops watching a notifier's file descriptor. It does
// not close the fd; the caller owns that.
func (r *Reactor) UnregisterNotifier(n *Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.notifiers[n.fd]; !exists {
		return nil
	}
	delete(r.notifiers, n.fd)
	if err := r.backend.remove(n.fd); err != nil {
		return fmt.Errorf("reactor: unregister fd %d: %w", n.fd, err)
	}
	return nil
}

// CreateTimer schedules cb to run after interval elapses, on the reactor's
// own goroutine. When periodic is true the timer re-arms itself after every
// firing until StopTimer is called.
//
// CreateTimer is not safe to call from another goroutine; use Post or
// Defer to reach the reactor's thread first.
func (r *Reactor) CreateTimer(interval time.Duration, periodic bool, cb func()) *Timer {
	return r.timers.add(interval, periodic, cb)
}

// StopTimer cancels a timer created by CreateTimer. Safe to call even after
// the timer has already fired once (a no-op for one-shot timers).
func (r *Reactor) StopTimer(t *Timer) {
	r.timers.remove(t)
}

// Post enqueues an event for delivery to target's HandleEvent on the
// reactor's own goroutine. Safe to call from any goroutine; wakes the
// reactor if it is currently blocked in ProcessEvents.
func (r *Reactor) Post(target EventTarget, ev any) {
	r.events.push(target, ev)
	_ = r.backend.wake()
}

// Defer schedules fn to run on the reactor's own goroutine during the next
// tick's deferred-drain phase. This is the primitive ConnectDeferred uses
// to marshal a cross-thread signal emission onto its target's reactor.
func (r *Reactor) Defer(fn func()) {
	r.deferred.push(fn)
	_ = r.backend.wake()
}

// Wake interrupts a blocked ProcessEvents call without posting an event or
// deferred call, so a caller can re-evaluate its own exit condition
// promptly (e.g. right after Quit).
func (r *Reactor) Wake() error {
	return r.backend.wake()
}

// Quit causes the current or next Exec call to return after finishing the
// in-flight tick. Safe to call from any goroutine.
func (r *Reactor) Quit() {
	atomic.StoreInt32(&r.quit, 1)
	_ = r.backend.wake()
}

// Close releases the reactor's backend resources. The reactor must not be
// running (Exec returned, or ProcessEvents is not concurrently executing)
// when Close is called.
func (r *Reactor) Close() error {
	return r.backend.close()
}

// Exec runs ProcessEvents in a loop, blocking indefinitely between
// iterations, until Quit is called. It returns nil once Quit has taken
// effect.
func (r *Reactor) Exec() error {
	for atomic.LoadInt32(&r.quit) == 0 {
		if err := r.ProcessEvents(-1); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&r.quit, 0)
	return nil
}

// ProcessEvents runs a single tick of the event loop:
//
//  1. compute the wait budget from the nearest timer deadline, capped by
//     timeout (a negative timeout means "block until something happens");
//  2. block in the backend's readiness wait;
//  3. dispatch each ready notifier's callback;
//  4. fire every timer whose deadline has now passed;
//  5. drain and dispatch the posted-event queue;
//  6. drain and run the deferred-slot queue.
//
// Steps 4-6 also run when the wait returns early due to a wake call with no
// corresponding readiness, so posted events and deferred slots are never
// starved by a quiet fd set.
func (r *Reactor) ProcessEvents(timeout time.Duration) error {
	wait := timeout
	if deadline, ok := r.timers.nextDeadline(); ok {
		until := time.Until(deadline)
		if until < 0 {
			until = 0
		}
		if wait < 0 || until < wait {
			wait = until
		}
	}

	ready, err := r.backend.wait(wait)
	if err != nil {
		return err
	}

	for _, rf := range ready {
		r.mu.Lock()
		n, ok := r.notifiers[rf.fd]
		r.mu.Unlock()
		if !ok {
			continue
		}
		cb, fd, kind := n.cb, rf.fd, rf.ready
		runProtected(func() { cb(fd, kind) })
	}

	r.timers.fireDue(time.Now())

	for _, pe := range r.events.drain() {
		pe := pe
		if pe.target.Alive() {
			runProtected(func() { pe.target.HandleEvent(pe.event) })
		}
	}

	for _, fn := range r.deferred.drain() {
		fn := fn
		runProtected(fn)
	}

	return nil
}
