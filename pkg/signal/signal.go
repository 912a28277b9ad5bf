// Package signal implements the multi-subscriber signal/slot primitive
// (spec.md's C4): Connect binds a slot invoked synchronously on the
// emitting goroutine; ConnectDeferred binds a slot that runs on a chosen
// reactor's own goroutine, marshalled across threads via reactor.Defer.
package signal

import (
	"sync"

	"github.com/fastpath/netkit/pkg/reactor"
)

type subscriber[T any] struct {
	id   uint64
	slot func(T)
}

// Signal is a typed, multi-subscriber event. The zero value is not usable;
// create one with New.
type Signal[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
}

// New creates an empty Signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{}
}

// Connection is a disconnect token returned by Connect/ConnectDeferred.
// Disconnect is idempotent and safe to call more than once.
type Connection struct {
	disconnect func()
	once       sync.Once
}

// Disconnect removes the associated slot. Safe to call from any goroutine,
// any number of times.
func (c *Connection) Disconnect() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		if c.disconnect != nil {
			c.disconnect()
		}
	})
}

// Connect binds slot to run synchronously, on whichever goroutine calls
// Emit, every time the signal fires.
func (s *Signal[T]) Connect(slot func(T)) *Connection {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber[T]{id: id, slot: slot})
	s.mu.Unlock()

	return &Connection{disconnect: func() {
		s.mu.Lock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}}
}

// ConnectDeferred binds slot to run on r's own goroutine. Emit calls from
// any thread marshal the invocation onto r via reactor.Defer, matching the
// "connect(evaluator, slot)" cross-thread binding of the reactor signal
// model: the slot never runs concurrently with r's other event handling.
func (s *Signal[T]) ConnectDeferred(r *reactor.Reactor, slot func(T)) *Connection {
	wrapped := func(v T) {
		r.Defer(func() { slot(v) })
	}
	return s.Connect(wrapped)
}

// Emit synchronously invokes every in-thread slot and schedules every
// deferred slot's marshalled callback, in subscription order. Emit itself
// never blocks on a deferred slot actually running.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	slots := make([]func(T), len(s.subs))
	for i, sub := range s.subs {
		slots[i] = sub.slot
	}
	s.mu.Unlock()

	for _, slot := range slots {
		slot(v)
	}
}

// NumSubscribers reports the current subscriber count, mainly useful for
// tests and diagnostics.
func (s *Signal[T]) NumSubscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
