package reactor

import "time"

// readyFD is one readiness notification returned by a backend's wait call.
type readyFD struct {
	fd    int
	ready Kind
}

// backend is the platform multiplexor a Reactor drives. Linux uses epoll
// (backend_linux.go); other platforms use a poll(2)-based fallback
// (backend_poll.go) or report unsupported (backend_unsupported.go).
type backend interface {
	add(fd int, kind Kind) error
	modify(fd int, kind Kind) error
	remove(fd int) error
	wait(timeout time.Duration) ([]readyFD, error)
	wake() error
	close() error
}
