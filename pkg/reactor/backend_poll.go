//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// poll(2)-based backend for BSD-family platforms, grounded on the same
// readiness-wait contract as backend_linux.go but without epoll's
// persistent interest set: poll rebuilds its pollfd slice from the
// registered kinds on every wait call. A pipe stands in for Linux's
// eventfd as the cross-thread wake primitive.

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

type pollBackend struct {
	kinds     map[int]Kind
	wakeRead  int
	wakeWrite int
}

func newBackend() (backend, error) {
	fds, err := unixPipe2()
	if err != nil {
		return nil, fmt.Errorf("reactor: pipe: %w", err)
	}
	return &pollBackend{
		kinds:     make(map[int]Kind),
		wakeRead:  fds[0],
		wakeWrite: fds[1],
	}, nil
}

func unixPipe2() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fds, err
	}
	return fds, nil
}

func (b *pollBackend) add(fd int, kind Kind) error {
	b.kinds[fd] = kind
	return nil
}

func (b *pollBackend) modify(fd int, kind Kind) error {
	b.kinds[fd] = kind
	return nil
}

func (b *pollBackend) remove(fd int) error {
	delete(b.kinds, fd)
	return nil
}

func toPollEvents(k Kind) int16 {
	var ev int16
	if k.has(Read) {
		ev |= unix.POLLIN
	}
	if k.has(Write) {
		ev |= unix.POLLOUT
	}
	return ev
}

func (b *pollBackend) wait(timeout time.Duration) ([]readyFD, error) {
	fds := make([]unix.PollFd, 0, len(b.kinds)+1)
	order := make([]int, 0, len(b.kinds))
	for fd, kind := range b.kinds {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(kind)})
		order = append(order, fd)
	}
	wakeIdx := len(fds)
	fds = append(fds, unix.PollFd{Fd: int32(b.wakeRead), Events: unix.POLLIN})

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("reactor: poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]readyFD, 0, n)
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		if i == wakeIdx {
			b.drainWake()
			continue
		}
		fd := order[i]
		registered := b.kinds[fd]
		hup := pfd.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0

		var ready Kind
		switch {
		case hup:
			ready = registered
		default:
			if pfd.Revents&unix.POLLIN != 0 {
				ready |= Read
			}
			if pfd.Revents&unix.POLLOUT != 0 {
				ready |= Write
			}
			ready &= registered
		}
		out = append(out, readyFD{fd: fd, ready: ready})
	}
	return out, nil
}

func (b *pollBackend) drainWake() {
	var buf [64]byte
	for {
		_, err := unix.Read(b.wakeRead, buf[:])
		if err != nil {
			return
		}
	}
}

func (b *pollBackend) wake() error {
	_, err := unix.Write(b.wakeWrite, []byte{1})
	return err
}

func (b *pollBackend) close() error {
	unix.Close(b.wakeRead)
	return unix.Close(b.wakeWrite)
}
