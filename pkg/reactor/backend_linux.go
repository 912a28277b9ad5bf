//go:build linux

// Linux epoll(7) backend for the reactor's readiness set, grounded on the
// pack's own epoll implementation: level-triggered interest bits, a
// self-pipe style eventfd for cross-thread wake, HUP/ERR folded into every
// registered kind.

package reactor

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

type epollBackend struct {
	epfd   int
	wakeFd int
	kinds  map[int]Kind
}

func newBackend() (backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	b := &epollBackend{epfd: epfd, wakeFd: wakeFd, kinds: make(map[int]Kind)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}); err != nil {
		unix.Close(epfd)
		unix.Close(wakeFd)
		return nil, fmt.Errorf("reactor: epoll_ctl(wake): %w", err)
	}
	return b, nil
}

func toEpollEvents(k Kind) uint32 {
	var ev uint32
	if k.has(Read) {
		ev |= unix.EPOLLIN
	}
	if k.has(Write) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (b *epollBackend) add(fd int, kind Kind) error {
	b.kinds[fd] = kind
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollEvents(kind),
		Fd:     int32(fd),
	})
}

func (b *epollBackend) modify(fd int, kind Kind) error {
	b.kinds[fd] = kind
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpollEvents(kind),
		Fd:     int32(fd),
	})
}

func (b *epollBackend) remove(fd int) error {
	delete(b.kinds, fd)
	err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (b *epollBackend) wait(timeout time.Duration) ([]readyFD, error) {
	const maxEvents = 256
	var raw [maxEvents]unix.EpollEvent

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(b.epfd, raw[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	out := make([]readyFD, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == b.wakeFd {
			b.drainWake()
			continue
		}
		registered := b.kinds[fd]
		hup := raw[i].Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0

		var ready Kind
		switch {
		case hup:
			// HUP/ERR counts as ready for every kind the notifier registered.
			ready = registered
		default:
			if raw[i].Events&unix.EPOLLIN != 0 {
				ready |= Read
			}
			if raw[i].Events&unix.EPOLLOUT != 0 {
				ready |= Write
			}
			ready &= registered
		}
		out = append(out, readyFD{fd: fd, ready: ready})
	}
	return out, nil
}

func (b *epollBackend) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(b.wakeFd, buf[:])
		if err != nil {
			return
		}
	}
}

func (b *epollBackend) wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(b.wakeFd, buf[:])
	return err
}

func (b *epollBackend) close() error {
	unix.Close(b.wakeFd)
	return unix.Close(b.epfd)
}
