//go:build linux

// Raw non-blocking socket I/O, grounded on the reactor's own epoll backend:
// a single fd is registered with the reactor, interest bits are widened to
// include Write only while the outbound buffer is non-empty, and SO_ERROR
// after the first writable readiness is how a pending connect's outcome is
// discovered (exactly the connect-then-poll-writable pattern spec.md §4.C6
// describes).

package tcpsocket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/fastpath/netkit/internal/xerrors"
	"github.com/fastpath/netkit/pkg/reactor"
)

type platformState struct {
	fd         int
	notifier   *reactor.Notifier
	connecting bool
}

func (s *Socket) sysConnect(ip net.IP, port int) error {
	var sa unix.Sockaddr
	domain := unix.AF_INET
	if ip4 := ip.To4(); ip4 != nil {
		addr := &unix.SockaddrInet4{Port: port}
		copy(addr.Addr[:], ip4)
		sa = addr
	} else {
		domain = unix.AF_INET6
		addr := &unix.SockaddrInet6{Port: port}
		copy(addr.Addr[:], ip.To16())
		sa = addr
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return fmt.Errorf("tcpsocket: socket: %w", err)
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return fmt.Errorf("tcpsocket: connect: %w", err)
	}

	s.mu.Lock()
	s.sys.fd = fd
	s.sys.connecting = true
	s.mu.Unlock()

	notifier, nerr := s.reactor.RegisterNotifier(fd, reactor.Write, s.onNotifier)
	if nerr != nil {
		unix.Close(fd)
		return fmt.Errorf("tcpsocket: register: %w", nerr)
	}
	s.mu.Lock()
	s.sys.notifier = notifier
	s.mu.Unlock()

	if err == nil {
		// Connected synchronously (rare, e.g. loopback); the write
		// notifier will still fire on the next tick and drive the same
		// SO_ERROR check path.
	}
	return nil
}

func (s *Socket) onNotifier(fd int, ready reactor.Kind) {
	s.mu.Lock()
	connecting := s.sys.connecting
	s.mu.Unlock()

	if connecting {
		s.finishConnect(fd)
		return
	}

	if ready.Has(reactor.Read) {
		s.drainRead(fd)
	}
	if ready.Has(reactor.Write) {
		s.drainWrite(fd)
	}
}

func (s *Socket) finishConnect(fd int) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		s.abortConnect(fd, err)
		return
	}
	if errno != 0 {
		s.abortConnect(fd, unix.Errno(errno))
		return
	}

	s.mu.Lock()
	s.sys.connecting = false
	s.mu.Unlock()

	if err := s.reactor.ModifyNotifier(s.sys.notifier, reactor.Read); err != nil {
		s.abortConnect(fd, err)
		return
	}
	s.onConnectResult(nil)
}

func (s *Socket) abortConnect(fd int, err error) {
	s.reactor.UnregisterNotifier(s.sys.notifier)
	unix.Close(fd)
	s.mu.Lock()
	s.sys.fd = -1
	s.sys.notifier = nil
	s.sys.connecting = false
	s.mu.Unlock()
	s.onConnectResult(err)
}

func (s *Socket) drainRead(fd int) {
	buf := make([]byte, readStagingSize)
	var chunk []byte
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			chunk = append(chunk, buf[:n]...)
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			break
		}
		if n == 0 && err == nil {
			if len(chunk) > 0 {
				s.onBytesReceived(chunk)
			}
			s.onPeerClosed()
			return
		}
		if err != nil {
			if len(chunk) > 0 {
				s.onBytesReceived(chunk)
			}
			s.fail(classifyIOError(err))
			return
		}
	}
	if len(chunk) > 0 {
		s.onBytesReceived(chunk)
	}
}

func (s *Socket) drainWrite(fd int) {
	for {
		s.mu.Lock()
		if s.writeBuf.Len() == 0 {
			s.mu.Unlock()
			break
		}
		pending := s.writeBuf.Bytes()
		s.mu.Unlock()

		n, err := unix.Write(fd, pending)
		if n > 0 {
			s.mu.Lock()
			s.writeBuf.Remove(0, n)
			s.mu.Unlock()
			s.onWriteProgress(n)
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err != nil {
			s.fail(classifyIOError(err))
			return
		}
		if n == 0 {
			return
		}
	}
	// Outbound buffer drained; drop Write interest until more is queued.
	s.reactor.ModifyNotifier(s.sys.notifier, reactor.Read)
}

func (s *Socket) sysArmWrite() {
	s.mu.Lock()
	n := s.sys.notifier
	s.mu.Unlock()
	if n == nil {
		return
	}
	s.reactor.ModifyNotifier(n, reactor.Read|reactor.Write)
}

func (s *Socket) sysClose() {
	s.mu.Lock()
	fd := s.sys.fd
	n := s.sys.notifier
	s.sys.fd = -1
	s.sys.notifier = nil
	s.mu.Unlock()
	if n != nil {
		s.reactor.UnregisterNotifier(n)
	}
	if fd >= 0 {
		unix.Shutdown(fd, unix.SHUT_RDWR)
		unix.Close(fd)
	}
}

func (s *Socket) sysGracefulClose() {
	// The write notifier is already armed whenever data is pending;
	// onWriteProgress calls maybeFinishGracefulClose as the buffer drains,
	// so the common case closes as soon as draining completes. This timer
	// is only the backstop against a peer that never drains its receive
	// window within the close timeout.
	s.maybeFinishGracefulClose()
	if s.State() != Closed {
		s.reactor.CreateTimer(s.closeTimeout, false, s.finishClose)
	}
}

func classifyIOError(err error) *xerrors.Error {
	if errno, ok := err.(unix.Errno); ok && errno == unix.ECONNRESET {
		return xerrors.Wrap(xerrors.KindSocketReset, "tcpsocket.io", err)
	}
	return xerrors.Wrap(xerrors.KindSocketIO, "tcpsocket.io", err)
}
