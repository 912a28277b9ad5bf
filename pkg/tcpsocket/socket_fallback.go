//go:build !linux

// Portable fallback for platforms without a raw-fd reactor integration:
// connect and I/O run on goroutines driving a standard net.Conn, and every
// completion is marshalled back onto the owning reactor's goroutine via
// Reactor.Defer so the state machine in socket.go never observes a
// callback from any thread but its own. This trades the literal
// connect-then-poll-writable epoll dance for portability; documented as a
// deliberate deviation in DESIGN.md.

package tcpsocket

import (
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/fastpath/netkit/internal/xerrors"
)

type platformState struct {
	conn    net.Conn
	writeCh chan []byte
	closeCh chan struct{}
}

func (s *Socket) sysConnect(ip net.IP, port int) error {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))

	go func() {
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		s.reactor.Defer(func() {
			if err != nil {
				s.onConnectResult(xerrors.Wrap(xerrors.KindConnectRefused, "tcpsocket.connect", err))
				return
			}
			s.mu.Lock()
			s.sys.conn = conn
			s.sys.writeCh = make(chan []byte, 16)
			s.sys.closeCh = make(chan struct{})
			s.mu.Unlock()
			go s.fallbackReadLoop(conn, s.sys.closeCh)
			go s.fallbackWriteLoop(conn, s.sys.writeCh, s.sys.closeCh)
			s.onConnectResult(nil)
		})
	}()
	return nil
}

func (s *Socket) fallbackReadLoop(conn net.Conn, closeCh chan struct{}) {
	buf := make([]byte, readStagingSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.reactor.Defer(func() { s.onBytesReceived(chunk) })
		}
		if err != nil {
			s.reactor.Defer(func() {
				select {
				case <-closeCh:
					return
				default:
				}
				if errors.Is(err, io.EOF) {
					s.onPeerClosed()
					return
				}
				s.fail(xerrors.Wrap(xerrors.KindSocketIO, "tcpsocket.read", err))
			})
			return
		}
	}
}

func (s *Socket) fallbackWriteLoop(conn net.Conn, writeCh chan []byte, closeCh chan struct{}) {
	for {
		select {
		case data := <-writeCh:
			n, err := conn.Write(data)
			if err != nil {
				s.reactor.Defer(func() { s.fail(xerrors.Wrap(xerrors.KindSocketIO, "tcpsocket.write", err)) })
				return
			}
			s.reactor.Defer(func() { s.onWriteProgress(n) })
		case <-closeCh:
			return
		}
	}
}

func (s *Socket) sysArmWrite() {
	s.mu.Lock()
	ch := s.sys.writeCh
	if ch == nil {
		s.mu.Unlock()
		return
	}
	pending := s.writeBuf.Bytes()
	data := make([]byte, len(pending))
	copy(data, pending)
	s.writeBuf.Clear()
	s.mu.Unlock()
	if len(data) > 0 {
		ch <- data
	}
}

func (s *Socket) sysClose() {
	s.mu.Lock()
	conn := s.sys.conn
	closeCh := s.sys.closeCh
	s.sys.conn = nil
	s.mu.Unlock()
	if closeCh != nil {
		select {
		case <-closeCh:
		default:
			close(closeCh)
		}
	}
	if conn != nil {
		conn.Close()
	}
}

func (s *Socket) sysGracefulClose() {
	// sysArmWrite already hands the whole outbound buffer to the writer
	// goroutine synchronously, so there is nothing left to drain by the
	// time DisconnectFromHost calls here; still honor the close timeout as
	// a backstop in case the peer never finishes reading.
	s.maybeFinishGracefulClose()
	if s.State() != Closed {
		s.reactor.CreateTimer(s.closeTimeout, false, s.finishClose)
	}
}

