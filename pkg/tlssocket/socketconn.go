package tlssocket

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fastpath/netkit/pkg/reactor"
	"github.com/fastpath/netkit/pkg/tcpsocket"
)

// socketConn adapts a non-blocking, reactor-driven *tcpsocket.Socket into a
// blocking net.Conn so crypto/tls.Conn (which has no non-blocking mode) can
// drive a handshake and subsequent reads/writes against it from a
// dedicated goroutine.
type socketConn struct {
	sock *tcpsocket.Socket
	r    *reactor.Reactor

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
	err    error
}

func newSocketConn(r *reactor.Reactor, sock *tcpsocket.Socket) *socketConn {
	sc := &socketConn{sock: sock, r: r}
	sc.cond = sync.NewCond(&sc.mu)

	sock.BytesReceived.Connect(func(int) {
		data := sock.ReadAll()
		sc.mu.Lock()
		sc.buf = append(sc.buf, data...)
		sc.cond.Broadcast()
		sc.mu.Unlock()
	})
	sock.Disconnected.Connect(func(struct{}) {
		sc.mu.Lock()
		sc.closed = true
		sc.cond.Broadcast()
		sc.mu.Unlock()
	})
	sock.ErrorOccurred.Connect(func(err error) {
		sc.mu.Lock()
		sc.closed = true
		sc.err = err
		sc.cond.Broadcast()
		sc.mu.Unlock()
	})
	return sc
}

func (sc *socketConn) Read(p []byte) (int, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for len(sc.buf) == 0 && !sc.closed {
		sc.cond.Wait()
	}
	if len(sc.buf) == 0 {
		if sc.err != nil {
			return 0, sc.err
		}
		return 0, io.EOF
	}
	n := copy(p, sc.buf)
	sc.buf = sc.buf[n:]
	return n, nil
}

// Write hands data to the underlying socket's write buffer. tcpsocket's
// Write only mutates its own mutex-guarded buffer and arms the notifier
// via a thread-safe epoll_ctl call, so it is safe to call directly from
// this adapter's (non-reactor) goroutine.
func (sc *socketConn) Write(p []byte) (int, error) {
	return sc.sock.Write(p), nil
}

// Close tears down the underlying socket. The actual teardown is
// marshalled onto the reactor's goroutine since tcpsocket's close path
// touches the reactor's timer queue, which is not safe for concurrent
// access from an arbitrary goroutine.
func (sc *socketConn) Close() error {
	sc.mu.Lock()
	sc.closed = true
	sc.cond.Broadcast()
	sc.mu.Unlock()
	sc.r.Defer(func() { sc.sock.DisconnectFromHost() })
	return nil
}

func (sc *socketConn) LocalAddr() net.Addr                { return noAddr{} }
func (sc *socketConn) RemoteAddr() net.Addr               { return noAddr{} }
func (sc *socketConn) SetDeadline(t time.Time) error      { return errDeadlineUnsupported }
func (sc *socketConn) SetReadDeadline(t time.Time) error  { return errDeadlineUnsupported }
func (sc *socketConn) SetWriteDeadline(t time.Time) error { return errDeadlineUnsupported }

var errDeadlineUnsupported = errors.New("tlssocket: deadlines are not supported on a reactor-driven connection")

type noAddr struct{}

func (noAddr) Network() string { return "reactor" }
func (noAddr) String() string  { return "" }
