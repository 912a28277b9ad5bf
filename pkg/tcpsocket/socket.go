// Package tcpsocket implements spec.md's C6: a non-blocking TCP socket
// state machine driven by a Reactor. The state machine, buffering, and
// signal emission live here; actual I/O pumping is platform-specific
// (socket_linux.go uses a raw non-blocking fd registered directly with the
// reactor's epoll backend, socket_fallback.go wraps net.Conn with
// goroutines that marshal completions back via Reactor.Defer).
package tcpsocket

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fastpath/netkit/internal/xerrors"
	"github.com/fastpath/netkit/pkg/buffer"
	"github.com/fastpath/netkit/pkg/dnsresolver"
	"github.com/fastpath/netkit/pkg/reactor"
	"github.com/fastpath/netkit/pkg/signal"
)

// State is a TCP socket's lifecycle stage.
type State int

const (
	Unconnected State = iota
	Resolving
	Connecting
	Connected
	Closing
	Closed
	Error
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "Unconnected"
	case Resolving:
		return "Resolving"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

const defaultCloseTimeout = 3 * time.Second
const readStagingSize = 16 * 1024

// Socket is a non-blocking TCP connection. All public methods except the
// signal fields themselves are expected to be called from the owning
// reactor's goroutine; platform pumps marshal back onto that goroutine
// before touching shared state.
type Socket struct {
	mu sync.Mutex

	reactor  *reactor.Reactor
	resolver *dnsresolver.Resolver

	state State
	host  string
	port  int

	addrs   []net.IP
	addrIdx int

	readBuf  *buffer.ByteArray
	writeBuf *buffer.ByteArray

	closeTimeout time.Duration

	sys platformState

	Connected     *signal.Signal[struct{}]
	Disconnected  *signal.Signal[struct{}]
	BytesReceived *signal.Signal[int]
	BytesWritten  *signal.Signal[int]
	ErrorOccurred *signal.Signal[error]
	StateChanged  *signal.Signal[State]
}

// New creates a Socket bound to r, resolving hostnames through resolver.
func New(r *reactor.Reactor, resolver *dnsresolver.Resolver) *Socket {
	return &Socket{
		reactor:       r,
		resolver:      resolver,
		state:         Unconnected,
		readBuf:       buffer.New(nil),
		writeBuf:      buffer.New(nil),
		closeTimeout:  defaultCloseTimeout,
		Connected:     signal.New[struct{}](),
		Disconnected:  signal.New[struct{}](),
		BytesReceived: signal.New[int](),
		BytesWritten:  signal.New[int](),
		ErrorOccurred: signal.New[error](),
		StateChanged:  signal.New[State](),
	}
}

// State returns the socket's current lifecycle stage.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.StateChanged.Emit(st)
}

// ConnectToHost begins an asynchronous connection attempt: Unconnected ->
// Resolving -> Connecting -> Connected (or Error).
func (s *Socket) ConnectToHost(host string, port int) {
	s.mu.Lock()
	s.host, s.port = host, port
	s.mu.Unlock()
	s.setState(Resolving)

	s.resolver.Lookup(host, func(ips []net.IP, err error) {
		if err != nil {
			s.fail(xerrors.Wrap(xerrors.KindConnectUnreachable, "tcpsocket.ConnectToHost", err).WithAddr(host, port))
			return
		}
		s.mu.Lock()
		s.addrs = ips
		s.addrIdx = 0
		s.mu.Unlock()
		s.setState(Connecting)
		s.tryNextAddress()
	})
}

func (s *Socket) tryNextAddress() {
	s.mu.Lock()
	if s.addrIdx >= len(s.addrs) {
		s.mu.Unlock()
		s.fail(xerrors.New(xerrors.KindConnectUnreachable, "tcpsocket.connect", "all resolved addresses failed").WithAddr(s.host, s.port))
		return
	}
	ip := s.addrs[s.addrIdx]
	s.addrIdx++
	port := s.port
	s.mu.Unlock()

	if err := s.sysConnect(ip, port); err != nil {
		s.tryNextAddress()
	}
}

// onConnectResult is called by the platform layer once a single connect
// attempt resolves, success or failure.
func (s *Socket) onConnectResult(err error) {
	if err != nil {
		s.tryNextAddress()
		return
	}
	s.setState(Connected)
	s.Connected.Emit(struct{}{})
	s.mu.Lock()
	pending := s.writeBuf.Len() > 0
	s.mu.Unlock()
	if pending {
		s.sysArmWrite()
	}
}

// onBytesReceived is called by the platform layer with newly read bytes,
// once per notifier fire (not per individual recv), per the read contract.
func (s *Socket) onBytesReceived(data []byte) {
	s.mu.Lock()
	s.readBuf.Append(data)
	s.mu.Unlock()
	s.BytesReceived.Emit(len(data))
}

// onPeerClosed is called by the platform layer on EOF.
func (s *Socket) onPeerClosed() {
	s.mu.Lock()
	already := s.state == Closed || s.state == Closing
	s.mu.Unlock()
	if already {
		return
	}
	s.setState(Closing)
	s.sysClose()
	s.setState(Closed)
	s.Disconnected.Emit(struct{}{})
}

// onWriteProgress is called by the platform layer after bytes have been
// removed from the write buffer and actually handed to the kernel.
func (s *Socket) onWriteProgress(n int) {
	s.BytesWritten.Emit(n)
	s.maybeFinishGracefulClose()
}

// maybeFinishGracefulClose completes a graceful close as soon as the write
// buffer drains, rather than always waiting out the full close timeout.
func (s *Socket) maybeFinishGracefulClose() {
	s.mu.Lock()
	closing := s.state == Closing
	empty := s.writeBuf.Len() == 0
	s.mu.Unlock()
	if closing && empty {
		s.finishClose()
	}
}

// finishClose performs the actual fd/conn teardown exactly once.
func (s *Socket) finishClose() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.sysClose()
	s.setState(Closed)
	s.Disconnected.Emit(struct{}{})
}

func (s *Socket) fail(err *xerrors.Error) {
	s.mu.Lock()
	s.state = Error
	s.mu.Unlock()
	s.StateChanged.Emit(Error)
	s.ErrorOccurred.Emit(err)
}

// Write appends data to the outbound buffer and arms the write notifier.
// It returns the number of bytes appended (always len(data); the contract
// never partially accepts into the buffer itself).
func (s *Socket) Write(data []byte) int {
	s.mu.Lock()
	s.writeBuf.Append(data)
	connected := s.state == Connected
	s.mu.Unlock()
	if connected {
		s.sysArmWrite()
	}
	return len(data)
}

// ReadAll removes and returns every buffered received byte.
func (s *Socket) ReadAll() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.readBuf.Bytes()
	cp := make([]byte, len(out))
	copy(cp, out)
	s.readBuf.Clear()
	return cp
}

// Read removes and returns up to n buffered received bytes.
func (s *Socket) Read(n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	avail := s.readBuf.Len()
	if n > avail {
		n = avail
	}
	out := make([]byte, n)
	copy(out, s.readBuf.Bytes()[:n])
	s.readBuf.Remove(0, n)
	return out
}

// BytesAvailable reports how many received bytes are currently buffered.
func (s *Socket) BytesAvailable() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readBuf.Len()
}

// DisconnectFromHost flushes any pending write data (up to closeTimeout),
// then shuts the connection down.
func (s *Socket) DisconnectFromHost() {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != Connected {
		if state != Unconnected && state != Closed {
			s.setState(Closing)
			s.sysClose()
			s.setState(Closed)
		}
		return
	}
	s.setState(Closing)
	s.sysGracefulClose()
}

// SetCloseTimeout overrides the default graceful-close flush budget.
func (s *Socket) SetCloseTimeout(d time.Duration) {
	s.mu.Lock()
	s.closeTimeout = d
	s.mu.Unlock()
}

func (s *Socket) String() string {
	return fmt.Sprintf("tcpsocket(%s:%d state=%s)", s.host, s.port, s.State())
}
