// Package tlssocket implements spec.md's C7 by layering crypto/tls over a
// *tcpsocket.Socket. crypto/tls.Conn.Handshake has no non-blocking mode (no
// WANT_READ/WANT_WRITE return), so unlike the C++ SSL_connect polling loop
// this drives the handshake on a dedicated goroutine against an in-memory
// net.Conn adapter (socketConn) whose Read blocks on bytes arriving from
// the underlying TCP socket's reactor thread and whose Write hands data
// straight to the TCP socket's own non-blocking write buffer — the
// adapter is the wbio/rbio pair spec.md describes, just goroutine-driven
// instead of poll-driven.
package tlssocket

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"sync"

	"github.com/fastpath/netkit/internal/xerrors"
	"github.com/fastpath/netkit/pkg/reactor"
	"github.com/fastpath/netkit/pkg/signal"
	"github.com/fastpath/netkit/pkg/tcpsocket"
)

// VerifyMode controls peer certificate verification.
type VerifyMode int

const (
	VerifyNone VerifyMode = iota
	VerifyPeer
	VerifyPeerIfPresent
)

// Substate is the TLS-specific state layered atop the TCP socket's own
// Connected state.
type Substate int

const (
	Idle Substate = iota
	Handshaking
	Ready
	ShuttingDown
)

// Config configures a Socket's handshake.
type Config struct {
	ServerName string
	VerifyMode VerifyMode
	RootCAs    *x509.CertPool
	Certificates []tls.Certificate
}

// Socket is a TLS connection layered over a non-blocking TCP socket.
type Socket struct {
	tcp     *tcpsocket.Socket
	reactor *reactor.Reactor
	cfg     Config

	mu           sync.Mutex
	substate     Substate
	conn         *tls.Conn
	sc           *socketConn
	pendingWrite []byte
	writeMu      sync.Mutex

	HandshakeCompleted *signal.Signal[struct{}]
	HandshakeError     *signal.Signal[error]
	BytesReceived      *signal.Signal[int]
	Disconnected       *signal.Signal[struct{}]
	ErrorOccurred      *signal.Signal[error]

	readBufMu sync.Mutex
	readBuf   []byte
}

// New wraps tcp, an already-constructed (but not necessarily connected)
// TCP socket, with a TLS layer configured by cfg. New connects
// StartHandshake to tcp.Connected, so the handshake begins as soon as the
// caller's tcp.ConnectToHost succeeds; Dial also makes that call.
func New(r *reactor.Reactor, tcp *tcpsocket.Socket, cfg Config) *Socket {
	s := &Socket{
		tcp:                tcp,
		reactor:            r,
		cfg:                cfg,
		HandshakeCompleted: signal.New[struct{}](),
		HandshakeError:     signal.New[error](),
		BytesReceived:      signal.New[int](),
		Disconnected:       signal.New[struct{}](),
		ErrorOccurred:      signal.New[error](),
	}
	tcp.Connected.Connect(func(struct{}) { s.StartHandshake() })
	tcp.ErrorOccurred.Connect(func(err error) { s.ErrorOccurred.Emit(err) })
	return s
}

// Dial connects tcp to host:port and starts the TLS handshake once the TCP
// connection completes.
func Dial(r *reactor.Reactor, tcp *tcpsocket.Socket, host string, port int, cfg Config) *Socket {
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	s := New(r, tcp, cfg)
	tcp.ConnectToHost(host, port)
	return s
}

// StartHandshake configures the TLS engine and begins the handshake on a
// dedicated goroutine. Safe to call once, after the underlying TCP socket
// is Connected.
func (s *Socket) StartHandshake() {
	s.mu.Lock()
	if s.substate != Idle {
		s.mu.Unlock()
		return
	}
	s.substate = Handshaking
	s.mu.Unlock()

	s.sc = newSocketConn(s.reactor, s.tcp)

	tlsCfg := &tls.Config{
		ServerName: s.cfg.ServerName,
		RootCAs:    s.cfg.RootCAs,
		Certificates: s.cfg.Certificates,
	}
	switch s.cfg.VerifyMode {
	case VerifyNone:
		tlsCfg.InsecureSkipVerify = true
	case VerifyPeerIfPresent:
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return nil
			}
			opts := x509.VerifyOptions{
				DNSName:       s.cfg.ServerName,
				Roots:         s.cfg.RootCAs,
				Intermediates: x509.NewCertPool(),
			}
			for _, c := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(c)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	case VerifyPeer:
		// default verification behavior
	}

	conn := tls.Client(s.sc, tlsCfg)

	go func() {
		err := conn.Handshake()
		if err != nil {
			s.reactor.Defer(func() {
				s.mu.Lock()
				s.substate = Idle
				s.mu.Unlock()
				herr := xerrors.Wrap(xerrors.KindTLSHandshakeFailed, "tlssocket.handshake", err)
				s.HandshakeError.Emit(herr)
				s.ErrorOccurred.Emit(herr)
			})
			return
		}

		s.mu.Lock()
		s.conn = conn
		s.substate = Ready
		pending := s.pendingWrite
		s.pendingWrite = nil
		s.mu.Unlock()

		s.reactor.Defer(func() {
			s.HandshakeCompleted.Emit(struct{}{})
		})

		if len(pending) > 0 {
			s.rawWrite(pending)
		}

		s.readLoop(conn)
	}()
}

func (s *Socket) readLoop(conn *tls.Conn) {
	buf := make([]byte, 16*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.reactor.Defer(func() {
				s.readBufMu.Lock()
				s.readBuf = append(s.readBuf, chunk...)
				s.readBufMu.Unlock()
				s.BytesReceived.Emit(len(chunk))
			})
		}
		if err != nil {
			s.reactor.Defer(func() {
				s.mu.Lock()
				alreadyDown := s.substate == ShuttingDown || s.substate == Idle
				s.mu.Unlock()
				if errors.Is(err, io.EOF) {
					if !alreadyDown {
						s.Disconnected.Emit(struct{}{})
					}
					return
				}
				s.ErrorOccurred.Emit(xerrors.Wrap(xerrors.KindTLSIo, "tlssocket.read", err))
			})
			return
		}
	}
}

// Write encrypts and sends data once the handshake has completed; data
// written before completion is queued and flushed immediately afterward,
// matching "any queued user data is encrypted and sent" in spec.md §4.C7.
func (s *Socket) Write(data []byte) int {
	s.mu.Lock()
	ready := s.substate == Ready
	if !ready {
		s.pendingWrite = append(s.pendingWrite, data...)
		s.mu.Unlock()
		return len(data)
	}
	s.mu.Unlock()
	s.rawWrite(data)
	return len(data)
}

func (s *Socket) rawWrite(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if _, err := conn.Write(data); err != nil {
		s.ErrorOccurred.Emit(xerrors.Wrap(xerrors.KindTLSIo, "tlssocket.write", err))
	}
}

// ReadAll removes and returns every buffered decrypted byte.
func (s *Socket) ReadAll() []byte {
	s.readBufMu.Lock()
	defer s.readBufMu.Unlock()
	out := s.readBuf
	s.readBuf = nil
	return out
}

// Substate reports the TLS layer's current handshake stage.
func (s *Socket) Substate() Substate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.substate
}

// DisconnectFromHost triggers a TLS close_notify, then lets the underlying
// TCP socket perform its own graceful close.
func (s *Socket) DisconnectFromHost() {
	s.mu.Lock()
	conn := s.conn
	s.substate = ShuttingDown
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.reactor.Defer(func() {
		s.tcp.DisconnectFromHost()
	})
}
