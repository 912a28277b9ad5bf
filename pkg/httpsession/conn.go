package httpsession

import (
	"github.com/fastpath/netkit/pkg/tcpsocket"
	"github.com/fastpath/netkit/pkg/tlssocket"
)

// Conn is the minimal surface the session's connection pool and the HTTP
// client pipeline need, common to both a plain tcpsocket.Socket and a
// tlssocket.Socket — the pool is keyed on (host, port, secure), but once a
// connection is pulled out of it the client pipeline no longer needs to
// care which kind it is.
type Conn interface {
	Write(data []byte) int
	ReadAll() []byte
	IsConnected() bool
	Close()
	OnBytesReceived(func(int))
	OnDisconnected(func())
	OnError(func(error))
}

type tcpConn struct{ sock *tcpsocket.Socket }

// WrapTCP adapts a plain *tcpsocket.Socket to Conn.
func WrapTCP(sock *tcpsocket.Socket) Conn { return tcpConn{sock: sock} }

func (c tcpConn) Write(data []byte) int { return c.sock.Write(data) }
func (c tcpConn) ReadAll() []byte       { return c.sock.ReadAll() }
func (c tcpConn) IsConnected() bool     { return c.sock.State() == tcpsocket.Connected }
func (c tcpConn) Close()                { c.sock.DisconnectFromHost() }
func (c tcpConn) OnBytesReceived(fn func(int)) {
	c.sock.BytesReceived.Connect(func(n int) { fn(n) })
}
func (c tcpConn) OnDisconnected(fn func()) {
	c.sock.Disconnected.Connect(func(struct{}) { fn() })
}
func (c tcpConn) OnError(fn func(error)) {
	c.sock.ErrorOccurred.Connect(func(err error) { fn(err) })
}

type tlsConn struct{ sock *tlssocket.Socket }

// WrapTLS adapts a *tlssocket.Socket to Conn. The connection only counts as
// IsConnected once the TLS handshake has completed (Substate == Ready).
func WrapTLS(sock *tlssocket.Socket) Conn { return tlsConn{sock: sock} }

func (c tlsConn) Write(data []byte) int { return c.sock.Write(data) }
func (c tlsConn) ReadAll() []byte       { return c.sock.ReadAll() }
func (c tlsConn) IsConnected() bool     { return c.sock.Substate() == tlssocket.Ready }
func (c tlsConn) Close()                { c.sock.DisconnectFromHost() }
func (c tlsConn) OnBytesReceived(fn func(int)) {
	c.sock.BytesReceived.Connect(func(n int) { fn(n) })
}
func (c tlsConn) OnDisconnected(fn func()) {
	c.sock.Disconnected.Connect(func(struct{}) { fn() })
}
func (c tlsConn) OnError(fn func(error)) {
	c.sock.ErrorOccurred.Connect(func(err error) { fn(err) })
}
