package httpsession

import (
	"testing"
	"time"
)

type fakeConn struct {
	connected bool
	closed    bool
}

func (f *fakeConn) Write(data []byte) int        { return len(data) }
func (f *fakeConn) ReadAll() []byte              { return nil }
func (f *fakeConn) IsConnected() bool            { return f.connected }
func (f *fakeConn) Close()                       { f.closed = true; f.connected = false }
func (f *fakeConn) OnBytesReceived(fn func(int)) {}
func (f *fakeConn) OnDisconnected(fn func())     {}
func (f *fakeConn) OnError(fn func(error))       {}

func TestDefaultHeadersPrepopulated(t *testing.T) {
	s := New()
	if s.UserAgent() == "" {
		t.Fatal("expected a default User-Agent")
	}
	if s.DefaultHeader("Accept") != "*/*" {
		t.Fatalf("Accept = %q, want */*", s.DefaultHeader("Accept"))
	}
}

func TestApplyDefaultHeadersDoesNotOverrideRequest(t *testing.T) {
	s := New()
	s.SetDefaultHeader("X-Custom", "default")

	var req Headers
	req.Set("X-Custom", "explicit")
	s.ApplyDefaultHeaders(&req)

	if got := req.Get("X-Custom"); got != "explicit" {
		t.Fatalf("X-Custom = %q, want explicit", got)
	}
	if got := req.Get("Accept"); got != "*/*" {
		t.Fatalf("Accept = %q, want */*", got)
	}
}

func TestGetConnectionReturnsNilWhenEmpty(t *testing.T) {
	s := New()
	key := Key{Host: "example.com", Port: 443, Secure: true}
	if c := s.GetConnection(key); c != nil {
		t.Fatal("expected nil for empty pool")
	}
}

func TestReturnThenGetConnectionLIFO(t *testing.T) {
	s := New()
	key := Key{Host: "example.com", Port: 80, Secure: false}

	c1 := &fakeConn{connected: true}
	c2 := &fakeConn{connected: true}
	s.ReturnConnection(key, c1)
	s.ReturnConnection(key, c2)

	got := s.GetConnection(key)
	if got != Conn(c2) {
		t.Fatal("expected most-recently-returned connection first (LIFO)")
	}
}

func TestReturnConnectionClosesWhenPoolFull(t *testing.T) {
	s := New()
	s.SetMaxConnectionsPerHost(1)
	key := Key{Host: "example.com", Port: 80, Secure: false}

	c1 := &fakeConn{connected: true}
	c2 := &fakeConn{connected: true}
	s.ReturnConnection(key, c1)
	s.ReturnConnection(key, c2)

	if !c2.closed {
		t.Fatal("expected the connection exceeding the cap to be closed")
	}
	if c1.closed {
		t.Fatal("expected the pooled connection to remain open")
	}
}

func TestGetConnectionRejectsDisconnectedSocket(t *testing.T) {
	s := New()
	key := Key{Host: "example.com", Port: 80, Secure: false}
	c := &fakeConn{connected: true}
	s.ReturnConnection(key, c)
	c.connected = false

	if got := s.GetConnection(key); got != nil {
		t.Fatal("expected nil for a no-longer-connected socket")
	}
}

func TestCleanupConnectionsEvictsIdle(t *testing.T) {
	s := New()
	s.SetIdleConnectionTimeout(0)
	key := Key{Host: "example.com", Port: 80, Secure: false}
	c := &fakeConn{connected: true}
	s.ReturnConnection(key, c)

	time.Sleep(time.Millisecond)
	s.CleanupConnections()

	if !c.closed {
		t.Fatal("expected idle connection to be closed")
	}
	if got := s.GetConnection(key); got != nil {
		t.Fatal("expected pool to be empty after cleanup")
	}
}
