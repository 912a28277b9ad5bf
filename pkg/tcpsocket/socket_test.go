package tcpsocket

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/fastpath/netkit/pkg/dnsresolver"
	"github.com/fastpath/netkit/pkg/reactor"
)

func newTestHarness(t *testing.T) (*reactor.Reactor, *dnsresolver.Resolver) {
	t.Helper()
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	res, err := dnsresolver.New(r)
	if err != nil {
		t.Fatalf("dnsresolver.New: %v", err)
	}
	return r, res
}

func pump(t *testing.T, r *reactor.Reactor, done <-chan struct{}, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-done:
			return
		default:
		}
		if err := r.ProcessEvents(5 * time.Millisecond); err != nil {
			t.Fatalf("ProcessEvents: %v", err)
		}
	}
	t.Fatal("timed out waiting for condition")
}

func startEchoServer(t *testing.T) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				io.Copy(conn, conn)
				conn.Close()
			}()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestConnectAndEcho(t *testing.T) {
	r, res := newTestHarness(t)
	addr, closeServer := startEchoServer(t)
	defer closeServer()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	sock := New(r, res)
	connected := make(chan struct{})
	sock.Connected.Connect(func(struct{}) { close(connected) })

	var gotErr error
	sock.ErrorOccurred.Connect(func(err error) { gotErr = err })

	sock.ConnectToHost(host, port)
	pump(t, r, connected, 5*time.Second)
	if gotErr != nil {
		t.Fatalf("connect error: %v", gotErr)
	}

	received := make(chan struct{})
	sock.BytesReceived.Connect(func(int) { close(received) })

	sock.Write([]byte("hello"))
	pump(t, r, received, 5*time.Second)

	got := sock.ReadAll()
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestConnectRefused(t *testing.T) {
	r, res := newTestHarness(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listening now

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	sock := New(r, res)
	failed := make(chan struct{})
	var gotErr error
	sock.ErrorOccurred.Connect(func(err error) {
		gotErr = err
		close(failed)
	})

	sock.ConnectToHost(host, port)
	pump(t, r, failed, 5*time.Second)

	if gotErr == nil {
		t.Fatal("expected a connect error")
	}
	if sock.State() != Error {
		t.Fatalf("state = %v, want Error", sock.State())
	}
}

func TestDisconnectFlushesPendingWrites(t *testing.T) {
	r, res := newTestHarness(t)
	addr, closeServer := startEchoServer(t)
	defer closeServer()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	sock := New(r, res)
	connected := make(chan struct{})
	sock.Connected.Connect(func(struct{}) { close(connected) })
	sock.ConnectToHost(host, port)
	pump(t, r, connected, 5*time.Second)

	disconnected := make(chan struct{})
	sock.Disconnected.Connect(func(struct{}) { close(disconnected) })

	sock.Write([]byte("bye"))
	sock.DisconnectFromHost()
	pump(t, r, disconnected, 5*time.Second)

	if sock.State() != Closed {
		t.Fatalf("state = %v, want Closed", sock.State())
	}
}
