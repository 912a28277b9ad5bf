package httpclient

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/fastpath/netkit/internal/xerrors"
	"github.com/fastpath/netkit/pkg/dnsresolver"
	"github.com/fastpath/netkit/pkg/httpsession"
	"github.com/fastpath/netkit/pkg/reactor"
	"github.com/fastpath/netkit/pkg/uri"
)

// testRequest is one parsed request line + headers read off a raw TCP test
// server connection, used by the handler functions below to decide how to
// respond.
type testRequest struct {
	Method  string
	Target  string
	Headers map[string]string
}

func readTestRequest(r *bufio.Reader) (*testRequest, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) < 2 {
		return nil, fmt.Errorf("bad request line %q", line)
	}
	req := &testRequest{Method: parts[0], Target: parts[1], Headers: map[string]string{}}
	for {
		hline, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		hline = strings.TrimRight(hline, "\r\n")
		if hline == "" {
			break
		}
		idx := strings.IndexByte(hline, ':')
		if idx < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(hline[:idx]))
		value := strings.TrimSpace(hline[idx+1:])
		req.Headers[name] = value
	}
	if cl, ok := req.Headers["content-length"]; ok {
		n, _ := strconv.Atoi(cl)
		buf := make([]byte, n)
		if n > 0 {
			if _, err := r.Read(buf); err != nil {
				return nil, err
			}
		}
	}
	return req, nil
}

func startTestServer(t *testing.T, handle func(conn net.Conn, req *testRequest)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					req, err := readTestRequest(r)
					if err != nil {
						return
					}
					handle(conn, req)
				}
			}()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func newTestClient(t *testing.T) (*Client, *reactor.Reactor) {
	t.Helper()
	r, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	resolver, err := dnsresolver.New(r)
	if err != nil {
		t.Fatalf("dnsresolver.New: %v", err)
	}
	session := httpsession.New()
	return New(r, session, resolver), r
}

func pumpUntilClient(t *testing.T, r *reactor.Reactor, done <-chan struct{}, timeout time.Duration) {
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
	t.Fatal("timed out waiting for request to complete")
}

func hostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	return host, port
}

func TestGetHappyPath(t *testing.T) {
	addr := startTestServer(t, func(conn net.Conn, req *testRequest) {
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHELLO"))
	})
	host, port := hostPort(t, addr)

	client, r := newTestClient(t)
	u := uri.URI{}.WithScheme("http").WithHost(host).WithPort(strconv.Itoa(port)).WithPath("/hello")
	req := NewRequest("GET", u)

	done := make(chan struct{})
	var resp *Response
	var gotErr error
	client.Send(req, func(rsp *Response, err error) {
		resp, gotErr = rsp, err
		close(done)
	})

	pumpUntilClient(t, r, done, 10*time.Second)
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != "HELLO" {
		t.Fatalf("body = %q, want HELLO", resp.Body)
	}
	if resp.Header("content-length") != "5" {
		t.Fatalf("content-length header = %q", resp.Header("content-length"))
	}
}

func TestChunkedBody(t *testing.T) {
	addr := startTestServer(t, func(conn net.Conn, req *testRequest) {
		conn.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
			"3\r\nfoo\r\n3\r\nbar\r\n0\r\n\r\n"))
	})
	host, port := hostPort(t, addr)

	client, r := newTestClient(t)
	u := uri.URI{}.WithScheme("http").WithHost(host).WithPort(strconv.Itoa(port)).WithPath("/chunked")
	req := NewRequest("GET", u)

	done := make(chan struct{})
	var resp *Response
	client.Send(req, func(rsp *Response, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		resp = rsp
		close(done)
	})

	pumpUntilClient(t, r, done, 10*time.Second)
	if string(resp.Body) != "foobar" {
		t.Fatalf("body = %q, want foobar", resp.Body)
	}
}

func TestRedirectChainFollowed(t *testing.T) {
	addr := startTestServer(t, func(conn net.Conn, req *testRequest) {
		switch req.Target {
		case "/a":
			conn.Write([]byte("HTTP/1.1 302 Found\r\nLocation: /b\r\nContent-Length: 0\r\n\r\n"))
		case "/b":
			conn.Write([]byte("HTTP/1.1 302 Found\r\nLocation: /c\r\nContent-Length: 0\r\n\r\n"))
		case "/c":
			conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
		default:
			conn.Write([]byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"))
		}
	})
	host, port := hostPort(t, addr)

	client, r := newTestClient(t)
	u := uri.URI{}.WithScheme("http").WithHost(host).WithPort(strconv.Itoa(port)).WithPath("/a")
	req := NewRequest("GET", u)
	req.MaxRedirects = 5

	done := make(chan struct{})
	var resp *Response
	client.Send(req, func(rsp *Response, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		resp = rsp
		close(done)
	})

	pumpUntilClient(t, r, done, 10*time.Second)
	if string(resp.Body) != "ok" {
		t.Fatalf("body = %q, want ok", resp.Body)
	}
	if len(resp.RedirectHistory) != 2 {
		t.Fatalf("redirect history length = %d, want 2: %v", len(resp.RedirectHistory), resp.RedirectHistory)
	}
	if resp.RedirectHistory[0].Path() != "/a" || resp.RedirectHistory[1].Path() != "/b" {
		t.Fatalf("unexpected redirect history: %v", resp.RedirectHistory)
	}
}

func TestTooManyRedirectsFailsWithTooManyRedirects(t *testing.T) {
	addr := startTestServer(t, func(conn net.Conn, req *testRequest) {
		switch req.Target {
		case "/a":
			conn.Write([]byte("HTTP/1.1 302 Found\r\nLocation: /b\r\nContent-Length: 0\r\n\r\n"))
		case "/b":
			conn.Write([]byte("HTTP/1.1 302 Found\r\nLocation: /c\r\nContent-Length: 0\r\n\r\n"))
		default:
			conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
		}
	})
	host, port := hostPort(t, addr)

	client, r := newTestClient(t)
	u := uri.URI{}.WithScheme("http").WithHost(host).WithPort(strconv.Itoa(port)).WithPath("/a")
	req := NewRequest("GET", u)
	req.MaxRedirects = 1

	done := make(chan struct{})
	var gotErr error
	client.Send(req, func(rsp *Response, err error) {
		gotErr = err
		close(done)
	})

	pumpUntilClient(t, r, done, 10*time.Second)
	// With maxRedirects=1, the single hop a->b is followed, but the
	// second hop b->c exceeds the cap and the request fails outright.
	xerr, ok := gotErr.(*xerrors.Error)
	if !ok {
		t.Fatalf("error = %v (%T), want *xerrors.Error", gotErr, gotErr)
	}
	if xerr.Kind != xerrors.KindHTTPTooManyRedirects {
		t.Fatalf("error kind = %v, want %v", xerr.Kind, xerrors.KindHTTPTooManyRedirects)
	}
}

func TestRedirectLoopFailsWithRedirectLoop(t *testing.T) {
	addr := startTestServer(t, func(conn net.Conn, req *testRequest) {
		switch req.Target {
		case "/a":
			conn.Write([]byte("HTTP/1.1 302 Found\r\nLocation: /b\r\nContent-Length: 0\r\n\r\n"))
		default:
			conn.Write([]byte("HTTP/1.1 302 Found\r\nLocation: /a\r\nContent-Length: 0\r\n\r\n"))
		}
	})
	host, port := hostPort(t, addr)

	client, r := newTestClient(t)
	u := uri.URI{}.WithScheme("http").WithHost(host).WithPort(strconv.Itoa(port)).WithPath("/a")
	req := NewRequest("GET", u)
	req.MaxRedirects = 10

	done := make(chan struct{})
	var gotErr error
	client.Send(req, func(rsp *Response, err error) {
		gotErr = err
		close(done)
	})

	pumpUntilClient(t, r, done, 10*time.Second)
	xerr, ok := gotErr.(*xerrors.Error)
	if !ok {
		t.Fatalf("error = %v (%T), want *xerrors.Error", gotErr, gotErr)
	}
	if xerr.Kind != xerrors.KindHTTPRedirectLoop {
		t.Fatalf("error kind = %v, want %v", xerr.Kind, xerrors.KindHTTPRedirectLoop)
	}
}

func TestFollowSameOriginStopsAtCrossOriginRedirect(t *testing.T) {
	other := startTestServer(t, func(conn net.Conn, req *testRequest) {
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nno"))
	})
	otherHost, otherPort := hostPort(t, other)

	addr := startTestServer(t, func(conn net.Conn, req *testRequest) {
		location := fmt.Sprintf("http://%s:%d/elsewhere", otherHost, otherPort)
		conn.Write([]byte("HTTP/1.1 302 Found\r\nLocation: " + location + "\r\nContent-Length: 0\r\n\r\n"))
	})
	host, port := hostPort(t, addr)

	client, r := newTestClient(t)
	u := uri.URI{}.WithScheme("http").WithHost(host).WithPort(strconv.Itoa(port)).WithPath("/a")
	req := NewRequest("GET", u) // FollowSameOrigin is NewRequest's default.

	done := make(chan struct{})
	var resp *Response
	var gotErr error
	client.Send(req, func(rsp *Response, err error) {
		resp, gotErr = rsp, err
		close(done)
	})

	pumpUntilClient(t, r, done, 10*time.Second)
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if resp.StatusCode != 302 {
		t.Fatalf("status = %d, want 302 (cross-origin redirect surfaced as-is)", resp.StatusCode)
	}
	if len(resp.RedirectHistory) != 0 {
		t.Fatalf("redirect history = %v, want none", resp.RedirectHistory)
	}
}

func TestFollowAllFollowsCrossOriginRedirect(t *testing.T) {
	other := startTestServer(t, func(conn net.Conn, req *testRequest) {
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\nyes"))
	})
	otherHost, otherPort := hostPort(t, other)

	addr := startTestServer(t, func(conn net.Conn, req *testRequest) {
		location := fmt.Sprintf("http://%s:%d/elsewhere", otherHost, otherPort)
		conn.Write([]byte("HTTP/1.1 302 Found\r\nLocation: " + location + "\r\nContent-Length: 0\r\n\r\n"))
	})
	host, port := hostPort(t, addr)

	client, r := newTestClient(t)
	u := uri.URI{}.WithScheme("http").WithHost(host).WithPort(strconv.Itoa(port)).WithPath("/a")
	req := NewRequest("GET", u)
	req.RedirectPolicy = FollowAll

	done := make(chan struct{})
	var resp *Response
	var gotErr error
	client.Send(req, func(rsp *Response, err error) {
		resp, gotErr = rsp, err
		close(done)
	})

	pumpUntilClient(t, r, done, 10*time.Second)
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "yes" {
		t.Fatalf("resp = %+v, want 200 yes", resp)
	}
}

func TestDownloadAndUploadProgressAreEmitted(t *testing.T) {
	addr := startTestServer(t, func(conn net.Conn, req *testRequest) {
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nHELLO"))
	})
	host, port := hostPort(t, addr)

	client, r := newTestClient(t)
	u := uri.URI{}.WithScheme("http").WithHost(host).WithPort(strconv.Itoa(port)).WithPath("/echo")
	req := NewRequest("POST", u)
	req.Body = []byte("payload")

	var downloadEvents, uploadEvents []ProgressEvent
	client.DownloadProgress.Connect(func(e ProgressEvent) { downloadEvents = append(downloadEvents, e) })
	client.UploadProgress.Connect(func(e ProgressEvent) { uploadEvents = append(uploadEvents, e) })

	done := make(chan struct{})
	client.Send(req, func(rsp *Response, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		close(done)
	})

	pumpUntilClient(t, r, done, 10*time.Second)
	if len(uploadEvents) != 1 || uploadEvents[0].Transferred != 7 || uploadEvents[0].Total != 7 {
		t.Fatalf("upload events = %+v, want one event with 7/7", uploadEvents)
	}
	if len(downloadEvents) == 0 {
		t.Fatal("no download progress events emitted")
	}
	last := downloadEvents[len(downloadEvents)-1]
	if last.Transferred != 5 || last.Total != 5 {
		t.Fatalf("final download event = %+v, want 5/5", last)
	}
}

func TestCookieRoundTrip(t *testing.T) {
	addr := startTestServer(t, func(conn net.Conn, req *testRequest) {
		switch req.Target {
		case "/set":
			conn.Write([]byte("HTTP/1.1 200 OK\r\nSet-Cookie: session=abc123; Path=/\r\nContent-Length: 0\r\n\r\n"))
		case "/check":
			cookie := req.Headers["cookie"]
			body := "cookie=" + cookie
			conn.Write([]byte(fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)))
		}
	})
	host, port := hostPort(t, addr)

	client, r := newTestClient(t)
	base := uri.URI{}.WithScheme("http").WithHost(host).WithPort(strconv.Itoa(port))

	done1 := make(chan struct{})
	client.Send(NewRequest("GET", base.WithPath("/set")), func(rsp *Response, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		close(done1)
	})
	pumpUntilClient(t, r, done1, 10*time.Second)

	done2 := make(chan struct{})
	var resp2 *Response
	client.Send(NewRequest("GET", base.WithPath("/check")), func(rsp *Response, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		resp2 = rsp
		close(done2)
	})
	pumpUntilClient(t, r, done2, 10*time.Second)

	if string(resp2.Body) != "cookie=session=abc123" {
		t.Fatalf("body = %q, want cookie=session=abc123", resp2.Body)
	}
}
