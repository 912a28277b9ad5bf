package httpclient

import (
	"strconv"
	"sync"

	"github.com/fastpath/netkit/pkg/dnsresolver"
	"github.com/fastpath/netkit/pkg/httpsession"
	"github.com/fastpath/netkit/pkg/reactor"
	"github.com/fastpath/netkit/pkg/signal"
)

// RequestError pairs a failed request with the error that killed it,
// carried by Client's Error signal.
type RequestError struct {
	Request *Request
	Err     error
}

// ProgressEvent reports partial transfer progress for a request. Total is
// -1 when the length is unknown ahead of time (chunked, or a response body
// read until connection close).
type ProgressEvent struct {
	Request     *Request
	Transferred int64
	Total       int64
}

// Client orchestrates requests against a Session's pooled connections.
type Client struct {
	reactor  *reactor.Reactor
	session  *httpsession.Session
	resolver *dnsresolver.Resolver

	mu     sync.Mutex
	active map[*requestState]struct{}

	AboutToSendRequest *signal.Signal[*Request]
	ResponseReceived   *signal.Signal[*Response]
	Error              *signal.Signal[RequestError]
	DownloadProgress   *signal.Signal[ProgressEvent]
	UploadProgress     *signal.Signal[ProgressEvent]
}

// New creates a Client bound to r, sharing session's cookies/pool/policy
// and resolving hostnames through resolver.
func New(r *reactor.Reactor, session *httpsession.Session, resolver *dnsresolver.Resolver) *Client {
	return &Client{
		reactor:            r,
		session:            session,
		resolver:           resolver,
		active:             make(map[*requestState]struct{}),
		AboutToSendRequest: signal.New[*Request](),
		ResponseReceived:   signal.New[*Response](),
		Error:              signal.New[RequestError](),
		DownloadProgress:   signal.New[ProgressEvent](),
		UploadProgress:     signal.New[ProgressEvent](),
	}
}

// Session returns the client's underlying session.
func (c *Client) Session() *httpsession.Session { return c.session }

// Handle lets the caller cancel an in-flight request.
type Handle struct {
	state *requestState
}

// Cancel aborts the request: no further callback or signal fires for it.
func (h *Handle) Cancel() {
	h.state.cancel()
}

// Send issues req and invokes cb exactly once, with either a completed
// Response or a non-nil error — never both — unless the request is first
// cancelled through the returned Handle, after which cb does not fire.
func (c *Client) Send(req *Request, cb func(*Response, error)) *Handle {
	st := &requestState{
		client: c,
		req:    req,
		cb:     cb,
	}
	c.mu.Lock()
	c.active[st] = struct{}{}
	c.mu.Unlock()

	st.start()
	return &Handle{state: st}
}

// CancelAll aborts every in-flight request. No further callbacks fire for
// any of them.
func (c *Client) CancelAll() {
	c.mu.Lock()
	states := make([]*requestState, 0, len(c.active))
	for st := range c.active {
		states = append(states, st)
	}
	c.mu.Unlock()
	for _, st := range states {
		st.cancel()
	}
}

func (c *Client) forget(st *requestState) {
	c.mu.Lock()
	delete(c.active, st)
	c.mu.Unlock()
}

func portNumber(portStr string) int {
	n, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return n
}
