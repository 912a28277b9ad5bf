// Package httpclient implements spec.md's C11: the request pipeline that
// orchestrates DNS (C5), TCP/TLS sockets (C6/C7), the incremental parser
// (C8), cookies (C9), and the session's default headers and connection
// pool (C10) into a single send(request) -> response(callback) call.
package httpclient

import (
	"time"

	"github.com/fastpath/netkit/pkg/httpsession"
	"github.com/fastpath/netkit/pkg/uri"
)

// RedirectPolicy controls whether and when a 3xx response is followed
// automatically.
type RedirectPolicy int

const (
	DontFollow RedirectPolicy = iota
	FollowSameOrigin
	FollowAll
)

// AuthKind selects the Authorization header strategy applied in Prepare.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthBasic
	AuthBearer
)

// Auth configures request authentication.
type Auth struct {
	Kind  AuthKind
	User  string
	Pass  string
	Token string
}

// Request is a single outgoing HTTP request.
type Request struct {
	Method string
	URI    uri.URI
	Headers httpsession.Headers
	Body   []byte

	Timeout        time.Duration
	RedirectPolicy RedirectPolicy
	MaxRedirects   int // 0 means "use the session's default"

	Auth                 Auth
	AutoAddCommonHeaders bool

	// OnHeaders, if set, is invoked once the response status line and
	// headers are known, before any body bytes arrive — used by the SSE
	// client to validate status/content-type ahead of streaming.
	OnHeaders func(resp *Response)

	// OnChunk, if set, is invoked once per body chunk as it arrives
	// instead of buffering the body into Response.Body — used by the SSE
	// client to forward bytes chunk-wise per spec.md §4.C11 step 4.
	OnChunk func(chunk []byte)
}

// NewRequest builds a Request with the common defaults: common headers
// auto-added, redirects followed same-origin, no auth.
func NewRequest(method string, u uri.URI) *Request {
	return &Request{
		Method:               method,
		URI:                  u,
		RedirectPolicy:       FollowSameOrigin,
		AutoAddCommonHeaders: true,
	}
}

// clone returns a deep-enough copy for redirect handling: headers and body
// get independent backing storage so mutating the clone never affects the
// original request the caller holds.
func (r *Request) clone() *Request {
	cp := *r
	cp.Headers = r.Headers.Clone()
	if r.Body != nil {
		cp.Body = append([]byte(nil), r.Body...)
	}
	return &cp
}
