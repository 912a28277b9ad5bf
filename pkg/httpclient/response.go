package httpclient

import (
	"mime"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/fastpath/netkit/pkg/httpsession"
	"github.com/fastpath/netkit/pkg/uri"
)

// Response is the result of a completed (non-redirected, or final-hop)
// request.
type Response struct {
	StatusCode int
	Reason     string
	Version    string
	Headers    httpsession.Headers
	Body       []byte

	TransportError  error
	RedirectHistory []uri.URI
}

// Header returns the first value of name, or "".
func (r *Response) Header(name string) string { return r.Headers.Get(name) }

// BodyString decodes Body as text, honoring a charset parameter on the
// response's Content-Type header (e.g. "text/html; charset=iso-8859-1"). A
// missing or unrecognized charset is treated as UTF-8, HTTP's default.
func (r *Response) BodyString() (string, error) {
	_, params, err := mime.ParseMediaType(r.Headers.Get("Content-Type"))
	if err != nil || params["charset"] == "" {
		return string(r.Body), nil
	}
	enc, err := htmlindex.Get(params["charset"])
	if err != nil {
		return string(r.Body), nil
	}
	decoded, err := enc.NewDecoder().Bytes(r.Body)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func isRedirectStatus(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// rewritesToGet reports whether a redirect for this status and the
// original request's method should rewrite the method to GET and drop the
// body, per spec.md §4.C11's redirect rules.
func rewritesToGet(status int, method string) bool {
	if status == 303 {
		return true
	}
	if (status == 301 || status == 302) && method == "POST" {
		return true
	}
	return false
}
