package httpclient

import (
	"encoding/base64"
	"strconv"
	"strings"
	"sync"

	"github.com/fastpath/netkit/internal/xerrors"
	"github.com/fastpath/netkit/pkg/httpparser"
	"github.com/fastpath/netkit/pkg/httpsession"
	"github.com/fastpath/netkit/pkg/reactor"
	"github.com/fastpath/netkit/pkg/tcpsocket"
	"github.com/fastpath/netkit/pkg/tlssocket"
	"github.com/fastpath/netkit/pkg/uri"
)

// requestState is the live object behind one Send call, including every
// redirect hop it follows. Only the owning reactor's goroutine touches it,
// except for the mu-guarded `done` flag which Cancel sets from any
// goroutine.
type requestState struct {
	client *Client
	req    *Request
	cb     func(*Response, error)

	mu   sync.Mutex
	done bool

	redirectsTaken  int
	redirectHistory []uri.URI

	key           httpsession.Key
	conn          httpsession.Conn
	freshConn     bool // true if conn wasn't pulled from the pool (don't pool-return on failure)
	parser        *httpparser.Parser
	respHeaders   httpsession.Headers
	respFirst     httpparser.FirstLine
	bodyBuf       []byte
	bytesReceived int64
	contentLength int64 // -1 when unknown ahead of time
	redirectLoc   string
	isRedirect    bool
	redirectErr   *xerrors.Error // set when the redirect must fail rather than be followed
	timeoutTimer  *reactor.Timer
}

func (st *requestState) isDone() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.done
}

func (st *requestState) cancel() {
	st.mu.Lock()
	if st.done {
		st.mu.Unlock()
		return
	}
	st.done = true
	st.mu.Unlock()

	if st.timeoutTimer != nil {
		st.client.reactor.StopTimer(st.timeoutTimer)
	}
	if st.conn != nil {
		st.conn.Close()
	}
	st.client.forget(st)
}

func (st *requestState) start() {
	st.prepare()

	host := st.req.URI.Host()
	secure := st.req.URI.Scheme() == "https"
	port := portNumber(st.req.URI.Port())
	st.key = httpsession.Key{Host: host, Port: port, Secure: secure}

	st.client.AboutToSendRequest.Emit(st.req)

	if conn := st.client.session.GetConnection(st.key); conn != nil {
		st.conn = conn
		st.freshConn = false
		st.attachConn()
		st.armTimeout()
		st.sendRequest()
		return
	}

	st.freshConn = true
	st.armTimeout()

	tcp := tcpsocket.New(st.client.reactor, st.client.resolver)
	if secure {
		tlsSock := tlssocket.Dial(st.client.reactor, tcp, host, port, tlssocket.Config{
			ServerName: host,
			VerifyMode: tlssocket.VerifyPeer,
		})
		st.conn = httpsession.WrapTLS(tlsSock)
		st.attachConn()
		tlsSock.HandshakeCompleted.Connect(func(struct{}) {
			if st.isDone() {
				return
			}
			st.sendRequest()
		})
		tlsSock.HandshakeError.Connect(func(err error) {
			if st.isDone() {
				return
			}
			st.fail(xerrors.Wrap(xerrors.KindTLSHandshakeFailed, "httpclient.connect", err))
		})
		return
	}

	st.conn = httpsession.WrapTCP(tcp)
	st.attachConn()
	tcp.Connected.Connect(func(struct{}) {
		if st.isDone() {
			return
		}
		st.sendRequest()
	})
	tcp.ConnectToHost(host, port)
}

func (st *requestState) attachConn() {
	st.conn.OnBytesReceived(func(int) {
		if st.isDone() {
			return
		}
		st.onBytesReceived()
	})
	st.conn.OnDisconnected(func() {
		if st.isDone() {
			return
		}
		st.onDisconnected()
	})
	st.conn.OnError(func(err error) {
		if st.isDone() {
			return
		}
		st.fail(xerrors.Wrap(xerrors.KindSocketIO, "httpclient.transport", err))
	})
}

func (st *requestState) armTimeout() {
	if st.req.Timeout <= 0 {
		return
	}
	st.timeoutTimer = st.client.reactor.CreateTimer(st.req.Timeout, false, func() {
		if st.isDone() {
			return
		}
		st.fail(xerrors.New(xerrors.KindHTTPTimeout, "httpclient.timeout", "request timed out"))
	})
}

// prepare applies default headers, cookies, and auto-added common headers,
// per spec.md §4.C11 step 1.
func (st *requestState) prepare() {
	req := st.req
	st.client.session.ApplyDefaultHeaders(&req.Headers)

	switch req.Auth.Kind {
	case AuthBasic:
		token := base64.StdEncoding.EncodeToString([]byte(req.Auth.User + ":" + req.Auth.Pass))
		req.Headers.Set("Authorization", "Basic "+token)
	case AuthBearer:
		req.Headers.Set("Authorization", "Bearer "+req.Auth.Token)
	}

	if cookieHeader := st.client.session.CookieJar().CookieHeaderForURL(req.URI); cookieHeader != "" {
		req.Headers.Set("Cookie", cookieHeader)
	}

	if req.AutoAddCommonHeaders {
		host := req.URI.Host()
		if req.URI.HasExplicitPort() {
			host += ":" + req.URI.Port()
		}
		if !req.Headers.Has("Host") {
			req.Headers.Set("Host", host)
		}
		needsLength := len(req.Body) > 0 || req.Method == "POST" || req.Method == "PUT" || req.Method == "PATCH"
		if needsLength && !req.Headers.Has("Content-Length") {
			req.Headers.Set("Content-Length", strconv.Itoa(len(req.Body)))
		}
		if !req.Headers.Has("Connection") {
			req.Headers.Set("Connection", "keep-alive")
		}
	}

	st.parser = httpparser.New(httpparser.ModeResponse, httpparser.Callbacks{
		OnHeadersComplete: st.onHeadersComplete,
		OnBody:            st.onBody,
		OnMessageComplete: st.onMessageComplete,
		OnError:           st.onParseError,
	})
}

func (st *requestState) sendRequest() {
	if st.isDone() {
		return
	}
	var sb strings.Builder
	sb.WriteString(st.req.Method)
	sb.WriteByte(' ')
	sb.WriteString(st.req.URI.RequestTarget())
	sb.WriteString(" HTTP/1.1\r\n")
	st.req.Headers.Each(func(name, value string) {
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteString("\r\n")
	})
	sb.WriteString("\r\n")

	st.conn.Write([]byte(sb.String()))
	if len(st.req.Body) > 0 {
		st.conn.Write(st.req.Body)
		total := int64(len(st.req.Body))
		st.client.UploadProgress.Emit(ProgressEvent{
			Request:     st.req,
			Transferred: total,
			Total:       total,
		})
	}
}

func (st *requestState) onBytesReceived() {
	data := st.conn.ReadAll()
	if len(data) == 0 {
		return
	}
	st.parser.Feed(data)
}

func (st *requestState) onDisconnected() {
	if st.isDone() {
		return
	}
	// A response with no declared length and no chunking is only complete
	// once the connection closes.
	if !st.parser.Done() && !st.parser.Failed() {
		st.parser.Finish()
	}
}

func (st *requestState) onHeadersComplete(first httpparser.FirstLine, headers httpparser.Headers) {
	st.respFirst = first
	var h httpsession.Headers
	for _, kv := range headers {
		h.Add(kv.Name, kv.Value)
	}
	st.respHeaders = h

	st.bytesReceived = 0
	st.contentLength = -1
	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		st.contentLength = n
	}

	if setCookies := h.Values("set-cookie"); len(setCookies) > 0 {
		st.client.session.CookieJar().ParseSetCookieHeaders(st.req.URI, setCookies)
	}

	st.isRedirect = false
	st.redirectErr = nil
	if isRedirectStatus(first.StatusCode) && st.req.RedirectPolicy != DontFollow {
		if loc := h.Get("Location"); loc != "" {
			target := st.resolveLocation(loc)
			if st.req.RedirectPolicy == FollowSameOrigin && !sameOrigin(st.req.URI, target) {
				// Surface the 3xx as-is rather than leaking Authorization
				// and other request headers to a foreign origin.
			} else {
				maxRedirects := st.req.MaxRedirects
				if maxRedirects <= 0 {
					maxRedirects = st.client.session.MaxRedirects()
				}
				switch {
				case redirectHistoryContains(st.redirectHistory, target):
					st.isRedirect = true
					st.redirectLoc = loc
					st.redirectErr = xerrors.New(xerrors.KindHTTPRedirectLoop, "httpclient.redirect", "redirect loop detected at "+target.String())
				case st.redirectsTaken >= maxRedirects:
					st.isRedirect = true
					st.redirectLoc = loc
					st.redirectErr = xerrors.New(xerrors.KindHTTPTooManyRedirects, "httpclient.redirect", "exceeded maximum of redirects")
				default:
					st.isRedirect = true
					st.redirectLoc = loc
				}
			}
		}
	}

	if st.req.OnHeaders != nil && !st.isRedirect {
		st.req.OnHeaders(&Response{
			StatusCode: first.StatusCode,
			Reason:     first.Reason,
			Version:    first.Version,
			Headers:    h,
		})
	}
}

func (st *requestState) onBody(chunk []byte) {
	if st.isRedirect {
		return
	}
	st.bytesReceived += int64(len(chunk))
	st.client.DownloadProgress.Emit(ProgressEvent{
		Request:     st.req,
		Transferred: st.bytesReceived,
		Total:       st.contentLength,
	})
	if st.req.OnChunk != nil {
		cp := append([]byte(nil), chunk...)
		st.req.OnChunk(cp)
		return
	}
	st.bodyBuf = append(st.bodyBuf, chunk...)
}

func (st *requestState) onMessageComplete() {
	if st.isDone() {
		return
	}
	if st.isRedirect {
		if st.redirectErr != nil {
			st.fail(st.redirectErr)
			return
		}
		st.doRedirect()
		return
	}
	st.finish()
}

// resolveLocation resolves a Location header value against the request's
// current URI, falling back to "/" on an unparsable value.
func (st *requestState) resolveLocation(loc string) uri.URI {
	rel, err := uri.Parse(loc)
	if err != nil {
		rel, _ = uri.Parse("/")
	}
	if rel.IsAbsolute() {
		return rel
	}
	return st.req.URI.Resolved(rel)
}

// sameOrigin reports whether a and b share scheme, host, and resolved port.
func sameOrigin(a, b uri.URI) bool {
	return a.Scheme() == b.Scheme() && a.Host() == b.Host() && a.Port() == b.Port()
}

// redirectHistoryContains reports whether target was already visited on
// this request's redirect chain, the signature of a redirect loop.
func redirectHistoryContains(history []uri.URI, target uri.URI) bool {
	for _, hop := range history {
		if sameOrigin(hop, target) && hop.RequestTarget() == target.RequestTarget() {
			return true
		}
	}
	return false
}

func (st *requestState) onParseError(err error) {
	if st.isDone() {
		return
	}
	st.fail(xerrors.Wrap(xerrors.KindHTTPParseError, "httpclient.parse", err))
}

func (st *requestState) doRedirect() {
	resolved := st.resolveLocation(st.redirectLoc)

	st.redirectHistory = append(st.redirectHistory, st.req.URI)
	st.redirectsTaken++

	newReq := st.req.clone()
	newReq.URI = resolved
	if rewritesToGet(st.respFirst.StatusCode, st.req.Method) {
		newReq.Method = "GET"
		newReq.Body = nil
	}
	// Host/Content-Length/Connection were computed for the previous hop's
	// URI and body; drop them so AutoAddCommonHeaders recomputes them for
	// the new destination in prepare().
	newReq.Headers.Remove("Host")
	newReq.Headers.Remove("Content-Length")
	newReq.Headers.Remove("Connection")
	st.req = newReq

	if st.conn != nil {
		if st.freshConn {
			st.conn.Close()
		} else {
			st.client.session.ReturnConnection(st.key, st.conn)
		}
	}
	st.conn = nil

	st.prepare()
	host := st.req.URI.Host()
	secure := st.req.URI.Scheme() == "https"
	port := portNumber(st.req.URI.Port())
	st.key = httpsession.Key{Host: host, Port: port, Secure: secure}

	if conn := st.client.session.GetConnection(st.key); conn != nil {
		st.conn = conn
		st.freshConn = false
		st.attachConn()
		st.sendRequest()
		return
	}

	st.freshConn = true
	tcp := tcpsocket.New(st.client.reactor, st.client.resolver)
	if secure {
		tlsSock := tlssocket.Dial(st.client.reactor, tcp, host, port, tlssocket.Config{
			ServerName: host,
			VerifyMode: tlssocket.VerifyPeer,
		})
		st.conn = httpsession.WrapTLS(tlsSock)
		st.attachConn()
		tlsSock.HandshakeCompleted.Connect(func(struct{}) {
			if !st.isDone() {
				st.sendRequest()
			}
		})
		tlsSock.HandshakeError.Connect(func(err error) {
			if !st.isDone() {
				st.fail(xerrors.Wrap(xerrors.KindTLSHandshakeFailed, "httpclient.redirect", err))
			}
		})
		return
	}

	st.conn = httpsession.WrapTCP(tcp)
	st.attachConn()
	tcp.Connected.Connect(func(struct{}) {
		if !st.isDone() {
			st.sendRequest()
		}
	})
	tcp.ConnectToHost(host, port)
}

func (st *requestState) finish() {
	st.mu.Lock()
	if st.done {
		st.mu.Unlock()
		return
	}
	st.done = true
	st.mu.Unlock()

	if st.timeoutTimer != nil {
		st.client.reactor.StopTimer(st.timeoutTimer)
	}

	keepAlive := !strings.EqualFold(st.respHeaders.Get("Connection"), "close")
	if keepAlive && st.conn != nil {
		st.client.session.ReturnConnection(st.key, st.conn)
	} else if st.conn != nil {
		st.conn.Close()
	}

	resp := &Response{
		StatusCode:      st.respFirst.StatusCode,
		Reason:          st.respFirst.Reason,
		Version:         st.respFirst.Version,
		Headers:         st.respHeaders,
		Body:            st.bodyBuf,
		RedirectHistory: st.redirectHistory,
	}

	st.client.forget(st)
	if st.cb != nil {
		st.cb(resp, nil)
	}
	st.client.ResponseReceived.Emit(resp)
}

func (st *requestState) fail(err *xerrors.Error) {
	st.mu.Lock()
	if st.done {
		st.mu.Unlock()
		return
	}
	st.done = true
	st.mu.Unlock()

	if st.timeoutTimer != nil {
		st.client.reactor.StopTimer(st.timeoutTimer)
	}
	if st.conn != nil {
		st.conn.Close()
	}

	st.client.forget(st)
	if st.cb != nil {
		st.cb(nil, err)
	}
	st.client.Error.Emit(RequestError{Request: st.req, Err: err})
}
