// Package xerrors provides the structured error taxonomy shared by every
// layer of the networking stack, from DNS resolution up through the
// WebSocket client.
package xerrors

import (
	"fmt"
	"time"
)

// Kind classifies a failure so callers can branch on it without parsing
// error strings.
type Kind string

const (
	KindInvalidArgument      Kind = "invalid_argument"
	KindDNSNotFound          Kind = "dns_not_found"
	KindDNSTimeout           Kind = "dns_timeout"
	KindDNSCancelled         Kind = "dns_cancelled"
	KindDNSResolverInitFail  Kind = "dns_resolver_init_failed"
	KindDNSOther             Kind = "dns_other"
	KindConnectRefused       Kind = "connect_refused"
	KindConnectTimeout       Kind = "connect_timeout"
	KindConnectUnreachable   Kind = "connect_unreachable"
	KindSocketReset          Kind = "socket_reset"
	KindSocketClosed         Kind = "socket_closed"
	KindSocketIO             Kind = "socket_io"
	KindTLSHandshakeFailed   Kind = "tls_handshake_failed"
	KindTLSCertificateInvalid Kind = "tls_certificate_invalid"
	KindTLSIo                Kind = "tls_io"
	KindHTTPParseError       Kind = "http_parse_error"
	KindHTTPRedirectLoop     Kind = "http_redirect_loop"
	KindHTTPTooManyRedirects Kind = "http_too_many_redirects"
	KindHTTPTimeout          Kind = "http_timeout"
	KindSSEBadContentType    Kind = "sse_bad_content_type"
	KindSSEHTTPStatus        Kind = "sse_http_status"
	KindWSHandshakeRejected  Kind = "ws_handshake_rejected"
	KindWSBadAccept          Kind = "ws_bad_accept"
	KindWSProtocolError      Kind = "ws_protocol_error"
	KindWSMessageTooBig      Kind = "ws_message_too_big"
	KindWSAbnormalClosure    Kind = "ws_abnormal_closure"
	KindCancelled            Kind = "cancelled"
)

// Error is the structured error type returned across the module boundary.
// It always carries a Kind so callers can use errors.As plus a type switch
// on Kind, and it preserves the triggering cause via Unwrap.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Host      string
	Port      int
	Cause     error
	Timestamp time.Time
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Timestamp: time.Now()}
}

func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: cause.Error(), Cause: cause, Timestamp: time.Now()}
}

func (e *Error) WithAddr(host string, port int) *Error {
	e.Host = host
	e.Port = port
	return e
}

func (e *Error) Error() string {
	addr := e.Host
	if e.Port != 0 {
		addr = fmt.Sprintf("%s:%d", e.Host, e.Port)
	}
	switch {
	case addr != "" && e.Cause != nil:
		return fmt.Sprintf("[%s] %s %s: %s: %v", e.Kind, e.Op, addr, e.Message, e.Cause)
	case addr != "":
		return fmt.Sprintf("[%s] %s %s: %s", e.Kind, e.Op, addr, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Is reports whether err is a structured Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}
