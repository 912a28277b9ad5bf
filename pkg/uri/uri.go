// Package uri implements RFC 3986 parsing, normalization, and relative
// resolution for the URIs consumed by the HTTP, SSE, and WebSocket clients.
package uri

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// KeyValue is one entry of an ordered query multimap.
type KeyValue struct {
	Key   string
	Value string
}

// URI is an immutable, decomposed RFC 3986 reference. All With* methods
// return a new value; the receiver is never mutated.
type URI struct {
	scheme   string
	userInfo string
	host     string
	port     string // empty means "not specified"
	path     string
	query    []KeyValue
	fragment string
}

var defaultPorts = map[string]string{
	"http": "80", "https": "443", "ws": "80", "wss": "443", "ftp": "21",
}

// Parse decomposes raw into a URI. It accepts both absolute URIs
// (scheme://host/path) and relative references (/path?query#frag).
func Parse(raw string) (URI, error) {
	var u URI
	rest := raw

	if idx := strings.Index(rest, ":"); idx > 0 && isValidScheme(rest[:idx]) {
		// Distinguish "scheme:" from a bare path containing a colon (e.g. a
		// Windows-style path) by requiring "//" after the scheme, OR a
		// known scheme name.
		if strings.HasPrefix(rest[idx+1:], "//") || looksLikeScheme(rest[:idx]) {
			u.scheme = strings.ToLower(rest[:idx])
			rest = rest[idx+1:]
		}
	}

	if idx := strings.Index(rest, "#"); idx >= 0 {
		u.fragment = rest[idx+1:]
		rest = rest[:idx]
	}

	if idx := strings.Index(rest, "?"); idx >= 0 {
		u.query = parseQuery(rest[idx+1:])
		rest = rest[:idx]
	}

	if strings.HasPrefix(rest, "//") {
		rest = rest[2:]
		authority := rest
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			authority = rest[:idx]
			rest = rest[idx:]
		} else {
			rest = ""
		}

		if idx := strings.LastIndex(authority, "@"); idx >= 0 {
			u.userInfo = authority[:idx]
			authority = authority[idx+1:]
		}

		if strings.HasPrefix(authority, "[") {
			if idx := strings.Index(authority, "]"); idx >= 0 {
				u.host = authority[:idx+1]
				remainder := authority[idx+1:]
				if strings.HasPrefix(remainder, ":") {
					u.port = remainder[1:]
				}
			} else {
				return URI{}, fmt.Errorf("uri: unterminated IPv6 literal in %q", raw)
			}
		} else if idx := strings.LastIndex(authority, ":"); idx >= 0 {
			u.host = authority[:idx]
			u.port = authority[idx+1:]
		} else {
			u.host = authority
		}

		if u.port != "" {
			if _, err := strconv.Atoi(u.port); err != nil {
				return URI{}, fmt.Errorf("uri: invalid port %q", u.port)
			}
		}
	}

	u.path = rest
	return u, nil
}

func looksLikeScheme(s string) bool {
	switch strings.ToLower(s) {
	case "http", "https", "ws", "wss", "ftp", "file", "mqtt", "mqtts":
		return true
	}
	return false
}

func isValidScheme(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9', c == '+', c == '-', c == '.':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func parseQuery(raw string) []KeyValue {
	if raw == "" {
		return nil
	}
	var kvs []KeyValue
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			kvs = append(kvs, KeyValue{Key: unescape(pair[:idx]), Value: unescape(pair[idx+1:])})
		} else {
			kvs = append(kvs, KeyValue{Key: unescape(pair), Value: ""})
		}
	}
	return kvs
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// IsAbsolute reports whether the URI carries a scheme.
func (u URI) IsAbsolute() bool { return u.scheme != "" }

func (u URI) Scheme() string   { return u.scheme }
func (u URI) UserInfo() string { return u.userInfo }
func (u URI) Host() string     { return u.host }
func (u URI) Path() string     { return u.path }
func (u URI) Fragment() string { return u.fragment }

// Port returns the explicit port, or the scheme's default, or "".
func (u URI) Port() string {
	if u.port != "" {
		return u.port
	}
	return defaultPorts[u.scheme]
}

// HasExplicitPort reports whether the authority carried a :port component.
func (u URI) HasExplicitPort() bool { return u.port != "" }

// Query returns the ordered key/value pairs, preserving insertion order.
func (u URI) Query() []KeyValue { return append([]KeyValue(nil), u.query...) }

// QueryValue returns the first value for key, and whether it was present.
func (u URI) QueryValue(key string) (string, bool) {
	for _, kv := range u.query {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// WithScheme returns a copy with scheme replaced.
func (u URI) WithScheme(scheme string) URI { u.scheme = scheme; return u }

// WithHost returns a copy with host replaced.
func (u URI) WithHost(host string) URI { u.host = host; return u }

// WithPort returns a copy with an explicit port.
func (u URI) WithPort(port string) URI { u.port = port; return u }

// WithPath returns a copy with path replaced.
func (u URI) WithPath(path string) URI { u.path = path; return u }

// WithQuery returns a copy with the query multimap replaced.
func (u URI) WithQuery(kvs []KeyValue) URI {
	u.query = append([]KeyValue(nil), kvs...)
	return u
}

// WithFragment returns a copy with the fragment replaced.
func (u URI) WithFragment(fragment string) URI { u.fragment = fragment; return u }

// RequestTarget returns "path?query" suitable for an HTTP/1.1 request line.
func (u URI) RequestTarget() string {
	path := u.path
	if path == "" {
		path = "/"
	}
	if len(u.query) == 0 {
		return path
	}
	return path + "?" + encodeQuery(u.query)
}

func encodeQuery(kvs []KeyValue) string {
	var b strings.Builder
	for i, kv := range kvs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(kv.Key))
		b.WriteByte('=')
		b.WriteString(escape(kv.Value))
	}
	return b.String()
}

func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// String renders the URI back to its textual form.
func (u URI) String() string {
	var b strings.Builder
	if u.scheme != "" {
		b.WriteString(u.scheme)
		b.WriteByte(':')
	}
	if u.host != "" || u.userInfo != "" {
		b.WriteString("//")
		if u.userInfo != "" {
			b.WriteString(u.userInfo)
			b.WriteByte('@')
		}
		b.WriteString(u.host)
		if u.port != "" {
			b.WriteByte(':')
			b.WriteString(u.port)
		}
	}
	b.WriteString(u.path)
	if len(u.query) > 0 {
		b.WriteByte('?')
		b.WriteString(encodeQuery(u.query))
	}
	if u.fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.fragment)
	}
	return b.String()
}

// Normalized returns a copy with the scheme and host lower-cased, IDN hosts
// ASCII-encoded, the default port for the scheme dropped, and "."/".."
// segments collapsed out of the path.
func (u URI) Normalized() URI {
	n := u
	n.scheme = strings.ToLower(u.scheme)
	if host, err := idna.Lookup.ToASCII(strings.ToLower(u.host)); err == nil {
		n.host = host
	} else {
		n.host = strings.ToLower(u.host)
	}
	if n.port == defaultPorts[n.scheme] {
		n.port = ""
	}
	n.path = collapseDotSegments(u.path)
	return n
}

// collapseDotSegments implements RFC 3986 §5.2.4.
func collapseDotSegments(path string) string {
	if path == "" {
		return path
	}
	absolute := strings.HasPrefix(path, "/")
	segs := strings.Split(path, "/")
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		switch s {
		case ".":
			// drop
		case "..":
			if len(out) > 0 && out[len(out)-1] != "" {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, s)
		}
	}
	result := strings.Join(out, "/")
	if absolute && !strings.HasPrefix(result, "/") {
		result = "/" + result
	}
	return result
}

// Resolved implements RFC 3986 §5 reference resolution of rel against the
// receiver taken as the base URI.
func (base URI) Resolved(rel URI) URI {
	if rel.IsAbsolute() {
		return rel.Normalized()
	}

	var target URI
	target.scheme = base.scheme

	if rel.host != "" {
		target.userInfo = rel.userInfo
		target.host = rel.host
		target.port = rel.port
		target.path = collapseDotSegments(rel.path)
		target.query = rel.query
	} else {
		target.userInfo = base.userInfo
		target.host = base.host
		target.port = base.port

		switch {
		case rel.path == "":
			target.path = base.path
			if len(rel.query) > 0 {
				target.query = rel.query
			} else {
				target.query = base.query
			}
		case strings.HasPrefix(rel.path, "/"):
			target.path = collapseDotSegments(rel.path)
			target.query = rel.query
		default:
			target.path = collapseDotSegments(mergePaths(base, rel.path))
			target.query = rel.query
		}
	}
	target.fragment = rel.fragment
	return target
}

func mergePaths(base URI, relPath string) string {
	if base.host != "" && base.path == "" {
		return "/" + relPath
	}
	if idx := strings.LastIndex(base.path, "/"); idx >= 0 {
		return base.path[:idx+1] + relPath
	}
	return relPath
}
