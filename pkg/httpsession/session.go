// Package httpsession implements spec.md's C10: default headers applied to
// outgoing requests, a per-(host,port,secure) connection pool, and the
// idle/redirect policy knobs the HTTP client pipeline (C11) reads.
package httpsession

import (
	"sync"
	"time"

	"github.com/fastpath/netkit/pkg/cookiejar"
)

// Key identifies a pool of connections to one logical endpoint.
type Key struct {
	Host   string
	Port   int
	Secure bool
}

type poolEntry struct {
	conn     Conn
	lastUsed time.Time
}

// Session holds everything the HTTP client pipeline shares across
// requests: cookies, default headers, pooled connections, and policy.
type Session struct {
	mu   sync.Mutex
	jar  *cookiejar.Jar
	defs Headers
	pool map[Key][]poolEntry

	connectionTimeout     time.Duration
	idleConnectionTimeout time.Duration
	maxConnectionsPerHost int
	followRedirects       bool
	maxRedirects          int
}

// New returns a Session with the teacher-observed defaults: a 10s connect
// timeout, 90s idle pool eviction, 6 pooled connections per host, redirects
// followed up to 10 hops.
func New() *Session {
	s := &Session{
		jar:                   cookiejar.New(),
		pool:                  make(map[Key][]poolEntry),
		connectionTimeout:     10 * time.Second,
		idleConnectionTimeout: 90 * time.Second,
		maxConnectionsPerHost: 6,
		followRedirects:       true,
		maxRedirects:          10,
	}
	s.defs.Set("User-Agent", "netkit-httpclient/1.0")
	s.defs.Set("Accept", "*/*")
	return s
}

// CookieJar returns the session's cookie jar.
func (s *Session) CookieJar() *cookiejar.Jar { return s.jar }

// DefaultHeader returns the configured value for name, or "".
func (s *Session) DefaultHeader(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defs.Get(name)
}

// SetDefaultHeader configures a header value applied to every request that
// doesn't already set it explicitly.
func (s *Session) SetDefaultHeader(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs.Set(name, value)
}

// RemoveDefaultHeader removes a previously configured default header.
func (s *Session) RemoveDefaultHeader(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs.Remove(name)
}

// SetUserAgent is shorthand for SetDefaultHeader("User-Agent", ua).
func (s *Session) SetUserAgent(ua string) { s.SetDefaultHeader("User-Agent", ua) }

// UserAgent is shorthand for DefaultHeader("User-Agent").
func (s *Session) UserAgent() string { return s.DefaultHeader("User-Agent") }

// ApplyDefaultHeaders sets, on req, every default header not already
// present — request-supplied values always win.
func (s *Session) ApplyDefaultHeaders(req *Headers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs.Each(func(name, value string) {
		if !req.Has(name) {
			req.Set(name, value)
		}
	})
}

func (s *Session) ConnectionTimeout() time.Duration { return s.connectionTimeout }
func (s *Session) SetConnectionTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectionTimeout = d
}

func (s *Session) IdleConnectionTimeout() time.Duration { return s.idleConnectionTimeout }
func (s *Session) SetIdleConnectionTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idleConnectionTimeout = d
}

func (s *Session) MaxConnectionsPerHost() int { return s.maxConnectionsPerHost }
func (s *Session) SetMaxConnectionsPerHost(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxConnectionsPerHost = n
}

func (s *Session) FollowRedirects() bool { return s.followRedirects }
func (s *Session) SetFollowRedirects(follow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followRedirects = follow
}

func (s *Session) MaxRedirects() int { return s.maxRedirects }
func (s *Session) SetMaxRedirects(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxRedirects = n
}

// GetConnection pops the most-recently-returned pooled connection for key,
// or nil if none is available or the most recent one is no longer
// connected.
func (s *Session) GetConnection(key Key) Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.pool[key]
	if len(entries) == 0 {
		return nil
	}
	last := entries[len(entries)-1]
	entries = entries[:len(entries)-1]
	if len(entries) == 0 {
		delete(s.pool, key)
	} else {
		s.pool[key] = entries
	}

	if !last.conn.IsConnected() {
		return nil
	}
	return last.conn
}

// ReturnConnection offers conn back to the pool for reuse. A disconnected
// conn, or one that would exceed MaxConnectionsPerHost, is closed instead.
func (s *Session) ReturnConnection(key Key, conn Conn) {
	if conn == nil {
		return
	}
	if !conn.IsConnected() {
		conn.Close()
		return
	}

	s.mu.Lock()
	entries := s.pool[key]
	if len(entries) >= s.maxConnectionsPerHost {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.pool[key] = append(entries, poolEntry{conn: conn, lastUsed: time.Now()})
	s.mu.Unlock()
}

// CleanupConnections evicts and closes every pooled connection that is no
// longer connected or has been idle longer than IdleConnectionTimeout.
// Intended to be driven by a periodic reactor timer.
func (s *Session) CleanupConnections() {
	s.mu.Lock()
	now := time.Now()
	idleTimeout := s.idleConnectionTimeout
	var toClose []Conn
	for key, entries := range s.pool {
		kept := entries[:0]
		for _, e := range entries {
			if !e.conn.IsConnected() || now.Sub(e.lastUsed) > idleTimeout {
				toClose = append(toClose, e.conn)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.pool, key)
		} else {
			s.pool[key] = kept
		}
	}
	s.mu.Unlock()

	for _, c := range toClose {
		c.Close()
	}
}
