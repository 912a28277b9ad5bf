package cookiejar

import (
	"sync"
	"time"

	"github.com/fastpath/netkit/pkg/uri"
)

// Jar is a thread-safe, in-memory cookie store keyed by
// (name, domain, path), matching original_source's http_cookie_jar.cpp.
type Jar struct {
	mu      sync.Mutex
	cookies []Cookie
}

// New returns an empty jar.
func New() *Jar { return &Jar{} }

func (j *Jar) findLocked(c Cookie) int {
	for i, existing := range j.cookies {
		if existing.Name == c.Name && existing.Domain == c.Domain && existing.Path == c.Path {
			return i
		}
	}
	return -1
}

// Insert adds c to the jar, returning false if a cookie with the same
// name/domain/path already exists (use Update to replace it).
func (j *Jar) Insert(c Cookie) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.findLocked(c) >= 0 {
		return false
	}
	j.cookies = append(j.cookies, c)
	return true
}

// Update inserts c, replacing any existing cookie with the same
// name/domain/path.
func (j *Jar) Update(c Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if idx := j.findLocked(c); idx >= 0 {
		j.cookies[idx] = c
		return
	}
	j.cookies = append(j.cookies, c)
}

// Remove deletes the cookie matching c's name/domain/path, if present.
func (j *Jar) Remove(c Cookie) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	idx := j.findLocked(c)
	if idx < 0 {
		return false
	}
	j.cookies = append(j.cookies[:idx], j.cookies[idx+1:]...)
	return true
}

// RemoveAll removes every cookie with the given name and domain,
// returning the count removed.
func (j *Jar) RemoveAll(name, domain string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.cookies[:0]
	count := 0
	for _, c := range j.cookies {
		if c.Name == name && c.Domain == domain {
			count++
			continue
		}
		out = append(out, c)
	}
	j.cookies = out
	return count
}

// Clear removes every cookie from the jar.
func (j *Jar) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies = nil
}

// RemoveExpired evicts every cookie whose expiration has passed, returning
// the count removed.
func (j *Jar) RemoveExpired() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.removeExpiredLocked(time.Now())
}

func (j *Jar) removeExpiredLocked(now time.Time) int {
	out := j.cookies[:0]
	count := 0
	for _, c := range j.cookies {
		if c.IsExpired(now) {
			count++
			continue
		}
		out = append(out, c)
	}
	j.cookies = out
	return count
}

// AllCookies returns a snapshot of every cookie currently in the jar,
// expired or not.
func (j *Jar) AllCookies() []Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Cookie(nil), j.cookies...)
}

// CookiesForURL evicts expired cookies, then returns every remaining
// cookie that matches u.
func (j *Jar) CookiesForURL(u uri.URI) []Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.removeExpiredLocked(time.Now())

	var out []Cookie
	for _, c := range j.cookies {
		if c.MatchesURL(u) {
			out = append(out, c)
		}
	}
	return out
}

// CookieHeaderForURL joins CookiesForURL's result into a single Cookie
// request header value, or "" if none match.
func (j *Jar) CookieHeaderForURL(u uri.URI) string {
	cookies := j.CookiesForURL(u)
	if len(cookies) == 0 {
		return ""
	}
	var sb []byte
	for i, c := range cookies {
		if i > 0 {
			sb = append(sb, "; "...)
		}
		sb = append(sb, c.ToCookieHeader()...)
	}
	return string(sb)
}

// ParseSetCookieHeaders parses every Set-Cookie header value received for
// u and stores each successfully parsed cookie (replacing any existing
// cookie with the same name/domain/path), returning the count stored.
func (j *Jar) ParseSetCookieHeaders(u uri.URI, setCookieValues []string) int {
	count := 0
	for _, raw := range setCookieValues {
		c, ok := ParseSetCookie(raw, u)
		if !ok {
			continue
		}
		j.Update(c)
		count++
	}
	return count
}
