// Package cookiejar implements spec.md's C9: Set-Cookie parsing and a
// per-client cookie store, following RFC 6265's domain/path matching
// rules as resolved by original_source's http_cookie.cpp.
package cookiejar

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/fastpath/netkit/pkg/uri"
	"golang.org/x/net/publicsuffix"
)

// SameSite mirrors the Set-Cookie SameSite attribute.
type SameSite int

const (
	SameSiteNone SameSite = iota
	SameSiteLax
	SameSiteStrict
)

func (s SameSite) String() string {
	switch s {
	case SameSiteLax:
		return "Lax"
	case SameSiteStrict:
		return "Strict"
	default:
		return "None"
	}
}

func sameSiteFromString(v string) SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return SameSiteStrict
	case "lax":
		return SameSiteLax
	default:
		return SameSiteNone
	}
}

// Cookie is a single parsed cookie, with an optional absolute expiration
// time. A zero Expires means a session cookie that never expires on its
// own.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
	SameSite SameSite
}

// IsSessionCookie reports whether the cookie has no expiration attribute.
func (c Cookie) IsSessionCookie() bool { return c.Expires.IsZero() }

// IsExpired reports whether the cookie's expiration time has passed.
func (c Cookie) IsExpired(now time.Time) bool {
	if c.Expires.IsZero() {
		return false
	}
	return c.Expires.Before(now)
}

// ToCookieHeader renders the cookie's name=value pair for a Cookie request
// header; attributes are never sent back to the server.
func (c Cookie) ToCookieHeader() string { return c.Name + "=" + c.Value }

// MatchesURL reports whether the cookie should be attached to a request
// for url, per RFC 6265 §5.4.
func (c Cookie) MatchesURL(u uri.URI) bool {
	if c.Secure && u.Scheme() != "https" {
		return false
	}
	if !domainMatch(c.Domain, u.Host()) {
		return false
	}
	if !pathMatch(c.Path, u.Path()) {
		return false
	}
	return true
}

func isIPAddress(host string) bool { return net.ParseIP(host) != nil }

// domainMatch implements RFC 6265 §5.1.3. IP-address hosts require an
// exact match; named hosts allow the cookie domain or any subdomain of it.
func domainMatch(cookieDomain, host string) bool {
	if isIPAddress(host) {
		return cookieDomain == host
	}
	if cookieDomain == "" || host == "" {
		return false
	}
	domain := strings.TrimPrefix(cookieDomain, ".")
	if host == domain {
		return true
	}
	if len(host) > len(domain) && strings.HasSuffix(host, "."+domain) {
		return true
	}
	return false
}

// pathMatch implements RFC 6265 §5.1.4.
func pathMatch(cookiePath, requestPath string) bool {
	if cookiePath == requestPath {
		return true
	}
	if cookiePath == "" || requestPath == "" {
		return false
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	if strings.HasSuffix(cookiePath, "/") {
		return true
	}
	return len(requestPath) > len(cookiePath) && requestPath[len(cookiePath)] == '/'
}

// registrableDomain returns the eTLD+1 for host using the public suffix
// list (an IP address is returned unchanged). Neither ParseSetCookie nor
// Jar calls it, so a Domain attribute naming a bare public suffix is not
// refused.
func registrableDomain(host string) (string, bool) {
	if isIPAddress(host) {
		return host, true
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host, host != ""
	}
	return etld1, true
}

// ParseSetCookie parses one Set-Cookie header value, per RFC 6265 §5.2,
// against the URL the header was received from (used to default the
// cookie's domain and path). An explicit Domain attribute is kept as given,
// minus a leading dot, and is not checked against the URL's host. Returns
// false if the header does not contain a valid name=value pair.
func ParseSetCookie(setCookieValue string, u uri.URI) (Cookie, bool) {
	parts := strings.Split(setCookieValue, ";")
	if len(parts) == 0 {
		return Cookie{}, false
	}

	name, value, ok := splitNameValue(parts[0])
	if !ok || name == "" {
		return Cookie{}, false
	}

	c := Cookie{Name: name, Value: value}
	now := time.Now()
	haveMaxAge := false

	for _, raw := range parts[1:] {
		attrName, attrValue, _ := splitNameValue(raw)
		switch strings.ToLower(attrName) {
		case "expires":
			if !haveMaxAge {
				if t, ok := parseCookieDate(attrValue); ok {
					c.Expires = t
				}
			}
		case "max-age":
			if secs, err := strconv.Atoi(strings.TrimSpace(attrValue)); err == nil {
				c.Expires = now.Add(time.Duration(secs) * time.Second)
				haveMaxAge = true
			}
		case "domain":
			c.Domain = strings.TrimPrefix(attrValue, ".")
		case "path":
			c.Path = attrValue
		case "secure":
			c.Secure = true
		case "httponly":
			c.HTTPOnly = true
		case "samesite":
			c.SameSite = sameSiteFromString(attrValue)
		}
	}

	if c.Domain == "" {
		c.Domain = u.Host()
	}
	if c.Path == "" {
		c.Path = defaultPath(u.Path())
	}

	return c, true
}

func defaultPath(requestPath string) string {
	idx := strings.LastIndexByte(requestPath, '/')
	if idx <= 0 {
		return "/"
	}
	return requestPath[:idx]
}

func splitNameValue(s string) (name, value string, ok bool) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return strings.TrimSpace(s), "", false
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:]), true
}

var cookieMonths = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// parseCookieDate parses the RFC 6265 §5.1.1 IMF-fixdate form used by
// nearly every server ("Wed, 21 Oct 2015 07:28:00 GMT"), falling back to
// a handful of common variants seen in the wild.
func parseCookieDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	layouts := []string{
		time.RFC1123,
		"Mon, 02-Jan-2006 15:04:05 MST",
		"Monday, 02-Jan-2006 15:04:05 MST",
		time.RFC850,
		time.ANSIC,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}
