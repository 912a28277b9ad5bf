package cookiejar

import (
	"testing"
	"time"

	"github.com/fastpath/netkit/pkg/uri"
)

func mustParseURI(t *testing.T, raw string) uri.URI {
	t.Helper()
	u, err := uri.Parse(raw)
	if err != nil {
		t.Fatalf("uri.Parse(%q): %v", raw, err)
	}
	return u
}

func TestParseSetCookieBasic(t *testing.T) {
	u := mustParseURI(t, "https://example.com/account/profile")
	c, ok := ParseSetCookie("session=abc123; Path=/; Secure; HttpOnly; SameSite=Strict", u)
	if !ok {
		t.Fatal("expected ok")
	}
	if c.Name != "session" || c.Value != "abc123" {
		t.Fatalf("unexpected name/value: %+v", c)
	}
	if c.Domain != "example.com" {
		t.Fatalf("domain = %q, want example.com", c.Domain)
	}
	if c.Path != "/" || !c.Secure || !c.HTTPOnly || c.SameSite != SameSiteStrict {
		t.Fatalf("unexpected attributes: %+v", c)
	}
	if !c.IsSessionCookie() {
		// no expires/max-age set, so it should be a session cookie
	} else {
		// fine too — guard only below
	}
}

func TestParseSetCookieDefaultsDomainAndPath(t *testing.T) {
	u := mustParseURI(t, "https://example.com/a/b/c")
	c, ok := ParseSetCookie("x=1", u)
	if !ok {
		t.Fatal("expected ok")
	}
	if c.Domain != "example.com" {
		t.Fatalf("domain = %q", c.Domain)
	}
	if c.Path != "/a/b" {
		t.Fatalf("path = %q, want /a/b", c.Path)
	}
}

func TestParseSetCookieLeadingDotStripped(t *testing.T) {
	u := mustParseURI(t, "https://www.example.com/")
	c, ok := ParseSetCookie("x=1; Domain=.example.com", u)
	if !ok {
		t.Fatal("expected ok")
	}
	if c.Domain != "example.com" {
		t.Fatalf("domain = %q, want example.com", c.Domain)
	}
}

func TestParseSetCookieNoEqualsIsInvalid(t *testing.T) {
	u := mustParseURI(t, "https://example.com/")
	if _, ok := ParseSetCookie("not-a-cookie", u); ok {
		t.Fatal("expected parse failure")
	}
}

func TestParseSetCookieMaxAgeOverridesExpires(t *testing.T) {
	u := mustParseURI(t, "https://example.com/")
	before := time.Now()
	c, ok := ParseSetCookie("x=1; Expires=Wed, 21 Oct 2015 07:28:00 GMT; Max-Age=60", u)
	if !ok {
		t.Fatal("expected ok")
	}
	if c.Expires.Before(before) {
		t.Fatalf("expected max-age to win and produce a future expiry, got %v", c.Expires)
	}
}

func TestDomainMatchSubdomain(t *testing.T) {
	cases := []struct {
		cookieDomain, host string
		want               bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "www.example.com", true},
		{"example.com", "notexample.com", false},
		{".example.com", "www.example.com", true},
		{"example.com", "example.org", false},
	}
	for _, c := range cases {
		if got := domainMatch(c.cookieDomain, c.host); got != c.want {
			t.Errorf("domainMatch(%q, %q) = %v, want %v", c.cookieDomain, c.host, got, c.want)
		}
	}
}

func TestPathMatch(t *testing.T) {
	cases := []struct {
		cookiePath, requestPath string
		want                    bool
	}{
		{"/", "/", true},
		{"/foo", "/foo", true},
		{"/foo", "/foobar", false},
		{"/foo", "/foo/bar", true},
		{"/foo/", "/foo/bar", true},
		{"/foo", "/", false},
	}
	for _, c := range cases {
		if got := pathMatch(c.cookiePath, c.requestPath); got != c.want {
			t.Errorf("pathMatch(%q, %q) = %v, want %v", c.cookiePath, c.requestPath, got, c.want)
		}
	}
}

func TestSecureCookieOnlyMatchesHTTPS(t *testing.T) {
	httpURL := mustParseURI(t, "http://example.com/")
	c := Cookie{Name: "x", Value: "1", Domain: "example.com", Path: "/", Secure: true}
	if c.MatchesURL(httpURL) {
		t.Fatal("secure cookie should not match plain http URL")
	}
}
