package uri

import "testing"

func TestParseAbsolute(t *testing.T) {
	u, err := Parse("HTTPS://Example.com:443/a/b?x=1&y=2#frag")
	if err != nil {
		t.Fatal(err)
	}
	if !u.IsAbsolute() {
		t.Fatal("expected absolute")
	}
	n := u.Normalized()
	if n.Scheme() != "https" || n.Host() != "example.com" {
		t.Fatalf("normalized scheme/host = %q/%q", n.Scheme(), n.Host())
	}
	if n.HasExplicitPort() {
		t.Fatal("default port 443 for https should be dropped")
	}
	if v, ok := u.QueryValue("x"); !ok || v != "1" {
		t.Fatalf("QueryValue(x) = %q, %v", v, ok)
	}
}

func TestResolveRelative(t *testing.T) {
	base, _ := Parse("https://example.com/a/b/c")
	cases := []struct {
		rel  string
		want string
	}{
		{"../e/f", "https://example.com/a/e/f"},
		{"//other.example.com/path", "https://other.example.com/path"},
		{"#frag", "https://example.com/a/b/c#frag"},
		{"?q=1", "https://example.com/a/b/c?q=1"},
		{"g", "https://example.com/a/b/g"},
		{"/g", "https://example.com/g"},
	}
	for _, c := range cases {
		rel, err := Parse(c.rel)
		if err != nil {
			t.Fatalf("parse %q: %v", c.rel, err)
		}
		got := base.Resolved(rel).String()
		if got != c.want {
			t.Errorf("resolve(%q) = %q, want %q", c.rel, got, c.want)
		}
	}
}

func TestCollapseDotSegments(t *testing.T) {
	u, _ := Parse("https://example.com/a/./b/../c")
	if got := u.Normalized().Path(); got != "/a/c" {
		t.Fatalf("path = %q", got)
	}
}

func TestParseNormalizeRoundTrip(t *testing.T) {
	raw := "http://EXAMPLE.com:80/path"
	u, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	n := u.Normalized()
	reparsed, err := Parse(n.String())
	if err != nil {
		t.Fatal(err)
	}
	if reparsed.Normalized().String() != n.String() {
		t.Fatalf("parse(toString(u)) != u.Normalized(): %q vs %q", reparsed.Normalized().String(), n.String())
	}
}
