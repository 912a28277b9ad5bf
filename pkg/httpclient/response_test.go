package httpclient

import (
	"testing"

	"github.com/fastpath/netkit/pkg/httpsession"
)

func TestBodyStringDefaultsToUTF8(t *testing.T) {
	var h httpsession.Headers
	h.Set("Content-Type", "text/plain")
	resp := &Response{Headers: h, Body: []byte("hello")}

	s, err := resp.BodyString()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "hello" {
		t.Fatalf("BodyString = %q, want hello", s)
	}
}

func TestBodyStringDecodesDeclaredCharset(t *testing.T) {
	var h httpsession.Headers
	h.Set("Content-Type", "text/plain; charset=iso-8859-1")
	resp := &Response{Headers: h, Body: []byte{0xe9}} // e9 in Latin-1 is e-acute

	s, err := resp.BodyString()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "é" {
		t.Fatalf("BodyString = %q, want U+00E9", s)
	}
}

func TestBodyStringFallsBackOnUnknownCharset(t *testing.T) {
	var h httpsession.Headers
	h.Set("Content-Type", "text/plain; charset=not-a-real-charset")
	resp := &Response{Headers: h, Body: []byte("raw")}

	s, err := resp.BodyString()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "raw" {
		t.Fatalf("BodyString = %q, want raw", s)
	}
}
