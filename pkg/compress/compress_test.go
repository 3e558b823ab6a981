package compress

import (
	"bytes"
	"testing"
)

func TestNegotiatePicksHighestQSupported(t *testing.T) {
	reg := NewRegistry()
	got := reg.Negotiate("deflate;q=0.3, br;q=0.9, gzip;q=0.5")
	if got != Brotli {
		t.Fatalf("negotiate = %q, want %q", got, Brotli)
	}
}

func TestNegotiateIdentityWhenNothingMatches(t *testing.T) {
	reg := NewRegistry()
	got := reg.Negotiate("compress;q=1.0")
	if got != Identity {
		t.Fatalf("negotiate = %q, want %q", got, Identity)
	}
}

func TestNegotiateExplicitIdentityPreference(t *testing.T) {
	reg := NewRegistry()
	got := reg.Negotiate("gzip;q=0.1, identity;q=1.0")
	if got != Identity {
		t.Fatalf("negotiate = %q, want %q", got, Identity)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	reg := NewRegistry()
	var buf bytes.Buffer
	coder := reg.New(Gzip, &buf)
	if _, err := coder.Write([]byte("hello world")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := coder.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected compressed output")
	}
}

func TestIsCompressibleType(t *testing.T) {
	cases := map[string]bool{
		"text/html; charset=utf-8": true,
		"application/json":         true,
		"image/png":                false,
		"application/octet-stream": false,
	}
	for ct, want := range cases {
		if got := IsCompressibleType(ct); got != want {
			t.Fatalf("IsCompressibleType(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestIsKnownBadUA(t *testing.T) {
	if !IsKnownBadUA("Mozilla/4.0 (compatible)") {
		t.Fatalf("expected Mozilla/4.0 to be a known-bad UA")
	}
	if IsKnownBadUA("Mozilla/4.0 (compatible; MSIE 6.0)") {
		t.Fatalf("expected MSIE carve-out to exempt Mozilla/4.x")
	}
	if IsKnownBadUA("Mozilla/5.0") {
		t.Fatalf("Mozilla/5.0 should not be flagged")
	}
}
