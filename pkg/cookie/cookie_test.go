package cookie

import (
	"testing"
	"time"
)

func TestParseCookieHeader(t *testing.T) {
	attrs := ParseCookieHeader("SESSIONID=srv1~abc123; theme=dark")
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attrs, got %d", len(attrs))
	}
	if attrs[0].Name != "SESSIONID" || attrs[0].Value != "srv1~abc123" {
		t.Fatalf("attrs[0] = %+v", attrs[0])
	}
}

func TestFindServerCookieFirstMatchOnly(t *testing.T) {
	attrs := ParseCookieHeader("SESSIONID=first; SESSIONID=second")
	a, ok := FindServerCookie(attrs, "SESSIONID")
	if !ok || a.Value != "first" {
		t.Fatalf("expected first match 'first', got %+v ok=%v", a, ok)
	}
}

func TestResolveServerIDStripsPrefix(t *testing.T) {
	id, ok := ResolveServerID("srv1~abc123")
	if !ok || id != "srv1" {
		t.Fatalf("id = %q ok=%v", id, ok)
	}
}

func TestDateRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	enc := EncodeDate(now)
	dec, ok := DecodeDate(enc)
	if !ok {
		t.Fatalf("decode failed")
	}
	if dec.Unix() != now.Unix() {
		t.Fatalf("dec = %v, want %v", dec, now)
	}
}

func TestIsExpiredHonoursClockSkew(t *testing.T) {
	last := time.Unix(1700000000, 0)
	idle := time.Hour
	// Just past idle timeout but within the 1-day skew tolerance.
	now := last.Add(idle).Add(time.Hour)
	if IsExpired(last, idle, now) {
		t.Fatalf("expected tolerance to cover a 1h overage")
	}
	now = last.Add(idle).Add(ClockSkewTolerance + time.Hour)
	if !IsExpired(last, idle, now) {
		t.Fatalf("expected expiry past tolerance")
	}
}

func TestRewriteSetCookieModes(t *testing.T) {
	if v, remove := RewriteSetCookie(ModeInsInd, "x", "srv1"); !remove || v != "" {
		t.Fatalf("ModeInsInd: v=%q remove=%v", v, remove)
	}
	if v, _ := RewriteSetCookie(ModePfx, "abc", "srv1"); v != "srv1~abc" {
		t.Fatalf("ModePfx: v=%q", v)
	}
	if v, _ := RewriteSetCookie(ModeRW, "abc", "srv1"); v != "srv1" {
		t.Fatalf("ModeRW: v=%q", v)
	}
	if v, _ := RewriteSetCookie(ModePSV, "abc", "srv1"); v != "abc" {
		t.Fatalf("ModePSV: v=%q", v)
	}
}
