// Package cookie implements the cookie-persistence half of C9 (spec.md
// §4.9): scanning the client Cookie header for a known backend-server
// marker, and mutating Set-Cookie(2) on the response per the configured
// persistence mode (PSV, INS+IND, PFX, RW), including the base64-encoded
// idle/maxlife date fields.
//
// Grounded on the teacher library's pkg/client header-parsing idiom
// (readHeaders' comma/semicolon attribute splitting), generalized to
// Cookie's ';'-separated attr=value grammar instead of a header-per-line
// map, and the google/uuid-free base64 date codec spec.md §4.9 calls for
// is hand-rolled here (30-bit packed fields) since no pack example ships
// a matching codec for this bespoke format.
package cookie

import (
	"encoding/base64"
	"strings"
	"time"
)

// Mode is the server-side persistence rewrite mode from spec.md §4.9.
type Mode int

const (
	ModePSV    Mode = iota // passive: server cookie value is not rewritten
	ModeInsInd             // insert + indirect: server cookie value removed entirely
	ModePfx                // prefix: value rewritten to "srv~value"
	ModeRW                 // rewrite: value replaced with the server id
)

// ClockSkewTolerance is the ±1 day tolerance from spec.md §4.9.
const ClockSkewTolerance = 24 * time.Hour

// Attr is one "name=value" pair parsed from a Cookie header.
type Attr struct {
	Name  string
	Value string
}

// ParseCookieHeader splits a Cookie header value into its ';'-separated
// attributes, trimming OWS around each.
func ParseCookieHeader(value string) []Attr {
	parts := strings.Split(value, ";")
	attrs := make([]Attr, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, val, found := strings.Cut(p, "=")
		if !found {
			continue
		}
		attrs = append(attrs, Attr{Name: strings.TrimSpace(name), Value: strings.TrimSpace(val)})
	}
	return attrs
}

// FindServerCookie implements spec.md's "one-cookie capture policy (first
// matching name only)": scans attrs for the configured cookie name and
// returns only the first match, per the preserved anomaly in spec.md §9.
func FindServerCookie(attrs []Attr, cookieName string) (Attr, bool) {
	for _, a := range attrs {
		if a.Name == cookieName {
			return a, true
		}
	}
	return Attr{}, false
}

// ResolveServerID extracts the server id a cookie value steers to,
// stripping the "srv~" prefix used by ModePfx. Callers that configured
// idle/maxlife expiry additionally check IsExpired against a DecodeDate'd
// field split out of the raw value before trusting the result, per
// spec.md §4.9.
func ResolveServerID(value string) (serverID string, ok bool) {
	if i := strings.Index(value, "~"); i >= 0 {
		value = value[:i]
	}
	if value == "" {
		return "", false
	}
	return value, true
}

// dateEpoch is the fixed epoch of the cookie date field (2020-01-01T00:00:00Z);
// 30 bits of seconds from it reach into 2054.
const dateEpoch = 1577836800

// EncodeDate packs a time.Time into the 30-bit base64 date field spec.md
// §4.9 describes: seconds since dateEpoch, base64url-encoded.
func EncodeDate(t time.Time) string {
	secs := uint32(t.Unix()-dateEpoch) & 0x3FFFFFFF // 30 bits
	b := []byte{byte(secs >> 24), byte(secs >> 16), byte(secs >> 8), byte(secs)}
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeDate reverses EncodeDate. Returns ok=false on malformed input.
func DecodeDate(s string) (time.Time, bool) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(b) != 4 {
		return time.Time{}, false
	}
	secs := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return time.Unix(int64(secs&0x3FFFFFFF)+dateEpoch, 0), true
}

// IsExpired checks a decoded last_date against idleTimeout with the ±1 day
// clock-skew tolerance from spec.md §4.9.
func IsExpired(lastDate time.Time, idleTimeout time.Duration, now time.Time) bool {
	if idleTimeout <= 0 {
		return false
	}
	deadline := lastDate.Add(idleTimeout).Add(ClockSkewTolerance)
	return now.After(deadline)
}

// RewriteSetCookie mutates a Set-Cookie value per the configured Mode,
// returning the new value (or "" with remove=true for ModeInsInd, which
// deletes the server cookie entirely per spec.md §4.9).
func RewriteSetCookie(mode Mode, cookieValue, serverID string) (newValue string, remove bool) {
	switch mode {
	case ModeInsInd:
		return "", true
	case ModePfx:
		return serverID + "~" + cookieValue, false
	case ModeRW:
		return serverID, false
	default: // ModePSV
		return cookieValue, false
	}
}
