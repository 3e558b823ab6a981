// Package compress implements the §10 [DOMAIN] compression algorithm
// registry backing the C9 Cookie & Compression Helpers' response-side
// negotiation (spec.md §4.9): Accept-Encoding q-value selection, and a
// Coder per algorithm wrapping real third-party codecs instead of the
// stdlib-only compress/gzip and compress/flate the teacher's stack never
// needed (the teacher is an HTTP client library and does not compress
// response bodies). gzip/deflate go through klauspost/compress (confirmed
// in the retrieval pack's docker-compose go.mod); brotli through
// andybalholm/brotli (confirmed across several pack go.mod/go.sum files,
// e.g. shiroyk-ski-ext/fetch, kedacore-keda).
package compress

import (
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// Algorithm names, matching the wire values used in Accept-Encoding /
// Content-Encoding.
const (
	Identity = "identity"
	Gzip     = "gzip"
	Deflate  = "deflate"
	Brotli   = "br"
)

// Coder streams bytes through one compression algorithm, matching the
// per-DATA-subrange feed described in spec.md §4.5 ("Compression
// integration"): Write is called per body sub-range, Close flushes any
// trailing bytes on TRAILERS/DONE.
type Coder interface {
	io.WriteCloser
}

// Registry maps algorithm name to a constructor producing a Coder that
// writes compressed output to w.
type Registry struct {
	algos map[string]func(w io.Writer) Coder
}

// NewRegistry builds the default registry: identity, gzip, deflate, brotli.
func NewRegistry() *Registry {
	reg := &Registry{algos: make(map[string]func(w io.Writer) Coder)}
	reg.algos[Gzip] = func(w io.Writer) Coder { gz, _ := gzip.NewWriterLevel(w, gzip.DefaultCompression); return gz }
	reg.algos[Deflate] = func(w io.Writer) Coder { fw, _ := flate.NewWriter(w, flate.DefaultCompression); return fw }
	reg.algos[Brotli] = func(w io.Writer) Coder { return brotli.NewWriter(w) }
	return reg
}

// Supports reports whether the registry has a non-identity coder for name.
func (reg *Registry) Supports(name string) bool {
	_, ok := reg.algos[strings.ToLower(name)]
	return ok
}

// New constructs a Coder for the named algorithm writing into w. Identity
// returns a no-op Coder (Write passes through, Close is a no-op).
func (reg *Registry) New(name string, w io.Writer) Coder {
	if ctor, ok := reg.algos[strings.ToLower(name)]; ok {
		return ctor(w)
	}
	return identityCoder{w}
}

type identityCoder struct{ w io.Writer }

func (c identityCoder) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c identityCoder) Close() error                { return nil }

// qValue is one Accept-Encoding coding and its quality.
type qValue struct {
	coding string
	q      float64
}

// Negotiate chooses the highest-q algorithm from an Accept-Encoding header
// value that the registry supports, per spec.md §4.9: "choose algorithm
// via Accept-Encoding with highest q-value matching a configured
// algorithm." Returns Identity if nothing matches or the header is absent.
func (reg *Registry) Negotiate(acceptEncoding string) string {
	if strings.TrimSpace(acceptEncoding) == "" {
		return Identity
	}
	var candidates []qValue
	for _, part := range strings.Split(acceptEncoding, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		coding := part
		q := 1.0
		if i := strings.Index(part, ";"); i >= 0 {
			coding = strings.TrimSpace(part[:i])
			params := part[i+1:]
			for _, p := range strings.Split(params, ";") {
				p = strings.TrimSpace(p)
				if strings.HasPrefix(p, "q=") {
					if v, err := strconv.ParseFloat(strings.TrimPrefix(p, "q="), 64); err == nil {
						q = v
					}
				}
			}
		}
		candidates = append(candidates, qValue{coding: coding, q: q})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].q > candidates[j].q })
	for _, c := range candidates {
		if c.q <= 0 {
			continue
		}
		if strings.EqualFold(c.coding, Identity) {
			return Identity
		}
		if reg.Supports(c.coding) {
			return strings.ToLower(c.coding)
		}
	}
	return Identity
}

// IsKnownBadUA implements the §4.9 "skip for Mozilla/4.* UAs except
// known-good MSIE" carve-out.
func IsKnownBadUA(userAgent string) bool {
	if !strings.HasPrefix(userAgent, "Mozilla/4") {
		return false
	}
	return !strings.Contains(userAgent, "MSIE")
}

// compressibleTypes lists Content-Type prefixes eligible for response
// compression per spec.md §4.9's "compressible Content-Type" gate.
var compressibleTypes = []string{
	"text/", "application/json", "application/javascript", "application/xml",
	"application/xhtml+xml", "image/svg+xml",
}

// IsCompressibleType reports whether a Content-Type value is eligible.
func IsCompressibleType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	for _, p := range compressibleTypes {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}

// ErrBudgetExceeded signals the "throughput/CPU budget under limits" gate
// from spec.md §4.9 failed; callers fall back to identity.
var ErrBudgetExceeded = errors.New("compress: throughput/CPU budget exceeded")
