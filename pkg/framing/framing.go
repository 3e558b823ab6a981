// Package framing implements the C4 Framing Analyzer from spec.md §4.4:
// RFC 7230 §3.3.3 precedence between Transfer-Encoding, Content-Length,
// HEAD/1xx/204/304 responses and CONNECT-200 tunneling.
//
// Grounded on the teacher library's pkg/client body-framing helpers
// (readResponse's branch over Transfer-Encoding/Content-Length/
// Connection-close before calling readChunkedBody/readFixedBody/
// readUntilClose), generalized into a pure decision function operating on
// a headerindex.Index instead of a map[string][]string so HeaderIndex
// mutations (Content-Length removal per rule 4) flow through the same
// cell-removal path the rule interpreter uses.
package framing

import (
	"strconv"
	"strings"

	"github.com/haprox/httpengine/pkg/headerindex"
	"github.com/haprox/httpengine/pkg/herrors"
	"github.com/haprox/httpengine/pkg/hconst"
)

// Mode is the resolved body-length mode for a message.
type Mode int

const (
	ModeChunked Mode = iota
	ModeContentLength
	ModeUntilClose
	ModeNone // no body (HEAD response, 1xx/204/304, empty request body)
	ModeTunnel
)

// Result is the outcome of analysis: a Mode plus the flags and declared
// length spec.md §3 attaches to the Message (TE_CHNK, CNT_LEN, XFER_LEN).
type Result struct {
	Mode       Mode
	KnownLen   bool // XFER_LEN
	Chunked    bool // TE_CHNK
	HasCL      bool // CNT_LEN
	DeclaredCL int64
}

// Reader is the subset of headerindex.Reader framing needs.
type Reader = headerindex.Reader

// Ring additionally exposes the splice primitive Analyze needs to
// physically drop a duplicate Content-Length once Transfer-Encoding has
// established chunked framing (rule 4 below) — removing only the
// HeaderIndex cell would leave the stale bytes in the forwarded header
// block.
type Ring interface {
	Reader
	Replace(start, end int64, data []byte) (int, error)
}

// Analyze determines body framing for a response (isResponse=true) or a
// request, given the method of the associated request (used for HEAD and
// CONNECT special-casing) and the response's status code (0 for requests).
func Analyze(r Ring, idx *headerindex.Index, isResponse bool, method string, status int) (Result, error) {
	// Rule 1: HEAD response, or 1xx/204/304 -> no body.
	if isResponse {
		if strings.EqualFold(method, "HEAD") || status/100 == 1 || status == 204 || status == 304 {
			return Result{Mode: ModeNone, KnownLen: true}, nil
		}
		// Rule 2: 2xx response to CONNECT -> tunnel, ignore TE/CL entirely.
		if strings.EqualFold(method, "CONNECT") && status/100 == 2 {
			return Result{Mode: ModeTunnel}, nil
		}
	}

	teCells := idx.FindAll(r, "Transfer-Encoding")
	chunkedFinal := false
	chunkedPresent := false
	if len(teCells) > 0 {
		// Concatenate all Transfer-Encoding lines' values in document order
		// to evaluate the single coding list per RFC 7230 §3.3.1.
		var codings []string
		for _, c := range teCells {
			line := idx.Line(r, c)
			colon := indexByte(line, ':')
			if colon < 0 {
				continue
			}
			for _, tok := range strings.Split(string(line[colon+1:]), ",") {
				tok = strings.TrimSpace(tok)
				if tok != "" {
					codings = append(codings, tok)
				}
			}
		}
		for _, cd := range codings {
			if strings.EqualFold(cd, "chunked") {
				chunkedPresent = true
			}
		}
		if len(codings) > 0 && strings.EqualFold(codings[len(codings)-1], "chunked") {
			chunkedFinal = true
		}
	}

	// Rule 3: chunked as final coding.
	if chunkedFinal {
		// Rule 4: CL+TE both present -> drop Content-Length before forwarding.
		// Spliced out of the ring too, not just unlinked from the index, or
		// the stale bytes would still reach the wire in the forwarded header
		// block (spec.md §8 Scenario C).
		if clCell, _, ok := idx.Find(r, "Content-Length"); ok {
			prev := predecessorOf(idx, clCell)
			start := idx.Offset(clCell)
			end := start + idx.Span(clCell)
			if _, err := r.Replace(start, end, nil); err != nil {
				return Result{}, err
			}
			idx.Remove(prev, clCell)
		}
		return Result{Mode: ModeChunked, KnownLen: true, Chunked: true}, nil
	}
	if chunkedPresent && !chunkedFinal {
		if !isResponse {
			return Result{}, herrors.NewFramingError(0, 400, "chunked coding present but not final in request")
		}
		return Result{Mode: ModeUntilClose}, nil
	}

	// Rule 5: Content-Length.
	clCells := idx.FindAll(r, "Content-Length")
	if len(clCells) > 0 {
		var declared int64 = -1
		for _, c := range clCells {
			line := idx.Line(r, c)
			colon := indexByte(line, ':')
			if colon < 0 {
				continue
			}
			raw := strings.TrimSpace(string(line[colon+1:]))
			v, err := strconv.ParseInt(raw, 10, 64)
			status := 400
			if isResponse {
				status = 502
			}
			if err != nil || v < 0 {
				return Result{}, herrors.NewFramingError(0, status, "invalid Content-Length value")
			}
			if declared == -1 {
				declared = v
			} else if declared != v {
				return Result{}, herrors.NewFramingError(0, status, "conflicting Content-Length values")
			}
		}
		return Result{Mode: ModeContentLength, KnownLen: true, HasCL: true, DeclaredCL: declared}, nil
	}

	// Rule 6/7: no TE, no CL.
	if !isResponse {
		return Result{Mode: ModeNone, KnownLen: true, DeclaredCL: 0}, nil
	}
	return Result{Mode: ModeUntilClose, KnownLen: false}, nil
}

// predecessorOf finds the cell before target, or 0 if target is first.
func predecessorOf(idx *headerindex.Index, target int) int {
	prev := 0
	for c := idx.FirstIdx(); c != 0 && c != target; c = idx.Cell(c).Next {
		prev = c
	}
	return prev
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// MaxChunkSize is re-exported from hconst for callers that only import
// this package for the framing decision and the chunk overflow guard.
const MaxChunkSize = hconst.MaxChunkSizeValue
