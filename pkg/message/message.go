// Package message implements the C3 Message Parser from spec.md §4.3: a
// resumable, byte-by-byte state machine that consumes ring-buffer bytes and
// populates start-line slices plus a headerindex.Index. Re-entry after a
// partial read resumes at the stored (State, Next) with no semantic loss,
// per spec.md's restartability invariant and the §8 property "feeding a
// prefix then the remainder yields the same state as feeding the whole
// message in one call."
//
// Grounded on the teacher library's pkg/client response/header reader
// (readResponse/readHeaders/parseStatusLine), generalized from a one-shot
// bufio.Reader loop into an enum-dispatched resumable loop per spec.md §9
// ("Goto-heavy parser ... express this as an enum-dispatched loop whose
// body centralises the consume-one-byte-or-yield pattern"). A bare
// HTTP/0.9 request line is rewritten in place to its HTTP/1.0 form
// (spec.md §8 Scenario D) using the same Ring.Replace splice obs-fold
// already relies on, rather than special-casing 0.9 downstream in
// framing/connmode.
package message

import (
	"github.com/haprox/httpengine/pkg/headerindex"
	"github.com/haprox/httpengine/pkg/herrors"
)

// State is one value of the msg_state enumeration from spec.md §3.
type State int

const (
	RQBefore State = iota
	RQBeforeCR
	RQMeth
	RQMethSP
	RQURI
	RQURISP
	RQVer
	RQLineEnd
	RPBefore
	RPBeforeCR
	RPVer
	RPVerSP
	RPCode
	RPCodeSP
	RPReason
	RPLineEnd
	HdrFirst
	HdrName
	HdrL1SP
	HdrL1LF
	HdrL1LWS
	HdrVal
	HdrL2LF
	HdrL2LWS
	LastLF
	Body
	Sent100
	ChunkSize
	Data
	ChunkCRLF
	Trailers
	Done
	Closing
	Closed
	Tunnel
	Error
)

// Flags are the per-message bitset from spec.md §3.
type Flags uint8

const (
	FlagVER11 Flags = 1 << iota
	FlagTEChnk
	FlagCntLen
	FlagXferLen
	FlagWaitConn
)

// Direction distinguishes request parsing from response parsing; the
// request-line and status-line grammars diverge enough to warrant two
// start states feeding into the shared header grammar.
type Direction int

const (
	Request Direction = iota
	Response
)

// Ring is the subset of ring.Buffer the parser needs; declared locally so
// this package does not import pkg/ring.
type Ring interface {
	ByteAt(pos int64) byte
	End() int64
	CopyOut(pos int64, n int) []byte
	Replace(start, end int64, data []byte) (int, error)
}

// Message holds one direction's resumable parse state, the start-line
// slices, and the position bookkeeping from spec.md §3.
type Message struct {
	Dir   Direction
	State State
	Flags Flags

	// Start-line slices, as ring offsets (request side).
	MethodStart, MethodLen int64
	URIStart, URILen       int64
	VerStart, VerLen       int64

	// Start-line slices (response side).
	CodeStart, CodeLen     int64
	ReasonStart, ReasonLen int64

	// Position bookkeeping (spec.md §3).
	SOL    int64 // start-of-line
	SOV    int64 // start-of-value
	EOL    int64
	EOH    int64 // end-of-headers
	Next   int64 // first unvisited byte
	ErrPos int64 // position of first protocol error

	// Body accounting (spec.md §3 and §4.5).
	ChunkLen int64 // remaining bytes in current chunk/data region
	BodyLen  int64 // cumulative declared length

	Headers *headerindex.Index

	curHdrStart int64 // SOL of the header line currently being scanned
	curHdrCR    bool  // whether the final (non-folded) terminator was CRLF
	curTermPos  int64 // position of the CR (or LF, if bare) ending the current physical line
	eohPos      int64 // position of the empty line's terminator start, pending LastLF confirmation
}

// New creates a fresh Message for the given direction, positioned to start
// parsing at pos (normally the ring's current InputStart()).
func New(dir Direction, pos int64, headers *headerindex.Index) *Message {
	m := &Message{Dir: dir, Headers: headers}
	m.ResetAt(pos)
	return m
}

// ResetAt reinitializes the Message to parse a new message starting at pos,
// the Go equivalent of http_end_txn_clean_session's "buffers stay live but
// indexes and positions return to zero" (spec.md §4.8): rather than zeroing
// the ring's base counter, positions are re-pointed at the ring's current
// cursor.
func (m *Message) ResetAt(pos int64) {
	if m.Dir == Request {
		m.State = RQBefore
	} else {
		m.State = RPBefore
	}
	m.Flags = 0
	m.MethodStart, m.MethodLen = 0, 0
	m.URIStart, m.URILen = 0, 0
	m.VerStart, m.VerLen = 0, 0
	m.CodeStart, m.CodeLen = 0, 0
	m.ReasonStart, m.ReasonLen = 0, 0
	m.SOL, m.SOV, m.EOL, m.EOH = pos, pos, pos, pos
	m.Next = pos
	m.ErrPos = 0
	m.ChunkLen, m.BodyLen = 0, 0
	if m.Headers != nil {
		m.Headers.Init(pos)
	}
}

// byte classification tables, per spec.md §4.3.
func isSPHT(c byte) bool  { return c == ' ' || c == '\t' }
func isCRLF(c byte) bool  { return c == '\r' || c == '\n' }
func isLWS(c byte) bool   { return isSPHT(c) || isCRLF(c) }
func isToken(c byte) bool {
	if c <= 0x20 || c == 0x7f {
		return false
	}
	switch c {
	case '(', ')', '<', '>', '@', ',', ';', ':', '\\', '"', '/', '[', ']', '?', '=', '{', '}':
		return false
	}
	return true
}
func isVerToken(c byte) bool {
	return c == '.' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || c == '/'
}
func isURIByte(c byte) bool { return c >= 0x21 && c <= 0x7e }

// Parse consumes bytes from r in [m.Next, r.End()) and advances m.State as
// far as possible. It returns nil when the parser is resumable (ran out of
// input, or reached a terminal state); it never returns partway through a
// byte. Per spec.md §4.3 the state machine stores (state, next) before
// returning and re-entry resumes with no semantic loss.
func (m *Message) Parse(r Ring) error {
	for m.Next < r.End() {
		c := r.ByteAt(m.Next)
		switch m.State {

		// ---- request-line ----
		case RQBefore:
			if isCRLF(c) {
				m.Next++ // silently strip leading empty CRLFs (spec.md §6)
				continue
			}
			m.SOL = m.Next
			m.MethodStart = m.Next
			m.State = RQMeth
			continue

		case RQMeth:
			if isToken(c) {
				m.Next++
				continue
			}
			if c == ' ' {
				m.MethodLen = m.Next - m.MethodStart
				m.Next++
				m.State = RQMethSP
				continue
			}
			return m.fail(m.Next, "invalid method token")

		case RQMethSP:
			if c == ' ' {
				m.Next++
				continue
			}
			m.URIStart = m.Next
			m.State = RQURI
			continue

		case RQURI:
			if isCRLF(c) {
				// HTTP/0.9 degenerate form: METHOD SP URI CRLF.
				m.URILen = m.Next - m.URIStart
				m.State = RQLineEnd
				continue
			}
			if c == ' ' {
				m.URILen = m.Next - m.URIStart
				m.Next++
				m.State = RQURISP
				continue
			}
			if !isURIByte(c) {
				// Bytes >= 0x80 are tolerated but captured into err_pos
				// unless accept-invalid-http-request is set (spec.md §4.3);
				// the engine records the position and continues.
				if m.ErrPos == 0 {
					m.ErrPos = m.Next
				}
			}
			m.Next++
			continue

		case RQURISP:
			if c == ' ' {
				m.Next++
				continue
			}
			m.VerStart = m.Next
			m.State = RQVer
			continue

		case RQVer:
			if isVerToken(c) {
				m.Next++
				continue
			}
			if isCRLF(c) {
				m.VerLen = m.Next - m.VerStart
				m.State = RQLineEnd
				continue
			}
			return m.fail(m.Next, "invalid version token")

		case RQLineEnd:
			if c == '\r' {
				m.Next++
				continue
			}
			if c == '\n' {
				m.Next++
				m.EOL = m.Next
				if m.VerLen > 0 {
					m.checkHTTP11(r)
				} else {
					// Bare HTTP/0.9 request line (no version token):
					// rewrite in place to "METHOD URI HTTP/1.0\r\n" and
					// shift the cursor/EOL past the inserted bytes
					// (spec.md §8 Scenario D); FlagVER11 correctly stays
					// clear since the rewritten version is 1.0.
					delta, err := m.upgradeHTTP09(r)
					if err != nil {
						return m.fail(m.Next, "HTTP/0.9 upgrade failed: "+err.Error())
					}
					m.Next += int64(delta)
					m.EOL += int64(delta)
				}
				if m.Headers != nil {
					m.Headers.Init(m.Next)
				}
				m.State = HdrFirst
				continue
			}
			return m.fail(m.Next, "expected CRLF after request line")

		// ---- status-line ----
		case RPBefore:
			if isCRLF(c) {
				m.Next++
				continue
			}
			m.SOL = m.Next
			m.VerStart = m.Next
			m.State = RPVer
			continue

		case RPVer:
			if isVerToken(c) {
				m.Next++
				continue
			}
			if c == ' ' {
				m.VerLen = m.Next - m.VerStart
				m.Next++
				m.State = RPVerSP
				continue
			}
			return m.fail(m.Next, "invalid version token")

		case RPVerSP:
			if c == ' ' {
				m.Next++
				continue
			}
			m.CodeStart = m.Next
			m.State = RPCode
			continue

		case RPCode:
			if c >= '0' && c <= '9' {
				m.Next++
				continue
			}
			if c == ' ' {
				m.CodeLen = m.Next - m.CodeStart
				m.Next++
				m.State = RPCodeSP
				continue
			}
			return m.fail(m.Next, "invalid status code")

		case RPCodeSP:
			if c == ' ' {
				m.Next++
				continue
			}
			m.ReasonStart = m.Next
			m.State = RPReason
			continue

		case RPReason:
			if isCRLF(c) {
				m.ReasonLen = m.Next - m.ReasonStart
				m.State = RPLineEnd
				continue
			}
			m.Next++
			continue

		case RPLineEnd:
			if c == '\r' {
				m.Next++
				continue
			}
			if c == '\n' {
				m.Next++
				m.EOL = m.Next
				m.checkHTTP11(r)
				if m.Headers != nil {
					m.Headers.Init(m.Next)
				}
				m.State = HdrFirst
				continue
			}
			return m.fail(m.Next, "expected CRLF after status line")

		// ---- shared header grammar ----
		case HdrFirst:
			if c == '\r' {
				m.eohPos = m.Next
				m.State = LastLF
				m.Next++
				continue
			}
			if c == '\n' {
				eoh := m.Next
				m.Next++
				m.finishHeadersAt(eoh)
				continue
			}
			m.curHdrStart = m.Next
			m.State = HdrName
			continue

		case HdrName:
			if isToken(c) {
				m.Next++
				continue
			}
			if c == ':' {
				m.Next++
				m.State = HdrL1SP
				continue
			}
			return m.fail(m.Next, "invalid header name token")

		case HdrL1SP:
			if isSPHT(c) {
				m.Next++
				continue
			}
			m.SOV = m.Next
			m.State = HdrVal
			continue

		case HdrVal:
			if c == '\r' {
				m.curTermPos = m.Next
				m.Next++
				m.State = HdrL1LF
				continue
			}
			if c == '\n' {
				m.curTermPos = m.Next
				m.curHdrCR = false
				m.Next++
				m.State = HdrL1LWS
				continue
			}
			m.Next++
			continue

		case HdrL1LF:
			if c != '\n' {
				return m.fail(m.Next, "expected LF after CR in header value")
			}
			m.curHdrCR = true
			m.Next++
			m.State = HdrL1LWS
			continue

		case HdrL1LWS:
			if isSPHT(c) {
				// obs-fold: rewrite the CRLF/LF terminator to a single
				// space in place (spec.md §4.3); the fold byte itself is
				// left as part of the value, so "v1\r\n v2" reads as
				// "v1  v2" once resumed below.
				if _, err := r.Replace(m.curTermPos, m.Next, []byte{' '}); err != nil {
					return m.fail(m.Next, "obs-fold rewrite failed: "+err.Error())
				}
				m.Next = m.curTermPos + 1
				m.State = HdrVal
				continue
			}
			// Header line closed; add a cell spanning curHdrStart..curTermPos.
			length := int(m.curTermPos - m.curHdrStart)
			if _, err := m.Headers.Add(length, m.curHdrCR); err != nil {
				return m.fail(m.Next, err.Error())
			}
			m.State = HdrFirst
			continue

		case LastLF:
			if c != '\n' {
				return m.fail(m.Next, "expected LF after CR ending headers")
			}
			m.Next++
			m.finishHeadersAt(m.eohPos)
			continue

		case Done, Error, Tunnel, Closing, Closed:
			return nil

		default:
			return nil
		}
	}
	return nil
}

// checkHTTP11 sets FlagVER11 once the version slice is known, re-deriving
// the bytes from the ring per the offset discipline in spec.md §9 rather
// than holding a slice across the call.
func (m *Message) checkHTTP11(r Ring) {
	if m.VerLen != 8 {
		return
	}
	if string(r.CopyOut(m.VerStart, int(m.VerLen))) == "HTTP/1.1" {
		m.Flags |= FlagVER11
	}
}

// upgradeHTTP09 rewrites a bare "METHOD URI\r\n" request line (no
// version token present) to "METHOD URI HTTP/1.0\r\n" in place via the
// same Replace mechanics HdrL1LWS uses for obs-fold, returning the
// ring's signed length delta so the caller can shift its own cursor.
func (m *Message) upgradeHTTP09(r Ring) (int, error) {
	insertAt := m.URIStart + m.URILen
	delta, err := r.Replace(insertAt, insertAt, []byte(" HTTP/1.0"))
	if err != nil {
		return 0, err
	}
	m.VerStart = insertAt + 1
	m.VerLen = 8
	return delta, nil
}

func (m *Message) finishHeadersAt(pos int64) {
	m.EOH = pos
	m.State = Body
}

func (m *Message) fail(pos int64, msg string) error {
	m.State = Error
	m.ErrPos = pos
	return herrors.NewParseError(int(pos), msg)
}
