package session

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/haprox/httpengine/pkg/compress"
	"github.com/haprox/httpengine/pkg/connmode"
	"github.com/haprox/httpengine/pkg/cookie"
	"github.com/haprox/httpengine/pkg/forward"
	"github.com/haprox/httpengine/pkg/framing"
	"github.com/haprox/httpengine/pkg/headerindex"
	"github.com/haprox/httpengine/pkg/herrors"
	"github.com/haprox/httpengine/pkg/message"
	"github.com/haprox/httpengine/pkg/ring"
	"github.com/haprox/httpengine/pkg/rules"
	"github.com/haprox/httpengine/pkg/snapshot"
	"github.com/haprox/httpengine/pkg/txn"
)

// Channel is one direction's wire plumbing (spec.md §3 Channel: a ring
// buffer plus the socket it reads from/writes to). Frontend and Backend
// are each modeled by one Channel, driven by their own goroutine.
type Channel struct {
	Conn io.ReadWriteCloser
	Ring *ring.Buffer
}

// Session owns one frontend/backend connection pair and the Transaction
// that flows through it. Per SPEC_FULL.md §5's Open Question decision,
// each Session runs two pump goroutines (one per Channel direction), plus
// the watcher Run starts to close both Conns, coordinated with
// golang.org/x/sync/errgroup, with all shared state
// (Transaction, HeaderIndex, ConnMode) behind mu — the parser, header
// index, and rule interpreter stay lock-free themselves, only ever called
// by whichever goroutine currently holds mu.
type Session struct {
	mu sync.Mutex

	Frontend *Channel
	Backend  *Channel

	Txn     *txn.Transaction
	Rules   *rules.Interpreter
	Headers *headerindex.Index

	// ServerID, CookieName and CookieMode configure the C9 cookie
	// persistence glue (spec.md §4.9). CookieName == "" disables it
	// entirely: no Set-Cookie inspection is performed.
	ServerID   string
	CookieName string
	CookieMode cookie.Mode

	// UseProxyConnection selects Proxy-Connection over Connection for the
	// C6 connection-mode header, per "option http-use-proxy-header"
	// (spec.md §4.6).
	UseProxyConnection bool

	// BadRequest/BadResponse hold a snapshot of the offending bytes from
	// the last parse/framing error seen on each side (spec.md §7's
	// "invalid request/response" diagnostic slot), populated lazily —
	// nil until the first such error.
	BadRequest  *snapshot.Archive
	BadResponse *snapshot.Archive

	reqHeadSent  bool
	reqFraming   framing.Result
	respHeadSent bool
	respFraming  framing.Result

	done chan struct{}
}

// New builds a Session over an already-established frontend/backend pair.
func New(frontend, backend *Channel, ruleList []rules.Action) *Session {
	idx := headerindex.New(256)
	return &Session{
		Frontend: frontend,
		Backend:  backend,
		Headers:  idx,
		Txn:      txn.New(idx),
		Rules:    rules.New(ruleList),
		done:     make(chan struct{}),
	}
}

// Run drives both directions until either goroutine returns (peer close,
// error, or a rule ABRT/DENY verdict), matching spec.md §5's "either side
// may close only after DONE or on ERROR." A third goroutine closes both
// Conns as soon as ctx is done (either the caller's ctx or errgroup's
// derived one, tripped the moment the first pump returns an error) so the
// surviving pump's blocking Read unblocks instead of stalling forever on
// a peer that will never write again.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pumpFrontend(ctx) })
	g.Go(func() error { return s.pumpBackend(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		s.Frontend.Conn.Close()
		s.Backend.Conn.Close()
		return nil
	})
	err := g.Wait()
	close(s.done)
	return err
}

// pumpFrontend reads client bytes, parses them under mu, and evaluates
// request-phase rules before handing framing decisions to pumpBackend via
// the shared Transaction.
func (s *Session) pumpFrontend(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := s.Frontend.Conn.Read(buf)
		if n > 0 {
			if ferr := s.feedFrontend(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) feedFrontend(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.Frontend.Ring.Write(b); err != nil {
		return err
	}
	if err := s.Txn.Request.Parse(s.Frontend.Ring); err != nil {
		s.archiveBadMessage(&s.BadRequest, s.Frontend.Ring, s.Txn.Request.SOL, err)
		return err
	}
	if s.Txn.Request.EOH == 0 {
		return nil
	}
	if !s.reqHeadSent {
		res, eff, err := s.Rules.Run(s.Frontend.Ring, s.Headers)
		if err != nil {
			return err
		}
		s.applyEffects(eff)
		if res.Verdict == rules.VerdictDeny || res.Verdict == rules.VerdictAbrt || res.Verdict == rules.VerdictDone {
			if _, werr := s.Frontend.Conn.Write(buildVerdictResponse(res)); werr != nil {
				return werr
			}
			return io.EOF
		}
		fr, err := framing.Analyze(s.Frontend.Ring, s.Headers, false, requestMethod(s.Txn.Request, s.Frontend.Ring), 0)
		if err != nil {
			s.archiveBadMessage(&s.BadRequest, s.Frontend.Ring, s.Txn.Request.SOL, err)
			return err
		}
		s.reqFraming = fr
		head := buildHeaderBlock(s.Frontend.Ring, s.Txn.Request, s.Headers)
		if _, err := s.Backend.Conn.Write(head); err != nil {
			return err
		}
		s.reqHeadSent = true
		s.armBody(s.Txn.Request, s.reqFraming)
	}
	return s.forwardBody(s.Frontend.Ring, s.Txn.Request, s.reqFraming, s.Backend.Conn)
}

// applyEffects folds the non-header side effects a rule run accumulated
// (spec.md §4.7's set-nice/set-tos/set-mark/set-log-level) onto the
// Transaction, where pkg/hlog picks them up for the completed-transaction
// log line. Zero values are left untouched so a rule list with no such
// action doesn't clobber an earlier one from a prior rule phase.
func (s *Session) applyEffects(eff rules.Effects) {
	if eff.Nice != 0 {
		s.Txn.Nice = eff.Nice
	}
	if eff.TOS != 0 {
		s.Txn.TOS = eff.TOS
	}
	if eff.Mark != 0 {
		s.Txn.Mark = eff.Mark
	}
	if eff.LogLevel != "" {
		s.Txn.LogLevel = eff.LogLevel
	}
}

// archiveBadMessage captures the raw bytes of an invalid request/response
// into the §7 diagnostic slot the first time a parse/framing error is seen
// on a side; later errors on the same side are not re-archived (the first
// snapshot is the one worth keeping).
func (s *Session) archiveBadMessage(slot **snapshot.Archive, r *ring.Buffer, start int64, cause error) {
	if *slot != nil {
		return
	}
	t := herrors.GetErrorType(cause)
	if t != herrors.ErrorTypeParse && t != herrors.ErrorTypeFraming {
		return
	}
	arc := snapshot.New(0)
	if n := int(r.End() - start); n > 0 {
		arc.Write(r.CopyOut(start, n))
	}
	arc.ErrPos = herrors.PosOf(cause)
	arc.SessFlags = uint32(s.Txn.Flags)
	*slot = arc
}

// buildHeaderBlock reconstructs the forwarded header bytes (start-line
// plus every still-live header cell plus the terminating blank line) by
// walking the HeaderIndex, rather than copying the raw SOL..EOH ring
// range. A raw range copy would silently re-forward bytes a rule or
// framing mutation already spliced out of the ring and unlinked from the
// index, since Message.EOH is a one-time snapshot that never tracks the
// cumulative byte-delta those mutations leave behind.
func buildHeaderBlock(r headerindex.Reader, m *message.Message, idx *headerindex.Index) []byte {
	var b bytes.Buffer
	b.Write(r.CopyOut(m.SOL, int(m.EOL-m.SOL)))
	for c := idx.FirstIdx(); c != 0; c = idx.Cell(c).Next {
		b.Write(idx.Line(r, c))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// buildVerdictResponse renders the raw HTTP/1.1 response bytes a terminal
// rule verdict implies (spec.md §4.7's action table: "deny: body 403
// sent", "auth: emits 401/407 with WWW/Proxy-Authenticate", a redirect
// rule emits a 30x with Location) — nothing downstream of the rule
// interpreter ever talks to the frontend once one of these verdicts
// fires, so Session has to synthesize the response itself.
func buildVerdictResponse(res rules.Result) []byte {
	status := res.Status
	if status == 0 {
		status = 500
	}

	var extra bytes.Buffer
	var body []byte
	switch {
	case res.Verdict == rules.VerdictDone:
		extra.WriteString("Location: " + res.Location + "\r\n")
	case status == 401:
		extra.WriteString(`WWW-Authenticate: Basic realm="` + res.Realm + "\"\r\n")
		body = []byte(http.StatusText(status) + "\n")
	case status == 407:
		extra.WriteString(`Proxy-Authenticate: Basic realm="` + res.Realm + "\"\r\n")
		body = []byte(http.StatusText(status) + "\n")
	default:
		body = []byte(http.StatusText(status) + "\n")
	}

	var b bytes.Buffer
	b.WriteString("HTTP/1.1 " + strconv.Itoa(status) + " " + http.StatusText(status) + "\r\n")
	b.WriteString("Content-length: " + strconv.Itoa(len(body)) + "\r\n")
	b.Write(extra.Bytes())
	b.WriteString("Connection: close\r\n\r\n")
	b.Write(body)
	return b.Bytes()
}

// requestMethod re-derives the parsed method token, used only to feed
// framing.Analyze's method/status inputs.
func requestMethod(m *message.Message, r framing.Reader) string {
	return string(r.CopyOut(m.MethodStart, int(m.MethodLen)))
}

// statusCode re-derives the parsed numeric status code from a response
// Message's CodeStart/CodeLen offsets.
func statusCode(m *message.Message, r framing.Reader) int {
	b := r.CopyOut(m.CodeStart, int(m.CodeLen))
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// armBody performs the one-time BODY state transition implied by the
// analyzed framing mode (spec.md §4.5's entry into the chunked/CL/until-
// close walk). Called exactly once per message, right after its framing
// is analyzed, before the first forwardBody call.
func (s *Session) armBody(m *message.Message, fr framing.Result) {
	if m.State != message.Body {
		return
	}
	switch fr.Mode {
	case framing.ModeChunked:
		m.State = message.ChunkSize
	case framing.ModeContentLength, framing.ModeNone:
		if fr.DeclaredCL == 0 {
			m.State = message.Done
			return
		}
		m.ChunkLen = fr.DeclaredCL
	case framing.ModeUntilClose:
		// stays in Body; ForwardUntilClose reads directly from it.
	}
}

// forwardBody dispatches to the Body Forwarder per the analyzed framing
// mode, treating forward.ErrYield as "wait for more bytes" rather than a
// hard error.
func (s *Session) forwardBody(r forward.SourceRing, m *message.Message, fr framing.Result, out io.Writer) error {
	if m.State == message.Done {
		return nil
	}
	coder := compress.NewRegistry().New("identity", out)
	var err error
	switch fr.Mode {
	case framing.ModeChunked:
		err = forward.ForwardChunked(r, m, out, coder)
	case framing.ModeContentLength, framing.ModeNone:
		err = forward.ForwardContentLength(r, m, out, coder)
	case framing.ModeUntilClose:
		err = forward.ForwardUntilClose(r, m, out, coder, false)
	}
	if err == forward.ErrYield {
		return nil
	}
	return err
}

// pumpBackend reads server bytes and parses the response side under mu,
// stepping the Transaction FSM and applying the connmode decision once
// both sides reach message.Done.
func (s *Session) pumpBackend(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := s.Backend.Conn.Read(buf)
		if n > 0 {
			if ferr := s.feedBackend(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) feedBackend(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.Backend.Ring.Write(b); err != nil {
		return err
	}
	if err := s.Txn.Response.Parse(s.Backend.Ring); err != nil {
		s.archiveBadMessage(&s.BadResponse, s.Backend.Ring, s.Txn.Response.SOL, err)
		return err
	}
	if s.Txn.Response.EOH != 0 {
		if !s.respHeadSent {
			s.Txn.Status = statusCode(s.Txn.Response, s.Backend.Ring)
			fr, err := framing.Analyze(s.Backend.Ring, s.Txn.ResponseHeaders, true,
				requestMethod(s.Txn.Request, s.Frontend.Ring), s.Txn.Status)
			if err != nil {
				s.archiveBadMessage(&s.BadResponse, s.Backend.Ring, s.Txn.Response.SOL, err)
				return err
			}
			s.respFraming = fr
			s.resolveConnMode(fr)
			if s.CookieName != "" {
				s.applyCookiePersistence()
			}
			head := buildHeaderBlock(s.Backend.Ring, s.Txn.Response, s.Txn.ResponseHeaders)
			if _, err := s.Frontend.Conn.Write(head); err != nil {
				return err
			}
			s.respHeadSent = true
			s.armBody(s.Txn.Response, s.respFraming)
		}
		if err := s.forwardBody(s.Backend.Ring, s.Txn.Response, s.respFraming, s.Frontend.Conn); err != nil {
			return err
		}
	}
	switch s.Txn.Step() {
	case txn.OutcomeClose, txn.OutcomeServerClose:
		return io.EOF
	case txn.OutcomeReset:
		s.Txn.EndCleanSession(s.Frontend.Ring.End(), s.Backend.Ring.End())
		s.reqHeadSent, s.respHeadSent = false, false
	case txn.OutcomeTunnel:
		s.ConnModeTunnel()
	}
	return nil
}

// resolveConnMode implements the C6 wiring spec.md §4.6 describes: once
// both sides' framing is known (request framing was already analyzed in
// feedFrontend; fr is the response's), decide the connection mode and
// mutate the response's Connection/Proxy-Connection header before it is
// forwarded — deciding any later, after the header block has already gone
// out, would compute the right Mode too late to affect the header the
// client actually receives. Without this call ConnMode silently stays at
// its zero value, WantKAL, regardless of HTTP version or Connection
// header.
func (s *Session) resolveConnMode(fr framing.Result) {
	http11 := s.Txn.Request.Flags&message.FlagVER11 != 0
	connName := "Connection"
	if s.UseProxyConnection {
		connName = "Proxy-Connection"
	}
	in := connmode.Input{
		HTTP11: http11,
		ConnClose: connmode.HasConnectionToken(s.Frontend.Ring, s.Headers, connName, "close") ||
			connmode.HasConnectionToken(s.Backend.Ring, s.Txn.ResponseHeaders, connName, "close"),
		ConnKeepAlive: connmode.HasConnectionToken(s.Frontend.Ring, s.Headers, connName, "keep-alive") ||
			connmode.HasConnectionToken(s.Backend.Ring, s.Txn.ResponseHeaders, connName, "keep-alive"),
		ConnUpgrade: connmode.HasConnectionToken(s.Frontend.Ring, s.Headers, connName, "upgrade") ||
			connmode.HasConnectionToken(s.Backend.Ring, s.Txn.ResponseHeaders, connName, "upgrade"),
		KnownTransferLength: s.reqFraming.KnownLen && fr.KnownLen,
	}
	mode := connmode.Decide(in)
	s.Txn.ConnMode = mode

	for _, e := range connmode.MutateHeaders(s.Backend.Ring, s.Txn.ResponseHeaders, mode, http11, s.UseProxyConnection) {
		switch e.Op {
		case connmode.OpSet:
			rules.SetHeader(s.Backend.Ring, s.Txn.ResponseHeaders, e.Name, e.Value)
		case connmode.OpDelete:
			rules.DeleteHeader(s.Backend.Ring, s.Txn.ResponseHeaders, e.Name)
		}
	}
}

// applyCookiePersistence implements the C9 cookie glue from spec.md §4.9:
// scan the response's Set-Cookie lines for the configured persistence
// cookie, and rewrite or strip its value per CookieMode, keyed off the
// server identity this Session is bound to.
func (s *Session) applyCookiePersistence() {
	if s.CookieMode == cookie.ModePSV {
		return
	}
	for _, cell := range s.Txn.ResponseHeaders.FindAll(s.Backend.Ring, "Set-Cookie") {
		line := s.Txn.ResponseHeaders.Line(s.Backend.Ring, cell)
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		value := string(bytes.TrimSpace(line[colon+1:]))
		attrs := cookie.ParseCookieHeader(value)
		sc, found := cookie.FindServerCookie(attrs, s.CookieName)
		if !found {
			continue
		}
		newVal, remove := cookie.RewriteSetCookie(s.CookieMode, sc.Value, s.ServerID)
		if remove {
			hdrs := s.Txn.ResponseHeaders
			start := hdrs.Offset(cell)
			end := start + int64(hdrs.Cell(cell).Len) + 1
			if hdrs.Cell(cell).CR {
				end++
			}
			if _, err := s.Backend.Ring.Replace(start, end, nil); err != nil {
				continue
			}
			prev := 0
			for c := hdrs.FirstIdx(); c != cell; c = hdrs.Cell(c).Next {
				prev = c
			}
			hdrs.Remove(prev, cell)
			continue
		}
		newValue := bytes.Replace([]byte(value), []byte(sc.Name+"="+sc.Value), []byte(sc.Name+"="+newVal), 1)
		newLine := "Set-Cookie: " + string(newValue)
		start := s.Txn.ResponseHeaders.Offset(cell)
		if _, err := s.Backend.Ring.Replace(start, start+int64(s.Txn.ResponseHeaders.Cell(cell).Len), []byte(newLine)); err != nil {
			continue
		}
		s.Txn.ResponseHeaders.SetLen(cell, len(newLine))
	}
}

// ConnModeTunnel switches the Transaction to tunnel mode, disabling the
// HTTP analyzers for the remainder of the connection (spec.md §4.6).
func (s *Session) ConnModeTunnel() {
	s.Txn.ConnMode = connmode.WantTUN
}
