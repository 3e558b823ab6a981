// Package txn implements the C8 Transaction FSM from spec.md §4.8: pairs
// request and response Message states into one transaction lifecycle and
// drives channel shutdowns, plus the §3 Transaction data model (flags,
// status, captured URI; captured headers and cookie dates are not carried
// here) and §6 session-flag/finish-instant
// log-field surface.
//
// Grounded on the teacher library's pkg/client.Response/timing.Timer
// pairing (one Do() call owns one request Message and one response
// Message plus a *timing.Timer), generalized into the two-sided FSM
// spec.md describes since the teacher only ever drives one direction per
// call.
package txn

import (
	"github.com/haprox/httpengine/pkg/connmode"
	"github.com/haprox/httpengine/pkg/headerindex"
	"github.com/haprox/httpengine/pkg/hconst"
	"github.com/haprox/httpengine/pkg/message"
	"github.com/haprox/httpengine/pkg/timing"
)

// Flags are the per-transaction bitset from spec.md §3 (a representative
// subset sufficient to drive C6/C8/C9 decisions; the full HAProxy-derived
// set is far larger and most of it is config-only bookkeeping the core
// never branches on).
type Flags uint32

const (
	FlagNotFirst Flags = 1 << iota
	FlagWaitNextRQ
	FlagUsePxConn
	FlagHdrConnClose
	FlagHdrConnKeepAlive
	FlagHdrConnUpgrade
	FlagClDeny
	FlagClAllow
	FlagClTarpit
	FlagSvDeny
	FlagSvAllow
	FlagCacheable
)

// ErrKind is SF_ERR_* from spec.md §6.
type ErrKind string

const (
	ErrNone     ErrKind = "-"
	ErrCliTO    ErrKind = "cD"
	ErrCliCl    ErrKind = "cC"
	ErrSrvTO    ErrKind = "sD"
	ErrSrvCl    ErrKind = "sC"
	ErrPrxCond  ErrKind = "PC"
	ErrResource ErrKind = "RE"
	ErrInternal ErrKind = "IN"
	ErrLocal    ErrKind = "LR"
)

// FinInstant is SF_FINST_* from spec.md §6: which stage the transaction
// was in when it terminated.
type FinInstant string

const (
	FinR FinInstant = "R" // request headers
	FinC FinInstant = "C" // backend connect
	FinH FinInstant = "H" // response headers
	FinD FinInstant = "D" // data transfer
	FinL FinInstant = "L" // closing
	FinQ FinInstant = "Q" // queue
	FinT FinInstant = "T" // tarpit
)

// Transaction owns the request/response Message pair and the per-txn
// flags/status spec.md §3 describes. Request and Response each carry
// their own HeaderIndex since they parse independent rings (frontend vs
// backend); Headers exposes the request side for callers (e.g. Session,
// cookie capture) that only ever inspect request headers directly.
type Transaction struct {
	Request         *message.Message
	Response        *message.Message
	Headers         *headerindex.Index
	ResponseHeaders *headerindex.Index

	Status   int
	Method   string
	Flags    Flags
	ConnMode connmode.Mode

	Err   ErrKind
	Finst FinInstant

	Timer *timing.Timer

	CapturedURI string

	// Nice/TOS/Mark/LogLevel hold the resolved values of the last
	// set-nice/set-tos/set-mark/set-log-level rule actions to fire for
	// this transaction (spec.md §4.7). Applying them to the actual socket
	// is the host integration's job (spec.md §1: the core never dials or
	// owns a socket) — the core's contribution is computing and logging
	// the resolved value via pkg/hlog.
	Nice     int
	TOS      byte
	Mark     uint32
	LogLevel string
}

// New allocates a Transaction over a request-side HeaderIndex, allocating
// a matching response-side HeaderIndex of its own (spec.md §9: positions
// are offsets into one ring, and request/response never share a ring).
func New(headers *headerindex.Index) *Transaction {
	respHeaders := headerindex.New(hconst.DefaultMaxHeaders)
	return &Transaction{
		Headers:         headers,
		ResponseHeaders: respHeaders,
		Request:         message.New(message.Request, 0, headers),
		Response:        message.New(message.Response, 0, respHeaders),
		Err:             ErrNone,
		Timer:           timing.NewTimer(),
	}
}

// Outcome tells the Session glue what to do once both sides finish.
type Outcome int

const (
	OutcomeContinue Outcome = iota // not yet both DONE
	OutcomeReset                   // keep-alive: reset and await next request
	OutcomeServerClose             // backend writes close, client stays
	OutcomeClose                   // close both sides
	OutcomeTunnel                  // switch to raw tunnel, disable analyzers
)

// Step implements spec.md §4.8's pair FSM. Call it whenever either side's
// Message.State changes.
func (t *Transaction) Step() Outcome {
	if t.Request.State == message.Error || t.Response.State == message.Error {
		t.abortBoth()
		return OutcomeClose
	}
	if t.Request.State == message.Tunnel || t.Response.State == message.Tunnel {
		t.Request.State = message.Tunnel
		t.Response.State = message.Tunnel
		return OutcomeTunnel
	}
	if t.Request.State != message.Done || t.Response.State != message.Done {
		return OutcomeContinue
	}

	switch t.ConnMode {
	case connmode.WantTUN:
		t.Request.State = message.Tunnel
		t.Response.State = message.Tunnel
		return OutcomeTunnel
	case connmode.WantKAL:
		return OutcomeReset
	case connmode.WantSCL:
		return OutcomeServerClose
	default:
		return OutcomeClose
	}
}

func (t *Transaction) abortBoth() {
	t.Request.State = message.Closing
	t.Response.State = message.Closing
}

// EndCleanSession implements http_end_txn_clean_session (spec.md §4.8):
// preserves the buffers but zeroes per-txn counters, resets HeaderIndex,
// and returns both Message states to their "before" states, re-pointed at
// each side's own ring cursor (reqPos/respPos) for the next pipelined
// request — Request and Response parse independent rings, so they cannot
// share one reset offset.
func (t *Transaction) EndCleanSession(reqPos, respPos int64) {
	wasFirst := t.Flags&FlagNotFirst != 0
	t.Flags = 0
	if wasFirst {
		t.Flags |= FlagNotFirst
	}
	t.Status = 0
	t.Method = ""
	t.Err = ErrNone
	t.Finst = ""
	t.CapturedURI = ""
	t.Nice, t.TOS, t.Mark, t.LogLevel = 0, 0, 0, ""
	t.Request.ResetAt(reqPos)
	t.Response.ResetAt(respPos)
	t.Timer = timing.NewTimer()
}

// TerminationCode derives the two-char log code from (Err, Finst) per
// spec.md §6.
func (t *Transaction) TerminationCode() string {
	if t.Err == ErrNone {
		return "--" + string(t.Finst)
	}
	return string(t.Err) + string(t.Finst)
}

// CaptureURI truncates and stores the request URI for logging, honouring
// hconst.ReqURILen (spec.md §6 "captured request URI truncated to
// REQURI_LEN").
func (t *Transaction) CaptureURI(uri string) {
	if len(uri) > hconst.ReqURILen {
		uri = uri[:hconst.ReqURILen]
	}
	t.CapturedURI = uri
}
