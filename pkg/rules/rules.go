// Package rules implements the C7 Rule Interpreter from spec.md §4.7: an
// ordered list of request/response rules, each with an optional ACL
// condition and a tagged-sum action, evaluated to one terminal verdict.
//
// Grounded on spec.md §9's "Dynamic dispatch" design note ("model actions
// as a tagged sum type with one variant per built-in plus a Custom(dyn
// Action) variant"), and on the teacher library's Options-driven behavior
// switches (the closest the teacher gets to a rule system) for the
// add/set/del-header mutation shape. regex-replace uses
// github.com/dlclark/regexp2 for PCRE-style backreferences (confirmed in
// the retrieval pack, e.g. shiroyk-ski-ext/fetch), pattern-table keys use
// github.com/cespare/xxhash/v2 (confirmed in the pack), and the "custom"
// action dispatches into a github.com/grafana/sobek JS runtime (confirmed
// in shiroyk-ski-ext) instead of a Go-only callback registry, matching
// spec.md §9's "registered plugins" extensibility point with an actual
// scripting engine from the pack. Replace actions validate their output
// with golang.org/x/net/http/httpguts (confirmed in the pack's
// shiroyk-ski-ext/fetch/http2 and in other_examples' api-gateway proxy)
// rather than a hand-rolled CRLF scan, the same guard net/http's own
// server uses against header-splitting.
//
// Header mutations (add/set/del/replace) splice bytes directly into the
// caller's ring via the Ring interface rather than only touching
// HeaderIndex bookkeeping: Index.Offset/End sum live cells' physical
// spans, so a mutation that doesn't also move the underlying bytes would
// leave every later Offset() calculation wrong, not merely leave the
// wire unaffected.
package rules

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dlclark/regexp2"
	"github.com/grafana/sobek"
	"golang.org/x/net/http/httpguts"

	"github.com/haprox/httpengine/pkg/headerindex"
	"github.com/haprox/httpengine/pkg/herrors"
)

// Verdict is the outcome of walking a rule list (spec.md §4.7).
type Verdict int

const (
	VerdictCont Verdict = iota
	VerdictStop
	VerdictDeny
	VerdictAbrt
	VerdictDone
	VerdictBadReq
)

// ActionKind tags the variant of an Action (spec.md §9 "tagged sum type").
type ActionKind int

const (
	ActionAllow ActionKind = iota
	ActionDeny
	ActionTarpit
	ActionAuth
	ActionRedirect
	ActionSetNice
	ActionSetTOS
	ActionSetMark
	ActionSetLogLevel
	ActionAddHeader
	ActionSetHeader
	ActionDelHeader
	ActionReplaceHeader
	ActionReplaceValue
	ActionAddACL
	ActionDelACL
	ActionSetMap
	ActionDelMap
	ActionCustom
)

// Condition is an ACL evaluator with if/unless polarity (spec.md §4.7).
// Matches is supplied by the ACL subsystem (out of scope per spec.md §1,
// "ACL/sample-fetch compilation"); rules only consumes the compiled
// predicate.
type Condition struct {
	Matches func() bool
	Unless  bool
}

func (c *Condition) eval() bool {
	if c.Matches == nil {
		return true
	}
	m := c.Matches()
	if c.Unless {
		return !m
	}
	return m
}

// Action is one rule action: a Kind plus the argument payload relevant to
// that kind. Only the fields relevant to Kind are populated.
type Action struct {
	Kind ActionKind

	Cond *Condition

	HeaderName   string
	HeaderValue  string
	RedirectTo   string
	RedirectCode int
	Realm        string

	// ReplaceHeader/ReplaceValue: PCRE-style pattern and replacement,
	// compiled lazily and cached on first use.
	Pattern     string
	Replacement string
	compiled    *regexp2.Regexp

	MapName string
	MapKey  string
	MapVal  string

	CustomScript string // sobek source for ActionCustom

	Nice  int
	TOS   byte
	Mark  uint32
	Level string
}

// Reader aliases headerindex.Reader for callers that only ever read.
type Reader = headerindex.Reader

// Ring is the subset of ring.Buffer header mutation needs: read access
// plus the splice primitive backing add/set/del/replace-header.
type Ring interface {
	Reader
	Replace(start, end int64, data []byte) (int, error)
}

// Result carries the verdict plus any response the verdict implies
// (redirect Location, auth realm, deny/tarpit status).
type Result struct {
	Verdict  Verdict
	Status   int
	Location string
	Realm    string
}

// Effects carries the non-header, non-verdict side effects a rule list can
// accumulate while it runs (spec.md §4.7's set-nice/set-tos/set-mark/
// set-log-level actions). These never suspend evaluation and never
// produce a terminal verdict on their own, so Run returns them alongside
// Result instead of folding them into it; the Session glue applies them
// onto the Transaction once Run returns.
type Effects struct {
	Nice     int
	TOS      byte
	Mark     uint32
	LogLevel string
}

// Interpreter walks a Rule list in order. Built-ins are non-blocking;
// ActionCustom may run a sobek script and is the only suspension point
// (spec.md §5 "The rule interpreter yields only in custom rules").
type Interpreter struct {
	rules []Action
	vm    *sobek.Runtime
}

// New builds an Interpreter over an ordered rule list.
func New(rules []Action) *Interpreter {
	return &Interpreter{rules: rules}
}

// Run evaluates rules in order against ring/idx, applying header mutations
// in place and stopping at the first terminal verdict. Effects accumulate
// across every set-nice/set-tos/set-mark/set-log-level action that fires
// before the terminal verdict, not just the last one.
func (ip *Interpreter) Run(ring Ring, idx *headerindex.Index) (Result, Effects, error) {
	var eff Effects
	for i := range ip.rules {
		act := &ip.rules[i]
		if act.Cond != nil && !act.Cond.eval() {
			continue
		}
		res, err := ip.apply(act, ring, idx, &eff)
		if err != nil {
			return Result{Verdict: VerdictBadReq}, eff, err
		}
		if res.Verdict != VerdictCont {
			return res, eff, nil
		}
	}
	return Result{Verdict: VerdictCont}, eff, nil
}

func (ip *Interpreter) apply(act *Action, ring Ring, idx *headerindex.Index, eff *Effects) (Result, error) {
	switch act.Kind {
	case ActionAllow:
		return Result{Verdict: VerdictStop}, nil
	case ActionDeny:
		return Result{Verdict: VerdictDeny, Status: 403}, nil
	case ActionTarpit:
		return Result{Verdict: VerdictDeny, Status: 500}, nil
	case ActionAuth:
		return Result{Verdict: VerdictAbrt, Status: 401, Realm: act.Realm}, nil
	case ActionRedirect:
		return Result{Verdict: VerdictDone, Status: act.RedirectCode, Location: act.RedirectTo}, nil

	case ActionSetNice:
		eff.Nice = act.Nice
		return Result{Verdict: VerdictCont}, nil
	case ActionSetTOS:
		eff.TOS = act.TOS
		return Result{Verdict: VerdictCont}, nil
	case ActionSetMark:
		eff.Mark = act.Mark
		return Result{Verdict: VerdictCont}, nil
	case ActionSetLogLevel:
		eff.LogLevel = act.Level
		return Result{Verdict: VerdictCont}, nil

	case ActionAddHeader:
		if err := AddHeader(ring, idx, act.HeaderName, act.HeaderValue); err != nil {
			return Result{}, err
		}
		return Result{Verdict: VerdictCont}, nil

	case ActionSetHeader:
		if err := DeleteHeader(ring, idx, act.HeaderName); err != nil {
			return Result{}, err
		}
		if err := AddHeader(ring, idx, act.HeaderName, act.HeaderValue); err != nil {
			return Result{}, err
		}
		return Result{Verdict: VerdictCont}, nil

	case ActionDelHeader:
		if err := DeleteHeader(ring, idx, act.HeaderName); err != nil {
			return Result{}, err
		}
		return Result{Verdict: VerdictCont}, nil

	case ActionReplaceHeader, ActionReplaceValue:
		if err := ip.replace(act, ring, idx); err != nil {
			return Result{}, err
		}
		return Result{Verdict: VerdictCont}, nil

	case ActionAddACL, ActionDelACL, ActionSetMap, ActionDelMap:
		// The pattern table itself lives outside the core (spec.md §1);
		// the interpreter only computes the xxhash key used to index it.
		_ = PatternKey(act.MapKey)
		return Result{Verdict: VerdictCont}, nil

	case ActionCustom:
		return ip.runCustom(act)

	default:
		return Result{Verdict: VerdictCont}, nil
	}
}

// DeleteHeader physically removes every live cell matching name from both
// the ring (splicing out the cell's full span, terminator included via
// Index.Span) and the HeaderIndex (spec.md §4.7 "del-header: delete all
// occurrences by name"). Exported so the connection-mode glue (C6) can
// reuse it for Connection/Proxy-Connection header deletes instead of
// duplicating the splice dance.
func DeleteHeader(ring Ring, idx *headerindex.Index, name string) error {
	for {
		cell, _, ok := idx.Find(ring, name)
		if !ok {
			return nil
		}
		prev := 0
		for c := idx.FirstIdx(); c != 0 && c != cell; c = idx.Cell(c).Next {
			prev = c
		}
		start := idx.Offset(cell)
		end := start + idx.Span(cell)
		if _, err := ring.Replace(start, end, nil); err != nil {
			return err
		}
		idx.Remove(prev, cell)
	}
}

// AddHeader appends a new "Name: Value\r\n" header line at the end of the
// live header block (idx.End()) and registers it as a new cell. Exported
// for the same reason as DeleteHeader.
func AddHeader(ring Ring, idx *headerindex.Index, name, value string) error {
	line := name + ": " + value
	if _, err := ring.Replace(idx.End(), idx.End(), []byte(line+"\r\n")); err != nil {
		return err
	}
	_, err := idx.Add(len(line), true)
	return err
}

// SetHeader is DeleteHeader followed by AddHeader: remove every existing
// occurrence of name, then append the single new value.
func SetHeader(ring Ring, idx *headerindex.Index, name, value string) error {
	if err := DeleteHeader(ring, idx, name); err != nil {
		return err
	}
	return AddHeader(ring, idx, name, value)
}

// replace runs regexp2-backed replace-header and replace-value (spec.md
// §4.7) on the first header named act.HeaderName, splicing the rewritten
// line into the ring in place. Both kinds apply the pattern to that
// header's whole trimmed field-value: the header name is not part of the
// matched text, the value is not split on commas, and later headers with
// the same name are left unchanged. Regex compilation is cached on
// the Action since the same rule is evaluated per-transaction.
func (ip *Interpreter) replace(act *Action, ring Ring, idx *headerindex.Index) error {
	if act.compiled == nil {
		re, err := regexp2.Compile(act.Pattern, regexp2.None)
		if err != nil {
			return herrors.NewParseError(0, "invalid replace pattern: "+err.Error())
		}
		act.compiled = re
	}

	cell, val, ok := idx.Find(ring, act.HeaderName)
	if !ok {
		return nil
	}
	out, err := act.compiled.Replace(string(val), act.Replacement, -1, -1)
	if err != nil {
		return herrors.NewParseError(0, "replace failed: "+err.Error())
	}
	// A replacement that injects CRLF/control bytes would corrupt framing;
	// such a result is dropped and the header left as it was; nothing is
	// logged. httpguts.ValidHeaderFieldValue is the same check net/http's
	// own server uses to reject header-splitting payloads.
	if !httpguts.ValidHeaderFieldValue(out) {
		return nil
	}
	newLine := act.HeaderName + ": " + out
	start := idx.Offset(cell)
	if _, err := ring.Replace(start, start+int64(idx.Cell(cell).Len), []byte(newLine)); err != nil {
		return err
	}
	idx.SetLen(cell, len(newLine))
	return nil
}

// PatternKey hashes a log-format-built key string for add-acl/set-map
// pattern-table lookups (spec.md §4.11), using xxhash for O(1) table
// indexing the way the pack's cache/dedup layers do.
func PatternKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

// runCustom dispatches to a registered sobek script (spec.md §4.10): the
// script receives nothing but may call back into host functions bound via
// Bind before Run.
func (ip *Interpreter) runCustom(act *Action) (Result, error) {
	if ip.vm == nil {
		ip.vm = sobek.New()
	}
	v, err := ip.vm.RunString(act.CustomScript)
	if err != nil {
		return Result{}, herrors.NewResourceError("custom action script", err)
	}
	if v == nil || sobek.IsUndefined(v) {
		return Result{Verdict: VerdictCont}, nil
	}
	s := v.String()
	switch s {
	case "stop":
		return Result{Verdict: VerdictStop}, nil
	case "deny":
		return Result{Verdict: VerdictDeny, Status: 403}, nil
	default:
		return Result{Verdict: VerdictCont}, nil
	}
}

// Bind exposes a host function to the custom-action sobek runtime, lazily
// creating it if needed (spec.md §4.10).
func (ip *Interpreter) Bind(name string, fn func(sobek.FunctionCall) sobek.Value) {
	if ip.vm == nil {
		ip.vm = sobek.New()
	}
	ip.vm.Set(name, fn)
}
