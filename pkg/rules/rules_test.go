package rules

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/haprox/httpengine/pkg/headerindex"
)

// fakeRing is a growable flat-buffer Ring good enough to exercise header
// splicing without pulling in pkg/ring; Replace shifts the tail in place
// exactly the way ring.Buffer.Replace does for callers operating purely
// within bounds.
type fakeRing struct{ data []byte }

func (f *fakeRing) CopyOut(pos int64, n int) []byte {
	out := make([]byte, n)
	copy(out, f.data[pos:pos+int64(n)])
	return out
}

func (f *fakeRing) Replace(start, end int64, data []byte) (int, error) {
	tail := append([]byte{}, f.data[end:]...)
	f.data = append(f.data[:start], append(append([]byte{}, data...), tail...)...)
	return len(data) - int(end-start), nil
}

func buildIndex(t *testing.T, raw string) (*headerindex.Index, *fakeRing) {
	t.Helper()
	idx := headerindex.New(8)
	idx.Init(0)
	r := &fakeRing{data: []byte(raw)}
	var pos int64
	for pos < int64(len(raw)) {
		end := pos
		for end < int64(len(raw)) && raw[end] != '\n' {
			end++
		}
		if end >= int64(len(raw)) {
			break
		}
		cr := end > pos && raw[end-1] == '\r'
		lineLen := int(end - pos)
		if cr {
			lineLen--
		}
		if lineLen == 0 {
			break
		}
		if _, err := idx.Add(lineLen, cr); err != nil {
			t.Fatalf("add: %v", err)
		}
		pos = end + 1
	}
	return idx, r
}

func TestAllowStopsWithStopVerdict(t *testing.T) {
	idx, r := buildIndex(t, "Host: h\r\n\r\n")
	ip := New([]Action{{Kind: ActionAllow}})
	res, _, err := ip.Run(r, idx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Verdict != VerdictStop {
		t.Fatalf("verdict = %v, want VerdictStop", res.Verdict)
	}
}

func TestDenyReturns403(t *testing.T) {
	idx, r := buildIndex(t, "Host: h\r\n\r\n")
	ip := New([]Action{{Kind: ActionDeny}})
	res, _, err := ip.Run(r, idx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Verdict != VerdictDeny || res.Status != 403 {
		t.Fatalf("res = %+v", res)
	}
}

func TestConditionUnlessSkipsRule(t *testing.T) {
	idx, r := buildIndex(t, "Host: h\r\n\r\n")
	ip := New([]Action{
		{Kind: ActionDeny, Cond: &Condition{Matches: func() bool { return true }, Unless: true}},
		{Kind: ActionAllow},
	})
	res, _, err := ip.Run(r, idx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Verdict != VerdictStop {
		t.Fatalf("expected deny to be skipped by unless, got %+v", res)
	}
}

func TestConditionIfGatesRule(t *testing.T) {
	idx, r := buildIndex(t, "Host: h\r\n\r\n")
	ip := New([]Action{
		{Kind: ActionDeny, Cond: &Condition{Matches: func() bool { return false }}},
	})
	res, _, err := ip.Run(r, idx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Verdict != VerdictCont {
		t.Fatalf("expected fall-through to VerdictCont, got %+v", res)
	}
}

func TestDelHeaderRemovesAllOccurrences(t *testing.T) {
	idx, r := buildIndex(t, "X-A: 1\r\nX-A: 2\r\nX-B: 3\r\n\r\n")
	ip := New([]Action{{Kind: ActionDelHeader, HeaderName: "X-A"}})
	if _, _, err := ip.Run(r, idx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, _, ok := idx.Find(r, "X-A"); ok {
		t.Fatalf("expected X-A fully removed")
	}
	if _, _, ok := idx.Find(r, "X-B"); !ok {
		t.Fatalf("expected X-B to survive")
	}
	if string(r.data) != "X-B: 3\r\n\r\n" {
		t.Fatalf("expected X-A bytes spliced out of the ring, got %q", r.data)
	}
}

func TestAddHeaderAppendsRealBytes(t *testing.T) {
	idx, r := buildIndex(t, "Host: h\r\n\r\n")
	ip := New([]Action{{Kind: ActionAddHeader, HeaderName: "X-New", HeaderValue: "v"}})
	if _, _, err := ip.Run(r, idx); err != nil {
		t.Fatalf("run: %v", err)
	}
	cell, val, ok := idx.Find(r, "X-New")
	if !ok {
		t.Fatalf("expected X-New to be added")
	}
	if string(val) != "v" {
		t.Fatalf("X-New value = %q, want %q", val, "v")
	}
	_ = cell
	if string(r.data) != "Host: h\r\nX-New: v\r\n\r\n" {
		t.Fatalf("unexpected ring contents after AddHeader: %q", r.data)
	}
}

func TestSetHeaderReplacesExistingValue(t *testing.T) {
	idx, r := buildIndex(t, "X-A: old\r\n\r\n")
	ip := New([]Action{{Kind: ActionSetHeader, HeaderName: "X-A", HeaderValue: "new"}})
	if _, _, err := ip.Run(r, idx); err != nil {
		t.Fatalf("run: %v", err)
	}
	_, val, ok := idx.Find(r, "X-A")
	if !ok || string(val) != "new" {
		t.Fatalf("X-A = %q ok=%v, want %q", val, ok, "new")
	}
}

func TestReplaceValueRewritesHeader(t *testing.T) {
	idx, r := buildIndex(t, "X-A: hello world\r\n\r\n")
	ip := New([]Action{{
		Kind:        ActionReplaceValue,
		HeaderName:  "X-A",
		Pattern:     "world",
		Replacement: "there",
	}})
	if _, _, err := ip.Run(r, idx); err != nil {
		t.Fatalf("run: %v", err)
	}
	cell, val, ok := idx.Find(r, "X-A")
	if !ok {
		t.Fatalf("expected X-A to still exist")
	}
	if string(val) != "hello there" {
		t.Fatalf("X-A value = %q, want %q", val, "hello there")
	}
	c := idx.Cell(cell)
	wantLen := len("X-A: hello there")
	if c.Len != wantLen {
		t.Fatalf("cell len = %d, want %d", c.Len, wantLen)
	}
}

func TestReplaceNoOpWhenHeaderAbsent(t *testing.T) {
	idx, r := buildIndex(t, "X-B: v\r\n\r\n")
	ip := New([]Action{{
		Kind:        ActionReplaceHeader,
		HeaderName:  "X-A",
		Pattern:     "v",
		Replacement: "w",
	}})
	res, _, err := ip.Run(r, idx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Verdict != VerdictCont {
		t.Fatalf("expected VerdictCont when header absent, got %+v", res)
	}
}

func TestAuthReturnsAbrtWithRealm(t *testing.T) {
	idx, r := buildIndex(t, "Host: h\r\n\r\n")
	ip := New([]Action{{Kind: ActionAuth, Realm: "admin"}})
	res, _, err := ip.Run(r, idx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := Result{Verdict: VerdictAbrt, Status: 401, Realm: "admin"}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestRedirectReturnsDoneWithLocation(t *testing.T) {
	idx, r := buildIndex(t, "Host: h\r\n\r\n")
	ip := New([]Action{{Kind: ActionRedirect, RedirectTo: "https://example.com/", RedirectCode: 302}})
	res, _, err := ip.Run(r, idx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := Result{Verdict: VerdictDone, Status: 302, Location: "https://example.com/"}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestSetNiceAccumulatesIntoEffects(t *testing.T) {
	idx, r := buildIndex(t, "Host: h\r\n\r\n")
	ip := New([]Action{
		{Kind: ActionSetNice, Nice: 5},
		{Kind: ActionSetTOS, TOS: 0x10},
		{Kind: ActionSetMark, Mark: 42},
		{Kind: ActionSetLogLevel, Level: "debug"},
	})
	_, eff, err := ip.Run(r, idx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := Effects{Nice: 5, TOS: 0x10, Mark: 42, LogLevel: "debug"}
	if diff := cmp.Diff(want, eff); diff != "" {
		t.Fatalf("effects mismatch (-want +got):\n%s", diff)
	}
}

func TestPatternKeyIsDeterministic(t *testing.T) {
	a := PatternKey("10.0.0.1")
	b := PatternKey("10.0.0.1")
	c := PatternKey("10.0.0.2")
	if a != b {
		t.Fatalf("expected stable hash for identical keys")
	}
	if a == c {
		t.Fatalf("expected distinct hashes for distinct keys")
	}
}

func TestRulesEvaluatedInOrderFirstTerminalWins(t *testing.T) {
	idx, r := buildIndex(t, "Host: h\r\n\r\n")
	ip := New([]Action{
		{Kind: ActionAllow},
		{Kind: ActionDeny},
	})
	res, _, err := ip.Run(r, idx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Verdict != VerdictStop {
		t.Fatalf("expected first rule's verdict to win, got %+v", res)
	}
}
