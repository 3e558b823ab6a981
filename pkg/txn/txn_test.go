package txn

import (
	"testing"

	"github.com/haprox/httpengine/pkg/connmode"
	"github.com/haprox/httpengine/pkg/headerindex"
	"github.com/haprox/httpengine/pkg/message"
)

func TestStepContinuesUntilBothDone(t *testing.T) {
	tx := New(headerindex.New(8))
	if outcome := tx.Step(); outcome != OutcomeContinue {
		t.Fatalf("outcome = %v, want OutcomeContinue", outcome)
	}
}

func TestStepResetsOnKeepAlive(t *testing.T) {
	tx := New(headerindex.New(8))
	tx.Request.State = message.Done
	tx.Response.State = message.Done
	tx.ConnMode = connmode.WantKAL

	if outcome := tx.Step(); outcome != OutcomeReset {
		t.Fatalf("outcome = %v, want OutcomeReset", outcome)
	}
}

func TestStepClosesOnError(t *testing.T) {
	tx := New(headerindex.New(8))
	tx.Request.State = message.Error

	if outcome := tx.Step(); outcome != OutcomeClose {
		t.Fatalf("outcome = %v, want OutcomeClose", outcome)
	}
}

func TestEndCleanSessionPreservesNotFirst(t *testing.T) {
	tx := New(headerindex.New(8))
	tx.Flags |= FlagNotFirst
	tx.Status = 200

	tx.EndCleanSession(100, 100)

	if tx.Flags&FlagNotFirst == 0 {
		t.Fatalf("expected FlagNotFirst to survive reset")
	}
	if tx.Status != 0 {
		t.Fatalf("expected status reset to 0, got %d", tx.Status)
	}
	if tx.Request.State != message.RQBefore {
		t.Fatalf("expected request reset to RQBefore, got %v", tx.Request.State)
	}
}

func TestTerminationCode(t *testing.T) {
	tx := New(headerindex.New(8))
	tx.Finst = FinD
	if got := tx.TerminationCode(); got != "--D" {
		t.Fatalf("code = %q, want %q", got, "--D")
	}
	tx.Err = ErrCliTO
	if got := tx.TerminationCode(); got != "cDD" {
		t.Fatalf("code = %q, want %q", got, "cDD")
	}
}
