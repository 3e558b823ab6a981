package hlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/haprox/httpengine/pkg/headerindex"
	"github.com/haprox/httpengine/pkg/txn"
)

func TestLogTransactionRendersTerminationCode(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(&buf)
	sink := &LogrusSink{Logger: logger}

	tx := txn.New(headerindex.New(8))
	tx.Finst = txn.FinD
	tx.Status = 200
	tx.Method = "GET"

	sink.LogTransaction(FromTransaction(tx, "abc-123", "KAL"))

	out := buf.String()
	if !strings.Contains(out, `"termination":"--D"`) {
		t.Fatalf("expected termination code in output, got %s", out)
	}
	if !strings.Contains(out, `"unique_id":"abc-123"`) {
		t.Fatalf("expected unique_id in output, got %s", out)
	}
}
