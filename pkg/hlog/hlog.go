// Package hlog implements the §6 External Interfaces log pipeline: the
// core emits the §6 log fields it carries (termination code, status,
// captured URI, unique id, timing; captured headers are not part of a
// Record) to an injected Sink, and the
// default Sink renders them as structured fields the way the
// docker-compose pack logs container lifecycle events — one WithFields
// call per record, no string formatting in the core.
package hlog

import (
	"github.com/sirupsen/logrus"

	"github.com/haprox/httpengine/pkg/timing"
	"github.com/haprox/httpengine/pkg/txn"
)

// Sink receives one structured record per completed transaction.
type Sink interface {
	LogTransaction(rec Record)
}

// Record carries the §6 log-field surface for one transaction.
type Record struct {
	UniqueID        string
	TerminationCode string
	Status          int
	Method          string
	CapturedURI     string
	ConnMode        string
	Metrics         timing.Metrics

	// Nice/TOS/Mark/LogLevel mirror the last set-nice/set-tos/set-mark/
	// set-log-level rule action to fire (spec.md §4.7); logging them is
	// the core's whole contribution since applying them to a socket is
	// the host integration's job (spec.md §1).
	Nice     int
	TOS      byte
	Mark     uint32
	LogLevel string
}

// LogrusSink is the default Sink, wrapping github.com/sirupsen/logrus.
type LogrusSink struct {
	Logger *logrus.Logger
}

// NewLogrusSink builds a LogrusSink over a fresh standard logrus.Logger.
func NewLogrusSink() *LogrusSink {
	return &LogrusSink{Logger: logrus.New()}
}

// LogTransaction renders rec as one logrus entry with the termination code
// as the dominant field, matching spec.md §6's "compact line, one per
// completed transaction" description.
func (s *LogrusSink) LogTransaction(rec Record) {
	s.Logger.WithFields(logrus.Fields{
		"unique_id":   rec.UniqueID,
		"termination": rec.TerminationCode,
		"status":      rec.Status,
		"method":      rec.Method,
		"uri":         rec.CapturedURI,
		"conn_mode":   rec.ConnMode,
		"timers":      rec.Metrics.String(),
		"nice":        rec.Nice,
		"tos":         rec.TOS,
		"mark":        rec.Mark,
		"log_level":   rec.LogLevel,
	}).Info("transaction complete")
}

// FromTransaction builds a Record from a completed Transaction plus the
// pieces it doesn't own itself (unique id, connection-mode label).
func FromTransaction(t *txn.Transaction, uniqueID, connModeLabel string) Record {
	return Record{
		UniqueID:        uniqueID,
		TerminationCode: t.TerminationCode(),
		Status:          t.Status,
		Method:          t.Method,
		CapturedURI:     t.CapturedURI,
		ConnMode:        connModeLabel,
		Metrics:         t.Timer.GetMetrics(),
		Nice:            t.Nice,
		TOS:             t.TOS,
		Mark:            t.Mark,
		LogLevel:        t.LogLevel,
	}
}
