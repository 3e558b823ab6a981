// Package timing provides per-transaction timing measurement, grounded on
// the teacher library's pkg/timing Timer/Metrics shape. The stages tracked
// are renamed from the teacher's dial-oriented DNS/TCP/TLS/TTFB to the
// finish-instant stages spec.md §6 names (FINST_{R,C,H,D,L,Q,T}), since the
// engine never dials a socket itself.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures per-transaction timing, one field per finish-instant
// stage from spec.md §6 (ERR/FINST log-field surface).
type Metrics struct {
	// RequestTime is time spent parsing the request headers (FINST_R).
	RequestTime time.Duration `json:"request_time"`
	// QueueTime is time spent waiting for a backend slot (FINST_Q).
	QueueTime time.Duration `json:"queue_time"`
	// ConnectTime is time spent in the backend-connect hook (FINST_C).
	ConnectTime time.Duration `json:"connect_time"`
	// TTFB is time from request-sent to first response byte (server
	// processing time, contributes to FINST_H).
	TTFB time.Duration `json:"ttfb"`
	// ResponseTime is time spent receiving/forwarding the response body
	// (FINST_D).
	ResponseTime time.Duration `json:"response_time"`
	// TotalTime is the total end-to-end transaction time.
	TotalTime time.Duration `json:"total_time"`
}

// Timer measures the stages of a single transaction.
type Timer struct {
	start        time.Time
	reqStart     time.Time
	reqEnd       time.Time
	queueStart   time.Time
	queueEnd     time.Time
	connectStart time.Time
	connectEnd   time.Time
	ttfbStart    time.Time
	ttfbEnd      time.Time
	respStart    time.Time
	respEnd      time.Time
}

// NewTimer starts a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartRequest marks the beginning of request parsing.
func (t *Timer) StartRequest() { t.reqStart = time.Now() }

// EndRequest marks the end of request parsing (request fully read).
func (t *Timer) EndRequest() { t.reqEnd = time.Now() }

// StartQueue marks entry into the backend wait queue.
func (t *Timer) StartQueue() { t.queueStart = time.Now() }

// EndQueue marks exit from the backend wait queue.
func (t *Timer) EndQueue() { t.queueEnd = time.Now() }

// StartConnect marks the beginning of the backend-connect hook call.
func (t *Timer) StartConnect() { t.connectStart = time.Now() }

// EndConnect marks the end of the backend-connect hook call.
func (t *Timer) EndConnect() { t.connectEnd = time.Now() }

// StartTTFB marks when the engine starts waiting for the first response byte.
func (t *Timer) StartTTFB() { t.ttfbStart = time.Now() }

// EndTTFB marks when the first response byte arrives.
func (t *Timer) EndTTFB() { t.ttfbEnd = time.Now() }

// StartResponse marks the beginning of response body forwarding.
func (t *Timer) StartResponse() { t.respStart = time.Now() }

// EndResponse marks the end of response body forwarding.
func (t *Timer) EndResponse() { t.respEnd = time.Now() }

// GetMetrics returns the calculated timing metrics.
func (t *Timer) GetMetrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}
	if !t.reqStart.IsZero() && !t.reqEnd.IsZero() {
		m.RequestTime = t.reqEnd.Sub(t.reqStart)
	}
	if !t.queueStart.IsZero() && !t.queueEnd.IsZero() {
		m.QueueTime = t.queueEnd.Sub(t.queueStart)
	}
	if !t.connectStart.IsZero() && !t.connectEnd.IsZero() {
		m.ConnectTime = t.connectEnd.Sub(t.connectStart)
	}
	if !t.ttfbStart.IsZero() && !t.ttfbEnd.IsZero() {
		m.TTFB = t.ttfbEnd.Sub(t.ttfbStart)
	}
	if !t.respStart.IsZero() && !t.respEnd.IsZero() {
		m.ResponseTime = t.respEnd.Sub(t.respStart)
	}
	return m
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("Trq=%v Tw=%v Tc=%v Tr=%v Ta=%v Tt=%v",
		m.RequestTime, m.QueueTime, m.ConnectTime, m.TTFB, m.ResponseTime, m.TotalTime)
}
