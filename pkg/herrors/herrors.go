// Package herrors provides structured error types for the HTTP protocol
// engine, grounded on the teacher library's pkg/errors: same Type/Op/
// Message/Cause/Timestamp shape and Is/Unwrap behavior, but classified
// along the taxonomy spec.md §7 actually needs (parse, framing, timeout,
// peer-close, resource, rule-verdict, tarpit) instead of a dial-oriented
// one (dns/connection/tls), since DNS/TCP-dial/TLS are explicitly out of
// scope for the core (spec.md §1).
package herrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorType represents the category of error that occurred.
type ErrorType string

const (
	// ErrorTypeParse covers invalid bytes, header-index overflow, and any
	// other condition the Message Parser (C3) flags via msg_state = ERROR.
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeFraming covers chunked-not-final, conflicting Content-Length,
	// and bad chunk-size — treated as parse errors per §7 but tagged
	// distinctly for log-field fidelity.
	ErrorTypeFraming ErrorType = "framing"
	// ErrorTypeTimeout covers request/response receive and queue/connect
	// timeouts (408/504/503).
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypePeerClose covers a peer closing before message completion.
	ErrorTypePeerClose ErrorType = "peerclose"
	// ErrorTypeResource covers pool allocation failure and rewrite-reserve
	// exhaustion (500, ERR_RESOURCE).
	ErrorTypeResource ErrorType = "resource"
	// ErrorTypeRuleVerdict covers DENY/ABRT/DONE rule outcomes; these are
	// not failures of the engine but they still flow through the same
	// structured-error plumbing so callers can branch on Type.
	ErrorTypeRuleVerdict ErrorType = "ruleverdict"
	// ErrorTypeTarpit flags a deliberately delayed 500.
	ErrorTypeTarpit ErrorType = "tarpit"
)

// Error represents a structured engine error with context information.
type Error struct {
	Type      ErrorType `json:"type"`
	Op        string    `json:"op"`
	Message   string    `json:"message"`
	Cause     error     `json:"cause,omitempty"`
	Status    int       `json:"status,omitempty"` // HTTP status this error maps to, if any
	Pos       int       `json:"pos,omitempty"`    // err_pos: offending byte offset, when known
	Timestamp time.Time `json:"timestamp"`
}

// TransportError is kept as an alias for API-shape continuity with the
// teacher; the engine has no transport layer of its own, but callers that
// embed this package alongside socket code expect the name to exist.
type TransportError = Error

// Error implements the error interface.
// Format: [type] op (status N): message: cause
func (e *Error) Error() string {
	s := fmt.Sprintf("[%s]", e.Type)
	if e.Op != "" {
		s += " " + e.Op
	}
	if e.Status != 0 {
		s += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target type.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Type == t.Type
	}
	return false
}

// NewParseError creates a parser error (maps to 400 for requests).
func NewParseError(pos int, message string) *Error {
	return &Error{
		Type:      ErrorTypeParse,
		Op:        "parse",
		Message:   message,
		Pos:       pos,
		Status:    400,
		Timestamp: time.Now(),
	}
}

// NewFramingError creates a framing error; status is filled by the caller
// since the same condition maps to 400 on the request side and 502 on the
// response side (§4.4, §7).
func NewFramingError(pos int, status int, message string) *Error {
	return &Error{
		Type:      ErrorTypeFraming,
		Op:        "frame",
		Message:   message,
		Pos:       pos,
		Status:    status,
		Timestamp: time.Now(),
	}
}

// NewTimeoutError creates a timeout error for request receive (408),
// response receive (504), or queue/connect (503).
func NewTimeoutError(op string, status int, timeout time.Duration) *Error {
	return &Error{
		Type:      ErrorTypeTimeout,
		Op:        op,
		Message:   fmt.Sprintf("%s timed out after %v", op, timeout),
		Status:    status,
		Timestamp: time.Now(),
	}
}

// NewPeerCloseError creates a peer-close error.
func NewPeerCloseError(op string, status int) *Error {
	return &Error{
		Type:      ErrorTypePeerClose,
		Op:        op,
		Message:   "peer closed connection before message complete",
		Status:    status,
		Timestamp: time.Now(),
	}
}

// NewResourceError creates a resource-exhaustion error (500, ERR_RESOURCE).
func NewResourceError(op string, cause error) *Error {
	return &Error{
		Type:      ErrorTypeResource,
		Op:        op,
		Message:   "resource exhausted",
		Cause:     cause,
		Status:    500,
		Timestamp: time.Now(),
	}
}

// NewTarpitError creates the deliberately-delayed 500 error used by the
// tarpit rule action.
func NewTarpitError() *Error {
	return &Error{
		Type:      ErrorTypeTarpit,
		Op:        "tarpit",
		Message:   "tarpit timer expired",
		Status:    500,
		Timestamp: time.Now(),
	}
}

// NewRuleVerdictError wraps a terminal rule verdict (deny/auth/redirect) as
// an error so the transaction pipeline can unwind through one return path.
func NewRuleVerdictError(op string, status int) *Error {
	return &Error{
		Type:      ErrorTypeRuleVerdict,
		Op:        op,
		Status:    status,
		Timestamp: time.Now(),
	}
}

// IsTimeoutError checks if an error is a timeout error.
func IsTimeoutError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrorTypeTimeout
	}
	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// GetErrorType returns the error type if it's a structured error.
func GetErrorType(err error) ErrorType {
	if e, ok := err.(*Error); ok {
		return e.Type
	}
	return ""
}

// StatusOf returns the HTTP status an error maps to, or 0 if unknown.
func StatusOf(err error) int {
	if e, ok := err.(*Error); ok {
		return e.Status
	}
	return 0
}

// PosOf returns the offending byte offset (err_pos) an error carries, or 0
// if unknown. Used by callers archiving a snapshot of the bad message for
// the §7 diagnostic slot.
func PosOf(err error) int {
	if e, ok := err.(*Error); ok {
		return e.Pos
	}
	return 0
}
