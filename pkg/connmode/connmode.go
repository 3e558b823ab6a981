// Package connmode implements the C6 Connection Mode Engine from
// spec.md §4.6: decides tunnel/keep-alive/server-close/close for a
// transaction and mutates the Connection (or Proxy-Connection) header
// accordingly.
//
// Grounded on the teacher library's pkg/client Options (KeepAlive,
// Protocol) and readUntilClose's Connection-header inspection, generalized
// into the explicit WANT_{KAL,SCL,CLO,TUN} decision table spec.md
// describes instead of the teacher's boolean keep-alive-or-not.
package connmode

import (
	"strings"

	"github.com/haprox/httpengine/pkg/headerindex"
)

// Mode is the resolved connection-mode verdict.
type Mode int

const (
	WantKAL Mode = iota // keep-alive
	WantSCL             // server-close: client keeps connection, backend closes
	WantCLO             // close both sides
	WantTUN             // tunnel, analyzers disabled
)

// SideMode describes a single side's (frontend or backend) stance, mapped
// from configuration: ordinary HTTP/1.x KAL/SCL, or an explicit override.
type SideMode int

const (
	SideNormal SideMode = iota
	SideTunnel
	SidePretendClose
	SideForceClose
)

// Input bundles the decision inputs from spec.md §4.6.
type Input struct {
	Frontend, Backend   SideMode
	HTTP11              bool // request version is HTTP/1.1
	ConnClose           bool // Connection: close seen
	ConnKeepAlive       bool // Connection: keep-alive seen
	ConnUpgrade         bool // Connection: upgrade seen
	KnownTransferLength bool // XFER_LEN set on both messages
	FrontendStopping    bool // listener/frontend is draining
}

// Decide implements the matrix in spec.md §4.6: most-restrictive wins,
// tunnel is least restrictive (but still yields to a forced close).
func Decide(in Input) Mode {
	forced := in.Frontend == SideForceClose || in.Backend == SideForceClose
	if (in.Frontend == SideTunnel || in.Backend == SideTunnel || in.ConnUpgrade) && !forced {
		return WantTUN
	}
	if forced {
		return WantCLO
	}
	if in.FrontendStopping {
		return WantCLO
	}
	if !in.KnownTransferLength {
		return WantCLO
	}
	if !in.HTTP11 && !in.ConnKeepAlive {
		return WantCLO
	}
	if in.ConnClose {
		return WantCLO
	}
	if in.Frontend == SidePretendClose || in.Backend == SidePretendClose {
		return WantSCL
	}
	if in.Backend == SideNormal && in.Frontend == SideNormal {
		// SCL dominates KAL only when a side explicitly requested it; the
		// zero-value SideNormal case with no override settles on KAL.
		return WantKAL
	}
	return WantSCL
}

// Reader aliases headerindex.Reader to keep this package's header-mutation
// surface small.
type Reader = headerindex.Reader

// MutateHeaders returns the header edits the add/remove rules from spec.md
// §4.6 call for in the resolved mode; the caller applies them. useProxyConnection selects Proxy-Connection over
// Connection per "option http-use-proxy-header".
func MutateHeaders(r Reader, idx *headerindex.Index, mode Mode, http11 bool, useProxyConnection bool) []HeaderEdit {
	name := "Connection"
	if useProxyConnection {
		name = "Proxy-Connection"
	}

	var edits []HeaderEdit
	switch {
	case mode == WantCLO:
		if http11 {
			edits = append(edits, HeaderEdit{Name: name, Value: "close", Op: OpSet})
		} else {
			// 1.0 peers assume close by default; no header needed.
			edits = append(edits, HeaderEdit{Name: name, Op: OpDelete})
		}
	case mode == WantKAL:
		if !http11 {
			edits = append(edits, HeaderEdit{Name: name, Value: "keep-alive", Op: OpSet})
		} else {
			edits = append(edits, HeaderEdit{Name: name, Op: OpDelete})
		}
	case mode == WantSCL:
		edits = append(edits, HeaderEdit{Name: name, Value: "close", Op: OpSet})
	}
	return edits
}

// EditOp is the kind of header mutation to apply.
type EditOp int

const (
	OpSet EditOp = iota
	OpDelete
)

// HeaderEdit describes one header mutation the caller (C7/C8 glue) must
// apply via the ring/HeaderIndex, keeping this package free of buffer
// mutation so it stays a pure decision function, matching spec.md's "the
// core exposes ... structured log fields" boundary.
type HeaderEdit struct {
	Name  string
	Value string
	Op    EditOp
}

// HasConnectionToken reports whether the named header (Connection or
// Proxy-Connection) contains tok as one of its comma-separated values,
// case-insensitively.
func HasConnectionToken(r Reader, idx *headerindex.Index, headerName, tok string) bool {
	_, val, ok := idx.Find(r, headerName)
	if !ok {
		return false
	}
	for _, part := range strings.Split(string(val), ",") {
		if strings.EqualFold(strings.TrimSpace(part), tok) {
			return true
		}
	}
	return false
}
