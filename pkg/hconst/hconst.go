// Package hconst defines magic numbers and default tunables shared across
// the HTTP protocol engine.
package hconst

import "time"

// Ring buffer sizing.
const (
	// DefaultChannelBufSize is the default capacity of a Channel's ring buffer.
	DefaultChannelBufSize = 16 * 1024

	// DefaultReservedRewrite is the trailing slice of a ring buffer kept free
	// so that response-side header mutation always has room to grow a line.
	DefaultReservedRewrite = 1024
)

// Header index sizing.
const (
	// DefaultMaxHeaders bounds the number of header cells a HeaderIndex may
	// hold before a parse is aborted with 400 Bad Request.
	DefaultMaxHeaders = 101

	// MaxHeaderLineLen bounds a single header line, matching common
	// reverse-proxy defaults.
	MaxHeaderLineLen = 8 * 1024
)

// Capture and log-field sizing (§6 External Interfaces).
const (
	// ReqURILen bounds the captured request URI used in log fields.
	ReqURILen = 1024

	// DefaultMaxCapturedHeaders bounds req_cap/rsp_cap arrays per direction.
	DefaultMaxCapturedHeaders = 16
)

// Timeouts (§5 Cancellation, §7 Error Handling).
const (
	DefaultClientReadTimeout  = 50 * time.Second
	DefaultClientWriteTimeout = 50 * time.Second
	DefaultServerReadTimeout  = 50 * time.Second
	DefaultServerWriteTimeout = 50 * time.Second
	DefaultKeepAliveTimeout   = 60 * time.Second
	DefaultTarpitTimeout      = 5 * time.Second
	DefaultQueueTimeout       = 5 * time.Second
)

// Body and snapshot sizing.
const (
	// DefaultBodyMemLimit mirrors the teacher's spool-to-disk threshold,
	// reused here for the invalid-request/response snapshot archive (§7).
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB

	// MaxChunkSizeValue is the integer-overflow guard from §4.5:
	// parse_chunk_size must reject any value >= 2^31.
	MaxChunkSizeValue = 1 << 31
)

// Pool sizing (§5 Resources: "process-wide with fixed-size elements").
const (
	DefaultTransactionPoolSize = 4096
	DefaultCapturePoolSize     = 4096
	DefaultCompressionPoolSize = 256
)
