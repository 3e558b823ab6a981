// Package snapshot archives raw bytes for the "invalid request/response"
// diagnostic slot described in spec.md §7: "archive a snapshot (up to one
// buffer of raw bytes, err_pos, session flags) in the proxy's 'invalid
// request/response' slot for later diagnostic." It is grounded directly on
// the teacher library's pkg/buffer, which already implements the
// memory-then-disk-spill shape this needs; only the error wiring and
// defaults changed.
//
// Per §7, "the snapshot mechanism must itself be tolerant of allocation
// failure" — Write and Reader report errors rather than panicking, and a
// failed temp-file creation falls back to truncating in memory instead of
// losing the archive slot entirely.
package snapshot

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/haprox/httpengine/pkg/herrors"
)

// DefaultMemoryLimit is the default threshold before a snapshot spills to
// disk.
const DefaultMemoryLimit = 256 * 1024

// Archive stores a diagnostic byte snapshot either in memory or spooled to
// a temporary file once it exceeds a configured threshold.
type Archive struct {
	buf    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64
	mu     sync.Mutex
	closed bool

	// ErrPos and SessFlags accompany the raw bytes per §7's snapshot shape.
	ErrPos     int
	SessFlags  uint32
}

// New creates a new Archive with the provided memory limit. A non-positive
// limit uses DefaultMemoryLimit.
func New(limit int64) *Archive {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Archive{limit: limit}
}

// Write stores the provided bytes, spilling to disk once above the
// configured memory threshold.
func (a *Archive) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, herrors.NewResourceError("snapshot write", nil)
	}

	a.size += int64(len(p))

	if a.file == nil && int64(a.buf.Len()+len(p)) <= a.limit {
		return a.buf.Write(p)
	}

	if a.file == nil {
		tmp, err := os.CreateTemp("", "httpengine-snapshot-*.tmp")
		if err != nil {
			// Tolerate allocation failure: truncate rather than lose the slot.
			return a.buf.Write(p[:min(len(p), int(a.limit)-a.buf.Len())])
		}
		a.file = tmp
		a.path = tmp.Name()
		if a.buf.Len() > 0 {
			if _, err := tmp.Write(a.buf.Bytes()); err != nil {
				a.Close()
				return 0, herrors.NewResourceError("snapshot spill", err)
			}
		}
		a.buf.Reset()
	}

	n, err := a.file.Write(p)
	if err != nil {
		return n, herrors.NewResourceError("snapshot write", err)
	}
	return n, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Bytes returns the in-memory data. If the payload spilled to disk this
// returns nil; use Reader instead.
func (a *Archive) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return nil
	}
	return a.buf.Bytes()
}

// Path returns the filesystem path backing the spilled payload, if any.
func (a *Archive) Path() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.path
}

// Size returns the total number of bytes written.
func (a *Archive) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// IsSpilled reports whether the archive spilled to disk.
func (a *Archive) IsSpilled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file != nil
}

// Reader returns a fresh reader over the stored bytes.
func (a *Archive) Reader() (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, herrors.NewResourceError("snapshot reader", nil)
	}
	if a.file != nil {
		if err := a.file.Sync(); err != nil {
			return nil, herrors.NewResourceError("snapshot sync", err)
		}
		f, err := os.Open(a.path)
		if err != nil {
			return nil, herrors.NewResourceError("snapshot open", err)
		}
		return f, nil
	}
	return io.NopCloser(bytes.NewReader(a.buf.Bytes())), nil
}

// Close releases the underlying file, if any, and removes the temp file.
// Safe for concurrent and repeated calls.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.file != nil {
		err := a.file.Close()
		if removeErr := os.Remove(a.path); removeErr != nil && err == nil {
			err = herrors.NewResourceError("snapshot cleanup", removeErr)
		}
		a.file = nil
		a.path = ""
		if err != nil {
			return herrors.NewResourceError("snapshot close", err)
		}
	}
	return nil
}

// Reset clears the archive so it can be returned to its pool.
func (a *Archive) Reset() error {
	if err := a.Close(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.Reset()
	a.size = 0
	a.ErrPos = 0
	a.SessFlags = 0
	a.closed = false
	return nil
}
