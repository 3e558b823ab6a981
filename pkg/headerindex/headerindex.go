// Package headerindex implements the C2 Header Index from spec.md §4.2: a
// fixed-capacity, singly-linked list of cells describing header lines that
// live in place inside a ring.Buffer. Cells survive buffer insert/delete/
// replace because they store lengths and a next-pointer rather than byte
// slices; positions are re-derived from the owning Message's first_pos and
// the running sum of prior cell lengths, per the offset discipline in
// spec.md §9.
//
// Grounded on the teacher library's pkg/client header-reading loop
// (readHeaders/readChunkedBody's trailer loop, which walk textproto-style
// name/value pairs), generalized here into a mutation-surviving index
// instead of a one-shot map[string][]string. Case-insensitive name lookup
// folds through golang.org/x/text/cases/CaseFold the way the pack's
// production services fold header and media-type names, instead of
// strings.EqualFold.
package headerindex

import (
	"errors"

	"golang.org/x/text/cases"
)

// ErrCapacityExceeded is returned by Add when the index is full. Per
// spec.md §4.2 this is a parse error mapping to 400 Bad Request.
var ErrCapacityExceeded = errors.New("headerindex: capacity exceeded")

// Cell describes one header line in place inside the ring buffer: len bytes
// starting at the line's offset (see Index.Offset), optionally followed by
// CR then LF (cr == true) or LF only (cr == false).
type Cell struct {
	Len  int
	CR   bool
	Next int // index of the next live cell, or 0 (the sentinel) at tail
}

// Index is the fixed-capacity array of Cells. Cell 0 is the sentinel head,
// permanently allocated and never describing a real header line.
type Index struct {
	cells    []Cell
	used     int
	tail     int
	capacity int
	firstPos int64 // offset of the first header byte, i.e. Offset(cell 1)
}

var fold = cases.Fold()

// New allocates an Index with room for capacity live header cells (plus the
// sentinel).
func New(capacity int) *Index {
	idx := &Index{
		cells:    make([]Cell, capacity+1),
		capacity: capacity,
	}
	idx.Init(0)
	return idx
}

// Init resets the index to empty and records firstPos, the offset of the
// first header byte after the start-line CRLF (spec.md §4.2 invariant 1).
func (idx *Index) Init(firstPos int64) {
	idx.used = 0
	idx.tail = 0
	idx.firstPos = firstPos
	idx.cells[0] = Cell{}
}

// FirstPos returns the offset of the first header byte.
func (idx *Index) FirstPos() int64 { return idx.firstPos }

// FirstIdx returns the index of the first live cell, or 0 if empty.
func (idx *Index) FirstIdx() int { return idx.cells[0].Next }

// Used returns the number of live cells.
func (idx *Index) Used() int { return idx.used }

// Add appends a new cell of the given length and CR-ness after the current
// tail, returning its cell index. Fails with ErrCapacityExceeded once
// capacity live cells are in use.
func (idx *Index) Add(length int, cr bool) (int, error) {
	if idx.used >= idx.capacity {
		return 0, ErrCapacityExceeded
	}
	idx.used++
	// Take the lowest slot not on the live chain: after a Remove, live
	// cells can sit at slot numbers above idx.used.
	live := make([]bool, len(idx.cells))
	for c := idx.cells[0].Next; c != 0; c = idx.cells[c].Next {
		live[c] = true
	}
	cellIdx := 1
	for live[cellIdx] {
		cellIdx++
	}
	idx.cells[cellIdx] = Cell{Len: length, CR: cr, Next: 0}
	idx.cells[idx.tail].Next = cellIdx
	idx.tail = cellIdx
	return cellIdx, nil
}

// Remove unlinks the cell at cur, given its predecessor prev (0 if cur is
// the first live cell). The cell's length is zeroed per spec.md §4.2.
func (idx *Index) Remove(prev, cur int) {
	next := idx.cells[cur].Next
	idx.cells[prev].Next = next
	idx.cells[cur] = Cell{}
	if idx.tail == cur {
		idx.tail = prev
	}
	idx.used--
}

// Offset returns the ring-buffer offset of the first byte of the given live
// cell, computed by summing terminator + length for every cell before it
// starting from firstPos. Cell 0 is not a valid argument.
func (idx *Index) Offset(target int) int64 {
	pos := idx.firstPos
	for c := idx.cells[0].Next; c != 0; c = idx.cells[c].Next {
		if c == target {
			return pos
		}
		pos += int64(idx.cells[c].Len) + termLen(idx.cells[c].CR)
	}
	return pos
}

// End returns eoh, the offset one past the final CRLF/LF of the last live
// cell (equivalently, firstPos if the index is empty).
func (idx *Index) End() int64 {
	pos := idx.firstPos
	for c := idx.cells[0].Next; c != 0; c = idx.cells[c].Next {
		pos += int64(idx.cells[c].Len) + termLen(idx.cells[c].CR)
	}
	return pos
}

func termLen(cr bool) int64 {
	if cr {
		return 2
	}
	return 1
}

// Reader abstracts the ring.Buffer method headerindex needs without
// importing pkg/ring, avoiding a cyclic-looking dependency from a package
// that is conceptually lower-level.
type Reader interface {
	CopyOut(pos int64, n int) []byte
}

// Line returns the raw line bytes (name: value, without terminator) for a
// live cell.
func (idx *Index) Line(r Reader, cell int) []byte {
	return r.CopyOut(idx.Offset(cell), idx.cells[cell].Len)
}

// Find scans live cells in order for a header whose name (the bytes before
// the first ':') case-insensitively matches name, returning its cell index
// and value (OWS-trimmed) or (0, nil, false). Matches spec.md §4.2: "header
// lookup is case-insensitive on the name, stops at the first ':', skips
// OWS."
func (idx *Index) Find(r Reader, name string) (cell int, value []byte, ok bool) {
	foldedName := fold.String(name)
	for c := idx.cells[0].Next; c != 0; c = idx.cells[c].Next {
		line := idx.Line(r, c)
		colon := indexByte(line, ':')
		if colon < 0 {
			continue
		}
		if fold.String(string(line[:colon])) != foldedName {
			continue
		}
		return c, trimOWS(line[colon+1:]), true
	}
	return 0, nil, false
}

// FindFull behaves like Find but returns the complete field-value as one
// string even if it is a comma-separated list (spec.md §4.2:
// "find_full_header" treats the whole field-value as one).
func (idx *Index) FindFull(r Reader, name string) (cell int, value []byte, ok bool) {
	return idx.Find(r, name)
}

// FindAll returns every live cell whose name matches, in document order —
// used for Transfer-Encoding list evaluation (spec.md §4.4) and for
// iterating all Set-Cookie lines (spec.md §4.9).
func (idx *Index) FindAll(r Reader, name string) []int {
	foldedName := fold.String(name)
	var out []int
	for c := idx.cells[0].Next; c != 0; c = idx.cells[c].Next {
		line := idx.Line(r, c)
		colon := indexByte(line, ':')
		if colon < 0 {
			continue
		}
		if fold.String(string(line[:colon])) == foldedName {
			out = append(out, c)
		}
	}
	return out
}

// Cell returns the Cell at the given index for direct inspection (length
// updates after a buffer Replace flow through SetLen).
func (idx *Index) Cell(cell int) Cell { return idx.cells[cell] }

// SetLen updates a cell's length, used by callers that just performed a
// ring.Buffer.Replace on that header line and must propagate the signed
// delta (spec.md §4.1/§4.7).
func (idx *Index) SetLen(cell, length int) { idx.cells[cell].Len = length }

// Span returns a cell's total byte footprint in the ring, name/value plus
// its line terminator (CRLF or bare LF). Callers physically deleting a
// cell's bytes via ring.Buffer.Replace need this full span, not just Len,
// or the terminator bytes would be left behind as orphaned header-block
// bytes.
func (idx *Index) Span(cell int) int64 {
	c := idx.cells[cell]
	return int64(c.Len) + termLen(c.CR)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func trimOWS(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\t') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t') {
		end--
	}
	return b[start:end]
}
