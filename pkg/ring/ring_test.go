package ring

import (
	"bytes"
	"testing"
)

func TestWriteForwardFlush(t *testing.T) {
	b := New(16, 4)

	n, err := b.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if b.InLen() != 5 || b.OutLen() != 0 {
		t.Fatalf("unexpected lengths i=%d o=%d", b.InLen(), b.OutLen())
	}

	if err := b.Forward(3); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if b.OutLen() != 3 || b.InLen() != 2 {
		t.Fatalf("after forward o=%d i=%d", b.OutLen(), b.InLen())
	}

	var out bytes.Buffer
	n, err = b.FlushTo(&out)
	if err != nil || n != 3 {
		t.Fatalf("flush: n=%d err=%v", n, err)
	}
	if out.String() != "hel" {
		t.Fatalf("flushed %q", out.String())
	}
	if b.OutLen() != 0 {
		t.Fatalf("expected o==0 after flush, got %d", b.OutLen())
	}
}

func TestWrapAround(t *testing.T) {
	b := New(8, 0)
	// Fill, forward+flush to rotate physStart near the end, then write
	// again so the new data wraps physically.
	b.Write([]byte("abcdef"))
	b.Forward(6)
	var sink bytes.Buffer
	b.FlushTo(&sink)
	if sink.String() != "abcdef" {
		t.Fatalf("got %q", sink.String())
	}
	// physStart is now 6 (mod 8). Writing 4 more bytes must wrap.
	n, err := b.Write([]byte("WXYZ"))
	if err != nil || n != 4 {
		t.Fatalf("wrap write: n=%d err=%v", n, err)
	}
	got := b.CopyOut(b.InputStart(), 4)
	if string(got) != "WXYZ" {
		t.Fatalf("wrapped copy-out = %q", got)
	}
}

func TestNoRoom(t *testing.T) {
	b := New(8, 0)
	n, err := b.Write([]byte("123456789"))
	if err != ErrNoRoom {
		t.Fatalf("expected ErrNoRoom, got %v", err)
	}
	if n != 8 {
		t.Fatalf("expected short write of 8, got %d", n)
	}
}

func TestReplaceGrowShrink(t *testing.T) {
	b := New(32, 4)
	b.Write([]byte("X-A: v1\r\nHost: h\r\n"))
	start := b.InputStart()
	// Replace "v1" (positions start+5..start+7) with "value".
	delta, err := b.Replace(start+5, start+7, []byte("value"))
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if delta != 3 {
		t.Fatalf("expected delta 3, got %d", delta)
	}
	got := b.CopyOut(b.InputStart(), b.InLen())
	if string(got) != "X-A: value\r\nHost: h\r\n" {
		t.Fatalf("got %q", got)
	}

	// Shrink it back down.
	delta, err = b.Replace(start+5, start+10, []byte("v1"))
	if err != nil {
		t.Fatalf("replace shrink: %v", err)
	}
	if delta != -3 {
		t.Fatalf("expected delta -3, got %d", delta)
	}
	got = b.CopyOut(b.InputStart(), b.InLen())
	if string(got) != "X-A: v1\r\nHost: h\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestInsertOutOfRangeRejected(t *testing.T) {
	b := New(16, 0)
	b.Write([]byte("abc"))
	b.Forward(1)
	// Position before InputStart (i.e. inside the already-forwarded output
	// region) must be rejected.
	if _, err := b.Insert(b.Base(), []byte("x")); err != ErrInvalidRange {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestSlowRealignRequiresEmptyOutput(t *testing.T) {
	b := New(8, 0)
	b.Write([]byte("ab"))
	b.Forward(1)
	if err := b.SlowRealign(); err != ErrRealignNotPermitted {
		t.Fatalf("expected ErrRealignNotPermitted, got %v", err)
	}
	var sink bytes.Buffer
	b.FlushTo(&sink)
	if err := b.SlowRealign(); err != nil {
		t.Fatalf("realign: %v", err)
	}
}
