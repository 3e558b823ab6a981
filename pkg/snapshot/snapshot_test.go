package snapshot

import (
	"io"
	"testing"
)

func TestArchiveMemoryLimit(t *testing.T) {
	a := New(10)
	defer a.Close()

	data1 := []byte("small")
	if _, err := a.Write(data1); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if a.IsSpilled() {
		t.Fatalf("expected data in memory")
	}
	if a.Bytes() == nil {
		t.Fatalf("expected data in memory")
	}

	data2 := []byte("this is much larger data that exceeds the limit")
	if _, err := a.Write(data2); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !a.IsSpilled() {
		t.Fatalf("expected data to spill to disk")
	}
	if a.Path() == "" {
		t.Fatalf("expected temp file path")
	}
	if a.Bytes() != nil {
		t.Fatalf("expected no data in memory after spill")
	}

	wantSize := int64(len(data1) + len(data2))
	if a.Size() != wantSize {
		t.Fatalf("size = %d, want %d", a.Size(), wantSize)
	}
}

func TestArchiveDefaultLimit(t *testing.T) {
	a := New(0)
	defer a.Close()
	if a.limit != DefaultMemoryLimit {
		t.Fatalf("limit = %d, want DefaultMemoryLimit", a.limit)
	}
}

func TestArchiveReader(t *testing.T) {
	a := New(1024)
	defer a.Close()

	testData := []byte("bad request snapshot bytes")
	if _, err := a.Write(testData); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r, err := a.Reader()
	if err != nil {
		t.Fatalf("reader failed: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != string(testData) {
		t.Fatalf("data = %q, want %q", got, testData)
	}
}

func TestArchiveReaderAfterSpill(t *testing.T) {
	a := New(8)
	defer a.Close()

	testData := []byte("this payload is bigger than the memory limit")
	if _, err := a.Write(testData); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !a.IsSpilled() {
		t.Fatalf("expected spill")
	}

	r, err := a.Reader()
	if err != nil {
		t.Fatalf("reader failed: %v", err)
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != string(testData) {
		t.Fatalf("data = %q, want %q", got, testData)
	}
}

func TestArchiveReset(t *testing.T) {
	a := New(10)
	defer a.Close()

	a.ErrPos = 42
	a.SessFlags = 7

	data := []byte("this will spill to disk because it's too large")
	if _, err := a.Write(data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !a.IsSpilled() {
		t.Fatalf("expected data to spill")
	}

	if err := a.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if a.Size() != 0 {
		t.Fatalf("size after reset = %d, want 0", a.Size())
	}
	if a.IsSpilled() {
		t.Fatalf("expected no spill after reset")
	}
	if a.ErrPos != 0 || a.SessFlags != 0 {
		t.Fatalf("expected ErrPos/SessFlags cleared after reset, got %d/%d", a.ErrPos, a.SessFlags)
	}

	// Archive is reusable after Reset.
	if _, err := a.Write([]byte("reused")); err != nil {
		t.Fatalf("write after reset failed: %v", err)
	}
	if a.Bytes() == nil {
		t.Fatalf("expected in-memory data after reuse")
	}
}

func TestArchiveWriteAfterCloseFails(t *testing.T) {
	a := New(1024)
	if err := a.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := a.Write([]byte("too late")); err == nil {
		t.Fatalf("expected write after close to fail")
	}
}

func TestArchiveErrPosAndSessFlags(t *testing.T) {
	a := New(1024)
	defer a.Close()
	a.ErrPos = 17
	a.SessFlags = 0xA5
	if a.ErrPos != 17 || a.SessFlags != 0xA5 {
		t.Fatalf("ErrPos/SessFlags not stored, got %d/%d", a.ErrPos, a.SessFlags)
	}
}
