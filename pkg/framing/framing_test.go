package framing

import (
	"testing"

	"github.com/haprox/httpengine/pkg/headerindex"
)

type fakeRing struct{ data []byte }

func (f *fakeRing) CopyOut(pos int64, n int) []byte { return f.data[pos : pos+int64(n)] }

func (f *fakeRing) Replace(start, end int64, data []byte) (int, error) {
	tail := append([]byte{}, f.data[end:]...)
	f.data = append(f.data[:start], append(append([]byte{}, data...), tail...)...)
	return len(data) - int(end-start), nil
}

func buildIndex(t *testing.T, raw string) (*headerindex.Index, *fakeRing) {
	t.Helper()
	idx := headerindex.New(8)
	idx.Init(0)
	r := &fakeRing{data: []byte(raw)}
	var pos int64
	for pos < int64(len(raw)) {
		end := pos
		for end < int64(len(raw)) && raw[end] != '\n' {
			end++
		}
		if end >= int64(len(raw)) {
			break
		}
		cr := end > pos && raw[end-1] == '\r'
		lineLen := int(end - pos)
		if cr {
			lineLen--
		}
		if lineLen == 0 {
			break
		}
		if _, err := idx.Add(lineLen, cr); err != nil {
			t.Fatalf("add: %v", err)
		}
		pos = end + 1
	}
	return idx, r
}

func TestContentLengthFraming(t *testing.T) {
	idx, r := buildIndex(t, "Content-Length: 3\r\n\r\n")
	res, err := Analyze(r, idx, true, "GET", 200)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Mode != ModeContentLength || res.DeclaredCL != 3 {
		t.Fatalf("res = %+v", res)
	}
}

func TestChunkedFraming(t *testing.T) {
	idx, r := buildIndex(t, "Transfer-Encoding: chunked\r\n\r\n")
	res, err := Analyze(r, idx, true, "GET", 200)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Mode != ModeChunked || !res.Chunked {
		t.Fatalf("res = %+v", res)
	}
}

func TestCLAndTEBothPresentDropsCL(t *testing.T) {
	idx, r := buildIndex(t, "Content-Length: 42\r\nTransfer-Encoding: chunked\r\n\r\n")
	res, err := Analyze(r, idx, true, "GET", 200)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Mode != ModeChunked {
		t.Fatalf("expected chunked mode, got %+v", res)
	}
	if _, _, ok := idx.Find(r, "Content-Length"); ok {
		t.Fatalf("expected Content-Length removed once TE present")
	}
	if string(r.data) != "Transfer-Encoding: chunked\r\n\r\n" {
		t.Fatalf("expected Content-Length bytes spliced out of the ring, got %q", r.data)
	}
}

func TestHeadResponseHasNoBody(t *testing.T) {
	idx, r := buildIndex(t, "Content-Length: 100\r\n\r\n")
	res, err := Analyze(r, idx, true, "HEAD", 200)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Mode != ModeNone {
		t.Fatalf("expected ModeNone for HEAD response, got %+v", res)
	}
}

func TestConnect200IsTunnel(t *testing.T) {
	idx, r := buildIndex(t, "Content-Length: 100\r\nTransfer-Encoding: chunked\r\n\r\n")
	res, err := Analyze(r, idx, true, "CONNECT", 200)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Mode != ModeTunnel {
		t.Fatalf("expected ModeTunnel for CONNECT 200, got %+v", res)
	}
}

func TestResponseNoFramingHeadersReadsUntilClose(t *testing.T) {
	idx, r := buildIndex(t, "X-A: v\r\n\r\n")
	res, err := Analyze(r, idx, true, "GET", 200)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Mode != ModeUntilClose || res.KnownLen {
		t.Fatalf("res = %+v", res)
	}
}

func TestRequestNoFramingHeadersHasEmptyBody(t *testing.T) {
	idx, r := buildIndex(t, "Host: h\r\n\r\n")
	res, err := Analyze(r, idx, false, "GET", 0)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Mode != ModeNone || !res.KnownLen {
		t.Fatalf("res = %+v", res)
	}
}

func TestInvalidContentLengthIsFramingError(t *testing.T) {
	idx, r := buildIndex(t, "Content-Length: abc\r\n\r\n")
	if _, err := Analyze(r, idx, false, "POST", 0); err == nil {
		t.Fatalf("expected framing error for invalid Content-Length")
	}
}
