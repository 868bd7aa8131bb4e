package fetch

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/die-net/sockget/internal/socks"
)

func TestParseStatusLine(t *testing.T) {
	tests := []struct {
		line    string
		code    int
		reason  string
		wantErr bool
	}{
		{line: "HTTP/1.1 200 OK", code: 200, reason: "OK"},
		{line: "HTTP/1.0 404 Not Found", code: 404, reason: "Not Found"},
		{line: "HTTP/1.1 302", code: 302},
		{line: "HTTP/1.1 204 ", code: 204},
		{line: "HTTP/1.1", wantErr: true},
		{line: "HTTP/1.1 20", wantErr: true},
		{line: "HTTP/1.1 2000 OK", wantErr: true},
		{line: "HTTP/1.1 abc OK", wantErr: true},
		{line: "HTTP/1.1 099 Odd", wantErr: true},
		{line: "", wantErr: true},
	}
	for _, tt := range tests {
		_, code, reason, err := ParseStatusLine(tt.line)
		if tt.wantErr {
			if !errors.Is(err, ErrBadStatusLine) || !errors.Is(err, socks.ErrProtocolViolation) {
				t.Errorf("%q: expected bad status line, got %v", tt.line, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tt.line, err)
			continue
		}
		if code != tt.code || reason != tt.reason {
			t.Errorf("%q: got %d %q", tt.line, code, reason)
		}
	}
}

func parseHead(t *testing.T, raw string) (*Response, *bufio.Reader, error) {
	t.Helper()

	br := bufio.NewReader(strings.NewReader(raw))
	resp, err := readStatus(br)
	if err != nil {
		return nil, br, err
	}
	return resp, br, readHeader(br, resp.Header)
}

func TestReadResponseHead(t *testing.T) {
	resp, br, err := parseHead(t, "HTTP/1.1 200 OK\r\n"+
		"Content-Type: text/plain\r\n"+
		"x-multi: a\n"+
		"X-Multi: b\r\n"+
		"Location: http://example.com:8080/next\r\n"+
		"\r\n"+
		"body")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 || resp.Proto != "HTTP/1.1" {
		t.Fatalf("unexpected status %+v", resp)
	}
	if got := resp.Header.Values("X-Multi"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected X-Multi %v", got)
	}
	if got := resp.Header.Get("Location"); got != "http://example.com:8080/next" {
		t.Fatalf("header value split on the wrong colon: %q", got)
	}
	rest, _ := io.ReadAll(br)
	if string(rest) != "body" {
		t.Fatalf("expected body to remain, got %q", rest)
	}
}

func TestReadResponseHeadErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		is   error
	}{
		{name: "bad_status", raw: "garbage\r\n\r\n", is: ErrBadStatusLine},
		{name: "no_colon", raw: "HTTP/1.1 200 OK\r\nNoColonHere\r\n\r\n", is: ErrMalformedHeader},
		{name: "bad_name", raw: "HTTP/1.1 200 OK\r\nBad Name: x\r\n\r\n", is: ErrMalformedHeader},
		{name: "eof_in_headers", raw: "HTTP/1.1 200 OK\r\nA: b\r\n", is: io.ErrUnexpectedEOF},
		{name: "empty", raw: "", is: socks.ErrTransport},
		{name: "long_line", raw: "HTTP/1.1 200 OK\r\nA: " + strings.Repeat("x", maxLineLength) + "\r\n\r\n", is: ErrMalformedHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := parseHead(t, tt.raw); !errors.Is(err, tt.is) {
				t.Fatalf("expected %v, got %v", tt.is, err)
			}
		})
	}
}

func compress(t *testing.T, kind, s string) []byte {
	t.Helper()

	var (
		b bytes.Buffer
		w io.WriteCloser
	)
	switch kind {
	case "gzip":
		w = gzip.NewWriter(&b)
	case "zlib":
		w = zlib.NewWriter(&b)
	case "flate":
		fw, err := flate.NewWriter(&b, flate.DefaultCompression)
		if err != nil {
			t.Fatal(err)
		}
		w = fw
	}
	if _, err := io.WriteString(w, s); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

type nopCloser struct{ closed bool }

func (c *nopCloser) Close() error {
	c.closed = true
	return nil
}

func readBody(t *testing.T, method string, code int, header http.Header, raw []byte) (string, int64, error) {
	t.Helper()

	resp := &Response{StatusCode: code, Header: header}
	r, dec, length, err := bodyReader(bufio.NewReader(bytes.NewReader(raw)), method, resp)
	if err != nil {
		return "", 0, err
	}
	conn := &nopCloser{}
	rb := &responseBody{Reader: r, decoder: dec, conn: conn}
	b, err := io.ReadAll(rb)
	if cerr := rb.Close(); cerr != nil {
		t.Fatal(cerr)
	}
	if !conn.closed {
		t.Fatal("closing the body must close the connection")
	}
	return string(b), length, err
}

func TestBodyReader(t *testing.T) {
	const text = "hello, compressed world"

	tests := []struct {
		name    string
		method  string
		code    int
		header  http.Header
		raw     []byte
		want    string
		wantLen int64
	}{
		{
			name:    "identity_length",
			header:  http.Header{"Content-Length": {"5"}},
			raw:     []byte("hello, trailing bytes ignored"),
			want:    "hello",
			wantLen: 5,
		},
		{
			name:    "until_close",
			header:  http.Header{},
			raw:     []byte("all of it"),
			want:    "all of it",
			wantLen: -1,
		},
		{
			name:    "gzip",
			header:  http.Header{"Content-Encoding": {"gzip"}},
			raw:     compress(t, "gzip", text),
			want:    text,
			wantLen: -1,
		},
		{
			name:    "deflate_zlib",
			header:  http.Header{"Content-Encoding": {"Deflate"}},
			raw:     compress(t, "zlib", text),
			want:    text,
			wantLen: -1,
		},
		{
			name:    "deflate_raw",
			header:  http.Header{"Content-Encoding": {"deflate"}},
			raw:     compress(t, "flate", text),
			want:    text,
			wantLen: -1,
		},
		{
			name:    "chunked",
			header:  http.Header{"Transfer-Encoding": {"chunked"}},
			raw:     []byte("5\r\nhello\r\n7\r\n, world\r\n0\r\n\r\n"),
			want:    "hello, world",
			wantLen: -1,
		},
		{
			name:   "head",
			method: http.MethodHead,
			header: http.Header{"Content-Length": {"100"}},
			raw:    []byte("ignored"),
		},
		{
			name:   "no_content",
			code:   http.StatusNoContent,
			header: http.Header{"Content-Encoding": {"gzip"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, code := tt.method, tt.code
			if method == "" {
				method = http.MethodGet
			}
			if code == 0 {
				code = http.StatusOK
			}
			got, length, err := readBody(t, method, code, tt.header, tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want || length != tt.wantLen {
				t.Fatalf("expected %q (%d) got %q (%d)", tt.want, tt.wantLen, got, length)
			}
		})
	}
}

func TestBodyReaderErrors(t *testing.T) {
	resp := &Response{StatusCode: 200, Header: http.Header{"Content-Encoding": {"br"}}}
	if _, _, _, err := bodyReader(bufio.NewReader(strings.NewReader("")), http.MethodGet, resp); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("expected unsupported encoding, got %v", err)
	}

	resp = &Response{StatusCode: 200, Header: http.Header{"Content-Length": {"-4"}}}
	if _, _, _, err := bodyReader(bufio.NewReader(strings.NewReader("")), http.MethodGet, resp); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("expected malformed header, got %v", err)
	}

	// Corrupt gzip only fails once the body is read.
	if _, _, err := readBody(t, http.MethodGet, 200, http.Header{"Content-Encoding": {"gzip"}}, []byte("not gzip")); err == nil {
		t.Fatal("expected gzip error")
	}
}

func TestDecoderFailedOpen(t *testing.T) {
	for _, raw := range []string{"xx", "not gzip at all"} {
		resp := &Response{StatusCode: 200, Header: http.Header{"Content-Encoding": {"gzip"}}}
		r, dec, _, err := bodyReader(bufio.NewReader(strings.NewReader(raw)), http.MethodGet, resp)
		if err != nil {
			t.Fatal(err)
		}
		_, err = io.ReadAll(r)
		if err == nil {
			t.Fatalf("%q: expected gzip error", raw)
		}
		if _, again := r.Read(make([]byte, 1)); !errors.Is(again, err) {
			t.Fatalf("%q: expected sticky error %v, got %v", raw, err, again)
		}
		if err := dec.Close(); err != nil {
			t.Fatalf("%q: close after failed open: %v", raw, err)
		}
	}
}

func TestResponseContentType(t *testing.T) {
	r := &Response{Header: http.Header{}}
	if got := r.ContentType(); got != "text/html" {
		t.Fatalf("expected default content type, got %q", got)
	}
	r.Header.Set("Content-Type", "application/json")
	if got := r.ContentType(); got != "application/json" {
		t.Fatalf("unexpected content type %q", got)
	}
}
