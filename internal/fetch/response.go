package fetch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/die-net/sockget/internal/socks"
)

const maxLineLength = 64 << 10

// Response is a parsed HTTP response. Body must be closed to release the
// connection.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     http.Header
	// ContentLength is -1 when unknown, including whenever the body is
	// decompressed.
	ContentLength int64
	Body          io.ReadCloser

	// Method and URL are those of the request that produced this response,
	// after any redirects.
	Method    string
	URL       *url.URL
	Redirects int
}

// ContentType returns the Content-Type header, or "text/html" when absent.
func (r *Response) ContentType() string {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "text/html"
}

// Close closes the body and the connection under it.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// ParseStatusLine splits "HTTP/1.1 200 OK" into its parts. The status code
// must be exactly three digits following the first space.
func ParseStatusLine(line string) (proto string, code int, reason string, err error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || len(rest) < 3 || (len(rest) > 3 && rest[3] != ' ') {
		return "", 0, "", fmt.Errorf("%w: %q", ErrBadStatusLine, line)
	}
	for i := 0; i < 3; i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return "", 0, "", fmt.Errorf("%w: %q", ErrBadStatusLine, line)
		}
	}
	code, _ = strconv.Atoi(rest[:3])
	if code < 100 {
		return "", 0, "", fmt.Errorf("%w: %q", ErrBadStatusLine, line)
	}
	return proto, code, strings.TrimSpace(rest[3:]), nil
}

// readLine reads up to LF one byte at a time, dropping every CR.
func readLine(br *bufio.Reader) (string, error) {
	var line []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return "", &socks.TransportError{Op: "read response", Err: err}
		}
		switch c {
		case '\n':
			return string(line), nil
		case '\r':
			continue
		}
		if len(line) >= maxLineLength {
			return "", fmt.Errorf("%w: line longer than %d bytes", ErrMalformedHeader, maxLineLength)
		}
		line = append(line, c)
	}
}

// readStatus reads and parses the status line.
func readStatus(br *bufio.Reader) (*Response, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	proto, code, reason, err := ParseStatusLine(line)
	if err != nil {
		return nil, err
	}
	return &Response{
		Proto:         proto,
		StatusCode:    code,
		Reason:        reason,
		Header:        make(http.Header),
		ContentLength: -1,
	}, nil
}

// readHeader reads header lines up to the blank line. Each line is split on
// its first colon.
func readHeader(br *bufio.Reader, header http.Header) error {
	for {
		line, err := readLine(br)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		header.Add(name, strings.TrimSpace(value))
	}
}
