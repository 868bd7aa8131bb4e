package fetch

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"
)

// bodyReader frames the message body and applies Content-Encoding. The
// returned length is -1 unless the body is unencoded with a known length.
func bodyReader(br *bufio.Reader, method string, resp *Response) (io.Reader, io.Closer, int64, error) {
	if method == http.MethodHead || resp.StatusCode == http.StatusNoContent ||
		resp.StatusCode == http.StatusNotModified || resp.StatusCode < 200 {
		return http.NoBody, nil, 0, nil
	}

	var (
		body   io.Reader = br
		length int64     = -1
	)
	if chunked(resp.Header) {
		body = httputil.NewChunkedReader(br)
	} else if cl := resp.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, nil, 0, fmt.Errorf("%w: Content-Length %q", ErrMalformedHeader, cl)
		}
		body, length = io.LimitReader(br, n), n
	}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return body, nil, length, nil
	case "gzip", "x-gzip":
		d := &decoder{src: body, open: func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) }}
		return d, d, -1, nil
	case "deflate":
		d := &decoder{src: body, open: openDeflate}
		return d, d, -1, nil
	default:
		return nil, nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

func chunked(h http.Header) bool {
	for _, v := range h.Values("Transfer-Encoding") {
		for _, te := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(te), "chunked") {
				return true
			}
		}
	}
	return false
}

// openDeflate accepts both zlib-wrapped and raw deflate streams, since
// servers disagree on what "deflate" means.
func openDeflate(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	hdr, err := br.Peek(2)
	if err == nil && hdr[0]&0x0f == 8 && (uint16(hdr[0])<<8|uint16(hdr[1]))%31 == 0 {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

// decoder opens its decompressor on first Read, so an empty body only fails
// once it is actually read.
type decoder struct {
	src  io.Reader
	open func(io.Reader) (io.ReadCloser, error)
	rc   io.ReadCloser
	err  error
}

func (d *decoder) Read(p []byte) (int, error) {
	if d.rc == nil && d.err == nil {
		// rc is only set on success: a failed gzip.NewReader returns a
		// typed-nil *gzip.Reader.
		rc, err := d.open(d.src)
		if err != nil {
			d.err = err
			return 0, err
		}
		d.rc = rc
	}
	if d.err != nil {
		return 0, d.err
	}
	return d.rc.Read(p)
}

func (d *decoder) Close() error {
	if d.rc == nil {
		return nil
	}
	return d.rc.Close()
}

// responseBody closes the decompressor, if any, then the connection.
type responseBody struct {
	io.Reader
	decoder io.Closer
	conn    io.Closer
}

func (b *responseBody) Close() error {
	if b.decoder != nil {
		_ = b.decoder.Close()
	}
	return b.conn.Close()
}
