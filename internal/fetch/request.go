package fetch

import (
	"bytes"
	"fmt"
	"maps"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/die-net/sockget/internal/socks"
)

const DefaultMaxRedirects = 50

var knownMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodHead}

// Request is one HTTP request. Redirects produce modified copies; the
// Request passed to a Client is never changed.
type Request struct {
	Method      string
	URL         *url.URL
	Header      http.Header
	Body        []byte
	ContentType string
	Credentials Credentials

	AllowAutoRedirect bool
	// MaxRedirects caps how many redirects are followed. Past the cap the
	// redirect response itself is returned.
	MaxRedirects int
}

// NewRequest returns a Request that follows up to DefaultMaxRedirects
// redirects. method is case-insensitive.
func NewRequest(method, rawURL string, body []byte) (*Request, error) {
	method = strings.ToUpper(method)
	if !slices.Contains(knownMethods, method) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", socks.ErrArgument, err)
	}
	if err := checkURL(u); err != nil {
		return nil, err
	}
	return &Request{
		Method:            method,
		URL:               u,
		Header:            make(http.Header),
		Body:              body,
		AllowAutoRedirect: true,
		MaxRedirects:      DefaultMaxRedirects,
	}, nil
}

func checkURL(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http":
	case "https":
		return fmt.Errorf("%w: %s (TLS is not supported)", ErrUnsupportedScheme, u.Scheme)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host in %q", socks.ErrArgument, u.String())
	}
	return nil
}

// Target returns the host and port to connect to, defaulting to port 80.
func (r *Request) Target() (socks.Target, error) {
	port := r.URL.Port()
	if port == "" {
		port = "80"
	}
	return socks.ParseTarget(net.JoinHostPort(r.URL.Hostname(), port))
}

// AddRange requests bytes from through to, inclusive.
func (r *Request) AddRange(from, to int64) error {
	if from < 0 || to < 0 || from > to {
		return fmt.Errorf("%w: range %d-%d", socks.ErrArgument, from, to)
	}
	return r.addRange(strconv.FormatInt(from, 10) + "-" + strconv.FormatInt(to, 10))
}

// AddRangeFrom requests everything from byte from onwards.
func (r *Request) AddRangeFrom(from int64) error {
	if from < 0 {
		return fmt.Errorf("%w: range %d-", socks.ErrArgument, from)
	}
	return r.addRange(strconv.FormatInt(from, 10) + "-")
}

// addRange appends a byte range to an existing bytes= Range header.
func (r *Request) addRange(rng string) error {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	value := r.Header.Get("Range")
	switch {
	case value == "":
		value = "bytes="
	case strings.HasPrefix(strings.ToLower(value), "bytes="):
		value += ","
	default:
		return fmt.Errorf("%w: existing Range %q is not a byte range", socks.ErrArgument, value)
	}
	r.Header.Set("Range", value+rng)
	return nil
}

func (r *Request) clone() *Request {
	c := *r
	u := *r.URL
	c.URL = &u
	c.Header = r.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	return &c
}

// BuildRequest renders r as HTTP/1.1 request text. Host, Connection and
// Accept-Encoding come first, then Content-Type and Content-Length when there
// is a body, then the remaining headers in sorted order. A caller header with
// the same name as a default replaces it in place; Content-Length is always
// computed from the body.
func BuildRequest(r *Request) ([]byte, error) {
	if err := checkURL(r.URL); err != nil {
		return nil, err
	}

	type field struct{ name, value string }
	fields := []field{
		{"Host", r.URL.Host},
		{"Connection", "Close"},
		{"Accept-Encoding", "gzip, deflate"},
	}
	if r.ContentType != "" {
		fields = append(fields, field{"Content-Type", r.ContentType})
	}
	if len(r.Body) > 0 {
		fields = append(fields, field{"Content-Length", strconv.Itoa(len(r.Body))})
	}

	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Content-Length")
	if r.Credentials != nil && header.Get("Authorization") == "" {
		if auth, ok := r.Credentials.Authorization(r.URL); ok {
			header.Set("Authorization", auth)
		}
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", r.Method, r.URL.RequestURI())

	write := func(name, value string) error {
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			return fmt.Errorf("%w: invalid header %q", socks.ErrArgument, name)
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
		return nil
	}

	for _, f := range fields {
		values := header.Values(f.name)
		if len(values) == 0 {
			values = []string{f.value}
		}
		for _, v := range values {
			if err := write(f.name, v); err != nil {
				return nil, err
			}
		}
		header.Del(f.name)
	}

	for _, name := range slices.Sorted(maps.Keys(header)) {
		for _, v := range header[name] {
			if err := write(name, v); err != nil {
				return nil, err
			}
		}
	}

	b.WriteString("\r\n")
	b.Write(r.Body)
	return b.Bytes(), nil
}
