package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sockget/internal/dialer"
	"github.com/die-net/sockget/internal/fetch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	method      string
	headers     http.Header
	data        []byte
	contentType string
	creds       fetch.Credentials
	maxRedirect int
	noFollow    bool
	include     bool
	async       bool
}

func run() error {
	var (
		proxyURL = pflag.String("proxy", defaultUpstream(), "Proxy URL: direct:// | socks4://[user@]host[:port] | socks4a://[user@]host[:port] | socks5://[user[:pass]@]host[:port]")

		method       = pflag.StringP("request", "X", "", "HTTP method (GET, POST, PUT, DELETE, HEAD). Defaults to GET, or POST with --data")
		headers      = pflag.StringArrayP("header", "H", nil, "Extra request header \"Name: value\" (repeatable)")
		data         = pflag.StringP("data", "d", "", "Request body; @file reads it from a file")
		contentType  = pflag.String("content-type", "", "Content-Type of the request body")
		maxRedirects = pflag.Int("max-redirects", fetch.DefaultMaxRedirects, "Maximum number of redirects to follow")
		noFollow     = pflag.Bool("no-follow", false, "Return redirect responses instead of following them")
		user         = pflag.String("user", "", "Origin server credentials as user:pass")

		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for the SOCKS handshake")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		fwmark             = pflag.Int("fwmark", 0, "SO_MARK for outbound sockets (Linux only). 0 disables")
		dnsCacheTTL        = pflag.Duration("dns-cache-ttl", 0, "How long to cache local DNS answers. 0 disables")

		parallel = pflag.Int("parallel", 4, "Maximum number of concurrent fetches")
		async    = pflag.Bool("async", false, "Use the callback-based request API")
		include  = pflag.BoolP("include", "i", false, "Print response status and headers as a table before the body")
		output   = pflag.StringP("output", "o", "", "Write the body to this file instead of stdout (single URL only)")
		verbose  = pflag.Bool("verbose", false, "Enable debug logging of handshakes and redirects")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] URL...\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	logger := newLogger(*verbose)

	urls := pflag.Args()
	if len(urls) == 0 {
		pflag.Usage()
		return errors.New("no URLs given")
	}
	if *output != "" && len(urls) > 1 {
		return errors.New("--output requires exactly one URL")
	}
	if *parallel <= 0 {
		return errors.New("invalid --parallel: must be > 0")
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}
	hdr, err := parseHeaders(*headers)
	if err != nil {
		return fmt.Errorf("invalid --header: %w", err)
	}
	body, err := readData(*data)
	if err != nil {
		return fmt.Errorf("invalid --data: %w", err)
	}
	creds, err := parseUser(*user)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}

	opts := options{
		method:      *method,
		headers:     hdr,
		data:        body,
		contentType: *contentType,
		creds:       creds,
		maxRedirect: *maxRedirects,
		noFollow:    *noFollow,
		include:     *include,
		async:       *async,
	}
	if opts.method == "" {
		opts.method = http.MethodGet
		if body != nil {
			opts.method = http.MethodPost
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	cfg := dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
		FwMark:             *fwmark,
		Resolver:           dialer.NewResolver(*dnsCacheTTL),
	}
	d, err := dialer.New(ctx, cfg, *proxyURL)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}
	// fetch opens its own ProxyConns; d only carries the parsed proxy.
	client := fetch.NewClient(d.Config())
	logger.Debug().Str("proxy", d.Config().Proxy.Type.String()).Stringer("endpoint", d.Config().Proxy.Endpoint).Msg("configured")

	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return err
		}
		if err := fetchOne(ctx, client, urls[0], opts, f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}

	// Bodies are buffered so parallel fetches print whole, in argument order.
	bufs := make([]strings.Builder, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i, u := range urls {
		g.Go(func() error {
			if err := fetchOne(gctx, client, u, opts, &bufs[i]); err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
			return nil
		})
	}
	err = g.Wait()
	for i := range bufs {
		if _, werr := io.WriteString(os.Stdout, bufs[i].String()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).With().Timestamp().Logger()
}

func fetchOne(ctx context.Context, client *fetch.Client, rawURL string, opts options, w io.Writer) error {
	req, err := fetch.NewRequest(opts.method, rawURL, opts.data)
	if err != nil {
		return err
	}
	req.Header = opts.headers.Clone()
	req.ContentType = opts.contentType
	req.Credentials = opts.creds
	req.MaxRedirects = opts.maxRedirect
	req.AllowAutoRedirect = !opts.noFollow

	var resp *fetch.Response
	if opts.async {
		// Cancelling ctx closes the connection, so Done always fires.
		r := client.BeginDo(ctx, req, nil)
		<-r.Done()
		resp, err = fetch.EndDo(r)
	} else {
		resp, err = client.Do(ctx, req)
	}
	if err != nil {
		return err
	}
	defer resp.Close()

	zerolog.Ctx(ctx).Info().Str("method", resp.Method).Stringer("url", resp.URL).
		Int("status", resp.StatusCode).Int("redirects", resp.Redirects).Msg("fetched")

	if opts.include {
		if _, err := fmt.Fprintln(w, renderHeaders(resp)); err != nil {
			return err
		}
	}
	if _, err := copyBody(w, resp.Body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return nil
}

func renderHeaders(resp *fetch.Response) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Header", "Value"})
	t.AppendRow(table.Row{"Status", fmt.Sprintf("%s %d %s", resp.Proto, resp.StatusCode, resp.Reason)})
	t.AppendRow(table.Row{"URL", resp.URL.String()})
	for _, name := range slices.Sorted(maps.Keys(resp.Header)) {
		for _, v := range resp.Header[name] {
			t.AppendRow(table.Row{name, v})
		}
	}
	return t.Render()
}

func parseHeaders(lines []string) (http.Header, error) {
	h := make(http.Header)
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("expected \"Name: value\", got %q", line)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}

func parseUser(s string) (fetch.Credentials, error) {
	if s == "" {
		return nil, nil
	}
	user, pass, _ := strings.Cut(s, ":")
	if user == "" {
		return nil, errors.New("empty username")
	}
	return fetch.UserPassword{Username: user, Password: pass}, nil
}

func readData(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if name, ok := strings.CutPrefix(s, "@"); ok {
		return os.ReadFile(name)
	}
	return []byte(s), nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	idle, err := parsePositive(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	intvl, err := parsePositive(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	cnt, err := parsePositive(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(idle) * time.Second,
		Interval: time.Duration(intvl) * time.Second,
		Count:    cnt,
	}, nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

// defaultUpstream honors the curl convention for a global proxy.
func defaultUpstream() string {
	for _, env := range []string{"ALL_PROXY", "all_proxy"} {
		if p := os.Getenv(env); p != "" {
			return p
		}
	}
	return "direct://"
}
