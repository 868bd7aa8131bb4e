package fetch

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/die-net/sockget/internal/async"
	"github.com/die-net/sockget/internal/dialer"
	"github.com/die-net/sockget/internal/socks"
)

// State is the position of a Transaction.
type State int

const (
	StateBuilding State = iota
	StateAwaitingStatusLine
	StateReadingHeaders
	StateDecodingBody
	StateFollowingRedirect
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateBuilding:           "building",
	StateAwaitingStatusLine: "awaiting-status-line",
	StateReadingHeaders:     "reading-headers",
	StateDecodingBody:       "decoding-body",
	StateFollowingRedirect:  "following-redirect",
	StateDone:               "done",
	StateFailed:             "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Transaction is one request and its response, including any redirects.
// A Transaction is not safe for concurrent use.
type Transaction struct {
	cfg       dialer.Config
	req       *Request
	id        string
	state     State
	redirects int

	conn *dialer.ProxyConn
	br   *bufio.Reader
}

// NewTransaction validates req and returns a Transaction that connects with
// cfg. req is copied.
func NewTransaction(cfg dialer.Config, req *Request) (*Transaction, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("%w: nil request", socks.ErrArgument)
	}
	if !slices.Contains(knownMethods, req.Method) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
	if err := checkURL(req.URL); err != nil {
		return nil, err
	}
	return &Transaction{cfg: cfg, req: req.clone(), id: uuid.NewString()}, nil
}

// ID identifies the transaction in log output.
func (t *Transaction) ID() string { return t.id }

func (t *Transaction) State() State { return t.state }

// Request is the request currently being made. It changes on redirect.
func (t *Transaction) Request() *Request { return t.req }

func (t *Transaction) withLogger(ctx context.Context) (context.Context, *zerolog.Logger) {
	l := zerolog.Ctx(ctx).With().Str("txn", t.id).Logger()
	return l.WithContext(ctx), &l
}

func (t *Transaction) fail(err error) error {
	t.state = StateFailed
	if t.conn != nil {
		_ = t.conn.Close()
	}
	return err
}

// prepare renders the request and sets up an unconnected ProxyConn.
func (t *Transaction) prepare() (socks.Target, []byte, *dialer.ProxyConn, error) {
	if t.conn != nil {
		return socks.Target{}, nil, nil, fmt.Errorf("%w: request already sent", socks.ErrArgument)
	}
	if err := checkURL(t.req.URL); err != nil {
		return socks.Target{}, nil, nil, err
	}
	target, err := t.req.Target()
	if err != nil {
		return socks.Target{}, nil, nil, err
	}
	payload, err := BuildRequest(t.req)
	if err != nil {
		return socks.Target{}, nil, nil, err
	}
	conn, err := dialer.NewProxyConn(t.cfg, "tcp")
	if err != nil {
		return socks.Target{}, nil, nil, err
	}
	return target, payload, conn, nil
}

func (t *Transaction) send(ctx context.Context, conn *dialer.ProxyConn, payload []byte) error {
	t.conn = conn
	if _, err := conn.Write(payload); err != nil {
		return &socks.TransportError{Op: "send request", Err: err}
	}
	t.br = bufio.NewReader(conn)
	t.state = StateAwaitingStatusLine
	zerolog.Ctx(ctx).Debug().Str("method", t.req.Method).Stringer("url", t.req.URL).Msg("request sent")
	return nil
}

// SendRequest connects to the request's host and writes the request.
func (t *Transaction) SendRequest(ctx context.Context) error {
	ctx, _ = t.withLogger(ctx)
	return t.sendRequest(ctx)
}

func (t *Transaction) sendRequest(ctx context.Context) error {
	t.state = StateBuilding

	target, payload, conn, err := t.prepare()
	if err != nil {
		return t.fail(err)
	}
	if err := conn.Connect(ctx, target); err != nil {
		return t.fail(err)
	}
	if err := t.send(ctx, conn, payload); err != nil {
		return t.fail(err)
	}
	return nil
}

// BeginSendRequest is SendRequest on a goroutine. cb, if not nil, is invoked
// exactly once.
func (t *Transaction) BeginSendRequest(ctx context.Context, cb async.Callback[struct{}]) *async.Result[struct{}] {
	ctx, _ = t.withLogger(ctx)
	return t.beginSendRequest(ctx, cb)
}

func (t *Transaction) beginSendRequest(ctx context.Context, cb async.Callback[struct{}]) *async.Result[struct{}] {
	t.state = StateBuilding

	r := async.New(cb)
	target, payload, conn, err := t.prepare()
	if err != nil {
		r.Complete(struct{}{}, t.fail(err))
		return r
	}
	conn.BeginConnect(ctx, target, func(_ net.Conn, err error) {
		if err == nil {
			err = t.send(ctx, conn, payload)
		}
		if err != nil {
			err = t.fail(err)
		}
		r.Complete(struct{}{}, err)
	})
	return r
}

// EndSendRequest returns the outcome of a BeginSendRequest.
func (t *Transaction) EndSendRequest(r *async.Result[struct{}]) error {
	if r == nil {
		return fmt.Errorf("%w: nil send result", socks.ErrArgument)
	}
	_, err := r.End()
	return err
}

// ReceiveResponse reads the response to the request sent by SendRequest,
// following redirects on new connections as the request allows.
func (t *Transaction) ReceiveResponse(ctx context.Context) (*Response, error) {
	ctx, _ = t.withLogger(ctx)
	for {
		resp, redirected, err := t.receive(ctx)
		if err != nil || !redirected {
			return resp, err
		}
		if err := t.sendRequest(ctx); err != nil {
			return nil, err
		}
	}
}

// receive reads one response head. When the response is a redirect to be
// followed, the connection is closed, t.req becomes the next request and
// redirected is true; the caller must then send t.req.
func (t *Transaction) receive(ctx context.Context) (resp *Response, redirected bool, err error) {
	log := zerolog.Ctx(ctx)
	if t.conn == nil || t.br == nil {
		return nil, false, fmt.Errorf("%w: request not sent", socks.ErrArgument)
	}

	t.state = StateAwaitingStatusLine
	resp, err = readStatus(t.br)
	if err != nil {
		return nil, false, t.fail(err)
	}
	t.state = StateReadingHeaders
	if err := readHeader(t.br, resp.Header); err != nil {
		return nil, false, t.fail(err)
	}
	log.Debug().Int("status", resp.StatusCode).Stringer("url", t.req.URL).Msg("response")

	next, ok := nextRequest(t.req, resp, t.redirects+1)
	if !ok {
		resp, err = t.finish(resp)
		return resp, false, err
	}

	t.state = StateFollowingRedirect
	log.Debug().Int("status", resp.StatusCode).Stringer("location", next.URL).Str("method", next.Method).Msg("following redirect")
	_ = t.conn.Close()
	t.conn, t.br = nil, nil
	t.req = next
	t.redirects++
	return nil, true, nil
}

// beginReceive reads the response on the caller's goroutine and connects
// each redirect hop with beginSendRequest. cb is invoked exactly once.
func (t *Transaction) beginReceive(ctx context.Context, cb func(*Response, error)) {
	resp, redirected, err := t.receive(ctx)
	if err != nil || !redirected {
		cb(resp, err)
		return
	}
	t.beginSendRequest(ctx, func(_ struct{}, err error) {
		if err != nil {
			cb(nil, err)
			return
		}
		t.beginReceive(ctx, cb)
	})
}

func (t *Transaction) finish(resp *Response) (*Response, error) {
	t.state = StateDecodingBody
	r, dec, length, err := bodyReader(t.br, t.req.Method, resp)
	if err != nil {
		return nil, t.fail(err)
	}
	resp.Body = &responseBody{Reader: r, decoder: dec, conn: t.conn}
	resp.ContentLength = length
	resp.Method = t.req.Method
	resp.URL = t.req.URL
	resp.Redirects = t.redirects
	t.state = StateDone
	return resp, nil
}
