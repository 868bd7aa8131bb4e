package fetch

import (
	"context"
	"fmt"

	"github.com/die-net/sockget/internal/async"
	"github.com/die-net/sockget/internal/dialer"
	"github.com/die-net/sockget/internal/socks"
)

// Client makes requests through the connections described by its Config.
type Client struct {
	cfg dialer.Config
}

func NewClient(cfg dialer.Config) *Client {
	return &Client{cfg: cfg}
}

// Do sends req and returns the response after following redirects.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	t, err := NewTransaction(c.cfg, req)
	if err != nil {
		return nil, err
	}
	if err := t.SendRequest(ctx); err != nil {
		return nil, err
	}
	return t.ReceiveResponse(ctx)
}

// BeginDo is Do without blocking. Each redirect hop connects with
// BeginConnect as the first request does. cb, if not nil, is invoked exactly
// once.
func (c *Client) BeginDo(ctx context.Context, req *Request, cb async.Callback[*Response]) *async.Result[*Response] {
	r := async.New(cb)
	t, err := NewTransaction(c.cfg, req)
	if err != nil {
		r.Complete(nil, err)
		return r
	}
	ctx, _ = t.withLogger(ctx)
	t.beginSendRequest(ctx, func(_ struct{}, err error) {
		if err != nil {
			r.Complete(nil, err)
			return
		}
		t.beginReceive(ctx, func(resp *Response, err error) {
			r.Complete(resp, err)
		})
	})
	return r
}

// EndDo returns the outcome of a BeginDo.
func EndDo(r *async.Result[*Response]) (*Response, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil request result", socks.ErrArgument)
	}
	return r.End()
}
