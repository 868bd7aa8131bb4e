package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/sockget/internal/async"
	"github.com/die-net/sockget/internal/socks"
)

var (
	// ErrInvalidProxyType reports a proxy type or network that cannot be
	// combined, such as UDP through a SOCKS proxy.
	ErrInvalidProxyType = errors.New("invalid proxy type")

	errNotConnected     = errors.New("not connected")
	errAlreadyConnected = fmt.Errorf("%w: already connected", socks.ErrArgument)
)

// ProxyConn is a connection to a target that is established either directly
// or through a SOCKS proxy. It becomes usable as a net.Conn once Connect or
// BeginConnect has succeeded.
type ProxyConn struct {
	cfg     Config
	network string
	neg     socks.Negotiator

	conn  net.Conn
	bound socks.BoundAddr
}

var _ net.Conn = (*ProxyConn)(nil)

// NewProxyConn validates cfg for network and returns an unconnected ProxyConn.
func NewProxyConn(cfg Config, network string) (*ProxyConn, error) {
	c := &ProxyConn{cfg: cfg, network: network}
	if !cfg.Proxy.Enabled() {
		return c, nil
	}

	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("%w: %s over %s proxy", ErrInvalidProxyType, network, cfg.Proxy.Type)
	}

	switch cfg.Proxy.Type {
	case ProxySocks4:
		c.neg = socks.Socks4{UserID: cfg.Proxy.Credential.User()}
	case ProxySocks5:
		c.neg = socks.Socks5{Credential: cfg.Proxy.Credential}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProxyType, cfg.Proxy.Type)
	}
	return c, nil
}

// Connect establishes the connection to target. On failure any socket that
// was opened has been closed.
func (c *ProxyConn) Connect(ctx context.Context, target socks.Target) error {
	if err := c.checkConnect(target); err != nil {
		return err
	}

	if c.neg == nil {
		conn, err := c.dialDirect(ctx, target)
		_, err = c.finish(ctx, conn, socks.Reply{}, err)
		return err
	}

	conn, err := c.dialProxy(ctx)
	if err != nil {
		return &socks.TransportError{Op: "connect", Err: err}
	}
	reply, err := c.neg.Negotiate(ctx, conn, target)
	if err == nil {
		err = clearDeadline(conn)
	}
	_, err = c.finish(ctx, conn, reply, err)
	return err
}

// BeginConnect establishes the connection on a goroutine. cb, if not nil, is
// invoked exactly once, with c itself on success.
func (c *ProxyConn) BeginConnect(ctx context.Context, target socks.Target, cb async.Callback[net.Conn]) *async.Result[net.Conn] {
	r := async.New(cb)
	if err := c.checkConnect(target); err != nil {
		r.Complete(nil, err)
		return r
	}

	if c.neg == nil {
		go func() {
			conn, err := c.dialDirect(ctx, target)
			r.Complete(c.finish(ctx, conn, socks.Reply{}, err))
		}()
		return r
	}

	c.neg.BeginNegotiate(ctx, c.dialProxy, target, func(tun socks.Tunnel, err error) {
		if err == nil {
			err = clearDeadline(tun.Conn)
		}
		r.Complete(c.finish(ctx, tun.Conn, tun.Reply, err))
	})
	return r
}

// EndConnect returns the error, if any, recorded by a BeginConnect.
func (c *ProxyConn) EndConnect(r *async.Result[net.Conn]) error {
	if r == nil {
		return fmt.Errorf("%w: nil connect result", socks.ErrArgument)
	}
	_, err := r.End()
	return err
}

func (c *ProxyConn) checkConnect(target socks.Target) error {
	if c.conn != nil {
		return errAlreadyConnected
	}
	return target.Validate()
}

func (c *ProxyConn) finish(ctx context.Context, conn net.Conn, reply socks.Reply, err error) (net.Conn, error) {
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, err
	}
	c.conn, c.bound = conn, reply.Bound

	l := zerolog.Ctx(ctx).Debug().Stringer("remote", conn.RemoteAddr())
	if c.neg != nil {
		l = l.Stringer("bound", reply.Bound)
	}
	l.Msg("connected")
	return c, nil
}

func (c *ProxyConn) dialDirect(ctx context.Context, target socks.Target) (net.Conn, error) {
	addr, err := c.cfg.resolver().LookupAddr(ctx, target.Host)
	if err != nil {
		return nil, &socks.TransportError{Op: "resolve", Err: err}
	}
	address := netip.AddrPortFrom(addr, target.Port).String()

	zerolog.Ctx(ctx).Debug().Str("target", target.String()).Str("address", address).Msg("dialing direct")
	conn, err := c.cfg.netDialer().DialContext(ctx, c.network, address)
	if err != nil {
		return nil, &socks.TransportError{Op: "connect", Err: fmt.Errorf("dial %s %s: %w", c.network, address, err)}
	}
	return conn, nil
}

// dialProxy connects to the proxy and arms the negotiation deadline.
func (c *ProxyConn) dialProxy(ctx context.Context) (net.Conn, error) {
	endpoint := c.cfg.Proxy.Endpoint.String()

	zerolog.Ctx(ctx).Debug().Stringer("proxy", c.cfg.Proxy.Type).Str("endpoint", endpoint).Msg("dialing proxy")
	conn, err := c.cfg.netDialer().DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial proxy %s: %w", endpoint, err)
	}
	if t := c.cfg.NegotiationTimeout; t > 0 {
		if err := conn.SetDeadline(time.Now().Add(t)); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func clearDeadline(conn net.Conn) error {
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return &socks.TransportError{Op: "clear deadline", Err: err}
	}
	return nil
}

// Bound is the address the proxy reported binding for the relay. It is the
// zero value for direct connections.
func (c *ProxyConn) Bound() socks.BoundAddr {
	return c.bound
}

// Proxied reports whether c goes through a proxy.
func (c *ProxyConn) Proxied() bool {
	return c.neg != nil
}

func (c *ProxyConn) Read(b []byte) (int, error) {
	if c.conn == nil {
		return 0, errNotConnected
	}
	return c.conn.Read(b)
}

func (c *ProxyConn) Write(b []byte) (int, error) {
	if c.conn == nil {
		return 0, errNotConnected
	}
	return c.conn.Write(b)
}

// Close closes the underlying socket. Closing an unconnected ProxyConn is a
// no-op.
func (c *ProxyConn) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *ProxyConn) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *ProxyConn) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

func (c *ProxyConn) SetDeadline(t time.Time) error {
	if c.conn == nil {
		return errNotConnected
	}
	return c.conn.SetDeadline(t)
}

func (c *ProxyConn) SetReadDeadline(t time.Time) error {
	if c.conn == nil {
		return errNotConnected
	}
	return c.conn.SetReadDeadline(t)
}

func (c *ProxyConn) SetWriteDeadline(t time.Time) error {
	if c.conn == nil {
		return errNotConnected
	}
	return c.conn.SetWriteDeadline(t)
}
