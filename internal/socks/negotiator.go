package socks

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/die-net/sockget/internal/async"
)

// Negotiator performs a CONNECT handshake with a SOCKS proxy. The
// implementations are Socks4 and Socks5.
type Negotiator interface {
	// Version is 4 or 5.
	Version() byte

	// Negotiate runs the handshake on an established connection to the proxy.
	// On failure conn is closed. Canceling ctx aborts the handshake by
	// closing conn.
	Negotiate(ctx context.Context, conn net.Conn, target Target) (Reply, error)

	// BeginNegotiate dials the proxy with dial and runs the handshake on a
	// goroutine. cb, if not nil, is invoked exactly once with the outcome.
	BeginNegotiate(ctx context.Context, dial DialFunc, target Target, cb async.Callback[Tunnel]) *async.Result[Tunnel]

	newHandshake(target Target) (handshake, error)
}

// DialFunc opens the TCP connection to the proxy.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Tunnel is a connection on which a handshake has completed. Bytes read from
// and written to Conn are relayed to and from the target.
type Tunnel struct {
	Conn  net.Conn
	Reply Reply
}

// Reply is the proxy's answer to a CONNECT request.
type Reply struct {
	Version byte
	Code    byte
	Bound   BoundAddr
}

// BoundAddr is the address the proxy reports it bound for the relay. For
// SOCKS5 domain replies Host is set instead of IP.
type BoundAddr struct {
	Type byte
	IP   netip.Addr
	Host string
	Port uint16
}

func (b BoundAddr) String() string {
	host := b.Host
	if b.IP.IsValid() {
		host = b.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(b.Port)))
}

// NewNegotiator returns the negotiator for a protocol version. SOCKS4 sends
// the credential's username as its user id and ignores the password.
func NewNegotiator(version byte, cred Credential) (Negotiator, error) {
	switch version {
	case Version4:
		return Socks4{UserID: cred.User()}, nil
	case Version5:
		return Socks5{Credential: cred}, nil
	default:
		return nil, fmt.Errorf("%w: SOCKS version %d", ErrArgument, version)
	}
}

// EndNegotiate returns the outcome of a BeginNegotiate. It returns
// async.ErrNotCompleted if the handshake is still running.
func EndNegotiate(r *async.Result[Tunnel]) (Tunnel, error) {
	if r == nil {
		return Tunnel{}, fmt.Errorf("%w: nil negotiation result", ErrArgument)
	}
	return r.End()
}

func negotiate(ctx context.Context, n Negotiator, conn net.Conn, target Target) (Reply, error) {
	if conn == nil {
		return Reply{}, fmt.Errorf("%w: nil connection", ErrArgument)
	}
	h, err := n.newHandshake(target)
	if err != nil {
		return Reply{}, err
	}
	h.setLogger(zerolog.Ctx(ctx))
	return drive(ctx, conn, h)
}

func beginNegotiate(ctx context.Context, n Negotiator, dial DialFunc, target Target, cb async.Callback[Tunnel]) *async.Result[Tunnel] {
	r := async.New(cb)
	if dial == nil {
		r.Complete(Tunnel{}, fmt.Errorf("%w: nil dial function", ErrArgument))
		return r
	}
	h, err := n.newHandshake(target)
	if err != nil {
		r.Complete(Tunnel{}, err)
		return r
	}
	h.setLogger(zerolog.Ctx(ctx))

	go func() {
		h.transition(StateConnectingToProxy)
		conn, err := dial(ctx)
		if err != nil {
			err = &TransportError{Op: "connect", Err: err}
			h.fail(err)
			r.Complete(Tunnel{}, err)
			return
		}
		reply, err := drive(ctx, conn, h)
		if err != nil {
			r.Complete(Tunnel{}, err)
			return
		}
		r.Complete(Tunnel{Conn: conn, Reply: reply}, nil)
	}()
	return r
}

// drive runs h over conn, closing conn on any failure.
func drive(ctx context.Context, conn net.Conn, h handshake) (Reply, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	err := run(conn, h)
	if !stop() && err == nil {
		// ctx was canceled after the last read and conn is already closed.
		err = &TransportError{Op: "negotiate", Err: context.Cause(ctx)}
	}
	if err != nil {
		if ctx.Err() != nil {
			err = &TransportError{Op: "negotiate", Err: context.Cause(ctx)}
		}
		h.fail(err)
		_ = conn.Close()
		return Reply{}, err
	}
	return h.Reply(), nil
}
