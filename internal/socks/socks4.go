package socks

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/die-net/sockget/internal/async"
	"github.com/die-net/sockget/internal/wire"
)

// Socks4 negotiates SOCKS4 for IPv4 literals and SOCKS4A for hostnames.
type Socks4 struct {
	UserID string
}

func (Socks4) Version() byte { return Version4 }

func (s Socks4) Negotiate(ctx context.Context, conn net.Conn, target Target) (Reply, error) {
	return negotiate(ctx, s, conn, target)
}

func (s Socks4) BeginNegotiate(ctx context.Context, dial DialFunc, target Target, cb async.Callback[Tunnel]) *async.Result[Tunnel] {
	return beginNegotiate(ctx, s, dial, target, cb)
}

func (s Socks4) newHandshake(target Target) (handshake, error) {
	req, err := socks4Request(s.UserID, target)
	if err != nil {
		return nil, err
	}
	return &socks4Handshake{machine: newMachine(), request: req}, nil
}

// socks4Request encodes [4, 1, port, ip, userid, 0] for an IPv4 literal and
// [4, 1, port, 0.0.0.1, userid, 0, host, 0] for a hostname.
func socks4Request(userID string, target Target) ([]byte, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if !isASCII(userID) || strings.IndexByte(userID, 0) >= 0 {
		return nil, fmt.Errorf("%w: SOCKS4 user id must be ASCII without NUL", ErrArgument)
	}

	port := wire.PortToBytes(target.Port)
	req := make([]byte, 0, 9+len(userID)+len(target.Host)+1)
	req = append(req, Version4, cmdConnect, port[0], port[1])

	if ip, ok := target.Addr(); ok {
		packed, ok := wire.IPv4ToUint32(ip)
		if !ok {
			return nil, fmt.Errorf("%w: SOCKS4 cannot address %s", ErrArgument, ip)
		}
		addr := wire.IPv4ToBytes(packed)
		req = append(req, addr[:]...)
		req = append(req, userID...)
		return append(req, 0), nil
	}

	host, err := asciiHost(target.Host)
	if err != nil {
		return nil, err
	}
	req = append(req, socks4Marker[:]...)
	req = append(req, userID...)
	req = append(req, 0)
	req = append(req, host...)
	return append(req, 0), nil
}

type socks4Handshake struct {
	machine
	request []byte
}

func (h *socks4Handshake) step(in []byte) (op, error) {
	switch h.state {
	case StateIdle, StateConnectingToProxy:
		h.transition(StateSendingConnectRequest)
		return writeOp(h.request), nil
	case StateSendingConnectRequest:
		h.transition(StateAwaitingConnectReply)
		return readOp(8), nil
	case StateAwaitingConnectReply:
		// [VN, CD, DSTPORT(2), DSTIP(4)]; VN is 0 in practice and not checked.
		h.reply = Reply{
			Version: in[0],
			Code:    in[1],
			Bound: BoundAddr{
				Type: atypIPv4,
				IP:   netip.AddrFrom4([4]byte(in[4:8])),
				Port: wire.BytesToPort([2]byte(in[2:4])),
			},
		}
		if in[1] != socks4Granted {
			return op{}, socks4Rejection(in[1])
		}
		h.transition(StateComplete)
		return doneOp, nil
	}
	return op{}, fmt.Errorf("%w: SOCKS4 step in state %s", ErrProtocolViolation, h.state)
}
