package socks

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/sockget/internal/async"
	"github.com/die-net/sockget/internal/wire"
)

// Socks5 negotiates SOCKS5, offering both no-auth and username/password.
type Socks5 struct {
	Credential Credential
}

func (Socks5) Version() byte { return Version5 }

func (s Socks5) Negotiate(ctx context.Context, conn net.Conn, target Target) (Reply, error) {
	return negotiate(ctx, s, conn, target)
}

func (s Socks5) BeginNegotiate(ctx context.Context, dial DialFunc, target Target, cb async.Callback[Tunnel]) *async.Result[Tunnel] {
	return beginNegotiate(ctx, s, dial, target, cb)
}

func (s Socks5) newHandshake(target Target) (handshake, error) {
	greeting, err := socks5Greeting()
	if err != nil {
		return nil, err
	}
	req, err := socks5ConnectRequest(target)
	if err != nil {
		return nil, err
	}
	return &socks5Handshake{machine: newMachine(), cred: s.Credential, greeting: greeting, request: req}, nil
}

// socks5Greeting offers no-auth and username/password: [5, 2, 0, 2].
func socks5Greeting() ([]byte, error) {
	var b bytes.Buffer
	if _, err := txsocks5.NewNegotiationRequest([]byte{methodNone, methodUsernamePassword}).WriteTo(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// socks5ConnectRequest encodes [5, 1, 0, atyp, addr, port]. Hostnames are
// sent as a length-prefixed domain and never resolved locally.
func socks5ConnectRequest(target Target) ([]byte, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	var (
		atyp byte
		addr []byte
	)
	if ip, ok := target.Addr(); ok {
		if packed, ok := wire.IPv4ToUint32(ip); ok {
			a := wire.IPv4ToBytes(packed)
			atyp, addr = atypIPv4, a[:]
		} else {
			a := ip.As16()
			atyp, addr = atypIPv6, a[:]
		}
	} else {
		host, err := asciiHost(target.Host)
		if err != nil {
			return nil, err
		}
		if len(host) > 255 {
			return nil, fmt.Errorf("%w: host longer than 255 bytes", ErrArgument)
		}
		atyp, addr = atypDomain, []byte(host)
	}

	port := wire.PortToBytes(target.Port)
	var b bytes.Buffer
	if _, err := txsocks5.NewRequest(cmdConnect, atyp, addr, port[:]).WriteTo(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

type replyPhase uint8

const (
	phaseHeader replyPhase = iota
	phaseDomainLength
	phaseTail
)

type socks5Handshake struct {
	machine
	cred     Credential
	greeting []byte
	request  []byte
	method   AuthMethod
	auth     stepper
	phase    replyPhase
}

func (h *socks5Handshake) step(in []byte) (op, error) {
	switch h.state {
	case StateIdle, StateConnectingToProxy:
		h.transition(StateSelectingAuthMethod)
		return writeOp(h.greeting), nil

	case StateSelectingAuthMethod:
		if in == nil {
			return readOp(2), nil
		}
		// The version byte of the method reply is not checked.
		method, err := SelectAuth(in[1], h.cred)
		if err != nil {
			return op{}, err
		}
		h.method, h.auth = method, method.exchange()
		h.transition(StateAuthenticating)
		return h.authenticate(nil)

	case StateAuthenticating:
		return h.authenticate(in)

	case StateSendingConnectRequest:
		h.transition(StateAwaitingConnectReply)
		return readOp(4), nil

	case StateAwaitingConnectReply:
		return h.readReply(in)
	}
	return op{}, fmt.Errorf("%w: SOCKS5 step in state %s", ErrProtocolViolation, h.state)
}

func (h *socks5Handshake) authenticate(in []byte) (op, error) {
	o, err := h.auth.step(in)
	if err != nil {
		return op{}, err
	}
	if o.kind != opDone {
		return o, nil
	}
	h.transition(StateSendingConnectRequest)
	return writeOp(h.request), nil
}

func (h *socks5Handshake) readReply(in []byte) (op, error) {
	switch h.phase {
	case phaseHeader:
		// [VER, REP, RSV, ATYP]
		h.reply.Version, h.reply.Code = in[0], in[1]
		if in[1] != repSucceeded {
			return op{}, socks5Rejection(in[1])
		}
		h.reply.Bound.Type = in[3]
		switch in[3] {
		case atypIPv4:
			h.phase = phaseTail
			return readOp(net.IPv4len + 2), nil
		case atypDomain:
			h.phase = phaseDomainLength
			return readOp(1), nil
		case atypIPv6:
			h.phase = phaseTail
			return readOp(net.IPv6len + 2), nil
		}
		return op{}, fmt.Errorf("%w: reply address type 0x%02x", ErrProtocolViolation, in[3])

	case phaseDomainLength:
		h.phase = phaseTail
		return readOp(int(in[0]) + 2), nil

	default:
		h.reply.Bound = decodeBound(h.reply.Bound.Type, in)
		h.transition(StateComplete)
		return doneOp, nil
	}
}

// decodeBound parses BND.ADDR and BND.PORT from a reply tail.
func decodeBound(atyp byte, tail []byte) BoundAddr {
	b := BoundAddr{Type: atyp}
	addr, port := tail[:len(tail)-2], tail[len(tail)-2:]
	b.Port = wire.BytesToPort([2]byte(port))
	switch atyp {
	case atypIPv4:
		b.IP = netip.AddrFrom4([4]byte(addr))
	case atypIPv6:
		b.IP = netip.AddrFrom16([16]byte(addr))
	default:
		b.Host = string(addr)
	}
	return b
}
