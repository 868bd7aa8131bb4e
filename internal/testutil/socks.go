package testutil

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
)

// ProxyAuth is the username/password a test SOCKS5 proxy demands. The zero
// value accepts clients offering no authentication.
type ProxyAuth struct {
	Username string
	Password string
}

type ProxyOptions struct {
	Auth ProxyAuth
	// Targets maps a requested host:port to the address actually dialed.
	Targets map[string]string
	// Reply, when non-zero, is sent instead of connecting to the target.
	Reply byte
}

// SocksProxy is a minimal SOCKS4 or SOCKS5 proxy that relays to real targets.
type SocksProxy struct {
	net.Listener

	mu       sync.Mutex
	requests []string
}

// Requests returns the host:port of every CONNECT received so far.
func (p *SocksProxy) Requests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

func (p *SocksProxy) record(address string) {
	p.mu.Lock()
	p.requests = append(p.requests, address)
	p.mu.Unlock()
}

// StartSocks5Proxy serves SOCKS5 on a loopback port until the test ends.
func StartSocks5Proxy(t *testing.T, ctx context.Context, opts ProxyOptions) *SocksProxy {
	t.Helper()
	return startProxy(t, ctx, opts, serveSocks5)
}

// StartSocks4Proxy serves SOCKS4 and SOCKS4A on a loopback port until the
// test ends.
func StartSocks4Proxy(t *testing.T, ctx context.Context, opts ProxyOptions) *SocksProxy {
	t.Helper()
	return startProxy(t, ctx, opts, serveSocks4)
}

// AddrPort returns the proxy's listening address.
func (p *SocksProxy) AddrPort() netip.AddrPort {
	return p.Addr().(*net.TCPAddr).AddrPort()
}

type serveFunc func(ctx context.Context, p *SocksProxy, opts ProxyOptions, conn net.Conn) error

func startProxy(t *testing.T, ctx context.Context, opts ProxyOptions, serve serveFunc) *SocksProxy {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	p := &SocksProxy{Listener: ln}

	var wg sync.WaitGroup
	wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Go(func() {
				defer c.Close()
				if err := serve(ctx, p, opts, c); err != nil {
					t.Logf("socks proxy: %v", err)
				}
			})
		}
	})
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	return p
}

func dialTarget(ctx context.Context, opts ProxyOptions, address string) (net.Conn, error) {
	if mapped, ok := opts.Targets[address]; ok {
		address = mapped
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", address)
}

func serveSocks5(ctx context.Context, p *SocksProxy, opts ProxyOptions, conn net.Conn) error {
	req, err := Socks5Accept(conn, opts.Auth)
	if err != nil {
		return err
	}
	if req.Cmd != txsocks5.CmdConnect {
		_ = WriteSocks5Reply(conn, txsocks5.RepCommandNotSupported, nil)
		return fmt.Errorf("unexpected command: %d", req.Cmd)
	}
	address := req.Address()
	p.record(address)

	if opts.Reply != 0 {
		return WriteSocks5Reply(conn, opts.Reply, nil)
	}
	upstream, err := dialTarget(ctx, opts, address)
	if err != nil {
		_ = WriteSocks5Reply(conn, txsocks5.RepConnectionRefused, nil)
		return err
	}
	if err := WriteSocks5Reply(conn, txsocks5.RepSuccess, upstream.LocalAddr()); err != nil {
		_ = upstream.Close()
		return err
	}
	_ = Relay(ctx, conn, upstream)
	return nil
}

// Socks5Accept runs the server side of the method selection and optional
// username/password exchange, then reads the CONNECT request.
func Socks5Accept(conn net.Conn, auth ProxyAuth) (*txsocks5.Request, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("negotiation request: %w", err)
	}

	if auth.Username != "" {
		if !containsMethod(neg.Methods, txsocks5.MethodUsernamePassword) {
			_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
			return nil, fmt.Errorf("client does not support username/password")
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(conn); err != nil {
			return nil, fmt.Errorf("negotiation reply: %w", err)
		}

		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
		if err != nil {
			return nil, fmt.Errorf("read userpass: %w", err)
		}
		if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
			return nil, fmt.Errorf("auth failed")
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
			return nil, fmt.Errorf("write userpass: %w", err)
		}
	} else {
		if !containsMethod(neg.Methods, txsocks5.MethodNone) {
			_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
			return nil, fmt.Errorf("client does not support no-auth")
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
			return nil, fmt.Errorf("negotiation reply: %w", err)
		}
	}

	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return req, nil
}

// WriteSocks5Reply writes a reply with bound as BND.ADDR, or 0.0.0.0:0 when
// bound is nil.
func WriteSocks5Reply(conn net.Conn, rep byte, bound net.Addr) error {
	var (
		atyp = txsocks5.ATYPIPv4
		addr = []byte{0, 0, 0, 0}
		port = []byte{0, 0}
	)
	if bound != nil {
		var err error
		atyp, addr, port, err = txsocks5.ParseAddress(bound.String())
		if err != nil {
			return fmt.Errorf("parse bound address %q: %w", bound.String(), err)
		}
		if atyp == txsocks5.ATYPDomain {
			addr = addr[1:]
		}
	}
	if _, err := txsocks5.NewReply(rep, atyp, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	return nil
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}

// Socks4Request is a decoded SOCKS4 or SOCKS4A CONNECT.
type Socks4Request struct {
	UserID string
	Host   string
	Port   uint16
}

func (r Socks4Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(int(r.Port)))
}

// Socks4Accept reads a CONNECT request. It reads one byte at a time past the
// fixed header so nothing beyond the request is consumed.
func Socks4Accept(conn net.Conn) (Socks4Request, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return Socks4Request{}, fmt.Errorf("socks4 header: %w", err)
	}
	if hdr[0] != 4 || hdr[1] != 1 {
		return Socks4Request{}, fmt.Errorf("unexpected socks4 header %v", hdr[:2])
	}

	userID, err := readCString(conn)
	if err != nil {
		return Socks4Request{}, fmt.Errorf("socks4 user id: %w", err)
	}
	req := Socks4Request{
		UserID: userID,
		Port:   binary.BigEndian.Uint16(hdr[2:4]),
		Host:   netip.AddrFrom4([4]byte(hdr[4:8])).String(),
	}
	if hdr[4] == 0 && hdr[5] == 0 && hdr[6] == 0 && hdr[7] != 0 {
		if req.Host, err = readCString(conn); err != nil {
			return Socks4Request{}, fmt.Errorf("socks4a host: %w", err)
		}
	}
	return req, nil
}

func readCString(r io.Reader) (string, error) {
	var (
		out []byte
		b   [1]byte
	)
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
}

// WriteSocks4Reply writes [0, code, 0, 0, 0, 0, 0, 0].
func WriteSocks4Reply(conn net.Conn, code byte) error {
	_, err := conn.Write([]byte{0, code, 0, 0, 0, 0, 0, 0})
	return err
}

func serveSocks4(ctx context.Context, p *SocksProxy, opts ProxyOptions, conn net.Conn) error {
	req, err := Socks4Accept(conn)
	if err != nil {
		return err
	}
	address := req.Address()
	p.record(address)

	if opts.Reply != 0 {
		return WriteSocks4Reply(conn, opts.Reply)
	}
	if opts.Auth.Username != "" && req.UserID != opts.Auth.Username {
		return WriteSocks4Reply(conn, 0x5d)
	}
	upstream, err := dialTarget(ctx, opts, address)
	if err != nil {
		_ = WriteSocks4Reply(conn, 0x5b)
		return err
	}
	if err := WriteSocks4Reply(conn, 0x5a); err != nil {
		_ = upstream.Close()
		return err
	}
	_ = Relay(ctx, conn, upstream)
	return nil
}
