package socks

import (
	"bytes"
	"errors"
	"io"
	"net/netip"
	"strings"
	"testing"
)

var (
	greeting      = []byte{5, 2, 0, 2}
	connectLocal  = []byte{5, 1, 0, 1, 127, 0, 0, 1, 0, 80}
	successIPv4   = []byte{5, 0, 0, 1, 10, 0, 0, 1, 0x10, 0x92}
	localhost80   = Target{Host: "127.0.0.1", Port: 80}
	userPassAbc   = []byte{1, 3, 'a', 'b', 'c', 3, 'x', 'y', 'z'}
	credentialAbc = Credential{Username: "abc", Password: "xyz"}
)

func TestSocks5ConnectRequest(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   []byte
	}{
		{
			name:   "domain",
			target: Target{Host: "example.com", Port: 80},
			want:   concat([]byte{5, 1, 0, 3, 11}, []byte("example.com"), []byte{0, 80}),
		},
		{
			name:   "ipv4",
			target: localhost80,
			want:   connectLocal,
		},
		{
			name:   "ipv4_mapped",
			target: Target{Host: "::ffff:192.168.1.2", Port: 443},
			want:   []byte{5, 1, 0, 1, 192, 168, 1, 2, 0x01, 0xbb},
		},
		{
			name:   "ipv6",
			target: Target{Host: "2001:db8::1", Port: 80},
			want:   concat([]byte{5, 1, 0, 4}, netip.MustParseAddr("2001:db8::1").AsSlice(), []byte{0, 80}),
		},
		{
			name:   "idn",
			target: Target{Host: "bücher.example", Port: 80},
			want:   concat([]byte{5, 1, 0, 3, 21}, []byte("xn--bcher-kva.example"), []byte{0, 80}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := socks5ConnectRequest(tt.target)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("expected %v got %v", tt.want, got)
			}
		})
	}
}

func TestSocks5ConnectRequestLongHost(t *testing.T) {
	host := strings.Repeat("a", 256)
	if _, err := socks5ConnectRequest(Target{Host: host, Port: 80}); !errors.Is(err, ErrArgument) {
		t.Fatalf("expected argument error, got %v", err)
	}
	if _, err := socks5ConnectRequest(Target{Host: host[:255], Port: 80}); err != nil {
		t.Fatalf("255-byte host should be accepted: %v", err)
	}
}

func TestSocks5Negotiate(t *testing.T) {
	tests := []struct {
		name  string
		cred  Credential
		steps []exchange
		bound string
	}{
		{
			name: "no_auth",
			steps: []exchange{
				{expect: greeting, send: []byte{5, 0}},
				{expect: connectLocal, send: successIPv4},
			},
			bound: "10.0.0.1:4242",
		},
		{
			name: "user_pass",
			cred: credentialAbc,
			steps: []exchange{
				{expect: greeting, send: []byte{5, 2}},
				{expect: userPassAbc, send: []byte{1, 0}},
				{expect: connectLocal, send: successIPv4},
			},
			bound: "10.0.0.1:4242",
		},
		{
			name: "credential_unused",
			cred: credentialAbc,
			steps: []exchange{
				{expect: greeting, send: []byte{5, 0}},
				{expect: connectLocal, send: []byte{5, 0, 0, 3, 4, 'h', 'o', 's', 't', 0x1f, 0x90}},
			},
			bound: "host:8080",
		},
		{
			name: "ipv6_bound",
			steps: []exchange{
				{expect: greeting, send: []byte{5, 0}},
				{expect: connectLocal, send: concat([]byte{5, 0, 0, 4}, netip.IPv6Loopback().AsSlice(), []byte{0, 1})},
			},
			bound: "[::1]:1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := append(tt.steps, exchange{send: []byte("HELLO")})
			conn, g := startProxy(t, steps...)

			reply, err := Socks5{Credential: tt.cred}.Negotiate(background, conn, localhost80)
			if err != nil {
				t.Fatal(err)
			}
			if reply.Code != 0 || reply.Version != 5 {
				t.Fatalf("unexpected reply %+v", reply)
			}
			if got := reply.Bound.String(); got != tt.bound {
				t.Fatalf("expected bound %s got %s", tt.bound, got)
			}

			// The reply must be consumed exactly, leaving relayed data intact.
			buf := make([]byte, 5)
			if _, err := io.ReadFull(conn, buf); err != nil {
				t.Fatal(err)
			}
			if string(buf) != "HELLO" {
				t.Fatalf("expected relayed data, got %q", buf)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestSocks5NegotiateFailures(t *testing.T) {
	tests := []struct {
		name    string
		cred    Credential
		steps   []exchange
		is      error
		message string
	}{
		{
			name:    "no_acceptable_method",
			steps:   []exchange{{expect: greeting, send: []byte{5, 0xff}}},
			is:      ErrNegotiationRejected,
			message: "No authentication method accepted.",
		},
		{
			name:  "unknown_method",
			steps: []exchange{{expect: greeting, send: []byte{5, 1}}},
			is:    ErrProtocolViolation,
		},
		{
			name:  "anonymous_asked_for_password",
			steps: []exchange{{expect: greeting, send: []byte{5, 2}}},
			is:    ErrAuthRejected,
		},
		{
			name: "password_rejected",
			cred: credentialAbc,
			steps: []exchange{
				{expect: greeting, send: []byte{5, 2}},
				{expect: userPassAbc, send: []byte{1, 1}},
			},
			is:      ErrAuthRejected,
			message: "Username/password combination rejected.",
		},
		{
			name: "general_failure",
			steps: []exchange{
				{expect: greeting, send: []byte{5, 0}},
				{expect: connectLocal, send: []byte{5, 1, 0, 1, 0, 0, 0, 0, 0, 0}},
			},
			is:      ErrNegotiationRejected,
			message: "General failure",
		},
		{
			name: "connection_refused",
			steps: []exchange{
				{expect: greeting, send: []byte{5, 0}},
				{expect: connectLocal, send: []byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0}},
			},
			is:      ErrNegotiationRejected,
			message: "Connection refused by destination host",
		},
		{
			name: "bad_address_type",
			steps: []exchange{
				{expect: greeting, send: []byte{5, 0}},
				{expect: connectLocal, send: []byte{5, 0, 0, 2}},
			},
			is: ErrProtocolViolation,
		},
		{
			name: "truncated_reply",
			steps: []exchange{
				{expect: greeting, send: []byte{5, 0}},
				{expect: connectLocal, send: []byte{5, 0}, hangup: true},
			},
			is: ErrTransport,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _ := startProxy(t, tt.steps...)

			_, err := Socks5{Credential: tt.cred}.Negotiate(background, conn, localhost80)
			if !errors.Is(err, tt.is) {
				t.Fatalf("expected %v, got %v", tt.is, err)
			}
			if tt.message != "" && err.Error() != tt.message {
				t.Fatalf("expected message %q, got %q", tt.message, err.Error())
			}
			assertClosed(t, conn)
		})
	}
}

func TestSocks5HandshakeStates(t *testing.T) {
	h, err := Socks5{Credential: credentialAbc}.newHandshake(localhost80)
	if err != nil {
		t.Fatal(err)
	}

	var sent bytes.Buffer
	resp := concat([]byte{5, 2}, []byte{1, 0}, successIPv4)
	if err := run(scripted(resp, &sent), h); err != nil {
		t.Fatal(err)
	}
	if h.State() != StateComplete {
		t.Fatalf("expected complete, got %s", h.State())
	}
	if want := concat(greeting, userPassAbc, connectLocal); !bytes.Equal(sent.Bytes(), want) {
		t.Fatalf("expected %v sent, got %v", want, sent.Bytes())
	}
}

func TestSocks5HandshakeFailedState(t *testing.T) {
	h, err := Socks5{}.newHandshake(localhost80)
	if err != nil {
		t.Fatal(err)
	}

	var sent bytes.Buffer
	err = run(scripted([]byte{5, 0xff}, &sent), h)
	h.fail(err)
	if h.State() != StateFailed {
		t.Fatalf("expected failed, got %s", h.State())
	}
	if !errors.Is(h.Err(), ErrNegotiationRejected) {
		t.Fatalf("expected rejection recorded, got %v", h.Err())
	}
}
