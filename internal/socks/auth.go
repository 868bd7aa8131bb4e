package socks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/sockget/internal/async"
)

// Credential is a username/password pair. A blank username means anonymous.
type Credential struct {
	Username string
	Password string
}

// IsAnonymous reports whether the username is empty or whitespace.
func (c Credential) IsAnonymous() bool {
	return strings.TrimSpace(c.Username) == ""
}

// User returns the username, or "" for an anonymous credential.
func (c Credential) User() string {
	if c.IsAnonymous() {
		return ""
	}
	return c.Username
}

// Pass returns the password, or "" for an anonymous credential.
func (c Credential) Pass() string {
	if c.IsAnonymous() {
		return ""
	}
	return c.Password
}

// AuthMethod is a SOCKS5 authentication sub-negotiation. The implementations
// are NoAuth and UserPass.
type AuthMethod interface {
	// Code is the method byte offered in the greeting.
	Code() byte
	// Authenticate runs the sub-negotiation on an established connection.
	Authenticate(rw io.ReadWriter) error
	// BeginAuthenticate runs Authenticate on a goroutine and invokes cb once.
	BeginAuthenticate(ctx context.Context, rw io.ReadWriter, cb async.Callback[struct{}]) *async.Result[struct{}]

	exchange() stepper
}

// SelectAuth returns the method matching the proxy's selection byte.
func SelectAuth(method byte, cred Credential) (AuthMethod, error) {
	switch method {
	case methodNone:
		return NoAuth{}, nil
	case methodUsernamePassword:
		return UserPass{Credential: cred}, nil
	case methodNoAcceptable:
		return nil, noAcceptableMethod()
	default:
		return nil, fmt.Errorf("%w: proxy selected unsupported auth method 0x%02x", ErrProtocolViolation, method)
	}
}

// NoAuth is method 0x00. It exchanges nothing.
type NoAuth struct{}

func (NoAuth) Code() byte { return methodNone }

func (NoAuth) Authenticate(io.ReadWriter) error { return nil }

func (NoAuth) BeginAuthenticate(_ context.Context, _ io.ReadWriter, cb async.Callback[struct{}]) *async.Result[struct{}] {
	r := async.New(cb)
	r.Complete(struct{}{}, nil)
	return r
}

func (NoAuth) exchange() stepper { return noAuthExchange{} }

type noAuthExchange struct{}

func (noAuthExchange) step([]byte) (op, error) { return doneOp, nil }

// UserPass is method 0x02, the RFC 1929 username/password sub-negotiation.
type UserPass struct {
	Credential Credential
}

func (UserPass) Code() byte { return methodUsernamePassword }

// Encode builds [1, ulen, user, plen, pass]. The proxy asked for credentials,
// so an anonymous credential is rejected without sending anything.
func (a UserPass) Encode() ([]byte, error) {
	if a.Credential.IsAnonymous() {
		return nil, fmt.Errorf("%w: proxy requires a username", ErrAuthRejected)
	}
	user, pass := a.Credential.User(), a.Credential.Pass()
	if len(user) > 255 {
		return nil, fmt.Errorf("%w: username longer than 255 bytes", ErrArgument)
	}
	if len(pass) > 255 {
		return nil, fmt.Errorf("%w: password longer than 255 bytes", ErrArgument)
	}

	var b bytes.Buffer
	if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(user), []byte(pass)).WriteTo(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (a UserPass) Authenticate(rw io.ReadWriter) error {
	return run(rw, a.exchange())
}

func (a UserPass) BeginAuthenticate(ctx context.Context, rw io.ReadWriter, cb async.Callback[struct{}]) *async.Result[struct{}] {
	return async.Go(ctx, cb, func(context.Context) (struct{}, error) {
		return struct{}{}, a.Authenticate(rw)
	})
}

func (a UserPass) exchange() stepper { return &userPassExchange{auth: a} }

type userPassExchange struct {
	auth  UserPass
	phase int
}

func (x *userPassExchange) step(in []byte) (op, error) {
	switch x.phase {
	case 0:
		req, err := x.auth.Encode()
		if err != nil {
			return op{}, err
		}
		x.phase++
		return writeOp(req), nil
	case 1:
		x.phase++
		return readOp(2), nil
	default:
		// in[0] is the sub-negotiation version; only the status matters.
		if in[1] != txsocks5.UserPassStatusSuccess {
			return op{}, ErrAuthRejected
		}
		return doneOp, nil
	}
}
