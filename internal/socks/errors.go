package socks

import (
	"errors"
	"fmt"
)

var (
	// ErrArgument reports an invalid host, port, credential or buffer size.
	ErrArgument = errors.New("invalid argument")

	// ErrProtocolViolation reports a message the peer should never have sent.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrNegotiationRejected matches every *RejectedError.
	ErrNegotiationRejected = errors.New("negotiation rejected")

	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport failure")

	// ErrAuthRejected is returned when the proxy refuses the username/password
	// sub-negotiation.
	ErrAuthRejected = errors.New("Username/password combination rejected.") //nolint:staticcheck // Message is user-facing.

	// ErrStalled is wrapped in a *TransportError when a peer keeps answering
	// reads with no data.
	ErrStalled = errors.New("read stalled")
)

// RejectedError carries a proxy's non-success status code and the
// human-readable reason for it.
type RejectedError struct {
	Version byte
	Code    byte
	Reason  string
}

func (e *RejectedError) Error() string {
	return e.Reason
}

// Is makes errors.Is(err, ErrNegotiationRejected) true.
func (e *RejectedError) Is(target error) bool {
	return target == ErrNegotiationRejected
}

// TransportError wraps a failed connect, send or receive.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "socks " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrTransport) true.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

var socks4Reasons = map[byte]string{
	socks4Rejected:       "Request rejected or failed",
	socks4NoIdentd:       "Request failed because client is not running identd (or not reachable from the server)",
	socks4IdentdMismatch: "Request failed because client's identd could not confirm the user ID string in the request",
}

var socks5Reasons = map[byte]string{
	repGeneralFailure:          "General failure",
	repNotAllowed:              "Connection not allowed by ruleset",
	repNetworkUnreachable:      "Network unreachable",
	repHostUnreachable:         "Host unreachable",
	repConnectionRefused:       "Connection refused by destination host",
	repTTLExpired:              "TTL expired",
	repCommandNotSupported:     "Command not supported / protocol error",
	repAddressTypeNotSupported: "Address type not supported",
}

func socks4Rejection(code byte) *RejectedError {
	reason, ok := socks4Reasons[code]
	if !ok {
		reason = fmt.Sprintf("Request rejected (code 0x%02x)", code)
	}
	return &RejectedError{Version: Version4, Code: code, Reason: reason}
}

func socks5Rejection(code byte) *RejectedError {
	reason, ok := socks5Reasons[code]
	if !ok {
		reason = fmt.Sprintf("Request failed (code 0x%02x)", code)
	}
	return &RejectedError{Version: Version5, Code: code, Reason: reason}
}

func noAcceptableMethod() *RejectedError {
	return &RejectedError{Version: Version5, Code: methodNoAcceptable, Reason: "No authentication method accepted."}
}
