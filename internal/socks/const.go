package socks

import (
	txsocks5 "github.com/txthinking/socks5"
)

// SOCKS protocol versions.
const (
	Version4 byte = 0x04
	Version5 byte = 0x05
)

const cmdConnect byte = 0x01

// SOCKS4 reply codes.
const (
	socks4Granted        byte = 0x5a // request granted
	socks4Rejected       byte = 0x5b // request rejected or failed
	socks4NoIdentd       byte = 0x5c // client identd unreachable
	socks4IdentdMismatch byte = 0x5d // identd could not confirm the user id
)

// SOCKS5 method selection.
const (
	methodNone             = txsocks5.MethodNone
	methodUsernamePassword = txsocks5.MethodUsernamePassword
	methodNoAcceptable     byte = 0xff
)

// SOCKS5 address types.
const (
	atypIPv4   = txsocks5.ATYPIPv4
	atypDomain = txsocks5.ATYPDomain
	atypIPv6   = txsocks5.ATYPIPv6
)

// SOCKS5 reply codes.
const (
	repSucceeded               byte = 0x00
	repGeneralFailure          byte = 0x01
	repNotAllowed              byte = 0x02
	repNetworkUnreachable      byte = 0x03
	repHostUnreachable         byte = 0x04
	repConnectionRefused       byte = 0x05
	repTTLExpired              byte = 0x06
	repCommandNotSupported     byte = 0x07
	repAddressTypeNotSupported byte = 0x08
)

// socks4Marker is the DSTIP sent for SOCKS4A requests: 0.0.0.x with x != 0
// tells the proxy to resolve the hostname that follows the user id.
var socks4Marker = [4]byte{0x00, 0x00, 0x00, 0x01}
