package socks

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/net/idna"
)

// Target is the destination the proxy is asked to connect to. Host is either
// a hostname or an IP literal.
type Target struct {
	Host string
	Port uint16
}

// ParseTarget splits a host:port address into a Target.
func ParseTarget(address string) (Target, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrArgument, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Target{}, fmt.Errorf("%w: port %q out of range", ErrArgument, portStr)
	}
	t := Target{Host: host, Port: uint16(port)}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Validate reports an ErrArgument for an empty host or a zero port.
func (t Target) Validate() error {
	if t.Host == "" {
		return fmt.Errorf("%w: empty host", ErrArgument)
	}
	if t.Port == 0 {
		return fmt.Errorf("%w: port 0 for %q", ErrArgument, t.Host)
	}
	return nil
}

// Addr returns the host as an IP address when it is a literal.
func (t Target) Addr() (netip.Addr, bool) {
	ip, err := netip.ParseAddr(t.Host)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// asciiHost converts an internationalized hostname to the ASCII form that
// SOCKS4A and SOCKS5 carry on the wire.
func asciiHost(host string) (string, error) {
	h, err := idna.Punycode.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: host %q: %w", ErrArgument, host, err)
	}
	if !isASCII(h) {
		return "", fmt.Errorf("%w: host %q is not ASCII", ErrArgument, host)
	}
	return h, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}
