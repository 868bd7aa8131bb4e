package dialer

import (
	"net"
	"net/netip"
	"time"

	"github.com/die-net/sockget/internal/socks"
)

// ProxyType selects how ProxyConn reaches its target.
type ProxyType int

const (
	ProxyNone ProxyType = iota
	ProxySocks4
	ProxySocks5
)

func (t ProxyType) String() string {
	switch t {
	case ProxyNone:
		return "none"
	case ProxySocks4:
		return "socks4"
	case ProxySocks5:
		return "socks5"
	default:
		return "unknown"
	}
}

// ProxyConfig describes the SOCKS proxy, if any. Endpoint is the proxy's own
// address, not the target's.
type ProxyConfig struct {
	Type       ProxyType
	Endpoint   netip.AddrPort
	Credential socks.Credential
}

// Enabled reports whether connections should go through the proxy. A proxy
// type without an endpoint connects directly.
func (p ProxyConfig) Enabled() bool {
	return p.Type != ProxyNone && p.Endpoint.IsValid()
}

type Config struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
	// FwMark sets SO_MARK on outbound sockets where supported. 0 leaves it unset.
	FwMark   int
	Proxy    ProxyConfig
	Resolver *Resolver
}

func (cfg Config) netDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:         cfg.DialTimeout,
		KeepAliveConfig: cfg.KeepAlive,
		Control:         control(cfg.FwMark),
	}
}

func (cfg Config) resolver() *Resolver {
	if cfg.Resolver != nil {
		return cfg.Resolver
	}
	return defaultResolver
}
