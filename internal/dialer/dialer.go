package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/die-net/sockget/internal/socks"
)

// Dialer mirrors the net.Dialer interface. Config exposes the settings its
// connections are made with, for callers that build ProxyConns themselves.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
	Config() Config
}

// New parses upstream and constructs the appropriate outbound Dialer.
//
// Supported schemes:
//   - direct://
//   - socks4://[user@]host:port
//   - socks4a://[user@]host:port
//   - socks5://[user:pass@]host:port
//
// A missing port defaults to 1080. A proxy hostname is resolved once, here,
// so the dialer always connects to a fixed proxy address.
//
// New also serves as the proxy URL parser: callers that manage ProxyConns
// themselves, such as the fetch package, take the result's Config and never
// call DialContext.
func New(ctx context.Context, cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %w", socks.ErrArgument, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("%w: invalid URL: path should be empty", socks.ErrArgument)
	}

	switch u.Scheme {
	case "":
		return nil, fmt.Errorf("%w: invalid url: missing scheme", socks.ErrArgument)
	case "direct":
		cfg.Proxy = ProxyConfig{}
		return NewDirectDialer(cfg), nil
	case "socks4", "socks4a", "socks5":
		host := u.Hostname()
		if host == "" {
			return nil, fmt.Errorf("%w: invalid url: missing host", socks.ErrArgument)
		}
		portStr := u.Port()
		if portStr == "" {
			portStr = defaultPortForScheme(u.Scheme)
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("%w: invalid proxy port %q", socks.ErrArgument, portStr)
		}

		addr, err := cfg.resolver().LookupAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("proxy %s: %w", u.Host, err)
		}

		var cred socks.Credential
		if u.User != nil {
			cred.Username = u.User.Username()
			cred.Password, _ = u.User.Password()
		}

		typ := ProxySocks5
		if u.Scheme != "socks5" {
			typ = ProxySocks4
		}
		cfg.Proxy = ProxyConfig{
			Type:       typ,
			Endpoint:   netip.AddrPortFrom(addr, uint16(port)),
			Credential: cred,
		}
		return NewProxyDialer(cfg)
	case "http", "https":
		return nil, fmt.Errorf("%w: %s proxies are not supported", ErrInvalidProxyType, u.Scheme)
	default:
		return nil, fmt.Errorf("%w: invalid url scheme: %q", ErrInvalidProxyType, u.Scheme)
	}
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "socks4", "socks4a", "socks5":
		return "1080"
	default:
		return ""
	}
}
