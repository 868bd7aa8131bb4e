package dialer

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/sockget/internal/socks"
)

// ProxyDialer dials every connection through the SOCKS proxy in its Config.
type ProxyDialer struct {
	cfg Config
}

// NewProxyDialer validates the proxy configuration and returns a ProxyDialer.
func NewProxyDialer(cfg Config) (*ProxyDialer, error) {
	if !cfg.Proxy.Enabled() {
		return nil, fmt.Errorf("%w: no proxy endpoint", ErrInvalidProxyType)
	}
	if _, err := NewProxyConn(cfg, "tcp"); err != nil {
		return nil, err
	}
	return &ProxyDialer{cfg: cfg}, nil
}

func (f *ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return dial(ctx, f.cfg, network, address)
}

// Config returns the configuration connections are made with.
func (f *ProxyDialer) Config() Config {
	return f.cfg
}

func dial(ctx context.Context, cfg Config, network, address string) (net.Conn, error) {
	target, err := socks.ParseTarget(address)
	if err != nil {
		return nil, err
	}
	c, err := NewProxyConn(cfg, network)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx, target); err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	return c, nil
}
