package dialer

import (
	"context"
	"net"
)

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a Dialer that resolves and connects to targets
// itself, ignoring any proxy in cfg.
func NewDirectDialer(cfg Config) Dialer {
	cfg.Proxy = ProxyConfig{}
	return &directDialer{cfg: cfg}
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return dial(ctx, f.cfg, network, address)
}

func (f *directDialer) Config() Config {
	return f.cfg
}
