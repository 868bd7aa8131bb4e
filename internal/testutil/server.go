package testutil

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
)

// StartRawProxy accepts a single connection on a loopback port and hands it
// to handler, for proxies that misbehave in ways the SOCKS servers here
// cannot. The connection is closed when handler returns; the listener when
// the test ends.
func StartRawProxy(t *testing.T, ctx context.Context, handler func(net.Conn)) netip.AddrPort {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	})
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	return ln.Addr().(*net.TCPAddr).AddrPort()
}
