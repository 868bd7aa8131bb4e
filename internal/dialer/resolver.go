package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// lookupTimeout bounds a shared lookup, which outlives any single caller.
const lookupTimeout = 30 * time.Second

var defaultResolver = NewResolver(0)

// Resolver turns hostnames into a single address, preferring IPv4.
// Concurrent lookups of the same host share one query, and answers are
// cached for the configured TTL.
type Resolver struct {
	lookup func(ctx context.Context, network, host string) ([]netip.Addr, error)
	group  singleflight.Group
	cache  *cache.Cache
}

// NewResolver returns a Resolver backed by net.DefaultResolver. A ttl of 0
// disables caching.
func NewResolver(ttl time.Duration) *Resolver {
	r := &Resolver{lookup: net.DefaultResolver.LookupNetIP}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// LookupAddr resolves host. IP literals are returned without a lookup.
func (r *Resolver) LookupAddr(ctx context.Context, host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.Unmap(), nil
	}
	if r.cache != nil {
		if v, ok := r.cache.Get(host); ok {
			return v.(netip.Addr), nil
		}
	}

	ch := r.group.DoChan(host, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()

		addrs, err := r.lookup(lctx, "ip", host)
		if err != nil {
			return nil, err
		}
		addr, ok := pickAddr(addrs)
		if !ok {
			return nil, fmt.Errorf("no addresses for %s", host)
		}
		if r.cache != nil {
			r.cache.SetDefault(host, addr)
		}
		return addr, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, res.Err)
		}
		return res.Val.(netip.Addr), nil
	case <-ctx.Done():
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, ctx.Err())
	}
}

func pickAddr(addrs []netip.Addr) (netip.Addr, bool) {
	for _, a := range addrs {
		if a = a.Unmap(); a.Is4() {
			return a, true
		}
	}
	if len(addrs) > 0 {
		return addrs[0], true
	}
	return netip.Addr{}, false
}
