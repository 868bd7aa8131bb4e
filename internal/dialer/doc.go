// Package dialer establishes outbound TCP connections either directly or
// through a SOCKS4/SOCKS5 proxy.
//
// ProxyConn owns one connection attempt: it resolves and dials the target
// itself when no proxy is configured, or dials the proxy and hands the socket
// to a socks.Negotiator otherwise. ProxyDialer wraps ProxyConn behind the
// DialContext signature used by net/http and friends.
package dialer
