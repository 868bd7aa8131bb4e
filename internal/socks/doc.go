// Package socks implements the client side of the SOCKS4, SOCKS4A and SOCKS5
// CONNECT handshakes.
//
// Each handshake is a step machine: given the bytes produced by the previous
// I/O operation it returns the next operation (write these bytes, read exactly
// n bytes, or done). The synchronous Negotiate and the asynchronous
// BeginNegotiate drive the same machine, so both paths walk identical stages
// in identical order with a single I/O operation in flight at a time.
//
// Message encoding for SOCKS5 uses the wire types from
// github.com/txthinking/socks5; replies are decoded here so that the reader
// can tolerate fragmented and stalled reads.
package socks
