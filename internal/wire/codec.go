// Package wire converts ports and IPv4 addresses to and from the byte layouts
// used on SOCKS wire messages.
package wire

import (
	"encoding/binary"
	"net/netip"
)

// PortToBytes returns port in network (big-endian) byte order.
func PortToBytes(port uint16) [2]byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], port)
	return b
}

// BytesToPort is the inverse of PortToBytes.
func BytesToPort(b [2]byte) uint16 {
	return binary.BigEndian.Uint16(b[:])
}

// IPv4ToBytes lays out a packed IPv4 address least significant byte first.
//
// The packed form is the one produced by IPv4ToUint32, where the first octet
// of the dotted address occupies the low byte, so the result is the address in
// the order SOCKS4 puts it on the wire.
func IPv4ToBytes(addr uint32) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], addr)
	return b
}

// IPv4ToUint32 packs an IPv4 (or IPv4-mapped IPv6) address with its first
// octet in the low byte. It reports false for any other address.
func IPv4ToUint32(ip netip.Addr) (uint32, bool) {
	ip = ip.Unmap()
	if !ip.Is4() {
		return 0, false
	}
	a := ip.As4()
	return binary.LittleEndian.Uint32(a[:]), true
}
