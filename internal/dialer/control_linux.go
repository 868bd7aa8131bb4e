//go:build linux

package dialer

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// control returns a net.Dialer Control hook that applies SO_MARK, or nil when
// fwmark is 0.
func control(fwmark int) func(network, address string, c syscall.RawConn) error {
	if fwmark == 0 {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, fwmark)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}
}
