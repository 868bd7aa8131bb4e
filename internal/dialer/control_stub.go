//go:build !linux

package dialer

import (
	"errors"
	"syscall"
)

func control(fwmark int) func(network, address string, c syscall.RawConn) error {
	if fwmark == 0 {
		return nil
	}
	return func(string, string, syscall.RawConn) error {
		return errors.New("fwmark is only supported on linux")
	}
}
