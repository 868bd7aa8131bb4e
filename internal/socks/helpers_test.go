package socks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"testing/iotest"

	"golang.org/x/sync/errgroup"
)

// scripted returns a ReadWriter that serves resp one byte per read and
// records everything written to it.
func scripted(resp []byte, sent *bytes.Buffer) io.ReadWriter {
	return struct {
		io.Reader
		io.Writer
	}{iotest.OneByteReader(bytes.NewReader(resp)), sent}
}

// exchange is one turn of a scripted proxy: read and compare expect, then
// write send. Either may be nil. hangup closes the proxy side afterwards.
type exchange struct {
	expect []byte
	send   []byte
	hangup bool
}

// startProxy plays steps against the client end of a pipe.
func startProxy(t *testing.T, steps ...exchange) (net.Conn, *errgroup.Group) {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	})

	g := &errgroup.Group{}
	g.Go(func() error {
		for i, s := range steps {
			if s.expect != nil {
				buf := make([]byte, len(s.expect))
				if _, err := io.ReadFull(serverConn, buf); err != nil {
					return fmt.Errorf("step %d: read: %w", i, err)
				}
				if !bytes.Equal(buf, s.expect) {
					return fmt.Errorf("step %d: expected %v got %v", i, s.expect, buf)
				}
			}
			if s.send != nil {
				if _, err := serverConn.Write(s.send); err != nil {
					return fmt.Errorf("step %d: write: %w", i, err)
				}
			}
			if s.hangup {
				return serverConn.Close()
			}
		}
		return nil
	})
	return clientConn, g
}

// assertClosed fails unless conn has been closed locally.
func assertClosed(t *testing.T, conn net.Conn) {
	t.Helper()

	if _, err := conn.Write([]byte{0}); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("expected closed connection, got %v", err)
	}
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

var background = context.Background()
