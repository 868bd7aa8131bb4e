package socks

import (
	"errors"
	"fmt"
	"io"
)

// maxEmptyReads bounds how many consecutive zero-byte, error-free reads
// ReadExact tolerates before giving up.
const maxEmptyReads = 32

// ReadExact reads exactly n bytes from r, accumulating fragmented reads.
//
// End of stream before n bytes is reported as io.ErrUnexpectedEOF. A reader
// that returns no data and no error maxEmptyReads times in a row is reported
// as ErrStalled. Both are wrapped in a *TransportError.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: read of %d bytes", ErrArgument, n)
	}

	buf := make([]byte, n)
	received, empty := 0, 0
	for received < n {
		m, err := r.Read(buf[received:])
		received += m
		if received == n {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, &TransportError{Op: "read", Err: err}
		}
		if m > 0 {
			empty = 0
			continue
		}
		empty++
		if empty >= maxEmptyReads {
			return nil, &TransportError{Op: "read", Err: ErrStalled}
		}
	}
	return buf, nil
}

func writeFull(w io.Writer, b []byte) error {
	n, err := w.Write(b)
	if err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if n < len(b) {
		return &TransportError{Op: "write", Err: io.ErrShortWrite}
	}
	return nil
}
