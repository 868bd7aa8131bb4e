package main

import (
	"io"
	"sync"
)

const copyBufferSize = 32 << 10

// copyPool holds body copy buffers shared by concurrent fetches. Pointers
// are pooled so Put does not allocate.
var copyPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

func copyBody(w io.Writer, r io.Reader) (int64, error) {
	bp := copyPool.Get().(*[]byte)
	defer copyPool.Put(bp)
	return io.CopyBuffer(w, r, *bp)
}
