package intercept

import (
	"bytes"
	"sync"
)

// bufferPool reuses the buffers that accumulate poll response bodies. The
// poll endpoint fires every few seconds for as long as a generation runs,
// so the same few buffers cycle instead of allocating per response.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// getBuffer retrieves a cleared buffer from the pool.
// Caller must call putBuffer when done.
func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putBuffer returns a buffer to the pool. Oversized buffers are dropped so
// one huge poll document does not pin memory forever.
func putBuffer(buf *bytes.Buffer) {
	const maxBufferSize = 64 * 1024
	if buf.Cap() <= maxBufferSize {
		bufferPool.Put(buf)
	}
}
