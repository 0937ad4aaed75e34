package server

import (
	"sync"

	"github.com/djherbis/buffer"
)

const defaultBufferSize = 64 * 1024

// bytesPool is a pool of byte slices for transport frame parsing.
var bytesPool = sync.Pool{New: func() interface{} { s := make([]byte, defaultBufferSize); return &s }}

// bufferPool backs the partition buffers used to assemble message bodies
// before chunking.
var bufferPool = buffer.NewMemPoolAt(int64(defaultBufferSize))
