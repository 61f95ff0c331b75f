package pool

import "sync"

// ReadBufferSize is the size of buffers handed out by GetReadBuffer.
// It matches the largest bulk transfer the detector emits in one read.
const ReadBufferSize = 256

var readBuffers = sync.Pool{
	New: func() any {
		b := make([]byte, ReadBufferSize)
		return &b
	},
}

// GetReadBuffer returns a ReadBufferSize byte buffer for endpoint reads.
func GetReadBuffer() *[]byte {
	b, _ := readBuffers.Get().(*[]byte)
	*b = (*b)[:ReadBufferSize]

	return b
}

// PutReadBuffer returns b to the pool. Buffers of a foreign size are dropped.
func PutReadBuffer(b *[]byte) {
	if b == nil || cap(*b) != ReadBufferSize {
		return
	}
	readBuffers.Put(b)
}
