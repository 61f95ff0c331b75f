package transport

import (
	"fmt"

	"github.com/arloliu/go-radiacode/protocol"
)

// SizeFunc returns the total frame size declared by the header at the start of buf.
// ok is false until buf holds a complete header.
type SizeFunc func(buf []byte) (size int, ok bool)

// Reassembler accumulates chunks until a complete frame is present.
//
// Bytes following a complete frame are kept as the start of the next frame.
type Reassembler struct {
	buf     []byte
	maxSize int
	size    SizeFunc
}

// NewReassembler creates a reassembler for response frames no larger than maxSize.
func NewReassembler(maxSize int) *Reassembler {
	return NewReassemblerFunc(maxSize, protocol.ResponseSize)
}

// NewReassemblerFunc creates a reassembler using a custom header size function.
func NewReassemblerFunc(maxSize int, size SizeFunc) *Reassembler {
	return &Reassembler{maxSize: maxSize, size: size}
}

// Feed appends chunk and returns a complete frame once available.
//
// It returns ErrFrameTooLarge when the declared frame exceeds the maximum size; the buffered
// bytes are discarded in that case.
func (r *Reassembler) Feed(chunk []byte) ([]byte, error) {
	r.buf = append(r.buf, chunk...)

	size, ok := r.size(r.buf)
	if !ok {
		return nil, nil
	}
	if size > r.maxSize {
		r.Reset()
		return nil, fmt.Errorf("%w: declared %d bytes, max %d", ErrFrameTooLarge, size, r.maxSize)
	}
	if len(r.buf) < size {
		return nil, nil
	}

	frame := make([]byte, size)
	copy(frame, r.buf)
	r.buf = append(r.buf[:0], r.buf[size:]...)

	return frame, nil
}

// Missing returns how many more bytes the pending frame needs, or -1 while its header is incomplete.
func (r *Reassembler) Missing() int {
	size, ok := r.size(r.buf)
	if !ok {
		return -1
	}

	return max(size-len(r.buf), 0)
}

// Pending returns the number of buffered bytes.
func (r *Reassembler) Pending() int { return len(r.buf) }

// Reset discards buffered bytes.
func (r *Reassembler) Reset() { r.buf = r.buf[:0] }
