package bytesbuf

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DefaultMaxSize is the capacity limit used by NewWriter.
const DefaultMaxSize = 64 * 1024

// Writer is an append-only byte builder that may grow up to a fixed maximum size.
//
// Writes that would exceed the maximum fail with ErrBufferOverflow and leave the
// buffer unchanged.
type Writer struct {
	buf   []byte
	max   int
	order binary.ByteOrder
}

// NewWriter creates a little-endian Writer limited to DefaultMaxSize bytes.
func NewWriter() *Writer {
	return NewWriterSize(0, DefaultMaxSize, binary.LittleEndian)
}

// NewWriterSize creates a Writer with an initial capacity hint, a maximum size and a byte order.
func NewWriterSize(capacity, maxSize int, order binary.ByteOrder) *Writer {
	if order == nil {
		order = binary.LittleEndian
	}
	if capacity < 0 {
		capacity = 0
	}
	if maxSize > 0 && capacity > maxSize {
		capacity = maxSize
	}

	return &Writer{buf: make([]byte, 0, capacity), max: maxSize, order: order}
}

// Bytes returns the written bytes. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of written bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Max returns the maximum size of the writer, 0 means unlimited.
func (w *Writer) Max() int { return w.max }

// Reset discards the written bytes and keeps the allocated capacity.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) grow(n int) ([]byte, error) {
	if w.max > 0 && len(w.buf)+n > w.max {
		return nil, fmt.Errorf("%w: writing %d bytes at offset %d, max %d", ErrBufferOverflow, n, len(w.buf), w.max)
	}
	start := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)

	return w.buf[start:], nil
}

// PutU16At overwrites a 16-bit value at an already written offset.
func (w *Writer) PutU16At(offset int, v uint16) error {
	if offset < 0 || offset+2 > len(w.buf) {
		return fmt.Errorf("%w: put at offset %d, length %d", ErrBufferOverflow, offset, len(w.buf))
	}
	w.order.PutUint16(w.buf[offset:], v)

	return nil
}

// WriteBytes appends p.
func (w *Writer) WriteBytes(p []byte) error {
	b, err := w.grow(len(p))
	if err != nil {
		return err
	}
	copy(b, p)

	return nil
}

// WriteU8 appends one byte.
func (w *Writer) WriteU8(v uint8) error {
	b, err := w.grow(1)
	if err != nil {
		return err
	}
	b[0] = v

	return nil
}

// WriteI8 appends one signed byte.
func (w *Writer) WriteI8(v int8) error {
	return w.WriteU8(uint8(v)) //nolint:gosec // two's complement reinterpretation
}

// WriteU16 appends an unsigned 16-bit integer in the writer's byte order.
func (w *Writer) WriteU16(v uint16) error {
	b, err := w.grow(2)
	if err != nil {
		return err
	}
	w.order.PutUint16(b, v)

	return nil
}

// WriteI16 appends a signed 16-bit integer.
func (w *Writer) WriteI16(v int16) error {
	return w.WriteU16(uint16(v)) //nolint:gosec // two's complement reinterpretation
}

// WriteI24 appends the low 24 bits of v.
func (w *Writer) WriteI24(v int32) error {
	b, err := w.grow(3)
	if err != nil {
		return err
	}

	u := uint32(v) //nolint:gosec // two's complement reinterpretation
	if w.order == binary.BigEndian {
		b[0], b[1], b[2] = byte(u>>16), byte(u>>8), byte(u)
	} else {
		b[0], b[1], b[2] = byte(u), byte(u>>8), byte(u>>16)
	}

	return nil
}

// WriteU32 appends an unsigned 32-bit integer.
func (w *Writer) WriteU32(v uint32) error {
	b, err := w.grow(4)
	if err != nil {
		return err
	}
	w.order.PutUint32(b, v)

	return nil
}

// WriteI32 appends a signed 32-bit integer.
func (w *Writer) WriteI32(v int32) error {
	return w.WriteU32(uint32(v)) //nolint:gosec // two's complement reinterpretation
}

// WriteF32 appends an IEEE-754 single precision float.
func (w *Writer) WriteF32(v float32) error {
	return w.WriteU32(math.Float32bits(v))
}

// WriteF32s appends all values, or none of them when they do not fit.
func (w *Writer) WriteF32s(values ...float32) error {
	b, err := w.grow(4 * len(values))
	if err != nil {
		return err
	}
	for i, v := range values {
		w.order.PutUint32(b[i*4:], math.Float32bits(v))
	}

	return nil
}
