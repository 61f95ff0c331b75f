package bytesbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrTruncatedData indicates that a read needed more bytes than the buffer holds.
	ErrTruncatedData = errors.New("bytesbuf: truncated data")

	// ErrBufferOverflow indicates that a write would grow a Writer past its maximum capacity.
	ErrBufferOverflow = errors.New("bytesbuf: buffer overflow")

	// ErrNegativeCount indicates that a negative length was passed to a read or skip.
	ErrNegativeCount = errors.New("bytesbuf: negative count")
)

// Reader is a bounds-checked sequential reader over a fixed byte slice.
//
// The Reader never grows or copies the underlying slice implicitly: a malformed
// length field can at most produce ErrTruncatedData, never an unbounded allocation.
//
// Multi-byte reads use the Reader's byte order, chosen at construction.
type Reader struct {
	data  []byte
	pos   int
	order binary.ByteOrder
}

// NewReader creates a little-endian Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, order: binary.LittleEndian}
}

// NewReaderOrder creates a Reader over data using the given default byte order.
func NewReaderOrder(data []byte, order binary.ByteOrder) *Reader {
	if order == nil {
		order = binary.LittleEndian
	}

	return &Reader{data: data, order: order}
}

// Order returns the default byte order of the reader.
func (r *Reader) Order() binary.ByteOrder { return r.order }

// Len returns the total length of the underlying buffer.
func (r *Reader) Len() int { return len(r.data) }

// Pos returns the current read position.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// AtEnd reports whether all bytes have been consumed.
func (r *Reader) AtEnd() bool { return r.pos >= len(r.data) }

// Seek moves the read position to an absolute offset within the buffer.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > len(r.data) {
		return fmt.Errorf("%w: seek to %d, length %d", ErrTruncatedData, pos, len(r.data))
	}
	r.pos = pos

	return nil
}

// Rest returns the unread bytes without copying and moves the position to the end.
func (r *Reader) Rest() []byte {
	rest := r.data[r.pos:]
	r.pos = len(r.data)

	return rest
}

// next returns the next n bytes and advances the position.
func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeCount
	}
	if n > r.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncatedData, n, r.pos, r.Remaining())
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n

	return b, nil
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.next(n)
	return err
}

// ReadBytes returns a copy of the next n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, err := r.next(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)

	return out, nil
}

// ReadU8 reads one unsigned byte.
func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

// ReadI8 reads one signed byte.
func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err //nolint:gosec // two's complement reinterpretation
}

// ReadU16 reads an unsigned 16-bit integer in the default byte order.
func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}

	return r.order.Uint16(b), nil
}

// ReadI16 reads a signed 16-bit integer in the default byte order.
func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err //nolint:gosec // two's complement reinterpretation
}

// ReadI24 reads a signed 24-bit integer in the default byte order and sign-extends it.
func (r *Reader) ReadI24() (int32, error) {
	b, err := r.next(3)
	if err != nil {
		return 0, err
	}

	var u uint32
	if r.order == binary.BigEndian {
		u = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	} else {
		u = uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
	}

	// sign-extend bit 23
	return int32(u<<8) >> 8, nil //nolint:gosec // two's complement reinterpretation
}

// ReadU32 reads an unsigned 32-bit integer in the default byte order.
func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}

	return r.order.Uint32(b), nil
}

// ReadI32 reads a signed 32-bit integer in the default byte order.
func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err //nolint:gosec // two's complement reinterpretation
}

// ReadF32 reads an IEEE-754 single precision float in the default byte order.
func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}

	return math.Float32frombits(v), nil
}

// ReadF32s reads count consecutive floats. Nothing is consumed when the buffer is too short.
func (r *Reader) ReadF32s(count int) ([]float32, error) {
	if count < 0 {
		return nil, ErrNegativeCount
	}
	if count*4 > r.Remaining() {
		return nil, fmt.Errorf("%w: need %d floats at offset %d, have %d bytes", ErrTruncatedData, count, r.pos, r.Remaining())
	}

	out := make([]float32, count)
	for i := range out {
		out[i], _ = r.ReadF32()
	}

	return out, nil
}

// ReadU32s reads count consecutive unsigned 32-bit integers.
// Nothing is consumed when the buffer is too short.
func (r *Reader) ReadU32s(count int) ([]uint32, error) {
	if count < 0 {
		return nil, ErrNegativeCount
	}
	if count*4 > r.Remaining() {
		return nil, fmt.Errorf("%w: need %d words at offset %d, have %d bytes", ErrTruncatedData, count, r.pos, r.Remaining())
	}

	out := make([]uint32, count)
	for i := range out {
		out[i], _ = r.ReadU32()
	}

	return out, nil
}

// ReadCString reads a NUL-terminated string. A missing terminator consumes the rest of the buffer.
func (r *Reader) ReadCString() string {
	rest := r.data[r.pos:]
	for i, c := range rest {
		if c == 0 {
			r.pos += i + 1
			return string(rest[:i])
		}
	}
	r.pos = len(r.data)

	return string(rest)
}

// View reads from the parent Reader's position using an overriding byte order.
type View struct {
	r     *Reader
	order binary.ByteOrder
}

// LE returns a little-endian view sharing the reader's position.
func (r *Reader) LE() View { return View{r: r, order: binary.LittleEndian} }

// BE returns a big-endian view sharing the reader's position.
func (r *Reader) BE() View { return View{r: r, order: binary.BigEndian} }

// ReadU16 reads an unsigned 16-bit integer in the view's byte order.
func (v View) ReadU16() (uint16, error) {
	b, err := v.r.next(2)
	if err != nil {
		return 0, err
	}

	return v.order.Uint16(b), nil
}

// ReadI16 reads a signed 16-bit integer in the view's byte order.
func (v View) ReadI16() (int16, error) {
	u, err := v.ReadU16()
	return int16(u), err //nolint:gosec // two's complement reinterpretation
}

// ReadU32 reads an unsigned 32-bit integer in the view's byte order.
func (v View) ReadU32() (uint32, error) {
	b, err := v.r.next(4)
	if err != nil {
		return 0, err
	}

	return v.order.Uint32(b), nil
}

// ReadI32 reads a signed 32-bit integer in the view's byte order.
func (v View) ReadI32() (int32, error) {
	u, err := v.ReadU32()
	return int32(u), err //nolint:gosec // two's complement reinterpretation
}

// ReadF32 reads a single precision float in the view's byte order.
func (v View) ReadF32() (float32, error) {
	u, err := v.ReadU32()
	if err != nil {
		return 0, err
	}

	return math.Float32frombits(u), nil
}
