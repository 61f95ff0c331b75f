package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/arloliu/go-radiacode/bytesbuf"
)

// Frame geometry.
//
//	request:  [opcode(1)][length(2, LE)][payload(length)]
//	response: [opcode(1)][status(1)][length(2, LE)][payload(length)]
const (
	RequestHeaderSize  = 3
	ResponseHeaderSize = 4
	MaxPayloadSize     = 0xFFFF
	MaxRequestSize     = RequestHeaderSize + MaxPayloadSize
	MaxResponseSize    = ResponseHeaderSize + MaxPayloadSize
)

var (
	// ErrFrameLength indicates that a frame's declared payload length does not match its size.
	ErrFrameLength = errors.New("protocol: frame length mismatch")

	// ErrOpcodeMismatch indicates that a response echoes a different opcode than the request.
	ErrOpcodeMismatch = errors.New("protocol: response opcode mismatch")

	// ErrPayloadTooLarge indicates that a payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
)

// StatusError is returned for responses carrying a non-zero status byte.
type StatusError struct {
	Opcode Opcode
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("protocol: %s failed: %s", e.Opcode, e.Status)
}

// Request is a decoded command frame.
type Request struct {
	Opcode  Opcode
	Payload []byte
}

// Response is a decoded response frame.
type Response struct {
	Opcode  Opcode
	Status  Status
	Payload []byte
}

// EncodeRequest builds a command frame.
func EncodeRequest(op Opcode, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	w := bytesbuf.NewWriterSize(RequestHeaderSize+len(payload), MaxRequestSize, binary.LittleEndian)
	_ = w.WriteU8(uint8(op))
	_ = w.WriteU16(uint16(len(payload))) //nolint:gosec // bounded above
	if err := w.WriteBytes(payload); err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

// DecodeRequest parses a command frame. The frame must contain exactly one request.
func DecodeRequest(frame []byte) (*Request, error) {
	r := bytesbuf.NewReader(frame)

	op, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	length, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	if int(length) != r.Remaining() {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrFrameLength, length, r.Remaining())
	}

	payload, _ := r.ReadBytes(int(length))

	return &Request{Opcode: Opcode(op), Payload: payload}, nil
}

// Encode builds a response frame.
func (rsp *Response) Encode() ([]byte, error) {
	if len(rsp.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(rsp.Payload))
	}

	w := bytesbuf.NewWriterSize(ResponseHeaderSize+len(rsp.Payload), MaxResponseSize, binary.LittleEndian)
	_ = w.WriteU8(uint8(rsp.Opcode))
	_ = w.WriteU8(uint8(rsp.Status))
	_ = w.WriteU16(uint16(len(rsp.Payload))) //nolint:gosec // bounded above
	if err := w.WriteBytes(rsp.Payload); err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

// DecodeResponse parses a response frame. The frame must contain exactly one response.
func DecodeResponse(frame []byte) (*Response, error) {
	r := bytesbuf.NewReader(frame)

	op, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	status, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	length, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	if int(length) != r.Remaining() {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrFrameLength, length, r.Remaining())
	}

	payload, _ := r.ReadBytes(int(length))

	return &Response{Opcode: Opcode(op), Status: Status(status), Payload: payload}, nil
}

// Check validates the response against the request opcode.
//
// It returns ErrOpcodeMismatch when the echo differs and a *StatusError for a non-zero status.
func (rsp *Response) Check(op Opcode) error {
	if rsp.Opcode != op {
		return fmt.Errorf("%w: sent %s, got %s", ErrOpcodeMismatch, op, rsp.Opcode)
	}
	if rsp.Status != StatusOK {
		return &StatusError{Opcode: op, Status: rsp.Status}
	}

	return nil
}

// ResponseSize returns the total size of the response frame whose header starts buf.
// ok is false until buf holds a complete header.
func ResponseSize(buf []byte) (size int, ok bool) {
	if len(buf) < ResponseHeaderSize {
		return 0, false
	}

	return ResponseHeaderSize + int(binary.LittleEndian.Uint16(buf[2:4])), true
}

// RequestSize returns the total size of the request frame whose header starts buf.
// ok is false until buf holds a complete header.
func RequestSize(buf []byte) (size int, ok bool) {
	if len(buf) < RequestHeaderSize {
		return 0, false
	}

	return RequestHeaderSize + int(binary.LittleEndian.Uint16(buf[1:3])), true
}
