package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-radiacode/bytesbuf"
)

// ErrPayloadSize indicates that a command or response payload has an unexpected size.
var ErrPayloadSize = errors.New("protocol: unexpected payload size")

// ExchangePayload is the SET_EXCHANGE argument announcing the host protocol version.
var ExchangePayload = []byte{0x01, 0xFF, 0x12, 0xFF}

// FirmwareVersion is a firmware image version as reported by GET_VERSION.
type FirmwareVersion struct {
	Major uint8
	Minor uint8
	Build string
}

// String returns the version in "major.minor" form.
func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast reports whether the version is equal to or newer than major.minor.
func (v FirmwareVersion) AtLeast(major, minor uint8) bool {
	if v.Major != major {
		return v.Major > major
	}

	return v.Minor >= minor
}

// EncodeVersion builds a GET_VERSION response payload.
func EncodeVersion(boot, target FirmwareVersion) []byte {
	w := bytesbuf.NewWriter()
	for _, v := range []FirmwareVersion{boot, target} {
		_ = w.WriteU8(v.Major)
		_ = w.WriteU8(v.Minor)
		_ = w.WriteBytes([]byte(v.Build))
		_ = w.WriteU8(0)
	}

	return w.Bytes()
}

// ParseVersion decodes a GET_VERSION response payload into boot and target versions.
func ParseVersion(payload []byte) (boot, target FirmwareVersion, err error) {
	r := bytesbuf.NewReader(payload)

	read := func(v *FirmwareVersion) error {
		if v.Major, err = r.ReadU8(); err != nil {
			return err
		}
		if v.Minor, err = r.ReadU8(); err != nil {
			return err
		}
		v.Build = r.ReadCString()

		return nil
	}

	if err = read(&boot); err != nil {
		return boot, target, fmt.Errorf("protocol: boot version: %w", err)
	}
	if err = read(&target); err != nil {
		return boot, target, fmt.Errorf("protocol: target version: %w", err)
	}

	return boot, target, nil
}

// EncodeString builds a NUL-terminated string payload.
func EncodeString(s string) []byte {
	out := make([]byte, 0, len(s)+1)
	out = append(out, s...)

	return append(out, 0)
}

// ParseString decodes a NUL-terminated string payload such as the GET_SERIAL response.
func ParseString(payload []byte) string {
	return bytesbuf.NewReader(payload).ReadCString()
}

// TimePayload builds a SET_TIME argument from t as u32 unix seconds.
func TimePayload(t time.Time) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(t.Unix())) //nolint:gosec // device clock is 32-bit
}

// ParseTime decodes a SET_TIME argument.
func ParseTime(payload []byte) (time.Time, error) {
	if len(payload) != 4 {
		return time.Time{}, fmt.Errorf("%w: time needs 4 bytes, got %d", ErrPayloadSize, len(payload))
	}

	return time.Unix(int64(binary.LittleEndian.Uint32(payload)), 0), nil
}

// BoolPayload builds a one-byte boolean argument.
func BoolPayload(v bool) []byte {
	if v {
		return []byte{1}
	}

	return []byte{0}
}

// ParseBool decodes a one-byte boolean argument.
func ParseBool(payload []byte) (bool, error) {
	v, err := ParseU8(payload)
	return v != 0, err
}

// U8Payload builds a one-byte argument.
func U8Payload(v uint8) []byte { return []byte{v} }

// ParseU8 decodes a one-byte argument.
func ParseU8(payload []byte) (uint8, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: expected 1 byte, got %d", ErrPayloadSize, len(payload))
	}

	return payload[0], nil
}

// U16Payload builds a two-byte little-endian argument.
func U16Payload(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

// ParseU16 decodes a two-byte little-endian argument.
func ParseU16(payload []byte) (uint16, error) {
	if len(payload) != 2 {
		return 0, fmt.Errorf("%w: expected 2 bytes, got %d", ErrPayloadSize, len(payload))
	}

	return binary.LittleEndian.Uint16(payload), nil
}
