package session

import (
	"errors"

	"github.com/arloliu/go-radiacode/bytesbuf"
	"github.com/arloliu/go-radiacode/databuf"
	"github.com/arloliu/go-radiacode/protocol"
	"github.com/arloliu/go-radiacode/spectrum"
	"github.com/arloliu/go-radiacode/transport"
)

var (
	// ErrNotConnected is returned by commands issued while the session is not Ready.
	ErrNotConnected = errors.New("session: not connected")

	// ErrRetriesExhausted is returned when the reconnect bound is reached.
	// The session stays Disconnected until Open is called again.
	ErrRetriesExhausted = errors.New("session: reconnect retries exhausted")

	// ErrCalibrationVerificationFailed is returned when the calibration read back after a write
	// differs from the written coefficients.
	ErrCalibrationVerificationFailed = errors.New("session: calibration verification failed")

	// ErrFirmwareTooOld is returned by the handshake when the target firmware is older than
	// MinFirmwareMajor.MinFirmwareMinor.
	ErrFirmwareTooOld = errors.New("session: firmware too old")

	// ErrInvalidArgument is returned when a command argument is out of range.
	ErrInvalidArgument = errors.New("session: invalid argument")

	// ErrInvalidTransition is returned for a state transition not allowed from the current state.
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrConfigNil is returned by options applied to a nil configuration.
	ErrConfigNil = errors.New("session: config is nil")
)

// ProtocolError is returned for responses carrying a non-zero status byte.
type ProtocolError = protocol.StatusError

// IsDecodeError reports whether err came from decoding a response payload.
func IsDecodeError(err error) bool {
	return errors.Is(err, bytesbuf.ErrTruncatedData) ||
		errors.Is(err, bytesbuf.ErrBufferOverflow) ||
		errors.Is(err, databuf.ErrPartialDecode) ||
		errors.Is(err, spectrum.ErrSpectrumFormat) ||
		errors.Is(err, protocol.ErrFrameLength) ||
		errors.Is(err, protocol.ErrPayloadSize)
}

// IsProtocolError reports whether the device rejected or mis-answered a command.
func IsProtocolError(err error) bool {
	var statusErr *ProtocolError

	return errors.As(err, &statusErr) ||
		errors.Is(err, protocol.ErrOpcodeMismatch) ||
		errors.Is(err, ErrCalibrationVerificationFailed)
}

// IsTransportError reports whether err is a link failure that degrades the session.
func IsTransportError(err error) bool {
	return transport.IsTransportError(err)
}
