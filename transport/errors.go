package transport

import (
	"errors"
	"strings"
)

// Error kinds. A transport failure is reported as *Error whose Kind is one of these.
var (
	// ErrDeviceNotFound indicates that no detector, or more than one without a serial filter, matched.
	ErrDeviceNotFound = errors.New("transport: device not found")

	// ErrTimeout indicates that the device did not answer within the exchange timeout.
	ErrTimeout = errors.New("transport: timeout")

	// ErrLinkLost indicates that the physical link dropped or stopped delivering data.
	ErrLinkLost = errors.New("transport: link lost")

	// ErrPermissionDenied indicates that the OS refused access to the device.
	ErrPermissionDenied = errors.New("transport: permission denied")
)

var (
	// ErrBluetoothUnsupported is returned on platforms where the BLE stack cannot connect by MAC address.
	// It is not retryable.
	ErrBluetoothUnsupported = errors.New("transport: bluetooth not supported on this platform")

	// ErrNotOpen indicates an exchange on a transport that is not open.
	ErrNotOpen = errors.New("transport: not open")

	// ErrFrameTooLarge indicates that a received frame exceeds the maximum frame size.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrNotifyOverflow indicates that response chunks were dropped because the notification
	// queue was full.
	ErrNotifyOverflow = errors.New("transport: notification queue overflow")
)

// Error describes a failed transport operation.
//
// errors.Is matches both the Kind and the underlying cause.
type Error struct {
	// Op is the failed operation, e.g. "open", "write", "read".
	Op string
	// Kind is one of ErrDeviceNotFound, ErrTimeout, ErrLinkLost or ErrPermissionDenied.
	Kind error
	// Err is the underlying cause, may be nil.
	Err error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("transport: ")
	sb.WriteString(e.Op)
	if e.Kind != nil {
		sb.WriteString(": ")
		sb.WriteString(strings.TrimPrefix(e.Kind.Error(), "transport: "))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}

	return sb.String()
}

// Unwrap returns the kind and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

// NewError builds a transport error for op with the given kind and cause.
func NewError(op string, kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// IsRetryable reports whether err is a transport failure that a reconnect may recover from.
func IsRetryable(err error) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}

	switch te.Kind {
	case ErrDeviceNotFound, ErrTimeout, ErrLinkLost, ErrPermissionDenied:
		return true
	default:
		return false
	}
}

// IsTransportError reports whether err originates from a transport.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
