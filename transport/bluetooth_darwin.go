//go:build darwin

package transport

import (
	"context"
	"time"
)

// BluetoothTransport is unavailable on darwin: CoreBluetooth hides MAC addresses, so a
// descriptor cannot be resolved to a peripheral.
type BluetoothTransport struct {
	desc Descriptor
}

var _ Transport = (*BluetoothTransport)(nil)

func newBluetooth(desc Descriptor, _ *config) *BluetoothTransport {
	return &BluetoothTransport{desc: desc}
}

// Descriptor implements Transport.
func (t *BluetoothTransport) Descriptor() Descriptor { return t.desc }

// Open always fails with ErrBluetoothUnsupported.
func (t *BluetoothTransport) Open(_ context.Context) error {
	return NewError("open", nil, ErrBluetoothUnsupported)
}

// Exchange always fails; the transport never opens.
func (t *BluetoothTransport) Exchange(_ context.Context, _ []byte, _ time.Duration) ([]byte, error) {
	return nil, NewError("exchange", nil, ErrBluetoothUnsupported)
}

// Close is a no-op.
func (t *BluetoothTransport) Close() error { return nil }

// DroppedNotifications always returns 0.
func (t *BluetoothTransport) DroppedNotifications() uint64 { return 0 }
