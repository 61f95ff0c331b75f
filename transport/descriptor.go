package transport

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrInvalidDescriptor indicates that a connection descriptor string or address is malformed.
var ErrInvalidDescriptor = errors.New("transport: invalid descriptor")

// Kind is the physical link type of a Descriptor.
type Kind int

const (
	// KindUSB selects the USB bulk transport.
	KindUSB Kind = iota + 1
	// KindBluetooth selects the Bluetooth LE transport.
	KindBluetooth
)

// String returns the descriptor scheme of the kind.
func (k Kind) String() string {
	switch k {
	case KindUSB:
		return "usb"
	case KindBluetooth:
		return "bt"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Descriptor identifies one physical detector. It is immutable once created.
//
// The zero value is not a valid descriptor; use USB, Bluetooth or ParseDescriptor.
type Descriptor struct {
	kind    Kind
	serial  string
	address string
}

// USB returns a descriptor for a USB attached detector.
// An empty serial matches any single attached detector.
func USB(serial string) Descriptor {
	return Descriptor{kind: KindUSB, serial: strings.TrimSpace(serial)}
}

// Bluetooth returns a descriptor for a detector reachable at the given MAC address.
// The address is normalized to upper case; call Validate to check its format.
func Bluetooth(mac string) Descriptor {
	return Descriptor{kind: KindBluetooth, address: strings.ToUpper(strings.TrimSpace(mac))}
}

// ParseDescriptor parses "usb", "usb:<serial>" or "bt:<MAC>".
func ParseDescriptor(s string) (Descriptor, error) {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(s), ":")

	var d Descriptor
	switch strings.ToLower(scheme) {
	case "usb":
		d = USB(rest)
	case "bt", "ble", "bluetooth":
		d = Bluetooth(rest)
	default:
		return Descriptor{}, fmt.Errorf("%w: unknown scheme %q", ErrInvalidDescriptor, scheme)
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}

	return d, nil
}

// Validate checks the descriptor fields for its kind.
func (d Descriptor) Validate() error {
	switch d.kind {
	case KindUSB:
		return nil
	case KindBluetooth:
		return validateMAC(d.address)
	default:
		return fmt.Errorf("%w: unset kind", ErrInvalidDescriptor)
	}
}

// Kind returns the link type.
func (d Descriptor) Kind() Kind { return d.kind }

// Serial returns the USB serial filter, empty for any device.
func (d Descriptor) Serial() string { return d.serial }

// Address returns the Bluetooth MAC address.
func (d Descriptor) Address() string { return d.address }

// String returns the descriptor in the form accepted by ParseDescriptor.
func (d Descriptor) String() string {
	switch d.kind {
	case KindUSB:
		if d.serial == "" {
			return "usb"
		}
		return "usb:" + d.serial
	case KindBluetooth:
		return "bt:" + d.address
	default:
		return "invalid"
	}
}

func validateMAC(mac string) error {
	if strings.Count(mac, ":") != 5 {
		return fmt.Errorf("%w: MAC address %q must be six colon separated octets", ErrInvalidDescriptor, mac)
	}

	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) != 6 {
		return fmt.Errorf("%w: MAC address %q", ErrInvalidDescriptor, mac)
	}

	return nil
}
