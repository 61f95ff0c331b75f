package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/go-radiacode/logger"
	"github.com/arloliu/go-radiacode/protocol"
)

// Transport moves opaque frames between the host and one detector.
//
// Exchange is half-duplex: one request, one response. Implementations are not required to be
// safe for concurrent exchanges; callers serialize them.
type Transport interface {
	// Open acquires the physical link. It is bounded by ctx.
	Open(ctx context.Context) error
	// Exchange writes req and returns the complete response frame, waiting at most timeout.
	Exchange(ctx context.Context, req []byte, timeout time.Duration) ([]byte, error)
	// Close releases the link. Closing a closed transport is a no-op.
	Close() error
	// Descriptor returns the descriptor the transport was created for.
	Descriptor() Descriptor
}

// Factory creates an unopened transport for a descriptor.
type Factory func(desc Descriptor, opts ...Option) (Transport, error)

// Defaults for the physical transports.
const (
	DefaultDrainTimeout = 100 * time.Millisecond
	DefaultChunkSize    = 18
	MaxEmptyReads       = 3

	MinChunkSize = 1
	MaxChunkSize = 244

	MinDrainTimeout = 10 * time.Millisecond
	MaxDrainTimeout = 2 * time.Second
)

// USB identifiers of the detector.
const (
	USBVendorID  = 0x0483
	USBProductID = 0xF123
)

type config struct {
	logger       logger.Logger
	drainTimeout time.Duration
	chunkSize    int
	maxFrameSize int
	vendorID     uint16
	productID    uint16
}

func newConfig(opts []Option) (*config, error) {
	cfg := &config{
		logger:       logger.GetLogger(),
		drainTimeout: DefaultDrainTimeout,
		chunkSize:    DefaultChunkSize,
		maxFrameSize: protocol.MaxResponseSize,
		vendorID:     USBVendorID,
		productID:    USBProductID,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option configures a transport.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithLogger sets the logger used by the transport.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *config) error {
		if l == nil {
			return fmt.Errorf("transport: logger is nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithDrainTimeout sets the read timeout used to drain stale bytes after a USB open.
func WithDrainTimeout(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d < MinDrainTimeout || d > MaxDrainTimeout {
			return fmt.Errorf("transport: drain timeout %v out of range [%v, %v]", d, MinDrainTimeout, MaxDrainTimeout)
		}
		cfg.drainTimeout = d

		return nil
	})
}

// WithChunkSize sets the maximum Bluetooth write size.
func WithChunkSize(n int) Option {
	return optFunc(func(cfg *config) error {
		if n < MinChunkSize || n > MaxChunkSize {
			return fmt.Errorf("transport: chunk size %d out of range [%d, %d]", n, MinChunkSize, MaxChunkSize)
		}
		cfg.chunkSize = n

		return nil
	})
}

// WithMaxFrameSize caps the size of a response frame.
func WithMaxFrameSize(n int) Option {
	return optFunc(func(cfg *config) error {
		if n < protocol.ResponseHeaderSize || n > protocol.MaxResponseSize {
			return fmt.Errorf("transport: max frame size %d out of range [%d, %d]",
				n, protocol.ResponseHeaderSize, protocol.MaxResponseSize)
		}
		cfg.maxFrameSize = n

		return nil
	})
}

// WithUSBIDs overrides the USB vendor and product identifiers to match.
func WithUSBIDs(vendor, product uint16) Option {
	return optFunc(func(cfg *config) error {
		if vendor == 0 || product == 0 {
			return fmt.Errorf("transport: USB ids must be non-zero")
		}
		cfg.vendorID = vendor
		cfg.productID = product

		return nil
	})
}

// New creates an unopened transport for desc. It is the default Factory.
func New(desc Descriptor, opts ...Option) (Transport, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	switch desc.Kind() {
	case KindUSB:
		return newUSB(desc, cfg), nil
	case KindBluetooth:
		return newBluetooth(desc, cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrInvalidDescriptor, desc.Kind())
	}
}

// Open creates a transport for desc and opens it.
func Open(ctx context.Context, desc Descriptor, opts ...Option) (Transport, error) {
	t, err := New(desc, opts...)
	if err != nil {
		return nil, err
	}

	if err := t.Open(ctx); err != nil {
		return nil, err
	}

	return t, nil
}

// effectiveDeadline returns the earlier of now+timeout and the ctx deadline.
func effectiveDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}

	return deadline
}
