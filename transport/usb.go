package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/arloliu/go-radiacode/internal/pool"
	"github.com/arloliu/go-radiacode/logger"
)

const (
	usbConfig      = 1
	usbInterface   = 0
	usbAltSetting  = 0
	usbEndpointOut = 1 // 0x01
	usbEndpointIn  = 1 // 0x81

	maxDrainReads = 64
)

// USBTransport talks to a detector over its vendor bulk endpoints.
type USBTransport struct {
	desc  Descriptor
	cfg   *config
	log   logger.Logger
	reasm *Reassembler

	mu      sync.Mutex
	usbCtx  *gousb.Context
	dev     *gousb.Device
	release func()
	out     *gousb.OutEndpoint
	in      *gousb.InEndpoint
}

var _ Transport = (*USBTransport)(nil)

func newUSB(desc Descriptor, cfg *config) *USBTransport {
	return &USBTransport{
		desc:  desc,
		cfg:   cfg,
		log:   cfg.logger.With("transport", "usb", "device", desc.String()),
		reasm: NewReassembler(cfg.maxFrameSize),
	}
}

// Descriptor implements Transport.
func (t *USBTransport) Descriptor() Descriptor { return t.desc }

// Open finds the detector, claims its interface and drains stale bytes from the IN endpoint.
func (t *USBTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return NewError("open", ErrTimeout, err)
	}

	usbCtx := gousb.NewContext()
	devs, err := usbCtx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return uint16(d.Vendor) == t.cfg.vendorID && uint16(d.Product) == t.cfg.productID
	})
	if err != nil && len(devs) == 0 {
		_ = usbCtx.Close()
		return NewError("open", classifyUSBError(err), err)
	}

	dev, err := t.selectDevice(devs)
	if err != nil {
		_ = usbCtx.Close()
		return err
	}

	if err := t.claim(dev); err != nil {
		_ = dev.Close()
		_ = usbCtx.Close()
		return err
	}
	t.usbCtx = usbCtx
	t.dev = dev

	drained := t.drain(ctx)
	t.log.Debug("usb device opened", "drained_bytes", drained)

	return nil
}

// selectDevice keeps the single device matching the serial filter and closes the rest.
func (t *USBTransport) selectDevice(devs []*gousb.Device) (*gousb.Device, error) {
	closeAll := func(keep *gousb.Device) {
		for _, d := range devs {
			if d != keep {
				_ = d.Close()
			}
		}
	}

	if t.desc.Serial() == "" {
		switch len(devs) {
		case 0:
			return nil, NewError("open", ErrDeviceNotFound,
				fmt.Errorf("no device with id %04x:%04x", t.cfg.vendorID, t.cfg.productID))
		case 1:
			return devs[0], nil
		default:
			closeAll(nil)
			return nil, NewError("open", ErrDeviceNotFound,
				fmt.Errorf("%d devices attached, a serial number is required", len(devs)))
		}
	}

	var match *gousb.Device
	for _, d := range devs {
		sn, err := d.SerialNumber()
		if err != nil {
			t.log.Debug("failed to read usb serial number", "error", err)
			continue
		}
		if sn == t.desc.Serial() {
			match = d
			break
		}
	}
	closeAll(match)

	if match == nil {
		return nil, NewError("open", ErrDeviceNotFound, fmt.Errorf("no device with serial %q", t.desc.Serial()))
	}

	return match, nil
}

func (t *USBTransport) claim(dev *gousb.Device) error {
	if err := dev.SetAutoDetach(true); err != nil {
		t.log.Debug("auto detach not supported", "error", err)
	}

	cfg, err := dev.Config(usbConfig)
	if err != nil {
		return NewError("open", classifyUSBError(err), fmt.Errorf("config %d: %w", usbConfig, err))
	}

	intf, err := cfg.Interface(usbInterface, usbAltSetting)
	if err != nil {
		_ = cfg.Close()
		return NewError("open", classifyUSBError(err), fmt.Errorf("claim interface %d: %w", usbInterface, err))
	}

	release := func() {
		intf.Close()
		_ = cfg.Close()
	}

	out, err := intf.OutEndpoint(usbEndpointOut)
	if err != nil {
		release()
		return NewError("open", ErrLinkLost, fmt.Errorf("out endpoint: %w", err))
	}

	in, err := intf.InEndpoint(usbEndpointIn)
	if err != nil {
		release()
		return NewError("open", ErrLinkLost, fmt.Errorf("in endpoint: %w", err))
	}

	t.release = release
	t.out = out
	t.in = in

	return nil
}

// drain reads with a short timeout until the IN endpoint is empty.
func (t *USBTransport) drain(ctx context.Context) int {
	buf := pool.GetReadBuffer()
	defer pool.PutReadBuffer(buf)

	total := 0
	for i := 0; i < maxDrainReads; i++ {
		rctx, cancel := context.WithTimeout(ctx, t.cfg.drainTimeout)
		n, err := t.in.ReadContext(rctx, *buf)
		cancel()
		if err != nil || n == 0 {
			break
		}
		total += n
	}

	return total
}

// Exchange writes req to the OUT endpoint and reads until a complete response frame arrived.
func (t *USBTransport) Exchange(ctx context.Context, req []byte, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return nil, NewError("exchange", ErrLinkLost, ErrNotOpen)
	}

	ectx, cancel := context.WithDeadline(ctx, effectiveDeadline(ctx, timeout))
	defer cancel()

	if _, err := t.out.WriteContext(ectx, req); err != nil {
		return nil, t.ioError(ectx, "write", err)
	}

	t.reasm.Reset()

	buf := pool.GetReadBuffer()
	defer pool.PutReadBuffer(buf)

	empty := 0
	for {
		n, err := t.in.ReadContext(ectx, *buf)
		if err != nil {
			return nil, t.ioError(ectx, "read", err)
		}

		if n == 0 {
			empty++
			if empty >= MaxEmptyReads {
				return nil, NewError("read", ErrLinkLost, fmt.Errorf("%d consecutive empty reads", empty))
			}

			continue
		}
		empty = 0

		frame, err := t.reasm.Feed((*buf)[:n])
		if err != nil {
			return nil, NewError("read", ErrLinkLost, err)
		}
		if frame != nil {
			return frame, nil
		}
	}
}

func (t *USBTransport) ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return NewError(op, ErrTimeout, ctx.Err())
	}

	return NewError(op, classifyUSBError(err), err)
}

// Close releases the interface, the device and the libusb context.
func (t *USBTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return nil
	}

	if t.release != nil {
		t.release()
	}
	err := t.dev.Close()
	if cerr := t.usbCtx.Close(); err == nil {
		err = cerr
	}

	t.dev, t.usbCtx, t.release, t.out, t.in = nil, nil, nil, nil, nil
	t.reasm.Reset()
	t.log.Debug("usb device closed")

	return err
}

func classifyUSBError(err error) error {
	switch {
	case errors.Is(err, gousb.ErrorAccess):
		return ErrPermissionDenied
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.ErrorNotFound),
		errors.Is(err, gousb.TransferNoDevice):
		return ErrDeviceNotFound
	case errors.Is(err, gousb.ErrorTimeout), errors.Is(err, gousb.TransferTimedOut),
		errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return ErrLinkLost
	}
}
