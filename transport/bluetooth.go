//go:build !darwin

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"tinygo.org/x/bluetooth"

	"github.com/arloliu/go-radiacode/internal/pool"
	"github.com/arloliu/go-radiacode/logger"
)

// GATT identifiers of the detector's vendor service.
const (
	bleServiceUUID = "e63215e5-7003-49d8-96b0-b024798fb901"
	bleWriteUUID   = "e63215e6-7003-49d8-96b0-b024798fb901"
	bleNotifyUUID  = "e63215e7-7003-49d8-96b0-b024798fb901"

	bleNotifyQueueSize = 64
)

var (
	adapterOnce sync.Once
	adapterErr  error

	// disconnect watchers keyed by upper-case MAC address
	linkWatchers = xsync.NewMapOf[string, chan struct{}]()
)

func enableAdapter() error {
	adapterOnce.Do(func() {
		adapterErr = bluetooth.DefaultAdapter.Enable()
		if adapterErr != nil {
			return
		}
		bluetooth.DefaultAdapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			if lost, ok := linkWatchers.LoadAndDelete(strings.ToUpper(device.Address.String())); ok {
				close(lost)
			}
		})
	})

	return adapterErr
}

// BluetoothTransport talks to a detector over its BLE vendor service.
//
// Requests are written in chunks without response; the response arrives as a series of
// notifications that are reassembled into one frame.
type BluetoothTransport struct {
	desc  Descriptor
	cfg   *config
	log   logger.Logger
	reasm *Reassembler

	mu     sync.Mutex
	open   bool
	device bluetooth.Device
	write  bluetooth.DeviceCharacteristic
	notify *notifyQueue
	lost   chan struct{}
}

var _ Transport = (*BluetoothTransport)(nil)

func newBluetooth(desc Descriptor, cfg *config) *BluetoothTransport {
	return &BluetoothTransport{
		desc:  desc,
		cfg:   cfg,
		log:   cfg.logger.With("transport", "bluetooth", "device", desc.String()),
		reasm: NewReassembler(cfg.maxFrameSize),
	}
}

// Descriptor implements Transport.
func (t *BluetoothTransport) Descriptor() Descriptor { return t.desc }

type connectResult struct {
	device bluetooth.Device
	err    error
}

// Open connects to the MAC address, discovers the vendor service and subscribes to notifications.
func (t *BluetoothTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open {
		return nil
	}

	if err := enableAdapter(); err != nil {
		return NewError("open", classifyBLEError(err), fmt.Errorf("enable adapter: %w", err))
	}

	mac, err := bluetooth.ParseMAC(t.desc.Address())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	addr := bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}

	resultCh := make(chan connectResult, 1)
	go func() {
		dev, err := bluetooth.DefaultAdapter.Connect(addr, bluetooth.ConnectionParams{})
		resultCh <- connectResult{device: dev, err: err}
	}()

	var res connectResult
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		go func() {
			if late := <-resultCh; late.err == nil {
				_ = late.device.Disconnect()
			}
		}()

		return NewError("open", ErrTimeout, ctx.Err())
	}
	if res.err != nil {
		return NewError("open", classifyBLEError(res.err), res.err)
	}

	if err := t.setup(res.device); err != nil {
		_ = res.device.Disconnect()
		return err
	}

	t.device = res.device
	t.open = true
	t.log.Debug("bluetooth device connected")

	return nil
}

func (t *BluetoothTransport) setup(dev bluetooth.Device) error {
	svcUUID, _ := bluetooth.ParseUUID(bleServiceUUID)
	writeUUID, _ := bluetooth.ParseUUID(bleWriteUUID)
	notifyUUID, _ := bluetooth.ParseUUID(bleNotifyUUID)

	svcs, err := dev.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return NewError("open", classifyBLEError(err), fmt.Errorf("discover services: %w", err))
	}
	if len(svcs) == 0 {
		return NewError("open", ErrDeviceNotFound, errors.New("vendor service not found"))
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{writeUUID, notifyUUID})
	if err != nil {
		return NewError("open", ErrLinkLost, fmt.Errorf("discover characteristics: %w", err))
	}

	var write, notify *bluetooth.DeviceCharacteristic
	for i := range chars {
		switch chars[i].UUID() {
		case writeUUID:
			write = &chars[i]
		case notifyUUID:
			notify = &chars[i]
		}
	}
	if write == nil || notify == nil {
		return NewError("open", ErrDeviceNotFound, errors.New("vendor characteristics not found"))
	}

	queue := newNotifyQueue(bleNotifyQueueSize, t.log)
	err = notify.EnableNotifications(queue.push)
	if err != nil {
		return NewError("open", ErrLinkLost, fmt.Errorf("enable notifications: %w", err))
	}

	lost := make(chan struct{})
	linkWatchers.Store(t.desc.Address(), lost)

	t.write = *write
	t.notify = queue
	t.lost = lost

	return nil
}

// Exchange writes req in chunks and waits for the reassembled response.
func (t *BluetoothTransport) Exchange(ctx context.Context, req []byte, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return nil, NewError("exchange", ErrLinkLost, ErrNotOpen)
	}

	// late notifications of an abandoned exchange
	t.notify.reset()
	t.reasm.Reset()

	for off := 0; off < len(req); off += t.cfg.chunkSize {
		end := min(off+t.cfg.chunkSize, len(req))
		if _, err := t.write.WriteWithoutResponse(req[off:end]); err != nil {
			return nil, NewError("write", classifyBLEError(err), err)
		}
	}

	timer := pool.AcquireTimer(time.Until(effectiveDeadline(ctx, timeout)))
	defer pool.ReleaseTimer(timer)

	for {
		select {
		case data := <-t.notify.ch:
			frame, err := t.reasm.Feed(data)
			if err != nil {
				return nil, NewError("read", ErrLinkLost, err)
			}
			if frame != nil {
				return frame, nil
			}
		case <-t.notify.overflow:
			return nil, NewError("read", ErrLinkLost, fmt.Errorf("%w: %d chunks dropped", ErrNotifyOverflow, t.notify.Dropped()))
		case <-t.lost:
			return nil, NewError("read", ErrLinkLost, errors.New("device disconnected"))
		case <-timer.C:
			return nil, NewError("read", ErrTimeout, fmt.Errorf("no response within %v", timeout))
		case <-ctx.Done():
			return nil, NewError("read", ErrTimeout, ctx.Err())
		}
	}
}

// DroppedNotifications returns the number of response chunks dropped since the last open.
func (t *BluetoothTransport) DroppedNotifications() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.notify == nil {
		return 0
	}

	return t.notify.Dropped()
}

// Close disconnects from the device.
func (t *BluetoothTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return nil
	}

	linkWatchers.Delete(t.desc.Address())
	err := t.device.Disconnect()

	t.open = false
	t.notify = nil
	t.lost = nil
	t.reasm.Reset()
	t.log.Debug("bluetooth device disconnected")

	return err
}

func classifyBLEError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "accessdenied"),
		strings.Contains(msg, "not authorized"):
		return ErrPermissionDenied
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ErrTimeout
	case strings.Contains(msg, "not found"), strings.Contains(msg, "unknown object"),
		strings.Contains(msg, "does not exist"):
		return ErrDeviceNotFound
	default:
		return ErrLinkLost
	}
}
