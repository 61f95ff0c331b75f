package emulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-radiacode/databuf"
	"github.com/arloliu/go-radiacode/protocol"
	"github.com/arloliu/go-radiacode/spectrum"
	"github.com/arloliu/go-radiacode/transport"
)

// Device is an in-memory detector implementing transport.Transport.
//
// It answers every opcode of the device protocol, keeps the written configuration in a register
// map and supports fault injection: failing opens, dropping the link after a number of
// exchanges, forced status codes, response latency and a skewed calibration readback.
type Device struct {
	desc transport.Descriptor
	cfg  config

	mu          sync.Mutex
	open        bool
	rng         *rand.Rand
	tick        uint32
	clock       time.Time
	calibration spectrum.Calibration
	counts      []uint32
	accum       []uint32
	collected   time.Duration
	accumulated float32
	pending     []databuf.Record
	trailer     []byte
	alarmLimits protocol.AlarmLimits

	registers *xsync.MapOf[protocol.Opcode, []byte]
	forced    *xsync.MapOf[protocol.Opcode, protocol.Status]

	failOpen   atomic.Pointer[error]
	dropAfter  atomic.Int64
	latency    atomic.Int64
	calibSkew  atomic.Uint32
	exchanges  atomic.Int64
	opens      atomic.Int64
	onExchange atomic.Pointer[func(protocol.Opcode)]
}

var _ transport.Transport = (*Device)(nil)

// New creates an emulated device.
func New(opts ...Option) *Device {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Device{
		desc:        transport.USB(cfg.serial),
		cfg:         cfg,
		rng:         rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9E3779B97F4A7C15)),
		calibration: cfg.calibration,
		alarmLimits: cfg.alarmLimits,
		counts:      make([]uint32, cfg.channels),
		accum:       make([]uint32, cfg.channels),
		registers:   xsync.NewMapOf[protocol.Opcode, []byte](),
		forced:      xsync.NewMapOf[protocol.Opcode, protocol.Status](),
	}
	d.dropAfter.Store(-1)

	return d
}

// Factory returns a transport.Factory that hands out this device, as if it were re-plugged.
func (d *Device) Factory() transport.Factory {
	return func(_ transport.Descriptor, _ ...transport.Option) (transport.Transport, error) {
		return d, nil
	}
}

// Descriptor implements transport.Transport.
func (d *Device) Descriptor() transport.Descriptor { return d.desc }

// Open implements transport.Transport.
func (d *Device) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return transport.NewError("open", transport.ErrTimeout, err)
	}
	if errp := d.failOpen.Load(); errp != nil {
		return *errp
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.open = true
	d.opens.Add(1)

	return nil
}

// Close implements transport.Transport.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.open = false

	return nil
}

// Exchange implements transport.Transport.
func (d *Device) Exchange(ctx context.Context, req []byte, timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	open := d.open
	d.mu.Unlock()
	if !open {
		return nil, transport.NewError("exchange", transport.ErrLinkLost, transport.ErrNotOpen)
	}

	n := d.exchanges.Add(1)
	if limit := d.dropAfter.Load(); limit >= 0 && n > limit {
		_ = d.Close()
		return nil, transport.NewError("read", transport.ErrLinkLost, errors.New("emulated link drop"))
	}

	if lat := time.Duration(d.latency.Load()); lat > 0 {
		wait := min(lat, timeout)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, transport.NewError("read", transport.ErrTimeout, ctx.Err())
		}
		if lat > timeout {
			return nil, transport.NewError("read", transport.ErrTimeout, fmt.Errorf("no response within %v", timeout))
		}
	}

	r, err := protocol.DecodeRequest(req)
	if err != nil {
		return nil, transport.NewError("write", transport.ErrLinkLost, err)
	}

	if fn := d.onExchange.Load(); fn != nil {
		(*fn)(r.Opcode)
	}

	rsp := d.handle(r)
	if status, ok := d.forced.Load(r.Opcode); ok {
		rsp = &protocol.Response{Opcode: r.Opcode, Status: status}
	}

	return rsp.Encode()
}

func (d *Device) handle(req *protocol.Request) *protocol.Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	ok := func(payload []byte) *protocol.Response {
		return &protocol.Response{Opcode: req.Opcode, Status: protocol.StatusOK, Payload: payload}
	}
	fail := func(status protocol.Status) *protocol.Response {
		return &protocol.Response{Opcode: req.Opcode, Status: status}
	}

	switch req.Opcode {
	case protocol.OpSetExchange:
		if string(req.Payload) != string(protocol.ExchangePayload) {
			return fail(protocol.StatusInvalidArgument)
		}
		return ok(nil)

	case protocol.OpGetVersion:
		return ok(protocol.EncodeVersion(d.cfg.boot, d.cfg.target))

	case protocol.OpGetSerial:
		return ok(protocol.EncodeString(d.cfg.serial))

	case protocol.OpSetTime:
		t, err := protocol.ParseTime(req.Payload)
		if err != nil {
			return fail(protocol.StatusInvalidArgument)
		}
		d.clock = t
		return ok(nil)

	case protocol.OpDataBuf:
		if len(d.pending) == 0 && d.cfg.simulate {
			d.simulateLocked()
		}
		payload, err := databuf.Encode(d.pending)
		if err != nil {
			return fail(protocol.StatusFailure)
		}
		payload = append(payload, d.trailer...)
		d.pending, d.trailer = nil, nil
		return ok(payload)

	case protocol.OpSpectrum, protocol.OpSpectrumAccum:
		if d.cfg.simulate {
			d.accumulateLocked()
		}
		counts := d.counts
		if req.Opcode == protocol.OpSpectrumAccum {
			counts = d.accum
		}
		snap := spectrum.NewSnapshot(d.collected, d.calibration, counts)
		payload, err := spectrum.Encode(snap, d.cfg.format)
		if err != nil {
			return fail(protocol.StatusFailure)
		}
		return ok(payload)

	case protocol.OpGetCalibration:
		c := d.calibration
		c.A1 += math.Float32frombits(d.calibSkew.Load())
		return ok(c.Bytes())

	case protocol.OpSetCalibration:
		c, err := spectrum.DecodeCalibration(req.Payload)
		if err != nil {
			return fail(protocol.StatusInvalidArgument)
		}
		d.calibration = c
		return ok(nil)

	case protocol.OpDoseReset:
		d.accumulated = 0
		d.pending = append(d.pending, databuf.Accumulated{Timestamp: d.tick})
		return ok(nil)

	case protocol.OpSpectrumReset:
		clear(d.counts)
		d.collected = 0
		return ok(nil)

	case protocol.OpSetBrightness:
		v, err := protocol.ParseU8(req.Payload)
		if err != nil || v > 9 {
			return fail(protocol.StatusInvalidArgument)
		}
		d.registers.Store(req.Opcode, req.Payload)
		return ok(nil)

	case protocol.OpSetSound, protocol.OpSetVibration, protocol.OpSetDeviceOn, protocol.OpSetLanguage:
		if _, err := protocol.ParseU8(req.Payload); err != nil {
			return fail(protocol.StatusInvalidArgument)
		}
		d.registers.Store(req.Opcode, req.Payload)
		return ok(nil)

	case protocol.OpSetSoundCtrl, protocol.OpSetVibroCtrl:
		if _, err := protocol.ParseU8(req.Payload); err != nil {
			return fail(protocol.StatusInvalidArgument)
		}
		d.registers.Store(req.Opcode, req.Payload)
		return ok(nil)

	case protocol.OpSetDisplayDirection:
		v, err := protocol.ParseU8(req.Payload)
		if err != nil || !protocol.DisplayDirection(v).Valid() {
			return fail(protocol.StatusInvalidArgument)
		}
		d.registers.Store(req.Opcode, req.Payload)
		return ok(nil)

	case protocol.OpGetAlarmLimits:
		return ok(d.alarmLimits.Bytes())

	case protocol.OpSetAlarmLimits:
		limits, err := protocol.ParseAlarmLimits(req.Payload)
		if err != nil || limits.Validate() != nil {
			return fail(protocol.StatusInvalidArgument)
		}
		d.alarmLimits = limits
		return ok(nil)

	case protocol.OpSetDisplayOffTime:
		if _, err := protocol.ParseU16(req.Payload); err != nil {
			return fail(protocol.StatusInvalidArgument)
		}
		d.registers.Store(req.Opcode, req.Payload)
		return ok(nil)

	default:
		return fail(protocol.StatusUnknownCommand)
	}
}
