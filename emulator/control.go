package emulator

import (
	"math"
	"time"

	"github.com/arloliu/go-radiacode/databuf"
	"github.com/arloliu/go-radiacode/protocol"
	"github.com/arloliu/go-radiacode/spectrum"
)

// Emit queues records for the next DATA_BUF response.
func (d *Device) Emit(records ...databuf.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, records...)
}

// EmitRaw appends raw bytes after the records of the next DATA_BUF response, for example a tag
// the decoder does not know.
func (d *Device) EmitRaw(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.trailer = append(d.trailer, b...)
}

// SetSpectrum replaces the current spectrum counts and collection time.
// The channel count must match the device channel count.
func (d *Device) SetSpectrum(duration time.Duration, counts []uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.collected = duration
	copy(d.counts, counts)
}

// FailOpen makes every following Open return err. A nil err restores normal opens.
func (d *Device) FailOpen(err error) {
	if err == nil {
		d.failOpen.Store(nil)
		return
	}
	d.failOpen.Store(&err)
}

// DropAfter drops the link once n more exchanges succeeded. A negative n disables dropping.
func (d *Device) DropAfter(n int64) {
	if n < 0 {
		d.dropAfter.Store(-1)
		return
	}
	d.dropAfter.Store(d.exchanges.Load() + n)
}

// SetLatency delays every response. A latency above the exchange timeout yields a timeout error.
func (d *Device) SetLatency(lat time.Duration) {
	d.latency.Store(int64(lat))
}

// SkewCalibration adds delta to the A1 coefficient reported by GET_CALIB.
func (d *Device) SkewCalibration(delta float32) {
	d.calibSkew.Store(math.Float32bits(delta))
}

// ForceStatus makes every request with op fail with status.
func (d *Device) ForceStatus(op protocol.Opcode, status protocol.Status) {
	d.forced.Store(op, status)
}

// ClearStatus removes a forced status for op.
func (d *Device) ClearStatus(op protocol.Opcode) {
	d.forced.Delete(op)
}

// OnExchange registers fn to be called with the opcode of every decoded request.
func (d *Device) OnExchange(fn func(protocol.Opcode)) {
	if fn == nil {
		d.onExchange.Store(nil)
		return
	}
	d.onExchange.Store(&fn)
}

// Register returns the last payload written with a configuration opcode.
func (d *Device) Register(op protocol.Opcode) ([]byte, bool) {
	return d.registers.Load(op)
}

// Calibration returns the stored energy calibration.
func (d *Device) Calibration() spectrum.Calibration {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calibration
}

// AlarmLimits returns the stored alarm thresholds.
func (d *Device) AlarmLimits() protocol.AlarmLimits {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.alarmLimits
}

// Clock returns the time last set with SET_TIME.
func (d *Device) Clock() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.clock
}

// IsOpen reports whether the emulated link is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.open
}

// Exchanges returns the number of exchanges attempted.
func (d *Device) Exchanges() int64 { return d.exchanges.Load() }

// Opens returns the number of successful opens.
func (d *Device) Opens() int64 { return d.opens.Load() }
