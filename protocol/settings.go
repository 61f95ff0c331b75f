package protocol

import (
	"fmt"
	"math"
	"strings"

	"github.com/arloliu/go-radiacode/bytesbuf"
)

// AlarmLimitsSize is the size of an alarm limits payload.
const AlarmLimitsSize = 26

// AlarmLimits holds the two-level alarm thresholds of the device.
//
// Count rate limits are in counts per 10 seconds, dose rate limits in µR/h and dose limits in µR,
// whatever display units are selected.
type AlarmLimits struct {
	CountRate1   float32
	CountRate2   float32
	CountUnitCPM bool
	DoseRate1    float32
	DoseRate2    float32
	Dose1        float32
	Dose2        float32
	DoseUnitR    bool
}

// Validate checks that every limit is a finite, non-negative number and that no level-1 limit
// exceeds its level-2 limit.
func (l AlarmLimits) Validate() error {
	pairs := []struct {
		name   string
		l1, l2 float32
	}{
		{"count rate", l.CountRate1, l.CountRate2},
		{"dose rate", l.DoseRate1, l.DoseRate2},
		{"dose", l.Dose1, l.Dose2},
	}
	for _, p := range pairs {
		for _, v := range []float32{p.l1, p.l2} {
			if v < 0 || math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("%s limit %v must be a finite non-negative number", p.name, v)
			}
		}
		if p.l1 > p.l2 {
			return fmt.Errorf("%s level 1 limit %v exceeds level 2 limit %v", p.name, p.l1, p.l2)
		}
	}

	return nil
}

// Bytes encodes the limits in device order: count rate levels, count unit, dose rate levels,
// dose levels and dose unit.
func (l AlarmLimits) Bytes() []byte {
	w := bytesbuf.NewWriter()
	_ = w.WriteF32s(l.CountRate1, l.CountRate2)
	_ = w.WriteBytes(BoolPayload(l.CountUnitCPM))
	_ = w.WriteF32s(l.DoseRate1, l.DoseRate2, l.Dose1, l.Dose2)
	_ = w.WriteBytes(BoolPayload(l.DoseUnitR))

	return w.Bytes()
}

// ParseAlarmLimits decodes an alarm limits payload.
func ParseAlarmLimits(payload []byte) (AlarmLimits, error) {
	var l AlarmLimits
	if len(payload) != AlarmLimitsSize {
		return l, fmt.Errorf("%w: alarm limits need %d bytes, got %d", ErrPayloadSize, AlarmLimitsSize, len(payload))
	}

	r := bytesbuf.NewReader(payload)
	cr, _ := r.ReadF32s(2)
	cpm, _ := r.ReadU8()
	rest, _ := r.ReadF32s(4)
	unitR, _ := r.ReadU8()

	l.CountRate1, l.CountRate2 = cr[0], cr[1]
	l.CountUnitCPM = cpm != 0
	l.DoseRate1, l.DoseRate2, l.Dose1, l.Dose2 = rest[0], rest[1], rest[2], rest[3]
	l.DoseUnitR = unitR != 0

	return l, nil
}

// CtrlFlags selects which events trigger the sound or the vibration.
type CtrlFlags uint8

// Control flags.
const (
	CtrlButtons CtrlFlags = 1 << iota
	CtrlClicks
	CtrlDoseRateAlarm1
	CtrlDoseRateAlarm2
	CtrlDoseRateOutOfScale
	CtrlDoseAlarm1
	CtrlDoseAlarm2
	CtrlDoseOutOfScale
)

var ctrlNames = []string{
	"buttons", "clicks", "dose_rate_alarm1", "dose_rate_alarm2",
	"dose_rate_out_of_scale", "dose_alarm1", "dose_alarm2", "dose_out_of_scale",
}

// Has reports whether every flag of f2 is set in f.
func (f CtrlFlags) Has(f2 CtrlFlags) bool { return f&f2 == f2 }

// String returns the set flags joined by '|'.
func (f CtrlFlags) String() string {
	if f == 0 {
		return "none"
	}

	var names []string
	for i, name := range ctrlNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}

	return strings.Join(names, "|")
}

// DisplayDirection is the display orientation.
type DisplayDirection uint8

// Display orientations.
const (
	DisplayAuto DisplayDirection = iota
	DisplayRight
	DisplayLeft
)

// Valid reports whether d is a defined orientation.
func (d DisplayDirection) Valid() bool { return d <= DisplayLeft }

func (d DisplayDirection) String() string {
	switch d {
	case DisplayAuto:
		return "auto"
	case DisplayRight:
		return "right"
	case DisplayLeft:
		return "left"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}
