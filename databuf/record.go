package databuf

import "fmt"

// Kind identifies the variant of a Record.
type Kind uint8

// Record kinds.
const (
	KindDoseRate Kind = iota + 1
	KindCountRate
	KindTemperature
	KindBattery
	KindFlags
	KindAccumulated
	KindEvent
	KindRawSamples
)

var kindNames = [...]string{
	KindDoseRate:    "dose_rate",
	KindCountRate:   "count_rate",
	KindTemperature: "temperature",
	KindBattery:     "battery",
	KindFlags:       "flags",
	KindAccumulated: "accumulated",
	KindEvent:       "event",
	KindRawSamples:  "raw_samples",
}

// String returns the snake_case kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Record is one decoded data-buffer entry.
//
// The concrete types are DoseRate, CountRate, Temperature, Battery, Flags, Accumulated, Event
// and RawSamples. Tick returns the device-relative timestamp, a monotonic device counter.
type Record interface {
	Kind() Kind
	Tick() uint32
}

// DoseRate is the ambient dose rate in µSv/h.
type DoseRate struct {
	Timestamp uint32
	Value     float32
	// ErrorPercent is the statistical error in percent; valid when HasError is set.
	ErrorPercent float64
	HasError     bool
}

// CountRate is the detector count rate in counts per second.
type CountRate struct {
	Timestamp    uint32
	Value        float32
	ErrorPercent float64
	HasError     bool
}

// Temperature is the device temperature in °C.
type Temperature struct {
	Timestamp uint32
	Celsius   float64
}

// Battery is the remaining battery charge in percent.
type Battery struct {
	Timestamp uint32
	Percent   float64
}

// Flags is the device status bitset.
type Flags struct {
	Timestamp uint32
	Bits      uint16
}

// Accumulated is the accumulated dose in µSv since the last dose reset.
type Accumulated struct {
	Timestamp uint32
	Dose      float32
}

// Event is an alarm or device event.
type Event struct {
	Timestamp uint32
	ID        EventID
	Param     uint8
	Flags     uint16
}

// RawSamples is an opaque length-prefixed raw data block.
type RawSamples struct {
	Timestamp uint32
	Data      []byte
}

func (DoseRate) Kind() Kind    { return KindDoseRate }
func (CountRate) Kind() Kind   { return KindCountRate }
func (Temperature) Kind() Kind { return KindTemperature }
func (Battery) Kind() Kind     { return KindBattery }
func (Flags) Kind() Kind       { return KindFlags }
func (Accumulated) Kind() Kind { return KindAccumulated }
func (Event) Kind() Kind       { return KindEvent }
func (RawSamples) Kind() Kind  { return KindRawSamples }

func (r DoseRate) Tick() uint32    { return r.Timestamp }
func (r CountRate) Tick() uint32   { return r.Timestamp }
func (r Temperature) Tick() uint32 { return r.Timestamp }
func (r Battery) Tick() uint32     { return r.Timestamp }
func (r Flags) Tick() uint32       { return r.Timestamp }
func (r Accumulated) Tick() uint32 { return r.Timestamp }
func (r Event) Tick() uint32       { return r.Timestamp }
func (r RawSamples) Tick() uint32  { return r.Timestamp }

// EventID identifies the type of an Event record.
type EventID uint8

// Device events.
const (
	EventPowerOff EventID = iota
	EventPowerOn
	EventLowBattery
	EventChargeStart
	EventChargeStop
	EventDoseRateAlarm1
	EventDoseRateAlarm2
	EventDoseRateOutOfScale
	EventDoseAlarm1
	EventDoseAlarm2
	EventDoseOutOfScale
	EventTemperatureTooLow
	EventTemperatureTooHigh
)

var eventNames = [...]string{
	EventPowerOff:           "power_off",
	EventPowerOn:            "power_on",
	EventLowBattery:         "low_battery",
	EventChargeStart:        "charge_start",
	EventChargeStop:         "charge_stop",
	EventDoseRateAlarm1:     "dose_rate_alarm1",
	EventDoseRateAlarm2:     "dose_rate_alarm2",
	EventDoseRateOutOfScale: "dose_rate_out_of_scale",
	EventDoseAlarm1:         "dose_alarm1",
	EventDoseAlarm2:         "dose_alarm2",
	EventDoseOutOfScale:     "dose_out_of_scale",
	EventTemperatureTooLow:  "temperature_too_low",
	EventTemperatureTooHigh: "temperature_too_high",
}

// String returns the snake_case event name.
func (id EventID) String() string {
	if int(id) < len(eventNames) {
		return eventNames[id]
	}

	return fmt.Sprintf("event(%d)", uint8(id))
}

// IsAlarm reports whether the event is a dose, dose rate or temperature alarm.
func (id EventID) IsAlarm() bool {
	return id >= EventDoseRateAlarm1 && id <= EventTemperatureTooHigh
}
