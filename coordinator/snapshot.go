package coordinator

import (
	"fmt"
	"time"

	"github.com/arloliu/go-radiacode/databuf"
	"github.com/arloliu/go-radiacode/session"
	"github.com/arloliu/go-radiacode/spectrum"
)

// Snapshot is the latest known state of the device. It is never nulled out by a failure: the
// last good readings are kept and Stale is set instead.
type Snapshot struct {
	// Records holds the most recent record of each kind. The map must not be modified.
	Records map[databuf.Kind]databuf.Record
	// Spectrum is the last spectrum read, nil before the first one.
	Spectrum *spectrum.Snapshot
	// Calibration is the energy calibration in effect.
	Calibration spectrum.Calibration
	// Device is the identity read by the last handshake.
	Device session.DeviceInfo
	// State is the session state.
	State session.State
	// Stale is set when the last poll failed or the session is not Ready.
	Stale bool
	// LastError is the error of the last failed poll.
	LastError error
	// UpdatedAt is the time of the last successful real-time data poll.
	UpdatedAt time.Time
	// SpectrumAt is the time of the last successful spectrum poll.
	SpectrumAt time.Time
}

// DoseRate returns the latest dose rate record.
func (s Snapshot) DoseRate() (databuf.DoseRate, bool) {
	return recordOf[databuf.DoseRate](s.Records, databuf.KindDoseRate)
}

// CountRate returns the latest count rate record.
func (s Snapshot) CountRate() (databuf.CountRate, bool) {
	return recordOf[databuf.CountRate](s.Records, databuf.KindCountRate)
}

// Temperature returns the latest temperature record.
func (s Snapshot) Temperature() (databuf.Temperature, bool) {
	return recordOf[databuf.Temperature](s.Records, databuf.KindTemperature)
}

// Battery returns the latest battery record.
func (s Snapshot) Battery() (databuf.Battery, bool) {
	return recordOf[databuf.Battery](s.Records, databuf.KindBattery)
}

// Accumulated returns the latest accumulated dose record.
func (s Snapshot) Accumulated() (databuf.Accumulated, bool) {
	return recordOf[databuf.Accumulated](s.Records, databuf.KindAccumulated)
}

func recordOf[T databuf.Record](records map[databuf.Kind]databuf.Record, kind databuf.Kind) (T, bool) {
	v, ok := records[kind].(T)
	return v, ok
}

// EventType identifies a StatusEvent.
type EventType uint8

// Status event types.
const (
	// EventStateChanged is published on every session state transition.
	EventStateChanged EventType = iota + 1
	// EventStale is published when polling starts failing.
	EventStale
	// EventRecovered is published when polling succeeds again after EventStale.
	EventRecovered
	// EventAlarm is published for every alarm event record read from the device.
	EventAlarm
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state_changed"
	case EventStale:
		return "stale"
	case EventRecovered:
		return "recovered"
	case EventAlarm:
		return "alarm"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// StatusEvent notifies subscribers of state changes, staleness and device alarms.
type StatusEvent struct {
	Type EventType
	// State is the session state when the event was published.
	State session.State
	// PrevState is the state before the transition, set for EventStateChanged.
	PrevState session.State
	// Err is the failure behind EventStale.
	Err error
	// Alarm is the device event behind EventAlarm.
	Alarm *databuf.Event
	At    time.Time
}
