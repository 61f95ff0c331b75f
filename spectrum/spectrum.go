package spectrum

import (
	"errors"
	"fmt"
	"time"
)

// ErrSpectrumFormat indicates a malformed spectrum frame or calibration payload.
var ErrSpectrumFormat = errors.New("spectrum: format error")

// Format selects the count encoding of a spectrum frame.
type Format uint8

const (
	// FormatRaw stores one u32 per channel.
	FormatRaw Format = 0
	// FormatPacked stores runs of variable-width deltas.
	FormatPacked Format = 1
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatPacked:
		return "packed"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// DefaultChannels is the channel count of current detector models.
const DefaultChannels = 1024

// Snapshot is one spectrum read from the device.
//
// A Snapshot is treated as immutable once built; callers must not modify Counts.
type Snapshot struct {
	// Duration is the collection time of the spectrum.
	Duration time.Duration
	// Calibration is the energy calibration in effect when the spectrum was captured.
	Calibration Calibration
	// Counts holds the per-channel counts.
	Counts []uint32
}

// NewSnapshot builds a Snapshot holding a copy of counts.
func NewSnapshot(duration time.Duration, calib Calibration, counts []uint32) *Snapshot {
	c := make([]uint32, len(counts))
	copy(c, counts)

	return &Snapshot{Duration: duration, Calibration: calib, Counts: c}
}

// Channels returns the number of channels.
func (s *Snapshot) Channels() int { return len(s.Counts) }
