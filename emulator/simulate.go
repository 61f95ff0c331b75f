package emulator

import (
	"math"
	"time"

	"github.com/arloliu/go-radiacode/databuf"
)

const (
	// counts per second per µSv/h for a CsI(Tl) crystal of the emulated size
	cpsPerDoseRate    = 75.0
	simStep           = time.Second
	spectrumStep      = time.Minute
	peakEnergy        = 661.7 // keV, Cs-137
	peakSigma         = 24.0
	peakFraction      = 0.5
	maxEventsPerFetch = 200_000
)

// simulateLocked appends one tick worth of readings to the data buffer.
func (d *Device) simulateLocked() {
	d.tick++

	dose := d.cfg.doseRate * (1 + 0.1*d.rng.NormFloat64())
	dose = math.Max(dose, 0.01)
	cps := dose * cpsPerDoseRate * (1 + 0.05*d.rng.NormFloat64())
	cps = math.Max(cps, 0)
	d.accumulated += float32(dose * simStep.Hours())

	d.pending = append(d.pending,
		databuf.DoseRate{Timestamp: d.tick, Value: float32(dose), ErrorPercent: 15.5, HasError: true},
		databuf.CountRate{Timestamp: d.tick, Value: float32(cps), ErrorPercent: 4.2, HasError: true},
		databuf.Temperature{Timestamp: d.tick, Celsius: math.Round((23.5+d.rng.NormFloat64()*0.2)*100) / 100},
		databuf.Battery{Timestamp: d.tick, Percent: 87},
		databuf.Accumulated{Timestamp: d.tick, Dose: d.accumulated},
	)
}

// accumulateLocked adds one spectrum step worth of detector events.
func (d *Device) accumulateLocked() {
	events := int(d.cfg.doseRate * cpsPerDoseRate * spectrumStep.Seconds())
	events = min(events, maxEventsPerFetch)

	channels := len(d.counts)
	for range events {
		var energy float64
		if d.rng.Float64() < peakFraction {
			energy = peakEnergy + peakSigma*d.rng.NormFloat64()
		} else {
			energy = 30 + d.rng.ExpFloat64()*250
		}

		ch := d.channelOf(energy)
		if ch < 0 || ch >= channels {
			continue
		}
		d.counts[ch]++
		d.accum[ch]++
	}

	d.collected += spectrumStep
}

// channelOf inverts the calibration for the energy in keV.
func (d *Device) channelOf(energy float64) int {
	a0, a1, a2 := float64(d.calibration.A0), float64(d.calibration.A1), float64(d.calibration.A2)
	if a2 == 0 {
		if a1 == 0 {
			return -1
		}
		return int((energy - a0) / a1)
	}

	disc := a1*a1 - 4*a2*(a0-energy)
	if disc < 0 {
		return -1
	}

	return int((-a1 + math.Sqrt(disc)) / (2 * a2))
}
