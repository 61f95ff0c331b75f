package spectrum

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func (s *Snapshot) weights() []float64 {
	w := make([]float64, len(s.Counts))
	for i, c := range s.Counts {
		w[i] = float64(c)
	}

	return w
}

// TotalCounts returns the sum of all channel counts.
func (s *Snapshot) TotalCounts() uint64 {
	if len(s.Counts) == 0 {
		return 0
	}

	return uint64(floats.Sum(s.weights()))
}

// CountRate returns the average count rate in counts per second, zero for an empty duration.
func (s *Snapshot) CountRate() float64 {
	sec := s.Duration.Seconds()
	if sec <= 0 {
		return 0
	}

	return float64(s.TotalCounts()) / sec
}

// Energies returns the calibrated energy in keV of every channel.
func (s *Snapshot) Energies() []float64 {
	e := make([]float64, len(s.Counts))
	for i := range e {
		e[i] = s.Calibration.Energy(float64(i))
	}

	return e
}

// MeanEnergy returns the count-weighted mean energy in keV, zero for an empty spectrum.
func (s *Snapshot) MeanEnergy() float64 {
	w := s.weights()
	if len(w) == 0 || floats.Sum(w) == 0 {
		return 0
	}

	return stat.Mean(s.Energies(), w)
}

// EnergyStdDev returns the count-weighted standard deviation of the energy in keV.
// It is zero when fewer than two counts were collected.
func (s *Snapshot) EnergyStdDev() float64 {
	w := s.weights()
	if len(w) == 0 || floats.Sum(w) < 2 {
		return 0
	}

	return stat.StdDev(s.Energies(), w)
}

// Peak returns the channel holding the most counts and its energy. ch is -1 for an empty spectrum.
func (s *Snapshot) Peak() (ch int, energy float64) {
	if len(s.Counts) == 0 {
		return -1, 0
	}

	ch = floats.MaxIdx(s.weights())

	return ch, s.Calibration.Energy(float64(ch))
}
