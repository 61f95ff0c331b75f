package emulator

import (
	"github.com/arloliu/go-radiacode/protocol"
	"github.com/arloliu/go-radiacode/spectrum"
)

type config struct {
	serial      string
	boot        protocol.FirmwareVersion
	target      protocol.FirmwareVersion
	channels    int
	format      spectrum.Format
	calibration spectrum.Calibration
	alarmLimits protocol.AlarmLimits
	simulate    bool
	doseRate    float64
	seed        uint64
}

func defaultConfig() config {
	return config{
		serial:      "RC-102-000001",
		boot:        protocol.FirmwareVersion{Major: 4, Minor: 0, Build: "Jan 10 2024"},
		target:      protocol.FirmwareVersion{Major: 4, Minor: 12, Build: "Mar 02 2025"},
		channels:    spectrum.DefaultChannels,
		format:      spectrum.FormatPacked,
		calibration: spectrum.Calibration{A0: -5.2, A1: 2.42, A2: 0.00042},
		alarmLimits: protocol.AlarmLimits{
			CountRate1: 200, CountRate2: 1000,
			DoseRate1: 40, DoseRate2: 120,
			Dose1: 10000, Dose2: 100000,
		},
		doseRate:    0.12,
		seed:        1,
	}
}

// Option configures an emulated device.
type Option func(*config)

// WithSerial sets the reported serial number.
func WithSerial(serial string) Option {
	return func(c *config) { c.serial = serial }
}

// WithFirmware sets the reported boot and target firmware versions.
func WithFirmware(boot, target protocol.FirmwareVersion) Option {
	return func(c *config) { c.boot, c.target = boot, target }
}

// WithChannels sets the spectrum channel count.
func WithChannels(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.channels = n
		}
	}
}

// WithSpectrumFormat sets the encoding of spectrum responses.
func WithSpectrumFormat(f spectrum.Format) Option {
	return func(c *config) { c.format = f }
}

// WithCalibration sets the initial energy calibration.
func WithCalibration(cal spectrum.Calibration) Option {
	return func(c *config) { c.calibration = cal }
}

// WithAlarmLimits sets the initial alarm thresholds.
func WithAlarmLimits(limits protocol.AlarmLimits) Option {
	return func(c *config) { c.alarmLimits = limits }
}

// WithSimulation makes the device synthesize readings around the given dose rate in µSv/h
// whenever its data buffer is empty, and accumulate counts into its spectrum on every read.
func WithSimulation(doseRate float64) Option {
	return func(c *config) {
		c.simulate = true
		if doseRate > 0 {
			c.doseRate = doseRate
		}
	}
}

// WithSeed seeds the simulation's random source.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}
