package coordinator

import (
	"context"
	"time"

	"github.com/arloliu/go-radiacode/protocol"
	"github.com/arloliu/go-radiacode/session"
	"github.com/arloliu/go-radiacode/spectrum"
)

// ResetDose resets the accumulated dose.
func (c *Coordinator) ResetDose(ctx context.Context) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.ResetDose(ctx)
	})
}

// ResetSpectrum resets the current spectrum.
func (c *Coordinator) ResetSpectrum(ctx context.Context) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.ResetSpectrum(ctx)
	})
}

// SetBrightness sets the display brightness.
func (c *Coordinator) SetBrightness(ctx context.Context, level uint8) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SetBrightness(ctx, level)
	})
}

// SetSound enables or disables the sound.
func (c *Coordinator) SetSound(ctx context.Context, enabled bool) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SetSound(ctx, enabled)
	})
}

// SetVibration enables or disables the vibration.
func (c *Coordinator) SetVibration(ctx context.Context, enabled bool) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SetVibration(ctx, enabled)
	})
}

// SetLanguage sets the UI language.
func (c *Coordinator) SetLanguage(ctx context.Context, lang session.Language) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SetLanguage(ctx, lang)
	})
}

// SetDisplayOffTime sets the display auto-off delay.
func (c *Coordinator) SetDisplayOffTime(ctx context.Context, d time.Duration) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SetDisplayOffTime(ctx, d)
	})
}

// SetDeviceOn switches the device on or off.
func (c *Coordinator) SetDeviceOn(ctx context.Context, on bool) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SetDeviceOn(ctx, on)
	})
}

// SyncTime sets the device clock to the local time.
func (c *Coordinator) SyncTime(ctx context.Context) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SyncTime(ctx)
	})
}

// Calibration reads the energy calibration and records it in the snapshot.
func (c *Coordinator) Calibration(ctx context.Context) (spectrum.Calibration, error) {
	return Query(ctx, c, func(ctx context.Context, s *session.Session) (spectrum.Calibration, error) {
		calib, err := s.Calibration(ctx)
		if err != nil {
			return calib, err
		}
		c.update(func(snap *Snapshot) { snap.Calibration = calib })

		return calib, nil
	})
}

// SetCalibration writes and verifies the energy calibration and records it in the snapshot.
func (c *Coordinator) SetCalibration(ctx context.Context, calib spectrum.Calibration) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		if err := s.SetCalibration(ctx, calib); err != nil {
			return err
		}
		c.update(func(snap *Snapshot) { snap.Calibration = calib })

		return nil
	})
}

// RefreshSpectrum reads the current spectrum ahead of the slow tick and records it in the snapshot.
func (c *Coordinator) RefreshSpectrum(ctx context.Context) (*spectrum.Snapshot, error) {
	return Query(ctx, c, func(ctx context.Context, s *session.Session) (*spectrum.Snapshot, error) {
		snap, err := s.Spectrum(ctx)
		if err != nil {
			return nil, err
		}

		now := time.Now()
		c.update(func(cur *Snapshot) {
			cur.Spectrum = snap
			cur.Calibration = snap.Calibration
			cur.SpectrumAt = now
		})

		return snap, nil
	})
}

// AccumulatedSpectrum reads the long-term accumulated spectrum.
func (c *Coordinator) AccumulatedSpectrum(ctx context.Context) (*spectrum.Snapshot, error) {
	return Query(ctx, c, func(ctx context.Context, s *session.Session) (*spectrum.Snapshot, error) {
		return s.AccumulatedSpectrum(ctx)
	})
}

// AlarmLimits reads the alarm thresholds.
func (c *Coordinator) AlarmLimits(ctx context.Context) (protocol.AlarmLimits, error) {
	return Query(ctx, c, func(ctx context.Context, s *session.Session) (protocol.AlarmLimits, error) {
		return s.AlarmLimits(ctx)
	})
}

// SetAlarmLimits writes the alarm thresholds.
func (c *Coordinator) SetAlarmLimits(ctx context.Context, limits protocol.AlarmLimits) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SetAlarmLimits(ctx, limits)
	})
}

// SetSoundCtrl selects the events that sound.
func (c *Coordinator) SetSoundCtrl(ctx context.Context, flags protocol.CtrlFlags) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SetSoundCtrl(ctx, flags)
	})
}

// SetVibroCtrl selects the events that vibrate.
func (c *Coordinator) SetVibroCtrl(ctx context.Context, flags protocol.CtrlFlags) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SetVibroCtrl(ctx, flags)
	})
}

// SetDisplayDirection sets the display orientation.
func (c *Coordinator) SetDisplayDirection(ctx context.Context, dir protocol.DisplayDirection) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		return s.SetDisplayDirection(ctx, dir)
	})
}

// Reopen opens a Disconnected session again, for example after reconnect retries were
// exhausted, and polls both cadences on success.
func (c *Coordinator) Reopen(ctx context.Context) error {
	return c.Do(ctx, func(ctx context.Context, s *session.Session) error {
		c.openFailures.Store(0)
		c.openDelay, _ = s.Config().RetryBackoff()

		if err := s.Open(ctx); err != nil {
			c.openFailures.Add(1)
			c.markFailure(err)

			return err
		}
		c.refresh(ctx)

		return nil
	})
}
