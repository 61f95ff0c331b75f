package session

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/go-radiacode/databuf"
	"github.com/arloliu/go-radiacode/protocol"
	"github.com/arloliu/go-radiacode/spectrum"
)

// Command argument limits.
const (
	MaxBrightness        = 9
	MinDisplayOffTime    = 5 * time.Second
	MaxDisplayOffTime    = 300 * time.Second
	CalibrationTolerance = 1e-4
)

// Language is a device UI language.
type Language uint8

// Supported UI languages.
const (
	LanguageEnglish Language = iota
	LanguageRussian
)

// String returns the language code.
func (l Language) String() string {
	switch l {
	case LanguageEnglish:
		return "en"
	case LanguageRussian:
		return "ru"
	default:
		return fmt.Sprintf("language(%d)", uint8(l))
	}
}

// Valid reports whether the device supports l.
func (l Language) Valid() bool { return l <= LanguageRussian }

// ParseLanguage parses a language code such as "en".
func ParseLanguage(code string) (Language, error) {
	switch code {
	case "en":
		return LanguageEnglish, nil
	case "ru":
		return LanguageRussian, nil
	default:
		return 0, fmt.Errorf("%w: unsupported language %q", ErrInvalidArgument, code)
	}
}

// RealTimeData fetches and drains the device data buffer.
//
// A buffer that decodes only partially returns the records before the failure together with an
// error wrapping databuf.ErrPartialDecode.
func (s *Session) RealTimeData(ctx context.Context) (databuf.Batch, error) {
	payload, err := s.call(ctx, protocol.OpDataBuf, nil)
	if err != nil {
		return databuf.Batch{}, err
	}

	batch, err := databuf.Decode(payload)
	if err != nil {
		s.metrics.incPartialDecode()
		s.logger.Warn("partial data buffer", "records", len(batch.Records), "error", err)
	}

	return batch, err
}

// Spectrum fetches the current spectrum.
func (s *Session) Spectrum(ctx context.Context) (*spectrum.Snapshot, error) {
	return s.fetchSpectrum(ctx, protocol.OpSpectrum)
}

// AccumulatedSpectrum fetches the long-term accumulated spectrum.
func (s *Session) AccumulatedSpectrum(ctx context.Context) (*spectrum.Snapshot, error) {
	return s.fetchSpectrum(ctx, protocol.OpSpectrumAccum)
}

func (s *Session) fetchSpectrum(ctx context.Context, op protocol.Opcode) (*spectrum.Snapshot, error) {
	if err := s.lock(ctx, op); err != nil {
		return nil, err
	}
	defer s.unlock()

	payload, err := s.callLocked(ctx, op, nil)
	if err != nil {
		return nil, err
	}

	snap, err := spectrum.Decode(payload, s.channels)
	if err != nil {
		s.metrics.incDecodeErrCount()
		return nil, err
	}

	if s.channels == 0 {
		s.channels = snap.Channels()
		s.logger.Info("spectrum channel count detected", "channels", s.channels)
	}

	return snap, nil
}

// ResetDose resets the accumulated dose.
func (s *Session) ResetDose(ctx context.Context) error {
	_, err := s.call(ctx, protocol.OpDoseReset, nil)
	return err
}

// ResetSpectrum resets the current spectrum.
func (s *Session) ResetSpectrum(ctx context.Context) error {
	_, err := s.call(ctx, protocol.OpSpectrumReset, nil)
	return err
}

// SetBrightness sets the display brightness, from 0 to MaxBrightness.
func (s *Session) SetBrightness(ctx context.Context, level uint8) error {
	if level > MaxBrightness {
		return fmt.Errorf("%w: brightness %d is out of range [0, %d]", ErrInvalidArgument, level, MaxBrightness)
	}

	_, err := s.call(ctx, protocol.OpSetBrightness, protocol.U8Payload(level))

	return err
}

// SetSound enables or disables the sound.
func (s *Session) SetSound(ctx context.Context, enabled bool) error {
	_, err := s.call(ctx, protocol.OpSetSound, protocol.BoolPayload(enabled))
	return err
}

// SetVibration enables or disables the vibration.
func (s *Session) SetVibration(ctx context.Context, enabled bool) error {
	_, err := s.call(ctx, protocol.OpSetVibration, protocol.BoolPayload(enabled))
	return err
}

// SetLanguage sets the UI language.
func (s *Session) SetLanguage(ctx context.Context, lang Language) error {
	if !lang.Valid() {
		return fmt.Errorf("%w: unsupported %s", ErrInvalidArgument, lang)
	}

	_, err := s.call(ctx, protocol.OpSetLanguage, protocol.U8Payload(uint8(lang)))

	return err
}

// SetDisplayOffTime sets the display auto-off delay, in whole seconds between
// MinDisplayOffTime and MaxDisplayOffTime.
func (s *Session) SetDisplayOffTime(ctx context.Context, d time.Duration) error {
	if d < MinDisplayOffTime || d > MaxDisplayOffTime || d%time.Second != 0 {
		return fmt.Errorf("%w: display off time %v must be whole seconds in [%v, %v]",
			ErrInvalidArgument, d, MinDisplayOffTime, MaxDisplayOffTime)
	}

	_, err := s.call(ctx, protocol.OpSetDisplayOffTime, protocol.U16Payload(uint16(d/time.Second)))

	return err
}

// SetDeviceOn switches the device on or off.
func (s *Session) SetDeviceOn(ctx context.Context, on bool) error {
	_, err := s.call(ctx, protocol.OpSetDeviceOn, protocol.BoolPayload(on))
	return err
}

// SetSoundCtrl selects the events that sound.
func (s *Session) SetSoundCtrl(ctx context.Context, flags protocol.CtrlFlags) error {
	_, err := s.call(ctx, protocol.OpSetSoundCtrl, protocol.U8Payload(uint8(flags)))
	return err
}

// SetVibroCtrl selects the events that vibrate.
func (s *Session) SetVibroCtrl(ctx context.Context, flags protocol.CtrlFlags) error {
	_, err := s.call(ctx, protocol.OpSetVibroCtrl, protocol.U8Payload(uint8(flags)))
	return err
}

// SetDisplayDirection sets the display orientation.
func (s *Session) SetDisplayDirection(ctx context.Context, dir protocol.DisplayDirection) error {
	if !dir.Valid() {
		return fmt.Errorf("%w: unsupported %s", ErrInvalidArgument, dir)
	}

	_, err := s.call(ctx, protocol.OpSetDisplayDirection, protocol.U8Payload(uint8(dir)))

	return err
}

// AlarmLimits reads the alarm thresholds.
func (s *Session) AlarmLimits(ctx context.Context) (protocol.AlarmLimits, error) {
	payload, err := s.call(ctx, protocol.OpGetAlarmLimits, nil)
	if err != nil {
		return protocol.AlarmLimits{}, err
	}

	limits, err := protocol.ParseAlarmLimits(payload)
	if err != nil {
		s.metrics.incDecodeErrCount()
		return protocol.AlarmLimits{}, err
	}

	return limits, nil
}

// SetAlarmLimits writes the alarm thresholds.
func (s *Session) SetAlarmLimits(ctx context.Context, limits protocol.AlarmLimits) error {
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	_, err := s.call(ctx, protocol.OpSetAlarmLimits, limits.Bytes())

	return err
}

// SyncTime sets the device clock to the local time.
func (s *Session) SyncTime(ctx context.Context) error {
	_, err := s.call(ctx, protocol.OpSetTime, protocol.TimePayload(time.Now()))
	return err
}

// Calibration reads the energy calibration.
func (s *Session) Calibration(ctx context.Context) (spectrum.Calibration, error) {
	if err := s.lock(ctx, protocol.OpGetCalibration); err != nil {
		return spectrum.Calibration{}, err
	}
	defer s.unlock()

	return s.calibrationLocked(ctx)
}

func (s *Session) calibrationLocked(ctx context.Context) (spectrum.Calibration, error) {
	payload, err := s.callLocked(ctx, protocol.OpGetCalibration, nil)
	if err != nil {
		return spectrum.Calibration{}, err
	}

	calib, err := spectrum.DecodeCalibration(payload)
	if err != nil {
		s.metrics.incDecodeErrCount()
		return spectrum.Calibration{}, err
	}

	return calib, nil
}

// SetCalibration writes the energy calibration and reads it back.
//
// It returns ErrCalibrationVerificationFailed when any coefficient read back differs from the
// written one by more than CalibrationTolerance.
func (s *Session) SetCalibration(ctx context.Context, calib spectrum.Calibration) error {
	if err := s.lock(ctx, protocol.OpSetCalibration); err != nil {
		return err
	}
	defer s.unlock()

	if _, err := s.callLocked(ctx, protocol.OpSetCalibration, calib.Bytes()); err != nil {
		return err
	}

	got, err := s.calibrationLocked(ctx)
	if err != nil {
		return fmt.Errorf("session: calibration readback: %w", err)
	}

	if !got.Within(calib, CalibrationTolerance) {
		s.metrics.incProtocolErrCount()
		return fmt.Errorf("%w: wrote %s, read %s", ErrCalibrationVerificationFailed, calib, got)
	}

	return nil
}
