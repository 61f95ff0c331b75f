package protocol

import "fmt"

// Opcode identifies a device command. The device echoes the opcode in its response.
type Opcode uint8

// Device command opcodes.
const (
	// OpSetExchange negotiates the exchange mode; sent first after every open.
	OpSetExchange Opcode = 0x01
	// OpGetVersion reads boot and target firmware versions.
	OpGetVersion Opcode = 0x02
	// OpGetSerial reads the hardware serial number.
	OpGetSerial Opcode = 0x03
	// OpSetTime sets the device clock (u32 unix seconds).
	OpSetTime Opcode = 0x04

	// OpDataBuf fetches and drains the real-time data buffer.
	OpDataBuf Opcode = 0x10
	// OpSpectrum fetches the current spectrum.
	OpSpectrum Opcode = 0x11
	// OpSpectrumAccum fetches the accumulated (long-term) spectrum.
	OpSpectrumAccum Opcode = 0x12
	// OpGetCalibration reads the energy calibration coefficients.
	OpGetCalibration Opcode = 0x13
	// OpSetCalibration writes the energy calibration coefficients.
	OpSetCalibration Opcode = 0x14

	// OpDoseReset resets the accumulated dose.
	OpDoseReset Opcode = 0x20
	// OpSpectrumReset resets the current spectrum.
	OpSpectrumReset Opcode = 0x21

	// OpSetBrightness sets display brightness (u8, 0-9).
	OpSetBrightness Opcode = 0x30
	// OpSetSound enables or disables sound (u8 bool).
	OpSetSound Opcode = 0x31
	// OpSetVibration enables or disables vibration (u8 bool).
	OpSetVibration Opcode = 0x32
	// OpSetLanguage sets the UI language (u8 language code).
	OpSetLanguage Opcode = 0x33
	// OpSetDisplayOffTime sets the display auto-off delay (u16 seconds).
	OpSetDisplayOffTime Opcode = 0x34
	// OpSetDeviceOn switches the device on or off (u8 bool).
	OpSetDeviceOn Opcode = 0x35
	// OpGetAlarmLimits reads the alarm thresholds (AlarmLimits).
	OpGetAlarmLimits Opcode = 0x36
	// OpSetAlarmLimits writes the alarm thresholds (AlarmLimits).
	OpSetAlarmLimits Opcode = 0x37
	// OpSetSoundCtrl selects the events that sound (u8 CtrlFlags).
	OpSetSoundCtrl Opcode = 0x38
	// OpSetVibroCtrl selects the events that vibrate (u8 CtrlFlags).
	OpSetVibroCtrl Opcode = 0x39
	// OpSetDisplayDirection sets the display orientation (u8 DisplayDirection).
	OpSetDisplayDirection Opcode = 0x3A
)

var opcodeNames = map[Opcode]string{
	OpSetExchange:         "SET_EXCHANGE",
	OpGetVersion:          "GET_VERSION",
	OpGetSerial:           "GET_SERIAL",
	OpSetTime:             "SET_TIME",
	OpDataBuf:             "DATA_BUF",
	OpSpectrum:            "SPECTRUM",
	OpSpectrumAccum:       "SPECTRUM_ACCUM",
	OpGetCalibration:      "GET_CALIB",
	OpSetCalibration:      "SET_CALIB",
	OpDoseReset:           "DOSE_RESET",
	OpSpectrumReset:       "SPEC_RESET",
	OpSetBrightness:       "SET_BRIGHTNESS",
	OpSetSound:            "SET_SOUND",
	OpSetVibration:        "SET_VIBRO",
	OpSetLanguage:         "SET_LANGUAGE",
	OpSetDisplayOffTime:   "SET_DISP_OFF_TIME",
	OpSetDeviceOn:         "SET_DEVICE_ON",
	OpGetAlarmLimits:      "GET_ALARM_LIMITS",
	OpSetAlarmLimits:      "SET_ALARM_LIMITS",
	OpSetSoundCtrl:        "SET_SOUND_CTRL",
	OpSetVibroCtrl:        "SET_VIBRO_CTRL",
	OpSetDisplayDirection: "SET_DISP_DIR",
}

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}

	return fmt.Sprintf("OP_0x%02X", uint8(op))
}

// Known reports whether op is a defined opcode.
func (op Opcode) Known() bool {
	_, ok := opcodeNames[op]
	return ok
}

// Status is the response status byte. Zero means success.
type Status uint8

// Response status codes.
const (
	StatusOK              Status = 0x00
	StatusUnknownCommand  Status = 0x01
	StatusInvalidArgument Status = 0x02
	StatusBusy            Status = 0x03
	StatusFailure         Status = 0xFF
)

// String returns a short description of the status code.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnknownCommand:
		return "unknown command"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusBusy:
		return "busy"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("status 0x%02X", uint8(s))
	}
}
