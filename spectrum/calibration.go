package spectrum

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arloliu/go-radiacode/bytesbuf"
)

// CalibrationSize is the wire size of a Calibration: three little-endian f32.
const CalibrationSize = 12

// Calibration holds the quadratic energy calibration of the detector.
//
//	Energy(ch) = A0 + A1*ch + A2*ch²
type Calibration struct {
	A0 float32 // keV
	A1 float32 // keV per channel
	A2 float32 // keV per channel²
}

// Energy returns the energy in keV at the given channel. Fractional channels are allowed.
func (c Calibration) Energy(ch float64) float64 {
	return float64(c.A0) + float64(c.A1)*ch + float64(c.A2)*ch*ch
}

// Within reports whether every coefficient of c differs from o by at most tol.
func (c Calibration) Within(o Calibration, tol float64) bool {
	return math.Abs(float64(c.A0-o.A0)) <= tol &&
		math.Abs(float64(c.A1-o.A1)) <= tol &&
		math.Abs(float64(c.A2-o.A2)) <= tol
}

// String returns the coefficients in a0/a1/a2 order.
func (c Calibration) String() string {
	return fmt.Sprintf("a0=%g a1=%g a2=%g", c.A0, c.A1, c.A2)
}

// Bytes encodes c as the GET_CALIB / SET_CALIB payload.
func (c Calibration) Bytes() []byte {
	w := bytesbuf.NewWriterSize(CalibrationSize, CalibrationSize, binary.LittleEndian)
	_ = w.WriteF32s(c.A0, c.A1, c.A2)

	return w.Bytes()
}

// DecodeCalibration decodes a GET_CALIB / SET_CALIB payload.
func DecodeCalibration(payload []byte) (Calibration, error) {
	if len(payload) != CalibrationSize {
		return Calibration{}, fmt.Errorf("%w: calibration needs %d bytes, got %d",
			ErrSpectrumFormat, CalibrationSize, len(payload))
	}

	r := bytesbuf.NewReader(payload)
	v, err := r.ReadF32s(3)
	if err != nil {
		return Calibration{}, err
	}

	return Calibration{A0: v[0], A1: v[1], A2: v[2]}, nil
}
