package spectrum

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/arloliu/go-radiacode/bytesbuf"
)

// HeaderSize is the size of the spectrum frame header.
//
//	u8 format | u32 duration s | u16 channels | f32 a0 | f32 a1 | f32 a2
const HeaderSize = 1 + 4 + 2 + CalibrationSize

// Width indicators of the packed format.
const (
	widthZero  = 0
	widthU8    = 1
	widthI8    = 2
	widthI16   = 3
	widthI24   = 4
	widthI32   = 5
	maxRunSize = 0x0FFF
)

// Decode parses a spectrum frame.
//
// It fails with ErrSpectrumFormat when expectedChannels is positive and differs from the
// declared channel count, when the format or a width indicator is unknown, or when the
// counts under- or over-run the payload.
func Decode(payload []byte, expectedChannels int) (*Snapshot, error) {
	r := bytesbuf.NewReader(payload)

	format, err := r.ReadU8()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrSpectrumFormat, err)
	}
	seconds, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrSpectrumFormat, err)
	}
	channels, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrSpectrumFormat, err)
	}
	coeffs, err := r.ReadF32s(3)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrSpectrumFormat, err)
	}

	if expectedChannels > 0 && int(channels) != expectedChannels {
		return nil, fmt.Errorf("%w: %d channels declared, device has %d", ErrSpectrumFormat, channels, expectedChannels)
	}

	var counts []uint32
	switch Format(format) {
	case FormatRaw:
		counts, err = decodeRaw(r, int(channels))
	case FormatPacked:
		counts, err = decodePacked(r, int(channels))
	default:
		return nil, fmt.Errorf("%w: unknown format %d", ErrSpectrumFormat, format)
	}
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Duration:    time.Duration(seconds) * time.Second,
		Calibration: Calibration{A0: coeffs[0], A1: coeffs[1], A2: coeffs[2]},
		Counts:      counts,
	}, nil
}

func decodeRaw(r *bytesbuf.Reader, channels int) ([]uint32, error) {
	if need := channels * 4; r.Remaining() != need {
		return nil, fmt.Errorf("%w: %d channels need %d bytes, have %d", ErrSpectrumFormat, channels, need, r.Remaining())
	}

	return r.ReadU32s(channels)
}

func decodePacked(r *bytesbuf.Reader, channels int) ([]uint32, error) {
	counts := make([]uint32, 0, channels)

	var last uint32
	for len(counts) < channels {
		word, err := r.ReadU16()
		if err != nil {
			return nil, fmt.Errorf("%w: under-run after %d of %d channels", ErrSpectrumFormat, len(counts), channels)
		}

		run, width := int(word>>4), word&0x0F
		if len(counts)+run > channels {
			return nil, fmt.Errorf("%w: run of %d overflows %d channels at channel %d",
				ErrSpectrumFormat, run, channels, len(counts))
		}

		for range run {
			v, err := readPacked(r, width, last)
			if err != nil {
				return nil, err
			}
			counts = append(counts, v)
			last = v
		}
	}

	if !r.AtEnd() {
		return nil, fmt.Errorf("%w: over-run, %d trailing bytes", ErrSpectrumFormat, r.Remaining())
	}

	return counts, nil
}

//nolint:gosec // deltas use wrapping uint32 arithmetic
func readPacked(r *bytesbuf.Reader, width uint16, last uint32) (uint32, error) {
	var (
		v   uint32
		err error
	)

	switch width {
	case widthZero:
		return 0, nil
	case widthU8:
		var u uint8
		u, err = r.ReadU8()
		v = uint32(u)
	case widthI8:
		var d int8
		d, err = r.ReadI8()
		v = last + uint32(int32(d))
	case widthI16:
		var d int16
		d, err = r.ReadI16()
		v = last + uint32(int32(d))
	case widthI24:
		var d int32
		d, err = r.ReadI24()
		v = last + uint32(d)
	case widthI32:
		var d int32
		d, err = r.ReadI32()
		v = last + uint32(d)
	default:
		return 0, fmt.Errorf("%w: unknown width indicator %d", ErrSpectrumFormat, width)
	}

	if err != nil {
		return 0, fmt.Errorf("%w: under-run: %w", ErrSpectrumFormat, err)
	}

	return v, nil
}

// Encode builds a spectrum frame; it is the exact inverse of Decode.
//
// FormatPacked picks the narrowest width for every channel and groups equal widths into runs.
func Encode(s *Snapshot, format Format) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrSpectrumFormat)
	}
	if len(s.Counts) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d channels exceed u16", ErrSpectrumFormat, len(s.Counts))
	}
	seconds := s.Duration / time.Second
	if seconds < 0 || seconds > math.MaxUint32 {
		return nil, fmt.Errorf("%w: duration %v out of range", ErrSpectrumFormat, s.Duration)
	}

	// worst case: a run word plus four bytes per channel
	w := bytesbuf.NewWriterSize(HeaderSize+len(s.Counts)*4, HeaderSize+len(s.Counts)*6, binary.LittleEndian)
	_ = w.WriteU8(uint8(format))
	_ = w.WriteU32(uint32(seconds))
	_ = w.WriteU16(uint16(len(s.Counts)))
	_ = w.WriteF32s(s.Calibration.A0, s.Calibration.A1, s.Calibration.A2)

	var err error
	switch format {
	case FormatRaw:
		for _, c := range s.Counts {
			if err = w.WriteU32(c); err != nil {
				break
			}
		}
	case FormatPacked:
		err = encodePacked(w, s.Counts)
	default:
		return nil, fmt.Errorf("%w: unknown format %d", ErrSpectrumFormat, format)
	}
	if err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

//nolint:gosec // deltas use wrapping uint32 arithmetic
func packedWidth(v, last uint32) uint16 {
	if v == 0 {
		return widthZero
	}

	d := int32(v - last)
	switch {
	case d >= math.MinInt8 && d <= math.MaxInt8:
		return widthI8
	case v <= math.MaxUint8:
		return widthU8
	case d >= math.MinInt16 && d <= math.MaxInt16:
		return widthI16
	case d >= -(1<<23) && d < 1<<23:
		return widthI24
	default:
		return widthI32
	}
}

//nolint:gosec // deltas use wrapping uint32 arithmetic
func encodePacked(w *bytesbuf.Writer, counts []uint32) error {
	widths := make([]uint16, len(counts))
	var last uint32
	for i, v := range counts {
		widths[i] = packedWidth(v, last)
		last = v
	}

	last = 0
	for start := 0; start < len(counts); {
		width := widths[start]
		end := start + 1
		for end < len(counts) && widths[end] == width && end-start < maxRunSize {
			end++
		}

		if err := w.WriteU16(uint16(end-start)<<4 | width); err != nil {
			return err
		}

		for _, v := range counts[start:end] {
			d := int32(v - last)

			var err error
			switch width {
			case widthU8:
				err = w.WriteU8(uint8(v))
			case widthI8:
				err = w.WriteI8(int8(d))
			case widthI16:
				err = w.WriteI16(int16(d))
			case widthI24:
				err = w.WriteI24(d)
			case widthI32:
				err = w.WriteI32(d)
			}
			if err != nil {
				return err
			}
			last = v
		}

		start = end
	}

	return nil
}
