package databuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/arloliu/go-radiacode/bytesbuf"
)

// Record tags. Tags from 0x80 carry a u16 length prefix.
const (
	tagTick         = 0x00
	tagDoseRate     = 0x01
	tagCountRate    = 0x02
	tagTemperature  = 0x03
	tagBattery      = 0x04
	tagFlags        = 0x05
	tagAccumulated  = 0x06
	tagEvent        = 0x07
	tagDoseRateErr  = 0x11
	tagCountRateErr = 0x12

	tagVariable   = 0x80
	tagRawSamples = 0x80
)

const temperatureOffset = 2000

var (
	// ErrPartialDecode indicates that decoding stopped early. The records decoded before the
	// offending tag are still returned.
	ErrPartialDecode = errors.New("databuf: partial decode")

	// ErrUnencodable indicates a record that has no wire representation.
	ErrUnencodable = errors.New("databuf: record cannot be encoded")

	errUnknownTag = errors.New("unknown tag")
)

// Batch is the result of decoding one data-buffer payload.
type Batch struct {
	// Records holds the decoded records in device order.
	Records []Record
	// Skipped counts length-prefixed blocks with an unknown tag.
	Skipped int
}

// Decode decodes a DATA_BUF response payload.
//
// An unknown fixed-size tag or a truncated trailing record stops decoding; the records decoded
// so far are returned together with an error wrapping ErrPartialDecode.
func Decode(payload []byte) (Batch, error) {
	r := bytesbuf.NewReaderOrder(payload, binary.BigEndian)

	var (
		batch Batch
		tick  uint32
	)

	for !r.AtEnd() {
		start := r.Pos()
		tag, _ := r.ReadU8()

		switch {
		case tag == tagTick:
			v, err := r.ReadU32()
			if err != nil {
				return batch, partial(tag, start, err)
			}
			tick = v

		case tag >= tagVariable:
			n, err := r.ReadU16()
			if err != nil {
				return batch, partial(tag, start, err)
			}
			data, err := r.ReadBytes(int(n))
			if err != nil {
				return batch, partial(tag, start, err)
			}
			if tag != tagRawSamples {
				batch.Skipped++
				continue
			}
			batch.Records = append(batch.Records, RawSamples{Timestamp: tick, Data: data})

		default:
			rec, err := decodeFixed(r, tag, tick)
			if err != nil {
				return batch, partial(tag, start, err)
			}
			batch.Records = append(batch.Records, rec)
		}
	}

	return batch, nil
}

func partial(tag uint8, offset int, err error) error {
	return fmt.Errorf("%w: tag 0x%02X at offset %d: %w", ErrPartialDecode, tag, offset, err)
}

func decodeFixed(r *bytesbuf.Reader, tag uint8, tick uint32) (Record, error) {
	switch tag {
	case tagDoseRate, tagDoseRateErr, tagCountRate, tagCountRateErr:
		v, err := r.ReadF32()
		if err != nil {
			return nil, err
		}

		var (
			errPct   float64
			hasError bool
		)
		if tag == tagDoseRateErr || tag == tagCountRateErr {
			raw, err := r.ReadU16()
			if err != nil {
				return nil, err
			}
			errPct, hasError = float64(raw)/10, true
		}

		if tag == tagDoseRate || tag == tagDoseRateErr {
			return DoseRate{Timestamp: tick, Value: v, ErrorPercent: errPct, HasError: hasError}, nil
		}

		return CountRate{Timestamp: tick, Value: v, ErrorPercent: errPct, HasError: hasError}, nil

	case tagTemperature:
		raw, err := r.ReadU16()
		if err != nil {
			return nil, err
		}

		return Temperature{Timestamp: tick, Celsius: (float64(raw) - temperatureOffset) / 100}, nil

	case tagBattery:
		raw, err := r.ReadU16()
		if err != nil {
			return nil, err
		}

		return Battery{Timestamp: tick, Percent: float64(raw) / 100}, nil

	case tagFlags:
		raw, err := r.ReadU16()
		if err != nil {
			return nil, err
		}

		return Flags{Timestamp: tick, Bits: raw}, nil

	case tagAccumulated:
		v, err := r.ReadF32()
		if err != nil {
			return nil, err
		}

		return Accumulated{Timestamp: tick, Dose: v}, nil

	case tagEvent:
		id, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		param, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		flags, err := r.ReadU16()
		if err != nil {
			return nil, err
		}

		return Event{Timestamp: tick, ID: EventID(id), Param: param, Flags: flags}, nil

	default:
		return nil, errUnknownTag
	}
}

// Encode is the canonical inverse of Decode.
//
// A tick tag is emitted whenever a record's timestamp differs from the running tick, which
// starts at zero. Rate records with HasError set use the tags carrying an error field.
func Encode(records []Record) ([]byte, error) {
	w := bytesbuf.NewWriterSize(len(records)*8, bytesbuf.DefaultMaxSize, binary.BigEndian)

	var tick uint32
	for i, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("%w: record %d is nil", ErrUnencodable, i)
		}

		if rec.Tick() != tick {
			tick = rec.Tick()
			_ = w.WriteU8(tagTick)
			if err := w.WriteU32(tick); err != nil {
				return nil, err
			}
		}

		if err := encodeRecord(w, rec); err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", i, rec.Kind(), err)
		}
	}

	return w.Bytes(), nil
}

func encodeRecord(w *bytesbuf.Writer, rec Record) error {
	switch v := rec.(type) {
	case DoseRate:
		return writeRate(w, tagDoseRate, tagDoseRateErr, v.Value, v.ErrorPercent, v.HasError)

	case CountRate:
		return writeRate(w, tagCountRate, tagCountRateErr, v.Value, v.ErrorPercent, v.HasError)

	case Temperature:
		raw, err := toU16(v.Celsius*100 + temperatureOffset)
		if err != nil {
			return err
		}
		_ = w.WriteU8(tagTemperature)
		return w.WriteU16(raw)

	case Battery:
		raw, err := toU16(v.Percent * 100)
		if err != nil {
			return err
		}
		_ = w.WriteU8(tagBattery)
		return w.WriteU16(raw)

	case Flags:
		_ = w.WriteU8(tagFlags)
		return w.WriteU16(v.Bits)

	case Accumulated:
		_ = w.WriteU8(tagAccumulated)
		return w.WriteF32(v.Dose)

	case Event:
		_ = w.WriteU8(tagEvent)
		_ = w.WriteU8(uint8(v.ID))
		_ = w.WriteU8(v.Param)
		return w.WriteU16(v.Flags)

	case RawSamples:
		if len(v.Data) > math.MaxUint16 {
			return fmt.Errorf("%w: raw block of %d bytes", ErrUnencodable, len(v.Data))
		}
		_ = w.WriteU8(tagRawSamples)
		_ = w.WriteU16(uint16(len(v.Data)))
		return w.WriteBytes(v.Data)

	default:
		return fmt.Errorf("%w: unsupported type %T", ErrUnencodable, rec)
	}
}

func writeRate(w *bytesbuf.Writer, plainTag, errTag uint8, value float32, errPct float64, hasError bool) error {
	if !hasError {
		_ = w.WriteU8(plainTag)
		return w.WriteF32(value)
	}

	raw, err := toU16(errPct * 10)
	if err != nil {
		return err
	}
	_ = w.WriteU8(errTag)
	_ = w.WriteF32(value)

	return w.WriteU16(raw)
}

func toU16(v float64) (uint16, error) {
	r := math.Round(v)
	if r < 0 || r > math.MaxUint16 || math.IsNaN(r) {
		return 0, fmt.Errorf("%w: scaled value %v out of u16 range", ErrUnencodable, v)
	}

	return uint16(r), nil
}
