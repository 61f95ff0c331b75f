// Package spectrum decodes and encodes the detector's energy spectrum frames.
//
// A frame is a little-endian header followed by the channel counts:
//
//	u8 format | u32 duration s | u16 channels | f32 a0 | f32 a1 | f32 a2 | counts
//
// FormatRaw stores one u32 per channel. FormatPacked stores runs: each u16 word carries the run
// length in its upper 12 bits and a width indicator in its lower 4 bits, followed by run values
// of that width.
//
//	0 zero, no bytes
//	1 u8 absolute value
//	2 i8 delta
//	3 i16 delta
//	4 i24 delta
//	5 i32 delta
//
// Deltas are relative to the previous channel and use wrapping uint32 arithmetic.
//
// Snapshot statistics (total counts, count rate, weighted mean energy) are computed with gonum.
package spectrum
