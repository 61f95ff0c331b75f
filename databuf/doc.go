// Package databuf decodes the detector's real-time data buffer.
//
// The buffer is a stream of one-byte tags, each followed by a fixed-size big-endian payload or,
// for tags from 0x80, a u16 length and an opaque block. A tick tag (0x00) sets the device
// timestamp carried by the records that follow it.
//
//	0x00 tick         u32
//	0x01 dose rate    f32 µSv/h
//	0x02 count rate   f32 cps
//	0x03 temperature  u16, (raw-2000)/100 °C
//	0x04 battery      u16, raw/100 %
//	0x05 flags        u16
//	0x06 accumulated  f32 µSv
//	0x07 event        u8 id, u8 param, u16 flags
//	0x11 dose rate    f32 + u16 error in 0.1 %
//	0x12 count rate   f32 + u16 error in 0.1 %
//	0x80 raw samples  u16 length + data
//
// Values pass through unmodified; smoothing is left to consumers.
package databuf
