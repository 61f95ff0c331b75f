// Package bytesbuf provides bounds-checked byte cursors used by the device codecs.
//
// A [Reader] consumes a fixed byte slice sequentially; every read that would run past
// the end fails with [ErrTruncatedData] and leaves the position untouched. A [Writer]
// builds a byte slice and may grow up to a configured maximum, failing with
// [ErrBufferOverflow] beyond it.
//
// Both cursors carry a default byte order. The device firmware mixes byte orders
// between frame headers, data-buffer records and spectrum payloads, so each codec
// creates its cursors with the order its format declares.
package bytesbuf
