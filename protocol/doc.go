// Package protocol implements the command and response frames exchanged with the detector.
//
// Every exchange is a single request followed by a single response:
//
//	request:  [opcode][length LE u16][payload]
//	response: [opcode echo][status][length LE u16][payload]
//
// [EncodeRequest] and [DecodeResponse] are used by the host side; [DecodeRequest] and
// [Response.Encode] serve the device emulator. [Response.Check] maps a non-zero status to a
// [*StatusError] and a wrong opcode echo to [ErrOpcodeMismatch].
//
// The payload helpers build and parse the small fixed arguments of configuration commands,
// the firmware version block and NUL-terminated strings.
package protocol
