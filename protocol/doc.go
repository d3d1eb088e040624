// Package protocol implements the VCP wire protocol: the 22-byte frame
// header, the incremental stream decoder, and the per-opcode payload codecs
// for commands and responses.
//
// All multi-byte integers are big-endian. Framing errors are fatal to the
// connection; payload errors are answered on the wire and leave the
// connection open.
package protocol
