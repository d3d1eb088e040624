package protocol

import (
	"encoding/binary"
	"fmt"
)

// Magic identifies a VCP frame on the wire: 'C','E','L','X'.
var Magic = [4]byte{0x43, 0x45, 0x4C, 0x58}

const (
	// Version is the protocol version emitted and accepted by this codec.
	Version = 1

	// HeaderSize is the fixed VCP header size in bytes.
	HeaderSize = 22

	// DefaultMaxPayload is the default cap on a single frame's payload.
	DefaultMaxPayload = 16 << 20

	// MaxKeySize is the largest key accepted by the server.
	MaxKeySize = 64 << 10
)

// Opcode identifies the operation carried by a frame.
type Opcode uint8

const (
	OpPing   Opcode = 0x01
	OpPong   Opcode = 0x02
	OpGet    Opcode = 0x03
	OpSet    Opcode = 0x04
	OpDel    Opcode = 0x05
	OpExists Opcode = 0x06

	OpMGet Opcode = 0x07
	OpMSet Opcode = 0x08
	OpMDel Opcode = 0x09

	OpIncr   Opcode = 0x0A
	OpDecr   Opcode = 0x0B
	OpIncrBy Opcode = 0x0C
	OpDecrBy Opcode = 0x0D

	OpScan Opcode = 0x0E
	OpKeys Opcode = 0x0F

	OpOk      Opcode = 0x10
	OpError   Opcode = 0x11
	OpValue   Opcode = 0x12
	OpNil     Opcode = 0x13
	OpInteger Opcode = 0x14
	OpArray   Opcode = 0x15

	OpVAdd    Opcode = 0x20
	OpVSearch Opcode = 0x21
)

// String returns the wire-level name of the opcode.
func (op Opcode) String() string {
	switch op {
	case OpPing:
		return "PING"
	case OpPong:
		return "PONG"
	case OpGet:
		return "GET"
	case OpSet:
		return "SET"
	case OpDel:
		return "DEL"
	case OpExists:
		return "EXISTS"
	case OpMGet:
		return "MGET"
	case OpMSet:
		return "MSET"
	case OpMDel:
		return "MDEL"
	case OpIncr:
		return "INCR"
	case OpDecr:
		return "DECR"
	case OpIncrBy:
		return "INCRBY"
	case OpDecrBy:
		return "DECRBY"
	case OpScan:
		return "SCAN"
	case OpKeys:
		return "KEYS"
	case OpOk:
		return "OK"
	case OpError:
		return "ERROR"
	case OpValue:
		return "VALUE"
	case OpNil:
		return "NIL"
	case OpInteger:
		return "INTEGER"
	case OpArray:
		return "ARRAY"
	case OpVAdd:
		return "VADD"
	case OpVSearch:
		return "VSEARCH"
	default:
		return fmt.Sprintf("Opcode(0x%02X)", uint8(op))
	}
}

// IsRequest reports whether the opcode is a client-to-server operation.
func (op Opcode) IsRequest() bool {
	switch op {
	case OpPing, OpGet, OpSet, OpDel, OpExists,
		OpMGet, OpMSet, OpMDel,
		OpIncr, OpDecr, OpIncrBy, OpDecrBy,
		OpScan, OpKeys,
		OpVAdd, OpVSearch:
		return true
	default:
		return false
	}
}

// Frame is a single unit of VCP exchange in either direction.
//
// The request id is opaque to the server: it is generated by the client and
// echoed back unmodified on the matching response.
type Frame struct {
	Opcode    Opcode
	Flags     uint16
	RequestID uint64
	Payload   []byte
}

// NewFrame creates a frame for the given opcode, request id and payload.
func NewFrame(op Opcode, requestID uint64, payload []byte) *Frame {
	return &Frame{Opcode: op, RequestID: requestID, Payload: payload}
}

// EncodedSize returns the total on-wire size of the frame.
func (f *Frame) EncodedSize() int {
	return HeaderSize + len(f.Payload)
}

// AppendEncode appends the wire encoding of f to dst and returns the
// extended slice. The header is always written with version 1 and zeroed
// reserved bytes.
func (f *Frame) AppendEncode(dst []byte) []byte {
	dst = append(dst, Magic[:]...)
	dst = append(dst, Version, byte(f.Opcode))
	dst = binary.BigEndian.AppendUint16(dst, f.Flags)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Payload)))
	dst = binary.BigEndian.AppendUint64(dst, f.RequestID)
	dst = append(dst, 0, 0) // reserved
	dst = append(dst, f.Payload...)
	return dst
}
