package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrBadMagic is returned when a frame does not start with the VCP magic.
	ErrBadMagic = errors.New("bad magic")

	// ErrBadVersion is returned when a frame carries an unsupported version.
	ErrBadVersion = errors.New("bad version")
)

// ErrPayloadTooLarge indicates a frame whose declared payload length exceeds
// the configured cap.
type ErrPayloadTooLarge struct {
	Length uint32
	Max    uint32
}

func (e *ErrPayloadTooLarge) Error() string {
	return fmt.Sprintf("payload too large: %d exceeds cap %d", e.Length, e.Max)
}

// Decoder extracts whole frames from a byte stream fed in arbitrary chunks.
// It buffers partial frames internally; a frame split at any byte boundary
// decodes identically to one fed whole.
//
// Framing errors (ErrBadMagic, ErrBadVersion, ErrPayloadTooLarge) are
// unrecoverable: the caller must close the connection, since the stream
// position can no longer be trusted.
type Decoder struct {
	maxPayload uint32
	buf        []byte
	off        int
}

// NewDecoder creates a decoder with the given payload cap.
// A maxPayload of 0 selects DefaultMaxPayload.
func NewDecoder(maxPayload uint32) *Decoder {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{maxPayload: maxPayload}
}

// Feed appends raw bytes from the wire to the decode buffer.
// The consumed prefix is reclaimed first by sliding the unconsumed tail to
// the front, so a long-lived pipelined connection does not accumulate dead
// bytes in front of every append.
func (d *Decoder) Feed(p []byte) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of undecoded bytes held by the decoder.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Next returns the next whole frame from the buffer.
// It returns (nil, nil) when more bytes are needed.
func (d *Decoder) Next() (*Frame, error) {
	rest := d.buf[d.off:]
	if len(rest) < HeaderSize {
		return nil, nil
	}

	if [4]byte(rest[0:4]) != Magic {
		return nil, ErrBadMagic
	}
	if rest[4] != Version {
		return nil, ErrBadVersion
	}

	payloadLen := binary.BigEndian.Uint32(rest[8:12])
	if payloadLen > d.maxPayload {
		return nil, &ErrPayloadTooLarge{Length: payloadLen, Max: d.maxPayload}
	}
	if len(rest) < HeaderSize+int(payloadLen) {
		return nil, nil
	}

	f := &Frame{
		Opcode:    Opcode(rest[5]),
		Flags:     binary.BigEndian.Uint16(rest[6:8]),
		RequestID: binary.BigEndian.Uint64(rest[12:20]),
	}
	if payloadLen > 0 {
		// Copy out so the frame outlives buffer compaction.
		f.Payload = make([]byte, payloadLen)
		copy(f.Payload, rest[HeaderSize:HeaderSize+payloadLen])
	}

	d.off += HeaderSize + int(payloadLen)
	if d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	}
	return f, nil
}

// WriteFrame writes the complete wire encoding of f to w.
// Header and payload are written back to back into w; WriteFrame does not
// flush. Frames stay whole on the wire as long as one goroutine at a time
// writes to w (the server's per-connection write loop).
func WriteFrame(w *bufio.Writer, f *Frame) error {
	var hdr [HeaderSize]byte
	copy(hdr[0:4], Magic[:])
	hdr[4] = Version
	hdr[5] = byte(f.Opcode)
	binary.BigEndian.PutUint16(hdr[6:8], f.Flags)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(f.Payload)))
	binary.BigEndian.PutUint64(hdr[12:20], f.RequestID)
	// bytes 20..22 stay zero (reserved)

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads a single whole frame from r.
// It is used by the client; the server decodes through Decoder instead.
func ReadFrame(r io.Reader, maxPayload uint32) (*Frame, error) {
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if [4]byte(hdr[0:4]) != Magic {
		return nil, ErrBadMagic
	}
	if hdr[4] != Version {
		return nil, ErrBadVersion
	}

	payloadLen := binary.BigEndian.Uint32(hdr[8:12])
	if payloadLen > maxPayload {
		return nil, &ErrPayloadTooLarge{Length: payloadLen, Max: maxPayload}
	}

	f := &Frame{
		Opcode:    Opcode(hdr[5]),
		Flags:     binary.BigEndian.Uint16(hdr[6:8]),
		RequestID: binary.BigEndian.Uint64(hdr[12:20]),
	}
	if payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, err
		}
	}
	return f, nil
}
