package fastpath

import (
	"bytes"
	"encoding/binary"
	"io"
)

// InputEventPDU carries one or more MS-RDPBCGR fast-path input events
// (keyboard, mouse, unicode, scroll) to the server in a single send.
type InputEventPDU struct {
	action    uint8
	numEvents uint8
	flags     uint8
	eventData []byte
}

// NewInputEventPDU wraps already-serialized input event bytes for sending.
// Callers that need to build eventData from structured events (see
// internal/input) serialize each event first and concatenate the results.
func NewInputEventPDU(eventData []byte) *InputEventPDU {
	return &InputEventPDU{
		action:    0,
		numEvents: 1,
		flags:     0,
		eventData: eventData,
	}
}

// Serialize encodes the PDU per MS-RDPBCGR 2.2.9.1.2: a one-byte header
// (flags<<6 | numEvents<<2 | action), a variable-length field, then the
// event data itself.
func (p *InputEventPDU) Serialize() []byte {
	buf := new(bytes.Buffer)
	header := (p.flags << 6) | (p.numEvents << 2) | p.action
	buf.WriteByte(header)

	length := 1 + len(p.eventData)
	_ = p.SerializeLength(length, buf)

	buf.Write(p.eventData)
	return buf.Bytes()
}

// SerializeLength writes value (the PDU size not counting the length field
// itself) as a 1-byte or 2-byte length per MS-RDPBCGR 2.2.9.1.2.1.1: a short
// form (<=0x7f) is a single byte of value+1, accounting for its own byte;
// a long form is a big-endian uint16 of value+2 with the top bit set.
func (p *InputEventPDU) SerializeLength(value int, w io.Writer) error {
	if value <= 0x7f {
		_, err := w.Write([]byte{byte(value + 1)})
		return err
	}
	var lenBytes [2]byte
	binary.BigEndian.PutUint16(lenBytes[:], uint16(value+2)|0x8000)
	_, err := w.Write(lenBytes[:])
	return err
}

// SetNumEvents overrides the event count written into the header, for
// callers that pack more than one serialized event into eventData.
func (p *InputEventPDU) SetNumEvents(n uint8) {
	p.numEvents = n
}

// Send serializes pdu and writes it to the underlying connection.
func (p *Protocol) Send(pdu *InputEventPDU) error {
	_, err := p.conn.Write(pdu.Serialize())
	return err
}
