// Package framed reassembles whole RDP frames out of an arbitrary byte
// stream, classifying each as X.224 (TPKT) or fast-path by inspecting the
// first byte, the way Client.GetUpdate's receiveProtocol/IsX224 helpers do
// for the slow-path/fast-path split during the active session.
package framed

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Action classifies a frame's outer envelope.
type Action int

const (
	// ActionX224 is a TPKT-framed slow-path PDU: [0x03][reserved][length hi][length lo][...].
	ActionX224 Action = iota
	// ActionFastPath is a fast-path PDU: [header][length: 1 or 2 bytes][...].
	ActionFastPath
)

const tpktHeaderLen = 4

// Frame is one fully reassembled PDU with its action tag and the payload
// that follows the outer length envelope (TPKT header or fast-path
// header+length).
type Frame struct {
	Action  Action
	Payload []byte
}

// Reader reassembles length-prefixed frames from an underlying byte stream.
// It never itself understands the payload — only enough of the envelope to
// know how many bytes to read.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps src for frame-at-a-time reads.
func NewReader(src io.Reader) *Reader {
	br, ok := src.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(src)
	}
	return &Reader{r: br}
}

// detectAction peeks the first byte without consuming it: 0x03 marks TPKT/
// X.224 framing; any byte whose top two bits are both clear marks fast-path,
// per [MS-RDPBCGR] 2.2.9.1.2's FASTPATH_ACTION field.
func detectAction(first byte) Action {
	if first == 0x03 {
		return ActionX224
	}
	return ActionFastPath
}

// ReadFrame blocks until one full frame has arrived and returns it.
func (r *Reader) ReadFrame() (*Frame, error) {
	first, err := r.r.Peek(1)
	if err != nil {
		return nil, err
	}

	action := detectAction(first[0])
	switch action {
	case ActionX224:
		return r.readX224Frame()
	default:
		return r.readFastPathFrame()
	}
}

func (r *Reader) readX224Frame() (*Frame, error) {
	header := make([]byte, tpktHeaderLen)
	if _, err := io.ReadFull(r.r, header); err != nil {
		return nil, fmt.Errorf("framed: tpkt header: %w", err)
	}

	length := int(binary.BigEndian.Uint16(header[2:4]))
	if length < tpktHeaderLen {
		return nil, fmt.Errorf("framed: tpkt length %d shorter than header", length)
	}

	payload := make([]byte, length-tpktHeaderLen)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("framed: tpkt payload: %w", err)
	}

	return &Frame{Action: ActionX224, Payload: payload}, nil
}

// readFastPathFrame reads the fast-path header byte, then its length field
// (one byte, or two big-endian bytes with the top bit of the first cleared
// to recover the real value, per [MS-RDPBCGR] 2.2.9.1.2).
func (r *Reader) readFastPathFrame() (*Frame, error) {
	headerByte, err := r.r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("framed: fast-path header: %w", err)
	}

	lengthByte1, err := r.r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("framed: fast-path length: %w", err)
	}

	var totalLength int
	headerBytes := 2
	if lengthByte1&0x80 != 0 {
		lengthByte2, err := r.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("framed: fast-path length (2-byte): %w", err)
		}
		totalLength = int(uint16(lengthByte1&0x7F)<<8 | uint16(lengthByte2))
		headerBytes = 3
	} else {
		totalLength = int(lengthByte1)
	}

	if totalLength < headerBytes {
		return nil, fmt.Errorf("framed: fast-path length %d shorter than its own header", totalLength)
	}

	payload := make([]byte, totalLength-headerBytes)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, fmt.Errorf("framed: fast-path payload: %w", err)
	}

	return &Frame{Action: ActionFastPath, Payload: append([]byte{headerByte}, payload...)}, nil
}
