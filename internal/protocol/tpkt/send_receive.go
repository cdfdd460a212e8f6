package tpkt

import (
	"bytes"
	"encoding/binary"
	"io"
)

const (
	version  uint8 = 0x03
	reserved uint8 = 0x00
)

// Send wraps pduData in a TPKT header (RFC 1006) and writes it to conn.
func (p *Protocol) Send(pduData []byte) error {
	buf := make([]byte, headerLen+len(pduData))
	buf[0] = version
	buf[1] = reserved
	binary.BigEndian.PutUint16(buf[2:4], uint16(headerLen+len(pduData)))
	copy(buf[headerLen:], pduData)

	_, err := p.conn.Write(buf)
	return err
}

// Receive reads one TPKT-framed packet and returns its payload.
func (p *Protocol) Receive() (io.Reader, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(p.conn, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint16(header[2:4])
	payload := make([]byte, int(length)-headerLen)
	if _, err := io.ReadFull(p.conn, payload); err != nil {
		return nil, err
	}

	return bytes.NewReader(payload), nil
}
