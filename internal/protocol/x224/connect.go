package x224

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// X.224 TPDU codes, per ITU-T X.224 / RFC 905.
const (
	connectionRequestCode uint8 = 0xE0 // CR TPDU
	connectionConfirmCode uint8 = 0xD0 // CC TPDU
	dataTPDUCode          uint8 = 0xF0 // DT TPDU code
	dataTPDUEOT           uint8 = 0x80 // DT TPDU end-of-transmission flag
	dataTPDULI            uint8 = 0x02 // DT TPDU header is always 2 bytes (code+eot)
	connectionConfirmLI   uint8 = 0x0E // fixed CC TPDU header length for RDP
)

var (
	// ErrSmallConnectionConfirmLength is returned when a CC TPDU's length
	// indicator doesn't match the fixed header RDP servers always send.
	ErrSmallConnectionConfirmLength = errors.New("small connection confirm length")
	// ErrWrongConnectionConfirmCode is returned when the upper nibble of a
	// CC TPDU's code byte isn't 0xD (the low nibble is not checked).
	ErrWrongConnectionConfirmCode = errors.New("wrong connection confirm code")
	// ErrWrongDataLength is returned when a DT TPDU's length indicator isn't
	// the fixed 2-byte header RDP uses for every Data PDU.
	ErrWrongDataLength = errors.New("wrong data length")
)

// ConnectionRequest is the X.224 Connection Request TPDU (CR TPDU) sent to
// open the connection, carrying the RDP negotiation request as user data.
type ConnectionRequest struct {
	CRCDT        uint8
	DSTREF       uint16
	SRCREF       uint16
	ClassOption  uint8
	VariablePart []byte
	UserData     []byte
}

// Serialize encodes the CR TPDU, computing its length indicator from the
// fixed header plus whatever variable part and user data are attached.
func (r ConnectionRequest) Serialize() []byte {
	buf := new(bytes.Buffer)

	fixedLen := 1 /* CRCDT */ + 2 /* DSTREF */ + 2 /* SRCREF */ + 1 /* ClassOption */
	li := fixedLen + len(r.VariablePart) + len(r.UserData)

	buf.WriteByte(byte(li))
	buf.WriteByte(r.CRCDT)
	_ = binary.Write(buf, binary.BigEndian, r.DSTREF)
	_ = binary.Write(buf, binary.BigEndian, r.SRCREF)
	buf.WriteByte(r.ClassOption)
	buf.Write(r.VariablePart)
	buf.Write(r.UserData)

	return buf.Bytes()
}

// ConnectionConfirm is the X.224 Connection Confirm TPDU (CC TPDU) the
// server replies with; RDP always uses a fixed 14-byte header, so anything
// else is rejected rather than parsed as a variable-length TPDU.
type ConnectionConfirm struct {
	LI          uint8
	CCCDT       uint8
	DSTREF      uint16
	SRCREF      uint16
	ClassOption uint8
}

// Deserialize reads the CC TPDU header and leaves any bytes following it
// (the RDP negotiation response) unread in src for the caller to parse.
func (c *ConnectionConfirm) Deserialize(src io.Reader) error {
	if err := binary.Read(src, binary.BigEndian, &c.LI); err != nil {
		return err
	}
	if c.LI != connectionConfirmLI {
		return ErrSmallConnectionConfirmLength
	}

	if err := binary.Read(src, binary.BigEndian, &c.CCCDT); err != nil {
		return err
	}
	if c.CCCDT&0xF0 != connectionConfirmCode {
		return ErrWrongConnectionConfirmCode
	}

	if err := binary.Read(src, binary.BigEndian, &c.DSTREF); err != nil {
		return err
	}
	if err := binary.Read(src, binary.BigEndian, &c.SRCREF); err != nil {
		return err
	}
	return binary.Read(src, binary.BigEndian, &c.ClassOption)
}

// Data is the X.224 Data TPDU (DT TPDU) wrapping every PDU exchanged after
// the connection is established. Its header is always 2 bytes (code + EOT).
type Data struct {
	LI       uint8
	DTROA    uint8
	NREOT    uint8
	UserData []byte
}

// Serialize encodes the DT TPDU header followed by UserData.
func (d Data) Serialize() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(d.LI)
	buf.WriteByte(d.DTROA)
	buf.WriteByte(d.NREOT)
	buf.Write(d.UserData)
	return buf.Bytes()
}

// Deserialize reads the DT TPDU header, leaving the payload unread in src.
func (d *Data) Deserialize(src io.Reader) error {
	if err := binary.Read(src, binary.BigEndian, &d.LI); err != nil {
		return err
	}
	if d.LI != dataTPDULI {
		return ErrWrongDataLength
	}
	if err := binary.Read(src, binary.BigEndian, &d.DTROA); err != nil {
		return err
	}
	return binary.Read(src, binary.BigEndian, &d.NREOT)
}

// Connect sends a CR TPDU carrying userData (the RDP negotiation request)
// and returns a reader over the CC TPDU's trailing bytes (the RDP
// negotiation response) once the confirm header has validated.
func (p *Protocol) Connect(userData []byte) (io.Reader, error) {
	req := ConnectionRequest{
		CRCDT:    connectionRequestCode,
		UserData: userData,
	}
	if err := p.tpktConn.Send(req.Serialize()); err != nil {
		return nil, fmt.Errorf("client connection request: %w", err)
	}

	wire, err := p.tpktConn.Receive()
	if err != nil {
		return nil, fmt.Errorf("recieve connection response: %w", err)
	}

	var confirm ConnectionConfirm
	if err := confirm.Deserialize(wire); err != nil {
		return nil, fmt.Errorf("server connection confirm: %w", err)
	}

	return wire, nil
}

// Send wraps userData in a DT TPDU and writes it through the TPKT layer.
func (p *Protocol) Send(userData []byte) error {
	data := Data{
		LI:       dataTPDULI,
		DTROA:    dataTPDUCode,
		NREOT:    dataTPDUEOT,
		UserData: userData,
	}
	return p.tpktConn.Send(data.Serialize())
}

// Receive reads one DT TPDU from the TPKT layer and returns its payload.
func (p *Protocol) Receive() (io.Reader, error) {
	wire, err := p.tpktConn.Receive()
	if err != nil {
		return nil, err
	}
	var data Data
	if err := data.Deserialize(wire); err != nil {
		return nil, err
	}
	return wire, nil
}
