package pdu

import (
	"bytes"
	"encoding/binary"
	"io"
)

// originatorID is the fixed TS_CONFIRM_ACTIVE_PDU originatorId field
// (MS-RDPBCGR 2.2.1.13.2), always the server's MCS channel ID.
const originatorID uint16 = 0x03EA

// ServerDemandActive represents the Server Demand Active PDU
// (MS-RDPBCGR 2.2.1.13.1): the server's opening offer of capability sets
// during the capabilities exchange.
type ServerDemandActive struct {
	ShareControlHeader ShareControlHeader
	ShareID            uint32
	SourceDescriptor   []byte
	CapabilitySets     []CapabilitySet
	SessionID          uint32
}

// Deserialize reads one Server Demand Active PDU, including its own
// ShareControlHeader, from wire.
func (pdu *ServerDemandActive) Deserialize(wire io.Reader) error {
	if err := pdu.ShareControlHeader.Deserialize(wire); err != nil {
		return err
	}

	if err := binary.Read(wire, binary.LittleEndian, &pdu.ShareID); err != nil {
		return err
	}

	var lengthSourceDescriptor, lengthCombinedCapabilities uint16
	if err := binary.Read(wire, binary.LittleEndian, &lengthSourceDescriptor); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &lengthCombinedCapabilities); err != nil {
		return err
	}

	pdu.SourceDescriptor = make([]byte, lengthSourceDescriptor)
	if _, err := io.ReadFull(wire, pdu.SourceDescriptor); err != nil {
		return err
	}

	var numberCapabilities, pad2Octets uint16
	if err := binary.Read(wire, binary.LittleEndian, &numberCapabilities); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &pad2Octets); err != nil {
		return err
	}

	pdu.CapabilitySets = make([]CapabilitySet, numberCapabilities)
	for i := range pdu.CapabilitySets {
		if err := pdu.CapabilitySets[i].Deserialize(wire); err != nil {
			return err
		}
	}

	// sessionId is present for server demand active PDUs that follow the
	// full connection sequence; best-effort read, ignored if absent.
	_ = binary.Read(wire, binary.LittleEndian, &pdu.SessionID)

	return nil
}

// ClientConfirmActive represents the Client Confirm Active PDU
// (MS-RDPBCGR 2.2.1.13.2): the client's accepted capability set, echoed back
// to the server in response to a Server Demand Active PDU.
type ClientConfirmActive struct {
	ShareControlHeader ShareControlHeader
	ShareID            uint32
	SourceDescriptor   []byte
	CapabilitySets     []CapabilitySet
}

// NewClientConfirmActive builds the standard capability set list a client
// advertises back to the server, per MS-RDPBCGR 2.2.1.13.2. When isRemoteApp
// is true, Rail and WindowList capability sets are appended for RemoteApp
// sessions (MS-RDPERP 2.2.1.1.1).
func NewClientConfirmActive(shareID uint32, userID uint16, width, height uint16, isRemoteApp bool) ClientConfirmActive {
	capabilitySets := []CapabilitySet{
		NewGeneralCapabilitySet(),
		NewBitmapCapabilitySet(width, height),
		NewOrderCapabilitySet(),
		NewBitmapCacheCapabilitySetRev1(),
		NewColorCacheCapabilitySet(),
		NewPointerCapabilitySet(),
		NewInputCapabilitySet(),
		NewBrushCapabilitySet(),
		NewGlyphCacheCapabilitySet(),
		NewOffscreenBitmapCacheCapabilitySet(),
		NewVirtualChannelCapabilitySet(),
		NewSoundCapabilitySet(),
		NewMultifragmentUpdateCapabilitySet(),
		NewLargePointerCapabilitySet(),
		NewFrameAcknowledgeCapabilitySet(),
		NewSurfaceCommandsCapabilitySet(),
		NewBitmapCodecsCapabilitySet(),
	}

	if isRemoteApp {
		capabilitySets = append(capabilitySets, NewRailCapabilitySet(), NewWindowListCapabilitySet())
	}

	return ClientConfirmActive{
		ShareControlHeader: ShareControlHeader{
			PDUType:   TypeConfirmActive,
			PDUSource: userID,
		},
		ShareID:        shareID,
		CapabilitySets: capabilitySets,
	}
}

// Serialize encodes the Client Confirm Active PDU, including its own
// ShareControlHeader, to wire format.
func (pdu *ClientConfirmActive) Serialize() []byte {
	var combinedCapabilities bytes.Buffer
	for i := range pdu.CapabilitySets {
		combinedCapabilities.Write(pdu.CapabilitySets[i].Serialize())
	}

	body := new(bytes.Buffer)
	_ = binary.Write(body, binary.LittleEndian, pdu.ShareID)
	_ = binary.Write(body, binary.LittleEndian, originatorID)
	_ = binary.Write(body, binary.LittleEndian, uint16(0)) // lengthSourceDescriptor
	_ = binary.Write(body, binary.LittleEndian, uint16(4+combinedCapabilities.Len()))
	// sourceDescriptor omitted (zero length)
	_ = binary.Write(body, binary.LittleEndian, uint16(len(pdu.CapabilitySets)))
	_ = binary.Write(body, binary.LittleEndian, uint16(0)) // pad2Octets
	body.Write(combinedCapabilities.Bytes())

	pdu.ShareControlHeader.TotalLength = uint16(6 + body.Len())

	buf := new(bytes.Buffer)
	buf.Write(pdu.ShareControlHeader.Serialize())
	buf.Write(body.Bytes())

	return buf.Bytes()
}

// Deserialize reads one Client Confirm Active PDU, including its own
// ShareControlHeader, from wire.
func (pdu *ClientConfirmActive) Deserialize(wire io.Reader) error {
	if err := pdu.ShareControlHeader.Deserialize(wire); err != nil {
		return err
	}

	if err := binary.Read(wire, binary.LittleEndian, &pdu.ShareID); err != nil {
		return err
	}

	var originator, lengthSourceDescriptor, lengthCombinedCapabilities uint16
	if err := binary.Read(wire, binary.LittleEndian, &originator); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &lengthSourceDescriptor); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &lengthCombinedCapabilities); err != nil {
		return err
	}

	pdu.SourceDescriptor = make([]byte, lengthSourceDescriptor)
	if _, err := io.ReadFull(wire, pdu.SourceDescriptor); err != nil {
		return err
	}

	var numberCapabilities, pad2Octets uint16
	if err := binary.Read(wire, binary.LittleEndian, &numberCapabilities); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &pad2Octets); err != nil {
		return err
	}

	pdu.CapabilitySets = make([]CapabilitySet, numberCapabilities)
	for i := range pdu.CapabilitySets {
		if err := pdu.CapabilitySets[i].Deserialize(wire); err != nil {
			return err
		}
	}

	return nil
}
