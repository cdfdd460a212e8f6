package mcs

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-rdp/rdpgo/internal/protocol/encoding"
)

// DomainPDUApplication identifies the domain MCS PDU carried by a DomainPDU,
// per T.125 DomainMCSPDU. The numeric values match the CHOICE index order of
// the ASN.1 definition.
type DomainPDUApplication uint8

const (
	plumbDomainIndication DomainPDUApplication = iota
	erectDomainRequest
	mergeChannelsRequest
	mergeChannelsConfirm
	purgeChannelsIndication
	mergeTokensRequest
	mergeTokensConfirm
	purgeTokensIndication
	disconnectProviderUltimatum
	rejectMCSPDUUltimatum
	attachUserRequest
	attachUserConfirm
	detachUserRequest
	detachUserIndication
	channelJoinRequest
	channelJoinConfirm
	channelLeaveRequest
	channelConveneRequest
	channelConveneConfirm
	channelDisbandRequest
	channelDisbandIndication
	channelAdmitRequest
	channelAdmitIndication
	channelExpelRequest
	channelExpelIndication
	// SendDataRequest and SendDataIndication are exported: callers outside
	// the package (tests, mainly) assert the channel this client sends
	// application data on is still the expected domain PDU application.
	SendDataRequest
	SendDataIndication
	uniformSendDataRequest
	uniformSendDataIndication
)

// DomainPDU is the tagged union of domain MCS PDUs this client sends and
// receives during and after the MCS connection sequence. Only one of the
// pointer fields is populated, selected by Application.
type DomainPDU struct {
	Application DomainPDUApplication

	ClientErectDomainRequest *ClientErectDomainRequest
	ClientAttachUserRequest  *ClientAttachUserRequest
	ClientChannelJoinRequest *ClientChannelJoinRequest
	ClientSendDataRequest    *ClientSendDataRequest

	ServerAttachUserConfirm  *ServerAttachUserConfirm
	ServerChannelJoinConfirm *ServerChannelJoinConfirm
	ServerSendDataIndication *ServerSendDataIndication
}

// Serialize encodes the domain MCS PDU this client can originate. The
// application tag is PER-encoded as (tag << 2); the low two bits, used by
// the protocol to flag optional trailing fields on some confirm PDUs, are
// left clear since this client never sends those.
func (pdu *DomainPDU) Serialize() []byte {
	choice := uint8(pdu.Application) << 2

	switch pdu.Application {
	case erectDomainRequest:
		return append([]byte{choice}, pdu.ClientErectDomainRequest.Serialize()...)
	case attachUserRequest:
		return append([]byte{choice}, pdu.ClientAttachUserRequest.Serialize()...)
	case channelJoinRequest:
		return append([]byte{choice}, pdu.ClientChannelJoinRequest.Serialize()...)
	case SendDataRequest:
		return append([]byte{choice}, pdu.ClientSendDataRequest.Serialize()...)
	case disconnectProviderUltimatum:
		// RNUserRequested, PER-enumerated with the extension bit this
		// client uses to request a graceful teardown.
		return []byte{choice | 1, 0x80}
	default:
		return nil
	}
}

// Deserialize reads one domain MCS PDU this client can receive from wire.
func (pdu *DomainPDU) Deserialize(wire io.Reader) error {
	choice, err := encoding.PerReadChoice(wire)
	if err != nil {
		return err
	}

	pdu.Application = DomainPDUApplication(choice >> 2)

	switch pdu.Application {
	case attachUserConfirm:
		pdu.ServerAttachUserConfirm = &ServerAttachUserConfirm{}
		return pdu.ServerAttachUserConfirm.Deserialize(wire)
	case channelJoinConfirm:
		pdu.ServerChannelJoinConfirm = &ServerChannelJoinConfirm{}
		return pdu.ServerChannelJoinConfirm.Deserialize(wire)
	case SendDataIndication:
		pdu.ServerSendDataIndication = &ServerSendDataIndication{}
		return pdu.ServerSendDataIndication.Deserialize(wire)
	case SendDataRequest:
		pdu.ClientSendDataRequest = &ClientSendDataRequest{}
		return pdu.ClientSendDataRequest.Deserialize(wire)
	case disconnectProviderUltimatum:
		return ErrDisconnectUltimatum
	default:
		return ErrUnknownDomainApplication
	}
}

// ClientAttachUserRequest is the body of the Attach User Request domain PDU
// (T.125 8.4.3); it carries no fields.
type ClientAttachUserRequest struct{}

func (pdu *ClientAttachUserRequest) Serialize() []byte {
	return nil
}

// ServerAttachUserConfirm is the response to a ClientAttachUserRequest,
// carrying the MCS user ID the server assigned to this connection.
type ServerAttachUserConfirm struct {
	Result    uint8
	Initiator uint16
}

func (pdu *ServerAttachUserConfirm) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.BigEndian, &pdu.Result); err != nil {
		return err
	}

	var err error
	pdu.Initiator, err = encoding.PerReadInteger16(1001, wire)
	return err
}

// ClientChannelJoinRequest is the body of the Channel Join Request domain
// PDU (T.125 8.6.3), requesting the MCS domain admit the given channel for
// the given user.
type ClientChannelJoinRequest struct {
	Initiator uint16
	ChannelId uint16
}

func (pdu *ClientChannelJoinRequest) Serialize() []byte {
	var buf [4]byte

	binary.BigEndian.PutUint16(buf[0:2], pdu.Initiator-1001)
	binary.BigEndian.PutUint16(buf[2:4], pdu.ChannelId)

	return buf[:]
}

// ServerChannelJoinConfirm is the response to a ClientChannelJoinRequest.
// ChannelId is only present when the server admits a different channel than
// Requested; if absent it is left zero.
type ServerChannelJoinConfirm struct {
	Result    uint8
	Initiator uint16
	Requested uint16
	ChannelId uint16
}

func (pdu *ServerChannelJoinConfirm) Deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.BigEndian, &pdu.Result); err != nil {
		return err
	}

	var err error

	pdu.Initiator, err = encoding.PerReadInteger16(1001, wire)
	if err != nil {
		return err
	}

	pdu.Requested, err = encoding.PerReadInteger16(0, wire)
	if err != nil {
		return err
	}

	pdu.ChannelId, _ = encoding.PerReadInteger16(0, wire)

	return nil
}

// AttachUser sends the Attach User Request and waits for the server to
// assign this connection's MCS user ID.
func (p *Protocol) AttachUser() (uint16, error) {
	req := DomainPDU{
		Application:             attachUserRequest,
		ClientAttachUserRequest: &ClientAttachUserRequest{},
	}

	if err := p.x224Conn.Send(req.Serialize()); err != nil {
		return 0, fmt.Errorf("client MCS attach user request: %w", err)
	}

	wire, err := p.x224Conn.Receive()
	if err != nil {
		return 0, fmt.Errorf("client MCS attach user confirm: %w", err)
	}

	var resp DomainPDU
	if err := resp.Deserialize(wire); err != nil {
		return 0, fmt.Errorf("client MCS attach user confirm: %w", err)
	}

	if resp.ServerAttachUserConfirm == nil {
		return 0, ErrUnknownDomainApplication
	}

	if resp.ServerAttachUserConfirm.Result != RTSuccessful {
		return 0, fmt.Errorf("client MCS attach user confirm: result %d", resp.ServerAttachUserConfirm.Result)
	}

	return resp.ServerAttachUserConfirm.Initiator, nil
}

// JoinChannels requests the MCS domain admit every channel in channelIDMap
// for userID, one Channel Join Request per channel.
func (p *Protocol) JoinChannels(userID uint16, channelIDMap map[string]uint16) error {
	for name, channelID := range channelIDMap {
		req := DomainPDU{
			Application: channelJoinRequest,
			ClientChannelJoinRequest: &ClientChannelJoinRequest{
				Initiator: userID,
				ChannelId: channelID,
			},
		}

		if err := p.x224Conn.Send(req.Serialize()); err != nil {
			return fmt.Errorf("client MCS channel join request (%s): %w", name, err)
		}

		wire, err := p.x224Conn.Receive()
		if err != nil {
			return fmt.Errorf("client MCS channel join confirm (%s): %w", name, err)
		}

		var resp DomainPDU
		if err := resp.Deserialize(wire); err != nil {
			return fmt.Errorf("client MCS channel join confirm (%s): %w", name, err)
		}

		if resp.ServerChannelJoinConfirm == nil {
			return ErrUnknownDomainApplication
		}

		if resp.ServerChannelJoinConfirm.Result != RTSuccessful {
			return fmt.Errorf("client MCS channel join confirm (%s): result %d", name, resp.ServerChannelJoinConfirm.Result)
		}
	}

	return nil
}

// Disconnect sends a Disconnect Provider Ultimatum, the domain MCS PDU this
// client uses to tear the MCS domain down gracefully before closing the
// underlying transport.
func (p *Protocol) Disconnect() error {
	req := DomainPDU{Application: disconnectProviderUltimatum}
	return p.x224Conn.Send(req.Serialize())
}
