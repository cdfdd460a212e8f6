package mcs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-rdp/rdpgo/internal/protocol/encoding"
)

// ConnectPDUApplication identifies the GCC Connect PDU carried by a
// ConnectPDU, per T.125 Connect-GCC-PDU. The numeric values are the BER
// application tags assigned by the standard.
type ConnectPDUApplication uint8

const (
	connectInitial ConnectPDUApplication = 101 + iota
	connectResponse
	connectAdditional
	connectResult
)

// ConnectPDU is the tagged union of GCC Connect PDUs exchanged while
// establishing the MCS connection. Only one of the pointer fields is
// populated, selected by Application.
type ConnectPDU struct {
	Application ConnectPDUApplication

	ClientConnectInitial  *ClientConnectInitial
	ServerConnectResponse *ServerConnectResponse
}

// Serialize encodes the Connect Initial PDU this client sends to open the
// MCS connection.
func (pdu *ConnectPDU) Serialize() []byte {
	var body []byte
	if pdu.Application == connectInitial && pdu.ClientConnectInitial != nil {
		body = pdu.ClientConnectInitial.Serialize()
	}

	buf := new(bytes.Buffer)
	encoding.BerWriteApplicationTag(uint8(pdu.Application), len(body), buf)
	buf.Write(body)

	return buf.Bytes()
}

// Deserialize reads the Connect Response PDU the server replies with.
func (pdu *ConnectPDU) Deserialize(wire io.Reader) error {
	tag, err := encoding.BerReadApplicationTag(wire)
	if err != nil {
		return err
	}

	pdu.Application = ConnectPDUApplication(tag)

	switch pdu.Application {
	case connectResponse:
		if _, err := encoding.BerReadLength(wire); err != nil {
			return err
		}

		pdu.ServerConnectResponse = &ServerConnectResponse{}
		return pdu.ServerConnectResponse.Deserialize(wire)
	default:
		return ErrUnknownConnectApplication
	}
}

// ClientConnectInitial is the GCC Connect Initial PDU body (T.125 7.1),
// carrying the domain parameter proposal and the opaque GCC Conference
// Create Request that rides along as userData.
type ClientConnectInitial struct {
	calledDomainSelector  []byte
	callingDomainSelector []byte
	upwardFlag            bool

	targetParameters  domainParameters
	minimumParameters domainParameters
	maximumParameters domainParameters

	userData []byte
}

// NewClientMCSConnectInitial builds the Connect Initial PDU this client
// proposes, using the fixed domain parameter ranges every RDP client
// advertises, wrapping userData (the GCC Conference Create Request).
func NewClientMCSConnectInitial(userData []byte) *ClientConnectInitial {
	return &ClientConnectInitial{
		calledDomainSelector:  []byte{0x01},
		callingDomainSelector: []byte{0x01},
		upwardFlag:            true,
		targetParameters: domainParameters{
			maxChannelIds:   34,
			maxUserIds:      2,
			maxTokenIds:     0,
			numPriorities:   1,
			minThroughput:   0,
			maxHeight:       1,
			maxMCSPDUsize:   65535,
			protocolVersion: 2,
		},
		minimumParameters: domainParameters{
			maxChannelIds:   1,
			maxUserIds:      1,
			maxTokenIds:     1,
			numPriorities:   1,
			minThroughput:   0,
			maxHeight:       1,
			maxMCSPDUsize:   1056,
			protocolVersion: 2,
		},
		maximumParameters: domainParameters{
			maxChannelIds:   65535,
			maxUserIds:      65535,
			maxTokenIds:     65535,
			numPriorities:   1,
			minThroughput:   0,
			maxHeight:       1,
			maxMCSPDUsize:   65535,
			protocolVersion: 2,
		},
		userData: userData,
	}
}

// Serialize encodes the Connect Initial PDU body (without its own
// application tag, added by ConnectPDU.Serialize).
func (pdu *ClientConnectInitial) Serialize() []byte {
	buf := new(bytes.Buffer)

	encoding.BerWriteOctetString(pdu.calledDomainSelector, buf)
	encoding.BerWriteOctetString(pdu.callingDomainSelector, buf)
	encoding.BerWriteBoolean(pdu.upwardFlag, buf)

	encoding.BerWriteSequence(pdu.targetParameters.Serialize(), buf)
	encoding.BerWriteSequence(pdu.minimumParameters.Serialize(), buf)
	encoding.BerWriteSequence(pdu.maximumParameters.Serialize(), buf)

	encoding.BerWriteOctetString(pdu.userData, buf)

	return buf.Bytes()
}

// ServerConnectResponse is the GCC Connect Response PDU body (T.125 7.2):
// the server's accepted domain parameters and its own Conference Create
// Response, carried as UserData.
type ServerConnectResponse struct {
	Result          uint8
	CalledConnectId int

	DomainParameters domainParameters

	UserData []byte
}

func (pdu *ServerConnectResponse) Deserialize(wire io.Reader) error {
	result, err := encoding.BerReadEnumerated(wire)
	if err != nil {
		return err
	}
	pdu.Result = result

	pdu.CalledConnectId, err = encoding.BerReadInteger(wire)
	if err != nil {
		return err
	}

	isSequence, err := encoding.BerReadUniversalTag(encoding.TagSequence, true, wire)
	if err != nil {
		return err
	}
	if !isSequence {
		return errors.New("mcs: bad ber tag for domain parameters")
	}

	if _, err := encoding.BerReadLength(wire); err != nil {
		return err
	}

	if err := pdu.DomainParameters.Deserialize(wire); err != nil {
		return err
	}

	var octetTag uint8
	if err := binary.Read(wire, binary.BigEndian, &octetTag); err != nil {
		return err
	}
	if octetTag != encoding.TagOctetString {
		return errors.New("mcs: bad ber tag for user data")
	}

	length, err := encoding.BerReadLength(wire)
	if err != nil {
		return err
	}

	pdu.UserData = make([]byte, length)
	_, err = io.ReadFull(wire, pdu.UserData)
	return err
}

// Connect establishes the MCS connection: it sends a Connect Initial PDU
// carrying userData (the GCC Conference Create Request) and returns the
// server's Conference Create Response once the Connect Response PDU comes
// back successfully.
func (p *Protocol) Connect(userData []byte) (io.Reader, error) {
	req := ConnectPDU{
		Application:          connectInitial,
		ClientConnectInitial: NewClientMCSConnectInitial(userData),
	}

	if err := p.x224Conn.Send(req.Serialize()); err != nil {
		return nil, fmt.Errorf("client MCS connect initial: %w", err)
	}

	wire, err := p.x224Conn.Receive()
	if err != nil {
		return nil, fmt.Errorf("client MCS connect response: %w", err)
	}

	var resp ConnectPDU
	if err := resp.Deserialize(wire); err != nil {
		return nil, fmt.Errorf("client MCS connect response: %w", err)
	}

	if resp.ServerConnectResponse == nil {
		return nil, ErrUnknownConnectApplication
	}

	if resp.ServerConnectResponse.Result != RTSuccessful {
		return nil, fmt.Errorf("client MCS connect response: result %d", resp.ServerConnectResponse.Result)
	}

	return bytes.NewReader(resp.ServerConnectResponse.UserData), nil
}
