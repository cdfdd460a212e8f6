package mcs

import "errors"

var (
	// ErrChannelNotFound is returned when a requested channel name has no
	// entry in the channel map built during the connect sequence.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrUnknownConnectApplication is returned when a Connect-Initial or
	// Connect-Response PDU carries an application tag this client does not
	// implement.
	ErrUnknownConnectApplication = errors.New("unknown connect application")
	// ErrUnknownDomainApplication is returned when a domain MCS PDU carries
	// an application tag this client does not expect to receive.
	ErrUnknownDomainApplication = errors.New("unknown domain application")
	// ErrUnknownChannel is returned when data arrives on a channel ID the
	// client has no handler for.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrDisconnectUltimatum is returned when the server tears down the MCS
	// domain with a Disconnect Provider Ultimatum.
	ErrDisconnectUltimatum = errors.New("disconnect ultimatum")
)
