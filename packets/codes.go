// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// Code contains a return code and reason string for a response.
type Code struct {
	Reason string
	Code   byte
}

// String returns the readable reason for a code.
func (c Code) String() string {
	return c.Reason
}

// Error returns the readable reason for a code.
func (c Code) Error() string {
	return c.Reason
}

var (
	// ReturnCodes maps the MQTT-SN return code byte to its code.
	ReturnCodes = map[byte]Code{
		0x00: CodeAccepted,
		0x01: ErrRejectedCongestion,
		0x02: ErrRejectedInvalidTopicID,
		0x03: ErrRejectedNotSupported,
	}

	CodeAccepted                      = Code{Code: 0x00, Reason: "accepted"}
	ErrRejectedCongestion             = Code{Code: 0x01, Reason: "rejected: congestion"}
	ErrRejectedInvalidTopicID         = Code{Code: 0x02, Reason: "rejected: invalid topic id"}
	ErrRejectedNotSupported           = Code{Code: 0x03, Reason: "rejected: not supported"}
	ErrRejectedUnknown                = Code{Code: 0x04, Reason: "rejected: unknown return code"}
	ErrMalformedPacket                = Code{Code: 0x81, Reason: "malformed packet"}
	ErrMalformedHeader                = Code{Code: 0x81, Reason: "malformed packet: header"}
	ErrMalformedLength                = Code{Code: 0x81, Reason: "malformed packet: length"}
	ErrMalformedFlags                 = Code{Code: 0x81, Reason: "malformed packet: flags"}
	ErrMalformedProtocolID            = Code{Code: 0x81, Reason: "malformed packet: protocol id"}
	ErrMalformedDuration              = Code{Code: 0x81, Reason: "malformed packet: duration"}
	ErrMalformedClientID              = Code{Code: 0x81, Reason: "malformed packet: client id"}
	ErrMalformedTopicID               = Code{Code: 0x81, Reason: "malformed packet: topic id"}
	ErrMalformedTopicName             = Code{Code: 0x81, Reason: "malformed packet: topic name"}
	ErrMalformedPacketID              = Code{Code: 0x81, Reason: "malformed packet: packet identifier"}
	ErrMalformedReturnCode            = Code{Code: 0x81, Reason: "malformed packet: return code"}
	ErrMalformedInvalidUTF8           = Code{Code: 0x81, Reason: "malformed packet: invalid utf-8 string"}
	ErrMalformedOffsetUintOutOfRange  = Code{Code: 0x81, Reason: "malformed packet: offset uint out of range"}
	ErrMalformedOffsetByteOutOfRange  = Code{Code: 0x81, Reason: "malformed packet: offset byte out of range"}
	ErrProtocolViolation              = Code{Code: 0x82, Reason: "protocol violation"}
	ErrProtocolViolationProtocolID    = Code{Code: 0x82, Reason: "protocol violation: protocol id"}
	ErrProtocolViolationNoClientID    = Code{Code: 0x82, Reason: "protocol violation: missing client id"}
	ErrProtocolViolationNoTopicName   = Code{Code: 0x82, Reason: "protocol violation: missing topic name"}
	ErrProtocolViolationWildcardTopic = Code{Code: 0x82, Reason: "protocol violation: wildcard in topic name"}
	ErrProtocolViolationNoTopicID     = Code{Code: 0x82, Reason: "protocol violation: missing topic id"}
	ErrProtocolViolationNoPacketID    = Code{Code: 0x82, Reason: "protocol violation: missing packet id"}
	ErrProtocolViolationQosOutOfRange = Code{Code: 0x82, Reason: "protocol violation: qos out of range"}
	ErrPacketTooLarge                 = Code{Code: 0x83, Reason: "packet too large"}
	ErrUnknownPacketType              = Code{Code: 0x84, Reason: "unknown packet type"}
)

// ReturnCode returns the code for a return code byte received from a gateway.
// Values outside the defined range are reported as ErrRejectedUnknown.
func ReturnCode(b byte) Code {
	if c, ok := ReturnCodes[b]; ok {
		return c
	}

	return Code{Code: b, Reason: ErrRejectedUnknown.Reason}
}
