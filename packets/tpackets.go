// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"bytes"
)

// TPacketCase contains data for cross-checking the encoding and decoding
// of packets and expected scenarios.
type TPacketCase struct {
	RawBytes  []byte  // the bytes that make the packet
	Group     string  // a group that should run the test, blank for all
	Desc      string  // a description of the test
	FailFirst error   // expected fail result to be run immediately after the method is called
	Packet    *Packet // the packet that is Expected
	Expect    error   // generic Expected fail result to be checked
	Primary   bool    // primary is a test that should be run using ReadPacket
	Case      byte    // the identifying byte of the case
}

// TPacketCases is a slice of TPacketCase.
type TPacketCases []TPacketCase

// Get returns a case matching a given T byte.
func (f TPacketCases) Get(b byte) TPacketCase {
	for _, v := range f {
		if v.Case == b {
			return v
		}
	}

	return TPacketCase{}
}

const (
	TConnect byte = iota
	TConnectNoClean
	TConnectMalFlags
	TConnectMalProtocolID
	TConnectMalDuration
	TConnectMalClientID
	TConnectInvalidProtocolID
	TConnectInvalidNoClientID
	TConnack
	TConnackRejectedCongestion
	TConnackMalReturnCode
	TRegister
	TRegisterMalTopicID
	TRegisterMalPacketID
	TRegisterMalTopicName
	TRegisterInvalidNoPacketID
	TRegisterInvalidNoTopicName
	TRegisterInvalidWildcard
	TRegack
	TRegackRejectedNotSupported
	TRegackMalPacketID
	TRegackMalReturnCode
	TPublishQos1
	TPublishQos0Retain
	TPublishLong
	TPublishMalFlags
	TPublishMalTopicID
	TPublishMalPacketID
	TPublishInvalidNoPacketID
	TPublishInvalidNoTopicID
	TPuback
	TPubackRejectedInvalidTopicID
	TPubackMalTopicID
	TPubackMalReturnCode
	TPingreq
	TPingreqClientID
	TPingresp
	TDisconnect
	TDisconnectDuration
	TDisconnectMalDuration
)

// TelemetryTopic is the topic name used throughout the packet tests.
const TelemetryTopic = "devices/dev1/messages/events/"

// longPayload is a payload which forces the three byte length header.
var longPayload = bytes.Repeat([]byte{'x'}, 300)

// TPacketData contains individual encoding and decoding scenarios for each packet type.
var TPacketData = map[byte]TPacketCases{
	Connect: {
		{
			Case:    TConnect,
			Desc:    "clean session",
			Primary: true,
			RawBytes: []byte{
				10, Connect, // length, type
				0x04,       // flags: clean session
				0x01,       // protocol id
				0x01, 0x90, // duration 400
				'd', 'e', 'v', '1', // client id
			},
			Packet: &Packet{
				Header:     Header{Length: 10, Type: Connect},
				Flags:      Flags{CleanSession: true},
				ProtocolID: ProtocolID,
				Duration:   400,
				ClientID:   "dev1",
			},
		},
		{
			Case: TConnectNoClean,
			Desc: "persistent session",
			RawBytes: []byte{
				10, Connect,
				0x00,
				0x01,
				0x00, 0x3c, // duration 60
				'd', 'e', 'v', '1',
			},
			Packet: &Packet{
				Header:     Header{Length: 10, Type: Connect},
				ProtocolID: ProtocolID,
				Duration:   60,
				ClientID:   "dev1",
			},
		},
		{
			Case:      TConnectMalFlags,
			Desc:      "malformed flags",
			Group:     "decode",
			FailFirst: ErrMalformedFlags,
			RawBytes:  []byte{2, Connect},
		},
		{
			Case:      TConnectMalProtocolID,
			Desc:      "malformed protocol id",
			Group:     "decode",
			FailFirst: ErrMalformedProtocolID,
			RawBytes:  []byte{3, Connect, 0x04},
		},
		{
			Case:      TConnectMalDuration,
			Desc:      "malformed duration",
			Group:     "decode",
			FailFirst: ErrMalformedDuration,
			RawBytes:  []byte{5, Connect, 0x04, 0x01, 0x01},
		},
		{
			Case:      TConnectMalClientID,
			Desc:      "malformed client id",
			Group:     "decode",
			FailFirst: ErrMalformedClientID,
			RawBytes:  []byte{6, Connect, 0x04, 0x01, 0x01, 0x90},
		},
		{
			Case:   TConnectInvalidProtocolID,
			Desc:   "invalid protocol id",
			Group:  "validate",
			Expect: ErrProtocolViolationProtocolID,
			Packet: &Packet{
				Header:     Header{Type: Connect},
				ProtocolID: 0x02,
				ClientID:   "dev1",
			},
		},
		{
			Case:   TConnectInvalidNoClientID,
			Desc:   "no client id",
			Group:  "validate",
			Expect: ErrProtocolViolationNoClientID,
			Packet: &Packet{
				Header:     Header{Type: Connect},
				ProtocolID: ProtocolID,
			},
		},
	},
	Connack: {
		{
			Case:     TConnack,
			Desc:     "accepted",
			Primary:  true,
			RawBytes: []byte{3, Connack, 0x00},
			Packet: &Packet{
				Header:     Header{Length: 3, Type: Connack},
				ReturnCode: CodeAccepted.Code,
			},
		},
		{
			Case:     TConnackRejectedCongestion,
			Desc:     "rejected congestion",
			RawBytes: []byte{3, Connack, 0x01},
			Packet: &Packet{
				Header:     Header{Length: 3, Type: Connack},
				ReturnCode: ErrRejectedCongestion.Code,
			},
		},
		{
			Case:      TConnackMalReturnCode,
			Desc:      "malformed return code",
			Group:     "decode",
			FailFirst: ErrMalformedReturnCode,
			RawBytes:  []byte{2, Connack},
		},
	},
	Register: {
		{
			Case:    TRegister,
			Desc:    "register",
			Primary: true,
			RawBytes: append([]byte{
				35, Register,
				0x00, 0x00, // topic id
				0x00, 0x01, // packet id
			}, []byte(TelemetryTopic)...),
			Packet: &Packet{
				Header:    Header{Length: 35, Type: Register},
				PacketID:  1,
				TopicName: TelemetryTopic,
			},
		},
		{
			Case:      TRegisterMalTopicID,
			Desc:      "malformed topic id",
			Group:     "decode",
			FailFirst: ErrMalformedTopicID,
			RawBytes:  []byte{3, Register, 0x00},
		},
		{
			Case:      TRegisterMalPacketID,
			Desc:      "malformed packet id",
			Group:     "decode",
			FailFirst: ErrMalformedPacketID,
			RawBytes:  []byte{5, Register, 0x00, 0x00, 0x00},
		},
		{
			Case:      TRegisterMalTopicName,
			Desc:      "malformed topic name",
			Group:     "decode",
			FailFirst: ErrMalformedTopicName,
			RawBytes:  []byte{6, Register, 0x00, 0x00, 0x00, 0x01},
		},
		{
			Case:   TRegisterInvalidNoPacketID,
			Desc:   "no packet id",
			Group:  "validate",
			Expect: ErrProtocolViolationNoPacketID,
			Packet: &Packet{
				Header:    Header{Type: Register},
				TopicName: TelemetryTopic,
			},
		},
		{
			Case:   TRegisterInvalidNoTopicName,
			Desc:   "no topic name",
			Group:  "validate",
			Expect: ErrProtocolViolationNoTopicName,
			Packet: &Packet{
				Header:   Header{Type: Register},
				PacketID: 1,
			},
		},
		{
			Case:   TRegisterInvalidWildcard,
			Desc:   "wildcard topic name",
			Group:  "validate",
			Expect: ErrProtocolViolationWildcardTopic,
			Packet: &Packet{
				Header:    Header{Type: Register},
				PacketID:  1,
				TopicName: "devices/+/messages/events/",
			},
		},
	},
	Regack: {
		{
			Case:    TRegack,
			Desc:    "accepted",
			Primary: true,
			RawBytes: []byte{
				7, Regack,
				0x00, 0x07, // topic id
				0x00, 0x01, // packet id
				0x00, // return code
			},
			Packet: &Packet{
				Header:   Header{Length: 7, Type: Regack},
				TopicID:  7,
				PacketID: 1,
			},
		},
		{
			Case:     TRegackRejectedNotSupported,
			Desc:     "rejected not supported",
			RawBytes: []byte{7, Regack, 0x00, 0x00, 0x00, 0x01, 0x03},
			Packet: &Packet{
				Header:     Header{Length: 7, Type: Regack},
				PacketID:   1,
				ReturnCode: ErrRejectedNotSupported.Code,
			},
		},
		{
			Case:      TRegackMalPacketID,
			Desc:      "malformed packet id",
			Group:     "decode",
			FailFirst: ErrMalformedPacketID,
			RawBytes:  []byte{5, Regack, 0x00, 0x07, 0x00},
		},
		{
			Case:      TRegackMalReturnCode,
			Desc:      "malformed return code",
			Group:     "decode",
			FailFirst: ErrMalformedReturnCode,
			RawBytes:  []byte{6, Regack, 0x00, 0x07, 0x00, 0x01},
		},
	},
	Publish: {
		{
			Case:    TPublishQos1,
			Desc:    "qos 1",
			Primary: true,
			RawBytes: []byte{
				12, Publish,
				0x20,       // flags: qos 1, normal topic id
				0x00, 0x07, // topic id
				0x00, 0x02, // packet id
				'h', 'e', 'l', 'l', 'o',
			},
			Packet: &Packet{
				Header:   Header{Length: 12, Type: Publish},
				Flags:    Flags{Qos: 1},
				TopicID:  7,
				PacketID: 2,
				Payload:  []byte("hello"),
			},
		},
		{
			Case: TPublishQos0Retain,
			Desc: "qos 0 retain",
			RawBytes: []byte{
				9, Publish,
				0x10,
				0x00, 0x07,
				0x00, 0x00,
				'h', 'i',
			},
			Packet: &Packet{
				Header:  Header{Length: 9, Type: Publish},
				Flags:   Flags{Retain: true},
				TopicID: 7,
				Payload: []byte("hi"),
			},
		},
		{
			Case: TPublishLong,
			Desc: "three byte length",
			RawBytes: append([]byte{
				0x01, 0x01, 0x35, Publish, // 309
				0x20,
				0x00, 0x07,
				0x00, 0x03,
			}, longPayload...),
			Packet: &Packet{
				Header:   Header{Length: 309, Type: Publish},
				Flags:    Flags{Qos: 1},
				TopicID:  7,
				PacketID: 3,
				Payload:  longPayload,
			},
		},
		{
			Case:      TPublishMalFlags,
			Desc:      "malformed flags",
			Group:     "decode",
			FailFirst: ErrMalformedFlags,
			RawBytes:  []byte{2, Publish},
		},
		{
			Case:      TPublishMalTopicID,
			Desc:      "malformed topic id",
			Group:     "decode",
			FailFirst: ErrMalformedTopicID,
			RawBytes:  []byte{4, Publish, 0x20, 0x00},
		},
		{
			Case:      TPublishMalPacketID,
			Desc:      "malformed packet id",
			Group:     "decode",
			FailFirst: ErrMalformedPacketID,
			RawBytes:  []byte{6, Publish, 0x20, 0x00, 0x07, 0x00},
		},
		{
			Case:   TPublishInvalidNoPacketID,
			Desc:   "qos 1 no packet id",
			Group:  "validate",
			Expect: ErrProtocolViolationNoPacketID,
			Packet: &Packet{
				Header:  Header{Type: Publish},
				Flags:   Flags{Qos: 1},
				TopicID: 7,
				Payload: []byte("hello"),
			},
		},
		{
			Case:   TPublishInvalidNoTopicID,
			Desc:   "no topic id",
			Group:  "validate",
			Expect: ErrProtocolViolationNoTopicID,
			Packet: &Packet{
				Header:  Header{Type: Publish},
				Payload: []byte("hello"),
			},
		},
	},
	Puback: {
		{
			Case:    TPuback,
			Desc:    "accepted",
			Primary: true,
			RawBytes: []byte{
				7, Puback,
				0x00, 0x07,
				0x00, 0x02,
				0x00,
			},
			Packet: &Packet{
				Header:   Header{Length: 7, Type: Puback},
				TopicID:  7,
				PacketID: 2,
			},
		},
		{
			Case:     TPubackRejectedInvalidTopicID,
			Desc:     "rejected invalid topic id",
			RawBytes: []byte{7, Puback, 0x00, 0x07, 0x00, 0x02, 0x02},
			Packet: &Packet{
				Header:     Header{Length: 7, Type: Puback},
				TopicID:    7,
				PacketID:   2,
				ReturnCode: ErrRejectedInvalidTopicID.Code,
			},
		},
		{
			Case:      TPubackMalTopicID,
			Desc:      "malformed topic id",
			Group:     "decode",
			FailFirst: ErrMalformedTopicID,
			RawBytes:  []byte{3, Puback, 0x00},
		},
		{
			Case:      TPubackMalReturnCode,
			Desc:      "malformed return code",
			Group:     "decode",
			FailFirst: ErrMalformedReturnCode,
			RawBytes:  []byte{6, Puback, 0x00, 0x07, 0x00, 0x02},
		},
	},
	Pingreq: {
		{
			Case:     TPingreq,
			Desc:     "pingreq",
			Primary:  true,
			RawBytes: []byte{2, Pingreq},
			Packet: &Packet{
				Header: Header{Length: 2, Type: Pingreq},
			},
		},
		{
			Case:     TPingreqClientID,
			Desc:     "pingreq with client id",
			RawBytes: []byte{6, Pingreq, 'd', 'e', 'v', '1'},
			Packet: &Packet{
				Header:   Header{Length: 6, Type: Pingreq},
				ClientID: "dev1",
			},
		},
	},
	Pingresp: {
		{
			Case:     TPingresp,
			Desc:     "pingresp",
			Primary:  true,
			RawBytes: []byte{2, Pingresp},
			Packet: &Packet{
				Header: Header{Length: 2, Type: Pingresp},
			},
		},
	},
	Disconnect: {
		{
			Case:     TDisconnect,
			Desc:     "disconnect",
			Primary:  true,
			RawBytes: []byte{2, Disconnect},
			Packet: &Packet{
				Header: Header{Length: 2, Type: Disconnect},
			},
		},
		{
			Case:     TDisconnectDuration,
			Desc:     "disconnect with sleep duration",
			RawBytes: []byte{4, Disconnect, 0x01, 0x2c},
			Packet: &Packet{
				Header:   Header{Length: 4, Type: Disconnect},
				Duration: 300,
			},
		},
		{
			Case:      TDisconnectMalDuration,
			Desc:      "malformed duration",
			Group:     "decode",
			FailFirst: ErrMalformedDuration,
			RawBytes:  []byte{3, Disconnect, 0x01},
		},
	},
}
