// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"bytes"
	"strings"

	"github.com/mochi-mqtt/mqttsn-telemetry/mempool"
)

// All of the MQTT-SN v1.2 message types and their type byte.
const (
	Advertise     byte = 0x00
	Searchgw      byte = 0x01
	Gwinfo        byte = 0x02
	Connect       byte = 0x04
	Connack       byte = 0x05
	Willtopicreq  byte = 0x06
	Willtopic     byte = 0x07
	Willmsgreq    byte = 0x08
	Willmsg       byte = 0x09
	Register      byte = 0x0A
	Regack        byte = 0x0B
	Publish       byte = 0x0C
	Puback        byte = 0x0D
	Pubcomp       byte = 0x0E
	Pubrec        byte = 0x0F
	Pubrel        byte = 0x10
	Subscribe     byte = 0x12
	Suback        byte = 0x13
	Unsubscribe   byte = 0x14
	Unsuback      byte = 0x15
	Pingreq       byte = 0x16
	Pingresp      byte = 0x17
	Disconnect    byte = 0x18
	Willtopicupd  byte = 0x1A
	Willtopicresp byte = 0x1B
	Willmsgupd    byte = 0x1C
	Willmsgresp   byte = 0x1D
)

// Names is a map that provides human-readable names for the different
// MQTT-SN message types.
var Names = map[byte]string{
	Advertise:     "ADVERTISE",
	Searchgw:      "SEARCHGW",
	Gwinfo:        "GWINFO",
	Connect:       "CONNECT",
	Connack:       "CONNACK",
	Willtopicreq:  "WILLTOPICREQ",
	Willtopic:     "WILLTOPIC",
	Willmsgreq:    "WILLMSGREQ",
	Willmsg:       "WILLMSG",
	Register:      "REGISTER",
	Regack:        "REGACK",
	Publish:       "PUBLISH",
	Puback:        "PUBACK",
	Pubcomp:       "PUBCOMP",
	Pubrec:        "PUBREC",
	Pubrel:        "PUBREL",
	Subscribe:     "SUBSCRIBE",
	Suback:        "SUBACK",
	Unsubscribe:   "UNSUBSCRIBE",
	Unsuback:      "UNSUBACK",
	Pingreq:       "PINGREQ",
	Pingresp:      "PINGRESP",
	Disconnect:    "DISCONNECT",
	Willtopicupd:  "WILLTOPICUPD",
	Willtopicresp: "WILLTOPICRESP",
	Willmsgupd:    "WILLMSGUPD",
	Willmsgresp:   "WILLMSGRESP",
}

const (
	// ProtocolID is the only protocol id defined by MQTT-SN v1.2.
	ProtocolID byte = 0x01

	// QosMinusOne is the flags value of the connectionless QoS -1 level.
	QosMinusOne byte = 0x03

	TopicIDTypeNormal     byte = 0x00 // a topic id assigned by the gateway through REGISTER
	TopicIDTypePredefined byte = 0x01
	TopicIDTypeShort      byte = 0x02
)

// Flags contains the values of the MQTT-SN flags byte.
type Flags struct {
	Dup          bool `json:"dup"`
	Qos          byte `json:"qos"`
	Retain       bool `json:"retain"`
	Will         bool `json:"will"`
	CleanSession bool `json:"cleanSession"`
	TopicIDType  byte `json:"topicIdType"`
}

// Encode returns the flags byte.
func (f Flags) Encode() byte {
	return encodeBool(f.Dup)<<7 |
		(f.Qos&0x03)<<5 |
		encodeBool(f.Retain)<<4 |
		encodeBool(f.Will)<<3 |
		encodeBool(f.CleanSession)<<2 |
		f.TopicIDType&0x03
}

// Decode extracts the flag values from a flags byte.
func (f *Flags) Decode(b byte) {
	f.Dup = b&0x80 > 0
	f.Qos = (b >> 5) & 0x03
	f.Retain = b&0x10 > 0
	f.Will = b&0x08 > 0
	f.CleanSession = b&0x04 > 0
	f.TopicIDType = b & 0x03
}

// Packet represents an MQTT-SN packet. Only the fields used by the packet's
// type are populated.
type Packet struct {
	Payload    []byte `json:"payload,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
	TopicName  string `json:"topicName,omitempty"`
	Header     Header `json:"header"`
	Flags      Flags  `json:"flags"`
	Duration   uint16 `json:"duration,omitempty"` // keep alive for CONNECT, sleep duration for DISCONNECT
	TopicID    uint16 `json:"topicId,omitempty"`
	PacketID   uint16 `json:"packetId,omitempty"`
	ProtocolID byte   `json:"protocolId,omitempty"`
	ReturnCode byte   `json:"returnCode,omitempty"`
}

// Copy creates a new instance of a packet which shares no memory with the original.
func (pk Packet) Copy() Packet {
	p := pk
	if pk.Payload != nil {
		p.Payload = append([]byte{}, pk.Payload...)
	}

	return p
}

// write encodes the header for a completed body and writes both to buf.
func (pk *Packet) write(buf *bytes.Buffer, nb *bytes.Buffer) error {
	if err := pk.Header.Encode(buf, nb.Len()); err != nil {
		return err
	}

	_, _ = nb.WriteTo(buf)
	return nil
}

// ConnectEncode encodes a Connect packet.
func (pk *Packet) ConnectEncode(buf *bytes.Buffer) error {
	nb := mempool.GetBuffer()
	defer mempool.PutBuffer(nb)

	nb.WriteByte(pk.Flags.Encode())
	nb.WriteByte(pk.ProtocolID)
	nb.Write(encodeUint16(pk.Duration))
	nb.WriteString(pk.ClientID)

	return pk.write(buf, nb)
}

// ConnectDecode decodes a Connect packet.
func (pk *Packet) ConnectDecode(buf []byte) error {
	flags, offset, err := decodeByte(buf, 0)
	if err != nil {
		return ErrMalformedFlags
	}
	pk.Flags.Decode(flags)

	pk.ProtocolID, offset, err = decodeByte(buf, offset)
	if err != nil {
		return ErrMalformedProtocolID
	}

	pk.Duration, offset, err = decodeUint16(buf, offset)
	if err != nil {
		return ErrMalformedDuration
	}

	pk.ClientID, err = decodeString(buf, offset)
	if err != nil || pk.ClientID == "" {
		return ErrMalformedClientID
	}

	return nil
}

// ConnectValidate ensures the connect packet is compliant.
func (pk *Packet) ConnectValidate() Code {
	if pk.ProtocolID != ProtocolID {
		return ErrProtocolViolationProtocolID
	}

	if pk.ClientID == "" {
		return ErrProtocolViolationNoClientID
	}

	return CodeAccepted
}

// ConnackEncode encodes a Connack packet.
func (pk *Packet) ConnackEncode(buf *bytes.Buffer) error {
	nb := mempool.GetBuffer()
	defer mempool.PutBuffer(nb)

	nb.WriteByte(pk.ReturnCode)
	return pk.write(buf, nb)
}

// ConnackDecode decodes a Connack packet.
func (pk *Packet) ConnackDecode(buf []byte) error {
	var err error
	pk.ReturnCode, _, err = decodeByte(buf, 0)
	if err != nil {
		return ErrMalformedReturnCode
	}

	return nil
}

// RegisterEncode encodes a Register packet.
func (pk *Packet) RegisterEncode(buf *bytes.Buffer) error {
	nb := mempool.GetBuffer()
	defer mempool.PutBuffer(nb)

	nb.Write(encodeUint16(pk.TopicID))
	nb.Write(encodeUint16(pk.PacketID))
	nb.WriteString(pk.TopicName)

	return pk.write(buf, nb)
}

// RegisterDecode decodes a Register packet.
func (pk *Packet) RegisterDecode(buf []byte) error {
	var offset int
	var err error

	pk.TopicID, offset, err = decodeUint16(buf, 0)
	if err != nil {
		return ErrMalformedTopicID
	}

	pk.PacketID, offset, err = decodeUint16(buf, offset)
	if err != nil {
		return ErrMalformedPacketID
	}

	pk.TopicName, err = decodeString(buf, offset)
	if err != nil || pk.TopicName == "" {
		return ErrMalformedTopicName
	}

	return nil
}

// RegisterValidate ensures a register packet sent by a client is compliant.
func (pk *Packet) RegisterValidate() Code {
	if pk.PacketID == 0 {
		return ErrProtocolViolationNoPacketID
	}

	if pk.TopicName == "" {
		return ErrProtocolViolationNoTopicName
	}

	if strings.ContainsAny(pk.TopicName, "+#") {
		return ErrProtocolViolationWildcardTopic
	}

	return CodeAccepted
}

// RegackEncode encodes a Regack packet.
func (pk *Packet) RegackEncode(buf *bytes.Buffer) error {
	return pk.ackEncode(buf)
}

// RegackDecode decodes a Regack packet.
func (pk *Packet) RegackDecode(buf []byte) error {
	return pk.ackDecode(buf)
}

// PublishEncode encodes a Publish packet.
func (pk *Packet) PublishEncode(buf *bytes.Buffer) error {
	nb := mempool.GetBuffer()
	defer mempool.PutBuffer(nb)

	nb.WriteByte(pk.Flags.Encode())
	nb.Write(encodeUint16(pk.TopicID))
	nb.Write(encodeUint16(pk.PacketID))
	nb.Write(pk.Payload)

	return pk.write(buf, nb)
}

// PublishDecode decodes a Publish packet.
func (pk *Packet) PublishDecode(buf []byte) error {
	flags, offset, err := decodeByte(buf, 0)
	if err != nil {
		return ErrMalformedFlags
	}
	pk.Flags.Decode(flags)

	pk.TopicID, offset, err = decodeUint16(buf, offset)
	if err != nil {
		return ErrMalformedTopicID
	}

	pk.PacketID, offset, err = decodeUint16(buf, offset)
	if err != nil {
		return ErrMalformedPacketID
	}

	pk.Payload, err = decodeBytes(buf, offset)
	if err != nil {
		return ErrMalformedPacket
	}

	return nil
}

// PublishValidate ensures a publish packet is compliant.
func (pk *Packet) PublishValidate() Code {
	if pk.Flags.Qos == 2 || pk.Flags.Qos == 1 {
		if pk.PacketID == 0 {
			return ErrProtocolViolationNoPacketID
		}
	}

	if pk.Flags.Qos > QosMinusOne {
		return ErrProtocolViolationQosOutOfRange
	}

	if pk.Flags.TopicIDType == TopicIDTypeNormal && (pk.TopicID == 0 || pk.TopicID == 0xFFFF) {
		return ErrProtocolViolationNoTopicID
	}

	return CodeAccepted
}

// PubackEncode encodes a Puback packet.
func (pk *Packet) PubackEncode(buf *bytes.Buffer) error {
	return pk.ackEncode(buf)
}

// PubackDecode decodes a Puback packet.
func (pk *Packet) PubackDecode(buf []byte) error {
	return pk.ackDecode(buf)
}

// ackEncode encodes the TopicId, MsgId, ReturnCode body shared by REGACK and PUBACK.
func (pk *Packet) ackEncode(buf *bytes.Buffer) error {
	nb := mempool.GetBuffer()
	defer mempool.PutBuffer(nb)

	nb.Write(encodeUint16(pk.TopicID))
	nb.Write(encodeUint16(pk.PacketID))
	nb.WriteByte(pk.ReturnCode)

	return pk.write(buf, nb)
}

// ackDecode decodes the TopicId, MsgId, ReturnCode body shared by REGACK and PUBACK.
func (pk *Packet) ackDecode(buf []byte) error {
	var offset int
	var err error

	pk.TopicID, offset, err = decodeUint16(buf, 0)
	if err != nil {
		return ErrMalformedTopicID
	}

	pk.PacketID, offset, err = decodeUint16(buf, offset)
	if err != nil {
		return ErrMalformedPacketID
	}

	pk.ReturnCode, _, err = decodeByte(buf, offset)
	if err != nil {
		return ErrMalformedReturnCode
	}

	return nil
}

// PingreqEncode encodes a Pingreq packet. The client id is only present when
// a sleeping client wakes.
func (pk *Packet) PingreqEncode(buf *bytes.Buffer) error {
	nb := mempool.GetBuffer()
	defer mempool.PutBuffer(nb)

	nb.WriteString(pk.ClientID)
	return pk.write(buf, nb)
}

// PingreqDecode decodes a Pingreq packet.
func (pk *Packet) PingreqDecode(buf []byte) error {
	var err error
	pk.ClientID, err = decodeString(buf, 0)
	if err != nil {
		return ErrMalformedClientID
	}

	return nil
}

// PingrespEncode encodes a Pingresp packet.
func (pk *Packet) PingrespEncode(buf *bytes.Buffer) error {
	return pk.Header.Encode(buf, 0)
}

// PingrespDecode decodes a Pingresp packet.
func (pk *Packet) PingrespDecode(buf []byte) error {
	return nil
}

// DisconnectEncode encodes a Disconnect packet. A non-zero Duration asks the
// gateway to treat the client as asleep.
func (pk *Packet) DisconnectEncode(buf *bytes.Buffer) error {
	nb := mempool.GetBuffer()
	defer mempool.PutBuffer(nb)

	if pk.Duration > 0 {
		nb.Write(encodeUint16(pk.Duration))
	}

	return pk.write(buf, nb)
}

// DisconnectDecode decodes a Disconnect packet.
func (pk *Packet) DisconnectDecode(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	var err error
	pk.Duration, _, err = decodeUint16(buf, 0)
	if err != nil {
		return ErrMalformedDuration
	}

	return nil
}

// Encode encodes the packet according to its header type.
func (pk *Packet) Encode(buf *bytes.Buffer) error {
	switch pk.Header.Type {
	case Connect:
		return pk.ConnectEncode(buf)
	case Connack:
		return pk.ConnackEncode(buf)
	case Register:
		return pk.RegisterEncode(buf)
	case Regack:
		return pk.RegackEncode(buf)
	case Publish:
		return pk.PublishEncode(buf)
	case Puback:
		return pk.PubackEncode(buf)
	case Pingreq:
		return pk.PingreqEncode(buf)
	case Pingresp:
		return pk.PingrespEncode(buf)
	case Disconnect:
		return pk.DisconnectEncode(buf)
	default:
		return ErrUnknownPacketType
	}
}

// Validate ensures an outbound packet is compliant before it is encoded.
// Types without client-side rules are always accepted.
func (pk *Packet) Validate() error {
	var code Code
	switch pk.Header.Type {
	case Connect:
		code = pk.ConnectValidate()
	case Register:
		code = pk.RegisterValidate()
	case Publish:
		code = pk.PublishValidate()
	default:
		return nil
	}

	if code != CodeAccepted {
		return code
	}

	return nil
}
