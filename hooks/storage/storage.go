// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/mochi-mqtt/mqttsn-telemetry/packets"
	"github.com/mochi-mqtt/mqttsn-telemetry/system"
)

const (
	MessageKey      = "MSG" // unique key to denote published messages in a store
	RegistrationKey = "REG" // unique key to denote topic registrations in a store
	SysInfoKey      = "SYS" // unique key to denote session statistics in a store

	MessageSent  = "sent"  // the message was written to the gateway
	MessageAcked = "acked" // the gateway acknowledged the message
)

var (
	// ErrDBFileNotOpen indicates that the file database (e.g. bolt/badger) wasn't open for reading.
	ErrDBFileNotOpen = errors.New("db file not open")
)

// Serializable is an interface for objects that can be serialized and deserialized.
type Serializable interface {
	UnmarshalBinary([]byte) error
	MarshalBinary() (data []byte, err error)
}

// MessageID returns the storage key of a published message. Messages sent at
// QoS 0 all carry packet id 0, so they are keyed by a fresh sortable id.
func MessageID(session string, packetID uint16) string {
	if packetID == 0 {
		return MessageKey + "_" + session + "_" + xid.New().String()
	}

	return fmt.Sprintf("%s_%s_%05d", MessageKey, session, packetID)
}

// RegistrationID returns the storage key of a topic registration.
func RegistrationID(session, topic string) string {
	return RegistrationKey + "_" + session + "_" + topic
}

// SysInfoID returns the storage key of the statistics of a session.
func SysInfoID(session string) string {
	return SysInfoKey + "_" + session
}

// Message is a storable record of a message published to the gateway.
type Message struct {
	Payload   []byte        `json:"payload"`              // the message payload
	T         string        `json:"t,omitempty"`          // the data type
	ID        string        `json:"id,omitempty"`         // the storage key
	Session   string        `json:"session,omitempty"`    // the id of the session which sent the message
	Client    string        `json:"client,omitempty"`     // the client id of the session
	TopicName string        `json:"topic_name,omitempty"` // the topic the message was published to
	Status    string        `json:"status,omitempty"`     // sent or acked
	Flags     packets.Flags `json:"flags"`                // the flags the message was published with
	Created   int64         `json:"created,omitempty"`    // the time the message was sent in unixtime
	Acked     int64         `json:"acked,omitempty"`      // the time the message was acknowledged in unixtime
	PacketID  uint16        `json:"packet_id,omitempty"`  // the packet id of the publish (qos 1)
	TopicID   uint16        `json:"topic_id,omitempty"`   // the gateway topic id used for the publish
}

// MarshalBinary encodes the values into a json string.
func (d Message) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Message) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// ToPacket converts a storage.Message back into a publish packet.
func (d *Message) ToPacket() packets.Packet {
	pk := packets.Packet{
		Header:   packets.Header{Type: packets.Publish},
		Flags:    d.Flags,
		TopicID:  d.TopicID,
		PacketID: d.PacketID,
		Payload:  d.Payload,
	}

	// the payload would otherwise still point at the stored record.
	return pk.Copy()
}

// Registration is a storable record of a topic registered with the gateway.
type Registration struct {
	T         string `json:"t,omitempty"`
	ID        string `json:"id,omitempty"`
	Session   string `json:"session,omitempty"`
	Client    string `json:"client,omitempty"`
	TopicName string `json:"topic_name"`
	Created   int64  `json:"created,omitempty"`
	TopicID   uint16 `json:"topic_id"`
	PacketID  uint16 `json:"packet_id,omitempty"`
}

// MarshalBinary encodes the values into a json string.
func (d Registration) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *Registration) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// SystemInfo is a storable representation of the statistics of a session.
type SystemInfo struct {
	system.Info        // embed the system info struct
	T           string `json:"t"`  // the data type
	ID          string `json:"id"` // the storage key
}

// MarshalBinary encodes the values into a json string.
func (d SystemInfo) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *SystemInfo) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}
