// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"bytes"
)

const (
	// longLengthMarker introduces the three byte length field used by
	// packets longer than 255 bytes.
	longLengthMarker byte = 0x01

	// MaxPacketSize is the largest packet which can be represented.
	MaxPacketSize = 65535
)

// Header contains the values of the MQTT-SN packet header. Length is the
// total length of the packet, including the header itself.
type Header struct {
	Length int  `json:"length"`
	Type   byte `json:"type"`
}

// Encode encodes the header into a buffer, for a packet carrying a body of
// the given length. The total Length is updated accordingly.
func (h *Header) Encode(buf *bytes.Buffer, body int) error {
	if body+2 <= 255 {
		h.Length = body + 2
		buf.WriteByte(byte(h.Length))
		buf.WriteByte(h.Type)
		return nil
	}

	h.Length = body + 4
	if h.Length > MaxPacketSize {
		return ErrPacketTooLarge
	}

	buf.WriteByte(longLengthMarker)
	buf.Write(encodeUint16(uint16(h.Length)))
	buf.WriteByte(h.Type)
	return nil
}

// Decode extracts the header values from the start of a datagram and returns
// the offset at which the packet body begins. The datagram must contain at
// least Length bytes.
func (h *Header) Decode(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, ErrMalformedHeader
	}

	offset := 2
	h.Length = int(buf[0])
	h.Type = buf[1]

	if buf[0] == longLengthMarker {
		if len(buf) < 4 {
			return 0, ErrMalformedHeader
		}

		length, _, _ := decodeUint16(buf, 1)
		h.Length = int(length)
		h.Type = buf[3]
		offset = 4
	}

	if h.Length < offset || h.Length > len(buf) {
		return 0, ErrMalformedLength
	}

	return offset, nil
}
