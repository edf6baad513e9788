// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"encoding/binary"
	"unicode/utf8"
)

// decodeUint16 extracts the value of two bytes from a byte array.
func decodeUint16(buf []byte, offset int) (uint16, int, error) {
	if len(buf) < offset+2 {
		return 0, 0, ErrMalformedOffsetUintOutOfRange
	}

	return binary.BigEndian.Uint16(buf[offset : offset+2]), offset + 2, nil
}

// decodeByte extracts the value of a byte from a byte array.
func decodeByte(buf []byte, offset int) (byte, int, error) {
	if len(buf) <= offset {
		return 0, 0, ErrMalformedOffsetByteOutOfRange
	}

	return buf[offset], offset + 1, nil
}

// decodeString extracts the remainder of a byte array, beginning at an offset,
// as a string. MQTT-SN strings are not length prefixed; they run to the end of
// the packet. The returned string does not share memory with buf.
func decodeString(buf []byte, offset int) (string, error) {
	if offset > len(buf) {
		return "", ErrMalformedOffsetByteOutOfRange
	}

	if !utf8.Valid(buf[offset:]) {
		return "", ErrMalformedInvalidUTF8
	}

	return string(buf[offset:]), nil
}

// decodeBytes copies the remainder of a byte array, beginning at an offset.
// Used for message payloads.
func decodeBytes(buf []byte, offset int) ([]byte, error) {
	if offset > len(buf) {
		return nil, ErrMalformedOffsetByteOutOfRange
	}

	b := make([]byte, len(buf)-offset)
	copy(b, buf[offset:])
	return b, nil
}

// encodeUint16 encodes a uint16 value to a byte array.
func encodeUint16(val uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, val)
	return buf
}

// encodeBool returns a byte instead of a bool.
func encodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}
