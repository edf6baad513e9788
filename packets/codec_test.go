// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

package packets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeUint16(t *testing.T) {
	v, n, err := decodeUint16([]byte{0x01, 0x90, 0x05}, 0)
	require.NoError(t, err)
	require.Equal(t, uint16(400), v)
	require.Equal(t, 2, n)

	_, _, err = decodeUint16([]byte{0x01}, 0)
	require.ErrorIs(t, err, ErrMalformedOffsetUintOutOfRange)
}

func TestDecodeByte(t *testing.T) {
	v, n, err := decodeByte([]byte{0x00, 0x03}, 1)
	require.NoError(t, err)
	require.Equal(t, byte(0x03), v)
	require.Equal(t, 2, n)

	_, _, err = decodeByte([]byte{0x00}, 1)
	require.ErrorIs(t, err, ErrMalformedOffsetByteOutOfRange)
}

func TestDecodeString(t *testing.T) {
	buf := []byte{0x00, 'd', 'e', 'v', '1'}
	s, err := decodeString(buf, 1)
	require.NoError(t, err)
	require.Equal(t, "dev1", s)

	buf[1] = 'x'
	require.Equal(t, "dev1", s, "decoded string must not alias the buffer")

	s, err = decodeString(buf, len(buf))
	require.NoError(t, err)
	require.Equal(t, "", s)

	_, err = decodeString(buf, len(buf)+1)
	require.ErrorIs(t, err, ErrMalformedOffsetByteOutOfRange)

	_, err = decodeString([]byte{0xff, 0xfe}, 0)
	require.ErrorIs(t, err, ErrMalformedInvalidUTF8)
}

func TestDecodeBytes(t *testing.T) {
	buf := []byte{0x00, 'h', 'i'}
	b, err := decodeBytes(buf, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), b)

	buf[1] = 'x'
	require.Equal(t, []byte("hi"), b)

	_, err = decodeBytes(buf, 4)
	require.ErrorIs(t, err, ErrMalformedOffsetByteOutOfRange)
}

func TestEncodeUint16(t *testing.T) {
	require.Equal(t, []byte{0x01, 0x90}, encodeUint16(400))
	require.Equal(t, []byte{0xff, 0xff}, encodeUint16(65535))
}

func TestEncodeBool(t *testing.T) {
	require.Equal(t, byte(1), encodeBool(true))
	require.Equal(t, byte(0), encodeBool(false))
}
