// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package packets

// ReadPacket decodes a single MQTT-SN packet from a datagram. Bytes beyond the
// declared packet length are ignored. The returned packet shares no memory
// with b, so the datagram buffer may be reused.
func ReadPacket(b []byte) (Packet, error) {
	pk := Packet{}
	offset, err := pk.Header.Decode(b)
	if err != nil {
		return pk, err
	}

	body := b[offset:pk.Header.Length]
	switch pk.Header.Type {
	case Connect:
		err = pk.ConnectDecode(body)
	case Connack:
		err = pk.ConnackDecode(body)
	case Register:
		err = pk.RegisterDecode(body)
	case Regack:
		err = pk.RegackDecode(body)
	case Publish:
		err = pk.PublishDecode(body)
	case Puback:
		err = pk.PubackDecode(body)
	case Pingreq:
		err = pk.PingreqDecode(body)
	case Pingresp:
		err = pk.PingrespDecode(body)
	case Disconnect:
		err = pk.DisconnectDecode(body)
	default:
		err = ErrUnknownPacketType
	}

	return pk, err
}
