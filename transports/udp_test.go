// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package transports

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testAddr = "127.0.0.1:0"

func openPair(t *testing.T) (*UDP, *UDP) {
	a := NewUDP(Config{ID: "a", LocalAddress: testAddr})
	b := NewUDP(Config{ID: "b", LocalAddress: testAddr})
	require.NoError(t, a.Open(logger))
	require.NoError(t, b.Open(logger))
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	return a, b
}

func TestNewUDP(t *testing.T) {
	l := NewUDP(Config{ID: "t1", LocalAddress: testAddr})
	require.Equal(t, "t1", l.ID())
	require.Equal(t, testAddr, l.Address())
	require.NotNil(t, l.peers)
}

func TestUDPOpenBadAddress(t *testing.T) {
	l := NewUDP(Config{LocalAddress: "not-an-address"})
	require.Error(t, l.Open(logger))
}

func TestUDPSendReceive(t *testing.T) {
	a, b := openPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := a.Send(ctx, b.Address(), []byte{0x03, 0x05, 0x00})
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := b.Receive(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x03, 0x05, 0x00}, buf[:n])

	_, ok := a.peers[b.Address()]
	require.True(t, ok)
}

func TestUDPReceiveDiscardsUnknownSource(t *testing.T) {
	a, b := openPair(t)
	c := NewUDP(Config{ID: "c", LocalAddress: testAddr})
	require.NoError(t, c.Open(logger))
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// a talks to b, so only b may answer it
	require.NoError(t, a.Send(ctx, b.Address(), []byte{0x02, 0x16}))
	require.NoError(t, c.Send(ctx, a.Address(), []byte{0x03, 0x05, 0x01}))
	require.NoError(t, b.Send(ctx, a.Address(), []byte{0x03, 0x05, 0x00}))

	buf := make([]byte, 16)
	n, err := a.Receive(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{0x03, 0x05, 0x00}, buf[:n])
}

func TestUDPReceiveUnknownSourceTimesOut(t *testing.T) {
	a, b := openPair(t)
	c := NewUDP(Config{ID: "c", LocalAddress: testAddr})
	require.NoError(t, c.Open(logger))
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, a.Send(ctx, b.Address(), []byte{0x02, 0x16}))
	require.NoError(t, c.Send(ctx, a.Address(), []byte{0x03, 0x05, 0x01}))

	_, err := a.Receive(ctx, make([]byte, 16))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUDPIsPeer(t *testing.T) {
	l := NewUDP(Config{})
	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10000}
	require.True(t, l.isPeer(src))

	l.peers["gw"] = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10000}
	require.True(t, l.isPeer(src))
	require.False(t, l.isPeer(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10001}))
	require.False(t, l.isPeer(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 10000}))

	l.peers["any"] = &net.UDPAddr{IP: net.IPv4zero, Port: 20000}
	require.True(t, l.isPeer(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 20000}))
}

func TestUDPReceiveTimeout(t *testing.T) {
	a, _ := openPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.Receive(ctx, make([]byte, 16))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUDPReceiveCancel(t *testing.T) {
	a, _ := openPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := a.Receive(ctx, make([]byte, 16))
	require.ErrorIs(t, err, context.Canceled)
}

func TestUDPNotOpen(t *testing.T) {
	l := NewUDP(Config{})
	err := l.Send(context.Background(), "127.0.0.1:10000", []byte{0x02, 0x18})
	require.ErrorIs(t, err, ErrTransportClosed)

	_, err = l.Receive(context.Background(), make([]byte, 16))
	require.ErrorIs(t, err, ErrTransportClosed)

	require.NoError(t, l.Close())
}

func TestUDPClose(t *testing.T) {
	l := NewUDP(Config{LocalAddress: testAddr})
	require.NoError(t, l.Open(logger))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err := l.Receive(context.Background(), make([]byte, 16))
	require.ErrorIs(t, err, ErrTransportClosed)
}
