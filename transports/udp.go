// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package transports

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// UDP is a transport which exchanges packets with a gateway as UDP datagrams.
type UDP struct {
	mu      sync.RWMutex
	conn    *net.UDPConn            // the bound local socket
	id      string                  // the internal id of the transport
	address string                  // the local address to bind, empty for any
	log     *slog.Logger            // client logger
	peers   map[string]*net.UDPAddr // resolved gateway addresses
}

// NewUDP initialises and returns a new UDP transport.
func NewUDP(config Config) *UDP {
	if config.ID == "" {
		config.ID = TypeUDP
	}

	return &UDP{
		id:      config.ID,
		address: config.LocalAddress,
		peers:   map[string]*net.UDPAddr{},
	}
}

// ID returns the id of the transport.
func (l *UDP) ID() string {
	return l.id
}

// Address returns the bound local address of the transport, or the
// configured address if it is not open.
func (l *UDP) Address() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn != nil {
		return l.conn.LocalAddr().String()
	}

	return l.address
}

// Open binds the local socket.
func (l *UDP) Open(log *slog.Logger) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.log = log

	var laddr *net.UDPAddr
	if l.address != "" {
		var err error
		laddr, err = net.ResolveUDPAddr("udp", l.address)
		if err != nil {
			return err
		}
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}

	l.conn = conn
	l.log.Debug("transport open", "local", conn.LocalAddr().String())
	return nil
}

// socket returns the bound socket, or ErrTransportClosed.
func (l *UDP) socket() (*net.UDPConn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn == nil {
		return nil, ErrTransportClosed
	}

	return l.conn, nil
}

// resolve returns the UDP address of a gateway, resolving it once.
func (l *UDP) resolve(address string) (*net.UDPAddr, error) {
	l.mu.RLock()
	addr, ok := l.peers[address]
	l.mu.RUnlock()
	if ok {
		return addr, nil
	}

	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.peers[address] = addr
	l.mu.Unlock()
	return addr, nil
}

// Send writes b to the gateway address as a single datagram.
func (l *UDP) Send(ctx context.Context, address string, b []byte) error {
	conn, err := l.socket()
	if err != nil {
		return err
	}

	addr, err := l.resolve(address)
	if err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	_, err = conn.WriteToUDP(b, addr)
	return err
}

// Receive blocks until a datagram is read into b, the context is done, or
// the transport is closed. A datagram longer than b is truncated. Once the
// transport has sent to a gateway, datagrams from any other source are
// discarded.
func (l *UDP) Receive(ctx context.Context, b []byte) (int, error) {
	conn, err := l.socket()
	if err != nil {
		return 0, err
	}

	deadline, _ := ctx.Deadline()
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}

	// unblock the read if the context is cancelled before its deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		n, src, err := conn.ReadFromUDP(b)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}

			if errors.Is(err, net.ErrClosed) {
				return 0, ErrTransportClosed
			}

			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return 0, context.DeadlineExceeded
			}

			return 0, err
		}

		if !l.isPeer(src) {
			l.log.Debug("discarded datagram from unknown source", "source", src.String(), "bytes", n)
			continue
		}

		return n, nil
	}
}

// isPeer returns true if src is a gateway the transport has sent to, or if
// it has not sent to any gateway yet.
func (l *UDP) isPeer(src *net.UDPAddr) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.peers) == 0 {
		return true
	}

	for _, addr := range l.peers {
		if addr.Port != src.Port {
			continue
		}

		if addr.IP == nil || addr.IP.IsUnspecified() || addr.IP.Equal(src.IP) {
			return true
		}
	}

	return false
}

// Close closes the socket. Closing a transport which is not open is a no-op.
func (l *UDP) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	err := l.conn.Close()
	l.conn = nil
	return err
}
