// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package transports

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrMockSend is returned by a mock transport while send failures are scripted.
var ErrMockSend = errors.New("mock send failure")

// MockResponder produces the replies a scripted gateway sends back for a
// datagram the client sent.
type MockResponder func(b []byte) [][]byte

// Datagram is a datagram recorded by a mock transport.
type Datagram struct {
	Address string
	Data    []byte
}

// Mock is a scripted transport for testing. Replies are queued explicitly
// with Queue or generated by a Responder; with nothing queued Receive blocks
// until the context is done, like a silent gateway.
type Mock struct {
	sync.RWMutex
	id        string
	replies   chan []byte
	sent      []Datagram
	Responder MockResponder // optional, called with every sent datagram
	FailSends int           // the number of upcoming sends which fail
	ErrOpen   bool          // throw an error on open
	Opened    bool          // indicates the transport was opened
	Closed    bool          // indicates the transport was closed
	Closes    int           // the number of calls to Close
}

// NewMock returns a new instance of Mock.
func NewMock(id string) *Mock {
	if id == "" {
		id = TypeMock
	}

	return &Mock{
		id:      id,
		replies: make(chan []byte, 1024),
	}
}

// ID returns the id of the mock transport.
func (l *Mock) ID() string {
	return l.id
}

// Open opens the mock transport.
func (l *Mock) Open(log *slog.Logger) error {
	if l.ErrOpen {
		return errors.New("open failure")
	}

	l.Lock()
	defer l.Unlock()
	l.Opened = true
	l.Closed = false
	return nil
}

// Queue adds replies to be returned by Receive in order.
func (l *Mock) Queue(b ...[]byte) {
	for _, r := range b {
		l.replies <- r
	}
}

// Send records a datagram and queues any replies from the Responder.
func (l *Mock) Send(ctx context.Context, address string, b []byte) error {
	l.Lock()
	if !l.Opened || l.Closed {
		l.Unlock()
		return ErrTransportClosed
	}

	if l.FailSends > 0 {
		l.FailSends--
		l.Unlock()
		return ErrMockSend
	}

	data := append([]byte{}, b...)
	l.sent = append(l.sent, Datagram{Address: address, Data: data})
	responder := l.Responder
	l.Unlock()

	if responder != nil {
		l.Queue(responder(data)...)
	}

	return nil
}

// Receive returns the next queued reply.
func (l *Mock) Receive(ctx context.Context, b []byte) (int, error) {
	l.RLock()
	open := l.Opened && !l.Closed
	l.RUnlock()
	if !open {
		return 0, ErrTransportClosed
	}

	select {
	case r := <-l.replies:
		return copy(b, r), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close closes the mock transport.
func (l *Mock) Close() error {
	l.Lock()
	defer l.Unlock()
	l.Closed = true
	l.Closes++
	return nil
}

// Sent returns a copy of every datagram sent so far.
func (l *Mock) Sent() []Datagram {
	l.RLock()
	defer l.RUnlock()
	return append([]Datagram{}, l.sent...)
}

// IsClosed indicates whether the mock transport has been closed.
func (l *Mock) IsClosed() bool {
	l.RLock()
	defer l.RUnlock()
	return l.Closed
}
