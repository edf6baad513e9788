// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package transports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	TypeUDP  = "udp"
	TypeMock = "mock"
)

var (
	// ErrTransportClosed indicates an operation was attempted on a transport
	// which is not open.
	ErrTransportClosed = errors.New("transport not open")

	// ErrUnknownTransport indicates a config named a transport type which does not exist.
	ErrUnknownTransport = errors.New("unknown transport type")
)

// Config contains configuration values for a transport.
type Config struct {
	Type         string `yaml:"type" json:"type"`                   // the type of transport, e.g. udp
	ID           string `yaml:"id" json:"id"`                       // an id for the transport, used in logs
	LocalAddress string `yaml:"local_address" json:"local_address"` // an optional local address to bind, e.g. :1234
}

// Transport is an interface for datagram transports. A transport carries
// encoded packets between the client and a gateway.
type Transport interface {
	ID() string                                               // returns the id of the transport
	Open(log *slog.Logger) error                              // opens the local endpoint
	Send(ctx context.Context, address string, b []byte) error // sends one datagram to the address
	Receive(ctx context.Context, b []byte) (int, error)       // blocks until a datagram arrives or ctx is done
	Close() error                                             // releases the endpoint
}

// New returns a new transport for a config.
func New(config Config) (Transport, error) {
	switch config.Type {
	case TypeUDP, "":
		return NewUDP(config), nil
	case TypeMock:
		return NewMock(config.ID), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, config.Type)
	}
}
