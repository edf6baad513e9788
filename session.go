// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 J. Blake / mochi-co
// SPDX-FileContributor: mochi-co

package mqttsn

import (
	"net"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// ConnectionState is the state of the connection with the gateway.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateClosed
)

// String returns the readable name of a connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stage is a step in the lifecycle of a session.
type Stage int32

const (
	StageInit Stage = iota
	StageConnecting
	StageConnected
	StageRegistering
	StageRegistered
	StagePublishing
	StageDisconnecting
	StageClosed
	StageFailed
)

var stageNames = map[Stage]string{
	StageInit:          "init",
	StageConnecting:    "connecting",
	StageConnected:     "connected",
	StageRegistering:   "registering",
	StageRegistered:    "registered",
	StagePublishing:    "publishing",
	StageDisconnecting: "disconnecting",
	StageClosed:        "closed",
	StageFailed:        "failed",
}

// String returns the readable name of a stage.
func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}

	return "unknown"
}

// Session contains the state of a single session with a gateway.
type Session struct {
	Topics      *TopicRegistry // topic ids assigned by the gateway
	ID          string         // a unique id for this run of the session
	ClientID    string         // the client id presented in the connect
	GatewayHost string         // the gateway host
	GatewayPort int            // the gateway port
	mu          sync.Mutex     // guards packetID
	packetID    uint16         // the last packet id issued
	state       int32          // the ConnectionState
	stage       int32          // the Stage
}

// NewSession returns a new session for a client and gateway.
func NewSession(host string, port int, clientID string) *Session {
	return &Session{
		Topics:      NewTopicRegistry(),
		ID:          xid.New().String(),
		ClientID:    clientID,
		GatewayHost: host,
		GatewayPort: port,
	}
}

// Address returns the network address of the gateway.
func (s *Session) Address() string {
	return net.JoinHostPort(s.GatewayHost, strconv.Itoa(s.GatewayPort))
}

// NextPacketID advances and returns the packet id counter. Packet id 0 is
// reserved, so the counter wraps from 65535 to 1.
func (s *Session) NextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packetID++
	if s.packetID == 0 {
		s.packetID = 1
	}

	return s.packetID
}

// PacketID returns the last packet id issued, or 0 if none has been.
func (s *Session) PacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packetID
}

// State returns the connection state.
func (s *Session) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&s.state))
}

func (s *Session) setState(v ConnectionState) {
	atomic.StoreInt32(&s.state, int32(v))
}

// Stage returns the current lifecycle stage.
func (s *Session) Stage() Stage {
	return Stage(atomic.LoadInt32(&s.stage))
}

// setStage moves the session to a stage, returning the previous stage.
// A failed session stays failed.
func (s *Session) setStage(to Stage) (Stage, bool) {
	for {
		from := atomic.LoadInt32(&s.stage)
		if Stage(from) == StageFailed || Stage(from) == to {
			return Stage(from), false
		}

		if atomic.CompareAndSwapInt32(&s.stage, from, int32(to)) {
			return Stage(from), true
		}
	}
}

// TopicRegistry is a map of gateway topic ids keyed on topic name.
type TopicRegistry struct {
	sync.RWMutex
	internal map[string]uint16
}

// NewTopicRegistry returns a new instance of TopicRegistry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		internal: map[string]uint16{},
	}
}

// Set records the topic id assigned to a topic name.
func (t *TopicRegistry) Set(topic string, id uint16) {
	t.Lock()
	defer t.Unlock()
	t.internal[topic] = id
}

// Get returns the topic id of a topic name, if it is registered.
func (t *TopicRegistry) Get(topic string) (uint16, bool) {
	t.RLock()
	defer t.RUnlock()
	id, ok := t.internal[topic]
	return id, ok
}

// Delete removes a topic from the registry.
func (t *TopicRegistry) Delete(topic string) {
	t.Lock()
	defer t.Unlock()
	delete(t.internal, topic)
}

// Len returns the number of registered topics.
func (t *TopicRegistry) Len() int {
	t.RLock()
	defer t.RUnlock()
	return len(t.internal)
}

// GetAll returns the registered topic names, sorted.
func (t *TopicRegistry) GetAll() []string {
	t.RLock()
	defer t.RUnlock()

	m := make([]string, 0, len(t.internal))
	for k := range t.internal {
		m = append(m, k)
	}

	sort.Strings(m)
	return m
}
