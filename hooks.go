// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, thedevop, dgduncan

package mqttsn

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage"
	"github.com/mochi-mqtt/mqttsn-telemetry/packets"
)

const (
	SetOptions byte = iota
	OnStarted
	OnStopped
	OnStageChange
	OnConnected
	OnRegistered
	OnPacketSent
	OnPacketRead
	OnPublished
	OnPublishAcked
	OnRetry
	OnDisconnect
	StoredMessages
	StoredRegistrations
	StoredSysInfo
)

var (
	// ErrInvalidConfigType indicates a different Type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")
)

// Hook provides an interface of handlers for different events which occur
// during the lifecycle of a client session.
type Hook interface {
	ID() string
	Provides(b byte) bool
	Init(config any) error
	Stop() error
	SetOpts(l *slog.Logger, o *HookOptions)
	OnStarted(cl *Client)
	OnStopped(cl *Client)
	OnStageChange(cl *Client, from, to Stage)
	OnConnected(cl *Client, pk packets.Packet)                  // triggers when the gateway accepts the connect
	OnRegistered(cl *Client, topic string, pk packets.Packet)   // triggers when the gateway assigns a topic id
	OnPacketSent(cl *Client, pk packets.Packet, b []byte)       // triggers when packet bytes have been written to the gateway
	OnPacketRead(cl *Client, pk packets.Packet)                 // triggers when a packet is decoded from the gateway, before it is checked
	OnPublished(cl *Client, topic string, pk packets.Packet)    // triggers when a publish has been written to the gateway
	OnPublishAcked(cl *Client, topic string, pk packets.Packet) // triggers when the gateway accepts a qos 1 publish
	OnRetry(cl *Client, stage Stage, attempt int, delay time.Duration, err error)
	OnDisconnect(cl *Client, err error)
	StoredMessages() ([]storage.Message, error)
	StoredRegistrations() ([]storage.Registration, error)
	StoredSysInfo() (storage.SystemInfo, error)
}

// HookOptions contains values which are inherited from the client on initialisation.
type HookOptions struct {
	ClientID  string
	SessionID string
}

// Hooks is a slice of Hook interfaces to be called in sequence.
type Hooks struct {
	Log        *slog.Logger   // a logger for the hook (from the client)
	internal   atomic.Value   // a slice of []Hook
	wg         sync.WaitGroup // a waitgroup for syncing hook shutdown
	qty        int64          // the number of hooks in use
	sync.Mutex                // a mutex for locking when adding hooks
}

// Len returns the number of hooks added.
func (h *Hooks) Len() int64 {
	return atomic.LoadInt64(&h.qty)
}

// Provides returns true if any one hook provides any of the requested hook methods.
func (h *Hooks) Provides(b ...byte) bool {
	for _, hook := range h.GetAll() {
		for _, hb := range b {
			if hook.Provides(hb) {
				return true
			}
		}
	}

	return false
}

// Add adds and initializes a new hook.
func (h *Hooks) Add(hook Hook, config any) error {
	h.Lock()
	defer h.Unlock()

	err := hook.Init(config)
	if err != nil {
		return fmt.Errorf("failed initialising %s hook: %w", hook.ID(), err)
	}

	i, ok := h.internal.Load().([]Hook)
	if !ok {
		i = []Hook{}
	}

	i = append(i, hook)
	h.internal.Store(i)
	atomic.AddInt64(&h.qty, 1)
	h.wg.Add(1)

	return nil
}

// GetAll returns a slice of all the hooks.
func (h *Hooks) GetAll() []Hook {
	i, ok := h.internal.Load().([]Hook)
	if !ok {
		return []Hook{}
	}

	return i
}

// Stop indicates all attached hooks to gracefully end.
func (h *Hooks) Stop() {
	go func() {
		for _, hook := range h.GetAll() {
			h.Log.Info("stopping hook", "hook", hook.ID())
			if err := hook.Stop(); err != nil {
				h.Log.Debug("problem stopping hook", "error", err, "hook", hook.ID())
			}

			h.wg.Done()
		}
	}()

	h.wg.Wait()
}

// OnStarted is called when the client session begins.
func (h *Hooks) OnStarted(cl *Client) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStarted) {
			hook.OnStarted(cl)
		}
	}
}

// OnStopped is called when the client session has ended and the transport is closed.
func (h *Hooks) OnStopped(cl *Client) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStopped) {
			hook.OnStopped(cl)
		}
	}
}

// OnStageChange is called when the session moves to a new lifecycle stage.
func (h *Hooks) OnStageChange(cl *Client, from, to Stage) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnStageChange) {
			hook.OnStageChange(cl, from, to)
		}
	}
}

// OnConnected is called when the gateway accepts a connect, with the connack packet.
func (h *Hooks) OnConnected(cl *Client, pk packets.Packet) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnConnected) {
			hook.OnConnected(cl, pk)
		}
	}
}

// OnRegistered is called when the gateway accepts a topic registration, with
// the regack packet carrying the assigned topic id.
func (h *Hooks) OnRegistered(cl *Client, topic string, pk packets.Packet) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnRegistered) {
			hook.OnRegistered(cl, topic, pk)
		}
	}
}

// OnPacketSent is called when a packet has been written to the gateway.
func (h *Hooks) OnPacketSent(cl *Client, pk packets.Packet, b []byte) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPacketSent) {
			hook.OnPacketSent(cl, pk, b)
		}
	}
}

// OnPacketRead is called when a packet has been decoded from a gateway datagram.
func (h *Hooks) OnPacketRead(cl *Client, pk packets.Packet) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPacketRead) {
			hook.OnPacketRead(cl, pk)
		}
	}
}

// OnPublished is called when a publish packet has been written to the gateway.
// It is called once for every attempt.
func (h *Hooks) OnPublished(cl *Client, topic string, pk packets.Packet) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPublished) {
			hook.OnPublished(cl, topic, pk)
		}
	}
}

// OnPublishAcked is called when the gateway accepts a qos 1 publish. The
// packet is the publish which was acknowledged.
func (h *Hooks) OnPublishAcked(cl *Client, topic string, pk packets.Packet) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnPublishAcked) {
			hook.OnPublishAcked(cl, topic, pk)
		}
	}
}

// OnRetry is called when a stage attempt has failed and the client is about
// to wait for delay before trying again.
func (h *Hooks) OnRetry(cl *Client, stage Stage, attempt int, delay time.Duration, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnRetry) {
			hook.OnRetry(cl, stage, attempt, delay, err)
		}
	}
}

// OnDisconnect is called when the client has sent its disconnect, with any
// error which occurred while sending it.
func (h *Hooks) OnDisconnect(cl *Client, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(OnDisconnect) {
			hook.OnDisconnect(cl, err)
		}
	}
}

// StoredMessages returns all journaled messages, e.g. from a persistent store.
func (h *Hooks) StoredMessages() (v []storage.Message, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(StoredMessages) {
			v, err := hook.StoredMessages()
			if err != nil {
				h.Log.Error("failed to load messages", "error", err, "hook", hook.ID())
				return v, err
			}

			if len(v) > 0 {
				return v, nil
			}
		}
	}

	return
}

// StoredRegistrations returns all journaled topic registrations, e.g. from a persistent store.
func (h *Hooks) StoredRegistrations() (v []storage.Registration, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(StoredRegistrations) {
			v, err := hook.StoredRegistrations()
			if err != nil {
				h.Log.Error("failed to load registrations", "error", err, "hook", hook.ID())
				return v, err
			}

			if len(v) > 0 {
				return v, nil
			}
		}
	}

	return
}

// StoredSysInfo returns the statistics of the last stopped session.
func (h *Hooks) StoredSysInfo() (v storage.SystemInfo, err error) {
	for _, hook := range h.GetAll() {
		if hook.Provides(StoredSysInfo) {
			v, err := hook.StoredSysInfo()
			if err != nil {
				h.Log.Error("failed to load session info", "error", err, "hook", hook.ID())
				return v, err
			}

			if v.Version != "" {
				return v, nil
			}
		}
	}

	return
}

// HookBase provides a set of default methods for each hook. It should be embedded in
// all hooks.
type HookBase struct {
	Hook
	Log  *slog.Logger
	Opts *HookOptions
}

// ID returns the ID of the hook.
func (h *HookBase) ID() string {
	return "base"
}

// Provides indicates which methods a hook provides. The default is none - this method
// should be overridden by the embedding hook.
func (h *HookBase) Provides(b byte) bool {
	return false
}

// Init performs any pre-start initializations for the hook, such as connecting to databases
// or opening files.
func (h *HookBase) Init(config any) error {
	return nil
}

// SetOpts is called by the client to propagate internal values and generally should
// not be called manually.
func (h *HookBase) SetOpts(l *slog.Logger, opts *HookOptions) {
	h.Log = l
	h.Opts = opts
}

// Stop is called to gracefully shut down the hook.
func (h *HookBase) Stop() error {
	return nil
}

// OnStarted is called when the session begins.
func (h *HookBase) OnStarted(cl *Client) {}

// OnStopped is called when the session ends.
func (h *HookBase) OnStopped(cl *Client) {}

// OnStageChange is called when the session changes stage.
func (h *HookBase) OnStageChange(cl *Client, from, to Stage) {}

// OnConnected is called when the gateway accepts a connect.
func (h *HookBase) OnConnected(cl *Client, pk packets.Packet) {}

// OnRegistered is called when the gateway assigns a topic id.
func (h *HookBase) OnRegistered(cl *Client, topic string, pk packets.Packet) {}

// OnPacketSent is called immediately after a packet is written to the gateway.
func (h *HookBase) OnPacketSent(cl *Client, pk packets.Packet, b []byte) {}

// OnPacketRead is called when a packet is received.
func (h *HookBase) OnPacketRead(cl *Client, pk packets.Packet) {}

// OnPublished is called when a publish is written to the gateway.
func (h *HookBase) OnPublished(cl *Client, topic string, pk packets.Packet) {}

// OnPublishAcked is called when a qos 1 publish is acknowledged.
func (h *HookBase) OnPublishAcked(cl *Client, topic string, pk packets.Packet) {}

// OnRetry is called before the client waits to retry a stage.
func (h *HookBase) OnRetry(cl *Client, stage Stage, attempt int, delay time.Duration, err error) {}

// OnDisconnect is called when the client disconnects.
func (h *HookBase) OnDisconnect(cl *Client, err error) {}

// StoredMessages returns all journaled messages.
func (h *HookBase) StoredMessages() (v []storage.Message, err error) {
	return
}

// StoredRegistrations returns all journaled registrations.
func (h *HookBase) StoredRegistrations() (v []storage.Registration, err error) {
	return
}

// StoredSysInfo returns the stored session statistics.
func (h *HookBase) StoredSysInfo() (v storage.SystemInfo, err error) {
	return
}
