// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package debug

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqttsn "github.com/mochi-mqtt/mqttsn-telemetry"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage"
	"github.com/mochi-mqtt/mqttsn-telemetry/packets"
)

// Options contains configuration settings for the debug output.
type Options struct {
	Enable         bool `yaml:"enable" json:"enable"`                     // non-zero field for enabling hook using file-based config
	ShowPacketData bool `yaml:"show_packet_data" json:"show_packet_data"` // include decoded packet data (default false)
	ShowPings      bool `yaml:"show_pings" json:"show_pings"`             // show ping requests and responses (default false)
}

// Hook is a debugging hook which logs additional low-level information from the client session.
type Hook struct {
	mqttsn.HookBase
	config *Options
	Log    *slog.Logger
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "debug"
}

// Provides indicates that this hook provides all methods.
func (h *Hook) Provides(b byte) bool {
	return true
}

// Init is called when the hook is initialized.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqttsn.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)

	return nil
}

// SetOpts is called when the hook receives inheritable client parameters.
func (h *Hook) SetOpts(l *slog.Logger, opts *mqttsn.HookOptions) {
	h.Log = l
	h.Log.Debug("", "method", "SetOpts", "client_id", opts.ClientID, "session", opts.SessionID)
}

// Stop is called when the hook is stopped.
func (h *Hook) Stop() error {
	h.Log.Debug("", "method", "Stop")
	return nil
}

// OnStarted is called when the session starts.
func (h *Hook) OnStarted(cl *mqttsn.Client) {
	h.Log.Debug("", "method", "OnStarted", "gateway", cl.Session.Address())
}

// OnStopped is called when the session stops.
func (h *Hook) OnStopped(cl *mqttsn.Client) {
	h.Log.Debug("", "method", "OnStopped", "stage", cl.Session.Stage())
}

// OnStageChange is called when the session changes stage.
func (h *Hook) OnStageChange(cl *mqttsn.Client, from, to mqttsn.Stage) {
	h.Log.Debug(fmt.Sprintf("%s -> %s", from, to), "method", "OnStageChange")
}

// OnRetry is called when a stage attempt fails and will be retried.
func (h *Hook) OnRetry(cl *mqttsn.Client, stage mqttsn.Stage, attempt int, delay time.Duration, err error) {
	h.Log.Debug("retrying", "method", "OnRetry", "stage", stage, "attempt", attempt, "delay", delay, "error", err)
}

// OnDisconnect is called when the client disconnects from the gateway.
func (h *Hook) OnDisconnect(cl *mqttsn.Client, err error) {
	h.Log.Debug("", "method", "OnDisconnect", "error", err)
}

// OnPacketRead is called when a new packet is received from the gateway.
func (h *Hook) OnPacketRead(cl *mqttsn.Client, pk packets.Packet) {
	if h.skip(pk) {
		return
	}

	h.Log.Debug(fmt.Sprintf("%s << %s", strings.ToUpper(packets.Names[pk.Header.Type]), cl.Session.Address()), "m", h.packetMeta(pk))
}

// OnPacketSent is called when a packet is sent to the gateway.
func (h *Hook) OnPacketSent(cl *mqttsn.Client, pk packets.Packet, b []byte) {
	if h.skip(pk) {
		return
	}

	h.Log.Debug(fmt.Sprintf("%s >> %s", strings.ToUpper(packets.Names[pk.Header.Type]), cl.Session.Address()), "m", h.packetMeta(pk), "bytes", len(b))
}

// OnPublishAcked is called when the gateway acknowledges a qos 1 publish.
func (h *Hook) OnPublishAcked(cl *mqttsn.Client, topic string, pk packets.Packet) {
	h.Log.Debug("publish acknowledged", "m", h.packetMeta(pk), "topic", topic)
}

// StoredMessages is called when the client loads journaled messages.
func (h *Hook) StoredMessages() (v []storage.Message, err error) {
	h.Log.Debug("", "method", "StoredMessages")
	return v, nil
}

// StoredRegistrations is called when the client loads journaled registrations.
func (h *Hook) StoredRegistrations() (v []storage.Registration, err error) {
	h.Log.Debug("", "method", "StoredRegistrations")
	return v, nil
}

// StoredSysInfo is called when the client loads stored session statistics.
func (h *Hook) StoredSysInfo() (v storage.SystemInfo, err error) {
	h.Log.Debug("", "method", "StoredSysInfo")
	return v, nil
}

func (h *Hook) skip(pk packets.Packet) bool {
	return (pk.Header.Type == packets.Pingresp || pk.Header.Type == packets.Pingreq) && !h.config.ShowPings
}

// packetMeta adds additional type-specific metadata to the debug logs.
func (h *Hook) packetMeta(pk packets.Packet) map[string]any {
	m := map[string]any{}
	switch pk.Header.Type {
	case packets.Connect:
		m["id"] = pk.ClientID
		m["clean"] = pk.Flags.CleanSession
		m["keepalive"] = pk.Duration
		m["protocol"] = pk.ProtocolID
	case packets.Register:
		m["topic"] = pk.TopicName
		m["id"] = pk.PacketID
	case packets.Publish:
		m["topic_id"] = pk.TopicID
		m["payload"] = string(pk.Payload)
		m["qos"] = pk.Flags.Qos
		m["id"] = pk.PacketID
	case packets.Connack:
		m["rc"] = int(pk.ReturnCode)
	case packets.Regack, packets.Puback:
		m["topic_id"] = pk.TopicID
		m["id"] = pk.PacketID
		m["rc"] = int(pk.ReturnCode)
		if pk.ReturnCode != packets.CodeAccepted.Code {
			m["reason"] = packets.ReturnCode(pk.ReturnCode).Reason
		}
	case packets.Disconnect:
		if pk.Duration > 0 {
			m["duration"] = pk.Duration
		}
	}

	if h.config.ShowPacketData {
		m["packet"] = pk
	}

	return m
}
