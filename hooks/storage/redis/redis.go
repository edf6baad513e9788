// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	mqttsn "github.com/mochi-mqtt/mqttsn-telemetry"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage"
	"github.com/mochi-mqtt/mqttsn-telemetry/packets"

	redis "github.com/go-redis/redis/v8"
)

// defaultAddr is the default address to the redis service.
const defaultAddr = "localhost:6379"

// defaultHPrefix is a prefix to better identify hsets created by mochi mqtt-sn.
const defaultHPrefix = "mochi-sn-"

// Options contains configuration settings for the redis instance. Options
// takes precedence over the connection fields when set.
type Options struct {
	Options  *redis.Options `yaml:"-" json:"-"`
	HPrefix  string         `yaml:"h_prefix" json:"h_prefix"`
	Address  string         `yaml:"address" json:"address"`
	Username string         `yaml:"username" json:"username"`
	Password string         `yaml:"password" json:"password"`
	Database int            `yaml:"database" json:"database"`
}

// Hook is a journal hook using Redis as a backend.
type Hook struct {
	mqttsn.HookBase
	config *Options        // options for connecting to the Redis instance.
	db     *redis.Client   // the Redis instance
	ctx    context.Context // a context for the connection
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "redis-db"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqttsn.OnRegistered,
		mqttsn.OnPublished,
		mqttsn.OnPublishAcked,
		mqttsn.OnStopped,
		mqttsn.StoredMessages,
		mqttsn.StoredRegistrations,
		mqttsn.StoredSysInfo,
	}, []byte{b})
}

// hKey returns a hash set key with a unique prefix.
func (h *Hook) hKey(s string) string {
	return h.config.HPrefix + s
}

// Init initializes and connects to the redis service.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqttsn.ErrInvalidConfigType
	}

	h.ctx = context.Background()

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)
	if h.config.Options == nil {
		h.config.Options = &redis.Options{
			Addr:     h.config.Address,
			Username: h.config.Username,
			Password: h.config.Password,
			DB:       h.config.Database,
		}
	}

	if h.config.Options.Addr == "" {
		h.config.Options.Addr = defaultAddr
	}

	if h.config.HPrefix == "" {
		h.config.HPrefix = defaultHPrefix
	}

	h.Log.Info("connecting to redis service",
		"address", h.config.Options.Addr,
		"username", h.config.Options.Username,
		"password-len", len(h.config.Options.Password),
		"db", h.config.Options.DB)

	h.db = redis.NewClient(h.config.Options)
	_, err := h.db.Ping(h.ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping service: %w", err)
	}

	h.Log.Info("connected to redis service")

	return nil
}

// Stop closes the redis connection.
func (h *Hook) Stop() error {
	if h.db == nil {
		return nil
	}

	h.Log.Info("disconnecting from redis service")
	err := h.db.Close()
	h.db = nil
	return err
}

// OnRegistered adds a topic registration to the store.
func (h *Hook) OnRegistered(cl *mqttsn.Client, topic string, pk packets.Packet) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	in := &storage.Registration{
		ID:        storage.RegistrationID(cl.Session.ID, topic),
		T:         storage.RegistrationKey,
		Session:   cl.Session.ID,
		Client:    cl.Session.ClientID,
		TopicName: topic,
		TopicID:   pk.TopicID,
		PacketID:  pk.PacketID,
		Created:   time.Now().Unix(),
	}

	err := h.db.HSet(h.ctx, h.hKey(storage.RegistrationKey), in.ID, in).Err()
	if err != nil {
		h.Log.Error("failed to hset registration data", "error", err, "data", in)
	}
}

// OnPublished adds a sent message to the store.
func (h *Hook) OnPublished(cl *mqttsn.Client, topic string, pk packets.Packet) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	in := &storage.Message{
		ID:        storage.MessageID(cl.Session.ID, pk.PacketID),
		T:         storage.MessageKey,
		Session:   cl.Session.ID,
		Client:    cl.Session.ClientID,
		TopicName: topic,
		TopicID:   pk.TopicID,
		PacketID:  pk.PacketID,
		Flags:     pk.Flags,
		Payload:   pk.Payload,
		Status:    storage.MessageSent,
		Created:   time.Now().Unix(),
	}

	err := h.db.HSet(h.ctx, h.hKey(storage.MessageKey), in.ID, in).Err()
	if err != nil {
		h.Log.Error("failed to hset message data", "error", err, "data", in)
	}
}

// OnPublishAcked marks a stored message as acknowledged by the gateway.
func (h *Hook) OnPublishAcked(cl *mqttsn.Client, topic string, pk packets.Packet) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	in := &storage.Message{
		ID:        storage.MessageID(cl.Session.ID, pk.PacketID),
		T:         storage.MessageKey,
		Session:   cl.Session.ID,
		Client:    cl.Session.ClientID,
		TopicName: topic,
		TopicID:   pk.TopicID,
		PacketID:  pk.PacketID,
		Flags:     pk.Flags,
		Payload:   pk.Payload,
		Created:   time.Now().Unix(),
	}

	row, err := h.db.HGet(h.ctx, h.hKey(storage.MessageKey), in.ID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		h.Log.Error("failed to hget message data", "error", err, "key", in.ID)
		return
	}

	if err == nil {
		if err := in.UnmarshalBinary([]byte(row)); err != nil {
			h.Log.Error("failed to unmarshal message data", "error", err, "data", row)
		}
	}

	in.Status = storage.MessageAcked
	in.Acked = time.Now().Unix()

	err = h.db.HSet(h.ctx, h.hKey(storage.MessageKey), in.ID, in).Err()
	if err != nil {
		h.Log.Error("failed to hset message data", "error", err, "data", in)
	}
}

// OnStopped stores the final statistics of the session.
func (h *Hook) OnStopped(cl *mqttsn.Client) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return
	}

	in := &storage.SystemInfo{
		ID:   storage.SysInfoID(cl.Session.ID),
		T:    storage.SysInfoKey,
		Info: *cl.Info.Clone(),
	}

	err := h.db.HSet(h.ctx, h.hKey(storage.SysInfoKey), in.ID, in).Err()
	if err != nil {
		h.Log.Error("failed to hset sys info data", "error", err, "data", in)
	}
}

// rows returns the values of a hash set ordered by field.
func (h *Hook) rows(key string) ([]string, error) {
	m, err := h.db.HGetAll(h.ctx, h.hKey(key)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	fields := make([]string, 0, len(m))
	for k := range m {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	rows := make([]string, 0, len(m))
	for _, k := range fields {
		rows = append(rows, m[k])
	}

	return rows, nil
}

// StoredMessages returns all stored messages from the store.
func (h *Hook) StoredMessages() (v []storage.Message, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	rows, err := h.rows(storage.MessageKey)
	if err != nil {
		h.Log.Error("failed to HGetAll message data", "error", err)
		return
	}

	for _, row := range rows {
		var d storage.Message
		if err = d.UnmarshalBinary([]byte(row)); err != nil {
			h.Log.Error("failed to unmarshal message data", "error", err, "data", row)
			continue
		}

		v = append(v, d)
	}

	return v, nil
}

// StoredRegistrations returns all stored topic registrations from the store.
func (h *Hook) StoredRegistrations() (v []storage.Registration, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	rows, err := h.rows(storage.RegistrationKey)
	if err != nil {
		h.Log.Error("failed to HGetAll registration data", "error", err)
		return
	}

	for _, row := range rows {
		var d storage.Registration
		if err = d.UnmarshalBinary([]byte(row)); err != nil {
			h.Log.Error("failed to unmarshal registration data", "error", err, "data", row)
			continue
		}

		v = append(v, d)
	}

	return v, nil
}

// StoredSysInfo returns the statistics of the most recent session in the store.
func (h *Hook) StoredSysInfo() (v storage.SystemInfo, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	rows, err := h.rows(storage.SysInfoKey)
	if err != nil {
		return
	}

	if len(rows) == 0 {
		return v, nil
	}

	row := rows[len(rows)-1]
	if err = v.UnmarshalBinary([]byte(row)); err != nil {
		h.Log.Error("failed to unmarshal sys info data", "error", err, "data", row)
	}

	return v, nil
}
