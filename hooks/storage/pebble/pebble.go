// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: werbenhu

package pebble

import (
	"bytes"
	"errors"
	"strings"
	"time"

	pebbledb "github.com/cockroachdb/pebble"
	mqttsn "github.com/mochi-mqtt/mqttsn-telemetry"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage"
	"github.com/mochi-mqtt/mqttsn-telemetry/packets"
)

const (
	// defaultDbFile is the default file path for the pebble db file.
	defaultDbFile = ".pebble"
)

// keyUpperBound returns the upper bound for a given byte slice by incrementing the last byte.
// It returns nil if all bytes are incremented and equal to 0.
func keyUpperBound(b []byte) []byte {
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i] = end[i] + 1
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

const (
	NoSync = "NoSync" // NoSync specifies the default write options for writes which do not synchronize to disk.
	Sync   = "Sync"   // Sync specifies the default write options for writes which synchronize to disk.
)

// Options contains configuration settings for the pebble DB instance.
type Options struct {
	Options *pebbledb.Options `yaml:"-" json:"-"`
	Mode    string            `yaml:"mode" json:"mode"`
	Path    string            `yaml:"path" json:"path"`
}

// Hook is a journal hook using a pebble DB file store as a backend.
type Hook struct {
	mqttsn.HookBase
	config *Options               // options for configuring the pebble DB instance.
	db     *pebbledb.DB           // the pebble DB instance
	mode   *pebbledb.WriteOptions // mode holds the optional per-query parameters for Set and Delete operations
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "pebble-db"
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

// Init initializes and connects to the pebble instance.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqttsn.ErrInvalidConfigType
	}

	if config == nil {
		h.config = new(Options)
	} else {
		h.config = config.(*Options)
	}

	if len(h.config.Path) == 0 {
		h.config.Path = defaultDbFile
	}

	if h.config.Options == nil {
		h.config.Options = &pebbledb.Options{}
	}

	h.mode = pebbledb.NoSync
	if strings.EqualFold(h.config.Mode, Sync) {
		h.mode = pebbledb.Sync
	}

	var err error
	h.db, err = pebbledb.Open(h.config.Path, h.config.Options)
	return err
}

// Stop closes the pebble instance.
func (h *Hook) Stop() error {
	if h.db == nil {
		return nil
	}

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

	_ = h.setKv(in.ID, in)
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

	_ = h.setKv(in.ID, in)
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

	err := h.getKv(in.ID, in)
	if err != nil && !errors.Is(err, pebbledb.ErrNotFound) {
		h.Log.Error("failed to get data", "error", err, "key", in.ID)
		return
	}

	in.Status = storage.MessageAcked
	in.Acked = time.Now().Unix()
	_ = h.setKv(in.ID, in)
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

	_ = h.setKv(in.ID, in)
}

// StoredMessages returns all stored messages from the store.
func (h *Hook) StoredMessages() (v []storage.Message, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	v = make([]storage.Message, 0)
	err = h.iterKv(storage.MessageKey, func(value []byte) {
		item := storage.Message{}
		if err := item.UnmarshalBinary(value); err == nil {
			v = append(v, item)
		}
	})
	return
}

// StoredRegistrations returns all stored topic registrations from the store.
func (h *Hook) StoredRegistrations() (v []storage.Registration, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	v = make([]storage.Registration, 0)
	err = h.iterKv(storage.RegistrationKey, func(value []byte) {
		item := storage.Registration{}
		if err := item.UnmarshalBinary(value); err == nil {
			v = append(v, item)
		}
	})
	return
}

// StoredSysInfo returns the statistics of the most recent session in the store.
func (h *Hook) StoredSysInfo() (v storage.SystemInfo, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	iter, err := h.db.NewIter(&pebbledb.IterOptions{
		LowerBound: []byte(storage.SysInfoKey),
		UpperBound: keyUpperBound([]byte(storage.SysInfoKey)),
	})
	if err != nil {
		return v, err
	}
	defer iter.Close()

	if iter.Last() {
		err = v.UnmarshalBinary(iter.Value())
	}

	return v, err
}

// setKv stores a key-value pair in the database.
func (h *Hook) setKv(k string, v storage.Serializable) error {
	bs, _ := v.MarshalBinary()
	err := h.db.Set([]byte(k), bs, h.mode)
	if err != nil {
		h.Log.Error("failed to update data", "error", err, "key", k)
		return err
	}
	return nil
}

// getKv retrieves the value associated with a key from the database.
func (h *Hook) getKv(k string, v storage.Serializable) error {
	value, closer, err := h.db.Get([]byte(k))
	if err != nil {
		return err
	}

	defer func() {
		if closer != nil {
			closer.Close()
		}
	}()
	return v.UnmarshalBinary(value)
}

// iterKv visits the values of every key with the given prefix.
func (h *Hook) iterKv(prefix string, visit func([]byte)) error {
	iter, err := h.db.NewIter(&pebbledb.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		h.Log.Error("failed to iter data", "error", err, "prefix", prefix)
		return err
	}

	for iter.First(); iter.Valid(); iter.Next() {
		visit(iter.Value())
	}

	return iter.Close()
}
