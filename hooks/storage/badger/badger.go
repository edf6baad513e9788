// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, gsagula, werbenhu

package badger

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	mqttsn "github.com/mochi-mqtt/mqttsn-telemetry"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage"
	"github.com/mochi-mqtt/mqttsn-telemetry/packets"
)

const (
	// defaultDbFile is the default file path for the badger db file.
	defaultDbFile         = ".badger"
	defaultGcInterval     = 5 * 60 // gc interval in seconds
	defaultGcDiscardRatio = 0.5
)

// Options contains configuration settings for the BadgerDB instance.
type Options struct {
	Options *badgerdb.Options `yaml:"-" json:"-"`
	Path    string            `yaml:"path" json:"path"`
	// GcDiscardRatio specifies the ratio of log discard compared to the maximum possible log discard.
	// discardRatio must be in the range (0.0, 1.0), both endpoints excluded, otherwise, it will be set to the default value of 0.5.
	GcDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio"`
	GcInterval     int64   `yaml:"gc_interval" json:"gc_interval"`
	InMemory       bool    `yaml:"in_memory" json:"in_memory"`
}

// Hook is a journal hook using a BadgerDB file store as a backend.
type Hook struct {
	mqttsn.HookBase
	config   *Options      // options for configuring the BadgerDB instance.
	gcTicker *time.Ticker  // Ticker for BadgerDB garbage collection.
	done     chan struct{} // closed to stop the gc loop.
	db       *badgerdb.DB  // the BadgerDB instance.
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "badger-db"
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

// gcLoop periodically runs the garbage collection process to reclaim space in the value log files.
// Refer to: https://dgraph.io/docs/badger/get-started/#garbage-collection
func (h *Hook) gcLoop() {
	for {
		select {
		case <-h.done:
			return
		case <-h.gcTicker.C:
		again:
			// repeat while the collection keeps reclaiming space.
			if err := h.db.RunValueLogGC(h.config.GcDiscardRatio); err == nil {
				goto again
			}
		}
	}
}

// Init initializes and connects to the badger instance.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqttsn.ErrInvalidConfigType
	}

	if config == nil {
		h.config = new(Options)
	} else {
		h.config = config.(*Options)
	}

	if len(h.config.Path) == 0 && !h.config.InMemory {
		h.config.Path = defaultDbFile
	}

	if h.config.GcInterval == 0 {
		h.config.GcInterval = defaultGcInterval
	}

	if h.config.GcDiscardRatio <= 0.0 || h.config.GcDiscardRatio >= 1.0 {
		h.config.GcDiscardRatio = defaultGcDiscardRatio
	}

	if h.config.Options == nil {
		defaultOpts := badgerdb.DefaultOptions(h.config.Path).WithInMemory(h.config.InMemory)
		h.config.Options = &defaultOpts
	}
	h.config.Options.Logger = h

	var err error
	h.db, err = badgerdb.Open(*h.config.Options)
	if err != nil {
		return err
	}

	h.done = make(chan struct{})
	h.gcTicker = time.NewTicker(time.Duration(h.config.GcInterval) * time.Second)
	go h.gcLoop()

	return nil
}

// Stop closes the badger instance.
func (h *Hook) Stop() error {
	if h.db == nil {
		return nil
	}

	if h.gcTicker != nil {
		h.gcTicker.Stop()
		close(h.done)
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
	if err != nil && !errors.Is(err, badgerdb.ErrKeyNotFound) {
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
	err = h.iterKv(storage.MessageKey, func(value []byte) error {
		obj := storage.Message{}
		err = obj.UnmarshalBinary(value)
		if err == nil {
			v = append(v, obj)
		}
		return err
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
	err = h.iterKv(storage.RegistrationKey, func(value []byte) error {
		obj := storage.Registration{}
		err = obj.UnmarshalBinary(value)
		if err == nil {
			v = append(v, obj)
		}
		return err
	})
	return
}

// StoredSysInfo returns the statistics of the most recent session in the store.
func (h *Hook) StoredSysInfo() (v storage.SystemInfo, err error) {
	if h.db == nil {
		h.Log.Error("", "error", storage.ErrDBFileNotOpen)
		return v, storage.ErrDBFileNotOpen
	}

	// session ids sort by creation time, so the last record is the newest.
	err = h.iterKv(storage.SysInfoKey, func(value []byte) error {
		obj := storage.SystemInfo{}
		if err := obj.UnmarshalBinary(value); err != nil {
			return err
		}
		v = obj
		return nil
	})
	return
}

// Errorf satisfies the badger interface for an error logger.
func (h *Hook) Errorf(m string, v ...any) {
	h.Log.Error(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Warningf satisfies the badger interface for a warning logger.
func (h *Hook) Warningf(m string, v ...any) {
	h.Log.Warn(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Infof satisfies the badger interface for an info logger.
func (h *Hook) Infof(m string, v ...any) {
	h.Log.Info(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Debugf satisfies the badger interface for a debug logger.
func (h *Hook) Debugf(m string, v ...any) {
	h.Log.Debug(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// setKv stores a key-value pair in the database.
func (h *Hook) setKv(k string, v storage.Serializable) error {
	err := h.db.Update(func(txn *badgerdb.Txn) error {
		data, _ := v.MarshalBinary()
		return txn.Set([]byte(k), data)
	})
	if err != nil {
		h.Log.Error("failed to upsert data", "error", err, "key", k)
	}
	return err
}

// getKv retrieves the value associated with a key from the database.
func (h *Hook) getKv(k string, v storage.Serializable) error {
	return h.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(k))
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return v.UnmarshalBinary(value)
	})
}

// iterKv iterates over key-value pairs with keys having the specified prefix in the database.
func (h *Hook) iterKv(prefix string, visit func([]byte) error) error {
	err := h.db.View(func(txn *badgerdb.Txn) error {
		iterator := txn.NewIterator(badgerdb.DefaultIteratorOptions)
		defer iterator.Close()

		for iterator.Seek([]byte(prefix)); iterator.ValidForPrefix([]byte(prefix)); iterator.Next() {
			value, err := iterator.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			if err := visit(value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.Log.Error("failed to find data", "error", err, "prefix", prefix)
	}
	return err
}
