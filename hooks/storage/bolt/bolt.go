// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, werbenhu

// Package bolt journals a session to a boltdb file.
package bolt

import (
	"bytes"
	"errors"
	"time"

	mqttsn "github.com/mochi-mqtt/mqttsn-telemetry"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage"
	"github.com/mochi-mqtt/mqttsn-telemetry/packets"
	"go.etcd.io/bbolt"
)

var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrKeyNotFound    = errors.New("key not found")
)

const (
	// defaultDbFile is the default file path for the boltdb file.
	defaultDbFile = ".bolt"

	// defaultTimeout is the default time to hold a connection to the file.
	defaultTimeout = 250 * time.Millisecond

	defaultBucket = "mochi-sn"
)

// Options contains configuration settings for the bolt instance.
type Options struct {
	Options *bbolt.Options `yaml:"-" json:"-"`
	Bucket  string         `yaml:"bucket" json:"bucket"`
	Path    string         `yaml:"path" json:"path"`
}

// Hook is a journal hook using a boltdb file store as a backend.
type Hook struct {
	mqttsn.HookBase
	config *Options  // options for configuring the boltdb instance.
	db     *bbolt.DB // the boltdb instance.
}

// ID returns the id of the hook.
func (h *Hook) ID() string {
	return "bolt-db"
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

// Init initializes and connects to the boltdb instance.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqttsn.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	h.config = config.(*Options)
	if h.config.Options == nil {
		h.config.Options = &bbolt.Options{
			Timeout: defaultTimeout,
		}
	}

	if len(h.config.Path) == 0 {
		h.config.Path = defaultDbFile
	}

	if len(h.config.Bucket) == 0 {
		h.config.Bucket = defaultBucket
	}

	var err error
	h.db, err = bbolt.Open(h.config.Path, 0600, h.config.Options)
	if err != nil {
		return err
	}

	return h.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(h.config.Bucket))
		return err
	})
}

// Stop closes the boltdb instance.
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

	in := &storage.Message{}
	key := storage.MessageID(cl.Session.ID, pk.PacketID)
	if err := h.getKv(key, in); err != nil && !errors.Is(err, ErrKeyNotFound) {
		return
	}

	in.ID = key
	in.T = storage.MessageKey
	in.Session = cl.Session.ID
	in.Client = cl.Session.ClientID
	in.TopicName = topic
	in.TopicID = pk.TopicID
	in.PacketID = pk.PacketID
	in.Flags = pk.Flags
	in.Payload = pk.Payload
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

// setKv stores a key-value pair in the database.
func (h *Hook) setKv(k string, v storage.Serializable) error {
	err := h.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		data, _ := v.MarshalBinary()
		return bucket.Put([]byte(k), data)
	})
	if err != nil {
		h.Log.Error("failed to upsert data", "error", err, "key", k)
	}
	return err
}

// getKv retrieves the value associated with a key from the database.
func (h *Hook) getKv(k string, v storage.Serializable) error {
	err := h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		value := bucket.Get([]byte(k))
		if value == nil {
			return ErrKeyNotFound
		}

		return v.UnmarshalBinary(value)
	})
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		h.Log.Error("failed to get data", "error", err, "key", k)
	}
	return err
}

// iterKv iterates over key-value pairs with keys having the specified prefix in the database.
func (h *Hook) iterKv(prefix string, visit func([]byte) error) error {
	err := h.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(h.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		c := bucket.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := visit(v); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		h.Log.Error("failed to iter data", "error", err, "prefix", prefix)
	}
	return err
}
