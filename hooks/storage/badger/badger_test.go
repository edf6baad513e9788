// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package badger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	mqttsn "github.com/mochi-mqtt/mqttsn-telemetry"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage"
	"github.com/mochi-mqtt/mqttsn-telemetry/packets"

	"github.com/stretchr/testify/require"
)

var (
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pkPublish = packets.Packet{
		Header:   packets.Header{Type: packets.Publish},
		Flags:    packets.Flags{Qos: 1},
		TopicID:  7,
		PacketID: 2,
		Payload:  []byte("hello"),
	}
)

func newClient() *mqttsn.Client {
	return mqttsn.New(&mqttsn.Options{ClientID: "dev1", Logger: logger}, nil)
}

func newHook(t *testing.T) *Hook {
	t.Helper()

	h := new(Hook)
	h.SetOpts(logger, nil)
	err := h.Init(&Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func TestID(t *testing.T) {
	h := new(Hook)
	require.Equal(t, "badger-db", h.ID())
}

func TestProvides(t *testing.T) {
	h := new(Hook)
	require.True(t, h.Provides(mqttsn.OnRegistered))
	require.True(t, h.Provides(mqttsn.OnPublished))
	require.True(t, h.Provides(mqttsn.OnPublishAcked))
	require.True(t, h.Provides(mqttsn.OnStopped))
	require.True(t, h.Provides(mqttsn.StoredMessages))
	require.True(t, h.Provides(mqttsn.StoredRegistrations))
	require.True(t, h.Provides(mqttsn.StoredSysInfo))
	require.False(t, h.Provides(mqttsn.OnPacketRead))
}

func TestInitBadConfig(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	err := h.Init(map[string]any{})
	require.ErrorIs(t, err, mqttsn.ErrInvalidConfigType)
}

func TestInitDefaults(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer func() { _ = os.Chdir(wd) }()

	require.NoError(t, h.Init(nil))
	require.Equal(t, defaultDbFile, h.config.Path)
	require.Equal(t, int64(defaultGcInterval), h.config.GcInterval)
	require.Equal(t, defaultGcDiscardRatio, h.config.GcDiscardRatio)
	require.NoError(t, h.Stop())
}

func TestInitOnDisk(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)

	path := filepath.Join(t.TempDir(), "journal")
	require.NoError(t, h.Init(&Options{Path: path, GcDiscardRatio: 2}))
	require.Equal(t, defaultGcDiscardRatio, h.config.GcDiscardRatio)

	cl := newClient()
	h.OnRegistered(cl, "a/b", packets.Packet{TopicID: 7})
	require.NoError(t, h.Stop())

	// reopen and read back
	h = new(Hook)
	h.SetOpts(logger, nil)
	require.NoError(t, h.Init(&Options{Path: path}))
	defer h.Stop()

	r, err := h.StoredRegistrations()
	require.NoError(t, err)
	require.Len(t, r, 1)
}

func TestLoggerMethods(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	h.Errorf("error %s\n", "a")
	h.Warningf("warning %s", "b")
	h.Infof("info %s", "c")
	h.Debugf("debug %s", "d")
}

func TestStop(t *testing.T) {
	h := newHook(t)
	require.NoError(t, h.Stop())
	require.Nil(t, h.db)
	require.NoError(t, h.Stop())
}

func TestOnRegistered(t *testing.T) {
	h := newHook(t)
	cl := newClient()

	h.OnRegistered(cl, "a/b", packets.Packet{TopicID: 7, PacketID: 1})

	r, err := h.StoredRegistrations()
	require.NoError(t, err)
	require.Len(t, r, 1)
	require.Equal(t, storage.RegistrationID(cl.Session.ID, "a/b"), r[0].ID)
	require.Equal(t, storage.RegistrationKey, r[0].T)
	require.Equal(t, "a/b", r[0].TopicName)
	require.Equal(t, uint16(7), r[0].TopicID)
	require.Equal(t, "dev1", r[0].Client)
}

func TestOnPublishedAndAcked(t *testing.T) {
	h := newHook(t)
	cl := newClient()

	h.OnPublished(cl, "a/b", pkPublish)

	m, err := h.StoredMessages()
	require.NoError(t, err)
	require.Len(t, m, 1)
	require.Equal(t, storage.MessageSent, m[0].Status)
	require.Equal(t, []byte("hello"), m[0].Payload)
	require.Equal(t, uint16(2), m[0].PacketID)

	h.OnPublishAcked(cl, "a/b", pkPublish)

	m, err = h.StoredMessages()
	require.NoError(t, err)
	require.Len(t, m, 1)
	require.Equal(t, storage.MessageAcked, m[0].Status)
	require.NotZero(t, m[0].Acked)
	require.NotZero(t, m[0].Created)
}

func TestOnPublishedQos0(t *testing.T) {
	h := newHook(t)
	cl := newClient()

	pk := pkPublish.Copy()
	pk.Flags.Qos = 0
	pk.PacketID = 0
	h.OnPublished(cl, "a/b", pk)
	h.OnPublished(cl, "a/b", pk)

	m, err := h.StoredMessages()
	require.NoError(t, err)
	require.Len(t, m, 2)
}

func TestOnStopped(t *testing.T) {
	h := newHook(t)
	cl := newClient()
	cl.Info.MessagesAcked = 5

	h.OnStopped(cl)

	s, err := h.StoredSysInfo()
	require.NoError(t, err)
	require.Equal(t, int64(5), s.MessagesAcked)
	require.Equal(t, mqttsn.Version, s.Version)
	require.Equal(t, storage.SysInfoID(cl.Session.ID), s.ID)
}

func TestStoredSysInfoLatest(t *testing.T) {
	h := newHook(t)

	first := newClient()
	first.Info.MessagesSent = 1
	h.OnStopped(first)

	second := newClient()
	second.Info.MessagesSent = 2
	h.OnStopped(second)

	s, err := h.StoredSysInfo()
	require.NoError(t, err)
	require.Equal(t, int64(2), s.MessagesSent)
}

func TestStoredEmpty(t *testing.T) {
	h := newHook(t)

	m, err := h.StoredMessages()
	require.NoError(t, err)
	require.Empty(t, m)

	s, err := h.StoredSysInfo()
	require.NoError(t, err)
	require.Empty(t, s.Version)
}

func TestNoDB(t *testing.T) {
	h := new(Hook)
	h.SetOpts(logger, nil)
	cl := newClient()

	h.OnRegistered(cl, "a/b", packets.Packet{})
	h.OnPublished(cl, "a/b", pkPublish)
	h.OnPublishAcked(cl, "a/b", pkPublish)
	h.OnStopped(cl)

	_, err := h.StoredMessages()
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)

	_, err = h.StoredRegistrations()
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)

	_, err = h.StoredSysInfo()
	require.ErrorIs(t, err, storage.ErrDBFileNotOpen)
}

func TestClientJournal(t *testing.T) {
	h := new(Hook)
	cl := newClient()
	err := cl.AddHook(h, &Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Stop() })

	cl.Hooks().OnPublished(cl, "a/b", pkPublish)

	pks, err := cl.StoredMessages()
	require.NoError(t, err)
	require.Len(t, pks, 1)
	require.Equal(t, uint16(7), pks[0].TopicID)
}
