// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package iothub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTelemetryTopic(t *testing.T) {
	require.Equal(t, "devices/dev1/messages/events/", TelemetryTopic("dev1", nil))
}

func TestTelemetryTopicProperties(t *testing.T) {
	topic := TelemetryTopic("dev1", map[string]string{
		PropertyContentType:     "application/json",
		PropertyContentEncoding: "utf-8",
		"alert":                 "true",
	})

	require.Equal(t, "devices/dev1/messages/events/%24.ce=utf-8&%24.ct=application%2Fjson&alert=true", topic)
}

func TestIdentityTelemetryTopic(t *testing.T) {
	i := Identity{Hostname: "hub.azure-devices.net", DeviceID: "dev1"}
	require.Equal(t, "devices/dev1/messages/events/", i.TelemetryTopic(nil))
}

func TestIdentityValidate(t *testing.T) {
	tt := []struct {
		desc string
		id   Identity
		err  error
	}{
		{desc: "valid", id: Identity{Hostname: "hub", DeviceID: "dev1"}},
		{desc: "no hostname", id: Identity{DeviceID: "dev1"}, err: ErrMissingHostname},
		{desc: "no device", id: Identity{Hostname: "hub"}, err: ErrMissingDeviceID},
		{desc: "separator", id: Identity{Hostname: "hub", DeviceID: "a/b"}, err: ErrInvalidDeviceID},
		{desc: "wildcard", id: Identity{Hostname: "hub", DeviceID: "a+"}, err: ErrInvalidDeviceID},
	}

	for _, tx := range tt {
		t.Run(tx.desc, func(t *testing.T) {
			err := tx.id.Validate()
			if tx.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tx.err)
		})
	}
}

func TestValidateDeviceID(t *testing.T) {
	require.NoError(t, ValidateDeviceID("dev-1.a_b"))
	require.ErrorIs(t, ValidateDeviceID(""), ErrMissingDeviceID)
	for _, id := range []string{"dev#", "dev+1", "a/b"} {
		require.ErrorIs(t, ValidateDeviceID(id), ErrInvalidDeviceID, id)
	}
}
