// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/debug"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage/badger"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage/bolt"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage/pebble"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage/redis"
	"github.com/mochi-mqtt/mqttsn-telemetry/transports"

	mqttsn "github.com/mochi-mqtt/mqttsn-telemetry"
)

var (
	yamlBytes = []byte(`
hooks:
  debug:
    enable: true
    show_pings: true
  storage:
    bolt:
      path: journal.db
options:
  client_id: dev1
  hub_hostname: hub.azure-devices.net
  gateway_host: 10.0.0.5
  gateway_port: 1884
  qos: 1
  message_count: 10
  send_interval: 2s
  receive_timeout: 500ms
  retry_limit: 30
  properties:
    $.ct: application/json
  transport:
    type: udp
    id: sn1
    local_address: ":1234"
`)

	jsonBytes = []byte(`{
   "hooks": {
      "debug": {
         "enable": true,
         "show_pings": true
      },
      "storage": {
         "bolt": {
            "path": "journal.db"
         }
      }
   },
   "options": {
      "client_id": "dev1",
      "hub_hostname": "hub.azure-devices.net",
      "gateway_host": "10.0.0.5",
      "gateway_port": 1884,
      "qos": 1,
      "message_count": 10,
      "send_interval": 2000000000,
      "receive_timeout": 500000000,
      "retry_limit": 30,
      "properties": {
         "$.ct": "application/json"
      },
      "transport": {
         "type": "udp",
         "id": "sn1",
         "local_address": ":1234"
      }
   }
}
`)
)

func checkParsed(t *testing.T, o *mqttsn.Options) {
	t.Helper()

	require.Equal(t, "dev1", o.ClientID)
	require.Equal(t, "hub.azure-devices.net", o.HubHostname)
	require.Equal(t, "10.0.0.5", o.GatewayHost)
	require.Equal(t, 1884, o.GatewayPort)
	require.Equal(t, byte(1), o.QoS)
	require.Equal(t, 10, o.MessageCount)
	require.Equal(t, 2*time.Second, o.SendInterval)
	require.Equal(t, 500*time.Millisecond, o.ReceiveTimeout)
	require.Equal(t, 30, o.RetryLimit)
	require.Equal(t, map[string]string{"$.ct": "application/json"}, o.Properties)
	require.Equal(t, transports.Config{
		Type:         transports.TypeUDP,
		ID:           "sn1",
		LocalAddress: ":1234",
	}, o.Transport)

	// untouched keys keep their defaults
	require.Equal(t, uint16(mqttsn.DefaultKeepAlive), o.KeepAlive)
	require.Equal(t, mqttsn.DefaultPayload, o.Payload)
	require.Equal(t, mqttsn.DefaultReadBufferSize, o.ReadBufferSize)

	require.Equal(t, []mqttsn.HookLoadConfig{
		{
			Hook:   new(bolt.Hook),
			Config: &bolt.Options{Path: "journal.db"},
		},
		{
			Hook:   new(debug.Hook),
			Config: &debug.Options{Enable: true, ShowPings: true},
		},
	}, o.Hooks)
}

func TestFromBytesEmpty(t *testing.T) {
	o, err := FromBytes([]byte{})
	require.NoError(t, err)
	require.Equal(t, mqttsn.DefaultGatewayHost, o.GatewayHost)
	require.Equal(t, mqttsn.DefaultMessageCount, o.MessageCount)
	require.Empty(t, o.Hooks)
}

func TestFromBytesYAML(t *testing.T) {
	o, err := FromBytes(yamlBytes)
	require.NoError(t, err)
	checkParsed(t, o)
}

func TestFromBytesYAMLError(t *testing.T) {
	_, err := FromBytes(append(yamlBytes, 'a'))
	require.Error(t, err)
}

func TestFromBytesJSON(t *testing.T) {
	o, err := FromBytes(jsonBytes)
	require.NoError(t, err)
	checkParsed(t, o)
}

func TestFromBytesJSONError(t *testing.T) {
	_, err := FromBytes(append(jsonBytes, 'a'))
	require.Error(t, err)
}

func TestFromBytesZeroOverridesDefault(t *testing.T) {
	o, err := FromBytes([]byte("options:\n  retry_limit: 0\n  qos: 0\n"))
	require.NoError(t, err)
	require.Equal(t, 0, o.RetryLimit)
	require.Equal(t, byte(0), o.QoS)
}

func TestFromBytesPersistentSession(t *testing.T) {
	o, err := FromBytes([]byte("options:\n  persistent_session: true\n"))
	require.NoError(t, err)
	require.True(t, o.PersistentSession)

	o, err = FromBytes([]byte{})
	require.NoError(t, err)
	require.False(t, o.PersistentSession)
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, yamlBytes, 0600))

	o, err := FromFile(path)
	require.NoError(t, err)
	checkParsed(t, o)
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestToHooksStorage(t *testing.T) {
	hc := HookConfigs{
		Storage: &HookStorageConfig{
			Badger: &badger.Options{InMemory: true},
			Bolt:   &bolt.Options{Path: "b"},
			Pebble: &pebble.Options{Path: "p"},
			Redis:  &redis.Options{Address: "localhost:6379"},
		},
	}

	hlc := hc.ToHooks()
	require.Len(t, hlc, 4)
	require.IsType(t, new(badger.Hook), hlc[0].Hook)
	require.IsType(t, new(bolt.Hook), hlc[1].Hook)
	require.IsType(t, new(redis.Hook), hlc[2].Hook)
	require.IsType(t, new(pebble.Hook), hlc[3].Hook)
	require.Equal(t, &redis.Options{Address: "localhost:6379"}, hlc[2].Config)
}

func TestToHooksNone(t *testing.T) {
	require.Empty(t, HookConfigs{}.ToHooks())
}

func env(m map[string]string) func(string) string {
	return func(k string) string {
		return m[k]
	}
}

func TestFromEnv(t *testing.T) {
	o := mqttsn.DefaultOptions()
	err := FromEnv(o, env(map[string]string{
		EnvDeviceID:       "dev1",
		EnvHubHostname:    "hub.azure-devices.net",
		EnvGatewayAddress: "10.0.0.9",
		EnvGatewayPort:    "1885",
	}))
	require.NoError(t, err)
	require.Equal(t, "dev1", o.ClientID)
	require.Equal(t, "hub.azure-devices.net", o.HubHostname)
	require.Equal(t, "10.0.0.9", o.GatewayHost)
	require.Equal(t, 1885, o.GatewayPort)
	require.Equal(t, mqttsn.DefaultMessageCount, o.MessageCount)
	require.NotNil(t, o.Logger)
}

func TestFromEnvKeepsValues(t *testing.T) {
	o, err := FromBytes(yamlBytes)
	require.NoError(t, err)

	err = FromEnv(o, env(map[string]string{}))
	require.NoError(t, err)
	require.Equal(t, "dev1", o.ClientID)
	require.Equal(t, "10.0.0.5", o.GatewayHost)
	require.Equal(t, 1884, o.GatewayPort)
	require.Len(t, o.Hooks, 2)
}

func TestFromEnvMissingDeviceID(t *testing.T) {
	o := mqttsn.DefaultOptions()
	err := FromEnv(o, env(map[string]string{
		EnvHubHostname: "hub.azure-devices.net",
	}))
	require.ErrorIs(t, err, ErrMissingEnv)
	require.ErrorContains(t, err, EnvDeviceID)
}

func TestFromEnvMissingHubHostname(t *testing.T) {
	o := mqttsn.DefaultOptions()
	err := FromEnv(o, env(map[string]string{
		EnvDeviceID: "dev1",
	}))
	require.ErrorIs(t, err, ErrMissingEnv)
	require.ErrorContains(t, err, EnvHubHostname)
}

func TestFromEnvInvalidPort(t *testing.T) {
	for _, v := range []string{"abc", "0", "70000"} {
		o := mqttsn.DefaultOptions()
		err := FromEnv(o, env(map[string]string{
			EnvDeviceID:    "dev1",
			EnvHubHostname: "hub",
			EnvGatewayPort: v,
		}))
		require.ErrorIs(t, err, ErrInvalidEnv)
	}
}
