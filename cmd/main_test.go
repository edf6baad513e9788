// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mqttsn "github.com/mochi-mqtt/mqttsn-telemetry"
	"github.com/mochi-mqtt/mqttsn-telemetry/config"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage/bolt"
	"github.com/mochi-mqtt/mqttsn-telemetry/iothub"
	"github.com/mochi-mqtt/mqttsn-telemetry/packets"
	"github.com/mochi-mqtt/mqttsn-telemetry/system"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func env(m map[string]string) func(string) string {
	return func(k string) string {
		return m[k]
	}
}

func deviceEnv() map[string]string {
	return map[string]string{
		config.EnvDeviceID:    "dev1",
		config.EnvHubHostname: "hub.azure-devices.net",
	}
}

// udpGateway answers connect, register and qos 1 publish packets on a local
// udp socket. A silent gateway reads packets without answering.
type udpGateway struct {
	conn     *net.UDPConn
	silent   bool
	received atomic.Int64
}

func startGateway(t *testing.T, silent bool) *udpGateway {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	g := &udpGateway{conn: conn, silent: silent}
	go g.serve()
	return g
}

func (g *udpGateway) port() string {
	return strconv.Itoa(g.conn.LocalAddr().(*net.UDPAddr).Port)
}

func (g *udpGateway) serve() {
	b := make([]byte, 512)
	for {
		n, addr, err := g.conn.ReadFromUDP(b)
		if err != nil {
			return
		}

		pk, err := packets.ReadPacket(b[:n])
		if err != nil {
			continue
		}

		g.received.Add(1)
		if g.silent {
			continue
		}

		var out packets.Packet
		switch pk.Header.Type {
		case packets.Connect:
			out = packets.Packet{Header: packets.Header{Type: packets.Connack}}
		case packets.Register:
			out = packets.Packet{Header: packets.Header{Type: packets.Regack}, TopicID: 1, PacketID: pk.PacketID}
		case packets.Publish:
			if pk.Flags.Qos == 0 {
				continue
			}
			out = packets.Packet{Header: packets.Header{Type: packets.Puback}, TopicID: pk.TopicID, PacketID: pk.PacketID}
		default:
			continue
		}

		buf := new(bytes.Buffer)
		if err := out.Encode(buf); err != nil {
			continue
		}
		_, _ = g.conn.WriteToUDP(buf.Bytes(), addr)
	}
}

func TestGatewayArgs(t *testing.T) {
	o := mqttsn.DefaultOptions()
	require.NoError(t, gatewayArgs(nil, o))
	require.Equal(t, mqttsn.DefaultGatewayHost, o.GatewayHost)
	require.Equal(t, mqttsn.DefaultGatewayPort, o.GatewayPort)

	require.NoError(t, gatewayArgs([]string{"10.1.1.1", "1884"}, o))
	require.Equal(t, "10.1.1.1", o.GatewayHost)
	require.Equal(t, 1884, o.GatewayPort)
}

func TestGatewayArgsInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"10.1.1.1"},
		{"10.1.1.1", "1884", "x"},
		{"10.1.1.1", "port"},
		{"10.1.1.1", "0"},
		{"10.1.1.1", "65536"},
	} {
		require.Error(t, gatewayArgs(args, mqttsn.DefaultOptions()), args)
	}
}

func TestLoadOptionsPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
options:
  gateway_host: 10.0.0.5
  gateway_port: 1884
  message_count: 3
  retry_limit: 4
`), 0600))

	f := new(flags)
	fs := newFlagSet(f, io.Discard)
	require.NoError(t, fs.Parse([]string{
		"-config", path,
		"-count", "7",
		"-qos", "1",
		"-local-port", "1234",
		"10.9.9.9", "1999",
	}))

	e := deviceEnv()
	e[config.EnvGatewayAddress] = "10.2.2.2"
	o, err := loadOptions(f, fs, env(e))
	require.NoError(t, err)

	require.Equal(t, "dev1", o.ClientID)
	require.Equal(t, 7, o.MessageCount)
	require.Equal(t, 4, o.RetryLimit)
	require.Equal(t, byte(1), o.QoS)
	require.Equal(t, ":1234", o.Transport.LocalAddress)
	require.Equal(t, "10.9.9.9", o.GatewayHost)
	require.Equal(t, 1999, o.GatewayPort)
	require.Empty(t, o.Hooks)
}

func TestLoadOptionsEnvOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"options":{"gateway_host":"10.0.0.5"}}`), 0600))

	f := new(flags)
	fs := newFlagSet(f, io.Discard)
	require.NoError(t, fs.Parse([]string{"-config", path}))

	e := deviceEnv()
	e[config.EnvGatewayAddress] = "10.2.2.2"
	o, err := loadOptions(f, fs, env(e))
	require.NoError(t, err)
	require.Equal(t, "10.2.2.2", o.GatewayHost)
	require.Equal(t, mqttsn.DefaultGatewayPort, o.GatewayPort)
}

func TestFlagsApplyUnsetKeepsOptions(t *testing.T) {
	o := mqttsn.DefaultOptions()
	o.RetryLimit = 9
	o.QoS = 1

	f := new(flags)
	fs := newFlagSet(f, io.Discard)
	require.NoError(t, fs.Parse([]string{}))
	f.apply(fs, o)

	require.Equal(t, 9, o.RetryLimit)
	require.Equal(t, byte(1), o.QoS)
	require.Equal(t, mqttsn.DefaultMessageCount, o.MessageCount)
	require.Equal(t, "", o.Transport.LocalAddress)
}

func TestFlagsApplyHooks(t *testing.T) {
	o := mqttsn.DefaultOptions()
	f := new(flags)
	fs := newFlagSet(f, io.Discard)
	require.NoError(t, fs.Parse([]string{"-journal", "j.db", "-debug"}))
	f.apply(fs, o)

	require.Len(t, o.Hooks, 2)
	require.Equal(t, &bolt.Options{Path: "j.db"}, o.Hooks[0].Config)
}

func TestRunHelp(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := run(context.Background(), []string{"-h"}, env(nil), io.Discard, stderr)
	require.Equal(t, exitOK, code)
	require.Contains(t, stderr.String(), "usage: mqttsn-telemetry")
}

func TestRunBadFlag(t *testing.T) {
	code := run(context.Background(), []string{"-nope"}, env(deviceEnv()), io.Discard, io.Discard)
	require.Equal(t, exitConfig, code)
}

func TestRunMissingEnv(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := run(context.Background(), nil, env(nil), io.Discard, stderr)
	require.Equal(t, exitConfig, code)
	require.Contains(t, stderr.String(), config.EnvDeviceID)
}

func TestRunInvalidQos(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := run(context.Background(), []string{"-qos", "2"}, env(deviceEnv()), io.Discard, stderr)
	require.Equal(t, exitConfig, code)
	require.Contains(t, stderr.String(), mqttsn.ErrQosNotSupported.Error())
}

func TestRunInvalidDeviceID(t *testing.T) {
	e := deviceEnv()
	e[config.EnvDeviceID] = "dev+1"

	stderr := new(bytes.Buffer)
	code := run(context.Background(), []string{"-retry-limit", "3"}, env(e), io.Discard, stderr)
	require.Equal(t, exitConfig, code)
	require.Contains(t, stderr.String(), iothub.ErrInvalidDeviceID.Error())
}

func TestRunBadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	code := run(context.Background(), []string{"-config", path}, env(deviceEnv()), io.Discard, io.Discard)
	require.Equal(t, exitConfig, code)
}

func TestRunBadPositional(t *testing.T) {
	code := run(context.Background(), []string{"127.0.0.1"}, env(deviceEnv()), io.Discard, io.Discard)
	require.Equal(t, exitConfig, code)
}

func TestRunSession(t *testing.T) {
	g := startGateway(t, false)
	journal := filepath.Join(t.TempDir(), "journal.db")

	stdout := new(bytes.Buffer)
	code := run(context.Background(), []string{
		"-qos", "1",
		"-count", "2",
		"-interval", "1ms",
		"-receive-timeout", "2s",
		"-retry-limit", "1",
		"-journal", journal,
		"-metrics", "127.0.0.1:0",
		"-debug",
		"127.0.0.1", g.port(),
	}, env(deviceEnv()), stdout, io.Discard)
	require.Equal(t, exitOK, code, stdout.String())
	require.Contains(t, stdout.String(), "session complete")
	require.Contains(t, stdout.String(), "serving metrics")

	// connect, register, two publishes and disconnect.
	require.Eventually(t, func() bool {
		return g.received.Load() == 5
	}, time.Second, time.Millisecond*5)

	h := new(bolt.Hook)
	h.SetOpts(logger, nil)
	require.NoError(t, h.Init(&bolt.Options{Path: journal}))
	defer h.Stop()

	msgs, err := h.StoredMessages()
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	regs, err := h.StoredRegistrations()
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, uint16(1), regs[0].TopicID)
}

func TestRunSilentGateway(t *testing.T) {
	g := startGateway(t, true)

	code := run(context.Background(), []string{
		"-retry-limit", "1",
		"-receive-timeout", "20ms",
		"127.0.0.1", g.port(),
	}, env(deviceEnv()), io.Discard, io.Discard)
	require.Equal(t, exitFailure, code)
	require.Equal(t, int64(1), g.received.Load())
}

func TestRunCancelled(t *testing.T) {
	g := startGateway(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stdout := new(bytes.Buffer)
	code := run(ctx, []string{"127.0.0.1", g.port()}, env(deviceEnv()), stdout, io.Discard)
	require.Equal(t, exitFailure, code)
	require.Contains(t, stdout.String(), "caught signal")
}

func TestRunMetricsAddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	code := run(context.Background(), []string{"-metrics", ln.Addr().String()}, env(deviceEnv()), io.Discard, io.Discard)
	require.Equal(t, exitFailure, code)
}

func TestNewFlagSetDefaults(t *testing.T) {
	fs := newFlagSet(new(flags), io.Discard)
	for _, name := range []string{
		"config", "qos", "count", "interval", "retry-limit",
		"receive-timeout", "local-port", "journal", "metrics", "debug",
	} {
		require.NotNil(t, fs.Lookup(name), name)
	}
	require.Equal(t, flag.ContinueOnError, fs.ErrorHandling())
}

func TestSysInfoHandler(t *testing.T) {
	o := mqttsn.DefaultOptions()
	o.Logger = logger
	cl := mqttsn.New(o, nil)
	cl.Info.MessagesSent = 3

	w := httptest.NewRecorder()
	sysInfoHandler(cl)(w, httptest.NewRequest(http.MethodGet, "/sysinfo", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	info := new(system.Info)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), info))
	require.Equal(t, int64(3), info.MessagesSent)
	require.Equal(t, mqttsn.Version, info.Version)
}

func TestMetricsHandler(t *testing.T) {
	o := mqttsn.DefaultOptions()
	o.Logger = logger
	cl := mqttsn.New(o, nil)
	cl.Info.Retries = 2

	handler, err := metricsHandler(cl)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "mqttsn_retries_total 2")

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sysinfo", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"retries": 2`)
}
