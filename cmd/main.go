// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mqttsn "github.com/mochi-mqtt/mqttsn-telemetry"
	"github.com/mochi-mqtt/mqttsn-telemetry/config"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/debug"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage/bolt"
	"github.com/mochi-mqtt/mqttsn-telemetry/iothub"
)

const (
	exitOK      = 0 // the session completed
	exitFailure = 1 // the session failed at runtime
	exitConfig  = 2 // the configuration was invalid
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

// flags holds the command line values which may override the options.
type flags struct {
	config         string
	qos            uint
	count          int
	interval       time.Duration
	retryLimit     int
	receiveTimeout time.Duration
	localPort      int
	journal        string
	metrics        string
	debug          bool
}

func newFlagSet(f *flags, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("mqttsn-telemetry", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: mqttsn-telemetry [flags] [<gateway-host> <gateway-port>]")
		fs.PrintDefaults()
	}

	fs.StringVar(&f.config, "config", "", "path to a yaml or json config file")
	fs.UintVar(&f.qos, "qos", 0, "publish qos, 0 or 1")
	fs.IntVar(&f.count, "count", mqttsn.DefaultMessageCount, "number of messages to publish")
	fs.DurationVar(&f.interval, "interval", mqttsn.DefaultSendInterval, "delay between messages")
	fs.IntVar(&f.retryLimit, "retry-limit", 0, "maximum attempts per step, 0 retries forever")
	fs.DurationVar(&f.receiveTimeout, "receive-timeout", mqttsn.DefaultReceiveTimeout, "time to wait for each acknowledgement")
	fs.IntVar(&f.localPort, "local-port", 0, "local udp port to bind, 0 picks any free port")
	fs.StringVar(&f.journal, "journal", "", "path to a bolt file recording the session")
	fs.StringVar(&f.metrics, "metrics", "", "address to serve prometheus metrics on, e.g. :9090")
	fs.BoolVar(&f.debug, "debug", false, "log every packet")
	return fs
}

// apply copies the flags which were set on the command line onto o.
func (f *flags) apply(fs *flag.FlagSet, o *mqttsn.Options) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "qos":
			o.QoS = byte(min(f.qos, 255))
		case "count":
			o.MessageCount = f.count
		case "interval":
			o.SendInterval = f.interval
		case "retry-limit":
			o.RetryLimit = f.retryLimit
		case "receive-timeout":
			o.ReceiveTimeout = f.receiveTimeout
		case "local-port":
			o.Transport.LocalAddress = ":" + strconv.Itoa(f.localPort)
		}
	})

	if f.journal != "" {
		o.Hooks = append(o.Hooks, mqttsn.HookLoadConfig{
			Hook:   new(bolt.Hook),
			Config: &bolt.Options{Path: f.journal},
		})
	}

	if f.debug {
		o.Hooks = append(o.Hooks, mqttsn.HookLoadConfig{
			Hook:   new(debug.Hook),
			Config: &debug.Options{Enable: true},
		})
	}
}

// gatewayArgs overrides the gateway address with the positional arguments.
func gatewayArgs(args []string, o *mqttsn.Options) error {
	switch len(args) {
	case 0:
		return nil
	case 2:
	default:
		return fmt.Errorf("expected <gateway-host> <gateway-port>, got %d arguments", len(args))
	}

	port, err := strconv.Atoi(args[1])
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid gateway port %q", args[1])
	}

	o.GatewayHost = args[0]
	o.GatewayPort = port
	return nil
}

// loadOptions builds the client options from the config file, the environment,
// the flags and the positional arguments, in increasing order of precedence.
func loadOptions(f *flags, fs *flag.FlagSet, getenv func(string) string) (*mqttsn.Options, error) {
	o := mqttsn.DefaultOptions()
	if f.config != "" {
		var err error
		o, err = config.FromFile(f.config)
		if err != nil {
			return nil, err
		}
	}

	if err := config.FromEnv(o, getenv); err != nil {
		return nil, err
	}

	f.apply(fs, o)
	if err := gatewayArgs(fs.Args(), o); err != nil {
		return nil, err
	}

	id := iothub.Identity{Hostname: o.HubHostname, DeviceID: o.ClientID}
	if err := id.Validate(); err != nil {
		return nil, err
	}

	return o, o.Validate()
}

// metricsHandler returns a handler serving the client counters in the
// prometheus exposition format on /metrics, and as JSON on /sysinfo.
func metricsHandler(cl *mqttsn.Client) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := cl.Info.RegisterPrometheusMetrics(registry); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/sysinfo", sysInfoHandler(cl))
	return mux, nil
}

// serveMetrics serves the metrics handler on addr until the returned server
// is closed.
func serveMetrics(cl *mqttsn.Client, addr string) (*http.Server, error) {
	handler, err := metricsHandler(cl)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Handler:      handler,
	}

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			cl.Log.Error("metrics server stopped", "error", err)
		}
	}()

	cl.Log.Info("serving metrics", "address", ln.Addr().String())
	return srv, nil
}

// sysInfoHandler outputs the client counters as JSON.
func sysInfoHandler(cl *mqttsn.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		out, err := json.MarshalIndent(cl.Info.Clone(), "", "\t")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := new(flags)
	fs := newFlagSet(f, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	o, err := loadOptions(f, fs, getenv)
	if err != nil {
		fmt.Fprintln(stderr, "configuration error:", err)
		return exitConfig
	}

	level := slog.LevelInfo
	if f.debug {
		level = slog.LevelDebug
	}
	o.Logger = slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{Level: level}))

	cl := mqttsn.New(o, nil)

	if f.metrics != "" {
		srv, err := serveMetrics(cl, f.metrics)
		if err != nil {
			cl.Log.Error("failed to serve metrics", "error", err)
			return exitFailure
		}
		defer srv.Close()
	}

	if err := cl.Run(ctx); err != nil {
		if ctx.Err() != nil {
			cl.Log.Warn("caught signal, stopping...")
		}
		cl.Log.Error("session failed", "error", err)
		return exitFailure
	}

	info := cl.Info.Clone()
	cl.Log.Info("session complete",
		"messages_sent", info.MessagesSent,
		"messages_acked", info.MessagesAcked,
		"retries", info.Retries)
	return exitOK
}
