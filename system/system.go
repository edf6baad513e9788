// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-co
// SPDX-FileContributor: mochi-co

package system

import (
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every exported metric name.
const Namespace = "mqttsn"

// Info contains atomic counters and values for the statistics of a client
// session.
type Info struct {
	Version         string `json:"version"`          // the current version of the client
	Started         int64  `json:"started"`          // the time the session started in unix seconds
	Stage           int64  `json:"stage"`            // the current lifecycle stage of the session
	BytesReceived   int64  `json:"bytes_received"`   // total number of bytes received from the gateway
	BytesSent       int64  `json:"bytes_sent"`       // total number of bytes sent to the gateway
	PacketsReceived int64  `json:"packets_received"` // total number of packets received from the gateway
	PacketsSent     int64  `json:"packets_sent"`     // total number of packets of any type sent to the gateway
	MessagesSent    int64  `json:"messages_sent"`    // total number of publish packets sent, including resends
	MessagesAcked   int64  `json:"messages_acked"`   // total number of publish packets acknowledged by the gateway
	Connects        int64  `json:"connects"`         // total number of accepted connect attempts
	Registrations   int64  `json:"registrations"`    // total number of accepted topic registrations
	Rejections      int64  `json:"rejections"`       // total number of acknowledgements carrying a rejection
	Timeouts        int64  `json:"timeouts"`         // total number of acknowledgements which never arrived
	StaleAcks       int64  `json:"stale_acks"`       // total number of late acknowledgements skipped
	Retries         int64  `json:"retries"`          // total number of stage retries
}

// Clone makes a copy of Info using atomic operation
func (i *Info) Clone() *Info {
	return &Info{
		Version:         i.Version,
		Started:         atomic.LoadInt64(&i.Started),
		Stage:           atomic.LoadInt64(&i.Stage),
		BytesReceived:   atomic.LoadInt64(&i.BytesReceived),
		BytesSent:       atomic.LoadInt64(&i.BytesSent),
		PacketsReceived: atomic.LoadInt64(&i.PacketsReceived),
		PacketsSent:     atomic.LoadInt64(&i.PacketsSent),
		MessagesSent:    atomic.LoadInt64(&i.MessagesSent),
		MessagesAcked:   atomic.LoadInt64(&i.MessagesAcked),
		Connects:        atomic.LoadInt64(&i.Connects),
		Registrations:   atomic.LoadInt64(&i.Registrations),
		Rejections:      atomic.LoadInt64(&i.Rejections),
		Timeouts:        atomic.LoadInt64(&i.Timeouts),
		StaleAcks:       atomic.LoadInt64(&i.StaleAcks),
		Retries:         atomic.LoadInt64(&i.Retries),
	}
}

// RegisterPrometheusMetrics registers a metric for each counter of the info,
// read atomically at scrape time. A nil registry uses the default registerer.
func (i *Info) RegisterPrometheusMetrics(registry prometheus.Registerer) error {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	type metrics struct {
		metricType string
		name       string
		help       string
		value      *int64
	}

	metricsList := []metrics{
		{"g", "stage", "A gauge of the current lifecycle stage of the session", &i.Stage},
		{"c", "bytes_received_total", "A counter of the total number of bytes received", &i.BytesReceived},
		{"c", "bytes_sent_total", "A counter of the total number of bytes sent", &i.BytesSent},
		{"c", "packets_received_total", "A counter of the total number of packets received", &i.PacketsReceived},
		{"c", "packets_sent_total", "A counter of the total number of packets sent", &i.PacketsSent},
		{"c", "messages_sent_total", "A counter of the total number of publish packets sent", &i.MessagesSent},
		{"c", "messages_acked_total", "A counter of the total number of publish packets acknowledged", &i.MessagesAcked},
		{"c", "connects_total", "A counter of the total number of accepted connects", &i.Connects},
		{"c", "registrations_total", "A counter of the total number of accepted topic registrations", &i.Registrations},
		{"c", "rejections_total", "A counter of the total number of rejected acknowledgements", &i.Rejections},
		{"c", "timeouts_total", "A counter of the total number of acknowledgement timeouts", &i.Timeouts},
		{"c", "stale_acks_total", "A counter of the total number of late acknowledgements skipped", &i.StaleAcks},
		{"c", "retries_total", "A counter of the total number of stage retries", &i.Retries},
	}

	for _, m := range metricsList {
		m := m
		fn := func() float64 {
			return float64(atomic.LoadInt64(m.value))
		}

		var c prometheus.Collector
		switch m.metricType {
		case "c":
			c = prometheus.NewCounterFunc(
				prometheus.CounterOpts{
					Namespace: Namespace,
					Name:      m.name,
					Help:      m.help,
				},
				fn,
			)
		case "g":
			c = prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Namespace: Namespace,
					Name:      m.name,
					Help:      m.help,
				},
				fn,
			)
		}

		if err := registry.Register(c); err != nil {
			return err
		}
	}

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_info",
			Help:      "Build Information",
		},
		[]string{"goversion", "version"},
	)
	if err := registry.Register(buildInfo); err != nil {
		return err
	}

	buildInfo.With(prometheus.Labels{"goversion": runtime.Version(), "version": i.Version}).Set(1)
	return nil
}
