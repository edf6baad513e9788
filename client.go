// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package mqttsn provides an MQTT-SN telemetry client which drives a single
// session with a gateway: connect, register a topic, publish, and disconnect,
// retrying each stage with a step backoff.
package mqttsn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/mqttsn-telemetry/iothub"
	"github.com/mochi-mqtt/mqttsn-telemetry/packets"
	"github.com/mochi-mqtt/mqttsn-telemetry/system"
	"github.com/mochi-mqtt/mqttsn-telemetry/transports"
)

const (
	Version = "1.0.0" // the current client version.

	DefaultGatewayHost    = "127.0.0.1"
	DefaultGatewayPort    = 10000
	DefaultKeepAlive      = 400 // seconds
	DefaultMessageCount   = 5
	DefaultSendInterval   = time.Second
	DefaultReceiveTimeout = 10 * time.Second
	DefaultReadBufferSize = 512

	// DefaultPayload is the telemetry document sent when no payload is configured.
	DefaultPayload = `{"d":{"myName":"IoT mbed","accelX":12,"accelY":4,"accelZ":12,"temp":18}}`
)

var (
	ErrNotOpen               = errors.New("transport not open")                        // Connect was called before Open
	ErrNotConnected          = errors.New("not connected")                             // a register was attempted before an accepted connect
	ErrTopicNotRegistered    = errors.New("topic not registered")                      // a publish was attempted on a topic with no id
	ErrRetriesExhausted      = errors.New("retries exhausted")                         // a stage failed more times than the retry limit
	ErrUnexpectedPacket      = errors.New("unexpected packet type")                    // the gateway answered with the wrong packet
	ErrReceiveTimeout        = errors.New("timed out waiting for acknowledgement")     // the gateway did not answer in time
	ErrInvalidTopicID        = errors.New("gateway assigned a reserved topic id")      // a regack carried topic id 0x0000 or 0xFFFF
	ErrClosed                = errors.New("client closed")                             // the client has been closed
	ErrMissingClientID       = errors.New("client id is required")                     // no client id was configured
	ErrQosNotSupported       = errors.New("qos not supported, must be 0 or 1")         // the configured qos is not 0 or 1
	ErrReceiveBufferTooSmall = errors.New("read buffer size is smaller than a header") // the read buffer cannot hold any packet
)

// HookLoadConfig contains the hook and configuration as loaded from a configuration (usually file).
type HookLoadConfig struct {
	Hook   Hook
	Config any
}

// Options contains configurable options for the client.
type Options struct {
	// Hooks specifies any hooks which should be added when the client is created. Used when
	// setting hooks by config.
	Hooks []HookLoadConfig `yaml:"-" json:"-"`

	// Transport configures the transport created by Open when none was given to New.
	Transport transports.Config `yaml:"transport" json:"transport"`

	// Logger specifies a custom configured implementation of log/slog to override
	// the default logger configuration.
	Logger *slog.Logger `yaml:"-" json:"-"`

	// HubHostname is the host name of the IoT hub the gateway forwards to.
	HubHostname string `yaml:"hub_hostname" json:"hub_hostname"`

	// ClientID is the client id presented to the gateway, the IoT hub device id.
	ClientID string `yaml:"client_id" json:"client_id"`

	// GatewayHost is the host name or address of the MQTT-SN gateway.
	GatewayHost string `yaml:"gateway_host" json:"gateway_host"`

	// Topic is the topic messages are published to. It defaults to the
	// telemetry topic of the device.
	Topic string `yaml:"topic" json:"topic"`

	// Payload is the body of every message published by Run.
	Payload string `yaml:"payload" json:"payload"`

	// Properties are message properties appended to the default telemetry topic.
	Properties map[string]string `yaml:"properties" json:"properties"`

	// SendInterval is the pause between messages published by Run.
	SendInterval time.Duration `yaml:"send_interval" json:"send_interval"`

	// ReceiveTimeout bounds every wait for an acknowledgement from the gateway.
	ReceiveTimeout time.Duration `yaml:"receive_timeout" json:"receive_timeout"`

	// MessageCount is the number of messages published by Run.
	MessageCount int `yaml:"message_count" json:"message_count"`

	// RetryLimit is the maximum number of attempts for a stage before the
	// session fails. 0 retries indefinitely.
	RetryLimit int `yaml:"retry_limit" json:"retry_limit"`

	// GatewayPort is the udp port of the MQTT-SN gateway.
	GatewayPort int `yaml:"gateway_port" json:"gateway_port"`

	// ReadBufferSize is the size of the datagram read buffer.
	ReadBufferSize int `yaml:"read_buffer_size" json:"read_buffer_size"`

	// KeepAlive is the duration in seconds sent in the connect packet.
	KeepAlive uint16 `yaml:"keep_alive" json:"keep_alive"`

	// QoS is the quality of service of published messages, 0 or 1.
	QoS byte `yaml:"qos" json:"qos"`

	// Retain sets the retain flag on published messages.
	Retain bool `yaml:"retain" json:"retain"`

	// PersistentSession clears the clean session flag on connect, asking the
	// gateway to keep the state of an earlier session with the same client id.
	PersistentSession bool `yaml:"persistent_session" json:"persistent_session"`
}

// DefaultOptions returns a new set of options populated with default values.
func DefaultOptions() *Options {
	o := new(Options)
	o.ensureDefaults()
	return o
}

// ensureDefaults ensures that the client starts with sane default values, if none are provided.
func (o *Options) ensureDefaults() {
	if o.GatewayHost == "" {
		o.GatewayHost = DefaultGatewayHost
	}

	if o.GatewayPort == 0 {
		o.GatewayPort = DefaultGatewayPort
	}

	if o.KeepAlive == 0 {
		o.KeepAlive = DefaultKeepAlive
	}

	if o.MessageCount == 0 {
		o.MessageCount = DefaultMessageCount
	}

	if o.SendInterval == 0 {
		o.SendInterval = DefaultSendInterval
	}

	if o.ReceiveTimeout == 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}

	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = DefaultReadBufferSize
	}

	if o.Payload == "" {
		o.Payload = DefaultPayload
	}

	if o.Transport.Type == "" {
		o.Transport.Type = transports.TypeUDP
	}

	if o.Logger == nil {
		log := slog.New(slog.NewTextHandler(os.Stdout, nil))
		o.Logger = log
	}
}

// TelemetryTopic returns the configured topic, or the telemetry topic of the
// client id if none is set.
func (o *Options) TelemetryTopic() string {
	if o.Topic != "" {
		return o.Topic
	}

	return iothub.TelemetryTopic(o.ClientID, o.Properties)
}

// Validate ensures the options can be used to run a session.
func (o *Options) Validate() error {
	if o.ClientID == "" {
		return ErrMissingClientID
	}

	if err := iothub.ValidateDeviceID(o.ClientID); err != nil {
		return fmt.Errorf("invalid client id %q: %w", o.ClientID, err)
	}

	if o.QoS > 1 {
		return ErrQosNotSupported
	}

	if o.ReadBufferSize < 2 {
		return ErrReceiveBufferTooSmall
	}

	return nil
}

// Client is an MQTT-SN client session. It should be created with New
// in order to ensure all the internal fields are correctly populated.
type Client struct {
	Options   *Options             // configurable client options
	Session   *Session             // the state of the session with the gateway
	Transport transports.Transport // the datagram transport to the gateway
	Info      *system.Info         // values about the client session commonly reported as metrics
	Log       *slog.Logger         // minimal no-alloc logger
	hooks     *Hooks               // hooks for lifecycle events
	sleep     func(ctx context.Context, d time.Duration) error
	buf       []byte      // the datagram read buffer
	opened    atomic.Bool // the transport has been opened
	closed    atomic.Bool // the client has been closed
}

// New returns a new instance of an MQTT-SN client for a single session. If
// t is nil, a transport is created from the options when the client is opened.
func New(opts *Options, t transports.Transport) *Client {
	if opts == nil {
		opts = new(Options)
	}

	opts.ensureDefaults()

	return &Client{
		Options:   opts,
		Session:   NewSession(opts.GatewayHost, opts.GatewayPort, opts.ClientID),
		Transport: t,
		Info: &system.Info{
			Version: Version,
			Started: time.Now().Unix(),
		},
		Log: opts.Logger,
		hooks: &Hooks{
			Log: opts.Logger,
		},
		sleep: sleepContext,
		buf:   make([]byte, opts.ReadBufferSize),
	}
}

// AddHook attaches a new Hook to the client. Ideally, this should be called
// before the client is run.
func (c *Client) AddHook(hook Hook, config any) error {
	nl := c.Log.With("hook", hook.ID())
	hook.SetOpts(nl, &HookOptions{
		ClientID:  c.Session.ClientID,
		SessionID: c.Session.ID,
	})

	c.Log.Info("added hook", "hook", hook.ID())
	return c.hooks.Add(hook, config)
}

// AddHooksFromConfig adds hooks to the client which were specified in the hooks config (usually from a config file).
func (c *Client) AddHooksFromConfig(hooks []HookLoadConfig) error {
	for _, h := range hooks {
		if err := c.AddHook(h.Hook, h.Config); err != nil {
			return err
		}
	}
	return nil
}

// Hooks returns the hooks attached to the client.
func (c *Client) Hooks() *Hooks {
	return c.hooks
}

// Open opens the transport, creating it from the options if the client was
// not given one.
func (c *Client) Open() error {
	if c.closed.Load() {
		return ErrClosed
	}

	if c.opened.Load() {
		return nil
	}

	if c.Transport == nil {
		t, err := transports.New(c.Options.Transport)
		if err != nil {
			return err
		}
		c.Transport = t
	}

	if err := c.Transport.Open(c.Log.With("transport", c.Transport.ID())); err != nil {
		return fmt.Errorf("failed opening transport %s: %w", c.Transport.ID(), err)
	}

	c.opened.Store(true)
	return nil
}

// Run drives the whole session: it opens the transport, connects, registers
// the telemetry topic, publishes the configured number of messages, and
// disconnects. The transport is closed before Run returns, on every path.
func (c *Client) Run(ctx context.Context) (err error) {
	if err := c.Options.Validate(); err != nil {
		return err
	}

	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()

	if len(c.Options.Hooks) > 0 {
		if err := c.AddHooksFromConfig(c.Options.Hooks); err != nil {
			return err
		}
		c.Options.Hooks = nil
	}

	if err := c.Open(); err != nil {
		return err
	}

	c.hooks.OnStarted(c)
	c.Log.Info("mochi mqtt-sn client starting",
		"version", Version,
		"session", c.Session.ID,
		"client_id", c.Session.ClientID,
		"hub", c.Options.HubHostname,
		"gateway", c.Session.Address(),
		"qos", c.Options.QoS)

	if err := c.Connect(ctx); err != nil {
		return err
	}

	topic := c.Options.TelemetryTopic()
	if _, err := c.Register(ctx, topic); err != nil {
		return err
	}

	payload := []byte(c.Options.Payload)
	for i := 0; i < c.Options.MessageCount; i++ {
		if i > 0 {
			if err := c.sleep(ctx, c.Options.SendInterval); err != nil {
				return err
			}
		}

		c.Log.Info("sending message", "message", i+1, "of", c.Options.MessageCount, "topic", topic)
		if err := c.Publish(ctx, topic, payload); err != nil {
			return err
		}
	}

	return c.Disconnect(ctx)
}

// Connect sends a connect packet and waits for the gateway to accept it,
// retrying with backoff.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	if !c.opened.Load() {
		return ErrNotOpen
	}

	err := c.attempt(ctx, StageConnecting, func() error {
		return c.connect(ctx)
	})
	if err != nil {
		return err
	}

	c.setStage(StageConnected)
	return nil
}

// connect makes a single connect attempt.
func (c *Client) connect(ctx context.Context) error {
	pk := packets.Packet{
		Header:     packets.Header{Type: packets.Connect},
		Flags:      packets.Flags{CleanSession: !c.Options.PersistentSession},
		ProtocolID: packets.ProtocolID,
		Duration:   c.Options.KeepAlive,
		ClientID:   c.Session.ClientID,
	}

	if err := c.writePacket(ctx, pk); err != nil {
		return err
	}

	ack, err := c.readPacket(ctx, packets.Connack, 0)
	if err != nil {
		return err
	}

	if ack.ReturnCode != packets.CodeAccepted.Code {
		atomic.AddInt64(&c.Info.Rejections, 1)
		return packets.ReturnCode(ack.ReturnCode)
	}

	c.Session.setState(StateConnected)
	atomic.AddInt64(&c.Info.Connects, 1)
	c.Log.Info("connected", "gateway", c.Session.Address())
	c.hooks.OnConnected(c, ack)
	return nil
}

// Register registers a topic name with the gateway and returns the topic id
// it assigns, retrying with backoff. A topic which is already registered
// returns its id without contacting the gateway.
func (c *Client) Register(ctx context.Context, topic string) (uint16, error) {
	if id, ok := c.Session.Topics.Get(topic); ok {
		return id, nil
	}

	if c.Session.State() != StateConnected {
		return 0, ErrNotConnected
	}

	var id uint16
	err := c.attempt(ctx, StageRegistering, func() error {
		var err error
		id, err = c.register(ctx, topic)
		return err
	})
	if err != nil {
		return 0, err
	}

	c.setStage(StageRegistered)
	return id, nil
}

// register makes a single register attempt with a fresh packet id.
func (c *Client) register(ctx context.Context, topic string) (uint16, error) {
	pk := packets.Packet{
		Header:    packets.Header{Type: packets.Register},
		PacketID:  c.Session.NextPacketID(),
		TopicName: topic,
	}

	if err := c.writePacket(ctx, pk); err != nil {
		return 0, err
	}

	ack, err := c.readPacket(ctx, packets.Regack, pk.PacketID)
	if err != nil {
		return 0, err
	}

	if ack.ReturnCode != packets.CodeAccepted.Code {
		atomic.AddInt64(&c.Info.Rejections, 1)
		return 0, packets.ReturnCode(ack.ReturnCode)
	}

	if ack.TopicID == 0x0000 || ack.TopicID == 0xFFFF {
		return 0, fmt.Errorf("%w: %#04x", ErrInvalidTopicID, ack.TopicID)
	}

	c.Session.Topics.Set(topic, ack.TopicID)
	atomic.AddInt64(&c.Info.Registrations, 1)
	c.Log.Info("registered topic", "topic", topic, "topic_id", ack.TopicID)
	c.hooks.OnRegistered(c, topic, ack)
	return ack.TopicID, nil
}

// Publish publishes a payload to a registered topic at the configured qos,
// retrying with backoff. Each attempt of a qos 1 publish carries a fresh
// packet id. If the gateway rejects the topic id, the topic is registered
// again before the next attempt.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if _, ok := c.Session.Topics.Get(topic); !ok {
		return ErrTopicNotRegistered
	}

	return c.attempt(ctx, StagePublishing, func() error {
		return c.publish(ctx, topic, payload)
	})
}

// publish makes a single publish attempt.
func (c *Client) publish(ctx context.Context, topic string, payload []byte) error {
	id, ok := c.Session.Topics.Get(topic)
	if !ok {
		var err error
		if id, err = c.register(ctx, topic); err != nil {
			return err
		}
	}

	pk := packets.Packet{
		Header: packets.Header{Type: packets.Publish},
		Flags: packets.Flags{
			Qos:         c.Options.QoS,
			Retain:      c.Options.Retain,
			TopicIDType: packets.TopicIDTypeNormal,
		},
		TopicID: id,
		Payload: payload,
	}

	if pk.Flags.Qos > 0 {
		pk.PacketID = c.Session.NextPacketID()
	}

	if err := c.writePacket(ctx, pk); err != nil {
		return err
	}

	atomic.AddInt64(&c.Info.MessagesSent, 1)
	c.hooks.OnPublished(c, topic, pk)

	if pk.Flags.Qos == 0 {
		return nil
	}

	ack, err := c.readPacket(ctx, packets.Puback, pk.PacketID)
	if err != nil {
		return err
	}

	if ack.ReturnCode != packets.CodeAccepted.Code {
		atomic.AddInt64(&c.Info.Rejections, 1)
		if ack.ReturnCode == packets.ErrRejectedInvalidTopicID.Code {
			c.Session.Topics.Delete(topic)
		}

		return packets.ReturnCode(ack.ReturnCode)
	}

	atomic.AddInt64(&c.Info.MessagesAcked, 1)
	c.Log.Debug("publish acknowledged", "topic_id", pk.TopicID, "packet_id", pk.PacketID)
	c.hooks.OnPublishAcked(c, topic, pk)
	return nil
}

// Disconnect sends a disconnect packet to the gateway. The gateway's reply,
// if any, is not awaited.
func (c *Client) Disconnect(ctx context.Context) error {
	c.setStage(StageDisconnecting)

	err := c.writePacket(ctx, packets.Packet{
		Header: packets.Header{Type: packets.Disconnect},
	})
	if err != nil {
		c.Log.Warn("failed to send disconnect", "error", err)
	}

	c.Session.setState(StateDisconnected)
	c.hooks.OnDisconnect(c, err)
	return err
}

// Close closes the transport and stops the hooks. It is safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if c.opened.Load() && c.Transport != nil {
		err = c.Transport.Close()
	}

	c.Session.setState(StateClosed)
	c.setStage(StageClosed)
	c.Log.Info("mochi mqtt-sn client stopped", "session", c.Session.ID, "stage", c.Session.Stage())

	c.hooks.OnStopped(c)
	c.hooks.Stop()
	return err
}

// StoredMessages returns the messages journaled by any storage hook.
func (c *Client) StoredMessages() ([]packets.Packet, error) {
	v, err := c.hooks.StoredMessages()
	if err != nil {
		return nil, err
	}

	pks := make([]packets.Packet, 0, len(v))
	for _, m := range v {
		pks = append(pks, m.ToPacket())
	}

	return pks, nil
}

// attempt runs fn until it succeeds, retrying failures after the step
// backoff delay. The attempt counter restarts with every call. If the retry
// limit is reached the session moves to the failed stage.
func (c *Client) attempt(ctx context.Context, stage Stage, fn func() error) error {
	c.setStage(stage)

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if c.Options.RetryLimit > 0 && attempt >= c.Options.RetryLimit {
			c.Log.Error("giving up", "stage", stage, "attempts", attempt, "error", err)
			c.setStage(StageFailed)
			return fmt.Errorf("%s: %w after %d attempts: %w", stage, ErrRetriesExhausted, attempt, err)
		}

		delay := RetryTimeout(attempt)
		atomic.AddInt64(&c.Info.Retries, 1)
		c.Log.Warn("stage attempt failed, retrying", "stage", stage, "attempt", attempt, "delay", delay, "error", err)
		c.hooks.OnRetry(c, stage, attempt, delay, err)

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// setStage moves the session to a stage and notifies the hooks.
func (c *Client) setStage(to Stage) {
	from, ok := c.Session.setStage(to)
	if !ok {
		return
	}

	atomic.StoreInt64(&c.Info.Stage, int64(to))
	c.Log.Debug("stage changed", "from", from, "to", to)
	c.hooks.OnStageChange(c, from, to)
}

// writePacket validates and encodes a packet and sends it to the gateway.
func (c *Client) writePacket(ctx context.Context, pk packets.Packet) error {
	if err := pk.Validate(); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	if err := pk.Encode(buf); err != nil {
		return err
	}

	if err := c.Transport.Send(ctx, c.Session.Address(), buf.Bytes()); err != nil {
		return fmt.Errorf("failed sending %s: %w", packets.Names[pk.Header.Type], err)
	}

	atomic.AddInt64(&c.Info.PacketsSent, 1)
	atomic.AddInt64(&c.Info.BytesSent, int64(buf.Len()))
	c.hooks.OnPacketSent(c, pk, buf.Bytes())
	return nil
}

// readPacket waits up to the receive timeout for a packet of the wanted type.
// For a register or publish acknowledgement, id is the packet id of the
// outstanding request. Keep-alive traffic and late acknowledgements of
// earlier attempts are skipped while waiting.
func (c *Client) readPacket(ctx context.Context, want byte, id uint16) (packets.Packet, error) {
	rctx, cancel := context.WithTimeout(ctx, c.Options.ReceiveTimeout)
	defer cancel()

	for {
		n, err := c.Transport.Receive(rctx, c.buf)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				atomic.AddInt64(&c.Info.Timeouts, 1)
				return packets.Packet{}, fmt.Errorf("%w: %s", ErrReceiveTimeout, packets.Names[want])
			}

			return packets.Packet{}, fmt.Errorf("failed receiving %s: %w", packets.Names[want], err)
		}

		atomic.AddInt64(&c.Info.PacketsReceived, 1)
		atomic.AddInt64(&c.Info.BytesReceived, int64(n))

		pk, err := packets.ReadPacket(c.buf[:n])
		if err != nil {
			return pk, fmt.Errorf("failed decoding %s: %w", packets.Names[want], err)
		}

		c.hooks.OnPacketRead(c, pk)

		switch {
		case isStaleAck(pk, want, id):
			atomic.AddInt64(&c.Info.StaleAcks, 1)
			c.Log.Debug("skipped stale acknowledgement", "type", packets.Names[pk.Header.Type], "packet_id", pk.PacketID, "want", packets.Names[want], "want_id", id)
			continue
		case pk.Header.Type == want:
			return pk, nil
		case pk.Header.Type == packets.Pingresp:
			continue
		case pk.Header.Type == packets.Pingreq:
			if err := c.writePacket(rctx, packets.Packet{Header: packets.Header{Type: packets.Pingresp}}); err != nil {
				c.Log.Debug("failed to answer ping", "error", err)
			}
			continue
		default:
			return pk, fmt.Errorf("%w: expected %s, received %s", ErrUnexpectedPacket, packets.Names[want], packets.Names[pk.Header.Type])
		}
	}
}

// isStaleAck returns true if pk acknowledges something other than the
// outstanding request: an acknowledgement of another type, or a register or
// publish acknowledgement carrying a different packet id.
func isStaleAck(pk packets.Packet, want byte, id uint16) bool {
	switch pk.Header.Type {
	case packets.Connack:
		return want != packets.Connack
	case packets.Regack, packets.Puback:
		return pk.Header.Type != want || pk.PacketID != id
	default:
		return false
	}
}
