// Package endpoint wires netcode (session handshake + sealing), channel
// (message delivery) and stats (windowed RTT/loss/bandwidth accounting)
// into a single Endpoint aggregate: one object exposing AdvanceTime,
// EnqueueMessage, DrainReceived, PacketsToSend, ProcessIncoming and
// DisconnectReason, with no I/O of its own.
package endpoint

import (
	"time"

	"go.uber.org/zap"

	"github.com/nullbound/netcode-core/channel"
	"github.com/nullbound/netcode-core/netcode"
	"github.com/nullbound/netcode-core/stats"
)

// defaultBytesPerTick bounds how much channel-layer payload
// Core.CollectPackets may assemble in one AdvanceTime/PacketsToSend
// cycle, shared across all configured channels.
const defaultBytesPerTick = 16 * 1024

// Config bundles the parameters an Endpoint needs beyond the session itself.
type Config struct {
	// Channels declares the ChannelCore configuration; DefaultConfigs() is
	// used when nil.
	Channels []channel.Config
	// BytesPerTick caps CollectPackets' per-tick channel payload budget;
	// defaultBytesPerTick is used when zero.
	BytesPerTick int
	// Logger receives structured diagnostics for channel-fatal escalation.
	// A nil Logger disables logging.
	Logger *zap.Logger
}

func (cfg *Config) normalize() {
	if cfg.BytesPerTick <= 0 {
		cfg.BytesPerTick = defaultBytesPerTick
	}
	if cfg.Channels == nil {
		cfg.Channels = channel.DefaultConfigs()
	}
}

// Endpoint is the client-role aggregate: one SessionCore (a *netcode.Client),
// one ChannelCore, and one ConnectionStats. Server-role sessions are driven
// through Hub instead, since a server multiplexes many sessions behind a
// single socket and a single handshake clock (see hub.go).
type Endpoint struct {
	client   *netcode.Client
	channels *channel.Core
	conn     *stats.ConnectionStats
	cfg      Config
	now      time.Duration
}

// NewClientEndpoint builds an Endpoint around an already-constructed
// netcode.Client. The caller is responsible for handing the client's
// CurrentServerAddr/PacketsToSend bytes to a transport.Carrier.
func NewClientEndpoint(client *netcode.Client, cfg Config) *Endpoint {
	cfg.normalize()
	return &Endpoint{
		client:   client,
		channels: channel.NewCore(cfg.Channels),
		conn:     stats.New(),
		cfg:      cfg,
	}
}

// AdvanceTime moves the Endpoint's clock and the underlying session's
// handshake/liveness clock forward by dt.
func (e *Endpoint) AdvanceTime(dt time.Duration) {
	e.now += dt
	e.client.AdvanceTime(dt)
}

// EnqueueMessage hands payload to channelID's send queue. A no-op once
// the session has ended. A channel-fatal error (out of memory)
// immediately ends the session with the matching DisconnectReason.
func (e *Endpoint) EnqueueMessage(channelID uint8, payload []byte) error {
	if e.client.DisconnectReason() != netcode.DisconnectNone {
		return nil
	}
	if err := e.channels.Enqueue(channelID, payload); err != nil {
		e.escalate(err)
		return err
	}
	return nil
}

// DrainReceived pops the next delivered message for channelID, if any.
func (e *Endpoint) DrainReceived(channelID uint8) ([]byte, bool) {
	return e.channels.DrainReceived(channelID)
}

// PacketsToSend returns every sealed frame the caller should hand to its
// transport.Carrier this tick: handshake/keepalive/disconnect frames from
// the session layer, followed by sealed ChannelCore payloads once connected.
func (e *Endpoint) PacketsToSend() [][]byte {
	out := e.client.PacketsToSend()
	if !e.client.Connected() {
		return out
	}
	for _, plaintext := range e.channels.CollectPackets(e.cfg.BytesPerTick, e.now) {
		sealed := e.client.SealPayload(plaintext)
		if sealed == nil {
			continue
		}
		e.conn.RecordSent(e.now, len(sealed))
		out = append(out, sealed)
	}
	return out
}

// ProcessIncoming unseals one carrier frame via the session layer and, for a
// payload frame, forwards the plaintext to ChannelCore for record decoding,
// ack bookkeeping and delivery. A channel-fatal error ends the session.
func (e *Endpoint) ProcessIncoming(data []byte) error {
	payload, err := e.client.ProcessIncoming(data)
	if err != nil {
		return err
	}
	if payload == nil {
		return nil
	}
	e.conn.RecordReceived(e.now, len(data))
	if err := e.channels.ProcessPayload(payload); err != nil {
		e.escalate(err)
		return err
	}
	for _, sentAt := range e.channels.DrainAckedSendTimes() {
		e.conn.RecordAcked(e.now, sentAt)
	}
	return nil
}

// DisconnectReason reports why the session ended, or netcode.DisconnectNone
// while still active.
func (e *Endpoint) DisconnectReason() netcode.DisconnectReason {
	return e.client.DisconnectReason()
}

// Connected reports whether the underlying session has completed its
// handshake and is ready to carry channel traffic.
func (e *Endpoint) Connected() bool {
	return e.client.Connected()
}

// Disconnect initiates a voluntary local close.
func (e *Endpoint) Disconnect() {
	e.client.Disconnect()
}

// Stats exposes the Endpoint's windowed connection statistics for a
// metrics.Collector to sample.
func (e *Endpoint) Stats() *stats.ConnectionStats { return e.conn }

func (e *Endpoint) escalate(err error) {
	fe, ok := err.(*channel.FatalError)
	if !ok {
		return
	}
	reason := netcode.DisconnectChannelError
	if fe.OutOfMemory {
		reason = netcode.DisconnectChannelOutOfMemory
	}
	e.client.Fail(reason)
	if e.cfg.Logger != nil {
		e.cfg.Logger.Error("channel fatal error",
			zap.Uint8("channel_id", fe.ChannelID),
			zap.Bool("out_of_memory", fe.OutOfMemory),
			zap.Error(fe),
		)
	}
}
