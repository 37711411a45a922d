package endpoint

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/nullbound/netcode-core/channel"
	"github.com/nullbound/netcode-core/netcode"
	"github.com/nullbound/netcode-core/stats"
)

// HubEventKind mirrors netcode.ServerEventKind at the Endpoint layer.
type HubEventKind int

const (
	HubEventNone HubEventKind = iota
	HubEventClientConnected
	HubEventClientDisconnected
)

// HubEvent reports a connection lifecycle transition observed this tick.
type HubEvent struct {
	Kind     HubEventKind
	ClientID uint64
	Addr     net.UDPAddr
	Reason   netcode.DisconnectReason
}

// hubSession pairs one connected client's ChannelCore+ConnectionStats
// with its netcode session, the server-side counterpart of Endpoint: one
// map entry per remote peer, looked up by address, created on handshake
// completion and reaped on disconnect.
type hubSession struct {
	addr     net.UDPAddr
	clientID uint64
	channels *channel.Core
	conn     *stats.ConnectionStats
}

// Hub is the server-role counterpart of Endpoint: it multiplexes many
// ChannelCore+ConnectionStats pairs, keyed by remote address, behind a
// single netcode.Server handshake clock and a single socket's worth of
// traffic.
type Hub struct {
	server *netcode.Server
	cfg    Config

	sessions map[string]*hubSession

	now time.Duration
}

// NewHub builds a Hub around an already-constructed netcode.Server.
func NewHub(server *netcode.Server, cfg Config) *Hub {
	cfg.normalize()
	return &Hub{
		server:   server,
		cfg:      cfg,
		sessions: make(map[string]*hubSession),
	}
}

// AdvanceTime moves the Hub's and the underlying netcode.Server's clock
// forward, translating any liveness-timeout disconnects of connected
// sessions into HubEvents and reaping the corresponding session state.
func (h *Hub) AdvanceTime(dt time.Duration) []HubEvent {
	h.now += dt
	events := h.translate(h.server.AdvanceTime(dt))
	for _, ev := range events {
		if ev.Kind == HubEventClientDisconnected {
			delete(h.sessions, ev.Addr.String())
		}
	}
	return events
}

// ProcessIncoming routes one carrier frame from addr through the netcode
// handshake/session layer. A returned denial frame (ok=true) must be sent
// back to addr by the caller; netcode.Server tracks no state for it. A
// ClientConnected event means the caller may now call EnqueueMessage/
// DrainReceived for addr.
func (h *Hub) ProcessIncoming(addr net.UDPAddr, data []byte) (HubEvent, []byte, bool, error) {
	event, payload, err := h.server.ProcessIncoming(addr, data)
	if err != nil {
		if _, frame, ok := netcode.DeniedFrame(err); ok {
			return HubEvent{}, frame, true, nil
		}
		return HubEvent{}, nil, false, err
	}

	hubEvent := h.translateOne(event)
	if hubEvent.Kind == HubEventClientConnected {
		h.sessions[addr.String()] = &hubSession{
			addr:     addr,
			clientID: event.ClientID,
			channels: channel.NewCore(h.cfg.Channels),
			conn:     stats.New(),
		}
	}

	if payload != nil {
		if sess, ok := h.sessions[addr.String()]; ok {
			sess.conn.RecordReceived(h.now, len(data))
			if err := sess.channels.ProcessPayload(payload); err != nil {
				h.escalate(sess, err)
				return hubEvent, nil, false, err
			}
			for _, sentAt := range sess.channels.DrainAckedSendTimes() {
				sess.conn.RecordAcked(h.now, sentAt)
			}
		}
	}

	if hubEvent.Kind == HubEventClientDisconnected {
		delete(h.sessions, addr.String())
	}

	return hubEvent, nil, false, nil
}

// EnqueueMessage hands payload to channelID's send queue for the session at
// addr, or reports ok=false if no connected session exists there.
func (h *Hub) EnqueueMessage(addr net.UDPAddr, channelID uint8, payload []byte) (ok bool, err error) {
	sess, found := h.sessions[addr.String()]
	if !found {
		return false, nil
	}
	if err := sess.channels.Enqueue(channelID, payload); err != nil {
		h.escalate(sess, err)
		return true, err
	}
	return true, nil
}

// DrainReceived pops the next delivered message for channelID from the
// session at addr.
func (h *Hub) DrainReceived(addr net.UDPAddr, channelID uint8) ([]byte, bool) {
	sess, ok := h.sessions[addr.String()]
	if !ok {
		return nil, false
	}
	return sess.channels.DrainReceived(channelID)
}

// Stats exposes the windowed connection statistics for the session at addr.
func (h *Hub) Stats(addr net.UDPAddr) (*stats.ConnectionStats, bool) {
	sess, ok := h.sessions[addr.String()]
	if !ok {
		return nil, false
	}
	return sess.conn, true
}

// DisconnectReason reports why the session at addr ended.
func (h *Hub) DisconnectReason(addr net.UDPAddr) netcode.DisconnectReason {
	return h.server.DisconnectReason(addr)
}

// Disconnect voluntarily closes the session at addr.
func (h *Hub) Disconnect(addr net.UDPAddr) {
	h.server.Disconnect(addr)
}

// ActiveSessions returns the number of sessions with an established
// ChannelCore (i.e. past the handshake).
func (h *Hub) ActiveSessions() int { return len(h.sessions) }

// AllStats returns every connected session's windowed statistics, for a
// metrics.Collector to aggregate into Hub-wide gauges.
func (h *Hub) AllStats() []*stats.ConnectionStats {
	out := make([]*stats.ConnectionStats, 0, len(h.sessions))
	for _, sess := range h.sessions {
		out = append(out, sess.conn)
	}
	return out
}

// ConnectedAddrs returns the remote address of every session with an
// established ChannelCore, for callers (e.g. a demo echo loop) that need
// to iterate all connected peers without tracking addresses themselves.
func (h *Hub) ConnectedAddrs() []net.UDPAddr {
	out := make([]net.UDPAddr, 0, len(h.sessions))
	for _, sess := range h.sessions {
		out = append(out, sess.addr)
	}
	return out
}

// PacketsToSend returns every sealed frame the caller should hand to its
// transport.Carrier this tick across all sessions: handshake/challenge/
// keepalive/disconnect frames from netcode.Server, followed by each
// connected session's sealed ChannelCore payloads.
func (h *Hub) PacketsToSend() []netcode.OutPacket {
	out := h.server.PacketsToSend()
	for _, sess := range h.sessions {
		for _, plaintext := range sess.channels.CollectPackets(h.cfg.BytesPerTick, h.now) {
			sealed, ok := h.server.SendPayload(sess.addr, plaintext)
			if !ok {
				continue
			}
			sess.conn.RecordSent(h.now, len(sealed))
			out = append(out, netcode.OutPacket{Addr: sess.addr, Bytes: sealed})
		}
	}
	return out
}

func (h *Hub) escalate(sess *hubSession, err error) {
	fe, ok := err.(*channel.FatalError)
	if !ok {
		return
	}
	reason := netcode.DisconnectChannelError
	if fe.OutOfMemory {
		reason = netcode.DisconnectChannelOutOfMemory
	}
	h.server.FailSession(sess.addr, reason)
	if h.cfg.Logger != nil {
		h.cfg.Logger.Error("channel fatal error",
			zap.Stringer("remote_addr", &sess.addr),
			zap.Uint8("channel_id", fe.ChannelID),
			zap.Bool("out_of_memory", fe.OutOfMemory),
			zap.Error(fe),
		)
	}
}

func (h *Hub) translate(events []netcode.ServerEvent) []HubEvent {
	out := make([]HubEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, h.translateOne(ev))
	}
	return out
}

func (h *Hub) translateOne(ev netcode.ServerEvent) HubEvent {
	switch ev.Kind {
	case netcode.ServerEventClientConnected:
		return HubEvent{Kind: HubEventClientConnected, ClientID: ev.ClientID, Addr: ev.Addr}
	case netcode.ServerEventClientDisconnected:
		return HubEvent{Kind: HubEventClientDisconnected, ClientID: ev.ClientID, Addr: ev.Addr, Reason: ev.Reason}
	default:
		return HubEvent{}
	}
}
