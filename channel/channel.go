// Package channel implements ChannelCore: the post-handshake message
// delivery layer layered on top of a sealed session (package netcode).
// ChannelCore never performs I/O; it only turns enqueued user messages
// into deterministic plaintext packet payloads, and turns received
// plaintext payloads back into per-channel message deliveries.
package channel

import "time"

// Kind is the closed set of delivery semantics a channel may be
// configured with.
type Kind uint8

const (
	OrderedReliable Kind = iota
	UnorderedReliable
	Unreliable
	UnreliableSequenced
)

func (k Kind) String() string {
	switch k {
	case OrderedReliable:
		return "ordered-reliable"
	case UnorderedReliable:
		return "unordered-reliable"
	case Unreliable:
		return "unreliable"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	default:
		return "unknown"
	}
}

func (k Kind) reliable() bool {
	return k == OrderedReliable || k == UnorderedReliable
}

// SliceSize is the fixed fragment size for messages exceeding one
// packet's worth of payload; only the final slice of a message may be
// smaller.
const SliceSize = 1200

// Config declares one channel, identically on both endpoints.
type Config struct {
	ID             uint8
	Kind           Kind
	MaxMemoryBytes uint64
	ResendTime     time.Duration // reliable kinds only
}

// DefaultConfigs returns a sane default channel set: unreliable (id 0),
// unordered-reliable (id 1), ordered-reliable (id 2), each capped at 5MB
// with a 300ms resend time for the reliable kinds.
func DefaultConfigs() []Config {
	const fiveMegabytes = 5 * 1024 * 1024
	return []Config{
		{ID: 0, Kind: Unreliable, MaxMemoryBytes: fiveMegabytes},
		{ID: 1, Kind: UnorderedReliable, MaxMemoryBytes: fiveMegabytes, ResendTime: 300 * time.Millisecond},
		{ID: 2, Kind: OrderedReliable, MaxMemoryBytes: fiveMegabytes, ResendTime: 300 * time.Millisecond},
	}
}

// FatalError reports a channel-fatal condition: invalid slice
// geometry or a memory cap exceeded. The owning Endpoint escalates this to
// DisconnectChannelError/DisconnectChannelOutOfMemory and tears the
// session down.
type FatalError struct {
	ChannelID   uint8
	OutOfMemory bool
	Message     string
}

func (e *FatalError) Error() string {
	if e.OutOfMemory {
		return "channel " + itoa(e.ChannelID) + ": out of memory"
	}
	return "channel " + itoa(e.ChannelID) + ": " + e.Message
}

func itoa(v uint8) string {
	if v == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ackedItem identifies one piece of outgoing content an ack confirms: a
// whole message for unsliced sends, or one slice of a sliced message.
// Carrying slice index (not just message id) is required because a
// sliced reliable message is only fully delivered once every one of its
// slices is individually acked.
type ackedItem struct {
	MessageID  uint64
	SliceIndex uint16
	IsSlice    bool
}

// channelImpl is the internal contract every delivery kind implements. The
// exported Core type is the only thing endpoint code talks to.
type channelImpl interface {
	id() uint8
	enqueue(payload []byte) error
	collect(budget *int, now time.Duration) []record
	onAck(items []ackedItem)
	deliver(rec record) error
	receiveMessage() ([]byte, bool)
	memoryUsage() uint64
}

// Core is the set of channels configured for one Endpoint, queried in
// configured order with a shared mutable byte budget each tick.
//
// Core also owns the packet-sequence used for ack-driven retransmission.
// This sequence is distinct from the session-layer sequence that seals
// each frame: it numbers plaintext ChannelCore payloads, and
// travels inside the plaintext itself as a cumulative (ack, ack_bits)
// pair so the peer's Core can tell which of its own packets were
// received without a dedicated ack packet kind.
type Core struct {
	order    []uint8
	channels map[uint8]channelImpl

	nextPacketSequence uint64
	sent               map[uint64]map[uint8][]ackedItem
	sentAt             map[uint64]time.Duration
	received           *ackBuffer

	pendingAckedSendTimes []time.Duration
}

// NewCore builds a Core from the given channel configurations. Channel
// ids must be unique; order is preserved as declared.
func NewCore(configs []Config) *Core {
	c := &Core{
		channels: make(map[uint8]channelImpl, len(configs)),
		// Packet sequences start at 1 so ack=0 unambiguously means "nothing
		// received yet" in the (ack, ack_bits) header.
		nextPacketSequence: 1,
		sent:               make(map[uint64]map[uint8][]ackedItem),
		sentAt:             make(map[uint64]time.Duration),
		received:           newAckBuffer(),
	}
	for _, cfg := range configs {
		c.order = append(c.order, cfg.ID)
		switch cfg.Kind {
		case OrderedReliable, UnorderedReliable:
			c.channels[cfg.ID] = newReliableChannel(cfg)
		case Unreliable:
			c.channels[cfg.ID] = newUnreliableChannel(cfg)
		case UnreliableSequenced:
			c.channels[cfg.ID] = newUnreliableSequencedChannel(cfg)
		}
	}
	return c
}

// Enqueue hands a user payload to the named channel's send queue.
func (c *Core) Enqueue(channelID uint8, payload []byte) error {
	ch, ok := c.channels[channelID]
	if !ok {
		return &FatalError{ChannelID: channelID, Message: "unknown channel id"}
	}
	return ch.enqueue(payload)
}

// DrainAckedSendTimes pops the send timestamps of every packet this Core
// sent that was newly confirmed by the peer's ack since the last call,
// letting the owning Endpoint feed each one into ConnectionStats.RecordAcked
// as (now, sentAt) to drive RTT smoothing.
func (c *Core) DrainAckedSendTimes() []time.Duration {
	out := c.pendingAckedSendTimes
	c.pendingAckedSendTimes = nil
	return out
}

// DrainReceived pops the next delivered message for channelID, if any.
func (c *Core) DrainReceived(channelID uint8) ([]byte, bool) {
	ch, ok := c.channels[channelID]
	if !ok {
		return nil, false
	}
	return ch.receiveMessage()
}

// CollectPackets queries every channel in configured order under the
// shared byte budget and returns the assembled plaintext packet payloads,
// each prefixed with this Core's packet-sequence header (sequence, ack,
// ack_bits) followed by a concatenation of per-channel records. Every
// returned payload's sequence and carried message ids are remembered so a
// later ack (arriving inside a peer payload) can release reliable
// messages.
func (c *Core) CollectPackets(bytesPerTick int, now time.Duration) [][]byte {
	budget := bytesPerTick
	var packets [][]byte

	cur := make([]byte, 0, SliceSize)
	curIDs := make(map[uint8][]ackedItem)

	flush := func(force bool) {
		if len(cur) == 0 && !force {
			return
		}
		seq := c.nextPacketSequence
		c.nextPacketSequence++
		ack, bits := c.received.ackData()

		header := make([]byte, 0, 20)
		header = appendU64(header, seq)
		header = appendU64(header, ack)
		header = appendU32(header, bits)

		packets = append(packets, append(header, cur...))
		c.sent[seq] = curIDs
		c.sentAt[seq] = now
		// Bound the bookkeeping: a packet that falls out of the peer's ack
		// window can never be acked, and any reliable content it carried is
		// resent under a fresh sequence anyway.
		if seq > ackBufferSize {
			delete(c.sent, seq-ackBufferSize)
			delete(c.sentAt, seq-ackBufferSize)
		}

		cur = make([]byte, 0, SliceSize)
		curIDs = make(map[uint8][]ackedItem)
	}

	for _, id := range c.order {
		ch := c.channels[id]
		for _, rec := range ch.collect(&budget, now) {
			encoded := marshalRecord(id, rec)
			if len(cur)+len(encoded) > SliceSize && len(cur) > 0 {
				flush(false)
			}
			cur = append(cur, encoded...)
			if rec.hasID {
				curIDs[id] = append(curIDs[id], ackedItem{
					MessageID:  rec.messageID,
					SliceIndex: rec.sliceIndex,
					IsSlice:    rec.kind == recordKindSlice,
				})
			}
		}
	}
	// Always emit at least one packet carrying this tick's cumulative ack,
	// even with zero channel records, so a pure receiver (nothing of its
	// own to send) still lets the peer retire acked reliable messages.
	flush(true)
	return packets
}

// ProcessPayload decodes a received plaintext packet payload: its
// packet-sequence header (acknowledging the peer's packets and exposing
// this payload's own sequence for the peer to later ack), then its
// per-channel records, each delivered to its channel.
func (c *Core) ProcessPayload(payload []byte) error {
	if len(payload) < 20 {
		return nil
	}
	seq := decodeU64(payload[0:8])
	ack := decodeU64(payload[8:16])
	bits := decodeU32(payload[16:20])
	c.received.insert(seq)

	for _, acked := range ackedSequences(ack, bits) {
		if items, ok := c.sent[acked]; ok {
			for chanID, chanItems := range items {
				if ch, ok := c.channels[chanID]; ok {
					ch.onAck(chanItems)
				}
			}
			delete(c.sent, acked)
		}
		if sentAt, ok := c.sentAt[acked]; ok {
			c.pendingAckedSendTimes = append(c.pendingAckedSendTimes, sentAt)
			delete(c.sentAt, acked)
		}
	}

	records, err := unmarshalRecords(payload[20:])
	if err != nil {
		return err
	}
	for _, rc := range records {
		ch, ok := c.channels[rc.channelID]
		if !ok {
			continue
		}
		if err := ch.deliver(rc.record); err != nil {
			return err
		}
	}
	return nil
}
