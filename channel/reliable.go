package channel

import (
	"sort"
	"time"
)

// outgoingMessage is a reliable channel's send-side record for one
// message id: the payload (or its slices, if too large for one record),
// and per-unit ack state. Message ids and packet-sequences are tracked as
// separate index-based maps rather than back-pointers; the ack path looks
// up ids and deletes from both tables.
type outgoingMessage struct {
	payload      []byte
	slices       [][]byte
	ackedSlices  []bool
	lastSentTime time.Duration
	everSent     bool
}

func (m *outgoingMessage) sliced() bool { return m.slices != nil }

// fullyAcked reports whether every slice of a sliced message has been
// acked. An unsliced message is acked as a single unit and deleted from
// the outgoing map in onAck, so a live one is never fully acked.
func (m *outgoingMessage) fullyAcked() bool {
	if !m.sliced() {
		return false
	}
	for _, a := range m.ackedSlices {
		if !a {
			return false
		}
	}
	return true
}

// reliableChannel implements both ordered-reliable and
// unordered-reliable delivery; the only difference is
// whether the receive side enforces strictly increasing delivery order.
type reliableChannel struct {
	cfg     Config
	ordered bool

	nextMessageID uint64
	outgoing      map[uint64]*outgoingMessage
	outgoingBytes uint64

	nextExpectedID  uint64
	receiveBuffer   map[uint64][]byte
	receiveDedup    map[uint64]bool
	highestDedupID  uint64
	receiveQueue    [][]byte
	sliceAssemblies map[uint64]*sliceConstructor
	receiveBytes    uint64
}

// dedupWindowSize bounds the unordered receive side's duplicate filter:
// ids this far or further below the highest delivered id are treated as
// duplicates outright, so the dedup map never outgrows the window.
const dedupWindowSize = 1024

func newReliableChannel(cfg Config) *reliableChannel {
	return &reliableChannel{
		cfg:             cfg,
		ordered:         cfg.Kind == OrderedReliable,
		outgoing:        make(map[uint64]*outgoingMessage),
		receiveBuffer:   make(map[uint64][]byte),
		receiveDedup:    make(map[uint64]bool),
		sliceAssemblies: make(map[uint64]*sliceConstructor),
	}
}

func (c *reliableChannel) id() uint8 { return c.cfg.ID }

func (c *reliableChannel) enqueue(payload []byte) error {
	id := c.nextMessageID
	c.nextMessageID++

	m := &outgoingMessage{payload: payload}
	if len(payload) > SliceSize {
		m.slices = splitSlices(payload)
		m.ackedSlices = make([]bool, len(m.slices))
	}

	if c.outgoingBytes+uint64(len(payload)) > c.cfg.MaxMemoryBytes {
		return &FatalError{ChannelID: c.cfg.ID, OutOfMemory: true}
	}
	c.outgoingBytes += uint64(len(payload))
	c.outgoing[id] = m
	return nil
}

func splitSlices(payload []byte) [][]byte {
	n := (len(payload) + SliceSize - 1) / SliceSize
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * SliceSize
		end := start + SliceSize
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, payload[start:end])
	}
	return out
}

// collect walks outstanding messages in id order, resending anything not
// yet acked whose resend_time has elapsed, until the shared budget or the
// channel's own records run out.
func (c *reliableChannel) collect(budget *int, now time.Duration) []record {
	ids := sortedUint64Keys(c.outgoing)
	var out []record

	for _, id := range ids {
		m := c.outgoing[id]
		if m.fullyAcked() {
			continue
		}
		if m.everSent && now-m.lastSentTime < c.cfg.ResendTime {
			continue
		}

		sent := false
		if !m.sliced() {
			if *budget < len(m.payload) {
				break
			}
			out = append(out, record{kind: recordKindMessage, hasID: true, messageID: id, payload: m.payload})
			*budget -= len(m.payload)
			sent = true
		} else {
			for i, sl := range m.slices {
				if m.ackedSlices[i] {
					continue
				}
				if *budget < len(sl) {
					break
				}
				out = append(out, record{
					kind:       recordKindSlice,
					hasID:      true,
					messageID:  id,
					sliceIndex: uint16(i),
					numSlices:  uint16(len(m.slices)),
					payload:    sl,
				})
				*budget -= len(sl)
				sent = true
			}
		}
		if sent {
			m.lastSentTime = now
			m.everSent = true
		}
	}
	return out
}

func (c *reliableChannel) onAck(items []ackedItem) {
	for _, it := range items {
		m, ok := c.outgoing[it.MessageID]
		if !ok {
			continue
		}
		if !it.IsSlice {
			c.outgoingBytes -= uint64(len(m.payload))
			delete(c.outgoing, it.MessageID)
			continue
		}
		if int(it.SliceIndex) < len(m.ackedSlices) {
			m.ackedSlices[it.SliceIndex] = true
		}
		if m.fullyAcked() {
			c.outgoingBytes -= uint64(len(m.payload))
			delete(c.outgoing, it.MessageID)
		}
	}
}

func (c *reliableChannel) deliver(rec record) error {
	if rec.kind == recordKindMessage {
		return c.acceptMessage(rec.messageID, rec.payload)
	}

	asm, ok := c.sliceAssemblies[rec.messageID]
	if !ok {
		asm = newSliceConstructor(rec.messageID, rec.numSlices)
		c.sliceAssemblies[rec.messageID] = asm
	}
	full, err := asm.addSlice(c.cfg.ID, rec.sliceIndex, rec.numSlices, rec.payload)
	if err != nil {
		return err
	}
	if full != nil {
		delete(c.sliceAssemblies, rec.messageID)
		return c.acceptMessage(rec.messageID, full)
	}
	if c.assemblyBytes() > c.cfg.MaxMemoryBytes {
		return &FatalError{ChannelID: c.cfg.ID, Message: "receive assembly memory exceeded"}
	}
	return nil
}

func (c *reliableChannel) assemblyBytes() uint64 {
	var total uint64
	for _, a := range c.sliceAssemblies {
		total += a.byteSize()
	}
	return total
}

func (c *reliableChannel) acceptMessage(id uint64, payload []byte) error {
	if c.ordered {
		if id < c.nextExpectedID {
			return nil
		}
		if _, buffered := c.receiveBuffer[id]; buffered {
			return nil
		}
		c.receiveBuffer[id] = payload
		c.receiveBytes += uint64(len(payload))
		if c.receiveBytes > c.cfg.MaxMemoryBytes {
			return &FatalError{ChannelID: c.cfg.ID, Message: "receive buffer memory exceeded"}
		}
		for {
			p, ok := c.receiveBuffer[c.nextExpectedID]
			if !ok {
				break
			}
			c.receiveQueue = append(c.receiveQueue, p)
			delete(c.receiveBuffer, c.nextExpectedID)
			c.receiveBytes -= uint64(len(p))
			c.nextExpectedID++
		}
		return nil
	}

	if id+dedupWindowSize <= c.highestDedupID {
		return nil
	}
	if c.receiveDedup[id] {
		return nil
	}
	c.receiveDedup[id] = true
	if id > c.highestDedupID {
		c.highestDedupID = id
		for k := range c.receiveDedup {
			if k+dedupWindowSize <= c.highestDedupID {
				delete(c.receiveDedup, k)
			}
		}
	}
	c.receiveQueue = append(c.receiveQueue, payload)
	return nil
}

func (c *reliableChannel) receiveMessage() ([]byte, bool) {
	if len(c.receiveQueue) == 0 {
		return nil, false
	}
	msg := c.receiveQueue[0]
	c.receiveQueue = c.receiveQueue[1:]
	return msg, true
}

func (c *reliableChannel) memoryUsage() uint64 {
	return c.outgoingBytes + c.receiveBytes + c.assemblyBytes()
}

// sortedUint64Keys returns the keys of m in ascending order, preserving
// the "message ids delivered/processed in id order" requirement without
// depending on Go's randomized map iteration.
func sortedUint64Keys(m map[uint64]*outgoingMessage) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
