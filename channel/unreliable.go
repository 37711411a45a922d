package channel

import "time"

// unreliableChannel implements the plain unreliable kind:
// the send side drops outright (never buffers for a later tick) anything
// that cannot fit the current budget; the receive side has no ordering
// guarantee and reclaims stalled slice assemblies under memory pressure.
type unreliableChannel struct {
	cfg Config

	pending        [][]byte
	pendingBytes   uint64
	nextOutgoingID uint64

	receiveQueue    [][]byte
	sliceAssemblies map[uint64]*sliceConstructor
	assemblyOrder   []uint64
	assemblyBytes   uint64
}

func newUnreliableChannel(cfg Config) *unreliableChannel {
	return &unreliableChannel{
		cfg:             cfg,
		sliceAssemblies: make(map[uint64]*sliceConstructor),
	}
}

func (c *unreliableChannel) id() uint8 { return c.cfg.ID }

func (c *unreliableChannel) enqueue(payload []byte) error {
	if c.pendingBytes+uint64(len(payload)) > c.cfg.MaxMemoryBytes {
		return nil // dropped, not fatal
	}
	c.pendingBytes += uint64(len(payload))
	c.pending = append(c.pending, payload)
	return nil
}

func (c *unreliableChannel) collect(budget *int, now time.Duration) []record {
	var out []record
	for _, payload := range c.pending {
		out = append(out, c.emit(budget, payload, false)...)
	}
	c.pending = nil
	c.pendingBytes = 0
	return out
}

// emit produces the record(s) for one message, or nil if the budget
// cannot accommodate it (dropped). withID forces an
// explicit message id even on unsliced sends, used by the sequenced
// variant.
func (c *unreliableChannel) emit(budget *int, payload []byte, withID bool) []record {
	if len(payload) <= SliceSize {
		if *budget < len(payload) {
			return nil
		}
		*budget -= len(payload)
		rec := record{kind: recordKindMessage, hasID: withID, payload: payload}
		if withID {
			rec.messageID = c.nextOutgoingID
			c.nextOutgoingID++
		}
		return []record{rec}
	}

	slices := splitSlices(payload)
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	if *budget < total {
		return nil
	}
	id := c.nextOutgoingID
	c.nextOutgoingID++
	recs := make([]record, 0, len(slices))
	for i, s := range slices {
		recs = append(recs, record{
			kind:       recordKindSlice,
			hasID:      true,
			messageID:  id,
			sliceIndex: uint16(i),
			numSlices:  uint16(len(slices)),
			payload:    s,
		})
	}
	*budget -= total
	return recs
}

func (c *unreliableChannel) onAck(items []ackedItem) {}

func (c *unreliableChannel) deliver(rec record) error {
	if rec.kind == recordKindMessage {
		c.receiveQueue = append(c.receiveQueue, rec.payload)
		return nil
	}

	asm, ok := c.sliceAssemblies[rec.messageID]
	if !ok {
		asm = newSliceConstructor(rec.messageID, rec.numSlices)
		c.sliceAssemblies[rec.messageID] = asm
		c.assemblyOrder = append(c.assemblyOrder, rec.messageID)
	}
	before := asm.byteSize()
	full, err := asm.addSlice(c.cfg.ID, rec.sliceIndex, rec.numSlices, rec.payload)
	if err != nil {
		c.assemblyBytes -= before
		delete(c.sliceAssemblies, rec.messageID)
		return nil // unreliable slice geometry errors are drops, not fatal
	}
	c.assemblyBytes += asm.byteSize() - before

	if full != nil {
		delete(c.sliceAssemblies, rec.messageID)
		c.assemblyBytes -= asm.byteSize()
		c.receiveQueue = append(c.receiveQueue, full)
		return nil
	}

	for c.assemblyBytes > c.cfg.MaxMemoryBytes && len(c.assemblyOrder) > 0 {
		evictID := c.assemblyOrder[0]
		c.assemblyOrder = c.assemblyOrder[1:]
		if old, ok := c.sliceAssemblies[evictID]; ok {
			c.assemblyBytes -= old.byteSize()
			delete(c.sliceAssemblies, evictID)
		}
	}
	return nil
}

func (c *unreliableChannel) receiveMessage() ([]byte, bool) {
	if len(c.receiveQueue) == 0 {
		return nil, false
	}
	msg := c.receiveQueue[0]
	c.receiveQueue = c.receiveQueue[1:]
	return msg, true
}

func (c *unreliableChannel) memoryUsage() uint64 {
	return c.pendingBytes + c.assemblyBytes
}

// unreliableSequencedChannel additionally tags every send with a
// sender-assigned id and delivers only in increasing-id order, dropping
// anything below the current floor.
type unreliableSequencedChannel struct {
	unreliableChannel

	nextExpectedID uint64
	buffered       map[uint64][]byte
	bufferedBytes  uint64
}

func newUnreliableSequencedChannel(cfg Config) *unreliableSequencedChannel {
	return &unreliableSequencedChannel{
		unreliableChannel: unreliableChannel{cfg: cfg, sliceAssemblies: make(map[uint64]*sliceConstructor)},
		buffered:          make(map[uint64][]byte),
	}
}

func (c *unreliableSequencedChannel) collect(budget *int, now time.Duration) []record {
	var out []record
	for _, payload := range c.pending {
		recs := c.emitSequenced(budget, payload)
		out = append(out, recs...)
	}
	c.pending = nil
	c.pendingBytes = 0
	return out
}

// emitSequenced assigns the id at send time (unlike plain unreliable,
// which only assigns ids to sliced messages) so single-record sends also
// carry the explicit id the floor-advance receive algorithm needs.
func (c *unreliableSequencedChannel) emitSequenced(budget *int, payload []byte) []record {
	if len(payload) <= SliceSize {
		if *budget < len(payload) {
			return nil
		}
		id := c.nextOutgoingID
		c.nextOutgoingID++
		*budget -= len(payload)
		return []record{{kind: recordKindMessage, hasID: true, messageID: id, payload: payload}}
	}
	return c.emit(budget, payload, true)
}

func (c *unreliableSequencedChannel) deliver(rec record) error {
	if rec.messageID < c.nextExpectedID {
		return nil
	}

	if rec.kind == recordKindMessage {
		c.buffer(rec.messageID, rec.payload)
		return nil
	}

	asm, ok := c.sliceAssemblies[rec.messageID]
	if !ok {
		asm = newSliceConstructor(rec.messageID, rec.numSlices)
		c.sliceAssemblies[rec.messageID] = asm
	}
	before := asm.byteSize()
	full, err := asm.addSlice(c.cfg.ID, rec.sliceIndex, rec.numSlices, rec.payload)
	if err != nil {
		c.assemblyBytes -= before
		delete(c.sliceAssemblies, rec.messageID)
		return nil
	}
	c.assemblyBytes += asm.byteSize() - before
	if full != nil {
		c.assemblyBytes -= asm.byteSize()
		delete(c.sliceAssemblies, rec.messageID)
		c.buffer(rec.messageID, full)
	}
	return nil
}

// buffer stages one assembled message for ordered pop, dropping (not
// failing) when the memory cap is reached.
func (c *unreliableSequencedChannel) buffer(id uint64, payload []byte) {
	if _, dup := c.buffered[id]; dup {
		return
	}
	if c.bufferedBytes+c.assemblyBytes+uint64(len(payload)) > c.cfg.MaxMemoryBytes {
		return
	}
	c.bufferedBytes += uint64(len(payload))
	c.buffered[id] = payload
}

// receiveMessage pops the lowest buffered id, advancing the floor past
// it and reclaiming any now-stale in-flight slice assemblies.
func (c *unreliableSequencedChannel) receiveMessage() ([]byte, bool) {
	if len(c.buffered) == 0 {
		return nil, false
	}
	min, found := uint64(0), false
	for id := range c.buffered {
		if !found || id < min {
			min = id
			found = true
		}
	}
	payload := c.buffered[min]
	delete(c.buffered, min)
	c.bufferedBytes -= uint64(len(payload))
	c.nextExpectedID = min + 1

	for id, asm := range c.sliceAssemblies {
		if id < c.nextExpectedID {
			c.assemblyBytes -= asm.byteSize()
			delete(c.sliceAssemblies, id)
		}
	}
	return payload, true
}

func (c *unreliableSequencedChannel) memoryUsage() uint64 {
	return c.pendingBytes + c.bufferedBytes + c.assemblyBytes
}
