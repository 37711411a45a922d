package netcode

// replayEmpty marks a ring slot that has never recorded a sequence.
const replayEmpty = ^uint64(0)

// replayProtection is a fixed-size ring of recently accepted sequences: a
// sequence s is rejected if it falls ReplayWindowSize or more behind the
// high-water mark, or if its ring slot already records a sequence >= s.
type replayProtection struct {
	mostRecentSequence uint64
	received           [ReplayWindowSize]uint64
}

func newReplayProtection() *replayProtection {
	r := &replayProtection{}
	for i := range r.received {
		r.received[i] = replayEmpty
	}
	return r
}

// alreadyReceived reports whether seq must be rejected as a replay. It
// does not mutate state; call advance after processing accepts it.
func (r *replayProtection) alreadyReceived(seq uint64) bool {
	if seq+ReplayWindowSize <= r.mostRecentSequence {
		return true
	}
	slot := r.received[seq%ReplayWindowSize]
	if slot == replayEmpty {
		return false
	}
	return slot >= seq
}

// advance records seq as accepted and raises the high-water mark if seq
// is newer. Always writes the ring slot, even when seq does not raise the
// mark.
func (r *replayProtection) advance(seq uint64) {
	if seq > r.mostRecentSequence {
		r.mostRecentSequence = seq
	}
	r.received[seq%ReplayWindowSize] = seq
}
