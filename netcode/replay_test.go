package netcode

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplayProtectionAcceptsIncreasingSequences(t *testing.T) {
	r := newReplayProtection()
	for seq := uint64(0); seq < 1000; seq++ {
		require.False(t, r.alreadyReceived(seq), "seq %d should not be a replay", seq)
		r.advance(seq)
	}
}

func TestReplayProtectionRejectsExactDuplicate(t *testing.T) {
	r := newReplayProtection()
	r.advance(100)
	require.True(t, r.alreadyReceived(100))
}

func TestReplayProtectionRejectsOutsideWindow(t *testing.T) {
	r := newReplayProtection()
	r.advance(ReplayWindowSize * 2)
	require.True(t, r.alreadyReceived(0))
	require.False(t, r.alreadyReceived(ReplayWindowSize*2-ReplayWindowSize+1))
}

func TestReplayProtectionAllowsOutOfOrderWithinWindow(t *testing.T) {
	r := newReplayProtection()
	r.advance(10)
	require.False(t, r.alreadyReceived(5))
	r.advance(5)
	require.True(t, r.alreadyReceived(5))
}

func TestReplayProtectionNeverAcceptsSequenceTwice(t *testing.T) {
	r := newReplayProtection()
	seen := make(map[uint64]bool)
	stream := []uint64{1, 2, 3, 2, 5, 4, 5, 300, 44, 300}
	for _, seq := range stream {
		rejected := r.alreadyReceived(seq)
		if !rejected {
			require.False(t, seen[seq], "seq %d accepted twice", seq)
			seen[seq] = true
			r.advance(seq)
		}
	}
}

func TestReplayProtectionRandomStreamInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := newReplayProtection()
	accepted := make(map[uint64]bool)
	var highest uint64

	for i := 0; i < 10_000; i++ {
		// Mostly advancing sequences with jitter, occasionally an old one.
		var seq uint64
		if rng.Intn(10) == 0 && highest > 0 {
			seq = uint64(rng.Int63n(int64(highest + 1)))
		} else {
			seq = highest + uint64(rng.Intn(8))
		}

		rejected := r.alreadyReceived(seq)
		if seq+ReplayWindowSize <= highest {
			require.True(t, rejected, "seq %d is %d behind highest %d and must be rejected", seq, highest-seq, highest)
		}
		if !rejected {
			require.False(t, accepted[seq], "seq %d accepted twice", seq)
			accepted[seq] = true
			r.advance(seq)
			if seq > highest {
				highest = seq
			}
		}
	}
}
