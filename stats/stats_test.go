package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacketLossZeroWhenNothingSent(t *testing.T) {
	s := New()
	require.Equal(t, float64(0), s.PacketLoss())
}

func TestPacketLossExcludesTwoMostRecentBuckets(t *testing.T) {
	s := New()
	now := time.Duration(0)

	// Send 10 packets in an old bucket, ack only half, then advance time
	// past the two most-recent-bucket exclusion window.
	for i := 0; i < 10; i++ {
		s.RecordSent(now, 100)
	}
	for i := 0; i < 5; i++ {
		s.RecordAcked(now, now)
	}

	now += 3 * bucketResolution
	s.update(now)

	loss := s.PacketLoss()
	require.InDelta(t, 0.5, loss, 0.01)
}

func TestPacketLossIgnoresVeryRecentSends(t *testing.T) {
	s := New()
	now := time.Duration(0)
	for i := 0; i < 10; i++ {
		s.RecordSent(now, 64)
	}
	// No time has passed: these sends live in the current (and therefore
	// excluded) bucket, so loss must read as 0 even though nothing acked.
	require.Equal(t, float64(0), s.PacketLoss())
}

func TestBytesPerSecondExcludesCurrentBucket(t *testing.T) {
	s := New()
	now := time.Duration(0)
	s.RecordSent(now, 1000)
	require.Equal(t, float64(0), s.BytesSentPerSecond())

	now += bucketResolution
	s.update(now)
	require.Greater(t, s.BytesSentPerSecond(), float64(0))
}

func TestRTTSmoothing(t *testing.T) {
	s := New()
	now := time.Duration(0)
	s.RecordSent(now, 100)
	s.RecordAcked(50*time.Millisecond, now)
	require.InDelta(t, 0.05, s.RTT().Seconds(), 0.001)

	s.RecordAcked(120*time.Millisecond, 100*time.Millisecond)
	require.Less(t, s.RTT().Seconds(), 0.05)
}
