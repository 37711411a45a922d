package channel

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pumpOnce exchanges one tick's worth of packets between two Cores,
// applying drop(seq) to decide whether each packet is delivered. seq
// counts every packet offered to drop in call order (not the
// packet-sequence header), giving tests a simple "every Nth frame" knob.
func pumpOnce(t *testing.T, a, b *Core, now time.Duration, drop func(n int) bool, counter *int) {
	t.Helper()
	for _, pkt := range a.CollectPackets(1_000_000, now) {
		if drop(*counter) {
			*counter++
			continue
		}
		*counter++
		require.NoError(t, b.ProcessPayload(pkt))
	}
}

func u64Message(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func TestOrderedReliableEchoNoLoss(t *testing.T) {
	cfg := []Config{{ID: 0, Kind: OrderedReliable, MaxMemoryBytes: 1_000_000, ResendTime: 100 * time.Millisecond}}
	client := NewCore(cfg)
	server := NewCore(cfg)

	for i := uint64(0); i < 100; i++ {
		require.NoError(t, client.Enqueue(0, u64Message(i)))
	}

	var now time.Duration
	var received []uint64
	noDrop := func(int) bool { return false }
	ctr := 0

	for tick := 0; tick < 200 && len(received) < 100; tick++ {
		now += 10 * time.Millisecond
		pumpOnce(t, client, server, now, noDrop, &ctr)

		for {
			msg, ok := server.DrainReceived(0)
			if !ok {
				break
			}
			require.NoError(t, server.Enqueue(0, msg))
		}

		pumpOnce(t, server, client, now, noDrop, &ctr)
		for {
			msg, ok := client.DrainReceived(0)
			if !ok {
				break
			}
			received = append(received, binary.LittleEndian.Uint64(msg))
		}
	}

	require.Len(t, received, 100)
	for i, v := range received {
		require.Equal(t, uint64(i), v)
	}
}

func TestUnreliableSlicedLargeMessage(t *testing.T) {
	cfg := []Config{{ID: 0, Kind: Unreliable, MaxMemoryBytes: 1_000_000}}
	sender := NewCore(cfg)
	receiver := NewCore(cfg)

	payload := make([]byte, 3600)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, sender.Enqueue(0, payload))

	for _, pkt := range sender.CollectPackets(1_000_000, 0) {
		require.NoError(t, receiver.ProcessPayload(pkt))
	}

	got, ok := receiver.DrainReceived(0)
	require.True(t, ok)
	require.Equal(t, payload, got)
}

func TestReliableUnderLossEventuallyDeliversAll(t *testing.T) {
	cfg := []Config{{ID: 0, Kind: OrderedReliable, MaxMemoryBytes: 1_000_000, ResendTime: 50 * time.Millisecond}}
	a := NewCore(cfg)
	b := NewCore(cfg)

	for i := uint64(0); i < 32; i++ {
		require.NoError(t, a.Enqueue(0, u64Message(i)))
	}

	dropEveryThird := func(n int) bool { return n%3 == 2 }
	ctrAB, ctrBA := 0, 0
	var received []uint64
	var now time.Duration

	for tick := 0; tick < 2000 && len(received) < 32; tick++ {
		now += 10 * time.Millisecond
		pumpOnce(t, a, b, now, dropEveryThird, &ctrAB)
		pumpOnce(t, b, a, now, dropEveryThird, &ctrBA)
		for {
			msg, ok := b.DrainReceived(0)
			if !ok {
				break
			}
			received = append(received, binary.LittleEndian.Uint64(msg))
		}
	}

	require.Len(t, received, 32)
	for i, v := range received {
		require.Equal(t, uint64(i), v)
	}
}

func TestUnreliableSequencedMonotonicDelivery(t *testing.T) {
	cfg := []Config{{ID: 0, Kind: UnreliableSequenced, MaxMemoryBytes: 1_000_000}}
	sender := NewCore(cfg)
	receiver := NewCore(cfg)

	// Collect after each enqueue so every message rides its own packet and
	// the test can deliver them out of order.
	var pkts [][]byte
	for _, body := range []string{"first", "middle", "last"} {
		require.NoError(t, sender.Enqueue(0, []byte(body)))
		collected := sender.CollectPackets(1_000_000, 0)
		require.Len(t, collected, 1)
		pkts = append(pkts, collected[0])
	}

	var delivered []string
	drain := func() {
		for {
			msg, ok := receiver.DrainReceived(0)
			if !ok {
				break
			}
			delivered = append(delivered, string(msg))
		}
	}

	// Arrival order: first, last, middle. Draining between arrivals
	// advances the floor past "middle" before it shows up, so it is never
	// delivered.
	require.NoError(t, receiver.ProcessPayload(pkts[0]))
	drain()
	require.NoError(t, receiver.ProcessPayload(pkts[2]))
	drain()
	require.NoError(t, receiver.ProcessPayload(pkts[1]))
	drain()

	require.Equal(t, []string{"first", "last"}, delivered)
}

func TestUnorderedReliableDeliversExactlyOnceUnderLoss(t *testing.T) {
	cfg := []Config{{ID: 0, Kind: UnorderedReliable, MaxMemoryBytes: 1_000_000, ResendTime: 50 * time.Millisecond}}
	a := NewCore(cfg)
	b := NewCore(cfg)

	for i := uint64(0); i < 24; i++ {
		require.NoError(t, a.Enqueue(0, u64Message(i)))
	}

	dropEveryOther := func(n int) bool { return n%2 == 1 }
	ctrAB, ctrBA := 0, 0
	seen := make(map[uint64]int)
	total := 0
	var now time.Duration

	for tick := 0; tick < 2000 && total < 24; tick++ {
		now += 10 * time.Millisecond
		pumpOnce(t, a, b, now, dropEveryOther, &ctrAB)
		pumpOnce(t, b, a, now, dropEveryOther, &ctrBA)
		for {
			msg, ok := b.DrainReceived(0)
			if !ok {
				break
			}
			seen[binary.LittleEndian.Uint64(msg)]++
			total++
		}
	}

	require.Equal(t, 24, total)
	for i := uint64(0); i < 24; i++ {
		require.Equal(t, 1, seen[i], "message %d delivered exactly once", i)
	}
}
