package main

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nullbound/netcode-core/channel"
	"github.com/nullbound/netcode-core/endpoint"
	"github.com/nullbound/netcode-core/netcode"
	"github.com/nullbound/netcode-core/transport/udp"
)

const tickInterval = 10 * time.Millisecond

// echoChannels mirrors netcode-server's channel 0 declaration; both
// endpoints must declare channels identically.
func echoChannels() []channel.Config {
	return []channel.Config{
		{ID: 0, Kind: channel.OrderedReliable, MaxMemoryBytes: 1_000_000, ResendTime: 100 * time.Millisecond},
	}
}

// runClientLoop drives the handshake to completion, sends messageCount
// little-endian u64 payloads on channel 0, and verifies the echoed
// sequence arrives back in order.
func runClientLoop(ep *endpoint.Endpoint, client *netcode.Client, logger *zap.Logger, messageCount int) error {
	addr, ok := client.CurrentServerAddr()
	if !ok {
		return fmt.Errorf("client has no server address")
	}
	carrier, err := udp.Dial(addr, logger)
	if err != nil {
		return err
	}
	defer carrier.Close()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	sent := false
	nextExpected := uint64(0)
	last := time.Now()

	for nextExpected < uint64(messageCount) {
		now := <-ticker.C
		dt := now.Sub(last)
		last = now
		ep.AdvanceTime(dt)

		for {
			_, bytes, recvOK := carrier.Recv()
			if !recvOK {
				break
			}
			if err := ep.ProcessIncoming(bytes); err != nil {
				logger.Warn("process incoming failed", zap.Error(err))
			}
		}

		if reason := ep.DisconnectReason(); reason != netcode.DisconnectNone {
			return fmt.Errorf("client disconnected: %s", reason)
		}

		if !sent && ep.Connected() {
			for i := 0; i < messageCount; i++ {
				payload := make([]byte, 8)
				binary.LittleEndian.PutUint64(payload, uint64(i))
				if err := ep.EnqueueMessage(0, payload); err != nil {
					return fmt.Errorf("enqueue message %d: %w", i, err)
				}
			}
			sent = true
		}

		for _, bytes := range ep.PacketsToSend() {
			if sendAddr, curOK := client.CurrentServerAddr(); curOK {
				if err := carrier.Send(sendAddr, bytes); err != nil {
					logger.Warn("send failed", zap.Error(err))
				}
			}
		}

		for {
			msg, drainOK := ep.DrainReceived(0)
			if !drainOK {
				break
			}
			if len(msg) != 8 {
				return fmt.Errorf("unexpected echo payload length %d", len(msg))
			}
			got := binary.LittleEndian.Uint64(msg)
			if got != nextExpected {
				return fmt.Errorf("echo out of order: got %d, want %d", got, nextExpected)
			}
			nextExpected++
		}
	}

	logger.Info("echo scenario complete", zap.Uint64("messages_received", nextExpected))
	return nil
}
