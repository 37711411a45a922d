package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nullbound/netcode-core/endpoint"
	"github.com/nullbound/netcode-core/metrics"
	"github.com/nullbound/netcode-core/transport/udp"
)

// tickInterval is how often the single-threaded-cooperative executor
// calls AdvanceTime/ProcessIncoming/PacketsToSend.
const tickInterval = 10 * time.Millisecond

// runServerLoop drives the Hub with a single cooperative executor calling
// AdvanceTime + ProcessIncoming + PacketsToSend in sequence, echoing every
// channel-0 payload back to its sender.
func runServerLoop(ctx context.Context, carrier *udp.Carrier, hub *endpoint.Hub, logger *zap.Logger) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now

			for {
				addr, bytes, ok := carrier.Recv()
				if !ok {
					break
				}
				handleIncoming(hub, carrier, addr, bytes, logger)
			}

			for _, ev := range hub.AdvanceTime(dt) {
				logEvent(logger, ev)
			}

			for _, out := range hub.PacketsToSend() {
				if err := carrier.Send(out.Addr, out.Bytes); err != nil {
					logger.Warn("send failed", zap.Stringer("remote_addr", &out.Addr), zap.Error(err))
				}
			}

			drainAndEcho(hub, logger)
		}
	}
}

func handleIncoming(hub *endpoint.Hub, carrier *udp.Carrier, addr net.UDPAddr, bytes []byte, logger *zap.Logger) {
	ev, denyFrame, isDeny, err := hub.ProcessIncoming(addr, bytes)
	if isDeny {
		if sendErr := carrier.Send(addr, denyFrame); sendErr != nil {
			logger.Warn("send denied frame failed", zap.Error(sendErr))
		}
		return
	}
	if err != nil {
		logger.Warn("process incoming failed", zap.Stringer("remote_addr", &addr), zap.Error(err))
		return
	}
	logEvent(logger, ev)
}

func logEvent(logger *zap.Logger, ev endpoint.HubEvent) {
	switch ev.Kind {
	case endpoint.HubEventClientConnected:
		logger.Info("client connected", zap.Uint64("client_id", ev.ClientID), zap.Stringer("remote_addr", &ev.Addr))
	case endpoint.HubEventClientDisconnected:
		logger.Info("client disconnected",
			zap.Uint64("client_id", ev.ClientID),
			zap.Stringer("remote_addr", &ev.Addr),
			zap.Stringer("reason", ev.Reason),
		)
	}
}

// drainAndEcho echoes every message received on channel 0 back to its
// sender on channel 0.
func drainAndEcho(hub *endpoint.Hub, logger *zap.Logger) {
	for _, addr := range hub.ConnectedAddrs() {
		for {
			msg, ok := hub.DrainReceived(addr, 0)
			if !ok {
				break
			}
			if _, err := hub.EnqueueMessage(addr, 0, msg); err != nil {
				logger.Warn("echo enqueue failed", zap.Stringer("remote_addr", &addr), zap.Error(err))
			}
		}
	}
}

func serveMetrics(addr string, collector *metrics.Collector, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}
