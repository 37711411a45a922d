// Command netcode-server is a thin cobra-driven demo binary exercising
// the protocol end-to-end over the bundled UDP carrier: it runs netcode's
// server-role handshake behind a Hub and echoes every message it receives
// on channel 0 back to its sender. All game logic stays out of the core;
// this binary is the kind of consumer the core is meant to support.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nullbound/netcode-core/channel"
	"github.com/nullbound/netcode-core/endpoint"
	"github.com/nullbound/netcode-core/metrics"
	"github.com/nullbound/netcode-core/netcode"
	"github.com/nullbound/netcode-core/transport/udp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listenAddr    string
		protocolID    uint64
		maxClients    uint32
		unsecure      bool
		privateKeyHex string
		heartbeat     time.Duration
		metricsAddr   string
	)

	cmd := &cobra.Command{
		Use:   "netcode-server",
		Short: "Run a demo netcode/channel server echoing channel 0 messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync()

			privateKey, err := resolvePrivateKey(unsecure, privateKeyHex)
			if err != nil {
				return err
			}
			challengeKey, err := netcode.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate challenge key: %w", err)
			}

			udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", listenAddr, err)
			}
			carrier, err := udp.Listen(*udpAddr, logger)
			if err != nil {
				return err
			}
			defer carrier.Close()

			server := netcode.NewServer(protocolID, privateKey, challengeKey, maxClients, heartbeat, time.Now().Unix())
			server.SetAddress(*udpAddr)
			hub := endpoint.NewHub(server, endpoint.Config{
				Channels: echoChannels(),
				Logger:   logger,
			})

			collector := metrics.NewCollector()
			collector.Start(hub)
			defer collector.Stop()
			go serveMetrics(metricsAddr, collector, logger)

			logger.Info("netcode-server listening",
				zap.String("addr", udpAddr.String()),
				zap.Uint64("protocol_id", protocolID),
				zap.Uint32("max_clients", maxClients),
				zap.Bool("unsecure", unsecure),
			)

			runServerLoop(context.Background(), carrier, hub, logger)
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:40000", "UDP address to listen on")
	cmd.Flags().Uint64Var(&protocolID, "protocol-id", 0x6e6574636f646500, "protocol identifier, must match clients")
	cmd.Flags().Uint32Var(&maxClients, "max-clients", 64, "maximum simultaneous connected sessions")
	cmd.Flags().BoolVar(&unsecure, "unsecure", true, "seal connect tokens with the well-known zero key (interop test mode)")
	cmd.Flags().StringVar(&privateKeyHex, "private-key-hex", "", "hex-encoded 32-byte private key, required unless --unsecure")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 250*time.Millisecond, "keep-alive heartbeat interval")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9105", "address to serve Prometheus metrics on")

	return cmd
}

// echoChannels declares channel 0 as ordered-reliable, mirroring
// netcode-client's declaration: both endpoints must declare channels
// identically.
func echoChannels() []channel.Config {
	return []channel.Config{
		{ID: 0, Kind: channel.OrderedReliable, MaxMemoryBytes: 1_000_000, ResendTime: 100 * time.Millisecond},
	}
}

func resolvePrivateKey(unsecure bool, hexKey string) (netcode.Key, error) {
	if unsecure {
		return netcode.ZeroKey, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != netcode.KeySize {
		return netcode.Key{}, fmt.Errorf("--private-key-hex must be %d hex-encoded bytes", netcode.KeySize)
	}
	var key netcode.Key
	copy(key[:], raw)
	return key, nil
}
