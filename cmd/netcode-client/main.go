// Command netcode-client is the counterpart demo binary to
// netcode-server: it mints its own connect token (acting as its own
// issuer; a matchmaking/token service stays out of the core), connects,
// sends a run of numbered messages on channel 0, and verifies the echoed
// sequence comes back unchanged and in order.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nullbound/netcode-core/endpoint"
	"github.com/nullbound/netcode-core/netcode"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		serverAddr    string
		protocolID    uint64
		clientID      uint64
		unsecure      bool
		privateKeyHex string
		heartbeat     time.Duration
		messageCount  int
	)

	cmd := &cobra.Command{
		Use:   "netcode-client",
		Short: "Connect to a demo netcode-server and echo 100 messages on channel 0",
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

			udpAddr, err := net.ResolveUDPAddr("udp", serverAddr)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", serverAddr, err)
			}

			now := time.Now().Unix()
			var userData [netcode.UserDataSize]byte
			token, err := netcode.GenerateConnectToken(
				protocolID,
				clientID,
				now,
				30, // expireSeconds
				10, // connectTimeoutSeconds
				[]net.UDPAddr{*udpAddr},
				userData,
				privateKey,
			)
			if err != nil {
				return fmt.Errorf("generate connect token: %w", err)
			}
			private, err := token.Open(privateKey, now)
			if err != nil {
				return fmt.Errorf("open own token: %w", err)
			}

			client := netcode.NewClient(protocolID, token, private, heartbeat, now)
			ep := endpoint.NewClientEndpoint(client, endpoint.Config{
				Channels: echoChannels(),
				Logger:   logger,
			})

			return runClientLoop(ep, client, logger, messageCount)
		},
	}

	cmd.Flags().StringVar(&serverAddr, "server", "127.0.0.1:40000", "UDP address of the netcode-server")
	cmd.Flags().Uint64Var(&protocolID, "protocol-id", 0x6e6574636f646500, "protocol identifier, must match the server")
	cmd.Flags().Uint64Var(&clientID, "client-id", 1, "client identifier embedded in the connect token")
	cmd.Flags().BoolVar(&unsecure, "unsecure", true, "seal the connect token with the well-known zero key (interop test mode)")
	cmd.Flags().StringVar(&privateKeyHex, "private-key-hex", "", "hex-encoded 32-byte private key, required unless --unsecure")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 250*time.Millisecond, "keep-alive heartbeat interval")
	cmd.Flags().IntVar(&messageCount, "count", 100, "number of messages to echo")

	return cmd
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
