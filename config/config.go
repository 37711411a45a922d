// Package config loads the operator-facing settings (protocol_id,
// max_clients, authentication, per-channel declarations, bytes_per_tick,
// heartbeat_interval) from YAML or environment variables: a viper.New()
// instance seeded with SetDefault calls, an optional config file, an env
// prefix, then Unmarshal into a typed struct, followed by a permissive
// "or-default" clamp for any out-of-range value rather than a hard
// validation error.
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/nullbound/netcode-core/channel"
	"github.com/nullbound/netcode-core/netcode"
)

// ChannelSettings mirrors channel.Config in a viper/YAML-friendly shape
// (string kind instead of the closed Kind enum, duration strings).
type ChannelSettings struct {
	ChannelID      uint8         `mapstructure:"channel_id"`
	Kind           string        `mapstructure:"kind"`
	MaxMemoryBytes uint64        `mapstructure:"max_memory_bytes"`
	ResendTime     time.Duration `mapstructure:"resend_time"`
}

// AuthenticationSettings selects between a real 32-byte private key and
// the well-known zero key. PrivateKeyHex is ignored when Unsecure is true.
type AuthenticationSettings struct {
	Unsecure      bool   `mapstructure:"unsecure"`
	PrivateKeyHex string `mapstructure:"private_key_hex"`
}

// Settings is the full recognized configuration surface.
type Settings struct {
	ProtocolID        uint64                 `mapstructure:"protocol_id"`
	MaxClients        uint32                 `mapstructure:"max_clients"`
	Authentication    AuthenticationSettings `mapstructure:"authentication"`
	Channels          []ChannelSettings      `mapstructure:"channels"`
	BytesPerTick      int                    `mapstructure:"bytes_per_tick"`
	HeartbeatInterval time.Duration          `mapstructure:"heartbeat_interval"`
}

// Load reads Settings from an optional "netcode.yaml"/"netcode.yml" in the
// given search paths plus NETCODE_-prefixed environment variables, falling
// back to built-in defaults for anything unset.
func Load(searchPaths ...string) (Settings, error) {
	v := viper.New()

	v.SetDefault("protocol_id", uint64(0x6e6574636f646500)) // "netcode\0" big-endian-ish constant
	v.SetDefault("max_clients", 64)
	v.SetDefault("authentication.unsecure", false)
	v.SetDefault("bytes_per_tick", 16*1024)
	v.SetDefault("heartbeat_interval", 250*time.Millisecond)

	v.SetConfigName("netcode")
	if len(searchPaths) == 0 {
		searchPaths = []string{".", "./config"}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}
	v.SetEnvPrefix("NETCODE")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if s.MaxClients == 0 {
		s.MaxClients = 64
	}
	if s.BytesPerTick <= 0 {
		s.BytesPerTick = 16 * 1024
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 250 * time.Millisecond
	}
	if len(s.Channels) == 0 {
		s.Channels = nil // caller falls back to channel.DefaultConfigs()
	}

	return s, nil
}

// ChannelConfigs converts the loaded ChannelSettings into channel.Config,
// or nil if the operator declared none (the caller should then use
// channel.DefaultConfigs()).
func (s Settings) ChannelConfigs() ([]channel.Config, error) {
	if len(s.Channels) == 0 {
		return nil, nil
	}
	out := make([]channel.Config, 0, len(s.Channels))
	for _, cs := range s.Channels {
		kind, err := parseKind(cs.Kind)
		if err != nil {
			return nil, err
		}
		out = append(out, channel.Config{
			ID:             cs.ChannelID,
			Kind:           kind,
			MaxMemoryBytes: cs.MaxMemoryBytes,
			ResendTime:     cs.ResendTime,
		})
	}
	return out, nil
}

func parseKind(s string) (channel.Kind, error) {
	switch s {
	case "ordered-reliable", "ordered_reliable":
		return channel.OrderedReliable, nil
	case "unordered-reliable", "unordered_reliable":
		return channel.UnorderedReliable, nil
	case "unreliable":
		return channel.Unreliable, nil
	case "unreliable-sequenced", "unreliable_sequenced":
		return channel.UnreliableSequenced, nil
	default:
		return 0, fmt.Errorf("config: unknown channel kind %q", s)
	}
}

// PrivateKey resolves the authentication section to a netcode.Key: the
// well-known all-zero key in unsecure mode (interoperability test mode
// only), or the hex-decoded operator-supplied key otherwise.
func (a AuthenticationSettings) PrivateKey() (netcode.Key, error) {
	if a.Unsecure {
		return netcode.ZeroKey, nil
	}
	raw, err := hex.DecodeString(a.PrivateKeyHex)
	if err != nil {
		return netcode.Key{}, fmt.Errorf("config: decode private_key_hex: %w", err)
	}
	if len(raw) != len(netcode.Key{}) {
		return netcode.Key{}, fmt.Errorf("config: private_key_hex must decode to %d bytes, got %d", len(netcode.Key{}), len(raw))
	}
	var key netcode.Key
	copy(key[:], raw)
	return key, nil
}
