package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullbound/netcode-core/channel"
	"github.com/nullbound/netcode-core/netcode"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, uint32(64), s.MaxClients)
	require.Equal(t, 16*1024, s.BytesPerTick)
	require.Nil(t, s.Channels)
}

func TestUnsecureAuthenticationResolvesZeroKey(t *testing.T) {
	s := Settings{Authentication: AuthenticationSettings{Unsecure: true}}
	key, err := s.Authentication.PrivateKey()
	require.NoError(t, err)
	require.Equal(t, netcode.ZeroKey, key)
}

func TestSecureAuthenticationDecodesHexKey(t *testing.T) {
	hexKey := ""
	for i := 0; i < 32; i++ {
		hexKey += "ab"
	}
	s := Settings{Authentication: AuthenticationSettings{PrivateKeyHex: hexKey}}
	key, err := s.Authentication.PrivateKey()
	require.NoError(t, err)
	require.Equal(t, byte(0xab), key[0])
}

func TestChannelConfigsParsesKinds(t *testing.T) {
	s := Settings{Channels: []ChannelSettings{
		{ChannelID: 0, Kind: "ordered-reliable", MaxMemoryBytes: 1024},
		{ChannelID: 1, Kind: "unreliable-sequenced", MaxMemoryBytes: 1024},
	}}
	cfgs, err := s.ChannelConfigs()
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	require.Equal(t, channel.OrderedReliable, cfgs[0].Kind)
	require.Equal(t, channel.UnreliableSequenced, cfgs[1].Kind)
}

func TestChannelConfigsRejectsUnknownKind(t *testing.T) {
	s := Settings{Channels: []ChannelSettings{{Kind: "bogus"}}}
	_, err := s.ChannelConfigs()
	require.Error(t, err)
}
