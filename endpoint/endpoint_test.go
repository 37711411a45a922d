package endpoint

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nullbound/netcode-core/channel"
	"github.com/nullbound/netcode-core/netcode"
)

const testProtocolID = 0xE7DC0000

func mintToken(t *testing.T, privateKey netcode.Key, clientID uint64, serverAddr net.UDPAddr) (*netcode.ConnectToken, *netcode.PrivateTokenData) {
	t.Helper()
	var userData [netcode.UserDataSize]byte
	token, err := netcode.GenerateConnectToken(testProtocolID, clientID, 0, 30, 15, []net.UDPAddr{serverAddr}, userData, privateKey)
	require.NoError(t, err)
	private, err := token.Open(privateKey, 0)
	require.NoError(t, err)
	return token, private
}

// newConnectedPair drives a real handshake to completion and returns a
// client Endpoint and server Hub with exactly one established session,
// matched with the server's peer address.
func newConnectedPair(t *testing.T, chanCfg []channel.Config) (*Endpoint, *Hub, net.UDPAddr) {
	t.Helper()
	privateKey, err := netcode.GenerateKey()
	require.NoError(t, err)
	challengeKey, err := netcode.GenerateKey()
	require.NoError(t, err)

	serverAddr := net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 41000}
	token, private := mintToken(t, privateKey, 42, serverAddr)

	client := netcode.NewClient(testProtocolID, token, private, 250*time.Millisecond, 0)
	server := netcode.NewServer(testProtocolID, privateKey, challengeKey, 16, 250*time.Millisecond, 0)

	ep := NewClientEndpoint(client, Config{Channels: chanCfg})
	hub := NewHub(server, Config{Channels: chanCfg})

	var peerAddr net.UDPAddr
	for i := 0; i < 20 && !client.Connected(); i++ {
		ep.AdvanceTime(50 * time.Millisecond)
		hub.AdvanceTime(50 * time.Millisecond)

		for _, frame := range ep.PacketsToSend() {
			event, deny, isDeny, err := hub.ProcessIncoming(serverAddr, frame)
			if isDeny {
				_ = deny
				continue
			}
			require.NoError(t, err)
			if event.Kind == HubEventClientConnected {
				peerAddr = event.Addr
			}
		}
		for _, out := range hub.PacketsToSend() {
			if out.Addr.String() != serverAddr.String() {
				continue
			}
			require.NoError(t, ep.ProcessIncoming(out.Bytes))
		}
	}
	require.True(t, client.Connected())
	require.Equal(t, 1, hub.ActiveSessions())
	return ep, hub, peerAddr
}

func TestEndpointHandshakeThenEcho(t *testing.T) {
	cfg := []channel.Config{{ID: 0, Kind: channel.OrderedReliable, MaxMemoryBytes: 1 << 20, ResendTime: 100 * time.Millisecond}}
	ep, hub, peerAddr := newConnectedPair(t, cfg)

	require.NoError(t, ep.EnqueueMessage(0, []byte("ping")))

	var serverGotPing bool
	var clientGotPong bool

	for tick := 0; tick < 50 && !clientGotPong; tick++ {
		ep.AdvanceTime(20 * time.Millisecond)
		hub.AdvanceTime(20 * time.Millisecond)

		for _, frame := range ep.PacketsToSend() {
			_, _, _, err := hub.ProcessIncoming(peerAddr, frame)
			require.NoError(t, err)
		}
		if msg, ok := hub.DrainReceived(peerAddr, 0); ok {
			require.Equal(t, "ping", string(msg))
			serverGotPing = true
			ok, err := hub.EnqueueMessage(peerAddr, 0, []byte("pong"))
			require.True(t, ok)
			require.NoError(t, err)
		}

		for _, out := range hub.PacketsToSend() {
			if out.Addr.String() != peerAddr.String() {
				continue
			}
			require.NoError(t, ep.ProcessIncoming(out.Bytes))
		}
		if msg, ok := ep.DrainReceived(0); ok {
			require.Equal(t, "pong", string(msg))
			clientGotPong = true
		}
	}

	require.True(t, serverGotPing)
	require.True(t, clientGotPong)
}

func TestEndpointChannelOutOfMemoryDisconnectsSession(t *testing.T) {
	cfg := []channel.Config{{ID: 0, Kind: channel.UnorderedReliable, MaxMemoryBytes: 16, ResendTime: time.Second}}
	ep, _, _ := newConnectedPair(t, cfg)

	err := ep.EnqueueMessage(0, make([]byte, 64))
	require.Error(t, err)
	require.Equal(t, netcode.DisconnectChannelOutOfMemory, ep.DisconnectReason())
}

// TestReplayedPayloadFrameIsDropped re-injects a captured sealed payload
// frame after the legitimate copy was processed: the duplicate is rejected
// without disturbing the connected session.
func TestReplayedPayloadFrameIsDropped(t *testing.T) {
	cfg := []channel.Config{{ID: 0, Kind: channel.OrderedReliable, MaxMemoryBytes: 1 << 20, ResendTime: 100 * time.Millisecond}}
	ep, hub, peerAddr := newConnectedPair(t, cfg)

	require.NoError(t, ep.EnqueueMessage(0, []byte("secret")))
	ep.AdvanceTime(20 * time.Millisecond)
	hub.AdvanceTime(20 * time.Millisecond)

	frames := ep.PacketsToSend()
	require.NotEmpty(t, frames)
	captured := append([]byte(nil), frames[len(frames)-1]...)

	for _, frame := range frames {
		_, _, _, err := hub.ProcessIncoming(peerAddr, frame)
		require.NoError(t, err)
	}
	msg, ok := hub.DrainReceived(peerAddr, 0)
	require.True(t, ok)
	require.Equal(t, "secret", string(msg))

	// The attacker's replayed copy must be rejected, and the session must
	// survive untouched.
	_, _, _, err := hub.ProcessIncoming(peerAddr, captured)
	require.Error(t, err)
	require.Equal(t, 1, hub.ActiveSessions())
	_, ok = hub.DrainReceived(peerAddr, 0)
	require.False(t, ok)
	require.Equal(t, netcode.DisconnectNone, ep.DisconnectReason())
}
