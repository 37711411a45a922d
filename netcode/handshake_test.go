package netcode

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testProtocolID = 0x1122334455

func mintTestToken(t *testing.T, privateKey Key, clientID uint64, serverAddr net.UDPAddr, expireSeconds int64, timeoutSeconds int32) (*ConnectToken, *PrivateTokenData) {
	t.Helper()
	var userData [UserDataSize]byte
	token, err := GenerateConnectToken(testProtocolID, clientID, 0, expireSeconds, timeoutSeconds, []net.UDPAddr{serverAddr}, userData, privateKey)
	require.NoError(t, err)
	private, err := token.Open(privateKey, 0)
	require.NoError(t, err)
	return token, private
}

// pump drives one simulated network tick between a single client and
// server: client frames are delivered to the server and vice versa. It
// returns the server events observed this tick.
func pump(t *testing.T, client *Client, server *Server, serverAddr net.UDPAddr, dt time.Duration) []ServerEvent {
	t.Helper()
	client.AdvanceTime(dt)
	var events []ServerEvent
	events = append(events, server.AdvanceTime(dt)...)

	for _, frame := range client.PacketsToSend() {
		event, _, err := server.ProcessIncoming(serverAddr, frame)
		if err != nil {
			if _, _, ok := DeniedFrame(err); ok {
				continue
			}
			continue
		}
		if event.Kind != ServerEventNone {
			events = append(events, event)
		}
	}

	clientAddr := net.UDPAddr{IP: net.ParseIP("198.51.100.1"), Port: 9000}
	for _, out := range server.PacketsToSend() {
		if out.Addr.String() != serverAddr.String() {
			continue
		}
		_, _ = client.ProcessIncoming(out.Bytes)
	}
	_ = clientAddr
	return events
}

func TestHandshakeHappyPath(t *testing.T) {
	privateKey, err := randomKey()
	require.NoError(t, err)
	challengeKey, err := randomKey()
	require.NoError(t, err)

	serverAddr := net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000}
	clientAddr := net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 50000}
	_ = clientAddr

	token, private := mintTestToken(t, privateKey, 7, serverAddr, 30, 15)
	client := NewClient(testProtocolID, token, private, 1*time.Second, 0)
	server := NewServer(testProtocolID, privateKey, challengeKey, 16, 1*time.Second, 0)

	var connectedEvents int
	for i := 0; i < 10 && !client.Connected(); i++ {
		for _, e := range pump(t, client, server, serverAddr, 50*time.Millisecond) {
			if e.Kind == ServerEventClientConnected {
				connectedEvents++
			}
		}
	}

	require.True(t, client.Connected())
	require.Equal(t, 1, connectedEvents, "exactly one ClientConnected event expected")
	require.Equal(t, 1, server.ActiveSessions())
}

func TestHandshakeRejectsWhenServerFull(t *testing.T) {
	privateKey, err := randomKey()
	require.NoError(t, err)
	challengeKey, err := randomKey()
	require.NoError(t, err)

	serverAddr := net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40001}
	server := NewServer(testProtocolID, privateKey, challengeKey, 0, 1*time.Second, 0)

	token, private := mintTestToken(t, privateKey, 99, serverAddr, 30, 15)
	client := NewClient(testProtocolID, token, private, 1*time.Second, 0)

	for i := 0; i < 5 && client.State() != ClientStateDisconnected; i++ {
		pump(t, client, server, serverAddr, 300*time.Millisecond)
		for _, frame := range client.PacketsToSend() {
			_, _, err := server.ProcessIncoming(serverAddr, frame)
			if addr, denyFrame, ok := DeniedFrame(err); ok {
				_, _ = client.ProcessIncoming(denyFrame)
				_ = addr
			}
		}
	}

	require.Equal(t, 0, server.ActiveSessions())
}

func TestHandshakeExpiredToken(t *testing.T) {
	privateKey, err := randomKey()
	require.NoError(t, err)
	challengeKey, err := randomKey()
	require.NoError(t, err)

	serverAddr := net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40002}
	server := NewServer(testProtocolID, privateKey, challengeKey, 16, 1*time.Second, 0)
	token, private := mintTestToken(t, privateKey, 5, serverAddr, 1, 15)
	client := NewClient(testProtocolID, token, private, 1*time.Second, 0)

	client.AdvanceTime(2 * time.Second)
	require.Equal(t, ClientStateDisconnected, client.State())
	require.Equal(t, DisconnectTokenExpired, client.DisconnectReason())
	require.Equal(t, 0, server.ActiveSessions())
}

func TestDisconnectBurstSendsExactlyTen(t *testing.T) {
	privateKey, err := randomKey()
	require.NoError(t, err)
	challengeKey, err := randomKey()
	require.NoError(t, err)
	serverAddr := net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40003}

	token, private := mintTestToken(t, privateKey, 3, serverAddr, 30, 15)
	client := NewClient(testProtocolID, token, private, 1*time.Second, 0)
	server := NewServer(testProtocolID, privateKey, challengeKey, 16, 1*time.Second, 0)

	for i := 0; i < 10 && !client.Connected(); i++ {
		pump(t, client, server, serverAddr, 50*time.Millisecond)
	}
	require.True(t, client.Connected())

	client.Disconnect()
	total := 0
	for i := 0; i < 5; i++ {
		total += len(client.PacketsToSend())
	}
	require.Equal(t, DisconnectBurstCount, total)
	require.Empty(t, client.PacketsToSend())
}
