package udp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustListen(t *testing.T) *Carrier {
	t.Helper()
	c, err := Listen(net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func localAddr(t *testing.T, c *Carrier) net.UDPAddr {
	t.Helper()
	addr, ok := c.conn.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	return *addr
}

func TestSendRecvRoundTrip(t *testing.T) {
	server := mustListen(t)
	client := mustListen(t)

	serverAddr := localAddr(t, server)
	require.NoError(t, client.Send(serverAddr, []byte("hello")))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr, bytes, ok := server.Recv(); ok {
			require.Equal(t, "hello", string(bytes))
			require.Equal(t, localAddr(t, client).Port, addr.Port)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for packet")
}

func TestRecvFalseWhenEmpty(t *testing.T) {
	c := mustListen(t)
	_, _, ok := c.Recv()
	require.False(t, ok)
}

func TestSendRejectsOversizeFrame(t *testing.T) {
	c := mustListen(t)
	oversized := make([]byte, 1401)
	err := c.Send(localAddr(t, c), oversized)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := mustListen(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
