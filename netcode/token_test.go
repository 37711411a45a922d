package netcode

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleServerAddrs(t *testing.T) []net.UDPAddr {
	t.Helper()
	return []net.UDPAddr{
		{IP: net.ParseIP("203.0.113.10").To4(), Port: 40000},
		{IP: net.ParseIP("2001:db8::1"), Port: 40001},
	}
}

func TestConnectTokenRoundTrip(t *testing.T) {
	privateKey, err := randomKey()
	require.NoError(t, err)

	var userData [UserDataSize]byte
	copy(userData[:], []byte("hello-user-data"))

	token, err := GenerateConnectToken(0xC0FFEE, 42, 1000, 30, 15, sampleServerAddrs(t), userData, privateKey)
	require.NoError(t, err)
	require.False(t, token.Expired(1000))
	require.True(t, token.Expired(1031))

	private, err := token.Open(privateKey, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(42), private.ClientID)
	require.Equal(t, int32(15), private.TimeoutSeconds)
	require.Len(t, private.ServerAddresses, 2)
	require.Equal(t, userData, private.UserData)
}

func TestConnectTokenRejectsWrongKey(t *testing.T) {
	privateKey, err := randomKey()
	require.NoError(t, err)
	wrongKey, err := randomKey()
	require.NoError(t, err)

	var userData [UserDataSize]byte
	token, err := GenerateConnectToken(1, 1, 0, 60, 10, sampleServerAddrs(t), userData, privateKey)
	require.NoError(t, err)

	_, err = token.Open(wrongKey, 0)
	require.Error(t, err)
}

func TestConnectTokenExpiredIsRejectedEvenWithCorrectKey(t *testing.T) {
	privateKey, err := randomKey()
	require.NoError(t, err)
	var userData [UserDataSize]byte
	token, err := GenerateConnectToken(1, 1, 1000, 1, 10, sampleServerAddrs(t), userData, privateKey)
	require.NoError(t, err)

	_, err = token.Open(privateKey, 1002)
	require.Error(t, err)
}

func TestMarshalUnmarshalAddr(t *testing.T) {
	v4 := net.UDPAddr{IP: net.ParseIP("10.0.0.5").To4(), Port: 1234}
	buf := marshalAddr(v4)
	decoded, n, err := unmarshalAddr(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, v4.Port, decoded.Port)
	require.True(t, decoded.IP.Equal(v4.IP))

	v6 := net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 5555}
	buf = marshalAddr(v6)
	decoded, n, err = unmarshalAddr(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.True(t, decoded.IP.Equal(v6.IP))
}

func TestUnmarshalAddrNoneEntry(t *testing.T) {
	decoded, n, err := unmarshalAddr([]byte{0, 0xFF})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Nil(t, decoded)
}
