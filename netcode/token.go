package netcode

import (
	"encoding/binary"
	"net"
)

// addrType tags how a server address is encoded on the wire.
type addrType uint8

const (
	addrNone addrType = iota
	addrIPv4
	addrIPv6
)

// ConnectToken is the credential a client presents to a server.
// Of the private section's contents, only the timeout has a plaintext
// copy here (ConnectTimeoutSeconds). The client id, server list, keys
// and user data have no plaintext fields on ConnectToken; they exist only
// inside the sealed PrivateData and are read through Open.
type ConnectToken struct {
	ProtocolID            uint64
	CreateTimestamp       int64
	ExpireTimestamp       int64
	ConnectTimeoutSeconds int32
	ExtendedNonce         [ExtendedNonceSize]byte

	// PrivateData is the sealed private section: ciphertext of
	// PrivateTokenData, zero-padded to PrivateDataSize before sealing.
	PrivateData []byte
}

// PrivateTokenData is the plaintext sealed inside ConnectToken.PrivateData.
// Field order and widths are fixed for wire interoperability. It is
// exported so a Hub/Endpoint caller can pass the result of Open directly to
// NewClient/NewServer without reaching into unexported netcode internals.
type PrivateTokenData struct {
	ClientID          uint64
	TimeoutSeconds    int32
	ServerAddresses   []net.UDPAddr
	ClientToServerKey Key
	ServerToClientKey Key
	UserData          [UserDataSize]byte
}

// marshal encodes a PrivateTokenData as the fixed wire layout:
// client_id:u64, timeout:i32, num_addrs:u32, [addr...], keys, user_data.
// The caller zero-pads the result to PrivateDataSize before sealing.
func (p *PrivateTokenData) marshal() []byte {
	buf := make([]byte, 0, PrivateDataSize)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], p.ClientID)
	buf = append(buf, tmp8[:]...)

	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(p.TimeoutSeconds))
	buf = append(buf, tmp4[:]...)

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(p.ServerAddresses)))
	buf = append(buf, tmp4[:]...)

	for _, addr := range p.ServerAddresses {
		buf = append(buf, marshalAddr(addr)...)
	}

	buf = append(buf, p.ClientToServerKey[:]...)
	buf = append(buf, p.ServerToClientKey[:]...)
	buf = append(buf, p.UserData[:]...)
	return buf
}

// unmarshalPrivateTokenData decodes the plaintext layout written by
// marshal. It does not validate PrivateDataSize padding; callers strip
// padding according to num_addrs before calling, or simply pass the full
// padded buffer since trailing zero bytes are never consulted once the
// fixed-width fields have all been read.
func unmarshalPrivateTokenData(data []byte) (*PrivateTokenData, error) {
	if len(data) < 8+4+4 {
		return nil, wireErrorf("token: private data truncated")
	}
	p := &PrivateTokenData{}
	p.ClientID = binary.LittleEndian.Uint64(data[0:8])
	p.TimeoutSeconds = int32(binary.LittleEndian.Uint32(data[8:12]))
	numAddrs := binary.LittleEndian.Uint32(data[12:16])
	if numAddrs > MaxServerAddresses {
		return nil, wireErrorf("token: num_addrs %d exceeds max %d", numAddrs, MaxServerAddresses)
	}
	off := 16
	addrs := make([]net.UDPAddr, 0, numAddrs)
	for i := uint32(0); i < numAddrs; i++ {
		addr, n, err := unmarshalAddr(data[off:])
		if err != nil {
			return nil, err
		}
		if addr != nil {
			addrs = append(addrs, *addr)
		}
		off += n
	}
	p.ServerAddresses = addrs

	if len(data[off:]) < KeySize*2+UserDataSize {
		return nil, wireErrorf("token: private data truncated before keys")
	}
	copy(p.ClientToServerKey[:], data[off:off+KeySize])
	off += KeySize
	copy(p.ServerToClientKey[:], data[off:off+KeySize])
	off += KeySize
	copy(p.UserData[:], data[off:off+UserDataSize])
	return p, nil
}

// marshalAddr encodes one server address as {type:u8, octets, port:u16}.
// An addr with a nil IP (the zero value) encodes as addrNone, so only as
// many real addresses as were supplied are written.
func marshalAddr(addr net.UDPAddr) []byte {
	if addr.IP == nil {
		return []byte{byte(addrNone)}
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		buf := make([]byte, 0, 1+4+2)
		buf = append(buf, byte(addrIPv4))
		buf = append(buf, ip4...)
		var portBuf [2]byte
		binary.LittleEndian.PutUint16(portBuf[:], uint16(addr.Port))
		return append(buf, portBuf[:]...)
	}
	ip6 := addr.IP.To16()
	buf := make([]byte, 0, 1+16+2)
	buf = append(buf, byte(addrIPv6))
	buf = append(buf, ip6...)
	var portBuf [2]byte
	binary.LittleEndian.PutUint16(portBuf[:], uint16(addr.Port))
	return append(buf, portBuf[:]...)
}

// unmarshalAddr decodes one server address entry, returning the number of
// bytes consumed. An addrNone entry returns a nil addr, treated as a
// padding/terminator when fewer than the declared count were written.
func unmarshalAddr(data []byte) (*net.UDPAddr, int, error) {
	if len(data) < 1 {
		return nil, 0, wireErrorf("token: address truncated")
	}
	switch addrType(data[0]) {
	case addrNone:
		return nil, 1, nil
	case addrIPv4:
		if len(data) < 1+4+2 {
			return nil, 0, wireErrorf("token: ipv4 address truncated")
		}
		ip := make(net.IP, 4)
		copy(ip, data[1:5])
		port := binary.LittleEndian.Uint16(data[5:7])
		return &net.UDPAddr{IP: ip, Port: int(port)}, 1 + 4 + 2, nil
	case addrIPv6:
		if len(data) < 1+16+2 {
			return nil, 0, wireErrorf("token: ipv6 address truncated")
		}
		ip := make(net.IP, 16)
		copy(ip, data[1:17])
		port := binary.LittleEndian.Uint16(data[17:19])
		return &net.UDPAddr{IP: ip, Port: int(port)}, 1 + 16 + 2, nil
	default:
		return nil, 0, wireErrorf("token: unknown address type %d", data[0])
	}
}

// GenerateConnectToken mints a fresh ConnectToken for clientID, sealing the
// private section with privateKey (the long-lived key shared only by the
// token issuer and the server). In `unsecure` mode the caller passes
// ZeroKey (interoperability test mode only).
func GenerateConnectToken(
	protocolID uint64,
	clientID uint64,
	createTime int64,
	expireSeconds int64,
	connectTimeoutSeconds int32,
	serverAddresses []net.UDPAddr,
	userData [UserDataSize]byte,
	privateKey Key,
) (*ConnectToken, error) {
	clientToServerKey, err := randomKey()
	if err != nil {
		return nil, err
	}
	serverToClientKey, err := randomKey()
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	private := &PrivateTokenData{
		ClientID:          clientID,
		TimeoutSeconds:    connectTimeoutSeconds,
		ServerAddresses:   serverAddresses,
		ClientToServerKey: clientToServerKey,
		ServerToClientKey: serverToClientKey,
		UserData:          userData,
	}
	plaintext := private.marshal()
	if len(plaintext) > PrivateDataSize {
		return nil, wireErrorf("token: private data %d exceeds %d bytes", len(plaintext), PrivateDataSize)
	}
	padded := make([]byte, PrivateDataSize)
	copy(padded, plaintext)

	sealed, err := sealPrivate(privateKey, nonce, padded)
	if err != nil {
		return nil, err
	}

	return &ConnectToken{
		ProtocolID:            protocolID,
		CreateTimestamp:       createTime,
		ExpireTimestamp:       createTime + expireSeconds,
		ConnectTimeoutSeconds: connectTimeoutSeconds,
		ExtendedNonce:         nonce,
		PrivateData:           sealed,
	}, nil
}

// Open validates expiration and decrypts the token's private section with
// privateKey, returning the authoritative client id, timeout, server list,
// keys and user data. Callers must treat any error as an unauthenticated
// token and silently refuse the connection attempt.
func (t *ConnectToken) Open(privateKey Key, now int64) (*PrivateTokenData, error) {
	if now >= t.ExpireTimestamp {
		return nil, wireErrorf("token: expired")
	}
	padded, err := openPrivate(privateKey, t.ExtendedNonce, t.PrivateData)
	if err != nil {
		return nil, err
	}
	return unmarshalPrivateTokenData(padded)
}

// Expired reports whether the token's absolute expiration has passed as
// of now (unix seconds).
func (t *ConnectToken) Expired(now int64) bool {
	return now >= t.ExpireTimestamp
}
