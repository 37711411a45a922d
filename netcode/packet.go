package netcode

import (
	"encoding/binary"
	"fmt"
)

// ====================================================================
// Wire framing for post-handshake packets
// ====================================================================
//
// Every frame carries a one-byte type tag, a variable-length little-endian
// sequence (used as nonce material), the type-specific body, a 16-byte
// AEAD authenticator and an 8-byte protocol tag. Framing is bit-exact so
// independent implementations interoperate: type(1) | seq_bytes(1) |
// sequence(LE, seq_bytes) | body | auth_tag(16) | protocol_tag(8).
//
// ====================================================================

// PacketType enumerates the carrier frames exchanged after a client begins
// connecting. This is a closed set; values are stable across the wire.
type PacketType uint8

const (
	PacketConnectionRequest PacketType = iota
	PacketConnectionDenied
	PacketChallenge
	PacketResponse
	PacketKeepAlive
	PacketPayload
	PacketDisconnect
)

func (t PacketType) String() string {
	switch t {
	case PacketConnectionRequest:
		return "connection-request"
	case PacketConnectionDenied:
		return "connection-denied"
	case PacketChallenge:
		return "challenge"
	case PacketResponse:
		return "response"
	case PacketKeepAlive:
		return "keep-alive"
	case PacketPayload:
		return "payload"
	case PacketDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("packet-type(%d)", uint8(t))
	}
}

const (
	// VersionInfo is the 13-byte ASCII version tag embedded in every AEAD
	// additional-authenticated-data string.
	VersionInfo = "NETCODE 1.02\x00"

	// AuthTagSize is the size in bytes of the Poly1305-class AEAD tag.
	AuthTagSize = 16

	// ProtocolTagSize is the size in bytes of the trailing protocol-id tag.
	ProtocolTagSize = 8

	// ReplayWindowSize is the number of recently-accepted sequences a
	// Session remembers for replay rejection.
	ReplayWindowSize = 256

	// DisconnectBurstCount is how many times a disconnect frame is sent
	// back-to-back on voluntary local close.
	DisconnectBurstCount = 10

	// MaxServerAddresses bounds a ConnectToken's candidate server list.
	MaxServerAddresses = 32

	// MaxPacketBytes is the maximum carrier frame size.
	MaxPacketBytes = 1400

	// UserDataSize is the fixed size of a ConnectToken's opaque user payload.
	UserDataSize = 256

	// PrivateDataSize is the zero-padded size of the token's private section
	// prior to sealing.
	PrivateDataSize = 1024

	// ExtendedNonceSize is the size of the nonce sealing a token's private
	// section (192 bits).
	ExtendedNonceSize = 24

	// KeySize is the size of a symmetric client<->server key.
	KeySize = 32

	// DefaultSendRate is how often the client resends its current
	// handshake packet while not yet connected.
	DefaultSendRate = 250 // milliseconds, see netcode.Client
)

// sequenceByteLen returns the minimum number of little-endian bytes needed
// to represent seq (1..8), matching the packet framing's variable-width
// sequence field.
func sequenceByteLen(seq uint64) uint8 {
	n := uint8(1)
	for v := seq >> 8; v != 0; v >>= 8 {
		n++
	}
	return n
}

// encodeSequence appends seq as n little-endian bytes to buf.
func encodeSequence(buf []byte, seq uint64, n uint8) []byte {
	for i := uint8(0); i < n; i++ {
		buf = append(buf, byte(seq>>(8*i)))
	}
	return buf
}

// decodeSequence reads an n-byte little-endian sequence from buf.
func decodeSequence(buf []byte, n uint8) (uint64, error) {
	if uint8(len(buf)) < n {
		return 0, wireErrorf("sequence truncated: need %d bytes, have %d", n, len(buf))
	}
	var seq uint64
	for i := uint8(0); i < n; i++ {
		seq |= uint64(buf[i]) << (8 * i)
	}
	return seq, nil
}

// aad builds the additional-authenticated-data for a sealed packet:
// version string || protocol id (LE u64) || packet type byte.
func aad(protocolID uint64, pktType PacketType) []byte {
	buf := make([]byte, 0, len(VersionInfo)+8+1)
	buf = append(buf, VersionInfo...)
	var idBuf [8]byte
	binary.LittleEndian.PutUint64(idBuf[:], protocolID)
	buf = append(buf, idBuf[:]...)
	buf = append(buf, byte(pktType))
	return buf
}

// nonce96 builds the 96-bit AEAD nonce: 32 zero bits || sequence (LE, 64-bit).
func nonce96(seq uint64) []byte {
	var n [12]byte
	binary.LittleEndian.PutUint64(n[4:], seq)
	return n[:]
}

// header is the plaintext framing preceding a sealed packet body.
type header struct {
	Type     PacketType
	Sequence uint64
}

// marshalFrame assembles a full wire frame from a sealed body: type, the
// sequence in its minimal little-endian width, the ciphertext (which
// already contains the AEAD tag appended by Seal), and the protocol tag.
func marshalFrame(pktType PacketType, seq uint64, sealed []byte, protocolID uint64) []byte {
	seqLen := sequenceByteLen(seq)
	out := make([]byte, 0, 1+1+int(seqLen)+len(sealed)+ProtocolTagSize)
	out = append(out, byte(pktType))
	out = append(out, seqLen)
	out = encodeSequence(out, seq, seqLen)
	out = append(out, sealed...)
	var tagBuf [ProtocolTagSize]byte
	binary.LittleEndian.PutUint64(tagBuf[:], protocolID)
	out = append(out, tagBuf[:]...)
	return out
}

// unmarshalFrame splits a wire frame into its header, sealed body, and the
// protocol tag carried for version/app disambiguation. It performs no
// decryption and no protocol-id validation; callers check those.
func unmarshalFrame(data []byte) (header, []byte, uint64, error) {
	if len(data) < 2 {
		return header{}, nil, 0, wireErrorf("frame too short: %d bytes", len(data))
	}
	pktType := PacketType(data[0])
	seqLen := data[1]
	if seqLen == 0 || seqLen > 8 {
		return header{}, nil, 0, wireErrorf("invalid sequence length %d", seqLen)
	}
	rest := data[2:]
	seq, err := decodeSequence(rest, seqLen)
	if err != nil {
		return header{}, nil, 0, err
	}
	rest = rest[seqLen:]
	if len(rest) < ProtocolTagSize {
		return header{}, nil, 0, wireErrorf("frame missing protocol tag")
	}
	body := rest[:len(rest)-ProtocolTagSize]
	tagBuf := rest[len(rest)-ProtocolTagSize:]
	protocolID := binary.LittleEndian.Uint64(tagBuf)
	return header{Type: pktType, Sequence: seq}, body, protocolID, nil
}
