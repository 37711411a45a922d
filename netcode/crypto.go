package netcode

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
)

// Key is a 32-byte symmetric ChaCha20-Poly1305 key. Every key arrives
// pre-split inside a ConnectToken; this package never negotiates key
// material.
type Key [KeySize]byte

// ZeroKey is the well-known all-zero key used by the "unsecure"
// authentication mode, for interoperability testing only.
var ZeroKey Key

// seal encrypts plaintext into a newly allocated buffer, returning ciphertext||tag. aad
// authenticates but is not encrypted. seq feeds the nonce construction
// (32 zero bits || little-endian sequence, per the sealing contract).
func seal(key Key, seq uint64, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, wireErrorf("crypto: new aead: %v", err)
	}
	nonce := nonce96(seq)
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// open authenticates and decrypts a sealed buffer. Any failure (bad tag,
// bad key, truncated ciphertext) returns a wireError; callers must treat
// this as a silent drop, never a state change.
func open(key Key, seq uint64, aad, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, wireErrorf("crypto: new aead: %v", err)
	}
	if len(sealed) < aead.Overhead() {
		return nil, wireErrorf("crypto: sealed buffer too short: %d bytes", len(sealed))
	}
	nonce := nonce96(seq)
	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, wireErrorf("crypto: open failed: %v", err)
	}
	return plaintext, nil
}

// sealPacket is the packet-layer convenience wrapping seal with the
// standard AAD (version || protocol id || packet type).
func sealPacket(key Key, pktType PacketType, seq uint64, protocolID uint64, plaintext []byte) []byte {
	sealed, err := seal(key, seq, aad(protocolID, pktType), plaintext)
	if err != nil {
		// key/aead construction never fails for a fixed-size key; plaintext
		// sealing cannot fail. A panic here would indicate a programming
		// error, not an adversarial input, so surface it loudly.
		panic(err)
	}
	return sealed
}

// openPacket is the packet-layer convenience wrapping open with the
// standard AAD. Failures are ordinary wire-level events, never panics.
func openPacket(key Key, pktType PacketType, seq uint64, protocolID uint64, sealed []byte) ([]byte, error) {
	return open(key, seq, aad(protocolID, pktType), sealed)
}

// sealPrivate seals a ConnectToken's private section using the extended
// 192-bit nonce carried alongside the token
func sealPrivate(key Key, extendedNonce [ExtendedNonceSize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, wireErrorf("crypto: new xaead: %v", err)
	}
	return aead.Seal(nil, extendedNonce[:], plaintext, nil), nil
}

// openPrivate opens a ConnectToken's private section.
func openPrivate(key Key, extendedNonce [ExtendedNonceSize]byte, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, wireErrorf("crypto: new xaead: %v", err)
	}
	plaintext, err := aead.Open(nil, extendedNonce[:], sealed, nil)
	if err != nil {
		return nil, wireErrorf("crypto: open private section failed: %v", err)
	}
	return plaintext, nil
}

// randomNonce fills a fresh extended nonce from the system CSPRNG.
func randomNonce() ([ExtendedNonceSize]byte, error) {
	var n [ExtendedNonceSize]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, wireErrorf("crypto: random nonce: %v", err)
	}
	return n, nil
}

// randomKey generates a fresh symmetric key from the system CSPRNG, used
// by token issuers to mint per-connection client<->server keys.
func randomKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, wireErrorf("crypto: random key: %v", err)
	}
	return k, nil
}

// GenerateKey returns a fresh 32-byte key from the system CSPRNG, exported
// for callers that need to mint a server's long-lived private key or
// challenge key (cmd/netcode-server mints its challenge key with it).
func GenerateKey() (Key, error) {
	return randomKey()
}
