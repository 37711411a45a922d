package netcode

import "encoding/binary"

// challengeTokenSize is the plaintext size of a challenge token: the
// client id (u64) followed by the token's user data.
const challengeTokenSize = 8 + UserDataSize

// challengeTokenData is the plaintext sealed inside a challenge packet:
// client id plus the token's opaque user payload, echoed back unchanged
// by a well-behaved client inside its response packet.
type challengeTokenData struct {
	ClientID uint64
	UserData [UserDataSize]byte
}

func (c *challengeTokenData) marshal() []byte {
	buf := make([]byte, 0, challengeTokenSize)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], c.ClientID)
	buf = append(buf, tmp[:]...)
	buf = append(buf, c.UserData[:]...)
	return buf
}

func unmarshalChallengeTokenData(data []byte) (*challengeTokenData, error) {
	if len(data) < challengeTokenSize {
		return nil, wireErrorf("challenge: token truncated")
	}
	c := &challengeTokenData{}
	c.ClientID = binary.LittleEndian.Uint64(data[0:8])
	copy(c.UserData[:], data[8:8+UserDataSize])
	return c, nil
}

// sealChallengeToken seals a challenge token with the server's private
// challenge key, keyed by the challenge sequence as nonce material (the
// challenge sequence is distinct from any session's packet sequence).
func sealChallengeToken(challengeKey Key, challengeSequence uint64, clientID uint64, userData [UserDataSize]byte) []byte {
	token := &challengeTokenData{ClientID: clientID, UserData: userData}
	plaintext := token.marshal()
	sealed, err := seal(challengeKey, challengeSequence, nil, plaintext)
	if err != nil {
		panic(err)
	}
	return sealed
}

// openChallengeToken reverses sealChallengeToken; failures are ordinary
// wire-level events (malformed or forged response), never panics.
func openChallengeToken(challengeKey Key, challengeSequence uint64, sealed []byte) (*challengeTokenData, error) {
	plaintext, err := open(challengeKey, challengeSequence, nil, sealed)
	if err != nil {
		return nil, err
	}
	return unmarshalChallengeTokenData(plaintext)
}
