package netcode

import (
	"net"
	"time"
)

// ClientState is the closed set of states the client-role state machine
// occupies.
type ClientState int32

const (
	ClientStateSendingRequest ClientState = iota
	ClientStateSendingResponse
	ClientStateConnected
	ClientStateDisconnected
)

func (s ClientState) String() string {
	switch s {
	case ClientStateSendingRequest:
		return "sending-request"
	case ClientStateSendingResponse:
		return "sending-response"
	case ClientStateConnected:
		return "connected"
	case ClientStateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Client drives the client-role SessionCore state machine against a
// ConnectToken. It owns no socket; PacketsToSend returns plaintext-sealed
// bytes for the caller's carrier to deliver to CurrentServerAddr.
type Client struct {
	protocolID uint64
	clientID   uint64
	token      *ConnectToken
	private    *PrivateTokenData

	serverIndex int

	state  ClientState
	reason DisconnectReason

	sequence uint64
	replay   *replayProtection

	startTime         int64
	now               time.Duration
	lastSendTime      time.Duration
	lastRecvTime      time.Duration
	sendRate          time.Duration
	heartbeatInterval time.Duration
	timeout           time.Duration

	challengeSealed []byte

	clientIndex uint32
	maxClients  uint32

	disconnectBurstRemaining int
}

// NewClient opens the token's private section locally (the client trusts
// its own token copy; only the server must authenticate it) and returns a
// Client in ClientStateSendingRequest bound to the first server address.
// startTime anchors the client's relative clock to the token issuer's
// timeline (unix seconds) so absolute token expiration stays meaningful.
func NewClient(protocolID uint64, token *ConnectToken, private *PrivateTokenData, heartbeatInterval time.Duration, startTime int64) *Client {
	return &Client{
		protocolID:        protocolID,
		clientID:          private.ClientID,
		token:             token,
		private:           private,
		serverIndex:       0,
		state:             ClientStateSendingRequest,
		replay:            newReplayProtection(),
		startTime:         startTime,
		sendRate:          DefaultSendRate * time.Millisecond,
		heartbeatInterval: heartbeatInterval,
		timeout:           time.Duration(private.TimeoutSeconds) * time.Second,
	}
}

func (c *Client) State() ClientState                 { return c.state }
func (c *Client) DisconnectReason() DisconnectReason { return c.reason }
func (c *Client) Connected() bool                    { return c.state == ClientStateConnected }
func (c *Client) ClientIndex() uint32                { return c.clientIndex }
func (c *Client) MaxClients() uint32                 { return c.maxClients }

// CurrentServerAddr returns the server address the client is currently
// targeting, or ok=false once the candidate list is exhausted.
func (c *Client) CurrentServerAddr() (net.UDPAddr, bool) {
	if c.serverIndex >= len(c.private.ServerAddresses) {
		return net.UDPAddr{}, false
	}
	return c.private.ServerAddresses[c.serverIndex], true
}

func (c *Client) setDisconnected(reason DisconnectReason) {
	if c.state == ClientStateDisconnected {
		return
	}
	c.state = ClientStateDisconnected
	c.reason = reason
	if reason == DisconnectLocalClose {
		c.disconnectBurstRemaining = DisconnectBurstCount
	}
}

// Disconnect initiates a voluntary local close; PacketsToSend will emit
// DisconnectBurstCount disconnect frames before going silent.
func (c *Client) Disconnect() {
	c.setDisconnected(DisconnectLocalClose)
}

// Fail forcibly ends the session with reason, used by the owning
// Endpoint to escalate a channel-fatal error: the error sets the
// session's disconnect reason and immediately transitions to
// disconnected.
func (c *Client) Fail(reason DisconnectReason) {
	c.setDisconnected(reason)
}

// SealPayload seals a ChannelCore plaintext payload for the carrier,
// bumping the session send sequence like any other outgoing frame.
// Returns nil if the client is not connected. Counts as outgoing traffic
// for heartbeat purposes: keep-alives only fill send gaps.
func (c *Client) SealPayload(plaintext []byte) []byte {
	if c.state != ClientStateConnected {
		return nil
	}
	c.lastSendTime = c.now
	return c.sealSession(PacketPayload, plaintext)
}

// AdvanceTime moves the client's clock forward, evaluating token
// expiration and the liveness timeout / server-list exhaustion.
func (c *Client) AdvanceTime(dt time.Duration) {
	if c.state == ClientStateDisconnected {
		return
	}
	c.now += dt

	if c.token.Expired(c.startTime + int64(c.now/time.Second)) {
		c.setDisconnected(DisconnectTokenExpired)
		return
	}

	if c.now-c.lastRecvTime > c.timeout {
		c.serverIndex++
		if c.serverIndex >= len(c.private.ServerAddresses) {
			c.setDisconnected(DisconnectTimedOut)
			return
		}
		c.state = ClientStateSendingRequest
		c.lastRecvTime = c.now
		c.lastSendTime = 0
		c.challengeSealed = nil
		// The next candidate's session sequences start over; carrying the
		// old high-water mark would reject its first packets as replays.
		c.replay = newReplayProtection()
	}
}

// PacketsToSend returns the plaintext+sealed handshake/liveness frames the
// client should hand to its carrier this tick.
func (c *Client) PacketsToSend() [][]byte {
	switch c.state {
	case ClientStateSendingRequest:
		if c.now-c.lastSendTime < c.sendRate {
			return nil
		}
		c.lastSendTime = c.now
		return [][]byte{c.buildConnectionRequest()}
	case ClientStateSendingResponse:
		if c.now-c.lastSendTime < c.sendRate {
			return nil
		}
		c.lastSendTime = c.now
		return [][]byte{c.buildResponse()}
	case ClientStateConnected:
		if c.now-c.lastSendTime >= c.heartbeatInterval {
			c.lastSendTime = c.now
			return [][]byte{c.sealSession(PacketKeepAlive, nil)}
		}
		return nil
	case ClientStateDisconnected:
		if c.reason != DisconnectLocalClose || c.disconnectBurstRemaining == 0 {
			return nil
		}
		pkts := make([][]byte, 0, c.disconnectBurstRemaining)
		for c.disconnectBurstRemaining > 0 {
			pkts = append(pkts, c.sealSession(PacketDisconnect, nil))
			c.disconnectBurstRemaining--
		}
		return pkts
	default:
		return nil
	}
}

// buildConnectionRequest assembles the plaintext connection-request frame:
// protocol id, token expiration, extended nonce, sealed private section.
// This frame is not AEAD-sealed at the packet layer (the private section
// is already sealed); it carries its own protocol tag only.
func (c *Client) buildConnectionRequest() []byte {
	body := make([]byte, 0, 8+8+ExtendedNonceSize+len(c.token.PrivateData))
	body = appendU64(body, c.protocolID)
	body = appendI64(body, c.token.ExpireTimestamp)
	body = append(body, c.token.ExtendedNonce[:]...)
	body = append(body, c.token.PrivateData...)
	return marshalFrame(PacketConnectionRequest, 0, body, c.protocolID)
}

// buildResponse echoes the stashed challenge body (challenge sequence plus
// the still-sealed challenge token) back to the server, sealed with the
// client's send key and send sequence.
func (c *Client) buildResponse() []byte {
	return c.sealSession(PacketResponse, c.challengeSealed)
}

// sealSession seals plaintext under the client's send key, bumping the
// send sequence, and frames it for the carrier.
func (c *Client) sealSession(pktType PacketType, plaintext []byte) []byte {
	seq := c.sequence
	c.sequence++
	sealed := sealPacket(c.private.ClientToServerKey, pktType, seq, c.protocolID, plaintext)
	return marshalFrame(pktType, seq, sealed, c.protocolID)
}

// ProcessIncoming validates, opens and dispatches one carrier frame.
// A non-nil payload return indicates a PacketPayload was received while
// connected; callers forward it to ChannelCore. Wire-level failures
// return a non-nil error but never mutate Client state.
func (c *Client) ProcessIncoming(data []byte) ([]byte, error) {
	if c.state == ClientStateDisconnected {
		return nil, nil
	}
	hdr, body, protocolID, err := unmarshalFrame(data)
	if err != nil {
		return nil, err
	}
	if protocolID != c.protocolID {
		return nil, wireErrorf("client: protocol id mismatch")
	}

	// Every server frame is a sealed session packet requiring replay
	// checking and decryption under the server->client key, including
	// challenge and denied (the challenge body additionally contains a
	// token sealed with the server's own challenge key, which the client
	// never holds; it only echoes that inner ciphertext back).
	if c.replay.alreadyReceived(hdr.Sequence) {
		return nil, wireErrorf("client: replay rejected seq=%d", hdr.Sequence)
	}
	plaintext, err := openPacket(c.private.ServerToClientKey, hdr.Type, hdr.Sequence, protocolID, body)
	if err != nil {
		return nil, err
	}
	c.replay.advance(hdr.Sequence)
	c.lastRecvTime = c.now

	switch hdr.Type {
	case PacketConnectionDenied:
		if c.state == ClientStateSendingRequest || c.state == ClientStateSendingResponse {
			c.setDisconnected(DisconnectDenied)
		}
		return nil, nil
	case PacketChallenge:
		if c.state != ClientStateSendingRequest {
			return nil, nil
		}
		c.challengeSealed = append([]byte(nil), plaintext...)
		c.state = ClientStateSendingResponse
		c.lastSendTime = 0
		return nil, nil
	case PacketKeepAlive:
		if c.state == ClientStateSendingResponse {
			if len(plaintext) >= 8 {
				c.clientIndex = decodeU32(plaintext[0:4])
				c.maxClients = decodeU32(plaintext[4:8])
			}
			c.state = ClientStateConnected
			c.lastSendTime = c.now
		}
		return nil, nil
	case PacketPayload:
		if c.state != ClientStateConnected {
			return nil, nil
		}
		return plaintext, nil
	case PacketDisconnect:
		if c.state == ClientStateConnected {
			c.setDisconnected(DisconnectRemoteClose)
		}
		return nil, nil
	default:
		return nil, wireErrorf("client: unexpected packet type %s in state %s", hdr.Type, c.state)
	}
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 0; i < 8; i++ {
		tmp[i] = byte(v >> (8 * i))
	}
	return append(buf, tmp[:]...)
}

func appendI64(buf []byte, v int64) []byte {
	return appendU64(buf, uint64(v))
}

func decodeU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
