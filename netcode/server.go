package netcode

import (
	"net"
	"time"
)

// ServerClientState is the closed set of per-client states on the server
// side of the handshake.
type ServerClientState int32

const (
	ServerClientPendingResponse ServerClientState = iota
	ServerClientConnected
	ServerClientDisconnected
)

// ServerEventKind reports the handshake-visible transitions a caller must
// observe: exactly one ClientConnected per successful handshake, and a
// ClientDisconnected whenever a session ends.
type ServerEventKind int

const (
	ServerEventNone ServerEventKind = iota
	ServerEventClientConnected
	ServerEventClientDisconnected
)

// ServerEvent is returned from ProcessIncoming alongside any forwarded
// payload, reporting whether this call caused a handshake transition.
type ServerEvent struct {
	Kind     ServerEventKind
	ClientID uint64
	Addr     net.UDPAddr
	Reason   DisconnectReason
}

// OutPacket pairs a destination address with a sealed frame, the unit
// PacketsToSend emits for a multi-client Server.
type OutPacket struct {
	Addr  net.UDPAddr
	Bytes []byte
}

type serverSession struct {
	addr        net.UDPAddr
	clientID    uint64
	clientIndex uint32

	state  ServerClientState
	reason DisconnectReason

	clientToServerKey Key
	serverToClientKey Key

	sequence uint64
	replay   *replayProtection

	timeout      time.Duration
	lastRecvTime time.Duration
	lastSendTime time.Duration

	challengeSequence uint64
	challengeSealed   []byte

	disconnectBurstRemaining int
}

// Server drives the server-role SessionCore state machine for every
// connected client, enforcing protocol id, token validity and the
// max_clients cap. It owns no socket; PacketsToSend/ProcessIncoming move
// bytes only.
type Server struct {
	protocolID   uint64
	privateKey   Key
	challengeKey Key
	maxClients   uint32
	heartbeat    time.Duration
	sendRate     time.Duration

	startTime int64
	now       time.Duration

	// boundAddr, when set, must appear in a token's server list for the
	// token to be honored. Left nil for in-process harnesses that have no
	// public address to compare against.
	boundAddr *net.UDPAddr

	byAddr     map[string]*serverSession
	byClientID map[uint64]*serverSession

	nextClientIndex       uint32
	nextChallengeSequence uint64
}

// NewServer constructs a Server bound to protocolID, sealing challenge
// tokens with challengeKey and authenticating connect tokens' private
// sections with privateKey. startTime anchors the server's relative clock
// to the token issuer's timeline (unix seconds) so absolute token
// expiration stays meaningful across processes.
func NewServer(protocolID uint64, privateKey, challengeKey Key, maxClients uint32, heartbeat time.Duration, startTime int64) *Server {
	return &Server{
		protocolID:   protocolID,
		privateKey:   privateKey,
		challengeKey: challengeKey,
		maxClients:   maxClients,
		heartbeat:    heartbeat,
		sendRate:     DefaultSendRate * time.Millisecond,
		startTime:    startTime,
		byAddr:       make(map[string]*serverSession),
		byClientID:   make(map[uint64]*serverSession),
	}
}

func (s *Server) ActiveSessions() int { return len(s.byAddr) }

// SetAddress declares the server's public address. Once set, connection
// requests whose token server list does not include it are refused.
func (s *Server) SetAddress(addr net.UDPAddr) {
	s.boundAddr = &addr
}

// AdvanceTime moves the server's clock forward and times out any session
// that has not been heard from within its negotiated timeout.
func (s *Server) AdvanceTime(dt time.Duration) []ServerEvent {
	s.now += dt
	var events []ServerEvent
	for key, sess := range s.byAddr {
		if sess.state == ServerClientDisconnected {
			if sess.disconnectBurstRemaining == 0 {
				delete(s.byAddr, key)
				delete(s.byClientID, sess.clientID)
			}
			continue
		}
		if s.now-sess.lastRecvTime > sess.timeout {
			if ev := s.disconnectSession(sess, DisconnectTimedOut); ev.Kind != ServerEventNone {
				events = append(events, ev)
			}
		}
	}
	return events
}

// disconnectSession ends sess with reason. The disconnect burst is
// reserved for voluntary local close; every other reason leaves the peer
// to discover the loss via its own timeout.
func (s *Server) disconnectSession(sess *serverSession, reason DisconnectReason) ServerEvent {
	wasConnected := sess.state == ServerClientConnected
	sess.state = ServerClientDisconnected
	sess.reason = reason
	if reason == DisconnectLocalClose {
		sess.disconnectBurstRemaining = DisconnectBurstCount
	}
	if wasConnected {
		return ServerEvent{Kind: ServerEventClientDisconnected, ClientID: sess.clientID, Addr: sess.addr, Reason: reason}
	}
	return ServerEvent{}
}

// ProcessIncoming validates, opens, and dispatches one carrier frame from
// addr. A non-nil payload indicates a PacketPayload forwarded from a
// connected client. Wire-level failures return a non-nil error without
// mutating any session.
func (s *Server) ProcessIncoming(addr net.UDPAddr, data []byte) (ServerEvent, []byte, error) {
	hdr, body, protocolID, err := unmarshalFrame(data)
	if err != nil {
		return ServerEvent{}, nil, err
	}
	if protocolID != s.protocolID {
		return ServerEvent{}, nil, wireErrorf("server: protocol id mismatch")
	}

	if hdr.Type == PacketConnectionRequest {
		return s.handleConnectionRequest(addr, body)
	}

	sess, ok := s.byAddr[addr.String()]
	if !ok || sess.state == ServerClientDisconnected {
		return ServerEvent{}, nil, wireErrorf("server: frame from unknown session %s", addr.String())
	}

	if sess.replay.alreadyReceived(hdr.Sequence) {
		return ServerEvent{}, nil, wireErrorf("server: replay rejected seq=%d", hdr.Sequence)
	}

	switch hdr.Type {
	case PacketResponse:
		plaintext, err := openPacket(sess.clientToServerKey, hdr.Type, hdr.Sequence, protocolID, body)
		if err != nil {
			return ServerEvent{}, nil, err
		}
		sess.replay.advance(hdr.Sequence)
		sess.lastRecvTime = s.now
		if sess.state == ServerClientConnected {
			// Response retransmit: the keep-alive that latches the client
			// into connected was lost. Force another out on the next tick.
			sess.lastSendTime = s.now - s.heartbeat
			return ServerEvent{}, nil, nil
		}
		if sess.state != ServerClientPendingResponse {
			return ServerEvent{}, nil, nil
		}
		if len(plaintext) < 8 {
			return ServerEvent{}, nil, wireErrorf("server: response truncated")
		}
		challengeSeq := decodeU64(plaintext[0:8])
		if challengeSeq != sess.challengeSequence {
			return ServerEvent{}, nil, wireErrorf("server: response challenge sequence mismatch")
		}
		token, err := openChallengeToken(s.challengeKey, challengeSeq, plaintext[8:])
		if err != nil {
			return ServerEvent{}, nil, err
		}
		if token.ClientID != sess.clientID {
			return ServerEvent{}, nil, wireErrorf("server: response client id mismatch")
		}
		sess.state = ServerClientConnected
		// The connecting keep-alive goes out immediately, not a full
		// heartbeat from now.
		sess.lastSendTime = s.now - s.heartbeat
		return ServerEvent{Kind: ServerEventClientConnected, ClientID: sess.clientID, Addr: sess.addr}, nil, nil

	case PacketPayload:
		plaintext, err := openPacket(sess.clientToServerKey, hdr.Type, hdr.Sequence, protocolID, body)
		if err != nil {
			return ServerEvent{}, nil, err
		}
		sess.replay.advance(hdr.Sequence)
		sess.lastRecvTime = s.now
		if sess.state != ServerClientConnected {
			return ServerEvent{}, nil, nil
		}
		return ServerEvent{}, plaintext, nil

	case PacketKeepAlive:
		if _, err := openPacket(sess.clientToServerKey, hdr.Type, hdr.Sequence, protocolID, body); err != nil {
			return ServerEvent{}, nil, err
		}
		sess.replay.advance(hdr.Sequence)
		sess.lastRecvTime = s.now
		return ServerEvent{}, nil, nil

	case PacketDisconnect:
		if _, err := openPacket(sess.clientToServerKey, hdr.Type, hdr.Sequence, protocolID, body); err != nil {
			return ServerEvent{}, nil, err
		}
		sess.replay.advance(hdr.Sequence)
		sess.lastRecvTime = s.now
		if sess.state == ServerClientConnected {
			sess.state = ServerClientDisconnected
			sess.reason = DisconnectRemoteClose
			return ServerEvent{Kind: ServerEventClientDisconnected, ClientID: sess.clientID, Addr: sess.addr, Reason: DisconnectRemoteClose}, nil, nil
		}
		return ServerEvent{}, nil, nil

	default:
		return ServerEvent{}, nil, wireErrorf("server: unexpected packet type %s", hdr.Type)
	}
}

// handleConnectionRequest implements the connection-request transitions,
// including benign-retransmit handling and the full-slot denial path.
func (s *Server) handleConnectionRequest(addr net.UDPAddr, body []byte) (ServerEvent, []byte, error) {
	if existing, ok := s.byAddr[addr.String()]; ok && existing.state != ServerClientDisconnected {
		// Benign retransmit: let the current challenge go out again on the
		// next tick, change nothing else.
		if existing.state == ServerClientPendingResponse {
			existing.lastSendTime = s.now - s.sendRate
		}
		return ServerEvent{}, nil, nil
	}

	if len(body) < 8+8+ExtendedNonceSize {
		return ServerEvent{}, nil, wireErrorf("server: connection request truncated")
	}
	protocolID := decodeU64(body[0:8])
	expire := int64(decodeU64(body[8:16]))
	if protocolID != s.protocolID {
		return ServerEvent{}, nil, wireErrorf("server: request protocol id mismatch")
	}
	var nonce [ExtendedNonceSize]byte
	copy(nonce[:], body[16:16+ExtendedNonceSize])
	sealedPrivate := body[16+ExtendedNonceSize:]

	now := s.startTime + int64(s.now/time.Second)
	if now >= expire {
		return ServerEvent{}, nil, wireErrorf("server: token expired")
	}

	plaintext, err := openPrivate(s.privateKey, nonce, sealedPrivate)
	if err != nil {
		return ServerEvent{}, nil, err
	}
	private, err := unmarshalPrivateTokenData(plaintext)
	if err != nil {
		return ServerEvent{}, nil, err
	}

	if s.boundAddr != nil && !addrListed(private.ServerAddresses, *s.boundAddr) {
		return ServerEvent{}, nil, wireErrorf("server: token does not list this server")
	}

	if _, ok := s.byClientID[private.ClientID]; ok {
		return ServerEvent{}, nil, nil
	}

	if uint32(len(s.byAddr)) >= s.maxClients {
		// The denial is sealed like any session frame so a client cannot be
		// knocked off a connect attempt by a spoofed plaintext denial. No
		// state is tracked; sequence 0 is fine for a one-shot frame.
		sealed := sealPacket(private.ServerToClientKey, PacketConnectionDenied, 0, s.protocolID, nil)
		denied := marshalFrame(PacketConnectionDenied, 0, sealed, s.protocolID)
		return ServerEvent{}, nil, &deniedSend{frame: denied, addr: addr}
	}

	sess := &serverSession{
		addr:              addr,
		clientID:          private.ClientID,
		clientIndex:       s.nextClientIndex,
		state:             ServerClientPendingResponse,
		clientToServerKey: private.ClientToServerKey,
		serverToClientKey: private.ServerToClientKey,
		replay:            newReplayProtection(),
		timeout:           time.Duration(private.TimeoutSeconds) * time.Second,
		lastRecvTime:      s.now,
		lastSendTime:      s.now - DefaultSendRate*time.Millisecond,
		challengeSequence: s.nextChallengeSequence,
	}
	s.nextClientIndex++
	s.nextChallengeSequence++
	sess.challengeSealed = sealChallengeToken(s.challengeKey, sess.challengeSequence, sess.clientID, private.UserData)

	s.byAddr[addr.String()] = sess
	s.byClientID[sess.clientID] = sess

	return ServerEvent{}, nil, nil
}

func addrListed(addrs []net.UDPAddr, want net.UDPAddr) bool {
	for _, a := range addrs {
		if a.Port == want.Port && a.IP.Equal(want.IP) {
			return true
		}
	}
	return false
}

func decodeU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// deniedSend is a sentinel error carrying the one denial frame the caller
// must deliver; the server tracks no state for a denied attempt.
type deniedSend struct {
	frame []byte
	addr  net.UDPAddr
}

func (d *deniedSend) Error() string { return "server: connection denied" }

// DeniedFrame extracts the (addr, bytes) a caller should send in response
// to a "connection denied" outcome from ProcessIncoming, or ok=false if
// err does not represent one.
func DeniedFrame(err error) (net.UDPAddr, []byte, bool) {
	d, ok := err.(*deniedSend)
	if !ok {
		return net.UDPAddr{}, nil, false
	}
	return d.addr, d.frame, true
}

// PacketsToSend returns the challenge/keep-alive/disconnect frames every
// tracked session should emit this tick.
func (s *Server) PacketsToSend() []OutPacket {
	var out []OutPacket
	for _, sess := range s.byAddr {
		switch sess.state {
		case ServerClientPendingResponse:
			if s.now-sess.lastSendTime >= s.sendRate {
				sess.lastSendTime = s.now
				body := make([]byte, 0, 8+len(sess.challengeSealed))
				body = appendU64(body, sess.challengeSequence)
				body = append(body, sess.challengeSealed...)
				out = append(out, OutPacket{Addr: sess.addr, Bytes: s.sealSession(sess, PacketChallenge, body)})
			}
		case ServerClientConnected:
			if s.now-sess.lastSendTime >= s.heartbeat {
				sess.lastSendTime = s.now
				payload := make([]byte, 8)
				putU32(payload[0:4], sess.clientIndex)
				putU32(payload[4:8], s.maxClients)
				out = append(out, OutPacket{Addr: sess.addr, Bytes: s.sealSession(sess, PacketKeepAlive, payload)})
			}
		case ServerClientDisconnected:
			if sess.reason == DisconnectLocalClose {
				for sess.disconnectBurstRemaining > 0 {
					out = append(out, OutPacket{Addr: sess.addr, Bytes: s.sealSession(sess, PacketDisconnect, nil)})
					sess.disconnectBurstRemaining--
				}
			} else {
				sess.disconnectBurstRemaining = 0
			}
		}
	}
	return out
}

// SendPayload seals plaintext for delivery to the session at addr, or
// ok=false if no connected session exists there.
func (s *Server) SendPayload(addr net.UDPAddr, plaintext []byte) ([]byte, bool) {
	sess, ok := s.byAddr[addr.String()]
	if !ok || sess.state != ServerClientConnected {
		return nil, false
	}
	sess.lastSendTime = s.now
	return s.sealSession(sess, PacketPayload, plaintext), true
}

// Disconnect voluntarily closes the session bound to addr, if any.
func (s *Server) Disconnect(addr net.UDPAddr) {
	sess, ok := s.byAddr[addr.String()]
	if !ok || sess.state == ServerClientDisconnected {
		return
	}
	sess.state = ServerClientDisconnected
	sess.reason = DisconnectLocalClose
	sess.disconnectBurstRemaining = DisconnectBurstCount
}

// FailSession forcibly ends the session bound to addr with reason, used by
// the owning Hub to escalate a channel-fatal error to the session layer.
// Unlike Disconnect, no disconnect burst is sent: the peer will learn the
// reason was not a clean close via its own timeout.
func (s *Server) FailSession(addr net.UDPAddr, reason DisconnectReason) {
	sess, ok := s.byAddr[addr.String()]
	if !ok || sess.state == ServerClientDisconnected {
		return
	}
	sess.state = ServerClientDisconnected
	sess.reason = reason
}

// DisconnectReason reports why the session at addr ended, or DisconnectNone
// if it is still active or unknown.
func (s *Server) DisconnectReason(addr net.UDPAddr) DisconnectReason {
	sess, ok := s.byAddr[addr.String()]
	if !ok {
		return DisconnectNone
	}
	return sess.reason
}

func (s *Server) sealSession(sess *serverSession, pktType PacketType, plaintext []byte) []byte {
	seq := sess.sequence
	sess.sequence++
	sealed := sealPacket(sess.serverToClientKey, pktType, seq, s.protocolID, plaintext)
	return marshalFrame(pktType, seq, sealed, s.protocolID)
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
