package netcode

import "fmt"

// DisconnectReason is the closed taxonomy of reasons a Session can end.
// Once set on a Session it is sticky: every later call observes the same
// reason until the owning Endpoint is discarded.
type DisconnectReason int32

const (
	// DisconnectNone means the session has not ended.
	DisconnectNone DisconnectReason = iota
	DisconnectRemoteClose
	DisconnectLocalClose
	DisconnectTimedOut
	DisconnectDenied
	DisconnectTokenExpired
	DisconnectTransportError
	DisconnectReplayViolation
	DisconnectDecryptFailure
	DisconnectProtocolViolation
	DisconnectChannelOutOfMemory
	DisconnectChannelError
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectNone:
		return "none"
	case DisconnectRemoteClose:
		return "remote-close"
	case DisconnectLocalClose:
		return "local-close"
	case DisconnectTimedOut:
		return "timed-out"
	case DisconnectDenied:
		return "denied"
	case DisconnectTokenExpired:
		return "token-expired"
	case DisconnectTransportError:
		return "transport-error"
	case DisconnectReplayViolation:
		return "replay-violation"
	case DisconnectDecryptFailure:
		return "decrypt-failure"
	case DisconnectProtocolViolation:
		return "protocol-violation"
	case DisconnectChannelOutOfMemory:
		return "channel-out-of-memory"
	case DisconnectChannelError:
		return "channel-error"
	default:
		return fmt.Sprintf("disconnect-reason(%d)", int32(r))
	}
}

// ChannelErrorKind is the closed taxonomy of fatal per-channel errors;
// ChannelError pairs one with the offending channel id. The channel
// package reports its own fatal conditions as channel.FatalError, which
// the endpoint package escalates to DisconnectChannelOutOfMemory or
// DisconnectChannelError.
type ChannelErrorKind int32

const (
	ChannelErrorNone ChannelErrorKind = iota
	// ChannelErrorOutOfMemory means the channel's max_memory_bytes was exceeded.
	ChannelErrorOutOfMemory
	// ChannelErrorInvalidSlice means a slice had inconsistent geometry
	// (bad size, bad index, num_slices == 0).
	ChannelErrorInvalidSlice
)

func (k ChannelErrorKind) String() string {
	switch k {
	case ChannelErrorNone:
		return "none"
	case ChannelErrorOutOfMemory:
		return "out-of-memory"
	case ChannelErrorInvalidSlice:
		return "invalid-slice"
	default:
		return fmt.Sprintf("channel-error-kind(%d)", int32(k))
	}
}

// ChannelError is a fatal error raised by a channel, identifying which
// channel failed and how.
type ChannelError struct {
	ChannelID uint8
	Kind      ChannelErrorKind
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d: %s", e.ChannelID, e.Kind)
}

// wireError wraps decrypt/framing failures that cause a packet to be dropped
// at the session layer. These never change session state; they are
// returned only so callers/tests can observe the drop reason.
type wireError struct {
	msg string
}

func (e *wireError) Error() string { return e.msg }

func wireErrorf(format string, args ...interface{}) error {
	return &wireError{msg: fmt.Sprintf(format, args...)}
}
