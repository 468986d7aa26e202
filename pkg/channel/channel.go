// Package channel defines the contract between the session lifecycle manager
// and the real-time media service that carries the roleplay conversation.
//
// The two primary abstractions are:
//
//   - [Dialer] opens a connection to the service for one session.
//   - [Conn] is that open connection. It delivers lifecycle and transcription
//     [Event] values in observation order until it is disconnected.
//
// Implementations live in sub-packages (channel/relay for the production
// service, channel/sim for local development). The package lives under pkg/
// because other media back ends are expected to implement these interfaces.
package channel

import (
	"context"
	"errors"

	"github.com/MrWong99/roleplay/pkg/types"
)

// ErrClosed is returned by operations on a connection that has already been
// disconnected.
var ErrClosed = errors.New("channel: connection closed")

// EventType classifies events emitted by a [Conn].
type EventType int

const (
	// EventConnected is emitted once the connection is live.
	EventConnected EventType = iota

	// EventDisconnected is emitted when the remote side drops the connection.
	// It is not emitted for a local [Conn.Disconnect].
	EventDisconnected

	// EventParticipantJoined is emitted when another participant joins the room.
	EventParticipantJoined

	// EventTrackReceived is emitted when a participant's media track becomes
	// available.
	EventTrackReceived

	// EventTranscription carries one transcribed utterance.
	EventTranscription
)

// String returns the wire name of the event type.
func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventParticipantJoined:
		return "participant_joined"
	case EventTrackReceived:
		return "track_received"
	case EventTranscription:
		return "transcription"
	default:
		return "unknown"
	}
}

// ParseEventType is the inverse of [EventType.String].
func ParseEventType(s string) (EventType, bool) {
	for t := EventConnected; t <= EventTranscription; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// Event is one notification from the media service.
type Event struct {
	Type EventType

	// Participant is the remote identity for participant and track events.
	Participant string

	// Utterance is set for [EventTranscription].
	Utterance types.Utterance

	// Reason optionally explains an [EventDisconnected].
	Reason string
}

// Conn is an open connection to the media service.
//
// Implementations must be safe for concurrent use.
type Conn interface {
	// Events returns the channel on which events are delivered in the order
	// they were observed. The same channel is returned on every call. It is
	// closed when the connection terminates for any reason.
	Events() <-chan Event

	// Disconnect tears the connection down and returns once the events
	// channel has been closed, so no new event is produced after it returns.
	// Events still buffered in the channel may be drained by the caller.
	// Calling it more than once is a no-op that returns nil.
	Disconnect(ctx context.Context) error
}

// Dialer opens connections to the media service.
//
// Implementations must be safe for concurrent use.
type Dialer interface {
	// Dial connects to the service at url, authenticating with credential.
	// ctx bounds the connection attempt only; the returned Conn stays open
	// until [Conn.Disconnect] is called or the remote side drops.
	Dial(ctx context.Context, url, credential string) (Conn, error)
}
