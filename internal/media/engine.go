package media

import (
	"context"

	"zemichat-backend/internal/domain"
)

// EventType identifies a remote participant event from the media channel
type EventType string

const (
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventAudioChanged      EventType = "audio_changed"
	EventVideoChanged      EventType = "video_changed"
	EventScreenChanged     EventType = "screen_changed"
	EventChannelError      EventType = "channel_error"
)

// Event is a remote participant state change observed on the media channel
type Event struct {
	Type        EventType
	UID         uint32
	Participant *domain.CallParticipant
	Enabled     bool
	Err         error
}

// Engine abstracts the RTC media layer. The call core drives it with
// join/leave and local track toggles and consumes remote events; it never
// touches codecs or transport directly.
type Engine interface {
	// Join connects to the media channel using a token from the token service
	Join(ctx context.Context, token *domain.RTCToken, callType domain.CallType) error

	// Leave disconnects from the current channel. Safe to call when not joined.
	Leave(ctx context.Context) error

	SetMuted(muted bool) error
	SetVideoEnabled(enabled bool) error
	SetScreenShared(shared bool) error

	// Events delivers remote participant changes until the engine is closed
	Events() <-chan Event

	Close() error
}
