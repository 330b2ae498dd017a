package call

import (
	"time"

	"github.com/google/uuid"

	"zemichat-backend/internal/domain"
)

// Event is an input to the call reducer. Every event carries the instant it
// was observed so the reducer never reads the wall clock itself.
type Event interface {
	When() time.Time
}

type eventBase struct {
	At time.Time
}

// When returns the instant the event was observed
func (e eventBase) When() time.Time { return e.At }

// User commands

// StartRequested asks the machine to place a call. The call log id is
// pre-generated so every later async result can be matched to this attempt.
type StartRequested struct {
	eventBase
	CallLogID uuid.UUID
	ChatID    uuid.UUID
	Type      domain.CallType
}

// AcceptRequested accepts the pending incoming call
type AcceptRequested struct {
	eventBase
}

// DeclineRequested declines the pending incoming call
type DeclineRequested struct {
	eventBase
}

// HangupRequested ends or cancels the current call
type HangupRequested struct {
	eventBase
}

// DismissRequested clears a terminal call from the screen
type DismissRequested struct {
	eventBase
}

// Control identifies a local media toggle
type Control string

const (
	ControlMute     Control = "mute"
	ControlVideo    Control = "video"
	ControlScreen   Control = "screen"
	ControlMinimize Control = "minimize"
)

// ToggleRequested flips a local control on the active call
type ToggleRequested struct {
	eventBase
	Control Control
}

// Signal-driven events, produced by the dispatcher

// OfferReceived is an inbound ring signal resolved to a call offer
type OfferReceived struct {
	eventBase
	Offer domain.IncomingCall
}

// PeerAnswered means a callee accepted our outgoing call
type PeerAnswered struct {
	eventBase
	CallLogID uuid.UUID
}

// PeerDeclined means a callee rejected our outgoing call
type PeerDeclined struct {
	eventBase
	CallLogID uuid.UUID
}

// PeerBusy means the callee was already in another call
type PeerBusy struct {
	eventBase
	CallLogID uuid.UUID
}

// PeerCancelled means the caller withdrew the offer we were showing
type PeerCancelled struct {
	eventBase
	CallLogID uuid.UUID
}

// PeerHungUp means the other side ended the connected call
type PeerHungUp struct {
	eventBase
	CallLogID uuid.UUID
}

// Async operation results

// LogCreated reports the call log row exists
type LogCreated struct {
	eventBase
	CallLogID uuid.UUID
}

// LogCreateFailed reports the call log insert failed
type LogCreateFailed struct {
	eventBase
	CallLogID uuid.UUID
	Err       error
}

// TokenReady delivers the media join token
type TokenReady struct {
	eventBase
	CallLogID uuid.UUID
	Token     *domain.RTCToken
}

// TokenFailed reports token issuance was denied or errored
type TokenFailed struct {
	eventBase
	CallLogID uuid.UUID
	Err       error
}

// MediaJoined reports the media channel connection is up
type MediaJoined struct {
	eventBase
	CallLogID uuid.UUID
}

// MediaFailed reports the media channel connection was lost or refused
type MediaFailed struct {
	eventBase
	CallLogID uuid.UUID
	Err       error
}

// RemoteJoined reports another participant appeared on the media channel
type RemoteJoined struct {
	eventBase
	CallLogID   uuid.UUID
	Participant domain.CallParticipant
}

// RemoteLeft reports a participant dropped off the media channel
type RemoteLeft struct {
	eventBase
	CallLogID uuid.UUID
	UID       uint32
}

// Timer events

// RingTimedOut fires when nobody answered within the ring window
type RingTimedOut struct {
	eventBase
	CallLogID uuid.UUID
}

// DurationTicked fires every second while connected
type DurationTicked struct {
	eventBase
	CallLogID uuid.UUID
}

// DismissElapsed fires when a terminal state has lingered long enough
type DismissElapsed struct {
	eventBase
	CallLogID uuid.UUID
}
