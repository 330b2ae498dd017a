package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType represents the media kind of a call
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// Valid reports whether the call type is one of the known variants
func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

// CallStatus represents the lifecycle status of a call log row.
// Once ended or declined it never reverts.
type CallStatus string

const (
	CallStatusMissed   CallStatus = "missed"
	CallStatusAnswered CallStatus = "answered"
	CallStatusDeclined CallStatus = "declined"
	CallStatusEnded    CallStatus = "ended"
)

// SignalType represents a short-lived call directive
type SignalType string

const (
	SignalRing    SignalType = "ring"
	SignalAnswer  SignalType = "answer"
	SignalDecline SignalType = "decline"
	SignalCancel  SignalType = "cancel"
	SignalHangup  SignalType = "hangup"
	SignalBusy    SignalType = "busy"
)

// Valid reports whether the signal type is a known variant
func (s SignalType) Valid() bool {
	switch s {
	case SignalRing, SignalAnswer, SignalDecline, SignalCancel, SignalHangup, SignalBusy:
		return true
	}
	return false
}

// CallState is a call's lifecycle phase on the local device
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateInitiating CallState = "initiating"
	CallStateRinging    CallState = "ringing"
	CallStateConnecting CallState = "connecting"
	CallStateConnected  CallState = "connected"
	CallStateEnded      CallState = "ended"
)

// CallLog represents one call attempt.
// Maps to CockroachDB call_logs table. Created with status=missed by
// convention; updated on answer/decline/end; never deleted.
type CallLog struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	ChatID          uuid.UUID  `json:"chat_id" db:"chat_id"`
	InitiatorID     uuid.UUID  `json:"initiator_id" db:"initiator_id"`
	Type            CallType   `json:"type" db:"type"`
	Status          CallStatus `json:"status" db:"status"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`
}

// CallSignal is a short-lived directive row. Signals are immutable once
// inserted; a new intention is a new row. A signal is meaningful only while
// unexpired, and only its creator may delete it.
type CallSignal struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	ChatID    uuid.UUID  `json:"chat_id" db:"chat_id"`
	CallLogID uuid.UUID  `json:"call_log_id" db:"call_log_id"`
	CallerID  uuid.UUID  `json:"caller_id" db:"caller_id"`
	Type      SignalType `json:"signal_type" db:"signal_type"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether the signal is stale at the given instant
func (s *CallSignal) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// CallParticipant is a member of an active call as seen by the local device
type CallParticipant struct {
	ID              uuid.UUID `json:"id"`
	DisplayName     string    `json:"display_name"`
	AvatarURL       *string   `json:"avatar_url,omitempty"`
	HasAudio        bool      `json:"has_audio"`
	HasVideo        bool      `json:"has_video"`
	IsScreenSharing bool      `json:"is_screen_sharing"`
}

// ActiveCall is the local state machine's view of the current call.
// Exclusively owned by one machine instance; never shared across devices.
type ActiveCall struct {
	CallLogID      uuid.UUID         `json:"call_log_id"`
	ChatID         uuid.UUID         `json:"chat_id"`
	Type           CallType          `json:"call_type"`
	State          CallState         `json:"state"`
	InitiatorID    uuid.UUID         `json:"initiator_id"`
	Participants   []CallParticipant `json:"participants"`
	StartedAt      time.Time         `json:"started_at"`
	ConnectedAt    *time.Time        `json:"connected_at,omitempty"`
	IsMuted        bool              `json:"is_muted"`
	IsVideoEnabled bool              `json:"is_video_enabled"`
	IsScreenShared bool              `json:"is_screen_shared"`
	IsMinimized    bool              `json:"is_minimized"`
}

// IncomingCall is a pending, not-yet-accepted call offer
type IncomingCall struct {
	CallLogID    uuid.UUID `json:"call_log_id"`
	ChatID       uuid.UUID `json:"chat_id"`
	SignalID     uuid.UUID `json:"signal_id"`
	CallerID     uuid.UUID `json:"caller_id"`
	CallerName   string    `json:"caller_name"`
	CallerAvatar *string   `json:"caller_avatar,omitempty"`
	Type         CallType  `json:"call_type"`
}

// RTCToken is a time-boxed media join credential issued by the token service
type RTCToken struct {
	Token   string `json:"token"`
	AppID   string `json:"app_id"`
	Channel string `json:"channel"`
	UID     uint32 `json:"uid"`
}
