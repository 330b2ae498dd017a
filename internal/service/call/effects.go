package call

import (
	"github.com/google/uuid"

	"zemichat-backend/internal/domain"
)

// Effect is an instruction the reducer hands back to the machine. Reducing
// never touches the outside world; effects are the only way anything
// observable happens.
type Effect interface {
	isEffect()
}

type effectBase struct{}

func (effectBase) isEffect() {}

// CreateCallLog inserts the call log row for a new outgoing call
type CreateCallLog struct {
	effectBase
	CallLogID uuid.UUID
	ChatID    uuid.UUID
	Type      domain.CallType
}

// RequestToken asks the token service for a media join token
type RequestToken struct {
	effectBase
	CallLogID uuid.UUID
	ChatID    uuid.UUID
	Type      domain.CallType
}

// SendSignal inserts a signal row and fans it out
type SendSignal struct {
	effectBase
	CallLogID uuid.UUID
	ChatID    uuid.UUID
	Type      domain.SignalType
}

// DeleteOwnSignals removes every signal this device emitted for the call
type DeleteOwnSignals struct {
	effectBase
	CallLogID uuid.UUID
}

// UpdateStatus moves the call log to a new status
type UpdateStatus struct {
	effectBase
	CallLogID uuid.UUID
	Status    domain.CallStatus
}

// EndLog finalizes the call log with its duration
type EndLog struct {
	effectBase
	CallLogID       uuid.UUID
	DurationSeconds int
}

// JoinMedia connects to the media channel with the issued token
type JoinMedia struct {
	effectBase
	CallLogID uuid.UUID
	Token     *domain.RTCToken
	Type      domain.CallType
}

// LeaveMedia disconnects from the media channel
type LeaveMedia struct {
	effectBase
	CallLogID uuid.UUID
}

// SetMedia applies a local track toggle on the media engine
type SetMedia struct {
	effectBase
	Control Control
	Enabled bool
}

// StartRingTimer arms the unanswered-call timeout
type StartRingTimer struct {
	effectBase
	CallLogID uuid.UUID
}

// StopRingTimer disarms the unanswered-call timeout
type StopRingTimer struct {
	effectBase
}

// StartRingtone begins the incoming call alert
type StartRingtone struct {
	effectBase
}

// StopRingtone silences the incoming call alert
type StopRingtone struct {
	effectBase
}

// StartDurationTicker begins the once-a-second connected timer
type StartDurationTicker struct {
	effectBase
	CallLogID uuid.UUID
}

// StopDurationTicker halts the connected timer
type StopDurationTicker struct {
	effectBase
}

// ScheduleDismiss arms the delay after which a terminal call clears itself
type ScheduleDismiss struct {
	effectBase
	CallLogID uuid.UUID
}

// PushKind distinguishes the notifications the call flow sends
type PushKind string

const (
	PushInvite PushKind = "invite"
	PushMissed PushKind = "missed"
)

// SendPush fans a notification out to the other chat members' devices
type SendPush struct {
	effectBase
	Kind      PushKind
	CallLogID uuid.UUID
	ChatID    uuid.UUID
	Type      domain.CallType
}

// PostOutcomeMessage writes the call outcome system message to the chat
type PostOutcomeMessage struct {
	effectBase
	CallLogID uuid.UUID
}

// RecordOutcome counts the terminal status of a call this device took part in
type RecordOutcome struct {
	effectBase
	Type            domain.CallType
	Status          domain.CallStatus
	DurationSeconds int
}

// EmitDuration publishes the running call duration to observers
type EmitDuration struct {
	effectBase
	Seconds int
}

// EmitWarning surfaces a non-fatal notice to observers
type EmitWarning struct {
	effectBase
	Message string
}

// EmitError surfaces a call failure to observers
type EmitError struct {
	effectBase
	Err error
}
