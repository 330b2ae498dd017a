package call

import (
	"time"

	"github.com/google/uuid"

	"zemichat-backend/internal/domain"
	"zemichat-backend/pkg/constants"
	apperrors "zemichat-backend/pkg/errors"
	"zemichat-backend/pkg/rtctoken"
)

// State is the complete call situation of one device. At most one of
// Active and Incoming progresses at a time; a second offer while either is
// set gets an automatic busy signal.
type State struct {
	SelfID   uuid.UUID
	Active   *domain.ActiveCall
	Incoming *domain.IncomingCall

	// outgoing launch bookkeeping
	logReady  bool
	tokenHeld *domain.RTCToken
	mediaUp   bool

	videoWarned bool
}

// NewState creates the idle state for a device owned by selfID
func NewState(selfID uuid.UUID) State {
	return State{SelfID: selfID}
}

// Idle reports whether no call activity is in progress
func (s State) Idle() bool {
	return s.Active == nil && s.Incoming == nil
}

func (s State) matchesActive(callLogID uuid.UUID) bool {
	return s.Active != nil && s.Active.CallLogID == callLogID
}

func (s *State) reset() {
	s.Active = nil
	s.Incoming = nil
	s.logReady = false
	s.tokenHeld = nil
	s.mediaUp = false
	s.videoWarned = false
}

// cloneActive returns a copy safe to mutate without aliasing the previous
// state value
func cloneActive(a *domain.ActiveCall) *domain.ActiveCall {
	c := *a
	c.Participants = append([]domain.CallParticipant(nil), a.Participants...)
	return &c
}

// Reduce applies one event to the state and returns the successor state
// plus the effects the machine must execute. It is pure: same state and
// event always produce the same result, and nothing outside the arguments
// is read or written.
func Reduce(s State, ev Event) (State, []Effect) {
	switch ev := ev.(type) {
	case StartRequested:
		return reduceStart(s, ev)
	case OfferReceived:
		return reduceOffer(s, ev)
	case AcceptRequested:
		return reduceAccept(s, ev)
	case DeclineRequested:
		return reduceDecline(s, ev)
	case HangupRequested:
		return reduceHangup(s, ev.At)
	case DismissRequested:
		if s.Active != nil && s.Active.State == domain.CallStateEnded {
			s.reset()
		}
		return s, nil
	case ToggleRequested:
		return reduceToggle(s, ev)
	case LogCreated:
		return reduceLogCreated(s, ev)
	case LogCreateFailed:
		return reduceLaunchFailure(s, ev.CallLogID, ev.Err)
	case TokenReady:
		return reduceTokenReady(s, ev)
	case TokenFailed:
		return reduceLaunchFailure(s, ev.CallLogID, ev.Err)
	case MediaJoined:
		return reduceMediaJoined(s, ev)
	case MediaFailed:
		return reduceMediaFailed(s, ev)
	case RemoteJoined:
		return reduceRemoteJoined(s, ev)
	case RemoteLeft:
		return reduceRemoteLeft(s, ev)
	case PeerAnswered:
		return reducePeerAnswered(s, ev)
	case PeerDeclined:
		return reducePeerRejected(s, ev.CallLogID, false)
	case PeerBusy:
		return reducePeerRejected(s, ev.CallLogID, true)
	case PeerCancelled:
		return reducePeerCancelled(s, ev)
	case PeerHungUp:
		return reducePeerHungUp(s, ev)
	case RingTimedOut:
		return reduceRingTimeout(s, ev)
	case DurationTicked:
		return reduceDurationTick(s, ev)
	case DismissElapsed:
		if s.matchesActive(ev.CallLogID) && s.Active.State == domain.CallStateEnded {
			s.reset()
		}
		return s, nil
	}
	return s, nil
}

func reduceStart(s State, ev StartRequested) (State, []Effect) {
	if !s.Idle() {
		return s, []Effect{EmitError{Err: apperrors.CallBusyError()}}
	}
	if !ev.Type.Valid() {
		return s, []Effect{EmitError{Err: apperrors.InvalidInputError("unknown call type")}}
	}

	s.Active = &domain.ActiveCall{
		CallLogID:      ev.CallLogID,
		ChatID:         ev.ChatID,
		Type:           ev.Type,
		State:          domain.CallStateInitiating,
		InitiatorID:    s.SelfID,
		StartedAt:      ev.At,
		IsVideoEnabled: ev.Type == domain.CallTypeVideo,
	}

	// The log row waits for the token grant, so a call denied on
	// capability or capacity leaves no trace in storage
	return s, []Effect{
		RequestToken{CallLogID: ev.CallLogID, ChatID: ev.ChatID, Type: ev.Type},
	}
}

func reduceLogCreated(s State, ev LogCreated) (State, []Effect) {
	if !s.matchesActive(ev.CallLogID) || s.Active.State != domain.CallStateInitiating {
		return s, nil
	}
	s.logReady = true
	return maybeLaunch(s)
}

func reduceTokenReady(s State, ev TokenReady) (State, []Effect) {
	if !s.matchesActive(ev.CallLogID) {
		return s, nil
	}

	switch s.Active.State {
	case domain.CallStateInitiating:
		if s.tokenHeld != nil {
			return s, nil
		}
		s.tokenHeld = ev.Token
		return s, []Effect{CreateCallLog{CallLogID: ev.CallLogID, ChatID: s.Active.ChatID, Type: s.Active.Type}}
	case domain.CallStateConnecting:
		// Callee path: token arrives after accept, join straight away
		return s, []Effect{JoinMedia{CallLogID: ev.CallLogID, Token: ev.Token, Type: s.Active.Type}}
	}
	return s, nil
}

// maybeLaunch fires the ring once the token is held and the log row is
// written. The caller joins the media channel while the callees are still
// ringing.
func maybeLaunch(s State) (State, []Effect) {
	if !s.logReady || s.tokenHeld == nil {
		return s, nil
	}

	active := cloneActive(s.Active)
	active.State = domain.CallStateRinging
	s.Active = active

	return s, []Effect{
		SendSignal{CallLogID: active.CallLogID, ChatID: active.ChatID, Type: domain.SignalRing},
		SendPush{Kind: PushInvite, CallLogID: active.CallLogID, ChatID: active.ChatID, Type: active.Type},
		JoinMedia{CallLogID: active.CallLogID, Token: s.tokenHeld, Type: active.Type},
		StartRingTimer{CallLogID: active.CallLogID},
	}
}

// reduceLaunchFailure aborts an outgoing call whose log insert or token
// request failed. Everything already emitted is cleaned up; the state
// returns to idle without a dismiss delay.
func reduceLaunchFailure(s State, callLogID uuid.UUID, err error) (State, []Effect) {
	if !s.matchesActive(callLogID) || s.Active.State == domain.CallStateEnded {
		return s, nil
	}

	effects := []Effect{
		StopRingTimer{},
		DeleteOwnSignals{CallLogID: callLogID},
		EmitError{Err: err},
	}
	if s.mediaUp {
		effects = append(effects, LeaveMedia{CallLogID: callLogID})
	}

	s.reset()
	return s, effects
}

func reduceMediaJoined(s State, ev MediaJoined) (State, []Effect) {
	if !s.matchesActive(ev.CallLogID) {
		return s, nil
	}

	s.mediaUp = true
	return maybeConnect(s, ev.At)
}

// maybeConnect promotes CONNECTING to CONNECTED once the local media join
// succeeded and at least one remote participant is publishing
func maybeConnect(s State, at time.Time) (State, []Effect) {
	if s.Active == nil || s.Active.State != domain.CallStateConnecting {
		return s, nil
	}
	if !s.mediaUp || len(s.Active.Participants) == 0 {
		return s, nil
	}

	active := cloneActive(s.Active)
	active.State = domain.CallStateConnected
	t := at
	active.ConnectedAt = &t
	s.Active = active
	return s, []Effect{StartDurationTicker{CallLogID: active.CallLogID}}
}

func reduceMediaFailed(s State, ev MediaFailed) (State, []Effect) {
	if !s.matchesActive(ev.CallLogID) || s.Active.State == domain.CallStateEnded {
		return s, nil
	}

	var effects []Effect
	outcome := domain.CallStatusMissed

	switch s.Active.State {
	case domain.CallStateConnected:
		outcome = domain.CallStatusEnded
		effects = append(effects,
			StopDurationTicker{},
			EndLog{CallLogID: ev.CallLogID, DurationSeconds: elapsedAt(s, ev.At)},
		)
	case domain.CallStateConnecting:
		// The row already says answered; close it out with no duration
		outcome = domain.CallStatusEnded
		effects = append(effects, EndLog{CallLogID: ev.CallLogID, DurationSeconds: 0})
	default:
		effects = append(effects, StopRingTimer{})
	}

	effects = append(effects,
		SendSignal{CallLogID: ev.CallLogID, ChatID: s.Active.ChatID, Type: domain.SignalHangup},
		DeleteOwnSignals{CallLogID: ev.CallLogID},
		LeaveMedia{CallLogID: ev.CallLogID},
		RecordOutcome{Type: s.Active.Type, Status: outcome, DurationSeconds: elapsedAt(s, ev.At)},
		EmitError{Err: ev.Err},
		ScheduleDismiss{CallLogID: ev.CallLogID},
	)

	return endActive(s), effects
}

func reduceOffer(s State, ev OfferReceived) (State, []Effect) {
	// Same offer again is a no-op; the dispatcher already dedupes by
	// signal id, this guards redelivery with a fresh id
	if s.Incoming != nil && s.Incoming.CallLogID == ev.Offer.CallLogID {
		return s, nil
	}
	if s.matchesActive(ev.Offer.CallLogID) {
		return s, nil
	}

	// Busy: already in a call or showing another offer
	if !s.Idle() {
		return s, []Effect{SendSignal{
			CallLogID: ev.Offer.CallLogID,
			ChatID:    ev.Offer.ChatID,
			Type:      domain.SignalBusy,
		}}
	}

	offer := ev.Offer
	s.Incoming = &offer

	return s, []Effect{
		StartRingtone{},
		StartRingTimer{CallLogID: offer.CallLogID},
	}
}

func reduceAccept(s State, ev AcceptRequested) (State, []Effect) {
	if s.Incoming == nil {
		return s, nil
	}

	inc := s.Incoming
	s.Active = &domain.ActiveCall{
		CallLogID:      inc.CallLogID,
		ChatID:         inc.ChatID,
		Type:           inc.Type,
		State:          domain.CallStateConnecting,
		InitiatorID:    inc.CallerID,
		StartedAt:      ev.At,
		IsVideoEnabled: inc.Type == domain.CallTypeVideo,
	}
	s.Incoming = nil

	return s, []Effect{
		StopRingtone{},
		StopRingTimer{},
		SendSignal{CallLogID: inc.CallLogID, ChatID: inc.ChatID, Type: domain.SignalAnswer},
		UpdateStatus{CallLogID: inc.CallLogID, Status: domain.CallStatusAnswered},
		RequestToken{CallLogID: inc.CallLogID, ChatID: inc.ChatID, Type: inc.Type},
	}
}

func reduceDecline(s State, _ DeclineRequested) (State, []Effect) {
	if s.Incoming == nil {
		return s, nil
	}

	inc := s.Incoming
	s.Incoming = nil

	return s, []Effect{
		StopRingtone{},
		StopRingTimer{},
		SendSignal{CallLogID: inc.CallLogID, ChatID: inc.ChatID, Type: domain.SignalDecline},
		UpdateStatus{CallLogID: inc.CallLogID, Status: domain.CallStatusDeclined},
		RecordOutcome{Type: inc.Type, Status: domain.CallStatusDeclined},
	}
}

func reduceHangup(s State, at time.Time) (State, []Effect) {
	if s.Active == nil {
		return s, nil
	}

	callLogID := s.Active.CallLogID
	chatID := s.Active.ChatID

	switch s.Active.State {
	case domain.CallStateConnected:
		effects := []Effect{
			StopDurationTicker{},
			SendSignal{CallLogID: callLogID, ChatID: chatID, Type: domain.SignalHangup},
			EndLog{CallLogID: callLogID, DurationSeconds: elapsedAt(s, at)},
			DeleteOwnSignals{CallLogID: callLogID},
			LeaveMedia{CallLogID: callLogID},
			PostOutcomeMessage{CallLogID: callLogID},
			RecordOutcome{Type: s.Active.Type, Status: domain.CallStatusEnded, DurationSeconds: elapsedAt(s, at)},
			ScheduleDismiss{CallLogID: callLogID},
		}
		return endActive(s), effects

	case domain.CallStateInitiating, domain.CallStateRinging:
		// Cancel before anyone answered; the log stays missed
		effects := []Effect{
			StopRingTimer{},
			SendSignal{CallLogID: callLogID, ChatID: chatID, Type: domain.SignalCancel},
			DeleteOwnSignals{CallLogID: callLogID},
			PostOutcomeMessage{CallLogID: callLogID},
			SendPush{Kind: PushMissed, CallLogID: callLogID, ChatID: chatID, Type: s.Active.Type},
			RecordOutcome{Type: s.Active.Type, Status: domain.CallStatusMissed},
			ScheduleDismiss{CallLogID: callLogID},
		}
		if s.mediaUp {
			effects = append(effects, LeaveMedia{CallLogID: callLogID})
		}
		return endActive(s), effects

	case domain.CallStateConnecting:
		effects := []Effect{
			SendSignal{CallLogID: callLogID, ChatID: chatID, Type: domain.SignalHangup},
			EndLog{CallLogID: callLogID, DurationSeconds: 0},
			DeleteOwnSignals{CallLogID: callLogID},
			RecordOutcome{Type: s.Active.Type, Status: domain.CallStatusEnded},
			ScheduleDismiss{CallLogID: callLogID},
		}
		if s.mediaUp {
			effects = append(effects, LeaveMedia{CallLogID: callLogID})
		}
		return endActive(s), effects
	}

	// Already ended; hanging up again does nothing
	return s, nil
}

func reduceToggle(s State, ev ToggleRequested) (State, []Effect) {
	if s.Active == nil || s.Active.State == domain.CallStateEnded {
		return s, nil
	}

	active := cloneActive(s.Active)
	var effects []Effect

	switch ev.Control {
	case ControlMute:
		active.IsMuted = !active.IsMuted
		effects = append(effects, SetMedia{Control: ControlMute, Enabled: active.IsMuted})
	case ControlVideo:
		active.IsVideoEnabled = !active.IsVideoEnabled
		effects = append(effects, SetMedia{Control: ControlVideo, Enabled: active.IsVideoEnabled})
	case ControlScreen:
		active.IsScreenShared = !active.IsScreenShared
		effects = append(effects, SetMedia{Control: ControlScreen, Enabled: active.IsScreenShared})
	case ControlMinimize:
		active.IsMinimized = !active.IsMinimized
	default:
		return s, nil
	}

	s.Active = active
	return s, effects
}

func reducePeerAnswered(s State, ev PeerAnswered) (State, []Effect) {
	if !s.matchesActive(ev.CallLogID) || s.Active.State != domain.CallStateRinging {
		return s, nil
	}

	// The answer signal only says the callee accepted; the call counts as
	// connected once our media is up and the callee publishes
	active := cloneActive(s.Active)
	active.State = domain.CallStateConnecting
	s.Active = active

	effects := []Effect{
		StopRingTimer{},
		UpdateStatus{CallLogID: ev.CallLogID, Status: domain.CallStatusAnswered},
		DeleteOwnSignals{CallLogID: ev.CallLogID},
	}

	s, connectFx := maybeConnect(s, ev.At)
	return s, append(effects, connectFx...)
}

func reducePeerRejected(s State, callLogID uuid.UUID, busy bool) (State, []Effect) {
	if !s.matchesActive(callLogID) || s.Active.State != domain.CallStateRinging {
		return s, nil
	}

	effects := []Effect{
		StopRingTimer{},
		UpdateStatus{CallLogID: callLogID, Status: domain.CallStatusDeclined},
		DeleteOwnSignals{CallLogID: callLogID},
		RecordOutcome{Type: s.Active.Type, Status: domain.CallStatusDeclined},
		ScheduleDismiss{CallLogID: callLogID},
	}
	if s.mediaUp {
		effects = append(effects, LeaveMedia{CallLogID: callLogID})
	}
	if busy {
		effects = append(effects, EmitWarning{Message: "recipient is on another call"})
	}

	return endActive(s), effects
}

func reducePeerCancelled(s State, ev PeerCancelled) (State, []Effect) {
	if s.Incoming == nil || s.Incoming.CallLogID != ev.CallLogID {
		return s, nil
	}

	s.Incoming = nil
	return s, []Effect{
		StopRingtone{},
		StopRingTimer{},
	}
}

func reducePeerHungUp(s State, ev PeerHungUp) (State, []Effect) {
	if !s.matchesActive(ev.CallLogID) || s.Active.State != domain.CallStateConnected {
		return s, nil
	}

	effects := []Effect{
		StopDurationTicker{},
		EndLog{CallLogID: ev.CallLogID, DurationSeconds: elapsedAt(s, ev.At)},
		DeleteOwnSignals{CallLogID: ev.CallLogID},
		LeaveMedia{CallLogID: ev.CallLogID},
		RecordOutcome{Type: s.Active.Type, Status: domain.CallStatusEnded, DurationSeconds: elapsedAt(s, ev.At)},
		ScheduleDismiss{CallLogID: ev.CallLogID},
	}

	return endActive(s), effects
}

func reduceRingTimeout(s State, ev RingTimedOut) (State, []Effect) {
	// Incoming offer nobody acted on: clear it quietly, the caller's side
	// owns the missed bookkeeping
	if s.Incoming != nil && s.Incoming.CallLogID == ev.CallLogID {
		s.Incoming = nil
		return s, []Effect{StopRingtone{}}
	}

	if !s.matchesActive(ev.CallLogID) {
		return s, nil
	}

	switch s.Active.State {
	case domain.CallStateInitiating, domain.CallStateRinging:
		effects := []Effect{
			SendSignal{CallLogID: ev.CallLogID, ChatID: s.Active.ChatID, Type: domain.SignalCancel},
			DeleteOwnSignals{CallLogID: ev.CallLogID},
			PostOutcomeMessage{CallLogID: ev.CallLogID},
			SendPush{Kind: PushMissed, CallLogID: ev.CallLogID, ChatID: s.Active.ChatID, Type: s.Active.Type},
			RecordOutcome{Type: s.Active.Type, Status: domain.CallStatusMissed},
			ScheduleDismiss{CallLogID: ev.CallLogID},
		}
		if s.mediaUp {
			effects = append(effects, LeaveMedia{CallLogID: ev.CallLogID})
		}
		return endActive(s), effects
	}

	return s, nil
}

func reduceDurationTick(s State, ev DurationTicked) (State, []Effect) {
	if !s.matchesActive(ev.CallLogID) || s.Active.State != domain.CallStateConnected || s.Active.ConnectedAt == nil {
		return s, nil
	}

	elapsed := int(ev.At.Sub(*s.Active.ConnectedAt).Seconds())
	effects := []Effect{EmitDuration{Seconds: elapsed}}

	if s.Active.Type == domain.CallTypeVideo {
		if elapsed >= int(constants.VideoCallMaxDuration.Seconds()) {
			ns, hangupEffects := reduceHangup(s, ev.At)
			return ns, append(effects, hangupEffects...)
		}
		if !s.videoWarned && elapsed >= int(constants.VideoCallWarningAt.Seconds()) {
			s.videoWarned = true
			effects = append(effects, EmitWarning{Message: "video call approaching the duration limit"})
		}
	}

	return s, effects
}

func reduceRemoteJoined(s State, ev RemoteJoined) (State, []Effect) {
	if !s.matchesActive(ev.CallLogID) || s.Active.State == domain.CallStateEnded {
		return s, nil
	}

	active := cloneActive(s.Active)
	for _, p := range active.Participants {
		if p.ID == ev.Participant.ID {
			return s, nil
		}
	}
	active.Participants = append(active.Participants, ev.Participant)
	s.Active = active
	return maybeConnect(s, ev.At)
}

func reduceRemoteLeft(s State, ev RemoteLeft) (State, []Effect) {
	if !s.matchesActive(ev.CallLogID) || s.Active.State == domain.CallStateEnded {
		return s, nil
	}

	active := cloneActive(s.Active)
	kept := active.Participants[:0]
	for _, p := range active.Participants {
		if rtctoken.DeriveUID(p.ID) != ev.UID {
			kept = append(kept, p)
		}
	}
	active.Participants = kept
	s.Active = active

	// A crashed peer never sends hangup; when the channel empties out the
	// call ends here instead of stranding until manual hangup
	if len(kept) == 0 && active.State == domain.CallStateConnected {
		return reduceHangup(s, ev.At)
	}
	return s, nil
}

func endActive(s State) State {
	active := cloneActive(s.Active)
	active.State = domain.CallStateEnded
	s.Active = active
	s.Incoming = nil
	s.logReady = false
	s.tokenHeld = nil
	s.mediaUp = false
	return s
}

func elapsedAt(s State, at time.Time) int {
	if s.Active == nil || s.Active.ConnectedAt == nil {
		return 0
	}
	d := int(at.Sub(*s.Active.ConnectedAt).Seconds())
	if d < 0 {
		return 0
	}
	return d
}
