package call

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zemichat-backend/internal/domain"
	apperrors "zemichat-backend/pkg/errors"
	"zemichat-backend/pkg/logger"
	"zemichat-backend/pkg/rtctoken"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) eventBase {
	return eventBase{At: t0.Add(d)}
}

func effectOf[T Effect](effects []Effect) (T, bool) {
	for _, e := range effects {
		if v, ok := e.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func hasEffect[T Effect](effects []Effect) bool {
	_, ok := effectOf[T](effects)
	return ok
}

// startOutgoing drives a fresh state to the outbound ringing phase
func startOutgoing(t *testing.T, self uuid.UUID) (State, uuid.UUID, uuid.UUID) {
	t.Helper()

	chatID := uuid.New()
	callLogID := uuid.New()

	s := NewState(self)
	s, fx := Reduce(s, StartRequested{eventBase: at(0), CallLogID: callLogID, ChatID: chatID, Type: domain.CallTypeVoice})
	require.True(t, hasEffect[RequestToken](fx))
	require.False(t, hasEffect[CreateCallLog](fx))
	require.Equal(t, domain.CallStateInitiating, s.Active.State)

	s, fx = Reduce(s, TokenReady{eventBase: at(200 * time.Millisecond), CallLogID: callLogID, Token: &domain.RTCToken{Token: "tok"}})
	require.True(t, hasEffect[CreateCallLog](fx))
	require.Equal(t, domain.CallStateInitiating, s.Active.State)

	s, fx = Reduce(s, LogCreated{eventBase: at(300 * time.Millisecond), CallLogID: callLogID})
	require.Equal(t, domain.CallStateRinging, s.Active.State)

	sig, ok := effectOf[SendSignal](fx)
	require.True(t, ok)
	assert.Equal(t, domain.SignalRing, sig.Type)
	assert.True(t, hasEffect[SendPush](fx))
	assert.True(t, hasEffect[JoinMedia](fx))
	assert.True(t, hasEffect[StartRingTimer](fx))

	return s, callLogID, chatID
}

// connectOutgoing takes the outbound call all the way to connected: media
// up at 1s, answer at 5s, first remote publishing at 6s
func connectOutgoing(t *testing.T, self uuid.UUID) (State, uuid.UUID, domain.CallParticipant) {
	t.Helper()

	s, callLogID, _ := startOutgoing(t, self)

	s, fx := Reduce(s, MediaJoined{eventBase: at(time.Second), CallLogID: callLogID})
	require.Empty(t, fx)
	require.Equal(t, domain.CallStateRinging, s.Active.State)

	s, _ = Reduce(s, PeerAnswered{eventBase: at(5 * time.Second), CallLogID: callLogID})
	require.Equal(t, domain.CallStateConnecting, s.Active.State)

	peer := domain.CallParticipant{ID: uuid.New(), DisplayName: "Dana", HasAudio: true}
	s, fx = Reduce(s, RemoteJoined{eventBase: at(6 * time.Second), CallLogID: callLogID, Participant: peer})
	require.Equal(t, domain.CallStateConnected, s.Active.State)
	require.True(t, hasEffect[StartDurationTicker](fx))

	return s, callLogID, peer
}

// receiveOffer drives a fresh state to showing an incoming call
func receiveOffer(t *testing.T, self uuid.UUID) (State, domain.IncomingCall) {
	t.Helper()

	offer := domain.IncomingCall{
		CallLogID:  uuid.New(),
		ChatID:     uuid.New(),
		SignalID:   uuid.New(),
		CallerID:   uuid.New(),
		CallerName: "Dana",
		Type:       domain.CallTypeVoice,
	}

	s := NewState(self)
	s, fx := Reduce(s, OfferReceived{eventBase: at(0), Offer: offer})
	require.NotNil(t, s.Incoming)
	require.True(t, hasEffect[StartRingtone](fx))
	require.True(t, hasEffect[StartRingTimer](fx))

	return s, offer
}

func TestStartWhileBusyIsRejected(t *testing.T) {
	self := uuid.New()
	s, _, _ := startOutgoing(t, self)

	before := s.Active.CallLogID
	s, fx := Reduce(s, StartRequested{eventBase: at(time.Second), CallLogID: uuid.New(), ChatID: uuid.New(), Type: domain.CallTypeVoice})

	errEff, ok := effectOf[EmitError](fx)
	require.True(t, ok)
	assert.True(t, apperrors.HasCode(errEff.Err, apperrors.ErrCodeCallBusy))
	assert.Equal(t, before, s.Active.CallLogID)
	assert.False(t, hasEffect[RequestToken](fx))
	assert.False(t, hasEffect[CreateCallLog](fx))
}

func TestStartWithUnknownCallType(t *testing.T) {
	s := NewState(uuid.New())
	s, fx := Reduce(s, StartRequested{eventBase: at(0), CallLogID: uuid.New(), ChatID: uuid.New(), Type: domain.CallType("fax")})

	assert.True(t, s.Idle())
	errEff, ok := effectOf[EmitError](fx)
	require.True(t, ok)
	assert.True(t, apperrors.HasCode(errEff.Err, apperrors.ErrCodeInvalidInput))
	assert.False(t, hasEffect[RequestToken](fx))
	assert.False(t, hasEffect[CreateCallLog](fx))
}

func TestLogWrittenOnlyAfterTokenGrant(t *testing.T) {
	self := uuid.New()
	chatID := uuid.New()
	callLogID := uuid.New()

	s := NewState(self)
	s, fx := Reduce(s, StartRequested{eventBase: at(0), CallLogID: callLogID, ChatID: chatID, Type: domain.CallTypeVideo})
	assert.False(t, hasEffect[CreateCallLog](fx))

	s, fx = Reduce(s, TokenReady{eventBase: at(time.Second), CallLogID: callLogID, Token: &domain.RTCToken{Token: "tok"}})
	log, ok := effectOf[CreateCallLog](fx)
	require.True(t, ok)
	assert.Equal(t, callLogID, log.CallLogID)
	assert.Equal(t, domain.CallTypeVideo, log.Type)
	assert.False(t, hasEffect[SendSignal](fx))
	assert.Equal(t, domain.CallStateInitiating, s.Active.State)

	// A duplicate token result never writes a second row
	s, fx = Reduce(s, TokenReady{eventBase: at(time.Second), CallLogID: callLogID, Token: &domain.RTCToken{Token: "tok"}})
	assert.Empty(t, fx)

	s, fx = Reduce(s, LogCreated{eventBase: at(2 * time.Second), CallLogID: callLogID})
	assert.Equal(t, domain.CallStateRinging, s.Active.State)
	assert.True(t, hasEffect[SendSignal](fx))
}

func TestTokenDeniedLeavesNoLogRow(t *testing.T) {
	self := uuid.New()
	callLogID := uuid.New()

	s := NewState(self)
	s, fx := Reduce(s, StartRequested{eventBase: at(0), CallLogID: callLogID, ChatID: uuid.New(), Type: domain.CallTypeVoice})
	require.False(t, hasEffect[CreateCallLog](fx))

	s, fx = Reduce(s, TokenFailed{eventBase: at(time.Second), CallLogID: callLogID, Err: apperrors.PermissionDeniedError("calling is not enabled for this account")})

	assert.True(t, s.Idle())
	assert.True(t, hasEffect[EmitError](fx))
	assert.True(t, hasEffect[DeleteOwnSignals](fx))
	assert.False(t, hasEffect[CreateCallLog](fx))
	assert.False(t, hasEffect[UpdateStatus](fx))
	assert.False(t, hasEffect[EndLog](fx))
	assert.False(t, hasEffect[SendSignal](fx))
}

func TestStaleAsyncResultsAreIgnored(t *testing.T) {
	self := uuid.New()
	s, _, _ := startOutgoing(t, self)

	current := s.Active.CallLogID
	staleID := uuid.New()

	s, fx := Reduce(s, TokenReady{eventBase: at(time.Second), CallLogID: staleID, Token: &domain.RTCToken{Token: "old"}})
	assert.Empty(t, fx)
	assert.Equal(t, current, s.Active.CallLogID)

	s, fx = Reduce(s, PeerAnswered{eventBase: at(time.Second), CallLogID: staleID})
	assert.Empty(t, fx)
	assert.Equal(t, domain.CallStateRinging, s.Active.State)

	_, fx = Reduce(s, RingTimedOut{eventBase: at(time.Second), CallLogID: staleID})
	assert.Empty(t, fx)
}

func TestAnswerMovesToConnectingUntilRemotePublishes(t *testing.T) {
	self := uuid.New()
	s, callLogID, _ := startOutgoing(t, self)
	s, _ = Reduce(s, MediaJoined{eventBase: at(time.Second), CallLogID: callLogID})

	s, fx := Reduce(s, PeerAnswered{eventBase: at(5 * time.Second), CallLogID: callLogID})

	assert.Equal(t, domain.CallStateConnecting, s.Active.State)
	assert.Nil(t, s.Active.ConnectedAt)

	assert.True(t, hasEffect[StopRingTimer](fx))
	status, ok := effectOf[UpdateStatus](fx)
	require.True(t, ok)
	assert.Equal(t, domain.CallStatusAnswered, status.Status)
	assert.True(t, hasEffect[DeleteOwnSignals](fx))
	assert.False(t, hasEffect[StartDurationTicker](fx))

	// The first publishing remote completes the connection
	peer := domain.CallParticipant{ID: uuid.New(), DisplayName: "Dana", HasAudio: true}
	s, fx = Reduce(s, RemoteJoined{eventBase: at(6 * time.Second), CallLogID: callLogID, Participant: peer})

	assert.Equal(t, domain.CallStateConnected, s.Active.State)
	require.NotNil(t, s.Active.ConnectedAt)
	assert.Equal(t, t0.Add(6*time.Second), *s.Active.ConnectedAt)
	assert.True(t, hasEffect[StartDurationTicker](fx))
}

func TestHangupDurationMatchesConnectedTime(t *testing.T) {
	self := uuid.New()
	s, _, _ := connectOutgoing(t, self)

	s, fx := Reduce(s, HangupRequested{eventBase: at(18 * time.Second)})

	end, ok := effectOf[EndLog](fx)
	require.True(t, ok)
	assert.Equal(t, 12, end.DurationSeconds)

	sig, ok := effectOf[SendSignal](fx)
	require.True(t, ok)
	assert.Equal(t, domain.SignalHangup, sig.Type)
	assert.True(t, hasEffect[StopDurationTicker](fx))
	assert.True(t, hasEffect[LeaveMedia](fx))
	assert.True(t, hasEffect[PostOutcomeMessage](fx))
	assert.True(t, hasEffect[ScheduleDismiss](fx))
	assert.Equal(t, domain.CallStateEnded, s.Active.State)
}

func TestHangupIsIdempotentOnceEnded(t *testing.T) {
	self := uuid.New()
	s, callLogID, _ := connectOutgoing(t, self)

	s, first := Reduce(s, HangupRequested{eventBase: at(10 * time.Second)})
	require.NotEmpty(t, first)

	s, second := Reduce(s, HangupRequested{eventBase: at(11 * time.Second)})
	assert.Empty(t, second)

	// A hangup signal arriving after we already ended changes nothing
	_, third := Reduce(s, PeerHungUp{eventBase: at(12 * time.Second), CallLogID: callLogID})
	assert.Empty(t, third)
}

func TestCancelBeforeAnswerKeepsLogMissed(t *testing.T) {
	self := uuid.New()
	s, callLogID, _ := startOutgoing(t, self)

	s, fx := Reduce(s, HangupRequested{eventBase: at(10 * time.Second)})

	sig, ok := effectOf[SendSignal](fx)
	require.True(t, ok)
	assert.Equal(t, domain.SignalCancel, sig.Type)
	assert.Equal(t, callLogID, sig.CallLogID)

	// No status write: the row stays missed
	assert.False(t, hasEffect[UpdateStatus](fx))
	assert.False(t, hasEffect[EndLog](fx))
	assert.True(t, hasEffect[DeleteOwnSignals](fx))
	assert.True(t, hasEffect[StopRingTimer](fx))

	push, ok := effectOf[SendPush](fx)
	require.True(t, ok)
	assert.Equal(t, PushMissed, push.Kind)
	assert.Equal(t, domain.CallStateEnded, s.Active.State)
}

func TestRingTimeoutBecomesMissed(t *testing.T) {
	self := uuid.New()
	s, callLogID, _ := startOutgoing(t, self)

	s, fx := Reduce(s, RingTimedOut{eventBase: at(30 * time.Second), CallLogID: callLogID})

	sig, ok := effectOf[SendSignal](fx)
	require.True(t, ok)
	assert.Equal(t, domain.SignalCancel, sig.Type)
	assert.False(t, hasEffect[UpdateStatus](fx))
	assert.True(t, hasEffect[PostOutcomeMessage](fx))

	push, ok := effectOf[SendPush](fx)
	require.True(t, ok)
	assert.Equal(t, PushMissed, push.Kind)

	outcome, ok := effectOf[RecordOutcome](fx)
	require.True(t, ok)
	assert.Equal(t, domain.CallStatusMissed, outcome.Status)
	assert.Equal(t, domain.CallStateEnded, s.Active.State)
}

func TestPeerDeclinedEndsOutgoingCall(t *testing.T) {
	self := uuid.New()
	s, callLogID, _ := startOutgoing(t, self)

	s, fx := Reduce(s, PeerDeclined{eventBase: at(8 * time.Second), CallLogID: callLogID})

	status, ok := effectOf[UpdateStatus](fx)
	require.True(t, ok)
	assert.Equal(t, domain.CallStatusDeclined, status.Status)
	assert.True(t, hasEffect[StopRingTimer](fx))
	assert.True(t, hasEffect[ScheduleDismiss](fx))
	assert.Equal(t, domain.CallStateEnded, s.Active.State)
}

func TestPeerBusySurfacesWarning(t *testing.T) {
	self := uuid.New()
	s, callLogID, _ := startOutgoing(t, self)

	_, fx := Reduce(s, PeerBusy{eventBase: at(3 * time.Second), CallLogID: callLogID})

	warning, ok := effectOf[EmitWarning](fx)
	require.True(t, ok)
	assert.NotEmpty(t, warning.Message)

	status, ok := effectOf[UpdateStatus](fx)
	require.True(t, ok)
	assert.Equal(t, domain.CallStatusDeclined, status.Status)
}

func TestIncomingOfferWhileBusySendsBusySignal(t *testing.T) {
	self := uuid.New()
	s, _, _ := startOutgoing(t, self)

	other := domain.IncomingCall{
		CallLogID: uuid.New(),
		ChatID:    uuid.New(),
		SignalID:  uuid.New(),
		CallerID:  uuid.New(),
		Type:      domain.CallTypeVoice,
	}

	before := s.Active.CallLogID
	s, fx := Reduce(s, OfferReceived{eventBase: at(time.Second), Offer: other})

	sig, ok := effectOf[SendSignal](fx)
	require.True(t, ok)
	assert.Equal(t, domain.SignalBusy, sig.Type)
	assert.Equal(t, other.CallLogID, sig.CallLogID)

	// The ongoing call is untouched and no alert starts
	assert.Equal(t, before, s.Active.CallLogID)
	assert.Nil(t, s.Incoming)
	assert.False(t, hasEffect[StartRingtone](fx))
}

func TestAcceptIncomingCall(t *testing.T) {
	self := uuid.New()
	s, offer := receiveOffer(t, self)

	s, fx := Reduce(s, AcceptRequested{eventBase: at(3 * time.Second)})

	assert.Nil(t, s.Incoming)
	require.NotNil(t, s.Active)
	assert.Equal(t, domain.CallStateConnecting, s.Active.State)
	assert.Equal(t, offer.CallerID, s.Active.InitiatorID)

	assert.True(t, hasEffect[StopRingtone](fx))
	assert.True(t, hasEffect[StopRingTimer](fx))

	sig, ok := effectOf[SendSignal](fx)
	require.True(t, ok)
	assert.Equal(t, domain.SignalAnswer, sig.Type)

	status, ok := effectOf[UpdateStatus](fx)
	require.True(t, ok)
	assert.Equal(t, domain.CallStatusAnswered, status.Status)
	assert.True(t, hasEffect[RequestToken](fx))

	// Token lands and media joins, but the call stays connecting until the
	// caller's stream shows up
	s, fx = Reduce(s, TokenReady{eventBase: at(4 * time.Second), CallLogID: offer.CallLogID, Token: &domain.RTCToken{Token: "tok"}})
	assert.True(t, hasEffect[JoinMedia](fx))

	s, fx = Reduce(s, MediaJoined{eventBase: at(5 * time.Second), CallLogID: offer.CallLogID})
	assert.Equal(t, domain.CallStateConnecting, s.Active.State)
	assert.False(t, hasEffect[StartDurationTicker](fx))

	caller := domain.CallParticipant{ID: offer.CallerID, DisplayName: offer.CallerName, HasAudio: true}
	s, fx = Reduce(s, RemoteJoined{eventBase: at(6 * time.Second), CallLogID: offer.CallLogID, Participant: caller})
	assert.Equal(t, domain.CallStateConnected, s.Active.State)
	assert.True(t, hasEffect[StartDurationTicker](fx))
}

func TestDeclineIncomingCall(t *testing.T) {
	self := uuid.New()
	s, offer := receiveOffer(t, self)

	s, fx := Reduce(s, DeclineRequested{eventBase: at(2 * time.Second)})

	assert.True(t, s.Idle())
	assert.True(t, hasEffect[StopRingtone](fx))

	sig, ok := effectOf[SendSignal](fx)
	require.True(t, ok)
	assert.Equal(t, domain.SignalDecline, sig.Type)
	assert.Equal(t, offer.CallLogID, sig.CallLogID)

	status, ok := effectOf[UpdateStatus](fx)
	require.True(t, ok)
	assert.Equal(t, domain.CallStatusDeclined, status.Status)
}

func TestCallerCancelClearsIncomingOffer(t *testing.T) {
	self := uuid.New()
	s, offer := receiveOffer(t, self)

	s, fx := Reduce(s, PeerCancelled{eventBase: at(4 * time.Second), CallLogID: offer.CallLogID})

	assert.True(t, s.Idle())
	assert.True(t, hasEffect[StopRingtone](fx))
	assert.True(t, hasEffect[StopRingTimer](fx))
	// Log bookkeeping belongs to the caller side
	assert.False(t, hasEffect[UpdateStatus](fx))
}

func TestIncomingRingTimeoutClearsQuietly(t *testing.T) {
	self := uuid.New()
	s, offer := receiveOffer(t, self)

	s, fx := Reduce(s, RingTimedOut{eventBase: at(30 * time.Second), CallLogID: offer.CallLogID})

	assert.True(t, s.Idle())
	assert.True(t, hasEffect[StopRingtone](fx))
	assert.False(t, hasEffect[SendSignal](fx))
	assert.False(t, hasEffect[UpdateStatus](fx))
}

func TestPeerHangupEndsConnectedCall(t *testing.T) {
	self := uuid.New()
	s, callLogID, _ := connectOutgoing(t, self)

	s, fx := Reduce(s, PeerHungUp{eventBase: at(66 * time.Second), CallLogID: callLogID})

	end, ok := effectOf[EndLog](fx)
	require.True(t, ok)
	assert.Equal(t, 60, end.DurationSeconds)
	assert.True(t, hasEffect[StopDurationTicker](fx))
	assert.True(t, hasEffect[LeaveMedia](fx))
	// Only the side that hangs up posts the outcome message
	assert.False(t, hasEffect[PostOutcomeMessage](fx))
	assert.Equal(t, domain.CallStateEnded, s.Active.State)
}

func TestLastRemoteLeavingEndsCall(t *testing.T) {
	self := uuid.New()
	s, callLogID, peer := connectOutgoing(t, self)

	second := domain.CallParticipant{ID: uuid.New(), DisplayName: "Robel", HasAudio: true}
	s, _ = Reduce(s, RemoteJoined{eventBase: at(8 * time.Second), CallLogID: callLogID, Participant: second})
	require.Len(t, s.Active.Participants, 2)

	// One participant remaining keeps the call alive
	s, fx := Reduce(s, RemoteLeft{eventBase: at(15 * time.Second), CallLogID: callLogID, UID: rtctoken.DeriveUID(second.ID)})
	assert.Len(t, s.Active.Participants, 1)
	assert.False(t, hasEffect[EndLog](fx))
	assert.Equal(t, domain.CallStateConnected, s.Active.State)

	// The channel emptying out ends the call without waiting for a hangup
	// signal that may never come
	s, fx = Reduce(s, RemoteLeft{eventBase: at(20 * time.Second), CallLogID: callLogID, UID: rtctoken.DeriveUID(peer.ID)})

	end, ok := effectOf[EndLog](fx)
	require.True(t, ok)
	assert.Equal(t, 14, end.DurationSeconds)

	sig, ok := effectOf[SendSignal](fx)
	require.True(t, ok)
	assert.Equal(t, domain.SignalHangup, sig.Type)
	assert.True(t, hasEffect[StopDurationTicker](fx))
	assert.True(t, hasEffect[LeaveMedia](fx))
	assert.Equal(t, domain.CallStateEnded, s.Active.State)
}

func TestMediaFailureWhileConnectingFinalizesLog(t *testing.T) {
	self := uuid.New()
	s, offer := receiveOffer(t, self)

	s, _ = Reduce(s, AcceptRequested{eventBase: at(3 * time.Second)})
	require.Equal(t, domain.CallStateConnecting, s.Active.State)

	// The row was promoted to answered at accept; a failed join must still
	// close it out
	s, fx := Reduce(s, MediaFailed{eventBase: at(4 * time.Second), CallLogID: offer.CallLogID, Err: assert.AnError})

	end, ok := effectOf[EndLog](fx)
	require.True(t, ok)
	assert.Equal(t, 0, end.DurationSeconds)

	sig, ok := effectOf[SendSignal](fx)
	require.True(t, ok)
	assert.Equal(t, domain.SignalHangup, sig.Type)
	assert.True(t, hasEffect[EmitError](fx))
	assert.True(t, hasEffect[LeaveMedia](fx))
	assert.Equal(t, domain.CallStateEnded, s.Active.State)
}

func TestToggles(t *testing.T) {
	self := uuid.New()
	s, _, _ := connectOutgoing(t, self)

	s, fx := Reduce(s, ToggleRequested{eventBase: at(7 * time.Second), Control: ControlMute})
	assert.True(t, s.Active.IsMuted)
	media, ok := effectOf[SetMedia](fx)
	require.True(t, ok)
	assert.Equal(t, ControlMute, media.Control)
	assert.True(t, media.Enabled)

	s, _ = Reduce(s, ToggleRequested{eventBase: at(8 * time.Second), Control: ControlMute})
	assert.False(t, s.Active.IsMuted)

	s, fx = Reduce(s, ToggleRequested{eventBase: at(9 * time.Second), Control: ControlMinimize})
	assert.True(t, s.Active.IsMinimized)
	assert.False(t, hasEffect[SetMedia](fx))

	s, fx = Reduce(s, ToggleRequested{eventBase: at(10 * time.Second), Control: ControlScreen})
	assert.True(t, s.Active.IsScreenShared)
	assert.True(t, hasEffect[SetMedia](fx))
}

func TestDurationTicksAndVideoLimit(t *testing.T) {
	self := uuid.New()
	chatID := uuid.New()
	callLogID := uuid.New()

	s := NewState(self)
	s, _ = Reduce(s, StartRequested{eventBase: at(0), CallLogID: callLogID, ChatID: chatID, Type: domain.CallTypeVideo})
	s, _ = Reduce(s, TokenReady{eventBase: at(time.Second), CallLogID: callLogID, Token: &domain.RTCToken{Token: "tok"}})
	s, _ = Reduce(s, LogCreated{eventBase: at(time.Second), CallLogID: callLogID})
	s, _ = Reduce(s, MediaJoined{eventBase: at(time.Second), CallLogID: callLogID})
	s, _ = Reduce(s, PeerAnswered{eventBase: at(2 * time.Second), CallLogID: callLogID})
	peer := domain.CallParticipant{ID: uuid.New(), DisplayName: "Dana", HasVideo: true}
	s, _ = Reduce(s, RemoteJoined{eventBase: at(3 * time.Second), CallLogID: callLogID, Participant: peer})

	require.NotNil(t, s.Active.ConnectedAt)
	connected := *s.Active.ConnectedAt

	s, fx := Reduce(s, DurationTicked{eventBase: eventBase{At: connected.Add(10 * time.Second)}, CallLogID: callLogID})
	dur, ok := effectOf[EmitDuration](fx)
	require.True(t, ok)
	assert.Equal(t, 10, dur.Seconds)
	assert.False(t, hasEffect[EmitWarning](fx))

	// Warning fires once at the 55 minute mark
	s, fx = Reduce(s, DurationTicked{eventBase: eventBase{At: connected.Add(55 * time.Minute)}, CallLogID: callLogID})
	assert.True(t, hasEffect[EmitWarning](fx))

	s, fx = Reduce(s, DurationTicked{eventBase: eventBase{At: connected.Add(55*time.Minute + time.Second)}, CallLogID: callLogID})
	assert.False(t, hasEffect[EmitWarning](fx))

	// The hard cap hangs the call up
	s, fx = Reduce(s, DurationTicked{eventBase: eventBase{At: connected.Add(60 * time.Minute)}, CallLogID: callLogID})
	end, ok := effectOf[EndLog](fx)
	require.True(t, ok)
	assert.Equal(t, 3600, end.DurationSeconds)
	assert.Equal(t, domain.CallStateEnded, s.Active.State)
}

func TestDismissResetsTerminalState(t *testing.T) {
	self := uuid.New()
	s, callLogID, _ := connectOutgoing(t, self)
	s, _ = Reduce(s, HangupRequested{eventBase: at(10 * time.Second)})
	require.Equal(t, domain.CallStateEnded, s.Active.State)

	s, _ = Reduce(s, DismissElapsed{eventBase: at(13 * time.Second), CallLogID: callLogID})
	assert.True(t, s.Idle())

	// Ready for the next call immediately
	s, fx := Reduce(s, StartRequested{eventBase: at(14 * time.Second), CallLogID: uuid.New(), ChatID: uuid.New(), Type: domain.CallTypeVoice})
	assert.True(t, hasEffect[RequestToken](fx))
	assert.Equal(t, domain.CallStateInitiating, s.Active.State)
}

func TestDismissIgnoredWhileCallLive(t *testing.T) {
	self := uuid.New()
	s, _, _ := connectOutgoing(t, self)

	s, _ = Reduce(s, DismissRequested{eventBase: at(7 * time.Second)})
	assert.Equal(t, domain.CallStateConnected, s.Active.State)
}

func TestRemoteParticipants(t *testing.T) {
	self := uuid.New()
	s, callLogID, peer := connectOutgoing(t, self)
	require.Len(t, s.Active.Participants, 1)

	// Duplicate join is absorbed
	s, _ = Reduce(s, RemoteJoined{eventBase: at(7 * time.Second), CallLogID: callLogID, Participant: peer})
	assert.Len(t, s.Active.Participants, 1)

	second := domain.CallParticipant{ID: uuid.New(), DisplayName: "Robel", HasAudio: true}
	s, _ = Reduce(s, RemoteJoined{eventBase: at(8 * time.Second), CallLogID: callLogID, Participant: second})
	assert.Len(t, s.Active.Participants, 2)
}

func TestLaunchFailureLeavesNoActiveCall(t *testing.T) {
	self := uuid.New()
	callLogID := uuid.New()

	s := NewState(self)
	s, _ = Reduce(s, StartRequested{eventBase: at(0), CallLogID: callLogID, ChatID: uuid.New(), Type: domain.CallTypeVoice})
	s, _ = Reduce(s, TokenReady{eventBase: at(time.Second), CallLogID: callLogID, Token: &domain.RTCToken{Token: "tok"}})

	s, fx := Reduce(s, LogCreateFailed{eventBase: at(2 * time.Second), CallLogID: callLogID, Err: assert.AnError})
	assert.True(t, s.Idle())
	assert.True(t, hasEffect[EmitError](fx))
	assert.True(t, hasEffect[StopRingTimer](fx))
}
