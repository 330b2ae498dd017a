package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zemichat-backend/internal/domain"
	"zemichat-backend/internal/media"
	"zemichat-backend/pkg/constants"
	apperrors "zemichat-backend/pkg/errors"
	"zemichat-backend/pkg/logger"
	"zemichat-backend/pkg/metrics"
)

// CallLogStore persists call log rows
type CallLogStore interface {
	Create(ctx context.Context, log *domain.CallLog) error
	UpdateStatus(ctx context.Context, callLogID uuid.UUID, status domain.CallStatus) error
	End(ctx context.Context, callLogID uuid.UUID, durationSeconds int) error
	GetByID(ctx context.Context, callLogID uuid.UUID) (*domain.CallLog, error)
}

// SignalStore persists signal rows
type SignalStore interface {
	Insert(ctx context.Context, signal *domain.CallSignal) error
	DeleteOwn(ctx context.Context, callLogID, callerID uuid.UUID) error
}

// SignalPublisher fans an inserted signal out to live subscribers
type SignalPublisher interface {
	Publish(ctx context.Context, signal *domain.CallSignal) error
}

// TokenIssuer issues media join tokens and answers capability questions
type TokenIssuer interface {
	IssueToken(ctx context.Context, userID, chatID, callLogID uuid.UUID, callType domain.CallType) (*domain.RTCToken, error)
	CanScreenShare(ctx context.Context, userID uuid.UUID) (bool, error)
}

// PresenceStore tracks who is inside a call's media channel
type PresenceStore interface {
	Join(ctx context.Context, callLogID, userID uuid.UUID) error
	Leave(ctx context.Context, callLogID, userID uuid.UUID) error
	Clear(ctx context.Context, callLogID uuid.UUID) error
}

// PushNotifier fans call notifications out to the other chat members
type PushNotifier interface {
	SendCallPush(ctx context.Context, kind PushKind, callLogID, chatID, callerID uuid.UUID, callType domain.CallType) (int, error)
}

// MessagePoster writes the call outcome system message
type MessagePoster interface {
	Save(ctx context.Context, msg *domain.Message) error
}

// Alerter drives the local ringing alert
type Alerter interface {
	Start()
	Stop()
}

// Update is a state change pushed to machine observers
type Update struct {
	Active   *domain.ActiveCall
	Incoming *domain.IncomingCall
	Duration int
	Warning  string
	Err      error
}

// Deps bundles everything the machine acts through
type Deps struct {
	Logs      CallLogStore
	Signals   SignalStore
	Publisher SignalPublisher
	Tokens    TokenIssuer
	Presence  PresenceStore
	Push      PushNotifier
	Messages  MessagePoster
	Media     media.Engine
	Ringtone  Alerter
	Metrics   *metrics.Metrics
	Clock     Clock
}

// Machine runs one device's call lifecycle. All state lives behind a single
// event loop; commands, signals, async results and timers all arrive as
// events and pass through the reducer one at a time.
type Machine struct {
	self  uuid.UUID
	state State
	deps  Deps

	events  chan Event
	updates chan Update

	ringTimer    Timer
	dismissTimer Timer
	tickerStop   chan struct{}
}

// NewMachine creates a machine for the given user
func NewMachine(selfID uuid.UUID, deps Deps) *Machine {
	if deps.Clock == nil {
		deps.Clock = NewClock()
	}
	return &Machine{
		self:    selfID,
		state:   NewState(selfID),
		deps:    deps,
		events:  make(chan Event, 64),
		updates: make(chan Update, 32),
	}
}

// Updates delivers state changes to the observer. Slow consumers lose
// intermediate updates, never the loop.
func (m *Machine) Updates() <-chan Update {
	return m.updates
}

// Run processes events until ctx is cancelled
func (m *Machine) Run(ctx context.Context) {
	defer m.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			wasLive := m.live()
			var effects []Effect
			m.state, effects = Reduce(m.state, ev)
			for _, eff := range effects {
				m.execute(ctx, eff)
			}
			m.trackLiveness(wasLive)
			m.publishState()
		case mediaEv, ok := <-m.deps.Media.Events():
			if !ok {
				return
			}
			m.handleMediaEvent(mediaEv)
		}
	}
}

func (m *Machine) cleanup() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
	}
	if m.dismissTimer != nil {
		m.dismissTimer.Stop()
	}
	if m.tickerStop != nil {
		close(m.tickerStop)
		m.tickerStop = nil
	}
	m.deps.Ringtone.Stop()
}

func (m *Machine) now() eventBase {
	return eventBase{At: m.deps.Clock.Now()}
}

func (m *Machine) dispatch(ev Event) {
	select {
	case m.events <- ev:
	default:
		// A full queue means the loop is wedged; dropping is the only
		// option that cannot deadlock a timer callback
		logger.Error("call event queue full, dropping event")
	}
}

// Commands

// StartCall places an outgoing call and returns its call log id
func (m *Machine) StartCall(chatID uuid.UUID, callType domain.CallType) uuid.UUID {
	callLogID := uuid.New()
	m.dispatch(StartRequested{
		eventBase: m.now(),
		CallLogID: callLogID,
		ChatID:    chatID,
		Type:      callType,
	})
	return callLogID
}

// Accept answers the pending incoming call
func (m *Machine) Accept() {
	m.dispatch(AcceptRequested{eventBase: m.now()})
}

// Decline rejects the pending incoming call
func (m *Machine) Decline() {
	m.dispatch(DeclineRequested{eventBase: m.now()})
}

// HangUp ends or cancels the current call
func (m *Machine) HangUp() {
	m.dispatch(HangupRequested{eventBase: m.now()})
}

// Dismiss clears a terminal call from the screen
func (m *Machine) Dismiss() {
	m.dispatch(DismissRequested{eventBase: m.now()})
}

// ToggleMute flips the local microphone
func (m *Machine) ToggleMute() {
	m.dispatch(ToggleRequested{eventBase: m.now(), Control: ControlMute})
}

// ToggleVideo flips the local camera
func (m *Machine) ToggleVideo() {
	m.dispatch(ToggleRequested{eventBase: m.now(), Control: ControlVideo})
}

// ToggleMinimize flips the in-call UI between full and floating
func (m *Machine) ToggleMinimize() {
	m.dispatch(ToggleRequested{eventBase: m.now(), Control: ControlMinimize})
}

// ToggleScreenShare flips screen sharing after checking the capability.
// The capability check happens here so a denied texter changes nothing.
func (m *Machine) ToggleScreenShare(ctx context.Context) error {
	ok, err := m.deps.Tokens.CanScreenShare(ctx, m.self)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.PermissionDeniedError("screen sharing is not enabled for this account")
	}
	m.dispatch(ToggleRequested{eventBase: m.now(), Control: ControlScreen})
	return nil
}

// HandleSignal feeds a dispatcher-translated event into the loop
func (m *Machine) handleEvent(ev Event) {
	m.dispatch(ev)
}

func (m *Machine) handleMediaEvent(ev media.Event) {
	if m.state.Active == nil {
		return
	}
	callLogID := m.state.Active.CallLogID

	switch ev.Type {
	case media.EventParticipantJoined:
		if ev.Participant == nil {
			return
		}
		m.dispatch(RemoteJoined{eventBase: m.now(), CallLogID: callLogID, Participant: *ev.Participant})
	case media.EventParticipantLeft:
		m.dispatch(RemoteLeft{eventBase: m.now(), CallLogID: callLogID, UID: ev.UID})
	case media.EventChannelError:
		m.dispatch(MediaFailed{eventBase: m.now(), CallLogID: callLogID, Err: ev.Err})
	}
}

// Effect execution. Anything that can block runs in its own goroutine and
// reports back as an event carrying the call log id, so results landing
// after the call moved on are ignored by the reducer.
func (m *Machine) execute(ctx context.Context, eff Effect) {
	switch eff := eff.(type) {
	case CreateCallLog:
		go m.createCallLog(ctx, eff)
	case RequestToken:
		go m.requestToken(ctx, eff)
	case SendSignal:
		go m.sendSignal(ctx, eff)
	case DeleteOwnSignals:
		go m.deleteOwnSignals(ctx, eff)
	case UpdateStatus:
		go m.updateStatus(ctx, eff)
	case EndLog:
		go m.endLog(ctx, eff)
	case JoinMedia:
		go m.joinMedia(ctx, eff)
	case LeaveMedia:
		go m.leaveMedia(ctx, eff)
	case SetMedia:
		m.setMedia(eff)
	case StartRingTimer:
		m.startRingTimer(eff)
	case StopRingTimer:
		m.stopRingTimer()
	case StartRingtone:
		m.deps.Ringtone.Start()
	case StopRingtone:
		m.deps.Ringtone.Stop()
	case StartDurationTicker:
		m.startDurationTicker(eff)
	case StopDurationTicker:
		m.stopDurationTicker()
	case ScheduleDismiss:
		m.scheduleDismiss(eff)
	case RecordOutcome:
		if m.deps.Metrics != nil {
			m.deps.Metrics.RecordCallOutcome(string(eff.Type), string(eff.Status), time.Duration(eff.DurationSeconds)*time.Second)
		}
	case SendPush:
		go m.sendPush(ctx, eff)
	case PostOutcomeMessage:
		go m.postOutcomeMessage(ctx, eff)
	case EmitDuration:
		m.publish(Update{Duration: eff.Seconds})
	case EmitWarning:
		m.publish(Update{Warning: eff.Message})
	case EmitError:
		m.publish(Update{Err: eff.Err})
	}
}

func (m *Machine) createCallLog(ctx context.Context, eff CreateCallLog) {
	log := &domain.CallLog{
		ID:          eff.CallLogID,
		ChatID:      eff.ChatID,
		InitiatorID: m.self,
		Type:        eff.Type,
		Status:      domain.CallStatusMissed,
	}
	if err := m.deps.Logs.Create(ctx, log); err != nil {
		m.dispatch(LogCreateFailed{eventBase: m.now(), CallLogID: eff.CallLogID, Err: err})
		return
	}
	if m.deps.Metrics != nil {
		m.deps.Metrics.RecordCallInitiated(string(eff.Type))
	}
	m.dispatch(LogCreated{eventBase: m.now(), CallLogID: eff.CallLogID})
}

func (m *Machine) requestToken(ctx context.Context, eff RequestToken) {
	token, err := m.deps.Tokens.IssueToken(ctx, m.self, eff.ChatID, eff.CallLogID, eff.Type)
	if err != nil {
		m.dispatch(TokenFailed{eventBase: m.now(), CallLogID: eff.CallLogID, Err: err})
		return
	}
	m.dispatch(TokenReady{eventBase: m.now(), CallLogID: eff.CallLogID, Token: token})
}

func (m *Machine) sendSignal(ctx context.Context, eff SendSignal) {
	signal := &domain.CallSignal{
		ID:        uuid.New(),
		ChatID:    eff.ChatID,
		CallLogID: eff.CallLogID,
		CallerID:  m.self,
		Type:      eff.Type,
		ExpiresAt: m.deps.Clock.Now().Add(constants.SignalExpiry),
	}

	if err := m.deps.Signals.Insert(ctx, signal); err != nil {
		logger.Error("failed to insert call signal",
			zap.String("signal_type", string(eff.Type)),
			zap.String("call_log_id", eff.CallLogID.String()),
			zap.Error(err))
		return
	}

	if err := m.deps.Publisher.Publish(ctx, signal); err != nil {
		logger.Warn("failed to publish call signal",
			zap.String("signal_type", string(eff.Type)),
			zap.Error(err))
	}
}

func (m *Machine) deleteOwnSignals(ctx context.Context, eff DeleteOwnSignals) {
	if err := m.deps.Signals.DeleteOwn(ctx, eff.CallLogID, m.self); err != nil {
		logger.Warn("failed to clean up call signals",
			zap.String("call_log_id", eff.CallLogID.String()),
			zap.Error(err))
	}
}

func (m *Machine) updateStatus(ctx context.Context, eff UpdateStatus) {
	if err := m.deps.Logs.UpdateStatus(ctx, eff.CallLogID, eff.Status); err != nil {
		logger.Error("failed to update call status",
			zap.String("call_log_id", eff.CallLogID.String()),
			zap.String("status", string(eff.Status)),
			zap.Error(err))
	}
}

func (m *Machine) endLog(ctx context.Context, eff EndLog) {
	if err := m.deps.Logs.End(ctx, eff.CallLogID, eff.DurationSeconds); err != nil {
		logger.Error("failed to finalize call log",
			zap.String("call_log_id", eff.CallLogID.String()),
			zap.Error(err))
	}
	if err := m.deps.Presence.Clear(ctx, eff.CallLogID); err != nil {
		logger.Warn("failed to clear call presence", zap.Error(err))
	}
}

func (m *Machine) joinMedia(ctx context.Context, eff JoinMedia) {
	if err := m.deps.Presence.Join(ctx, eff.CallLogID, m.self); err != nil {
		logger.Warn("failed to record call presence", zap.Error(err))
	}
	if err := m.deps.Media.Join(ctx, eff.Token, eff.Type); err != nil {
		m.dispatch(MediaFailed{eventBase: m.now(), CallLogID: eff.CallLogID, Err: err})
		return
	}
	m.dispatch(MediaJoined{eventBase: m.now(), CallLogID: eff.CallLogID})
}

func (m *Machine) leaveMedia(ctx context.Context, eff LeaveMedia) {
	if err := m.deps.Media.Leave(ctx); err != nil {
		logger.Warn("failed to leave media channel", zap.Error(err))
	}
	if err := m.deps.Presence.Leave(ctx, eff.CallLogID, m.self); err != nil {
		logger.Warn("failed to clear own call presence", zap.Error(err))
	}
}

func (m *Machine) setMedia(eff SetMedia) {
	var err error
	switch eff.Control {
	case ControlMute:
		err = m.deps.Media.SetMuted(eff.Enabled)
	case ControlVideo:
		err = m.deps.Media.SetVideoEnabled(eff.Enabled)
	case ControlScreen:
		err = m.deps.Media.SetScreenShared(eff.Enabled)
	}
	if err != nil {
		logger.Warn("media toggle failed",
			zap.String("control", string(eff.Control)),
			zap.Error(err))
	}
}

func (m *Machine) startRingTimer(eff StartRingTimer) {
	m.stopRingTimer()
	callLogID := eff.CallLogID
	m.ringTimer = m.deps.Clock.AfterFunc(constants.RingTimeout, func() {
		m.dispatch(RingTimedOut{eventBase: m.now(), CallLogID: callLogID})
	})
}

func (m *Machine) stopRingTimer() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
}

func (m *Machine) startDurationTicker(eff StartDurationTicker) {
	m.stopDurationTicker()

	stop := make(chan struct{})
	m.tickerStop = stop
	callLogID := eff.CallLogID
	ticker := m.deps.Clock.NewTicker(time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C():
				m.dispatch(DurationTicked{eventBase: m.now(), CallLogID: callLogID})
			}
		}
	}()
}

func (m *Machine) stopDurationTicker() {
	if m.tickerStop != nil {
		close(m.tickerStop)
		m.tickerStop = nil
	}
}

func (m *Machine) scheduleDismiss(eff ScheduleDismiss) {
	if m.dismissTimer != nil {
		m.dismissTimer.Stop()
	}
	callLogID := eff.CallLogID
	m.dismissTimer = m.deps.Clock.AfterFunc(constants.EndedDismissDelay, func() {
		m.dispatch(DismissElapsed{eventBase: m.now(), CallLogID: callLogID})
	})
}

func (m *Machine) sendPush(ctx context.Context, eff SendPush) {
	sent, err := m.deps.Push.SendCallPush(ctx, eff.Kind, eff.CallLogID, eff.ChatID, m.self, eff.Type)
	if err != nil {
		// Push is best effort; the signal row still reaches online devices
		logger.Warn("call push fanout failed",
			zap.String("call_log_id", eff.CallLogID.String()),
			zap.Error(err))
		return
	}
	logger.Debug("call push fanout completed",
		zap.String("call_log_id", eff.CallLogID.String()),
		zap.Int("devices", sent))
}

func (m *Machine) postOutcomeMessage(ctx context.Context, eff PostOutcomeMessage) {
	log, err := m.deps.Logs.GetByID(ctx, eff.CallLogID)
	if err != nil {
		logger.Warn("failed to load call log for outcome message", zap.Error(err))
		return
	}
	msg := domain.NewCallOutcomeMessage(log)
	if err := m.deps.Messages.Save(ctx, msg); err != nil {
		logger.Warn("failed to post call outcome message",
			zap.String("call_log_id", eff.CallLogID.String()),
			zap.Error(err))
	}
}

// live reports whether the machine holds a call in a non-terminal state
func (m *Machine) live() bool {
	return m.state.Active != nil && m.state.Active.State != domain.CallStateEnded
}

func (m *Machine) trackLiveness(wasLive bool) {
	if m.deps.Metrics == nil {
		return
	}
	if !wasLive && m.live() {
		m.deps.Metrics.CallStarted()
	} else if wasLive && !m.live() {
		m.deps.Metrics.CallEnded()
	}
}

func (m *Machine) publishState() {
	m.publish(Update{
		Active:   m.state.Active,
		Incoming: m.state.Incoming,
	})
}

func (m *Machine) publish(u Update) {
	select {
	case m.updates <- u:
	default:
	}
}
