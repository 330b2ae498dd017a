package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zemichat-backend/internal/domain"
	"zemichat-backend/internal/media"
	"zemichat-backend/pkg/rtctoken"
)

// fakeClock drives machine timers by hand
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	due     time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
	return true
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, due: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	return &fakeTicker{ch: make(chan time.Time)}
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

// Advance moves the clock and fires every timer that came due
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.due.After(c.now) {
			t.stopped = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

// recorder collects repository calls across the stub set
type recorder struct {
	mu            sync.Mutex
	createdLogs   []*domain.CallLog
	statusUpdates []domain.CallStatus
	endedDuration *int
	signals       []*domain.CallSignal
	deletedOwn    int
	published     []*domain.CallSignal
	pushes        []PushKind
	messages      []*domain.Message
}

func (r *recorder) signalTypes() []domain.SignalType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SignalType, len(r.signals))
	for i, s := range r.signals {
		out[i] = s.Type
	}
	return out
}

func (r *recorder) hasSignal(st domain.SignalType) bool {
	for _, got := range r.signalTypes() {
		if got == st {
			return true
		}
	}
	return false
}

type stubLogs struct{ rec *recorder }

func (s *stubLogs) Create(ctx context.Context, log *domain.CallLog) error {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.rec.createdLogs = append(s.rec.createdLogs, log)
	return nil
}

func (s *stubLogs) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CallStatus) error {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.rec.statusUpdates = append(s.rec.statusUpdates, status)
	return nil
}

func (s *stubLogs) End(ctx context.Context, id uuid.UUID, durationSeconds int) error {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.rec.endedDuration = &durationSeconds
	return nil
}

func (s *stubLogs) GetByID(ctx context.Context, id uuid.UUID) (*domain.CallLog, error) {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	for _, l := range s.rec.createdLogs {
		if l.ID == id {
			return l, nil
		}
	}
	return &domain.CallLog{ID: id, Type: domain.CallTypeVoice, Status: domain.CallStatusMissed}, nil
}

type stubSignals struct{ rec *recorder }

func (s *stubSignals) Insert(ctx context.Context, sig *domain.CallSignal) error {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.rec.signals = append(s.rec.signals, sig)
	return nil
}

func (s *stubSignals) DeleteOwn(ctx context.Context, callLogID, callerID uuid.UUID) error {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.rec.deletedOwn++
	return nil
}

type stubPublisher struct{ rec *recorder }

func (s *stubPublisher) Publish(ctx context.Context, sig *domain.CallSignal) error {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.rec.published = append(s.rec.published, sig)
	return nil
}

type stubTokens struct{}

func (stubTokens) IssueToken(ctx context.Context, userID, chatID, callLogID uuid.UUID, callType domain.CallType) (*domain.RTCToken, error) {
	return &domain.RTCToken{
		Token:   "006token",
		AppID:   "app",
		Channel: chatID.String(),
		UID:     rtctoken.DeriveUID(userID),
	}, nil
}

func (stubTokens) CanScreenShare(ctx context.Context, userID uuid.UUID) (bool, error) {
	return true, nil
}

type stubPresence struct{}

func (stubPresence) Join(ctx context.Context, callLogID, userID uuid.UUID) error  { return nil }
func (stubPresence) Leave(ctx context.Context, callLogID, userID uuid.UUID) error { return nil }
func (stubPresence) Clear(ctx context.Context, callLogID uuid.UUID) error         { return nil }

type stubPush struct{ rec *recorder }

func (s *stubPush) SendCallPush(ctx context.Context, kind PushKind, callLogID, chatID, callerID uuid.UUID, callType domain.CallType) (int, error) {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.rec.pushes = append(s.rec.pushes, kind)
	return 1, nil
}

type stubMessages struct{ rec *recorder }

func (s *stubMessages) Save(ctx context.Context, msg *domain.Message) error {
	s.rec.mu.Lock()
	defer s.rec.mu.Unlock()
	s.rec.messages = append(s.rec.messages, msg)
	return nil
}

type stubEngine struct {
	events chan media.Event
}

func newStubEngine() *stubEngine {
	return &stubEngine{events: make(chan media.Event)}
}

func (e *stubEngine) Join(ctx context.Context, token *domain.RTCToken, callType domain.CallType) error {
	return nil
}
func (e *stubEngine) Leave(ctx context.Context) error      { return nil }
func (e *stubEngine) SetMuted(bool) error                  { return nil }
func (e *stubEngine) SetVideoEnabled(bool) error           { return nil }
func (e *stubEngine) SetScreenShared(bool) error           { return nil }
func (e *stubEngine) Events() <-chan media.Event           { return e.events }
func (e *stubEngine) Close() error                         { close(e.events); return nil }

type stubAlerter struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (a *stubAlerter) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++
}

func (a *stubAlerter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
}

func newTestMachine(t *testing.T) (*Machine, *recorder, *fakeClock, *stubAlerter, uuid.UUID, context.CancelFunc) {
	t.Helper()

	rec := &recorder{}
	clock := newFakeClock()
	alerter := &stubAlerter{}
	self := uuid.New()

	m := NewMachine(self, Deps{
		Logs:      &stubLogs{rec: rec},
		Signals:   &stubSignals{rec: rec},
		Publisher: &stubPublisher{rec: rec},
		Tokens:    stubTokens{},
		Presence:  stubPresence{},
		Push:      &stubPush{rec: rec},
		Messages:  &stubMessages{rec: rec},
		Media:     newStubEngine(),
		Ringtone:  alerter,
		Clock:     clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)

	return m, rec, clock, alerter, self, cancel
}

// waitForCallState drains published updates until the active call reaches
// the wanted state
func waitForCallState(t *testing.T, m *Machine, want domain.CallState) {
	t.Helper()
	require.Eventually(t, func() bool {
		for {
			select {
			case u := <-m.Updates():
				if u.Active != nil && u.Active.State == want {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 5*time.Millisecond)
}

func TestMachineOutgoingCallRings(t *testing.T) {
	m, rec, _, alerter, self, cancel := newTestMachine(t)
	defer cancel()

	chatID := uuid.New()
	callLogID := m.StartCall(chatID, domain.CallTypeVoice)

	assert.Eventually(t, func() bool {
		return rec.hasSignal(domain.SignalRing)
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	require.Len(t, rec.createdLogs, 1)
	assert.Equal(t, callLogID, rec.createdLogs[0].ID)
	assert.Equal(t, domain.CallStatusMissed, rec.createdLogs[0].Status)
	assert.Equal(t, self, rec.createdLogs[0].InitiatorID)
	require.NotEmpty(t, rec.signals)
	assert.Equal(t, chatID, rec.signals[0].ChatID)
	assert.NotEmpty(t, rec.published)
	rec.mu.Unlock()

	// The caller's own device never rings audibly
	alerter.mu.Lock()
	assert.Zero(t, alerter.starts)
	alerter.mu.Unlock()

	// Invite push went out with the ring
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.pushes) == 1 && rec.pushes[0] == PushInvite
	}, time.Second, 5*time.Millisecond)
}

func TestMachineRingTimeoutCancelsCall(t *testing.T) {
	m, rec, clock, _, _, cancel := newTestMachine(t)
	defer cancel()

	m.StartCall(uuid.New(), domain.CallTypeVoice)

	assert.Eventually(t, func() bool {
		return rec.hasSignal(domain.SignalRing)
	}, time.Second, 5*time.Millisecond)

	clock.Advance(30 * time.Second)

	assert.Eventually(t, func() bool {
		return rec.hasSignal(domain.SignalCancel)
	}, time.Second, 5*time.Millisecond)

	// Missed push and cleanup follow; the log is never promoted
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.deletedOwn > 0 && len(rec.pushes) == 2
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	assert.Empty(t, rec.statusUpdates)
	assert.Equal(t, PushMissed, rec.pushes[1])
	rec.mu.Unlock()
}

func TestMachineBusyAutoDecline(t *testing.T) {
	m, rec, _, alerter, _, cancel := newTestMachine(t)
	defer cancel()

	m.StartCall(uuid.New(), domain.CallTypeVoice)
	assert.Eventually(t, func() bool {
		return rec.hasSignal(domain.SignalRing)
	}, time.Second, 5*time.Millisecond)

	otherCall := domain.IncomingCall{
		CallLogID: uuid.New(),
		ChatID:    uuid.New(),
		SignalID:  uuid.New(),
		CallerID:  uuid.New(),
		Type:      domain.CallTypeVoice,
	}
	m.handleEvent(OfferReceived{eventBase: m.now(), Offer: otherCall})

	assert.Eventually(t, func() bool {
		return rec.hasSignal(domain.SignalBusy)
	}, time.Second, 5*time.Millisecond)

	alerter.mu.Lock()
	assert.Zero(t, alerter.starts)
	alerter.mu.Unlock()
}

func TestMachineIncomingRingsAndAnswers(t *testing.T) {
	m, rec, _, alerter, _, cancel := newTestMachine(t)
	defer cancel()

	offer := domain.IncomingCall{
		CallLogID:  uuid.New(),
		ChatID:     uuid.New(),
		SignalID:   uuid.New(),
		CallerID:   uuid.New(),
		CallerName: "Dana",
		Type:       domain.CallTypeVoice,
	}
	m.handleEvent(OfferReceived{eventBase: m.now(), Offer: offer})

	assert.Eventually(t, func() bool {
		alerter.mu.Lock()
		defer alerter.mu.Unlock()
		return alerter.starts == 1
	}, time.Second, 5*time.Millisecond)

	m.Accept()

	assert.Eventually(t, func() bool {
		return rec.hasSignal(domain.SignalAnswer)
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.statusUpdates) == 1 && rec.statusUpdates[0] == domain.CallStatusAnswered
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		alerter.mu.Lock()
		defer alerter.mu.Unlock()
		return alerter.stops >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestMachineHangupFinalizesLogAndPostsMessage(t *testing.T) {
	m, rec, clock, _, _, cancel := newTestMachine(t)
	defer cancel()

	callLogID := m.StartCall(uuid.New(), domain.CallTypeVoice)
	assert.Eventually(t, func() bool {
		return rec.hasSignal(domain.SignalRing)
	}, time.Second, 5*time.Millisecond)

	m.handleEvent(PeerAnswered{eventBase: m.now(), CallLogID: callLogID})
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.statusUpdates) == 1
	}, time.Second, 5*time.Millisecond)

	// The callee's published stream completes the connection
	peer := domain.CallParticipant{ID: uuid.New(), DisplayName: "Dana", HasAudio: true}
	m.handleEvent(RemoteJoined{eventBase: m.now(), CallLogID: callLogID, Participant: peer})
	waitForCallState(t, m, domain.CallStateConnected)

	clock.Advance(12 * time.Second)
	m.HangUp()

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.endedDuration != nil
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, 12, *rec.endedDuration)
	rec.mu.Unlock()

	assert.Eventually(t, func() bool {
		return rec.hasSignal(domain.SignalHangup)
	}, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.messages) == 1
	}, time.Second, 5*time.Millisecond)
}
