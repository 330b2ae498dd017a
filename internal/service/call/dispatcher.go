package call

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zemichat-backend/internal/domain"
	"zemichat-backend/pkg/logger"
	"zemichat-backend/pkg/metrics"
)

// UserStore resolves signal senders to display identities
type UserStore interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

const dedupeWindow = 512

// Dispatcher turns raw signal rows into machine events. It drops echoes of
// this device's own signals, expired rows, and anything already seen; the
// machine never learns such signals existed. Signals for different calls
// are kept apart by call log id, so delivery order across calls does not
// matter.
type Dispatcher struct {
	self    uuid.UUID
	machine *Machine
	logs    CallLogStore
	users   UserStore
	clock   Clock
	metrics *metrics.Metrics

	seen  map[uuid.UUID]struct{}
	order []uuid.UUID
}

// NewDispatcher creates a dispatcher feeding the given machine
func NewDispatcher(selfID uuid.UUID, machine *Machine, logs CallLogStore, users UserStore, clock Clock, m *metrics.Metrics) *Dispatcher {
	if clock == nil {
		clock = NewClock()
	}
	return &Dispatcher{
		self:    selfID,
		machine: machine,
		logs:    logs,
		users:   users,
		clock:   clock,
		metrics: m,
		seen:    make(map[uuid.UUID]struct{}, dedupeWindow),
	}
}

// Run consumes signals from the stream until ctx is cancelled or the
// channel closes
func (d *Dispatcher) Run(ctx context.Context, signals <-chan *domain.CallSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			d.Handle(ctx, sig)
		}
	}
}

// Handle filters one signal and dispatches the matching event
func (d *Dispatcher) Handle(ctx context.Context, sig *domain.CallSignal) {
	if sig.CallerID == d.self {
		// Own signals echo back through the stream; they carry no news
		return
	}

	if d.isDuplicate(sig.ID) {
		d.drop("duplicate")
		return
	}

	now := d.clock.Now()
	if sig.Expired(now) {
		d.drop("expired")
		return
	}

	if !sig.Type.Valid() {
		d.drop("malformed")
		return
	}

	d.remember(sig.ID)

	base := eventBase{At: now}
	switch sig.Type {
	case domain.SignalRing:
		offer, err := d.resolveOffer(ctx, sig)
		if err != nil {
			logger.Warn("failed to resolve incoming call offer",
				zap.String("call_log_id", sig.CallLogID.String()),
				zap.Error(err))
			d.drop("unresolvable")
			return
		}
		d.machine.handleEvent(OfferReceived{eventBase: base, Offer: *offer})
	case domain.SignalAnswer:
		d.machine.handleEvent(PeerAnswered{eventBase: base, CallLogID: sig.CallLogID})
	case domain.SignalDecline:
		d.machine.handleEvent(PeerDeclined{eventBase: base, CallLogID: sig.CallLogID})
	case domain.SignalBusy:
		d.machine.handleEvent(PeerBusy{eventBase: base, CallLogID: sig.CallLogID})
	case domain.SignalCancel:
		d.machine.handleEvent(PeerCancelled{eventBase: base, CallLogID: sig.CallLogID})
	case domain.SignalHangup:
		d.machine.handleEvent(PeerHungUp{eventBase: base, CallLogID: sig.CallLogID})
	}

	if d.metrics != nil {
		d.metrics.RecordSignalDispatched(string(sig.Type))
	}
}

// resolveOffer enriches a ring signal with the call type from the log row
// and the caller's display identity
func (d *Dispatcher) resolveOffer(ctx context.Context, sig *domain.CallSignal) (*domain.IncomingCall, error) {
	log, err := d.logs.GetByID(ctx, sig.CallLogID)
	if err != nil {
		return nil, err
	}

	caller, err := d.users.GetByID(ctx, sig.CallerID)
	if err != nil {
		return nil, err
	}

	return &domain.IncomingCall{
		CallLogID:    sig.CallLogID,
		ChatID:       sig.ChatID,
		SignalID:     sig.ID,
		CallerID:     sig.CallerID,
		CallerName:   caller.DisplayName,
		CallerAvatar: caller.AvatarURL,
		Type:         log.Type,
	}, nil
}

func (d *Dispatcher) isDuplicate(signalID uuid.UUID) bool {
	_, ok := d.seen[signalID]
	return ok
}

// remember records a signal id, evicting the oldest entries once the
// window fills
func (d *Dispatcher) remember(signalID uuid.UUID) {
	if len(d.order) >= dedupeWindow {
		evict := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, evict)
	}
	d.seen[signalID] = struct{}{}
	d.order = append(d.order, signalID)
}

func (d *Dispatcher) drop(reason string) {
	if d.metrics != nil {
		d.metrics.RecordSignalDropped(reason)
	}
}
