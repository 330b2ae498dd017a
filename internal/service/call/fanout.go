package call

import (
	"context"

	"github.com/google/uuid"

	"zemichat-backend/internal/domain"
	"zemichat-backend/pkg/metrics"
	"zemichat-backend/pkg/push"
	"zemichat-backend/pkg/sanitize"
)

// MemberLister resolves the other active members of a chat
type MemberLister interface {
	OtherMembers(ctx context.Context, chatID, userID uuid.UUID) ([]*domain.User, error)
}

// PushSender delivers a notification to the devices of a set of users
type PushSender interface {
	SendToUsers(ctx context.Context, notification *push.Notification, userIDs []uuid.UUID) (int, error)
}

// Fanout sends call notifications to everyone in the chat except the
// caller. It implements PushNotifier for the machine and also backs the
// HTTP push endpoint.
type Fanout struct {
	members MemberLister
	users   UserStore
	sender  PushSender
	metrics *metrics.Metrics
}

// NewFanout creates a push fanout
func NewFanout(members MemberLister, users UserStore, sender PushSender, m *metrics.Metrics) *Fanout {
	return &Fanout{
		members: members,
		users:   users,
		sender:  sender,
		metrics: m,
	}
}

// SendCallPush notifies the other chat members about a call action and
// returns the number of devices reached
func (f *Fanout) SendCallPush(ctx context.Context, kind PushKind, callLogID, chatID, callerID uuid.UUID, callType domain.CallType) (int, error) {
	caller, err := f.users.GetByID(ctx, callerID)
	if err != nil {
		f.record(kind, "error")
		return 0, err
	}

	others, err := f.members.OtherMembers(ctx, chatID, callerID)
	if err != nil {
		f.record(kind, "error")
		return 0, err
	}
	if len(others) == 0 {
		return 0, nil
	}

	recipients := make([]uuid.UUID, 0, len(others))
	for _, u := range others {
		recipients = append(recipients, u.ID)
	}

	// Display names end up in notification payloads as-is
	callerName := sanitize.DisplayName(caller.DisplayName)

	var notification *push.Notification
	switch kind {
	case PushMissed:
		notification = push.NewMissedCall(callLogID, chatID, callerName, string(callType))
	default:
		notification = push.NewCallInvite(callLogID, chatID, callerID, callerName, string(callType))
	}

	sent, err := f.sender.SendToUsers(ctx, notification, recipients)
	if err != nil {
		f.record(kind, "error")
		return 0, err
	}

	f.record(kind, "ok")
	return sent, nil
}

func (f *Fanout) record(kind PushKind, result string) {
	if f.metrics != nil {
		f.metrics.RecordPush(string(kind), result)
	}
}
