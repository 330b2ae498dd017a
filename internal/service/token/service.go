package token

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zemichat-backend/internal/domain"
	"zemichat-backend/pkg/constants"
	apperrors "zemichat-backend/pkg/errors"
	"zemichat-backend/pkg/logger"
	"zemichat-backend/pkg/rtctoken"
)

// UserStore resolves user profiles and texter capability flags
type UserStore interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetTexterSettings(ctx context.Context, userID uuid.UUID) (*domain.TexterSettings, error)
}

// MemberStore answers chat membership queries
type MemberStore interface {
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
}

// PresenceStore counts who is currently inside a call
type PresenceStore interface {
	Count(ctx context.Context, callLogID uuid.UUID) (int, error)
}

// Service issues media join tokens. Every check runs before the token is
// built; a denied request leaves no trace anywhere.
type Service struct {
	users    UserStore
	members  MemberStore
	presence PresenceStore
	builder  rtctoken.Builder
	now      func() time.Time
}

// NewService creates a new token service
func NewService(users UserStore, members MemberStore, presence PresenceStore, builder rtctoken.Builder) *Service {
	return &Service{
		users:    users,
		members:  members,
		presence: presence,
		builder:  builder,
		now:      time.Now,
	}
}

// IssueToken validates membership, capability and capacity for userID, then
// builds a join token for the chat's media channel.
//
// Check order is fixed: membership, capability, capacity. The first failure
// wins and nothing is issued.
func (s *Service) IssueToken(ctx context.Context, userID, chatID, callLogID uuid.UUID, callType domain.CallType) (*domain.RTCToken, error) {
	if !callType.Valid() {
		return nil, apperrors.InvalidInputError("unknown call type")
	}

	isMember, err := s.members.IsMember(ctx, chatID, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !isMember {
		return nil, apperrors.NotAMemberError()
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if user.Role == domain.RoleTexter {
		settings, err := s.users.GetTexterSettings(ctx, userID)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		// A texter without a settings row has no call capabilities
		if settings == nil || !settings.AllowsCall(callType) {
			return nil, apperrors.PermissionDeniedError("calling is not enabled for this account")
		}
	}

	count, err := s.presence.Count(ctx, callLogID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if count >= constants.MaxCallParticipants {
		return nil, apperrors.CapacityExceededError()
	}

	channel := chatID.String()
	uid := rtctoken.DeriveUID(userID)
	expiresAt := s.now().Add(constants.TokenPrivilegeExpiry)

	tokenStr, err := s.builder.Build(channel, uid, rtctoken.RolePublisher, expiresAt)
	if err != nil {
		return nil, apperrors.InternalError("failed to build media token")
	}

	logger.Debug("media token issued",
		zap.String("chat_id", chatID.String()),
		zap.String("user_id", userID.String()),
		zap.Uint32("uid", uid))

	return &domain.RTCToken{
		Token:   tokenStr,
		AppID:   s.builder.AppID(),
		Channel: channel,
		UID:     uid,
	}, nil
}

// CanScreenShare reports whether the user may start screen sharing.
// Owners and supers always can; texters need the flag.
func (s *Service) CanScreenShare(ctx context.Context, userID uuid.UUID) (bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return false, apperrors.DatabaseError(err)
	}

	if user.Role != domain.RoleTexter {
		return true, nil
	}

	settings, err := s.users.GetTexterSettings(ctx, userID)
	if err != nil {
		return false, apperrors.DatabaseError(err)
	}

	return settings != nil && settings.CanScreenShare, nil
}
