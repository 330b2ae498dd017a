package history

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zemichat-backend/internal/domain"
	apperrors "zemichat-backend/pkg/errors"
	"zemichat-backend/pkg/logger"
)

const defaultLimit = 50
const maxLimit = 200

// CallLogStore reads call log rows
type CallLogStore interface {
	ListForUser(ctx context.Context, userID uuid.UUID, missedOnly bool, limit int) ([]*domain.CallLog, error)
	ListByChat(ctx context.Context, chatID uuid.UUID, limit int) ([]*domain.CallLog, error)
}

// MemberStore answers chat membership queries
type MemberStore interface {
	IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error)
	OtherMembers(ctx context.Context, chatID, userID uuid.UUID) ([]*domain.User, error)
}

// UserStore resolves user identities
type UserStore interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Participant is the display identity attached to a history entry
type Participant struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
}

// Entry is one call in a user's history, annotated with the counterpart
// to display. For calls the user started that is the first other chat
// member; otherwise it is the initiator.
type Entry struct {
	*domain.CallLog
	OtherParticipant *Participant `json:"other_participant,omitempty"`
	IsOutgoing       bool         `json:"is_outgoing"`
}

// Service assembles call history views
type Service struct {
	logs    CallLogStore
	members MemberStore
	users   UserStore
}

// NewService creates a new history service
func NewService(logs CallLogStore, members MemberStore, users UserStore) *Service {
	return &Service{
		logs:    logs,
		members: members,
		users:   users,
	}
}

// ListForUser returns the user's call history across all their chats,
// newest first. missedOnly restricts to calls the user did not pick up.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, missedOnly bool, limit int) ([]*Entry, error) {
	limit = clampLimit(limit)

	logs, err := s.logs.ListForUser(ctx, userID, missedOnly, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	return s.annotate(ctx, userID, logs), nil
}

// ListByChat returns the call history of one chat. The requester must be
// an active member.
func (s *Service) ListByChat(ctx context.Context, userID, chatID uuid.UUID, limit int) ([]*Entry, error) {
	limit = clampLimit(limit)

	isMember, err := s.members.IsMember(ctx, chatID, userID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if !isMember {
		return nil, apperrors.NotAMemberError()
	}

	logs, err := s.logs.ListByChat(ctx, chatID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	return s.annotate(ctx, userID, logs), nil
}

// annotate resolves the display counterpart of each log. Identity lookups
// are cached per call; a failed lookup leaves the entry bare rather than
// failing the whole listing.
func (s *Service) annotate(ctx context.Context, userID uuid.UUID, logs []*domain.CallLog) []*Entry {
	userCache := make(map[uuid.UUID]*Participant)
	chatCache := make(map[uuid.UUID]*Participant)

	entries := make([]*Entry, 0, len(logs))
	for _, log := range logs {
		entry := &Entry{
			CallLog:    log,
			IsOutgoing: log.InitiatorID == userID,
		}

		if entry.IsOutgoing {
			entry.OtherParticipant = s.firstOtherMember(ctx, log.ChatID, userID, chatCache)
		} else {
			entry.OtherParticipant = s.lookupUser(ctx, log.InitiatorID, userCache)
		}

		entries = append(entries, entry)
	}

	return entries
}

func (s *Service) lookupUser(ctx context.Context, userID uuid.UUID, cache map[uuid.UUID]*Participant) *Participant {
	if p, ok := cache[userID]; ok {
		return p
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		logger.Warn("failed to resolve history participant",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		cache[userID] = nil
		return nil
	}

	p := &Participant{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
	}
	cache[userID] = p
	return p
}

func (s *Service) firstOtherMember(ctx context.Context, chatID, userID uuid.UUID, cache map[uuid.UUID]*Participant) *Participant {
	if p, ok := cache[chatID]; ok {
		return p
	}

	others, err := s.members.OtherMembers(ctx, chatID, userID)
	if err != nil || len(others) == 0 {
		if err != nil {
			logger.Warn("failed to resolve chat members for history",
				zap.String("chat_id", chatID.String()),
				zap.Error(err))
		}
		cache[chatID] = nil
		return nil
	}

	p := &Participant{
		ID:          others[0].ID,
		DisplayName: others[0].DisplayName,
		AvatarURL:   others[0].AvatarURL,
	}
	cache[chatID] = p
	return p
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
