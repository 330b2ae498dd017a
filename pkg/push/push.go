package push

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zemichat-backend/pkg/logger"
)

// Provider sends push notifications to a set of device tokens
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification payload
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Badge    *int              `json:"badge,omitempty"`
	Category string            `json:"category,omitempty"`
	VoIP     bool              `json:"voip,omitempty"`
}

// NewCallInvite builds the high-priority notification that wakes a callee's
// device when a call starts ringing.
func NewCallInvite(callLogID, chatID, callerID uuid.UUID, callerName, callType string) *Notification {
	return &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", callerName),
		Priority: "high",
		Sound:    "ringtone",
		Category: "INCOMING_CALL",
		VoIP:     true,
		Data: map[string]string{
			"type":        "call_invite",
			"call_log_id": callLogID.String(),
			"chat_id":     chatID.String(),
			"caller_id":   callerID.String(),
			"caller_name": callerName,
			"call_type":   callType,
		},
	}
}

// NewMissedCall builds the notification left behind when nobody answered
func NewMissedCall(callLogID, chatID uuid.UUID, callerName, callType string) *Notification {
	return &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a %s call from %s", callType, callerName),
		Priority: "normal",
		Sound:    "default",
		Data: map[string]string{
			"type":        "missed_call",
			"call_log_id": callLogID.String(),
			"chat_id":     chatID.String(),
			"caller_name": callerName,
			"call_type":   callType,
		},
	}
}

// TokenSource resolves the registered device tokens of a user and retires
// tokens the provider reports as dead.
type TokenSource interface {
	TokensForUser(ctx context.Context, userID uuid.UUID) ([]string, error)
	InvalidateToken(ctx context.Context, token string) error
}

// Service fans a notification out to the devices of a set of users.
// Failures are logged, never fatal; the callers treat push as best effort.
type Service struct {
	provider Provider
	tokens   TokenSource
}

// NewService creates a new push service
func NewService(provider Provider, tokens TokenSource) *Service {
	return &Service{
		provider: provider,
		tokens:   tokens,
	}
}

// SendToUsers delivers the notification to every registered device of the
// given users and returns the number of devices reached.
func (s *Service) SendToUsers(ctx context.Context, notification *Notification, userIDs []uuid.UUID) (int, error) {
	var allTokens []string
	for _, userID := range userIDs {
		tokens, err := s.tokens.TokensForUser(ctx, userID)
		if err != nil {
			logger.Warn("failed to resolve push tokens",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		allTokens = append(allTokens, tokens...)
	}

	if len(allTokens) == 0 {
		logger.Debug("no push tokens registered for recipients",
			zap.Int("recipient_count", len(userIDs)))
		return 0, nil
	}

	result, err := s.provider.Send(ctx, notification, allTokens)
	if err != nil {
		return 0, fmt.Errorf("failed to send push notification: %w", err)
	}

	logger.Info("push notification sent",
		zap.String("category", notification.Category),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	for _, token := range result.InvalidTokens {
		if err := s.tokens.InvalidateToken(ctx, token); err != nil {
			logger.Warn("failed to retire invalid push token", zap.Error(err))
		}
	}

	return result.SuccessCount, nil
}

// MockProvider records sends without contacting any push gateway
type MockProvider struct {
	NotificationsSent int
}

// Send implements Provider
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.NotificationsSent++

	logger.Debug("mock push send",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}
