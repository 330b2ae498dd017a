package call

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"zemichat-backend/internal/domain"
	callsvc "zemichat-backend/internal/service/call"
	"zemichat-backend/internal/service/history"
	"zemichat-backend/internal/service/token"
	"zemichat-backend/pkg/constants"
	apperrors "zemichat-backend/pkg/errors"
	"zemichat-backend/pkg/logger"
	"zemichat-backend/pkg/response"
)

// Handler handles call HTTP requests
type Handler struct {
	tokens    *token.Service
	history   *history.Service
	fanout    *callsvc.Fanout
	signals   callsvc.SignalStore
	publisher callsvc.SignalPublisher
	members   token.MemberStore
	logs      callsvc.CallLogStore
	messages  callsvc.MessagePoster
}

// NewHandler creates a new call handler
func NewHandler(tokens *token.Service, hist *history.Service, fanout *callsvc.Fanout, signals callsvc.SignalStore, publisher callsvc.SignalPublisher, members token.MemberStore, logs callsvc.CallLogStore, messages callsvc.MessagePoster) *Handler {
	return &Handler{
		tokens:    tokens,
		history:   hist,
		fanout:    fanout,
		signals:   signals,
		publisher: publisher,
		members:   members,
		logs:      logs,
		messages:  messages,
	}
}

// IssueTokenRequest represents an RTC token request
type IssueTokenRequest struct {
	ChatID    string `json:"chat_id" binding:"required,uuid"`
	CallLogID string `json:"call_log_id" binding:"required,uuid"`
	CallType  string `json:"call_type" binding:"required,oneof=voice video"`
}

// IssueToken issues a media channel token for the authenticated user
// POST /v1/calls/token
func (h *Handler) IssueToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.ValidationError(err.Error()))
		return
	}

	chatID, _ := uuid.Parse(req.ChatID)
	callLogID, _ := uuid.Parse(req.CallLogID)

	rtcToken, err := h.tokens.IssueToken(c.Request.Context(), userID, chatID, callLogID, domain.CallType(req.CallType))
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, rtcToken)
}

// SendSignalRequest represents a signal submitted over HTTP. This path
// backs devices whose socket is down; identity and expiry are assigned
// server side either way.
type SendSignalRequest struct {
	ChatID    string `json:"chat_id" binding:"required,uuid"`
	CallLogID string `json:"call_log_id" binding:"required,uuid"`
	Type      string `json:"type" binding:"required,oneof=ring answer decline cancel hangup busy"`
}

// SendSignal persists and publishes a call signal
// POST /v1/calls/signals
func (h *Handler) SendSignal(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req SendSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.ValidationError(err.Error()))
		return
	}

	chatID, _ := uuid.Parse(req.ChatID)
	callLogID, _ := uuid.Parse(req.CallLogID)

	isMember, err := h.members.IsMember(c.Request.Context(), chatID, userID)
	if err != nil {
		response.AppError(c, apperrors.DatabaseError(err))
		return
	}
	if !isMember {
		response.AppError(c, apperrors.NotAMemberError())
		return
	}

	signal := &domain.CallSignal{
		ID:        uuid.New(),
		ChatID:    chatID,
		CallLogID: callLogID,
		CallerID:  userID,
		Type:      domain.SignalType(req.Type),
		ExpiresAt: time.Now().Add(constants.SignalExpiry),
	}

	if err := h.signals.Insert(c.Request.Context(), signal); err != nil {
		response.AppError(c, apperrors.DatabaseError(err))
		return
	}

	if err := h.publisher.Publish(c.Request.Context(), signal); err != nil {
		// The row is durable; subscribers just will not see it live
		logger.Warn("failed to publish call signal",
			zap.String("signal_id", signal.ID.String()),
			zap.Error(err))
	}

	response.Success(c, http.StatusCreated, gin.H{
		"signal_id":  signal.ID,
		"expires_at": signal.ExpiresAt,
	})
}

// SendPushRequest represents a call push fanout request
type SendPushRequest struct {
	ChatID    string `json:"chat_id" binding:"required,uuid"`
	CallLogID string `json:"call_log_id" binding:"required,uuid"`
	CallType  string `json:"call_type" binding:"required,oneof=voice video"`
	Kind      string `json:"kind" binding:"required,oneof=invite missed"`
}

// SendPush notifies the other chat members about a call
// POST /v1/calls/push
func (h *Handler) SendPush(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req SendPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.AppError(c, apperrors.ValidationError(err.Error()))
		return
	}

	chatID, _ := uuid.Parse(req.ChatID)
	callLogID, _ := uuid.Parse(req.CallLogID)

	isMember, err := h.members.IsMember(c.Request.Context(), chatID, userID)
	if err != nil {
		response.AppError(c, apperrors.DatabaseError(err))
		return
	}
	if !isMember {
		response.AppError(c, apperrors.NotAMemberError())
		return
	}

	kind := callsvc.PushInvite
	if req.Kind == "missed" {
		kind = callsvc.PushMissed
	}

	sent, err := h.fanout.SendCallPush(c.Request.Context(), kind, callLogID, chatID, userID, domain.CallType(req.CallType))
	if err != nil {
		logger.Warn("call push fanout failed",
			zap.String("call_log_id", callLogID.String()),
			zap.Error(err))
		response.AppError(c, apperrors.InternalError("Failed to send call push"))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"devices_reached": sent,
	})
}

// PostOutcome writes the chat message describing a finished call
// POST /v1/calls/:callLogID/outcome
func (h *Handler) PostOutcome(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	callLogID, err := uuid.Parse(c.Param("callLogID"))
	if err != nil {
		response.AppError(c, apperrors.ValidationError("Invalid call log ID"))
		return
	}

	log, err := h.logs.GetByID(c.Request.Context(), callLogID)
	if err != nil {
		response.AppError(c, apperrors.CallNotFoundError())
		return
	}

	isMember, err := h.members.IsMember(c.Request.Context(), log.ChatID, userID)
	if err != nil {
		response.AppError(c, apperrors.DatabaseError(err))
		return
	}
	if !isMember {
		response.AppError(c, apperrors.NotAMemberError())
		return
	}

	if log.Status == domain.CallStatusAnswered {
		response.AppError(c, apperrors.InvalidInputError("Call is still in progress"))
		return
	}

	msg := domain.NewCallOutcomeMessage(log)
	if err := h.messages.Save(c.Request.Context(), msg); err != nil {
		response.AppError(c, apperrors.DatabaseError(err))
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// ListHistory returns the authenticated user's call history
// GET /v1/calls/history?missed=true&limit=50
func (h *Handler) ListHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	missedOnly := c.Query("missed") == "true"
	limit := parseLimit(c.Query("limit"))

	entries, err := h.history.ListForUser(c.Request.Context(), userID, missedOnly, limit)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": entries,
		"count": len(entries),
	})
}

// ListChatHistory returns the call history of one chat
// GET /v1/calls/chats/:chatID/history
func (h *Handler) ListChatHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	chatID, err := uuid.Parse(c.Param("chatID"))
	if err != nil {
		response.AppError(c, apperrors.ValidationError("Invalid chat ID"))
		return
	}

	limit := parseLimit(c.Query("limit"))

	entries, err := h.history.ListByChat(c.Request.Context(), userID, chatID, limit)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": entries,
		"count": len(entries),
	})
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.AppError(c, apperrors.UnauthorizedError("Not authenticated"))
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.AppError(c, apperrors.InternalError("Invalid user ID"))
		return uuid.Nil, false
	}

	return userID, true
}
