package push

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	redisrepo "zemichat-backend/internal/repository/redis"
	"zemichat-backend/pkg/logger"
	"zemichat-backend/pkg/response"
)

// Handler handles device push token HTTP requests
type Handler struct {
	tokens *redisrepo.PushTokenRepository
}

// NewHandler creates a new push token handler
func NewHandler(tokens *redisrepo.PushTokenRepository) *Handler {
	return &Handler{
		tokens: tokens,
	}
}

// RegisterTokenRequest represents request to register a device token
type RegisterTokenRequest struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"required,oneof=fcm apns"`
	VoIP     bool   `json:"voip"`
}

// RegisterToken registers a device token for the authenticated user
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	pt := &redisrepo.PushToken{
		UserID:   userID,
		Token:    req.Token,
		Platform: req.Platform,
		VoIP:     req.VoIP,
	}

	if err := h.tokens.Store(c.Request.Context(), pt); err != nil {
		logger.Error("failed to register push token",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to register token")
		return
	}

	logger.Info("push token registered",
		zap.String("user_id", userID.String()),
		zap.String("platform", req.Platform),
		zap.Bool("voip", req.VoIP))

	response.Success(c, http.StatusOK, gin.H{
		"message": "Token registered",
	})
}

// UnregisterTokenRequest represents request to remove a device token
type UnregisterTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// UnregisterToken removes a device token for the authenticated user
// DELETE /v1/push/tokens
func (h *Handler) UnregisterToken(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req UnregisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	if err := h.tokens.Delete(c.Request.Context(), userID, req.Token); err != nil {
		logger.Error("failed to unregister push token",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to unregister token")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Token unregistered",
	})
}

// ListTokens returns the device tokens registered for the authenticated user
// GET /v1/push/tokens
func (h *Handler) ListTokens(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	tokens, err := h.tokens.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		logger.Error("failed to list push tokens",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list tokens")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"tokens": tokens,
		"count":  len(tokens),
	})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Invalid user ID")
		return uuid.Nil, false
	}

	return userID, true
}
