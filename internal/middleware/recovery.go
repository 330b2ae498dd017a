package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "zemichat-backend/pkg/errors"
	"zemichat-backend/pkg/logger"
	"zemichat-backend/pkg/response"
)

// Recovery turns panics into 500 responses
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()))

				response.AppError(c, apperrors.InternalError("Internal server error"))
				c.Abort()
			}
		}()
		c.Next()
	}
}
