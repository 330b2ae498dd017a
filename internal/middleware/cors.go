package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"zemichat-backend/pkg/env"
)

// AllowedOrigins returns the browser origins this service accepts. The
// signal hub's upgrade check reads the same set, so CORS_ALLOWED_ORIGINS
// governs both surfaces.
func AllowedOrigins() map[string]bool {
	origins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}
	for _, origin := range strings.Split(env.GetString("CORS_ALLOWED_ORIGINS", ""), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins[origin] = true
		}
	}
	return origins
}

// CORSMiddleware restricts browser clients to the configured origin set.
// Native mobile clients send no Origin header and pass through untouched.
func CORSMiddleware() gin.HandlerFunc {
	allowed := AllowedOrigins()

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			if !allowed[origin] {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
