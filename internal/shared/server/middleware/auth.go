package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"filevault-backend/internal/shared/auth"
	"filevault-backend/internal/shared/server/respond"
)

const userIDKey = "userId"

// AuthOptions configures identity resolution.
type AuthOptions struct {
	// Secret verifies HS256 bearer tokens.
	Secret []byte
	// TrustUserHeader accepts the UserId / X-User-Id header from an upstream proxy.
	TrustUserHeader bool
}

// Auth resolves the caller's owner id from a bearer token or a trusted header
// and stores it in context.
func Auth(opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if token == "" {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}

			claims, err := auth.VerifyJWT(opts.Secret, token)
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}

			c.Set(userIDKey, claims.Subject)
			c.Next()
			return
		}

		if opts.TrustUserHeader {
			userID := strings.TrimSpace(c.GetHeader("UserId"))
			if userID == "" {
				userID = strings.TrimSpace(c.GetHeader("X-User-Id"))
			}
			if userID != "" {
				c.Set(userIDKey, userID)
				c.Next()
				return
			}
		}

		respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
	}
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
