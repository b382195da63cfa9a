// File: internal/middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kopiclub_backend/internal/common"
	"kopiclub_backend/internal/session"
)

const (
	// AuthorizationHeader is the header name for the authorization token
	AuthorizationHeader = "Authorization"
	// AuthorizationTypeBearer is the prefix for Bearer tokens
	AuthorizationTypeBearer = "Bearer"
	// IdentityKey is the context key for the authenticated session identity
	IdentityKey = "sessionIdentity"
)

// AuthMiddleware creates a Gin middleware that verifies Firebase ID tokens
// via the session provider and stores the resolved identity in the context.
func AuthMiddleware(sessions session.Provider, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			logger.Debug("Authorization header missing")
			common.RespondWithError(c, common.ErrUnauthorized.WithDetails("Authorization header is required."))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], AuthorizationTypeBearer) {
			logger.Debug("Authorization header format invalid", zap.String("header", authHeader))
			common.RespondWithError(c, common.ErrUnauthorized.WithDetails("Authorization header format must be 'Bearer <token>'."))
			return
		}

		ident, err := sessions.VerifyToken(c.Request.Context(), parts[1])
		if err != nil {
			logger.Warn("Token verification failed", zap.Error(err))
			common.RespondWithError(c, err)
			return
		}

		c.Set(IdentityKey, ident)

		logger.Debug("User authenticated successfully", zap.String("uid", ident.UserID))
		c.Next()
	}
}

// GetIdentityFromContext retrieves the authenticated identity from the Gin
// context. Returns nil when the request was not authenticated.
func GetIdentityFromContext(c *gin.Context) *session.Identity {
	val, exists := c.Get(IdentityKey)
	if !exists {
		return nil
	}
	ident, ok := val.(*session.Identity)
	if !ok {
		return nil
	}
	return ident
}
