package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"floodbuddy/internal/models"
	"floodbuddy/internal/security"
)

const (
	ContextAccessToken = "access_token"
	ContextClaims      = "access_claims"
	ContextUser        = "current_user"
)

// SessionChecker resolves a parsed access token to a live session and user.
type SessionChecker interface {
	ValidateSession(ctx context.Context, claims *security.AccessClaims) (models.Session, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	TouchSession(ctx context.Context, sessionID, ip, userAgent string) error
}

func Auth(accessSecret string, sessions SessionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := security.ParseAccessToken(tokenStr, accessSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		session, err := sessions.ValidateSession(c.Request.Context(), claims)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_invalid"})
			return
		}

		user, err := sessions.GetUser(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_not_found"})
			return
		}

		if !user.Active() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user_inactive"})
			return
		}

		_ = sessions.TouchSession(c.Request.Context(), session.ID, c.ClientIP(), c.GetHeader("User-Agent"))

		c.Set(ContextAccessToken, tokenStr)
		c.Set(ContextClaims, *claims)
		c.Set(ContextUser, user)

		c.Next()
	}
}

// CurrentUser and Claims read what Auth stored on the context.
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}

func Claims(c *gin.Context) (security.AccessClaims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return security.AccessClaims{}, false
	}
	claims, ok := v.(security.AccessClaims)
	return claims, ok
}
