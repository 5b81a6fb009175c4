package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chatkeep/internal/models"
)

const (
	userContextKey   = "auth_user"
	credentialsError = "could not validate credentials"
)

// UserResolver maps a verified token subject to a stored user.
type UserResolver interface {
	Lookup(ctx context.Context, username string) (*models.User, error)
}

// Middleware validates bearer tokens and stores the authenticated user in the context.
func (s *Service) Middleware(users UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			unauthorized(c, "not authenticated")
			return
		}
		subject, err := s.VerifyToken(token)
		if err != nil {
			unauthorized(c, credentialsError)
			return
		}
		user, err := users.Lookup(c.Request.Context(), subject)
		if err != nil || user == nil {
			unauthorized(c, credentialsError)
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

// UserFromContext retrieves the authenticated user from the gin context.
func UserFromContext(c *gin.Context) (*models.User, bool) {
	val, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := val.(*models.User)
	return user, ok && user != nil
}

func unauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": detail})
}

func extractBearer(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
