package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"landingzone/internal/models"
)

const sessionContextKey = "auth_session"

// Middleware requires a valid session and stores it in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := s.extractToken(c)
		if sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
			return
		}
		sess, err := s.ValidateSession(c.Request.Context(), sessionID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// OptionalMiddleware stores the session when one is valid and lets the
// request through either way.
func (s *Service) OptionalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if sessionID := s.extractToken(c); sessionID != "" {
			if sess, err := s.ValidateSession(c.Request.Context(), sessionID); err == nil {
				c.Set(sessionContextKey, sess)
			}
		}
		c.Next()
	}
}

// SessionFromContext retrieves the session captured by the middleware.
func SessionFromContext(c *gin.Context) (*models.Session, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	sess, ok := val.(*models.Session)
	return sess, ok && sess != nil
}

// UserIDFromContext retrieves the authenticated user id from the gin context.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	sess, ok := SessionFromContext(c)
	if !ok {
		return 0, false
	}
	return sess.UserID, true
}

func (s *Service) extractToken(c *gin.Context) string {
	if token := bearerToken(c.GetHeader(s.headerName)); token != "" {
		return token
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}

func bearerToken(header string) string {
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
