package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerToken extracts the token from an Authorization header value. The
// scheme match is case-insensitive. ok is false when the header is missing
// or carries a different scheme.
func BearerToken(header string) (string, bool) {
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return "", false
	}
	return strings.TrimSpace(header[len("bearer "):]), true
}

// AuthMiddleware gates a route group behind the shared bearer token. An empty
// configured token disables the check entirely.
func AuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing bearer token"})
			return
		}
		if got != token {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "invalid token"})
			return
		}
		c.Next()
	}
}
