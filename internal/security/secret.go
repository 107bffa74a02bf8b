package security

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SecretEqual compares two secrets in constant time.
func SecretEqual(a, b string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RequireQuerySecret guards a route with a ?secret= query parameter.
// An empty configured secret disables the route entirely.
func RequireQuerySecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !SecretEqual(c.Query("secret"), secret) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireHeaderToken validates the X-Telegram-Bot-Api-Secret-Token header
// when a token is configured. An empty expected token skips the check.
func RequireHeaderToken(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}
		if !SecretEqual(c.GetHeader("X-Telegram-Bot-Api-Secret-Token"), expected) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
