package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// IdentityHeader is injected by the API gateway after it has authenticated
// the caller. Token validation happens at the perimeter; this service only
// trusts the forwarded identity.
const IdentityHeader = "X-User-Id"

// IdentityMiddleware resolves the caller's user ID from the gateway header
// and rejects requests that arrive without one.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(IdentityHeader)
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Identity header required"})
			c.Abort()
			return
		}

		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Malformed identity header"})
			c.Abort()
			return
		}

		c.Set("userId", userID)
		c.Next()
	}
}
