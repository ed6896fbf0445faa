package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates bearer tokens on every API route. An empty
// token disables auth entirely, which is the development default; in
// release mode that is almost certainly a misconfiguration, so it is
// called out loudly at startup.
func AuthMiddleware(token string) gin.HandlerFunc {
	if token == "" && gin.Mode() == gin.ReleaseMode {
		log.Println("[Auth] WARNING: API_AUTH_TOKEN is not set in release mode. " +
			"Every endpoint is publicly accessible. Set a strong token to enforce authentication.")
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			respondError(c, http.StatusUnauthorized, codeUnauthorized,
				"missing Authorization header, expected: Bearer <token>")
			c.Abort()
			return
		}

		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			respondError(c, http.StatusForbidden, codeInvalidToken, "malformed Authorization header")
			c.Abort()
			return
		}

		// Constant-time comparison to prevent timing-based token probing.
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			respondError(c, http.StatusForbidden, codeInvalidToken, "invalid token")
			c.Abort()
			return
		}

		c.Next()
	}
}
