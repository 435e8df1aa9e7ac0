package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/atopos31/keyrelay/common"
	"github.com/gin-gonic/gin"
)

func bearer(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func valid(token, got string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(got)) == 1
}

// Auth guards the admin API. An empty token disables the check.
func Auth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if !valid(token, bearer(c)) {
			common.Unauthorized(c, "invalid token")
			return
		}
		c.Next()
	}
}

// AuthOpenAI guards the proxy routes and answers in the OpenAI error shape.
func AuthOpenAI(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if !valid(token, bearer(c)) {
			common.OpenAIError(c, http.StatusUnauthorized, "invalid_request_error", "invalid api key")
			return
		}
		c.Next()
	}
}
