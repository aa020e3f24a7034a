package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"receipts-backend/internal/shared/auth"
	"receipts-backend/internal/shared/server/respond"
)

const subjectKey = "subject"

// TokenVerifier is the capability the pipeline depends on for credentials:
// verify a bearer token and return its claims, or reject.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Auth validates bearer tokens via the injected verifier and stores the
// subject in the request context. A nil verifier disables authentication
// (local development mode).
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		path := c.Request.URL.Path
		if path == "/api/health" || path == "/metrics" {
			c.Next()
			return
		}

		if verifier == nil {
			c.Set(subjectKey, "dev")
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(authHeader, "Bearer ") {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
		if token == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		c.Set(subjectKey, claims.Sub)
		c.Next()
	}
}

// SubjectFromContext fetches the authenticated subject set by Auth.
func SubjectFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(subjectKey)
	if sub, ok := val.(string); ok {
		return sub
	}
	return ""
}
