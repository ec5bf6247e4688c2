package middleware

import (
	"net/http"
	"strings"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"recovery/internal/auth"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
	tokenQueryParam     = "token"
)

// TokenVerifier checks a bearer credential.
type TokenVerifier interface {
	Verify(token string) (*auth.Principal, error)
}

// BearerAuth rejects requests without a valid credential. The token is read
// from the token query parameter first, then from the Authorization header.
// The verified principal is stored on the request context.
func BearerAuth(verifier TokenVerifier) gin.HandlerFunc {
	logTags := log.Fields{"module": "middleware", "component": "auth"}
	return func(c *gin.Context) {
		principal, err := verifier.Verify(bearerToken(c))
		if err != nil {
			log.WithError(err).WithFields(logTags).WithField("path", c.FullPath()).Debug("Rejected credential")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "unauthenticated",
					"message": err.Error(),
				},
			})
			return
		}
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if token := c.Query(tokenQueryParam); token != "" {
		return token
	}
	header := c.GetHeader(authorizationHeader)
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return ""
}

// CORSMiddleware allows cross-origin requests from any origin.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
