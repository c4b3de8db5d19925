package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aescanero/reactor/pkg/ports"
)

// SessionKey is the gin context key holding the verified session.
const SessionKey = "session"

// TokenVerifier resolves a bearer token into a session.
type TokenVerifier interface {
	Verify(token string) (ports.Session, error)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AuthMiddleware requires a valid bearer token when verifier is set and
// stores the session under SessionKey. A nil verifier lets every request
// through.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.Next()
			return
		}

		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing or malformed Authorization header")
			return
		}

		session, err := verifier.Verify(parts[1])
		if err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}

		c.Set(SessionKey, session)
		c.Next()
	}
}
