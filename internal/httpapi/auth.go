// Package httpapi exposes the Orchestrator Facade over HTTP: a REST control
// surface plus a WebSocket event stream, mirroring the product's own
// network-facing layer in spirit (auth gate, rate limiting, JSON envelopes)
// while adapting its helper shapes to gin's request/response plumbing.
package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"

	"github.com/forgefleet/orchestrator/pkg/logger"
)

// ctxCallerKey stores the authenticated subject (token or JWT claim) on
// the gin context.
const ctxCallerKey = "httpapi.caller"

// publicPaths never require a token: health probes and the metrics
// scrape target stay open.
var publicPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// requireAuth builds the gin middleware gating every other route behind
// an HMAC-signed JWT. An empty signingKey disables the gate entirely,
// which is the posture local development and the in-memory demo backend
// run under.
func requireAuth(signingKey string, log *logger.Logger) gin.HandlerFunc {
	if signingKey == "" {
		if log != nil {
			log.Warn("httpapi: no JWT signing key configured; authentication disabled")
		}
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		if _, ok := publicPaths[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		token := extractToken(c.Request)
		if token == "" {
			writeError(c, http.StatusUnauthorized, fmt.Errorf("missing bearer token"))
			c.Abort()
			return
		}

		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(signingKey), nil
		})
		if err != nil || !parsed.Valid {
			writeError(c, http.StatusUnauthorized, fmt.Errorf("invalid token"))
			c.Abort()
			return
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Set(ctxCallerKey, sub)
		}
		c.Next()
	}
}

func extractToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}
