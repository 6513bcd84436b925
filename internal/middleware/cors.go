package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origins is a parsed CORS allow-list. Empty or containing "*" allows every origin.
type Origins map[string]bool

// ParseOrigins parses "*" or a comma-separated list such as
// "http://localhost:3000,http://localhost:5173".
func ParseOrigins(s string) Origins {
	m := make(Origins)
	for _, o := range strings.Split(strings.TrimSpace(s), ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			m[o] = true
		}
	}
	return m
}

// Any reports whether every origin is allowed.
func (o Origins) Any() bool {
	return len(o) == 0 || o["*"]
}

// Allows reports whether origin may call the API. Requests without an Origin header are allowed.
func (o Origins) Allows(origin string) bool {
	return origin == "" || o.Any() || o[strings.TrimRight(origin, "/")]
}

// CORS returns a middleware that sets CORS headers for allowed origins.
func CORS(origins Origins) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case origins.Any():
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && origins.Allows(origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if c.Writer.Header().Get("Access-Control-Allow-Origin") != "" {
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
