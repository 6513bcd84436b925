package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/livepoll/backend/internal/auth"
	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/response"
)

// ContextIdentity is the gin context key holding the caller's models.Identity.
const ContextIdentity = "identity"

// JWT returns a middleware that validates the bearer token and stores the identity in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextIdentity, claims.Identity())
		c.Next()
	}
}

// IdentityFrom returns the identity set by JWT.
func IdentityFrom(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}
