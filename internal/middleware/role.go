package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/livepoll/backend/internal/models"
	"github.com/livepoll/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			response.Unauthorized(c, "missing identity")
			c.Abort()
			return
		}
		if _, ok := allowed[id.Role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
