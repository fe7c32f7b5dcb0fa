package middleware

import (
	"context"

	"sentra/backend/pkg/errors"
	"sentra/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// OwnerFunc looks up who owns the resource with the given id. found is false
// when no such resource exists.
type OwnerFunc func(ctx context.Context, id string) (ownerID string, found bool, err error)

// RequireOwner returns a middleware that only lets the owner of the resource
// named by the path parameter through. A resource owned by someone else is
// reported as not found.
func RequireOwner(param string, owner OwnerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _, ok := CurrentUser(c)
		if !ok {
			c.Error(errors.Unauthenticated("Authentication required"))
			c.Abort()
			return
		}

		id := c.Param(param)
		ownerID, found, err := owner(c.Request.Context(), id)
		if err != nil {
			logger.FromGin(c).Error("Owner lookup failed", "resource_id", id, "error", err.Error())
			c.Error(errors.Internal("Could not load resource").WithCause(err))
			c.Abort()
			return
		}
		if !found || ownerID != userID {
			c.Error(errors.NotFound("Resource not found"))
			c.Abort()
			return
		}

		c.Next()
	}
}
