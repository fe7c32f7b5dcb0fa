package middleware

import (
	"sentra/backend/pkg/errors"
	"sentra/backend/pkg/jwt"
	"sentra/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Gin context keys set by JWTAuthMiddleware
const (
	ClaimsKey   = "claims"
	UserIDKey   = "userId"
	UsernameKey = "username"
)

// JWTAuthMiddleware checks that the request has a valid bearer token and adds claims to the context.
// Rejection happens before any handler work.
func JWTAuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := jwt.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.Error(errors.Unauthenticated("Authorization header is required"))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			logger.FromGin(c).Warn("Invalid JWT token", "error", err.Error())
			c.Error(errors.Unauthenticated("Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)

		c.Next()
	}
}

// CurrentUser returns the authenticated user id and username set by JWTAuthMiddleware
func CurrentUser(c *gin.Context) (userID, username string, ok bool) {
	userID = c.GetString(UserIDKey)
	username = c.GetString(UsernameKey)
	return userID, username, userID != ""
}
