package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"greendrake/referral/internal/auth"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

const (
	// ContextKeyUserID holds the authenticated user's utils.SixID.
	ContextKeyUserID = "userID"
	// ContextKeyRole holds the authenticated user's models.Role.
	ContextKeyRole = "role"
	// ContextKeyIsAdmin holds the key for admin status in Gin context.
	ContextKeyIsAdmin = "isAdmin"
)

func abortWith(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": message,
		"error":   gin.H{"code": code},
	})
}

// AuthMiddleware creates a Gin middleware for JWT authentication.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header format must be Bearer {token}")
			return
		}

		claims, err := auth.ValidateJWT(parts[1], jwtSecret)
		if err != nil {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", fmt.Sprintf("Invalid or expired token: %v", err))
			return
		}
		userID, err := utils.ParseSixID(claims.UserID)
		if err != nil || !claims.Role.Valid() {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token claims")
			return
		}

		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyIsAdmin, claims.Role == models.RoleAdmin)

		c.Next()
	}
}

// RoleMiddleware lets through only users acting under one of roles.
// Assumes AuthMiddleware runs first.
func RoleMiddleware(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := CurrentRole(c)
		if !ok {
			abortWith(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		abortWith(c, http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("Role %s may not access this resource", role))
	}
}

// AdminMiddleware creates a Gin middleware to check for admin privileges.
// Assumes AuthMiddleware runs first.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextKeyIsAdmin) {
			abortWith(c, http.StatusForbidden, "FORBIDDEN", "Administrator privileges required")
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the id AuthMiddleware stored.
func CurrentUserID(c *gin.Context) (utils.SixID, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return utils.SixID{}, false
	}
	id, ok := v.(utils.SixID)
	return id, ok
}

// CurrentRole returns the role AuthMiddleware stored.
func CurrentRole(c *gin.Context) (models.Role, bool) {
	v, exists := c.Get(ContextKeyRole)
	if !exists {
		return "", false
	}
	role, ok := v.(models.Role)
	return role, ok
}
