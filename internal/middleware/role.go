package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gymcoach/internal/domain/auth"
	"gymcoach/internal/pkg/response"
)

// RequireRole ensures that the authenticated user has one of the given roles
func RequireRole(roles ...auth.UserRole) gin.HandlerFunc {
	allowed := make(map[auth.UserRole]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		role := c.GetString("role")
		if role == "" {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "Role not found in token")
			return
		}

		if !allowed[auth.UserRole(role)] {
			response.Abort(c, http.StatusForbidden, "FORBIDDEN", "Access denied: insufficient permissions")
			return
		}

		c.Next()
	}
}

// StaffOnly allows staff and admin accounts.
func StaffOnly() gin.HandlerFunc {
	return RequireRole(auth.RoleStaff, auth.RoleAdmin)
}
