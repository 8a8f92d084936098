package middleware

import (
	"net/http" // HTTP status codes

	"finance_tracker/internal/domain"
	"finance_tracker/internal/store"

	"github.com/gin-gonic/gin" // Gin web framework
)

// AdminOnlyMiddleware checks the user's role from the database on each request
func AdminOnlyMiddleware(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint(ContextUserID)
		if userID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{
				"message": "Unauthorized",
				"code":    "UNAUTHORIZED",
			}})
			return
		}
		user, err := st.FindUser(c.Request.Context(), userID)
		// Unknown users and non-admins are treated the same
		if err != nil || user.Role != domain.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{
				"message": "Admin access required",
				"code":    "FORBIDDEN",
			}})
			return
		}
		c.Next()
	}
}
