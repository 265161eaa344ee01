package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openpress/cptables/internal/common"
)

const adminLevel = 10

// RequireAdmin checks that the authenticated user has admin level.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserLevel(c) < adminLevel {
			common.ErrorResponse(c, http.StatusForbidden, "Administrator privileges required", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
