package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hospital-admin-api/internal/models"
	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
	"github.com/noah-isme/hospital-admin-api/pkg/response"
)

// CurrentActor returns the claims stored by JWT.
func CurrentActor(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok && claims != nil
}

// RequireRoles admits only callers holding one of roles. Approval routes do
// their own per-request visibility checks and are not wrapped by this.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentActor(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !claims.HasRole(roles...) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "role not permitted for this resource"))
			c.Abort()
			return
		}
		c.Next()
	}
}
