package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hospital-admin-api/internal/middleware"
	"github.com/noah-isme/hospital-admin-api/internal/models"
)

// claimsFromContext returns nil for anonymous calls; the service layer turns
// that into Unauthorized.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.CurrentActor(c)
	if !ok {
		return nil
	}
	return claims
}
