package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/hospital-admin-api/internal/models"
	"github.com/noah-isme/hospital-admin-api/pkg/middleware/requestid"
)

// AuditWriter persists audit log rows.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Audit records an access audit row after successful requests, e.g. when an
// approval sheet leaves the system.
func Audit(writer AuditWriter, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if c.Writer.Status() >= 400 || writer == nil {
			return
		}

		var userID *string
		if user, ok := CurrentActor(c); ok {
			userID = &user.UserID
		}
		var resourceID *string
		if id := c.Param("id"); id != "" {
			resourceID = &id
		}

		details := map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"query":   c.Request.URL.RawQuery,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		}
		if reqID := requestid.FromContext(c.Request.Context()); reqID != "" {
			details["requestId"] = reqID
		}
		body, _ := json.Marshal(details)

		err := writer.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			UserID:     userID,
			Action:     action,
			Resource:   resource,
			ResourceID: resourceID,
			NewValues:  body,
			IPAddress:  c.ClientIP(),
			UserAgent:  c.GetHeader("User-Agent"),
		})
		if err != nil {
			logger.Warn("failed to write access audit", zap.String("action", action), zap.Error(err))
		}
	}
}
