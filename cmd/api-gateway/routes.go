package main

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/hospital-admin-api/internal/handler"
	internalmiddleware "github.com/noah-isme/hospital-admin-api/internal/middleware"
	"github.com/noah-isme/hospital-admin-api/internal/models"
)

var approvalGroups = []struct {
	path     string
	workflow models.WorkflowType
}{
	{path: "/leaves", workflow: models.WorkflowLeave},
	{path: "/documents", workflow: models.WorkflowDocument},
	{path: "/staff-changes", workflow: models.WorkflowStaffChange},
}

func registerApprovalRoutes(api *gin.RouterGroup, app *application, logr *zap.Logger) {
	for _, g := range approvalGroups {
		h := handler.NewApprovalHandler(g.workflow, app.approvals)
		exportAudit := internalmiddleware.Audit(app.audit, logr, models.AuditActionApprovalExport, string(g.workflow))

		group := api.Group(g.path)
		group.POST("", h.Create)
		group.GET("", h.List)
		group.GET("/export", exportAudit, h.Export)
		group.GET("/:id", h.Get)
		group.POST("/:id/lines/:lineId/decision", h.Decide)
		group.POST("/:id/withdraw", h.Withdraw)
		group.GET("/:id/history", h.History)
		group.GET("/:id/sheet", exportAudit, h.Sheet)
	}
}
