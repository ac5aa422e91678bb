package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hospital-admin-api/internal/dto"
	"github.com/noah-isme/hospital-admin-api/internal/models"
	"github.com/noah-isme/hospital-admin-api/internal/service"
	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
	"github.com/noah-isme/hospital-admin-api/pkg/response"
)

type approvalService interface {
	Create(ctx context.Context, wt models.WorkflowType, req dto.CreateApprovalRequest, actor *models.JWTClaims) (*models.ApprovalRequest, error)
	List(ctx context.Context, wt models.WorkflowType, query dto.ApprovalQuery, actor *models.JWTClaims) ([]models.ApprovalRequest, *models.Pagination, error)
	Get(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) (*models.ApprovalRequest, error)
	Decide(ctx context.Context, wt models.WorkflowType, id, lineID string, req dto.DecideLineRequest, actor *models.JWTClaims) (*models.ApprovalRequest, error)
	Withdraw(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) (*models.ApprovalRequest, error)
	History(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) ([]models.ApprovalEvent, error)
	Sheet(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) (*service.ExportFile, error)
	Export(ctx context.Context, wt models.WorkflowType, query dto.ApprovalQuery, format string, actor *models.JWTClaims) (*service.ExportFile, error)
}

// ApprovalHandler exposes the approval endpoints of one workflow type. The
// same handler type backs /leaves, /documents and /staff-changes.
type ApprovalHandler struct {
	workflow models.WorkflowType
	service  approvalService
}

// NewApprovalHandler binds a handler to a workflow type.
func NewApprovalHandler(workflow models.WorkflowType, service approvalService) *ApprovalHandler {
	return &ApprovalHandler{workflow: workflow, service: service}
}

// Create godoc
// @Summary Submit an approval request
// @Tags Approvals
// @Accept json
// @Produce json
// @Param payload body dto.CreateApprovalRequest true "Approvers, CC recipients and business payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /leaves [post]
// @Router /documents [post]
// @Router /staff-changes [post]
func (h *ApprovalHandler) Create(c *gin.Context) {
	var req dto.CreateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approval payload"))
		return
	}
	created, err := h.service.Create(c.Request.Context(), h.workflow, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List approval requests
// @Tags Approvals
// @Produce json
// @Param status query string false "Comma separated aggregate statuses (PENDING,APPROVED,REJECTED)"
// @Param requester query string false "Use 'me' for requests you submitted"
// @Param inbox query bool false "Requests with a line pending on you"
// @Param withdrawn query bool false "Filter by withdrawal marker"
// @Param limit query int false "Page size (max 200)"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /leaves [get]
// @Router /documents [get]
// @Router /staff-changes [get]
func (h *ApprovalHandler) List(c *gin.Context) {
	query, err := parseApprovalQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, page, err := h.service.List(c.Request.Context(), h.workflow, query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, page)
}

// Get godoc
// @Summary Get an approval request with its lines
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /leaves/{id} [get]
// @Router /documents/{id} [get]
// @Router /staff-changes/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), h.workflow, c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// Decide godoc
// @Summary Approve, reject or acknowledge a line
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param lineId path string true "Line ID"
// @Param payload body dto.DecideLineRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /leaves/{id}/lines/{lineId}/decision [post]
// @Router /documents/{id}/lines/{lineId}/decision [post]
// @Router /staff-changes/{id}/lines/{lineId}/decision [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	var req dto.DecideLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	updated, err := h.service.Decide(c.Request.Context(), h.workflow, c.Param("id"), c.Param("lineId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Withdraw godoc
// @Summary Withdraw your own pending request
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /leaves/{id}/withdraw [post]
// @Router /documents/{id}/withdraw [post]
// @Router /staff-changes/{id}/withdraw [post]
func (h *ApprovalHandler) Withdraw(c *gin.Context) {
	req, err := h.service.Withdraw(c.Request.Context(), h.workflow, c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req, nil)
}

// History godoc
// @Summary Approval history of a request
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /leaves/{id}/history [get]
// @Router /documents/{id}/history [get]
// @Router /staff-changes/{id}/history [get]
func (h *ApprovalHandler) History(c *gin.Context) {
	events, err := h.service.History(c.Request.Context(), h.workflow, c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, nil)
}

// Sheet godoc
// @Summary Download the printable approval sheet
// @Tags Approvals
// @Produce application/pdf
// @Param id path string true "Request ID"
// @Success 200 {file} binary
// @Router /leaves/{id}/sheet [get]
// @Router /documents/{id}/sheet [get]
// @Router /staff-changes/{id}/sheet [get]
func (h *ApprovalHandler) Sheet(c *gin.Context) {
	file, err := h.service.Sheet(c.Request.Context(), h.workflow, c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	sendFile(c, file)
}

// Export godoc
// @Summary Export the visible request list
// @Tags Approvals
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} binary
// @Router /leaves/export [get]
// @Router /documents/export [get]
// @Router /staff-changes/export [get]
func (h *ApprovalHandler) Export(c *gin.Context) {
	query, err := parseApprovalQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.Export(c.Request.Context(), h.workflow, query, c.Query("format"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	sendFile(c, file)
}

func sendFile(c *gin.Context, file *service.ExportFile) {
	response.File(c, file.Filename, file.ContentType, file.Content)
}

func parseApprovalQuery(c *gin.Context) (dto.ApprovalQuery, error) {
	var query dto.ApprovalQuery
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := models.ApprovalStatus(strings.ToUpper(strings.TrimSpace(part)))
			switch status {
			case models.ApprovalStatusPending, models.ApprovalStatusApproved, models.ApprovalStatusRejected:
				query.Status = append(query.Status, status)
			case "":
			default:
				return query, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status: %s", part))
			}
		}
	}
	query.Mine = strings.EqualFold(c.Query("requester"), "me")
	inbox, err := optionalBool(c, "inbox")
	if err != nil {
		return query, err
	}
	query.Inbox = inbox != nil && *inbox
	if query.Withdrawn, err = optionalBool(c, "withdrawn"); err != nil {
		return query, err
	}
	if query.Limit, err = optionalInt(c, "limit"); err != nil {
		return query, err
	}
	if query.Offset, err = optionalInt(c, "offset"); err != nil {
		return query, err
	}
	return query, nil
}

func optionalBool(c *gin.Context, key string) (*bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be true or false", key))
	}
	return &v, nil
}

func optionalInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be a non-negative integer", key))
	}
	return v, nil
}
