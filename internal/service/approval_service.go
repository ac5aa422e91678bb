package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hospital-admin-api/internal/dto"
	"github.com/noah-isme/hospital-admin-api/internal/models"
	"github.com/noah-isme/hospital-admin-api/internal/workflow"
	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
	"github.com/noah-isme/hospital-admin-api/pkg/export"
)

type approvalEngine interface {
	CreateApprovalRequest(ctx context.Context, params workflow.CreateParams) (*models.ApprovalRequest, error)
	DecideLine(ctx context.Context, requestID, lineID, actor string, action models.ActionKind, comment string) (*models.ApprovalRequest, error)
	WithdrawRequest(ctx context.Context, requestID, actor string) error
	GetRequest(ctx context.Context, requestID string) (*models.ApprovalRequest, error)
	ListRequests(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error)
	History(ctx context.Context, requestID string) ([]models.ApprovalEvent, error)
}

type sheetRenderer interface {
	RenderSheet(sheet export.Sheet) ([]byte, error)
	Render(data export.Dataset, title string) ([]byte, error)
}

type tableRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportFile is a rendered document ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ApprovalService exposes the approval engine to HTTP callers of one workflow
// type at a time, enforcing who may see what.
type ApprovalService struct {
	engine     approvalEngine
	pdf        sheetRenderer
	csv        tableRenderer
	sheetTitle string
	logger     *zap.Logger
}

// NewApprovalService constructs the service.
func NewApprovalService(engine approvalEngine, pdf sheetRenderer, csv tableRenderer, sheetTitle string, logger *zap.Logger) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if sheetTitle == "" {
		sheetTitle = "Approval Sheet"
	}
	return &ApprovalService{engine: engine, pdf: pdf, csv: csv, sheetTitle: sheetTitle, logger: logger}
}

// Create routes a new request on behalf of the authenticated staff member.
func (s *ApprovalService) Create(ctx context.Context, wt models.WorkflowType, req dto.CreateApprovalRequest, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	created, err := s.engine.CreateApprovalRequest(ctx, workflow.CreateParams{
		WorkflowType: wt,
		RequesterID:  actor.UserID,
		ApproverIDs:  req.ApproverIDs,
		CCIDs:        req.CCIDs,
		Payload:      req.Payload,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval request created",
		zap.String("request_id", created.ID),
		zap.String("workflow", string(wt)),
		zap.String("requester", actor.UserID),
		zap.Int("lines", len(created.Lines)),
	)
	return created, nil
}

// List returns requests of the workflow type visible to actor. Non-admins
// only see their own requests or their inbox.
func (s *ApprovalService) List(ctx context.Context, wt models.WorkflowType, query dto.ApprovalQuery, actor *models.JWTClaims) ([]models.ApprovalRequest, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.ApprovalFilter{
		WorkflowType: wt,
		Status:       query.Status,
		Withdrawn:    query.Withdrawn,
		Limit:        query.Limit,
		Offset:       query.Offset,
	}
	if query.Mine {
		filter.RequesterID = actor.UserID
	}
	if query.Inbox {
		filter.PendingApprover = actor.UserID
	}
	if !query.Mine && !query.Inbox && !isAdmin(actor) {
		filter.RequesterID = actor.UserID
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	items, err := s.engine.ListRequests(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	return items, &models.Pagination{Limit: filter.Limit, Offset: filter.Offset, Count: len(items)}, nil
}

// Get returns one request if actor may see it.
func (s *ApprovalService) Get(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	req, err := s.load(ctx, wt, id)
	if err != nil {
		return nil, err
	}
	if err := canView(req, actor); err != nil {
		return nil, err
	}
	return req, nil
}

// Decide submits actor's decision on a line.
func (s *ApprovalService) Decide(ctx context.Context, wt models.WorkflowType, id, lineID string, req dto.DecideLineRequest, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if _, err := s.load(ctx, wt, id); err != nil {
		return nil, err
	}
	action := models.ActionKind(strings.ToUpper(strings.TrimSpace(string(req.Action))))
	updated, err := s.engine.DecideLine(ctx, id, lineID, actor.UserID, action, req.Comment)
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval line decided",
		zap.String("request_id", id),
		zap.String("line_id", lineID),
		zap.String("actor", actor.UserID),
		zap.String("action", string(action)),
		zap.String("aggregate_status", string(updated.AggregateStatus)),
	)
	return updated, nil
}

// Withdraw marks actor's own pending request as withdrawn.
func (s *ApprovalService) Withdraw(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) (*models.ApprovalRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if _, err := s.load(ctx, wt, id); err != nil {
		return nil, err
	}
	if err := s.engine.WithdrawRequest(ctx, id, actor.UserID); err != nil {
		return nil, err
	}
	return s.engine.GetRequest(ctx, id)
}

// History returns the event trail of a visible request.
func (s *ApprovalService) History(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) ([]models.ApprovalEvent, error) {
	if _, err := s.Get(ctx, wt, id, actor); err != nil {
		return nil, err
	}
	return s.engine.History(ctx, id)
}

// Sheet renders a printable approval sheet for a visible request.
func (s *ApprovalService) Sheet(ctx context.Context, wt models.WorkflowType, id string, actor *models.JWTClaims) (*ExportFile, error) {
	req, err := s.Get(ctx, wt, id, actor)
	if err != nil {
		return nil, err
	}
	status := string(req.AggregateStatus)
	if req.Withdrawn {
		status += " (withdrawn)"
	}
	sheet := export.Sheet{
		Title: fmt.Sprintf("%s - %s", s.sheetTitle, workflowLabel(wt)),
		Fields: []export.Field{
			{Label: "Request", Value: req.ID},
			{Label: "Requester", Value: req.RequesterDisplayName},
			{Label: "Submitted", Value: req.CreatedAt.UTC().Format(time.RFC3339)},
			{Label: "Status", Value: status},
			{Label: "Content", Value: string(req.Payload)},
		},
		Table:  linesDataset(req.Lines),
		Footer: "Generated " + time.Now().UTC().Format(time.RFC3339),
	}
	content, err := s.pdf.RenderSheet(sheet)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render approval sheet")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("approval-%s.pdf", req.ID),
		ContentType: "application/pdf",
		Content:     content,
	}, nil
}

// Export renders the visible list as csv or pdf.
func (s *ApprovalService) Export(ctx context.Context, wt models.WorkflowType, query dto.ApprovalQuery, format string, actor *models.JWTClaims) (*ExportFile, error) {
	items, _, err := s.List(ctx, wt, query, actor)
	if err != nil {
		return nil, err
	}
	data := requestsDataset(items)
	base := strings.ToLower(strings.ReplaceAll(string(wt), "_", "-"))
	switch strings.ToLower(format) {
	case "", "csv":
		content, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
		}
		return &ExportFile{Filename: base + "-requests.csv", ContentType: "text/csv", Content: content}, nil
	case "pdf":
		content, err := s.pdf.Render(data, workflowLabel(wt)+" requests")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
		}
		return &ExportFile{Filename: base + "-requests.pdf", ContentType: "application/pdf", Content: content}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

// load fetches a request and hides requests of other workflow types.
func (s *ApprovalService) load(ctx context.Context, wt models.WorkflowType, id string) (*models.ApprovalRequest, error) {
	req, err := s.engine.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.WorkflowType != wt {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
	}
	return req, nil
}

func isAdmin(actor *models.JWTClaims) bool {
	return actor.IsAdministrator()
}

func canView(req *models.ApprovalRequest, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if isAdmin(actor) || req.RequesterID == actor.UserID {
		return nil
	}
	for _, line := range req.Lines {
		if line.ApproverID == actor.UserID {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrPermission, "not allowed to view this approval request")
}

func workflowLabel(wt models.WorkflowType) string {
	switch wt {
	case models.WorkflowLeave:
		return "Leave"
	case models.WorkflowDocument:
		return "Document"
	case models.WorkflowStaffChange:
		return "Staff Change"
	default:
		return string(wt)
	}
}

func linesDataset(lines []models.ApprovalLine) export.Dataset {
	data := export.Dataset{Headers: []string{"Order", "Type", "Approver", "Status", "Acted At", "Comment"}}
	for _, line := range lines {
		row := map[string]string{
			"Order":    fmt.Sprintf("%d", line.Order),
			"Type":     string(line.Type),
			"Approver": line.ApproverDisplayName,
			"Status":   string(line.Status),
		}
		if line.ActedAt != nil {
			row["Acted At"] = line.ActedAt.UTC().Format("2006-01-02 15:04")
		}
		if line.ActionComment != nil {
			row["Comment"] = *line.ActionComment
		}
		data.Rows = append(data.Rows, row)
	}
	return data
}

func requestsDataset(items []models.ApprovalRequest) export.Dataset {
	data := export.Dataset{Headers: []string{"ID", "Requester", "Status", "Withdrawn", "Pending With", "Created At"}}
	for _, item := range items {
		pending := ""
		for _, line := range item.Lines {
			if line.Type == models.LineTypeApproval && line.IsPending() {
				pending = line.ApproverDisplayName
				break
			}
		}
		data.Rows = append(data.Rows, map[string]string{
			"ID":           item.ID,
			"Requester":    item.RequesterDisplayName,
			"Status":       string(item.AggregateStatus),
			"Withdrawn":    fmt.Sprintf("%t", item.Withdrawn),
			"Pending With": pending,
			"Created At":   item.CreatedAt.UTC().Format("2006-01-02 15:04"),
		})
	}
	return data
}
