package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hospital-admin-api/internal/models"
	"github.com/noah-isme/hospital-admin-api/internal/workflow"
)

const approvalRequestColumns = `id, workflow_type, requester_id, requester_display_name, aggregate_status, payload,
       withdrawn, withdrawn_at, version, created_at, updated_at`

const approvalLineColumns = `id, request_id, line_order, line_type, approver_id, approver_display_name, status,
       action_comment, acted_at`

// ApprovalRepository persists approval requests and their lines.
type ApprovalRepository struct {
	db *sqlx.DB
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db *sqlx.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// Create inserts the request and all of its lines in one transaction.
func (r *ApprovalRepository) Create(ctx context.Context, req *models.ApprovalRequest) (err error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	if req.Version == 0 {
		req.Version = 1
	}
	if len(req.Payload) == 0 {
		req.Payload = []byte("{}")
	}
	for i := range req.Lines {
		if req.Lines[i].ID == "" {
			req.Lines[i].ID = uuid.NewString()
		}
		req.Lines[i].RequestID = req.ID
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approval transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertRequest = `INSERT INTO approval_requests
	(id, workflow_type, requester_id, requester_display_name, aggregate_status, payload, withdrawn, withdrawn_at, version, created_at, updated_at)
	VALUES (:id, :workflow_type, :requester_id, :requester_display_name, :aggregate_status, :payload, :withdrawn, :withdrawn_at, :version, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertRequest, req); err != nil {
		return fmt.Errorf("create approval request: %w", err)
	}
	if len(req.Lines) > 0 {
		const insertLines = `INSERT INTO approval_lines
	(id, request_id, line_order, line_type, approver_id, approver_display_name, status, action_comment, acted_at)
	VALUES (:id, :request_id, :line_order, :line_type, :approver_id, :approver_display_name, :status, :action_comment, :acted_at)`
		if _, err = tx.NamedExecContext(ctx, insertLines, req.Lines); err != nil {
			return fmt.Errorf("create approval lines: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit approval request: %w", err)
	}
	return nil
}

// GetByID fetches a request with its lines ordered by position.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalRequestColumns + ` FROM approval_requests WHERE id = $1`
	var req models.ApprovalRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	linesQuery := `SELECT ` + approvalLineColumns + ` FROM approval_lines WHERE request_id = $1 ORDER BY line_order`
	if err := r.db.SelectContext(ctx, &req.Lines, linesQuery, id); err != nil {
		return nil, fmt.Errorf("get approval lines: %w", err)
	}
	return &req, nil
}

// List returns requests matching the filter (latest first) with their lines.
// inboxCondition matches requests with a pending line for the approver at
// placeholder approverArg. CC lines stay actionable after finalization;
// APPROVAL lines need a pending request and, for sequential types, no lower
// pending APPROVAL line.
func inboxCondition(approverArg int, sequential []models.WorkflowType, args *[]interface{}) string {
	actionable := fmt.Sprintf("approval_requests.aggregate_status = '%s'", models.ApprovalStatusPending)
	if len(sequential) > 0 {
		placeholders := make([]string, len(sequential))
		for i, t := range sequential {
			*args = append(*args, t)
			placeholders[i] = fmt.Sprintf("$%d", len(*args))
		}
		actionable += fmt.Sprintf(` AND (approval_requests.workflow_type NOT IN (%s) OR NOT EXISTS (SELECT 1 FROM approval_lines p
	WHERE p.request_id = l.request_id AND p.line_type = '%s' AND p.status = '%s' AND p.line_order < l.line_order))`,
			strings.Join(placeholders, ","), models.LineTypeApproval, models.LineStatusPending)
	}
	return fmt.Sprintf(`EXISTS (SELECT 1 FROM approval_lines l
	WHERE l.request_id = approval_requests.id AND l.approver_id = $%d AND l.status = '%s'
	AND (l.line_type = '%s' OR (%s)))`,
		approverArg, models.LineStatusPending, models.LineTypeCC, actionable)
}

func (r *ApprovalRepository) List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT ` + approvalRequestColumns + ` FROM approval_requests`)

	conditions := make([]string, 0, 5)
	if filter.WorkflowType != "" {
		args = append(args, filter.WorkflowType)
		conditions = append(conditions, fmt.Sprintf("workflow_type = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("aggregate_status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if filter.PendingApprover != "" {
		args = append(args, filter.PendingApprover)
		conditions = append(conditions, "withdrawn = FALSE", inboxCondition(len(args), filter.SequentialTypes, &args))
	}
	if filter.Withdrawn != nil {
		args = append(args, *filter.Withdrawn)
		conditions = append(conditions, fmt.Sprintf("withdrawn = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.ApprovalRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	if len(requests) == 0 {
		return requests, nil
	}

	ids := make([]string, len(requests))
	index := make(map[string]int, len(requests))
	for i, req := range requests {
		ids[i] = req.ID
		index[req.ID] = i
	}
	linesQuery := `SELECT ` + approvalLineColumns + ` FROM approval_lines WHERE request_id = ANY($1) ORDER BY request_id, line_order`
	var lines []models.ApprovalLine
	if err := r.db.SelectContext(ctx, &lines, linesQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list approval lines: %w", err)
	}
	for _, line := range lines {
		if i, ok := index[line.RequestID]; ok {
			requests[i].Lines = append(requests[i].Lines, line)
		}
	}
	return requests, nil
}

// SaveDecision locks the request row, verifies the expected version, writes
// the decided line and the recomputed aggregate status. It returns
// sql.ErrNoRows when the version moved or the line is no longer pending.
func (r *ApprovalRepository) SaveDecision(ctx context.Context, params workflow.SaveDecisionParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin decision transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockVersion(ctx, tx, params.RequestID, params.ExpectedVersion); err != nil {
		return err
	}

	updateLine := fmt.Sprintf(`UPDATE approval_lines SET status = :status, action_comment = :action_comment, acted_at = :acted_at
	WHERE id = :id AND request_id = :request_id AND status = '%s'`, models.LineStatusPending)
	result, err := tx.NamedExecContext(ctx, updateLine, map[string]interface{}{
		"id":             params.Line.ID,
		"request_id":     params.RequestID,
		"status":         params.Line.Status,
		"action_comment": params.Line.ActionComment,
		"acted_at":       params.Line.ActedAt,
	})
	if err != nil {
		return fmt.Errorf("update approval line: %w", err)
	}
	if err = expectOneRow(result, "approval line"); err != nil {
		return err
	}

	const updateRequest = `UPDATE approval_requests SET aggregate_status = $1, updated_at = $2, version = version + 1
	WHERE id = $3 AND version = $4`
	result, err = tx.ExecContext(ctx, updateRequest, params.AggregateStatus, params.UpdatedAt, params.RequestID, params.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("update approval status: %w", err)
	}
	if err = expectOneRow(result, "approval request"); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit decision: %w", err)
	}
	return nil
}

// MarkWithdrawn sets the withdrawal marker guarded by the expected version.
func (r *ApprovalRepository) MarkWithdrawn(ctx context.Context, params workflow.WithdrawParams) error {
	const query = `UPDATE approval_requests SET withdrawn = TRUE, withdrawn_at = $1, updated_at = $1, version = version + 1
	WHERE id = $2 AND version = $3 AND withdrawn = FALSE`
	result, err := r.db.ExecContext(ctx, query, params.WithdrawnAt, params.RequestID, params.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("withdraw approval request: %w", err)
	}
	return expectOneRow(result, "approval request")
}

func lockVersion(ctx context.Context, tx *sqlx.Tx, requestID string, expected int) error {
	var version int
	const query = `SELECT version FROM approval_requests WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &version, query, requestID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock approval request: %w", err)
	}
	if version != expected {
		return sql.ErrNoRows
	}
	return nil
}

func expectOneRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s update rows: %w", what, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
