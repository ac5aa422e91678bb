package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hospital-admin-api/internal/models"
)

// ApprovalHistoryRepository stores the append-only approval history.
type ApprovalHistoryRepository struct {
	db *sqlx.DB
}

// NewApprovalHistoryRepository constructs the repository.
func NewApprovalHistoryRepository(db *sqlx.DB) *ApprovalHistoryRepository {
	return &ApprovalHistoryRepository{db: db}
}

// RecordEvent inserts a history row.
func (r *ApprovalHistoryRepository) RecordEvent(ctx context.Context, event models.ApprovalEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_history (id, request_id, line_id, event_type, old_value, new_value, actor, created_at)
	VALUES (:id, :request_id, :line_id, :event_type, :old_value, :new_value, :actor, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("record approval event: %w", err)
	}
	return nil
}

// ListByRequest returns the history of a request, oldest first.
func (r *ApprovalHistoryRepository) ListByRequest(ctx context.Context, requestID string) ([]models.ApprovalEvent, error) {
	const query = `SELECT id, request_id, line_id, event_type, old_value, new_value, actor, created_at
	FROM approval_history WHERE request_id = $1 ORDER BY created_at, id`
	var events []models.ApprovalEvent
	if err := r.db.SelectContext(ctx, &events, query, requestID); err != nil {
		return nil, fmt.Errorf("list approval history: %w", err)
	}
	return events, nil
}
