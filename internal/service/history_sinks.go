package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/hospital-admin-api/internal/models"
	"github.com/noah-isme/hospital-admin-api/internal/workflow"
	"github.com/noah-isme/hospital-admin-api/pkg/jobs"
)

type auditLogWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditHistorySink mirrors approval events into the shared audit trail.
type AuditHistorySink struct {
	audit auditLogWriter
}

// NewAuditHistorySink constructs the sink.
func NewAuditHistorySink(audit auditLogWriter) *AuditHistorySink {
	return &AuditHistorySink{audit: audit}
}

// RecordEvent writes one audit log row for the event.
func (s *AuditHistorySink) RecordEvent(ctx context.Context, event models.ApprovalEvent) error {
	requestID := event.RequestID
	entry := &models.AuditLog{
		Action:     auditActionFor(event.EventType),
		Resource:   "approval_request",
		ResourceID: &requestID,
		CreatedAt:  event.CreatedAt,
	}
	if event.Actor != "" {
		actor := event.Actor
		entry.UserID = &actor
	}
	entry.OldValues = auditValues(event, event.OldValue)
	entry.NewValues = auditValues(event, event.NewValue)
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("mirror approval event to audit log: %w", err)
	}
	return nil
}

func auditActionFor(t models.ApprovalEventType) string {
	switch t {
	case models.EventRequestCreated:
		return models.AuditActionApprovalCreate
	case models.EventRequestWithdrawn:
		return models.AuditActionApprovalWithdraw
	default:
		return models.AuditActionApprovalDecide
	}
}

func auditValues(event models.ApprovalEvent, value string) []byte {
	if value == "" {
		return nil
	}
	body := map[string]string{"event": string(event.EventType), "value": value}
	if event.LineID != nil {
		body["lineId"] = *event.LineID
	}
	raw, _ := json.Marshal(body)
	return raw
}

// FanOutHistorySink records every event into each sink in order. All sinks are
// attempted; their errors are joined.
type FanOutHistorySink struct {
	sinks []workflow.HistorySink
}

// NewFanOutHistorySink builds a sink over the non-nil sinks given.
func NewFanOutHistorySink(sinks ...workflow.HistorySink) *FanOutHistorySink {
	out := make([]workflow.HistorySink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &FanOutHistorySink{sinks: out}
}

// RecordEvent implements workflow.HistorySink.
func (s *FanOutHistorySink) RecordEvent(ctx context.Context, event models.ApprovalEvent) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.RecordEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const historyJobType = "approval_history"

// AsyncHistorySink hands events to a background queue so recording never
// sits on the decision path. When the queue refuses an event it is recorded
// synchronously instead.
type AsyncHistorySink struct {
	next   workflow.HistorySink
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAsyncHistorySink builds the sink and its queue. Call Start before use.
func NewAsyncHistorySink(next workflow.HistorySink, cfg jobs.QueueConfig, metrics *MetricsService) *AsyncHistorySink {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &AsyncHistorySink{next: next, logger: cfg.Logger}
	if cfg.OnDrop == nil {
		cfg.OnDrop = func(job jobs.Job, err error) {
			metrics.RecordHistoryDropped()
		}
	}
	s.queue = jobs.NewQueue("approval-history", s.handle, cfg)
	return s
}

// Start launches the workers.
func (s *AsyncHistorySink) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop flushes buffered events and stops the workers.
func (s *AsyncHistorySink) Stop() {
	s.queue.Stop()
}

// RecordEvent implements workflow.HistorySink.
func (s *AsyncHistorySink) RecordEvent(ctx context.Context, event models.ApprovalEvent) error {
	err := s.queue.Enqueue(jobs.Job{Type: historyJobType, Payload: event})
	if err == nil {
		return nil
	}
	s.logger.Warn("history queue unavailable, recording inline", zap.String("request_id", event.RequestID), zap.Error(err))
	return s.next.RecordEvent(ctx, event)
}

func (s *AsyncHistorySink) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.ApprovalEvent)
	if !ok {
		return fmt.Errorf("unexpected history payload %T", job.Payload)
	}
	return s.next.RecordEvent(ctx, event)
}
