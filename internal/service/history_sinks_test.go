package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/hospital-admin-api/internal/models"
	"github.com/noah-isme/hospital-admin-api/pkg/jobs"
)

type auditRecorder struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.ApprovalEvent
	err    error
	signal chan struct{}
}

func (r *eventRecorder) RecordEvent(ctx context.Context, event models.ApprovalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	if r.signal != nil {
		r.signal <- struct{}{}
	}
	return nil
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestAuditHistorySinkMapsEvents(t *testing.T) {
	audit := &auditRecorder{}
	sink := NewAuditHistorySink(audit)
	lineID := "l1"

	require.NoError(t, sink.RecordEvent(context.Background(), models.ApprovalEvent{
		RequestID: "req-1",
		LineID:    &lineID,
		EventType: models.EventLineRejected,
		OldValue:  "PENDING",
		NewValue:  "REJECTED",
		Actor:     "bob",
		CreatedAt: time.Now(),
	}))
	require.NoError(t, sink.RecordEvent(context.Background(), models.ApprovalEvent{
		RequestID: "req-1",
		EventType: models.EventRequestCreated,
		NewValue:  "PENDING",
		Actor:     "alice",
	}))

	require.Len(t, audit.logs, 2)
	first := audit.logs[0]
	assert.Equal(t, models.AuditActionApprovalDecide, first.Action)
	assert.Equal(t, "approval_request", first.Resource)
	assert.Equal(t, "req-1", *first.ResourceID)
	assert.Equal(t, "bob", *first.UserID)
	var values map[string]string
	require.NoError(t, json.Unmarshal(first.NewValues, &values))
	assert.Equal(t, "REJECTED", values["value"])
	assert.Equal(t, "l1", values["lineId"])

	assert.Equal(t, models.AuditActionApprovalCreate, audit.logs[1].Action)
	assert.Nil(t, audit.logs[1].OldValues)
}

func TestAuditActionFor(t *testing.T) {
	assert.Equal(t, models.AuditActionApprovalCreate, auditActionFor(models.EventRequestCreated))
	assert.Equal(t, models.AuditActionApprovalWithdraw, auditActionFor(models.EventRequestWithdrawn))
	assert.Equal(t, models.AuditActionApprovalDecide, auditActionFor(models.EventLineRead))
}

func TestFanOutHistorySinkAttemptsAll(t *testing.T) {
	failing := &eventRecorder{err: errors.New("db down")}
	ok := &eventRecorder{}
	sink := NewFanOutHistorySink(failing, nil, ok)

	err := sink.RecordEvent(context.Background(), models.ApprovalEvent{RequestID: "req-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 1, ok.count())
}

func TestAsyncHistorySinkDeliversInBackground(t *testing.T) {
	next := &eventRecorder{signal: make(chan struct{}, 4)}
	sink := NewAsyncHistorySink(next, jobs.QueueConfig{Workers: 1}, nil)
	sink.Start(context.Background())
	defer sink.Stop()

	require.NoError(t, sink.RecordEvent(context.Background(), models.ApprovalEvent{RequestID: "req-1", EventType: models.EventLineApproved}))
	select {
	case <-next.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	assert.Equal(t, 1, next.count())
}

func TestAsyncHistorySinkFallsBackWhenStopped(t *testing.T) {
	next := &eventRecorder{}
	sink := NewAsyncHistorySink(next, jobs.QueueConfig{}, nil)

	require.NoError(t, sink.RecordEvent(context.Background(), models.ApprovalEvent{RequestID: "req-1"}))
	assert.Equal(t, 1, next.count())
}

func TestAsyncHistorySinkCountsDrops(t *testing.T) {
	next := &eventRecorder{err: errors.New("db down")}
	metrics := NewMetricsService()
	dropped := make(chan struct{}, 1)
	sink := NewAsyncHistorySink(next, jobs.QueueConfig{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		OnDrop: func(job jobs.Job, err error) {
			metrics.RecordHistoryDropped()
			dropped <- struct{}{}
		},
	}, metrics)
	sink.Start(context.Background())
	defer sink.Stop()

	require.NoError(t, sink.RecordEvent(context.Background(), models.ApprovalEvent{RequestID: "req-1"}))
	select {
	case <-dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("event not dropped")
	}
}
