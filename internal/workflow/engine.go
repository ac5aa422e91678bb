package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/hospital-admin-api/internal/models"
	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
)

// Store persists approval requests. GetByID and the update methods return
// sql.ErrNoRows when the row is missing or a guard (version, pending status)
// did not match.
type Store interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error)
	SaveDecision(ctx context.Context, params SaveDecisionParams) error
	MarkWithdrawn(ctx context.Context, params WithdrawParams) error
}

// SaveDecisionParams groups the writes of one decision.
type SaveDecisionParams struct {
	RequestID       string
	ExpectedVersion int
	Line            models.ApprovalLine
	AggregateStatus models.ApprovalStatus
	UpdatedAt       time.Time
}

// WithdrawParams groups the writes of a withdrawal.
type WithdrawParams struct {
	RequestID       string
	ExpectedVersion int
	WithdrawnAt     time.Time
}

// Directory resolves identities to display names.
type Directory interface {
	ResolveDisplayName(ctx context.Context, identity string) (string, error)
}

// HistorySink receives history records.
type HistorySink interface {
	RecordEvent(ctx context.Context, event models.ApprovalEvent) error
}

// HistoryReader exposes recorded history for a request.
type HistoryReader interface {
	ListByRequest(ctx context.Context, requestID string) ([]models.ApprovalEvent, error)
}

// Observer receives engine instrumentation.
type Observer interface {
	ObserveDecision(workflow models.WorkflowType, action models.ActionKind, outcome string)
	ObserveLockWait(duration time.Duration)
}

// CreateParams are the inputs of CreateApprovalRequest.
type CreateParams struct {
	WorkflowType models.WorkflowType
	RequesterID  string
	ApproverIDs  []string
	CCIDs        []string
	Payload      []byte
}

// Engine routes approval requests through ordered approvers.
type Engine struct {
	store     Store
	directory Directory
	sink      HistorySink
	history   HistoryReader
	registry  *Registry
	locker    Locker
	observer  Observer
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithLocker overrides the per-request serialization point.
func WithLocker(locker Locker) Option {
	return func(e *Engine) {
		if locker != nil {
			e.locker = locker
		}
	}
}

// WithRegistry overrides the workflow definitions.
func WithRegistry(registry *Registry) Option {
	return func(e *Engine) {
		if registry != nil {
			e.registry = registry
		}
	}
}

// WithObserver attaches instrumentation.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

// WithHistoryReader enables History lookups.
func WithHistoryReader(reader HistoryReader) Option {
	return func(e *Engine) {
		e.history = reader
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs the engine with defaults.
func NewEngine(store Store, directory Directory, sink HistorySink, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:     store,
		directory: directory,
		sink:      sink,
		registry:  DefaultRegistry(nil, nil),
		locker:    NewKeyedLocker(0),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// CreateApprovalRequest validates the routing, resolves display names and
// stores a new pending request.
func (e *Engine) CreateApprovalRequest(ctx context.Context, params CreateParams) (*models.ApprovalRequest, error) {
	def, err := e.registry.Lookup(params.WorkflowType)
	if err != nil {
		return nil, err
	}
	requester := strings.TrimSpace(params.RequesterID)
	if requester == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requester is required")
	}
	approvers, ccs, err := normalizeRouting(params.ApproverIDs, params.CCIDs)
	if err != nil {
		return nil, err
	}
	if def.Validate != nil {
		if err := def.Validate(params.Payload); err != nil {
			return nil, err
		}
	}

	requesterName, err := e.resolveName(ctx, requester)
	if err != nil {
		return nil, err
	}
	lines := make([]models.ApprovalLine, 0, len(approvers)+len(ccs))
	for i, id := range approvers {
		line, err := e.newLine(ctx, id, models.LineTypeApproval, i+1)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	for i, id := range ccs {
		line, err := e.newLine(ctx, id, models.LineTypeCC, len(approvers)+i+1)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	now := e.now()
	req := &models.ApprovalRequest{
		WorkflowType:         def.Type,
		RequesterID:          requester,
		RequesterDisplayName: requesterName,
		Payload:              append([]byte(nil), params.Payload...),
		Lines:                lines,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	req.AggregateStatus = Recompute(req.Lines)
	if err := e.store.Create(ctx, req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create approval request")
	}
	e.record(ctx, models.ApprovalEvent{
		RequestID: req.ID,
		EventType: models.EventRequestCreated,
		NewValue:  string(req.AggregateStatus),
		Actor:     requester,
	})
	e.logger.Debug("approval request created",
		zap.String("request_id", req.ID),
		zap.String("workflow", string(req.WorkflowType)),
		zap.Int("approvers", len(approvers)),
		zap.Int("cc", len(ccs)),
	)
	return req, nil
}

// DecideLine applies one decision and recomputes the aggregate status as a
// single serialized unit per request.
func (e *Engine) DecideLine(ctx context.Context, requestID, lineID, actor string, action models.ActionKind, comment string) (*models.ApprovalRequest, error) {
	unlock, err := e.lock(ctx, requestID)
	if err != nil {
		e.observeDecision("", action, "conflict")
		return nil, err
	}
	defer unlock()

	req, err := e.load(ctx, requestID)
	if err != nil {
		e.observeDecision("", action, outcomeOf(err))
		return nil, err
	}
	result, events, err := e.decide(ctx, req, Decision{LineID: lineID, Actor: actor, Action: action, Comment: comment})
	if err != nil {
		e.observeDecision(req.WorkflowType, action, outcomeOf(err))
		return nil, err
	}
	e.observeDecision(req.WorkflowType, action, "success")
	for _, evt := range events {
		e.record(ctx, evt)
	}
	return result, nil
}

func (e *Engine) decide(ctx context.Context, req *models.ApprovalRequest, d Decision) (*models.ApprovalRequest, []models.ApprovalEvent, error) {
	def, err := e.registry.Lookup(req.WorkflowType)
	if err != nil {
		return nil, nil, err
	}
	if req.Withdrawn {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidState, "approval request was withdrawn")
	}

	next := req.Clone()
	now := e.now()
	line, oldStatus, err := ApplyDecision(next, d, now, def.Sequential)
	if err != nil {
		return nil, nil, err
	}
	next.AggregateStatus = Recompute(next.Lines)
	next.UpdatedAt = now

	err = e.store.SaveDecision(ctx, SaveDecisionParams{
		RequestID:       next.ID,
		ExpectedVersion: req.Version,
		Line:            line,
		AggregateStatus: next.AggregateStatus,
		UpdatedAt:       now,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrConflict, "approval request was modified concurrently")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save decision")
	}
	next.Version = req.Version + 1

	if def.OnApproved != nil && req.AggregateStatus != models.ApprovalStatusApproved && next.AggregateStatus == models.ApprovalStatusApproved {
		if err := def.OnApproved(ctx, next.Clone()); err != nil {
			// the decision is committed; the applier cannot undo it
			e.logger.Error("approval applier failed",
				zap.String("request_id", next.ID),
				zap.String("workflow", string(next.WorkflowType)),
				zap.Error(err),
			)
		}
	}

	lineID := line.ID
	events := []models.ApprovalEvent{{
		RequestID: next.ID,
		LineID:    &lineID,
		EventType: eventTypeFor(line.Status),
		OldValue:  string(oldStatus),
		NewValue:  string(line.Status),
		Actor:     d.Actor,
	}}
	return next, events, nil
}

// WithdrawRequest marks a pending request as withdrawn by its requester. The
// aggregate status is left untouched.
func (e *Engine) WithdrawRequest(ctx context.Context, requestID, actor string) error {
	unlock, err := e.lock(ctx, requestID)
	if err != nil {
		return err
	}
	defer unlock()

	req, err := e.load(ctx, requestID)
	if err != nil {
		return err
	}
	if actor == "" || actor != req.RequesterID {
		return appErrors.Clone(appErrors.ErrPermission, "only the requester can withdraw")
	}
	if req.Withdrawn {
		return appErrors.Clone(appErrors.ErrInvalidState, "approval request already withdrawn")
	}
	if req.AggregateStatus != models.ApprovalStatusPending {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot withdraw a %s request", strings.ToLower(string(req.AggregateStatus))))
	}
	err = e.store.MarkWithdrawn(ctx, WithdrawParams{
		RequestID:       req.ID,
		ExpectedVersion: req.Version,
		WithdrawnAt:     e.now(),
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "approval request was modified concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw approval request")
	}
	e.record(ctx, models.ApprovalEvent{
		RequestID: req.ID,
		EventType: models.EventRequestWithdrawn,
		OldValue:  string(req.AggregateStatus),
		NewValue:  "WITHDRAWN",
		Actor:     actor,
	})
	return nil
}

// GetRequest loads a request with its lines.
func (e *Engine) GetRequest(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	return e.load(ctx, requestID)
}

// ListRequests returns requests matching the filter. An inbox listing only
// carries requests the approver can act on now.
func (e *Engine) ListRequests(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error) {
	if filter.PendingApprover != "" {
		filter.SequentialTypes = e.registry.SequentialTypes()
	}
	items, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list approval requests")
	}
	return items, nil
}

// History returns the recorded events of a request, oldest first.
func (e *Engine) History(ctx context.Context, requestID string) ([]models.ApprovalEvent, error) {
	if e.history == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "history reader not configured")
	}
	if _, err := e.load(ctx, requestID); err != nil {
		return nil, err
	}
	events, err := e.history.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval history")
	}
	return events, nil
}

func (e *Engine) load(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
	}
	req, err := e.store.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "approval request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval request")
	}
	return req, nil
}

func (e *Engine) lock(ctx context.Context, requestID string) (func(), error) {
	start := time.Now()
	unlock, err := e.locker.Lock(ctx, "approval:"+requestID)
	if e.observer != nil {
		e.observer.ObserveLockWait(time.Since(start))
	}
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "failed to acquire approval lock")
	}
	return unlock, nil
}

func (e *Engine) newLine(ctx context.Context, identity string, lineType models.LineType, order int) (models.ApprovalLine, error) {
	name, err := e.resolveName(ctx, identity)
	if err != nil {
		return models.ApprovalLine{}, err
	}
	return models.ApprovalLine{
		Order:               order,
		Type:                lineType,
		ApproverID:          identity,
		ApproverDisplayName: name,
		Status:              models.LineStatusPending,
	}, nil
}

func (e *Engine) resolveName(ctx context.Context, identity string) (string, error) {
	if e.directory == nil {
		return identity, nil
	}
	name, err := e.directory.ResolveDisplayName(ctx, identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, appErrors.ErrNotFound) {
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown identity: %s", identity))
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve display name")
	}
	if strings.TrimSpace(name) == "" {
		return identity, nil
	}
	return name, nil
}

func (e *Engine) record(ctx context.Context, evt models.ApprovalEvent) {
	if e.sink == nil {
		return
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = e.now()
	}
	if err := e.sink.RecordEvent(ctx, evt); err != nil {
		e.logger.Warn("failed to record approval event",
			zap.String("request_id", evt.RequestID),
			zap.String("event", string(evt.EventType)),
			zap.Error(err),
		)
	}
}

func (e *Engine) observeDecision(workflow models.WorkflowType, action models.ActionKind, outcome string) {
	if e.observer == nil {
		return
	}
	e.observer.ObserveDecision(workflow, action, outcome)
}

// normalizeRouting trims identities, rejects empty or duplicate approvers and
// drops CC entries already on the approval chain.
func normalizeRouting(approverIDs, ccIDs []string) ([]string, []string, error) {
	if len(approverIDs) == 0 {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "at least one approver is required")
	}
	seen := make(map[string]struct{}, len(approverIDs)+len(ccIDs))
	approvers := make([]string, 0, len(approverIDs))
	for _, raw := range approverIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "approver identity must not be blank")
		}
		if _, dup := seen[id]; dup {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("approver %s listed more than once", id))
		}
		seen[id] = struct{}{}
		approvers = append(approvers, id)
	}
	ccs := make([]string, 0, len(ccIDs))
	for _, raw := range ccIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ccs = append(ccs, id)
	}
	return approvers, ccs, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, appErrors.ErrValidation):
		return "validation"
	case errors.Is(err, appErrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, appErrors.ErrPermission):
		return "permission"
	case errors.Is(err, appErrors.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, appErrors.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
