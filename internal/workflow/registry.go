package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/hospital-admin-api/internal/dto"
	"github.com/noah-isme/hospital-admin-api/internal/models"
	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
)

// PayloadValidator checks the opaque payload of a workflow type at creation.
type PayloadValidator func(payload json.RawMessage) error

// Applier carries an approved request into the domain it changes. It runs
// once, when the aggregate first becomes APPROVED.
type Applier func(ctx context.Context, req *models.ApprovalRequest) error

// Definition describes how one workflow type is routed.
type Definition struct {
	Type       models.WorkflowType
	Sequential bool
	Validate   PayloadValidator
	OnApproved Applier
}

// Registry resolves workflow definitions by type.
type Registry struct {
	mu   sync.RWMutex
	defs map[models.WorkflowType]Definition
}

// NewRegistry builds a registry from the given definitions.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[models.WorkflowType]Definition, len(defs))}
	for _, def := range defs {
		r.Register(def)
	}
	return r
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
}

// Lookup returns the definition for a workflow type.
func (r *Registry) Lookup(t models.WorkflowType) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[t]
	if !ok {
		return Definition{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported workflow type: %s", t))
	}
	return def, nil
}

// OnApproved attaches an applier to a registered type.
func (r *Registry) OnApproved(t models.WorkflowType, apply Applier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[t]
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported workflow type: %s", t))
	}
	def.OnApproved = apply
	r.defs[t] = def
	return nil
}

// SequentialTypes lists the registered types that enforce line order,
// sorted by name.
func (r *Registry) SequentialTypes() []models.WorkflowType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.WorkflowType, 0, len(r.defs))
	for t, def := range r.defs {
		if def.Sequential {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StructPayload decodes the payload strictly into T, runs struct tag
// validation and then the optional check.
func StructPayload[T any](validate *validator.Validate, check func(*T) error) PayloadValidator {
	if validate == nil {
		validate = validator.New()
	}
	return func(payload json.RawMessage) error {
		if len(bytes.TrimSpace(payload)) == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "payload is required")
		}
		var value T
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&value); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
		}
		if err := validate.Struct(value); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
		}
		if check != nil {
			return check(&value)
		}
		return nil
	}
}

// DefaultRegistry registers the leave, document and staff change workflows.
// Types missing from sequential default to strict ordering.
func DefaultRegistry(validate *validator.Validate, sequential map[models.WorkflowType]bool) *Registry {
	ordered := func(t models.WorkflowType) bool {
		if v, ok := sequential[t]; ok {
			return v
		}
		return true
	}
	return NewRegistry(
		Definition{
			Type:       models.WorkflowLeave,
			Sequential: ordered(models.WorkflowLeave),
			Validate:   StructPayload(validate, checkLeavePeriod),
		},
		Definition{
			Type:       models.WorkflowDocument,
			Sequential: ordered(models.WorkflowDocument),
			Validate:   StructPayload[dto.DocumentPayload](validate, nil),
		},
		Definition{
			Type:       models.WorkflowStaffChange,
			Sequential: ordered(models.WorkflowStaffChange),
			Validate:   StructPayload[dto.StaffChangePayload](validate, nil),
		},
	)
}

// DirectoryInvalidator drops cached directory entries.
type DirectoryInvalidator interface {
	Invalidate(ctx context.Context, identities ...string) error
}

// InvalidateChangedStaff evicts the staff member named by an approved staff
// change so later lookups see the updated record.
func InvalidateChangedStaff(directory DirectoryInvalidator) Applier {
	return func(ctx context.Context, req *models.ApprovalRequest) error {
		var payload dto.StaffChangePayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return fmt.Errorf("decode staff change payload: %w", err)
		}
		if payload.StaffID == "" {
			return nil
		}
		return directory.Invalidate(ctx, payload.StaffID)
	}
}

func checkLeavePeriod(p *dto.LeavePayload) error {
	start, err := time.Parse("2006-01-02", p.StartDate)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "startDate must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", p.EndDate)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "endDate must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return appErrors.Clone(appErrors.ErrValidation, "endDate must not be before startDate")
	}
	if p.HalfDay && !end.Equal(start) {
		return appErrors.Clone(appErrors.ErrValidation, "half-day leave must start and end on the same date")
	}
	return nil
}
