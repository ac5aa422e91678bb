package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowType identifies which business workflow routes an approval request.
type WorkflowType string

const (
	WorkflowLeave       WorkflowType = "LEAVE"
	WorkflowDocument    WorkflowType = "DOCUMENT"
	WorkflowStaffChange WorkflowType = "STAFF_CHANGE"
)

// LineType distinguishes gating approvers from informational recipients.
type LineType string

const (
	LineTypeApproval LineType = "APPROVAL"
	LineTypeCC       LineType = "CC"
)

// LineStatus captures the action state of a single approval line.
type LineStatus string

const (
	LineStatusPending  LineStatus = "PENDING"
	LineStatusApproved LineStatus = "APPROVED"
	LineStatusRejected LineStatus = "REJECTED"
	LineStatusRead     LineStatus = "READ"
)

// ApprovalStatus is the aggregate state of a request derived from its lines.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// ActionKind enumerates decisions an approver can submit.
type ActionKind string

const (
	ActionApprove     ActionKind = "APPROVE"
	ActionReject      ActionKind = "REJECT"
	ActionAcknowledge ActionKind = "ACKNOWLEDGE"
)

// JSONPayload is raw JSON business content stored in a jsonb column. The
// engine never interprets it.
type JSONPayload []byte

// Value implements driver.Valuer.
func (p JSONPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return []byte(p), nil
}

// Scan implements sql.Scanner, copying the driver buffer.
func (p *JSONPayload) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(JSONPayload(nil), v...)
	case string:
		*p = JSONPayload(v)
	default:
		return fmt.Errorf("unsupported payload type %T", src)
	}
	return nil
}

// MarshalJSON emits the payload verbatim.
func (p JSONPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(p).MarshalJSON()
}

// UnmarshalJSON stores a copy of the raw payload.
func (p *JSONPayload) UnmarshalJSON(data []byte) error {
	*p = append(JSONPayload(nil), data...)
	return nil
}

// ApprovalLine is one step in a request's routing chain.
type ApprovalLine struct {
	ID                  string     `db:"id" json:"id"`
	RequestID           string     `db:"request_id" json:"requestId"`
	Order               int        `db:"line_order" json:"order"`
	Type                LineType   `db:"line_type" json:"type"`
	ApproverID          string     `db:"approver_id" json:"approverId"`
	ApproverDisplayName string     `db:"approver_display_name" json:"approverDisplayName"`
	Status              LineStatus `db:"status" json:"status"`
	ActionComment       *string    `db:"action_comment" json:"actionComment,omitempty"`
	ActedAt             *time.Time `db:"acted_at" json:"actedAt,omitempty"`
}

// IsPending reports whether the line still awaits action.
func (l ApprovalLine) IsPending() bool {
	return l.Status == LineStatusPending
}

// ApprovalRequest is a routed unit of work awaiting approvals.
type ApprovalRequest struct {
	ID                   string         `db:"id" json:"id"`
	WorkflowType         WorkflowType   `db:"workflow_type" json:"workflowType"`
	RequesterID          string         `db:"requester_id" json:"requesterId"`
	RequesterDisplayName string         `db:"requester_display_name" json:"requesterDisplayName"`
	AggregateStatus      ApprovalStatus `db:"aggregate_status" json:"aggregateStatus"`
	Payload              JSONPayload    `db:"payload" json:"payload"`
	Withdrawn            bool           `db:"withdrawn" json:"withdrawn"`
	WithdrawnAt          *time.Time     `db:"withdrawn_at" json:"withdrawnAt,omitempty"`
	Version              int            `db:"version" json:"version"`
	CreatedAt            time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updatedAt"`
	Lines                []ApprovalLine `db:"-" json:"lines"`
}

// Line returns the line with the given identifier, or nil.
func (r *ApprovalRequest) Line(id string) *ApprovalLine {
	for i := range r.Lines {
		if r.Lines[i].ID == id {
			return &r.Lines[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without sharing line storage.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	out := *r
	out.Payload = append([]byte(nil), r.Payload...)
	out.Lines = make([]ApprovalLine, len(r.Lines))
	copy(out.Lines, r.Lines)
	for i := range out.Lines {
		if c := out.Lines[i].ActionComment; c != nil {
			v := *c
			out.Lines[i].ActionComment = &v
		}
		if a := out.Lines[i].ActedAt; a != nil {
			v := *a
			out.Lines[i].ActedAt = &v
		}
	}
	if r.WithdrawnAt != nil {
		v := *r.WithdrawnAt
		out.WithdrawnAt = &v
	}
	return &out
}

// ApprovalFilter constrains listing queries.
type ApprovalFilter struct {
	WorkflowType    WorkflowType
	Status          []ApprovalStatus
	RequesterID     string
	PendingApprover string
	// SequentialTypes limits the inbox to the lowest pending APPROVAL line
	// for these workflow types.
	SequentialTypes []WorkflowType
	Withdrawn       *bool
	Limit           int
	Offset          int
}

// ApprovalEventType enumerates history record kinds.
type ApprovalEventType string

const (
	EventRequestCreated   ApprovalEventType = "REQUEST_CREATED"
	EventLineApproved     ApprovalEventType = "LINE_APPROVED"
	EventLineRejected     ApprovalEventType = "LINE_REJECTED"
	EventLineRead         ApprovalEventType = "LINE_READ"
	EventRequestWithdrawn ApprovalEventType = "REQUEST_WITHDRAWN"
)

// ApprovalEvent is an append-only history record for a request.
type ApprovalEvent struct {
	ID        string            `db:"id" json:"id"`
	RequestID string            `db:"request_id" json:"requestId"`
	LineID    *string           `db:"line_id" json:"lineId,omitempty"`
	EventType ApprovalEventType `db:"event_type" json:"eventType"`
	OldValue  string            `db:"old_value" json:"oldValue"`
	NewValue  string            `db:"new_value" json:"newValue"`
	Actor     string            `db:"actor" json:"actor"`
	CreatedAt time.Time         `db:"created_at" json:"createdAt"`
}
