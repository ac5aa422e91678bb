package dto

import (
	"encoding/json"

	"github.com/noah-isme/hospital-admin-api/internal/models"
)

// CreateApprovalRequest payload for routing a new request through approvers.
type CreateApprovalRequest struct {
	ApproverIDs []string        `json:"approverIds"`
	CCIDs       []string        `json:"ccIds"`
	Payload     json.RawMessage `json:"payload"`
}

// DecideLineRequest captures an approver's decision on one line.
type DecideLineRequest struct {
	Action  models.ActionKind `json:"action"`
	Comment string            `json:"comment"`
}

// ApprovalQuery mirrors supported listing filters.
type ApprovalQuery struct {
	Status    []models.ApprovalStatus
	Mine      bool
	Inbox     bool
	Withdrawn *bool
	Limit     int
	Offset    int
}

// LeavePayload is the business content of a leave request.
type LeavePayload struct {
	Kind      string `json:"kind" validate:"required,oneof=ANNUAL SICK MATERNITY BEREAVEMENT UNPAID OTHER"`
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
	HalfDay   bool   `json:"halfDay"`
	Reason    string `json:"reason" validate:"required,max=500"`
}

// DocumentPayload is the business content of an internal common document.
type DocumentPayload struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Body        string   `json:"body" validate:"required"`
	Category    string   `json:"category" validate:"omitempty,max=50"`
	Attachments []string `json:"attachments" validate:"omitempty,dive,required"`
}

// StaffChangePayload describes a requested change to a staff record.
type StaffChangePayload struct {
	StaffID string                     `json:"staffId" validate:"required"`
	Changes map[string]json.RawMessage `json:"changes" validate:"required,min=1"`
	Reason  string                     `json:"reason" validate:"required,max=500"`
}
