package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/hospital-admin-api/internal/models"
	appErrors "github.com/noah-isme/hospital-admin-api/pkg/errors"
)

// Decision is a single approve/reject/acknowledge action on one line.
type Decision struct {
	LineID  string
	Actor   string
	Action  models.ActionKind
	Comment string
}

// ApplyDecision validates the decision against the request and mutates the
// targeted line in place. It returns a copy of the updated line and the status
// the line had before. The request is left untouched on any error.
//
// sequential enforces that an APPROVAL line cannot be decided while an
// APPROVAL line with a lower order is still pending.
func ApplyDecision(req *models.ApprovalRequest, d Decision, now time.Time, sequential bool) (models.ApprovalLine, models.LineStatus, error) {
	line := req.Line(d.LineID)
	if line == nil || line.RequestID != req.ID {
		return models.ApprovalLine{}, "", appErrors.Clone(appErrors.ErrNotFound, "approval line not found")
	}
	if d.Actor == "" || d.Actor != line.ApproverID {
		return models.ApprovalLine{}, "", appErrors.Clone(appErrors.ErrPermission, "")
	}
	switch d.Action {
	case models.ActionApprove, models.ActionReject, models.ActionAcknowledge:
	default:
		return models.ApprovalLine{}, "", appErrors.Clone(appErrors.ErrValidation, "action must be APPROVE, REJECT or ACKNOWLEDGE")
	}
	if !line.IsPending() {
		return models.ApprovalLine{}, "", appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("line already %s", strings.ToLower(string(line.Status))))
	}

	switch line.Type {
	case models.LineTypeCC:
		if d.Action != models.ActionAcknowledge {
			return models.ApprovalLine{}, "", appErrors.Clone(appErrors.ErrInvalidState, "cc lines can only be acknowledged")
		}
	case models.LineTypeApproval:
		if d.Action == models.ActionAcknowledge {
			return models.ApprovalLine{}, "", appErrors.Clone(appErrors.ErrInvalidState, "approval lines must be approved or rejected")
		}
		if req.AggregateStatus != models.ApprovalStatusPending {
			return models.ApprovalLine{}, "", appErrors.Clone(appErrors.ErrInvalidState, "request already finalized")
		}
		if sequential {
			if blocker := earlierPending(req.Lines, line.Order); blocker != nil {
				return models.ApprovalLine{}, "", appErrors.Clone(appErrors.ErrInvalidState,
					fmt.Sprintf("waiting for approver at order %d", blocker.Order))
			}
		}
	default:
		return models.ApprovalLine{}, "", appErrors.Clone(appErrors.ErrInvalidState, "unknown line type")
	}

	comment := strings.TrimSpace(d.Comment)
	if d.Action == models.ActionReject && comment == "" {
		return models.ApprovalLine{}, "", appErrors.Clone(appErrors.ErrValidation, "comment is required when rejecting")
	}

	old := line.Status
	acted := now
	line.ActedAt = &acted
	switch d.Action {
	case models.ActionApprove:
		line.Status = models.LineStatusApproved
	case models.ActionReject:
		line.Status = models.LineStatusRejected
		line.ActionComment = &comment
	case models.ActionAcknowledge:
		line.Status = models.LineStatusRead
	}
	return *line, old, nil
}

func earlierPending(lines []models.ApprovalLine, order int) *models.ApprovalLine {
	var first *models.ApprovalLine
	for i := range lines {
		l := &lines[i]
		if l.Type != models.LineTypeApproval || l.Order >= order || !l.IsPending() {
			continue
		}
		if first == nil || l.Order < first.Order {
			first = l
		}
	}
	return first
}

// eventTypeFor maps a terminal line status to its history event.
func eventTypeFor(status models.LineStatus) models.ApprovalEventType {
	switch status {
	case models.LineStatusApproved:
		return models.EventLineApproved
	case models.LineStatusRejected:
		return models.EventLineRejected
	default:
		return models.EventLineRead
	}
}
