package workflow

import "github.com/noah-isme/hospital-admin-api/internal/models"

// Recompute derives a request's aggregate status from its lines.
//
// Only APPROVAL lines participate. A request without gating lines is approved,
// any rejection finalizes it as rejected (checked before pending so a rejection
// ahead of still-pending approvers is terminal), otherwise it stays pending
// until every approver has approved.
func Recompute(lines []models.ApprovalLine) models.ApprovalStatus {
	gating := 0
	pending := false
	for _, line := range lines {
		if line.Type != models.LineTypeApproval {
			continue
		}
		gating++
		switch line.Status {
		case models.LineStatusRejected:
			return models.ApprovalStatusRejected
		case models.LineStatusPending:
			pending = true
		}
	}
	if gating == 0 {
		return models.ApprovalStatusApproved
	}
	if pending {
		return models.ApprovalStatusPending
	}
	return models.ApprovalStatusApproved
}
