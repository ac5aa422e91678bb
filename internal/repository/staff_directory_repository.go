package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/hospital-admin-api/internal/models"
)

// StaffDirectoryRepository looks up staff members for the approval directory.
type StaffDirectoryRepository struct {
	db *sqlx.DB
}

// NewStaffDirectoryRepository creates a new instance of StaffDirectoryRepository.
func NewStaffDirectoryRepository(db *sqlx.DB) *StaffDirectoryRepository {
	return &StaffDirectoryRepository{db: db}
}

// FindByID returns an active staff member by identifier.
func (r *StaffDirectoryRepository) FindByID(ctx context.Context, id string) (*models.StaffMember, error) {
	const query = `SELECT id, employee_no, full_name, department, position, role, active, created_at, updated_at
	FROM staff WHERE id = $1 AND active = TRUE LIMIT 1`
	var member models.StaffMember
	if err := r.db.GetContext(ctx, &member, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find staff by id: %w", err)
	}
	return &member, nil
}

// ResolveDisplayName renders "Full Name (Position, Department)" for approval lines.
func (r *StaffDirectoryRepository) ResolveDisplayName(ctx context.Context, identity string) (string, error) {
	member, err := r.FindByID(ctx, identity)
	if err != nil {
		return "", err
	}
	return DisplayName(member), nil
}

// DisplayName formats a staff member for approval lines.
func DisplayName(member *models.StaffMember) string {
	if member == nil {
		return ""
	}
	switch {
	case member.Position != "" && member.Department != "":
		return fmt.Sprintf("%s (%s, %s)", member.FullName, member.Position, member.Department)
	case member.Position != "":
		return fmt.Sprintf("%s (%s)", member.FullName, member.Position)
	default:
		return member.FullName
	}
}
