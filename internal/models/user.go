package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleDoctor     UserRole = "DOCTOR"
	RoleNurse      UserRole = "NURSE"
	RoleStaff      UserRole = "STAFF"
)

// StaffMember is a hospital employee as seen by the approval directory.
type StaffMember struct {
	ID         string    `db:"id" json:"id"`
	EmployeeNo string    `db:"employee_no" json:"employeeNo"`
	FullName   string    `db:"full_name" json:"fullName"`
	Department string    `db:"department" json:"department"`
	Position   string    `db:"position" json:"position"`
	Role       UserRole  `db:"role" json:"role"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}
