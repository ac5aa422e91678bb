package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens issued by the
// hospital identity provider.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Email      string   `json:"email"`
	FullName   string   `json:"full_name"`
	Department string   `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the caller holds one of roles.
func (c *JWTClaims) HasRole(roles ...UserRole) bool {
	if c == nil {
		return false
	}
	for _, role := range roles {
		if c.Role == role {
			return true
		}
	}
	return false
}

// IsAdministrator covers ADMIN and SUPERADMIN.
func (c *JWTClaims) IsAdministrator() bool {
	return c.HasRole(RoleAdmin, RoleSuperAdmin)
}
