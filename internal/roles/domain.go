package roles

import (
	"strings"
	"time"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Role is a flat, named permission bucket.
type Role struct {
	shared.AuditedRecord
	Name         string `json:"name"`
	DisplayName  string `json:"displayName"`
	Description  string `json:"description"`
	IsSystemRole bool   `json:"isSystemRole"`
	IsActive     bool   `json:"isActive"`
}

// Code returns the granted authority code, e.g. ROLE_FIN_ADMIN.
func (r Role) Code() string {
	return "ROLE_" + r.Name
}

// NormalizeName upper-cases a role name and joins words with underscores.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), "_"))
}

// Assignment is one row of the role assignment ledger. At most one row per
// (user, role) is active; revoked rows are kept as history.
type Assignment struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"userId"`
	RoleID     int64      `json:"roleId"`
	RoleName   string     `json:"roleName,omitempty"`
	AssignedAt time.Time  `json:"assignedAt"`
	AssignedBy string     `json:"assignedBy"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	RevokedBy  string     `json:"revokedBy,omitempty"`
	Active     bool       `json:"active"`
	Remarks    string     `json:"remarks,omitempty"`
}

// SystemRoleDefinition describes a seeded role.
type SystemRoleDefinition struct {
	Name        string
	DisplayName string
	Description string
}

// SystemRoleDefinitions lists the roles every installation carries.
func SystemRoleDefinitions() []SystemRoleDefinition {
	return []SystemRoleDefinition{
		{Name: shared.RoleSuperAdmin, DisplayName: "Super Administrator", Description: "Full access to every module"},
		{Name: shared.RoleTechAdmin, DisplayName: "Technical Administrator", Description: "Manages users, roles and system settings"},
		{Name: shared.RoleFinAdmin, DisplayName: "Financial Administrator", Description: "Verifies payments and approves expenses"},
		{Name: shared.RoleUser, DisplayName: "Regular User", Description: "Club member submitting contributions"},
	}
}

// CreateRoleInput is the payload for creating a custom role.
type CreateRoleInput struct {
	Name        string `json:"name" validate:"required,min=2,max=50"`
	DisplayName string `json:"displayName" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	IsSystem    bool   `json:"-"`
}

// UpdateRoleInput is the payload for editing a custom role.
type UpdateRoleInput struct {
	DisplayName string `json:"displayName" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// AssignInput is the payload for ledger grant operations.
type AssignInput struct {
	UserID  int64   `json:"userId" validate:"required,gt=0"`
	RoleID  int64   `json:"roleId" validate:"omitempty,gt=0"`
	RoleIDs []int64 `json:"roleIds" validate:"omitempty,dive,gt=0"`
	Remarks string  `json:"remarks" validate:"max=500"`
}

// maxRemarkLength bounds ledger remarks.
const maxRemarkLength = 500

var (
	ErrRoleNotFound    = shared.NewError(shared.KindNotFound, "ROLE_NOT_FOUND", "role not found")
	ErrRoleExists      = shared.NewError(shared.KindAlreadyExists, "ROLE_EXISTS", "role already exists")
	ErrRoleInactive    = shared.NewError(shared.KindInvalidStateTransition, "ROLE_INACTIVE", "role is not active")
	ErrAlreadyActive   = shared.NewError(shared.KindInvalidStateTransition, "ROLE_ALREADY_ACTIVE", "role is already active")
	ErrAlreadyAssigned = shared.NewError(shared.KindInvalidStateTransition, "ALREADY_ASSIGNED", "role is already assigned to user")
	ErrNotAssigned     = shared.NewError(shared.KindInvalidStateTransition, "NOT_ASSIGNED", "role is not assigned to user")
	ErrNoHistory       = shared.NewError(shared.KindNotFound, "ASSIGNMENT_NOT_FOUND", "no previous assignment to reactivate")
	ErrProtectedRole   = shared.NewError(shared.KindProtectedResource, "PROTECTED_ROLE", "system roles cannot be modified")
	ErrRoleInUse       = shared.NewError(shared.KindProtectedResource, "ROLE_IN_USE", "role is assigned to users")
)
