package rbac

import (
	"regexp"
	"strings"
	"time"
)

// PermissionCodePattern constrains permission codes, e.g. PERMISSION_USER_EDIT.
var PermissionCodePattern = regexp.MustCompile(`^PERMISSION_[A-Z_]+$`)

// MaxHierarchyLevel bounds the advisory role hierarchy depth.
const MaxHierarchyLevel = 10

// MaxDescriptionLength bounds role and permission descriptions.
const MaxDescriptionLength = 1000

// Role represents a named bundle of permissions assignable to users.
// ParentRoleID and HierarchyLevel are stored but never traversed; no
// permission inheritance is derived from them.
type Role struct {
	ID             int64
	Code           string
	Name           string
	Description    string
	ParentRoleID   *int64
	HierarchyLevel *int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks the invariants enforced on create and update.
func (r Role) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return &ValidationError{Field: "code", Reason: "role code required"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Reason: "role name required"}
	}
	if len(r.Description) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Reason: "role description too long"}
	}
	if r.HierarchyLevel != nil && (*r.HierarchyLevel < 0 || *r.HierarchyLevel > MaxHierarchyLevel) {
		return &ValidationError{Field: "hierarchy_level", Reason: "hierarchy level out of range"}
	}
	if r.ParentRoleID != nil && *r.ParentRoleID < 0 {
		return &ValidationError{Field: "parent_role_id", Reason: "parent role id must not be negative"}
	}
	return nil
}

// Permission represents an atomic capability identified by a unique code.
type Permission struct {
	ID          int64
	Code        string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks the invariants enforced on create.
func (p Permission) Validate() error {
	if !PermissionCodePattern.MatchString(p.Code) {
		return &ValidationError{Field: "code", Reason: "permission code must match PERMISSION_[A-Z_]+"}
	}
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "permission name required"}
	}
	if len(p.Description) > MaxDescriptionLength {
		return &ValidationError{Field: "description", Reason: "permission description too long"}
	}
	return nil
}

// RoleAssignment links a user identifier to exactly one role. The pair
// (UserID, RoleCode) is unique; AssignedAt is set at creation and never
// mutated afterwards.
type RoleAssignment struct {
	ID         int64
	UserID     string
	RoleCode   string
	AssignedAt time.Time
}

// Principal describes the authenticated actor presented to the voter.
// Users live outside this module, so only the identifier matters here.
type Principal interface {
	Identifier() string
}

// RoleUserCount reports how many users currently hold a role.
type RoleUserCount struct {
	Role      Role
	UserCount int64
}
