package rbac

import "fmt"

// RoleNotFoundError signals a mutating or assigning operation that named
// a role which does not exist.
type RoleNotFoundError struct {
	Code string
}

func (e *RoleNotFoundError) Error() string {
	return fmt.Sprintf("rbac: role with code %q not found", e.Code)
}

// PermissionNotFoundError signals a mutating operation that named a
// permission which does not exist.
type PermissionNotFoundError struct {
	Code string
}

func (e *PermissionNotFoundError) Error() string {
	return fmt.Sprintf("rbac: permission with code %q not found", e.Code)
}

// DeletionConflictError signals a delete that was blocked because other
// entities still reference the target. Affected carries user IDs when a
// role is blocked and role codes when a permission is blocked.
type DeletionConflictError struct {
	Identifier string
	Kind       string
	Affected   []string
}

func (e *DeletionConflictError) Error() string {
	if e.Kind == "permission" {
		return fmt.Sprintf("rbac: cannot delete permission %q: %d roles have this permission", e.Identifier, len(e.Affected))
	}
	return fmt.Sprintf("rbac: cannot delete role %q: %d users are assigned to this role", e.Identifier, len(e.Affected))
}

// InvalidUserIDError signals an empty or unusable user identifier.
type InvalidUserIDError struct {
	Reason string
}

func (e *InvalidUserIDError) Error() string {
	return "rbac: " + e.Reason
}

// ValidationError reports an entity field that violates its invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rbac: %s: %s", e.Field, e.Reason)
}

// DuplicateCodeError signals a create that reused an existing code.
type DuplicateCodeError struct {
	Kind string
	Code string
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("rbac: %s with code %q already exists", e.Kind, e.Code)
}

// IsDomainError reports whether err belongs to the rbac error taxonomy.
// Transport layers use it to separate caller mistakes from
// infrastructure failures.
func IsDomainError(err error) bool {
	switch err.(type) {
	case *RoleNotFoundError, *PermissionNotFoundError, *DeletionConflictError,
		*InvalidUserIDError, *ValidationError, *DuplicateCodeError:
		return true
	}
	return false
}
