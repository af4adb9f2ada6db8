package rbac

import (
	"context"
	"errors"
)

// Store is the persistence boundary the manager depends on. Lookups
// return (nil, nil) when the entity is absent; mutations return the
// persisted entity with surrogate IDs filled in.
//
// InTx runs fn against a Store bound to a single transaction. A Store
// that is already transaction-bound participates in the open transaction
// instead of nesting a second one, so re-entrant InTx calls are safe.
// The transaction is committed when fn returns nil and rolled back when
// it returns an error.
type Store interface {
	InTx(ctx context.Context, fn func(Store) error) error

	FindRoleByCode(ctx context.Context, code string) (*Role, error)
	FindPermissionByCode(ctx context.Context, code string) (*Permission, error)
	FindAssignment(ctx context.Context, userID, roleCode string) (*RoleAssignment, error)

	ListAssignmentsForUser(ctx context.Context, userID string) ([]RoleAssignment, error)
	ListPermissionsForRole(ctx context.Context, roleCode string) ([]Permission, error)
	CountAssignmentsForRole(ctx context.Context, roleCode string) (int64, error)
	// ListUserIDsForRole returns the distinct user identifiers still
	// holding the role, used for the deletion guard.
	ListUserIDsForRole(ctx context.Context, roleCode string) ([]string, error)
	// ListBlockingRoleCodes returns the codes of roles still granting the
	// permission, used for the deletion guard.
	ListBlockingRoleCodes(ctx context.Context, permissionCode string) ([]string, error)

	CreateRole(ctx context.Context, role Role) (Role, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	CreateAssignment(ctx context.Context, assignment RoleAssignment) (RoleAssignment, error)
	DeleteAssignment(ctx context.Context, userID, roleCode string) error
	AddRolePermission(ctx context.Context, roleCode, permissionCode string) error
	RemoveRolePermission(ctx context.Context, roleCode, permissionCode string) error
	DeleteRole(ctx context.Context, code string) error
	DeletePermission(ctx context.Context, code string) error

	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	SearchRoles(ctx context.Context, query string, limit int) ([]Role, error)
	SearchPermissions(ctx context.Context, query string, limit int) ([]Permission, error)
	RolesWithUserCount(ctx context.Context) ([]RoleUserCount, error)
	UnassignedPermissions(ctx context.Context) ([]Permission, error)
	RecentAssignments(ctx context.Context, limit int) ([]RoleAssignment, error)
}

// ErrDuplicateAssignment is returned by CreateAssignment when the
// (user, role) pair already exists, typically from the unique index when
// two concurrent assigns race past the existence check.
var ErrDuplicateAssignment = errors.New("rbac: assignment already exists")
