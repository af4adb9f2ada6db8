package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aegis-iam/aegis-iam/internal/audit"
)

// Manager is the sole mutator of the role/permission/assignment graph.
// It enforces idempotency, the referential guards around deletes, and
// the bulk partial-failure semantics, and emits an audit event for every
// state change.
type Manager struct {
	store    Store
	notifier audit.Notifier
	logger   *slog.Logger
}

// NewManager constructs a Manager. A nil notifier disables audit
// notifications; a nil logger falls back to slog.Default.
func NewManager(store Store, notifier audit.Notifier, logger *slog.Logger) *Manager {
	if notifier == nil {
		notifier = audit.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, notifier: notifier, logger: logger}
}

// AssignRole grants roleCode to the user. It returns false without error
// when the assignment already exists. The existence check and the insert
// run inside one transaction; when the surrounding call is already
// transactional the operation participates in that transaction instead
// of opening a nested one.
func (m *Manager) AssignRole(ctx context.Context, userID, roleCode string) (bool, error) {
	changed, err := m.assignRole(ctx, m.store, userID, roleCode)
	if err != nil {
		return false, err
	}
	if changed {
		m.notify(ctx, audit.Event{
			Action:   audit.ActionRoleAssigned,
			UserID:   userID,
			RoleCode: roleCode,
		})
	}
	return changed, nil
}

func (m *Manager) assignRole(ctx context.Context, store Store, userID, roleCode string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, &InvalidUserIDError{Reason: "user identifier cannot be empty"}
	}
	role, err := store.FindRoleByCode(ctx, roleCode)
	if err != nil {
		return false, err
	}
	if role == nil {
		return false, &RoleNotFoundError{Code: roleCode}
	}

	changed := false
	err = store.InTx(ctx, func(s Store) error {
		existing, err := s.FindAssignment(ctx, userID, roleCode)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		_, err = s.CreateAssignment(ctx, RoleAssignment{
			UserID:     userID,
			RoleCode:   roleCode,
			AssignedAt: time.Now(),
		})
		if errors.Is(err, ErrDuplicateAssignment) {
			// Lost a race against a concurrent identical assign. The end
			// state is what the caller asked for, so report no change.
			return nil
		}
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// RevokeRole removes roleCode from the user. Revoking an absent
// assignment is a no-op and returns false. No transaction guard is
// needed: a lost race on delete leaves the same end state.
func (m *Manager) RevokeRole(ctx context.Context, userID, roleCode string) (bool, error) {
	changed, err := m.revokeRole(ctx, m.store, userID, roleCode)
	if err != nil {
		return false, err
	}
	if changed {
		m.notify(ctx, audit.Event{
			Action:   audit.ActionRoleRevoked,
			UserID:   userID,
			RoleCode: roleCode,
		})
	}
	return changed, nil
}

func (m *Manager) revokeRole(ctx context.Context, store Store, userID, roleCode string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, &InvalidUserIDError{Reason: "user identifier cannot be empty"}
	}
	existing, err := store.FindAssignment(ctx, userID, roleCode)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if err := store.DeleteAssignment(ctx, userID, roleCode); err != nil {
		return false, err
	}
	return true, nil
}

// AddPermissionToRole grants a permission to a role. Both the role and
// the permission must exist. Granting an already-granted permission
// returns false.
func (m *Manager) AddPermissionToRole(ctx context.Context, roleCode, permissionCode string) (bool, error) {
	changed, err := m.addPermissionToRole(ctx, m.store, roleCode, permissionCode)
	if err != nil {
		return false, err
	}
	if changed {
		m.notify(ctx, audit.Event{
			Action:         audit.ActionPermissionGranted,
			RoleCode:       roleCode,
			PermissionCode: permissionCode,
		})
	}
	return changed, nil
}

func (m *Manager) addPermissionToRole(ctx context.Context, store Store, roleCode, permissionCode string) (bool, error) {
	role, err := store.FindRoleByCode(ctx, roleCode)
	if err != nil {
		return false, err
	}
	if role == nil {
		return false, &RoleNotFoundError{Code: roleCode}
	}
	perm, err := store.FindPermissionByCode(ctx, permissionCode)
	if err != nil {
		return false, err
	}
	if perm == nil {
		return false, &PermissionNotFoundError{Code: permissionCode}
	}

	granted, err := store.ListPermissionsForRole(ctx, roleCode)
	if err != nil {
		return false, err
	}
	for _, p := range granted {
		if p.Code == permissionCode {
			return false, nil
		}
	}
	if err := store.AddRolePermission(ctx, roleCode, permissionCode); err != nil {
		return false, err
	}
	return true, nil
}

// RemovePermissionFromRole removes a permission from a role. A missing
// role, missing permission, or not-granted permission all return false
// rather than an error: the requested end state already holds. The
// asymmetry with AddPermissionToRole is deliberate.
func (m *Manager) RemovePermissionFromRole(ctx context.Context, roleCode, permissionCode string) (bool, error) {
	role, err := m.store.FindRoleByCode(ctx, roleCode)
	if err != nil {
		return false, err
	}
	if role == nil {
		return false, nil
	}
	perm, err := m.store.FindPermissionByCode(ctx, permissionCode)
	if err != nil {
		return false, err
	}
	if perm == nil {
		return false, nil
	}
	granted, err := m.store.ListPermissionsForRole(ctx, roleCode)
	if err != nil {
		return false, err
	}
	found := false
	for _, p := range granted {
		if p.Code == permissionCode {
			found = true
			break
		}
	}
	if !found {
		return false, nil
	}
	if err := m.store.RemoveRolePermission(ctx, roleCode, permissionCode); err != nil {
		return false, err
	}
	m.notify(ctx, audit.Event{
		Action:         audit.ActionPermissionRevoked,
		RoleCode:       roleCode,
		PermissionCode: permissionCode,
	})
	return true, nil
}

// UserPermissions resolves the deduplicated permission codes granted to
// the user through all assigned roles. Users without assignments get an
// empty set.
func (m *Manager) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	assignments, err := m.store.ListAssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, a := range assignments {
		perms, err := m.store.ListPermissionsForRole(ctx, a.RoleCode)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			seen[p.Code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// HasPermission reports whether the user holds the permission through
// any assigned role.
func (m *Manager) HasPermission(ctx context.Context, userID, permissionCode string) (bool, error) {
	codes, err := m.UserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, code := range codes {
		if code == permissionCode {
			return true, nil
		}
	}
	return false, nil
}

// UserRoles returns one role per assignment held by the user.
func (m *Manager) UserRoles(ctx context.Context, userID string) ([]Role, error) {
	assignments, err := m.store.ListAssignmentsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(assignments))
	for _, a := range assignments {
		role, err := m.store.FindRoleByCode(ctx, a.RoleCode)
		if err != nil {
			return nil, err
		}
		if role != nil {
			roles = append(roles, *role)
		}
	}
	return roles, nil
}

// CanDeleteRole reports whether no assignment references the role.
func (m *Manager) CanDeleteRole(ctx context.Context, roleCode string) (bool, error) {
	count, err := m.store.CountAssignmentsForRole(ctx, roleCode)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// CanDeletePermission reports whether no role still grants the permission.
func (m *Manager) CanDeletePermission(ctx context.Context, permissionCode string) (bool, error) {
	codes, err := m.store.ListBlockingRoleCodes(ctx, permissionCode)
	if err != nil {
		return false, err
	}
	return len(codes) == 0, nil
}

// DeleteRole removes a role after the referential guard passes. Deleting
// an already-absent role is a silent no-op. The guard and the delete are
// separate statements; a concurrent assign landing between them is an
// accepted narrow window.
func (m *Manager) DeleteRole(ctx context.Context, roleCode string) error {
	userIDs, err := m.store.ListUserIDsForRole(ctx, roleCode)
	if err != nil {
		return err
	}
	if len(userIDs) > 0 {
		return &DeletionConflictError{Identifier: roleCode, Kind: "role", Affected: userIDs}
	}
	role, err := m.store.FindRoleByCode(ctx, roleCode)
	if err != nil {
		return err
	}
	if role == nil {
		return nil
	}
	if err := m.store.DeleteRole(ctx, roleCode); err != nil {
		return err
	}
	m.notify(ctx, audit.Event{Action: audit.ActionRoleDeleted, RoleCode: roleCode})
	return nil
}

// DeletePermission removes a permission after the referential guard
// passes, mirroring DeleteRole.
func (m *Manager) DeletePermission(ctx context.Context, permissionCode string) error {
	roleCodes, err := m.store.ListBlockingRoleCodes(ctx, permissionCode)
	if err != nil {
		return err
	}
	if len(roleCodes) > 0 {
		return &DeletionConflictError{Identifier: permissionCode, Kind: "permission", Affected: roleCodes}
	}
	perm, err := m.store.FindPermissionByCode(ctx, permissionCode)
	if err != nil {
		return err
	}
	if perm == nil {
		return nil
	}
	if err := m.store.DeletePermission(ctx, permissionCode); err != nil {
		return err
	}
	m.notify(ctx, audit.Event{Action: audit.ActionPermissionDeleted, PermissionCode: permissionCode})
	return nil
}

// CreateRole validates and persists a new role.
func (m *Manager) CreateRole(ctx context.Context, role Role) (Role, error) {
	if err := role.Validate(); err != nil {
		return Role{}, err
	}
	existing, err := m.store.FindRoleByCode(ctx, role.Code)
	if err != nil {
		return Role{}, err
	}
	if existing != nil {
		return Role{}, &DuplicateCodeError{Kind: "role", Code: role.Code}
	}
	created, err := m.store.CreateRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	m.notify(ctx, audit.Event{Action: audit.ActionRoleCreated, RoleCode: created.Code})
	return created, nil
}

// CreatePermission validates and persists a new permission.
func (m *Manager) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	if err := perm.Validate(); err != nil {
		return Permission{}, err
	}
	existing, err := m.store.FindPermissionByCode(ctx, perm.Code)
	if err != nil {
		return Permission{}, err
	}
	if existing != nil {
		return Permission{}, &DuplicateCodeError{Kind: "permission", Code: perm.Code}
	}
	created, err := m.store.CreatePermission(ctx, perm)
	if err != nil {
		return Permission{}, err
	}
	m.notify(ctx, audit.Event{Action: audit.ActionPermissionCreated, PermissionCode: created.Code})
	return created, nil
}

// BulkAssignRoles applies a userID -> role codes mapping. The whole
// batch runs inside one outer transaction; each item that fails is
// recorded without aborting the rest. Only begin/commit failures escape
// and roll the batch back.
func (m *Manager) BulkAssignRoles(ctx context.Context, mapping map[string][]string) (BulkResult, error) {
	var successes int
	var failures []BulkFailure
	var events []audit.Event

	err := m.store.InTx(ctx, func(s Store) error {
		for _, userID := range sortedKeys(mapping) {
			for _, roleCode := range mapping[userID] {
				changed, err := m.assignRole(ctx, s, userID, roleCode)
				if err != nil {
					failures = append(failures, BulkFailure{
						Item: fmt.Sprintf("%s:%s", userID, roleCode),
						Err:  err.Error(),
					})
					continue
				}
				if changed {
					successes++
					events = append(events, audit.Event{
						Action:   audit.ActionRoleAssigned,
						UserID:   userID,
						RoleCode: roleCode,
					})
				}
			}
		}
		return nil
	})
	if err != nil {
		return BulkResult{}, err
	}
	for _, event := range events {
		m.notify(ctx, event)
	}
	return BulkResult{SuccessCount: successes, FailureCount: len(failures), Failures: failures}, nil
}

// BulkRevokeRoles applies a userID -> role codes mapping item by item.
// Unlike BulkAssignRoles there is no outer transaction: revokes are safe
// to partially apply, so each item commits independently.
func (m *Manager) BulkRevokeRoles(ctx context.Context, mapping map[string][]string) (BulkResult, error) {
	var successes int
	var failures []BulkFailure

	for _, userID := range sortedKeys(mapping) {
		for _, roleCode := range mapping[userID] {
			changed, err := m.revokeRole(ctx, m.store, userID, roleCode)
			if err != nil {
				failures = append(failures, BulkFailure{
					Item: fmt.Sprintf("%s:%s", userID, roleCode),
					Err:  err.Error(),
				})
				continue
			}
			if changed {
				successes++
				m.notify(ctx, audit.Event{
					Action:   audit.ActionRoleRevoked,
					UserID:   userID,
					RoleCode: roleCode,
				})
			}
		}
	}
	return BulkResult{SuccessCount: successes, FailureCount: len(failures), Failures: failures}, nil
}

// BulkGrantPermissions applies a roleCode -> permission codes mapping
// item by item, without an outer transaction.
func (m *Manager) BulkGrantPermissions(ctx context.Context, mapping map[string][]string) (BulkResult, error) {
	var successes int
	var failures []BulkFailure

	for _, roleCode := range sortedKeys(mapping) {
		for _, permissionCode := range mapping[roleCode] {
			changed, err := m.addPermissionToRole(ctx, m.store, roleCode, permissionCode)
			if err != nil {
				failures = append(failures, BulkFailure{
					Item: fmt.Sprintf("%s:%s", roleCode, permissionCode),
					Err:  err.Error(),
				})
				continue
			}
			if changed {
				successes++
				m.notify(ctx, audit.Event{
					Action:         audit.ActionPermissionGranted,
					RoleCode:       roleCode,
					PermissionCode: permissionCode,
				})
			}
		}
	}
	return BulkResult{SuccessCount: successes, FailureCount: len(failures), Failures: failures}, nil
}

// RolePermissions returns the permissions granted to one role.
func (m *Manager) RolePermissions(ctx context.Context, roleCode string) ([]Permission, error) {
	role, err := m.store.FindRoleByCode(ctx, roleCode)
	if err != nil {
		return nil, err
	}
	if role == nil {
		return nil, &RoleNotFoundError{Code: roleCode}
	}
	return m.store.ListPermissionsForRole(ctx, roleCode)
}

// ListRoles returns all roles.
func (m *Manager) ListRoles(ctx context.Context) ([]Role, error) {
	return m.store.ListRoles(ctx)
}

// ListPermissions returns all permissions.
func (m *Manager) ListPermissions(ctx context.Context) ([]Permission, error) {
	return m.store.ListPermissions(ctx)
}

// SearchRoles matches roles by code or name fragment.
func (m *Manager) SearchRoles(ctx context.Context, query string, limit int) ([]Role, error) {
	if limit <= 0 {
		limit = 10
	}
	return m.store.SearchRoles(ctx, query, limit)
}

// SearchPermissions matches permissions by code or name fragment.
func (m *Manager) SearchPermissions(ctx context.Context, query string, limit int) ([]Permission, error) {
	if limit <= 0 {
		limit = 10
	}
	return m.store.SearchPermissions(ctx, query, limit)
}

// RolesWithUserCount returns every role with its assignment count.
func (m *Manager) RolesWithUserCount(ctx context.Context) ([]RoleUserCount, error) {
	return m.store.RolesWithUserCount(ctx)
}

// UnassignedPermissions returns permissions no role grants.
func (m *Manager) UnassignedPermissions(ctx context.Context) ([]Permission, error) {
	return m.store.UnassignedPermissions(ctx)
}

// RecentAssignments returns the newest assignments, newest first.
func (m *Manager) RecentAssignments(ctx context.Context, limit int) ([]RoleAssignment, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.RecentAssignments(ctx, limit)
}

func (m *Manager) notify(ctx context.Context, event audit.Event) {
	event.OperationID = audit.NewOperationID()
	if event.At.IsZero() {
		event.At = time.Now()
	}
	if err := m.notifier.Notify(ctx, event); err != nil {
		m.logger.Warn("audit notify failed",
			slog.String("action", event.Action),
			slog.Any("error", err))
	}
}

func sortedKeys(mapping map[string][]string) []string {
	keys := make([]string, 0, len(mapping))
	for key := range mapping {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
