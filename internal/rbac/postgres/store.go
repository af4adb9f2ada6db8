// Package postgres implements the rbac persistence boundary on pgx.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegis-iam/aegis-iam/internal/platform/db"
	"github.com/aegis-iam/aegis-iam/internal/rbac"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides PostgreSQL backed persistence for roles, permissions
// and assignments.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// NewStore constructs a Store over the pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// InTx runs fn against a transaction-bound Store. A Store that is
// already inside a transaction participates in it rather than opening a
// nested one.
func (s *Store) InTx(ctx context.Context, fn func(rbac.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Store{pool: s.pool, q: tx, inTx: true})
	})
}

// FindRoleByCode fetches one role or nil.
func (s *Store) FindRoleByCode(ctx context.Context, code string) (*rbac.Role, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, code, name, description, parent_role_id, hierarchy_level, created_at, updated_at
		FROM roles WHERE code = $1`, code)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// FindPermissionByCode fetches one permission or nil.
func (s *Store) FindPermissionByCode(ctx context.Context, code string) (*rbac.Permission, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, code, name, description, created_at, updated_at
		FROM permissions WHERE code = $1`, code)
	perm, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &perm, nil
}

// FindAssignment fetches the (user, role) assignment or nil.
func (s *Store) FindAssignment(ctx context.Context, userID, roleCode string) (*rbac.RoleAssignment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT ra.id, ra.user_id, r.code, ra.assigned_at
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.user_id = $1 AND r.code = $2`, userID, roleCode)
	var a rbac.RoleAssignment
	err := row.Scan(&a.ID, &a.UserID, &a.RoleCode, &a.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAssignmentsForUser returns all assignments held by the user.
func (s *Store) ListAssignmentsForUser(ctx context.Context, userID string) ([]rbac.RoleAssignment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT ra.id, ra.user_id, r.code, ra.assigned_at
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

// ListPermissionsForRole returns the permissions granted to the role.
func (s *Store) ListPermissionsForRole(ctx context.Context, roleCode string) ([]rbac.Permission, error) {
	rows, err := s.q.Query(ctx, `
		SELECT p.id, p.code, p.name, p.description, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN roles r ON r.id = rp.role_id
		WHERE r.code = $1
		ORDER BY p.name`, roleCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// CountAssignmentsForRole counts assignments referencing the role.
func (s *Store) CountAssignmentsForRole(ctx context.Context, roleCode string) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE r.code = $1`, roleCode).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListUserIDsForRole returns the distinct users still holding the role.
func (s *Store) ListUserIDsForRole(ctx context.Context, roleCode string) ([]string, error) {
	rows, err := s.q.Query(ctx, `
		SELECT DISTINCT ra.user_id
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE r.code = $1
		ORDER BY ra.user_id`, roleCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ListBlockingRoleCodes returns the roles still granting the permission.
func (s *Store) ListBlockingRoleCodes(ctx context.Context, permissionCode string) ([]string, error) {
	rows, err := s.q.Query(ctx, `
		SELECT r.code
		FROM roles r
		JOIN role_permissions rp ON rp.role_id = r.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE p.code = $1
		ORDER BY r.code`, permissionCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// CreateRole inserts a new role.
func (s *Store) CreateRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO roles (code, name, description, parent_role_id, hierarchy_level)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, code, name, description, parent_role_id, hierarchy_level, created_at, updated_at`,
		role.Code, role.Name, role.Description, role.ParentRoleID, role.HierarchyLevel)
	return scanRole(row)
}

// CreatePermission inserts a new permission.
func (s *Store) CreatePermission(ctx context.Context, perm rbac.Permission) (rbac.Permission, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO permissions (code, name, description)
		VALUES ($1, $2, $3)
		RETURNING id, code, name, description, created_at, updated_at`,
		perm.Code, perm.Name, perm.Description)
	return scanPermission(row)
}

// CreateAssignment inserts a new (user, role) assignment. A unique
// violation on the pair surfaces as rbac.ErrDuplicateAssignment.
func (s *Store) CreateAssignment(ctx context.Context, assignment rbac.RoleAssignment) (rbac.RoleAssignment, error) {
	assignedAt := assignment.AssignedAt
	if assignedAt.IsZero() {
		assignedAt = time.Now()
	}
	row := s.q.QueryRow(ctx, `
		INSERT INTO role_assignments (user_id, role_id, assigned_at)
		VALUES ($1, (SELECT id FROM roles WHERE code = $2), $3)
		RETURNING id`,
		assignment.UserID, assignment.RoleCode, assignedAt)
	var id int64
	if err := row.Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return rbac.RoleAssignment{}, rbac.ErrDuplicateAssignment
		}
		return rbac.RoleAssignment{}, err
	}
	assignment.ID = id
	assignment.AssignedAt = assignedAt
	return assignment, nil
}

// DeleteAssignment removes the (user, role) assignment if present.
func (s *Store) DeleteAssignment(ctx context.Context, userID, roleCode string) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM role_assignments ra
		USING roles r
		WHERE ra.role_id = r.id AND ra.user_id = $1 AND r.code = $2`, userID, roleCode)
	return err
}

// AddRolePermission links a permission to a role; a duplicate link is a
// no-op at the database level.
func (s *Store) AddRolePermission(ctx context.Context, roleCode, permissionCode string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		SELECT r.id, p.id FROM roles r, permissions p
		WHERE r.code = $1 AND p.code = $2
		ON CONFLICT DO NOTHING`, roleCode, permissionCode)
	return err
}

// RemoveRolePermission unlinks a permission from a role.
func (s *Store) RemoveRolePermission(ctx context.Context, roleCode, permissionCode string) error {
	_, err := s.q.Exec(ctx, `
		DELETE FROM role_permissions rp
		USING roles r, permissions p
		WHERE rp.role_id = r.id AND rp.permission_id = p.id
		  AND r.code = $1 AND p.code = $2`, roleCode, permissionCode)
	return err
}

// DeleteRole removes a role; its permission links go with it via the
// foreign key cascade.
func (s *Store) DeleteRole(ctx context.Context, code string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM roles WHERE code = $1`, code)
	return err
}

// DeletePermission removes a permission.
func (s *Store) DeletePermission(ctx context.Context, code string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM permissions WHERE code = $1`, code)
	return err
}

// ListRoles returns all roles ordered by name.
func (s *Store) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, code, name, description, parent_role_id, hierarchy_level, created_at, updated_at
		FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoles(rows)
}

// ListPermissions returns all permissions ordered by name.
func (s *Store) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, code, name, description, created_at, updated_at
		FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// SearchRoles matches roles by code or name fragment.
func (s *Store) SearchRoles(ctx context.Context, query string, limit int) ([]rbac.Role, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, code, name, description, parent_role_id, hierarchy_level, created_at, updated_at
		FROM roles
		WHERE code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%'
		ORDER BY name LIMIT $2`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRoles(rows)
}

// SearchPermissions matches permissions by code or name fragment.
func (s *Store) SearchPermissions(ctx context.Context, query string, limit int) ([]rbac.Permission, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, code, name, description, created_at, updated_at
		FROM permissions
		WHERE code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%'
		ORDER BY name LIMIT $2`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// RolesWithUserCount returns every role with its assignment count.
func (s *Store) RolesWithUserCount(ctx context.Context) ([]rbac.RoleUserCount, error) {
	rows, err := s.q.Query(ctx, `
		SELECT r.id, r.code, r.name, r.description, r.parent_role_id, r.hierarchy_level,
		       r.created_at, r.updated_at, COUNT(ra.id) AS user_count
		FROM roles r
		LEFT JOIN role_assignments ra ON ra.role_id = r.id
		GROUP BY r.id
		ORDER BY user_count DESC, r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counts []rbac.RoleUserCount
	for rows.Next() {
		var rc rbac.RoleUserCount
		if err := rows.Scan(&rc.Role.ID, &rc.Role.Code, &rc.Role.Name, &rc.Role.Description,
			&rc.Role.ParentRoleID, &rc.Role.HierarchyLevel, &rc.Role.CreatedAt, &rc.Role.UpdatedAt,
			&rc.UserCount); err != nil {
			return nil, err
		}
		counts = append(counts, rc)
	}
	return counts, rows.Err()
}

// UnassignedPermissions returns permissions no role grants.
func (s *Store) UnassignedPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := s.q.Query(ctx, `
		SELECT p.id, p.code, p.name, p.description, p.created_at, p.updated_at
		FROM permissions p
		LEFT JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id IS NULL
		ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// RecentAssignments returns the newest assignments first.
func (s *Store) RecentAssignments(ctx context.Context, limit int) ([]rbac.RoleAssignment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT ra.id, ra.user_id, r.code, ra.assigned_at
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		ORDER BY ra.assigned_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func scanRole(row pgx.Row) (rbac.Role, error) {
	var role rbac.Role
	err := row.Scan(&role.ID, &role.Code, &role.Name, &role.Description,
		&role.ParentRoleID, &role.HierarchyLevel, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

func scanPermission(row pgx.Row) (rbac.Permission, error) {
	var perm rbac.Permission
	err := row.Scan(&perm.ID, &perm.Code, &perm.Name, &perm.Description,
		&perm.CreatedAt, &perm.UpdatedAt)
	return perm, err
}

func scanRoles(rows pgx.Rows) ([]rbac.Role, error) {
	var roles []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func scanPermissions(rows pgx.Rows) ([]rbac.Permission, error) {
	var perms []rbac.Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func scanAssignments(rows pgx.Rows) ([]rbac.RoleAssignment, error) {
	var assignments []rbac.RoleAssignment
	for rows.Next() {
		var a rbac.RoleAssignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleCode, &a.AssignedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}
