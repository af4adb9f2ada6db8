package rbachttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/aegis-iam/aegis-iam/internal/rbac"
	"github.com/aegis-iam/aegis-iam/internal/shared"
	_ "github.com/aegis-iam/aegis-iam/testing"
)

type memStore struct {
	roles       map[string]rbac.Role
	permissions map[string]rbac.Permission
	assignments map[string]rbac.RoleAssignment
	rolePerms   map[string]map[string]struct{}
	nextID      int64
}

func newMemStore() *memStore {
	return &memStore{
		roles:       make(map[string]rbac.Role),
		permissions: make(map[string]rbac.Permission),
		assignments: make(map[string]rbac.RoleAssignment),
		rolePerms:   make(map[string]map[string]struct{}),
	}
}

func key(userID, roleCode string) string { return userID + "\x00" + roleCode }

func (s *memStore) InTx(ctx context.Context, fn func(rbac.Store) error) error {
	return fn(s)
}

func (s *memStore) FindRoleByCode(ctx context.Context, code string) (*rbac.Role, error) {
	role, ok := s.roles[code]
	if !ok {
		return nil, nil
	}
	return &role, nil
}

func (s *memStore) FindPermissionByCode(ctx context.Context, code string) (*rbac.Permission, error) {
	perm, ok := s.permissions[code]
	if !ok {
		return nil, nil
	}
	return &perm, nil
}

func (s *memStore) FindAssignment(ctx context.Context, userID, roleCode string) (*rbac.RoleAssignment, error) {
	a, ok := s.assignments[key(userID, roleCode)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *memStore) ListAssignmentsForUser(ctx context.Context, userID string) ([]rbac.RoleAssignment, error) {
	var out []rbac.RoleAssignment
	for _, a := range s.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleCode < out[j].RoleCode })
	return out, nil
}

func (s *memStore) ListPermissionsForRole(ctx context.Context, roleCode string) ([]rbac.Permission, error) {
	var out []rbac.Permission
	for code := range s.rolePerms[roleCode] {
		out = append(out, s.permissions[code])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) CountAssignmentsForRole(ctx context.Context, roleCode string) (int64, error) {
	var count int64
	for _, a := range s.assignments {
		if a.RoleCode == roleCode {
			count++
		}
	}
	return count, nil
}

func (s *memStore) ListUserIDsForRole(ctx context.Context, roleCode string) ([]string, error) {
	var out []string
	for _, a := range s.assignments {
		if a.RoleCode == roleCode {
			out = append(out, a.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) ListBlockingRoleCodes(ctx context.Context, permissionCode string) ([]string, error) {
	var out []string
	for roleCode, perms := range s.rolePerms {
		if _, ok := perms[permissionCode]; ok {
			out = append(out, roleCode)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memStore) CreateRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	s.nextID++
	role.ID = s.nextID
	s.roles[role.Code] = role
	return role, nil
}

func (s *memStore) CreatePermission(ctx context.Context, perm rbac.Permission) (rbac.Permission, error) {
	s.nextID++
	perm.ID = s.nextID
	s.permissions[perm.Code] = perm
	return perm, nil
}

func (s *memStore) CreateAssignment(ctx context.Context, a rbac.RoleAssignment) (rbac.RoleAssignment, error) {
	k := key(a.UserID, a.RoleCode)
	if _, ok := s.assignments[k]; ok {
		return rbac.RoleAssignment{}, rbac.ErrDuplicateAssignment
	}
	s.nextID++
	a.ID = s.nextID
	s.assignments[k] = a
	return a, nil
}

func (s *memStore) DeleteAssignment(ctx context.Context, userID, roleCode string) error {
	delete(s.assignments, key(userID, roleCode))
	return nil
}

func (s *memStore) AddRolePermission(ctx context.Context, roleCode, permissionCode string) error {
	if s.rolePerms[roleCode] == nil {
		s.rolePerms[roleCode] = make(map[string]struct{})
	}
	s.rolePerms[roleCode][permissionCode] = struct{}{}
	return nil
}

func (s *memStore) RemoveRolePermission(ctx context.Context, roleCode, permissionCode string) error {
	delete(s.rolePerms[roleCode], permissionCode)
	return nil
}

func (s *memStore) DeleteRole(ctx context.Context, code string) error {
	delete(s.roles, code)
	delete(s.rolePerms, code)
	return nil
}

func (s *memStore) DeletePermission(ctx context.Context, code string) error {
	delete(s.permissions, code)
	for _, perms := range s.rolePerms {
		delete(perms, code)
	}
	return nil
}

func (s *memStore) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	var out []rbac.Role
	for _, role := range s.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	var out []rbac.Permission
	for _, perm := range s.permissions {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) SearchRoles(ctx context.Context, query string, limit int) ([]rbac.Role, error) {
	roles, _ := s.ListRoles(ctx)
	var out []rbac.Role
	for _, role := range roles {
		if strings.Contains(role.Code, query) || strings.Contains(role.Name, query) {
			out = append(out, role)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) SearchPermissions(ctx context.Context, query string, limit int) ([]rbac.Permission, error) {
	perms, _ := s.ListPermissions(ctx)
	var out []rbac.Permission
	for _, perm := range perms {
		if strings.Contains(perm.Code, query) || strings.Contains(perm.Name, query) {
			out = append(out, perm)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) RolesWithUserCount(ctx context.Context) ([]rbac.RoleUserCount, error) {
	roles, _ := s.ListRoles(ctx)
	out := make([]rbac.RoleUserCount, 0, len(roles))
	for _, role := range roles {
		count, _ := s.CountAssignmentsForRole(ctx, role.Code)
		out = append(out, rbac.RoleUserCount{Role: role, UserCount: count})
	}
	return out, nil
}

func (s *memStore) UnassignedPermissions(ctx context.Context) ([]rbac.Permission, error) {
	assigned := make(map[string]struct{})
	for _, perms := range s.rolePerms {
		for code := range perms {
			assigned[code] = struct{}{}
		}
	}
	var out []rbac.Permission
	for code, perm := range s.permissions {
		if _, ok := assigned[code]; !ok {
			out = append(out, perm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) RecentAssignments(ctx context.Context, limit int) ([]rbac.RoleAssignment, error) {
	var out []rbac.RoleAssignment
	for _, a := range s.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// newTestAPI mounts the full route tree with an "admin" principal that
// holds both management permissions.
func newTestAPI(t *testing.T) (*chi.Mux, *memStore) {
	t.Helper()
	ctx := context.Background()
	store := newMemStore()

	for _, code := range []string{"ROLE_RBAC_ADMIN", "ROLE_EDITOR"} {
		_, err := store.CreateRole(ctx, rbac.Role{Code: code, Name: code})
		require.NoError(t, err)
	}
	for _, code := range []string{PermissionRBACView, PermissionRBACManage, "PERMISSION_DOC_EDIT"} {
		_, err := store.CreatePermission(ctx, rbac.Permission{Code: code, Name: code})
		require.NoError(t, err)
	}
	require.NoError(t, store.AddRolePermission(ctx, "ROLE_RBAC_ADMIN", PermissionRBACView))
	require.NoError(t, store.AddRolePermission(ctx, "ROLE_RBAC_ADMIN", PermissionRBACManage))
	_, err := store.CreateAssignment(ctx, rbac.RoleAssignment{UserID: "admin", RoleCode: "ROLE_RBAC_ADMIN", AssignedAt: time.Now()})
	require.NoError(t, err)

	manager := rbac.NewManager(store, nil, nil)
	handler := NewHandler(nil, manager)

	router := chi.NewRouter()
	handler.MountRoutes(router, rbac.Middleware{Voter: rbac.NewVoter(manager)})
	return router, store
}

func request(t *testing.T, router http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.UserID(userID)))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateRoleEndpoint(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := request(t, router, http.MethodPost, "/roles", "admin", `{"code":"ROLE_VIEWER","name":"Viewer"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = request(t, router, http.MethodPost, "/roles", "admin", `{"code":"ROLE_VIEWER","name":"Viewer"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "Duplicate Code")

	rec = request(t, router, http.MethodPost, "/roles", "admin", `{"name":"missing code"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = request(t, router, http.MethodPost, "/roles", "admin", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Malformed Request")
}

func TestAssignRoleEndpoint(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := request(t, router, http.MethodPost, "/users/u1/roles", "admin", `{"role_code":"ROLE_EDITOR"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"changed":true}`, rec.Body.String())

	rec = request(t, router, http.MethodPost, "/users/u1/roles", "admin", `{"role_code":"ROLE_EDITOR"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"changed":false}`, rec.Body.String())

	rec = request(t, router, http.MethodPost, "/users/u1/roles", "admin", `{"role_code":"ROLE_MISSING"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Unknown Code")
}

func TestDeleteRoleConflictEndpoint(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := request(t, router, http.MethodPost, "/users/u1/roles", "admin", `{"role_code":"ROLE_EDITOR"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = request(t, router, http.MethodDelete, "/roles/ROLE_EDITOR", "admin", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Identifier string   `json:"identifier"`
		Affected   []string `json:"affected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ROLE_EDITOR", body.Identifier)
	require.Equal(t, []string{"u1"}, body.Affected)

	rec = request(t, router, http.MethodDelete, "/users/u1/roles/ROLE_EDITOR", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = request(t, router, http.MethodDelete, "/roles/ROLE_EDITOR", "admin", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUserPermissionsEndpoint(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := request(t, router, http.MethodPost, "/roles/ROLE_EDITOR/permissions", "admin", `{"permission_code":"PERMISSION_DOC_EDIT"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = request(t, router, http.MethodPost, "/users/u1/roles", "admin", `{"role_code":"ROLE_EDITOR"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = request(t, router, http.MethodGet, "/users/u1/permissions", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `["PERMISSION_DOC_EDIT"]`, rec.Body.String())

	rec = request(t, router, http.MethodGet, "/users/u1/permissions/PERMISSION_DOC_EDIT", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"granted":true}`, rec.Body.String())

	rec = request(t, router, http.MethodGet, "/users/u1/permissions/PERMISSION_OTHER", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"granted":false}`, rec.Body.String())
}

func TestBulkAssignEndpoint(t *testing.T) {
	router, _ := newTestAPI(t)

	rec := request(t, router, http.MethodPost, "/bulk/assign-roles", "admin",
		`{"mapping":{"u1":["ROLE_EDITOR"],"u2":["ROLE_MISSING"]}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result rbac.BulkResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, 1, result.SuccessCount)
	require.Equal(t, 1, result.FailureCount)
	require.Equal(t, "u2:ROLE_MISSING", result.Failures[0].Item)
}

func TestRoutesRequireManagementPermission(t *testing.T) {
	router, _ := newTestAPI(t)

	// No principal at all.
	rec := request(t, router, http.MethodGet, "/roles", "", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	// A principal without any management permission.
	rec = request(t, router, http.MethodPost, "/roles", "intruder", `{"code":"ROLE_X","name":"x"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestViewerCanReadButNotMutate(t *testing.T) {
	router, store := newTestAPI(t)
	ctx := context.Background()

	_, err := store.CreateRole(ctx, rbac.Role{Code: "ROLE_RBAC_VIEWER", Name: "Viewer"})
	require.NoError(t, err)
	require.NoError(t, store.AddRolePermission(ctx, "ROLE_RBAC_VIEWER", PermissionRBACView))
	_, err = store.CreateAssignment(ctx, rbac.RoleAssignment{UserID: "viewer", RoleCode: "ROLE_RBAC_VIEWER", AssignedAt: time.Now()})
	require.NoError(t, err)

	rec := request(t, router, http.MethodGet, "/roles", "viewer", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = request(t, router, http.MethodPost, "/roles", "viewer", `{"code":"ROLE_X","name":"x"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
