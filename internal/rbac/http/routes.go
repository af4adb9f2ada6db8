package rbachttp

import (
	"github.com/go-chi/chi/v5"

	"github.com/aegis-iam/aegis-iam/internal/rbac"
)

// Permission attributes guarding the management API itself.
const (
	PermissionRBACView   = "PERMISSION_RBAC_VIEW"
	PermissionRBACManage = "PERMISSION_RBAC_MANAGE"
)

// MountRoutes registers the management API under the given router.
// Reads require PERMISSION_RBAC_VIEW, mutations PERMISSION_RBAC_MANAGE.
func (h *Handler) MountRoutes(r chi.Router, mw rbac.Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAny(PermissionRBACView, PermissionRBACManage))

		r.Get("/roles", h.listRoles)
		r.Get("/roles/search", h.searchRoles)
		r.Get("/roles/user-counts", h.roleUserCounts)
		r.Get("/roles/{code}/permissions", h.rolePermissions)
		r.Get("/permissions", h.listPermissions)
		r.Get("/permissions/search", h.searchPermissions)
		r.Get("/permissions/unassigned", h.unassignedPermissions)
		r.Get("/users/{userID}/roles", h.userRoles)
		r.Get("/users/{userID}/permissions", h.userPermissions)
		r.Get("/users/{userID}/permissions/{permissionCode}", h.checkPermission)
		r.Get("/assignments/recent", h.recentAssignments)
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.Require(PermissionRBACManage))

		r.Post("/roles", h.createRole)
		r.Delete("/roles/{code}", h.deleteRole)
		r.Post("/roles/{code}/permissions", h.grantPermission)
		r.Delete("/roles/{code}/permissions/{permissionCode}", h.revokePermission)
		r.Post("/permissions", h.createPermission)
		r.Delete("/permissions/{code}", h.deletePermission)
		r.Post("/users/{userID}/roles", h.assignRole)
		r.Delete("/users/{userID}/roles/{code}", h.revokeRole)
		r.Post("/bulk/assign-roles", h.bulkAssign)
		r.Post("/bulk/revoke-roles", h.bulkRevoke)
		r.Post("/bulk/grant-permissions", h.bulkGrant)
	})
}
