// Package rbachttp exposes the permission manager over a JSON API.
package rbachttp

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-iam/aegis-iam/internal/platform/httpx"
	"github.com/aegis-iam/aegis-iam/internal/rbac"
)

// Handler serves role, permission and assignment management endpoints.
type Handler struct {
	logger   *slog.Logger
	manager  *rbac.Manager
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, manager *rbac.Manager) *Handler {
	return &Handler{
		logger:   logger,
		manager:  manager,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type createRoleRequest struct {
	Code           string `json:"code" validate:"required,max=255"`
	Name           string `json:"name" validate:"required,max=255"`
	Description    string `json:"description" validate:"max=1000"`
	ParentRoleID   *int64 `json:"parent_role_id" validate:"omitempty,gte=0"`
	HierarchyLevel *int   `json:"hierarchy_level" validate:"omitempty,gte=0,lte=10"`
}

type createPermissionRequest struct {
	Code        string `json:"code" validate:"required,max=255"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1000"`
}

type grantPermissionRequest struct {
	PermissionCode string `json:"permission_code" validate:"required"`
}

type assignRoleRequest struct {
	RoleCode string `json:"role_code" validate:"required"`
}

type bulkMappingRequest struct {
	Mapping map[string][]string `json:"mapping" validate:"required,min=1"`
}

type changedResponse struct {
	Changed bool `json:"changed"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.manager.ListRoles(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.manager.CreateRole(r.Context(), rbac.Role{
		Code:           req.Code,
		Name:           req.Name,
		Description:    req.Description,
		ParentRoleID:   req.ParentRoleID,
		HierarchyLevel: req.HierarchyLevel,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteRole(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) searchRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.manager.SearchRoles(r.Context(), r.URL.Query().Get("q"), queryLimit(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) roleUserCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.manager.RolesWithUserCount(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, counts)
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	var req grantPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	changed, err := h.manager.AddPermissionToRole(r.Context(), chi.URLParam(r, "code"), req.PermissionCode)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) revokePermission(w http.ResponseWriter, r *http.Request) {
	changed, err := h.manager.RemovePermissionFromRole(r.Context(),
		chi.URLParam(r, "code"), chi.URLParam(r, "permissionCode"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) rolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.manager.RolePermissions(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.manager.ListPermissions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.manager.CreatePermission(r.Context(), rbac.Permission{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) deletePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeletePermission(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) searchPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.manager.SearchPermissions(r.Context(), r.URL.Query().Get("q"), queryLimit(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) unassignedPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.manager.UnassignedPermissions(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	changed, err := h.manager.AssignRole(r.Context(), chi.URLParam(r, "userID"), req.RoleCode)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	changed, err := h.manager.RevokeRole(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, changedResponse{Changed: changed})
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.manager.UserRoles(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	codes, err := h.manager.UserPermissions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, codes)
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	granted, err := h.manager.HasPermission(r.Context(),
		chi.URLParam(r, "userID"), chi.URLParam(r, "permissionCode"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

func (h *Handler) bulkAssign(w http.ResponseWriter, r *http.Request) {
	var req bulkMappingRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.manager.BulkAssignRoles(r.Context(), req.Mapping)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) bulkRevoke(w http.ResponseWriter, r *http.Request) {
	var req bulkMappingRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.manager.BulkRevokeRoles(r.Context(), req.Mapping)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) bulkGrant(w http.ResponseWriter, r *http.Request) {
	var req bulkMappingRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.manager.BulkGrantPermissions(r.Context(), req.Mapping)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) recentAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.manager.RecentAssignments(r.Context(), queryLimit(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignments)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

// respondError maps domain errors onto problem responses: not-found and
// validation kinds are bad requests (the caller named something wrong),
// conflicts are 409 with the blocking identifiers attached.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		roleNotFound *rbac.RoleNotFoundError
		permNotFound *rbac.PermissionNotFoundError
		conflict     *rbac.DeletionConflictError
		invalidUser  *rbac.InvalidUserIDError
		validation   *rbac.ValidationError
		duplicate    *rbac.DuplicateCodeError
	)
	switch {
	case errors.As(err, &roleNotFound), errors.As(err, &permNotFound):
		httpx.Problem(w, http.StatusBadRequest, "Unknown Code", err.Error())
	case errors.As(err, &invalidUser), errors.As(err, &validation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &duplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate Code", err.Error())
	case errors.As(err, &conflict):
		httpx.JSON(w, http.StatusConflict, map[string]any{
			"title":      "Deletion Conflict",
			"status":     http.StatusConflict,
			"detail":     err.Error(),
			"identifier": conflict.Identifier,
			"affected":   conflict.Affected,
		})
	default:
		if h.logger != nil {
			h.logger.Error("rbac handler", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
