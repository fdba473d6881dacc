package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"secma.org/internal/audit"
	"secma.org/internal/auth"
)

type createApplicationRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type updateApplicationRequest struct {
	Slug    *string `json:"slug"`
	Name    *string `json:"name"`
	Enabled *bool   `json:"enabled"`
}

type createUserRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type updateUserRequest struct {
	Login    *string `json:"login"`
	Password *string `json:"password"`
	Status   *string `json:"status"`
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type createGrantRequest struct {
	RoleID string `json:"role_id"`
}

func (a *API) handleApps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		r2, ok := a.requirePermission(w, r, auth.PermAppsRead)
		if !ok {
			return
		}
		apps, err := a.rbac.ListApplications(r2.Context())
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		writeJSON(w, http.StatusOK, apps)
	case http.MethodPost:
		r2, ok := a.requirePermission(w, r, auth.PermAppCreate)
		if !ok {
			return
		}
		var req createApplicationRequest
		if err := decodeJSON(w, r2, &req); err != nil {
			writeError(w, r2, http.StatusBadRequest, err.Error())
			return
		}
		app, err := a.rbac.CreateApplication(r2.Context(), req.Slug, req.Name)
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		_ = audit.LogEvent(r2.Context(), "rbac.application.create", map[string]any{
			"application_id": app.ID,
			"slug":           app.Slug,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/apps/%s", app.ID))
		writeJSON(w, http.StatusCreated, app)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleAppScoped routes everything under /v1/apps/{id}.
func (a *API) handleAppScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/apps/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	appID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleApplication(w, r, appID)
	case parts[1] == "users":
		a.handleUsers(w, r, appID, parts[2:])
	case parts[1] == "roles":
		a.handleRoles(w, r, appID, parts[2:])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleApplication(w http.ResponseWriter, r *http.Request, appID string) {
	switch r.Method {
	case http.MethodGet:
		r2, ok := a.requirePermission(w, r, auth.PermAppRead)
		if !ok {
			return
		}
		app, err := a.rbac.GetApplication(r2.Context(), appID)
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		writeJSON(w, http.StatusOK, app)
	case http.MethodPatch:
		r2, ok := a.requirePermission(w, r, auth.PermAppUpdate)
		if !ok {
			return
		}
		var req updateApplicationRequest
		if err := decodeJSON(w, r2, &req); err != nil {
			writeError(w, r2, http.StatusBadRequest, err.Error())
			return
		}
		app, err := a.rbac.UpdateApplication(r2.Context(), appID, auth.ApplicationUpdate{
			Slug:    req.Slug,
			Name:    req.Name,
			Enabled: req.Enabled,
		})
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		_ = audit.LogEvent(r2.Context(), "rbac.application.update", map[string]any{
			"application_id": appID,
		})
		writeJSON(w, http.StatusOK, app)
	case http.MethodDelete:
		r2, ok := a.requirePermission(w, r, auth.PermAppDelete)
		if !ok {
			return
		}
		if err := a.rbac.DeleteApplication(r2.Context(), appID); err != nil {
			handleRBACError(w, r2, err)
			return
		}
		_ = audit.LogEvent(r2.Context(), "rbac.application.delete", map[string]any{
			"application_id": appID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request, appID string, rest []string) {
	switch {
	case len(rest) == 0:
		a.handleUserCollection(w, r, appID)
	case len(rest) == 1:
		a.handleUser(w, r, appID, rest[0])
	case len(rest) >= 2 && rest[1] == "grants":
		a.handleGrants(w, r, appID, rest[0], rest[2:])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserCollection(w http.ResponseWriter, r *http.Request, appID string) {
	switch r.Method {
	case http.MethodGet:
		r2, ok := a.requirePermission(w, r, auth.PermUsersRead)
		if !ok {
			return
		}
		users, err := a.rbac.ListUsers(r2.Context(), appID)
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	case http.MethodPost:
		r2, ok := a.requirePermission(w, r, auth.PermUserCreate)
		if !ok {
			return
		}
		var req createUserRequest
		if err := decodeJSON(w, r2, &req); err != nil {
			writeError(w, r2, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.rbac.CreateUser(r2.Context(), appID, req.Login, req.Password)
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		_ = audit.LogEvent(r2.Context(), "rbac.user.create", map[string]any{
			"application_id": appID,
			"user_id":        user.ID,
			"login":          user.Login,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/apps/%s/users/%s", appID, user.ID))
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, appID, userID string) {
	switch r.Method {
	case http.MethodGet:
		r2, ok := a.requirePermission(w, r, auth.PermUserRead)
		if !ok {
			return
		}
		user, err := a.rbac.GetUser(r2.Context(), appID, userID)
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		r2, ok := a.requirePermission(w, r, auth.PermUserUpdate)
		if !ok {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r2, &req); err != nil {
			writeError(w, r2, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.rbac.UpdateUser(r2.Context(), appID, userID, auth.UserUpdate{
			Login:    req.Login,
			Password: req.Password,
			Status:   req.Status,
		})
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		_ = audit.LogEvent(r2.Context(), "rbac.user.update", map[string]any{
			"application_id": appID,
			"user_id":        userID,
		})
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		r2, ok := a.requirePermission(w, r, auth.PermUserDelete)
		if !ok {
			return
		}
		if err := a.rbac.DeleteUser(r2.Context(), appID, userID); err != nil {
			handleRBACError(w, r2, err)
			return
		}
		_ = audit.LogEvent(r2.Context(), "rbac.user.delete", map[string]any{
			"application_id": appID,
			"user_id":        userID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request, appID, userID string, rest []string) {
	switch {
	case len(rest) == 0:
		switch r.Method {
		case http.MethodGet:
			r2, ok := a.requirePermission(w, r, auth.PermGrantsRead)
			if !ok {
				return
			}
			grants, err := a.rbac.ListGrants(r2.Context(), appID, userID)
			if err != nil {
				handleRBACError(w, r2, err)
				return
			}
			writeJSON(w, http.StatusOK, grants)
		case http.MethodPost:
			r2, ok := a.requirePermission(w, r, auth.PermGrantCreate)
			if !ok {
				return
			}
			var req createGrantRequest
			if err := decodeJSON(w, r2, &req); err != nil {
				writeError(w, r2, http.StatusBadRequest, err.Error())
				return
			}
			grant, err := a.rbac.CreateGrant(r2.Context(), appID, userID, req.RoleID)
			if err != nil {
				handleRBACError(w, r2, err)
				return
			}
			_ = audit.LogEvent(r2.Context(), "rbac.grant.create", map[string]any{
				"application_id": appID,
				"user_id":        userID,
				"role_id":        grant.RoleID,
			})
			writeJSON(w, http.StatusCreated, grant)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case len(rest) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		r2, ok := a.requirePermission(w, r, auth.PermGrantDelete)
		if !ok {
			return
		}
		if err := a.rbac.DeleteGrant(r2.Context(), appID, userID, rest[0]); err != nil {
			handleRBACError(w, r2, err)
			return
		}
		_ = audit.LogEvent(r2.Context(), "rbac.grant.delete", map[string]any{
			"application_id": appID,
			"user_id":        userID,
			"role_id":        rest[0],
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request, appID string, rest []string) {
	switch {
	case len(rest) == 0:
		a.handleRoleCollection(w, r, appID)
	case len(rest) == 1:
		a.handleRole(w, r, appID, rest[0])
	case len(rest) == 2 && rest[1] == "permissions":
		a.handleRolePermissions(w, r, appID, rest[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRoleCollection(w http.ResponseWriter, r *http.Request, appID string) {
	switch r.Method {
	case http.MethodGet:
		r2, ok := a.requirePermission(w, r, auth.PermRolesRead)
		if !ok {
			return
		}
		roles, err := a.rbac.ListRoles(r2.Context(), appID)
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		writeJSON(w, http.StatusOK, roles)
	case http.MethodPost:
		r2, ok := a.requirePermission(w, r, auth.PermRoleCreate)
		if !ok {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r2, &req); err != nil {
			writeError(w, r2, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.CreateRole(r2.Context(), appID, req.Name, req.Description, req.Permissions)
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		_ = audit.LogEvent(r2.Context(), "rbac.role.create", map[string]any{
			"application_id": appID,
			"role_id":        role.ID,
			"name":           role.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/apps/%s/roles/%s", appID, role.ID))
		writeJSON(w, http.StatusCreated, role)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRole(w http.ResponseWriter, r *http.Request, appID, roleID string) {
	switch r.Method {
	case http.MethodGet:
		r2, ok := a.requirePermission(w, r, auth.PermRoleRead)
		if !ok {
			return
		}
		role, err := a.rbac.GetRole(r2.Context(), appID, roleID)
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case http.MethodPatch:
		r2, ok := a.requirePermission(w, r, auth.PermRoleUpdate)
		if !ok {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r2, &req); err != nil {
			writeError(w, r2, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.rbac.UpdateRole(r2.Context(), appID, roleID, auth.RoleUpdate{
			Name:        req.Name,
			Description: req.Description,
		})
		if err != nil {
			handleRBACError(w, r2, err)
			return
		}
		_ = audit.LogEvent(r2.Context(), "rbac.role.update", map[string]any{
			"application_id": appID,
			"role_id":        roleID,
		})
		writeJSON(w, http.StatusOK, role)
	case http.MethodDelete:
		r2, ok := a.requirePermission(w, r, auth.PermRoleDelete)
		if !ok {
			return
		}
		if err := a.rbac.DeleteRole(r2.Context(), appID, roleID); err != nil {
			handleRBACError(w, r2, err)
			return
		}
		_ = audit.LogEvent(r2.Context(), "rbac.role.delete", map[string]any{
			"application_id": appID,
			"role_id":        roleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, appID, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	r2, ok := a.requirePermission(w, r, auth.PermRoleUpdate)
	if !ok {
		return
	}
	var req setPermissionsRequest
	if err := decodeJSON(w, r2, &req); err != nil {
		writeError(w, r2, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.rbac.SetRolePermissions(r2.Context(), appID, roleID, req.Permissions); err != nil {
		handleRBACError(w, r2, err)
		return
	}
	_ = audit.LogEvent(r2.Context(), "rbac.role.permissions.update", map[string]any{
		"application_id": appID,
		"role_id":        roleID,
		"count":          len(req.Permissions),
	})
	w.WriteHeader(http.StatusNoContent)
}

func handleRBACError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "store unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "rbac operation failed")
	}
}
