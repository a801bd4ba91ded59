package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/httputil"
	"github.com/fitstack/fitstack/pkg/observability"
)

// Handlers exposes RBAC operations over HTTP. All routes require an
// authenticated identity with a current membership; the scope is always
// derived from it, never from request parameters.
type Handlers struct {
	service *Service
}

// NewHandlers creates RBAC HTTP handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the RBAC API under the given router
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/roles", h.listRoles).Methods("GET")
	r.HandleFunc("/roles", h.createRole).Methods("POST")
	r.HandleFunc("/roles/{roleID}", h.getRole).Methods("GET")
	r.HandleFunc("/roles/{roleID}/holders", h.listRoleHolders).Methods("GET")
	r.HandleFunc("/roles/{roleID}/tasks", h.toggleTask).Methods("PUT")
	r.HandleFunc("/roles/{roleID}/users/{orgUserID}", h.assignRole).Methods("PUT")
	r.HandleFunc("/roles/{roleID}/users/{orgUserID}", h.removeRole).Methods("DELETE")
	r.HandleFunc("/tasks", h.listTasks).Methods("GET")
	r.HandleFunc("/users/{orgUserID}/roles", h.listUserRoles).Methods("GET")
}

func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	module := Module(r.URL.Query().Get("module"))
	if !module.Valid() {
		httputil.WriteValidationError(w, "module must be one of: foh, backoffice")
		return
	}
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	roles, err := h.service.Store().ListRoles(r.Context(), authCtx.Scope(), module, includeInactive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Module Module `json:"module"`
		Name   string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}
	if !req.Module.Valid() {
		httputil.WriteValidationError(w, "module must be one of: foh, backoffice")
		return
	}

	// Protected roles come only from provisioning, never from the API.
	role, err := h.service.Store().CreateRole(r.Context(), authCtx.Scope(), req.Module, req.Name, false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	role, err := h.service.Store().GetRole(r.Context(), authCtx.Scope(), roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tasks, err := h.service.Store().ActiveTaskCodes(r.Context(), role.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"role": role, "tasks": tasks})
}

func (h *Handlers) listRoleHolders(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	// Resolve the role first so an out-of-scope id reads as missing.
	if _, err := h.service.Store().GetRole(r.Context(), authCtx.Scope(), roleID); err != nil {
		h.writeError(w, r, err)
		return
	}
	holders, err := h.service.Store().RoleHolders(r.Context(), authCtx.Scope(), roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"holders": holders})
}

func (h *Handlers) toggleTask(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok || authCtx.OrgUser == nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}

	var req struct {
		Task    string `json:"task"`
		Enabled bool   `json:"enabled"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Task == "" {
		httputil.WriteValidationError(w, "task is required")
		return
	}

	err := h.service.ToggleTask(r.Context(), authCtx.Scope(), authCtx.OrgUser.ID, roleID, req.Task, req.Enabled)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok || authCtx.OrgUser == nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	orgUserID, ok := httputil.ParsePathInt64OrError(w, r, "orgUserID")
	if !ok {
		return
	}

	ru, err := h.service.AssignRole(r.Context(), authCtx.Scope(), authCtx.OrgUser.ID, roleID, orgUserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ru)
}

func (h *Handlers) removeRole(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok || authCtx.OrgUser == nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "roleID")
	if !ok {
		return
	}
	orgUserID, ok := httputil.ParsePathInt64OrError(w, r, "orgUserID")
	if !ok {
		return
	}

	err := h.service.RemoveRole(r.Context(), authCtx.Scope(), authCtx.OrgUser.ID, roleID, orgUserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.FromContext(r.Context()); !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	module := Module(r.URL.Query().Get("module"))
	if !module.Valid() {
		httputil.WriteValidationError(w, "module must be one of: foh, backoffice")
		return
	}

	groups, err := h.service.Store().ListTaskGroups(r.Context(), module)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"groups": groups})
}

func (h *Handlers) listUserRoles(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}
	orgUserID, ok := httputil.ParsePathInt64OrError(w, r, "orgUserID")
	if !ok {
		return
	}

	roles, err := h.service.UserRoles(r.Context(), authCtx.Scope(), orgUserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *ConflictError
	var fe *ForbiddenError
	switch {
	case errors.As(err, &ce):
		httputil.WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     ce.Message,
			"held_role": ce.HeldRole,
		})
	case errors.As(err, &fe):
		httputil.WriteForbiddenError(w, fe.Message)
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("rbac request failed")
		httputil.WriteInternalError(w, err)
	}
}
