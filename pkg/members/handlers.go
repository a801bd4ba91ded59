package members

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/httputil"
	"github.com/fitstack/fitstack/pkg/observability"
	"github.com/fitstack/fitstack/pkg/rbac"
	"github.com/fitstack/fitstack/pkg/tenant"
)

// Authorizer answers task checks. Satisfied by *rbac.Service.
type Authorizer interface {
	HasTask(ctx context.Context, scope tenant.Scope, orgUserID int64, module rbac.Module, taskCode string) (bool, error)
}

// Handlers exposes member operations over HTTP
type Handlers struct {
	store *Store
	authz Authorizer
}

// NewHandlers creates member HTTP handlers
func NewHandlers(store *Store, authz Authorizer) *Handlers {
	return &Handlers{store: store, authz: authz}
}

// RegisterRoutes mounts the member API under the given router
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/members", h.register).Methods("POST")
	r.HandleFunc("/members", h.list).Methods("GET")
	r.HandleFunc("/members/{memberID}", h.get).Methods("GET")
	r.HandleFunc("/members/{memberID}", h.softDelete).Methods("DELETE")
	r.HandleFunc("/members/{memberID}/archive", h.archive).Methods("POST")
	r.HandleFunc("/members/{memberID}/restore", h.restore).Methods("POST")
}

// requireTask resolves the identity and checks the back-office task. The
// check runs against the database on every request.
func (h *Handlers) requireTask(w http.ResponseWriter, r *http.Request, taskCode string) (*auth.Context, bool) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok || authCtx.OrgUser == nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}

	allowed, err := h.authz.HasTask(r.Context(), authCtx.Scope(), authCtx.OrgUser.ID, rbac.ModuleBackOffice, taskCode)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("task check failed")
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	if !allowed {
		httputil.WriteForbiddenError(w, "missing permission: "+taskCode)
		return nil, false
	}
	return authCtx, true
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := h.requireTask(w, r, "members.register")
	if !ok {
		return
	}

	var req RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.store.Register(r.Context(), authCtx.Scope(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, member)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := h.requireTask(w, r, "members.view")
	if !ok {
		return
	}

	status := tenant.RecordStatus(r.URL.Query().Get("status"))
	result, err := h.store.List(r.Context(), authCtx.Scope(), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": result})
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := h.requireTask(w, r, "members.view")
	if !ok {
		return
	}
	memberID, ok := httputil.ParsePathInt64OrError(w, r, "memberID")
	if !ok {
		return
	}

	member, err := h.store.Get(r.Context(), authCtx.Scope(), memberID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, member)
}

func (h *Handlers) softDelete(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, "members.archive", (*Store).SoftDelete)
}

func (h *Handlers) archive(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, "members.archive", (*Store).Archive)
}

func (h *Handlers) restore(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, "members.archive", (*Store).Restore)
}

func (h *Handlers) statusChange(w http.ResponseWriter, r *http.Request, taskCode string, op func(*Store, context.Context, tenant.Scope, int64) error) {
	authCtx, ok := h.requireTask(w, r, taskCode)
	if !ok {
		return
	}
	memberID, ok := httputil.ParsePathInt64OrError(w, r, "memberID")
	if !ok {
		return
	}

	if err := op(h.store, r.Context(), authCtx.Scope(), memberID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *DuplicateError
	switch {
	case errors.As(err, &de):
		httputil.WriteConflictError(w, de.Error())
	case errors.Is(err, ErrInvalidInput):
		httputil.WriteValidationError(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("member request failed")
		httputil.WriteInternalError(w, err)
	}
}
