package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fitstack/fitstack/pkg/audit"
	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/contextkeys"
	"github.com/fitstack/fitstack/pkg/httputil"
	"github.com/fitstack/fitstack/pkg/observability"
	"github.com/fitstack/fitstack/pkg/rbac"
	"github.com/fitstack/fitstack/pkg/tenant"
)

// OrgHandlers implements organization onboarding and introspection
type OrgHandlers struct {
	s *Server
}

// NewOrgHandlers creates org handlers backed by the server's stores
func NewOrgHandlers(s *Server) *OrgHandlers {
	return &OrgHandlers{s: s}
}

// RegisterOnboardingRoutes mounts org creation. It sits outside the staff
// gate: a freshly registered principal has no membership yet and onboards
// their first organization here.
func (h *OrgHandlers) RegisterOnboardingRoutes(r *mux.Router) {
	r.HandleFunc("/orgs", h.create).Methods("POST")
}

// RegisterRoutes mounts the staff-gated org API under the given router
func (h *OrgHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/orgs/current", h.current).Methods("GET")
	r.HandleFunc("/orgs/current", h.softDelete).Methods("DELETE")
}

// create onboards a new organization: the organization row, a staff
// membership for the creator, the default role catalog, and the protected
// back-office role granted to the creator so the org starts controllable.
func (h *OrgHandlers) create(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}

	ctx := r.Context()
	logger := observability.FromContext(ctx)

	org := &tenant.Organization{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		IsActive:    true,
		Status:      tenant.StatusActive,
	}
	if err := h.s.tenants.CreateOrganization(ctx, org); err != nil {
		logger.WithError(err).Error("organization creation failed")
		httputil.WriteConflictError(w, "organization name is already taken")
		return
	}

	ou := &tenant.OrgUser{
		OrgID:       org.ID,
		PrincipalID: authCtx.Principal.ID,
		IsFOHUser:   true,
		IsStaff:     true,
		IsActive:    true,
		Status:      tenant.StatusActive,
	}
	if err := h.s.tenants.CreateOrgUser(ctx, ou); err != nil {
		logger.WithError(err).Error("membership creation failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if err := h.s.tenants.SetCurrentOrgUser(ctx, authCtx.Principal.ID, ou.ID); err != nil {
		logger.WithError(err).Error("current membership update failed")
		httputil.WriteInternalError(w, err)
		return
	}

	if err := h.s.seed.Provision(ctx, h.s.db, org.ID); err != nil {
		logger.WithError(err).Error("role provisioning failed")
		httputil.WriteInternalError(w, err)
		return
	}

	// Grant the protected back-office role to the creator.
	scope := tenant.ForOrgUser(ou.ID)
	owner, err := h.s.rbacSvc.Store().GetRoleBySlug(ctx, scope, rbac.ModuleBackOffice, "owner")
	if err != nil {
		logger.WithError(err).Error("protected role lookup failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if _, err := h.s.rbacSvc.AssignRole(ctx, scope, ou.ID, owner.ID, ou.ID); err != nil {
		logger.WithError(err).Error("protected role grant failed")
		httputil.WriteInternalError(w, err)
		return
	}

	h.s.auditLog.Log(ctx, &audit.Event{
		EventType:      audit.EventTypeOrgCreate,
		Status:         audit.EventStatusSuccess,
		OrgID:          &org.ID,
		ActorOrgUserID: &ou.ID,
		PrincipalID:    &authCtx.Principal.ID,
		RequestID:      contextkeys.GetRequestID(ctx),
		Message:        "organization onboarded",
	})

	httputil.WriteCreated(w, map[string]interface{}{
		"organization": org,
		"membership":   ou,
	})
}

// softDelete retires the current organization. Only a holder of the
// protected back-office role may do this. The row stays for audit history;
// membership resolution stops returning the org, so every staff session
// loses its tenant context on the next request.
func (h *OrgHandlers) softDelete(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok || authCtx.OrgUser == nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	ctx := r.Context()
	role, err := h.s.rbacSvc.ActiveRole(ctx, authCtx.Scope(), authCtx.OrgUser.ID, rbac.ModuleBackOffice)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("role check failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if role == nil || !role.IsProtected {
		httputil.WriteForbiddenError(w, "only the protected role may retire the organization")
		return
	}

	if err := h.s.tenants.SoftDeleteOrganization(ctx, authCtx.OrgUser.OrgID); err != nil {
		observability.FromContext(ctx).WithError(err).Error("organization delete failed")
		httputil.WriteInternalError(w, err)
		return
	}

	h.s.auditLog.Log(ctx, &audit.Event{
		EventType:      audit.EventTypeOrgDelete,
		Status:         audit.EventStatusSuccess,
		OrgID:          &authCtx.OrgUser.OrgID,
		ActorOrgUserID: &authCtx.OrgUser.ID,
		PrincipalID:    &authCtx.Principal.ID,
		RequestID:      contextkeys.GetRequestID(ctx),
		Message:        "organization retired",
	})
	httputil.WriteNoContent(w)
}

func (h *OrgHandlers) current(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok || authCtx.OrgUser == nil {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	org, err := h.s.tenants.GetOrganization(r.Context(), authCtx.OrgUser.OrgID)
	if err != nil {
		httputil.WriteNotFoundError(w, "organization not found")
		return
	}
	httputil.WriteSuccess(w, org)
}
