package api

import (
	"net/http"

	"github.com/fitstack/fitstack/pkg/audit"
	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/contextkeys"
	"github.com/fitstack/fitstack/pkg/httputil"
	"github.com/fitstack/fitstack/pkg/middleware"
	"github.com/fitstack/fitstack/pkg/observability"
	"github.com/fitstack/fitstack/pkg/session"
)

// dummyPasswordHash is a well-formed hash that matches no password
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=3,p=2$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// AuthHandlers implements login, logout and organization switching
type AuthHandlers struct {
	s *Server
}

// NewAuthHandlers creates auth handlers backed by the server's stores
func NewAuthHandlers(s *Server) *AuthHandlers {
	return &AuthHandlers{s: s}
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || len(req.Password) < 8 {
		httputil.WriteValidationError(w, "email and a password of at least 8 characters are required")
		return
	}

	hash, err := h.s.hasher.Hash(req.Password)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	principal := &auth.Principal{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := h.s.principals.CreatePrincipal(r.Context(), principal); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("principal creation failed")
		httputil.WriteConflictError(w, "email is already registered")
		return
	}
	httputil.WriteCreated(w, principal)
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	principal, err := h.s.principals.GetPrincipalByEmail(ctx, req.Email)
	valid := false
	if err == nil && principal.IsActive {
		valid = h.s.hasher.Verify(req.Password, principal.PasswordHash)
	} else {
		// Burn a hash comparison so unknown emails cost the same as
		// wrong passwords.
		h.s.hasher.Verify(req.Password, dummyPasswordHash)
	}
	if !valid {
		h.s.auditLog.Log(ctx, &audit.Event{
			EventType: audit.EventTypeAuthLoginFailed,
			Status:    audit.EventStatusFailure,
			IPAddress: httputil.ClientIP(r),
			RequestID: contextkeys.GetRequestID(ctx),
			Message:   "invalid credentials",
		})
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.s.sessions.Create(ctx, &session.Session{
		PrincipalID: principal.ID,
		IPAddress:   httputil.ClientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("session creation failed")
		httputil.WriteInternalError(w, err)
		return
	}

	h.s.principals.TouchLastLogin(ctx, principal.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.s.config.Redis.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	h.s.auditLog.Log(ctx, &audit.Event{
		EventType:   audit.EventTypeAuthLogin,
		Status:      audit.EventStatusSuccess,
		PrincipalID: &principal.ID,
		IPAddress:   httputil.ClientIP(r),
		RequestID:   contextkeys.GetRequestID(ctx),
	})

	httputil.WriteSuccess(w, map[string]interface{}{"principal": principal})
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if token := contextkeys.GetSessionToken(ctx); token != "" {
		if err := h.s.sessions.Destroy(ctx, token); err != nil {
			observability.FromContext(ctx).WithError(err).Error("session destroy failed")
		}
	}
	if authCtx, ok := auth.FromContext(ctx); ok {
		h.s.auditLog.Log(ctx, &audit.Event{
			EventType:   audit.EventTypeAuthLogout,
			Status:      audit.EventStatusSuccess,
			PrincipalID: &authCtx.Principal.ID,
			RequestID:   contextkeys.GetRequestID(ctx),
		})
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"principal":  authCtx.Principal,
		"membership": authCtx.OrgUser,
	})
}

func (h *AuthHandlers) listMemberships(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	memberships, err := h.s.tenants.ListMemberships(r.Context(), authCtx.Principal.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"memberships": memberships})
}

// switchOrg changes the principal's current membership. The target must be
// one of the principal's own active memberships; the update enforces that in
// a single statement.
func (h *AuthHandlers) switchOrg(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req struct {
		OrgUserID int64 `json:"org_user_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := h.s.tenants.SetCurrentOrgUser(ctx, authCtx.Principal.ID, req.OrgUserID); err != nil {
		httputil.WriteNotFoundError(w, "membership not found")
		return
	}

	h.s.auditLog.Log(ctx, &audit.Event{
		EventType:   audit.EventTypeAuthOrgSwitch,
		Status:      audit.EventStatusSuccess,
		PrincipalID: &authCtx.Principal.ID,
		TargetType:  "org_user",
		TargetID:    &req.OrgUserID,
		RequestID:   contextkeys.GetRequestID(ctx),
	})
	httputil.WriteNoContent(w)
}
