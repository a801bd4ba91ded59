package middleware

import (
	"net/http"
	"strings"

	"github.com/fitstack/fitstack/pkg/audit"
	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/contextkeys"
	"github.com/fitstack/fitstack/pkg/httputil"
	"github.com/fitstack/fitstack/pkg/observability"
	"github.com/fitstack/fitstack/pkg/session"
	"github.com/fitstack/fitstack/pkg/tenant"
)

// GateConfig carries the redirect targets and skip rules for the access
// gates.
type GateConfig struct {
	// SkipPrefixes lists path prefixes the gates never touch: login pages,
	// health endpoints, static assets.
	SkipPrefixes []string
	// SignaturePrefixes lists paths reachable with a valid signature-link
	// token instead of a session.
	SignaturePrefixes []string

	FOHLoginURL      string
	StaffLoginURL    string
	CustomerLoginURL string
	OrgSelectionURL  string
}

// DefaultGateConfig returns the standard gate wiring
func DefaultGateConfig() GateConfig {
	return GateConfig{
		SkipPrefixes: []string{
			"/healthz", "/readyz", "/metrics",
			"/login", "/auth/",
			"/static/",
		},
		SignaturePrefixes: []string{"/foh/waivers/sign"},
		FOHLoginURL:       "/login/foh",
		StaffLoginURL:     "/login/staff",
		CustomerLoginURL:  "/login/member",
		OrgSelectionURL:   "/orgs/select",
	}
}

// AccessGate enforces surface entry rules. Decisions are recomputed per
// request from live membership data.
type AccessGate struct {
	config     GateConfig
	sessions   *session.Store
	tenants    *tenant.Store
	signatures *auth.SignatureLinks
	auditLog   audit.Logger
	metrics    *observability.Metrics
}

// NewAccessGate creates the gate. auditLog and metrics may be nil.
func NewAccessGate(config GateConfig, sessions *session.Store, tenants *tenant.Store, signatures *auth.SignatureLinks, auditLog audit.Logger, metrics *observability.Metrics) *AccessGate {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &AccessGate{
		config:     config,
		sessions:   sessions,
		tenants:    tenants,
		signatures: signatures,
		auditLog:   auditLog,
		metrics:    metrics,
	}
}

// FOH gates the front-of-house surface. The decision ladder:
// skip rules, then login redirect for anonymous requests, then allow on
// current-org access, then org-selection redirect when access exists in
// another organization, and finally force-logout.
func (g *AccessGate) FOH(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.skip(r) || g.signatureAllowed(r) {
			g.record("foh", "allow")
			next.ServeHTTP(w, r)
			return
		}

		authCtx, ok := auth.FromContext(r.Context())
		if !ok {
			g.record("foh", "redirect_login")
			httputil.Redirect(w, r, g.config.FOHLoginURL, "login required")
			return
		}

		if authCtx.HasFOHAccess() {
			g.record("foh", "allow")
			next.ServeHTTP(w, r)
			return
		}

		// No usable access here; check the principal's other memberships
		// before giving up on the session.
		var currentOrgID int64
		if authCtx.OrgUser != nil {
			currentOrgID = authCtx.OrgUser.OrgID
		}
		elsewhere, err := g.tenants.HasFOHAccessElsewhere(r.Context(), authCtx.Principal.ID, currentOrgID)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("membership check failed")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		if elsewhere {
			g.record("foh", "redirect_org_select")
			httputil.Redirect(w, r, g.config.OrgSelectionURL, "select an organization")
			return
		}

		g.record("foh", "force_logout")
		g.forceLogout(w, r, authCtx, g.config.FOHLoginURL)
	})
}

// Staff gates the back-office surface, keeping customer-only principals
// out. A principal with no staff membership anywhere is logged out
// everywhere and sent to the customer login, which is distinct from the
// staff login.
func (g *AccessGate) Staff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.skip(r) {
			g.record("staff", "allow")
			next.ServeHTTP(w, r)
			return
		}

		authCtx, ok := auth.FromContext(r.Context())
		if !ok {
			g.record("staff", "redirect_login")
			httputil.Redirect(w, r, g.config.StaffLoginURL, "login required")
			return
		}

		if authCtx.IsStaff() {
			g.record("staff", "allow")
			next.ServeHTTP(w, r)
			return
		}

		anywhere, err := g.tenants.HasStaffAccessAnywhere(r.Context(), authCtx.Principal.ID)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("membership check failed")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		if anywhere {
			g.record("staff", "redirect_org_select")
			httputil.Redirect(w, r, g.config.OrgSelectionURL, "select an organization")
			return
		}

		g.record("staff", "force_logout")
		g.auditLog.Log(r.Context(), &audit.Event{
			EventType:   audit.EventTypeAccessDenied,
			Status:      audit.EventStatusDenied,
			PrincipalID: &authCtx.Principal.ID,
			IPAddress:   httputil.ClientIP(r),
			RequestID:   contextkeys.GetRequestID(r.Context()),
			Message:     "customer principal blocked from staff surface",
		})
		g.forceLogout(w, r, authCtx, g.config.CustomerLoginURL)
	})
}

func (g *AccessGate) skip(r *http.Request) bool {
	for _, prefix := range g.config.SkipPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// signatureAllowed admits signature-link requests: a whitelisted path
// carrying a token that verifies against the signing secret.
func (g *AccessGate) signatureAllowed(r *http.Request) bool {
	if g.signatures == nil {
		return false
	}
	matched := false
	for _, prefix := range g.config.SignaturePrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	token := r.URL.Query().Get("sig")
	if token == "" {
		return false
	}
	_, err := g.signatures.Verify(token)
	return err == nil
}

// forceLogout destroys every session of the principal so a broken tenant
// context cannot be carried into another surface, then redirects to login.
func (g *AccessGate) forceLogout(w http.ResponseWriter, r *http.Request, authCtx *auth.Context, loginURL string) {
	ctx := r.Context()
	if err := g.sessions.DestroyAllForPrincipal(ctx, authCtx.Principal.ID); err != nil {
		observability.FromContext(ctx).WithError(err).Error("force logout failed")
	}
	clearSessionCookie(w)

	g.auditLog.Log(ctx, &audit.Event{
		EventType:   audit.EventTypeAuthForceLogout,
		Status:      audit.EventStatusSuccess,
		PrincipalID: &authCtx.Principal.ID,
		IPAddress:   httputil.ClientIP(r),
		RequestID:   contextkeys.GetRequestID(ctx),
		Message:     "no usable membership for requested surface",
	})

	httputil.Redirect(w, r, loginURL, "access revoked")
}

func (g *AccessGate) record(gate, outcome string) {
	if g.metrics != nil {
		g.metrics.RecordGateDecision(gate, outcome)
	}
}
