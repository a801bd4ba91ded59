package middleware

import (
	"net/http"

	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/contextkeys"
	"github.com/fitstack/fitstack/pkg/observability"
	"github.com/fitstack/fitstack/pkg/session"
	"github.com/fitstack/fitstack/pkg/tenant"
)

// SessionCookie is the name of the session cookie
const SessionCookie = "fitstack_session"

// SessionMiddleware resolves the session cookie into an authenticated
// identity. The current membership is loaded from the database on every
// request, never from the session, so org switches and revocations take
// effect immediately. Requests without a valid session pass through
// unauthenticated; the gates decide what that means per surface.
type SessionMiddleware struct {
	sessions   *session.Store
	principals *auth.Store
	tenants    *tenant.Context
}

// NewSessionMiddleware creates the session middleware
func NewSessionMiddleware(sessions *session.Store, principals *auth.Store, tenants *tenant.Context) *SessionMiddleware {
	return &SessionMiddleware{
		sessions:   sessions,
		principals: principals,
		tenants:    tenants,
	}
}

// Handler wraps next with identity resolution
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := cookie.Value

		ctx := r.Context()
		sess, err := m.sessions.Get(ctx, token)
		if err == session.ErrNotFound {
			clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			observability.FromContext(ctx).WithError(err).Error("session lookup failed")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}

		principal, err := m.principals.GetPrincipal(ctx, sess.PrincipalID)
		if err != nil || !principal.IsActive {
			// Session refers to a missing or deactivated principal.
			m.sessions.Destroy(ctx, token)
			clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		authCtx := &auth.Context{Principal: principal}
		orgUser, ok, err := m.tenants.CurrentOrgUser(ctx, principal.ID)
		if err != nil {
			observability.FromContext(ctx).WithError(err).Error("membership lookup failed")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		if ok {
			authCtx.OrgUser = orgUser
		}

		ctx = contextkeys.WithAuth(ctx, authCtx)
		ctx = contextkeys.WithSessionToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
