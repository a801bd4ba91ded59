package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/contextkeys"
	"github.com/fitstack/fitstack/pkg/session"
	"github.com/fitstack/fitstack/pkg/tenant"
)

func newSessionFixture(t *testing.T) (*SessionMiddleware, *session.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sessions := session.NewStore(client, time.Hour, nil)
	mw := NewSessionMiddleware(sessions, auth.NewStore(db), tenant.NewContext(db))
	return mw, sessions, mock
}

func principalRows(id int64, active bool, currentOrgUser interface{}) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "full_name", "password_hash", "is_active",
		"current_org_user_id", "created_at", "updated_at", "last_login_at",
	}).AddRow(id, "pat@example.com", "Pat", "x", active, currentOrgUser, now, now, nil)
}

func captureAuth() (http.Handler, **auth.Context) {
	var captured *auth.Context
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authCtx, ok := auth.FromContext(r.Context()); ok {
			captured = authCtx
		}
		w.WriteHeader(http.StatusOK)
	}), &captured
}

func TestSessionMiddleware(t *testing.T) {
	t.Run("no cookie passes through unauthenticated", func(t *testing.T) {
		mw, _, _ := newSessionFixture(t)
		next, captured := captureAuth()

		w := httptest.NewRecorder()
		mw.Handler(next).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, *captured)
	})

	t.Run("resolves identity and current membership per request", func(t *testing.T) {
		mw, sessions, mock := newSessionFixture(t)
		token, err := sessions.Create(context.Background(), &session.Session{PrincipalID: 5})
		require.NoError(t, err)

		mock.ExpectQuery("SELECT id, email").
			WithArgs(int64(5)).
			WillReturnRows(principalRows(5, true, int64(10)))
		now := time.Now()
		mock.ExpectQuery("SELECT ou.id, ou.org_id").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "org_id", "principal_id", "is_foh_user", "is_staff",
				"is_active", "status", "created_at", "updated_at",
			}).AddRow(10, 2, 5, true, true, true, "active", now, now))

		next, captured := captureAuth()
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		w := httptest.NewRecorder()
		mw.Handler(next).ServeHTTP(w, r)

		require.NotNil(t, *captured)
		assert.Equal(t, int64(5), (*captured).Principal.ID)
		require.NotNil(t, (*captured).OrgUser)
		assert.Equal(t, int64(10), (*captured).OrgUser.ID)
		assert.True(t, (*captured).Scope().Resolved())
	})

	t.Run("membership gone means unresolved scope, not an error", func(t *testing.T) {
		mw, sessions, mock := newSessionFixture(t)
		token, err := sessions.Create(context.Background(), &session.Session{PrincipalID: 5})
		require.NoError(t, err)

		mock.ExpectQuery("SELECT id, email").
			WithArgs(int64(5)).
			WillReturnRows(principalRows(5, true, int64(10)))
		mock.ExpectQuery("SELECT ou.id, ou.org_id").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		next, captured := captureAuth()
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		w := httptest.NewRecorder()
		mw.Handler(next).ServeHTTP(w, r)

		require.NotNil(t, *captured)
		assert.Nil(t, (*captured).OrgUser)
		assert.False(t, (*captured).Scope().Resolved())
	})

	t.Run("deactivated principal loses the session", func(t *testing.T) {
		mw, sessions, mock := newSessionFixture(t)
		ctx := context.Background()
		token, err := sessions.Create(ctx, &session.Session{PrincipalID: 5})
		require.NoError(t, err)

		mock.ExpectQuery("SELECT id, email").
			WithArgs(int64(5)).
			WillReturnRows(principalRows(5, false, nil))

		next, captured := captureAuth()
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		w := httptest.NewRecorder()
		mw.Handler(next).ServeHTTP(w, r)

		assert.Nil(t, *captured)
		_, err = sessions.Get(ctx, token)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("stale token clears the cookie", func(t *testing.T) {
		mw, _, _ := newSessionFixture(t)
		next, captured := captureAuth()

		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "stale"})
		w := httptest.NewRecorder()
		mw.Handler(next).ServeHTTP(w, r)

		assert.Nil(t, *captured)
		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, SessionCookie, cookies[0].Name)
		assert.Less(t, cookies[0].MaxAge, 0)
	})

	t.Run("session token is available for logout", func(t *testing.T) {
		mw, sessions, mock := newSessionFixture(t)
		token, err := sessions.Create(context.Background(), &session.Session{PrincipalID: 5})
		require.NoError(t, err)

		mock.ExpectQuery("SELECT id, email").
			WillReturnRows(principalRows(5, true, nil))
		mock.ExpectQuery("SELECT ou.id, ou.org_id").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		var seenToken string
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenToken = contextkeys.GetSessionToken(r.Context())
		})
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		mw.Handler(next).ServeHTTP(httptest.NewRecorder(), r)

		assert.Equal(t, token, seenToken)
	})
}
