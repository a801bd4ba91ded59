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

type gateFixture struct {
	gate     *AccessGate
	sessions *session.Store
	mock     sqlmock.Sqlmock
	redis    *miniredis.Miniredis
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	sessions := session.NewStore(client, time.Hour, nil)

	signatures := auth.NewSignatureLinks("test-secret", time.Hour)
	gate := NewAccessGate(DefaultGateConfig(), sessions, tenant.NewStore(db), signatures, nil, nil)
	return &gateFixture{gate: gate, sessions: sessions, mock: mock, redis: mr}
}

func authedRequest(t *testing.T, path string, authCtx *auth.Context) *http.Request {
	t.Helper()
	r := httptest.NewRequest("GET", path, nil)
	if authCtx != nil {
		r = r.WithContext(contextkeys.WithAuth(r.Context(), authCtx))
	}
	return r
}

func staffFOHContext(fohAccess bool) *auth.Context {
	return &auth.Context{
		Principal: &auth.Principal{ID: 5, IsActive: true},
		OrgUser: &tenant.OrgUser{
			ID:          10,
			OrgID:       2,
			PrincipalID: 5,
			IsFOHUser:   fohAccess,
			IsStaff:     true,
			IsActive:    true,
			Status:      tenant.StatusActive,
		},
	}
}

func nextRecorder() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestFOHGate(t *testing.T) {
	t.Run("skip paths pass untouched", func(t *testing.T) {
		f := newGateFixture(t)
		next, called := nextRecorder()
		w := httptest.NewRecorder()

		f.gate.FOH(next).ServeHTTP(w, authedRequest(t, "/healthz", nil))
		assert.True(t, *called)
	})

	t.Run("anonymous requests go to login", func(t *testing.T) {
		f := newGateFixture(t)
		next, called := nextRecorder()
		w := httptest.NewRecorder()

		f.gate.FOH(next).ServeHTTP(w, authedRequest(t, "/foh/checkin", nil))
		assert.False(t, *called)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "/login/foh")
	})

	t.Run("current-org access is allowed", func(t *testing.T) {
		f := newGateFixture(t)
		next, called := nextRecorder()
		w := httptest.NewRecorder()

		f.gate.FOH(next).ServeHTTP(w, authedRequest(t, "/foh/checkin", staffFOHContext(true)))
		assert.True(t, *called)
	})

	t.Run("access in another org redirects to org selection", func(t *testing.T) {
		f := newGateFixture(t)
		f.mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(5), int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		next, called := nextRecorder()
		w := httptest.NewRecorder()
		f.gate.FOH(next).ServeHTTP(w, authedRequest(t, "/foh/checkin", staffFOHContext(false)))

		assert.False(t, *called)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "/orgs/select")
	})

	t.Run("no access anywhere forces logout", func(t *testing.T) {
		f := newGateFixture(t)
		ctx := context.Background()
		token, err := f.sessions.Create(ctx, &session.Session{PrincipalID: 5})
		require.NoError(t, err)

		f.mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(5), int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		next, called := nextRecorder()
		w := httptest.NewRecorder()
		f.gate.FOH(next).ServeHTTP(w, authedRequest(t, "/foh/checkin", staffFOHContext(false)))

		assert.False(t, *called)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "/login/foh")

		// Every session of the principal is gone.
		_, err = f.sessions.Get(ctx, token)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("valid signature link bypasses login", func(t *testing.T) {
		f := newGateFixture(t)
		signatures := auth.NewSignatureLinks("test-secret", time.Hour)
		token, err := signatures.Issue(2, 7, "liability-waiver")
		require.NoError(t, err)

		next, called := nextRecorder()
		w := httptest.NewRecorder()
		f.gate.FOH(next).ServeHTTP(w, authedRequest(t, "/foh/waivers/sign?sig="+token, nil))
		assert.True(t, *called)
	})

	t.Run("tampered signature link does not bypass login", func(t *testing.T) {
		f := newGateFixture(t)
		next, called := nextRecorder()
		w := httptest.NewRecorder()

		f.gate.FOH(next).ServeHTTP(w, authedRequest(t, "/foh/waivers/sign?sig=garbage", nil))
		assert.False(t, *called)
		assert.Equal(t, http.StatusFound, w.Code)
	})
}

func TestStaffGate(t *testing.T) {
	t.Run("staff membership is allowed", func(t *testing.T) {
		f := newGateFixture(t)
		next, called := nextRecorder()
		w := httptest.NewRecorder()

		f.gate.Staff(next).ServeHTTP(w, authedRequest(t, "/api/backoffice/members", staffFOHContext(false)))
		assert.True(t, *called)
	})

	t.Run("customer-only principals are logged out and sent to the customer login", func(t *testing.T) {
		f := newGateFixture(t)
		ctx := context.Background()
		token, err := f.sessions.Create(ctx, &session.Session{PrincipalID: 8})
		require.NoError(t, err)

		customer := &auth.Context{Principal: &auth.Principal{ID: 8, IsActive: true}}
		f.mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		next, called := nextRecorder()
		w := httptest.NewRecorder()
		f.gate.Staff(next).ServeHTTP(w, authedRequest(t, "/api/backoffice/members", customer))

		assert.False(t, *called)
		assert.Equal(t, http.StatusFound, w.Code)
		location := w.Header().Get("Location")
		assert.Contains(t, location, "/login/member")
		assert.NotContains(t, location, "/login/staff")

		// The session must not survive the denial.
		_, err = f.sessions.Get(ctx, token)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("staff access elsewhere redirects to org selection", func(t *testing.T) {
		f := newGateFixture(t)
		noCurrent := &auth.Context{Principal: &auth.Principal{ID: 8, IsActive: true}}
		f.mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		next, called := nextRecorder()
		w := httptest.NewRecorder()
		f.gate.Staff(next).ServeHTTP(w, authedRequest(t, "/api/backoffice/members", noCurrent))

		assert.False(t, *called)
		assert.Contains(t, w.Header().Get("Location"), "/orgs/select")
	})

	t.Run("anonymous requests go to staff login", func(t *testing.T) {
		f := newGateFixture(t)
		next, called := nextRecorder()
		w := httptest.NewRecorder()

		f.gate.Staff(next).ServeHTTP(w, authedRequest(t, "/api/backoffice/members", nil))
		assert.False(t, *called)
		assert.Contains(t, w.Header().Get("Location"), "/login/staff")
	})
}
