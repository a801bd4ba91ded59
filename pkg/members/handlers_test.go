package members

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/contextkeys"
	"github.com/fitstack/fitstack/pkg/rbac"
	"github.com/fitstack/fitstack/pkg/tenant"
)

type stubAuthorizer struct {
	allowed bool
	err     error
	checked []string
}

func (a *stubAuthorizer) HasTask(ctx context.Context, scope tenant.Scope, orgUserID int64, module rbac.Module, taskCode string) (bool, error) {
	a.checked = append(a.checked, taskCode)
	return a.allowed, a.err
}

func handlerFixture(t *testing.T, authz *stubAuthorizer) (*mux.Router, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	router := mux.NewRouter()
	NewHandlers(NewStore(db), authz).RegisterRoutes(router)
	return router, mock
}

func authedRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	authCtx := &auth.Context{OrgUser: &tenant.OrgUser{ID: 10, OrgID: 1, IsStaff: true, IsActive: true}}
	return req.WithContext(context.WithValue(req.Context(), contextkeys.AuthKey, authCtx))
}

func TestHandlersRequireAuthentication(t *testing.T) {
	router, _ := handlerFixture(t, &stubAuthorizer{allowed: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/members", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlersRequireTask(t *testing.T) {
	authz := &stubAuthorizer{allowed: false}
	router, _ := handlerFixture(t, authz)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("GET", "/members", ""))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, []string{"members.view"}, authz.checked)
	assert.Contains(t, rec.Body.String(), "members.view")
}

func TestRegisterValidationError(t *testing.T) {
	router, _ := handlerFixture(t, &stubAuthorizer{allowed: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("POST", "/members", `{"email":"not-an-email","full_name":"Jo"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	router, mock := handlerFixture(t, &stubAuthorizer{allowed: true})

	mock.ExpectQuery("SELECT email, phone, full_name").
		WillReturnRows(sqlmock.NewRows([]string{"email", "phone", "full_name"}).AddRow("jo@example.com", nil, "Jo Smith"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("POST", "/members", `{"email":"jo@example.com","full_name":"Jo Smith"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in use")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	router, mock := handlerFixture(t, &stubAuthorizer{allowed: true})

	mock.ExpectQuery("SELECT .+ FROM members WHERE id").
		WillReturnRows(sqlmock.NewRows(strings.Split(memberColumns, ", ")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("GET", "/members/99", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetInvalidPathParameter(t *testing.T) {
	router, _ := handlerFixture(t, &stubAuthorizer{allowed: true})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("GET", "/members/abc", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSoftDeleteNoContent(t *testing.T) {
	router, mock := handlerFixture(t, &stubAuthorizer{allowed: true})

	mock.ExpectExec("UPDATE members").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authedRequest("DELETE", "/members/5", ""))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
