package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/contextkeys"
	"github.com/fitstack/fitstack/pkg/tenant"
)

func TestWriteErrorMapping(t *testing.T) {
	h := &Handlers{}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "conflict carries held role",
			err:        &ConflictError{Message: "user already holds a role in this module", HeldRole: "Manager"},
			wantStatus: http.StatusConflict,
			wantBody:   "Manager",
		},
		{
			name:       "forbidden",
			err:        &ForbiddenError{Message: "protected roles cannot be edited"},
			wantStatus: http.StatusForbidden,
			wantBody:   "protected",
		},
		{
			name:       "not found",
			err:        ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   "not found",
		},
		{
			name:       "wrapped not found",
			err:        errors.New("role 7: " + ErrNotFound.Error()),
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/roles", nil)
			h.writeError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestWriteErrorConflictShape(t *testing.T) {
	h := &Handlers{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/roles/1/users/2", nil)

	h.writeError(rec, req, &ConflictError{Message: "already assigned", HeldRole: "Front Desk"})

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "already assigned", body["error"])
	assert.Equal(t, "Front Desk", body["held_role"])
}

func routedRequest(t *testing.T, h *Handlers, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListRolesUnauthenticated(t *testing.T) {
	svc, _, done := newTestService(t)
	defer done()
	h := NewHandlers(svc)

	rec := routedRequest(t, h, httptest.NewRequest("GET", "/roles?module=foh", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListRolesRejectsUnknownModule(t *testing.T) {
	svc, _, done := newTestService(t)
	defer done()
	h := NewHandlers(svc)

	req := httptest.NewRequest("GET", "/roles?module=warehouse", nil)
	authCtx := &auth.Context{OrgUser: &tenant.OrgUser{ID: 10, OrgID: 1}}
	req = req.WithContext(context.WithValue(req.Context(), contextkeys.AuthKey, authCtx))

	rec := routedRequest(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "module")
}

func TestCreateRoleNeverProtected(t *testing.T) {
	svc, mock, done := newTestService(t)
	defer done()
	h := NewHandlers(svc)

	mock.ExpectQuery("INSERT INTO rbac_roles").
		WithArgs("backoffice", "Night Manager", int64(10), "night-manager", false).
		WillReturnRows(roleRow(7, 1, ModuleBackOffice, "Night Manager", false))

	body := `{"module":"backoffice","name":"Night Manager","protected":true}`
	req := httptest.NewRequest("POST", "/roles", strings.NewReader(body))
	authCtx := &auth.Context{OrgUser: &tenant.OrgUser{ID: 10, OrgID: 1}}
	req = req.WithContext(context.WithValue(req.Context(), contextkeys.AuthKey, authCtx))

	rec := routedRequest(t, h, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
