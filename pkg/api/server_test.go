package api

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitstack/fitstack/pkg/config"
	"github.com/fitstack/fitstack/pkg/observability"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{
		Redis: config.RedisConfig{SessionTTL: 12 * time.Hour},
		Auth: config.AuthConfig{
			SignatureLinkSecret: "route-test-secret",
			SignatureLinkTTL:    72 * time.Hour,
			LoginRateLimit:      10,
		},
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	srv, err := NewServer(cfg, db, client, logger, observability.NewMetrics(nil))
	require.NoError(t, err)
	return srv
}

func TestRoutesAreRegistered(t *testing.T) {
	srv := newTestServer(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/auth/login"},
		{http.MethodGet, "/auth/memberships"},
		{http.MethodPost, "/auth/switch-org"},
		{http.MethodGet, "/orgs/select"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req, err := http.NewRequest(rt.method, rt.path, nil)
			require.NoError(t, err)

			var match mux.RouteMatch
			assert.True(t, srv.router.Match(req, &match), "no route serves %s %s", rt.method, rt.path)
			assert.NoError(t, match.MatchErr)
		})
	}
}
