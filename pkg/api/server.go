package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/fitstack/fitstack/pkg/audit"
	"github.com/fitstack/fitstack/pkg/auth"
	"github.com/fitstack/fitstack/pkg/config"
	"github.com/fitstack/fitstack/pkg/members"
	"github.com/fitstack/fitstack/pkg/middleware"
	"github.com/fitstack/fitstack/pkg/observability"
	"github.com/fitstack/fitstack/pkg/rbac"
	"github.com/fitstack/fitstack/pkg/session"
	"github.com/fitstack/fitstack/pkg/tenant"
)

// Server wires the HTTP surface: session resolution on every route, the
// staff gate in front of back-office routes and the front-of-house gate in
// front of FOH routes.
type Server struct {
	config  *config.Config
	db      *sql.DB
	router  *mux.Router
	logger  *observability.Logger
	metrics *observability.Metrics

	sessions   *session.Store
	principals *auth.Store
	tenants    *tenant.Store
	tenantCtx  *tenant.Context
	memberDB   *members.Store
	rbacSvc    *rbac.Service
	signatures *auth.SignatureLinks
	hasher     *auth.PasswordHasher
	auditLog   audit.Logger
	seed       *rbac.Seed

	authHandlers   *AuthHandlers
	orgHandlers    *OrgHandlers
	fohHandlers    *FOHHandlers
	rbacHandlers   *rbac.Handlers
	memberHandlers *members.Handlers
}

// NewServer creates the API server and mounts all routes
func NewServer(cfg *config.Config, db *sql.DB, redisClient *redis.Client, logger *observability.Logger, metrics *observability.Metrics) (*Server, error) {
	auditLog, err := audit.NewDBLogger(db)
	if err != nil {
		return nil, err
	}
	seed, err := rbac.DefaultSeed()
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:     cfg,
		db:         db,
		router:     mux.NewRouter(),
		logger:     logger,
		metrics:    metrics,
		sessions:   session.NewStore(redisClient, cfg.Redis.SessionTTL, metrics),
		principals: auth.NewStore(db),
		tenants:    tenant.NewStore(db),
		tenantCtx:  tenant.NewContext(db),
		memberDB:   members.NewStore(db),
		rbacSvc:    rbac.NewService(db, auditLog, metrics),
		signatures: auth.NewSignatureLinks(cfg.Auth.SignatureLinkSecret, cfg.Auth.SignatureLinkTTL),
		hasher:     auth.NewPasswordHasher(auth.DefaultArgon2Params()),
		auditLog:   auditLog,
		seed:       seed,
	}

	s.authHandlers = NewAuthHandlers(s)
	s.orgHandlers = NewOrgHandlers(s)
	s.fohHandlers = NewFOHHandlers(s)
	s.rbacHandlers = rbac.NewHandlers(s.rbacSvc)
	s.memberHandlers = members.NewHandlers(s.memberDB, s.rbacSvc)

	s.setupRoutes()
	return s, nil
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	gateConfig := middleware.DefaultGateConfig()
	gate := middleware.NewAccessGate(gateConfig, s.sessions, s.tenants, s.signatures, s.auditLog, s.metrics)
	sessionMW := middleware.NewSessionMiddleware(s.sessions, s.principals, s.tenantCtx)

	s.router.Use(mux.MiddlewareFunc(middleware.RequestID(s.logger)))
	s.router.Use(mux.MiddlewareFunc(sessionMW.Handler))

	// Auth routes sit outside both gates; login is rate limited per IP.
	loginLimiter := middleware.NewRateLimiter(middleware.LoginRateLimitConfig(s.config.Auth.LoginRateLimit))
	s.router.Handle("/auth/login", loginLimiter.Handler(http.HandlerFunc(s.authHandlers.login))).Methods("POST")
	s.router.HandleFunc("/auth/logout", s.authHandlers.logout).Methods("POST")
	s.router.HandleFunc("/auth/register", s.authHandlers.register).Methods("POST")
	s.router.HandleFunc("/auth/me", s.authHandlers.me).Methods("GET")
	s.router.HandleFunc("/auth/memberships", s.authHandlers.listMemberships).Methods("GET")
	s.router.HandleFunc("/auth/switch-org", s.authHandlers.switchOrg).Methods("POST")
	// The gates redirect here when a principal has access, just not at the
	// current org. Same payload as /auth/memberships.
	s.router.HandleFunc("/orgs/select", s.authHandlers.listMemberships).Methods("GET")
	s.orgHandlers.RegisterOnboardingRoutes(s.router)

	// Back-office surface: staff gate, then RBAC task checks per handler.
	backoffice := s.router.PathPrefix("/api/backoffice").Subrouter()
	backoffice.Use(mux.MiddlewareFunc(gate.Staff))
	s.rbacHandlers.RegisterRoutes(backoffice)
	s.memberHandlers.RegisterRoutes(backoffice)
	s.orgHandlers.RegisterRoutes(backoffice)

	// Front-of-house surface.
	foh := s.router.PathPrefix("/foh").Subrouter()
	foh.Use(mux.MiddlewareFunc(gate.FOH))
	s.fohHandlers.RegisterRoutes(foh)
}

// Start runs the HTTP server until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Server.ListenAddr(),
		Handler:      s.metrics.InstrumentHandler("api", s.router),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", srv.Addr).Info("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
