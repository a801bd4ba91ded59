package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/fitstack/fitstack/pkg/api"
	"github.com/fitstack/fitstack/pkg/config"
	"github.com/fitstack/fitstack/pkg/members"
	"github.com/fitstack/fitstack/pkg/observability"
	"github.com/fitstack/fitstack/pkg/rbac"
	"github.com/fitstack/fitstack/pkg/session"
	"github.com/fitstack/fitstack/pkg/tenant"
)

// memberRetention is how long deleted members keep their identifiers
// reserved before the nightly job archives them.
const memberRetention = 30 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fitstack: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting fitstack")

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	for name, migrate := range map[string]func(context.Context, *sql.DB) error{
		"tenant":  tenant.RunMigrations,
		"rbac":    rbac.RunMigrations,
		"members": members.RunMigrations,
	} {
		if err := migrate(ctx, db); err != nil {
			return fmt.Errorf("%s migrations failed: %w", name, err)
		}
	}
	logger.Info("migrations applied")

	metrics := observability.NewMetrics(nil)
	server, err := api.NewServer(cfg, db, redisClient, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	memberStore := members.NewStore(db)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@daily", func() {
		archived, err := memberStore.ArchiveExpired(context.Background(), memberRetention)
		if err != nil {
			logger.WithError(err).Error("member retention job failed")
			return
		}
		if archived > 0 {
			logger.WithField("archived", archived).Info("expired deleted members archived")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule retention job: %w", err)
	}
	sessionStore := session.NewStore(redisClient, cfg.Redis.SessionTTL, metrics)
	if _, err := scheduler.AddFunc("@hourly", func() {
		pruned, err := sessionStore.PruneIndexes(context.Background())
		if err != nil {
			logger.WithError(err).Error("session index prune failed")
			return
		}
		if pruned > 0 {
			logger.WithField("pruned", pruned).Info("stale session index entries removed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule session prune job: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthSrv := &http.Server{
		Addr:    cfg.Server.HealthAddr(),
		Handler: healthMux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		logger.WithField("addr", healthSrv.Addr).Info("health server listening")
		if err := healthSrv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return healthSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != http.ErrServerClosed && err != context.Canceled {
		return err
	}
	logger.Info("fitstack stopped")
	return nil
}
