package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/xtmate/xtmate/internal/audit"
	"github.com/xtmate/xtmate/internal/auth"
	"github.com/xtmate/xtmate/internal/estimate"
	"github.com/xtmate/xtmate/internal/organization"
	"github.com/xtmate/xtmate/internal/platform/config"
	"github.com/xtmate/xtmate/internal/platform/database"
	"github.com/xtmate/xtmate/internal/platform/middleware"
	"github.com/xtmate/xtmate/internal/platform/server"
	"github.com/xtmate/xtmate/internal/platform/telemetry"
	"github.com/xtmate/xtmate/internal/rbac"
	"github.com/xtmate/xtmate/migrations"
	"golang.org/x/sync/errgroup"
)

const poolStatsInterval = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("xtmate starting", "port", cfg.Server.Port)

	if cfg.Database.URL == "" {
		return errors.New("database.url is required: memberships live in Postgres")
	}
	if cfg.Auth.JWT.SigningKey == "" {
		return errors.New("auth.jwt.signingkey is required")
	}

	ctx := cmd.Context()

	slog.Info("connecting to database")
	pool, err := database.Connect(ctx, database.PoolConfig{
		URL:              cfg.Database.URL,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		StatementTimeout: time.Duration(cfg.Database.StatementTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(cfg.Database.URL, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	// Audit
	auditStore := audit.NewStore()
	auditLogger := audit.NewAsyncLogger(pool, auditStore, audit.LoggerConfig{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: time.Duration(cfg.Audit.FlushIntervalMS) * time.Millisecond,
		OnDrop:        metrics.RecordAuditDrop,
		OnFlushError:  metrics.RecordAuditFlushFailure,
	})
	defer auditLogger.Close()
	slog.Info("audit logger started")

	// Auth
	tokenSvc := auth.NewTokenService(
		cfg.Auth.JWT.SigningKey,
		cfg.Auth.JWT.Issuer,
		cfg.Auth.JWT.ExpiryHours,
		cfg.Auth.JWT.RefreshExpiryHours,
	)

	// Authorization
	memberStore := organization.NewStore()
	estimateStore := estimate.NewStore()
	resolver := rbac.NewResolver(
		auth.ContextProvider{},
		organization.NewMembershipSource(pool, memberStore),
		estimate.NewRecordSource(pool, estimateStore),
	)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(
			cfg.RateLimit.RequestsPerSecond,
			cfg.RateLimit.Burst,
			time.Duration(cfg.RateLimit.IdleTTLSecs)*time.Second,
		)
		defer limiter.Close()
	}

	var devIdentity *auth.Identity
	if cfg.Auth.DevMode {
		slog.Warn("running in dev mode: authentication bypassed with 'Bearer dev'")
		devIdentity = &auth.Identity{
			UserID:         cfg.Auth.Dev.UserID,
			OrganizationID: cfg.Auth.Dev.OrganizationID,
			TokenType:      auth.TokenTypeAccess,
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Dependencies{
		Pool:                pool,
		Auth:                tokenSvc,
		AuthHandler:         auth.NewHandler(tokenSvc),
		Resolver:            resolver,
		OrganizationHandler: organization.NewHandler(pool, memberStore, auditLogger),
		EstimateHandler:     estimate.NewHandler(pool, estimateStore, auditLogger),
		AuditHandler:        audit.NewHandler(pool, auditStore, cfg.Audit.ListDefaultLimit),
		RBACAuditLogger:     audit.NewDenialLogger(auditLogger),
		Metrics:             metrics,
		RateLimiter:         limiter,
		DevMode:             cfg.Auth.DevMode,
		DevIdentity:         devIdentity,
		Logger:              logger,
		CORSAllowedOrigins:  cfg.CORS.AllowedOrigins,
		ShutdownTimeout:     time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(poolStatsInterval)
		defer ticker.Stop()
		for {
			metrics.RecordPoolStats(pool.Stat())
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	slog.Info("server ready", "addr", addr, "dev_mode", cfg.Auth.DevMode)
	return g.Wait()
}
