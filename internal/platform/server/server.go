package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xtmate/xtmate/internal/audit"
	"github.com/xtmate/xtmate/internal/auth"
	"github.com/xtmate/xtmate/internal/estimate"
	"github.com/xtmate/xtmate/internal/organization"
	"github.com/xtmate/xtmate/internal/platform/middleware"
	"github.com/xtmate/xtmate/internal/platform/telemetry"
	"github.com/xtmate/xtmate/internal/rbac"
)

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool                *pgxpool.Pool
	Auth                *auth.TokenService
	AuthHandler         *auth.Handler
	Resolver            *rbac.Resolver
	OrganizationHandler *organization.Handler
	EstimateHandler     *estimate.Handler
	AuditHandler        *audit.Handler
	RBACAuditLogger     rbac.AuditLogger
	Metrics             *telemetry.Metrics
	RateLimiter         *middleware.RateLimiter
	DevMode             bool
	DevIdentity         *auth.Identity
	Logger              *slog.Logger
	CORSAllowedOrigins  []string
	ShutdownTimeout     time.Duration
}

type Server struct {
	httpServer      *http.Server
	protectedMux    *http.ServeMux
	pool            *pgxpool.Pool
	handler         http.Handler
	shutdownTimeout time.Duration
}

func New(addr string, deps Dependencies) *Server {
	// Protected routes mux, wrapped with auth and authorization scope
	protectedMux := http.NewServeMux()

	var protectedHandler http.Handler = protectedMux
	if deps.Metrics != nil {
		// Innermost so the matched pattern is visible after ServeHTTP.
		protectedHandler = deps.Metrics.HTTPMetrics(protectedHandler)
	}
	protectedHandler = rbac.RequestScope(protectedHandler)
	protectedHandler = middleware.AnnotateIdentity(protectedHandler)
	if deps.Auth != nil {
		if deps.DevMode && deps.DevIdentity != nil {
			protectedHandler = auth.MiddlewareWithDevMode(deps.Auth, deps.DevIdentity)(protectedHandler)
		} else {
			protectedHandler = auth.Middleware(deps.Auth)(protectedHandler)
		}
	}

	// Top-level mux: public routes + protected catch-all
	topMux := http.NewServeMux()

	shutdownTimeout := deps.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		protectedMux:    protectedMux,
		pool:            deps.Pool,
		shutdownTimeout: shutdownTimeout,
	}

	// Public routes (no auth required)
	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.Metrics != nil {
		topMux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	if deps.AuthHandler != nil {
		deps.AuthHandler.RegisterRoutes(topMux)
	}

	var rbacOpts []rbac.MiddlewareOption
	if deps.RBACAuditLogger != nil {
		rbacOpts = append(rbacOpts, rbac.WithAuditLogger(deps.RBACAuditLogger))
	}
	if deps.Metrics != nil {
		rbacOpts = append(rbacOpts, rbac.WithDecisionRecorder(deps.Metrics))
	}

	if deps.Resolver != nil {
		if deps.OrganizationHandler != nil {
			deps.OrganizationHandler.RegisterRoutes(protectedMux, deps.Resolver, rbacOpts...)
		}
		if deps.EstimateHandler != nil {
			deps.EstimateHandler.RegisterRoutes(protectedMux, deps.Resolver, rbacOpts...)
		}
		if deps.AuditHandler != nil {
			deps.AuditHandler.RegisterRoutes(protectedMux, deps.Resolver, rbacOpts...)
		}
	}

	// All other routes go through auth middleware
	topMux.Handle("/", protectedHandler)

	var handler http.Handler = topMux
	if deps.RateLimiter != nil {
		var onLimited func()
		if deps.Metrics != nil {
			onLimited = deps.Metrics.RecordRateLimited
		}
		handler = middleware.RateLimit(deps.RateLimiter, onLimited)(handler)
	}
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ProtectedMux returns the mux for authenticated routes.
// Use this to register routes that require authentication.
func (s *Server) ProtectedMux() *http.ServeMux {
	return s.protectedMux
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database not connected",
		})
		return
	}

	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
