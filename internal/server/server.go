// Package server is the composition root: it opens the stores, builds the
// services, wires handlers and middleware to routes, and runs the HTTP
// server until a shutdown signal arrives.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config
//	  → RecordStore (sqlite | postgres), blob.Store (filesystem | s3 | memory),
//	    inference.Analyzer (http | gemini)
//	  → workspace.Manager (one gate + registry + orchestrator per user)
//	  → handlers → routes
//
// Each layer only receives what it needs: handlers get services or the
// workspace from the request context, services get interfaces.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sakif/propability/internal/auth"
	"github.com/sakif/propability/internal/blob"
	"github.com/sakif/propability/internal/clock"
	"github.com/sakif/propability/internal/config"
	"github.com/sakif/propability/internal/handler"
	"github.com/sakif/propability/internal/inference"
	"github.com/sakif/propability/internal/metrics"
	"github.com/sakif/propability/internal/middleware"
	"github.com/sakif/propability/internal/service"
	"github.com/sakif/propability/internal/workspace"
)

// sweepInterval is how often expired and idle workspaces are released.
const sweepInterval = time.Minute

// Deps are the built services NewRouter wires to routes.
type Deps struct {
	Auth          *service.AuthService
	Tokens        *auth.TokenService
	Workspaces    *workspace.Manager
	Limiter       *middleware.RateLimiter
	Gatherer      prometheus.Gatherer
	MediaDir      string // serves /media/* when set
	SecureCookies bool
	Logger        *slog.Logger
}

// NewRouter builds the route tree.
//
// ROUTE STRUCTURE:
// GET    /api/health                  → liveness
// GET    /metrics                     → Prometheus scrape
// GET    /media/*                     → photos in the filesystem blob store
// POST   /auth/signup | /auth/signin  → email + password
// POST   /auth/signout                → clear cookie, release workspace
// GET    /auth/providers              → configured OAuth providers
// GET    /auth/{provider}/login       → redirect to Google / GitHub
// GET    /auth/{provider}/callback    → finish OAuth, redirect to dashboard
// GET    /api/me                      → current user            [auth]
// GET    /api/cuttings                → load registry           [auth]
// GET    /api/cuttings/{id}           → one cutting             [auth]
// PATCH  /api/cuttings/{id}           → rename                  [auth]
// DELETE /api/cuttings/{id}           → remove (?confirm=true)  [auth]
// POST   /api/cuttings/{id}/feedback  → check-in answer         [auth]
// GET    /api/submission              → current job             [auth]
// PUT    /api/submission/file         → select a photo          [auth]
// POST   /api/submission/run          → run the pipeline        [auth, rate limited]
// DELETE /api/submission              → reset                   [auth]
// POST   /api/submissions             → select + run            [auth, rate limited]
//
// MIDDLEWARE ORDER MATTERS:
// RequestID and RealIP first so the logger sees them, Recoverer so a panic
// still gets logged as a 500. On protected routes RequireAuth runs before
// TagUser (which labels the log line) and before the workspace middleware.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimiddleware.Recoverer)

	if d.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(d.Gatherer))
	}
	if d.MediaDir != "" {
		r.Handle("/media/*", mediaHandler(d.MediaDir))
	}

	authHandler := handler.NewAuthHandler(d.Auth, d.Workspaces, d.SecureCookies, d.Logger)
	cuttingHandler := handler.NewCuttingHandler(d.Logger)
	submissionHandler := handler.NewSubmissionHandler(d.Logger)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.HandleSignUp)
		r.Post("/signin", authHandler.HandleSignIn)
		r.With(auth.OptionalAuth(d.Tokens), middleware.TagUser).Post("/signout", authHandler.HandleSignOut)
		r.Get("/providers", authHandler.HandleProviders)
		r.Get("/{provider}/login", authHandler.HandleProviderLogin)
		r.Get("/{provider}/callback", authHandler.HandleProviderCallback)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.HandleHealth)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(d.Tokens))
			r.Use(middleware.TagUser)
			r.Use(d.Workspaces.Middleware(auth.SessionFromContext))

			r.Get("/me", authHandler.HandleMe)

			r.Get("/cuttings", cuttingHandler.HandleList)
			r.Get("/cuttings/{id}", cuttingHandler.HandleGet)
			r.Patch("/cuttings/{id}", cuttingHandler.HandleRename)
			r.Delete("/cuttings/{id}", cuttingHandler.HandleDelete)
			r.Post("/cuttings/{id}/feedback", cuttingHandler.HandleFeedback)

			r.Get("/submission", submissionHandler.HandleGet)
			r.Put("/submission/file", submissionHandler.HandleSelect)
			r.Delete("/submission", submissionHandler.HandleReset)
			r.With(d.Limiter.Middleware("submission_run")).Post("/submission/run", submissionHandler.HandleRun)
			r.With(d.Limiter.Middleware("submissions")).Post("/submissions", submissionHandler.HandleSubmit)
		})
	})

	return r
}

// Server owns the HTTP server and every resource it opened.
type Server struct {
	router     http.Handler
	config     *config.Config
	logger     *slog.Logger
	store      *RecordStore
	workspaces *workspace.Manager
	limiter    *middleware.RateLimiter
	closeInfer func() error
}

// New opens the stores named in cfg and wires the whole application.
// Anything opened before a failure is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Server, err error) {
	var cleanup []func() error
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				_ = cleanup[i]()
			}
		}
	}()

	store, err := OpenRecordStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}
	cleanup = append(cleanup, store.Close)

	blobs, err := blob.NewStoreFromConfig(ctx, cfg.Blob())
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	analyzer, closeInfer, err := inference.NewAnalyzerFromConfig(ctx, cfg.Inference())
	if err != nil {
		return nil, fmt.Errorf("creating analyzer: %w", err)
	}
	cleanup = append(cleanup, closeInfer)

	secret, err := jwtSecret(cfg, logger)
	if err != nil {
		return nil, err
	}
	clk := clock.Real{}
	tokens, err := auth.NewTokenService(secret, cfg.SessionLifetime(), clk)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	var providers []auth.Provider
	if cfg.GoogleClientID != "" {
		providers = append(providers, auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CallbackURL("google")))
	}
	if cfg.GitHubClientID != "" {
		providers = append(providers, auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.CallbackURL("github")))
	}
	authService := service.NewAuthService(store.Users, tokens, auth.NewPasswordService(cfg.BcryptCost), logger, providers...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(reg)

	workspaces := workspace.NewManager(workspace.Deps{
		Cuttings: store.Cuttings,
		Blobs:    blobs,
		Analyzer: analyzer,
		Clock:    clk,
		Metrics:  recorder,
		Logger:   logger,
		IdleTTL:  cfg.IdleTTL(),
	})
	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.SubmitRatePerMinute), recorder, logger)

	var mediaDir string
	if fs, ok := blobs.(*blob.FileSystemStore); ok {
		mediaDir = fs.Root()
	}

	router := NewRouter(Deps{
		Auth:          authService,
		Tokens:        tokens,
		Workspaces:    workspaces,
		Limiter:       limiter,
		Gatherer:      reg,
		MediaDir:      mediaDir,
		SecureCookies: strings.HasPrefix(cfg.BaseURL, "https://"),
		Logger:        logger,
	})

	return &Server{
		router:     router,
		config:     cfg,
		logger:     logger,
		store:      store,
		workspaces: workspaces,
		limiter:    limiter,
		closeInfer: closeInfer,
	}, nil
}

// jwtSecret returns JWT_SECRET, or in development a random per-process
// secret so sessions simply end on restart.
func jwtSecret(cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret, nil
	}
	if cfg.Env == "production" {
		return "", errors.New("JWT_SECRET must be set in production")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	logger.Warn("JWT_SECRET not set; using a random secret, sessions end on restart")
	return hex.EncodeToString(buf), nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves HTTP until SIGINT/SIGTERM, then shuts down gracefully:
//  1. Stop accepting new connections
//  2. Wait up to 30s for in-flight requests (including submission runs)
//  3. Release every workspace, stop background loops, close the stores
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
		// A submission run waits for upload and inference.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go s.workspaces.Run(janitorCtx, sweepInterval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("recordStore", s.store.Kind()),
			slog.String("blobStore", s.config.BlobStore),
			slog.String("inference", s.config.InferenceProvider),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) close() {
	s.workspaces.Close()
	s.limiter.Stop()
	if err := s.closeInfer(); err != nil {
		s.logger.Warn("closing analyzer", slog.String("error", err.Error()))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing record store", slog.String("error", err.Error()))
	}
}
