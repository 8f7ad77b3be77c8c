package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/conductor-dev/conductor/agent"
	"github.com/conductor-dev/conductor/api"
	"github.com/conductor-dev/conductor/config"
	"github.com/conductor-dev/conductor/db"
	"github.com/conductor-dev/conductor/log"
	"github.com/conductor-dev/conductor/notifications"
	"github.com/conductor-dev/conductor/orchestrator"
	"github.com/conductor-dev/conductor/repo"
	"github.com/conductor-dev/conductor/session"
	"github.com/conductor-dev/conductor/usage"
	"github.com/conductor-dev/conductor/worktree"
)

// Server owns and coordinates all application components
type Server struct {
	cfg *config.Config

	// Components (owned by server)
	database *db.DB
	store    *session.Store
	repos    *repo.Registry
	hub      *notifications.Hub
	orch     *orchestrator.Orchestrator
	watcher  *session.Watcher

	// Shutdown context - cancelled when the server is shutting down.
	// Long-running handlers (WebSocket) listen to this.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	// HTTP
	router *gin.Engine
	http   *http.Server
}

// New creates a server with all components initialized, in dependency
// order: storage first, then the orchestrator, then HTTP.
func New(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}

	log.Info().Msg("initializing usage database")
	database, err := db.Open(db.Config{Path: cfg.DatabasePath})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.database = database

	store, err := session.NewStore(cfg.SessionsDir())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	s.store = store

	repos, err := repo.LoadRegistry(cfg.RegistryPath())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load repository registry: %w", err)
	}
	s.repos = repos

	s.hub = notifications.NewHub()

	trees := worktree.NewController()
	runner := agent.NewSupervisor(cfg.AgentBinary, cfg.AgentModel, agent.PermissionMode(cfg.PermissionMode), cfg.AgentExtraEnv)
	ledger := usage.NewLedger(database)

	s.orch = orchestrator.New(cfg, store, repos, trees, runner, ledger, s.hub)

	// Loading after the orchestrator exists lets its validator repair
	// stale worktree references as records come off disk
	loaded, err := store.LoadAll(s.orch.ValidateLoadedSession)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	log.Info().Int("count", loaded).Msg("sessions loaded")
	s.orch.ReconcileWorktrees()

	s.watcher = session.NewWatcher(store, s.orch.NotifySessionState)

	s.setupRouter()

	log.Info().Msg("server initialized successfully")
	return s, nil
}

// setupRouter creates and configures the Gin router
func (s *Server) setupRouter() {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(log.GinLogger())

	// CORS for development
	if s.cfg.IsDevelopment() {
		s.router.Use(s.corsMiddleware())
	}

	// Security headers (production only)
	if !s.cfg.IsDevelopment() {
		s.router.Use(s.securityHeadersMiddleware())
	}

	// Gzip compression (skip WebSocket endpoints)
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{
		`^/api/subscribe$`,
		`^/api/sessions/[^/]+/subscribe$`,
	})))

	s.router.SetTrustedProxies(nil)

	api.RegisterRoutes(s.router, api.NewHandlers(s.orch, s.repos, s.hub))
}

// corsMiddleware handles CORS for development environments
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:5173": true,
			"http://localhost:7777": true,
		}

		if allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// securityHeadersMiddleware adds security headers for production
func (s *Server) securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "SAMEORIGIN")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		c.Next()
	}
}

// Start starts background services and the HTTP server (blocks).
func (s *Server) Start() error {
	log.Info().Msg("starting server components")

	if s.watcher != nil {
		s.watcher.Start(s.shutdownCtx)
	}
	s.orch.StartReaper()

	s.http = &http.Server{
		Addr:     fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:  s.router,
		ErrorLog: log.StdErrorLogger(),
	}

	log.Info().
		Str("addr", s.http.Addr).
		Bool("development", s.cfg.IsDevelopment()).
		Msg("HTTP server starting")

	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	// Signal long-running handlers first so websockets close before
	// the HTTP server does
	s.shutdownCancel()
	time.Sleep(100 * time.Millisecond)

	s.hub.Shutdown()

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// Agent processes get a grace period before being killed
	s.orch.Shutdown(ctx)

	if s.database != nil {
		if err := s.database.Close(); err != nil {
			log.Error().Err(err).Msg("database close error")
			return err
		}
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

// Orchestrator exposes the command surface for embedding callers.
func (s *Server) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Router exposes the HTTP mux, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }
