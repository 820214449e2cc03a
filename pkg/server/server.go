package server

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/gateway"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/security/auth"
	tlsconf "github.com/jeffersonwarrior/aimux-sub000/pkg/security/tls"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/storage"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/health"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/metrics"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/telemetry/tracing"
)

// Server is the HTTP front of the gateway.
type Server struct {
	config      config.ServerConfig
	manager     *gateway.Manager
	checker     *health.Checker
	exporter    *metrics.Exporter
	metricsPath string
	tracer      *tracing.Tracer
	store       storage.Store
	snapshots   *storage.Scheduler
	version     health.VersionInfo
	logger      *zap.Logger
	upgrader    websocket.Upgrader
	adminAuth   *auth.Middleware
	httpServer  *http.Server

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// Option configures a Server.
type Option func(*Server)

// WithChecker replaces the default readiness checker.
func WithChecker(c *health.Checker) Option {
	return func(s *Server) {
		if c != nil {
			s.checker = c
		}
	}
}

// WithExporter serves the exporter's registry on path ("/metrics" when
// empty).
func WithExporter(e *metrics.Exporter, path string) Option {
	return func(s *Server) {
		s.exporter = e
		if path != "" {
			s.metricsPath = path
		}
	}
}

// WithTracer opens a server span for every request.
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Server) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithSnapshots enables the /admin/snapshots routes.
func WithSnapshots(store storage.Store, scheduler *storage.Scheduler) Option {
	return func(s *Server) {
		s.store = store
		s.snapshots = scheduler
	}
}

// WithVersion sets the build information served on /version.
func WithVersion(info health.VersionInfo) Option {
	return func(s *Server) {
		s.version = info
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server for manager. Zero-valued fields of cfg take the
// configuration defaults.
func New(cfg config.ServerConfig, manager *gateway.Manager, opts ...Option) *Server {
	s := &Server{
		config:      cfg,
		manager:     manager,
		tracer:      tracing.Noop(),
		metricsPath: config.DefaultMetricsPath,
		version:     health.NewVersionInfo("dev", "none", "unknown"),
		logger:      zap.NewNop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.checker == nil {
		s.checker = health.New(0)
		RegisterGatewayChecks(s.checker, manager)
	}
	s.logger = s.logger.Named("server")
	s.applyDefaults()
	if len(s.config.AdminKeys) > 0 {
		s.adminAuth = auth.NewMiddleware(
			auth.NewValidator(s.config.AdminKeys),
			auth.DefaultSources(),
			s.logger,
			func(w http.ResponseWriter, _ *http.Request, err error) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			},
		)
	}
	return s
}

func (s *Server) applyDefaults() {
	if s.config.ListenAddress == "" {
		s.config.ListenAddress = config.DefaultListenAddress
	}
	if s.config.ReadTimeout == 0 {
		s.config.ReadTimeout = config.DefaultReadTimeout
	}
	if s.config.WriteTimeout == 0 {
		s.config.WriteTimeout = config.DefaultWriteTimeout
	}
	if s.config.IdleTimeout == 0 {
		s.config.IdleTimeout = config.DefaultIdleTimeout
	}
	if s.config.ShutdownTimeout == 0 {
		s.config.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	if s.config.MaxHeaderBytes == 0 {
		s.config.MaxHeaderBytes = config.DefaultMaxHeaderBytes
	}
	if s.config.MaxBodyBytes == 0 {
		s.config.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
}

// RegisterGatewayChecks adds the standard readiness checks: the gateway must
// be initialized (critical) and at least one provider should be healthy.
func RegisterGatewayChecks(c *health.Checker, manager *gateway.Manager) {
	c.Register("gateway", true, func(context.Context) error {
		if !manager.Initialized() {
			return errors.New("gateway not initialized")
		}
		return nil
	})
	c.Register("providers", false, func(context.Context) error {
		m := manager.Metrics()
		if m.TotalProviders == 0 {
			return errors.New("no providers configured")
		}
		if m.HealthyProviders == 0 {
			return fmt.Errorf("0 of %d providers healthy", m.TotalProviders)
		}
		return nil
	})
}

// Start serves until ctx is cancelled or the listener fails, then shuts
// down gracefully. With TLS enabled the certificate is reloaded from disk
// while the server runs.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	if s.config.TLS.Enabled {
		tlsConfig, reloader, err := tlsconf.Build(s.config.TLS, s.logger)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		if err := reloader.Start(ctx); err != nil {
			ln.Close()
			return fmt.Errorf("failed to start certificate reloader: %w", err)
		}
		ln = cryptotls.NewListener(ln, tlsConfig)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		MaxHeaderBytes:    s.config.MaxHeaderBytes,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting gateway server", zap.String("address", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown gracefully stops the server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		httpServer := s.httpServer
		running := s.isRunning
		s.mu.RUnlock()
		if !running || httpServer == nil {
			return
		}

		s.logger.Info("initiating graceful shutdown", zap.Duration("timeout", s.config.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", zap.Error(err))
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("gateway server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery(s.logger))
	r.Use(RequestID)
	r.Use(s.tracer.HTTPMiddleware)
	r.Use(Logging(s.logger))

	r.Get("/health", s.checker.LivenessHandler())
	r.Method(http.MethodGet, "/ready", health.RateLimited(s.checker.ReadinessHandler(), readinessRateLimit))
	r.Get("/version", health.VersionHandler(s.version))
	if s.exporter != nil {
		r.Method(http.MethodGet, s.metricsPath, s.exporter.Handler())
	}
	r.With(s.requireAdmin).Get("/ws/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.WriteTimeout))
		r.Use(MaxBody(s.config.MaxBodyBytes))

		r.Post("/v1/messages", s.handleMessages)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Get("/config", s.handleConfig)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/metrics/recent", s.handleRecent)
			r.Get("/errors", s.handleErrors)
			r.Get("/providers", s.handleProviders)
			r.Post("/providers/{name}/healthy", s.handleMark(true))
			r.Post("/providers/{name}/unhealthy", s.handleMark(false))
			r.Post("/debug/route", s.handleDebugRoute)

			if s.store != nil {
				r.Get("/snapshots", s.handleListSnapshots)
				r.Get("/snapshots/{id}", s.handleGetSnapshot)
				if s.snapshots != nil {
					r.Post("/snapshots", s.handleTakeSnapshot)
				}
			}
		})
	})

	return r
}

// requireAdmin applies admin key authentication when keys are configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	if s.adminAuth == nil {
		return next
	}
	return s.adminAuth.Handle(next)
}

// readinessRateLimit caps /ready requests per second.
const readinessRateLimit = 20

// eventWriteTimeout bounds one websocket write.
const eventWriteTimeout = 5 * time.Second
