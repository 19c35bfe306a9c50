package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/devmesh/agent"
	"github.com/hupe1980/devmesh/audit"
	"github.com/hupe1980/devmesh/config"
	"github.com/hupe1980/devmesh/core"
	"github.com/hupe1980/devmesh/logging"
	"github.com/hupe1980/devmesh/observability"
	"github.com/hupe1980/devmesh/runner"
	"github.com/hupe1980/devmesh/session"
)

// ServiceName is reported by /health.
const ServiceName = "adk-ide"

// Options configures a Server. Runner and State are required.
type Options struct {
	Config    config.ServerConfig
	Runner    *runner.Runner
	State     *session.StateStore
	Artifacts core.ArtifactStore
	Audit     audit.Sink
	Metrics   *observability.Metrics
	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	Logger   logging.Logger

	// Orchestrator and Executor name the runner agents behind /orchestrate
	// and /execute.
	Orchestrator string
	Executor     string
}

// Server is the HTTP and WebSocket front end.
type Server struct {
	opts     Options
	engine   *gin.Engine
	upgrader websocket.Upgrader
	limiter  *clientLimiter
	logger   logging.Logger
	started  time.Time
}

// New builds a server and its routes.
func New(optFns ...func(o *Options)) (*Server, error) {
	opts := Options{
		Orchestrator: agent.OrchestratorName,
		Executor:     agent.CodeExecutionAgentName,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	if opts.State == nil {
		return nil, errors.New("server: state store is required")
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		opts:    opts,
		engine:  engine,
		limiter: newClientLimiter(opts.Config.RateLimit, opts.Config.RateBurst),
		logger:  logging.OrNoOp(opts.Logger),
		started: core.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	engine.Use(s.recovery(), s.observe())
	engine.Use(cors.New(corsConfig(opts.Config.CORSOrigins)))
	s.routes()
	return s, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	cfg.AllowWebSockets = true
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	if s.opts.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/", s.limiter.middleware())
	api.POST("/orchestrate", s.handleOrchestrate)
	api.POST("/execute", s.handleExecute)
	api.GET("/ws", s.handleWebSocket)

	sessions := api.Group("/session")
	{
		sessions.POST("/new", s.handleNewSession)
		sessions.GET("/:id", s.handleGetSession)
		sessions.DELETE("/:id", s.handleCloseSession)
		sessions.GET("/:id/artifacts", s.handleListArtifacts)
		sessions.GET("/:id/artifacts/:name", s.handleGetArtifact)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Config.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.start", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.opts.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	s.logger.Info("server.shutdown")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
