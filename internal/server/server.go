// Package server assembles the components into a runnable process and
// coordinates their lifecycle: config, telemetry, registries, dispatcher,
// then transports on the way up; the reverse, with a drain window, on the
// way down.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpkit/mcpkit/internal/telemetry"
	"github.com/mcpkit/mcpkit/pkg/config"
	"github.com/mcpkit/mcpkit/pkg/dispatch"
	"github.com/mcpkit/mcpkit/pkg/events"
	"github.com/mcpkit/mcpkit/pkg/logging"
	"github.com/mcpkit/mcpkit/pkg/mcp"
	"github.com/mcpkit/mcpkit/pkg/middleware"
	"github.com/mcpkit/mcpkit/pkg/registry"
	"github.com/mcpkit/mcpkit/pkg/session"
	"github.com/mcpkit/mcpkit/pkg/transport"
)

// Option customizes server assembly.
type Option func(*Server)

// WithModules registers tool modules at startup.
func WithModules(modules ...mcp.ToolModule) Option {
	return func(s *Server) {
		s.modules = append(s.modules, modules...)
	}
}

// WithAuthenticator overrides the config-derived authenticator.
func WithAuthenticator(auth middleware.Authenticator) Option {
	return func(s *Server) {
		s.authenticator = auth
	}
}

// Server owns every long-lived component of the process.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	bus       *events.Bus
	telemetry *telemetry.Telemetry
	sessions  *session.Registry
	tools     *registry.Registry
	disp      *dispatch.Dispatcher
	sse       *transport.SSEHandler

	httpServer    *http.Server
	modules       []mcp.ToolModule
	authenticator middleware.Authenticator
	ready         atomic.Bool
}

// New builds all components in start order. Nothing listens yet; Run
// does that.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	s := &Server{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Server.Name,
		ServiceVersion: cfg.Server.Version,
		TracesEnabled:  cfg.Telemetry.TracesEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	s.telemetry = tel

	s.bus = events.NewBus()
	s.sessions = session.NewRegistry(s.bus, logging.WithComponent(logger, "session"))
	s.tools = registry.New(s.bus)

	for _, module := range s.modules {
		if _, err := s.tools.Register(module); err != nil {
			return nil, fmt.Errorf("registering tool module: %w", err)
		}
	}

	toolTimeouts := make(map[string]time.Duration, len(cfg.Timeouts.PerTool))
	for name, d := range cfg.Timeouts.PerTool {
		toolTimeouts[name] = d.Std()
	}
	s.disp = dispatch.New(s.tools, dispatch.Config{
		ServerInfo:     mcp.ServerInfo{Name: cfg.Server.Name, Version: cfg.Server.Version},
		DefaultTimeout: cfg.Timeouts.RequestDefault.Std(),
		ToolTimeouts:   toolTimeouts,
		HardKillFactor: cfg.Timeouts.HardKillFactor,
		Limits: dispatch.Limits{
			Global:          cfg.Limits.Global,
			PerTool:         cfg.Limits.PerTool,
			PerToolOverride: cfg.Limits.PerToolOverride,
			PerConnStream:   cfg.Limits.PerConnection,
			QueueDepth:      cfg.Limits.QueueDepth,
		},
	}, s.bus, logging.WithComponent(logger, "dispatch"), s.buildMiddlewares()...)

	// Per-connection slots are reclaimed on the close path itself; the
	// event bus stays informational and may drop under load.
	s.sessions.SetOnClose(func(connID string) {
		s.disp.Limiter().ForgetConnection(connID)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// buildMiddlewares assembles the pipeline in configured order.
func (s *Server) buildMiddlewares() []middleware.Middleware {
	var mws []middleware.Middleware
	for _, name := range s.cfg.Middleware.Order {
		switch name {
		case "logging":
			mws = append(mws, middleware.Logging(logging.WithComponent(s.logger, "rpc")))
		case "validation":
			mws = append(mws, middleware.Validation())
		case "ratelimit":
			mws = append(mws, middleware.RateLimit(middleware.RateLimitConfig{
				RatePerSecond: s.cfg.Middleware.RateLimit.RatePerSecond,
				Burst:         s.cfg.Middleware.RateLimit.Burst,
			}))
		case "auth":
			auth := s.authenticator
			if auth == nil && s.cfg.Middleware.Auth.Enabled {
				auth = &middleware.StaticTokenAuthenticator{
					Token:      s.cfg.Middleware.Auth.Token,
					BcryptHash: s.cfg.Middleware.Auth.BcryptHash,
				}
			}
			if auth != nil {
				mws = append(mws, middleware.Auth(auth))
			}
		case "metrics":
			mws = append(mws, middleware.Metrics(s.telemetry.Registry))
		}
	}
	return mws
}

// buildHandler wires the transports and operational endpoints onto one
// mux behind the CORS layer.
func (s *Server) buildHandler() http.Handler {
	topts := transport.Options{
		MaxRequestBytes:   s.cfg.Transport.MaxRequestBytes,
		PingInterval:      s.cfg.Transport.PingInterval.Std(),
		SessionHeader:     s.cfg.Transport.SessionHeader,
		MaxSSEConnections: s.cfg.Transport.MaxSSEConnections,
		MessagesPath:      s.cfg.Paths.Messages,
	}

	httpHandler := transport.NewHTTPHandler(s.sessions, s.disp, topts, logging.WithComponent(s.logger, "http"))
	wsHandler := transport.NewWSHandler(s.sessions, s.disp, topts, s.cfg.CORS.AllowedOrigins, logging.WithComponent(s.logger, "ws"))
	s.sse = transport.NewSSEHandler(s.sessions, s.disp, topts, logging.WithComponent(s.logger, "sse"))

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Paths.RPC, httpHandler)
	mux.Handle(s.cfg.Paths.WS, wsHandler)
	mux.Handle(s.cfg.Paths.SSE, s.sse)
	mux.HandleFunc(s.cfg.Paths.Messages, s.sse.HandleMessages)
	mux.HandleFunc("/health", s.handleHealth)
	if s.cfg.Telemetry.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(s.telemetry.Registry, promhttp.HandlerOpts{}))
	}

	return transport.CORS(s.cfg.CORS.AllowedOrigins, s.cfg.Transport.SessionHeader, mux)
}

// handleHealth is the liveness check: ok while the transports accept and
// the server is not draining.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := "ok"
	code := http.StatusOK
	if !s.ready.Load() || s.sessions.Draining() {
		status = "draining"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"connections": s.sessions.Count(),
		"sessions":    s.sessions.SessionCount(),
	})
}

// Ready reports whether all transports are accepting.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Tools exposes the tool registry, mainly for the CLI.
func (s *Server) Tools() *registry.Registry {
	return s.tools
}

// Bus exposes the event bus for external subscribers.
func (s *Server) Bus() *events.Bus {
	return s.bus
}

// Run starts the listener and blocks until the context is cancelled, a
// termination signal arrives, or the listener fails. A second signal
// during drain forces immediate close.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Give the listener a moment to fail if the port is taken.
	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server on %s: %w", s.cfg.Listen, err)
	case <-time.After(100 * time.Millisecond):
	}
	s.ready.Store(true)
	s.logger.Info("server listening",
		"addr", s.cfg.Listen,
		"rpc", s.cfg.Paths.RPC,
		"ws", s.cfg.Paths.WS,
		"sse", s.cfg.Paths.SSE,
	)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		s.logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	return s.shutdown(sigCh)
}

// shutdown drains in reverse start order.
func (s *Server) shutdown(sigCh <-chan os.Signal) error {
	s.ready.Store(false)
	s.disp.Drain()

	drainCtx, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()
	go func() {
		if sig, ok := <-sigCh; ok {
			s.logger.Warn("second signal, forcing shutdown", "signal", sig.String())
			cancelDrain()
			_ = s.httpServer.Close()
		}
	}()

	s.sessions.DrainAll(drainCtx, s.cfg.Timeouts.DrainGrace.Std())
	s.tools.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown error", "error", err)
	}
	if err := s.telemetry.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("telemetry shutdown error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}
