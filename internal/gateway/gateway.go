// ABOUTME: Gateway orchestrator that wires the streaming core behind an HTTP server
// ABOUTME: Manages store, sessions, conversation pipeline, metrics, and health endpoints lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mimrai-org/mimrai-sub005/internal/agent"
	"github.com/mimrai-org/mimrai-sub005/internal/artifact"
	"github.com/mimrai-org/mimrai-sub005/internal/auth"
	"github.com/mimrai-org/mimrai-sub005/internal/config"
	"github.com/mimrai-org/mimrai-sub005/internal/conversation"
	"github.com/mimrai-org/mimrai-sub005/internal/dedupe"
	"github.com/mimrai-org/mimrai-sub005/internal/executor"
	"github.com/mimrai-org/mimrai-sub005/internal/generation"
	"github.com/mimrai-org/mimrai-sub005/internal/mcp"
	"github.com/mimrai-org/mimrai-sub005/internal/metrics"
	"github.com/mimrai-org/mimrai-sub005/internal/session"
	"github.com/mimrai-org/mimrai-sub005/internal/store"
	"github.com/mimrai-org/mimrai-sub005/internal/tools"
	"github.com/mimrai-org/mimrai-sub005/internal/triage"
)

// Gateway orchestrates the mimrai-gateway server components.
// It owns the store, the session manager, and the HTTP server that exposes
// the chat API.
type Gateway struct {
	config       *config.Config
	store        store.Store
	sessions     *session.Manager
	conversation *conversation.Service
	codec        *artifact.Codec
	claims       *dedupe.Cache[*session.Session]
	tools        *tools.Registry
	httpServer   *http.Server
	handler      http.Handler
	logger       *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option customizes collaborators that New would otherwise build from config.
type Option func(*options)

type options struct {
	store     store.Store
	generator executor.Generator
	catalog   tools.Catalog
	version   string
}

// WithStore uses s instead of opening the configured SQLite database.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithGenerator uses gen instead of the configured generation provider.
func WithGenerator(gen executor.Generator) Option {
	return func(o *options) { o.generator = gen }
}

// WithCatalog backs the workspace tools with c. The default is an empty
// in-memory catalog.
func WithCatalog(c tools.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("MIMRAI_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initRecorder returns a Prometheus recorder when metrics are enabled.
func initRecorder(cfg *config.Config) (metrics.Recorder, http.Handler) {
	if !cfg.Metrics.Enabled {
		return metrics.Nop(), nil
	}
	prom := metrics.NewPrometheusRecorder()
	return prom, prom.Handler()
}

// initVerifier returns the JWT verifier, or nil when auth is disabled.
func initVerifier(cfg *config.Config, logger *slog.Logger) auth.TokenVerifier {
	if !cfg.Auth.Enabled() {
		logger.Warn("HTTP auth disabled - no jwt_secret configured", "public_scope", cfg.Auth.PublicScope)
		return nil
	}
	logger.Info("HTTP auth middleware enabled")
	return auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
}

// buildToolRegistry registers the builtin tool packs.
func buildToolRegistry(catalog tools.Catalog, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger.With("component", "tool-registry"))
	if err := registry.RegisterPack(tools.WorkspacePack(catalog)); err != nil {
		return nil, fmt.Errorf("registering workspace pack: %w", err)
	}
	return registry, nil
}

// newMCPServer exposes every registered tool to external agents. Unlike the
// chat executor, MCP callers are not bound to one agent's tool list.
func newMCPServer(cfg *config.Config, registry *tools.Registry, version string, logger *slog.Logger) (*mcp.Server, error) {
	server, err := mcp.NewServer(mcp.Config{
		Tools: registry,
		Invoker: tools.NewRouter(tools.RouterConfig{
			Registry: registry,
			Logger:   logger,
			Timeout:  cfg.Executor.ToolTimeout,
		}),
		Logger:     logger,
		SessionTTL: cfg.MCP.SessionTTL,
		Version:    version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}
	return server, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := o.store
	if s == nil {
		var err error
		if s, err = initStore(cfg); err != nil {
			return nil, err
		}
	}

	gw, err := newGateway(cfg, s, o, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

func newGateway(cfg *config.Config, s store.Store, o options, logger *slog.Logger) (*Gateway, error) {
	recorder, metricsHandler := initRecorder(cfg)

	agents := agent.NewDefaultRegistry(logger.With("component", "agent-registry"))

	router, err := triage.NewRouter(triage.Config{
		ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
		Fallback:            agent.Kind(cfg.Routing.FallbackAgent),
		HistoryTurns:        cfg.Routing.HistoryTurns,
	}, agents, recorder, logger.With("component", "triage"))
	if err != nil {
		return nil, fmt.Errorf("creating agent router: %w", err)
	}

	catalog := o.catalog
	if catalog == nil {
		catalog = tools.NewMemoryCatalog()
	}
	toolRegistry, err := buildToolRegistry(catalog, logger)
	if err != nil {
		return nil, err
	}
	toolRouter := tools.NewRouter(tools.RouterConfig{
		Registry: toolRegistry,
		Agents:   agents,
		Logger:   logger,
		Timeout:  cfg.Executor.ToolTimeout,
	})

	generator := o.generator
	if generator == nil {
		generator, err = generation.New(generation.Settings{
			Provider:  cfg.Generation.Provider,
			Model:     cfg.Generation.Model,
			APIKey:    cfg.Generation.APIKey,
			MaxTokens: cfg.Generation.MaxTokens,
			BaseURL:   cfg.Generation.BaseURL,
		}, logger.With("component", "generation"))
		if err != nil {
			return nil, fmt.Errorf("creating generator: %w", err)
		}
	}

	codec := artifact.NewCodec()
	exec := executor.New(executor.Config{MaxRounds: cfg.Executor.MaxRounds},
		generator, toolRouter, codec, recorder, logger)

	sessions := session.NewManager(session.Config{
		Namespace:     cfg.Streams.Namespace,
		Retention:     cfg.Streams.Retention,
		SweepInterval: cfg.Streams.SweepInterval,
	},
		session.WithJournal(s),
		session.WithRecorder(recorder),
		session.WithLogger(logger),
	)

	claims := dedupe.New[*session.Session](cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)

	convService := conversation.New(conversation.Config{
		Sessions:     sessions,
		Router:       router,
		Agents:       agents,
		Executor:     exec,
		History:      s,
		Claims:       claims,
		HistoryLimit: cfg.Executor.HistoryLimit,
		Logger:       logger,
	})

	gw := &Gateway{
		config:       cfg,
		store:        s,
		sessions:     sessions,
		conversation: convService,
		codec:        codec,
		claims:       claims,
		tools:        toolRegistry,
		logger:       logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	if metricsHandler != nil {
		mux.Handle("GET "+cfg.Metrics.Path, metricsHandler)
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	// Schemas describe the wire format and are public
	mux.HandleFunc("GET /api/artifacts/{type}/schema", gw.handleArtifactSchema)

	// Chat endpoints - scoped by the auth middleware
	authMiddleware := auth.HTTPAuthMiddleware(initVerifier(cfg, gw.logger), cfg.Auth.PublicScope)
	mux.Handle("POST /api/chat", authMiddleware(http.HandlerFunc(gw.handleChat)))
	mux.Handle("GET /api/chat/{conversationId}/stream", authMiddleware(http.HandlerFunc(gw.handleResume)))
	mux.Handle("DELETE /api/chat/{conversationId}/stream", authMiddleware(http.HandlerFunc(gw.handleAbort)))
	mux.Handle("GET /api/chat/{conversationId}/history", authMiddleware(http.HandlerFunc(gw.handleHistory)))

	if cfg.MCP.Enabled {
		mcpServer, err := newMCPServer(cfg, toolRegistry, o.version, logger)
		if err != nil {
			return nil, err
		}
		mux.Handle(cfg.MCP.Path, authMiddleware(mcpServer))
		logger.Info("MCP endpoint enabled", "path", cfg.MCP.Path)
	}

	gw.handler = otelhttp.NewHandler(mux, "mimrai-gateway")

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the instrumented HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Run starts the HTTP server and the session expiry sweep, and blocks until
// the context is canceled. Returns nil on graceful shutdown, or an error if
// the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go g.sessions.Run(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown aborts running turns, stops the HTTP server, waits for turns to
// persist their replies, and releases resources. Later calls return the
// result of the first.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		// Sealing every stream first lets attached SSE responses finish with End.
		errs = appendCloseError(errs, "session manager close", g.sessions.Close())
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		g.conversation.Wait()
		g.claims.Close()
		errs = appendCloseError(errs, "store close", g.store.Close())

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tool packs)", len(g.tools.ListPacks()))
}
