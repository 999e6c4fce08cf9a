// Package server runs the Folio HTTP server: it owns the DefraDB
// container lifecycle, wires the synthesis and ingest services, and
// exposes them through the endpoint registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/dedup"
	"github.com/jackzampolin/folio/internal/defra"
	"github.com/jackzampolin/folio/internal/embedding"
	"github.com/jackzampolin/folio/internal/events"
	"github.com/jackzampolin/folio/internal/factcheck"
	"github.com/jackzampolin/folio/internal/gaps"
	"github.com/jackzampolin/folio/internal/gateway"
	"github.com/jackzampolin/folio/internal/home"
	"github.com/jackzampolin/folio/internal/images"
	"github.com/jackzampolin/folio/internal/ingest"
	"github.com/jackzampolin/folio/internal/llmcall"
	"github.com/jackzampolin/folio/internal/metrics"
	"github.com/jackzampolin/folio/internal/providers"
	"github.com/jackzampolin/folio/internal/relevance"
	"github.com/jackzampolin/folio/internal/retrieval"
	"github.com/jackzampolin/folio/internal/schema"
	"github.com/jackzampolin/folio/internal/server/endpoints"
	"github.com/jackzampolin/folio/internal/svcctx"
	"github.com/jackzampolin/folio/internal/synthesis"
	"github.com/jackzampolin/folio/internal/tasks"
)

// Server is the main Folio HTTP server.
// It manages the DefraDB container lifecycle - starting it on server
// start and stopping it on server shutdown.
type Server struct {
	httpServer   *http.Server
	defraManager *defra.DockerManager
	defraClient  *defra.Client
	defraSink    *defra.Sink
	registry     *providers.Registry
	gw           *gateway.Gateway
	runner       *tasks.Runner
	configMgr    *config.Manager
	homeDir      *home.Dir
	workers      int
	logger       *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// DefraDataPath is the path to persist DefraDB data
	DefraDataPath string
	// DefraConfig holds DefraDB container settings
	DefraConfig defra.DockerConfig
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home is the folio data directory
	Home *home.Dir
	// Workers sets the task pool size (default: tasks.DefaultWorkers)
	Workers int
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}

	if cfg.DefraDataPath != "" {
		cfg.DefraConfig.DataPath = cfg.DefraDataPath
	}

	defraManager, err := defra.NewDockerManager(cfg.DefraConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create defra manager: %w", err)
	}

	var registryCfg providers.RegistryConfig
	if cfg.ConfigManager != nil {
		registryCfg = cfg.ConfigManager.Get().ToProviderRegistryConfig()
	}
	registry, err := providers.NewRegistry(registryCfg, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider registry: %w", err)
	}

	s := &Server{
		defraManager: defraManager,
		registry:     registry,
		configMgr:    cfg.ConfigManager,
		homeDir:      cfg.Home,
		logger:       cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{
		DefraManager:    defraManager,
		SwaggerSpecPath: endpoints.GetSwaggerSpecPath(),
	}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: s.withServices(mux),
		// No WriteTimeout: the events endpoint holds connections open.
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	s.workers = cfg.Workers

	return s, nil
}

// Start starts the server and DefraDB.
// It blocks until the context is cancelled or an error occurs.
// If an existing DefraDB container exists, it validates the
// configuration matches.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	// Validate any existing container matches our config
	if err := s.defraManager.ValidateExisting(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("existing DefraDB container incompatible: %w", err)
	}

	// Start DefraDB
	s.logger.Info("starting DefraDB")
	if err := s.defraManager.Start(ctx); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to start DefraDB: %w", err)
	}

	// Create client after DefraDB is up
	s.defraClient = defra.NewClient(s.defraManager.URL())

	// Verify DefraDB is healthy
	if err := s.defraClient.HealthCheck(ctx); err != nil {
		_ = s.shutdown() // Clean up DefraDB on failure
		return fmt.Errorf("DefraDB health check failed: %w", err)
	}
	s.logger.Info("DefraDB is ready", "url", s.defraManager.URL())

	// Initialize schemas
	s.logger.Info("initializing schemas")
	if err := schema.Initialize(ctx, s.defraClient, s.logger); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	s.buildServices(ctx)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown() // Clean up DefraDB on HTTP error
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// buildServices wires the full service graph once DefraDB is up and
// schemas are registered.
func (s *Server) buildServices(ctx context.Context) {
	appCfg := &config.Config{}
	if s.configMgr != nil {
		appCfg = s.configMgr.Get()
	}

	// Write sink batches Metric and LLMCall records off the hot path.
	s.defraSink = defra.NewSink(defra.SinkConfig{
		Client: s.defraClient,
		Logger: s.logger,
	})
	s.defraSink.Start(ctx)

	recorder := gateway.MultiRecorder{
		metrics.NewRecorder(s.defraSink),
		llmcall.NewRecorder(s.defraSink),
	}
	s.gw = gateway.New(s.registry, appCfg.ToGatewayConfig(), recorder, s.logger)

	if s.configMgr != nil {
		s.configMgr.OnChange(func(c *config.Config) {
			if err := s.registry.Reload(c.ToProviderRegistryConfig()); err != nil {
				s.logger.Error("provider registry reload failed", "error", err)
				return
			}
			s.gw.UpdateConfig(c.ToGatewayConfig())
			s.logger.Info("provider registry reloaded from config")
		})
	}

	hub := events.NewHub()

	taskStore := tasks.NewStore(s.defraClient, s.logger)
	workers := s.workers
	if workers <= 0 {
		workers = tasks.DefaultWorkers
	}
	s.runner = tasks.NewRunner(taskStore, hub, workers, s.logger)
	s.runner.Start(ctx)

	chapters := embedding.NewStore(s.defraClient)
	pipeline := embedding.NewPipeline(chapters, s.gw, appCfg.Synthesis.EmbeddingDimensionality, s.logger)

	processor := ingest.NewProcessor(s.defraClient, s.gw, s.homeDir, s.logger)
	processor.OnChapter = func(ctx context.Context, chapterID string) error {
		return pipeline.ProcessChapter(ctx, chapterID)
	}

	internal := retrieval.NewInternalSearcher(chapters, s.gw, s.logger)
	pubmed := retrieval.NewPubMedClient(
		appCfg.External.PubMedBaseURL,
		appCfg.External.MaxResults,
		appCfg.External.RecencyYears,
		appCfg.External.CacheTTL(),
	)
	external := retrieval.NewExternalSearcher(pubmed, retrieval.NewAIResearcher(s.gw), s.logger)
	deduper := dedup.New(s.gw, s.logger)
	relFilter := relevance.New(s.gw, s.logger)
	applySynthesisOptions(appCfg.Synthesis, deduper, relFilter, internal, external)

	documents := synthesis.NewDocumentStore(s.defraClient, s.logger)
	orchestrator := synthesis.New(synthesis.Deps{
		Documents:   documents,
		Checkpoints: synthesis.NewCheckpointStore(s.defraClient),
		Gateway:     s.gw,
		Internal:    internal,
		External:    external,
		Deduper:     deduper,
		Relevance:   relFilter,
		Gaps:        gaps.New(s.gw, s.logger),
		FactCheck:   factcheck.New(s.gw, s.logger),
		Images:      images.NewCatalog(chapters, s.homeDir, s.logger),
		Hub:         hub,
		Config:      appCfg.Synthesis,
		Logger:      s.logger,
	})

	s.services = &svcctx.Services{
		DefraClient:  s.defraClient,
		DefraSink:    s.defraSink,
		Gateway:      s.gw,
		Registry:     s.registry,
		Runner:       s.runner,
		TaskStore:    taskStore,
		Documents:    documents,
		Orchestrator: orchestrator,
		Chapters:     chapters,
		Processor:    processor,
		Hub:          hub,
		ConfigStore:  config.NewStore(s.defraClient),
		Logger:       s.logger,
		Home:         s.homeDir,
		MetricsQuery: metrics.NewQuery(s.defraClient),
		LLMCallStore: llmcall.NewStore(s.defraClient),
	}
}

// applySynthesisOptions overrides retrieval, dedup, and relevance
// defaults with configured values. Unset fields keep the constructor
// defaults so a zero-value config stays usable.
func applySynthesisOptions(cfg config.SynthesisCfg, deduper *dedup.Deduper, filter *relevance.Filter, internal *retrieval.InternalSearcher, external *retrieval.ExternalSearcher) {
	if cfg.DedupStrategy != "" {
		deduper.Strategy = cfg.DedupStrategy
	}
	if cfg.DedupThreshold > 0 {
		deduper.Threshold = cfg.DedupThreshold
	}
	if cfg.AIRelevanceThreshold > 0 {
		filter.Threshold = cfg.AIRelevanceThreshold
	}
	if cfg.InternalQueryParallelism > 0 {
		internal.Parallelism = cfg.InternalQueryParallelism
	}
	if cfg.ExternalResearchStrategy != "" {
		external.Strategy = cfg.ExternalResearchStrategy
		external.Parallel = cfg.ExternalResearchParallel
	}
}

// shutdown performs graceful shutdown of the HTTP server, worker pool,
// write sink, and DefraDB.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Drain in-flight tasks before the database goes away.
	if s.runner != nil {
		s.runner.Wait()
	}
	if s.defraSink != nil {
		s.defraSink.Stop()
	}

	// Stop DefraDB
	s.logger.Info("stopping DefraDB")
	if err := s.defraManager.Stop(shutdownCtx); err != nil {
		s.logger.Error("DefraDB stop error", "error", err)
	}

	// Close Docker client
	if err := s.defraManager.Close(); err != nil {
		s.logger.Error("DefraDB manager close error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// DefraClient returns the DefraDB client.
// Returns nil if the server hasn't started yet.
func (s *Server) DefraClient() *defra.Client {
	return s.defraClient
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully
// initialized. Returns 503 Service Unavailable until the service graph
// is built.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.defraClient == nil || s.services == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
