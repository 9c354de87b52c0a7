package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/liamcoop/ruleengine/internal/config"
	"github.com/liamcoop/ruleengine/internal/logger"
	"github.com/liamcoop/ruleengine/internal/telemetry"
	"github.com/liamcoop/ruleengine/multitenantengine"
	"github.com/liamcoop/ruleengine/rules"
)

// defaultTenant names the single tenant served by the embedded and file sources
const defaultTenant = "default"

type Server struct {
	cfg           *config.Config
	db            *sql.DB
	engineManager *multitenantengine.Manager
	defaultTenant string
	collector     *telemetry.Collector
	logger        *slog.Logger
	cron          *cron.Cron
	router        *chi.Mux
	startedAt     time.Time

	cacheSweeps  atomic.Int64
	entriesSwept atomic.Int64
}

// NewServer builds the tenant engines for the configured rule source and
// wires routes and housekeeping. The cron scheduler is not started.
func NewServer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    log,
		startedAt: time.Now(),
	}

	registry := prometheus.NewRegistry()
	s.collector = telemetry.NewCollector(telemetry.Config{
		Namespace: cfg.Metrics.Namespace,
		Subsystem: cfg.Metrics.Subsystem,
	}, registry)

	opts := []rules.Option{
		rules.WithMetrics(s.collector),
		rules.WithLimits(rules.StaticLimits(cfg.Limits)),
		rules.WithCacheConfig(rules.CacheConfig{TTL: *cfg.Rules.CacheTTL}),
	}

	switch cfg.Rules.Source {
	case config.SourcePostgres:
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		s.defaultTenant = cfg.Rules.TenantID
		s.engineManager = multitenantengine.NewManager(db, nil, log, opts...)

		log.Info("Loading tenants from database...")
		loaded, err := s.engineManager.LoadAllTenants(ctx)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load tenants: %w", err)
		}
		log.Info("Tenants loaded", "count", loaded, "tenants", s.engineManager.ListTenants())

	default:
		store, err := openLocalStore(cfg.Rules)
		if err != nil {
			return nil, err
		}
		s.defaultTenant = defaultTenant
		s.engineManager = multitenantengine.NewManager(nil, func(string) (rules.RuleStore, error) {
			return store, nil
		}, log, opts...)
		if err := s.engineManager.CreateTenant(ctx, defaultTenant); err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		log.Info("Rules loaded", "source", cfg.Rules.Source, "file", cfg.Rules.File)
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		telemetry.NewPerformanceCollector(telemetry.Config{Namespace: cfg.Metrics.Namespace}, defaultPerformance{s}),
	)

	if err := s.setupHousekeeping(); err != nil {
		s.Close()
		return nil, err
	}
	s.setupRoutes()
	return s, nil
}

// openLocalStore reads rules from the embedded default set or a YAML file
func openLocalStore(cfg config.RulesConfig) (rules.RuleStore, error) {
	if cfg.Source != config.SourceFile {
		return rules.NewDefaultRuleStore()
	}

	f, err := os.Open(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	ruleSet, err := rules.LoadRulesYAML(f)
	if err != nil {
		return nil, err
	}
	return rules.NewInMemoryRuleStore(ruleSet...)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Post("/pricing", s.handlePricing)
		r.Post("/compliance", s.handleCompliance)
		r.Post("/access", s.handleAccess)
		r.Post("/features", s.handleFeatures)
		r.Post("/content", s.handleContent)

		r.Get("/rules", s.handleListRules)
		r.Get("/rules/{ruleId}", s.handleGetRule)
		r.Patch("/rules/{ruleId}", s.handleUpdateRule)

		r.Get("/performance", s.handlePerformance)
		r.Get("/stats", s.handleStats)

		r.Get("/tenants", s.handleListTenants)
		r.Post("/tenants/{tenantId}/reload", s.handleReloadTenant)
	})

	if s.cfg.Metrics.MetricsEnabled() {
		r.Handle("/metrics", s.collector.Handler())
	}

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request and feeds the status and slow-request counters
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.CountHTTPStatus(status)
		if elapsed > s.cfg.Server.SlowRequestThreshold {
			logger.CountSlowRequest()
		}

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Close stops housekeeping, every tenant engine and the database
func (s *Server) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	var errs []error
	if err := s.engineManager.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML configuration file")
	flag.Parse()

	log := logger.Setup(context.Background(), logger.ConfigFromEnv())

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(log, "Invalid configuration", "error", err)
	}

	server, err := NewServer(context.Background(), cfg, log)
	if err != nil {
		logger.Fatal(log, "Failed to create server", "error", err)
	}
	server.cron.Start()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown handling
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port, "rule_source", cfg.Rules.Source)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(log, "Server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server shutdown error", "error", err)
	}
	if err := server.Close(); err != nil {
		log.Error("Failed to release engines", "error", err)
	}
	log.Info("Server stopped")
	_ = logger.Shutdown(ctx)
}
