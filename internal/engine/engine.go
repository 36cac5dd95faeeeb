package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/redbco/redb-search/internal/cache"
	"github.com/redbco/redb-search/internal/index"
	"github.com/redbco/redb-search/internal/search"
	"github.com/redbco/redb-search/pkg/config"
	"github.com/redbco/redb-search/pkg/database"
	"github.com/redbco/redb-search/pkg/health"
	"github.com/redbco/redb-search/pkg/logger"
)

// SessionBinder binds a request to a tenant-scoped database session.
type SessionBinder interface {
	Bind(ctx context.Context, tenantID int64, write bool) (*database.Session, error)
}

// Engine is the HTTP surface of the search service.
type Engine struct {
	config     *config.Config
	server     *http.Server
	binder     SessionBinder
	search     *search.Service
	replicator *index.Replicator
	tracker    *cache.WriteTracker
	checker    *health.Checker
	healthFns  map[string]health.CheckFunc
	logger     *logger.Logger

	state struct {
		sync.Mutex
		isRunning bool
	}
	metrics struct {
		requestsProcessed int64
		errors            int64
	}
}

// NewEngine wires the request surface over the core services.
func NewEngine(cfg *config.Config, binder SessionBinder, searchSvc *search.Service, replicator *index.Replicator, tracker *cache.WriteTracker, log *logger.Logger) *Engine {
	return &Engine{
		config:     cfg,
		binder:     binder,
		search:     searchSvc,
		replicator: replicator,
		tracker:    tracker,
		checker:    health.NewChecker(),
		healthFns:  make(map[string]health.CheckFunc),
		logger:     log,
	}
}

// RegisterHealthCheck adds a named reachability check reported by /health.
func (e *Engine) RegisterHealthCheck(name string, fn health.CheckFunc) {
	e.healthFns[name] = fn
}

// Start begins serving HTTP requests.
func (e *Engine) Start(ctx context.Context) error {
	e.state.Lock()
	if e.state.isRunning {
		e.state.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.state.isRunning = true
	e.state.Unlock()

	router := mux.NewRouter()

	// Health stays outside the tenant middleware: it must answer even for
	// callers with no tenant binding.
	router.HandleFunc("/health", e.HealthHandler).Methods(http.MethodGet)

	api := router.PathPrefix("/").Subrouter()
	api.Use(e.LoggingMiddleware)
	api.Use(e.TenantMiddleware)
	api.HandleFunc("/search", e.SearchHandler).Methods(http.MethodGet)
	api.HandleFunc("/index", e.IndexHandler).Methods(http.MethodPost)
	api.HandleFunc("/index", e.RemoveHandler).Methods(http.MethodDelete)

	port := e.config.GetWithDefault("server.port", "3000")
	e.server = &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	e.logger.Infof("Search service listening on port %s", port)

	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Errorf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (e *Engine) Stop(ctx context.Context) error {
	e.state.Lock()
	defer e.state.Unlock()
	if !e.state.isRunning {
		return nil
	}
	e.state.isRunning = false

	e.logger.Info("Shutting down HTTP server")
	if err := e.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

// RequestsProcessed returns the number of requests handled so far.
func (e *Engine) RequestsProcessed() int64 {
	return atomic.LoadInt64(&e.metrics.requestsProcessed)
}

// Errors returns the number of failed requests so far.
func (e *Engine) Errors() int64 {
	return atomic.LoadInt64(&e.metrics.errors)
}
