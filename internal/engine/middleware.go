package engine

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/redbco/redb-search/internal/search"
	"github.com/redbco/redb-search/pkg/database"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// Context keys
const (
	tenantContextKey    contextKey = "tenant"
	querierContextKey   contextKey = "querier"
	requestIDContextKey contextKey = "request_id"
)

// TenantHeader carries the tenant identifier on every request.
const TenantHeader = "X-Tenant-ID"

// sessionCloseTimeout bounds how long a finished request may spend
// committing or rolling back its session.
const sessionCloseTimeout = 5 * time.Second

// TenantMiddleware binds each request to a tenant-scoped database session:
// primary for mutating methods, a round-robin replica otherwise. Requests
// without a positive integer tenant header are rejected before any database
// access. The session is finished and released when the handler returns,
// even if the client has already disconnected.
func (e *Engine) TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(TenantHeader)
		tenantID, err := strconv.ParseInt(header, 10, 64)
		if header == "" || err != nil || tenantID <= 0 {
			e.writeErrorResponse(w, http.StatusBadRequest, "Missing or invalid X-Tenant-ID header", "")
			return
		}

		write := r.Method != http.MethodGet && r.Method != http.MethodHead

		session, err := e.binder.Bind(r.Context(), tenantID, write)
		if err != nil {
			if errors.Is(err, database.ErrMissingTenant) {
				e.writeErrorResponse(w, http.StatusBadRequest, "Missing or invalid X-Tenant-ID header", "")
				return
			}
			atomic.AddInt64(&e.metrics.errors, 1)
			e.logger.Errorf("Failed to bind tenant session: %v", err)
			e.writeErrorResponse(w, http.StatusInternalServerError, "Database connection not available", "")
			return
		}

		defer func() {
			// Finish with a fresh context so a client disconnect cannot
			// abandon the open transaction.
			closeCtx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
			defer cancel()
			if err := session.Close(closeCtx); err != nil {
				e.logger.Errorf("Failed to close session for tenant %d: %v", tenantID, err)
			}
		}()

		ctx := context.WithValue(r.Context(), tenantContextKey, tenantID)
		ctx = context.WithValue(ctx, querierContextKey, search.Querier(session.Tx()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware tags each request with an id and logs its outcome.
func (e *Engine) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
		next.ServeHTTP(recorder, r.WithContext(ctx))

		atomic.AddInt64(&e.metrics.requestsProcessed, 1)
		e.logger.WithFields(map[string]string{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     strconv.Itoa(recorder.status),
			"duration":   time.Since(start).String(),
		}).Info("Request completed")
	})
}

// tenantFromContext returns the tenant bound by TenantMiddleware.
func tenantFromContext(ctx context.Context) (int64, bool) {
	tenantID, ok := ctx.Value(tenantContextKey).(int64)
	return tenantID, ok
}

// querierFromContext returns the session querier bound by TenantMiddleware.
func querierFromContext(ctx context.Context) (search.Querier, bool) {
	q, ok := ctx.Value(querierContextKey).(search.Querier)
	return q, ok
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
