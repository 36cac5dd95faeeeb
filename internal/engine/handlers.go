package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/redbco/redb-search/internal/search"
	"github.com/redbco/redb-search/pkg/health"
)

// SearchHandler serves the read surface: one ranked, paginated query over
// the tenant's slice of the index.
func (e *Engine) SearchHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := tenantFromContext(ctx)
	if !ok {
		e.writeErrorResponse(w, http.StatusInternalServerError, "Database connection not available", "")
		return
	}
	querier, ok := querierFromContext(ctx)
	if !ok {
		e.writeErrorResponse(w, http.StatusInternalServerError, "Database connection not available", "")
		return
	}

	query := r.URL.Query()
	req := search.Request{
		Query:      query.Get("q"),
		EntityType: query.Get("entityType"),
		Cursor:     query.Get("cursor"),
		UserID:     query.Get("userId"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			e.writeErrorResponse(w, http.StatusBadRequest, "Query parameter 'limit' must be a number", "")
			return
		}
		// An explicit 0 is a requested limit, not an absent one: it clamps
		// to the minimum page size rather than falling back to the default.
		if limit < search.MinLimit {
			limit = search.MinLimit
		}
		req.Limit = limit
	}

	if req.Query == "" {
		e.writeErrorResponse(w, http.StatusBadRequest, "Query parameter 'q' is required", "")
		return
	}

	page, err := e.search.Search(ctx, querier, tenantID, req)
	if err != nil {
		if errors.Is(err, search.ErrMissingQuery) {
			e.writeErrorResponse(w, http.StatusBadRequest, "Query parameter 'q' is required", "")
			return
		}
		atomic.AddInt64(&e.metrics.errors, 1)
		e.logger.Errorf("Search failed for tenant %d: %v", tenantID, err)
		e.writeErrorResponse(w, http.StatusInternalServerError, "Search failed", e.errorDetail(err))
		return
	}

	e.logger.WithFields(map[string]string{
		"tenant":  strconv.FormatInt(tenantID, 10),
		"query":   req.Query,
		"count":   strconv.Itoa(len(page.Results)),
		"cached":  strconv.FormatBool(page.Cached),
		"latency": strconv.FormatInt(page.LatencyMS, 10),
	}).Info("Search completed")

	e.writeJSON(w, http.StatusOK, SearchResponse{
		Results:    page.Results,
		NextCursor: page.NextCursor,
		Meta: SearchMeta{
			Cached:    page.Cached,
			LatencyMS: page.LatencyMS,
			Count:     len(page.Results),
		},
	})
}

// IndexHandler serves the write notification surface: an entity's indexable
// state changed and must be upserted into the index.
func (e *Engine) IndexHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := tenantFromContext(ctx)
	if !ok {
		e.writeErrorResponse(w, http.StatusInternalServerError, "Database connection not available", "")
		return
	}

	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		e.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if req.EntityType == "" {
		e.writeErrorResponse(w, http.StatusBadRequest, "Field 'entityType' is required", "")
		return
	}
	if req.EntityID <= 0 {
		e.writeErrorResponse(w, http.StatusBadRequest, "Field 'entityId' must be a positive number", "")
		return
	}

	if err := e.replicator.IndexEntity(ctx, tenantID, req.EntityType, req.EntityID, req.Fields); err != nil {
		atomic.AddInt64(&e.metrics.errors, 1)
		e.writeErrorResponse(w, http.StatusInternalServerError, "Index update failed", e.errorDetail(err))
		return
	}

	if req.UserID != "" {
		e.tracker.TrackWrite(req.UserID, search.TenantNamespace(tenantID))
	}

	e.writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// RemoveHandler serves index deletions.
func (e *Engine) RemoveHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := tenantFromContext(ctx)
	if !ok {
		e.writeErrorResponse(w, http.StatusInternalServerError, "Database connection not available", "")
		return
	}

	query := r.URL.Query()
	entityType := query.Get("entityType")
	if entityType == "" {
		e.writeErrorResponse(w, http.StatusBadRequest, "Query parameter 'entityType' is required", "")
		return
	}
	entityID, err := strconv.ParseInt(query.Get("entityId"), 10, 64)
	if err != nil || entityID <= 0 {
		e.writeErrorResponse(w, http.StatusBadRequest, "Query parameter 'entityId' must be a positive number", "")
		return
	}

	if err := e.replicator.RemoveFromIndex(ctx, tenantID, entityType, entityID); err != nil {
		atomic.AddInt64(&e.metrics.errors, 1)
		e.writeErrorResponse(w, http.StatusInternalServerError, "Index removal failed", e.errorDetail(err))
		return
	}

	if userID := query.Get("userId"); userID != "" {
		e.tracker.TrackWrite(userID, search.TenantNamespace(tenantID))
	}

	e.writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// HealthHandler reports reachability of the primary, each replica and the
// cache store independently.
func (e *Engine) HealthHandler(w http.ResponseWriter, r *http.Request) {
	for name, fn := range e.healthFns {
		e.checker.RunCheck(name, fn)
	}

	checks := e.checker.GetAllChecks()
	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })

	resp := HealthResponse{
		Status: e.checker.GetOverallStatus(),
		Checks: checks,
	}

	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	e.writeJSON(w, status, resp)
}

// errorDetail exposes internal error text only outside production mode.
func (e *Engine) errorDetail(err error) string {
	if e.config.Get("environment") == "production" {
		return ""
	}
	return err.Error()
}

func (e *Engine) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		e.logger.Errorf("Failed to encode response: %v", err)
	}
}

func (e *Engine) writeErrorResponse(w http.ResponseWriter, status int, message, detail string) {
	e.writeJSON(w, status, ErrorResponse{
		Error:   message,
		Message: detail,
	})
}
