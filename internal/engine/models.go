package engine

import (
	"github.com/redbco/redb-search/internal/index"
	"github.com/redbco/redb-search/internal/search"
	"github.com/redbco/redb-search/pkg/health"
)

// ErrorResponse is the error body for all handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Results    []search.Result `json:"results"`
	NextCursor string          `json:"nextCursor,omitempty"`
	Meta       SearchMeta      `json:"meta"`
}

// SearchMeta carries per-request observability fields.
type SearchMeta struct {
	Cached    bool  `json:"cached"`
	LatencyMS int64 `json:"latency"`
	Count     int   `json:"count"`
}

// IndexRequest is the write-notification body: an entity whose indexable
// state changed.
type IndexRequest struct {
	EntityType string       `json:"entityType"`
	EntityID   int64        `json:"entityId"`
	UserID     string       `json:"userId,omitempty"`
	Fields     index.Fields `json:"fields"`
}

// StatusResponse acknowledges a write-surface call.
type StatusResponse struct {
	Status string `json:"status"`
}

// HealthResponse reports reachability of the primary, each replica and the
// cache store independently.
type HealthResponse struct {
	Status health.Status   `json:"status"`
	Checks []*health.Check `json:"checks"`
}
