package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/redbco/redb-search/pkg/logger"
)

// ErrMissingQuery is returned when a request carries no query text. The
// request must be rejected before any backend access.
var ErrMissingQuery = errors.New("query parameter 'q' is required")

// DefaultResultTTL is how long a result page stays cached.
const DefaultResultTTL = 60 * time.Second

// Querier is the slice of a bound session the search path needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Cache is the two-tier cache surface the search path consumes.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// Tracker reports whether a user recently invalidated a namespace.
type Tracker interface {
	IsRecentWrite(userID, namespace string) bool
}

// Service orchestrates a search request end to end: cache key, write-tracker
// bypass, cache lookup, query execution, pagination and repopulation.
type Service struct {
	cache     Cache
	tracker   Tracker
	resultTTL time.Duration
	logger    *logger.Logger
}

// NewService creates a new search service. A resultTTL of zero uses
// DefaultResultTTL.
func NewService(cache Cache, tracker Tracker, resultTTL time.Duration, logger *logger.Logger) *Service {
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	return &Service{
		cache:     cache,
		tracker:   tracker,
		resultTTL: resultTTL,
		logger:    logger,
	}
}

// Search runs one request against the session bound for this tenant. The
// caller owns the session; Search only reads through it.
func (s *Service) Search(ctx context.Context, q Querier, tenantID int64, req Request) (*Page, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrMissingQuery
	}

	key := CacheKey(tenantID, req)

	// A user who just wrote must observe their own data immediately, so
	// their requests skip the cache for the write window. Everyone else
	// keeps the cached page until it expires or is invalidated.
	bypass := req.UserID != "" && s.tracker.IsRecentWrite(req.UserID, TenantNamespace(tenantID))
	if !bypass {
		if raw, ok := s.cache.Get(ctx, key); ok {
			var page Page
			if err := json.Unmarshal([]byte(raw), &page); err == nil {
				page.Cached = true
				page.LatencyMS = time.Since(start).Milliseconds()
				return &page, nil
			}
			s.logger.Warnf("Discarding undecodable cache entry %s", key)
		}
	}

	sql, params, limit := Build(req)

	rows, err := q.Query(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, limit)
	for rows.Next() {
		var (
			r     Result
			attrs []byte
		)
		if err := rows.Scan(
			&r.ID, &r.EntityType, &r.EntityID,
			&r.PrimaryText, &r.SecondaryText, &r.Slug,
			&r.AuthorName, &r.BrandName,
			&r.FollowerCount, &r.LikeCount, &r.CommentCount, &r.ViewCount,
			&r.Tags, &attrs, &r.UpdatedAt,
			&r.FTSRank, &r.TrigramRank,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
				s.logger.Warnf("Dropping undecodable attributes on row %d: %v", r.ID, err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search rows: %w", err)
	}

	page := &Page{Results: results}

	// A full page signals there may be more; a short page is the end.
	if len(results) == limit {
		last := results[len(results)-1]
		page.NextCursor = EncodeCursor(last.UpdatedAt, last.ID)
	}

	if raw, err := json.Marshal(page); err == nil {
		s.cache.Set(ctx, key, string(raw), s.resultTTL)
	} else {
		s.logger.Warnf("Failed to serialize result page for caching: %v", err)
	}

	page.LatencyMS = time.Since(start).Milliseconds()
	return page, nil
}
