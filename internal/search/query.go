package search

import (
	"fmt"
	"strings"
)

// Page size bounds for the read surface.
const (
	MinLimit     = 1
	MaxLimit     = 100
	DefaultLimit = 20
)

// Build maps a search request onto a parameterized query against the
// denormalized index. It is a pure function: no I/O, no tenant handling.
// Tenant isolation is supplied by the row-level policy bound to the session,
// never by a predicate here.
//
// The free-text term matches three ways, OR-combined: full-text relevance
// against the precomputed search vector (with an on-the-fly vector as
// fallback), trigram similarity above 0.2 on the primary text, secondary
// text and author name, and a case-insensitive substring match on the
// technical-identifier blob. The ranking score is
// 0.7*fts + 0.3*max(similarity), descending, with ties broken by
// (updated_at, id) descending. That tie-break order is also the keyset
// cursor's ordering, so it must not change independently.
func Build(req Request) (string, []interface{}, int) {
	limit := ClampLimit(req.Limit)

	var (
		params []interface{}
		where  []string
	)

	// Optional equality filters
	if req.EntityType != "" {
		params = append(params, req.EntityType)
		where = append(where, fmt.Sprintf("entity_type = $%d", len(params)))
	}

	// Search term
	params = append(params, req.Query)
	q := fmt.Sprintf("$%d", len(params))

	// Keyset pagination: restrict to rows strictly before the cursor's
	// (updated_at, id) tuple. Malformed cursors are ignored.
	cursorClause := ""
	if ts, id, ok := DecodeCursor(req.Cursor); ok {
		params = append(params, ts, id)
		cursorClause = fmt.Sprintf("AND (updated_at, id) < ($%d::timestamptz, $%d::bigint)", len(params)-1, len(params))
	}

	whereSQL := "WHERE true"
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}
	if cursorClause != "" {
		whereSQL += " " + cursorClause
	}

	sql := fmt.Sprintf(`
		SELECT
			id, entity_type, entity_id,
			COALESCE(primary_text, ''), COALESCE(secondary_text, ''), COALESCE(slug, ''),
			COALESCE(author_name, ''), COALESCE(brand_name, ''),
			follower_count, like_count, comment_count, view_count,
			COALESCE(tags, '{}'), attributes, updated_at,
			COALESCE(
				ts_rank_cd(search_vector, plainto_tsquery('english', %[1]s)),
				ts_rank_cd(
					to_tsvector('english', COALESCE(primary_text, '') || ' ' || COALESCE(secondary_text, '') || ' ' || COALESCE(author_name, '')),
					plainto_tsquery('english', %[1]s)
				)
			) AS fts_rank,
			GREATEST(
				similarity(COALESCE(primary_text, ''), %[1]s),
				similarity(COALESCE(secondary_text, ''), %[1]s),
				similarity(COALESCE(author_name, ''), %[1]s)
			) AS trgm_rank
		FROM search_index
		%[2]s
		AND (
			COALESCE(search_vector @@ plainto_tsquery('english', %[1]s), false)
			OR to_tsvector('english', COALESCE(primary_text, '') || ' ' || COALESCE(secondary_text, '') || ' ' || COALESCE(author_name, '')) @@ plainto_tsquery('english', %[1]s)
			OR similarity(COALESCE(primary_text, ''), %[1]s) > 0.2
			OR similarity(COALESCE(secondary_text, ''), %[1]s) > 0.2
			OR similarity(COALESCE(author_name, ''), %[1]s) > 0.2
			OR COALESCE(technical_ids, '') ILIKE '%%' || %[1]s || '%%'
		)
		ORDER BY
			(
				COALESCE(
					ts_rank_cd(search_vector, plainto_tsquery('english', %[1]s)),
					ts_rank_cd(
						to_tsvector('english', COALESCE(primary_text, '') || ' ' || COALESCE(secondary_text, '') || ' ' || COALESCE(author_name, '')),
						plainto_tsquery('english', %[1]s)
					)
				) * 0.7
				+ GREATEST(
					similarity(COALESCE(primary_text, ''), %[1]s),
					similarity(COALESCE(secondary_text, ''), %[1]s),
					similarity(COALESCE(author_name, ''), %[1]s)
				) * 0.3
			) DESC,
			updated_at DESC,
			id DESC
		LIMIT %[3]d`, q, whereSQL, limit)

	return sql, params, limit
}

// ClampLimit bounds the requested page size into [MinLimit, MaxLimit]. Zero
// means no limit was requested and yields the default; an explicit
// non-positive value clamps to the minimum instead.
func ClampLimit(limit int) int {
	if limit == 0 {
		return DefaultLimit
	}
	if limit < MinLimit {
		return MinLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
