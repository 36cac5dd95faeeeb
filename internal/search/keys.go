package search

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// TenantNamespace is the cache-key namespace holding every cached result for
// a tenant. It doubles as the write-tracker namespace, so a tenant-wide
// invalidation and a user's bypass window cover the same keys.
func TenantNamespace(tenantID int64) string {
	return fmt.Sprintf("search:tenant:%d", tenantID)
}

// CacheKey derives the deterministic, tenant-scoped cache key for a request.
// The query text is normalized before hashing so trivially different spellings
// of the same request share an entry. Keys for distinct tenants can never
// collide: the tenant id is part of the key prefix, not the hash.
func CacheKey(tenantID int64, req Request) string {
	h := xxhash.New()
	fmt.Fprintf(h, "%s|%s|%d|%s",
		strings.ToLower(strings.TrimSpace(req.Query)),
		req.EntityType,
		ClampLimit(req.Limit),
		req.Cursor,
	)
	return fmt.Sprintf("%s:%x", TenantNamespace(tenantID), h.Sum64())
}
