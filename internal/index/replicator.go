package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/redbco/redb-search/pkg/logger"
)

// fanoutWorkers bounds how many replicas are written concurrently, so one
// slow replica cannot starve the others of a worker while still capping the
// connection burst per mutation.
const fanoutWorkers = 4

// Store is the slice of a connection pool the replicator drives: idempotent
// upserts/deletes plus single-row reads.
type Store interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Cache is the invalidation surface the replicator drives after mutations.
type Cache interface {
	InvalidateTenant(ctx context.Context, tenantID int64) error
}

// Fields carries the indexable state of one entity as reported by its
// owning collaborator.
type Fields struct {
	PrimaryText   string                 `json:"primaryText,omitempty"`
	SecondaryText string                 `json:"secondaryText,omitempty"`
	Slug          string                 `json:"slug,omitempty"`
	TechnicalIDs  string                 `json:"technicalIds,omitempty"`
	AuthorID      int64                  `json:"authorId,omitempty"`
	AuthorName    string                 `json:"authorName,omitempty"`
	BrandID       int64                  `json:"brandId,omitempty"`
	BrandName     string                 `json:"brandName,omitempty"`
	FollowerCount int64                  `json:"followerCount,omitempty"`
	LikeCount     int64                  `json:"likeCount,omitempty"`
	CommentCount  int64                  `json:"commentCount,omitempty"`
	ViewCount     int64                  `json:"viewCount,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	Topics        []string               `json:"topics,omitempty"`
	Language      string                 `json:"language,omitempty"`
	IsVerified    bool                   `json:"isVerified,omitempty"`
	IsPublished   bool                   `json:"isPublished,omitempty"`
	PublishedAt   *time.Time             `json:"publishedAt,omitempty"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}

// normalize replaces absent optional fields with safe defaults so ranking
// and filtering never have to special-case missing data.
func (f *Fields) normalize() {
	if f.Tags == nil {
		f.Tags = []string{}
	}
	if f.Topics == nil {
		f.Topics = []string{}
	}
}

// canonicalRow is the primary's view of one index entry, read back after a
// mutation and replayed verbatim to the replicas.
type canonicalRow struct {
	TenantID    int64
	EntityType  string
	EntityID    int64
	Fields      Fields
	PublishedAt *time.Time
	UpdatedAt   time.Time
	Attributes  []byte
}

// Replicator owns index mutations: it upserts/deletes on the primary, fans
// the change out to every replica and invalidates the tenant's cached
// results. Replicas are expected to eventually match the primary; there is
// no quorum.
type Replicator struct {
	primary  Store
	replicas []Store
	cache    Cache
	logger   *logger.Logger
}

// NewReplicator creates a new index replicator
func NewReplicator(primary Store, replicas []Store, cache Cache, logger *logger.Logger) *Replicator {
	return &Replicator{
		primary:  primary,
		replicas: replicas,
		cache:    cache,
		logger:   logger,
	}
}

const upsertSQL = `
	INSERT INTO search_index (
		tenant_id, entity_type, entity_id,
		primary_text, secondary_text, slug, technical_ids,
		author_id, author_name, brand_id, brand_name,
		follower_count, like_count, comment_count, view_count,
		tags, topics, language, is_verified, is_published, published_at, attributes
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	ON CONFLICT (tenant_id, entity_type, entity_id)
	DO UPDATE SET
		primary_text = EXCLUDED.primary_text,
		secondary_text = EXCLUDED.secondary_text,
		slug = EXCLUDED.slug,
		technical_ids = EXCLUDED.technical_ids,
		author_id = EXCLUDED.author_id,
		author_name = EXCLUDED.author_name,
		brand_id = EXCLUDED.brand_id,
		brand_name = EXCLUDED.brand_name,
		follower_count = EXCLUDED.follower_count,
		like_count = EXCLUDED.like_count,
		comment_count = EXCLUDED.comment_count,
		view_count = EXCLUDED.view_count,
		tags = EXCLUDED.tags,
		topics = EXCLUDED.topics,
		language = EXCLUDED.language,
		is_verified = EXCLUDED.is_verified,
		is_published = EXCLUDED.is_published,
		published_at = EXCLUDED.published_at,
		attributes = EXCLUDED.attributes,
		updated_at = now()`

// replicaUpsertSQL replays a canonical primary row onto a replica. The
// primary's updated_at travels with the row; replicas never mint their own.
const replicaUpsertSQL = `
	INSERT INTO search_index (
		tenant_id, entity_type, entity_id,
		primary_text, secondary_text, slug, technical_ids,
		author_id, author_name, brand_id, brand_name,
		follower_count, like_count, comment_count, view_count,
		tags, topics, language, is_verified, is_published, published_at, attributes,
		updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	ON CONFLICT (tenant_id, entity_type, entity_id)
	DO UPDATE SET
		primary_text = EXCLUDED.primary_text,
		secondary_text = EXCLUDED.secondary_text,
		slug = EXCLUDED.slug,
		technical_ids = EXCLUDED.technical_ids,
		author_id = EXCLUDED.author_id,
		author_name = EXCLUDED.author_name,
		brand_id = EXCLUDED.brand_id,
		brand_name = EXCLUDED.brand_name,
		follower_count = EXCLUDED.follower_count,
		like_count = EXCLUDED.like_count,
		comment_count = EXCLUDED.comment_count,
		view_count = EXCLUDED.view_count,
		tags = EXCLUDED.tags,
		topics = EXCLUDED.topics,
		language = EXCLUDED.language,
		is_verified = EXCLUDED.is_verified,
		is_published = EXCLUDED.is_published,
		published_at = EXCLUDED.published_at,
		attributes = EXCLUDED.attributes,
		updated_at = EXCLUDED.updated_at`

const selectCanonicalSQL = `
	SELECT
		tenant_id, entity_type, entity_id,
		COALESCE(primary_text, ''), COALESCE(secondary_text, ''), COALESCE(slug, ''), COALESCE(technical_ids, ''),
		COALESCE(author_id, 0), COALESCE(author_name, ''), COALESCE(brand_id, 0), COALESCE(brand_name, ''),
		follower_count, like_count, comment_count, view_count,
		COALESCE(tags, '{}'), COALESCE(topics, '{}'), COALESCE(language, ''),
		COALESCE(is_verified, false), COALESCE(is_published, false), published_at, attributes,
		updated_at
	FROM search_index
	WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3`

const deleteSQL = `
	DELETE FROM search_index
	WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3`

// IndexEntity upserts the entry on the primary, replays it to every replica
// and invalidates the tenant's cached results. A replication or
// invalidation failure is logged and returned, but the primary mutation is
// never undone: the primary index is the source of truth and replicas
// reconcile on the next successful sync.
func (r *Replicator) IndexEntity(ctx context.Context, tenantID int64, entityType string, entityID int64, fields Fields) error {
	fields.normalize()

	var attrs []byte
	if fields.Attributes != nil {
		var err error
		attrs, err = json.Marshal(fields.Attributes)
		if err != nil {
			return fmt.Errorf("failed to serialize attributes for %s/%d: %w", entityType, entityID, err)
		}
	}

	if _, err := r.primary.Exec(ctx, upsertSQL,
		tenantID, entityType, entityID,
		fields.PrimaryText, fields.SecondaryText, fields.Slug, fields.TechnicalIDs,
		fields.AuthorID, fields.AuthorName, fields.BrandID, fields.BrandName,
		fields.FollowerCount, fields.LikeCount, fields.CommentCount, fields.ViewCount,
		fields.Tags, fields.Topics, fields.Language, fields.IsVerified, fields.IsPublished,
		fields.PublishedAt, attrs,
	); err != nil {
		return fmt.Errorf("failed to upsert %s/%d for tenant %d: %w", entityType, entityID, tenantID, err)
	}

	if err := r.syncReplicas(ctx, tenantID, entityType, entityID); err != nil {
		r.logger.Errorf("Replica sync failed for %s/%d (tenant %d): %v", entityType, entityID, tenantID, err)
		return err
	}

	if err := r.cache.InvalidateTenant(ctx, tenantID); err != nil {
		r.logger.Errorf("Cache invalidation failed for tenant %d: %v", tenantID, err)
		return err
	}

	return nil
}

// RemoveFromIndex deletes the entry on the primary, replays the deletion to
// every replica and invalidates the tenant's cached results.
func (r *Replicator) RemoveFromIndex(ctx context.Context, tenantID int64, entityType string, entityID int64) error {
	if _, err := r.primary.Exec(ctx, deleteSQL, tenantID, entityType, entityID); err != nil {
		return fmt.Errorf("failed to delete %s/%d for tenant %d: %w", entityType, entityID, tenantID, err)
	}

	if err := r.deleteFromReplicas(ctx, tenantID, entityType, entityID); err != nil {
		r.logger.Errorf("Replica delete failed for %s/%d (tenant %d): %v", entityType, entityID, tenantID, err)
		return err
	}

	if err := r.cache.InvalidateTenant(ctx, tenantID); err != nil {
		r.logger.Errorf("Cache invalidation failed for tenant %d: %v", tenantID, err)
		return err
	}

	return nil
}

// syncReplicas reads the canonical row back from the primary and replays an
// equivalent upsert to every replica. If the row is gone by the time we look
// (deleted between write and replication), the replicas get a delete instead
// so no stale copy outlives its primary deletion.
func (r *Replicator) syncReplicas(ctx context.Context, tenantID int64, entityType string, entityID int64) error {
	row, err := r.readCanonical(ctx, tenantID, entityType, entityID)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.deleteFromReplicas(ctx, tenantID, entityType, entityID)
	}
	if err != nil {
		return fmt.Errorf("failed to read canonical row for %s/%d: %w", entityType, entityID, err)
	}

	return r.fanout(ctx, func(ctx context.Context, target Store) error {
		_, err := target.Exec(ctx, replicaUpsertSQL,
			row.TenantID, row.EntityType, row.EntityID,
			row.Fields.PrimaryText, row.Fields.SecondaryText, row.Fields.Slug, row.Fields.TechnicalIDs,
			row.Fields.AuthorID, row.Fields.AuthorName, row.Fields.BrandID, row.Fields.BrandName,
			row.Fields.FollowerCount, row.Fields.LikeCount, row.Fields.CommentCount, row.Fields.ViewCount,
			row.Fields.Tags, row.Fields.Topics, row.Fields.Language,
			row.Fields.IsVerified, row.Fields.IsPublished, row.PublishedAt, row.Attributes,
			row.UpdatedAt,
		)
		return err
	})
}

func (r *Replicator) deleteFromReplicas(ctx context.Context, tenantID int64, entityType string, entityID int64) error {
	return r.fanout(ctx, func(ctx context.Context, target Store) error {
		_, err := target.Exec(ctx, deleteSQL, tenantID, entityType, entityID)
		return err
	})
}

func (r *Replicator) readCanonical(ctx context.Context, tenantID int64, entityType string, entityID int64) (*canonicalRow, error) {
	var row canonicalRow
	err := r.primary.QueryRow(ctx, selectCanonicalSQL, tenantID, entityType, entityID).Scan(
		&row.TenantID, &row.EntityType, &row.EntityID,
		&row.Fields.PrimaryText, &row.Fields.SecondaryText, &row.Fields.Slug, &row.Fields.TechnicalIDs,
		&row.Fields.AuthorID, &row.Fields.AuthorName, &row.Fields.BrandID, &row.Fields.BrandName,
		&row.Fields.FollowerCount, &row.Fields.LikeCount, &row.Fields.CommentCount, &row.Fields.ViewCount,
		&row.Fields.Tags, &row.Fields.Topics, &row.Fields.Language,
		&row.Fields.IsVerified, &row.Fields.IsPublished, &row.PublishedAt, &row.Attributes,
		&row.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// fanout applies op to every replica through a bounded worker pool,
// collecting partial failures into one aggregate error instead of stopping
// at the first. One unreachable replica never blocks the others.
func (r *Replicator) fanout(ctx context.Context, op func(ctx context.Context, target Store) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)

	sem := make(chan struct{}, fanoutWorkers)
	for i, replica := range r.replicas {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, target Store) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := op(ctx, target); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("replica %d: %w", i, err))
				mu.Unlock()
			}
		}(i, replica)
	}
	wg.Wait()

	return errs.ErrorOrNil()
}
