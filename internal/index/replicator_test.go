package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-search/pkg/logger"
)

type execCall struct {
	sql  string
	args []interface{}
}

type fakeRow struct {
	row *canonicalRow
	err error
}

func (r *fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	row := r.row
	*dest[0].(*int64) = row.TenantID
	*dest[1].(*string) = row.EntityType
	*dest[2].(*int64) = row.EntityID
	*dest[3].(*string) = row.Fields.PrimaryText
	*dest[4].(*string) = row.Fields.SecondaryText
	*dest[5].(*string) = row.Fields.Slug
	*dest[6].(*string) = row.Fields.TechnicalIDs
	*dest[7].(*int64) = row.Fields.AuthorID
	*dest[8].(*string) = row.Fields.AuthorName
	*dest[9].(*int64) = row.Fields.BrandID
	*dest[10].(*string) = row.Fields.BrandName
	*dest[11].(*int64) = row.Fields.FollowerCount
	*dest[12].(*int64) = row.Fields.LikeCount
	*dest[13].(*int64) = row.Fields.CommentCount
	*dest[14].(*int64) = row.Fields.ViewCount
	*dest[15].(*[]string) = row.Fields.Tags
	*dest[16].(*[]string) = row.Fields.Topics
	*dest[17].(*string) = row.Fields.Language
	*dest[18].(*bool) = row.Fields.IsVerified
	*dest[19].(*bool) = row.Fields.IsPublished
	*dest[20].(**time.Time) = row.PublishedAt
	*dest[21].(*[]byte) = row.Attributes
	*dest[22].(*time.Time) = row.UpdatedAt
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	execs    []execCall
	execErr  error
	row      *canonicalRow
	scanErr  error
	queryRow int
}

func (s *fakeStore) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, s.execErr
}

func (s *fakeStore) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryRow++
	return &fakeRow{row: s.row, err: s.scanErr}
}

func (s *fakeStore) execCalls() []execCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]execCall(nil), s.execs...)
}

type fakeInvalidator struct {
	mu      sync.Mutex
	tenants []int64
	err     error
}

func (f *fakeInvalidator) InvalidateTenant(ctx context.Context, tenantID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants = append(f.tenants, tenantID)
	return f.err
}

func testCanonicalRow() *canonicalRow {
	return &canonicalRow{
		TenantID:   1,
		EntityType: "post",
		EntityID:   42,
		Fields: Fields{
			PrimaryText: "engineering weeknotes",
			AuthorName:  "Sam",
			Tags:        []string{"eng"},
			Topics:      []string{},
		},
		Attributes: []byte(`{"verified":true}`),
		UpdatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestReplicator(primary *fakeStore, replicas []*fakeStore, cache Cache) *Replicator {
	stores := make([]Store, len(replicas))
	for i, r := range replicas {
		stores[i] = r
	}
	return NewReplicator(primary, stores, cache, logger.New("index-test", "1.0.0"))
}

func TestIndexEntityFansOutAndInvalidates(t *testing.T) {
	primary := &fakeStore{row: testCanonicalRow()}
	replicaA := &fakeStore{}
	replicaB := &fakeStore{}
	cache := &fakeInvalidator{}
	rep := newTestReplicator(primary, []*fakeStore{replicaA, replicaB}, cache)

	err := rep.IndexEntity(context.Background(), 1, "post", 42, Fields{PrimaryText: "engineering weeknotes"})
	require.NoError(t, err)

	// One upsert on the primary, plus the canonical read-back.
	primaryCalls := primary.execCalls()
	require.Len(t, primaryCalls, 1)
	assert.Contains(t, primaryCalls[0].sql, "ON CONFLICT (tenant_id, entity_type, entity_id)")
	assert.Contains(t, primaryCalls[0].sql, "updated_at = now()")
	assert.Equal(t, 1, primary.queryRow)

	// Every replica receives the canonical row with the primary's updated_at.
	for _, replica := range []*fakeStore{replicaA, replicaB} {
		calls := replica.execCalls()
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0].sql, "updated_at = EXCLUDED.updated_at")
		require.Len(t, calls[0].args, 23)
		assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), calls[0].args[22])
	}

	assert.Equal(t, []int64{1}, cache.tenants)
}

func TestIndexEntityNormalizesCollections(t *testing.T) {
	primary := &fakeStore{row: testCanonicalRow()}
	rep := newTestReplicator(primary, nil, &fakeInvalidator{})

	err := rep.IndexEntity(context.Background(), 1, "post", 42, Fields{PrimaryText: "x"})
	require.NoError(t, err)

	calls := primary.execCalls()
	require.Len(t, calls, 1)
	// tags and topics are params 16 and 17 (0-based 15 and 16)
	assert.Equal(t, []string{}, calls[0].args[15])
	assert.Equal(t, []string{}, calls[0].args[16])
}

func TestIndexEntityPrimaryFailure(t *testing.T) {
	primary := &fakeStore{execErr: errors.New("connection refused")}
	replica := &fakeStore{}
	cache := &fakeInvalidator{}
	rep := newTestReplicator(primary, []*fakeStore{replica}, cache)

	err := rep.IndexEntity(context.Background(), 1, "post", 42, Fields{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert")
	assert.Empty(t, replica.execCalls())
	assert.Empty(t, cache.tenants)
}

func TestIndexEntityReplicaFailureIsPartial(t *testing.T) {
	primary := &fakeStore{row: testCanonicalRow()}
	healthy := &fakeStore{}
	broken := &fakeStore{execErr: errors.New("connection refused")}
	cache := &fakeInvalidator{}
	rep := newTestReplicator(primary, []*fakeStore{broken, healthy}, cache)

	err := rep.IndexEntity(context.Background(), 1, "post", 42, Fields{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "replica 0")
	assert.NotContains(t, err.Error(), "replica 1")

	// The primary write stands and the healthy replica was still written.
	assert.Len(t, primary.execCalls(), 1)
	assert.Len(t, healthy.execCalls(), 1)

	// Invalidation does not run after a failed sync, so stale cached pages
	// expire on their TTL instead.
	assert.Empty(t, cache.tenants)
}

func TestIndexEntityRowGoneBecomesReplicaDelete(t *testing.T) {
	primary := &fakeStore{scanErr: pgx.ErrNoRows}
	replica := &fakeStore{}
	cache := &fakeInvalidator{}
	rep := newTestReplicator(primary, []*fakeStore{replica}, cache)

	err := rep.IndexEntity(context.Background(), 1, "post", 42, Fields{})
	require.NoError(t, err)

	calls := replica.execCalls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].sql, "DELETE FROM search_index")
	assert.Equal(t, []int64{1}, cache.tenants)
}

func TestIndexEntityRejectsUnserializableAttributes(t *testing.T) {
	primary := &fakeStore{}
	rep := newTestReplicator(primary, nil, &fakeInvalidator{})

	err := rep.IndexEntity(context.Background(), 1, "post", 42, Fields{
		Attributes: map[string]interface{}{"bad": func() {}},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to serialize attributes")
	assert.Empty(t, primary.execCalls())
}

func TestRemoveFromIndex(t *testing.T) {
	primary := &fakeStore{}
	replicaA := &fakeStore{}
	replicaB := &fakeStore{}
	cache := &fakeInvalidator{}
	rep := newTestReplicator(primary, []*fakeStore{replicaA, replicaB}, cache)

	err := rep.RemoveFromIndex(context.Background(), 1, "post", 42)
	require.NoError(t, err)

	for _, store := range []*fakeStore{primary, replicaA, replicaB} {
		calls := store.execCalls()
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0].sql, "DELETE FROM search_index")
		assert.Equal(t, []interface{}{int64(1), "post", int64(42)}, calls[0].args)
	}

	assert.Equal(t, []int64{1}, cache.tenants)
}

func TestFanoutAggregatesAllFailures(t *testing.T) {
	primary := &fakeStore{}
	brokenA := &fakeStore{execErr: errors.New("down")}
	brokenB := &fakeStore{execErr: errors.New("down")}
	rep := newTestReplicator(primary, []*fakeStore{brokenA, brokenB}, &fakeInvalidator{})

	err := rep.RemoveFromIndex(context.Background(), 1, "post", 42)

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "replica 0") && strings.Contains(err.Error(), "replica 1"))
}
