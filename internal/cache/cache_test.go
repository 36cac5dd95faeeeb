package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbco/redb-search/pkg/logger"
)

type fakeRemote struct {
	mu       sync.Mutex
	data     map[string]string
	getCalls int
	failGet  bool
	failSet  bool
	failDel  bool
	failScan bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{data: make(map[string]string)}
}

func (f *fakeRemote) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failGet {
		return "", false, errors.New("connection refused")
	}
	value, ok := f.data[key]
	return value, ok, nil
}

func (f *fakeRemote) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return errors.New("connection refused")
	}
	f.data[key] = value
	return nil
}

func (f *fakeRemote) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDel {
		return errors.New("connection refused")
	}
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeRemote) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failScan {
		return nil, errors.New("connection refused")
	}
	var keys []string
	for key := range f.data {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func newTestService(t *testing.T, remote RemoteStore) *Service {
	t.Helper()
	svc := NewService(remote, 0, logger.New("cache-test", "1.0.0"))
	t.Cleanup(svc.Stop)
	return svc
}

func TestCacheSetAndGet(t *testing.T) {
	remote := newFakeRemote()
	svc := newTestService(t, remote)
	ctx := context.Background()

	svc.Set(ctx, "search:tenant:1:abc", "payload", time.Minute)

	value, ok := svc.Get(ctx, "search:tenant:1:abc")
	require.True(t, ok)
	assert.Equal(t, "payload", value)

	// Served from the in-process tier, never the remote.
	assert.Equal(t, 0, remote.getCalls)

	// The remote copy exists too.
	assert.Equal(t, "payload", remote.data["search:tenant:1:abc"])
}

func TestCacheRemoteHitRepopulatesLocal(t *testing.T) {
	remote := newFakeRemote()
	remote.data["search:tenant:1:abc"] = "payload"
	svc := newTestService(t, remote)
	ctx := context.Background()

	value, ok := svc.Get(ctx, "search:tenant:1:abc")
	require.True(t, ok)
	assert.Equal(t, "payload", value)
	assert.Equal(t, 1, remote.getCalls)

	// Second read is served by the repopulated in-process tier.
	_, ok = svc.Get(ctx, "search:tenant:1:abc")
	require.True(t, ok)
	assert.Equal(t, 1, remote.getCalls)
}

func TestCacheRepopulateTTLConfigurable(t *testing.T) {
	remote := newFakeRemote()
	remote.data["search:tenant:1:abc"] = "payload"
	svc := NewService(remote, 10*time.Millisecond, logger.New("cache-test", "1.0.0"))
	t.Cleanup(svc.Stop)
	ctx := context.Background()

	_, ok := svc.Get(ctx, "search:tenant:1:abc")
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)

	// The promoted copy has expired, so the read goes back to the remote.
	_, ok = svc.Get(ctx, "search:tenant:1:abc")
	require.True(t, ok)
	assert.Equal(t, 2, remote.getCalls)
}

func TestCacheRemoteErrorIsMiss(t *testing.T) {
	remote := newFakeRemote()
	remote.failGet = true
	svc := newTestService(t, remote)

	_, ok := svc.Get(context.Background(), "search:tenant:1:abc")
	assert.False(t, ok)
}

func TestCacheSetSurvivesRemoteFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.failSet = true
	svc := newTestService(t, remote)
	ctx := context.Background()

	svc.Set(ctx, "search:tenant:1:abc", "payload", time.Minute)

	// The in-process copy stays authoritative for this process.
	value, ok := svc.Get(ctx, "search:tenant:1:abc")
	require.True(t, ok)
	assert.Equal(t, "payload", value)
}

func TestCacheDelete(t *testing.T) {
	remote := newFakeRemote()
	svc := newTestService(t, remote)
	ctx := context.Background()

	svc.Set(ctx, "search:tenant:1:abc", "payload", time.Minute)
	svc.Delete(ctx, "search:tenant:1:abc")

	_, ok := svc.Get(ctx, "search:tenant:1:abc")
	assert.False(t, ok)
	assert.Empty(t, remote.data)
}

func TestInvalidateTenantIsScoped(t *testing.T) {
	remote := newFakeRemote()
	remote.data["search:tenant:1:abc"] = "one"
	remote.data["search:tenant:1:def"] = "two"
	remote.data["search:tenant:2:abc"] = "other"
	svc := newTestService(t, remote)

	require.NoError(t, svc.InvalidateTenant(context.Background(), 1))

	assert.NotContains(t, remote.data, "search:tenant:1:abc")
	assert.NotContains(t, remote.data, "search:tenant:1:def")
	assert.Contains(t, remote.data, "search:tenant:2:abc")
}

func TestInvalidateTenantScanError(t *testing.T) {
	remote := newFakeRemote()
	remote.failScan = true
	svc := newTestService(t, remote)

	assert.Error(t, svc.InvalidateTenant(context.Background(), 1))
}

func TestInvalidateTenantLeavesLocalTier(t *testing.T) {
	remote := newFakeRemote()
	svc := newTestService(t, remote)
	ctx := context.Background()

	svc.Set(ctx, "search:tenant:1:abc", "payload", time.Minute)
	require.NoError(t, svc.InvalidateTenant(ctx, 1))

	// In-process entries expire on their own TTL; that window is the
	// accepted staleness bound.
	_, ok := svc.Get(ctx, "search:tenant:1:abc")
	assert.True(t, ok)
}

func TestStopIsIdempotent(t *testing.T) {
	svc := NewService(newFakeRemote(), 0, logger.New("cache-test", "1.0.0"))
	svc.Stop()
	svc.Stop()
}

func TestMemoryTierExpiry(t *testing.T) {
	tier := newMemoryTier()
	now := time.Now()

	tier.set("a", "1", 50*time.Millisecond, now)
	tier.set("b", "2", time.Minute, now)

	value, ok := tier.get("a", now)
	require.True(t, ok)
	assert.Equal(t, "1", value)

	// Lazy expiry on read.
	_, ok = tier.get("a", now.Add(time.Second))
	assert.False(t, ok)

	_, ok = tier.get("b", now.Add(time.Second))
	assert.True(t, ok)
}

func TestMemoryTierExpiryKeepsReplacedEntry(t *testing.T) {
	tier := newMemoryTier()
	now := time.Now()

	tier.set("a", "old", 10*time.Millisecond, now)

	// A reader saw the old entry as expired, but a fresh entry replaced it
	// before the expiry ran. The fresh entry must survive.
	later := now.Add(time.Second)
	tier.set("a", "fresh", time.Minute, later)
	tier.deleteExpired("a", later)

	value, ok := tier.get("a", later)
	require.True(t, ok)
	assert.Equal(t, "fresh", value)
}

func TestMemoryTierSweep(t *testing.T) {
	tier := newMemoryTier()
	now := time.Now()

	tier.set("a", "1", 10*time.Millisecond, now)
	tier.set("b", "2", 20*time.Millisecond, now)
	tier.set("c", "3", time.Minute, now)

	removed := tier.sweep(now.Add(time.Second))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, tier.len())
}
