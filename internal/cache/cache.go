package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redbco/redb-search/pkg/logger"
)

const (
	// DefaultRepopulateTTL is the short in-process lifetime given to
	// entries promoted from the persistent tier.
	DefaultRepopulateTTL = 30 * time.Second

	// sweepInterval is how often the background pass purges expired
	// in-process entries.
	sweepInterval = 60 * time.Second
)

// Service is the two-tier result cache: an in-process TTL tier in front of a
// persistent store. The persistent tier is best-effort throughout; its
// failures degrade to a miss and must never fail a request.
type Service struct {
	remote        RemoteStore
	local         *memoryTier
	repopulateTTL time.Duration
	logger        *logger.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates the cache and starts its background sweep. A
// repopulateTTL of zero uses DefaultRepopulateTTL.
func NewService(remote RemoteStore, repopulateTTL time.Duration, logger *logger.Logger) *Service {
	if repopulateTTL <= 0 {
		repopulateTTL = DefaultRepopulateTTL
	}
	s := &Service{
		remote:        remote,
		local:         newMemoryTier(),
		repopulateTTL: repopulateTTL,
		logger:        logger,
		stop:          make(chan struct{}),
	}

	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

// Get checks the in-process tier first, then the persistent tier. A
// persistent-tier hit repopulates the in-process tier with a short TTL.
func (s *Service) Get(ctx context.Context, key string) (string, bool) {
	if value, ok := s.local.get(key, time.Now()); ok {
		return value, true
	}

	value, ok, err := s.remote.Get(ctx, key)
	if err != nil {
		s.logger.Warnf("Persistent cache get failed for %s: %v", key, err)
		return "", false
	}
	if !ok {
		return "", false
	}

	s.local.set(key, value, s.repopulateTTL, time.Now())
	return value, true
}

// Set writes the in-process tier synchronously; the persistent-tier write is
// best-effort, so the in-process copy stays authoritative for this process
// even when the store is down.
func (s *Service) Set(ctx context.Context, key, value string, ttl time.Duration) {
	s.local.set(key, value, ttl, time.Now())

	if err := s.remote.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warnf("Persistent cache set failed for %s: %v", key, err)
	}
}

// Delete removes the key from both tiers.
func (s *Service) Delete(ctx context.Context, key string) {
	s.local.delete(key)

	if err := s.remote.Del(ctx, key); err != nil {
		s.logger.Warnf("Persistent cache delete failed for %s: %v", key, err)
	}
}

// InvalidateTenant removes every persistent-tier key under the tenant's
// namespace. In-process entries are left to expire on their own TTL; that
// window is the accepted staleness bound.
func (s *Service) InvalidateTenant(ctx context.Context, tenantID int64) error {
	pattern := TenantPattern(tenantID)

	keys, err := s.remote.ScanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to scan cache keys for tenant %d: %w", tenantID, err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.remote.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate %d cache keys for tenant %d: %w", len(keys), tenantID, err)
	}

	s.logger.Debugf("Invalidated %d cached results for tenant %d", len(keys), tenantID)
	return nil
}

// Stop cancels the background sweep. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

// TenantPattern is the persistent-tier key pattern covering every cached
// result for a tenant.
func TenantPattern(tenantID int64) string {
	return fmt.Sprintf("search:tenant:%d:*", tenantID)
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if removed := s.local.sweep(now); removed > 0 {
				s.logger.Debugf("Swept %d expired cache entries", removed)
			}
		}
	}
}
