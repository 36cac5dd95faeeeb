package cache

import (
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// memoryTier is the in-process cache tier: a TTL map with lazy expiry on
// read. There is no capacity bound; the TTL is the staleness bound.
type memoryTier struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func newMemoryTier() *memoryTier {
	return &memoryTier{
		entries: make(map[string]memoryEntry),
	}
}

func (m *memoryTier) get(key string, now time.Time) (string, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	if now.After(entry.expiresAt) {
		m.deleteExpired(key, now)
		return "", false
	}
	return entry.value, true
}

// deleteExpired removes the key only if it is still expired: a concurrent
// set may have replaced the entry since the read, and a fresh entry must
// survive the lazy expiry of the one it replaced.
func (m *memoryTier) deleteExpired(key string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[key]; ok && now.After(entry.expiresAt) {
		delete(m.entries, key)
	}
}

func (m *memoryTier) set(key, value string, ttl time.Duration, now time.Time) {
	m.mu.Lock()
	m.entries[key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	m.mu.Unlock()
}

func (m *memoryTier) delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// sweep removes every expired entry and reports how many were removed.
func (m *memoryTier) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

func (m *memoryTier) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
