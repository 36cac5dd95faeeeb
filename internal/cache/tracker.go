package cache

import (
	"sync"
	"time"
)

// DefaultWriteWindow is how long a user's write keeps forcing cache bypass.
const DefaultWriteWindow = 5 * time.Minute

// WriteTracker records which cache-key namespaces a user's recent writes
// invalidated so that user's next searches skip the cache and observe their
// own data immediately. Other users keep reading cached results.
type WriteTracker struct {
	mu     sync.Mutex
	window time.Duration
	writes map[string]map[string]struct{}
}

// NewWriteTracker creates a tracker. A window of zero uses DefaultWriteWindow.
func NewWriteTracker(window time.Duration) *WriteTracker {
	if window <= 0 {
		window = DefaultWriteWindow
	}
	return &WriteTracker{
		window: window,
		writes: make(map[string]map[string]struct{}),
	}
}

// TrackWrite records the namespace under the user. The record expires on its
// own after the window, independent of any other record.
func (t *WriteTracker) TrackWrite(userID, namespace string) {
	t.mu.Lock()
	namespaces, ok := t.writes[userID]
	if !ok {
		namespaces = make(map[string]struct{})
		t.writes[userID] = namespaces
	}
	namespaces[namespace] = struct{}{}
	t.mu.Unlock()

	time.AfterFunc(t.window, func() {
		t.expire(userID, namespace)
	})
}

// IsRecentWrite reports whether the user wrote into the namespace within the
// window. No side effects.
func (t *WriteTracker) IsRecentWrite(userID, namespace string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	namespaces, ok := t.writes[userID]
	if !ok {
		return false
	}
	_, ok = namespaces[namespace]
	return ok
}

// ClearUser drops every record for the user.
func (t *WriteTracker) ClearUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.writes, userID)
}

func (t *WriteTracker) expire(userID, namespace string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	namespaces, ok := t.writes[userID]
	if !ok {
		return
	}
	delete(namespaces, namespace)
	if len(namespaces) == 0 {
		delete(t.writes, userID)
	}
}
