// Package alerts holds the operator-facing alert surfaces: the bounded
// in-memory cache of recent alerts, the HTTP read API over it, and the
// best-effort audit trail store.
package alerts

import (
	"sync"

	"github.com/mbd888/riskwatch/internal/event"
)

// DefaultMaxRecent is the default capacity of the recent-alerts cache.
const DefaultMaxRecent = 100

// RecentStore keeps the most recent alerts, newest first. When the cache
// is full the oldest alert is dropped. Readers always see a consistent
// prefix; the pipeline is the single writer but the lock makes the store
// safe for any caller.
type RecentStore struct {
	mu     sync.RWMutex
	alerts []*event.RiskAlert
	max    int
}

// NewRecentStore creates a cache holding up to max alerts. A non-positive
// max falls back to DefaultMaxRecent.
func NewRecentStore(max int) *RecentStore {
	if max <= 0 {
		max = DefaultMaxRecent
	}
	return &RecentStore{max: max}
}

// Add prepends alert, evicting the oldest entry on overflow.
func (s *RecentStore) Add(alert *event.RiskAlert) {
	if alert == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append(s.alerts, nil)
	copy(s.alerts[1:], s.alerts)
	s.alerts[0] = alert
	if len(s.alerts) > s.max {
		s.alerts = s.alerts[:s.max]
	}
}

// Recent returns up to limit alerts, newest first. A non-positive limit
// returns all cached alerts. The returned slice is a copy.
func (s *RecentStore) Recent(limit int) []*event.RiskAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.alerts)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]*event.RiskAlert, n)
	copy(result, s.alerts[:n])
	return result
}

// Len returns the number of cached alerts.
func (s *RecentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}
