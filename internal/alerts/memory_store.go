package alerts

import (
	"context"
	"sync"

	"github.com/mbd888/riskwatch/internal/event"
)

// MemoryStore is an in-memory Store for single-node deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	byEntity map[string][]*event.RiskAlert
}

// NewMemoryStore creates an in-memory alert audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byEntity: make(map[string][]*event.RiskAlert)}
}

func (s *MemoryStore) Record(ctx context.Context, alert *event.RiskAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *alert
	s.byEntity[alert.EntityID] = append(s.byEntity[alert.EntityID], &a)
	return nil
}

func (s *MemoryStore) ListByEntity(ctx context.Context, entityID string, limit int) ([]*event.RiskAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byEntity[entityID]
	if len(all) == 0 {
		return nil, nil
	}
	start := len(all) - limit
	if limit <= 0 || start < 0 {
		start = 0
	}

	// Most recent first.
	result := make([]*event.RiskAlert, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		a := *all[i]
		result = append(result, &a)
	}
	return result, nil
}
