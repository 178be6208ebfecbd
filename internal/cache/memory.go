package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryNonceStore is the single-process NonceStore used when Redis is not
// configured and in tests.
type MemoryNonceStore struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	expiry map[string]time.Time
}

func NewMemoryNonceStore(clock clockwork.Clock) *MemoryNonceStore {
	return &MemoryNonceStore{clock: clock, expiry: make(map[string]time.Time)}
}

func (s *MemoryNonceStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for k, exp := range s.expiry {
		if !exp.After(now) {
			delete(s.expiry, k)
		}
	}
	if _, seen := s.expiry[key]; seen {
		return false, nil
	}
	s.expiry[key] = now.Add(ttl)
	return true, nil
}
