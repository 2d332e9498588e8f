package lockout

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	failures    int
	windowEnds  time.Time
	lockedUntil time.Time
}

// MemoryStore is the single-instance fallback when Redis is not configured.
type MemoryStore struct {
	mu          sync.Mutex
	data        map[string]*entry
	maxAttempts int
	cooldown    time.Duration
	clock       clockwork.Clock
}

// NewMemoryStore returns a store locking after maxAttempts failures. Zero
// maxAttempts disables it.
func NewMemoryStore(maxAttempts int, cooldown time.Duration, clock clockwork.Clock) *MemoryStore {
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		data:        make(map[string]*entry),
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
		clock:       clock,
	}
}

func (s *MemoryStore) IsLocked(_ context.Context, email string) (bool, time.Duration, error) {
	if s.maxAttempts <= 0 {
		return false, 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[normalize(email)]
	if !ok {
		return false, 0, nil
	}
	now := s.clock.Now()
	if now.Before(e.lockedUntil) {
		return true, e.lockedUntil.Sub(now), nil
	}
	return false, 0, nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, email string) error {
	if s.maxAttempts <= 0 {
		return nil
	}
	key := normalize(email)
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.data[key]
	if e == nil || !now.Before(e.windowEnds) {
		e = &entry{windowEnds: now.Add(s.cooldown)}
		s.data[key] = e
	}
	e.failures++
	if e.failures >= s.maxAttempts {
		e.lockedUntil = now.Add(s.cooldown)
		e.failures = 0
		e.windowEnds = e.lockedUntil
	}
	return nil
}

func (s *MemoryStore) RecordSuccess(_ context.Context, email string) error {
	if s.maxAttempts <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, normalize(email))
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = Disabled{}
)
