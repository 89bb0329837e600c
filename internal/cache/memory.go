package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same semantics as the Redis
// implementation, including versioned upserts and TTL expiry. It backs tests
// and single-node deployments without a cache backend.
//
// Expired entries become invisible to Get/Exists immediately but are only
// physically removed by Delete or the sync daemon's prune pass, mirroring a
// backend without native expiry.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	counts  map[string]counter
	now     func() time.Time // overridable in tests
}

type counter struct {
	n       int64
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		counts:  make(map[string]counter),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.Expired(s.now()) {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[key]; ok && cur.Version >= e.Version {
		return nil // stale write, dropped
	}
	cp := *e
	if cp.ExpiresAt.IsZero() && ttl > 0 {
		cp.ExpiresAt = s.now().Add(ttl)
	}
	s.entries[key] = &cp
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}
	s.mu.Lock()
	delete(s.entries, key)
	delete(s.counts, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counts[key]
	if c.n == 0 || s.now().After(c.expires) {
		c = counter{n: 0, expires: s.now().Add(ttl)}
	}
	c.n++
	s.counts[key] = c
	return c.n, nil
}

func (s *MemoryStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }
