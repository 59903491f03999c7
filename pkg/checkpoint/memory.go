package checkpoint

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore keeps checkpoints in an LRU keyed by user. One live
// checkpoint per user; a new save replaces the previous one.
type MemoryStore struct {
	cache *lru.Cache[string, *Record]
	ttl   time.Duration
	nowFn func() time.Time
}

// NewMemoryStore creates an in-memory store with the given capacity.
func NewMemoryStore(capacity int, ttl time.Duration) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	cache, err := lru.New[string, *Record](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: cache, ttl: ttl, nowFn: time.Now}, nil
}

// WithClock overrides the store's clock, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.nowFn = now
	return s
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	now := s.nowFn()
	stored := *rec
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = now.Add(s.ttl)
	}
	s.cache.Add(rec.UserID, &stored)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, userID string) (*Record, error) {
	rec, ok := s.cache.Get(userID)
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Expired(s.nowFn()) {
		s.cache.Remove(userID)
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.cache.Remove(userID)
	return nil
}

func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}

var _ Store = (*MemoryStore)(nil)
