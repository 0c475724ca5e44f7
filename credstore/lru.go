package credstore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// In-process [Storage] with a capacity bound, evicting least-recently-used entries.
//
// The LRU's own TTL is a coarse upper bound on residency; per-entry expiry is still enforced by [Store] envelopes.
type LRUStorage struct {
	Data *expirable.LRU[string, string]
}

var _ Storage = (*LRUStorage)(nil)

// Capacity of zero means unlimited size. Similarly, ttl of zero means unlimited duration.
func NewLRUStorage(capacity int, ttl time.Duration) *LRUStorage {
	return &LRUStorage{
		Data: expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

func (s *LRUStorage) Get(ctx context.Context, key string) (string, error) {
	v, ok := s.Data.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *LRUStorage) Set(ctx context.Context, key, val string) error {
	s.Data.Add(key, val)
	return nil
}

func (s *LRUStorage) Delete(ctx context.Context, key string) (bool, error) {
	return s.Data.Remove(key), nil
}

func (s *LRUStorage) Clear(ctx context.Context) error {
	s.Data.Purge()
	return nil
}

func (s *LRUStorage) Keys(ctx context.Context) ([]string, error) {
	return s.Data.Keys(), nil
}
