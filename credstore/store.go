package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrNotFound is returned when a key has no entry.
	ErrNotFound = errors.New("credential store entry not found")

	// ErrExpired is returned when an entry existed but had expired. It wraps [ErrNotFound], so callers which only care about presence can check for that.
	ErrExpired = fmt.Errorf("%w: expired", ErrNotFound)
)

// Raw string key/value backend for a [Store].
//
// Implementations must return [ErrNotFound] (possibly wrapped) from Get when a key is absent, and should allow concurrent access.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string) error
	// Delete reports whether an entry was present.
	Delete(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

// Envelope persisted for every key. ExpiresAt is unix milliseconds; zero means no expiry.
type Entry struct {
	ExpiresAt int64           `json:"expiresAt"`
	Value     json.RawMessage `json:"value"`
}

func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != 0 && e.ExpiresAt < now.UnixMilli()
}

// Store adds expiry envelopes and JSON encoding on top of a [Storage] backend.
type Store struct {
	Storage Storage
	Logger  *slog.Logger

	// Clock, overridable in tests
	Now func() time.Time
}

func NewStore(storage Storage) *Store {
	return &Store{
		Storage: storage,
		Logger:  slog.Default().With("component", "credstore"),
		Now:     time.Now,
	}
}

func (s *Store) entry(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.Storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decoding credential store entry %q: %w", key, err)
	}
	if e.Expired(s.Now()) {
		if _, err := s.Storage.Delete(ctx, key); err != nil {
			s.Logger.Warn("failed to delete expired entry", "key", key, "err", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrExpired, key)
	}
	return &e, nil
}

// Get decodes the value stored under key into v. Expired entries are deleted and reported as [ErrExpired].
func (s *Store) Get(ctx context.Context, key string, v any) error {
	e, err := s.entry(ctx, key)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(e.Value, v)
}

// Take is Get followed by Delete, for one-shot values.
func (s *Store) Take(ctx context.Context, key string, v any) error {
	if err := s.Get(ctx, key, v); err != nil {
		return err
	}
	if _, err := s.Storage.Delete(ctx, key); err != nil {
		return err
	}
	return nil
}

// Set stores v under key. A ttl of zero means the entry never expires.
func (s *Store) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e := Entry{Value: b}
	if ttl != 0 {
		e.ExpiresAt = s.Now().Add(ttl).UnixMilli()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.Storage.Set(ctx, key, string(raw))
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	return s.Storage.Delete(ctx, key)
}

func (s *Store) Clear(ctx context.Context) error {
	return s.Storage.Clear(ctx)
}

// Entries returns every envelope physically present in the backend, including ones which have expired but not been read since.
func (s *Store) Entries(ctx context.Context) (map[string]Entry, error) {
	keys, err := s.Storage.Keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(keys))
	for _, k := range keys {
		raw, err := s.Storage.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// not one of ours
			continue
		}
		out[k] = e
	}
	return out, nil
}

// Sweep deletes all expired entries, returning how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return 0, err
	}
	now := s.Now()
	count := 0
	for k, e := range entries {
		if !e.Expired(now) {
			continue
		}
		ok, err := s.Storage.Delete(ctx, k)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	if count > 0 {
		s.Logger.Debug("swept expired entries", "count", count)
	}
	return count, nil
}
