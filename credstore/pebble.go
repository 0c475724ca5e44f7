package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Persistent [Storage] in a local pebble database directory. This is what command-line tools use so that a login survives between invocations.
//
// All keys are written under a one-byte prefix, leaving room for other data in the same database.
type PebbleStorage struct {
	db  *pebble.DB
	log *slog.Logger

	// serializes read-then-delete
	lk sync.Mutex
}

var _ Storage = (*PebbleStorage)(nil)

const pebblePrefix = 'c'

func OpenPebbleStorage(path string) (*PebbleStorage, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%s: could not open db, %w", path, err)
	}
	return &PebbleStorage{
		db:  db,
		log: slog.Default().With("component", "credstore", "backend", "pebble"),
	}, nil
}

func (s *PebbleStorage) Close() error {
	if err := s.db.Flush(); err != nil {
		s.log.Error("pebble flush", "err", err)
	}
	return s.db.Close()
}

func pebbleKey(key string) []byte {
	return append([]byte{pebblePrefix}, key...)
}

func (s *PebbleStorage) Get(ctx context.Context, key string) (string, error) {
	value, closer, err := s.db.Get(pebbleKey(key))
	if closer != nil {
		defer closer.Close()
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("pebble get err, %w", err)
	}
	// value is only valid until closer is closed
	return string(value), nil
}

func (s *PebbleStorage) Set(ctx context.Context, key, val string) error {
	if err := s.db.Set(pebbleKey(key), []byte(val), pebble.Sync); err != nil {
		return fmt.Errorf("pebble set err, %w", err)
	}
	return nil
}

func (s *PebbleStorage) Delete(ctx context.Context, key string) (bool, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	pk := pebbleKey(key)
	_, closer, err := s.db.Get(pk)
	if closer != nil {
		closer.Close()
	}
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebble get err, %w", err)
	}
	if err := s.db.Delete(pk, pebble.Sync); err != nil {
		return false, fmt.Errorf("pebble delete err, %w", err)
	}
	return true, nil
}

func (s *PebbleStorage) Clear(ctx context.Context) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	return s.db.DeleteRange([]byte{pebblePrefix}, []byte{pebblePrefix + 1}, pebble.Sync)
}

func (s *PebbleStorage) Keys(ctx context.Context) ([]string, error) {
	iter, err := s.db.NewIterWithContext(ctx, &pebble.IterOptions{
		LowerBound: []byte{pebblePrefix},
		UpperBound: []byte{pebblePrefix + 1},
	})
	if err != nil {
		return nil, fmt.Errorf("credential iter start, %w", err)
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()[1:]))
	}
	return keys, iter.Error()
}
