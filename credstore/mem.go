package credstore

import (
	"context"
	"sync"
)

// Simple in-memory implementation of [Storage].
//
// Everything is lost when the process exits, which makes this appropriate for tests, short-lived CLI invocations, and single-process demos.
type MemStorage struct {
	data map[string]string

	lk sync.Mutex
}

var _ Storage = &MemStorage{}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		data: make(map[string]string),
	}
}

func (m *MemStorage) Get(ctx context.Context, key string) (string, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemStorage) Set(ctx context.Context, key, val string) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	m.data[key] = val
	return nil
}

func (m *MemStorage) Delete(ctx context.Context, key string) (bool, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	_, ok := m.data[key]
	delete(m.data, key)
	return ok, nil
}

func (m *MemStorage) Clear(ctx context.Context) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	clear(m.data)
	return nil
}

func (m *MemStorage) Keys(ctx context.Context) ([]string, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}
