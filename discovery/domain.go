package discovery

import (
	"context"
	"errors"
	"maps"
	"sync"
)

// Looks up raw key/value records attached to a domain name.
//
// Implementations return an empty or partial map when records simply don't exist, and only return an error when the lookup itself failed. Missing keys may be absent from the map or map to "".
type DomainResolver interface {
	Records(ctx context.Context, domain string, keys []string) (map[string]string, error)
}

// Adapts a plain function to [DomainResolver].
type DomainResolverFunc func(ctx context.Context, domain string, keys []string) (map[string]string, error)

func (f DomainResolverFunc) Records(ctx context.Context, domain string, keys []string) (map[string]string, error) {
	return f(ctx, domain, keys)
}

// In-memory [DomainResolver], for tests and local development.
type MemoryDomainResolver struct {
	mu      sync.RWMutex
	records map[string]map[string]string
}

var _ DomainResolver = (*MemoryDomainResolver)(nil)

func NewMemoryDomainResolver() *MemoryDomainResolver {
	return &MemoryDomainResolver{
		records: make(map[string]map[string]string),
	}
}

// Set merges records into any existing records for the domain.
func (m *MemoryDomainResolver) Set(domain string, records map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[domain]
	if !ok {
		existing = make(map[string]string, len(records))
		m.records[domain] = existing
	}
	maps.Copy(existing, records)
}

func (m *MemoryDomainResolver) Records(ctx context.Context, domain string, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return nil, errors.New("no record keys requested")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(keys))
	records, ok := m.records[domain]
	if !ok {
		return out, nil
	}
	for _, k := range keys {
		out[k] = records[k]
	}
	return out, nil
}
