package discovery

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Caches issuer resolution results in process memory. Concurrent lookups for the same username share a single upstream resolution.
//
// Errors are cached too, but for ErrTTL (usually much shorter than the hit TTL).
type CacheIssuerResolver struct {
	Inner  IssuerResolver
	ErrTTL time.Duration

	cache *expirable.LRU[string, IssuerEntry]
	group singleflight.Group
}

type IssuerEntry struct {
	Updated time.Time
	Config  *ProviderConfig
	Err     error
}

var _ IssuerResolver = (*CacheIssuerResolver)(nil)

// Capacity of zero means unlimited size. Similarly, ttl of zero means unlimited duration.
func NewCacheIssuerResolver(inner IssuerResolver, capacity int, hitTTL, errTTL time.Duration) *CacheIssuerResolver {
	return &CacheIssuerResolver{
		Inner:  inner,
		ErrTTL: errTTL,
		cache:  expirable.NewLRU[string, IssuerEntry](capacity, nil, hitTTL),
	}
}

func (c *CacheIssuerResolver) isStale(e *IssuerEntry) bool {
	return e.Err != nil && time.Since(e.Updated) > c.ErrTTL
}

func issuerCacheKey(username, fallbackIssuer string) string {
	return username + " " + fallbackIssuer
}

func (c *CacheIssuerResolver) Resolve(ctx context.Context, username, fallbackIssuer string) (*ProviderConfig, error) {
	key := issuerCacheKey(username, fallbackIssuer)
	entry, ok := c.cache.Get(key)
	if ok && !c.isStale(&entry) {
		issuerCacheHits.Inc()
		return entry.Config, entry.Err
	}
	issuerCacheMisses.Inc()

	ch := c.group.DoChan(key, func() (any, error) {
		// detached from any single caller's cancellation, since the result is shared
		config, err := c.Inner.Resolve(context.WithoutCancel(ctx), username, fallbackIssuer)
		e := IssuerEntry{
			Updated: time.Now(),
			Config:  config,
			Err:     err,
		}
		c.cache.Add(key, e)
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			issuerRequestsCoalesced.Inc()
		}
		e := res.Val.(IssuerEntry)
		return e.Config, e.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Purge drops any cached result for a username.
func (c *CacheIssuerResolver) Purge(username, fallbackIssuer string) {
	c.cache.Remove(issuerCacheKey(username, fallbackIssuer))
}
