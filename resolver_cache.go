package netycat

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingResolver remembers successful lookups of another [Resolver]
// for a fixed time. Failures are not cached. It is safe for concurrent use.
type CachingResolver struct {
	inner Resolver
	cache *expirable.LRU[string, []IPAddress]
}

// NewCachingResolver caches up to size names for ttl each.
func NewCachingResolver(inner Resolver, size int, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		inner: inner,
		cache: expirable.NewLRU[string, []IPAddress](size, nil, ttl),
	}
}

// Resolve implements [Resolver].
func (c *CachingResolver) Resolve(ctx context.Context, name string) ([]IPAddress, error) {
	if addrs, ok := c.cache.Get(name); ok {
		return slices.Clone(addrs), nil
	}

	addrs, err := c.inner.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	c.cache.Add(name, slices.Clone(addrs))
	return addrs, nil
}

// Purge drops every cached entry.
func (c *CachingResolver) Purge() {
	c.cache.Purge()
}
