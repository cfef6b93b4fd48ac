package keeper

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/authkeep/authkeep/oidc"
)

// DiscoveryCache memoizes a provider's discovery result.  Concurrent misses
// share a single fetch.  With the default TTL of zero a result is cached for
// the process lifetime: a provider rotating its endpoints then requires
// Invalidate or a restart.
type DiscoveryCache struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu        sync.Mutex
	endpoints *oidc.DiscoveryEndpoints
	fetchedAt time.Time

	group singleflight.Group
}

// NewDiscoveryCache creates a DiscoveryCache.
// Supported options: WithClock, WithDiscoveryTTL
func NewDiscoveryCache(opt ...Option) *DiscoveryCache {
	opts := getCacheOpts(opt...)
	return &DiscoveryCache{
		clock: opts.withClock,
		ttl:   opts.withTTL,
	}
}

// Get returns the cached endpoints, fetching them with fetch on a miss.
// Concurrent callers during a miss await the same fetch; a waiter whose ctx
// is done returns early while the fetch completes for the others.
func (c *DiscoveryCache) Get(ctx context.Context, fetch func(context.Context) (*oidc.DiscoveryEndpoints, error)) (*oidc.DiscoveryEndpoints, error) {
	if endpoints, ok := c.cached(); ok {
		return endpoints, nil
	}

	ch := c.group.DoChan("discovery", func() (interface{}, error) {
		// a fetch that completed while we queued wins
		if endpoints, ok := c.cached(); ok {
			return endpoints, nil
		}
		endpoints, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.endpoints = endpoints
		c.fetchedAt = c.clock.Now()
		c.mu.Unlock()
		return endpoints, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oidc.DiscoveryEndpoints), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cached result; the next Get fetches again.
func (c *DiscoveryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints = nil
}

func (c *DiscoveryCache) cached() (*oidc.DiscoveryEndpoints, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoints == nil {
		return nil, false
	}
	if c.ttl > 0 && c.clock.Now().Sub(c.fetchedAt) >= c.ttl {
		c.endpoints = nil
		return nil, false
	}
	return c.endpoints, true
}
