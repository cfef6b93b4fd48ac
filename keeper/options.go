package keeper

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithLogger provides an optional hclog.Logger for the keeper.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*keeperOptions); ok {
			o.withLogger = l
		}
	}
}

// WithClock provides an optional clock, overriding the wall clock.  It's used
// for expiry checks and the discovery cache's TTL policy.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *keeperOptions:
			v.withClock = c
		case *cacheOptions:
			v.withClock = c
		}
	}
}

// WithDiscoveryTTL provides an optional TTL for cached discovery results.
// Zero (the default) caches for the process lifetime.
func WithDiscoveryTTL(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *keeperOptions:
			v.withDiscoveryTTL = d
		case *cacheOptions:
			v.withTTL = d
		}
	}
}

// WithDiscoveryCache provides an optional pre-built discovery cache, e.g. one
// shared by several keepers talking to the same provider.
func WithDiscoveryCache(c *DiscoveryCache) Option {
	return func(o interface{}) {
		if o, ok := o.(*keeperOptions); ok {
			o.withDiscoveryCache = c
		}
	}
}

// WithForceRefresh makes AccessToken refresh even when the stored token set
// has not expired.
func WithForceRefresh() Option {
	return func(o interface{}) {
		if o, ok := o.(*accessTokenOptions); ok {
			o.withForceRefresh = true
		}
	}
}

// keeperOptions is the set of available options for New
type keeperOptions struct {
	withLogger         hclog.Logger
	withClock          clockwork.Clock
	withDiscoveryTTL   time.Duration
	withDiscoveryCache *DiscoveryCache
}

// keeperDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func keeperDefaults() keeperOptions {
	return keeperOptions{
		withLogger: hclog.NewNullLogger(),
		withClock:  clockwork.NewRealClock(),
	}
}

// getKeeperOpts gets the defaults and applies the opt overrides passed in
func getKeeperOpts(opt ...Option) keeperOptions {
	opts := keeperDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// accessTokenOptions is the set of available options for AccessToken
type accessTokenOptions struct {
	withForceRefresh bool
}

func accessTokenDefaults() accessTokenOptions {
	return accessTokenOptions{}
}

func getAccessTokenOpts(opt ...Option) accessTokenOptions {
	opts := accessTokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// cacheOptions is the set of available options for NewDiscoveryCache
type cacheOptions struct {
	withClock clockwork.Clock
	withTTL   time.Duration
}

func cacheDefaults() cacheOptions {
	return cacheOptions{
		withClock: clockwork.NewRealClock(),
	}
}

func getCacheOpts(opt ...Option) cacheOptions {
	opts := cacheDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
