// keeper is a package for managing the lifecycle of OpenID Connect bearer
// credentials: it memoizes provider discovery, computes token validity,
// coordinates refresh, and persists token sets through an encrypted,
// scope-addressable store.
//
// Primary types provided by the package
//
// * Keeper: owns the "current token for a scope" slot.  AccessToken returns
// the stored token while it is valid and otherwise refreshes it, with at most
// one in-flight refresh per scope: concurrent callers await the same flight
// rather than issuing duplicate requests.
//
// * TokenState: the observable variant (NoToken, Refreshing, Valid, Invalid)
// published to watchers on every transition.  Delivery is most-recent-wins,
// not every-transition: a slow watcher may miss intermediate states.  Callers
// needing the original cause of a failure use AccessToken's returned error,
// not the state stream.
//
// * DiscoveryCache: an injectable cache of the provider's discovery result
// with an injected clock and TTL policy.  The default TTL of zero caches for
// the process lifetime.
//
// The keeper performs no interactive re-authentication: when no refresh
// token is available it fails with ErrNoTokens and the caller must
// re-authenticate the user.
package keeper
