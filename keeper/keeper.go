package keeper

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/authkeep/authkeep/oidc"
	"github.com/authkeep/authkeep/store"
)

// Config represents the configuration for a Keeper.
type Config struct {
	// Issuer is a case-sensitive URL using the https (or http) scheme,
	// under whose well-known path the provider publishes its discovery
	// document.
	Issuer string

	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret.  Optional: public clients
	// refresh without one.
	ClientSecret oidc.ClientSecret

	// Scope is an optional OAuth scope string sent with refresh requests.
	Scope string

	// TokenScope addresses the keeper's token slot in the store.  The zero
	// value means store.DefaultScope().
	TokenScope store.Scope
}

// Validate the keeper configuration.
func (c *Config) Validate() error {
	const op = "keeper.(Config).Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("%s: issuer %s is invalid: %w", op, c.Issuer, ErrInvalidParameter)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%s: issuer %s scheme is not http or https: %w", op, c.Issuer, ErrInvalidParameter)
	}
	return nil
}

// Keeper owns the "current token for a scope" slot: it memoizes discovery,
// reads and writes the encrypted store, refreshes expired tokens with at
// most one in-flight refresh per scope, and publishes TokenState
// transitions.
type Keeper struct {
	config Config
	client *oidc.Client
	store  *store.Store

	scope    store.Scope
	scopeKey string

	discovery *DiscoveryCache
	clock     clockwork.Clock
	logger    hclog.Logger

	refreshGroup singleflight.Group
	notifier     *stateNotifier
}

// New creates a Keeper using the given endpoint client and token store.
// Supported options: WithLogger, WithClock, WithDiscoveryTTL,
// WithDiscoveryCache
//
// See Keeper.Done() which must be called to release keeper resources.
func New(c *Config, client *oidc.Client, tokenStore *store.Store, opt ...Option) (*Keeper, error) {
	const op = "keeper.New"
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: keeper config is invalid: %w", op, err)
	}
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("%s: token store is nil: %w", op, ErrNilParameter)
	}

	opts := getKeeperOpts(opt...)

	scope := c.TokenScope
	if scope == (store.Scope{}) {
		scope = store.DefaultScope()
	}

	discovery := opts.withDiscoveryCache
	if discovery == nil {
		discovery = NewDiscoveryCache(WithClock(opts.withClock), WithDiscoveryTTL(opts.withDiscoveryTTL))
	}

	return &Keeper{
		config:    *c,
		client:    client,
		store:     tokenStore,
		scope:     scope,
		scopeKey:  scope.StorageKey(),
		discovery: discovery,
		clock:     opts.withClock,
		logger:    opts.withLogger,
		notifier:  newStateNotifier(),
	}, nil
}

// Done releases the keeper's watchers and must be called for every Keeper
// created.
func (k *Keeper) Done() {
	if k == nil {
		return
	}
	k.notifier.closeAll()
}

// State returns the current TokenState.
func (k *Keeper) State() TokenState {
	return k.notifier.state()
}

// Watch returns a channel of TokenState transitions primed with the current
// value, and a cancel func that unregisters the watcher.  Delivery is
// most-recent-wins: a slow consumer sees the latest state, not every
// intermediate one.
func (k *Keeper) Watch() (<-chan TokenState, func()) {
	return k.notifier.watch()
}

// AccessToken returns a usable token set for the keeper's scope: the stored
// set when it has not expired, otherwise the result of a refresh.  At most
// one refresh per scope is in flight; concurrent callers await the same
// flight and observe the same result.  With no stored set or no refresh
// token it fails with ErrNoTokens and performs no token-endpoint call.
// Supported options: WithForceRefresh
func (k *Keeper) AccessToken(ctx context.Context, opt ...Option) (*oidc.TokenSet, error) {
	const op = "keeper.(Keeper).AccessToken"
	opts := getAccessTokenOpts(opt...)

	// a discovery failure is fatal to the call; it is not retried here
	endpoints, err := k.endpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !opts.withForceRefresh {
		current, err := k.store.GetTokens(ctx, k.scope)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if current.Valid(oidc.WithClock(k.clock)) {
			k.notifier.publish(TokenState{Kind: StateValid, Tokens: current})
			return current, nil
		}
	}

	ch := k.refreshGroup.DoChan(k.scopeKey, func() (interface{}, error) {
		return k.refresh(ctx, endpoints, opts.withForceRefresh)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%s: %w", op, res.Err)
		}
		return res.Val.(*oidc.TokenSet), nil
	case <-ctx.Done():
		// the flight, if shared, completes for the other waiters
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// refresh runs inside the per-scope singleflight.  The flight executes on
// the winning caller's context: if that caller cancels, the state resolves
// to Invalid (never a dangling Refreshing) and nothing is written.
func (k *Keeper) refresh(ctx context.Context, endpoints *oidc.DiscoveryEndpoints, force bool) (*oidc.TokenSet, error) {
	const op = "keeper.(Keeper).refresh"

	current, err := k.store.GetTokens(ctx, k.scope)
	if err != nil {
		return nil, err
	}

	// a flight that completed while this caller queued may have stored a
	// fresh set already
	if !force && current.Valid(oidc.WithClock(k.clock)) {
		k.notifier.publish(TokenState{Kind: StateValid, Tokens: current})
		return current, nil
	}

	if current == nil {
		k.notifier.publish(TokenState{Kind: StateNoToken})
		return nil, fmt.Errorf("%s: nothing stored for scope: %w", op, ErrNoTokens)
	}
	if current.RefreshToken == "" {
		k.notifier.publish(TokenState{Kind: StateInvalid, Message: ErrNoTokens.Error()})
		return nil, fmt.Errorf("%s: stored set has no refresh token: %w", op, ErrNoTokens)
	}

	k.notifier.publish(TokenState{Kind: StateRefreshing})
	k.logger.Debug("refreshing token set", "scope_key", k.scopeKey)

	refreshed, err := k.client.Refresh(ctx, oidc.RefreshRequest{
		TokenEndpoint: endpoints.TokenEndpoint,
		ClientID:      k.config.ClientID,
		ClientSecret:  k.config.ClientSecret,
		RefreshToken:  current.RefreshToken,
		Scope:         k.config.Scope,
	})
	if err != nil {
		k.notifier.publish(TokenState{Kind: StateInvalid, Message: err.Error()})
		return nil, err
	}

	if refreshed.RefreshToken == "" {
		// provider didn't rotate the refresh token; carry it forward so the
		// next refresh still works
		refreshed = &oidc.TokenSet{
			AccessToken:   refreshed.AccessToken,
			RefreshToken:  current.RefreshToken,
			TokenType:     refreshed.TokenType,
			Scope:         refreshed.Scope,
			ExpiresAt:     refreshed.ExpiresAt,
			AutoLoginCode: refreshed.AutoLoginCode,
		}
	}

	if err := k.store.SaveTokens(ctx, k.scope, refreshed); err != nil {
		k.notifier.publish(TokenState{Kind: StateInvalid, Message: err.Error()})
		return nil, err
	}

	k.notifier.publish(TokenState{Kind: StateValid, Tokens: refreshed})
	k.logger.Debug("token set refreshed", "scope_key", k.scopeKey, "expires_at", refreshed.ExpiresAt)
	return refreshed, nil
}

// RequestAutoLoginCode requests a fresh auto login code from the provider.
// It always performs a network call; callers wanting an "already have one"
// short-circuit should check AutoLoginCode first.  On success, when a token
// set is stored for the scope it is rewritten with the new code attached and
// every other field unchanged.
func (k *Keeper) RequestAutoLoginCode(ctx context.Context, username string, additionalParams map[string]string) (string, error) {
	const op = "keeper.(Keeper).RequestAutoLoginCode"
	if username == "" {
		return "", fmt.Errorf("%s: username is empty: %w", op, ErrInvalidParameter)
	}

	endpoints, err := k.endpoints(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	code, err := k.client.RequestAutoLoginCode(ctx, oidc.AutoLoginCodeRequest{
		TokenEndpoint:    endpoints.TokenEndpoint,
		ClientID:         k.config.ClientID,
		ClientSecret:     k.config.ClientSecret,
		Username:         username,
		AdditionalParams: additionalParams,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	current, err := k.store.GetTokens(ctx, k.scope)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if current != nil {
		if err := k.store.SaveTokens(ctx, k.scope, current.WithAutoLoginCode(code)); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}
	return code, nil
}

// AutoLoginCode returns the auto login code attached to the stored token
// set.  It is a pure store read and never calls the network.  ErrNoTokens is
// returned when nothing is stored or the stored set carries no code.
func (k *Keeper) AutoLoginCode(ctx context.Context) (string, error) {
	const op = "keeper.(Keeper).AutoLoginCode"
	current, err := k.store.GetTokens(ctx, k.scope)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if current == nil || current.AutoLoginCode == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNoTokens)
	}
	return current.AutoLoginCode, nil
}

// ClearTokens erases the stored token set for the keeper's scope and resets
// the state to NoToken.
func (k *Keeper) ClearTokens(ctx context.Context) error {
	const op = "keeper.(Keeper).ClearTokens"
	if err := k.store.ClearTokens(ctx, k.scope); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	k.notifier.publish(TokenState{Kind: StateNoToken})
	return nil
}

// Scopes returns the scope of every token set in the keeper's store, not
// just the keeper's own.
func (k *Keeper) Scopes(ctx context.Context) ([]store.Scope, error) {
	const op = "keeper.(Keeper).Scopes"
	scopes, err := k.store.AllScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return scopes, nil
}

func (k *Keeper) endpoints(ctx context.Context) (*oidc.DiscoveryEndpoints, error) {
	return k.discovery.Get(ctx, func(ctx context.Context) (*oidc.DiscoveryEndpoints, error) {
		return k.client.Discover(ctx, k.config.Issuer)
	})
}
