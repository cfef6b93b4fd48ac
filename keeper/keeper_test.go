package keeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authkeep/authkeep/oidc"
	"github.com/authkeep/authkeep/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	key := make([]byte, store.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	kr, err := store.NewStaticKeyring(key)
	require.NoError(t, err)
	s, err := store.New(store.NewMemoryKV(), kr)
	require.NoError(t, err)
	return s
}

func testKeeper(t *testing.T, tp *oidc.TestProvider, clock clockwork.Clock) (*Keeper, *store.Store) {
	t.Helper()
	client, err := oidc.NewClient(oidc.WithProviderCA(tp.CACert()), oidc.WithClock(clock))
	require.NoError(t, err)

	s := testStore(t)
	k, err := New(&Config{
		Issuer:   tp.Addr(),
		ClientID: "client-id",
	}, client, s, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(k.Done)
	return k, s
}

func TestNew(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	client, err := oidc.NewClient()
	require.NoError(err)
	s := testStore(t)

	_, err = New(&Config{ClientID: "client-id"}, client, s)
	assert.ErrorIs(err, ErrInvalidParameter)

	_, err = New(&Config{Issuer: "https://idp.example"}, client, s)
	assert.ErrorIs(err, ErrInvalidParameter)

	_, err = New(&Config{Issuer: "ftp://idp.example", ClientID: "client-id"}, client, s)
	assert.ErrorIs(err, ErrInvalidParameter)

	_, err = New(&Config{Issuer: "https://idp.example", ClientID: "client-id"}, nil, s)
	assert.ErrorIs(err, ErrNilParameter)

	_, err = New(&Config{Issuer: "https://idp.example", ClientID: "client-id"}, client, nil)
	assert.ErrorIs(err, ErrNilParameter)

	k, err := New(&Config{Issuer: "https://idp.example", ClientID: "client-id"}, client, s)
	require.NoError(err)
	defer k.Done()
	assert.Equal(StateNoToken, k.State().Kind)
}

func TestKeeper_AccessToken_NoCredentials(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, _ := testKeeper(t, tp, clock)

	_, err := k.AccessToken(ctx)
	require.Error(err)
	assert.True(errors.Is(err, ErrNoTokens))

	// discovery ran, but the token endpoint was never called
	assert.Equal(1, tp.DiscoveryCount())
	assert.Equal(0, tp.RefreshCount())
	assert.Equal(StateNoToken, k.State().Kind)
}

func TestKeeper_AccessToken_ValidStored(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	stored := &oidc.TokenSet{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		TokenType:    "Bearer",
		ExpiresAt:    clock.Now().Unix() + 600,
	}
	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), stored))

	got, err := k.AccessToken(ctx)
	require.NoError(err)
	assert.Equal(stored, got)
	assert.Equal(StateValid, k.State().Kind)

	// second call in succession: still zero refresh calls, one discovery
	got, err = k.AccessToken(ctx)
	require.NoError(err)
	assert.Equal(stored, got)
	assert.Equal(0, tp.RefreshCount())
	assert.Equal(1, tp.DiscoveryCount())
}

func TestKeeper_AccessToken_ExpiredRefreshes(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	tp.SetExpectedRefreshToken("stored-refresh")
	tp.SetReplyTokens("new-access", "new-refresh")
	tp.SetReplyExpiresIn(3600)

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	// clock is one second past the stored expiry
	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    clock.Now().Unix() - 1,
	}))

	got, err := k.AccessToken(ctx)
	require.NoError(err)
	assert.Equal("new-access", got.AccessToken)
	assert.Equal("new-refresh", got.RefreshToken)
	assert.Equal(clock.Now().Unix()+3600-30-60, got.ExpiresAt)
	assert.Equal(1, tp.RefreshCount())
	assert.Equal(StateValid, k.State().Kind)

	// the refreshed set superseded the stored one
	stored, err := s.GetTokens(ctx, store.DefaultScope())
	require.NoError(err)
	assert.Equal(got, stored)

	// and the next call returns it without another refresh
	got, err = k.AccessToken(ctx)
	require.NoError(err)
	assert.Equal("new-access", got.AccessToken)
	assert.Equal(1, tp.RefreshCount())
}

func TestKeeper_AccessToken_ForceRefresh(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	tp.SetReplyTokens("forced-access", "forced-refresh")

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    clock.Now().Unix() + 600,
	}))

	got, err := k.AccessToken(ctx, WithForceRefresh())
	require.NoError(err)
	assert.Equal("forced-access", got.AccessToken)
	assert.Equal(1, tp.RefreshCount())
}

func TestKeeper_AccessToken_NoRefreshToken(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{
		AccessToken: "stored-access",
		ExpiresAt:   clock.Now().Unix() - 1,
	}))

	_, err := k.AccessToken(ctx)
	require.Error(err)
	assert.True(errors.Is(err, ErrNoTokens))
	assert.Equal(0, tp.RefreshCount())
	assert.Equal(StateInvalid, k.State().Kind)
}

func TestKeeper_AccessToken_RefreshFailure(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	tp.SetTokenError("invalid_grant", "refresh token is revoked")

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    clock.Now().Unix() - 1,
	}))

	_, err := k.AccessToken(ctx)
	require.Error(err)

	var pe *oidc.ProviderError
	require.True(errors.As(err, &pe))
	assert.Equal("invalid_grant", pe.Code)

	state := k.State()
	assert.Equal(StateInvalid, state.Kind)
	assert.Contains(state.Message, "refresh token is revoked")
}

func TestKeeper_AccessToken_SingleFlight(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	tp.SetReplyTokens("shared-access", "shared-refresh")
	tp.SetResponseDelay(100 * time.Millisecond)

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    clock.Now().Unix() - 1,
	}))

	const n = 10
	results := make([]*oidc.TokenSet, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = k.AccessToken(ctx)
		}(i)
	}
	wg.Wait()

	assert.Equal(1, tp.RefreshCount())
	for i := 0; i < n; i++ {
		require.NoError(errs[i])
		assert.Equal("shared-access", results[i].AccessToken)
	}
}

func TestKeeper_AccessToken_CancelledMidRefresh(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    clock.Now().Unix() + 600,
	}))

	// warm the discovery cache so the delay below hits only the refresh
	_, err := k.AccessToken(ctx)
	require.NoError(err)

	clock.Advance(time.Hour) // stored set is now expired
	tp.SetResponseDelay(500 * time.Millisecond)

	callCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := k.AccessToken(callCtx)
		done <- err
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()

	err = <-done
	require.Error(err)
	assert.True(errors.Is(err, context.Canceled))

	// the flight resolves to Invalid, never a dangling Refreshing
	deadline := time.Now().Add(2 * time.Second)
	for {
		state := k.State()
		if state.Kind != StateRefreshing {
			assert.Equal(StateInvalid, state.Kind)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("state stuck at refreshing after cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// nothing was written: the stored set is still the pre-refresh one
	got, err := s.GetTokens(ctx, store.DefaultScope())
	require.NoError(err)
	require.NotNil(got)
	assert.Equal("stored-access", got.AccessToken)
	assert.Equal("stored-refresh", got.RefreshToken)
}

func TestKeeper_AccessToken_DiscoveryFailure(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()

	client, err := oidc.NewClient()
	require.NoError(err)
	k, err := New(&Config{
		Issuer:   "https://127.0.0.1:1",
		ClientID: "client-id",
	}, client, testStore(t))
	require.NoError(err)
	defer k.Done()

	_, err = k.AccessToken(ctx)
	require.Error(err)
	assert.True(errors.Is(err, oidc.ErrDiscoveryFailed))
}

func TestKeeper_AccessToken_RefreshTokenCarriedForward(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	// provider rotates the access token but returns no refresh token
	tp.SetReplyTokens("new-access", "")

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    clock.Now().Unix() - 1,
	}))

	got, err := k.AccessToken(ctx)
	require.NoError(err)
	assert.Equal("new-access", got.AccessToken)
	assert.Equal("stored-refresh", got.RefreshToken)

	stored, err := s.GetTokens(ctx, store.DefaultScope())
	require.NoError(err)
	assert.Equal("stored-refresh", stored.RefreshToken)
}

func TestKeeper_AutoLoginCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rewrites-stored-set", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		tp.SetReplyAutoLoginCode("ABC123")
		clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
		k, s := testKeeper(t, tp, clock)

		stored := &oidc.TokenSet{
			AccessToken:  "stored-access",
			RefreshToken: "stored-refresh",
			TokenType:    "Bearer",
			Scope:        "openid profile",
			ExpiresAt:    clock.Now().Unix() + 600,
		}
		require.NoError(s.SaveTokens(ctx, store.DefaultScope(), stored))

		code, err := k.RequestAutoLoginCode(ctx, "alice", map[string]string{"device_name": "test"})
		require.NoError(err)
		assert.Equal("ABC123", code)
		assert.Equal(1, tp.AutoLoginCodeCount())

		got, err := s.GetTokens(ctx, store.DefaultScope())
		require.NoError(err)
		assert.Equal("ABC123", got.AutoLoginCode)
		// every other field byte-identical
		assert.Equal(stored.AccessToken, got.AccessToken)
		assert.Equal(stored.RefreshToken, got.RefreshToken)
		assert.Equal(stored.TokenType, got.TokenType)
		assert.Equal(stored.Scope, got.Scope)
		assert.Equal(stored.ExpiresAt, got.ExpiresAt)

		// the read side never calls the network
		read, err := k.AutoLoginCode(ctx)
		require.NoError(err)
		assert.Equal("ABC123", read)
		assert.Equal(1, tp.AutoLoginCodeCount())
	})

	t.Run("no-stored-set", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		tp.SetReplyAutoLoginCode("XYZ789")
		clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
		k, s := testKeeper(t, tp, clock)

		code, err := k.RequestAutoLoginCode(ctx, "alice", nil)
		require.NoError(err)
		assert.Equal("XYZ789", code)

		// nothing to rewrite, nothing written
		got, err := s.GetTokens(ctx, store.DefaultScope())
		require.NoError(err)
		assert.Nil(got)

		_, err = k.AutoLoginCode(ctx)
		assert.True(errors.Is(err, ErrNoTokens))
	})

	t.Run("always-a-network-call", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		tp.SetReplyAutoLoginCode("ABC123")
		clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
		k, _ := testKeeper(t, tp, clock)

		_, err := k.RequestAutoLoginCode(ctx, "alice", nil)
		require.NoError(err)
		_, err = k.RequestAutoLoginCode(ctx, "alice", nil)
		require.NoError(err)
		assert.Equal(2, tp.AutoLoginCodeCount())
	})

	t.Run("missing-username", func(t *testing.T) {
		assert := assert.New(t)
		tp := oidc.StartTestProvider(t)
		clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
		k, _ := testKeeper(t, tp, clock)

		_, err := k.RequestAutoLoginCode(ctx, "", nil)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
}

func TestKeeper_ClearTokens(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{
		AccessToken: "stored-access",
		ExpiresAt:   clock.Now().Unix() + 600,
	}))

	require.NoError(k.ClearTokens(ctx))
	assert.Equal(StateNoToken, k.State().Kind)

	got, err := s.GetTokens(ctx, store.DefaultScope())
	require.NoError(err)
	assert.Nil(got)
}

func TestKeeper_Scopes(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	other := store.Scope{ClientID: "client-id", UserID: "alice"}
	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{AccessToken: "a"}))
	require.NoError(s.SaveTokens(ctx, other, &oidc.TokenSet{AccessToken: "b"}))

	scopes, err := k.Scopes(ctx)
	require.NoError(err)
	assert.ElementsMatch([]store.Scope{store.DefaultScope(), other}, scopes)
}

func TestKeeper_Watch(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	tp.SetReplyTokens("new-access", "new-refresh")
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresAt:    clock.Now().Unix() - 1,
	}))

	states, cancel := k.Watch()
	defer cancel()

	// primed with the current state
	first := <-states
	assert.Equal(StateNoToken, first.Kind)

	_, err := k.AccessToken(ctx)
	require.NoError(err)

	// consuming after the call completes yields the latest state; the
	// intermediate Refreshing may have been conflated away
	deadline := time.After(2 * time.Second)
	for {
		select {
		case state := <-states:
			if state.Kind == StateValid {
				require.NotNil(state.Tokens)
				assert.Equal("new-access", state.Tokens.AccessToken)
				return
			}
			assert.Contains([]StateKind{StateRefreshing}, state.Kind)
		case <-deadline:
			t.Fatal("timed out waiting for StateValid")
		}
	}
}

func TestKeeper_TokenSource(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	k, s := testKeeper(t, tp, clock)

	require.NoError(s.SaveTokens(ctx, store.DefaultScope(), &oidc.TokenSet{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		TokenType:    "Bearer",
		ExpiresAt:    clock.Now().Unix() + 600,
	}))

	src := k.TokenSource(ctx)
	tok, err := src.Token()
	require.NoError(err)
	assert.Equal("stored-access", tok.AccessToken)
	assert.Equal("Bearer", tok.TokenType)
	assert.Equal(time.Unix(clock.Now().Unix()+600, 0), tok.Expiry)
	assert.Equal(0, tp.RefreshCount())
}
