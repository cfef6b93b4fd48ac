package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/authkeep/authkeep/oidc"
)

// SaveTokens seals and stores tokens under the scope's storage key,
// superseding any previously stored set for that scope.
func (s *Store) SaveTokens(ctx context.Context, scope Scope, tokens *oidc.TokenSet) error {
	const op = "store.(Store).SaveTokens"
	if tokens == nil {
		return fmt.Errorf("%s: tokens is nil: %w", op, ErrNilParameter)
	}
	payload, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("%s: unable to encode tokens: %w", op, err)
	}
	if err := s.Put(ctx, scope.StorageKey(), payload); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetTokens retrieves the token set stored for scope, or (nil, nil) when none
// is stored (or the record is unreadable; see Get).  Unknown fields in the
// stored record are ignored, so newer optional fields don't break older
// readers.
func (s *Store) GetTokens(ctx context.Context, scope Scope) (*oidc.TokenSet, error) {
	const op = "store.(Store).GetTokens"
	payload, err := s.Get(ctx, scope.StorageKey())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if payload == nil {
		return nil, nil
	}

	var tokens oidc.TokenSet
	if err := json.Unmarshal(payload, &tokens); err != nil {
		// sealed but undecodable: same absence semantics as a failed open
		s.discard(scope.StorageKey(), "decode_payload")
		return nil, nil
	}
	return &tokens, nil
}

// ClearTokens erases the token set stored for scope.
func (s *Store) ClearTokens(ctx context.Context, scope Scope) error {
	const op = "store.(Store).ClearTokens"
	if err := s.Delete(ctx, scope.StorageKey()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AllScopes returns the scope of every stored token set, silently discarding
// keys that don't decode.
func (s *Store) AllScopes(ctx context.Context) ([]Scope, error) {
	const op = "store.(Store).AllScopes"
	keys, err := s.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var scopes []Scope
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		scope, ok := DecodeStorageKey(key)
		if !ok {
			continue
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// ClearAllTokens erases every stored token set, continuing past individual
// failures and returning them aggregated.
func (s *Store) ClearAllTokens(ctx context.Context) error {
	const op = "store.(Store).ClearAllTokens"
	keys, err := s.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var errs *multierror.Error
	for _, key := range keys {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %q: %w", op, key, err))
		}
	}
	return errs.ErrorOrNil()
}
