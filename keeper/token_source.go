package keeper

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource backed by the keeper, so managed
// credentials plug into any oauth2-aware client.  Each Token call goes
// through AccessToken and therefore shares the keeper's refresh
// coordination.
func (k *Keeper) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &keeperTokenSource{ctx: ctx, keeper: k}
}

type keeperTokenSource struct {
	ctx    context.Context
	keeper *Keeper
}

// Token implements oauth2.TokenSource.
func (s *keeperTokenSource) Token() (*oauth2.Token, error) {
	tokens, err := s.keeper.AccessToken(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		TokenType:    tokens.TokenType,
		RefreshToken: tokens.RefreshToken,
		Expiry:       time.Unix(tokens.ExpiresAt, 0),
	}, nil
}
