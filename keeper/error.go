package keeper

import (
	"errors"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")

	// ErrNoTokens means no usable stored credentials exist and no refresh
	// token is available.  Unlike a refresh failure, retrying won't help:
	// the caller must re-authenticate the user.
	ErrNoTokens = errors.New("no tokens available")
)
