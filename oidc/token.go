package oidc

import (
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultExpiryBuffer is subtracted from a token's provider-reported
	// lifetime to cover network latency near the expiry boundary.
	DefaultExpiryBuffer = 30 * time.Second

	// DefaultClockSkew is subtracted from a token's provider-reported
	// lifetime to cover disagreement between client and server clocks.
	DefaultClockSkew = 60 * time.Second
)

// TokenSet is an issued set of bearer credentials for one storage scope.
// ExpiresAt carries the buffer and skew margins already baked in (see
// ComputeExpiry); nothing else re-derives it.
//
// A TokenSet is immutable once constructed: updates produce a new value (see
// WithAutoLoginCode).  Unknown fields in a stored record are ignored when
// unmarshaling, so older readers tolerate newer optional fields.
type TokenSet struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	TokenType     string `json:"token_type,omitempty"`
	Scope         string `json:"scope,omitempty"`
	ExpiresAt     int64  `json:"expires_at"`
	AutoLoginCode string `json:"auto_login_code,omitempty"`
}

// RedactedTokenSet is the string form of a TokenSet; token values are never
// included.
const RedactedTokenSet = "[REDACTED: token set]"

// String redacts the token values.
func (t *TokenSet) String() string {
	return RedactedTokenSet
}

// WithAutoLoginCode returns a copy of the set with the auto login code
// attached.  All other fields are unchanged.
func (t *TokenSet) WithAutoLoginCode(code string) *TokenSet {
	cp := *t
	cp.AutoLoginCode = code
	return &cp
}

// Expired reports whether the set's access token has expired.  Supports the
// WithClock option; the expiry margins are already part of ExpiresAt, so no
// additional skew is applied here.
func (t *TokenSet) Expired(opt ...Option) bool {
	opts := getTokenOpts(opt...)
	return opts.withClock.Now().Unix() >= t.ExpiresAt
}

// Valid reports whether the set is usable: non-nil, carries an access token
// and is not expired.  Supports the WithClock option.
func (t *TokenSet) Valid(opt ...Option) bool {
	if t == nil {
		return false
	}
	if t.AccessToken == "" {
		return false
	}
	return !t.Expired(opt...)
}

// ComputeExpiry returns the epoch seconds at which a token issued at now with
// a provider-reported expires_in (seconds) should be considered expired:
// now + expires_in - buffer - skew.  Both margins shorten the usable
// lifetime.  Supports the WithExpiryBuffer and WithClockSkew options.
func ComputeExpiry(now time.Time, expiresIn int64, opt ...Option) int64 {
	opts := getTokenOpts(opt...)
	return now.Unix() + expiresIn -
		int64(opts.withExpiryBuffer/time.Second) -
		int64(opts.withClockSkew/time.Second)
}

// tokenOptions is the set of available options for TokenSet functions
type tokenOptions struct {
	withClock        clockwork.Clock
	withExpiryBuffer time.Duration
	withClockSkew    time.Duration
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withClock:        clockwork.NewRealClock(),
		withExpiryBuffer: DefaultExpiryBuffer,
		withClockSkew:    DefaultClockSkew,
	}
}

// getTokenOpts gets the defaults and applies the opt overrides passed in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
