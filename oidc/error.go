package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrInvalidCACert        = errors.New("invalid CA certificate")
	ErrInvalidIssuer        = errors.New("invalid issuer")
	ErrDiscoveryFailed      = errors.New("discovery failed")
	ErrTokenEndpointFailed  = errors.New("token endpoint request failed")
	ErrRefreshFailed        = errors.New("token refresh failed")
	ErrMissingAccessToken   = errors.New("access_token is missing")
	ErrMissingAutoLoginCode = errors.New("auto_login_code is missing")
)

// ProviderError represents an error body returned by a provider's token
// endpoint (see RFC 6749 §5.2).  Description and URI are optional.
type ProviderError struct {
	// Code is the provider's "error" field.
	Code string

	// Description is the provider's optional "error_description" field.
	Description string

	// URI is the provider's optional "error_uri" field.
	URI string

	// StatusCode is the HTTP status the provider responded with.
	StatusCode int
}

// Error prefers the provider's human readable description when one was
// supplied.
func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error %q: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error %q (status %d)", e.Code, e.StatusCode)
}
