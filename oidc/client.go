package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// maxResponseBytes bounds how much of a provider response body is read.
const maxResponseBytes = 1 << 20

// ClientSecret is a relying party secret
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Client performs the discovery fetch and token-endpoint POST requests.  All
// operations are side-effect free beyond the single network call they make;
// nothing is retried internally.
type Client struct {
	client       *http.Client
	logger       hclog.Logger
	clock        clockwork.Clock
	expiryBuffer time.Duration
	clockSkew    time.Duration
}

// NewClient creates a Client.
// Supported options: WithHTTPClient, WithProviderCA, WithLogger, WithClock,
// WithExpiryBuffer, WithClockSkew
func NewClient(opt ...Option) (*Client, error) {
	const op = "oidc.NewClient"
	opts := getClientOpts(opt...)

	client := opts.withHTTPClient
	if client == nil {
		var err error
		client, err = NewHTTPClient(opts.withProviderCA)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
		}
	}

	return &Client{
		client:       client,
		logger:       opts.withLogger,
		clock:        opts.withClock,
		expiryBuffer: opts.withExpiryBuffer,
		clockSkew:    opts.withClockSkew,
	}, nil
}

// RefreshRequest carries the fields for a refresh_token grant.
// ClientSecret and Scope are optional.
type RefreshRequest struct {
	TokenEndpoint string
	ClientID      string
	RefreshToken  string
	ClientSecret  ClientSecret
	Scope         string
}

// Refresh submits a refresh_token grant to the token endpoint.  On HTTP
// success the provider token response is converted to a TokenSet with its
// usable expiry computed from the client's buffer and skew margins.  Failures
// are wrapped in ErrRefreshFailed; a provider error body is carried in the
// chain as a *ProviderError.
func (c *Client) Refresh(ctx context.Context, r RefreshRequest) (*TokenSet, error) {
	const op = "oidc.(Client).Refresh"
	switch {
	case r.TokenEndpoint == "":
		return nil, fmt.Errorf("%s: token endpoint is empty: %w", op, ErrInvalidParameter)
	case r.ClientID == "":
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	case r.RefreshToken == "":
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {r.ClientID},
		"refresh_token": {r.RefreshToken},
	}
	if r.ClientSecret != "" {
		form.Set("client_secret", string(r.ClientSecret))
	}
	if r.Scope != "" {
		form.Set("scope", r.Scope)
	}

	reply, err := c.postForm(ctx, r.TokenEndpoint, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err)
	}
	if reply.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAccessToken)
	}

	tokens := &TokenSet{
		AccessToken:  reply.AccessToken,
		RefreshToken: reply.RefreshToken,
		TokenType:    reply.TokenType,
		Scope:        reply.Scope,
		ExpiresAt: ComputeExpiry(c.clock.Now(), reply.ExpiresIn,
			WithExpiryBuffer(c.expiryBuffer), WithClockSkew(c.clockSkew)),
		AutoLoginCode: reply.AutoLoginCode,
	}
	c.logger.Debug("refreshed token set", "token_type", tokens.TokenType, "expires_at", tokens.ExpiresAt)
	return tokens, nil
}

// AutoLoginCodeRequest carries the fields for an auto_login_code grant.
// ClientSecret is optional; AdditionalParams are provider specific extra form
// fields supplied by the caller.
type AutoLoginCodeRequest struct {
	TokenEndpoint    string
	ClientID         string
	Username         string
	ClientSecret     ClientSecret
	AdditionalParams map[string]string
}

// RequestAutoLoginCode submits an auto_login_code grant to the token
// endpoint.  It succeeds only if the response carries a non-empty auto login
// code.
func (c *Client) RequestAutoLoginCode(ctx context.Context, r AutoLoginCodeRequest) (string, error) {
	const op = "oidc.(Client).RequestAutoLoginCode"
	switch {
	case r.TokenEndpoint == "":
		return "", fmt.Errorf("%s: token endpoint is empty: %w", op, ErrInvalidParameter)
	case r.ClientID == "":
		return "", fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	case r.Username == "":
		return "", fmt.Errorf("%s: username is empty: %w", op, ErrInvalidParameter)
	}

	form := url.Values{
		"grant_type": {"auto_login_code"},
		"client_id":  {r.ClientID},
		"username":   {r.Username},
	}
	if r.ClientSecret != "" {
		form.Set("client_secret", string(r.ClientSecret))
	}
	for k, v := range r.AdditionalParams {
		form.Set(k, v)
	}

	reply, err := c.postForm(ctx, r.TokenEndpoint, form)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if reply.AutoLoginCode == "" {
		return "", fmt.Errorf("%s: %w", op, ErrMissingAutoLoginCode)
	}
	return reply.AutoLoginCode, nil
}

// tokenReply is a provider token response.  Unknown fields are ignored.
type tokenReply struct {
	AccessToken   string `json:"access_token"`
	TokenType     string `json:"token_type"`
	ExpiresIn     int64  `json:"expires_in"`
	RefreshToken  string `json:"refresh_token"`
	Scope         string `json:"scope"`
	AutoLoginCode string `json:"auto_login_code"`
}

// providerErrorReply is a provider error response body (RFC 6749 §5.2).
type providerErrorReply struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	URI         string `json:"error_uri"`
}

// postForm submits the form to the token endpoint.  Failures are wrapped in
// the grant-neutral ErrTokenEndpointFailed with the underlying cause kept in
// the chain, so callers can still test for e.g. context.Canceled.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*tokenReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenEndpointFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read response: %w", ErrTokenEndpointFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var reply providerErrorReply
		if err := json.Unmarshal(body, &reply); err != nil || reply.Code == "" {
			return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrTokenEndpointFailed, resp.StatusCode, endpoint)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenEndpointFailed, &ProviderError{
			Code:        reply.Code,
			Description: reply.Description,
			URI:         reply.URI,
			StatusCode:  resp.StatusCode,
		})
	}

	var reply tokenReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%w: unable to decode token response: %w", ErrTokenEndpointFailed, err)
	}
	return &reply, nil
}

// clientOptions is the set of available options for NewClient
type clientOptions struct {
	withHTTPClient   *http.Client
	withProviderCA   string
	withLogger       hclog.Logger
	withClock        clockwork.Clock
	withExpiryBuffer time.Duration
	withClockSkew    time.Duration
}

// clientDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func clientDefaults() clientOptions {
	return clientOptions{
		withLogger:       hclog.NewNullLogger(),
		withClock:        clockwork.NewRealClock(),
		withExpiryBuffer: DefaultExpiryBuffer,
		withClockSkew:    DefaultClockSkew,
	}
}

// getClientOpts gets the defaults and applies the opt overrides passed in
func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
