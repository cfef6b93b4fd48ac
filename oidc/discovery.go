package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// WellKnownPath is the path of the provider discovery document, relative to
// the issuer URL.
const WellKnownPath = "/.well-known/openid-configuration"

// DiscoveryEndpoints is the provider metadata resolved from the discovery
// document.  It is immutable and never persisted to durable storage; callers
// memoize it (see the keeper package's DiscoveryCache).
type DiscoveryEndpoints struct {
	Issuer        string `json:"issuer"`
	TokenEndpoint string `json:"token_endpoint"`
	JWKSURI       string `json:"jwks_uri"`
}

// Discover fetches and decodes the discovery document published under
// issuer's well-known path.  A trailing slash on the issuer is tolerated.
// The call is not retried; a network or decode failure is returned wrapped
// in ErrDiscoveryFailed.
func (c *Client) Discover(ctx context.Context, issuer string) (*DiscoveryEndpoints, error) {
	const op = "oidc.(Client).Discover"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidIssuer)
	}
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: issuer %s is invalid: %w", op, issuer, ErrInvalidIssuer)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%s: issuer %s scheme is not http or https: %w", op, issuer, ErrInvalidIssuer)
	}

	wellKnown := strings.TrimSuffix(issuer, "/") + WellKnownPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrDiscoveryFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read discovery document: %w", op, ErrDiscoveryFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d from %s: %w", op, resp.StatusCode, wellKnown, ErrDiscoveryFailed)
	}

	var endpoints DiscoveryEndpoints
	if err := json.Unmarshal(body, &endpoints); err != nil {
		return nil, fmt.Errorf("%s: unable to decode discovery document: %v: %w", op, err, ErrDiscoveryFailed)
	}
	if endpoints.Issuer == "" || endpoints.TokenEndpoint == "" || endpoints.JWKSURI == "" {
		return nil, fmt.Errorf("%s: discovery document is missing required fields: %w", op, ErrDiscoveryFailed)
	}

	c.logger.Debug("resolved provider endpoints",
		"issuer", endpoints.Issuer,
		"token_endpoint", endpoints.TokenEndpoint,
	)
	return &endpoints, nil
}
