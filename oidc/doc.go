// oidc is a package for talking to an OpenID Connect provider's discovery
// and token endpoints on behalf of a client application.
//
// Primary types provided by the package
//
// * TokenSet: an issued set of bearer credentials (access token, optional
// refresh token, optional auto login code) with its usable expiry already
// computed.
//
// * DiscoveryEndpoints: the provider metadata resolved from the well-known
// discovery document.
//
// * Client: performs the discovery fetch and the token-endpoint POST
// requests (refresh_token and auto_login_code grants), translating provider
// success and error bodies into typed results.  The client never retries;
// retry policy belongs to the caller.
//
// The package performs no JWT signature validation and implements no
// interactive grants.
package oidc
