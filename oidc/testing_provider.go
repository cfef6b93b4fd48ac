package oidc

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestProvider is a local server that supports the discovery and token
// endpoint capabilities this package talks to, which makes writing tests much
// easier.  It never signs tokens; the bearer strings it issues are opaque.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	expectedRefreshToken string
	replyAccessToken     string
	replyRefreshToken    string
	replyTokenType       string
	replyScope           string
	replyExpiresIn       int64
	replyAutoLoginCode   string
	tokenErrorCode       string
	tokenErrorDesc       string
	responseDelay        time.Duration
	omitJWKSURI          bool

	discoveryCount int
	refreshCount   int
	autoLoginCount int

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider running an HTTPS
// server.  Use CACert with the client's WithProviderCA option to trust it.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:                 t,
		replyAccessToken:  "test-access-token",
		replyRefreshToken: "test-refresh-token",
		replyTokenType:    "Bearer",
		replyExpiresIn:    3600,
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running
// webserver.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SetClientCreds configures the client information the provider requires of
// token endpoint requests.  Empty values disable the corresponding check.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedRefreshToken configures the refresh token the provider will
// accept.  An empty value disables the check.
func (p *TestProvider) SetExpectedRefreshToken(refreshToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = refreshToken
}

// SetReplyTokens configures the access and refresh tokens returned by the
// token endpoint.
func (p *TestProvider) SetReplyTokens(accessToken, refreshToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyAccessToken = accessToken
	p.replyRefreshToken = refreshToken
}

// SetReplyExpiresIn configures the expires_in (seconds) returned by the token
// endpoint.
func (p *TestProvider) SetReplyExpiresIn(seconds int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiresIn = seconds
}

// SetReplyScope configures the scope returned by the token endpoint.
func (p *TestProvider) SetReplyScope(scope string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyScope = scope
}

// SetReplyAutoLoginCode configures the auto_login_code returned for
// auto_login_code grants.  An empty value omits the field.
func (p *TestProvider) SetReplyAutoLoginCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyAutoLoginCode = code
}

// SetTokenError forces the token endpoint into an error state, returning the
// given error code and description for every grant.  An empty code clears the
// error state.
func (p *TestProvider) SetTokenError(code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErrorCode = code
	p.tokenErrorDesc = description
}

// SetResponseDelay makes the token endpoint sleep before replying, which is
// useful when tests need concurrent requests to overlap.
func (p *TestProvider) SetResponseDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responseDelay = d
}

// OmitJWKSURI forces an error state where the discovery document is missing
// its jwks_uri.
func (p *TestProvider) OmitJWKSURI() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitJWKSURI = true
}

// DiscoveryCount returns the number of discovery document fetches served.
func (p *TestProvider) DiscoveryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryCount
}

// RefreshCount returns the number of refresh_token grants served, including
// rejected ones.
func (p *TestProvider) RefreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCount
}

// AutoLoginCodeCount returns the number of auto_login_code grants served,
// including rejected ones.
func (p *TestProvider) AutoLoginCodeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.autoLoginCount
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.t.Helper()

	// parse the form before taking the lock; FormValue is used below
	_ = req.ParseForm()

	p.mu.Lock()
	delay := p.responseDelay
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case WellKnownPath:
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.discoveryCount++

		reply := struct {
			Issuer        string `json:"issuer"`
			TokenEndpoint string `json:"token_endpoint"`
			JWKSURI       string `json:"jwks_uri,omitempty"`
		}{
			Issuer:        p.Addr(),
			TokenEndpoint: p.Addr() + "/token",
			JWKSURI:       p.Addr() + "/keys",
		}
		if p.omitJWKSURI {
			reply.JWKSURI = ""
		}

		if err := p.writeJSON(w, &reply); err != nil {
			return
		}

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		switch req.FormValue("grant_type") {
		case "refresh_token":
			p.refreshCount++
			p.serveRefresh(w, req)
		case "auto_login_code":
			p.autoLoginCount++
			p.serveAutoLoginCode(w, req)
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveRefresh(w http.ResponseWriter, req *http.Request) {
	switch {
	case p.tokenErrorCode != "":
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, p.tokenErrorCode, p.tokenErrorDesc)
		return
	case p.clientID != "" && req.FormValue("client_id") != p.clientID:
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unexpected client_id")
		return
	case p.clientSecret != "" && req.FormValue("client_secret") != p.clientSecret:
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "unexpected client_secret")
		return
	case p.expectedRefreshToken != "" && req.FormValue("refresh_token") != p.expectedRefreshToken:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected refresh_token")
		return
	}

	reply := struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token,omitempty"`
		Scope        string `json:"scope,omitempty"`
	}{
		AccessToken:  p.replyAccessToken,
		TokenType:    p.replyTokenType,
		ExpiresIn:    p.replyExpiresIn,
		RefreshToken: p.replyRefreshToken,
		Scope:        p.replyScope,
	}
	_ = p.writeJSON(w, &reply)
}

func (p *TestProvider) serveAutoLoginCode(w http.ResponseWriter, req *http.Request) {
	switch {
	case p.tokenErrorCode != "":
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, p.tokenErrorCode, p.tokenErrorDesc)
		return
	case req.FormValue("username") == "":
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing username parameter")
		return
	}

	reply := struct {
		AutoLoginCode string `json:"auto_login_code,omitempty"`
	}{
		AutoLoginCode: p.replyAutoLoginCode,
	}
	_ = p.writeJSON(w, &reply)
}
