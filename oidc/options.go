package oidc

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithClock provides an optional clock used when computing or checking token
// expiry.  It's intended for tests; the default is the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenOptions:
			v.withClock = c
		case *clientOptions:
			v.withClock = c
		}
	}
}

// WithExpiryBuffer provides an optional duration subtracted from a token's
// provider-reported lifetime to cover network latency near the expiry
// boundary.
func WithExpiryBuffer(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenOptions:
			v.withExpiryBuffer = d
		case *clientOptions:
			v.withExpiryBuffer = d
		}
	}
}

// WithClockSkew provides an optional duration subtracted from a token's
// provider-reported lifetime to cover disagreement between the client and
// server clocks.
func WithClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *tokenOptions:
			v.withClockSkew = d
		case *clientOptions:
			v.withClockSkew = d
		}
	}
}

// WithLogger provides an optional hclog.Logger for the client.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withLogger = l
		}
	}
}

// WithHTTPClient provides an optional http client, overriding the client the
// package would otherwise construct.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withHTTPClient = c
		}
	}
}

// WithProviderCA provides an optional CA cert (PEM) to trust when sending
// requests to the provider.
func WithProviderCA(pem string) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withProviderCA = pem
		}
	}
}
