// Package providers defines the uniform contract every external OAuth2
// provider is wrapped behind. An adapter is a pure exchange function: it
// turns a refresh token into a fresh access token and never persists
// anything itself.
package providers

import (
	"context"
	"time"
)

// TokenGrant is the result of a successful refresh exchange. ExpiresAt is
// derived from the provider's reported lifetime; when the provider omits it
// a conservative default is applied so the record never carries a stale
// expiry.
type TokenGrant struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Adapter wraps one provider's token-refresh exchange.
//
// Exchange fails with errors.InvalidGrantError when the refresh token is
// permanently rejected by the provider (revoked, expired under provider
// policy, or the app is still in a restricted mode) and with
// errors.TransientError for everything else (network, rate limit, outage,
// malformed response). Implementations must bound each call with their own
// timeout so one unresponsive provider cannot stall a whole sweep.
type Adapter interface {
	// ID returns the provider identity this adapter serves
	ID() string
	// Exchange trades a refresh token for a fresh access token
	Exchange(ctx context.Context, refreshToken string) (*TokenGrant, error)
}
