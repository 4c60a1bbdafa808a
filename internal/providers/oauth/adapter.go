// Package oauth implements the provider adapter contract for standard OAuth2
// refresh-token exchanges. One Adapter instance serves one provider; the
// concrete providers differ only in endpoint, auth style and how the client
// secret is produced.
package oauth

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"token-refresher/internal/circuitbreaker"
	"token-refresher/internal/common/errors"
	"token-refresher/internal/common/logging"
	"token-refresher/internal/providers"
)

const (
	// defaultTimeout bounds a single token exchange
	defaultTimeout = 30 * time.Second
	// defaultLifetime is assumed when a provider omits expires_in. It is
	// deliberately short: re-refreshing an already-fresh token next sweep is
	// wasted work, not a correctness hazard.
	defaultLifetime = time.Hour
)

// SecretFunc produces the client secret for one exchange. Most providers use
// a static secret; Apple mints a short-lived signed JWT per call.
type SecretFunc func() (string, error)

// StaticSecret wraps a fixed client secret.
func StaticSecret(secret string) SecretFunc {
	return func() (string, error) { return secret, nil }
}

// Adapter performs refresh-token exchanges against one provider's token
// endpoint, guarded by a per-provider circuit breaker and timeout.
type Adapter struct {
	id         string
	clientID   string
	secret     SecretFunc
	endpoint   oauth2.Endpoint
	scopes     []string
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	timeout    time.Duration
	logger     logging.Logger
}

// Options configures an Adapter beyond its identity and credentials.
type Options struct {
	// Scopes to request on refresh; most providers ignore this and re-issue
	// the originally granted scopes
	Scopes []string
	// Timeout bounds one exchange (default 30s)
	Timeout time.Duration
	// HTTPClient overrides the default client, used in tests
	HTTPClient *http.Client
}

// NewAdapter creates an adapter for one provider.
func NewAdapter(id, clientID string, secret SecretFunc, endpoint oauth2.Endpoint, opts Options) *Adapter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := logging.GetGlobalLogger().WithFields(logging.Field{Key: "provider", Value: id})

	return &Adapter{
		id:         id,
		clientID:   clientID,
		secret:     secret,
		endpoint:   endpoint,
		scopes:     opts.Scopes,
		httpClient: httpClient,
		breaker:    circuitbreaker.NewGoBreaker(id+"-token-endpoint", circuitbreaker.TokenEndpointConfig, logger),
		timeout:    timeout,
		logger:     logger,
	}
}

// ID returns the provider identity this adapter serves.
func (a *Adapter) ID() string {
	return a.id
}

// Exchange trades a refresh token for a fresh access token.
func (a *Adapter) Exchange(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
	if refreshToken == "" {
		return nil, errors.ValidationError("refresh token is required")
	}

	clientSecret, err := a.secret()
	if err != nil {
		return nil, errors.TransientError("failed to produce client secret", err)
	}

	conf := &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: clientSecret,
		Endpoint:     a.endpoint,
		Scopes:       a.scopes,
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	var token *oauth2.Token
	err = a.breaker.Execute(ctx, func() error {
		var exchangeErr error
		token, exchangeErr = conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
		if exchangeErr != nil {
			return classifyExchangeError(a.id, exchangeErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if token.AccessToken == "" {
		return nil, errors.TransientError("provider returned an empty access token", nil)
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultLifetime)
	}

	return &providers.TokenGrant{
		AccessToken: token.AccessToken,
		ExpiresAt:   expiresAt,
	}, nil
}

// classifyExchangeError maps an oauth2 retrieval failure onto the refresh
// error taxonomy: invalid_grant is terminal for the connection, everything
// else is retried on the next sweep.
func classifyExchangeError(provider string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if stderrors.As(err, &retrieveErr) {
		if isInvalidGrant(retrieveErr) {
			return errors.InvalidGrantError("refresh token rejected by provider", err).
				WithContext("provider", provider)
		}
		return errors.TransientError("token endpoint rejected the exchange", err).
			WithContext("provider", provider)
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.TimeoutError("token exchange", err).WithContext("provider", provider)
	}

	return errors.TransientError("token exchange failed", err).WithContext("provider", provider)
}

func isInvalidGrant(err *oauth2.RetrieveError) bool {
	if err.ErrorCode == "invalid_grant" {
		return true
	}
	// Some providers return invalid_grant in a non-JSON body; the structured
	// ErrorCode is empty in that case.
	return err.ErrorCode == "" && strings.Contains(string(err.Body), "invalid_grant")
}
