// Package connections defines the persisted credential record binding a
// project to one external OAuth2 provider, and the store contract the
// refresh worker consumes.
package connections

import (
	"context"
	"time"
)

// Connection binds a project to one external provider. AccessToken and
// ExpiresAt are overwritten together on every successful refresh; they must
// never be updated independently.
type Connection struct {
	// ID uniquely identifies the connection
	ID string `json:"id"`
	// ProjectID references the owning project (opaque to this worker)
	ProjectID string `json:"project_id"`
	// Provider identifies which external service this connection authenticates against
	Provider string `json:"provider"`
	// AccessToken is the short-lived credential; empty before the first refresh
	AccessToken string `json:"access_token"`
	// RefreshToken is the long-lived credential; a connection without one can never be refreshed
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is when the access token becomes invalid; nil means unknown,
	// which the scanner treats as already expired
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NeedsRefresh reports whether the connection is due for refresh at the
// given cutoff (now + buffer window). Connections without a refresh token
// are never due since there is no way to proceed.
func (c *Connection) NeedsRefresh(cutoff time.Time) bool {
	if c.RefreshToken == "" {
		return false
	}
	if c.ExpiresAt == nil {
		return true
	}
	return !c.ExpiresAt.After(cutoff)
}

// Store is the connection store contract the worker consumes. Backends must
// guarantee that UpdateToken writes access token and expiry atomically.
type Store interface {
	// Create persists a new connection
	Create(ctx context.Context, conn *Connection) error
	// Get retrieves a connection by ID, returns a not-found error if absent
	Get(ctx context.Context, id string) (*Connection, error)
	// FindExpiring returns connections for the provider that have a non-empty
	// refresh token and whose expiry is unknown or at/before the cutoff
	FindExpiring(ctx context.Context, provider string, cutoff time.Time) ([]*Connection, error)
	// UpdateToken overwrites the access token and expiry of one connection
	// as a single atomic write
	UpdateToken(ctx context.Context, id string, accessToken string, expiresAt time.Time) error
	// Delete removes a connection
	Delete(ctx context.Context, id string) error
	// Health reports whether the backend is reachable
	Health() error
	// Close releases backend resources
	Close() error
}
