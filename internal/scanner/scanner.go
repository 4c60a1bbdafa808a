// Package scanner selects the connections due for a proactive token refresh.
package scanner

import (
	"context"
	"time"

	"token-refresher/internal/common/errors"
	"token-refresher/internal/connections"
	"token-refresher/internal/registry"
)

// Scanner finds connections whose access token has expired or will expire
// inside the buffer window. A connection with an unknown expiry is treated
// as already expired: better to refresh unnecessarily than to let a
// dependent call fail.
type Scanner struct {
	buffer time.Duration
}

// New creates a scanner with the given buffer window.
func New(buffer time.Duration) *Scanner {
	return &Scanner{buffer: buffer}
}

// Buffer returns the configured buffer window.
func (s *Scanner) Buffer() time.Duration {
	return s.buffer
}

// Due returns the service's connections due for refresh at the given time.
// The result is a snapshot; no rows are locked. Connections without a
// refresh token are excluded even if the backend returns them.
func (s *Scanner) Due(ctx context.Context, svc *registry.Service, now time.Time) ([]*connections.Connection, error) {
	cutoff := now.Add(s.buffer)

	due, err := svc.Store.FindExpiring(ctx, svc.ID, cutoff)
	if err != nil {
		return nil, errors.StorageError("expiring-connections query failed", err).
			WithContext("provider", svc.ID)
	}

	// Backends already filter on refresh_token, but a connection the worker
	// cannot refresh must never reach the refresher regardless of backend.
	filtered := due[:0]
	for _, conn := range due {
		if conn.RefreshToken == "" {
			continue
		}
		filtered = append(filtered, conn)
	}

	return filtered, nil
}
