// Package refresher drives a single connection through the refresh exchange,
// persists the result and classifies failures.
package refresher

import (
	"context"

	"token-refresher/internal/common/errors"
	"token-refresher/internal/common/logging"
	"token-refresher/internal/connections"
	"token-refresher/internal/registry"
)

// Outcome classifies the result of one refresh attempt.
type Outcome int

const (
	// OutcomeSuccess means a fresh token pair was persisted
	OutcomeSuccess Outcome = iota
	// OutcomeTransient means the attempt failed but will be retried on the
	// next sweep without any distinguished handling
	OutcomeTransient
	// OutcomeTerminal means the refresh token was permanently rejected; the
	// connection cannot recover until a human re-authorizes it
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "failed_transient"
	case OutcomeTerminal:
		return "failed_terminal"
	default:
		return "unknown"
	}
}

// Refresher refreshes one connection at a time. Side effects are confined to
// that connection: a failure never aborts siblings.
type Refresher struct {
	logger logging.Logger
}

// New creates a refresher.
func New(logger logging.Logger) *Refresher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Refresher{logger: logger}
}

// RefreshOne exchanges the connection's refresh token with the provider and,
// on success, overwrites the persisted access token and expiry as one write.
// On any failure the record is left untouched.
func (r *Refresher) RefreshOne(ctx context.Context, svc *registry.Service, conn *connections.Connection) Outcome {
	logger := r.logger.WithFields(
		logging.Field{Key: "provider", Value: svc.ID},
		logging.Field{Key: "connection_id", Value: conn.ID},
		logging.Field{Key: "project_id", Value: conn.ProjectID},
	)

	grant, err := svc.Adapter.Exchange(ctx, conn.RefreshToken)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeInvalidGrant) {
			// Deliberately no suppression: the connection stays selected on
			// every sweep and recovers the moment a human reconnects it.
			logger.Warn("Refresh token rejected, connection needs re-authorization",
				logging.Field{Key: "error", Value: err.Error()},
			)
			return OutcomeTerminal
		}

		logger.Warn("Token refresh failed, will retry next sweep",
			logging.Field{Key: "error", Value: err.Error()},
		)
		return OutcomeTransient
	}

	if err := svc.Store.UpdateToken(ctx, conn.ID, grant.AccessToken, grant.ExpiresAt); err != nil {
		// The provider granted a token we failed to persist. The old record
		// is untouched, so the connection is simply retried next sweep.
		logger.Error("Failed to persist refreshed token", err)
		return OutcomeTransient
	}

	logger.Debug("Token refreshed",
		logging.Field{Key: "expires_at", Value: grant.ExpiresAt},
	)
	return OutcomeSuccess
}
