package refresher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-refresher/internal/common/errors"
	"token-refresher/internal/connections"
	"token-refresher/internal/connections/memory"
	"token-refresher/internal/providers"
	"token-refresher/internal/registry"
)

type stubAdapter struct {
	id    string
	grant *providers.TokenGrant
	err   error
	calls int
}

func (a *stubAdapter) ID() string { return a.id }
func (a *stubAdapter) Exchange(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	return a.grant, nil
}

type brokenUpdateStore struct {
	connections.Store
}

func (s *brokenUpdateStore) UpdateToken(ctx context.Context, id string, accessToken string, expiresAt time.Time) error {
	return errors.StorageError("write failed", nil)
}

func seedConnection(t *testing.T, store connections.Store) *connections.Connection {
	t.Helper()

	expiry := time.Now().Add(5 * time.Minute)
	conn := &connections.Connection{
		ID:           "c1",
		ProjectID:    "proj-1",
		Provider:     "google",
		AccessToken:  "stale-token",
		RefreshToken: "rt-1",
		ExpiresAt:    &expiry,
	}
	require.NoError(t, store.Create(context.Background(), conn))
	return conn
}

func TestRefreshOneSuccess(t *testing.T) {
	store := memory.NewStore()
	conn := seedConnection(t, store)

	newExpiry := time.Now().Add(time.Hour).Truncate(time.Second)
	adapter := &stubAdapter{
		id:    "google",
		grant: &providers.TokenGrant{AccessToken: "fresh-token", ExpiresAt: newExpiry},
	}
	svc := &registry.Service{ID: "google", Store: store, Adapter: adapter}

	outcome := New(nil).RefreshOne(context.Background(), svc, conn)
	assert.Equal(t, OutcomeSuccess, outcome)

	got, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	// Token and expiry were replaced together.
	assert.Equal(t, "fresh-token", got.AccessToken)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(newExpiry))
	assert.Equal(t, "rt-1", got.RefreshToken)
}

func TestRefreshOneTerminalLeavesRecordUntouched(t *testing.T) {
	store := memory.NewStore()
	conn := seedConnection(t, store)
	originalExpiry := *conn.ExpiresAt

	adapter := &stubAdapter{
		id:  "google",
		err: errors.InvalidGrantError("refresh token rejected by provider", nil),
	}
	svc := &registry.Service{ID: "google", Store: store, Adapter: adapter}

	outcome := New(nil).RefreshOne(context.Background(), svc, conn)
	assert.Equal(t, OutcomeTerminal, outcome)

	got, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "stale-token", got.AccessToken)
	assert.Equal(t, "rt-1", got.RefreshToken)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(originalExpiry))
}

func TestRefreshOneTransientLeavesRecordUntouched(t *testing.T) {
	store := memory.NewStore()
	conn := seedConnection(t, store)

	adapter := &stubAdapter{
		id:  "google",
		err: errors.TransientError("token endpoint unavailable", nil),
	}
	svc := &registry.Service{ID: "google", Store: store, Adapter: adapter}

	outcome := New(nil).RefreshOne(context.Background(), svc, conn)
	assert.Equal(t, OutcomeTransient, outcome)

	got, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "stale-token", got.AccessToken)
}

func TestRefreshOnePersistFailureIsTransient(t *testing.T) {
	inner := memory.NewStore()
	conn := seedConnection(t, inner)

	adapter := &stubAdapter{
		id:    "google",
		grant: &providers.TokenGrant{AccessToken: "fresh-token", ExpiresAt: time.Now().Add(time.Hour)},
	}
	svc := &registry.Service{ID: "google", Store: &brokenUpdateStore{Store: inner}, Adapter: adapter}

	outcome := New(nil).RefreshOne(context.Background(), svc, conn)
	assert.Equal(t, OutcomeTransient, outcome)

	// The stale record survives a failed persist.
	got, err := inner.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "stale-token", got.AccessToken)
}

func TestRefreshOneTerminalIsNotSuppressed(t *testing.T) {
	store := memory.NewStore()
	conn := seedConnection(t, store)

	adapter := &stubAdapter{
		id:  "google",
		err: errors.InvalidGrantError("refresh token rejected by provider", nil),
	}
	svc := &registry.Service{ID: "google", Store: store, Adapter: adapter}

	r := New(nil)
	for i := 0; i < 3; i++ {
		assert.Equal(t, OutcomeTerminal, r.RefreshOne(context.Background(), svc, conn))
	}
	// Each sweep attempts the exchange again; recovery happens the moment a
	// human re-authorizes the connection.
	assert.Equal(t, 3, adapter.calls)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "failed_transient", OutcomeTransient.String())
	assert.Equal(t, "failed_terminal", OutcomeTerminal.String())
}
