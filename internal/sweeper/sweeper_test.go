package sweeper

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-refresher/internal/common/errors"
	"token-refresher/internal/connections"
	"token-refresher/internal/connections/memory"
	"token-refresher/internal/providers"
	"token-refresher/internal/refresher"
	"token-refresher/internal/registry"
	"token-refresher/internal/scanner"
)

type stubAdapter struct {
	id  string
	err error
	// gate, when set, blocks Exchange until closed
	gate    chan struct{}
	started chan struct{}
	calls   int32
}

func (a *stubAdapter) ID() string { return a.id }
func (a *stubAdapter) Exchange(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
	atomic.AddInt32(&a.calls, 1)
	if a.started != nil {
		select {
		case a.started <- struct{}{}:
		default:
		}
	}
	if a.gate != nil {
		<-a.gate
	}
	if a.err != nil {
		return nil, a.err
	}
	return &providers.TokenGrant{AccessToken: "fresh", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type panickingAdapter struct{ id string }

func (a *panickingAdapter) ID() string { return a.id }
func (a *panickingAdapter) Exchange(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
	panic("adapter exploded")
}

type countingStore struct {
	connections.Store
	scans int32
}

func (s *countingStore) FindExpiring(ctx context.Context, provider string, cutoff time.Time) ([]*connections.Connection, error) {
	atomic.AddInt32(&s.scans, 1)
	return s.Store.FindExpiring(ctx, provider, cutoff)
}

type failingScanStore struct {
	connections.Store
}

func (s *failingScanStore) FindExpiring(ctx context.Context, provider string, cutoff time.Time) ([]*connections.Connection, error) {
	return nil, errors.StorageError("backend unavailable", nil)
}

func seedDue(t *testing.T, store connections.Store, provider string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, store.Create(context.Background(), &connections.Connection{
			ID:           id,
			ProjectID:    "proj-" + id,
			Provider:     provider,
			RefreshToken: "rt-" + id,
		}))
	}
}

func newSweeper(t *testing.T, services ...*registry.Service) *Sweeper {
	t.Helper()

	reg, err := registry.New(services...)
	require.NoError(t, err)

	return New(reg, scanner.New(15*time.Minute), refresher.New(nil), Every(time.Hour), nil)
}

func waitForSummary(t *testing.T, s *Sweeper) *SweepSummary {
	t.Helper()

	require.Eventually(t, func() bool {
		return s.LastSummary() != nil && s.State() == "idle"
	}, 2*time.Second, 5*time.Millisecond)

	return s.LastSummary()
}

func TestManualRefreshCountsOutcomes(t *testing.T) {
	googleStore := memory.NewStore()
	seedDue(t, googleStore, "google", "g1", "g2")

	facebookStore := memory.NewStore()
	seedDue(t, facebookStore, "facebook", "f1")

	s := newSweeper(t,
		&registry.Service{ID: "google", Store: googleStore, Adapter: &stubAdapter{id: "google"}},
		&registry.Service{ID: "facebook", Store: facebookStore, Adapter: &stubAdapter{
			id:  "facebook",
			err: errors.TransientError("token endpoint unavailable", nil),
		}},
	)

	require.True(t, s.RunManualRefresh())
	summary := waitForSummary(t, s)

	assert.Equal(t, "manual", summary.Trigger)
	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 2, summary.Refreshed)
	assert.Equal(t, 1, summary.Failed)

	require.Len(t, summary.Providers, 2)
	assert.Equal(t, "google", summary.Providers[0].Provider)
	assert.Equal(t, 2, summary.Providers[0].Refreshed)
	assert.Equal(t, "facebook", summary.Providers[1].Provider)
	assert.Equal(t, 1, summary.Providers[1].Failed)
}

func TestOverlappingTriggerIsDropped(t *testing.T) {
	store := &countingStore{Store: memory.NewStore()}
	seedDue(t, store.Store, "google", "g1")

	adapter := &stubAdapter{
		id:      "google",
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s := newSweeper(t, &registry.Service{ID: "google", Store: store, Adapter: adapter})

	require.True(t, s.RunManualRefresh())
	<-adapter.started

	// A trigger arriving mid-sweep is dropped, not queued.
	assert.Equal(t, "sweeping", s.State())
	assert.False(t, s.RunManualRefresh())
	assert.False(t, s.RunManualRefresh())

	close(adapter.gate)
	waitForSummary(t, s)

	// Only the winning trigger ran: exactly one scan and one exchange.
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.scans))
	assert.Equal(t, int32(1), atomic.LoadInt32(&adapter.calls))

	// Once idle, the next trigger is accepted again.
	assert.True(t, s.RunManualRefresh())
	waitForSummary(t, s)
}

func TestSweepScansEachProviderOnce(t *testing.T) {
	store := &countingStore{Store: memory.NewStore()}
	seedDue(t, store.Store, "google", "g1", "g2", "g3")

	s := newSweeper(t, &registry.Service{ID: "google", Store: store, Adapter: &stubAdapter{id: "google"}})

	require.True(t, s.RunManualRefresh())
	summary := waitForSummary(t, s)

	assert.Equal(t, int32(1), atomic.LoadInt32(&store.scans))
	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 3, summary.Refreshed)
}

func TestProviderFailureDoesNotAbortSiblings(t *testing.T) {
	brokenStore := &failingScanStore{Store: memory.NewStore()}
	healthyStore := memory.NewStore()
	seedDue(t, healthyStore, "facebook", "f1")

	s := newSweeper(t,
		&registry.Service{ID: "google", Store: brokenStore, Adapter: &stubAdapter{id: "google"}},
		&registry.Service{ID: "facebook", Store: healthyStore, Adapter: &stubAdapter{id: "facebook"}},
	)

	require.True(t, s.RunManualRefresh())
	summary := waitForSummary(t, s)

	require.Len(t, summary.Providers, 2)
	assert.NotEmpty(t, summary.Providers[0].Error)
	assert.Equal(t, 0, summary.Providers[0].Checked)
	assert.Equal(t, 1, summary.Providers[1].Refreshed)
}

func TestProviderPanicIsContained(t *testing.T) {
	panicStore := memory.NewStore()
	seedDue(t, panicStore, "google", "g1")
	healthyStore := memory.NewStore()
	seedDue(t, healthyStore, "facebook", "f1")

	s := newSweeper(t,
		&registry.Service{ID: "google", Store: panicStore, Adapter: &panickingAdapter{id: "google"}},
		&registry.Service{ID: "facebook", Store: healthyStore, Adapter: &stubAdapter{id: "facebook"}},
	)

	require.True(t, s.RunManualRefresh())
	summary := waitForSummary(t, s)

	require.Len(t, summary.Providers, 2)
	assert.Contains(t, summary.Providers[0].Error, "panic")
	assert.Equal(t, 1, summary.Providers[1].Refreshed)

	// The guard reset, so the sweeper accepts the next trigger.
	assert.Equal(t, "idle", s.State())
	assert.True(t, s.RunManualRefresh())
	waitForSummary(t, s)
}

func TestStartRunsImmediateSweep(t *testing.T) {
	store := memory.NewStore()
	seedDue(t, store, "google", "g1")

	s := newSweeper(t, &registry.Service{ID: "google", Store: store, Adapter: &stubAdapter{id: "google"}})

	s.Start()
	defer s.Stop()

	summary := waitForSummary(t, s)
	assert.Equal(t, "startup", summary.Trigger)
	assert.Equal(t, 1, summary.Refreshed)
	assert.True(t, s.Running())
}

func TestStartTwiceIsNoop(t *testing.T) {
	s := newSweeper(t, &registry.Service{ID: "google", Store: memory.NewStore(), Adapter: &stubAdapter{id: "google"}})

	s.Start()
	s.Start()
	waitForSummary(t, s)

	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}

func TestStopWaitsForInFlightSweep(t *testing.T) {
	store := memory.NewStore()
	seedDue(t, store, "google", "g1")

	adapter := &stubAdapter{
		id:      "google",
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s := newSweeper(t, &registry.Service{ID: "google", Store: store, Adapter: adapter})

	s.Start()
	<-adapter.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a sweep was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(adapter.gate)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the sweep finished")
	}

	// The sweep that was in flight ran to completion.
	require.NotNil(t, s.LastSummary())
	assert.Equal(t, 1, s.LastSummary().Refreshed)

	conn, err := store.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", conn.AccessToken)
}

func TestScheduledSweepFires(t *testing.T) {
	store := memory.NewStore()
	seedDue(t, store, "google", "g1")

	adapter := &stubAdapter{id: "google"}
	reg, err := registry.New(&registry.Service{ID: "google", Store: store, Adapter: adapter})
	require.NoError(t, err)

	// cron.Every rounds sub-second periods up to one second.
	s := New(reg, scanner.New(15*time.Minute), refresher.New(nil), Every(time.Second), nil)
	s.Start()
	defer s.Stop()

	// Startup sweep plus at least one scheduled activation.
	require.Eventually(t, func() bool {
		summary := s.LastSummary()
		return summary != nil && summary.Trigger == "schedule"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConsecutiveSweepsConverge(t *testing.T) {
	store := memory.NewStore()
	seedDue(t, store, "google", "g1", "g2")

	s := newSweeper(t, &registry.Service{ID: "google", Store: store, Adapter: &stubAdapter{id: "google"}})

	require.True(t, s.RunManualRefresh())
	first := waitForSummary(t, s)
	assert.Equal(t, 2, first.Refreshed)

	// Refreshed tokens now expire well outside the buffer window, so an
	// immediate second sweep finds nothing to do.
	require.True(t, s.RunManualRefresh())
	require.Eventually(t, func() bool {
		summary := s.LastSummary()
		return summary != nil && !summary.StartedAt.Equal(first.StartedAt) && s.State() == "idle"
	}, 2*time.Second, 5*time.Millisecond)

	second := s.LastSummary()
	assert.Equal(t, 0, second.Checked)
	assert.Equal(t, 0, second.Refreshed)
	assert.Equal(t, 0, second.Failed)
}

func TestEmptySweep(t *testing.T) {
	s := newSweeper(t, &registry.Service{ID: "google", Store: memory.NewStore(), Adapter: &stubAdapter{id: "google"}})

	require.True(t, s.RunManualRefresh())
	summary := waitForSummary(t, s)

	assert.Equal(t, 0, summary.Checked)
	assert.Equal(t, 0, summary.Refreshed)
	assert.Equal(t, 0, summary.Failed)
}
