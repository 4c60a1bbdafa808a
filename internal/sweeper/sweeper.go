// Package sweeper orchestrates full refresh sweeps across all registered
// providers. It owns the single concurrency guard in the system: at most one
// sweep is active process-wide, and a trigger received mid-sweep is dropped,
// not queued.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"token-refresher/internal/common/logging"
	"token-refresher/internal/refresher"
	"token-refresher/internal/registry"
	"token-refresher/internal/scanner"
)

// Schedule yields the next activation time after the given time.
// cron.Schedule satisfies this directly; fixed intervals use cron.Every.
type Schedule interface {
	Next(time.Time) time.Time
}

// Every returns a fixed-delay schedule for the given period.
func Every(period time.Duration) Schedule {
	return cron.Every(period)
}

// ProviderStats holds one provider's counters for one sweep.
type ProviderStats struct {
	Provider  string `json:"provider"`
	Checked   int    `json:"checked"`
	Refreshed int    `json:"refreshed"`
	Failed    int    `json:"failed"`
	// Error is set when the provider's scan failed or its processing
	// aborted; connections counted before the abort are retained
	Error string `json:"error,omitempty"`
}

// SweepSummary aggregates one full sweep.
type SweepSummary struct {
	Trigger    string          `json:"trigger"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Providers  []ProviderStats `json:"providers"`
	Checked    int             `json:"checked"`
	Refreshed  int             `json:"refreshed"`
	Failed     int             `json:"failed"`
}

// Sweeper runs refresh sweeps: once immediately at start, then on every
// schedule activation, plus on manual triggers. All entry points share the
// same overlap guard.
type Sweeper struct {
	registry  *registry.Registry
	scanner   *scanner.Scanner
	refresher *refresher.Refresher
	schedule  Schedule
	logger    logging.Logger

	// sweeping is the IDLE/SWEEPING state: true while a sweep body runs
	sweeping atomic.Bool
	running  atomic.Bool

	mu          sync.RWMutex
	lastSummary *SweepSummary

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper. The schedule controls the cadence of automatic
// sweeps after the initial one.
func New(reg *registry.Registry, scan *scanner.Scanner, refr *refresher.Refresher, schedule Schedule, logger logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Sweeper{
		registry:  reg,
		scanner:   scan,
		refresher: refr,
		schedule:  schedule,
		logger:    logger.WithFields(logging.Field{Key: "component", Value: "sweeper"}),
	}
}

// Start launches the scheduling loop: one immediate sweep, then one per
// schedule activation. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Token refresh sweeper started",
		logging.Field{Key: "providers", Value: s.registry.Len()},
		logging.Field{Key: "buffer", Value: s.scanner.Buffer()},
	)
}

// Stop prevents any future sweep from starting and waits for an in-flight
// sweep to run to completion. There is no cooperative cancellation of a
// sweep body.
func (s *Sweeper) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.logger.Info("Token refresh sweeper stopped")
}

// Running reports whether the scheduling loop is active.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// State returns "sweeping" while a sweep body is executing, "idle" otherwise.
func (s *Sweeper) State() string {
	if s.sweeping.Load() {
		return "sweeping"
	}
	return "idle"
}

// LastSummary returns the most recent sweep summary, nil before the first
// sweep completes.
func (s *Sweeper) LastSummary() *SweepSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSummary
}

// RunManualRefresh triggers a sweep through the same guarded entry point as
// the timer. It returns false when a sweep is already in progress, in which
// case the trigger is dropped. The sweep itself runs in the background.
func (s *Sweeper) RunManualRefresh() bool {
	return s.trySweep("manual")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	s.trySweep("startup")

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.trySweep("schedule")
		}
	}
}

// trySweep is the single guarded entry point. The compare-and-swap realizes
// the IDLE -> SWEEPING transition; a losing trigger is dropped. The winning
// trigger launches the sweep body in the background and returns immediately.
func (s *Sweeper) trySweep(trigger string) bool {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.logger.Debug("Sweep already in progress, dropping trigger",
			logging.Field{Key: "trigger", Value: trigger},
		)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sweeping.Store(false)
		s.sweep(trigger)
	}()

	return true
}

// sweep executes one full pass over all registered providers. The sweep is
// intentionally detached from the loop context: once started it runs to
// completion, bounded only by the adapters' per-exchange timeouts.
func (s *Sweeper) sweep(trigger string) {
	defer func() {
		if r := recover(); r != nil {
			// The guard in trySweep still resets, so the state machine can
			// never be stuck in SWEEPING because of a panic.
			s.logger.Error("Sweep aborted by unexpected panic",
				fmt.Errorf("panic: %v", r),
				logging.Field{Key: "trigger", Value: trigger},
			)
		}
	}()

	ctx := context.Background()
	summary := &SweepSummary{
		Trigger:   trigger,
		StartedAt: time.Now(),
	}

	s.logger.Info("Starting token refresh sweep",
		logging.Field{Key: "trigger", Value: trigger},
	)

	for _, svc := range s.registry.Services() {
		stats := s.sweepProvider(ctx, svc, summary.StartedAt)

		summary.Providers = append(summary.Providers, stats)
		summary.Checked += stats.Checked
		summary.Refreshed += stats.Refreshed
		summary.Failed += stats.Failed

		s.logger.Info("Provider sweep finished",
			logging.Field{Key: "provider", Value: svc.ID},
			logging.Field{Key: "checked", Value: stats.Checked},
			logging.Field{Key: "refreshed", Value: stats.Refreshed},
			logging.Field{Key: "failed", Value: stats.Failed},
		)
	}

	summary.FinishedAt = time.Now()

	s.mu.Lock()
	s.lastSummary = summary
	s.mu.Unlock()

	s.logger.Info("Token refresh sweep finished",
		logging.Field{Key: "trigger", Value: trigger},
		logging.Field{Key: "duration", Value: summary.FinishedAt.Sub(summary.StartedAt)},
		logging.Field{Key: "checked", Value: summary.Checked},
		logging.Field{Key: "refreshed", Value: summary.Refreshed},
		logging.Field{Key: "failed", Value: summary.Failed},
	)
}

// sweepProvider scans and refreshes one provider. Any error or panic is
// contained here so subsequent providers still run.
func (s *Sweeper) sweepProvider(ctx context.Context, svc *registry.Service, now time.Time) (stats ProviderStats) {
	stats.Provider = svc.ID

	defer func() {
		if r := recover(); r != nil {
			stats.Error = fmt.Sprintf("panic: %v", r)
			s.logger.Error("Provider sweep aborted by panic",
				fmt.Errorf("panic: %v", r),
				logging.Field{Key: "provider", Value: svc.ID},
			)
		}
	}()

	due, err := s.scanner.Due(ctx, svc, now)
	if err != nil {
		stats.Error = err.Error()
		s.logger.Error("Provider scan failed", err,
			logging.Field{Key: "provider", Value: svc.ID},
		)
		return stats
	}

	for _, conn := range due {
		stats.Checked++

		switch s.refresher.RefreshOne(ctx, svc, conn) {
		case refresher.OutcomeSuccess:
			stats.Refreshed++
		case refresher.OutcomeTransient, refresher.OutcomeTerminal:
			stats.Failed++
		}
	}

	return stats
}
