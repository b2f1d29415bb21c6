/*
scheduler.go - Automated ledger reconciliation scheduler

PURPOSE:
  Periodically checks every stored profile against its ledgers and reports
  drift (balance != sum of transactions). Drift should never happen; when
  it does it is logged at error level and counted, never auto-corrected.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each user is reconciled under its own lock (generic.Ledger.Reconcile),
    so a sweep never blocks more than one user at a time
  - Keeps the last run report for the admin API

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(store, engine.Ledger, logger, metrics)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Reconcile endpoint (single user, on demand)
  - generic/ledger.go: Reconcile
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/rewards-engine/generic"
	"github.com/warp/rewards-engine/observability"
)

// UserLister enumerates users with a stored profile.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]generic.UserID, error)
}

// DriftReport is one inconsistent ledger found by a run.
type DriftReport struct {
	UserID    generic.UserID `json:"user_id"`
	Kind      string         `json:"kind"`
	Balance   int64          `json:"balance"`
	LedgerSum int64          `json:"ledger_sum"`
	Drift     int64          `json:"drift"`
}

// ReconciliationRun summarizes one sweep.
type ReconciliationRun struct {
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Users       int           `json:"users"`
	Failed      int           `json:"failed"`
	Drifted     []DriftReport `json:"drifted"`
}

// ReconciliationScheduler runs drift checks in the background.
type ReconciliationScheduler struct {
	Users         UserLister
	Ledger        *generic.Ledger
	Logger        *slog.Logger
	Metrics       *observability.Metrics
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu   sync.Mutex
	lastRun *ReconciliationRun
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(users UserLister, ledger *generic.Ledger, logger *slog.Logger, metrics *observability.Metrics) *ReconciliationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationScheduler{
		Users:         users,
		Ledger:        ledger,
		Logger:        logger,
		Metrics:       metrics,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("reconciliation scheduler disabled")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)

	go rs.run(rs.ticker, rs.stop)

	rs.Logger.Info("reconciliation scheduler started", slog.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("reconciliation scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	rs.checkAndProcess(ctx)

	for {
		select {
		case <-ticker.C:
			rs.checkAndProcess(ctx)
		case <-stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) checkAndProcess(ctx context.Context) ReconciliationRun {
	run := ReconciliationRun{StartedAt: time.Now(), Drifted: []DriftReport{}}

	users, err := rs.Users.ListUserIDs(ctx)
	if err != nil {
		rs.Logger.Error("reconciliation: list users", slog.Any("error", err))
		run.Failed++
		run.CompletedAt = time.Now()
		rs.record(run)
		return run
	}

	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		run.Users++

		results, err := rs.Ledger.Reconcile(ctx, userID)
		if err != nil {
			rs.Logger.Warn("reconciliation: user failed",
				slog.String("user_id", string(userID)),
				slog.Any("error", err))
			run.Failed++
			continue
		}
		for _, r := range results {
			if r.Consistent() {
				continue
			}
			rs.Logger.Error("ledger drift detected",
				slog.String("user_id", string(userID)),
				slog.String("kind", string(r.Kind)),
				slog.Int64("balance", r.Balance),
				slog.Int64("ledger_sum", r.LedgerSum))
			rs.Metrics.RecordDrift(string(r.Kind))
			run.Drifted = append(run.Drifted, DriftReport{
				UserID:    userID,
				Kind:      string(r.Kind),
				Balance:   r.Balance,
				LedgerSum: r.LedgerSum,
				Drift:     r.Drift(),
			})
		}
	}

	run.CompletedAt = time.Now()
	rs.record(run)
	if run.Users > 0 {
		rs.Logger.Info("reconciliation completed",
			slog.Int("users", run.Users),
			slog.Int("failed", run.Failed),
			slog.Int("drifted", len(run.Drifted)))
	}
	return run
}

func (rs *ReconciliationScheduler) record(run ReconciliationRun) {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	rs.lastRun = &run
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) ReconciliationRun {
	return rs.checkAndProcess(ctx)
}

// LastRun returns the most recent run, if any.
func (rs *ReconciliationScheduler) LastRun() (ReconciliationRun, bool) {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	if rs.lastRun == nil {
		return ReconciliationRun{}, false
	}
	return *rs.lastRun, true
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *ReconciliationScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(rs.CheckInterval)
}
