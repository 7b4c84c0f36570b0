/*
scheduler.go - Periodic batch recompute

PURPOSE:
  Runs the batch recompute on a fixed interval so derived fields that
  drifted (missed post-write hooks, manual SQL fixes) are repaired.

DESIGN:
  - Background goroutine with configurable interval
  - Runs once immediately on Start
  - Stop cancels the context; the batch stops between customers and
    every customer already committed stays committed

USAGE:
  scheduler := NewRecomputeScheduler(batch, logg)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/customer-ledger/aggregate"
	"github.com/warp/customer-ledger/logger"
)

// RecomputeScheduler runs the batch recompute periodically.
type RecomputeScheduler struct {
	Batch         *aggregate.BatchRecomputer
	Logger        *logger.Logger
	CheckInterval time.Duration
	Enabled       bool

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewRecomputeScheduler creates a new scheduler.
func NewRecomputeScheduler(batch *aggregate.BatchRecomputer, logg *logger.Logger) *RecomputeScheduler {
	if logg == nil {
		logg = logger.Nop()
	}
	return &RecomputeScheduler{
		Batch:         batch,
		Logger:        logg,
		CheckInterval: 24 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *RecomputeScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	ctx := rs.Logger.WithField(context.Background(), "component", "scheduler")
	if !rs.Enabled {
		rs.Logger.Info(ctx, "scheduler disabled, not starting")
		return
	}
	if rs.cancel != nil {
		return
	}

	ctx, rs.cancel = context.WithCancel(ctx)
	rs.wg.Add(1)
	go rs.run(ctx)

	rs.Logger.Info(rs.Logger.WithField(ctx, "interval", rs.CheckInterval.String()), "scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to wind down.
func (rs *RecomputeScheduler) Stop() {
	rs.mu.Lock()
	cancel := rs.cancel
	rs.cancel = nil
	rs.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	rs.wg.Wait()
	rs.Logger.Info(context.Background(), "scheduler stopped")
}

func (rs *RecomputeScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	ticker := time.NewTicker(rs.CheckInterval)
	defer ticker.Stop()

	rs.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunNow triggers an immediate batch recompute (for testing/admin).
func (rs *RecomputeScheduler) RunNow(ctx context.Context) (aggregate.BatchSummary, error) {
	summary, err := rs.Batch.RecomputeAll(ctx)
	if err != nil {
		rs.Logger.Error(ctx, "scheduled recompute failed", err)
		return summary, err
	}

	rs.mu.Lock()
	rs.lastRun = summary.FinishedAt
	rs.mu.Unlock()

	if !summary.AllSucceeded {
		rs.Logger.Warn(rs.Logger.WithFields(ctx, map[string]any{
			"run_id":      summary.RunID,
			"failed":      summary.Failed,
			"interrupted": summary.Interrupted,
		}), "scheduled recompute finished with failures")
	}
	return summary, nil
}

// GetNextRunTime returns when the next scheduled run will occur.
func (rs *RecomputeScheduler) GetNextRunTime() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.lastRun.IsZero() {
		return time.Now().Add(rs.CheckInterval)
	}
	return rs.lastRun.Add(rs.CheckInterval)
}
