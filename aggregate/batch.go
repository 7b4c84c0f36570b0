/*
batch.go - Recompute every customer

PURPOSE:
  Administrative repair pass, e.g. after a rule or schema change.

SEMANTICS:
  - Customers are enumerated once, up front. Customers created during the
    run may be missed; the next run picks them up.
  - Each customer is its own transaction. One failure never stops or
    skips the others; failures are collected in the summary.
  - Only enumeration failure makes the run itself fail.
  - Cancelling ctx stops dispatch between customers. Customers already
    committed stay committed.

CONCURRENCY:
  Up to Concurrency customers are in flight (errgroup with SetLimit).
  Tasks always return nil so nothing is cancelled on failure, and every
  task writes only its own result slot.
*/
package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/customer-ledger/logger"
)

type BatchRecomputer struct {
	Recomputer  *Recomputer
	Concurrency int
	Logger      *logger.Logger

	// Now is overridable in tests.
	Now func() time.Time
}

func NewBatchRecomputer(rc *Recomputer, concurrency int) *BatchRecomputer {
	return &BatchRecomputer{
		Recomputer:  rc,
		Concurrency: concurrency,
		Logger:      rc.Logger,
		Now:         time.Now,
	}
}

// CustomerFailure records why one customer could not be recomputed.
type CustomerFailure struct {
	CustomerID CustomerID
	Err        error
}

type BatchSummary struct {
	RunID        string
	Total        int // customers enumerated
	Attempted    int
	Succeeded    int
	NotFound     int
	Failed       int
	Failures     []CustomerFailure
	AllSucceeded bool
	Interrupted  bool
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Status maps the summary to the run record status.
func (s BatchSummary) Status() RunStatus {
	switch {
	case s.Interrupted:
		return RunInterrupted
	case s.Failed > 0:
		return RunCompletedWithFailures
	default:
		return RunCompleted
	}
}

type outcome struct {
	attempted bool
	err       error
}

// RecomputeAll recomputes every customer and reports what happened.
func (b *BatchRecomputer) RecomputeAll(ctx context.Context) (BatchSummary, error) {
	now := b.Now
	if now == nil {
		now = time.Now
	}
	logg := b.Logger
	if logg == nil {
		logg = logger.Nop()
	}

	summary := BatchSummary{RunID: uuid.NewString(), StartedAt: now()}
	ctx = logg.WithField(ctx, "run_id", summary.RunID)
	b.record(ctx, logg, summary, RunRunning, "")

	ids, err := b.Recomputer.Store.ListCustomerIDs(ctx)
	if err != nil {
		err = &EnumerationError{Err: err}
		summary.FinishedAt = now()
		b.record(ctx, logg, summary, RunFailed, err.Error())
		b.Recomputer.Metrics.ObserveRun(string(RunFailed), 0)
		logg.Error(ctx, "batch recompute aborted", err)
		return summary, err
	}

	summary.Total = len(ids)
	logg.Info(logg.WithField(ctx, "customers", len(ids)), "batch recompute started")

	results := make([]outcome, len(ids))
	var g errgroup.Group
	g.SetLimit(max(b.Concurrency, 1))
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := b.Recomputer.RecomputeCustomer(ctx, id)
			results[i] = outcome{attempted: true, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if !res.attempted {
			continue
		}
		summary.Attempted++
		switch {
		case res.err == nil:
			summary.Succeeded++
		case IsNotFound(res.err):
			summary.NotFound++
		default:
			summary.Failed++
			summary.Failures = append(summary.Failures, CustomerFailure{CustomerID: ids[i], Err: res.err})
		}
	}
	summary.Interrupted = summary.Attempted < summary.Total
	summary.AllSucceeded = summary.Failed == 0 && !summary.Interrupted
	summary.FinishedAt = now()

	status := summary.Status()
	b.record(ctx, logg, summary, status, joinFailures(summary.Failures))
	b.Recomputer.Metrics.ObserveRun(string(status), summary.Total)

	logg.Info(logg.WithFields(ctx, map[string]any{
		"status":    string(status),
		"attempted": summary.Attempted,
		"succeeded": summary.Succeeded,
		"not_found": summary.NotFound,
		"failed":    summary.Failed,
	}), "batch recompute finished")

	return summary, nil
}

func (b *BatchRecomputer) record(ctx context.Context, logg *logger.Logger, s BatchSummary, status RunStatus, errText string) {
	recorder, ok := b.Recomputer.Store.(RunRecorder)
	if !ok {
		return
	}
	run := Run{
		ID:        s.RunID,
		Status:    status,
		Total:     s.Total,
		Attempted: s.Attempted,
		Succeeded: s.Succeeded,
		NotFound:  s.NotFound,
		Failed:    s.Failed,
		Error:     errText,
		StartedAt: s.StartedAt,
	}
	if status != RunRunning {
		finished := s.FinishedAt
		run.FinishedAt = &finished
	}
	// Saved even when ctx is already cancelled.
	if err := recorder.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		logg.Error(ctx, "failed to save recompute run", err)
	}
}

func joinFailures(failures []CustomerFailure) string {
	if len(failures) == 0 {
		return ""
	}
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f.Err
	}
	return errors.Join(errs...).Error()
}
