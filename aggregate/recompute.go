/*
recompute.go - Single-customer recompute

FLOW (one transaction):
  1. Load the customer. Missing → NotFoundError, nothing written.
  2. Load sales and point entries by id, then by phone, union by row id.
  3. Compute Aggregates from scratch.
  4. Overwrite the derived fields.

Running it twice on an unchanged ledger writes the same values twice.
There is no delta arithmetic anywhere, so a failed run can simply be
retried.
*/
package aggregate

import (
	"context"
	"time"

	"github.com/warp/customer-ledger/logger"
	"github.com/warp/customer-ledger/metrics"
)

type Recomputer struct {
	Store   Store
	Logger  *logger.Logger
	Metrics *metrics.RecomputeMetrics
}

func NewRecomputer(store Store, logg *logger.Logger, m *metrics.RecomputeMetrics) *Recomputer {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Recomputer{Store: store, Logger: logg, Metrics: m}
}

// RecomputeCustomer rebuilds and persists the derived fields of one customer.
func (r *Recomputer) RecomputeCustomer(ctx context.Context, id CustomerID) (Aggregates, error) {
	start := time.Now()
	ctx = r.Logger.WithField(ctx, "customer_id", int64(id))

	agg, err := r.recompute(ctx, id)
	switch {
	case err == nil:
		r.Metrics.ObserveRecompute(metrics.OutcomeOK, time.Since(start))
		r.Logger.Debug(ctx, "customer aggregates recomputed")
	case IsNotFound(err):
		r.Metrics.ObserveRecompute(metrics.OutcomeNotFound, time.Since(start))
		r.Logger.Info(ctx, "customer not found, nothing to recompute")
	default:
		r.Metrics.ObserveRecompute(metrics.OutcomeError, time.Since(start))
		r.Logger.Error(ctx, "customer recompute failed", err)
	}
	return agg, err
}

func (r *Recomputer) recompute(ctx context.Context, id CustomerID) (Aggregates, error) {
	if id <= 0 {
		return Aggregates{}, &NotFoundError{CustomerID: id}
	}

	var result Aggregates
	err := r.Store.WithTx(ctx, func(tx Tx) error {
		customer, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return storageErr("load customer", id, err)
		}
		if customer == nil {
			return &NotFoundError{CustomerID: id}
		}

		ledger, err := LoadLedger(ctx, tx, MatchFor(customer))
		if err != nil {
			return err
		}

		agg := Compute(ledger)
		if err := tx.SaveAggregates(ctx, id, agg); err != nil {
			return storageErr("save aggregates", id, err)
		}
		result = agg
		return nil
	})
	if err != nil {
		// Commit/begin failures surface here unclassified.
		return Aggregates{}, storageErr("transaction", id, err)
	}
	return result, nil
}
