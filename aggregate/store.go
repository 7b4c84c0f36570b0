/*
store.go - Persistence interface consumed by the recomputers

PURPOSE:
  The recompute engine only READS ledger rows and WRITES the derived
  customer fields. Creating sales or point entries happens elsewhere.

KEY INTERFACES:
  LedgerReader: Primary-key and secondary-key (phone) ledger queries
  Tx:           One customer's read-then-write unit
  Store:        Enumeration plus transactional access
  RunRecorder:  Optional audit of batch runs

ATOMICITY:
  WithTx runs fn as one unit. If fn returns an error nothing it wrote is
  kept. A recompute never spans more than one customer per Tx.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:     SQLite
  - aggregate/store/memory.go:  In-memory for tests
*/
package aggregate

import (
	"context"
	"time"
)

// LedgerReader exposes both lookup keys separately. Callers combine them
// with LoadLedger, which applies the id-OR-phone rule and de-duplicates.
type LedgerReader interface {
	// SalesByCustomer returns sales whose customer_id equals id, items included.
	SalesByCustomer(ctx context.Context, id CustomerID) ([]Sale, error)

	// SalesByPhone returns sales recorded with phone, items included.
	SalesByPhone(ctx context.Context, phone string) ([]Sale, error)

	EntriesByCustomer(ctx context.Context, id CustomerID) ([]PointEntry, error)
	EntriesByPhone(ctx context.Context, phone string) ([]PointEntry, error)
}

// Tx is the per-customer unit of work.
type Tx interface {
	LedgerReader

	// GetCustomer returns nil, nil when the customer does not exist.
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)

	// SaveAggregates overwrites exactly the derived fields.
	SaveAggregates(ctx context.Context, id CustomerID, agg Aggregates) error
}

type Store interface {
	// ListCustomerIDs returns every customer id at call time.
	ListCustomerIDs(ctx context.Context) ([]CustomerID, error)

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// =============================================================================
// RUN RECORDS - Audit of administrative batch passes
// =============================================================================

type RunStatus string

const (
	RunRunning               RunStatus = "running"
	RunCompleted             RunStatus = "completed"
	RunCompletedWithFailures RunStatus = "completed_with_failures"
	RunInterrupted           RunStatus = "interrupted"
	RunFailed                RunStatus = "failed"
)

type Run struct {
	ID         string
	Status     RunStatus
	Total      int
	Attempted  int
	Succeeded  int
	NotFound   int
	Failed     int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// RunRecorder is implemented by stores that keep batch run history.
type RunRecorder interface {
	SaveRun(ctx context.Context, run Run) error
}
