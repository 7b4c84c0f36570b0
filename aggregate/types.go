/*
Package aggregate provides the customer aggregate recomputation engine.

PURPOSE:
  A customer record carries five derived fields (lifetime spend, purchase
  counts, last purchase date, accrued points, available points). They are a
  materialized view over two append-mostly ledgers: the sales ledger (sales
  and their line items) and the points ledger (signed point entries).
  This package defines those fields in terms of ledger rows and rebuilds
  them from scratch, for one customer or for all of them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Customer:   Identity, contact phone and the derived Aggregates
  - Sale:       Transaction header with its SaleItems
  - PointEntry: Signed point delta, never mutated
  - Date:       ISO calendar date, compared lexicographically

DESIGN PRINCIPLES:
  1. Ledger rows are the source of truth; Aggregates are always derived
  2. Recompute is full, never incremental, so it is safe to retry
  3. Precision: money uses decimal.Decimal, never float64
  4. Ledger rows link to a customer by id OR by phone (pre-link history)

USAGE:
  rc := aggregate.NewRecomputer(store, logg, nil)
  agg, err := rc.RecomputeCustomer(ctx, 42)
  if aggregate.IsNotFound(err) {
      // customer deleted meanwhile, nothing written
  }

SEE ALSO:
  - definitions.go: The rules mapping ledger rows to Aggregates
  - match.go:       Two-key (id OR phone) ledger lookup
  - recompute.go:   Single-customer recompute
  - batch.go:       Recompute every customer
*/
package aggregate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID int64
type SaleID int64
type SaleItemID int64
type PointEntryID int64

// =============================================================================
// DATE - Sortable calendar date
// =============================================================================

// DateLayout is the storage layout of every ledger date.
const DateLayout = "2006-01-02"

// Date is a calendar date in YYYY-MM-DD form. Because the layout is
// fixed-width and big-endian, string order equals chronological order.
type Date string

func NewDate(t time.Time) Date { return Date(t.Format(DateLayout)) }

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return NewDate(t), nil
}

func (d Date) IsZero() bool      { return d == "" }
func (d Date) After(o Date) bool { return d > o }
func (d Date) String() string    { return string(d) }

// Validate rejects a non-empty date that is not in DateLayout. Stores call
// it before writing so that string order stays chronological.
func (d Date) Validate() error {
	if d.IsZero() {
		return nil
	}
	_, err := ParseDate(string(d))
	return err
}

// =============================================================================
// CUSTOMER - Owner of the derived fields
// =============================================================================

type Customer struct {
	ID    CustomerID
	Name  string
	Phone string

	// Derived. Written only by the recomputer.
	Aggregates Aggregates
}

// Aggregates are the derived customer fields. They must always equal
// Compute over the customer's ledger rows.
type Aggregates struct {
	TotalConsumption decimal.Decimal
	ConsumptionCount int64
	ConsumptionTimes int64
	LastConsumption  *Date
	TotalPoints      int64
	AvailablePoints  int64
}

// Equal compares two aggregate sets by value.
func (a Aggregates) Equal(b Aggregates) bool {
	if !a.TotalConsumption.Equal(b.TotalConsumption) ||
		a.ConsumptionCount != b.ConsumptionCount ||
		a.ConsumptionTimes != b.ConsumptionTimes ||
		a.TotalPoints != b.TotalPoints ||
		a.AvailablePoints != b.AvailablePoints {
		return false
	}
	if a.LastConsumption == nil || b.LastConsumption == nil {
		return a.LastConsumption == nil && b.LastConsumption == nil
	}
	return *a.LastConsumption == *b.LastConsumption
}

// =============================================================================
// SALES LEDGER
// =============================================================================

// Sale is a transaction header. CustomerID is nil for rows recorded before
// the customer existed; those are matched later by Phone.
type Sale struct {
	ID                SaleID
	CustomerID        *CustomerID
	Phone             string
	TransactionNumber string
	Date              Date
	TotalAmount       decimal.Decimal
	Items             []SaleItem
}

type SaleItem struct {
	ID          SaleItemID
	SaleID      SaleID
	ProductCode string
	Size        string
	Quantity    int64
	Amount      decimal.Decimal
}

// =============================================================================
// POINTS LEDGER
// =============================================================================

// PointEntry is a signed grant (+) or deduction (-). Entries are never
// edited; a balance is always the sum of entries.
type PointEntry struct {
	ID         PointEntryID
	CustomerID *CustomerID
	Phone      string
	Date       Date
	Points     int64
	Channel    string
	Operator   string
	Notes      string
}

// Ledger is every row associated with one customer.
type Ledger struct {
	Sales   []Sale
	Entries []PointEntry
}

// CustomerRef is a helper for building nullable customer references.
func CustomerRef(id CustomerID) *CustomerID { return &id }
