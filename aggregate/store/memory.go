// Package store provides an in-memory aggregate.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warp/customer-ledger/aggregate"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// FaultFunc lets tests inject storage failures. op is one of the Op*
// constants; returning a non-nil error makes that call fail.
type FaultFunc func(op string, id aggregate.CustomerID) error

const (
	OpList           = "list"
	OpGetCustomer    = "get_customer"
	OpLoadSales      = "load_sales"
	OpLoadEntries    = "load_entries"
	OpSaveAggregates = "save_aggregates"

	// Phone-key reads carry no customer id; the fault sees id 0.
	OpLoadSalesByPhone   = "load_sales_by_phone"
	OpLoadEntriesByPhone = "load_entries_by_phone"
)

type Memory struct {
	mu        sync.Mutex
	customers map[aggregate.CustomerID]aggregate.Customer
	sales     map[aggregate.SaleID]aggregate.Sale
	entries   map[aggregate.PointEntryID]aggregate.PointEntry
	runs      map[string]aggregate.Run

	nextCustomer aggregate.CustomerID
	nextSale     aggregate.SaleID
	nextItem     aggregate.SaleItemID
	nextEntry    aggregate.PointEntryID

	Fault FaultFunc
}

func NewMemory() *Memory {
	return &Memory{
		customers: make(map[aggregate.CustomerID]aggregate.Customer),
		sales:     make(map[aggregate.SaleID]aggregate.Sale),
		entries:   make(map[aggregate.PointEntryID]aggregate.PointEntry),
		runs:      make(map[string]aggregate.Run),
	}
}

func (m *Memory) fault(op string, id aggregate.CustomerID) error {
	if m.Fault == nil {
		return nil
	}
	return m.Fault(op, id)
}

// =============================================================================
// LEDGER WRITES - Used by tests and seeding, not by the recomputers
// =============================================================================

// SaveCustomer inserts (ID == 0) or updates a customer's non-derived fields.
func (m *Memory) SaveCustomer(_ context.Context, c aggregate.Customer) (aggregate.CustomerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	phone := strings.TrimSpace(c.Phone)
	for id, existing := range m.customers {
		if phone != "" && id != c.ID && existing.Phone == phone {
			return 0, fmt.Errorf("phone %q already registered", phone)
		}
	}
	if c.ID == 0 {
		m.nextCustomer++
		c.ID = m.nextCustomer
	} else if existing, ok := m.customers[c.ID]; ok {
		c.Aggregates = existing.Aggregates
	} else if c.ID > m.nextCustomer {
		m.nextCustomer = c.ID
	}
	c.Phone = phone
	m.customers[c.ID] = c
	return c.ID, nil
}

func (m *Memory) DeleteCustomer(_ context.Context, id aggregate.CustomerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.customers, id)
	return nil
}

// Customer returns a copy of the stored customer, or nil.
func (m *Memory) Customer(id aggregate.CustomerID) *aggregate.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil
	}
	return &c
}

// AddSale appends a sale and its items, assigning ids.
func (m *Memory) AddSale(_ context.Context, s aggregate.Sale) (aggregate.SaleID, error) {
	if err := s.Date.Validate(); err != nil {
		return 0, fmt.Errorf("sale: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSale++
	s.ID = m.nextSale
	items := make([]aggregate.SaleItem, len(s.Items))
	for i, item := range s.Items {
		m.nextItem++
		item.ID = m.nextItem
		item.SaleID = s.ID
		items[i] = item
	}
	s.Items = items
	m.sales[s.ID] = s
	return s.ID, nil
}

// DeleteSale removes a sale together with its items.
func (m *Memory) DeleteSale(_ context.Context, id aggregate.SaleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sales, id)
	return nil
}

func (m *Memory) AddPointEntry(_ context.Context, e aggregate.PointEntry) (aggregate.PointEntryID, error) {
	if err := e.Date.Validate(); err != nil {
		return 0, fmt.Errorf("point entry: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEntry++
	e.ID = m.nextEntry
	m.entries[e.ID] = e
	return e.ID, nil
}

// =============================================================================
// aggregate.Store
// =============================================================================

func (m *Memory) ListCustomerIDs(_ context.Context) ([]aggregate.CustomerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpList, 0); err != nil {
		return nil, err
	}
	ids := make([]aggregate.CustomerID, 0, len(m.customers))
	for id := range m.customers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// WithTx executes fn with the store locked.
// Simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(aggregate.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[aggregate.CustomerID]aggregate.Customer, len(m.customers))
	for k, v := range m.customers {
		snapshot[k] = v
	}

	if err := fn(&memoryTx{parent: m}); err != nil {
		m.customers = snapshot
		return err
	}
	return nil
}

func (m *Memory) SaveRun(_ context.Context, run aggregate.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

// Runs returns recorded runs, newest first.
func (m *Memory) Runs() []aggregate.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]aggregate.Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs
}

// =============================================================================
// TRANSACTIONAL VIEW - Caller holds parent.mu
// =============================================================================

type memoryTx struct {
	parent *Memory
}

func (tx *memoryTx) GetCustomer(_ context.Context, id aggregate.CustomerID) (*aggregate.Customer, error) {
	if err := tx.parent.fault(OpGetCustomer, id); err != nil {
		return nil, err
	}
	c, ok := tx.parent.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (tx *memoryTx) SaveAggregates(_ context.Context, id aggregate.CustomerID, agg aggregate.Aggregates) error {
	if err := tx.parent.fault(OpSaveAggregates, id); err != nil {
		return err
	}
	c, ok := tx.parent.customers[id]
	if !ok {
		return fmt.Errorf("customer %d vanished", id)
	}
	c.Aggregates = agg
	tx.parent.customers[id] = c
	return nil
}

func (tx *memoryTx) SalesByCustomer(_ context.Context, id aggregate.CustomerID) ([]aggregate.Sale, error) {
	if err := tx.parent.fault(OpLoadSales, id); err != nil {
		return nil, err
	}
	return tx.sales(func(s aggregate.Sale) bool {
		return s.CustomerID != nil && *s.CustomerID == id
	}), nil
}

func (tx *memoryTx) SalesByPhone(_ context.Context, phone string) ([]aggregate.Sale, error) {
	if err := tx.parent.fault(OpLoadSalesByPhone, 0); err != nil {
		return nil, err
	}
	byPhone := aggregate.Match{Phone: phone}
	return tx.sales(func(s aggregate.Sale) bool {
		return byPhone.HasPhone() && byPhone.Sale(aggregate.Sale{Phone: s.Phone})
	}), nil
}

func (tx *memoryTx) EntriesByCustomer(_ context.Context, id aggregate.CustomerID) ([]aggregate.PointEntry, error) {
	if err := tx.parent.fault(OpLoadEntries, id); err != nil {
		return nil, err
	}
	return tx.entries(func(e aggregate.PointEntry) bool {
		return e.CustomerID != nil && *e.CustomerID == id
	}), nil
}

func (tx *memoryTx) EntriesByPhone(_ context.Context, phone string) ([]aggregate.PointEntry, error) {
	if err := tx.parent.fault(OpLoadEntriesByPhone, 0); err != nil {
		return nil, err
	}
	byPhone := aggregate.Match{Phone: phone}
	return tx.entries(func(e aggregate.PointEntry) bool {
		return byPhone.HasPhone() && byPhone.Entry(aggregate.PointEntry{Phone: e.Phone})
	}), nil
}

func (tx *memoryTx) sales(keep func(aggregate.Sale) bool) []aggregate.Sale {
	var out []aggregate.Sale
	for _, s := range tx.parent.sales {
		if keep(s) {
			s.Items = append([]aggregate.SaleItem(nil), s.Items...)
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *memoryTx) entries(keep func(aggregate.PointEntry) bool) []aggregate.PointEntry {
	var out []aggregate.PointEntry
	for _, e := range tx.parent.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
