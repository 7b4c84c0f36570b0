/*
Package sqlite provides a SQLite-backed ledger store.

PURPOSE:
  Implements aggregate.Store and aggregate.RunRecorder on SQLite, plus the
  plain ledger writes (customers, sales, points) used by seeding and tests.

KEY TABLES:
  customers:      Customer record with the derived fields
  sales:          Sales ledger headers (customer_id nullable, phone kept)
  sales_item:     Line items, ON DELETE CASCADE with their sale
  points:         Points ledger, signed deltas, append-only
  recompute_runs: Audit of batch recompute passes

LOOKUP INDEXES:
  Every ledger table is indexed on customer_id AND on phone, because rows
  are matched by either key (see aggregate/match.go).

MONEY:
  Amounts are stored as decimal strings (TEXT) and summed in Go with
  shopspring/decimal, never as REAL.

CONCURRENCY:
  One connection, guarded by sync.RWMutex. WithTx holds the write lock for
  the whole read-then-write of one customer, so a recompute is a single
  sql.Tx. Multiple batch workers therefore serialize on the database.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  rc := aggregate.NewRecomputer(store, logg, nil)

MIGRATION:
  Schema is auto-migrated on New().
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/customer-ledger/aggregate"
)

// ErrDuplicatePhone is returned when a phone is already registered.
var ErrDuplicatePhone = errors.New("phone already registered")

// runTimeLayout keeps run timestamps fixed-width so ORDER BY on the text
// column is chronological.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and makes every
	// WithTx the only writer.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		phone TEXT UNIQUE, -- NULL when unknown; never matches ledger rows
		total_consumption TEXT NOT NULL DEFAULT '0',
		consumption_count INTEGER NOT NULL DEFAULT 0,
		consumption_times INTEGER NOT NULL DEFAULT 0,
		last_consumption TEXT,
		total_points INTEGER NOT NULL DEFAULT 0,
		available_points INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		recomputed_at TEXT
	);

	-- Sales ledger. customer_id is NULL for rows recorded before the
	-- customer existed; those are matched by phone.
	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER REFERENCES customers(id) ON DELETE SET NULL,
		phone TEXT NOT NULL DEFAULT '',
		transaction_number TEXT,
		date TEXT,
		total_amount TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_customer ON sales(customer_id);
	CREATE INDEX IF NOT EXISTS idx_sales_phone ON sales(phone) WHERE phone != '';

	CREATE TABLE IF NOT EXISTS sales_item (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sale_id INTEGER NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		product_code TEXT NOT NULL,
		size TEXT,
		quantity INTEGER NOT NULL DEFAULT 1,
		amount TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_item_sale ON sales_item(sale_id);

	-- Points ledger (append-only)
	CREATE TABLE IF NOT EXISTS points (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER REFERENCES customers(id) ON DELETE SET NULL,
		phone TEXT NOT NULL DEFAULT '',
		date TEXT,
		channel TEXT,
		points INTEGER NOT NULL DEFAULT 0,
		operator TEXT,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_points_customer ON points(customer_id);
	CREATE INDEX IF NOT EXISTS idx_points_phone ON points(phone) WHERE phone != '';

	CREATE TABLE IF NOT EXISTS recompute_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		attempted INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		not_found INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_recompute_runs_started ON recompute_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerColumns = `id, name, phone, total_consumption, consumption_count,
	consumption_times, last_consumption, total_points, available_points`

// SaveCustomer inserts a customer (ID == 0) or updates its name and phone.
// Derived fields are never written here.
func (s *Store) SaveCustomer(ctx context.Context, c aggregate.Customer) (aggregate.CustomerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	phone := strings.TrimSpace(c.Phone)
	if c.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO customers (name, phone, created_at) VALUES (?, ?, ?)",
			c.Name, nullString(phone), now(),
		)
		if err != nil {
			return 0, mapConstraint(err)
		}
		id, err := res.LastInsertId()
		return aggregate.CustomerID(id), err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone
	`, c.ID, c.Name, nullString(phone), now())
	if err != nil {
		return 0, mapConstraint(err)
	}
	return c.ID, nil
}

// GetCustomer retrieves a customer by ID. Returns nil, nil when missing.
func (s *Store) GetCustomer(ctx context.Context, id aggregate.CustomerID) (*aggregate.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getCustomer(ctx, s.db, id)
}

// ListCustomers returns all customers ordered by id.
func (s *Store) ListCustomers(ctx context.Context) ([]aggregate.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+customerColumns+" FROM customers ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []aggregate.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// DeleteCustomer removes a customer. Their ledger rows stay, unlinked.
func (s *Store) DeleteCustomer(ctx context.Context, id aggregate.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM customers WHERE id = ?", id)
	return err
}

// =============================================================================
// LEDGER WRITES
// =============================================================================

// AddSale appends a sale and its items atomically.
func (s *Store) AddSale(ctx context.Context, sale aggregate.Sale) (aggregate.SaleID, error) {
	if err := sale.Date.Validate(); err != nil {
		return 0, fmt.Errorf("sale: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	created := now()
	res, err := sqlTx.ExecContext(ctx, `
		INSERT INTO sales (customer_id, phone, transaction_number, date, total_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, nullCustomer(sale.CustomerID), strings.TrimSpace(sale.Phone), nullString(sale.TransactionNumber),
		nullString(string(sale.Date)), sale.TotalAmount.String(), created)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sale: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, item := range sale.Items {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO sales_item (sale_id, product_code, size, quantity, amount, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, item.ProductCode, nullString(item.Size), item.Quantity, item.Amount.String(), created)
		if err != nil {
			return 0, fmt.Errorf("failed to insert sale item: %w", err)
		}
	}

	return aggregate.SaleID(id), sqlTx.Commit()
}

// DeleteSale removes a sale; its items go with it (ON DELETE CASCADE).
func (s *Store) DeleteSale(ctx context.Context, id aggregate.SaleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM sales WHERE id = ?", id)
	return err
}

// AddPointEntry appends a point grant or deduction.
func (s *Store) AddPointEntry(ctx context.Context, e aggregate.PointEntry) (aggregate.PointEntryID, error) {
	if err := e.Date.Validate(); err != nil {
		return 0, fmt.Errorf("point entry: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO points (customer_id, phone, date, channel, points, operator, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, nullCustomer(e.CustomerID), strings.TrimSpace(e.Phone), nullString(string(e.Date)),
		nullString(e.Channel), e.Points, nullString(e.Operator), nullString(e.Notes), now())
	if err != nil {
		return 0, fmt.Errorf("failed to insert point entry: %w", err)
	}
	id, err := res.LastInsertId()
	return aggregate.PointEntryID(id), err
}

// =============================================================================
// aggregate.Store
// =============================================================================

func (s *Store) ListCustomerIDs(ctx context.Context) ([]aggregate.CustomerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM customers ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []aggregate.CustomerID
	for rows.Next() {
		var id aggregate.CustomerID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(aggregate.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetCustomer(ctx context.Context, id aggregate.CustomerID) (*aggregate.Customer, error) {
	return getCustomer(ctx, ts.tx, id)
}

func (ts *txStore) SaveAggregates(ctx context.Context, id aggregate.CustomerID, agg aggregate.Aggregates) error {
	var last sql.NullString
	if agg.LastConsumption != nil {
		last = sql.NullString{String: string(*agg.LastConsumption), Valid: true}
	}

	res, err := ts.tx.ExecContext(ctx, `
		UPDATE customers SET
			total_consumption = ?,
			consumption_count = ?,
			consumption_times = ?,
			last_consumption = ?,
			total_points = ?,
			available_points = ?,
			recomputed_at = ?
		WHERE id = ?
	`, agg.TotalConsumption.String(), agg.ConsumptionCount, agg.ConsumptionTimes, last,
		agg.TotalPoints, agg.AvailablePoints, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update customer aggregates: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &aggregate.NotFoundError{CustomerID: id}
	}
	return nil
}

func (ts *txStore) SalesByCustomer(ctx context.Context, id aggregate.CustomerID) ([]aggregate.Sale, error) {
	return loadSales(ctx, ts.tx, "customer_id = ?", id)
}

func (ts *txStore) SalesByPhone(ctx context.Context, phone string) ([]aggregate.Sale, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, nil
	}
	return loadSales(ctx, ts.tx, "phone = ? AND phone != ''", phone)
}

func (ts *txStore) EntriesByCustomer(ctx context.Context, id aggregate.CustomerID) ([]aggregate.PointEntry, error) {
	return loadEntries(ctx, ts.tx, "customer_id = ?", id)
}

func (ts *txStore) EntriesByPhone(ctx context.Context, phone string) ([]aggregate.PointEntry, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, nil
	}
	return loadEntries(ctx, ts.tx, "phone = ? AND phone != ''", phone)
}

// =============================================================================
// RECOMPUTE RUNS (aggregate.RunRecorder)
// =============================================================================

// SaveRun inserts or updates a batch run record.
func (s *Store) SaveRun(ctx context.Context, r aggregate.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if r.FinishedAt != nil {
		f := r.FinishedAt.UTC().Format(runTimeLayout)
		finishedAt = &f
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recompute_runs (id, status, total, attempted, succeeded, not_found, failed,
			error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total = excluded.total,
			attempted = excluded.attempted,
			succeeded = excluded.succeeded,
			not_found = excluded.not_found,
			failed = excluded.failed,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, r.ID, r.Status, r.Total, r.Attempted, r.Succeeded, r.NotFound, r.Failed,
		nullString(r.Error), r.StartedAt.UTC().Format(runTimeLayout), finishedAt)
	return err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]aggregate.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, total, attempted, succeeded, not_found, failed, error, started_at, finished_at
		FROM recompute_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []aggregate.Run
	for rows.Next() {
		var r aggregate.Run
		var errText, finishedAt sql.NullString
		var startedAt string
		if err := rows.Scan(&r.ID, &r.Status, &r.Total, &r.Attempted, &r.Succeeded,
			&r.NotFound, &r.Failed, &errText, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.StartedAt, _ = time.Parse(runTimeLayout, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(runTimeLayout, finishedAt.String)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Children first; customers last so ON DELETE SET NULL has nothing to do.
	tables := []string{"sales_item", "sales", "points", "customers", "recompute_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func getCustomer(ctx context.Context, q querier, id aggregate.CustomerID) (*aggregate.Customer, error) {
	row := q.QueryRowContext(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = ?", id)
	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCustomer(row scanner) (aggregate.Customer, error) {
	var (
		c     aggregate.Customer
		phone sql.NullString
		total string
		last  sql.NullString
	)
	err := row.Scan(&c.ID, &c.Name, &phone, &total,
		&c.Aggregates.ConsumptionCount, &c.Aggregates.ConsumptionTimes, &last,
		&c.Aggregates.TotalPoints, &c.Aggregates.AvailablePoints)
	if err != nil {
		return c, err
	}
	c.Phone = phone.String
	c.Aggregates.TotalConsumption, err = decimal.NewFromString(total)
	if err != nil {
		return c, fmt.Errorf("customer %d: bad total_consumption %q: %w", c.ID, total, err)
	}
	if last.Valid && last.String != "" {
		d := aggregate.Date(last.String)
		c.Aggregates.LastConsumption = &d
	}
	return c, nil
}

// loadSales reads the sales matching where, then their items in one query.
func loadSales(ctx context.Context, q querier, where string, arg any) ([]aggregate.Sale, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, customer_id, phone, transaction_number, date, total_amount
		FROM sales WHERE `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}

	var sales []aggregate.Sale
	index := make(map[aggregate.SaleID]int)
	for rows.Next() {
		var (
			sale        aggregate.Sale
			customerID  sql.NullInt64
			txNumber    sql.NullString
			date        sql.NullString
			totalAmount string
		)
		if err := rows.Scan(&sale.ID, &customerID, &sale.Phone, &txNumber, &date, &totalAmount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		if customerID.Valid {
			sale.CustomerID = aggregate.CustomerRef(aggregate.CustomerID(customerID.Int64))
		}
		sale.TransactionNumber = txNumber.String
		sale.Date = aggregate.Date(date.String)
		if sale.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sale %d: bad total_amount %q: %w", sale.ID, totalAmount, err)
		}
		index[sale.ID] = len(sales)
		sales = append(sales, sale)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return nil, nil
	}

	items, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_code, size, quantity, amount
		FROM sales_item
		WHERE sale_id IN (SELECT id FROM sales WHERE `+where+`)
		ORDER BY sale_id, id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale items: %w", err)
	}
	defer items.Close()

	for items.Next() {
		var (
			item   aggregate.SaleItem
			size   sql.NullString
			amount string
		)
		if err := items.Scan(&item.ID, &item.SaleID, &item.ProductCode, &size, &item.Quantity, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan sale item: %w", err)
		}
		item.Size = size.String
		if item.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("sale item %d: bad amount %q: %w", item.ID, amount, err)
		}
		if i, ok := index[item.SaleID]; ok {
			sales[i].Items = append(sales[i].Items, item)
		}
	}
	return sales, items.Err()
}

func loadEntries(ctx context.Context, q querier, where string, arg any) ([]aggregate.PointEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, customer_id, phone, date, channel, points, operator, notes
		FROM points WHERE `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer rows.Close()

	var entries []aggregate.PointEntry
	for rows.Next() {
		var (
			e                        aggregate.PointEntry
			customerID               sql.NullInt64
			date, channel, op, notes sql.NullString
		)
		if err := rows.Scan(&e.ID, &customerID, &e.Phone, &date, &channel, &e.Points, &op, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan point entry: %w", err)
		}
		if customerID.Valid {
			e.CustomerID = aggregate.CustomerRef(aggregate.CustomerID(customerID.Int64))
		}
		e.Date = aggregate.Date(date.String)
		e.Channel = channel.String
		e.Operator = op.String
		e.Notes = notes.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Helper functions

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullCustomer(id *aggregate.CustomerID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func mapConstraint(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", ErrDuplicatePhone, err)
	}
	return err
}
