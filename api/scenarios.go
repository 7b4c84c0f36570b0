/*
scenarios.go - Demo ledgers for development and demonstrations

PURPOSE:
  Populates the database with small ledgers that each show one recompute
  rule. Derived fields are left stale on purpose; call the recompute
  endpoints afterwards to see them rebuilt.

AVAILABLE SCENARIOS:
  regular-customer: Several sales and point grants, linked by id
  refunds:          Zero and negative sales next to purchases
  phone-fallback:   History recorded before the customer registered
  drift-repair:     Derived fields corrupted, ledger intact

HOW SCENARIOS WORK:
  1. Reset database (clear all data)
  2. Create customers
  3. Append sales (with items) and point entries

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "refunds"}

NOTE:
  Scenarios reset the database. Routes are only mounted in dev.
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/customer-ledger/aggregate"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "regular-customer",
		Name:        "Regular Customer",
		Description: "Three purchases and point grants, all linked by customer id",
	},
	{
		ID:          "refunds",
		Name:        "Refunds",
		Description: "Purchases, a zero-value exchange and a refund; spend skips non-positive sales, lifetime points do not",
	},
	{
		ID:          "phone-fallback",
		Name:        "Phone Fallback",
		Description: "Sales and points recorded by phone before the customer registered",
	},
	{
		ID:          "drift-repair",
		Name:        "Drift Repair",
		Description: "Stored totals disagree with the ledger until recomputed",
	},
}

var scenarioLoaders = map[string]func(ctx context.Context, h *Handler) error{
	"regular-customer": loadRegularCustomerScenario,
	"refunds":          loadRefundsScenario,
	"phone-fallback":   loadPhoneFallbackScenario,
	"drift-repair":     loadDriftRepairScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined ledger.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, h); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.Logger.Info(h.Logger.WithField(ctx, "scenario", req.ScenarioID), "scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadRegularCustomerScenario(ctx context.Context, h *Handler) error {
	id, err := h.Store.SaveCustomer(ctx, aggregate.Customer{Name: "Lin Wei", Phone: "13800000001"})
	if err != nil {
		return err
	}
	ref := aggregate.CustomerRef(id)

	sales := []aggregate.Sale{
		demoSale(ref, "13800000001", "T-1001", "2025-01-12", item("TEE-01", "M", 2, "119.80")),
		demoSale(ref, "13800000001", "T-1024", "2025-02-03", item("JKT-07", "L", 1, "299.00")),
		demoSale(ref, "13800000001", "T-1102", "2025-03-21", item("CAP-02", "", 1, "39.50"), item("SOCK-3", "", 3, "36.00")),
	}
	if err := addSales(ctx, h, sales); err != nil {
		return err
	}
	return addPoints(ctx, h, ref, "", []int64{119, 299, 75, -100})
}

func loadRefundsScenario(ctx context.Context, h *Handler) error {
	id, err := h.Store.SaveCustomer(ctx, aggregate.Customer{Name: "Zhang Min", Phone: "13800000002"})
	if err != nil {
		return err
	}
	ref := aggregate.CustomerRef(id)

	sales := []aggregate.Sale{
		demoSale(ref, "13800000002", "T-2001", "2025-01-05", item("DRS-11", "S", 1, "100.00")),
		demoSale(ref, "13800000002", "T-2002", "2025-01-20", item("DRS-11", "M", 1, "200.00")),
		// Size exchange: nothing paid.
		demoSale(ref, "13800000002", "T-2003", "2025-02-02", item("DRS-11", "S", 1, "0")),
		demoSale(ref, "13800000002", "T-2004", "2025-02-14", item("DRS-11", "S", -1, "-50.00")),
	}
	if err := addSales(ctx, h, sales); err != nil {
		return err
	}
	return addPoints(ctx, h, ref, "", []int64{100, 200, -50})
}

func loadPhoneFallbackScenario(ctx context.Context, h *Handler) error {
	const phone = "13800000003"

	// Walk-in history, no customer yet.
	orphans := []aggregate.Sale{
		demoSale(nil, phone, "T-3001", "2024-11-02", item("TEE-02", "L", 1, "79.00")),
		demoSale(nil, phone, "T-3017", "2024-12-24", item("SCF-01", "", 2, "90.00")),
	}
	if err := addSales(ctx, h, orphans); err != nil {
		return err
	}
	if err := addPoints(ctx, h, nil, phone, []int64{79, 90}); err != nil {
		return err
	}

	id, err := h.Store.SaveCustomer(ctx, aggregate.Customer{Name: "Chen Jie", Phone: phone})
	if err != nil {
		return err
	}
	ref := aggregate.CustomerRef(id)
	if err := addSales(ctx, h, []aggregate.Sale{
		demoSale(ref, phone, "T-3090", "2025-01-15", item("JKT-02", "L", 1, "259.00")),
	}); err != nil {
		return err
	}

	// A different shopper's walk-in sale; must never be attributed.
	return addSales(ctx, h, []aggregate.Sale{
		demoSale(nil, "13900000009", "T-3091", "2025-01-16", item("TEE-02", "M", 1, "79.00")),
	})
}

func loadDriftRepairScenario(ctx context.Context, h *Handler) error {
	if err := loadRegularCustomerScenario(ctx, h); err != nil {
		return err
	}
	ids, err := h.Store.ListCustomerIDs(ctx)
	if err != nil {
		return err
	}

	// Values a buggy incremental update could have left behind.
	last := aggregate.Date("2024-01-01")
	drifted := aggregate.Aggregates{
		TotalConsumption: decimal.NewFromInt(99999),
		ConsumptionCount: 1,
		ConsumptionTimes: 42,
		LastConsumption:  &last,
		TotalPoints:      -5,
		AvailablePoints:  1000000,
	}
	return h.Store.WithTx(ctx, func(tx aggregate.Tx) error {
		for _, id := range ids {
			if err := tx.SaveAggregates(ctx, id, drifted); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func item(code, size string, qty int64, amount string) aggregate.SaleItem {
	return aggregate.SaleItem{
		ProductCode: code,
		Size:        size,
		Quantity:    qty,
		Amount:      decimal.RequireFromString(amount),
	}
}

// demoSale builds a sale whose total is the sum of its line amounts.
func demoSale(customer *aggregate.CustomerID, phone, txNumber, date string, items ...aggregate.SaleItem) aggregate.Sale {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return aggregate.Sale{
		CustomerID:        customer,
		Phone:             phone,
		TransactionNumber: txNumber,
		Date:              aggregate.Date(date),
		TotalAmount:       total,
		Items:             items,
	}
}

func addSales(ctx context.Context, h *Handler, sales []aggregate.Sale) error {
	for _, s := range sales {
		if _, err := h.Store.AddSale(ctx, s); err != nil {
			return fmt.Errorf("sale %s: %w", s.TransactionNumber, err)
		}
	}
	return nil
}

func addPoints(ctx context.Context, h *Handler, customer *aggregate.CustomerID, phone string, deltas []int64) error {
	for _, p := range deltas {
		_, err := h.Store.AddPointEntry(ctx, aggregate.PointEntry{
			CustomerID: customer,
			Phone:      phone,
			Points:     p,
			Channel:    "demo",
			Operator:   "scenario",
		})
		if err != nil {
			return err
		}
	}
	return nil
}
