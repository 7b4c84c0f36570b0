/*
handlers.go - Administrative HTTP handlers for the recompute engine

ENDPOINTS:
  Customers:
    GET    /api/customers                 List customers with derived fields
    GET    /api/customers/{id}            Get one customer
    POST   /api/customers/{id}/recompute  Recompute one customer

  Admin:
    POST   /api/admin/recompute           Recompute every customer
    GET    /api/admin/recompute/runs      Recent batch runs

ERROR HANDLING:
  - 400: Invalid customer id
  - 404: Customer not found (normal outcome, nothing written)
  - 503: Storage failure, safe to retry
  - 500: Batch could not enumerate customers, or read failure

SECURITY NOTE:
  No authentication. Bind the server to an admin-only interface.
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/warp/customer-ledger/aggregate"
	"github.com/warp/customer-ledger/logger"
	"github.com/warp/customer-ledger/store/sqlite"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Recomputer *aggregate.Recomputer
	Batch      *aggregate.BatchRecomputer
	Logger     *logger.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store and engines.
func NewHandler(store *sqlite.Store, rc *aggregate.Recomputer, batch *aggregate.BatchRecomputer, logg *logger.Logger) *Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Handler{Store: store, Recomputer: rc, Batch: batch, Logger: logg}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns all customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCustomer returns a single customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := customerIDParam(w, r)
	if !ok {
		return
	}

	c, err := h.Store.GetCustomer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get customer", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*c))
}

// RecomputeCustomer rebuilds one customer's derived fields.
func (h *Handler) RecomputeCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := customerIDParam(w, r)
	if !ok {
		return
	}

	agg, err := h.Recomputer.RecomputeCustomer(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, RecomputeResponse{CustomerID: int64(id), AggregatesDTO: toAggregatesDTO(agg)})
	case aggregate.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Customer not found", err)
	case aggregate.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "Recompute failed, retry", err)
	default:
		writeError(w, http.StatusInternalServerError, "Recompute failed", err)
	}
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RecomputeAll runs the batch recompute synchronously and returns its summary.
// Individual customer failures are reported in the body with status 200.
func (h *Handler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Batch.RecomputeAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enumerate customers", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchSummaryDTO(summary))
}

// ListRuns returns recent batch runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func customerIDParam(w http.ResponseWriter, r *http.Request) (aggregate.CustomerID, bool) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid customer id", err)
		return 0, false
	}
	return aggregate.CustomerID(n), true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
