/*
dto.go - Data Transfer Objects for the admin API

PURPOSE:
  Defines JSON request/response structures. Separates API contracts from
  domain types.

CONVENTIONS:
  - JSON field names use snake_case
  - Money is a decimal string ("1234.50"), never a float
  - Dates are YYYY-MM-DD; absent dates are null
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/customer-ledger/aggregate"
)

// =============================================================================
// CUSTOMER DTOs
// =============================================================================

type CustomerDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	AggregatesDTO
}

type AggregatesDTO struct {
	TotalConsumption decimal.Decimal `json:"total_consumption"`
	ConsumptionCount int64           `json:"consumption_count"`
	ConsumptionTimes int64           `json:"consumption_times"`
	LastConsumption  *string         `json:"last_consumption"`
	TotalPoints      int64           `json:"total_points"`
	AvailablePoints  int64           `json:"available_points"`
}

func toAggregatesDTO(a aggregate.Aggregates) AggregatesDTO {
	dto := AggregatesDTO{
		TotalConsumption: a.TotalConsumption,
		ConsumptionCount: a.ConsumptionCount,
		ConsumptionTimes: a.ConsumptionTimes,
		TotalPoints:      a.TotalPoints,
		AvailablePoints:  a.AvailablePoints,
	}
	if a.LastConsumption != nil {
		s := a.LastConsumption.String()
		dto.LastConsumption = &s
	}
	return dto
}

func toCustomerDTO(c aggregate.Customer) CustomerDTO {
	return CustomerDTO{
		ID:            int64(c.ID),
		Name:          c.Name,
		Phone:         c.Phone,
		AggregatesDTO: toAggregatesDTO(c.Aggregates),
	}
}

// =============================================================================
// RECOMPUTE DTOs
// =============================================================================

type RecomputeResponse struct {
	CustomerID int64 `json:"customer_id"`
	AggregatesDTO
}

type BatchSummaryDTO struct {
	RunID        string       `json:"run_id"`
	Total        int          `json:"total"`
	Attempted    int          `json:"attempted"`
	Succeeded    int          `json:"succeeded"`
	NotFound     int          `json:"not_found"`
	Failed       int          `json:"failed"`
	AllSucceeded bool         `json:"all_succeeded"`
	Interrupted  bool         `json:"interrupted"`
	Failures     []FailureDTO `json:"failures"`
	StartedAt    string       `json:"started_at"`
	FinishedAt   string       `json:"finished_at"`
}

type FailureDTO struct {
	CustomerID int64  `json:"customer_id"`
	Error      string `json:"error"`
	Retryable  bool   `json:"retryable"`
}

func toBatchSummaryDTO(s aggregate.BatchSummary) BatchSummaryDTO {
	dto := BatchSummaryDTO{
		RunID:        s.RunID,
		Total:        s.Total,
		Attempted:    s.Attempted,
		Succeeded:    s.Succeeded,
		NotFound:     s.NotFound,
		Failed:       s.Failed,
		AllSucceeded: s.AllSucceeded,
		Interrupted:  s.Interrupted,
		Failures:     make([]FailureDTO, len(s.Failures)),
		StartedAt:    s.StartedAt.Format(time.RFC3339),
		FinishedAt:   s.FinishedAt.Format(time.RFC3339),
	}
	for i, f := range s.Failures {
		dto.Failures[i] = FailureDTO{
			CustomerID: int64(f.CustomerID),
			Error:      f.Err.Error(),
			Retryable:  aggregate.IsRetryable(f.Err),
		}
	}
	return dto
}

type RunDTO struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Total      int     `json:"total"`
	Attempted  int     `json:"attempted"`
	Succeeded  int     `json:"succeeded"`
	NotFound   int     `json:"not_found"`
	Failed     int     `json:"failed"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at"`
}

func toRunDTO(r aggregate.Run) RunDTO {
	dto := RunDTO{
		ID:        r.ID,
		Status:    string(r.Status),
		Total:     r.Total,
		Attempted: r.Attempted,
		Succeeded: r.Succeeded,
		NotFound:  r.NotFound,
		Failed:    r.Failed,
		Error:     r.Error,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		f := r.FinishedAt.Format(time.RFC3339)
		dto.FinishedAt = &f
	}
	return dto
}

// =============================================================================
// SCENARIO DTOs
// =============================================================================

// ScenarioDTO describes a demo ledger.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERROR RESPONSE
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
