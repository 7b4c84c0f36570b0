/*
definitions.go - Derived customer fields as pure functions of ledger rows

RULES:
  TotalConsumption = Σ sale.total_amount            over qualifying sales
  ConsumptionCount = Σ item.quantity                over items of qualifying sales
  ConsumptionTimes = count(distinct sale.id)        over qualifying sales
  LastConsumption  = max(sale.date)                 over qualifying sales, nil if none
  TotalPoints      = floor(Σ sale.total_amount)     over ALL sales
  AvailablePoints  = Σ entry.points                 over all point entries, 0 if none

A sale qualifies when total_amount > 0 (strictly). Voided and return-only
sales are excluded from spend and counts.

TotalPoints is accrued on gross sales volume and deliberately skips the
qualifying filter, so negative sales reduce it while being invisible to
the spend stats. This asymmetry is kept as observed behaviour.
*/
package aggregate

import "github.com/shopspring/decimal"

// Qualifies reports whether a sale counts towards spend statistics.
func Qualifies(s Sale) bool {
	return s.TotalAmount.IsPositive()
}

// Compute derives the customer fields from the rows of one customer.
// Callers pass rows already restricted to the customer (see LoadLedger).
func Compute(l Ledger) Aggregates {
	agg := Aggregates{TotalConsumption: decimal.Zero}

	gross := decimal.Zero
	seen := make(map[SaleID]struct{}, len(l.Sales))
	for _, s := range l.Sales {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}

		gross = gross.Add(s.TotalAmount)
		if !Qualifies(s) {
			continue
		}

		agg.TotalConsumption = agg.TotalConsumption.Add(s.TotalAmount)
		agg.ConsumptionTimes++
		for _, item := range s.Items {
			agg.ConsumptionCount += item.Quantity
		}
		if !s.Date.IsZero() && (agg.LastConsumption == nil || s.Date.After(*agg.LastConsumption)) {
			d := s.Date
			agg.LastConsumption = &d
		}
	}
	agg.TotalPoints = gross.Floor().IntPart()

	for _, e := range l.Entries {
		agg.AvailablePoints += e.Points
	}
	return agg
}
