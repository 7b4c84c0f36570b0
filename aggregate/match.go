/*
match.go - Two-key ledger lookup

Ledger rows reference a customer by customer_id, or only by phone when
they were recorded before the customer record existed. A row belongs to
a customer when:

  row.customer_id = customer.id  OR  (row.phone = customer.phone AND phone != "")

Rather than building that as one conditional query, each key is queried
on its own and the results are unioned by row identity, so a row that
matches on both keys is counted once.
*/
package aggregate

import (
	"context"
	"strings"
)

// Match identifies a customer by primary key and secondary key.
type Match struct {
	CustomerID CustomerID
	Phone      string
}

// MatchFor builds the match for a stored customer.
func MatchFor(c *Customer) Match {
	return Match{CustomerID: c.ID, Phone: strings.TrimSpace(c.Phone)}
}

// HasPhone reports whether the secondary key may be used at all.
func (m Match) HasPhone() bool { return strings.TrimSpace(m.Phone) != "" }

func (m Match) matches(id *CustomerID, phone string) bool {
	if id != nil && *id == m.CustomerID {
		return true
	}
	return m.HasPhone() && strings.TrimSpace(phone) == strings.TrimSpace(m.Phone)
}

func (m Match) Sale(s Sale) bool        { return m.matches(s.CustomerID, s.Phone) }
func (m Match) Entry(e PointEntry) bool { return m.matches(e.CustomerID, e.Phone) }

// Union returns primary followed by the rows of secondary whose key was not
// already seen. Duplicates inside either slice are dropped as well.
func Union[T any, K comparable](primary, secondary []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(primary)+len(secondary))
	out := make([]T, 0, len(primary)+len(secondary))
	for _, rows := range [][]T{primary, secondary} {
		for _, row := range rows {
			k := key(row)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, row)
		}
	}
	return out
}

func saleKey(s Sale) SaleID              { return s.ID }
func entryKey(e PointEntry) PointEntryID { return e.ID }

// LoadLedger reads every sale and point entry belonging to m.
func LoadLedger(ctx context.Context, r LedgerReader, m Match) (Ledger, error) {
	byID, err := r.SalesByCustomer(ctx, m.CustomerID)
	if err != nil {
		return Ledger{}, storageErr("load sales by customer", m.CustomerID, err)
	}
	entriesByID, err := r.EntriesByCustomer(ctx, m.CustomerID)
	if err != nil {
		return Ledger{}, storageErr("load points by customer", m.CustomerID, err)
	}

	var byPhone []Sale
	var entriesByPhone []PointEntry
	if m.HasPhone() {
		if byPhone, err = r.SalesByPhone(ctx, m.Phone); err != nil {
			return Ledger{}, storageErr("load sales by phone", m.CustomerID, err)
		}
		if entriesByPhone, err = r.EntriesByPhone(ctx, m.Phone); err != nil {
			return Ledger{}, storageErr("load points by phone", m.CustomerID, err)
		}
	}

	return Ledger{
		Sales:   Union(byID, byPhone, saleKey),
		Entries: Union(entriesByID, entriesByPhone, entryKey),
	}, nil
}
