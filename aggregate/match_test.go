package aggregate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/customer-ledger/aggregate"
)

// stubReader serves fixed rows per key and counts phone queries.
type stubReader struct {
	byID        []aggregate.Sale
	byPhone     []aggregate.Sale
	entriesID   []aggregate.PointEntry
	entriesPh   []aggregate.PointEntry
	phoneCalls  int
	failOnPhone error
}

func (r *stubReader) SalesByCustomer(context.Context, aggregate.CustomerID) ([]aggregate.Sale, error) {
	return r.byID, nil
}

func (r *stubReader) SalesByPhone(context.Context, string) ([]aggregate.Sale, error) {
	r.phoneCalls++
	return r.byPhone, r.failOnPhone
}

func (r *stubReader) EntriesByCustomer(context.Context, aggregate.CustomerID) ([]aggregate.PointEntry, error) {
	return r.entriesID, nil
}

func (r *stubReader) EntriesByPhone(context.Context, string) ([]aggregate.PointEntry, error) {
	r.phoneCalls++
	return r.entriesPh, nil
}

func TestMatch_IDOrPhone(t *testing.T) {
	m := aggregate.Match{CustomerID: 1, Phone: "13800000000"}

	tests := []struct {
		name  string
		sale  aggregate.Sale
		match bool
	}{
		{"linked by id", aggregate.Sale{CustomerID: aggregate.CustomerRef(1)}, true},
		{"orphan with same phone", aggregate.Sale{Phone: "13800000000"}, true},
		{"phone with surrounding spaces", aggregate.Sale{Phone: " 13800000000 "}, true},
		{"other customer, same phone", aggregate.Sale{CustomerID: aggregate.CustomerRef(2), Phone: "13800000000"}, true},
		{"other customer, other phone", aggregate.Sale{CustomerID: aggregate.CustomerRef(2), Phone: "139"}, false},
		{"orphan, empty phone", aggregate.Sale{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, m.Sale(tt.sale))
		})
	}
}

func TestMatch_EmptyPhoneNeverMatchesByPhone(t *testing.T) {
	m := aggregate.Match{CustomerID: 1, Phone: "  "}

	assert.False(t, m.HasPhone())
	assert.False(t, m.Entry(aggregate.PointEntry{Phone: ""}))
	assert.False(t, m.Entry(aggregate.PointEntry{Phone: "  "}))
	assert.True(t, m.Entry(aggregate.PointEntry{CustomerID: aggregate.CustomerRef(1)}))
}

func TestUnion_DeduplicatesByKey_KeepsOrder(t *testing.T) {
	got := aggregate.Union([]int{3, 1, 3}, []int{1, 2, 4, 2}, func(v int) int { return v })
	assert.Equal(t, []int{3, 1, 2, 4}, got)

	assert.Empty(t, aggregate.Union[int, int](nil, nil, func(v int) int { return v }))
}

func TestLoadLedger_RowMatchedByBothKeys_CountedOnce(t *testing.T) {
	// GIVEN: Sale 1 is linked by id AND carries the customer's phone
	shared := aggregate.Sale{ID: 1, CustomerID: aggregate.CustomerRef(1), Phone: "555", TotalAmount: dec("10")}
	orphan := aggregate.Sale{ID: 2, Phone: "555", TotalAmount: dec("5")}
	r := &stubReader{
		byID:      []aggregate.Sale{shared},
		byPhone:   []aggregate.Sale{shared, orphan},
		entriesID: []aggregate.PointEntry{{ID: 1, Points: 10}},
		entriesPh: []aggregate.PointEntry{{ID: 1, Points: 10}, {ID: 2, Points: 3}},
	}

	ledger, err := aggregate.LoadLedger(context.Background(), r, aggregate.Match{CustomerID: 1, Phone: "555"})
	require.NoError(t, err)

	assert.Len(t, ledger.Sales, 2)
	assert.Len(t, ledger.Entries, 2)
	assert.Equal(t, int64(13), aggregate.Compute(ledger).AvailablePoints)
}

func TestLoadLedger_NoPhone_SkipsSecondaryQueries(t *testing.T) {
	r := &stubReader{byPhone: []aggregate.Sale{{ID: 9, TotalAmount: dec("1")}}}

	ledger, err := aggregate.LoadLedger(context.Background(), r, aggregate.Match{CustomerID: 1})
	require.NoError(t, err)

	assert.Zero(t, r.phoneCalls)
	assert.Empty(t, ledger.Sales)
}

func TestLoadLedger_ReadFailure_IsStorageError(t *testing.T) {
	cause := errors.New("disk I/O error")
	r := &stubReader{failOnPhone: cause}

	_, err := aggregate.LoadLedger(context.Background(), r, aggregate.Match{CustomerID: 4, Phone: "555"})

	require.Error(t, err)
	assert.True(t, aggregate.IsRetryable(err))
	assert.False(t, aggregate.IsNotFound(err))
	assert.ErrorIs(t, err, cause)

	var se *aggregate.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, aggregate.CustomerID(4), se.CustomerID)
	assert.Equal(t, "load sales by phone", se.Op)
}
