package aggregate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/customer-ledger/aggregate"
	"github.com/warp/customer-ledger/aggregate/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var ctx = context.Background()

func seedCustomer(t *testing.T, s *store.Memory, name, phone string) aggregate.CustomerID {
	t.Helper()
	id, err := s.SaveCustomer(ctx, aggregate.Customer{Name: name, Phone: phone})
	require.NoError(t, err)
	return id
}

func seedSale(t *testing.T, s *store.Memory, id aggregate.CustomerID, phone, date, total string, quantities ...int64) aggregate.SaleID {
	t.Helper()
	sl := aggregate.Sale{Phone: phone, Date: aggregate.Date(date), TotalAmount: dec(total)}
	if id != 0 {
		sl.CustomerID = aggregate.CustomerRef(id)
	}
	for _, q := range quantities {
		sl.Items = append(sl.Items, aggregate.SaleItem{ProductCode: "SKU", Quantity: q, Amount: dec("1")})
	}
	saleID, err := s.AddSale(ctx, sl)
	require.NoError(t, err)
	return saleID
}

func seedPoints(t *testing.T, s *store.Memory, id aggregate.CustomerID, phone string, points int64) {
	t.Helper()
	e := aggregate.PointEntry{Phone: phone, Points: points, Channel: "manual"}
	if id != 0 {
		e.CustomerID = aggregate.CustomerRef(id)
	}
	_, err := s.AddPointEntry(ctx, e)
	require.NoError(t, err)
}

func faultFor(op string, target aggregate.CustomerID, err error) store.FaultFunc {
	return func(o string, id aggregate.CustomerID) error {
		if o == op && id == target {
			return err
		}
		return nil
	}
}

// =============================================================================
// SINGLE CUSTOMER RECOMPUTE
// =============================================================================

func TestRecomputeCustomer_PersistsAggregates(t *testing.T) {
	s := store.NewMemory()
	id := seedCustomer(t, s, "Ana", "555-0101")
	seedSale(t, s, id, "555-0101", "2025-01-10", "100", 2, 1)
	seedSale(t, s, id, "555-0101", "2025-02-01", "0", 1)
	seedSale(t, s, id, "555-0101", "2025-03-01", "-50", 1)
	seedSale(t, s, id, "555-0101", "2025-01-20", "200", 1)
	seedPoints(t, s, id, "", 100)
	seedPoints(t, s, id, "", -30)
	seedPoints(t, s, id, "", 5)

	rc := aggregate.NewRecomputer(s, nil, nil)
	agg, err := rc.RecomputeCustomer(ctx, id)
	require.NoError(t, err)

	assert.True(t, agg.TotalConsumption.Equal(dec("300")))
	assert.Equal(t, int64(4), agg.ConsumptionCount)
	assert.Equal(t, int64(2), agg.ConsumptionTimes)
	require.NotNil(t, agg.LastConsumption)
	assert.Equal(t, aggregate.Date("2025-01-20"), *agg.LastConsumption)
	assert.Equal(t, int64(250), agg.TotalPoints)
	assert.Equal(t, int64(75), agg.AvailablePoints)

	stored := s.Customer(id)
	require.NotNil(t, stored)
	assert.True(t, stored.Aggregates.Equal(agg))
}

func TestRecomputeCustomer_Idempotent(t *testing.T) {
	s := store.NewMemory()
	id := seedCustomer(t, s, "Ana", "555-0101")
	seedSale(t, s, id, "", "2025-01-10", "19.99", 1)
	seedPoints(t, s, id, "", 19)
	rc := aggregate.NewRecomputer(s, nil, nil)

	first, err := rc.RecomputeCustomer(ctx, id)
	require.NoError(t, err)
	second, err := rc.RecomputeCustomer(ctx, id)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
	assert.True(t, s.Customer(id).Aggregates.Equal(first))
}

func TestRecomputeCustomer_OverwritesDriftedValues(t *testing.T) {
	// GIVEN: Derived fields were corrupted by an earlier bug
	s := store.NewMemory()
	id := seedCustomer(t, s, "Ana", "555-0101")
	seedSale(t, s, id, "", "2025-01-10", "10", 1)
	require.NoError(t, s.WithTx(ctx, func(tx aggregate.Tx) error {
		return tx.SaveAggregates(ctx, id, aggregate.Aggregates{TotalConsumption: dec("9999"), TotalPoints: 9999})
	}))

	// WHEN: Recomputed
	agg, err := aggregate.NewRecomputer(s, nil, nil).RecomputeCustomer(ctx, id)

	// THEN: Values come from the ledger only
	require.NoError(t, err)
	assert.True(t, agg.TotalConsumption.Equal(dec("10")))
	assert.Equal(t, int64(10), s.Customer(id).Aggregates.TotalPoints)
}

func TestRecomputeCustomer_NotFound_NoWrite(t *testing.T) {
	s := store.NewMemory()
	other := seedCustomer(t, s, "Ana", "555-0101")
	seedSale(t, s, other, "", "2025-01-10", "10")
	rc := aggregate.NewRecomputer(s, nil, nil)

	for _, id := range []aggregate.CustomerID{other + 100, 0, -1} {
		_, err := rc.RecomputeCustomer(ctx, id)

		require.Error(t, err)
		assert.True(t, aggregate.IsNotFound(err), "id %d", id)
		assert.False(t, aggregate.IsRetryable(err))
		var nf *aggregate.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, id, nf.CustomerID)
	}
	assert.True(t, s.Customer(other).Aggregates.Equal(aggregate.Aggregates{}), "other customers untouched")
}

func TestRecomputeCustomer_DeletedCustomer_NotFound(t *testing.T) {
	s := store.NewMemory()
	id := seedCustomer(t, s, "Ana", "555-0101")
	require.NoError(t, s.DeleteCustomer(ctx, id))

	_, err := aggregate.NewRecomputer(s, nil, nil).RecomputeCustomer(ctx, id)

	assert.True(t, aggregate.IsNotFound(err))
}

func TestRecomputeCustomer_PhoneFallback(t *testing.T) {
	// GIVEN: Orphan rows recorded before the customer registered, matched only by phone
	s := store.NewMemory()
	id := seedCustomer(t, s, "Ana", "13800000000")
	seedSale(t, s, 0, "13800000000", "2024-11-01", "50", 1)
	seedSale(t, s, id, "13800000000", "2025-01-01", "20", 1)
	seedSale(t, s, 0, "13900000000", "2025-01-05", "999", 1)
	seedPoints(t, s, 0, "13800000000", 50)
	seedPoints(t, s, id, "", 20)

	agg, err := aggregate.NewRecomputer(s, nil, nil).RecomputeCustomer(ctx, id)
	require.NoError(t, err)

	// THEN: The linked sale that also carries the phone is counted once
	assert.True(t, agg.TotalConsumption.Equal(dec("70")))
	assert.Equal(t, int64(2), agg.ConsumptionTimes)
	assert.Equal(t, int64(70), agg.TotalPoints)
	assert.Equal(t, int64(70), agg.AvailablePoints)
}

func TestRecomputeCustomer_NoPhone_OnlyLinkedRows(t *testing.T) {
	s := store.NewMemory()
	id := seedCustomer(t, s, "Walk-in", "")
	seedSale(t, s, 0, "", "2025-01-01", "500", 1)
	seedSale(t, s, id, "", "2025-01-02", "5", 1)

	agg, err := aggregate.NewRecomputer(s, nil, nil).RecomputeCustomer(ctx, id)
	require.NoError(t, err)

	assert.True(t, agg.TotalConsumption.Equal(dec("5")), "empty phones never match each other")
}

func TestRecomputeCustomer_SaleDeleted_ShrinksAggregates(t *testing.T) {
	s := store.NewMemory()
	id := seedCustomer(t, s, "Ana", "555-0101")
	keep := seedSale(t, s, id, "", "2025-01-01", "10", 1)
	drop := seedSale(t, s, id, "", "2025-02-01", "30", 2)
	rc := aggregate.NewRecomputer(s, nil, nil)
	_, err := rc.RecomputeCustomer(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.DeleteSale(ctx, drop))
	agg, err := rc.RecomputeCustomer(ctx, id)
	require.NoError(t, err)

	assert.NotZero(t, keep)
	assert.True(t, agg.TotalConsumption.Equal(dec("10")))
	assert.Equal(t, int64(1), agg.ConsumptionCount)
	assert.Equal(t, aggregate.Date("2025-01-01"), *agg.LastConsumption)
}

func TestRecomputeCustomer_StorageFailure_RetryableAndUnchanged(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		phoneOp bool
	}{
		{"load customer", store.OpGetCustomer, false},
		{"load sales by customer", store.OpLoadSales, false},
		{"load points by customer", store.OpLoadEntries, false},
		{"load sales by phone", store.OpLoadSalesByPhone, true},
		{"load points by phone", store.OpLoadEntriesByPhone, true},
		{"save aggregates", store.OpSaveAggregates, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemory()
			id := seedCustomer(t, s, "Ana", "555-0101")
			seedSale(t, s, id, "", "2025-01-01", "10", 1)
			rc := aggregate.NewRecomputer(s, nil, nil)
			before, err := rc.RecomputeCustomer(ctx, id)
			require.NoError(t, err)

			seedSale(t, s, id, "", "2025-02-01", "90", 1)
			cause := errors.New("database is locked")
			target := id
			if tt.phoneOp {
				target = 0
			}
			s.Fault = faultFor(tt.op, target, cause)

			_, err = rc.RecomputeCustomer(ctx, id)

			require.Error(t, err)
			assert.True(t, aggregate.IsRetryable(err))
			assert.False(t, aggregate.IsNotFound(err))
			assert.ErrorIs(t, err, cause)
			var se *aggregate.StorageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.name, se.Op)
			assert.Equal(t, id, se.CustomerID)
			assert.True(t, s.Customer(id).Aggregates.Equal(before), "previous values remain")

			// Retrying once the store recovers converges.
			s.Fault = nil
			after, err := rc.RecomputeCustomer(ctx, id)
			require.NoError(t, err)
			assert.True(t, after.TotalConsumption.Equal(dec("100")))
		})
	}
}

func TestRecomputeCustomer_CancelledContext(t *testing.T) {
	s := store.NewMemory()
	id := seedCustomer(t, s, "Ana", "555-0101")
	cctx, cancel := context.WithCancel(ctx)
	cancel()

	_, err := aggregate.NewRecomputer(s, nil, nil).RecomputeCustomer(cctx, id)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, aggregate.IsRetryable(err))
}

func TestAddSale_RejectsNonISODate(t *testing.T) {
	// GIVEN: A sale dated without zero padding
	s := store.NewMemory()
	id := seedCustomer(t, s, "Ana", "555-0101")
	seedSale(t, s, id, "", "2025-10-01", "10", 1)

	// WHEN: It is appended
	_, err := s.AddSale(ctx, aggregate.Sale{CustomerID: aggregate.CustomerRef(id), Date: "2025-9-1", TotalAmount: dec("5")})

	// THEN: The write is refused and the latest date stays chronological
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"2025-9-1"`)
	_, err = s.AddPointEntry(ctx, aggregate.PointEntry{CustomerID: aggregate.CustomerRef(id), Date: "2025-9-1", Points: 5})
	require.Error(t, err)

	agg, err := aggregate.NewRecomputer(s, nil, nil).RecomputeCustomer(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, agg.LastConsumption)
	assert.Equal(t, aggregate.Date("2025-10-01"), *agg.LastConsumption)
	assert.Equal(t, int64(1), agg.ConsumptionTimes)
}
