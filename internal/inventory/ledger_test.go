package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/sqlite"
)

func newLedger(t *testing.T) (*Ledger, *sqlite.Store) {
	t.Helper()
	s := sqlite.NewTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertItem(ctx, orders.InventoryItem{SKU: "A", Name: "Milk", PriceCents: 6800, Stock: 5, ReorderLevel: 2, Active: true}))
	require.NoError(t, s.UpsertItem(ctx, orders.InventoryItem{SKU: "B", Name: "Bread", PriceCents: 4500, Stock: 1, Active: true}))
	require.NoError(t, s.UpsertItem(ctx, orders.InventoryItem{SKU: "OFF", Name: "Gone", Stock: 10, Active: false}))
	return NewLedger(s, nil), s
}

func stockOf(t *testing.T, s *sqlite.Store, sku string) orders.InventoryItem {
	t.Helper()
	items, err := s.Items(context.Background(), []string{sku})
	require.NoError(t, err)
	return items[sku]
}

func TestMergeKeepsFirstSeenOrder(t *testing.T) {
	got := Merge([]orders.LineQty{{SKU: "B", Qty: 1}, {SKU: "A", Qty: 2}, {SKU: "B", Qty: 3}})
	assert.Equal(t, []orders.LineQty{{SKU: "B", Qty: 4}, {SKU: "A", Qty: 2}}, got)
}

func TestCheckAvailabilityReservesNothing(t *testing.T) {
	l, s := newLedger(t)
	ctx := context.Background()

	require.NoError(t, l.CheckAvailability(ctx, []orders.LineQty{{SKU: "A", Qty: 5}}))
	assert.Equal(t, 5, stockOf(t, s, "A").Stock)

	var short *orders.InsufficientStockError
	err := l.CheckAvailability(ctx, []orders.LineQty{{SKU: "A", Qty: 3}, {SKU: "A", Qty: 3}})
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 5, short.Available)
	assert.Equal(t, 6, short.Requested)

	var unknown *orders.UnknownSKUError
	assert.ErrorAs(t, l.CheckAvailability(ctx, []orders.LineQty{{SKU: "OFF", Qty: 1}}), &unknown)
	assert.ErrorAs(t, l.CheckAvailability(ctx, []orders.LineQty{{SKU: "ZZZ", Qty: 1}}), &unknown)
}

func TestCommitIsAllOrNothing(t *testing.T) {
	l, s := newLedger(t)
	ctx := context.Background()

	err := l.Commit(ctx, []orders.LineQty{{SKU: "A", Qty: 2}, {SKU: "B", Qty: 2}})
	var short *orders.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, "B", short.SKU)
	assert.Equal(t, 5, stockOf(t, s, "A").Stock)
	assert.Equal(t, 1, stockOf(t, s, "B").Stock)

	require.NoError(t, l.Commit(ctx, []orders.LineQty{{SKU: "A", Qty: 3}, {SKU: "B", Qty: 1}}))
	a := stockOf(t, s, "A")
	assert.Equal(t, 2, a.Stock)
	assert.Equal(t, int64(3), a.TotalSold)
	assert.Equal(t, 0, stockOf(t, s, "B").Stock)

	low, err := l.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, "A", low[0].SKU)
}

func TestCommitDecrementReturnsUpdatedRows(t *testing.T) {
	l, s := newLedger(t)
	err := s.InTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		items, err := l.CommitDecrement(ctx, tx, []orders.LineQty{{SKU: "A", Qty: 3}})
		require.NoError(t, err)
		assert.Equal(t, 2, items["A"].Stock)
		assert.True(t, items["A"].NeedsReorder())
		return nil
	})
	require.NoError(t, err)
}

func TestReleaseLeavesTotalSold(t *testing.T) {
	l, s := newLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Commit(ctx, []orders.LineQty{{SKU: "A", Qty: 2}}))

	err := s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return l.Release(ctx, tx, []orders.LineQty{{SKU: "A", Qty: 1}, {SKU: "A", Qty: 1}})
	})
	require.NoError(t, err)
	a := stockOf(t, s, "A")
	assert.Equal(t, 5, a.Stock)
	assert.Equal(t, int64(2), a.TotalSold)
}
