package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

func seedItem(t *testing.T, s *Store, sku string, stock, reorder int) {
	t.Helper()
	require.NoError(t, s.UpsertItem(context.Background(), orders.InventoryItem{
		SKU: sku, Name: "Item " + sku, Category: "dairy", PriceCents: 4500,
		Stock: stock, ReorderLevel: reorder, MaxStock: 100, Active: true,
	}))
}

func newOrder(orderID, ref string) *orders.Order {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return &orders.Order{
		ID: "pk-" + orderID, OrderID: orderID, CustomerID: "cust-1",
		Items:      []orders.OrderLine{{SKU: "A", Name: "Item A", Qty: 2, UnitPriceCents: 4500}},
		TotalCents: 9000, PaymentReference: ref, DeliveryAddress: "12 MG Road",
		Status: orders.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
}

func TestDecrementGuard(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "A", 3, 1)

	err := s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		ok, err := tx.Decrement(ctx, "A", 2)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.Decrement(ctx, "A", 2)
		require.NoError(t, err)
		assert.False(t, ok, "only 1 left")
		return nil
	})
	require.NoError(t, err)

	items, err := s.Items(ctx, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, 1, items["A"].Stock)
	assert.Equal(t, int64(2), items["A"].TotalSold)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "A", 5, 0)

	err := s.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		_, err := tx.Decrement(ctx, "A", 4)
		require.NoError(t, err)
		require.NoError(t, tx.InsertOrder(ctx, newOrder("QC-1", "pay-1")))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	items, _ := s.Items(ctx, []string{"A"})
	assert.Equal(t, 5, items["A"].Stock)
	_, err = s.Order(ctx, "QC-1")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestOrderRoundTripAndDuplicateRef(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()

	o := newOrder("QC-1", "pay-1")
	require.NoError(t, s.InsertLegacyOrder(ctx, o))

	got, err := s.Order(ctx, "QC-1")
	require.NoError(t, err)
	assert.Equal(t, o.Items, got.Items)
	assert.True(t, o.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.AssignedAgentKey)
	assert.Nil(t, got.AcceptedAt)

	byRef, err := s.OrderByPaymentRef(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "QC-1", byRef.OrderID)

	err = s.InsertLegacyOrder(ctx, newOrder("QC-2", "pay-1"))
	assert.ErrorIs(t, err, orders.ErrDuplicateOrder)
}

func TestTransitionIsCompareAndSet(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertLegacyOrder(ctx, newOrder("QC-1", "pay-1")))

	key, name := "agt_01", "Ravi"
	at := time.Date(2026, 10, 16, 9, 5, 0, 0, time.UTC)
	patch := orders.Patch{Status: orders.StatusAccepted, AssignedAgentKey: &key, AssignedAgentDisplayName: &name, AcceptedAt: &at, UpdatedAt: at}

	ok, err := s.TransitionOrder(ctx, "QC-1", orders.StatusPending, patch)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionOrder(ctx, "QC-1", orders.StatusPending, patch)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := s.Order(ctx, "QC-1")
	assert.Equal(t, orders.StatusAccepted, got.Status)
	assert.Equal(t, "agt_01", *got.AssignedAgentKey)
	assert.True(t, at.Equal(*got.AcceptedAt))
}

func TestDeliveredOrdersWindow(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	for i, ref := range []string{"p1", "p2", "p3"} {
		o := newOrder("QC-"+ref, ref)
		o.Status = orders.StatusDelivered
		d := base.Add(time.Duration(i) * 24 * time.Hour)
		o.DeliveredAt = &d
		require.NoError(t, s.InsertLegacyOrder(ctx, o))
	}
	require.NoError(t, s.InsertLegacyOrder(ctx, newOrder("QC-pending", "p4")))

	all, err := s.DeliveredOrders(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	window, err := s.DeliveredOrders(ctx, base.Add(time.Hour), base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "QC-p2", window[0].OrderID)
	assert.Equal(t, "QC-p3", window[1].OrderID)
}

func TestLowStockAndRestore(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "A", 2, 5)
	seedItem(t, s, "B", 50, 5)

	low, err := s.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "A", low[0].SKU)

	require.NoError(t, s.RestoreStock(ctx, []orders.LineQty{{SKU: "A", Qty: 10}}))
	low, _ = s.LowStock(ctx)
	assert.Empty(t, low)

	var unknown *orders.UnknownSKUError
	assert.ErrorAs(t, s.RestoreStock(ctx, []orders.LineQty{{SKU: "Z", Qty: 1}}), &unknown)
}

func TestAgents(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertAgent(ctx, orders.Agent{Key: "agt_02", Name: "Meena", Active: true}))
	require.NoError(t, s.UpsertAgent(ctx, orders.Agent{Key: "agt_01", Name: "Ravi", Phone: "9845012345", Active: false}))

	a, err := s.Agent(ctx, "agt_01")
	require.NoError(t, err)
	assert.False(t, a.Active)
	assert.Equal(t, "9845012345", a.Phone)

	_, err = s.Agent(ctx, "nobody")
	assert.ErrorIs(t, err, orders.ErrAgentNotFound)

	all, err := s.Agents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "agt_01", all[0].Key)
}
