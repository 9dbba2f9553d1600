package fulfillment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/identity"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/sqlite"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type event struct {
	Type    string
	Key     string
	Payload any
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Publish(_ context.Context, eventType, key string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{Type: eventType, Key: key, Payload: payload})
	return nil
}

func (r *recorder) ofType(t string) []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	store  orders.Store
	engine *Engine
	clock  *clock
	pub    *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, sqlite.NewTestStore(t))
}

func newHarnessOn(t *testing.T, s orders.Store) *harness {
	t.Helper()
	ctx := context.Background()
	for _, it := range []orders.InventoryItem{
		{SKU: "A", Name: "Amul Milk 1L", Category: "dairy", PriceCents: 6800, Stock: 5, ReorderLevel: 1, MaxStock: 50, Active: true},
		{SKU: "B", Name: "Brown Bread", Category: "bakery", PriceCents: 4500, Stock: 1, ReorderLevel: 0, MaxStock: 20, Active: true},
		{SKU: "OLD", Name: "Discontinued", PriceCents: 100, Stock: 99, Active: false},
	} {
		require.NoError(t, s.UpsertItem(ctx, it))
	}
	for _, a := range []orders.Agent{
		{Key: "agt_x", Name: "Ravi Kumar", Phone: "9845012345", Active: true},
		{Key: "agt_y", Name: "Meena", Active: true},
		{Key: "agt_off", Name: "Sleeping", Active: false},
	} {
		require.NoError(t, s.UpsertAgent(ctx, a))
	}

	log := zaptest.NewLogger(t)
	c := &clock{t: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)}
	pub := &recorder{}
	e := New(s, inventory.NewLedger(s, log), identity.NewResolver(log, nil, true), log,
		WithClock(c.now), WithPublisher(pub))
	return &harness{store: s, engine: e, clock: c, pub: pub}
}

func (h *harness) stock(t *testing.T, sku string) orders.InventoryItem {
	t.Helper()
	items, err := h.store.Items(context.Background(), []string{sku})
	require.NoError(t, err)
	return items[sku]
}

func (h *harness) place(t *testing.T, ref string, lines ...orders.LineQty) *orders.Order {
	t.Helper()
	o, existed, err := h.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID: "cust-1", Items: lines, DeliveryAddress: "12 MG Road", PaymentReference: ref,
	})
	require.NoError(t, err)
	require.False(t, existed)
	return o
}

func TestPlaceOrderDecrementsAndFreezesLines(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o, existed, err := h.engine.PlaceOrder(ctx, PlaceOrderInput{
		CustomerID: "cust-1", DeliveryAddress: "12 MG Road", PaymentReference: "pay-1", TipCents: 2000,
		Items: []orders.LineQty{{SKU: "A", Qty: 1}, {SKU: "B", Qty: 1}, {SKU: "A", Qty: 1}},
	})
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.True(t, h.clock.now().Equal(o.CreatedAt))
	require.Len(t, o.Items, 2)
	assert.Equal(t, orders.OrderLine{SKU: "A", Name: "Amul Milk 1L", Qty: 2, UnitPriceCents: 6800}, o.Items[0])
	assert.Equal(t, int64(2*6800+4500), o.TotalCents)
	assert.Equal(t, int64(2000), o.TipCents)

	assert.Equal(t, 3, h.stock(t, "A").Stock)
	assert.Equal(t, int64(2), h.stock(t, "A").TotalSold)
	assert.Equal(t, 0, h.stock(t, "B").Stock)

	// Later catalog edits do not touch the stored order.
	it := h.stock(t, "A")
	it.PriceCents, it.Name = 9900, "Amul Milk 1L (new)"
	require.NoError(t, h.store.UpsertItem(ctx, it))
	got, err := h.engine.GetOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, o.Items, got.Items)

	require.Len(t, h.pub.ofType(orders.EventOrderPlaced), 1)
	low := h.pub.ofType(orders.EventStockLow)
	require.Len(t, low, 1)
	assert.Equal(t, "B", low[0].Key)
}

func TestPlaceOrderIsAllOrNothing(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID: "cust-1", DeliveryAddress: "addr", PaymentReference: "pay-1",
		Items: []orders.LineQty{{SKU: "A", Qty: 2}, {SKU: "B", Qty: 3}},
	})
	var short *orders.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, "B", short.SKU)
	assert.Equal(t, 1, short.Available)
	assert.Equal(t, 3, short.Requested)

	assert.Equal(t, 5, h.stock(t, "A").Stock)
	assert.Equal(t, int64(0), h.stock(t, "A").TotalSold)
	assert.Equal(t, 1, h.stock(t, "B").Stock)
	_, err = h.store.OrderByPaymentRef(context.Background(), "pay-1")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
	assert.Empty(t, h.pub.events)
}

func TestPlaceOrderRejectsUnknownAndInactiveSKUs(t *testing.T) {
	h := newHarness(t)
	for _, sku := range []string{"NOPE", "OLD"} {
		_, _, err := h.engine.PlaceOrder(context.Background(), PlaceOrderInput{
			CustomerID: "cust-1", DeliveryAddress: "addr", PaymentReference: "pay-" + sku,
			Items: []orders.LineQty{{SKU: "A", Qty: 1}, {SKU: sku, Qty: 1}},
		})
		var unknown *orders.UnknownSKUError
		require.ErrorAs(t, err, &unknown, sku)
		assert.Equal(t, sku, unknown.SKU)
	}
	assert.Equal(t, 5, h.stock(t, "A").Stock)
}

func TestPlaceOrderValidation(t *testing.T) {
	h := newHarness(t)
	valid := PlaceOrderInput{
		CustomerID: "cust-1", DeliveryAddress: "addr", PaymentReference: "pay-1",
		Items: []orders.LineQty{{SKU: "A", Qty: 1}},
	}
	cases := map[string]func(in *PlaceOrderInput){
		"customer_id":       func(in *PlaceOrderInput) { in.CustomerID = " " },
		"payment_reference": func(in *PlaceOrderInput) { in.PaymentReference = "" },
		"delivery_address":  func(in *PlaceOrderInput) { in.DeliveryAddress = "" },
		"items":             func(in *PlaceOrderInput) { in.Items = nil },
		"tip":               func(in *PlaceOrderInput) { in.TipCents = -1 },
		"qty":               func(in *PlaceOrderInput) { in.Items = []orders.LineQty{{SKU: "A", Qty: 0}} },
		"sku":               func(in *PlaceOrderInput) { in.Items = []orders.LineQty{{Qty: 1}} },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, _, err := h.engine.PlaceOrder(context.Background(), in)
			var invalid *orders.ValidationError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, field, invalid.Field)
		})
	}
	assert.Equal(t, 5, h.stock(t, "A").Stock)
}

func TestPlaceOrderIsIdempotentOnPaymentReference(t *testing.T) {
	h := newHarness(t)
	first := h.place(t, "pay-1", orders.LineQty{SKU: "A", Qty: 2})

	again, existed, err := h.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID: "cust-1", DeliveryAddress: "12 MG Road", PaymentReference: "pay-1",
		Items: []orders.LineQty{{SKU: "A", Qty: 2}},
	})
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.OrderID, again.OrderID)
	assert.Equal(t, 3, h.stock(t, "A").Stock)
}

func TestPlaceOrderRejectsAnotherCustomersPaymentReference(t *testing.T) {
	h := newHarness(t)
	first := h.place(t, "pay-1", orders.LineQty{SKU: "A", Qty: 2})

	o, existed, err := h.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID: "cust-2", DeliveryAddress: "7 Brigade Road", PaymentReference: "pay-1",
		Items: []orders.LineQty{{SKU: "B", Qty: 1}},
	})
	require.ErrorIs(t, err, orders.ErrPaymentReferenceInUse)
	assert.Nil(t, o)
	assert.False(t, existed)
	assert.Equal(t, 1, h.stock(t, "B").Stock)

	got, err := h.engine.GetOrder(context.Background(), first.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "cust-1", got.CustomerID)
}

// blindStore misses the next payment reference lookup, as a concurrent
// checkout that has not committed yet would.
type blindStore struct {
	orders.Store
	blind atomic.Bool
}

func (s *blindStore) OrderByPaymentRef(ctx context.Context, ref string) (*orders.Order, error) {
	if s.blind.CompareAndSwap(true, false) {
		return nil, orders.ErrOrderNotFound
	}
	return s.Store.OrderByPaymentRef(ctx, ref)
}

func TestDuplicatePaymentReferenceRaceChecksCustomer(t *testing.T) {
	bs := &blindStore{Store: sqlite.NewTestStore(t)}
	h := newHarnessOn(t, bs)
	first := h.place(t, "pay-1", orders.LineQty{SKU: "A", Qty: 1})

	bs.blind.Store(true)
	_, _, err := h.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID: "cust-2", DeliveryAddress: "addr", PaymentReference: "pay-1",
		Items: []orders.LineQty{{SKU: "A", Qty: 1}},
	})
	require.ErrorIs(t, err, orders.ErrPaymentReferenceInUse)
	assert.Equal(t, 4, h.stock(t, "A").Stock, "rolled back decrement")

	bs.blind.Store(true)
	again, existed, err := h.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID: "cust-1", DeliveryAddress: "12 MG Road", PaymentReference: "pay-1",
		Items: []orders.LineQty{{SKU: "A", Qty: 1}},
	})
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.OrderID, again.OrderID)
	assert.Equal(t, 4, h.stock(t, "A").Stock)
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	h := newHarness(t)
	o := h.place(t, "pay-1", orders.LineQty{SKU: "A", Qty: 1})

	agents := []string{"agt_x", "agt_y"}
	errs := make([]error, len(agents))
	var wg sync.WaitGroup
	for i, key := range agents {
		i, key := i, key
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.engine.AcceptOrder(context.Background(), o.OrderID, key)
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "two winners")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, orders.ErrAlreadyAssigned)
	}
	require.NotEqual(t, -1, winner)

	got, err := h.engine.GetOrder(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusAccepted, got.Status)
	assert.Equal(t, agents[winner], *got.AssignedAgentKey)
	assert.Len(t, h.pub.ofType(orders.EventOrderAccepted), 1)
}

func TestAcceptOrderRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.place(t, "pay-1", orders.LineQty{SKU: "A", Qty: 1})

	_, err := h.engine.AcceptOrder(ctx, o.OrderID, "agt_off")
	assert.ErrorIs(t, err, orders.ErrAgentInactive)
	_, err = h.engine.AcceptOrder(ctx, o.OrderID, "ghost")
	assert.ErrorIs(t, err, orders.ErrAgentNotFound)
	_, err = h.engine.AcceptOrder(ctx, "QC-missing", "agt_x")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	acc, err := h.engine.AcceptOrder(ctx, o.OrderID, "agt_x")
	require.NoError(t, err)
	assert.Equal(t, "Ravi Kumar", *acc.AssignedAgentDisplayName)
	assert.True(t, h.clock.now().Equal(*acc.AcceptedAt))

	retry, err := h.engine.AcceptOrder(ctx, o.OrderID, "agt_x")
	require.NoError(t, err, "a retried accept by the winner succeeds")
	assert.True(t, acc.AcceptedAt.Equal(*retry.AcceptedAt))

	cancelled := h.place(t, "pay-2", orders.LineQty{SKU: "A", Qty: 1})
	_, err = h.engine.CancelOrder(ctx, cancelled.OrderID, "cust-1")
	require.NoError(t, err)
	_, err = h.engine.AcceptOrder(ctx, cancelled.OrderID, "agt_x")
	var bad *orders.InvalidTransitionError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, orders.StatusCancelled, bad.Current)
}

func TestUpdateStatusRequiresAssignedAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.place(t, "pay-1", orders.LineQty{SKU: "A", Qty: 1})

	_, err := h.engine.UpdateStatus(ctx, o.OrderID, orders.StatusDelivered, "agt_x")
	var bad *orders.InvalidTransitionError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, orders.StatusPending, bad.Current)

	_, err = h.engine.AcceptOrder(ctx, o.OrderID, "agt_x")
	require.NoError(t, err)

	_, err = h.engine.UpdateStatus(ctx, o.OrderID, orders.StatusOutForDelivery, "agt_y")
	var notYours *orders.NotAssignedAgentError
	require.ErrorAs(t, err, &notYours)
	assert.Equal(t, orders.StatusAccepted, notYours.Current)

	_, err = h.engine.UpdateStatus(ctx, o.OrderID, orders.StatusCancelled, "agt_x")
	require.ErrorAs(t, err, &bad)

	_, err = h.engine.UpdateStatus(ctx, o.OrderID, orders.Status("lost"), "agt_x")
	var invalid *orders.ValidationError
	require.ErrorAs(t, err, &invalid)

	out, err := h.engine.UpdateStatus(ctx, o.OrderID, orders.StatusOutForDelivery, "agt_x")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusOutForDelivery, out.Status)
	assert.Nil(t, out.DeliveredAt)
}

func TestDeliveredIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.place(t, "pay-1", orders.LineQty{SKU: "A", Qty: 1})
	_, err := h.engine.AcceptOrder(ctx, o.OrderID, "agt_x")
	require.NoError(t, err)

	h.clock.advance(18 * time.Minute)
	first, err := h.engine.UpdateStatus(ctx, o.OrderID, orders.StatusDelivered, "agt_x")
	require.NoError(t, err)
	require.NotNil(t, first.DeliveredAt)

	h.clock.advance(5 * time.Minute)
	second, err := h.engine.UpdateStatus(ctx, o.OrderID, orders.StatusDelivered, "agt_x")
	require.NoError(t, err)
	assert.True(t, first.DeliveredAt.Equal(*second.DeliveredAt))

	stored, err := h.engine.GetOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.True(t, first.DeliveredAt.Equal(*stored.DeliveredAt))
	d, ok := stored.HandlingTime()
	require.True(t, ok)
	assert.Equal(t, 18*time.Minute, d)

	_, err = h.engine.UpdateStatus(ctx, o.OrderID, orders.StatusDelivered, "agt_y")
	var notYours *orders.NotAssignedAgentError
	assert.ErrorAs(t, err, &notYours)
	assert.Len(t, h.pub.ofType(orders.EventOrderStatusChanged), 1)
}

func TestLegacyOrderCannotBeMovedByAlias(t *testing.T) {
	s := sqlite.NewTestStore(t)
	h := newHarnessOn(t, s)
	ctx := context.Background()

	at := h.clock.now()
	require.NoError(t, s.InsertLegacyOrder(ctx, &orders.Order{
		ID: "pk-legacy", OrderID: "QC-legacy", CustomerID: "cust-9",
		Items:      []orders.OrderLine{{SKU: "A", Name: "Milk", Qty: 1, UnitPriceCents: 6800}},
		TotalCents: 6800, PaymentReference: "pay-legacy", DeliveryAddress: "addr",
		Status: orders.StatusAccepted, AssignedAgentDisplayName: strp("Ravi Kumar"),
		CreatedAt: at, AcceptedAt: &at, UpdatedAt: at,
	}))

	_, err := h.engine.UpdateStatus(ctx, "QC-legacy", orders.StatusDelivered, "agt_x")
	var notYours *orders.NotAssignedAgentError
	assert.ErrorAs(t, err, &notYours)
}

func strp(s string) *string { return &s }

func TestCancelOrderRestoresStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.place(t, "pay-1", orders.LineQty{SKU: "A", Qty: 2})

	_, err := h.engine.CancelOrder(ctx, o.OrderID, "someone-else")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	c, err := h.engine.CancelOrder(ctx, o.OrderID, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, c.Status)
	assert.Equal(t, 5, h.stock(t, "A").Stock)
	assert.Equal(t, int64(2), h.stock(t, "A").TotalSold)

	_, err = h.engine.CancelOrder(ctx, o.OrderID, "cust-1")
	var bad *orders.InvalidTransitionError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, orders.StatusCancelled, bad.Current)

	accepted := h.place(t, "pay-2", orders.LineQty{SKU: "A", Qty: 1})
	_, err = h.engine.AcceptOrder(ctx, accepted.OrderID, "agt_y")
	require.NoError(t, err)
	_, err = h.engine.CancelOrder(ctx, accepted.OrderID, "cust-1")
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, orders.StatusAccepted, bad.Current)
	assert.Equal(t, 4, h.stock(t, "A").Stock)
}

// faultyStore simulates a non-transactional store whose compensation failed.
type faultyStore struct {
	orders.Store
}

func (f faultyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return &orders.ConsistencyFaultError{
		Lines: []orders.LineQty{{SKU: "A", Qty: 2}},
		Cause: errors.New("order insert timed out; compensation failed"),
	}
}

func TestConsistencyFaultRequestsCompensation(t *testing.T) {
	h := newHarnessOn(t, faultyStore{Store: sqlite.NewTestStore(t)})

	_, _, err := h.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID: "cust-1", DeliveryAddress: "addr", PaymentReference: "pay-1",
		Items: []orders.LineQty{{SKU: "A", Qty: 2}},
	})
	var fault *orders.ConsistencyFaultError
	require.ErrorAs(t, err, &fault)
	assert.NotEmpty(t, fault.OrderID)

	comp := h.pub.ofType(orders.EventStockCompensationRequired)
	require.Len(t, comp, 1)
	payload := comp[0].Payload.(orders.StockCompensationPayload)
	assert.Equal(t, fault.OrderID, payload.OrderID)
	assert.Equal(t, []orders.LineQty{{SKU: "A", Qty: 2}}, payload.Lines)
	assert.Empty(t, h.pub.ofType(orders.EventOrderPlaced))
}

type downStore struct {
	orders.Store
}

func (downStore) OrderByPaymentRef(context.Context, string) (*orders.Order, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestInfrastructureFailureIsUnavailable(t *testing.T) {
	h := newHarnessOn(t, downStore{Store: sqlite.NewTestStore(t)})
	_, _, err := h.engine.PlaceOrder(context.Background(), PlaceOrderInput{
		CustomerID: "cust-1", DeliveryAddress: "addr", PaymentReference: "pay-1",
		Items: []orders.LineQty{{SKU: "A", Qty: 1}},
	})
	assert.ErrorIs(t, err, orders.ErrUnavailable)
}
