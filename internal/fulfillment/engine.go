// Package fulfillment is the order state machine. Every write to
// Order.status goes through an Engine method, and every write is a
// compare-and-set on the status the engine last read.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/identity"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

// Publisher emits domain events. Delivery is best effort; the store is the
// source of truth.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, string, any) error { return nil }

type Engine struct {
	store    orders.Store
	ledger   *inventory.Ledger
	resolver *identity.Resolver
	pub      Publisher
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithPublisher(p Publisher) Option { return func(e *Engine) { e.pub = p } }

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(store orders.Store, ledger *inventory.Ledger, resolver *identity.Resolver, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store:    store,
		ledger:   ledger,
		resolver: resolver,
		pub:      nopPublisher{},
		log:      log.Named("fulfillment"),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type PlaceOrderInput struct {
	CustomerID       string
	Items            []orders.LineQty
	DeliveryAddress  string
	PaymentReference string
	TipCents         int64
}

func (in PlaceOrderInput) validate() error {
	switch {
	case strings.TrimSpace(in.CustomerID) == "":
		return &orders.ValidationError{Field: "customer_id", Reason: "required"}
	case strings.TrimSpace(in.PaymentReference) == "":
		return &orders.ValidationError{Field: "payment_reference", Reason: "required"}
	case strings.TrimSpace(in.DeliveryAddress) == "":
		return &orders.ValidationError{Field: "delivery_address", Reason: "required"}
	case len(in.Items) == 0:
		return &orders.ValidationError{Field: "items", Reason: "must not be empty"}
	case in.TipCents < 0:
		return &orders.ValidationError{Field: "tip", Reason: "must not be negative"}
	}
	for _, l := range in.Items {
		if strings.TrimSpace(l.SKU) == "" {
			return &orders.ValidationError{Field: "sku", Reason: "required"}
		}
		if l.Qty <= 0 {
			return &orders.ValidationError{Field: "qty", Reason: fmt.Sprintf("must be positive for %s", l.SKU)}
		}
	}
	return nil
}

// PlaceOrder commits stock and writes the pending order in one unit. A
// payment reference that already has an order of the same customer returns
// that order with existed=true and touches no stock; another customer's
// reference is ErrPaymentReferenceInUse.
func (e *Engine) PlaceOrder(ctx context.Context, in PlaceOrderInput) (o *orders.Order, existed bool, err error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}

	prev, err := e.store.OrderByPaymentRef(ctx, in.PaymentReference)
	switch {
	case err == nil:
		return retried(prev, in)
	case !errors.Is(err, orders.ErrOrderNotFound):
		return nil, false, unavailable("looking up payment reference", err)
	}

	now := e.now().UTC()
	o = &orders.Order{
		ID:               uuid.NewString(),
		OrderID:          orders.NewOrderID(now),
		CustomerID:       in.CustomerID,
		TipCents:         in.TipCents,
		PaymentReference: in.PaymentReference,
		DeliveryAddress:  in.DeliveryAddress,
		Status:           orders.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	lines := inventory.Merge(in.Items)

	var low []orders.InventoryItem
	err = e.store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		items, err := e.ledger.CommitDecrement(ctx, tx, lines)
		if err != nil {
			return err
		}
		o.Items = o.Items[:0]
		o.TotalCents = 0
		low = low[:0]
		for _, l := range lines {
			it := items[l.SKU]
			line := orders.OrderLine{SKU: l.SKU, Name: it.Name, Qty: l.Qty, UnitPriceCents: it.PriceCents}
			o.Items = append(o.Items, line)
			o.TotalCents += line.SubtotalCents()
			if it.NeedsReorder() {
				low = append(low, it)
			}
		}
		return tx.InsertOrder(ctx, o)
	})
	if err != nil {
		return e.placeFailed(ctx, in, o, err)
	}

	e.metrics.OrderPlaced()
	e.log.Info("order placed",
		zap.String("order_id", o.OrderID),
		zap.String("customer_id", o.CustomerID),
		zap.Int64("total_cents", o.TotalCents),
	)
	e.publish(ctx, orders.EventOrderPlaced, o.OrderID, orders.OrderPlacedPayload{
		OrderID: o.OrderID, CustomerID: o.CustomerID, Items: o.Items, TotalCents: o.TotalCents, TipCents: o.TipCents,
	})
	for _, it := range low {
		e.publish(ctx, orders.EventStockLow, it.SKU, orders.StockLowPayload{
			SKU: it.SKU, Stock: it.Stock, ReorderLevel: it.ReorderLevel, MaxStock: it.MaxStock,
		})
	}
	return o, false, nil
}

func (e *Engine) placeFailed(ctx context.Context, in PlaceOrderInput, o *orders.Order, err error) (*orders.Order, bool, error) {
	var (
		insufficient *orders.InsufficientStockError
		unknown      *orders.UnknownSKUError
		invalid      *orders.ValidationError
		fault        *orders.ConsistencyFaultError
	)
	switch {
	case errors.As(err, &insufficient):
		e.metrics.StockRejected("insufficient")
		return nil, false, err
	case errors.As(err, &unknown):
		e.metrics.StockRejected("unknown_sku")
		return nil, false, err
	case errors.As(err, &invalid):
		return nil, false, err
	case errors.As(err, &fault):
		if fault.OrderID == "" {
			fault.OrderID = o.OrderID
		}
		e.consistencyFault(ctx, fault)
		return nil, false, err
	case errors.Is(err, orders.ErrDuplicateOrder):
		// Lost a race with a concurrent retry of the same payment.
		prev, lerr := e.store.OrderByPaymentRef(ctx, in.PaymentReference)
		if lerr != nil {
			return nil, false, unavailable("loading duplicate order", lerr)
		}
		return retried(prev, in)
	}
	return nil, false, unavailable("placing order", err)
}

// retried accepts prev as the result of a retry only for the same customer.
func retried(prev *orders.Order, in PlaceOrderInput) (*orders.Order, bool, error) {
	if prev.CustomerID != in.CustomerID {
		return nil, false, orders.ErrPaymentReferenceInUse
	}
	return prev, true, nil
}

func (e *Engine) consistencyFault(ctx context.Context, f *orders.ConsistencyFaultError) {
	e.metrics.ConsistencyFault()
	e.log.Error("stock committed without order",
		zap.String("order_id", f.OrderID),
		zap.Any("lines", f.Lines),
		zap.Error(f.Cause),
	)
	reason := "compensation failed"
	if f.Cause != nil {
		reason = f.Cause.Error()
	}
	e.publish(ctx, orders.EventStockCompensationRequired, f.OrderID, orders.StockCompensationPayload{
		OrderID: f.OrderID, Lines: f.Lines, Reason: reason,
	})
}

func (e *Engine) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := e.store.Order(ctx, orderID)
	if err != nil {
		return nil, storeErr("getting order", err)
	}
	return o, nil
}

// AcceptOrder assigns a pending order to agentKey. Of concurrent acceptors
// exactly one wins; the others get ErrAlreadyAssigned. A retried accept by
// the winner returns the order unchanged.
func (e *Engine) AcceptOrder(ctx context.Context, orderID, agentKey string) (*orders.Order, error) {
	agent, err := e.store.Agent(ctx, agentKey)
	if err != nil {
		return nil, storeErr("getting agent", err)
	}
	if !agent.Active {
		return nil, orders.ErrAgentInactive
	}
	o, err := e.store.Order(ctx, orderID)
	if err != nil {
		return nil, storeErr("getting order", err)
	}
	if o.Status != orders.StatusPending {
		return e.notAcceptable(o, *agent)
	}

	now := e.now().UTC()
	key := e.resolver.CanonicalKey(*agent)
	name := agent.Name
	p := orders.Patch{
		Status:                   orders.StatusAccepted,
		AssignedAgentKey:         &key,
		AssignedAgentDisplayName: &name,
		AcceptedAt:               &now,
		UpdatedAt:                now,
	}
	ok, err := e.store.TransitionOrder(ctx, orderID, orders.StatusPending, p)
	if err != nil {
		return nil, unavailable("accepting order", err)
	}
	if !ok {
		e.metrics.AcceptConflict()
		cur, err := e.store.Order(ctx, orderID)
		if err != nil {
			return nil, storeErr("reloading order", err)
		}
		return e.notAcceptable(cur, *agent)
	}

	p.Apply(o)
	e.metrics.Transitioned(string(orders.StatusAccepted))
	e.log.Info("order accepted", zap.String("order_id", orderID), zap.String("agent_key", key))
	e.publish(ctx, orders.EventOrderAccepted, orderID, orders.OrderAcceptedPayload{
		OrderID: orderID, AgentKey: key, AcceptedAt: now,
	})
	return o, nil
}

// notAcceptable classifies an accept against an order that has left pending.
func (e *Engine) notAcceptable(o *orders.Order, agent orders.Agent) (*orders.Order, error) {
	switch o.Status {
	case orders.StatusAccepted, orders.StatusOutForDelivery, orders.StatusDelivered:
		if o.Status == orders.StatusAccepted && e.resolver.Owns(o, agent) {
			return o, nil
		}
		return nil, fmt.Errorf("order %s: %w", o.OrderID, orders.ErrAlreadyAssigned)
	}
	return nil, &orders.InvalidTransitionError{OrderID: o.OrderID, Current: o.Status, Requested: orders.StatusAccepted}
}

// UpdateStatus moves an assigned order forward. Only the assigned agent, by
// canonical key, may do so. Marking a delivered order delivered again is a
// no-op that keeps the first deliveredAt.
func (e *Engine) UpdateStatus(ctx context.Context, orderID string, to orders.Status, agentKey string) (*orders.Order, error) {
	if !to.Valid() {
		return nil, &orders.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	agent, err := e.store.Agent(ctx, agentKey)
	if err != nil {
		return nil, storeErr("getting agent", err)
	}
	o, err := e.store.Order(ctx, orderID)
	if err != nil {
		return nil, storeErr("getting order", err)
	}
	if o.Status == orders.StatusDelivered && to == orders.StatusDelivered {
		return e.redeliver(o, *agent)
	}
	if !agentMove(o.Status, to) {
		return nil, &orders.InvalidTransitionError{OrderID: orderID, Current: o.Status, Requested: to}
	}
	if !e.resolver.Owns(o, *agent) {
		return nil, &orders.NotAssignedAgentError{OrderID: orderID, AgentKey: agentKey, Current: o.Status}
	}

	now := e.now().UTC()
	p := orders.Patch{Status: to, UpdatedAt: now}
	if to == orders.StatusDelivered && o.DeliveredAt == nil {
		at := now
		if o.AcceptedAt != nil && at.Before(*o.AcceptedAt) {
			at = *o.AcceptedAt
		}
		p.DeliveredAt = &at
	}

	from := o.Status
	ok, err := e.store.TransitionOrder(ctx, orderID, from, p)
	if err != nil {
		return nil, unavailable("updating status", err)
	}
	if !ok {
		cur, err := e.store.Order(ctx, orderID)
		if err != nil {
			return nil, storeErr("reloading order", err)
		}
		if cur.Status == orders.StatusDelivered && to == orders.StatusDelivered {
			return e.redeliver(cur, *agent)
		}
		return nil, &orders.InvalidTransitionError{OrderID: orderID, Current: cur.Status, Requested: to}
	}

	p.Apply(o)
	e.metrics.Transitioned(string(to))
	e.log.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("agent_key", agentKey),
	)
	e.publish(ctx, orders.EventOrderStatusChanged, orderID, orders.OrderStatusChangedPayload{
		OrderID: orderID, From: from, To: to, AgentKey: agentKey,
	})
	return o, nil
}

func (e *Engine) redeliver(o *orders.Order, agent orders.Agent) (*orders.Order, error) {
	if !e.resolver.Owns(o, agent) {
		return nil, &orders.NotAssignedAgentError{OrderID: o.OrderID, AgentKey: agent.Key, Current: o.Status}
	}
	return o, nil
}

// agentMove reports whether an agent may request from -> to. Accept and
// cancel have their own operations.
func agentMove(from, to orders.Status) bool {
	if to != orders.StatusOutForDelivery && to != orders.StatusDelivered {
		return false
	}
	return orders.CanTransition(from, to)
}

var errLostRace = errors.New("status changed concurrently")

// CancelOrder cancels a pending order on behalf of its customer and returns
// its stock. totalSold is not reduced.
func (e *Engine) CancelOrder(ctx context.Context, orderID, customerID string) (*orders.Order, error) {
	o, err := e.store.Order(ctx, orderID)
	if err != nil {
		return nil, storeErr("getting order", err)
	}
	if o.CustomerID != customerID {
		return nil, orders.ErrOrderNotFound
	}
	if o.Status != orders.StatusPending {
		return nil, &orders.InvalidTransitionError{OrderID: orderID, Current: o.Status, Requested: orders.StatusCancelled}
	}

	now := e.now().UTC()
	p := orders.Patch{Status: orders.StatusCancelled, UpdatedAt: now}
	err = e.store.InTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		ok, err := tx.TransitionOrder(ctx, orderID, orders.StatusPending, p)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}
		return e.ledger.Release(ctx, tx, o.Lines())
	})
	if err != nil {
		var fault *orders.ConsistencyFaultError
		switch {
		case errors.Is(err, errLostRace):
			cur, lerr := e.store.Order(ctx, orderID)
			if lerr != nil {
				return nil, storeErr("reloading order", lerr)
			}
			return nil, &orders.InvalidTransitionError{OrderID: orderID, Current: cur.Status, Requested: orders.StatusCancelled}
		case errors.As(err, &fault):
			fault.OrderID = orderID
			e.metrics.ConsistencyFault()
			e.log.Error("cancellation left order and stock out of step",
				zap.String("order_id", orderID), zap.Error(fault.Cause))
			return nil, err
		}
		return nil, unavailable("cancelling order", err)
	}

	p.Apply(o)
	e.metrics.Transitioned(string(orders.StatusCancelled))
	e.log.Info("order cancelled", zap.String("order_id", orderID), zap.String("customer_id", customerID))
	e.publish(ctx, orders.EventOrderCancelled, orderID, orders.OrderCancelledPayload{
		OrderID: orderID, CustomerID: customerID, Restored: o.Lines(),
	})
	return o, nil
}

func (e *Engine) publish(ctx context.Context, eventType, key string, payload any) {
	if err := e.pub.Publish(ctx, eventType, key, payload); err != nil {
		e.log.Warn("publish failed", zap.String("event_type", eventType), zap.String("key", key), zap.Error(err))
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", orders.ErrUnavailable, op, err)
}

// storeErr passes domain lookups through and wraps everything else.
func storeErr(op string, err error) error {
	if errors.Is(err, orders.ErrOrderNotFound) || errors.Is(err, orders.ErrAgentNotFound) {
		return err
	}
	return unavailable(op, err)
}
