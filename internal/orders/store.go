package orders

import (
	"context"
	"time"
)

// Store is the persistence port shared by the ledger, the state machine and
// the aggregator. Implementations live in internal/postgres, internal/sqlite
// and internal/mongo.
type Store interface {
	// InTx runs fn inside one transactional unit. If fn returns an error no
	// write made through tx is visible afterwards.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Items returns the current catalog rows for skus; missing SKUs are absent from the map.
	Items(ctx context.Context, skus []string) (map[string]InventoryItem, error)
	LowStock(ctx context.Context) ([]InventoryItem, error)
	UpsertItem(ctx context.Context, it InventoryItem) error
	// RestoreStock re-increments stock outside of any order flow (reconciliation).
	RestoreStock(ctx context.Context, lines []LineQty) error

	Order(ctx context.Context, orderID string) (*Order, error)
	OrderByPaymentRef(ctx context.Context, ref string) (*Order, error)
	// TransitionOrder applies p only if the order is still in status from.
	// It returns false when the compare-and-set lost.
	TransitionOrder(ctx context.Context, orderID string, from Status, p Patch) (bool, error)
	// DeliveredOrders lists delivered orders with deliveredAt in [from, to].
	// Zero bounds are open.
	DeliveredOrders(ctx context.Context, from, to time.Time) ([]Order, error)

	Agent(ctx context.Context, key string) (*Agent, error)
	Agents(ctx context.Context) ([]Agent, error)
	UpsertAgent(ctx context.Context, a Agent) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the transactional view used by checkout and cancellation.
type Tx interface {
	// LockItems reads skus and, where the engine supports it, holds a row lock
	// on each until the unit ends. Locks are taken in SKU order.
	LockItems(ctx context.Context, skus []string) (map[string]InventoryItem, error)
	// Decrement lowers stock and raises totalSold only if stock >= qty.
	// It returns false without writing when the guard fails.
	Decrement(ctx context.Context, sku string, qty int) (bool, error)
	Increment(ctx context.Context, sku string, qty int) error
	InsertOrder(ctx context.Context, o *Order) error
	TransitionOrder(ctx context.Context, orderID string, from Status, p Patch) (bool, error)
}
