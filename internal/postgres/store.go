package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

// Store implements orders.Store on PostgreSQL. Checkout locks inventory rows
// with SELECT ... FOR UPDATE, so contention is per SKU and orders touching
// disjoint SKUs never wait on each other.
type Store struct{ DB *pgxpool.Pool }

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	pgTx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) Items(ctx context.Context, skus []string) (map[string]orders.InventoryItem, error) {
	return selectItems(ctx, s.DB, skus, false)
}

func (s *Store) LowStock(ctx context.Context) ([]orders.InventoryItem, error) {
	rows, err := s.DB.Query(ctx, itemColumns+` WHERE is_active AND stock <= reorder_level ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.InventoryItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) UpsertItem(ctx context.Context, it orders.InventoryItem) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO inventory_items (sku, name, category, price_cents, stock, reorder_level, max_stock, total_sold, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (sku) DO UPDATE SET
			name = EXCLUDED.name, category = EXCLUDED.category, price_cents = EXCLUDED.price_cents,
			stock = EXCLUDED.stock, reorder_level = EXCLUDED.reorder_level, max_stock = EXCLUDED.max_stock,
			is_active = EXCLUDED.is_active, updated_at = NOW()`,
		it.SKU, it.Name, it.Category, it.PriceCents, it.Stock, it.ReorderLevel, it.MaxStock, it.TotalSold, it.Active)
	return err
}

func (s *Store) RestoreStock(ctx context.Context, lines []orders.LineQty) error {
	return s.InTx(ctx, func(ctx context.Context, t orders.Tx) error {
		for _, l := range lines {
			if err := t.Increment(ctx, l.SKU, l.Qty); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Order(ctx context.Context, orderID string) (*orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, orderColumns+` WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) OrderByPaymentRef(ctx context.Context, ref string) (*orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, orderColumns+` WHERE payment_reference = $1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) TransitionOrder(ctx context.Context, orderID string, from orders.Status, p orders.Patch) (bool, error) {
	return transition(ctx, s.DB, orderID, from, p)
}

func (s *Store) DeliveredOrders(ctx context.Context, from, to time.Time) ([]orders.Order, error) {
	query := orderColumns + ` WHERE status = 'delivered'`
	var args []any
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(` AND delivered_at >= $%d`, len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(` AND delivered_at <= $%d`, len(args))
	}
	query += ` ORDER BY delivered_at, order_id`

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *Store) Agent(ctx context.Context, key string) (*orders.Agent, error) {
	var a orders.Agent
	err := s.DB.QueryRow(ctx,
		`SELECT agent_key, name, phone, email, vehicle_type, is_active FROM agents WHERE agent_key = $1`, key,
	).Scan(&a.Key, &a.Name, &a.Phone, &a.Email, &a.VehicleType, &a.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Agents(ctx context.Context) ([]orders.Agent, error) {
	rows, err := s.DB.Query(ctx,
		`SELECT agent_key, name, phone, email, vehicle_type, is_active FROM agents ORDER BY agent_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Agent
	for rows.Next() {
		var a orders.Agent
		if err := rows.Scan(&a.Key, &a.Name, &a.Phone, &a.Email, &a.VehicleType, &a.Active); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAgent(ctx context.Context, a orders.Agent) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO agents (agent_key, name, phone, email, vehicle_type, is_active) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_key) DO UPDATE SET
			name = EXCLUDED.name, phone = EXCLUDED.phone, email = EXCLUDED.email,
			vehicle_type = EXCLUDED.vehicle_type, is_active = EXCLUDED.is_active`,
		a.Key, a.Name, a.Phone, a.Email, a.VehicleType, a.Active)
	return err
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

func (s *Store) Close() error {
	s.DB.Close()
	return nil
}

type tx struct{ q querier }

// LockItems takes row locks in SKU order so two checkouts sharing SKUs
// cannot deadlock.
func (t *tx) LockItems(ctx context.Context, skus []string) (map[string]orders.InventoryItem, error) {
	return selectItems(ctx, t.q, skus, true)
}

func (t *tx) Decrement(ctx context.Context, sku string, qty int) (bool, error) {
	ct, err := t.q.Exec(ctx, `
		UPDATE inventory_items SET stock = stock - $2, total_sold = total_sold + $2, updated_at = NOW()
		WHERE sku = $1 AND stock >= $2`, sku, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *tx) Increment(ctx context.Context, sku string, qty int) error {
	ct, err := t.q.Exec(ctx,
		`UPDATE inventory_items SET stock = stock + $2, updated_at = NOW() WHERE sku = $1`, sku, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &orders.UnknownSKUError{SKU: sku}
	}
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO orders (id, order_id, customer_id, items, total_cents, tip_cents, payment_reference, delivery_address,
			status, assigned_agent_key, assigned_agent_display_name, created_at, accepted_at, delivered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.OrderID, o.CustomerID, items, o.TotalCents, o.TipCents, o.PaymentReference, o.DeliveryAddress,
		string(o.Status), o.AssignedAgentKey, o.AssignedAgentDisplayName, o.CreatedAt, o.AcceptedAt, o.DeliveredAt, o.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_payment_reference_key" {
		return orders.ErrDuplicateOrder
	}
	return err
}

func (t *tx) TransitionOrder(ctx context.Context, orderID string, from orders.Status, p orders.Patch) (bool, error) {
	return transition(ctx, t.q, orderID, from, p)
}

const itemColumns = `SELECT sku, name, category, price_cents, stock, reorder_level, max_stock, total_sold, is_active, updated_at
	FROM inventory_items`

const orderColumns = `SELECT id::text, order_id, customer_id, items, total_cents, tip_cents, payment_reference, delivery_address,
	status, assigned_agent_key, assigned_agent_display_name, created_at, accepted_at, delivered_at, updated_at
	FROM orders`

func selectItems(ctx context.Context, q querier, skus []string, lock bool) (map[string]orders.InventoryItem, error) {
	out := make(map[string]orders.InventoryItem, len(skus))
	if len(skus) == 0 {
		return out, nil
	}
	query := itemColumns + ` WHERE sku = ANY($1) ORDER BY sku`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.SKU] = it
	}
	return out, rows.Err()
}

func scanItem(row pgx.Row) (orders.InventoryItem, error) {
	var it orders.InventoryItem
	err := row.Scan(&it.SKU, &it.Name, &it.Category, &it.PriceCents, &it.Stock, &it.ReorderLevel,
		&it.MaxStock, &it.TotalSold, &it.Active, &it.UpdatedAt)
	return it, err
}

func transition(ctx context.Context, q querier, orderID string, from orders.Status, p orders.Patch) (bool, error) {
	ct, err := q.Exec(ctx, `
		UPDATE orders SET
			status = $3,
			assigned_agent_key = COALESCE($4, assigned_agent_key),
			assigned_agent_display_name = COALESCE($5, assigned_agent_display_name),
			accepted_at = COALESCE($6, accepted_at),
			delivered_at = COALESCE($7, delivered_at),
			updated_at = $8
		WHERE order_id = $1 AND status = $2`,
		orderID, string(from), string(p.Status), p.AssignedAgentKey, p.AssignedAgentDisplayName,
		p.AcceptedAt, p.DeliveredAt, p.UpdatedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func scanOrder(row pgx.Row) (*orders.Order, error) {
	o := &orders.Order{}
	var items []byte
	var status string
	err := row.Scan(&o.ID, &o.OrderID, &o.CustomerID, &items, &o.TotalCents, &o.TipCents, &o.PaymentReference,
		&o.DeliveryAddress, &status, &o.AssignedAgentKey, &o.AssignedAgentDisplayName,
		&o.CreatedAt, &o.AcceptedAt, &o.DeliveredAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of %s: %w", o.OrderID, err)
	}
	o.Status = orders.Status(status)
	return o, nil
}

var _ orders.Store = (*Store)(nil)
