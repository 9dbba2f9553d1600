package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

// Store implements orders.Store on SQLite. Row locks do not exist here;
// the single-connection pool serialises every transaction instead.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) Items(ctx context.Context, skus []string) (map[string]orders.InventoryItem, error) {
	return selectItems(ctx, s.db, skus)
}

func (s *Store) LowStock(ctx context.Context) ([]orders.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, itemColumns+`
		WHERE is_active = 1 AND stock <= reorder_level ORDER BY sku`)
	if err != nil {
		return nil, fmt.Errorf("listing low stock: %w", err)
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
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (sku, name, category, price_cents, stock, reorder_level, max_stock, total_sold, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (sku) DO UPDATE SET
			name = excluded.name, category = excluded.category, price_cents = excluded.price_cents,
			stock = excluded.stock, reorder_level = excluded.reorder_level, max_stock = excluded.max_stock,
			is_active = excluded.is_active, updated_at = excluded.updated_at`,
		it.SKU, it.Name, it.Category, it.PriceCents, it.Stock, it.ReorderLevel, it.MaxStock, it.TotalSold,
		boolInt(it.Active), it.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upserting item %s: %w", it.SKU, err)
	}
	return nil
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
	o, err := scanOrder(s.db.QueryRowContext(ctx, orderColumns+` WHERE order_id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) OrderByPaymentRef(ctx context.Context, ref string) (*orders.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, orderColumns+` WHERE payment_reference = ?`, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) TransitionOrder(ctx context.Context, orderID string, from orders.Status, p orders.Patch) (bool, error) {
	return transition(ctx, s.db, orderID, from, p)
}

func (s *Store) DeliveredOrders(ctx context.Context, from, to time.Time) ([]orders.Order, error) {
	query := orderColumns + ` WHERE status = 'delivered'`
	var args []any
	if !from.IsZero() {
		query += ` AND delivered_at >= ?`
		args = append(args, from.UnixNano())
	}
	if !to.IsZero() {
		query += ` AND delivered_at <= ?`
		args = append(args, to.UnixNano())
	}
	query += ` ORDER BY delivered_at, order_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing delivered orders: %w", err)
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
	a := &orders.Agent{}
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT agent_key, name, phone, email, vehicle_type, is_active FROM agents WHERE agent_key = ?`, key,
	).Scan(&a.Key, &a.Name, &a.Phone, &a.Email, &a.VehicleType, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orders.ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent: %w", err)
	}
	a.Active = active == 1
	return a, nil
}

func (s *Store) Agents(ctx context.Context) ([]orders.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_key, name, phone, email, vehicle_type, is_active FROM agents ORDER BY agent_key`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []orders.Agent
	for rows.Next() {
		var a orders.Agent
		var active int
		if err := rows.Scan(&a.Key, &a.Name, &a.Phone, &a.Email, &a.VehicleType, &active); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		a.Active = active == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAgent(ctx context.Context, a orders.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (agent_key, name, phone, email, vehicle_type, is_active) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_key) DO UPDATE SET
			name = excluded.name, phone = excluded.phone, email = excluded.email,
			vehicle_type = excluded.vehicle_type, is_active = excluded.is_active`,
		a.Key, a.Name, a.Phone, a.Email, a.VehicleType, boolInt(a.Active))
	if err != nil {
		return fmt.Errorf("upserting agent %s: %w", a.Key, err)
	}
	return nil
}

// InsertLegacyOrder writes an order as-is, bypassing the engine. It exists to
// load historical records that predate canonical agent keys.
func (s *Store) InsertLegacyOrder(ctx context.Context, o *orders.Order) error {
	return insertOrder(ctx, s.db, o)
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

type tx struct {
	q querier
}

func (t *tx) LockItems(ctx context.Context, skus []string) (map[string]orders.InventoryItem, error) {
	return selectItems(ctx, t.q, skus)
}

func (t *tx) Decrement(ctx context.Context, sku string, qty int) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		UPDATE inventory_items SET stock = stock - ?, total_sold = total_sold + ?, updated_at = ?
		WHERE sku = ? AND stock >= ?`,
		qty, qty, time.Now().UnixNano(), sku, qty)
	if err != nil {
		return false, fmt.Errorf("decrementing stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *tx) Increment(ctx context.Context, sku string, qty int) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE inventory_items SET stock = stock + ?, updated_at = ? WHERE sku = ?`,
		qty, time.Now().UnixNano(), sku)
	if err != nil {
		return fmt.Errorf("incrementing stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return &orders.UnknownSKUError{SKU: sku}
	}
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	return insertOrder(ctx, t.q, o)
}

func (t *tx) TransitionOrder(ctx context.Context, orderID string, from orders.Status, p orders.Patch) (bool, error) {
	return transition(ctx, t.q, orderID, from, p)
}

const itemColumns = `SELECT sku, name, category, price_cents, stock, reorder_level, max_stock, total_sold, is_active, updated_at
	FROM inventory_items`

const orderColumns = `SELECT id, order_id, customer_id, items, total_cents, tip_cents, payment_reference, delivery_address,
	status, assigned_agent_key, assigned_agent_display_name, created_at, accepted_at, delivered_at, updated_at
	FROM orders`

type scanner interface {
	Scan(dest ...any) error
}

func selectItems(ctx context.Context, q querier, skus []string) (map[string]orders.InventoryItem, error) {
	out := make(map[string]orders.InventoryItem, len(skus))
	if len(skus) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(skus))
	for _, s := range skus {
		args = append(args, s)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(skus)), ",")

	rows, err := q.QueryContext(ctx, itemColumns+` WHERE sku IN (`+placeholders+`) ORDER BY sku`, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting items: %w", err)
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

func scanItem(row scanner) (orders.InventoryItem, error) {
	var it orders.InventoryItem
	var active int
	var updated int64
	if err := row.Scan(&it.SKU, &it.Name, &it.Category, &it.PriceCents, &it.Stock, &it.ReorderLevel,
		&it.MaxStock, &it.TotalSold, &active, &updated); err != nil {
		return it, fmt.Errorf("scanning item: %w", err)
	}
	it.Active = active == 1
	it.UpdatedAt = fromNanos(updated)
	return it, nil
}

func insertOrder(ctx context.Context, q querier, o *orders.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encoding items: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO orders (id, order_id, customer_id, items, total_cents, tip_cents, payment_reference, delivery_address,
			status, assigned_agent_key, assigned_agent_display_name, created_at, accepted_at, delivered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.OrderID, o.CustomerID, string(items), o.TotalCents, o.TipCents, o.PaymentReference, o.DeliveryAddress,
		string(o.Status), o.AssignedAgentKey, o.AssignedAgentDisplayName,
		o.CreatedAt.UnixNano(), nanosOrNil(o.AcceptedAt), nanosOrNil(o.DeliveredAt), o.UpdatedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: orders.payment_reference") {
			return orders.ErrDuplicateOrder
		}
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

func transition(ctx context.Context, q querier, orderID string, from orders.Status, p orders.Patch) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE orders SET
			status = ?,
			assigned_agent_key = COALESCE(?, assigned_agent_key),
			assigned_agent_display_name = COALESCE(?, assigned_agent_display_name),
			accepted_at = COALESCE(?, accepted_at),
			delivered_at = COALESCE(?, delivered_at),
			updated_at = ?
		WHERE order_id = ? AND status = ?`,
		string(p.Status), p.AssignedAgentKey, p.AssignedAgentDisplayName,
		nanosOrNil(p.AcceptedAt), nanosOrNil(p.DeliveredAt), p.UpdatedAt.UnixNano(),
		orderID, string(from))
	if err != nil {
		return false, fmt.Errorf("transitioning order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanOrder(row scanner) (*orders.Order, error) {
	o := &orders.Order{}
	var items, status string
	var created, updated int64
	var accepted, delivered sql.NullInt64
	var agentKey, agentName sql.NullString
	err := row.Scan(&o.ID, &o.OrderID, &o.CustomerID, &items, &o.TotalCents, &o.TipCents, &o.PaymentReference,
		&o.DeliveryAddress, &status, &agentKey, &agentName, &created, &accepted, &delivered, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning order: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("decoding items of %s: %w", o.OrderID, err)
	}
	o.Status = orders.Status(status)
	if agentKey.Valid {
		o.AssignedAgentKey = &agentKey.String
	}
	if agentName.Valid {
		o.AssignedAgentDisplayName = &agentName.String
	}
	o.CreatedAt = fromNanos(created)
	o.UpdatedAt = fromNanos(updated)
	if accepted.Valid {
		t := fromNanos(accepted.Int64)
		o.AcceptedAt = &t
	}
	if delivered.Valid {
		t := fromNanos(delivered.Int64)
		o.DeliveredAt = &t
	}
	return o, nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nanosOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ orders.Store = (*Store)(nil)
