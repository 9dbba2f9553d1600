package sqlite

import (
	"database/sql"
	"fmt"
)

// Timestamps are stored as UTC unix nanoseconds so range filters compare numerically.
const schema = `
CREATE TABLE IF NOT EXISTS inventory_items (
    sku           TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    category      TEXT NOT NULL DEFAULT '',
    price_cents   INTEGER NOT NULL CHECK (price_cents >= 0),
    stock         INTEGER NOT NULL CHECK (stock >= 0),
    reorder_level INTEGER NOT NULL DEFAULT 0,
    max_stock     INTEGER NOT NULL DEFAULT 0,
    total_sold    INTEGER NOT NULL DEFAULT 0,
    is_active     INTEGER NOT NULL DEFAULT 1,
    updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
    agent_key    TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    phone        TEXT NOT NULL DEFAULT '',
    email        TEXT NOT NULL DEFAULT '',
    vehicle_type TEXT NOT NULL DEFAULT '',
    is_active    INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS orders (
    id                          TEXT PRIMARY KEY,
    order_id                    TEXT NOT NULL UNIQUE,
    customer_id                 TEXT NOT NULL,
    items                       TEXT NOT NULL,
    total_cents                 INTEGER NOT NULL,
    tip_cents                   INTEGER NOT NULL DEFAULT 0,
    payment_reference           TEXT NOT NULL UNIQUE,
    delivery_address            TEXT NOT NULL,
    status                      TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'out_for_delivery', 'delivered', 'cancelled')),
    assigned_agent_key          TEXT,
    assigned_agent_display_name TEXT,
    created_at                  INTEGER NOT NULL,
    accepted_at                 INTEGER,
    delivered_at                INTEGER,
    updated_at                  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status_delivered ON orders(status, delivered_at);
CREATE INDEX IF NOT EXISTS idx_orders_agent ON orders(assigned_agent_key);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
