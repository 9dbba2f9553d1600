package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS inventory_items (
    sku           TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    category      TEXT NOT NULL DEFAULT '',
    price_cents   BIGINT NOT NULL CHECK (price_cents >= 0),
    stock         INTEGER NOT NULL CHECK (stock >= 0),
    reorder_level INTEGER NOT NULL DEFAULT 0,
    max_stock     INTEGER NOT NULL DEFAULT 0,
    total_sold    BIGINT NOT NULL DEFAULT 0,
    is_active     BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS agents (
    agent_key    TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    phone        TEXT NOT NULL DEFAULT '',
    email        TEXT NOT NULL DEFAULT '',
    vehicle_type TEXT NOT NULL DEFAULT '',
    is_active    BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS orders (
    id                          UUID PRIMARY KEY,
    order_id                    TEXT NOT NULL UNIQUE,
    customer_id                 TEXT NOT NULL,
    items                       JSONB NOT NULL,
    total_cents                 BIGINT NOT NULL,
    tip_cents                   BIGINT NOT NULL DEFAULT 0,
    payment_reference           TEXT NOT NULL,
    delivery_address            TEXT NOT NULL,
    status                      TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'out_for_delivery', 'delivered', 'cancelled')),
    assigned_agent_key          TEXT,
    assigned_agent_display_name TEXT,
    created_at                  TIMESTAMPTZ NOT NULL,
    accepted_at                 TIMESTAMPTZ,
    delivered_at                TIMESTAMPTZ,
    updated_at                  TIMESTAMPTZ NOT NULL,
    CONSTRAINT orders_payment_reference_key UNIQUE (payment_reference),
    CONSTRAINT orders_accept_before_deliver CHECK (accepted_at IS NULL OR delivered_at IS NULL OR accepted_at <= delivered_at)
);

CREATE INDEX IF NOT EXISTS idx_orders_status_delivered ON orders(status, delivered_at);
CREATE INDEX IF NOT EXISTS idx_orders_agent ON orders(assigned_agent_key);
`

// Migrate creates the schema if it does not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}
