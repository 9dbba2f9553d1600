// Package storage opens the orders.Store selected by STORE_DRIVER.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/config"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/mongo"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/sqlite"
)

// Store is an orders.Store the process owns.
type Store interface {
	orders.Store
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and makes sure its schema exists.
func Open(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &postgres.Store{DB: pool}, nil

	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating sqlite dir: %w", err)
			}
		}
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.EnsureSchema(db); err != nil {
			db.Close()
			return nil, err
		}
		return sqlite.New(db), nil

	case "mongo":
		s, err := mongo.Connect(ctx, mongo.Config{
			URI:          cfg.MongoURI,
			Database:     cfg.MongoDatabase,
			Transactions: cfg.MongoTransactions,
		}, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
