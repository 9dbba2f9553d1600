// Package redisx holds the Redis side of the service: status cache,
// place-order idempotency hints and consumer dedup. Redis is never the
// source of truth; every miss falls back to the store.
package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

func New(o Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Pinger lets the health endpoint check Redis next to the store.
type Pinger struct{ Client *redis.Client }

func (p Pinger) Ping(ctx context.Context) error { return p.Client.Ping(ctx).Err() }
