package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

type StatusEntry struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Cache wraps the status and idempotency keys. Write errors are returned but
// callers treat them as non-fatal.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

// setStatusIfNewer writes the entry only when its version sorts after the
// cached one. Versions are zero-padded UnixNano so string order is time order.
var setStatusIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
if cur and cur >= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'ver', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// SetStatus caches o's status unless a newer one is already cached, so
// handlers finishing out of order cannot roll the entry back.
func (c *Cache) SetStatus(ctx context.Context, o *orders.Order) error {
	b, err := json.Marshal(StatusEntry{OrderID: o.OrderID, Status: o.Status, UpdatedAt: o.UpdatedAt})
	if err != nil {
		return err
	}
	ver := fmt.Sprintf("%020d", o.UpdatedAt.UnixNano())
	return setStatusIfNewer.Run(ctx, c.rdb, []string{fmt.Sprintf(KeyOrderStatus, o.OrderID)},
		ver, b, TTLStatusCache.Milliseconds()).Err()
}

// Status returns the cached entry; ok is false on a miss.
func (c *Cache) Status(ctx context.Context, orderID string) (e StatusEntry, ok bool, err error) {
	b, err := c.rdb.HGet(ctx, fmt.Sprintf(KeyOrderStatus, orderID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, false, fmt.Errorf("decoding cached status: %w", err)
	}
	return e, true, nil
}

func (c *Cache) RememberPayment(ctx context.Context, paymentRef, orderID string) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyIdemPlaceOrder, paymentRef), orderID, TTLIdempotency).Err()
}

// PaymentOrder returns the order id last placed with paymentRef, or "".
func (c *Cache) PaymentOrder(ctx context.Context, paymentRef string) (string, error) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemPlaceOrder, paymentRef)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

// Dedup claims event ids with SET NX so a redelivered message is processed once.
type Dedup struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDedup(rdb *redis.Client) *Dedup { return &Dedup{rdb: rdb, ttl: TTLDedup} }

func (d *Dedup) Claim(ctx context.Context, service, id string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

// Release drops a claim so a failed attempt can be retried.
func (d *Dedup) Release(ctx context.Context, service, id string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, id)).Err()
}
