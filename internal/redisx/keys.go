package redisx

import "time"

const (
	// Place-order idempotency: idem:order:place:{payment_reference} -> order_id
	KeyIdemPlaceOrder = "idem:order:place:%s"

	// Status cache: hash order_status:{order_id} -> ver (updated_at nanos), data {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
