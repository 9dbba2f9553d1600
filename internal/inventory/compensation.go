package inventory

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-quickcommerce-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

// Deduper claims an event id so a redelivered message is applied once.
type Deduper interface {
	Claim(ctx context.Context, service, id string) (bool, error)
	Release(ctx context.Context, service, id string) error
}

// Compensator restores stock for StockCompensationRequired events. It is
// installed as the reconciler's consumer handler.
type Compensator struct {
	Store   orders.Store
	Dedup   Deduper
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

const dedupService = "reconciler"

func (c *Compensator) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		c.Log.Error("dropping undecodable message", zap.Error(err), zap.Int64("offset", m.Offset))
		return nil
	}
	if env.EventType != orders.EventStockCompensationRequired {
		return nil
	}

	claimed, err := c.Dedup.Claim(ctx, dedupService, env.EventID)
	if err != nil {
		return fmt.Errorf("claiming %s: %w", env.EventID, err)
	}
	if !claimed {
		c.Metrics.Compensation("duplicate")
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.StockCompensationPayload](env.Payload)
	if err != nil {
		c.Log.Error("dropping undecodable compensation payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	if err := c.Store.RestoreStock(ctx, p.Lines); err != nil {
		_ = c.Dedup.Release(ctx, dedupService, env.EventID)
		c.Metrics.Compensation("failed")
		return fmt.Errorf("restoring stock for %s: %w", p.OrderID, err)
	}

	c.Metrics.Compensation("applied")
	c.Log.Info("stock compensation applied",
		zap.String("order_id", p.OrderID),
		zap.String("event_id", env.EventID),
		zap.Any("lines", p.Lines),
	)
	return nil
}
