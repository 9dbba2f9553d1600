package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced               = "OrderPlaced"
	EventOrderAccepted             = "OrderAccepted"
	EventOrderStatusChanged        = "OrderStatusChanged"
	EventOrderCancelled            = "OrderCancelled"
	EventStockLow                  = "StockLow"
	EventStockCompensationRequired = "StockCompensationRequired"
)

// TopicFor maps an event type to its topic.
func TopicFor(eventType string) string {
	switch eventType {
	case EventOrderPlaced:
		return TopicOrderPlaced
	case EventOrderAccepted:
		return TopicOrderAccepted
	case EventOrderStatusChanged:
		return TopicOrderStatusChanged
	case EventOrderCancelled:
		return TopicOrderCancelled
	case EventStockLow:
		return TopicStockLow
	case EventStockCompensationRequired:
		return TopicStockCompensation
	}
	return ""
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id, or sku for stock events
	Payload       json.RawMessage `json:"payload"`
}

type OrderPlacedPayload struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Items      []OrderLine `json:"items"`
	TotalCents int64       `json:"total_cents"`
	TipCents   int64       `json:"tip_cents"`
}

type OrderAcceptedPayload struct {
	OrderID    string    `json:"order_id"`
	AgentKey   string    `json:"agent_key"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type OrderStatusChangedPayload struct {
	OrderID  string `json:"order_id"`
	From     Status `json:"from"`
	To       Status `json:"to"`
	AgentKey string `json:"agent_key"`
}

type OrderCancelledPayload struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Restored   []LineQty `json:"restored"`
}

type StockLowPayload struct {
	SKU          string `json:"sku"`
	Stock        int    `json:"stock"`
	ReorderLevel int    `json:"reorder_level"`
	MaxStock     int    `json:"max_stock"`
}

type StockCompensationPayload struct {
	OrderID string    `json:"order_id"`
	Lines   []LineQty `json:"lines"`
	Reason  string    `json:"reason"`
}
