package orders

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderAccepted      = "order.accepted"
	TopicOrderStatusChanged = "order.status.changed"
	TopicOrderCancelled     = "order.cancelled"
	TopicStockLow           = "inventory.stock.low"
	TopicStockCompensation  = "inventory.stock.compensation"
	// Compensations the reconciler could not apply, for manual replay.
	TopicStockCompensationDLQ = "inventory.stock.compensation.dlq"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
