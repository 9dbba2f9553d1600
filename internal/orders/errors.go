package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrAgentNotFound   = errors.New("agent not found")
	ErrAgentInactive   = errors.New("agent is inactive")
	ErrAlreadyAssigned = errors.New("order already taken by another agent")
	ErrDuplicateOrder  = errors.New("order with this payment reference already exists")
	// ErrPaymentReferenceInUse rejects a checkout whose payment reference
	// belongs to another customer's order.
	ErrPaymentReferenceInUse = errors.New("payment reference belongs to another order")
	// ErrUnavailable marks infrastructure failures (storage unreachable, commit failed).
	ErrUnavailable = errors.New("service unavailable")
)

// ValidationError rejects malformed input before storage is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type InsufficientStockError struct {
	SKU       string `json:"sku"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: have %d, need %d", e.SKU, e.Available, e.Requested)
}

type UnknownSKUError struct {
	SKU string `json:"sku"`
}

func (e *UnknownSKUError) Error() string {
	return fmt.Sprintf("unknown sku: %s", e.SKU)
}

// InvalidTransitionError carries the authoritative current status so the
// client can resynchronise.
type InvalidTransitionError struct {
	OrderID   string
	Current   Status
	Requested Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.Current, e.Requested)
}

type NotAssignedAgentError struct {
	OrderID  string
	AgentKey string
	Current  Status
}

func (e *NotAssignedAgentError) Error() string {
	return fmt.Sprintf("order %s is not assigned to agent %s", e.OrderID, e.AgentKey)
}

// ConsistencyFaultError means stock was committed but the order was not
// written and the compensating re-increment could not be applied.
type ConsistencyFaultError struct {
	OrderID string
	Lines   []LineQty
	Cause   error
}

func (e *ConsistencyFaultError) Error() string {
	parts := make([]string, 0, len(e.Lines))
	for _, l := range e.Lines {
		parts = append(parts, fmt.Sprintf("%s x%d", l.SKU, l.Qty))
	}
	return fmt.Sprintf("consistency fault on %s [%s]: %v", e.OrderID, strings.Join(parts, ", "), e.Cause)
}

func (e *ConsistencyFaultError) Unwrap() error { return e.Cause }

// IsStockError reports whether err is a user-facing stock shortfall.
func IsStockError(err error) bool {
	var ins *InsufficientStockError
	var unk *UnknownSKUError
	return errors.As(err, &ins) || errors.As(err, &unk)
}
