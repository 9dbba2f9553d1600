package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type InventoryItem struct {
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	PriceCents   int64     `json:"price_cents"`
	Stock        int       `json:"stock"`
	ReorderLevel int       `json:"reorder_level"`
	MaxStock     int       `json:"max_stock"`
	TotalSold    int64     `json:"total_sold"`
	Active       bool      `json:"is_active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NeedsReorder reports whether stock has fallen to the reorder threshold.
func (i InventoryItem) NeedsReorder() bool {
	return i.Stock <= i.ReorderLevel
}

// LineQty is a requested quantity of one SKU.
type LineQty struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// OrderLine is frozen at order time; later catalog edits never touch it.
type OrderLine struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (l OrderLine) SubtotalCents() int64 { return l.UnitPriceCents * int64(l.Qty) }

type Order struct {
	ID                       string      `json:"id"`       // storage primary key
	OrderID                  string      `json:"order_id"` // human-facing
	CustomerID               string      `json:"customer_id"`
	Items                    []OrderLine `json:"items"`
	TotalCents               int64       `json:"total_cents"`
	TipCents                 int64       `json:"tip_cents"`
	PaymentReference         string      `json:"payment_reference"`
	DeliveryAddress          string      `json:"delivery_address"`
	Status                   Status      `json:"status"`
	AssignedAgentKey         *string     `json:"assigned_agent_key,omitempty"`
	AssignedAgentDisplayName *string     `json:"assigned_agent_display_name,omitempty"`
	CreatedAt                time.Time   `json:"created_at"`
	AcceptedAt               *time.Time  `json:"accepted_at,omitempty"`
	DeliveredAt              *time.Time  `json:"delivered_at,omitempty"`
	UpdatedAt                time.Time   `json:"updated_at"`
}

// Lines returns the SKU quantities of the order, used for stock restoration.
func (o *Order) Lines() []LineQty {
	out := make([]LineQty, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, LineQty{SKU: it.SKU, Qty: it.Qty})
	}
	return out
}

// HandlingTime is deliveredAt - acceptedAt; ok is false when either is missing.
func (o *Order) HandlingTime() (d time.Duration, ok bool) {
	if o.AcceptedAt == nil || o.DeliveredAt == nil {
		return 0, false
	}
	return o.DeliveredAt.Sub(*o.AcceptedAt), true
}

// Agent is a delivery user. Key is the issued account identifier; Name and
// Phone are aliases kept only for matching legacy order records.
type Agent struct {
	Key         string `json:"agent_key"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	VehicleType string `json:"vehicle_type"`
	Active      bool   `json:"is_active"`
}

// Patch carries the fulfillment fields written by a status transition.
// Nil fields are left untouched.
type Patch struct {
	Status                   Status
	AssignedAgentKey         *string
	AssignedAgentDisplayName *string
	AcceptedAt               *time.Time
	DeliveredAt              *time.Time
	UpdatedAt                time.Time
}

// Apply copies the patch onto o.
func (p Patch) Apply(o *Order) {
	o.Status = p.Status
	if p.AssignedAgentKey != nil {
		o.AssignedAgentKey = p.AssignedAgentKey
	}
	if p.AssignedAgentDisplayName != nil {
		o.AssignedAgentDisplayName = p.AssignedAgentDisplayName
	}
	if p.AcceptedAt != nil {
		o.AcceptedAt = p.AcceptedAt
	}
	if p.DeliveredAt != nil {
		o.DeliveredAt = p.DeliveredAt
	}
	o.UpdatedAt = p.UpdatedAt
}

// NewOrderID builds the human-facing order id, e.g. QC-20261016-093512-4F1A2B.
func NewOrderID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("QC-%s-%s", now.UTC().Format("20060102-150405"), suffix)
}
