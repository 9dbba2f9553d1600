package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/performance"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/pkg/apierror"
)

// Amounts are stored in minor units and rendered in major units.
func money(cents int64) string { return decimal.New(cents, -2).StringFixed(2) }

// toCents converts a major-unit amount; more than two decimals is rejected.
func toCents(field string, v decimal.Decimal) (int64, error) {
	c := v.Shift(2)
	if !c.IsInteger() {
		return 0, &orders.ValidationError{Field: field, Reason: "at most two decimal places"}
	}
	if !c.BigInt().IsInt64() {
		return 0, &orders.ValidationError{Field: field, Reason: "out of range"}
	}
	return c.IntPart(), nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierror.BadRequest("invalid json: " + err.Error())
	}
	return nil
}

type lineDTO struct {
	SKU       string `json:"sku"`
	Name      string `json:"name,omitempty"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type orderDTO struct {
	ID                       string        `json:"id"`
	OrderID                  string        `json:"order_id"`
	CustomerID               string        `json:"customer_id"`
	Items                    []lineDTO     `json:"items"`
	Total                    string        `json:"total"`
	Tip                      string        `json:"tip"`
	PaymentReference         string        `json:"payment_reference"`
	DeliveryAddress          string        `json:"delivery_address"`
	Status                   orders.Status `json:"status"`
	AssignedAgentKey         *string       `json:"assigned_agent_key,omitempty"`
	AssignedAgentDisplayName *string       `json:"assigned_agent_display_name,omitempty"`
	CreatedAt                time.Time     `json:"created_at"`
	AcceptedAt               *time.Time    `json:"accepted_at,omitempty"`
	DeliveredAt              *time.Time    `json:"delivered_at,omitempty"`
	UpdatedAt                time.Time     `json:"updated_at"`
}

func toOrderDTO(o *orders.Order) orderDTO {
	lines := make([]lineDTO, 0, len(o.Items))
	for _, l := range o.Items {
		lines = append(lines, lineDTO{
			SKU: l.SKU, Name: l.Name, Qty: l.Qty,
			UnitPrice: money(l.UnitPriceCents), Subtotal: money(l.SubtotalCents()),
		})
	}
	return orderDTO{
		ID: o.ID, OrderID: o.OrderID, CustomerID: o.CustomerID, Items: lines,
		Total: money(o.TotalCents), Tip: money(o.TipCents),
		PaymentReference: o.PaymentReference, DeliveryAddress: o.DeliveryAddress, Status: o.Status,
		AssignedAgentKey: o.AssignedAgentKey, AssignedAgentDisplayName: o.AssignedAgentDisplayName,
		CreatedAt: o.CreatedAt, AcceptedAt: o.AcceptedAt, DeliveredAt: o.DeliveredAt, UpdatedAt: o.UpdatedAt,
	}
}

type placeOrderResp struct {
	Order      orderDTO `json:"order"`
	Idempotent bool     `json:"idempotent"`
}

type itemDTO struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Price        string `json:"price"`
	Stock        int    `json:"stock"`
	ReorderLevel int    `json:"reorder_level"`
	MaxStock     int    `json:"max_stock"`
}

func toItemDTO(it orders.InventoryItem) itemDTO {
	return itemDTO{
		SKU: it.SKU, Name: it.Name, Category: it.Category, Price: money(it.PriceCents),
		Stock: it.Stock, ReorderLevel: it.ReorderLevel, MaxStock: it.MaxStock,
	}
}

type reportDTO struct {
	performance.Report
	BaseEarnings  string `json:"base_earnings"`
	Tips          string `json:"tips"`
	TotalEarnings string `json:"total_earnings"`
}

func toReportDTO(r performance.Report) reportDTO {
	return reportDTO{
		Report:        r,
		BaseEarnings:  money(r.BaseEarningsCents),
		Tips:          money(r.TipsCents),
		TotalEarnings: money(r.TotalEarningsCents),
	}
}
