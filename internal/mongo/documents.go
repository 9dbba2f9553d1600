package mongo

import (
	"time"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
)

// BSON dates keep millisecond precision.

type itemDocument struct {
	SKU          string    `bson:"_id"`
	Name         string    `bson:"name"`
	Category     string    `bson:"category"`
	PriceCents   int64     `bson:"price_cents"`
	Stock        int       `bson:"stock"`
	ReorderLevel int       `bson:"reorder_level"`
	MaxStock     int       `bson:"max_stock"`
	TotalSold    int64     `bson:"total_sold"`
	Active       bool      `bson:"is_active"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d itemDocument) model() orders.InventoryItem {
	return orders.InventoryItem{
		SKU: d.SKU, Name: d.Name, Category: d.Category, PriceCents: d.PriceCents, Stock: d.Stock,
		ReorderLevel: d.ReorderLevel, MaxStock: d.MaxStock, TotalSold: d.TotalSold, Active: d.Active,
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type lineDocument struct {
	SKU            string `bson:"sku"`
	Name           string `bson:"name"`
	Qty            int    `bson:"qty"`
	UnitPriceCents int64  `bson:"unit_price_cents"`
}

type orderDocument struct {
	ID                       string         `bson:"_id"`
	OrderID                  string         `bson:"order_id"`
	CustomerID               string         `bson:"customer_id"`
	Items                    []lineDocument `bson:"items"`
	TotalCents               int64          `bson:"total_cents"`
	TipCents                 int64          `bson:"tip_cents"`
	PaymentReference         string         `bson:"payment_reference"`
	DeliveryAddress          string         `bson:"delivery_address"`
	Status                   string         `bson:"status"`
	AssignedAgentKey         *string        `bson:"assigned_agent_key,omitempty"`
	AssignedAgentDisplayName *string        `bson:"assigned_agent_display_name,omitempty"`
	CreatedAt                time.Time      `bson:"created_at"`
	AcceptedAt               *time.Time     `bson:"accepted_at,omitempty"`
	DeliveredAt              *time.Time     `bson:"delivered_at,omitempty"`
	UpdatedAt                time.Time      `bson:"updated_at"`
}

func toOrderDocument(o *orders.Order) orderDocument {
	lines := make([]lineDocument, 0, len(o.Items))
	for _, l := range o.Items {
		lines = append(lines, lineDocument{SKU: l.SKU, Name: l.Name, Qty: l.Qty, UnitPriceCents: l.UnitPriceCents})
	}
	return orderDocument{
		ID: o.ID, OrderID: o.OrderID, CustomerID: o.CustomerID, Items: lines, TotalCents: o.TotalCents,
		TipCents: o.TipCents, PaymentReference: o.PaymentReference, DeliveryAddress: o.DeliveryAddress,
		Status: string(o.Status), AssignedAgentKey: o.AssignedAgentKey, AssignedAgentDisplayName: o.AssignedAgentDisplayName,
		CreatedAt: o.CreatedAt, AcceptedAt: o.AcceptedAt, DeliveredAt: o.DeliveredAt, UpdatedAt: o.UpdatedAt,
	}
}

func (d orderDocument) model() *orders.Order {
	lines := make([]orders.OrderLine, 0, len(d.Items))
	for _, l := range d.Items {
		lines = append(lines, orders.OrderLine{SKU: l.SKU, Name: l.Name, Qty: l.Qty, UnitPriceCents: l.UnitPriceCents})
	}
	return &orders.Order{
		ID: d.ID, OrderID: d.OrderID, CustomerID: d.CustomerID, Items: lines, TotalCents: d.TotalCents,
		TipCents: d.TipCents, PaymentReference: d.PaymentReference, DeliveryAddress: d.DeliveryAddress,
		Status: orders.Status(d.Status), AssignedAgentKey: d.AssignedAgentKey, AssignedAgentDisplayName: d.AssignedAgentDisplayName,
		CreatedAt: d.CreatedAt.UTC(), AcceptedAt: utcPtr(d.AcceptedAt), DeliveredAt: utcPtr(d.DeliveredAt), UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type agentDocument struct {
	Key         string `bson:"_id"`
	Name        string `bson:"name"`
	Phone       string `bson:"phone"`
	Email       string `bson:"email"`
	VehicleType string `bson:"vehicle_type"`
	Active      bool   `bson:"is_active"`
}

func (d agentDocument) model() orders.Agent {
	return orders.Agent{Key: d.Key, Name: d.Name, Phone: d.Phone, Email: d.Email, VehicleType: d.VehicleType, Active: d.Active}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
