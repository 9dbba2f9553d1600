package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/pkg/response"
)

type OrdersHandler struct {
	Engine *fulfillment.Engine
	Cache  *redisx.Cache // optional
	Log    *zap.Logger
}

type placeOrderReq struct {
	CustomerID       string           `json:"customer_id"`
	Items            []orders.LineQty `json:"items"`
	DeliveryAddress  string           `json:"delivery_address"`
	PaymentReference string           `json:"payment_reference"`
	Tip              decimal.Decimal  `json:"tip"`
}

type cancelReq struct {
	CustomerID string `json:"customer_id"`
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router, agentAuth func(http.Handler) http.Handler) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Group(func(r chi.Router) {
		r.Use(agentAuth)
		r.Post("/orders/{id}/accept", h.acceptOrder)
		r.Post("/orders/{id}/status", h.updateStatus)
	})
}

func (h *OrdersHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.log(), err)
		return
	}
	tip, err := toCents("tip", req.Tip)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast path: a retried checkout whose reference Redis still remembers.
	if o := h.hintedOrder(ctx, req.PaymentReference, req.CustomerID); o != nil {
		response.OK(w, placeOrderResp{Order: toOrderDTO(o), Idempotent: true})
		return
	}

	o, existed, err := h.Engine.PlaceOrder(ctx, fulfillment.PlaceOrderInput{
		CustomerID:       req.CustomerID,
		Items:            req.Items,
		DeliveryAddress:  req.DeliveryAddress,
		PaymentReference: req.PaymentReference,
		TipCents:         tip,
	})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}

	if h.Cache != nil {
		if err := h.Cache.RememberPayment(ctx, o.PaymentReference, o.OrderID); err != nil {
			h.log().Warn("caching payment reference", zap.Error(err))
		}
		h.cacheStatus(ctx, o)
	}

	if existed {
		response.OK(w, placeOrderResp{Order: toOrderDTO(o), Idempotent: true})
		return
	}
	response.Created(w, placeOrderResp{Order: toOrderDTO(o)})
}

// hintedOrder returns nil on any mismatch so the engine decides.
func (h *OrdersHandler) hintedOrder(ctx context.Context, ref, customerID string) *orders.Order {
	if h.Cache == nil || ref == "" {
		return nil
	}
	id, err := h.Cache.PaymentOrder(ctx, ref)
	if err != nil || id == "" {
		return nil
	}
	o, err := h.Engine.GetOrder(ctx, id)
	if err != nil || o.PaymentReference != ref || o.CustomerID != customerID {
		return nil
	}
	return o
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Engine.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	response.OK(w, toOrderDTO(o))
}

// getStatus serves from the Redis cache, falling back to the store.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if e, ok, err := h.Cache.Status(ctx, orderID); err == nil && ok {
			response.OK(w, e)
			return
		}
	}

	o, err := h.Engine.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.cacheStatus(ctx, o)
	response.OK(w, redisx.StatusEntry{OrderID: o.OrderID, Status: o.Status, UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.log(), err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Engine.CancelOrder(ctx, chi.URLParam(r, "id"), req.CustomerID)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.cacheStatus(ctx, o)
	response.OK(w, toOrderDTO(o))
}

func (h *OrdersHandler) acceptOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Engine.AcceptOrder(ctx, chi.URLParam(r, "id"), AgentKey(r.Context()))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.cacheStatus(ctx, o)
	response.OK(w, toOrderDTO(o))
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.log(), err)
		return
	}
	to, ok := orders.ParseStatus(req.Status)
	if !ok {
		writeError(w, h.log(), &orders.ValidationError{Field: "status", Reason: "unknown status " + req.Status})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Engine.UpdateStatus(ctx, chi.URLParam(r, "id"), to, AgentKey(r.Context()))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.cacheStatus(ctx, o)
	response.OK(w, toOrderDTO(o))
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o *orders.Order) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.SetStatus(ctx, o); err != nil {
		h.log().Warn("caching order status", zap.String("order_id", o.OrderID), zap.Error(err))
	}
}
