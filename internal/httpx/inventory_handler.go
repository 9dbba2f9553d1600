package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/pkg/response"
)

type InventoryHandler struct {
	Ledger *inventory.Ledger
	Log    *zap.Logger
}

type availabilityReq struct {
	Items []orders.LineQty `json:"items"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Post("/inventory/availability", h.availability)
	r.Get("/inventory/low-stock", h.lowStock)
}

func (h *InventoryHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// availability is advisory; nothing is reserved.
func (h *InventoryHandler) availability(w http.ResponseWriter, r *http.Request) {
	var req availabilityReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.log(), err)
		return
	}
	if len(req.Items) == 0 {
		writeError(w, h.log(), &orders.ValidationError{Field: "items", Reason: "must not be empty"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Ledger.CheckAvailability(ctx, req.Items); err != nil {
		writeError(w, h.log(), err)
		return
	}
	response.OK(w, map[string]bool{"available": true})
}

func (h *InventoryHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Ledger.LowStock(ctx)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	out := make([]itemDTO, 0, len(items))
	for _, it := range items {
		out = append(out, toItemDTO(it))
	}
	response.OK(w, out)
}
