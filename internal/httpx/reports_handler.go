package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/performance"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/pkg/response"
)

type ReportsHandler struct {
	Aggregator *performance.Aggregator
	Log        *zap.Logger
}

func (h *ReportsHandler) Register(r chi.Router) {
	r.Get("/agents/{key}/report", h.report)
	r.Get("/payroll", h.payroll)
}

func (h *ReportsHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *ReportsHandler) dateRange(r *http.Request) (*performance.DateRange, error) {
	q := r.URL.Query()
	return performance.ParseDateRange(q.Get("from"), q.Get("to"), h.Aggregator.Location())
}

func (h *ReportsHandler) report(w http.ResponseWriter, r *http.Request) {
	dr, err := h.dateRange(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rep, err := h.Aggregator.Report(ctx, chi.URLParam(r, "key"), dr)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	response.OK(w, toReportDTO(*rep))
}

func (h *ReportsHandler) payroll(w http.ResponseWriter, r *http.Request) {
	dr, err := h.dateRange(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	reports, err := h.Aggregator.Payroll(ctx, dr)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	out := make([]reportDTO, 0, len(reports))
	for _, rep := range reports {
		out = append(out, toReportDTO(rep))
	}
	response.OK(w, out)
}
