package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/auth"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/pkg/apierror"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/pkg/response"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Log            *zap.Logger
	Issuer         *auth.Issuer
	Gatherer       prometheus.Gatherer
	Health         []Pinger
	CORSOrigins    []string
	RequestTimeout time.Duration

	Orders    *OrdersHandler
	Inventory *InventoryHandler
	Reports   *ReportsHandler
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, Logger(log), Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		for _, p := range cfg.Health {
			if err := p.Ping(r.Context()); err != nil {
				log.Warn("health check failed", zap.Error(err))
				response.Error(w, apierror.ServiceUnavailable("dependency unreachable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.Orders != nil {
			cfg.Orders.Register(r, AgentAuth(cfg.Issuer))
		}
		if cfg.Inventory != nil {
			cfg.Inventory.Register(r)
		}
		if cfg.Reports != nil {
			cfg.Reports.Register(r)
		}
	})
	return r
}
