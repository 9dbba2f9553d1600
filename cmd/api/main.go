package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/auth"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/config"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/identity"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/go-quickcommerce-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/performance"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/storage"
)

func main() {
	issueFor := flag.String("issue-token", "", "print a bearer token for the given agent key and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *issueFor != "" {
		iss, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			log.Fatalf("issuer: %v", err)
		}
		tok, err := iss.Issue(*issueFor)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	logger, err := newLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func newLogger(level, service string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("service", service)), nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Store, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer store.Close()
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	rdb := redisx.New(redisx.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	prod := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ProducerBuffer, logger)
	pub := &kafkax.EventPublisher{Sink: prod, Service: cfg.ServiceName}

	loc, err := cfg.Payroll.Location()
	if err != nil {
		return err
	}
	resolver := identity.NewResolver(logger.Named("identity"), m, cfg.Payroll.LegacyAgentMatching)
	ledger := inventory.NewLedger(store, logger.Named("inventory"))
	engine := fulfillment.New(store, ledger, resolver, logger.Named("fulfillment"),
		fulfillment.WithPublisher(pub), fulfillment.WithMetrics(m))
	agg := performance.NewAggregator(store, resolver, performance.Policy{
		BaseRateCents: cfg.Payroll.BaseRatePerDelivery,
		MinHandling:   cfg.Payroll.MinHandling,
		MaxHandling:   cfg.Payroll.MaxHandling,
	}, loc, m, logger.Named("performance"))

	var iss *auth.Issuer
	if cfg.Auth.JWTSecret != "" {
		if iss, err = auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL); err != nil {
			return err
		}
	} else {
		logger.Warn("JWT_SECRET not set, agent endpoints will refuse requests")
	}

	httpLog := logger.Named("http")
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:            httpLog,
		Issuer:         iss,
		Gatherer:       reg,
		Health:         []httpx.Pinger{store, redisx.Pinger{Client: rdb}},
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Orders:         &httpx.OrdersHandler{Engine: engine, Cache: redisx.NewCache(rdb), Log: httpLog},
		Inventory:      &httpx.InventoryHandler{Ledger: ledger, Log: httpLog},
		Reports:        &httpx.ReportsHandler{Aggregator: agg, Log: httpLog},
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	prod.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		// Requests are drained, so nothing publishes after this.
		prod.Close()
		prod.WaitClosed()
		return err
	})

	return g.Wait()
}
