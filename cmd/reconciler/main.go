package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/config"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/go-quickcommerce-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/orders"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-quickcommerce-fulfillment/internal/storage"
)

// reconciler re-applies stock that a failed checkout decremented but could
// not put back.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zc := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(cfg.LogLevel); err == nil {
		zc.Level = lvl
	}
	logger, err := zc.Build()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	logger = logger.With(zap.String("service", cfg.ServiceName+"-reconciler"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Store, logger.Named("store"))
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer store.Close()

	rdb := redisx.New(redisx.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	comp := &inventory.Compensator{
		Store:   store,
		Dedup:   redisx.NewDedup(rdb),
		Log:     logger.Named("compensator"),
		Metrics: metrics.New(reg),
	}
	dlq := kafkax.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.ProducerBuffer, logger)
	dlq.Start(ctx)
	cons := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ReconcilerGroup, orders.TopicStockCompensation, cfg.Kafka.ReconcilerWorkers, logger).
		WithDeadLetter(dlq, orders.TopicStockCompensationDLQ)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("consumer started",
			zap.String("group", cfg.Kafka.ReconcilerGroup),
			zap.String("topic", orders.TopicStockCompensation),
			zap.Int("workers", cfg.Kafka.ReconcilerWorkers))
		err := cons.Start(gctx, comp.HandleMessage)
		// Workers have stopped, so nothing dead-letters after this.
		dlq.Close()
		dlq.WaitClosed()
		return err
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("reconciler stopped", zap.Error(err))
		return
	}
	logger.Info("reconciler stopped")
}
