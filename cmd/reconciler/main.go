package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/catalog"
	"github.com/ariefcatur/go-instrument-store/internal/config"
	"github.com/ariefcatur/go-instrument-store/internal/gateway"
	kafkax "github.com/ariefcatur/go-instrument-store/internal/kafka"
	"github.com/ariefcatur/go-instrument-store/internal/obs"
	"github.com/ariefcatur/go-instrument-store/internal/orders"
	"github.com/ariefcatur/go-instrument-store/internal/payments"
	"github.com/ariefcatur/go-instrument-store/internal/postgres"
	"github.com/ariefcatur/go-instrument-store/internal/reconciler"
	"github.com/ariefcatur/go-instrument-store/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-reconciler"

	logger, err := obs.NewLogger(cfg.LogLevel, name)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	shutdownTracing := obs.SetupTracing()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis: status cache shared with the API, plus consumer dedup
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer for the events the engine emits
	var events orders.Publisher = orders.NopPublisher{}
	var prod *kafkax.Producer
	if cfg.PublishEvents {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
		prod.Start()
		events = &kafkax.EventPublisher{Producer: prod}
	}

	customers := &orders.CustomerRepo{DB: db}
	cat := catalog.NewService(&catalog.Repo{DB: db}, logger)
	mgr := orders.NewManager(&orders.Repo{DB: db}, customers, cat, &postgres.Transactor{DB: db}, events, name, logger)
	engine := payments.NewEngine(payments.EngineDeps{
		Payments:  &payments.Repo{DB: db},
		Orders:    mgr,
		Catalog:   cat,
		Customers: customers,
		Gateway: gateway.NewClient(gateway.Options{
			BaseURL:         cfg.Gateway.BaseURL,
			AccessToken:     cfg.Gateway.AccessToken,
			Timeout:         cfg.Gateway.Timeout,
			BreakerFailures: cfg.Gateway.BreakerFailures,
			BreakerReset:    cfg.Gateway.BreakerReset,
		}, logger),
		Cache:  redisx.NewStatusCache(rdb, cfg.StatusCacheTTL, logger),
		Events: events,
	}, payments.Checkout{}, cfg.StatusHotWindow, name, logger)

	h := &reconciler.Handler{Engine: engine, Redis: rdb, Name: "reconciler", Log: logger}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup, orders.TopicPaymentNotification, cfg.NotifyWorkers, logger)

	go func() {
		logger.Info("reconciler consumer started",
			zap.String("group", cfg.ReconcilerGroup),
			zap.String("topic", orders.TopicPaymentNotification),
			zap.Int("workers", cfg.NotifyWorkers))
		if err := cons.Start(ctx, h.HandleNotification); err != nil {
			logger.Error("consumer exit", zap.Error(err))
		}
		cancel()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	time.Sleep(500 * time.Millisecond)
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = shutdownTracing(ctx2)
}
