package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/catalog"
	"github.com/ariefcatur/go-instrument-store/internal/config"
	"github.com/ariefcatur/go-instrument-store/internal/gateway"
	"github.com/ariefcatur/go-instrument-store/internal/httpx"
	kafkax "github.com/ariefcatur/go-instrument-store/internal/kafka"
	"github.com/ariefcatur/go-instrument-store/internal/memstore"
	"github.com/ariefcatur/go-instrument-store/internal/obs"
	"github.com/ariefcatur/go-instrument-store/internal/orders"
	"github.com/ariefcatur/go-instrument-store/internal/payments"
	"github.com/ariefcatur/go-instrument-store/internal/postgres"
	"github.com/ariefcatur/go-instrument-store/internal/redisx"
)

type stores struct {
	catalog   catalog.Store
	orders    orders.Store
	customers orders.CustomerDirectory
	payments  payments.Store
	tx        orders.Transactor
	close     func()
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := obs.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	shutdownTracing := obs.SetupTracing()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer st.close()

	// Status cache
	var cache payments.StatusCache
	switch cfg.CacheDriver {
	case "memory":
		cache = payments.NewMemoryCache(cfg.StatusCacheTTL, nil)
	default:
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		cache = redisx.NewStatusCache(rdb, cfg.StatusCacheTTL, logger)
	}

	// Gateway
	var gw payments.Gateway
	switch cfg.Gateway.Driver {
	case "fake":
		logger.Warn("using in-memory payment gateway")
		gw = gateway.NewFake()
	default:
		gw = gateway.NewClient(gateway.Options{
			BaseURL:         cfg.Gateway.BaseURL,
			AccessToken:     cfg.Gateway.AccessToken,
			Timeout:         cfg.Gateway.Timeout,
			BreakerFailures: cfg.Gateway.BreakerFailures,
			BreakerReset:    cfg.Gateway.BreakerReset,
		}, logger)
	}

	// Kafka producer
	var (
		prod   *kafkax.Producer
		events orders.Publisher = orders.NopPublisher{}
	)
	if cfg.PublishEvents || cfg.NotifyDispatch == "kafka" {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
		prod.Start()
	}
	if cfg.PublishEvents {
		events = &kafkax.EventPublisher{Producer: prod}
	}

	cat := catalog.NewService(st.catalog, logger)
	mgr := orders.NewManager(st.orders, st.customers, cat, st.tx, events, cfg.ServiceName, logger)
	engine := payments.NewEngine(payments.EngineDeps{
		Payments:  st.payments,
		Orders:    mgr,
		Catalog:   cat,
		Customers: st.customers,
		Gateway:   gw,
		Cache:     cache,
		Events:    events,
	}, payments.Checkout{
		SuccessURL:          cfg.Checkout.SuccessURL,
		FailureURL:          cfg.Checkout.FailureURL,
		PendingURL:          cfg.Checkout.PendingURL,
		NotificationURL:     cfg.Checkout.NotificationURL,
		Currency:            cfg.Checkout.Currency,
		StatementDescriptor: cfg.Checkout.StatementDescriptor,
		Sandbox:             cfg.Gateway.Sandbox,
	}, cfg.StatusHotWindow, cfg.ServiceName, logger)

	// Webhook sink: in-process workers, or the reconciler process through Kafka
	var (
		sink       payments.NotificationSink
		dispatcher *payments.Dispatcher
	)
	if cfg.NotifyDispatch == "kafka" {
		sink = &kafkax.NotificationPublisher{Events: &kafkax.EventPublisher{Producer: prod}, Service: cfg.ServiceName}
	} else {
		dispatcher = payments.NewDispatcher(engine, cfg.NotifyWorkers, cfg.NotifyQueueSize, logger)
		dispatcher.Start()
		sink = dispatcher
	}

	router := httpx.NewRouter(logger)
	(&httpx.CatalogHandler{Catalog: cat, Log: logger}).Register(router)
	(&httpx.OrdersHandler{Orders: mgr, Log: logger}).Register(router)
	(&httpx.PaymentsHandler{Payments: engine, Sink: sink, Log: logger}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("http listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.StoreDriver),
			zap.String("cache", cfg.CacheDriver),
			zap.String("gateway", cfg.Gateway.Driver),
			zap.String("dispatch", cfg.NotifyDispatch))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if dispatcher != nil {
		if err := dispatcher.Close(ctx2); err != nil {
			logger.Warn("notifications still queued at shutdown", zap.Error(err))
		}
	}
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
	_ = shutdownTracing(ctx2)
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (stores, error) {
	if cfg.StoreDriver == "memory" {
		db := memstore.New()
		seedDemo(db)
		logger.Warn("using in-memory store with demo data")
		return stores{
			catalog:   db.Catalog(),
			orders:    db.Orders(),
			customers: db.Customers(),
			payments:  db.Payments(),
			tx:        db,
			close:     func() {},
		}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return stores{}, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return stores{}, err
	}
	return stores{
		catalog:   &catalog.Repo{DB: pool},
		orders:    &orders.Repo{DB: pool},
		customers: &orders.CustomerRepo{DB: pool},
		payments:  &payments.Repo{DB: pool},
		tx:        &postgres.Transactor{DB: pool},
		close:     pool.Close,
	}, nil
}
