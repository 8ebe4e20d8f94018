package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/order-fulfillment-saga/internal/config"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/httpx"
	"github.com/ariefcatur/order-fulfillment-saga/internal/inventoryengine"
	kafkax "github.com/ariefcatur/order-fulfillment-saga/internal/kafka"
	loggerx "github.com/ariefcatur/order-fulfillment-saga/internal/logger"
	"github.com/ariefcatur/order-fulfillment-saga/internal/payment"
	"github.com/ariefcatur/order-fulfillment-saga/internal/postgres"
	"github.com/ariefcatur/order-fulfillment-saga/internal/redisx"
	"github.com/ariefcatur/order-fulfillment-saga/internal/saga"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
	"github.com/ariefcatur/order-fulfillment-saga/internal/webhook"
)

// cmd/api serves the customer- and provider-facing HTTP surface: order
// creation/read, inventory read, the payment webhook, and admin
// cancellation. It publishes to domain.TopicSagaTrigger rather than running
// the saga in-process, the same decoupling the teacher's cmd/api ->
// order.created -> cmd/inventory split establishes; cmd/saga-worker is the
// consumer on the other end.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := loggerx.New(cfg.ServiceName + "-api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Bootstrap(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("schema bootstrap")
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	triggerProducer := kafkax.NewProducer(cfg.KafkaBrokers, domain.TopicSagaTrigger, 1024)
	triggerProducer.Start(ctx)
	eventsProducer := kafkax.NewProducer(cfg.KafkaBrokers, domain.TopicOrderEvents, 1024)
	eventsProducer.Start(ctx)

	orders := &store.OrderStore{DB: db}
	products := &store.ProductStore{DB: db}
	inventoryStore := &store.InventoryStore{DB: db}
	sessions := &store.SessionStore{DB: db}
	inventory := inventoryengine.New(inventoryStore)

	secrets := payment.NewSecretStore(payment.EnvSecretFetcher{Lookup: os.LookupEnv}, cfg.PaymentWebhookSecretID, cfg.Environment)
	paymentClient, err := payment.NewHTTPClient(cfg.PaymentProviderBaseURL, os.Getenv("PAYMENT_PROVIDER_API_KEY"), secrets, log)
	if err != nil {
		log.Fatal().Err(err).Msg("construct payment client")
	}

	events := &saga.KafkaEventPublisher{Producer: eventsProducer, ServiceName: cfg.ServiceName}
	trigger := &saga.KafkaEventPublisher{Producer: triggerProducer, ServiceName: cfg.ServiceName}

	comp := &saga.CompensationHandler{
		Orders:    orders,
		Inventory: inventory,
		Payment:   paymentClient,
		Events:    events,
		Log:       log,
	}

	ingress := &webhook.Ingress{
		Orders:  orders,
		Payment: paymentClient,
		Trigger: trigger,
		Log:     log,
	}

	handlers := httpx.Handlers{
		Orders: &httpx.OrdersHandler{
			Orders:    orders,
			Products:  products,
			Inventory: inventory,
			Payment:   paymentClient,
			Redis:     rdb,
			Log:       log,
		},
		Inventory: &httpx.InventoryHandler{
			Products:  products,
			Inventory: inventoryStore,
		},
		Webhook: &httpx.WebhookHandler{
			Ingress: ingress,
			Log:     log,
		},
		Admin: &httpx.AdminHandler{
			Sessions:   sessions,
			Compensate: comp,
			Log:        log,
		},
	}
	router := httpx.NewRouter(handlers)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	cancel()
	triggerProducer.Close()
	eventsProducer.Close()
	triggerProducer.WaitClosed()
	eventsProducer.WaitClosed()
}
