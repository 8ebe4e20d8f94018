package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/order-fulfillment-saga/internal/config"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/idempotency"
	"github.com/ariefcatur/order-fulfillment-saga/internal/inventoryengine"
	kafkax "github.com/ariefcatur/order-fulfillment-saga/internal/kafka"
	loggerx "github.com/ariefcatur/order-fulfillment-saga/internal/logger"
	"github.com/ariefcatur/order-fulfillment-saga/internal/notify"
	"github.com/ariefcatur/order-fulfillment-saga/internal/payment"
	"github.com/ariefcatur/order-fulfillment-saga/internal/postgres"
	"github.com/ariefcatur/order-fulfillment-saga/internal/saga"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
)

// cmd/saga-worker is the consumer half of the teacher's producer/consumer
// split (cmd/api publishes domain.TopicSagaTrigger, this process consumes
// it), playing the role the teacher's cmd/inventory plays for
// order.created: a kafkax.Consumer worker pool invoking one domain
// operation per message, here saga.Orchestrator.Run instead of
// inventory.Service.HandleOrderCreated.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := loggerx.New(cfg.ServiceName + "-saga-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	orders := &store.OrderStore{DB: db}
	inventoryStore := &store.InventoryStore{DB: db}
	idemStore := &store.IdempotencyStore{DB: db}
	inventory := inventoryengine.New(inventoryStore)
	idem := idempotency.New(idemStore)

	eventsProducer := kafkax.NewProducer(cfg.KafkaBrokers, domain.TopicOrderEvents, 1024)
	eventsProducer.Start(ctx)
	events := &saga.KafkaEventPublisher{Producer: eventsProducer, ServiceName: cfg.ServiceName}

	secrets := payment.NewSecretStore(payment.EnvSecretFetcher{Lookup: os.LookupEnv}, cfg.PaymentWebhookSecretID, cfg.Environment)
	paymentClient, err := payment.NewHTTPClient(cfg.PaymentProviderBaseURL, os.Getenv("PAYMENT_PROVIDER_API_KEY"), secrets, log)
	if err != nil {
		log.Fatal().Err(err).Msg("construct payment client")
	}
	notifier := notify.LoggingAdapter{Log: log, SenderEmail: cfg.NotificationSenderAddress}

	comp := &saga.CompensationHandler{
		Orders:    orders,
		Inventory: inventory,
		Payment:   paymentClient,
		Events:    events,
		Log:       log,
	}
	orchestrator := saga.New(orders, inventory, idem, paymentClient, notifier, events, comp, domain.SystemClock{}, log)

	group := getenv("SAGA_WORKER_GROUP", "saga-worker")
	workers := mustAtoi(os.Getenv("SAGA_WORKER_COUNT"), 8)
	consumer := kafkax.NewConsumer(cfg.KafkaBrokers, group, domain.TopicSagaTrigger, workers)

	handle := func(ctx context.Context, m kafka.Message) error {
		var env domain.Envelope
		if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
			log.Error().Err(err).Msg("discarding malformed saga.trigger message")
			return nil
		}
		payload, err := kafkax.UnwrapPayload[domain.SagaTriggerPayload](env.Payload)
		if err != nil {
			log.Error().Err(err).Msg("discarding malformed saga trigger payload")
			return nil
		}
		return orchestrator.Run(ctx, payload.OrderID)
	}

	go func() {
		log.Info().Str("group", group).Str("topic", domain.TopicSagaTrigger).Int("workers", workers).Msg("saga-worker consumer started")
		if err := consumer.Start(ctx, handle); err != nil {
			log.Error().Err(err).Msg("consumer exited")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
	cancel()
	time.Sleep(500 * time.Millisecond)
	eventsProducer.Close()
	eventsProducer.WaitClosed()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
