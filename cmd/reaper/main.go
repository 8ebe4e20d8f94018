package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/order-fulfillment-saga/internal/config"
	"github.com/ariefcatur/order-fulfillment-saga/internal/domain"
	"github.com/ariefcatur/order-fulfillment-saga/internal/inventoryengine"
	kafkax "github.com/ariefcatur/order-fulfillment-saga/internal/kafka"
	loggerx "github.com/ariefcatur/order-fulfillment-saga/internal/logger"
	"github.com/ariefcatur/order-fulfillment-saga/internal/notify"
	"github.com/ariefcatur/order-fulfillment-saga/internal/postgres"
	"github.com/ariefcatur/order-fulfillment-saga/internal/reaper"
	"github.com/ariefcatur/order-fulfillment-saga/internal/saga"
	"github.com/ariefcatur/order-fulfillment-saga/internal/store"
)

// cmd/reaper runs the abandoned-cart sweep as its own process (spec §4.6),
// independent of both cmd/api and cmd/saga-worker — it only ever touches
// orders the saga has not yet claimed, so it never competes with the
// orchestrator for the same row.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := loggerx.New(cfg.ServiceName + "-reaper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	orders := &store.OrderStore{DB: db}
	idemStore := &store.IdempotencyStore{DB: db}
	sessions := &store.SessionStore{DB: db}
	inventoryStore := &store.InventoryStore{DB: db}
	inventory := inventoryengine.New(inventoryStore)
	notifier := notify.LoggingAdapter{Log: log, SenderEmail: cfg.NotificationSenderAddress}

	eventsProducer := kafkax.NewProducer(cfg.KafkaBrokers, domain.TopicOrderEvents, 1024)
	eventsProducer.Start(ctx)
	events := &saga.KafkaEventPublisher{Producer: eventsProducer, ServiceName: cfg.ServiceName}

	r := &reaper.Reaper{
		Orders:    orders,
		Idem:      idemStore,
		Sessions:  sessions,
		Inventory: inventory,
		Notify:    notifier,
		Events:    events,
		Clock:     domain.SystemClock{},
		Cfg: reaper.Config{
			TimeoutMinutes:  cfg.AbandonedCartTimeoutMinutes,
			ReminderEnabled: cfg.ReminderEmailsEnabled,
			PollInterval:    cfg.ReaperInterval,
			Workers:         4,
		},
		Log: log,
	}
	r.Start(ctx)
	log.Info().Dur("interval", cfg.ReaperInterval).Int("timeout_minutes", cfg.AbandonedCartTimeoutMinutes).Msg("reaper started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
	r.Stop()
	cancel()
	eventsProducer.Close()
	eventsProducer.WaitClosed()
}
