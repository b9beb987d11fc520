// cmd/worker/main.go
package main

import (
	"encoding/json"

	"github.com/streadway/amqp"

	"github.com/nthuku/mailpacer-backend/internal/config"
	"github.com/nthuku/mailpacer-backend/internal/db"
	"github.com/nthuku/mailpacer-backend/internal/logger"
	"github.com/nthuku/mailpacer-backend/internal/repository"
	"github.com/nthuku/mailpacer-backend/internal/scheduler"
	"github.com/nthuku/mailpacer-backend/internal/service"
	"github.com/nthuku/mailpacer-backend/internal/template"
	"github.com/nthuku/mailpacer-backend/internal/transport"
)

const maxDeliveryRetries = 3

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.LoggerConfig)

	conn, err := db.Connect(cfg.DatabaseConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	defer conn.Close()

	amqpConn, err := amqp.Dial(cfg.AMQPConfig.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to RabbitMQ")
	}
	defer amqpConn.Close()

	ch, err := amqpConn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("open AMQP channel")
	}
	defer ch.Close()

	ticks, err := scheduler.NewAMQPScheduler(ch, cfg.AMQPConfig.TickQueue, cfg.AMQPConfig.WaitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("declare tick queues")
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	itemRepo := &repository.RecipientItemRepository{DB: conn}
	runRepo := &repository.SendRunRepository{DB: conn}
	eventRepo := &repository.SendEventRepository{DB: conn}
	settingsRepo := &repository.SettingsRepository{DB: conn}

	lifecycle := &service.CampaignService{
		CampaignRepo: campaignRepo,
		ItemRepo:     itemRepo,
		RunRepo:      runRepo,
		EventRepo:    eventRepo,
		SettingsRepo: settingsRepo,
		Scheduler:    ticks,
		Renderer:     template.PlaceholderRenderer{},
		Log:          log,
	}

	tickService := &service.TickService{
		CampaignRepo: campaignRepo,
		ItemRepo:     itemRepo,
		RunRepo:      runRepo,
		EventRepo:    eventRepo,
		SettingsRepo: settingsRepo,
		Transport:    &transport.MockTransport{FailRate: 0.1, Log: log},
		Scheduler:    ticks,
		Lifecycle:    lifecycle,
		Log:          log,
	}

	msgs, err := ch.Consume(
		cfg.AMQPConfig.TickQueue,
		"",    // consumer tag
		false, // autoAck off for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("register consumer")
	}

	log.Info().Str("queue", cfg.AMQPConfig.TickQueue).Msg("worker running, waiting for ticks")

	for d := range msgs {
		var msg scheduler.TickMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			log.Warn().Err(err).Msg("invalid tick message, dropping")
			d.Ack(false)
			continue
		}

		outcome, err := tickService.ProcessTick(msg.CampaignID, msg.SendRunID)
		if err != nil {
			log.Warn().Err(err).Int("campaign_id", msg.CampaignID).Int("run_id", msg.SendRunID).
				Msg("tick failed")
			if deliveryRetries(d) < maxDeliveryRetries {
				d.Nack(false, true) // requeue
				continue
			}
			// Retries exhausted; the next scheduled tick will pick the
			// work back up.
		} else {
			log.Info().Int("campaign_id", msg.CampaignID).Int("run_id", msg.SendRunID).
				Str("outcome", string(outcome)).Msg("tick processed")
		}

		d.Ack(false)
	}
}

// deliveryRetries reads the broker redelivery count; headers come back as
// different integer widths depending on the broker.
func deliveryRetries(d amqp.Delivery) int {
	v, ok := d.Headers["x-retry-count"]
	if !ok {
		if d.Redelivered {
			return 1
		}
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	}
	return 0
}
