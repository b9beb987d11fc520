// cmd/server/main.go
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/streadway/amqp"

	"github.com/nthuku/mailpacer-backend/internal/config"
	"github.com/nthuku/mailpacer-backend/internal/db"
	"github.com/nthuku/mailpacer-backend/internal/handler"
	"github.com/nthuku/mailpacer-backend/internal/logger"
	"github.com/nthuku/mailpacer-backend/internal/repository"
	"github.com/nthuku/mailpacer-backend/internal/scheduler"
	"github.com/nthuku/mailpacer-backend/internal/service"
	"github.com/nthuku/mailpacer-backend/internal/template"
)

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

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		ItemRepo:     itemRepo,
		RunRepo:      runRepo,
		EventRepo:    eventRepo,
		SettingsRepo: settingsRepo,
		Scheduler:    ticks,
		Renderer:     template.PlaceholderRenderer{},
		Log:          log,
	}

	campaignHandler := handler.NewCampaignHandler(campaignService)

	r := chi.NewRouter()

	r.Post("/campaigns", campaignHandler.CreateCampaign)
	r.Get("/campaigns", campaignHandler.ListCampaigns)
	r.Get("/campaigns/{id}", campaignHandler.GetCampaign)
	r.Post("/campaigns/{id}/recipients", campaignHandler.MaterializeRecipients)
	r.Get("/campaigns/{id}/recipients", campaignHandler.ListRecipients)
	r.Post("/campaigns/{id}/preview", campaignHandler.PersonalizedPreview)
	r.Post("/campaigns/{id}/start", campaignHandler.StartCampaign)
	r.Post("/campaigns/{id}/pause", campaignHandler.PauseCampaign)
	r.Post("/campaigns/{id}/resume", campaignHandler.ResumeCampaign)
	r.Post("/campaigns/{id}/cancel", campaignHandler.CancelCampaign)
	r.Post("/recipients/{id}/exclude", campaignHandler.ExcludeRecipient)
	r.Post("/recipients/{id}/include", campaignHandler.IncludeRecipient)

	log.Info().Str("addr", cfg.HTTPConfig.Addr).Msg("server running")
	if err := http.ListenAndServe(cfg.HTTPConfig.Addr, r); err != nil {
		log.Fatal().Err(err).Msg("http server stopped")
	}
}
