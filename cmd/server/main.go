// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/streadway/amqp"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/ledger"
	"github.com/unclebandit/campaign-dispatch/internal/provider"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/ratelimit"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Load()

	// Init DB
	db.Init()

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	messageRepo := &repository.MessageRepository{DB: db.DB}
	contactRepo := &repository.ContactRepository{DB: db.DB}
	callbackRepo := &repository.CallbackRepository{DB: db.DB}

	creditLedger := ledger.New(db.DB)

	// Rate-limit counter store; falls back to the in-process store when
	// redis is down at boot (fail-open, same as at runtime).
	var store ratelimit.CounterStore
	redisStore, err := ratelimit.NewRedisStore(context.Background(), cfg.RedisAddr)
	if err != nil {
		log.Println("⚠️ Redis unreachable, using in-memory rate limit counters:", err)
		store = ratelimit.NewMemoryStore()
	} else {
		store = redisStore
	}
	limiter := ratelimit.NewLimiter(store, cfg.RateWindow, cfg.ProviderAccountID, cfg.RateLimitProvider, cfg.RateLimitTenant)

	// Connect to RabbitMQ
	conn, err := amqp.Dial(cfg.AMQPUrl)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ:", err)
	}
	defer conn.Close()

	publisher, err := queue.NewPublisher(conn)
	if err != nil {
		log.Fatal("Failed to create publisher:", err)
	}
	defer publisher.Close()

	providerClient := provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderAccountID)
	renderer := &service.OptOutRenderer{BaseURL: cfg.OptOutBaseURL}
	projector := &service.AggregateProjector{CampaignRepo: campaignRepo, MessageRepo: messageRepo}
	reconciler := service.NewReconciler(messageRepo, providerClient, projector)

	dispatchService := &service.DispatchService{
		DB:           db.DB,
		CampaignRepo: campaignRepo,
		MessageRepo:  messageRepo,
		Ledger:       creditLedger,
		Resolver:     &service.ContactResolver{Contacts: contactRepo},
		Entitlements: &service.AccountEntitlements{DB: db.DB},
		Publisher:    publisher,
		BatchSize:    cfg.BatchSize,
	}

	singleSend := &service.SingleSendService{
		DB:           db.DB,
		CampaignRepo: campaignRepo,
		MessageRepo:  messageRepo,
		ContactRepo:  contactRepo,
		Ledger:       creditLedger,
		Entitlements: &service.AccountEntitlements{DB: db.DB},
		Limiter:      limiter,
		Provider:     providerClient,
		Projector:    projector,
		Renderer:     renderer,
	}

	campaignController := &controller.CampaignController{
		CampaignRepo: campaignRepo,
		Dispatch:     dispatchService,
		SingleSend:   singleSend,
		Reconciler:   reconciler,
		Projector:    projector,
	}
	webhookController := &controller.WebhookController{
		Reconciler:   reconciler,
		CallbackRepo: callbackRepo,
	}
	walletController := &controller.WalletController{Ledger: creditLedger}

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaign)
	r.Post("/campaigns/{id}/dispatch", campaignController.DispatchCampaign)
	r.Post("/campaigns/{id}/pause", campaignController.PauseCampaign)
	r.Post("/campaigns/{id}/resume", campaignController.ResumeCampaign)
	r.Post("/campaigns/{id}/refresh-status", campaignController.RefreshStatus)

	// Single synchronous send
	r.Post("/messages/send", campaignController.SendSingleMessage)

	// Provider delivery callbacks
	r.Post("/webhooks/delivery", webhookController.DeliveryCallback)

	// Wallet
	r.Post("/wallets/{owner}/topup", walletController.TopUp)
	r.Get("/wallets/{owner}", walletController.GetWallet)

	log.Println("🚀 Server running on", cfg.HTTPAddr)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
