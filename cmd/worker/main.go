// cmd/worker/main.go
package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/streadway/amqp"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/ledger"
	"github.com/unclebandit/campaign-dispatch/internal/provider"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/ratelimit"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cfg := config.Load()

	db.Init()

	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	messageRepo := &repository.MessageRepository{DB: db.DB}

	var store ratelimit.CounterStore
	redisStore, err := ratelimit.NewRedisStore(context.Background(), cfg.RedisAddr)
	if err != nil {
		log.Println("⚠️ Redis unreachable, using in-memory rate limit counters:", err)
		store = ratelimit.NewMemoryStore()
	} else {
		store = redisStore
	}
	limiter := ratelimit.NewLimiter(store, cfg.RateWindow, cfg.ProviderAccountID, cfg.RateLimitProvider, cfg.RateLimitTenant)

	conn, err := amqp.Dial(cfg.AMQPUrl)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ:", err)
	}
	defer conn.Close()

	consumer, err := queue.NewConsumer(conn, cfg.QueueMaxAttempts, cfg.BackoffBase, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatal("Failed to create consumer:", err)
	}

	worker := &service.BatchWorker{
		CampaignRepo: campaignRepo,
		MessageRepo:  messageRepo,
		Ledger:       ledger.New(db.DB),
		Limiter:      limiter,
		Provider:     provider.NewHTTPClient(cfg.ProviderBaseURL, cfg.ProviderAccountID),
		Projector:    &service.AggregateProjector{CampaignRepo: campaignRepo, MessageRepo: messageRepo},
		Renderer:     &service.OptOutRenderer{BaseURL: cfg.OptOutBaseURL},
	}

	log.Printf("Worker running with concurrency %d, waiting for batch jobs...\n", cfg.WorkerConcurrency)
	if err := consumer.Start(worker.Process, worker.Exhausted); err != nil {
		log.Fatal("Consumer stopped:", err)
	}
}
