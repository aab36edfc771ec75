// Package main starts the API server. Depending on configuration it either
// enqueues analysis work onto the Redis queue for cmd/worker, or runs the
// whole pipeline in-process against the memory store (single-binary dev mode).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/Jekudy/nutrition-bot/internal/api"
	"github.com/Jekudy/nutrition-bot/internal/config"
	"github.com/Jekudy/nutrition-bot/internal/database"
	"github.com/Jekudy/nutrition-bot/internal/ingest"
	"github.com/Jekudy/nutrition-bot/internal/ledger"
	"github.com/Jekudy/nutrition-bot/internal/nutrition"
	"github.com/Jekudy/nutrition-bot/internal/pipeline"
	"github.com/Jekudy/nutrition-bot/internal/processing"
	"github.com/Jekudy/nutrition-bot/internal/queue"
	"github.com/Jekudy/nutrition-bot/internal/report"
	"github.com/Jekudy/nutrition-bot/internal/repository"
	"github.com/Jekudy/nutrition-bot/internal/s3storage"
	"github.com/Jekudy/nutrition-bot/internal/storage"
	"github.com/Jekudy/nutrition-bot/internal/vision"
)

// persistence is everything the API-side components need from a store. Both
// the Postgres repository and the memory store satisfy it.
type persistence interface {
	ingest.RequestStore
	pipeline.RequestStore
	ledger.Store
	report.Store
	api.ProfileStore
}

// photoStorage is the upload+fetch surface shared by MinIO and the memory
// photo store.
type photoStorage interface {
	ingest.PhotoStore
	pipeline.PhotoFetcher
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store persistence
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		store = repository.NewLedgerRepository(pool)
	} else {
		log.Printf("DATABASE_URL not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var photos photoStorage
	if cfg.S3Endpoint != "" {
		s3, err := s3storage.New(cfg)
		if err != nil {
			log.Fatalf("init storage: %v", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			log.Fatalf("ensure bucket: %v", err)
		}
		photos = s3
	} else {
		log.Printf("S3 endpoint not set, keeping photos in memory")
		photos = storage.NewMemoryPhotoStore()
	}

	gateway := ingest.NewGateway(store, photos, cfg.MaxImageBytes, cfg.AllowedFormats)
	reports := report.NewGenerator(store)

	var dispatcher api.Dispatcher
	if cfg.RedisAddr != "" {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		dispatcher = queue.NewDispatcher(client)
	} else {
		log.Printf("Redis not set, running analysis in-process with %d workers", cfg.ProcessingPool)
		provider, err := vision.NewProvider(cfg)
		if err != nil {
			log.Fatalf("init provider: %v", err)
		}
		client := vision.NewClient(provider, vision.Options{
			MaxRetries:  cfg.MaxRetries,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			CallTimeout: cfg.AnalyzeTimeout,
			Rate:        cfg.ProviderRate,
			Burst:       cfg.ProviderBurst,
		})
		aggregator, err := ledger.NewAggregator(store, cfg.DefaultTimezone)
		if err != nil {
			log.Fatalf("init aggregator: %v", err)
		}
		pipe := pipeline.New(store, photos, client, aggregator, nutrition.Bounds{
			MaxMealCalories: cfg.MaxMealCalories,
			MaxMacroGrams:   cfg.MaxMacroGrams,
		})
		pool := processing.NewPool(pipe, store, cfg.ProcessingPool)
		pool.Start(ctx)
		dispatcher = pool
	}

	srv := api.New(cfg, gateway, dispatcher, store, reports, store)
	if err := srv.Run(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
