package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/Jekudy/nutrition-bot/internal/config"
	"github.com/Jekudy/nutrition-bot/internal/database"
	"github.com/Jekudy/nutrition-bot/internal/ledger"
	"github.com/Jekudy/nutrition-bot/internal/nutrition"
	"github.com/Jekudy/nutrition-bot/internal/pipeline"
	"github.com/Jekudy/nutrition-bot/internal/repository"
	"github.com/Jekudy/nutrition-bot/internal/s3storage"
	"github.com/Jekudy/nutrition-bot/internal/vision"
	"github.com/Jekudy/nutrition-bot/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL == "" || cfg.RedisAddr == "" || cfg.S3Endpoint == "" {
		log.Fatalf("worker requires DATABASE_URL, NUTRIBOT_REDIS_ADDR, and NUTRIBOT_S3_ENDPOINT")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	repo := repository.NewLedgerRepository(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalf("ensure bucket: %v", err)
	}

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
	aggregator, err := ledger.NewAggregator(repo, cfg.DefaultTimezone)
	if err != nil {
		log.Fatalf("init aggregator: %v", err)
	}
	pipe := pipeline.New(repo, store, client, aggregator, nutrition.Bounds{
		MaxMealCalories: cfg.MaxMealCalories,
		MaxMacroGrams:   cfg.MaxMacroGrams,
	})

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.ProcessingPool,
	})
	processor := worker.NewProcessor(pipe)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}
