package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/category-scraper/internal/api"
	"github.com/maltedev/category-scraper/internal/app"
	"github.com/maltedev/category-scraper/internal/config"
	"github.com/maltedev/category-scraper/internal/events"
	"github.com/maltedev/category-scraper/internal/pipeline"
	"github.com/maltedev/category-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Redis.Addr == "" {
		log.Fatalf("REDIS_ADDR is required")
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize outputs: %v", err)
	}
	defer a.Close()

	handle := func(ctx context.Context, req api.ScrapeRequest) error {
		outcomes, err := a.Scrape(ctx, req)
		if _, ferr := a.FlushOutbox(ctx); ferr != nil {
			logger.Warn("Failed to publish run events", "error", ferr)
		}
		if err != nil {
			return err
		}
		if best := pipeline.Best(outcomes); best != nil {
			logger.Info("Scrape finished", "run_id", best.RunID, "state", best.State, "records", len(best.Records()))
			return nil
		}
		return fmt.Errorf("no run for %s", req.URL)
	}

	consumer := events.NewConsumer(rdb, handle, logger, events.ConsumerConfig{
		Stream:   cfg.Redis.RequestStream,
		Group:    cfg.Redis.ConsumerGroup,
		Name:     cfg.Redis.ConsumerName,
		Defaults: a.Defaults(),
	})

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Consumer error: %v", err)
	}
}
