// Package app wires configuration into fetchers, sinks and the outbox relay
// shared by the command line scraper and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/category-scraper/internal/api"
	"github.com/maltedev/category-scraper/internal/browser"
	"github.com/maltedev/category-scraper/internal/config"
	"github.com/maltedev/category-scraper/internal/database"
	"github.com/maltedev/category-scraper/internal/fetcher"
	"github.com/maltedev/category-scraper/internal/pipeline"
	"github.com/maltedev/category-scraper/internal/ratelimit"
	"github.com/maltedev/category-scraper/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	pendingWarnThreshold   = 1000
	deadLetterErrThreshold = 100
	relayPollInterval      = 5 * time.Second
	relayBatchSize         = 100
	formatPostgres         = "postgres"
)

type outboxCounter interface {
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

type App struct {
	Config *config.Config
	Sink   storage.Sink
	DB     *database.DB
	Redis  *redis.Client
	Relay  *database.Relay

	outbox outboxCounter
	logger *slog.Logger
}

// New connects the configured outputs. Postgres is only dialed when the
// postgres output format is enabled; Redis only when an address is set too.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	var sinks storage.Multi
	if files := fileFormats(cfg.Output.Formats); len(files) > 0 {
		sinks = append(sinks, storage.NewFileSink(storage.FileOptions{
			Dir:         cfg.Output.Dir,
			Basename:    cfg.Output.Basename,
			Formats:     files,
			SourceLabel: cfg.Output.SourceLabel,
		}, logger))
	}

	if cfg.Output.HasFormat(formatPostgres) {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db
		a.outbox = database.NewOutboxRepository(db)

		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		stream := ""
		if cfg.Redis.Addr != "" {
			if err := a.connectRedis(ctx); err != nil {
				a.Close()
				return nil, err
			}
			stream = cfg.Redis.Stream
		}
		sinks = append(sinks, storage.NewPostgresSink(db, stream, logger))
	}

	switch len(sinks) {
	case 0:
	case 1:
		a.Sink = sinks[0]
	default:
		a.Sink = sinks
	}

	return a, nil
}

func (a *App) connectRedis(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	a.Redis = client
	a.Relay = database.NewRelay(database.NewOutboxRepository(a.DB), client, a.logger, database.RelayConfig{
		PollInterval: relayPollInterval,
		BatchSize:    relayBatchSize,
	})
	return nil
}

func fileFormats(formats []string) []string {
	var out []string
	for _, f := range formats {
		if f == storage.FormatCSV || f == storage.FormatJSON {
			out = append(out, f)
		}
	}
	return out
}

// NewFetcher returns a fetcher with its own session for the configured mode.
func (a *App) NewFetcher() (fetcher.Fetcher, error) {
	cfg := a.Config
	switch cfg.Scraper.FetchMode {
	case "http":
		opts := fetcher.DefaultHTTPOptions()
		opts.UserAgent = cfg.Scraper.UserAgent
		opts.Timeout = cfg.Scraper.RequestTimeout
		opts.TLSFingerprint = cfg.Scraper.TLSFingerprint
		opts.BlockedMultiplier = cfg.Scraper.BlockedMultiplier
		opts.Headers["Accept-Language"] = cfg.Browser.AcceptLanguage
		return fetcher.NewHTTPFetcher(opts, a.logger), nil
	case "browser":
		opts := &browser.Options{
			Headless:       cfg.Browser.Headless,
			Timeout:        cfg.Browser.Timeout,
			SettleDelay:    cfg.Browser.SettleDelay,
			UserAgent:      cfg.Scraper.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			AcceptLanguage: cfg.Browser.AcceptLanguage,
			TimezoneID:     cfg.Browser.TimezoneID,
			Locale:         cfg.Browser.Locale,
		}
		if cfg.Browser.Engine == "chromedp" {
			return browser.NewChromedpFetcher(opts, cfg.Scraper.BlockedMultiplier, a.logger), nil
		}
		return browser.NewPlaywrightFetcher(opts, cfg.Scraper.BlockedMultiplier, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", cfg.Scraper.FetchMode)
	}
}

func (a *App) NewPipeline() (*pipeline.Pipeline, error) {
	f, err := a.NewFetcher()
	if err != nil {
		return nil, err
	}
	return pipeline.NewFromConfig(a.Config, f, a.Sink, a.logger)
}

// Scrape runs the target and its alternatives with a fresh pipeline.
func (a *App) Scrape(ctx context.Context, req api.ScrapeRequest) ([]*pipeline.Outcome, error) {
	p, err := a.NewPipeline()
	if err != nil {
		return nil, err
	}
	if req.MaxProducts > 0 {
		p = p.WithMaxProducts(req.MaxProducts)
	}

	limiter := ratelimit.NewAdaptiveRateLimiter(a.Config.Scraper.AlternativeMin, a.Config.Scraper.AlternativeMax)
	return p.RunWithAlternatives(ctx, limiter, req.URL, req.Alternatives...)
}

// Defaults is the request used when a caller supplies none.
func (a *App) Defaults() api.ScrapeRequest {
	return api.ScrapeRequest{
		URL:          a.Config.Scraper.TargetURL,
		Alternatives: a.Config.Scraper.AlternativeURLs,
		MaxProducts:  a.Config.Scraper.MaxProducts,
	}
}

// FlushOutbox publishes pending run events once. It is a no-op without Redis.
func (a *App) FlushOutbox(ctx context.Context) (int, error) {
	if a.Relay == nil {
		return 0, nil
	}
	return a.Relay.ProcessOnce(ctx)
}

// Health reports outbox backlog when postgres is in use.
func (a *App) Health(ctx context.Context) (map[string]interface{}, bool) {
	details := map[string]interface{}{
		"fetch_mode": a.Config.Scraper.FetchMode,
	}
	if a.outbox == nil {
		return details, true
	}

	pending, err := a.outbox.CountByStatus(ctx, database.OutboxStatusPending, database.OutboxStatusFailed)
	if err != nil {
		details["message"] = err.Error()
		return details, false
	}
	deadLetter, err := a.outbox.CountByStatus(ctx, database.OutboxStatusDeadLetter)
	if err != nil {
		details["message"] = err.Error()
		return details, false
	}

	details["outbox"] = map[string]interface{}{
		"pending":     pending,
		"dead_letter": deadLetter,
	}
	if pending > pendingWarnThreshold {
		details["message"] = "High number of pending outbox events"
	}
	if deadLetter > deadLetterErrThreshold {
		details["message"] = "High number of dead letter events"
		return details, false
	}
	return details, true
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
