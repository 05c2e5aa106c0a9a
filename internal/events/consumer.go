// Package events consumes scrape requests from a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/category-scraper/internal/api"
	"github.com/redis/go-redis/v9"
)

const (
	EventScrapeRequested = "SCRAPE_REQUESTED"
	DefaultRequestStream = "stream:category_scrape_requests"
	DefaultGroup         = "category-scraper-group"
)

var ErrInvalidMessage = errors.New("invalid scrape request message")

// StreamClient is the subset of the Redis client the consumer needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Handler runs one requested scrape. A returned error leaves the message
// unacknowledged in the group's pending list.
type Handler func(ctx context.Context, req api.ScrapeRequest) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Name     string
	Block    time.Duration
	Count    int64
	Defaults api.ScrapeRequest
}

type Consumer struct {
	client StreamClient
	handle Handler
	cfg    ConsumerConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewConsumer(client StreamClient, handle Handler, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = DefaultRequestStream
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count == 0 {
		cfg.Count = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		client: client,
		handle: handle,
		cfg:    cfg,
		logger: logger.With("component", "request_consumer", "stream", cfg.Stream, "group", cfg.Group),
		sleep:  sleepCtx,
	}
}

// Run reads until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.logger.Info("starting consumer", "name", c.cfg.Name)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := c.ReadOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			if err := c.sleep(ctx, time.Second); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// ReadOnce blocks for one batch and returns the number of acknowledged
// messages. A block timeout is not an error. Invalid messages are acknowledged
// without running; handler failures stay pending for redelivery.
func (c *Consumer) ReadOnce(ctx context.Context) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	acked := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if err := c.process(ctx, msg); err != nil {
				// A message that cannot be decoded will never succeed, so it is
				// dropped from the pending list instead of being redelivered.
				if !errors.Is(err, ErrInvalidMessage) {
					c.logger.Error("failed to process message", "id", msg.ID, "error", err)
					continue
				}
				c.logger.Warn("dropping invalid message", "id", msg.ID, "error", err)
			}
			if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
				continue
			}
			acked++
		}
	}
	return acked, nil
}

func (c *Consumer) process(ctx context.Context, msg redis.XMessage) error {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != EventScrapeRequested {
		c.logger.Debug("skipping event", "id", msg.ID, "event_type", eventType)
		return nil
	}

	req, err := c.decode(msg)
	if err != nil {
		return err
	}

	c.logger.Info("processing scrape request", "id", msg.ID, "url", req.URL, "alternatives", len(req.Alternatives))
	return c.handle(ctx, req)
}

func (c *Consumer) decode(msg redis.XMessage) (api.ScrapeRequest, error) {
	req := c.cfg.Defaults

	raw, ok := msg.Values["payload"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return req, nil
	}

	var body api.ScrapeRequest
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if body.MaxProducts < 0 {
		return req, fmt.Errorf("%w: max_products cannot be negative", ErrInvalidMessage)
	}

	if body.URL != "" {
		req.URL = body.URL
		req.Alternatives = body.Alternatives
	}
	if body.MaxProducts > 0 {
		req.MaxProducts = body.MaxProducts
	}
	return req, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
