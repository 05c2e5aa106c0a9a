package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/category-scraper/internal/metrics"
	"github.com/redis/go-redis/v9"
)

const relaySource = "category-scraper"

// StreamPublisher is the part of the Redis client the relay writes with.
type StreamPublisher interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxStore is implemented by OutboxRepository.
type OutboxStore interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxLen caps each stream approximately. Zero keeps every entry.
	MaxLen int64
}

// Relay delivers committed outbox events to their Redis streams. Delivery
// is at least once: an event is marked processed only after XAdd succeeds.
type Relay struct {
	store  OutboxStore
	pub    StreamPublisher
	cfg    RelayConfig
	logger *slog.Logger
}

func NewRelay(store OutboxStore, pub StreamPublisher, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:  store,
		pub:    pub,
		cfg:    cfg,
		logger: logger.With("component", "relay"),
	}
}

// Start drains the outbox immediately and then on every poll tick until ctx
// is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.cfg.PollInterval, "batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to relay outbox events", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce relays one batch and returns the number of delivered events.
// A failed delivery is recorded on its event and the batch continues.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	pending, err := r.store.GetPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}

	delivered := 0
	for _, event := range pending {
		logger := r.logger.With("event_id", event.ID, "event_type", event.EventType, "stream", event.TargetStream)

		if err := r.deliver(ctx, event); err != nil {
			metrics.OutboxEvents.WithLabelValues("failed").Inc()
			logger.Warn("event delivery failed", "retry_count", event.RetryCount, "error", err)
			if markErr := r.store.MarkFailed(ctx, event.ID, err); markErr != nil {
				logger.Error("failed to record delivery failure", "error", markErr)
			}
			continue
		}

		if err := r.store.MarkProcessed(ctx, event.ID); err != nil {
			// The entry is already on the stream; it will be delivered again.
			logger.Error("failed to mark event processed", "error", err)
			continue
		}

		metrics.OutboxEvents.WithLabelValues("published").Inc()
		logger.Debug("event delivered", "aggregate_id", event.AggregateID)
		delivered++
	}

	if delivered > 0 {
		r.logger.Info("relayed outbox events", "delivered", delivered, "pending", len(pending))
	}
	return delivered, nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	args, err := StreamMessage(event, r.cfg.MaxLen)
	if err != nil {
		return err
	}
	if err := r.pub.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// StreamMessage flattens event into stream fields. The payload stays JSON
// encoded so consumers decode it once.
func StreamMessage(event *OutboxEvent, maxLen int64) (*redis.XAddArgs, error) {
	if !json.Valid(event.Payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidEvent)
	}

	return &redis.XAddArgs{
		Stream: event.TargetStream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: map[string]interface{}{
			"event_id":       event.ID.String(),
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"payload":        string(event.Payload),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
			"retry_count":    event.RetryCount,
			"source":         relaySource,
		},
	}, nil
}
