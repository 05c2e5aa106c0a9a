package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/maltedev/category-scraper/internal/database"
	"github.com/maltedev/category-scraper/internal/models"
)

// Transactor runs fn inside one database transaction.
type Transactor interface {
	WithWriter(ctx context.Context, fn func(database.TxWriter) error) error
}

type recordWriter interface {
	ReplaceWithTx(ctx context.Context, tx database.TxWriter, run database.Run, records []models.ProductRecord) (int64, error)
}

type eventWriter interface {
	InsertWithTx(ctx context.Context, tx database.TxWriter, event *database.OutboxEvent) error
}

// PostgresSink replaces a source's stored listing and, in the same
// transaction, queues a run-completed event for the relay.
type PostgresSink struct {
	db      Transactor
	records recordWriter
	outbox  eventWriter
	stream  string
	logger  *slog.Logger
}

// NewPostgresSink builds the sink. An empty stream disables the outbox event.
func NewPostgresSink(db *database.DB, stream string, logger *slog.Logger) *PostgresSink {
	return newPostgresSink(db, database.NewRecordRepository(), database.NewOutboxRepository(db), stream, logger)
}

func newPostgresSink(db Transactor, records recordWriter, outbox eventWriter, stream string, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSink{
		db:      db,
		records: records,
		outbox:  outbox,
		stream:  stream,
		logger:  logger.With("component", "postgres_sink"),
	}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Persist(ctx context.Context, batch Batch) error {
	if len(batch.Records) == 0 {
		return ErrNoRecords
	}

	runID, err := uuid.Parse(batch.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", batch.RunID, err)
	}
	run := database.Run{ID: runID, SourceURL: batch.SourceURL, CompletedAt: batch.ScrapedAt}

	var written int64
	err = s.db.WithWriter(ctx, func(tx database.TxWriter) error {
		n, err := s.records.ReplaceWithTx(ctx, tx, run, batch.Records)
		if err != nil {
			return err
		}
		written = n

		if s.stream == "" {
			return nil
		}
		event, err := database.NewRunCompletedEvent(run, len(batch.Records), s.stream)
		if err != nil {
			return err
		}
		return s.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to persist run %s: %w", batch.RunID, err)
	}

	s.logger.Info("saved products", "run_id", batch.RunID, "source_url", batch.SourceURL, "count", written)
	return nil
}
