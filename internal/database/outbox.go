package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Outbox event lifecycle. Failed events are retried with backoff until
// MaxRetryCount, then parked as dead letters.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	MaxRetryCount = 5

	AggregateScrapeRun     = "scrape_run"
	EventScrapeRunComplete = "SCRAPE_RUN_COMPLETED"
	DefaultStream          = "stream:category_scrapes"

	maxRetryBackoff = 5 * time.Minute
)

var ErrInvalidEvent = errors.New("invalid outbox event")

// OutboxEvent is one row of outbox_event. It is written in the same
// transaction as the records it describes.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

func (e *OutboxEvent) Validate() error {
	switch {
	case e.AggregateType == "":
		return fmt.Errorf("%w: aggregate type is required", ErrInvalidEvent)
	case e.AggregateID == "":
		return fmt.Errorf("%w: aggregate id is required", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	case len(e.Payload) == 0:
		return fmt.Errorf("%w: payload is required", ErrInvalidEvent)
	}
	return nil
}

// RunCompletedPayload is published once per persisted run.
type RunCompletedPayload struct {
	RunID       string    `json:"run_id"`
	SourceURL   string    `json:"source_url"`
	RecordCount int       `json:"record_count"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewRunCompletedEvent builds the outbox entry announcing a persisted run.
func NewRunCompletedEvent(run Run, recordCount int, stream string) (*OutboxEvent, error) {
	payload, err := json.Marshal(RunCompletedPayload{
		RunID:       run.ID.String(),
		SourceURL:   run.SourceURL,
		RecordCount: recordCount,
		CompletedAt: run.CompletedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return &OutboxEvent{
		AggregateType: AggregateScrapeRun,
		AggregateID:   run.ID.String(),
		EventType:     EventScrapeRunComplete,
		Payload:       payload,
		TargetStream:  stream,
	}, nil
}

const outboxColumns = `id, aggregate_type, aggregate_id, event_type,
	payload, target_stream, status, retry_count,
	error_message, created_at, processed_at, next_retry_at`

type OutboxRepository struct {
	db  *DB
	now func() time.Time
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: time.Now}
}

// InsertWithTx fills defaults on event and stages it in tx. The event
// becomes visible to the relay only when tx commits.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx TxWriter, event *OutboxEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultStream
	}
	event.CreatedAt = r.clock()
	if event.NextRetryAt == nil {
		due := event.CreatedAt
		event.NextRetryAt = &due
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type, payload,
			target_stream, status, retry_count, created_at, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType, event.Payload,
		event.TargetStream, event.Status, event.RetryCount, event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPending returns up to limit events that are due, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_event
		WHERE status = ANY($1) AND next_retry_at <= $2
		ORDER BY created_at
		LIMIT $3`,
		[]string{OutboxStatusPending, OutboxStatusFailed}, r.clock(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}

	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE outbox_event SET status = $2, processed_at = $3, error_message = NULL WHERE id = $1`,
		id, OutboxStatusProcessed, r.clock())
	if err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found", id)
	}
	return nil
}

// MarkFailed bumps the retry count under a row lock and schedules the next
// attempt, or dead-letters the event once MaxRetryCount is reached.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var retries int
		err := tx.QueryRow(ctx, `SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE`, id).Scan(&retries)
		if err != nil {
			return fmt.Errorf("failed to lock outbox event %s: %w", id, err)
		}

		retries++
		_, err = tx.Exec(ctx, `
			UPDATE outbox_event
			SET status = $2, retry_count = $3, error_message = $4, next_retry_at = $5
			WHERE id = $1`,
			id, statusAfterFailure(retries), retries, cause.Error(), r.clock().Add(retryBackoff(retries)))
		if err != nil {
			return fmt.Errorf("failed to record outbox failure for %s: %w", id, err)
		}
		return nil
	})
}

func statusAfterFailure(retries int) string {
	if retries >= MaxRetryCount {
		return OutboxStatusDeadLetter
	}
	return OutboxStatusFailed
}

// retryBackoff doubles per retry: 2s, 4s, 8s and so on up to maxRetryBackoff.
func retryBackoff(retries int) time.Duration {
	if retries >= 9 {
		return maxRetryBackoff
	}
	d := time.Duration(1<<retries) * time.Second
	if d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

// CountByStatus returns the number of outbox events in any of statuses.
func (r *OutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE status = ANY($1)`, statuses).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

func (r *OutboxRepository) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}
