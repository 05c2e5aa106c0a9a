package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/maltedev/category-scraper/internal/models"
)

var ErrEmptyRun = errors.New("run has no records")

// TxWriter is the part of pgx.Tx the record repository needs.
type TxWriter interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Run identifies one persisted extraction.
type Run struct {
	ID          uuid.UUID
	SourceURL   string
	CompletedAt time.Time
}

var productColumns = []string{"source_url", "position", "run_id", "name", "size", "price", "url", "scraped_at"}

type RecordRepository struct{}

func NewRecordRepository() *RecordRepository {
	return &RecordRepository{}
}

// ReplaceWithTx swaps the stored listing of run.SourceURL for records, so
// persisting the same run twice leaves the same rows.
func (r *RecordRepository) ReplaceWithTx(ctx context.Context, tx TxWriter, run Run, records []models.ProductRecord) (int64, error) {
	if len(records) == 0 {
		return 0, ErrEmptyRun
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	if _, err := tx.Exec(ctx, `DELETE FROM category_product WHERE source_url = $1`, run.SourceURL); err != nil {
		return 0, fmt.Errorf("failed to clear previous records: %w", err)
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO scrape_run (id, source_url, record_count, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET record_count = EXCLUDED.record_count, completed_at = EXCLUDED.completed_at`,
		run.ID, run.SourceURL, len(records), run.CompletedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert scrape run: %w", err)
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = []any{run.SourceURL, i, run.ID, rec.Name, rec.Size, rec.Price, rec.URL, run.CompletedAt}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"category_product"}, productColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy records: %w", err)
	}

	return n, nil
}
