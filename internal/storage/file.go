package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/maltedev/category-scraper/internal/models"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Document is the JSON file layout.
type Document struct {
	ScrapeDate    string                 `json:"scrape_date"`
	TotalProducts int                    `json:"total_products"`
	Source        string                 `json:"source"`
	SourceURL     string                 `json:"source_url,omitempty"`
	RunID         string                 `json:"run_id,omitempty"`
	Products      []models.ProductRecord `json:"products"`
}

type FileOptions struct {
	Dir         string
	Basename    string
	Formats     []string
	SourceLabel string
}

// FileSink writes <dir>/<basename>.csv and .json.
type FileSink struct {
	opts   FileOptions
	logger *slog.Logger
}

func NewFileSink(opts FileOptions, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSink{opts: opts, logger: logger.With("component", "file_sink")}
}

func (s *FileSink) Name() string { return "file" }

// Path returns the output location for format.
func (s *FileSink) Path(format string) string {
	return filepath.Join(s.opts.Dir, s.opts.Basename+"."+format)
}

func (s *FileSink) Persist(ctx context.Context, batch Batch) error {
	if len(batch.Records) == 0 {
		return ErrNoRecords
	}

	for _, format := range s.opts.Formats {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			data []byte
			err  error
		)
		switch format {
		case FormatCSV:
			data, err = EncodeCSV(batch.Records)
		case FormatJSON:
			data, err = EncodeJSON(batch, s.opts.SourceLabel)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", format, err)
		}

		path := s.Path(format)
		if err := WriteAtomic(path, data); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		s.logger.Info("saved products", "format", format, "path", path, "count", len(batch.Records))
	}

	return nil
}

// EncodeCSV renders records with a header row in field order.
func EncodeCSV(records []models.ProductRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(models.Fields))
	for i, f := range models.Fields {
		header[i] = string(f)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, rec := range records {
		if err := w.Write(rec.Row()); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func EncodeJSON(batch Batch, sourceLabel string) ([]byte, error) {
	doc := Document{
		ScrapeDate:    batch.ScrapedAt.UTC().Format(time.RFC3339),
		TotalProducts: len(batch.Records),
		Source:        sourceLabel,
		SourceURL:     batch.SourceURL,
		RunID:         batch.RunID,
		Products:      batch.Records,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
