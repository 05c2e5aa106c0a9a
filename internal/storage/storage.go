package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/maltedev/category-scraper/internal/models"
)

var ErrNoRecords = errors.New("no records to persist")

// Batch is one completed run handed to the sinks.
type Batch struct {
	RunID     string
	SourceURL string
	ScrapedAt time.Time
	Records   []models.ProductRecord
}

// Sink persists a batch. Persisting the same batch twice must leave the
// same stored result.
type Sink interface {
	Name() string
	Persist(ctx context.Context, batch Batch) error
}

// Multi fans a batch out to every sink and reports all failures.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Persist(ctx context.Context, batch Batch) error {
	if len(batch.Records) == 0 {
		return ErrNoRecords
	}

	var errs []error
	for _, s := range m {
		if err := s.Persist(ctx, batch); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// WriteAtomic replaces path with data so readers never observe a partial file.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temp file first for atomicity
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return err
	}
	return nil
}
