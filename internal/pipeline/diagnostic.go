package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/maltedev/category-scraper/internal/parser"
	"github.com/maltedev/category-scraper/internal/storage"
)

// diagnostic is written next to the raw dump as <path>.stats.json.
type diagnostic struct {
	SourceURL string           `json:"source_url"`
	RunID     string           `json:"run_id"`
	Selectors []string         `json:"selectors_tried"`
	Stats     parser.PageStats `json:"stats"`
}

func statsPath(path string) string {
	return path + ".stats.json"
}

// writeDiagnostic replaces path with the verbatim body and its stats sidecar.
// Each file is renamed into place, so a reader sees the old dump or the new one.
func writeDiagnostic(path string, body []byte, d diagnostic) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal page stats: %w", err)
	}
	if err := storage.WriteAtomic(path, body); err != nil {
		return fmt.Errorf("failed to write diagnostic page: %w", err)
	}
	if err := storage.WriteAtomic(statsPath(path), data); err != nil {
		return fmt.Errorf("failed to write page stats: %w", err)
	}
	return nil
}
