package pipeline

import (
	"time"

	"github.com/maltedev/category-scraper/internal/models"
	"github.com/maltedev/category-scraper/internal/parser"
)

// State is a Pipeline run phase.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateParsing    State = "parsing"
	StateSelecting  State = "selecting"
	StateExtracting State = "extracting"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateEmpty      State = "empty"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateEmpty
}

// Skip records one container dropped during extraction.
type Skip struct {
	Index  int             `json:"index"`
	Kind   parser.SkipKind `json:"kind"`
	Detail string          `json:"detail"`
}

// Outcome is the result of one run. Extraction is set for Done, Err for
// Failed and DiagnosticPath for Empty.
type Outcome struct {
	RunID          string                    `json:"run_id"`
	State          State                     `json:"state"`
	SourceURL      string                    `json:"source_url"`
	Attempts       int                       `json:"attempts,omitempty"`
	Extraction     *models.ExtractionOutcome `json:"extraction,omitempty"`
	Skips          []Skip                    `json:"skips,omitempty"`
	DiagnosticPath string                    `json:"diagnostic_path,omitempty"`
	Persisted      bool                      `json:"persisted"`
	Err            error                     `json:"-"`
	Duration       time.Duration             `json:"duration"`
}

// Records returns the extracted records, or nil when the run produced none.
func (o *Outcome) Records() []models.ProductRecord {
	if o == nil || o.Extraction == nil {
		return nil
	}
	return o.Extraction.Records
}
