package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maltedev/category-scraper/internal/models"
	"github.com/maltedev/category-scraper/internal/pipeline"
)

// ScrapeRequest overrides the configured target for one run.
type ScrapeRequest struct {
	URL          string   `json:"url"`
	Alternatives []string `json:"alternatives"`
	MaxProducts  int      `json:"max_products"`
}

// RunFunc executes a scrape and returns the outcome of every URL tried.
type RunFunc func(ctx context.Context, req ScrapeRequest) ([]*pipeline.Outcome, error)

// HealthFunc reports extra health details, such as outbox backlog.
type HealthFunc func(ctx context.Context) (map[string]interface{}, bool)

type AttemptSummary struct {
	URL            string         `json:"url"`
	RunID          string         `json:"run_id"`
	State          pipeline.State `json:"state"`
	Attempts       int            `json:"attempts,omitempty"`
	Error          string         `json:"error,omitempty"`
	DiagnosticPath string         `json:"diagnostic_path,omitempty"`
}

type ScrapeResponse struct {
	RunID           string                 `json:"run_id"`
	State           pipeline.State         `json:"state"`
	SourceURL       string                 `json:"source_url"`
	MatchedSelector string                 `json:"matched_selector,omitempty"`
	TotalProducts   int                    `json:"total_products"`
	Skipped         int                    `json:"skipped"`
	Persisted       bool                   `json:"persisted"`
	Products        []models.ProductRecord `json:"products"`
	Tried           []AttemptSummary       `json:"tried"`
	Error           string                 `json:"error,omitempty"`
	FinishedAt      time.Time              `json:"finished_at"`
}

type Handlers struct {
	run      RunFunc
	health   HealthFunc
	defaults ScrapeRequest
	logger   *slog.Logger

	running atomic.Bool
	mu      sync.RWMutex
	last    *ScrapeResponse
	now     func() time.Time
}

func NewHandlers(run RunFunc, health HealthFunc, defaults ScrapeRequest, logger *slog.Logger) *Handlers {
	return &Handlers{
		run:      run,
		health:   health,
		defaults: defaults,
		logger:   logger.With("component", "api"),
		now:      time.Now,
	}
}

// Scrape runs the pipeline synchronously. Only one run may be active.
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	req := h.defaults
	var body ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.URL != "" {
		req.URL = body.URL
		req.Alternatives = body.Alternatives
	}
	if body.MaxProducts < 0 {
		h.respondError(w, http.StatusBadRequest, "max_products cannot be negative")
		return
	}
	if body.MaxProducts > 0 {
		req.MaxProducts = body.MaxProducts
	}
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	if !h.running.CompareAndSwap(false, true) {
		h.respondError(w, http.StatusConflict, "a scrape is already running")
		return
	}
	defer h.running.Store(false)

	h.logger.Info("scrape requested", "url", req.URL, "alternatives", len(req.Alternatives))

	outcomes, err := h.run(r.Context(), req)
	resp := h.summarize(outcomes, err)

	h.mu.Lock()
	h.last = resp
	h.mu.Unlock()

	status := http.StatusOK
	switch {
	case resp.State == pipeline.StateFailed:
		status = http.StatusBadGateway
	case err != nil:
		status = http.StatusInternalServerError
	}
	h.respondJSON(w, status, resp)
}

// LastRun returns the summary of the most recent scrape.
func (h *Handlers) LastRun(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()

	if last == nil {
		h.respondError(w, http.StatusNotFound, "no scrape has run yet")
		return
	}
	h.respondJSON(w, http.StatusOK, last)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"running": h.running.Load(),
	}

	status := http.StatusOK
	if h.health != nil {
		details, ok := h.health(r.Context())
		for k, v := range details {
			health[k] = v
		}
		if !ok {
			health["status"] = "error"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) summarize(outcomes []*pipeline.Outcome, err error) *ScrapeResponse {
	resp := &ScrapeResponse{FinishedAt: h.now(), Products: []models.ProductRecord{}}
	if err != nil {
		resp.Error = err.Error()
	}

	for _, o := range outcomes {
		a := AttemptSummary{
			URL:            o.SourceURL,
			RunID:          o.RunID,
			State:          o.State,
			Attempts:       o.Attempts,
			DiagnosticPath: o.DiagnosticPath,
		}
		if o.Err != nil {
			a.Error = o.Err.Error()
		}
		resp.Tried = append(resp.Tried, a)
	}

	best := pipeline.Best(outcomes)
	if best == nil {
		resp.State = pipeline.StateFailed
		return resp
	}

	resp.RunID = best.RunID
	resp.State = best.State
	resp.SourceURL = best.SourceURL
	resp.Persisted = best.Persisted
	if best.Extraction != nil {
		resp.MatchedSelector = best.Extraction.MatchedSelector
		resp.Skipped = best.Extraction.Skipped
		if len(best.Extraction.Records) > 0 {
			resp.Products = best.Extraction.Records
		}
	}
	resp.TotalProducts = len(resp.Products)
	return resp
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
