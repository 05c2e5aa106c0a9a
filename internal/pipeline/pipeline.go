package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/category-scraper/internal/config"
	"github.com/maltedev/category-scraper/internal/fetcher"
	"github.com/maltedev/category-scraper/internal/metrics"
	"github.com/maltedev/category-scraper/internal/models"
	"github.com/maltedev/category-scraper/internal/parser"
	"github.com/maltedev/category-scraper/internal/selector"
	"github.com/maltedev/category-scraper/internal/storage"
)

type Options struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxProducts int
	DebugPath   string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRetries:  cfg.Scraper.MaxRetries,
		BaseDelay:   cfg.Scraper.RetryDelay,
		MaxProducts: cfg.Scraper.MaxProducts,
		DebugPath:   cfg.Output.DebugPath,
	}
}

// Pipeline runs fetch, parse, select, extract and persist for one URL at a
// time. A Pipeline owns its Fetcher; concurrent runs need separate instances.
type Pipeline struct {
	fetcher    fetcher.Fetcher
	containers *selector.Cascade
	extractor  *parser.Extractor
	sink       storage.Sink
	opts       Options
	logger     *slog.Logger

	now          func() time.Time
	newID        func() string
	OnTransition func(runID string, from, to State)
}

// New builds a Pipeline. A nil sink disables persistence.
func New(f fetcher.Fetcher, containers *selector.Cascade, extractor *parser.Extractor, sink storage.Sink, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fetcher:    f,
		containers: containers,
		extractor:  extractor,
		sink:       sink,
		opts:       opts,
		logger:     logger.With("component", "pipeline"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// NewFromConfig compiles the configured selector lists.
func NewFromConfig(cfg *config.Config, f fetcher.Fetcher, sink storage.Sink, logger *slog.Logger) (*Pipeline, error) {
	containers, err := selector.CompileCascade(cfg.Scraper.Selectors.Containers)
	if err != nil {
		return nil, fmt.Errorf("container selectors: %w", err)
	}
	extractor, err := parser.NewExtractorFromConfig(cfg.Scraper.Selectors)
	if err != nil {
		return nil, err
	}
	return New(f, containers, extractor, sink, OptionsFromConfig(cfg), logger), nil
}

// WithMaxProducts returns a copy of p bounded to n records.
func (p *Pipeline) WithMaxProducts(n int) *Pipeline {
	cp := *p
	cp.opts.MaxProducts = n
	return &cp
}

// Run executes one pass against url. Failed runs return the outcome together
// with the error; Empty is a normal outcome and returns a nil error.
func (p *Pipeline) Run(ctx context.Context, url string) (*Outcome, error) {
	start := p.now()
	out := &Outcome{RunID: p.newID(), State: StateIdle, SourceURL: url}
	logger := p.logger.With("run_id", out.RunID, "url", url)

	defer func() {
		out.Duration = p.now().Sub(start)
		metrics.Runs.WithLabelValues(string(out.State)).Inc()
		metrics.RunDuration.Observe(out.Duration.Seconds())
	}()

	fail := func(err error) (*Outcome, error) {
		out.Err = err
		p.transition(out, StateFailed)
		logger.Error("run failed", "error", err)
		return out, err
	}

	p.transition(out, StateFetching)
	res, err := p.fetcher.Fetch(ctx, fetcher.Request{
		URL:        url,
		MaxRetries: p.opts.MaxRetries,
		BaseDelay:  p.opts.BaseDelay,
	})
	if err != nil {
		var fe *fetcher.FetchError
		if errors.As(err, &fe) {
			out.Attempts = fe.Attempts
		}
		return fail(err)
	}
	out.Attempts = res.Attempts

	p.transition(out, StateParsing)
	doc, err := parser.ParseWithContentType(res.Body, res.ContentType)
	if err != nil {
		return fail(err)
	}

	pageURL := url
	if res.FinalURL != "" {
		pageURL = res.FinalURL
	}
	base, err := parser.Origin(pageURL)
	if err != nil {
		return fail(err)
	}

	p.transition(out, StateSelecting)
	containers, matched := p.containers.Select(doc.Selection)
	if len(containers) == 0 {
		p.transition(out, StateEmpty)
		stats := parser.Stats(doc, res.Body)
		logger.Warn("no product containers found",
			"selectors", p.containers.Queries(),
			"title", stats.Title,
			"elements", stats.TotalElements,
			"links", stats.Links)
		out.DiagnosticPath = p.dump(logger, out, res.Body, stats)
		return out, nil
	}
	logger.Info("found product containers", "selector", matched, "count", len(containers))

	p.transition(out, StateExtracting)
	if p.opts.MaxProducts > 0 && len(containers) > p.opts.MaxProducts {
		containers = containers[:p.opts.MaxProducts]
	}

	extraction := &models.ExtractionOutcome{
		ContainerCount:  len(containers),
		MatchedSelector: matched,
		SourceURL:       url,
		RunID:           out.RunID,
	}
	for _, r := range p.extractor.ExtractAll(containers, base) {
		if r.Skip != nil {
			out.Skips = append(out.Skips, Skip{Index: r.Index, Kind: r.Skip.Kind, Detail: r.Skip.Error()})
			metrics.ContainersSkipped.WithLabelValues(string(r.Skip.Kind)).Inc()
			logger.Warn("skipped product container", "index", r.Index, "reason", r.Skip.Kind, "error", r.Skip.Detail)
			continue
		}
		extraction.Records = append(extraction.Records, r.Record)
	}
	extraction.Skipped = len(out.Skips)
	extraction.CompletedAt = p.now()
	out.Extraction = extraction
	metrics.RecordsExtracted.Add(float64(len(extraction.Records)))

	p.transition(out, StateDone)
	logger.Info("extraction complete",
		"records", len(extraction.Records),
		"containers", extraction.ContainerCount,
		"skipped", extraction.Skipped)

	if len(extraction.Records) == 0 {
		stats := parser.Stats(doc, res.Body)
		out.DiagnosticPath = p.dump(logger, out, res.Body, stats)
		return out, nil
	}

	if p.sink != nil {
		err := p.sink.Persist(ctx, storage.Batch{
			RunID:     out.RunID,
			SourceURL: url,
			ScrapedAt: extraction.CompletedAt,
			Records:   extraction.Records,
		})
		if err != nil {
			logger.Error("failed to persist records", "error", err)
			return out, fmt.Errorf("persist: %w", err)
		}
		out.Persisted = true
	}

	return out, nil
}

func (p *Pipeline) transition(out *Outcome, to State) {
	from := out.State
	out.State = to
	p.logger.Debug("state transition", "run_id", out.RunID, "from", from, "to", to)
	if p.OnTransition != nil {
		p.OnTransition(out.RunID, from, to)
	}
}

func (p *Pipeline) dump(logger *slog.Logger, out *Outcome, body []byte, stats parser.PageStats) string {
	if p.opts.DebugPath == "" {
		return ""
	}
	err := writeDiagnostic(p.opts.DebugPath, body, diagnostic{
		SourceURL: out.SourceURL,
		RunID:     out.RunID,
		Selectors: p.containers.Queries(),
		Stats:     stats,
	})
	if err != nil {
		logger.Error("failed to write diagnostic page", "path", p.opts.DebugPath, "error", err)
		return ""
	}
	logger.Info("saved page for selector analysis", "path", p.opts.DebugPath, "stats", statsPath(p.opts.DebugPath))
	return p.opts.DebugPath
}
