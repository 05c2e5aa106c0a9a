package browser

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maltedev/category-scraper/internal/fetcher"
	"github.com/playwright-community/playwright-go"
)

// Launcher acquires a fresh isolated Session.
type Launcher func(ctx context.Context, opts *Options) (Session, error)

// Fetcher renders pages in a real browser. Every Fetch acquires its own
// session and releases it on all exit paths.
type Fetcher struct {
	engine  string
	opts    *Options
	launch  Launcher
	retrier *fetcher.Retrier
	logger  *slog.Logger
}

func NewPlaywrightFetcher(opts *Options, blockedMultiplier float64, logger *slog.Logger) *Fetcher {
	return newFetcher("playwright", opts, blockedMultiplier, logger, func(_ context.Context, o *Options) (Session, error) {
		return New(o)
	})
}

func NewChromedpFetcher(opts *Options, blockedMultiplier float64, logger *slog.Logger) *Fetcher {
	return newFetcher("chromedp", opts, blockedMultiplier, logger, func(ctx context.Context, o *Options) (Session, error) {
		return NewChromedp(ctx, o)
	})
}

func newFetcher(engine string, opts *Options, blockedMultiplier float64, logger *slog.Logger, launch Launcher) *Fetcher {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "browser_fetcher", "engine", engine)

	return &Fetcher{
		engine: engine,
		opts:   opts,
		launch: launch,
		retrier: &fetcher.Retrier{
			Name:    "browser-" + engine,
			Backoff: fetcher.Backoff{BlockedMultiplier: blockedMultiplier},
			Sleep:   fetcher.Sleep,
			Logger:  logger,
		},
		logger: logger,
	}
}

func (f *Fetcher) Name() string { return "browser-" + f.engine }

func (f *Fetcher) Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	f.logger.Info("launching browser", "url", req.URL, "headless", f.opts.Headless)

	s, err := f.launch(ctx, f.opts)
	if err != nil {
		f.logger.Error("browser unavailable, make sure a compatible Chrome/Chromium is installed", "error", err)
		return nil, &fetcher.FetchError{Reason: fetcher.ReasonConnection, URL: req.URL, Err: err}
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			f.logger.Warn("failed to close browser", "error", cerr)
		}
	}()

	return f.retrier.Do(ctx, req, func(ctx context.Context, n int) fetcher.Attempt {
		status, html, err := s.Render(ctx, req.URL)
		if err != nil {
			return fetcher.Attempt{
				Outcome: fetcher.OutcomeTransient,
				Err:     &fetcher.FetchError{Reason: classifyRenderError(err), URL: req.URL, Err: err},
			}
		}
		if html == "" {
			f.logger.Warn("browser returned empty markup", "url", req.URL, "status", status)
		}
		return fetcher.StatusAttempt(status, []byte(html), req.URL)
	})
}

func classifyRenderError(err error) fetcher.Reason {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, playwright.ErrTimeout) {
		return fetcher.ReasonTimeout
	}
	return fetcher.ReasonConnection
}
