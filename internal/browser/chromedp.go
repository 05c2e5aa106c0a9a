package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/maltedev/category-scraper/internal/fetcher"
)

// Chromedp is a CDP-driven isolated browser context.
type Chromedp struct {
	allocCancel context.CancelFunc
	taskCtx     context.Context
	taskCancel  context.CancelFunc
	opts        *Options
	sleep       fetcher.SleepFunc
	logger      *slog.Logger
}

func allocatorOptions(opts *Options) []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight),
		chromedp.UserAgent(opts.UserAgent),
	)
}

// NewChromedp starts a browser process and installs the stealth script.
func NewChromedp(ctx context.Context, opts *Options) (*Chromedp, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(opts)...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	c := &Chromedp{
		allocCancel: allocCancel,
		taskCtx:     taskCtx,
		taskCancel:  taskCancel,
		opts:        opts,
		sleep:       fetcher.Sleep,
		logger:      slog.Default().With("component", "browser", "engine", "chromedp"),
	}

	err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	}))
	if err != nil {
		c.Close()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
		}
		return nil, fmt.Errorf("%w: failed to start chrome: %v", ErrBrowserUnavailable, err)
	}

	return c, nil
}

func (c *Chromedp) Render(ctx context.Context, url string) (int, string, error) {
	navCtx, cancel := context.WithTimeout(c.taskCtx, c.opts.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(url))
	if err != nil {
		return 0, "", fmt.Errorf("failed to navigate: %w", err)
	}

	status := 200
	if resp != nil {
		status = int(resp.Status)
	}

	c.logger.Info("page loaded, waiting for dynamic content", "url", url, "status", status, "settle", c.opts.SettleDelay)
	if err := c.sleep(ctx, c.opts.SettleDelay); err != nil {
		return status, "", err
	}

	// The settle wait is unbounded; only markup capture gets a fresh deadline.
	captureCtx, captureCancel := context.WithTimeout(c.taskCtx, c.opts.Timeout)
	defer captureCancel()
	stopCapture := context.AfterFunc(ctx, captureCancel)
	defer stopCapture()

	var html string
	if err := chromedp.Run(captureCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return status, "", fmt.Errorf("failed to get page content: %w", err)
	}

	return status, html, nil
}

func (c *Chromedp) Close() error {
	var err error
	if c.taskCtx != nil {
		err = chromedp.Cancel(c.taskCtx)
	}
	if c.taskCancel != nil {
		c.taskCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close chrome: %w", err)
	}
	return nil
}
