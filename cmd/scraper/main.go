package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/maltedev/category-scraper/internal/api"
	"github.com/maltedev/category-scraper/internal/app"
	"github.com/maltedev/category-scraper/internal/config"
	"github.com/maltedev/category-scraper/internal/pipeline"
	"github.com/maltedev/category-scraper/pkg/logger"
)

func main() {
	var (
		url          = flag.String("url", "", "Category page URL (defaults to SCRAPER_TARGET_URL)")
		alternatives = flag.String("alternatives", "", "Comma-separated fallback URLs tried when a run yields no products")
		mode         = flag.String("mode", "", "Fetch mode: http or browser")
		engine       = flag.String("engine", "", "Browser engine: playwright or chromedp")
		maxProducts  = flag.Int("max", 0, "Maximum number of products to keep")
		formats      = flag.String("formats", "", "Comma-separated outputs: csv, json, postgres")
		headless     = flag.Bool("headless", true, "Run browser in headless mode")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, *url, *alternatives, *mode, *engine, *formats, *maxProducts, *headless)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting Giant Food category scraper", "url", cfg.Scraper.TargetURL, "mode", cfg.Scraper.FetchMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize outputs", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	outcomes, runErr := a.Scrape(ctx, api.ScrapeRequest{
		URL:          cfg.Scraper.TargetURL,
		Alternatives: cfg.Scraper.AlternativeURLs,
		MaxProducts:  cfg.Scraper.MaxProducts,
	})

	if n, err := a.FlushOutbox(ctx); err != nil {
		logger.Warn("Failed to publish run events", "error", err)
	} else if n > 0 {
		logger.Info("Published run events", "count", n)
	}

	best := pipeline.Best(outcomes)
	if best == nil {
		logger.Error("Scrape did not run", "error", runErr)
	} else {
		printOutcome(best, cfg)
		if runErr != nil {
			logger.Error("Scrape failed", "state", best.State, "error", runErr)
		}
	}

	if code := exitCode(best, runErr); code != 0 {
		a.Close()
		os.Exit(code)
	}
}

// exitCode maps the final outcome to the process status. An empty page is a
// normal result; only a failed run or a failed persist is an error.
func exitCode(best *pipeline.Outcome, runErr error) int {
	if best == nil || runErr != nil || best.State == pipeline.StateFailed {
		return 1
	}
	return 0
}

func applyFlags(cfg *config.Config, url, alternatives, mode, engine, formats string, maxProducts int, headless bool) {
	if url != "" {
		cfg.Scraper.TargetURL = url
		cfg.Scraper.AlternativeURLs = nil
	}
	if alternatives != "" {
		cfg.Scraper.AlternativeURLs = splitList(alternatives)
	}
	if mode != "" {
		cfg.Scraper.FetchMode = mode
	}
	if engine != "" {
		cfg.Browser.Engine = engine
	}
	if formats != "" {
		cfg.Output.Formats = splitList(formats)
	}
	if maxProducts > 0 {
		cfg.Scraper.MaxProducts = maxProducts
	}
	cfg.Browser.Headless = headless && cfg.Browser.Headless
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printOutcome(out *pipeline.Outcome, cfg *config.Config) {
	fmt.Printf("Run %s: %s (%s)\n", out.RunID, out.State, out.SourceURL)

	switch out.State {
	case pipeline.StateEmpty:
		fmt.Println("No products found. Check the saved page to update the selectors.")
	case pipeline.StateFailed:
		fmt.Printf("Fetch gave up after %d attempts\n", out.Attempts)
	}
	if out.DiagnosticPath != "" {
		fmt.Printf("Page saved to %s\n", out.DiagnosticPath)
	}

	records := out.Records()
	if len(records) == 0 {
		return
	}

	fmt.Printf("Found %d products with %q (%d skipped)\n", len(records), out.Extraction.MatchedSelector, out.Extraction.Skipped)
	for i, r := range records {
		fmt.Printf("%d. %s\n", i+1, r.Name)
		fmt.Printf("   Size: %s\n", r.Size)
		fmt.Printf("   Price: %s\n", r.Price)
		fmt.Printf("   URL: %s\n", r.URL)
	}

	if out.Persisted {
		for _, f := range cfg.Output.Formats {
			if f == "csv" || f == "json" {
				fmt.Printf("Saved %s\n", filepath.Join(cfg.Output.Dir, cfg.Output.Basename+"."+f))
			}
		}
	}
}
