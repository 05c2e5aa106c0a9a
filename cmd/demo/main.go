package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/category-scraper/internal/config"
	"github.com/maltedev/category-scraper/internal/demo"
	"github.com/maltedev/category-scraper/internal/fetcher"
	"github.com/maltedev/category-scraper/internal/models"
	"github.com/maltedev/category-scraper/internal/pipeline"
	"github.com/maltedev/category-scraper/internal/storage"
	"github.com/maltedev/category-scraper/pkg/logger"
)

func main() {
	var (
		dir    = flag.String("dir", "data", "Output directory")
		direct = flag.Bool("direct", false, "Write the sample products without serving and scraping them")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	sink := storage.NewFileSink(storage.FileOptions{
		Dir:         *dir,
		Basename:    demo.Basename,
		Formats:     []string{storage.FormatCSV, storage.FormatJSON},
		SourceLabel: demo.SourceLabel,
	}, logger)

	fmt.Println("Giant Food Scraper Demo")
	fmt.Println("This demo uses sample potato chip listings")

	ctx := context.Background()

	var records []models.ProductRecord
	if *direct {
		records = demo.Records(demo.Products())
		err = sink.Persist(ctx, storage.Batch{
			RunID:     uuid.NewString(),
			SourceURL: config.DefaultTargetURL,
			ScrapedAt: time.Now(),
			Records:   records,
		})
	} else {
		records, err = scrapeLocal(ctx, cfg, sink, *dir, logger)
	}
	if err != nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\nGenerated %d products\n", len(records))
	for i, r := range records {
		fmt.Printf("%d. %s - %s - %s\n", i+1, r.Name, r.Size, r.Price)
	}
	fmt.Printf("\nSaved %s and %s\n\n", sink.Path(storage.FormatCSV), sink.Path(storage.FormatJSON))

	demo.Summarize(records).Print(os.Stdout)
}

// scrapeLocal serves the sample page on a loopback port and runs the
// regular pipeline against it.
func scrapeLocal(ctx context.Context, cfg *config.Config, sink storage.Sink, dir string, logger *slog.Logger) ([]models.ProductRecord, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	page := demo.RenderPage(demo.Products())
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, page)
	})}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("demo server stopped", "error", err)
		}
	}()
	defer srv.Close()

	cfg.Output.DebugPath = filepath.Join(dir, "demo_debug_page.html")
	p, err := pipeline.NewFromConfig(cfg, fetcher.NewHTTPFetcher(fetcher.DefaultHTTPOptions(), logger), sink, logger)
	if err != nil {
		return nil, err
	}

	out, err := p.Run(ctx, "http://"+ln.Addr().String()+"/groceries/snacks/chips/potato-chips.html")
	if err != nil {
		return nil, err
	}
	if len(out.Records()) == 0 {
		return nil, fmt.Errorf("run ended %s without products", out.State)
	}
	return out.Records(), nil
}
