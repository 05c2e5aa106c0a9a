package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/maltedev/category-scraper/internal/config"
	"github.com/maltedev/category-scraper/internal/fetcher"
	"github.com/maltedev/category-scraper/internal/models"
	"github.com/maltedev/category-scraper/internal/parser"
	"github.com/maltedev/category-scraper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

// productPage renders n Giant Food style product cards. Cards listed in bad
// carry an href that cannot be parsed.
func productPage(n int, bad ...int) string {
	broken := make(map[int]bool)
	for _, i := range bad {
		broken[i] = true
	}

	var b strings.Builder
	b.WriteString(`<html><head><title>Potato Chips | Giant</title></head><body><div class="grid">`)
	for i := 0; i < n; i++ {
		href := fmt.Sprintf("/product/chips-%d", i)
		if broken[i] {
			href = "/product/%zz"
		}
		fmt.Fprintf(&b, `<a class="pdl-static-category_product" href="%s">
			<h2 class="pdl-static-category_product_name"><span>Ahold Wedge Icon</span>
				Chips Flavor %d</h2>
			<p class="pdl-static-category_product_unit">%d oz</p>
			<span class="pdl-static-category_product_price">$%d.99</span>
		</a>`, href, i, 5+i, 2+i)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func pageServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	dir      string
	pipeline *Pipeline
	sink     *storage.FileSink
	states   []State
}

func newHarness(t *testing.T, maxProducts int) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Scraper: config.ScraperConfig{
			MaxRetries:  2,
			RetryDelay:  time.Second,
			MaxProducts: maxProducts,
			Selectors: config.SelectorConfig{
				Containers: config.DefaultContainerSelectors(),
				Name:       config.DefaultNameSelectors(),
				Size:       config.DefaultSizeSelectors(),
				Price:      config.DefaultPriceSelectors(),
				Link:       config.DefaultLinkSelectors(),
				NameNoise:  config.DefaultNameNoiseMarker,
			},
		},
		Output: config.OutputConfig{DebugPath: filepath.Join(dir, "debug_page.html")},
	}

	sink := storage.NewFileSink(storage.FileOptions{
		Dir:         dir,
		Basename:    "products",
		Formats:     []string{storage.FormatCSV, storage.FormatJSON},
		SourceLabel: "Giant Food Scraper",
	}, quietLogger())

	f := fetcher.NewHTTPFetcher(fetcher.DefaultHTTPOptions(), quietLogger()).WithSleep(noSleep)
	p, err := NewFromConfig(cfg, f, sink, quietLogger())
	require.NoError(t, err)

	h := &harness{dir: dir, pipeline: p, sink: sink}
	p.OnTransition = func(_ string, _, to State) { h.states = append(h.states, to) }
	return h
}

func (h *harness) outputExists(format string) bool {
	_, err := os.Stat(h.sink.Path(format))
	return err == nil
}

func TestRunExtractsAllWellFormedContainers(t *testing.T) {
	srv := pageServer(t, http.StatusOK, productPage(3))
	h := newHarness(t, 50)

	out, err := h.pipeline.Run(context.Background(), srv.URL+"/groceries/chips.html")
	require.NoError(t, err)

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, []State{StateFetching, StateParsing, StateSelecting, StateExtracting, StateDone}, h.states)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.Persisted)

	want := []models.ProductRecord{
		{Name: "Chips Flavor 0", Size: "5 oz", Price: "$2.99", URL: srv.URL + "/product/chips-0"},
		{Name: "Chips Flavor 1", Size: "6 oz", Price: "$3.99", URL: srv.URL + "/product/chips-1"},
		{Name: "Chips Flavor 2", Size: "7 oz", Price: "$4.99", URL: srv.URL + "/product/chips-2"},
	}
	if diff := cmp.Diff(want, out.Records()); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "a.pdl-static-category_product", out.Extraction.MatchedSelector)
	assert.True(t, h.outputExists(storage.FormatCSV))
	assert.True(t, h.outputExists(storage.FormatJSON))
}

func TestRunSkipsFailingContainers(t *testing.T) {
	srv := pageServer(t, http.StatusOK, productPage(8, 2, 5))
	h := newHarness(t, 50)

	out, err := h.pipeline.Run(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, StateDone, out.State)
	assert.Equal(t, 8, out.Extraction.ContainerCount)
	assert.Equal(t, 2, out.Extraction.Skipped)

	var names []string
	for _, r := range out.Records() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		"Chips Flavor 0", "Chips Flavor 1", "Chips Flavor 3",
		"Chips Flavor 4", "Chips Flavor 6", "Chips Flavor 7",
	}, names)

	require.Len(t, out.Skips, 2)
	assert.Equal(t, 2, out.Skips[0].Index)
	assert.Equal(t, 5, out.Skips[1].Index)
	assert.Equal(t, parser.SkipInvalidURL, out.Skips[0].Kind)
}

func TestRunBoundsRecordCount(t *testing.T) {
	srv := pageServer(t, http.StatusOK, productPage(8))
	h := newHarness(t, 3)

	out, err := h.pipeline.Run(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Len(t, out.Records(), 3)
	assert.Equal(t, 3, out.Extraction.ContainerCount)
	assert.Equal(t, "Chips Flavor 2", out.Records()[2].Name)
}

func TestRunEmptyWritesDiagnosticOnly(t *testing.T) {
	body := `<html><head><title>Pardon Our Interruption</title></head><body><div class="challenge">Please verify</div></body></html>`
	srv := pageServer(t, http.StatusOK, body)
	h := newHarness(t, 50)

	out, err := h.pipeline.Run(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, StateEmpty, out.State)
	assert.Equal(t, []State{StateFetching, StateParsing, StateSelecting, StateEmpty}, h.states)
	assert.Nil(t, out.Records())
	assert.False(t, out.Persisted)

	dumped, err := os.ReadFile(filepath.Join(h.dir, "debug_page.html"))
	require.NoError(t, err)
	assert.Equal(t, body, string(dumped))

	statsData, err := os.ReadFile(filepath.Join(h.dir, "debug_page.html.stats.json"))
	require.NoError(t, err)
	var d diagnostic
	require.NoError(t, json.Unmarshal(statsData, &d))
	assert.Equal(t, "Pardon Our Interruption", d.Stats.Title)
	assert.Equal(t, config.DefaultContainerSelectors(), d.Selectors)

	assert.False(t, h.outputExists(storage.FormatCSV))
	assert.False(t, h.outputExists(storage.FormatJSON))
}

func TestRunDiagnosticIsOverwritten(t *testing.T) {
	h := newHarness(t, 50)
	first := pageServer(t, http.StatusOK, `<html><body><p>first</p></body></html>`)
	second := pageServer(t, http.StatusOK, `<html><body><p>second</p></body></html>`)

	_, err := h.pipeline.Run(context.Background(), first.URL)
	require.NoError(t, err)
	_, err = h.pipeline.Run(context.Background(), second.URL)
	require.NoError(t, err)

	dumped, err := os.ReadFile(filepath.Join(h.dir, "debug_page.html"))
	require.NoError(t, err)
	assert.Contains(t, string(dumped), "second")
	assert.NotContains(t, string(dumped), "first")
	assert.ElementsMatch(t, []string{"debug_page.html", "debug_page.html.stats.json"}, dirNames(t, h.dir))
}

func TestRunFetchFailureWritesNothing(t *testing.T) {
	srv := pageServer(t, http.StatusServiceUnavailable, "down")
	h := newHarness(t, 50)

	out, err := h.pipeline.Run(context.Background(), srv.URL)
	require.Error(t, err)

	assert.ErrorIs(t, err, fetcher.ErrExhausted)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, []State{StateFetching, StateFailed}, h.states)
	assert.Equal(t, 2, out.Attempts)

	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunParseFailureIsFatal(t *testing.T) {
	srv := pageServer(t, http.StatusOK, "")
	h := newHarness(t, 50)

	out, err := h.pipeline.Run(context.Background(), srv.URL)
	require.Error(t, err)

	assert.ErrorIs(t, err, parser.ErrParse)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, []State{StateFetching, StateParsing, StateFailed}, h.states)
	assert.Equal(t, 1, out.Attempts)
	assert.False(t, h.outputExists(storage.FormatCSV))
}

type countingLimiter struct {
	waits, successes, errors int
}

func (l *countingLimiter) Wait(context.Context) error { l.waits++; return nil }
func (l *countingLimiter) RecordSuccess()             { l.successes++ }
func (l *countingLimiter) RecordError()               { l.errors++ }

func TestRunWithAlternatives(t *testing.T) {
	empty := pageServer(t, http.StatusOK, `<html><body><p>no products here</p></body></html>`)
	broken := pageServer(t, http.StatusForbidden, "blocked")
	good := pageServer(t, http.StatusOK, productPage(2))
	unused := pageServer(t, http.StatusOK, productPage(4))

	h := newHarness(t, 50)
	limiter := &countingLimiter{}

	outcomes, err := h.pipeline.RunWithAlternatives(context.Background(), limiter, empty.URL, broken.URL, good.URL, unused.URL)
	require.NoError(t, err)

	require.Len(t, outcomes, 3)
	assert.Equal(t, StateEmpty, outcomes[0].State)
	assert.Equal(t, StateFailed, outcomes[1].State)
	assert.Equal(t, StateDone, outcomes[2].State)
	assert.NotEqual(t, outcomes[0].RunID, outcomes[2].RunID)

	assert.Equal(t, 3, limiter.waits)
	assert.Equal(t, 1, limiter.errors)
	assert.Equal(t, 2, limiter.successes)

	best := Best(outcomes)
	require.NotNil(t, best)
	assert.Len(t, best.Records(), 2)
}

func TestRunWithAlternativesAllEmpty(t *testing.T) {
	empty := pageServer(t, http.StatusOK, `<html><body></body></html>`)
	h := newHarness(t, 50)

	outcomes, err := h.pipeline.RunWithAlternatives(context.Background(), nil, empty.URL, empty.URL)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, StateEmpty, Best(outcomes).State)
}

type failingSink struct {
	calls []string
	err   error
}

func (s *failingSink) Name() string { return "failing" }

func (s *failingSink) Persist(_ context.Context, batch storage.Batch) error {
	s.calls = append(s.calls, batch.SourceURL)
	return s.err
}

func TestRunWithAlternativesStopsOnPersistFailure(t *testing.T) {
	primary := pageServer(t, http.StatusOK, productPage(2))
	alt := pageServer(t, http.StatusOK, productPage(3))

	h := newHarness(t, 50)
	sink := &failingSink{err: errors.New("disk full")}
	h.pipeline.sink = sink

	outcomes, err := h.pipeline.RunWithAlternatives(context.Background(), nil, primary.URL, alt.URL)
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")

	require.Len(t, outcomes, 1)
	assert.Equal(t, StateDone, outcomes[0].State)
	assert.False(t, outcomes[0].Persisted)
	assert.Len(t, outcomes[0].Records(), 2)
	assert.Equal(t, []string{primary.URL}, sink.calls)
}

func TestRunDecodesDeclaredCharset(t *testing.T) {
	body := strings.Replace(productPage(1), "Chips Flavor", "Jalape\xf1o Chips", 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1252")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	h := newHarness(t, 50)

	out, err := h.pipeline.Run(context.Background(), srv.URL)
	require.NoError(t, err)

	require.Len(t, out.Records(), 1)
	assert.Contains(t, out.Records()[0].Name, "Jalapeño Chips")
}
