package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/category-scraper/internal/database"
	"github.com/maltedev/category-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testBatch() Batch {
	return Batch{
		RunID:     "5b0f8a8e-1f7e-4bb7-9d3c-2f1f8d1f3c10",
		SourceURL: "https://giantfood.com/groceries/snacks/chips/potato-chips.html",
		ScrapedAt: time.Date(2025, 8, 1, 14, 30, 0, 0, time.UTC),
		Records: []models.ProductRecord{
			{Name: "Lay's Classic Potato Chips", Size: "8 oz", Price: "$4.99", URL: "https://giantfood.com/p/1"},
			{Name: "Utz Ripples, \"Original\"", Size: "size not found", Price: "$3.49", URL: "https://giantfood.com/p/2"},
		},
	}
}

func newTestFileSink(dir string) *FileSink {
	return NewFileSink(FileOptions{
		Dir:         dir,
		Basename:    "live_giant_food_products",
		Formats:     []string{FormatCSV, FormatJSON},
		SourceLabel: "Giant Food Scraper",
	}, nil)
}

func TestFileSinkWritesCSVAndJSON(t *testing.T) {
	dir := t.TempDir()
	sink := newTestFileSink(dir)

	require.NoError(t, sink.Persist(context.Background(), testBatch()))

	f, err := os.Open(filepath.Join(dir, "live_giant_food_products.csv"))
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"name", "size", "price", "url"}, rows[0])
	assert.Equal(t, []string{"Utz Ripples, \"Original\"", "size not found", "$3.49", "https://giantfood.com/p/2"}, rows[2])

	data, err := os.ReadFile(filepath.Join(dir, "live_giant_food_products.json"))
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "2025-08-01T14:30:00Z", doc.ScrapeDate)
	assert.Equal(t, 2, doc.TotalProducts)
	assert.Equal(t, "Giant Food Scraper", doc.Source)
	assert.Equal(t, testBatch().Records, doc.Products)

	_, err = os.Stat(filepath.Join(dir, "live_giant_food_products.csv.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSinkIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sink := newTestFileSink(dir)
	ctx := context.Background()

	require.NoError(t, sink.Persist(ctx, testBatch()))
	firstCSV, _ := os.ReadFile(sink.Path(FormatCSV))
	firstJSON, _ := os.ReadFile(sink.Path(FormatJSON))

	require.NoError(t, sink.Persist(ctx, testBatch()))
	secondCSV, _ := os.ReadFile(sink.Path(FormatCSV))
	secondJSON, _ := os.ReadFile(sink.Path(FormatJSON))

	assert.Equal(t, firstCSV, secondCSV)
	assert.Equal(t, firstJSON, secondJSON)
}

func TestFileSinkRejectsEmptyBatch(t *testing.T) {
	dir := t.TempDir()
	sink := newTestFileSink(dir)

	err := sink.Persist(context.Background(), Batch{SourceURL: "https://giantfood.com"})
	assert.ErrorIs(t, err, ErrNoRecords)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEncodeCSVHeaderOnlyWhenNoRows(t *testing.T) {
	data, err := EncodeCSV(nil)
	require.NoError(t, err)
	assert.Equal(t, "name,size,price,url\n", string(data))
}

type stubSink struct {
	name  string
	err   error
	calls int
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Persist(context.Context, Batch) error {
	s.calls++
	return s.err
}

func TestMultiReportsEveryFailure(t *testing.T) {
	a := &stubSink{name: "a", err: errors.New("disk full")}
	b := &stubSink{name: "b"}
	c := &stubSink{name: "c", err: errors.New("connection refused")}

	err := Multi{a, b, c}.Persist(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: disk full")
	assert.Contains(t, err.Error(), "c: connection refused")
	assert.Equal(t, 1, b.calls)
}

// Postgres sink

type fakeTransactor struct {
	tx  database.TxWriter
	err error
}

func (f *fakeTransactor) WithWriter(ctx context.Context, fn func(database.TxWriter) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(f.tx)
}

type MockRecords struct {
	mock.Mock
}

func (m *MockRecords) ReplaceWithTx(ctx context.Context, tx database.TxWriter, run database.Run, records []models.ProductRecord) (int64, error) {
	args := m.Called(ctx, tx, run, records)
	return int64(args.Int(0)), args.Error(1)
}

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) InsertWithTx(ctx context.Context, tx database.TxWriter, event *database.OutboxEvent) error {
	args := m.Called(ctx, tx, event)
	return args.Error(0)
}

func TestPostgresSinkPersistsRecordsAndEvent(t *testing.T) {
	ctx := context.Background()
	batch := testBatch()
	runID := uuid.MustParse(batch.RunID)

	records := new(MockRecords)
	outbox := new(MockOutbox)
	sink := newPostgresSink(&fakeTransactor{}, records, outbox, "stream:category_scrapes", nil)

	records.On("ReplaceWithTx", ctx, nil, database.Run{ID: runID, SourceURL: batch.SourceURL, CompletedAt: batch.ScrapedAt}, batch.Records).
		Return(2, nil)
	outbox.On("InsertWithTx", ctx, nil, mock.MatchedBy(func(e *database.OutboxEvent) bool {
		return e.EventType == database.EventScrapeRunComplete &&
			e.AggregateID == batch.RunID &&
			e.TargetStream == "stream:category_scrapes" &&
			strings.Contains(string(e.Payload), `"record_count":2`)
	})).Return(nil)

	require.NoError(t, sink.Persist(ctx, batch))
	records.AssertExpectations(t)
	outbox.AssertExpectations(t)
}

func TestPostgresSinkWithoutStreamSkipsOutbox(t *testing.T) {
	ctx := context.Background()
	records := new(MockRecords)
	outbox := new(MockOutbox)
	sink := newPostgresSink(&fakeTransactor{}, records, outbox, "", nil)

	records.On("ReplaceWithTx", ctx, nil, mock.Anything, mock.Anything).Return(2, nil)

	require.NoError(t, sink.Persist(ctx, testBatch()))
	outbox.AssertNotCalled(t, "InsertWithTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestPostgresSinkErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty batch", func(t *testing.T) {
		sink := newPostgresSink(&fakeTransactor{}, new(MockRecords), new(MockOutbox), "", nil)
		assert.ErrorIs(t, sink.Persist(ctx, Batch{RunID: uuid.NewString()}), ErrNoRecords)
	})

	t.Run("invalid run id", func(t *testing.T) {
		batch := testBatch()
		batch.RunID = "not-a-uuid"
		sink := newPostgresSink(&fakeTransactor{}, new(MockRecords), new(MockOutbox), "", nil)
		assert.Error(t, sink.Persist(ctx, batch))
	})

	t.Run("transaction failure", func(t *testing.T) {
		sink := newPostgresSink(&fakeTransactor{err: errors.New("pool closed")}, new(MockRecords), new(MockOutbox), "", nil)
		err := sink.Persist(ctx, testBatch())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pool closed")
	})
}
