package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/category-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sqlContains(fragment string) interface{} {
	return mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, fragment) })
}

func TestRecordRepository_ReplaceWithTx(t *testing.T) {
	ctx := context.Background()
	repo := NewRecordRepository()
	run := Run{
		ID:          uuid.New(),
		SourceURL:   "https://giantfood.com/chips",
		CompletedAt: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	records := []models.ProductRecord{
		{Name: "Lay's Classic", Size: "8 oz", Price: "$4.99", URL: "https://giantfood.com/p/1"},
		{Name: "Utz Ripples", Size: "size not found", Price: "$3.49", URL: "https://giantfood.com/p/2"},
	}

	t.Run("clears source then copies rows in order", func(t *testing.T) {
		tx := new(MockTx)
		tx.On("Exec", ctx, sqlContains("DELETE FROM category_product"), []any{run.SourceURL}).Return("DELETE 5", nil).Once()
		tx.On("Exec", ctx, sqlContains("INSERT INTO scrape_run"), mock.Anything).Return("INSERT 0 1", nil).Once()
		tx.On("CopyFrom", ctx, pgx.Identifier{"category_product"}, productColumns, [][]any{
			{run.SourceURL, 0, run.ID, "Lay's Classic", "8 oz", "$4.99", "https://giantfood.com/p/1", run.CompletedAt},
			{run.SourceURL, 1, run.ID, "Utz Ripples", "size not found", "$3.49", "https://giantfood.com/p/2", run.CompletedAt},
		}).Return(2, nil).Once()

		n, err := repo.ReplaceWithTx(ctx, tx, run, records)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		tx.AssertExpectations(t)
	})

	t.Run("empty run writes nothing", func(t *testing.T) {
		tx := new(MockTx)
		_, err := repo.ReplaceWithTx(ctx, tx, run, nil)
		assert.ErrorIs(t, err, ErrEmptyRun)
		tx.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("delete failure aborts", func(t *testing.T) {
		tx := new(MockTx)
		tx.On("Exec", ctx, sqlContains("DELETE"), mock.Anything).Return("", errors.New("relation does not exist"))

		_, err := repo.ReplaceWithTx(ctx, tx, run, records)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to clear previous records")
		tx.AssertNotCalled(t, "CopyFrom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
