package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/AzielCF/az-restyle/pipeline/domain"
)

func newTestRepo(t *testing.T) *EditRecordGormRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "edits.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	repo := NewEditRecordGormRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func TestEditRecordRepo_SaveAndHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	ok := domain.NewEditRecord("e1", "r1", "sess-a", "noir", base)
	require.NoError(t, ok.Start())
	ratio := 42.5
	ok.Processing.DidNormalize = true
	ok.Processing.CompressionRatio = &ratio
	ok.SourceImage = domain.ImageInfo{URL: "http://x/src.jpg", ByteSize: 100, Width: 10, Height: 20, Format: "jpeg"}
	require.NoError(t, ok.Complete(domain.ImageInfo{URL: "http://x/res.png", ByteSize: 300, Format: "png"}, base.Add(2*time.Second)))

	failed := domain.NewEditRecord("e2", "r2", "sess-a", "noir", base.Add(time.Minute))
	require.NoError(t, failed.Fail("transform timed out", base.Add(time.Minute+90*time.Second)))

	other := domain.NewEditRecord("e3", "r3", "sess-b", "pixel", base)
	require.NoError(t, other.Fail("x", base))

	for _, r := range []*domain.EditRecord{ok, failed, other} {
		require.NoError(t, repo.Save(ctx, r))
	}

	history, err := repo.ListBySession(ctx, "sess-a", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "e2", history[0].ID, "newest first")
	assert.Equal(t, domain.StatusFailed, history[0].Processing.Status)
	assert.Equal(t, "transform timed out", history[0].Processing.ErrorReason)
	assert.Nil(t, history[0].ResultImage)

	assert.Equal(t, domain.StatusCompleted, history[1].Processing.Status)
	require.NotNil(t, history[1].ResultImage)
	assert.Equal(t, "http://x/res.png", history[1].ResultImage.URL)
	require.NotNil(t, history[1].Processing.CompressionRatio)
	assert.InDelta(t, 42.5, *history[1].Processing.CompressionRatio, 1e-9)
	assert.Equal(t, int64(2000), history[1].Processing.DurationMs)

	limited, err := repo.ListBySession(ctx, "sess-a", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["completed"])
	assert.Equal(t, int64(2), counts["failed"])
}

func TestEditRecordRepo_RecordsAreInsertOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	r := domain.NewEditRecord("dup", "r", "s", "t", time.Now())
	require.NoError(t, r.Fail("x", time.Now()))
	require.NoError(t, repo.Save(ctx, r))
	assert.Error(t, repo.Save(ctx, r))
}
