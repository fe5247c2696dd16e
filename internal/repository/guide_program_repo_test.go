package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupGuideTestDB(t *testing.T) (*gorm.DB, *models.GuideSource) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.GuideSource{}, &models.GuideProgram{})
	require.NoError(t, err)

	source := &models.GuideSource{
		Name: "test-guide",
		URL:  "http://example.com/guide.xml",
	}
	require.NoError(t, db.Create(source).Error)

	return db, source
}

func testProgram(source *models.GuideSource, epgID, title string, start, stop time.Time) *models.GuideProgram {
	return &models.GuideProgram{
		SourceID:     source.ID,
		ChannelEpgID: epgID,
		Start:        start,
		Stop:         stop,
		Title:        title,
	}
}

func TestGuideProgramRepo_UpsertBatch(t *testing.T) {
	db, source := setupGuideTestDB(t)
	repo := NewGuideProgramRepository(db)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	stop := start.Add(time.Hour)

	err := repo.UpsertBatch(ctx, []*models.GuideProgram{
		testProgram(source, "news.example", "Evening News", start, stop),
	})
	require.NoError(t, err)

	// Same (source, channel, start) with new details replaces in place.
	err = repo.UpsertBatch(ctx, []*models.GuideProgram{
		testProgram(source, "news.example", "Evening News Special", start, stop.Add(30*time.Minute)),
	})
	require.NoError(t, err)

	count, err := repo.CountBySourceID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	current, err := repo.GetCurrent(ctx, "news.example", start.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "Evening News Special", current.Title)
	assert.Equal(t, stop.Add(30*time.Minute).Unix(), current.Stop.Unix())
}

func TestGuideProgramRepo_GetCurrent(t *testing.T) {
	db, source := setupGuideTestDB(t)
	repo := NewGuideProgramRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertBatch(ctx, []*models.GuideProgram{
		testProgram(source, "news.example", "Earlier", base.Add(-time.Hour), base),
		testProgram(source, "news.example", "Now Airing", base, base.Add(time.Hour)),
		testProgram(source, "news.example", "Later", base.Add(time.Hour), base.Add(2*time.Hour)),
	}))

	tests := []struct {
		name  string
		at    time.Time
		title string
		found bool
	}{
		{name: "mid program", at: base.Add(30 * time.Minute), title: "Now Airing", found: true},
		{name: "exact start", at: base, title: "Now Airing", found: true},
		{name: "exact stop belongs to next", at: base.Add(time.Hour), title: "Later", found: true},
		{name: "before all programs", at: base.Add(-2 * time.Hour), found: false},
		{name: "unknown channel", at: base.Add(30 * time.Minute), found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			epgID := "news.example"
			if tt.name == "unknown channel" {
				epgID = "missing.example"
			}
			program, err := repo.GetCurrent(ctx, epgID, tt.at)
			require.NoError(t, err)
			if !tt.found {
				assert.Nil(t, program)
				return
			}
			require.NotNil(t, program)
			assert.Equal(t, tt.title, program.Title)
		})
	}
}

func TestGuideProgramRepo_GetUpcoming(t *testing.T) {
	db, source := setupGuideTestDB(t)
	repo := NewGuideProgramRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertBatch(ctx, []*models.GuideProgram{
		testProgram(source, "news.example", "Third", base.Add(2*time.Hour), base.Add(3*time.Hour)),
		testProgram(source, "news.example", "First", base, base.Add(time.Hour)),
		testProgram(source, "news.example", "Second", base.Add(time.Hour), base.Add(2*time.Hour)),
		testProgram(source, "news.example", "Past", base.Add(-time.Hour), base),
	}))

	programs, err := repo.GetUpcoming(ctx, "news.example", base, 2)
	require.NoError(t, err)
	require.Len(t, programs, 2)
	assert.Equal(t, "First", programs[0].Title)
	assert.Equal(t, "Second", programs[1].Title)
}

func TestGuideProgramRepo_DeleteExpired(t *testing.T) {
	db, source := setupGuideTestDB(t)
	repo := NewGuideProgramRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertBatch(ctx, []*models.GuideProgram{
		testProgram(source, "news.example", "Old", base.Add(-3*time.Hour), base.Add(-2*time.Hour)),
		testProgram(source, "news.example", "Recent", base.Add(-time.Hour), base),
		testProgram(source, "news.example", "Current", base, base.Add(time.Hour)),
	}))

	deleted, err := repo.DeleteExpired(ctx, base.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err := repo.CountBySourceID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestGuideProgramRepo_DeleteBySourceID(t *testing.T) {
	db, source := setupGuideTestDB(t)
	repo := NewGuideProgramRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertBatch(ctx, []*models.GuideProgram{
		testProgram(source, "news.example", "A", base, base.Add(time.Hour)),
		testProgram(source, "sports.example", "B", base, base.Add(time.Hour)),
	}))

	require.NoError(t, repo.DeleteBySourceID(ctx, source.ID))

	count, err := repo.CountBySourceID(ctx, source.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestGuideProgramRepo_ForEach(t *testing.T) {
	db, source := setupGuideTestDB(t)
	repo := NewGuideProgramRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertBatch(ctx, []*models.GuideProgram{
		testProgram(source, "sports.example", "Match", base, base.Add(time.Hour)),
		testProgram(source, "news.example", "Late News", base.Add(time.Hour), base.Add(2*time.Hour)),
		testProgram(source, "news.example", "Evening News", base, base.Add(time.Hour)),
	}))

	var seen []string
	err := repo.ForEach(ctx, func(p *models.GuideProgram) error {
		seen = append(seen, p.ChannelEpgID+"/"+p.Title)
		return nil
	})
	require.NoError(t, err)

	// Grouped by channel, then chronological within the channel.
	assert.Equal(t, []string{
		"news.example/Evening News",
		"news.example/Late News",
		"sports.example/Match",
	}, seen)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}
