package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/tunerr/internal/ingestor"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/repository"
)

// fakeRefresher records which sources the scheduler asked it to refresh.
type fakeRefresher struct {
	mu           sync.Mutex
	streamCalls  []models.ULID
	guideCalls   []models.ULID
	refreshAlls  int
	pruneCalls   int
	streamErr    error
	refreshAllCh chan struct{}
}

func (f *fakeRefresher) RefreshStreamSource(ctx context.Context, id models.ULID) (*ingestor.PlaylistResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls = append(f.streamCalls, id)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &ingestor.PlaylistResult{}, nil
}

func (f *fakeRefresher) RefreshGuideSource(ctx context.Context, id models.ULID) (*ingestor.GuideResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guideCalls = append(f.guideCalls, id)
	return &ingestor.GuideResult{}, nil
}

func (f *fakeRefresher) RefreshAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshAlls++
	if f.refreshAllCh != nil {
		close(f.refreshAllCh)
		f.refreshAllCh = nil
	}
	return nil
}

func (f *fakeRefresher) PruneExpiredPrograms(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruneCalls++
	return 0, nil
}

func (f *fakeRefresher) streamCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streamCalls)
}

func setupSchedulerDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.StreamSource{}, &models.GuideSource{}))
	return db
}

func newTestScheduler(t *testing.T, db *gorm.DB, refresher Refresher) *Scheduler {
	t.Helper()
	return New(
		repository.NewStreamSourceRepository(db),
		repository.NewGuideSourceRepository(db),
		refresher,
	)
}

func TestIsDue(t *testing.T) {
	db := setupSchedulerDB(t)
	s := newTestScheduler(t, db, &fakeRefresher{})

	// Every minute is always inside the sync window.
	assert.True(t, s.isDue("* * * * *"))

	// February 31st never arrives.
	assert.False(t, s.isDue("0 0 31 2 *"))

	// Garbage expressions are not due.
	assert.False(t, s.isDue("not a cron"))
}

func TestValidateCron(t *testing.T) {
	db := setupSchedulerDB(t)
	s := newTestScheduler(t, db, &fakeRefresher{})

	assert.NoError(t, s.ValidateCron("*/30 * * * *"))
	assert.NoError(t, s.ValidateCron("0 4 * * 1"))
	assert.Error(t, s.ValidateCron("every tuesday"))
	assert.Error(t, s.ValidateCron("* * * *"))
}

func TestSyncSchedules_RefreshesDueSources(t *testing.T) {
	db := setupSchedulerDB(t)
	refresher := &fakeRefresher{}
	s := newTestScheduler(t, db, refresher)

	due := &models.StreamSource{
		Name:         "due",
		URL:          "http://example.com/due.m3u",
		Enabled:      models.BoolPtr(true),
		CronSchedule: "* * * * *",
	}
	notDue := &models.StreamSource{
		Name:         "not-due",
		URL:          "http://example.com/not-due.m3u",
		Enabled:      models.BoolPtr(true),
		CronSchedule: "0 0 31 2 *",
	}
	unscheduled := &models.StreamSource{
		Name:    "unscheduled",
		URL:     "http://example.com/unscheduled.m3u",
		Enabled: models.BoolPtr(true),
	}
	disabled := &models.StreamSource{
		Name:         "disabled",
		URL:          "http://example.com/disabled.m3u",
		Enabled:      models.BoolPtr(false),
		CronSchedule: "* * * * *",
	}
	for _, src := range []*models.StreamSource{due, notDue, unscheduled, disabled} {
		require.NoError(t, db.Create(src).Error)
	}

	guide := &models.GuideSource{
		Name:         "guide",
		URL:          "http://example.com/guide.xml",
		Enabled:      models.BoolPtr(true),
		CronSchedule: "* * * * *",
	}
	require.NoError(t, db.Create(guide).Error)

	s.syncSchedules(context.Background())

	require.Len(t, refresher.streamCalls, 1)
	assert.Equal(t, due.ID, refresher.streamCalls[0])
	require.Len(t, refresher.guideCalls, 1)
	assert.Equal(t, guide.ID, refresher.guideCalls[0])
}

func TestSyncSchedules_InFlightIsNotAnError(t *testing.T) {
	db := setupSchedulerDB(t)
	refresher := &fakeRefresher{streamErr: ingestor.ErrRefreshInFlight}
	s := newTestScheduler(t, db, refresher)

	source := &models.StreamSource{
		Name:         "busy",
		URL:          "http://example.com/busy.m3u",
		Enabled:      models.BoolPtr(true),
		CronSchedule: "* * * * *",
	}
	require.NoError(t, db.Create(source).Error)

	// Should not panic or spin; the in-flight error is swallowed.
	s.syncSchedules(context.Background())
	assert.Equal(t, 1, refresher.streamCallCount())
}

func TestStartStop_RefreshOnStart(t *testing.T) {
	db := setupSchedulerDB(t)
	done := make(chan struct{})
	refresher := &fakeRefresher{refreshAllCh: done}
	s := newTestScheduler(t, db, refresher).WithConfig(Config{
		SyncInterval:   time.Hour,
		PruneInterval:  time.Hour,
		RefreshOnStart: true,
	})

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()), "double start must fail")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("startup refresh never ran")
	}

	s.Stop()

	refresher.mu.Lock()
	defer refresher.mu.Unlock()
	assert.Equal(t, 1, refresher.refreshAlls)
	assert.GreaterOrEqual(t, refresher.pruneCalls, 1, "prune runs once at startup")
}

func TestWithConfig_Defaults(t *testing.T) {
	db := setupSchedulerDB(t)
	s := newTestScheduler(t, db, &fakeRefresher{})

	// Zero values keep the defaults.
	s.WithConfig(Config{})
	assert.Equal(t, time.Minute, s.syncInterval)
	assert.Equal(t, time.Hour, s.pruneInterval)

	s.WithConfig(Config{SyncInterval: 30 * time.Second, PruneInterval: 10 * time.Minute})
	assert.Equal(t, 30*time.Second, s.syncInterval)
	assert.Equal(t, 10*time.Minute, s.pruneInterval)
}
