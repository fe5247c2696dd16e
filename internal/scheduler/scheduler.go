// Package scheduler triggers source refreshes on their cron schedules and
// prunes expired guide data. It polls rather than keeping per-source timers:
// every sync interval it checks which enabled sources have a schedule due
// and hands them to the ingestor, whose in-flight guard absorbs overlap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/tunerr/internal/ingestor"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/repository"
)

// Refresher is the slice of the ingestor the scheduler drives.
type Refresher interface {
	RefreshStreamSource(ctx context.Context, id models.ULID) (*ingestor.PlaylistResult, error)
	RefreshGuideSource(ctx context.Context, id models.ULID) (*ingestor.GuideResult, error)
	RefreshAll(ctx context.Context) error
	PruneExpiredPrograms(ctx context.Context) (int64, error)
}

// Config holds scheduler timing knobs.
type Config struct {
	// SyncInterval is how often due schedules are checked. Default: 1 minute.
	SyncInterval time.Duration

	// PruneInterval is how often expired guide programs are swept.
	// Default: 1 hour.
	PruneInterval time.Duration

	// RefreshOnStart refreshes every enabled source once at startup.
	RefreshOnStart bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		SyncInterval:  time.Minute,
		PruneInterval: time.Hour,
	}
}

// Scheduler runs the background refresh loop.
type Scheduler struct {
	mu sync.Mutex

	sources repository.StreamSourceRepository
	guides  repository.GuideSourceRepository

	refresher Refresher
	logger    *slog.Logger

	parser cron.Parser

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	syncInterval   time.Duration
	pruneInterval  time.Duration
	refreshOnStart bool
}

// New creates a scheduler over the given sources and refresher.
func New(
	sources repository.StreamSourceRepository,
	guides repository.GuideSourceRepository,
	refresher Refresher,
) *Scheduler {
	cfg := DefaultConfig()
	return &Scheduler{
		sources:       sources,
		guides:        guides,
		refresher:     refresher,
		logger:        slog.Default(),
		parser:        cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		syncInterval:  cfg.SyncInterval,
		pruneInterval: cfg.PruneInterval,
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger.With("component", "scheduler")
	return s
}

// WithConfig applies configuration to the scheduler.
func (s *Scheduler) WithConfig(cfg Config) *Scheduler {
	if cfg.SyncInterval > 0 {
		s.syncInterval = cfg.SyncInterval
	}
	if cfg.PruneInterval > 0 {
		s.pruneInterval = cfg.PruneInterval
	}
	s.refreshOnStart = cfg.RefreshOnStart
	return s
}

// ValidateCron reports whether expr is a parseable five-field cron schedule.
func (s *Scheduler) ValidateCron(expr string) error {
	_, err := s.parser.Parse(expr)
	return err
}

// Start begins the background sync loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("scheduler started",
		slog.Duration("sync_interval", s.syncInterval),
		slog.Duration("prune_interval", s.pruneInterval),
		slog.Bool("refresh_on_start", s.refreshOnStart))

	return nil
}

// Stop stops the scheduler and waits for in-flight work to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	if s.refreshOnStart {
		if err := s.refresher.RefreshAll(s.ctx); err != nil {
			s.logger.Error("startup refresh failed", slog.Any("error", err))
		}
	}
	if _, err := s.refresher.PruneExpiredPrograms(s.ctx); err != nil {
		s.logger.Error("guide prune failed", slog.Any("error", err))
	}

	syncTicker := time.NewTicker(s.syncInterval)
	defer syncTicker.Stop()
	pruneTicker := time.NewTicker(s.pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-syncTicker.C:
			s.syncSchedules(s.ctx)
		case <-pruneTicker.C:
			if _, err := s.refresher.PruneExpiredPrograms(s.ctx); err != nil {
				s.logger.Error("guide prune failed", slog.Any("error", err))
			}
		}
	}
}

// syncSchedules refreshes every enabled source whose schedule is due.
func (s *Scheduler) syncSchedules(ctx context.Context) {
	s.syncStreamSources(ctx)
	s.syncGuideSources(ctx)
}

func (s *Scheduler) syncStreamSources(ctx context.Context) {
	sources, err := s.sources.GetEnabled(ctx)
	if err != nil {
		s.logger.Error("failed to list stream sources for scheduling", slog.Any("error", err))
		return
	}

	for _, source := range sources {
		if source.CronSchedule == "" || !s.isDue(source.CronSchedule) {
			continue
		}
		if _, err := s.refresher.RefreshStreamSource(ctx, source.ID); err != nil {
			if errors.Is(err, ingestor.ErrRefreshInFlight) {
				continue
			}
			s.logger.Error("scheduled playlist refresh failed",
				slog.String("source", source.Name),
				slog.Any("error", err))
		}
	}
}

func (s *Scheduler) syncGuideSources(ctx context.Context) {
	sources, err := s.guides.GetEnabled(ctx)
	if err != nil {
		s.logger.Error("failed to list guide sources for scheduling", slog.Any("error", err))
		return
	}

	for _, source := range sources {
		if source.CronSchedule == "" || !s.isDue(source.CronSchedule) {
			continue
		}
		if _, err := s.refresher.RefreshGuideSource(ctx, source.ID); err != nil {
			if errors.Is(err, ingestor.ErrRefreshInFlight) {
				continue
			}
			s.logger.Error("scheduled guide refresh failed",
				slog.String("source", source.Name),
				slog.Any("error", err))
		}
	}
}

// isDue checks whether a cron schedule falls inside the current sync window.
func (s *Scheduler) isDue(cronExpr string) bool {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		s.logger.Warn("invalid cron expression", slog.String("cron", cronExpr), slog.Any("error", err))
		return false
	}

	now := time.Now()
	next := schedule.Next(now.Add(-s.syncInterval))

	return next.Before(now) || next.Equal(now) || next.Before(now.Add(s.syncInterval))
}
