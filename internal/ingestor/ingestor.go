// Package ingestor refreshes channel and guide data from upstream sources:
// M3U playlists become channels with their backing streams, XMLTV documents
// become guide programs. Refreshes are mark-and-sweep: rows are upserted by
// external identity, then rows the upstream no longer carries are removed.
package ingestor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/httpclient"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/repository"
	"github.com/jmylchreest/tunerr/internal/urlutil"
)

var (
	// ErrRefreshInFlight is returned when a refresh for the same source is
	// already running.
	ErrRefreshInFlight = errors.New("refresh already in progress")

	// ErrSourceNotFound is returned when the source id resolves to nothing.
	ErrSourceNotFound = errors.New("source not found")

	// ErrEmptyPlaylist is returned when a playlist parses to zero entries.
	// The refresh aborts rather than sweeping the whole lineup away.
	ErrEmptyPlaylist = errors.New("playlist contains no entries")
)

// Options wires the ingestor to its collaborators.
type Options struct {
	Sources  repository.StreamSourceRepository
	Guides   repository.GuideSourceRepository
	Channels repository.ChannelRepository
	Streams  repository.StreamRepository
	Programs repository.GuideProgramRepository

	Config config.IngestConfig
	Logger *slog.Logger

	// Fetcher overrides the default source fetcher. Nil builds one from
	// Config.HTTPTimeout.
	Fetcher *urlutil.Fetcher

	// OnLineupChanged fires after a playlist refresh changes channels.
	// OnGuideChanged fires after a guide refresh lands new programs.
	// Both are optional; the guide export uses them to invalidate itself.
	OnLineupChanged func()
	OnGuideChanged  func()
}

// Ingestor refreshes stream and guide sources.
type Ingestor struct {
	sources  repository.StreamSourceRepository
	guides   repository.GuideSourceRepository
	channels repository.ChannelRepository
	streams  repository.StreamRepository
	programs repository.GuideProgramRepository

	fetcher *urlutil.Fetcher
	cfg     config.IngestConfig
	logger  *slog.Logger

	onLineupChanged func()
	onGuideChanged  func()

	// inFlight guards against overlapping refreshes of the same source:
	// a cron tick firing while an admin-triggered refresh still runs.
	mu       sync.Mutex
	inFlight map[models.ULID]struct{}
}

// PlaylistResult summarises a playlist refresh.
type PlaylistResult struct {
	// Channels is the number of channels in the refreshed lineup.
	Channels int `json:"channels"`
	// Streams is the total number of stream URLs imported.
	Streams int `json:"streams"`
	// Removed is the number of stale channels swept away.
	Removed int64 `json:"removed"`
	// Skipped counts malformed or unusable playlist entries.
	Skipped int `json:"skipped"`

	Duration time.Duration `json:"duration"`
}

// GuideResult summarises a guide refresh.
type GuideResult struct {
	// Programs is the number of guide programs imported.
	Programs int `json:"programs"`
	// Skipped counts programmes dropped for failing validation.
	Skipped int `json:"skipped"`

	Duration time.Duration `json:"duration"`
}

// New creates an ingestor.
func New(opts Options) *Ingestor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		cfg := httpclient.DefaultConfig()
		if opts.Config.HTTPTimeout > 0 {
			cfg.Timeout = opts.Config.HTTPTimeout
		}
		cfg.Logger = logger
		fetcher = urlutil.NewFetcher(cfg)
	}

	return &Ingestor{
		sources:         opts.Sources,
		guides:          opts.Guides,
		channels:        opts.Channels,
		streams:         opts.Streams,
		programs:        opts.Programs,
		fetcher:         fetcher,
		cfg:             opts.Config,
		logger:          logger.With("component", "ingestor"),
		onLineupChanged: opts.OnLineupChanged,
		onGuideChanged:  opts.OnGuideChanged,
		inFlight:        make(map[models.ULID]struct{}),
	}
}

// begin claims the source for a refresh. Returns false when one is already
// running.
func (ing *Ingestor) begin(id models.ULID) bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	if _, busy := ing.inFlight[id]; busy {
		return false
	}
	ing.inFlight[id] = struct{}{}
	return true
}

func (ing *Ingestor) end(id models.ULID) {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	delete(ing.inFlight, id)
}

// Refreshing reports whether a refresh for the source is in flight.
func (ing *Ingestor) Refreshing(id models.ULID) bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	_, busy := ing.inFlight[id]
	return busy
}

// RefreshStreamSource fetches a playlist source and reconciles its channels
// and streams. Source status transitions through refreshing to success or
// failed either way.
func (ing *Ingestor) RefreshStreamSource(ctx context.Context, id models.ULID) (*PlaylistResult, error) {
	if !ing.begin(id) {
		return nil, ErrRefreshInFlight
	}
	defer ing.end(id)

	source, err := ing.sources.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting stream source: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}

	source.MarkRefreshing()
	if err := ing.sources.Update(ctx, source); err != nil {
		return nil, fmt.Errorf("updating source status: %w", err)
	}

	ing.logger.Info("playlist refresh started",
		"source_id", id.String(),
		"source_name", source.Name,
		"url", httpclient.RedactURLString(source.URL),
	)

	result, err := ing.refreshPlaylist(ctx, source)
	if err != nil {
		source.MarkFailed(err)
		if updateErr := ing.sources.Update(ctx, source); updateErr != nil {
			ing.logger.Error("failed to record refresh failure", "source_id", id.String(), "error", updateErr)
		}
		ing.logger.Error("playlist refresh failed", "source_id", id.String(), "error", err)
		return nil, err
	}

	source.MarkSuccess(result.Channels)
	if err := ing.sources.Update(ctx, source); err != nil {
		ing.logger.Error("failed to record refresh success", "source_id", id.String(), "error", err)
	}

	ing.logger.Info("playlist refresh completed",
		"source_id", id.String(),
		"source_name", source.Name,
		"channels", result.Channels,
		"streams", result.Streams,
		"removed", result.Removed,
		"skipped", result.Skipped,
		"duration", result.Duration.Round(time.Millisecond).String(),
	)

	if ing.onLineupChanged != nil {
		ing.onLineupChanged()
	}

	return result, nil
}

// RefreshGuideSource fetches an XMLTV source and upserts its programs.
func (ing *Ingestor) RefreshGuideSource(ctx context.Context, id models.ULID) (*GuideResult, error) {
	if !ing.begin(id) {
		return nil, ErrRefreshInFlight
	}
	defer ing.end(id)

	source, err := ing.guides.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting guide source: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}

	source.MarkRefreshing()
	if err := ing.guides.Update(ctx, source); err != nil {
		return nil, fmt.Errorf("updating source status: %w", err)
	}

	ing.logger.Info("guide refresh started",
		"source_id", id.String(),
		"source_name", source.Name,
		"url", httpclient.RedactURLString(source.URL),
	)

	result, err := ing.refreshGuide(ctx, source)
	if err != nil {
		source.MarkFailed(err)
		if updateErr := ing.guides.Update(ctx, source); updateErr != nil {
			ing.logger.Error("failed to record refresh failure", "source_id", id.String(), "error", updateErr)
		}
		ing.logger.Error("guide refresh failed", "source_id", id.String(), "error", err)
		return nil, err
	}

	source.MarkSuccess(result.Programs)
	if err := ing.guides.Update(ctx, source); err != nil {
		ing.logger.Error("failed to record refresh success", "source_id", id.String(), "error", err)
	}

	ing.logger.Info("guide refresh completed",
		"source_id", id.String(),
		"source_name", source.Name,
		"programs", result.Programs,
		"skipped", result.Skipped,
		"duration", result.Duration.Round(time.Millisecond).String(),
	)

	if ing.onGuideChanged != nil {
		ing.onGuideChanged()
	}

	return result, nil
}

// RefreshAll refreshes every enabled stream and guide source sequentially.
// One source failing does not stop the others; the first error is returned
// after all sources have run.
func (ing *Ingestor) RefreshAll(ctx context.Context) error {
	var firstErr error

	streamSources, err := ing.sources.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing stream sources: %w", err)
	}
	for _, source := range streamSources {
		if _, err := ing.RefreshStreamSource(ctx, source.ID); err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	guideSources, err := ing.guides.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing guide sources: %w", err)
	}
	for _, source := range guideSources {
		if _, err := ing.RefreshGuideSource(ctx, source.ID); err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return firstErr
}

// PruneExpiredPrograms removes guide programs whose retention window has
// passed. No-op when retention is unset.
func (ing *Ingestor) PruneExpiredPrograms(ctx context.Context) (int64, error) {
	retention := ing.cfg.ProgramRetention.Duration()
	if retention <= 0 {
		return 0, nil
	}

	removed, err := ing.programs.DeleteExpired(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("pruning expired programs: %w", err)
	}
	if removed > 0 {
		ing.logger.Info("pruned expired guide programs", "removed", removed)
	}
	return removed, nil
}

func (ing *Ingestor) channelBatchSize() int {
	if ing.cfg.ChannelBatchSize > 0 {
		return ing.cfg.ChannelBatchSize
	}
	return 500
}

func (ing *Ingestor) programBatchSize() int {
	if ing.cfg.ProgramBatchSize > 0 {
		return ing.cfg.ProgramBatchSize
	}
	return 1000
}
