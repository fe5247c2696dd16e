// Package epg answers guide questions for the tuner surfaces and serves
// the XMLTV export Plex crawls for programme data. The export is a file in
// the data directory, rebuilt lazily after a guide refresh marks it stale
// and replaced atomically so a crawl mid-rebuild never sees a torn file.
package epg

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/renameio/v2"

	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/pkg/format"
	"github.com/jmylchreest/tunerr/pkg/xmltv"
)

// ExportRoute is the canonical path of the XMLTV export. The guide
// redirect on the compat surface points here.
const ExportRoute = "/epg/xmltv.xml"

// exportFilename is the export's name inside the data directory.
const exportFilename = "guide.xml"

// ChannelSource lists the enabled lineup channels that anchor the export.
type ChannelSource interface {
	GetEnabled(ctx context.Context) ([]*models.Channel, error)
}

// ProgramStore is the slice of guide persistence the service reads.
type ProgramStore interface {
	Count(ctx context.Context) (int64, error)
	GetCurrent(ctx context.Context, channelEpgID string, at time.Time) (*models.GuideProgram, error)
	GetUpcoming(ctx context.Context, channelEpgID string, after time.Time, limit int) ([]*models.GuideProgram, error)
	ForEach(ctx context.Context, callback func(*models.GuideProgram) error) error
}

// Options wires the service to its collaborators.
type Options struct {
	Channels ChannelSource
	Programs ProgramStore
	// DataDir is where the export file lives.
	DataDir string
	Logger  *slog.Logger
}

// Service owns guide lookups and the XMLTV export lifecycle.
type Service struct {
	channels ChannelSource
	programs ProgramStore
	dataDir  string
	logger   *slog.Logger

	// exportMu serializes rebuilds; stale flips true after a guide refresh
	// and back to false once a rebuild lands.
	exportMu sync.Mutex
	stale    atomic.Bool
}

// New creates the guide service. The export is considered stale until the
// first rebuild so a fresh boot serves current data.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		channels: opts.Channels,
		programs: opts.Programs,
		dataDir:  opts.DataDir,
		logger:   logger.With("component", "epg"),
	}
	s.stale.Store(true)
	return s
}

// GuideStatus reports whether guide data is loaded and how many programs
// are held. Feeds the emulator's lineup_status and tuner availability.
func (s *Service) GuideStatus(ctx context.Context) (available bool, programs int64) {
	count, err := s.programs.Count(ctx)
	if err != nil {
		s.logger.Warn("guide program count failed", "error", err)
		return false, 0
	}
	return count > 0, count
}

// Current returns the program airing now on the given guide channel, or
// nil when the guide has no entry.
func (s *Service) Current(ctx context.Context, channelEpgID string) (*models.GuideProgram, error) {
	if channelEpgID == "" {
		return nil, nil
	}
	return s.programs.GetCurrent(ctx, channelEpgID, time.Now())
}

// Upcoming returns up to limit programs starting now or later on the given
// guide channel.
func (s *Service) Upcoming(ctx context.Context, channelEpgID string, limit int) ([]*models.GuideProgram, error) {
	if channelEpgID == "" {
		return nil, nil
	}
	return s.programs.GetUpcoming(ctx, channelEpgID, time.Now(), limit)
}

// XMLTVURL returns the export path for guide redirects.
func (s *Service) XMLTVURL() string {
	return ExportRoute
}

// ExportPath returns the on-disk location of the export file.
func (s *Service) ExportPath() string {
	return filepath.Join(s.dataDir, exportFilename)
}

// MarkStale flags the export for rebuild on the next request. Called after
// a guide or playlist refresh changes the underlying data.
func (s *Service) MarkStale() {
	s.stale.Store(true)
}

// RegisterRoutes mounts the export routes. /guide.xml is an alias kept for
// tools that expect the HDHomeRun-adjacent path.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get(ExportRoute, s.handleExport)
	r.Get("/guide.xml", s.handleExport)
}

// Export rebuilds the XMLTV file from the current lineup and guide data.
// The file is written to a temp name and renamed into place so concurrent
// readers always see a complete document.
func (s *Service) Export(ctx context.Context) error {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()

	start := time.Now()

	channels, err := s.channels.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading lineup channels: %w", err)
	}

	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	pending, err := renameio.NewPendingFile(s.ExportPath(), renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("creating pending export file: %w", err)
	}
	defer pending.Cleanup()

	w := xmltv.NewWriter(pending)
	if err := w.WriteHeader(); err != nil {
		return fmt.Errorf("writing export header: %w", err)
	}

	// Guide ids the export covers: programmes for channels outside the
	// lineup are skipped so Plex never sees orphaned guide entries.
	ids := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		id := guideID(ch)
		if _, dup := ids[id]; dup {
			continue
		}
		ids[id] = struct{}{}

		err := w.WriteChannel(&xmltv.Channel{
			ID:          id,
			DisplayName: format.ChannelName(ch.Name),
			Icon:        ch.LogoURL,
		})
		if err != nil {
			return fmt.Errorf("writing channel %s: %w", id, err)
		}
	}

	var written, skipped int64
	err = s.programs.ForEach(ctx, func(p *models.GuideProgram) error {
		if _, ok := ids[p.ChannelEpgID]; !ok {
			skipped++
			return nil
		}
		written++
		return w.WriteProgramme(&xmltv.Programme{
			Start:       p.Start,
			Stop:        p.Stop,
			Channel:     p.ChannelEpgID,
			Title:       p.Title,
			SubTitle:    p.SubTitle,
			Description: p.Description,
			Category:    p.Category,
			Icon:        p.Icon,
			EpisodeNum:  p.EpisodeNum,
			Rating:      p.Rating,
		})
	})
	if err != nil {
		return fmt.Errorf("writing programmes: %w", err)
	}

	if err := w.WriteFooter(); err != nil {
		return fmt.Errorf("writing export footer: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replacing export file: %w", err)
	}

	s.stale.Store(false)
	s.logger.Info("guide export rebuilt",
		"channels", len(channels),
		"programs", written,
		"skipped", skipped,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return nil
}

// handleExport serves the export file, rebuilding first when stale or
// missing. A failed rebuild falls back to the previous file when one
// exists rather than breaking the guide crawl.
func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	path := s.ExportPath()

	if s.needsRebuild(path) {
		if err := s.Export(r.Context()); err != nil {
			s.logger.Error("guide export rebuild failed", "error", err)
			if _, statErr := os.Stat(path); statErr != nil {
				http.Error(w, "guide export unavailable", http.StatusServiceUnavailable)
				return
			}
			// Serve the stale file below.
		}
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	http.ServeFile(w, r, path)
}

func (s *Service) needsRebuild(path string) bool {
	if s.stale.Load() {
		return true
	}
	_, err := os.Stat(path)
	return err != nil
}

// guideID resolves the XMLTV channel id for a lineup channel. Channels
// without guide data get a synthetic id so they still appear in the
// export's channel list.
func guideID(ch *models.Channel) string {
	if ch.EpgID != "" {
		return ch.EpgID
	}
	return fmt.Sprintf("tunerr.%d", ch.Number)
}
