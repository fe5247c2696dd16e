package ingestor

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/urlutil"
	"github.com/jmylchreest/tunerr/pkg/xmltv"
)

// refreshGuide fetches the source XMLTV document and upserts its programmes
// in batches. Programme identity is (source_id, channel_epg_id, start), so
// re-runs update descriptions in place; expired rows age out through
// PruneExpiredPrograms rather than a sweep here.
func (ing *Ingestor) refreshGuide(ctx context.Context, source *models.GuideSource) (*GuideResult, error) {
	started := time.Now()

	body, err := ing.fetcher.FetchWithOptions(ctx, source.URL, urlutil.FetchOptions{
		Username:  source.Username,
		Password:  source.Password,
		UserAgent: source.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching guide: %w", err)
	}
	defer body.Close()

	// Programmes already past retention would be pruned on the next sweep
	// anyway; skip importing them at all.
	var cutoff time.Time
	if retention := ing.cfg.ProgramRetention.Duration(); retention > 0 {
		cutoff = time.Now().Add(-retention)
	}

	batchSize := ing.programBatchSize()
	batch := make([]*models.GuideProgram, 0, batchSize)
	imported, skipped := 0, 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ing.programs.UpsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("upserting programs: %w", err)
		}
		imported += len(batch)
		batch = batch[:0]
		return nil
	}

	parser := &xmltv.Parser{
		OnProgramme: func(p *xmltv.Programme) error {
			if !cutoff.IsZero() && p.Stop.Before(cutoff) {
				skipped++
				return nil
			}
			program := &models.GuideProgram{
				SourceID:     source.ID,
				ChannelEpgID: p.Channel,
				Start:        p.Start.UTC(),
				Stop:         p.Stop.UTC(),
				Title:        p.Title,
				SubTitle:     p.SubTitle,
				Description:  p.Description,
				Category:     p.Category,
				Icon:         p.Icon,
				EpisodeNum:   p.EpisodeNum,
				Rating:       p.Rating,
			}
			if err := program.Validate(); err != nil {
				skipped++
				return nil
			}
			batch = append(batch, program)
			if len(batch) >= batchSize {
				return flush()
			}
			return nil
		},
		OnError: func(err error) {
			skipped++
			ing.logger.Debug("skipping malformed programme", "source_id", source.ID.String(), "error", err)
		},
	}

	if err := parser.ParseCompressed(body); err != nil {
		return nil, fmt.Errorf("parsing guide: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return &GuideResult{
		Programs: imported,
		Skipped:  skipped,
		Duration: time.Since(started),
	}, nil
}
