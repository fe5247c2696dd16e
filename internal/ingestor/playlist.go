package ingestor

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/urlutil"
	"github.com/jmylchreest/tunerr/pkg/m3u"
)

// maxChannelNumber is the highest guide number a channel can carry.
const maxChannelNumber = 9999

// lineupChannel groups the playlist entries that share an external identity.
// Providers list the same channel several times with different URLs; those
// become one channel with prioritised backup streams.
type lineupChannel struct {
	channel *models.Channel
	entries []*m3u.Entry
}

// refreshPlaylist fetches the source playlist and reconciles channels and
// streams. Channel identity is (source_id, ext_id), so re-runs update in
// place and preserve the enabled flag and any manually assigned numbers.
func (ing *Ingestor) refreshPlaylist(ctx context.Context, source *models.StreamSource) (*PlaylistResult, error) {
	started := time.Now()

	body, err := ing.fetcher.FetchWithOptions(ctx, source.URL, urlutil.FetchOptions{
		Username:  source.Username,
		Password:  source.Password,
		UserAgent: source.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}
	defer body.Close()

	var order []string
	byExt := make(map[string]*lineupChannel)
	skipped := 0

	parser := &m3u.Parser{
		OnEntry: func(entry *m3u.Entry) error {
			if entry.URL == "" {
				skipped++
				return nil
			}
			name := entry.Title
			if name == "" {
				name = entry.TvgName
			}
			if name == "" {
				skipped++
				return nil
			}

			extID := entryExtID(entry)
			lc := byExt[extID]
			if lc == nil {
				lc = &lineupChannel{
					channel: &models.Channel{
						SourceID:   source.ID,
						ExtID:      extID,
						Name:       name,
						EpgID:      entry.TvgID,
						LogoURL:    entry.TvgLogo,
						GroupTitle: entry.GroupTitle,
					},
				}
				byExt[extID] = lc
				order = append(order, extID)
			}
			lc.entries = append(lc.entries, entry)
			return nil
		},
		OnError: func(lineNum int, err error) {
			skipped++
			ing.logger.Debug("skipping malformed playlist entry",
				"source_id", source.ID.String(),
				"line", lineNum,
				"error", err)
		},
	}

	if err := parser.ParseCompressed(body); err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	if len(order) == 0 {
		return nil, ErrEmptyPlaylist
	}

	if err := ing.assignNumbers(ctx, source.ID, order, byExt); err != nil {
		return nil, err
	}

	// Marks the sweep boundary: upserted rows get a fresher updated_at.
	sweepBefore := time.Now()

	channels := make([]*models.Channel, 0, len(order))
	for _, extID := range order {
		channels = append(channels, byExt[extID].channel)
	}
	batchSize := ing.channelBatchSize()
	for start := 0; start < len(channels); start += batchSize {
		end := start + batchSize
		if end > len(channels) {
			end = len(channels)
		}
		if err := ing.channels.UpsertBatch(ctx, channels[start:end]); err != nil {
			return nil, fmt.Errorf("upserting channels: %w", err)
		}
	}

	// The upsert does not backfill IDs for rows that hit the conflict
	// clause, so reload to learn every channel's identity.
	current, err := ing.channels.GetBySourceID(ctx, source.ID)
	if err != nil {
		return nil, fmt.Errorf("reloading channels: %w", err)
	}
	idByExt := make(map[string]models.ULID, len(current))
	for _, ch := range current {
		idByExt[ch.ExtID] = ch.ID
	}

	streamCount := 0
	for _, extID := range order {
		lc := byExt[extID]
		channelID, ok := idByExt[extID]
		if !ok {
			continue
		}
		streams := make([]*models.Stream, 0, len(lc.entries))
		for priority, entry := range lc.entries {
			stream := &models.Stream{
				ChannelID: channelID,
				URL:       entry.URL,
				UserAgent: entry.UserAgent,
				Priority:  priority,
			}
			if len(entry.HTTPHeaders) > 0 {
				if err := stream.SetHeaderMap(entry.HTTPHeaders); err != nil {
					ing.logger.Debug("dropping unencodable stream headers", "channel", lc.channel.Name, "error", err)
				}
			}
			streams = append(streams, stream)
		}
		if err := ing.streams.ReplaceForChannel(ctx, channelID, streams); err != nil {
			return nil, fmt.Errorf("replacing streams for %q: %w", lc.channel.Name, err)
		}
		streamCount += len(streams)
	}

	removed, err := ing.channels.DeleteStaleBySourceID(ctx, source.ID, sweepBefore)
	if err != nil {
		return nil, fmt.Errorf("sweeping stale channels: %w", err)
	}

	return &PlaylistResult{
		Channels: len(order),
		Streams:  streamCount,
		Removed:  removed,
		Skipped:  skipped,
		Duration: time.Since(started),
	}, nil
}

// assignNumbers gives every lineup channel a guide number. Existing channels
// keep their number so manual renumbering survives refreshes; new channels
// take their tvg-chno when it is valid and free, otherwise the next free
// number above the current maximum.
func (ing *Ingestor) assignNumbers(ctx context.Context, sourceID models.ULID, order []string, byExt map[string]*lineupChannel) error {
	existing, err := ing.channels.GetBySourceID(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("loading existing channels: %w", err)
	}
	existingNumber := make(map[string]int, len(existing))
	used := make(map[int]bool, len(existing))
	for _, ch := range existing {
		existingNumber[ch.ExtID] = ch.Number
		used[ch.Number] = true
	}

	var pending []*lineupChannel
	for _, extID := range order {
		lc := byExt[extID]
		if n, ok := existingNumber[extID]; ok {
			lc.channel.Number = n
			continue
		}
		pending = append(pending, lc)
	}
	if len(pending) == 0 {
		return nil
	}

	next, err := ing.channels.MaxNumber(ctx)
	if err != nil {
		return fmt.Errorf("finding highest channel number: %w", err)
	}
	next++

	for _, lc := range pending {
		wanted := firstEntry(lc).ChannelNumber
		if wanted >= 1 && wanted <= maxChannelNumber && !used[wanted] {
			lc.channel.Number = wanted
			used[wanted] = true
			continue
		}
		for used[next] {
			next++
		}
		lc.channel.Number = next
		used[next] = true
		next++
	}
	return nil
}

func firstEntry(lc *lineupChannel) *m3u.Entry {
	return lc.entries[0]
}

// entryExtID derives the stable external identity of a playlist entry.
// tvg-id is preferred; playlists without one fall back to the display name,
// which is the best identity those playlists offer.
func entryExtID(entry *m3u.Entry) string {
	if entry.TvgID != "" {
		return entry.TvgID
	}
	if entry.TvgName != "" {
		return entry.TvgName
	}
	if entry.Title != "" {
		return entry.Title
	}
	return entry.URL
}
