// Package repository defines data access interfaces for tunerr entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/tunerr/internal/models"
)

// StreamSourceRepository defines operations for stream source persistence.
type StreamSourceRepository interface {
	// Create creates a new stream source.
	Create(ctx context.Context, source *models.StreamSource) error
	// GetByID retrieves a stream source by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.StreamSource, error)
	// GetByName retrieves a stream source by name.
	GetByName(ctx context.Context, name string) (*models.StreamSource, error)
	// GetAll retrieves all stream sources.
	GetAll(ctx context.Context) ([]*models.StreamSource, error)
	// GetEnabled retrieves all enabled stream sources ordered by priority.
	GetEnabled(ctx context.Context) ([]*models.StreamSource, error)
	// Update updates an existing stream source.
	Update(ctx context.Context, source *models.StreamSource) error
	// Delete deletes a stream source and its channels.
	Delete(ctx context.Context, id models.ULID) error
}

// ChannelRepository defines operations for channel persistence.
type ChannelRepository interface {
	// Create creates a new channel.
	Create(ctx context.Context, channel *models.Channel) error
	// GetByID retrieves a channel by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetByIDWithStreams retrieves a channel with its streams preloaded,
	// ordered by stream priority.
	GetByIDWithStreams(ctx context.Context, id models.ULID) (*models.Channel, error)
	// GetByNumber retrieves a channel by its guide number.
	GetByNumber(ctx context.Context, number int) (*models.Channel, error)
	// GetEnabled retrieves all enabled channels ordered by guide number,
	// with streams preloaded.
	GetEnabled(ctx context.Context) ([]*models.Channel, error)
	// GetFirstEnabled retrieves the enabled channel with the lowest guide
	// number, or nil when no channel is enabled.
	GetFirstEnabled(ctx context.Context) (*models.Channel, error)
	// GetAllPaginated retrieves channels with pagination and optional
	// case-insensitive name search.
	GetAllPaginated(ctx context.Context, offset, limit int, search string) ([]*models.Channel, int64, error)
	// GetByExtID retrieves a channel by source ID and external ID.
	GetByExtID(ctx context.Context, sourceID models.ULID, extID string) (*models.Channel, error)
	// GetBySourceID retrieves all channels belonging to a source.
	GetBySourceID(ctx context.Context, sourceID models.ULID) ([]*models.Channel, error)
	// UpsertBatch creates or updates channels based on (source_id, ext_id).
	UpsertBatch(ctx context.Context, channels []*models.Channel) error
	// Update updates an existing channel.
	Update(ctx context.Context, channel *models.Channel) error
	// Delete deletes a channel by ID.
	Delete(ctx context.Context, id models.ULID) error
	// DeleteBySourceID deletes all channels for a source.
	DeleteBySourceID(ctx context.Context, sourceID models.ULID) error
	// DeleteStaleBySourceID deletes channels for a source not touched since
	// the given time. Used for mark-and-sweep cleanup after a refresh.
	DeleteStaleBySourceID(ctx context.Context, sourceID models.ULID, olderThan time.Time) (int64, error)
	// CountEnabled returns the number of enabled channels.
	CountEnabled(ctx context.Context) (int64, error)
	// MaxNumber returns the highest guide number in use, or 0 when there
	// are no channels.
	MaxNumber(ctx context.Context) (int, error)
	// Transaction executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	Transaction(ctx context.Context, fn func(ChannelRepository) error) error
}

// StreamRepository defines operations for stream persistence.
type StreamRepository interface {
	// Create creates a new stream.
	Create(ctx context.Context, stream *models.Stream) error
	// GetByID retrieves a stream by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.Stream, error)
	// GetByChannelID retrieves all streams for a channel ordered by priority.
	GetByChannelID(ctx context.Context, channelID models.ULID) ([]*models.Stream, error)
	// GetFirstEnabled retrieves the highest-priority enabled stream for a
	// channel, or nil when the channel has no enabled stream.
	GetFirstEnabled(ctx context.Context, channelID models.ULID) (*models.Stream, error)
	// ReplaceForChannel replaces all streams of a channel with the given set.
	ReplaceForChannel(ctx context.Context, channelID models.ULID, streams []*models.Stream) error
	// Update updates an existing stream.
	Update(ctx context.Context, stream *models.Stream) error
	// UpdateAnalysis records the analyzer outcome for a stream.
	UpdateAnalysis(ctx context.Context, id models.ULID, method, complexity string, at time.Time) error
	// Delete deletes a stream by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// GuideSourceRepository defines operations for guide source persistence.
type GuideSourceRepository interface {
	// Create creates a new guide source.
	Create(ctx context.Context, source *models.GuideSource) error
	// GetByID retrieves a guide source by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.GuideSource, error)
	// GetByName retrieves a guide source by name.
	GetByName(ctx context.Context, name string) (*models.GuideSource, error)
	// GetAll retrieves all guide sources.
	GetAll(ctx context.Context) ([]*models.GuideSource, error)
	// GetEnabled retrieves all enabled guide sources.
	GetEnabled(ctx context.Context) ([]*models.GuideSource, error)
	// Update updates an existing guide source.
	Update(ctx context.Context, source *models.GuideSource) error
	// Delete deletes a guide source and its programs.
	Delete(ctx context.Context, id models.ULID) error
}

// GuideProgramRepository defines operations for guide program persistence.
type GuideProgramRepository interface {
	// UpsertBatch creates or updates programs based on
	// (source_id, channel_epg_id, start).
	UpsertBatch(ctx context.Context, programs []*models.GuideProgram) error
	// GetCurrent retrieves the program airing on the given guide channel at
	// the given time, or nil when the guide has no entry.
	GetCurrent(ctx context.Context, channelEpgID string, at time.Time) (*models.GuideProgram, error)
	// GetUpcoming retrieves up to limit programs starting at or after the
	// given time on the given guide channel, ordered by start time.
	GetUpcoming(ctx context.Context, channelEpgID string, after time.Time, limit int) ([]*models.GuideProgram, error)
	// DeleteBySourceID deletes all programs for a source.
	DeleteBySourceID(ctx context.Context, sourceID models.ULID) error
	// DeleteExpired deletes programs that ended before the given time.
	// Returns the number of rows removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	// Count returns the total number of programs across all sources.
	Count(ctx context.Context) (int64, error)
	// CountBySourceID returns the number of programs for a source.
	CountBySourceID(ctx context.Context, sourceID models.ULID) (int64, error)
	// ForEach streams all programs ordered by guide channel then start time
	// through the callback. Processing happens in batches so large guides
	// never load fully into memory. A callback error aborts the iteration.
	ForEach(ctx context.Context, callback func(*models.GuideProgram) error) error
}

// SettingRepository defines operations for runtime setting persistence.
type SettingRepository interface {
	// Get retrieves a setting by key, or nil when the key is not set.
	Get(ctx context.Context, key string) (*models.Setting, error)
	// GetAll retrieves all settings.
	GetAll(ctx context.Context) ([]*models.Setting, error)
	// Set creates or updates a setting.
	Set(ctx context.Context, key, value string) error
	// Delete removes a setting by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
