package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/tunerr/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// channelRepo implements ChannelRepository using GORM.
type channelRepo struct {
	db *gorm.DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) *channelRepo {
	return &channelRepo{db: db}
}

// Create creates a new channel.
func (r *channelRepo) Create(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Create(channel).Error; err != nil {
		return fmt.Errorf("creating channel: %w", err)
	}
	return nil
}

// GetByID retrieves a channel by ID.
func (r *channelRepo) GetByID(ctx context.Context, id models.ULID) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by ID: %w", err)
	}
	return &channel, nil
}

// GetByIDWithStreams retrieves a channel with its streams preloaded,
// ordered by stream priority.
func (r *channelRepo) GetByIDWithStreams(ctx context.Context, id models.ULID) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB {
			return db.Order("priority ASC, id ASC")
		}).
		Where("id = ?", id).
		First(&channel).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel with streams: %w", err)
	}
	return &channel, nil
}

// GetByNumber retrieves a channel by its guide number.
func (r *channelRepo) GetByNumber(ctx context.Context, number int) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("number = ?", number).First(&channel).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by number: %w", err)
	}
	return &channel, nil
}

// GetEnabled retrieves all enabled channels ordered by guide number,
// with streams preloaded by priority.
func (r *channelRepo) GetEnabled(ctx context.Context) ([]*models.Channel, error) {
	var channels []*models.Channel
	err := r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB {
			return db.Order("priority ASC, id ASC")
		}).
		Where("enabled = ?", true).
		Order("number ASC").
		Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("getting enabled channels: %w", err)
	}
	return channels, nil
}

// GetFirstEnabled retrieves the enabled channel with the lowest guide number.
func (r *channelRepo) GetFirstEnabled(ctx context.Context) (*models.Channel, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("number ASC").
		First(&channel).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting first enabled channel: %w", err)
	}
	return &channel, nil
}

// GetAllPaginated retrieves channels with pagination and optional search.
func (r *channelRepo) GetAllPaginated(ctx context.Context, offset, limit int, search string) ([]*models.Channel, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Channel{})
	if search != "" {
		pattern := "%" + search + "%"
		query = query.Where("name LIKE ? OR epg_id LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting channels: %w", err)
	}

	var channels []*models.Channel
	if err := query.Order("number ASC").Offset(offset).Limit(limit).Find(&channels).Error; err != nil {
		return nil, 0, fmt.Errorf("getting paginated channels: %w", err)
	}
	return channels, total, nil
}

// GetByExtID retrieves a channel by source ID and external ID.
func (r *channelRepo) GetByExtID(ctx context.Context, sourceID models.ULID, extID string) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Where("source_id = ? AND ext_id = ?", sourceID, extID).First(&channel).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by ext_id: %w", err)
	}
	return &channel, nil
}

// GetBySourceID retrieves all channels belonging to a source.
func (r *channelRepo) GetBySourceID(ctx context.Context, sourceID models.ULID) ([]*models.Channel, error) {
	var channels []*models.Channel
	err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("number ASC").
		Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("getting channels by source ID: %w", err)
	}
	return channels, nil
}

// UpsertBatch creates or updates channels based on (source_id, ext_id).
// Existing channels keep their enabled flag so a refresh does not undo
// manual curation.
func (r *channelRepo) UpsertBatch(ctx context.Context, channels []*models.Channel) error {
	if len(channels) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}, {Name: "ext_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"number", "name", "epg_id", "logo_url", "group_title", "updated_at",
		}),
	}).Create(channels).Error
	if err != nil {
		return fmt.Errorf("upserting channel batch: %w", err)
	}
	return nil
}

// Update updates an existing channel.
func (r *channelRepo) Update(ctx context.Context, channel *models.Channel) error {
	if err := r.db.WithContext(ctx).Save(channel).Error; err != nil {
		return fmt.Errorf("updating channel: %w", err)
	}
	return nil
}

// Delete deletes a channel by ID.
// Uses Unscoped so the (source_id, ext_id) unique index is freed for
// re-import.
func (r *channelRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.Channel{}).Error; err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}
	return nil
}

// DeleteBySourceID deletes all channels for a source.
func (r *channelRepo) DeleteBySourceID(ctx context.Context, sourceID models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("source_id = ?", sourceID).Delete(&models.Channel{}).Error; err != nil {
		return fmt.Errorf("deleting channels by source ID: %w", err)
	}
	return nil
}

// DeleteStaleBySourceID deletes channels for a source that were not touched
// by the most recent refresh.
func (r *channelRepo) DeleteStaleBySourceID(ctx context.Context, sourceID models.ULID, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().
		Where("source_id = ? AND updated_at < ?", sourceID, olderThan).
		Delete(&models.Channel{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting stale channels: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountEnabled returns the number of enabled channels.
func (r *channelRepo) CountEnabled(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Channel{}).Where("enabled = ?", true).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting enabled channels: %w", err)
	}
	return count, nil
}

// MaxNumber returns the highest guide number in use.
func (r *channelRepo) MaxNumber(ctx context.Context) (int, error) {
	var highest *int
	err := r.db.WithContext(ctx).
		Model(&models.Channel{}).
		Select("MAX(number)").
		Scan(&highest).Error
	if err != nil {
		return 0, fmt.Errorf("getting max channel number: %w", err)
	}
	if highest == nil {
		return 0, nil
	}
	return *highest, nil
}

// Transaction executes the given function within a database transaction.
func (r *channelRepo) Transaction(ctx context.Context, fn func(ChannelRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&channelRepo{db: tx})
	})
}

// Ensure channelRepo implements ChannelRepository at compile time.
var _ ChannelRepository = (*channelRepo)(nil)
