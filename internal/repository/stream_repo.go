package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/tunerr/internal/models"
	"gorm.io/gorm"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

// Create creates a new stream.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Create(stream).Error; err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// GetByID retrieves a stream by ID.
func (r *streamRepo) GetByID(ctx context.Context, id models.ULID) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// GetByChannelID retrieves all streams for a channel ordered by priority.
func (r *streamRepo) GetByChannelID(ctx context.Context, channelID models.ULID) ([]*models.Stream, error) {
	var streams []*models.Stream
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("priority ASC, id ASC").
		Find(&streams).Error
	if err != nil {
		return nil, fmt.Errorf("getting streams by channel ID: %w", err)
	}
	return streams, nil
}

// GetFirstEnabled retrieves the highest-priority enabled stream for a channel.
func (r *streamRepo) GetFirstEnabled(ctx context.Context, channelID models.ULID) (*models.Stream, error) {
	var stream models.Stream
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND enabled = ?", channelID, true).
		Order("priority ASC, id ASC").
		First(&stream).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting first enabled stream: %w", err)
	}
	return &stream, nil
}

// ReplaceForChannel replaces all streams of a channel with the given set.
// Runs in a transaction so a failed refresh never leaves a channel without
// streams.
func (r *streamRepo) ReplaceForChannel(ctx context.Context, channelID models.ULID, streams []*models.Stream) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("channel_id = ?", channelID).Delete(&models.Stream{}).Error; err != nil {
			return fmt.Errorf("deleting streams for channel: %w", err)
		}
		for _, stream := range streams {
			stream.ChannelID = channelID
			if err := tx.Create(stream).Error; err != nil {
				return fmt.Errorf("creating replacement stream: %w", err)
			}
		}
		return nil
	})
}

// Update updates an existing stream.
func (r *streamRepo) Update(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// UpdateAnalysis records the analyzer outcome for a stream.
func (r *streamRepo) UpdateAnalysis(ctx context.Context, id models.ULID, method, complexity string, at time.Time) error {
	updates := map[string]any{
		"last_method":      method,
		"last_complexity":  complexity,
		"last_analyzed_at": at,
	}
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("updating stream analysis: %w", err)
	}
	return nil
}

// Delete deletes a stream by ID.
func (r *streamRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.Stream{}).Error; err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	return nil
}

// Ensure streamRepo implements StreamRepository at compile time.
var _ StreamRepository = (*streamRepo)(nil)
