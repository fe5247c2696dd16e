package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/tunerr/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// guideProgramRepo implements GuideProgramRepository using GORM.
type guideProgramRepo struct {
	db *gorm.DB
}

// NewGuideProgramRepository creates a new GuideProgramRepository.
func NewGuideProgramRepository(db *gorm.DB) *guideProgramRepo {
	return &guideProgramRepo{db: db}
}

// UpsertBatch creates or updates programs based on
// (source_id, channel_epg_id, start).
func (r *guideProgramRepo) UpsertBatch(ctx context.Context, programs []*models.GuideProgram) error {
	if len(programs) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}, {Name: "channel_epg_id"}, {Name: "start"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stop", "title", "sub_title", "description", "category",
			"icon", "episode_num", "rating", "updated_at",
		}),
	}).Create(programs).Error
	if err != nil {
		return fmt.Errorf("upserting guide program batch: %w", err)
	}
	return nil
}

// GetCurrent retrieves the program airing on the given guide channel at the
// given time.
func (r *guideProgramRepo) GetCurrent(ctx context.Context, channelEpgID string, at time.Time) (*models.GuideProgram, error) {
	var program models.GuideProgram
	err := r.db.WithContext(ctx).
		Where("channel_epg_id = ? AND start <= ? AND stop > ?", channelEpgID, at, at).
		Order("start DESC").
		First(&program).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting current program: %w", err)
	}
	return &program, nil
}

// GetUpcoming retrieves up to limit programs starting at or after the given
// time on the given guide channel.
func (r *guideProgramRepo) GetUpcoming(ctx context.Context, channelEpgID string, after time.Time, limit int) ([]*models.GuideProgram, error) {
	if limit <= 0 {
		limit = 10
	}

	var programs []*models.GuideProgram
	err := r.db.WithContext(ctx).
		Where("channel_epg_id = ? AND start >= ?", channelEpgID, after).
		Order("start ASC").
		Limit(limit).
		Find(&programs).Error
	if err != nil {
		return nil, fmt.Errorf("getting upcoming programs: %w", err)
	}
	return programs, nil
}

// DeleteBySourceID deletes all programs for a source.
// Uses Unscoped since programs are fully replaced on each refresh.
func (r *guideProgramRepo) DeleteBySourceID(ctx context.Context, sourceID models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("source_id = ?", sourceID).Delete(&models.GuideProgram{}).Error; err != nil {
		return fmt.Errorf("deleting programs by source ID: %w", err)
	}
	return nil
}

// DeleteExpired deletes programs that ended before the given time.
// Uses Unscoped since expired programs have no value.
func (r *guideProgramRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().Where("stop < ?", before).Delete(&models.GuideProgram{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting expired programs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Count returns the total number of programs across all sources.
func (r *guideProgramRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.GuideProgram{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return count, nil
}

// CountBySourceID returns the number of programs for a source.
func (r *guideProgramRepo) CountBySourceID(ctx context.Context, sourceID models.ULID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.GuideProgram{}).Where("source_id = ?", sourceID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting programs: %w", err)
	}
	return count, nil
}

// ForEach streams all programs through the callback in batches, ordered by
// guide channel then start time. Memory stays bounded for large guides.
func (r *guideProgramRepo) ForEach(ctx context.Context, callback func(*models.GuideProgram) error) error {
	const batchSize = 1000

	return r.db.WithContext(ctx).
		Order("channel_epg_id ASC, start ASC").
		FindInBatches(&[]models.GuideProgram{}, batchSize, func(tx *gorm.DB, batch int) error {
			programs := tx.Statement.Dest.(*[]models.GuideProgram)
			for i := range *programs {
				if err := callback(&(*programs)[i]); err != nil {
					return err
				}
			}
			return nil
		}).Error
}

// Ensure guideProgramRepo implements GuideProgramRepository at compile time.
var _ GuideProgramRepository = (*guideProgramRepo)(nil)
