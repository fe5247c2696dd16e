package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/tunerr/internal/models"
	"gorm.io/gorm"
)

// streamSourceRepo implements StreamSourceRepository using GORM.
type streamSourceRepo struct {
	db *gorm.DB
}

// NewStreamSourceRepository creates a new StreamSourceRepository.
func NewStreamSourceRepository(db *gorm.DB) *streamSourceRepo {
	return &streamSourceRepo{db: db}
}

// Create creates a new stream source.
func (r *streamSourceRepo) Create(ctx context.Context, source *models.StreamSource) error {
	if err := r.db.WithContext(ctx).Create(source).Error; err != nil {
		return fmt.Errorf("creating stream source: %w", err)
	}
	return nil
}

// GetByID retrieves a stream source by ID.
func (r *streamSourceRepo) GetByID(ctx context.Context, id models.ULID) (*models.StreamSource, error) {
	var source models.StreamSource
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream source by ID: %w", err)
	}
	return &source, nil
}

// GetByName retrieves a stream source by name.
func (r *streamSourceRepo) GetByName(ctx context.Context, name string) (*models.StreamSource, error) {
	var source models.StreamSource
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream source by name: %w", err)
	}
	return &source, nil
}

// GetAll retrieves all stream sources.
func (r *streamSourceRepo) GetAll(ctx context.Context) ([]*models.StreamSource, error) {
	var sources []*models.StreamSource
	if err := r.db.WithContext(ctx).Order("priority DESC, name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting all stream sources: %w", err)
	}
	return sources, nil
}

// GetEnabled retrieves all enabled stream sources ordered by priority.
func (r *streamSourceRepo) GetEnabled(ctx context.Context) ([]*models.StreamSource, error) {
	var sources []*models.StreamSource
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("priority DESC, name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting enabled stream sources: %w", err)
	}
	return sources, nil
}

// Update updates an existing stream source.
func (r *streamSourceRepo) Update(ctx context.Context, source *models.StreamSource) error {
	if err := r.db.WithContext(ctx).Save(source).Error; err != nil {
		return fmt.Errorf("updating stream source: %w", err)
	}
	return nil
}

// Delete hard-deletes a stream source and its channels.
// Uses Unscoped to permanently remove the record so the unique name
// constraint doesn't conflict when re-creating a source with the same name.
func (r *streamSourceRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var channelIDs []models.ULID
		if err := tx.Model(&models.Channel{}).Where("source_id = ?", id).Pluck("id", &channelIDs).Error; err != nil {
			return fmt.Errorf("listing channels for source: %w", err)
		}
		if len(channelIDs) > 0 {
			if err := tx.Unscoped().Where("channel_id IN ?", channelIDs).Delete(&models.Stream{}).Error; err != nil {
				return fmt.Errorf("deleting streams for source: %w", err)
			}
		}
		if err := tx.Unscoped().Where("source_id = ?", id).Delete(&models.Channel{}).Error; err != nil {
			return fmt.Errorf("deleting channels for source: %w", err)
		}
		if err := tx.Unscoped().Where("id = ?", id).Delete(&models.StreamSource{}).Error; err != nil {
			return fmt.Errorf("deleting stream source: %w", err)
		}
		return nil
	})
}

// Ensure streamSourceRepo implements StreamSourceRepository at compile time.
var _ StreamSourceRepository = (*streamSourceRepo)(nil)
