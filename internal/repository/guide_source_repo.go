package repository

import (
	"context"
	"fmt"

	"github.com/jmylchreest/tunerr/internal/models"
	"gorm.io/gorm"
)

// guideSourceRepo implements GuideSourceRepository using GORM.
type guideSourceRepo struct {
	db *gorm.DB
}

// NewGuideSourceRepository creates a new GuideSourceRepository.
func NewGuideSourceRepository(db *gorm.DB) *guideSourceRepo {
	return &guideSourceRepo{db: db}
}

// Create creates a new guide source.
func (r *guideSourceRepo) Create(ctx context.Context, source *models.GuideSource) error {
	if err := r.db.WithContext(ctx).Create(source).Error; err != nil {
		return fmt.Errorf("creating guide source: %w", err)
	}
	return nil
}

// GetByID retrieves a guide source by ID.
func (r *guideSourceRepo) GetByID(ctx context.Context, id models.ULID) (*models.GuideSource, error) {
	var source models.GuideSource
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting guide source by ID: %w", err)
	}
	return &source, nil
}

// GetByName retrieves a guide source by name.
func (r *guideSourceRepo) GetByName(ctx context.Context, name string) (*models.GuideSource, error) {
	var source models.GuideSource
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&source).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting guide source by name: %w", err)
	}
	return &source, nil
}

// GetAll retrieves all guide sources.
func (r *guideSourceRepo) GetAll(ctx context.Context) ([]*models.GuideSource, error) {
	var sources []*models.GuideSource
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting all guide sources: %w", err)
	}
	return sources, nil
}

// GetEnabled retrieves all enabled guide sources.
func (r *guideSourceRepo) GetEnabled(ctx context.Context) ([]*models.GuideSource, error) {
	var sources []*models.GuideSource
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("name ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("getting enabled guide sources: %w", err)
	}
	return sources, nil
}

// Update updates an existing guide source.
func (r *guideSourceRepo) Update(ctx context.Context, source *models.GuideSource) error {
	if err := r.db.WithContext(ctx).Save(source).Error; err != nil {
		return fmt.Errorf("updating guide source: %w", err)
	}
	return nil
}

// Delete hard-deletes a guide source and its programs.
func (r *guideSourceRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("source_id = ?", id).Delete(&models.GuideProgram{}).Error; err != nil {
			return fmt.Errorf("deleting programs for guide source: %w", err)
		}
		if err := tx.Unscoped().Where("id = ?", id).Delete(&models.GuideSource{}).Error; err != nil {
			return fmt.Errorf("deleting guide source: %w", err)
		}
		return nil
	})
}

// Ensure guideSourceRepo implements GuideSourceRepository at compile time.
var _ GuideSourceRepository = (*guideSourceRepo)(nil)
