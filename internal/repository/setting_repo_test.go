package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSettingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Setting{})
	require.NoError(t, err)

	return db
}

func TestSettingRepo_GetMissing(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)

	setting, err := repo.Get(context.Background(), models.SettingAdvertisedHost)
	require.NoError(t, err)
	assert.Nil(t, setting)
}

func TestSettingRepo_SetAndGet(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	err := repo.Set(ctx, models.SettingAdvertisedHost, "10.0.0.5:5004")
	require.NoError(t, err)

	setting, err := repo.Get(ctx, models.SettingAdvertisedHost)
	require.NoError(t, err)
	require.NotNil(t, setting)
	assert.Equal(t, "10.0.0.5:5004", setting.Value)

	// Set on an existing key overwrites in place.
	err = repo.Set(ctx, models.SettingAdvertisedHost, "10.0.0.9:5004")
	require.NoError(t, err)

	setting, err = repo.Get(ctx, models.SettingAdvertisedHost)
	require.NoError(t, err)
	require.NotNil(t, setting)
	assert.Equal(t, "10.0.0.9:5004", setting.Value)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSettingRepo_SetRejectsEmptyKey(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)

	err := repo.Set(context.Background(), "", "value")
	require.ErrorIs(t, err, models.ErrSettingKeyRequired)
}

func TestSettingRepo_Delete(t *testing.T) {
	db := setupSettingTestDB(t)
	repo := NewSettingRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, models.SettingFriendlyName, "Living Room Tuner"))
	require.NoError(t, repo.Delete(ctx, models.SettingFriendlyName))

	setting, err := repo.Get(ctx, models.SettingFriendlyName)
	require.NoError(t, err)
	assert.Nil(t, setting)

	// Deleting a missing key is not an error.
	require.NoError(t, repo.Delete(ctx, models.SettingFriendlyName))
}
