package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestService(t *testing.T) (*Service, *config.Config) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Setting{}))

	cfg := &config.Config{}
	cfg.Server.Port = 5004
	cfg.Server.AdvertisedHost = ""
	cfg.Discovery.FriendlyName = "tunerr"
	cfg.Discovery.TunerCount = 4

	return New(cfg, repository.NewSettingRepository(db)), cfg
}

func TestService_SnapshotFromConfig(t *testing.T) {
	svc, _ := setupTestService(t)

	snap := svc.Snapshot()
	assert.Empty(t, snap.AdvertisedHost)
	assert.Equal(t, "tunerr", snap.FriendlyName)
	assert.Equal(t, 4, snap.TunerCount)
}

func TestService_SetOverridesConfig(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, models.SettingAdvertisedHost, "10.0.0.5:5004"))
	require.NoError(t, svc.Set(ctx, models.SettingFriendlyName, "Living Room Tuner"))
	require.NoError(t, svc.Set(ctx, models.SettingTunerCount, "8"))

	snap := svc.Snapshot()
	assert.Equal(t, "10.0.0.5:5004", snap.AdvertisedHost)
	assert.Equal(t, "Living Room Tuner", snap.FriendlyName)
	assert.Equal(t, 8, snap.TunerCount)
}

func TestService_ClearRestoresConfig(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, models.SettingFriendlyName, "Custom"))
	assert.Equal(t, "Custom", svc.Snapshot().FriendlyName)

	require.NoError(t, svc.Clear(ctx, models.SettingFriendlyName))
	assert.Equal(t, "tunerr", svc.Snapshot().FriendlyName)
}

func TestService_SetValidation(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		key     string
		value   string
		wantErr error
	}{
		{name: "unknown key", key: "nope", value: "x", wantErr: ErrUnknownKey},
		{name: "host with scheme", key: models.SettingAdvertisedHost, value: "http://10.0.0.5", wantErr: ErrInvalidValue},
		{name: "host with path", key: models.SettingAdvertisedHost, value: "10.0.0.5/stream", wantErr: ErrInvalidValue},
		{name: "empty host", key: models.SettingAdvertisedHost, value: "  ", wantErr: ErrInvalidValue},
		{name: "empty friendly name", key: models.SettingFriendlyName, value: "", wantErr: ErrInvalidValue},
		{name: "tuner count not a number", key: models.SettingTunerCount, value: "four", wantErr: ErrInvalidValue},
		{name: "tuner count zero", key: models.SettingTunerCount, value: "0", wantErr: ErrInvalidValue},
		{name: "tuner count too high", key: models.SettingTunerCount, value: "64", wantErr: ErrInvalidValue},
		{name: "valid host with port", key: models.SettingAdvertisedHost, value: "tuner.local:5004"},
		{name: "valid bare host", key: models.SettingAdvertisedHost, value: "tuner.local"},
		{name: "valid tuner count", key: models.SettingTunerCount, value: "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Set(ctx, tt.key, tt.value)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestService_RefreshIgnoresBadStoredValues(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	// Bypass Set validation to simulate a row written by an older build.
	require.NoError(t, svc.repo.Set(ctx, models.SettingTunerCount, "not-a-number"))
	require.NoError(t, svc.repo.Set(ctx, "legacy.key", "whatever"))

	require.NoError(t, svc.Refresh(ctx))

	snap := svc.Snapshot()
	assert.Equal(t, 4, snap.TunerCount, "invalid stored count should fall back to config")
}

func TestService_WatchWithoutConfigFile(t *testing.T) {
	svc, _ := setupTestService(t)

	err := svc.Watch(context.Background(), "", nil)
	require.NoError(t, err)
}

func TestService_WatchReloadsOnWrite(t *testing.T) {
	svc, _ := setupTestService(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discovery:\n  friendly_name: before\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := &config.Config{}
	reloaded.Discovery.FriendlyName = "after"
	reloaded.Discovery.TunerCount = 4

	err := svc.Watch(ctx, path, func() (*config.Config, error) {
		return reloaded, nil
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("discovery:\n  friendly_name: after\n"), 0o644))

	require.Eventually(t, func() bool {
		return svc.Snapshot().FriendlyName == "after"
	}, 5*time.Second, 50*time.Millisecond, "snapshot should pick up the reloaded config")
}
