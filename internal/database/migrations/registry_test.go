package migrations

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

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db
}

func TestAllMigrations_VersionsAreUnique(t *testing.T) {
	migrations := AllMigrations()
	versions := make(map[string]bool)

	for _, m := range migrations {
		assert.False(t, versions[m.Version], "duplicate version: %s", m.Version)
		versions[m.Version] = true
	}
}

func TestAllMigrations_VersionsAreOrdered(t *testing.T) {
	migrations := AllMigrations()

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version,
			"migrations should be in ascending version order")
	}
}

func TestMigrator_Up_AllMigrations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	err := migrator.Up(ctx)
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable("stream_sources"))
	assert.True(t, db.Migrator().HasTable("channels"))
	assert.True(t, db.Migrator().HasTable("streams"))
	assert.True(t, db.Migrator().HasTable("guide_sources"))
	assert.True(t, db.Migrator().HasTable("guide_programs"))
	assert.True(t, db.Migrator().HasTable("settings"))
	assert.True(t, db.Migrator().HasTable("schema_migrations"))

	assert.True(t, db.Migrator().HasColumn("streams", "last_method"))
	assert.True(t, db.Migrator().HasColumn("streams", "last_complexity"))
	assert.True(t, db.Migrator().HasColumn("streams", "last_analyzed_at"))
}

func TestMigrator_Up_IsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	require.NoError(t, migrator.Up(ctx))
	require.NoError(t, migrator.Up(ctx))

	var count int64
	err := db.Model(&MigrationRecord{}).Count(&count).Error
	require.NoError(t, err)
	assert.Equal(t, int64(len(AllMigrations())), count)
}

func TestMigrator_Status(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, len(AllMigrations()))
	for _, s := range statuses {
		assert.False(t, s.Applied)
		assert.Nil(t, s.AppliedAt)
	}

	require.NoError(t, migrator.Up(ctx))

	statuses, err = migrator.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.True(t, s.Applied, "migration %s should be applied", s.Version)
		assert.NotNil(t, s.AppliedAt)
	}
}

func TestMigrator_Down_RollsBackLast(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())
	require.NoError(t, migrator.Up(ctx))

	require.NoError(t, migrator.Down(ctx))

	var count int64
	err := db.Model(&MigrationRecord{}).Count(&count).Error
	require.NoError(t, err)
	assert.Equal(t, int64(len(AllMigrations())-1), count)
}

func TestMigrator_Down_EmptyDatabase(t *testing.T) {
	db := setupTestDB(t)

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())

	assert.NoError(t, migrator.Down(context.Background()))
}

func TestMigration001_CreatesWorkingSchema(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrator := NewMigrator(db, nil)
	migrator.RegisterAll(AllMigrations())
	require.NoError(t, migrator.Up(ctx))

	source := &models.StreamSource{
		Name: "Provider",
		URL:  "http://example.com/playlist.m3u",
	}
	require.NoError(t, db.Create(source).Error)

	channel := &models.Channel{
		SourceID: source.ID,
		Number:   5,
		Name:     "News",
	}
	require.NoError(t, db.Create(channel).Error)

	stream := &models.Stream{
		ChannelID: channel.ID,
		URL:       "http://example.com/news/index.m3u8",
	}
	require.NoError(t, db.Create(stream).Error)

	var loaded models.Channel
	err := db.Preload("Streams").First(&loaded, "id = ?", channel.ID).Error
	require.NoError(t, err)
	assert.Equal(t, "News", loaded.Name)
	require.Len(t, loaded.Streams, 1)
	assert.Equal(t, stream.ID, loaded.Streams[0].ID)
}
