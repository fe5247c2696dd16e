package emulator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateDeviceUUID(t *testing.T) {
	t.Run("generates and persists on first boot", func(t *testing.T) {
		dir := t.TempDir()

		id, err := LoadOrCreateDeviceUUID(dir)
		require.NoError(t, err)
		_, err = uuid.Parse(id)
		require.NoError(t, err)

		again, err := LoadOrCreateDeviceUUID(dir)
		require.NoError(t, err)
		assert.Equal(t, id, again, "identity is stable across restarts")
	})

	t.Run("replaces a corrupt identity file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, identityFilename), []byte("garbage"), 0o644))

		id, err := LoadOrCreateDeviceUUID(dir)
		require.NoError(t, err)
		_, err = uuid.Parse(id)
		require.NoError(t, err)
	})

	t.Run("creates the data directory when missing", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")

		id, err := LoadOrCreateDeviceUUID(dir)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})
}
