package emulator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// identityFilename is the device UUID's name inside the data directory.
const identityFilename = "device-uuid"

// LoadOrCreateDeviceUUID returns the persisted device UUID, generating and
// storing one on first boot. Plex keys its tuner registration on the device
// identity, so the UUID must survive restarts or every upgrade looks like a
// brand new tuner.
func LoadOrCreateDeviceUUID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, identityFilename)

	raw, err := os.ReadFile(path)
	if err == nil {
		id, parseErr := uuid.Parse(strings.TrimSpace(string(raw)))
		if parseErr == nil {
			return id.String(), nil
		}
		// A corrupt identity file is replaced rather than fatal.
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("reading device identity: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}

	id := uuid.New().String()
	if err := renameio.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persisting device identity: %w", err)
	}
	return id, nil
}
