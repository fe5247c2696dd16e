// Package settings reconciles boot configuration with database-stored
// overrides into an immutable snapshot that request handlers read without
// locking. Database values win over config file and environment; anything
// not overridable at runtime stays on *config.Config.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/models"
	"github.com/jmylchreest/tunerr/internal/repository"
)

var (
	// ErrUnknownKey is returned when a key is not a recognised runtime setting.
	ErrUnknownKey = errors.New("unknown setting key")
	// ErrInvalidValue is returned when a value fails per-key validation.
	ErrInvalidValue = errors.New("invalid setting value")
)

const (
	maxFriendlyNameLen = 64
	maxTunerCount      = 32

	// debounceDelay coalesces the burst of fsnotify events editors emit on save.
	debounceDelay = 500 * time.Millisecond
)

// Snapshot is an immutable view of the runtime-tunable settings. Handlers
// call Service.Snapshot per request and read fields directly.
type Snapshot struct {
	// AdvertisedHost is the host (optionally host:port) advertised in
	// discovery payloads, lineups, and SSDP LOCATION headers. Empty means
	// no static override and the base URL resolver falls through to
	// interface scan and the request Host header.
	AdvertisedHost string

	FriendlyName string
	TunerCount   int
}

// Service owns the snapshot lifecycle: database overrides, write-through
// updates from the admin API, and config file reloads.
type Service struct {
	repo   repository.SettingRepository
	logger *slog.Logger

	mu  sync.Mutex // serializes rebuilds and config swaps
	cfg *config.Config

	current atomic.Value // Snapshot
}

// New creates a settings service seeded from boot configuration. The
// snapshot is immediately readable; call Refresh once the database is up to
// fold in stored overrides.
func New(cfg *config.Config, repo repository.SettingRepository) *Service {
	s := &Service{
		repo:   repo,
		cfg:    cfg,
		logger: slog.Default(),
	}
	s.current.Store(snapshotFromConfig(cfg))
	return s
}

// WithLogger sets the logger for the service.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// Snapshot returns the current immutable settings view.
func (s *Service) Snapshot() Snapshot {
	return s.current.Load().(Snapshot)
}

// Refresh re-reads database overrides and republishes the snapshot.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

// Set validates and stores a runtime setting, then republishes the snapshot.
func (s *Service) Set(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	if err := validateSetting(key, value); err != nil {
		return err
	}

	if err := s.repo.Set(ctx, key, value); err != nil {
		return fmt.Errorf("storing setting %q: %w", key, err)
	}

	s.logger.Info("runtime setting updated", "key", key, "value", value)

	return s.Refresh(ctx)
}

// Clear removes a stored override so the config file value applies again.
func (s *Service) Clear(ctx context.Context, key string) error {
	if !knownKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if err := s.repo.Delete(ctx, key); err != nil {
		return fmt.Errorf("clearing setting %q: %w", key, err)
	}

	s.logger.Info("runtime setting cleared", "key", key)

	return s.Refresh(ctx)
}

// Keys lists the recognised runtime setting keys.
func Keys() []string {
	return []string{
		models.SettingAdvertisedHost,
		models.SettingFriendlyName,
		models.SettingTunerCount,
	}
}

// Watch re-reads the config file when it changes on disk and republishes
// the snapshot. A reload that fails to load or validate keeps the previous
// configuration. No-op when configPath is empty (env-only deployments).
// Runs until ctx is cancelled.
func (s *Service) Watch(ctx context.Context, configPath string, reload func() (*config.Config, error)) error {
	if configPath == "" {
		s.logger.Info("config file watching disabled (no config file in use)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}

	if err := watcher.Add(configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", configPath, err)
	}

	s.logger.Info("watching config file for changes", "path", configPath)

	go s.watchLoop(ctx, watcher, reload)

	return nil
}

func (s *Service) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, reload func() (*config.Config, error)) {
	defer watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Write and Create cover in-place saves plus the rename dance
			// editors do.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				s.applyReload(ctx, reload)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (s *Service) applyReload(ctx context.Context, reload func() (*config.Config, error)) {
	cfg, err := reload()
	if err != nil {
		s.logger.Error("config reload failed, keeping previous configuration", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	if err := s.rebuildLocked(ctx); err != nil {
		s.logger.Error("snapshot rebuild after reload failed", "error", err)
		return
	}

	s.logger.Info("configuration reloaded")
}

// rebuildLocked folds database overrides over the held config and publishes
// the result. Callers must hold s.mu.
func (s *Service) rebuildLocked(ctx context.Context) error {
	snap := snapshotFromConfig(s.cfg)

	stored, err := s.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("loading stored settings: %w", err)
	}

	for _, setting := range stored {
		switch setting.Key {
		case models.SettingAdvertisedHost:
			snap.AdvertisedHost = setting.Value
		case models.SettingFriendlyName:
			snap.FriendlyName = setting.Value
		case models.SettingTunerCount:
			n, err := strconv.Atoi(setting.Value)
			if err != nil || n < 1 || n > maxTunerCount {
				s.logger.Warn("ignoring stored tuner count", "value", setting.Value)
				continue
			}
			snap.TunerCount = n
		default:
			// Stale rows from older versions are harmless.
			s.logger.Debug("ignoring unrecognised stored setting", "key", setting.Key)
		}
	}

	s.current.Store(snap)
	return nil
}

func snapshotFromConfig(cfg *config.Config) Snapshot {
	return Snapshot{
		AdvertisedHost: cfg.Server.AdvertisedHost,
		FriendlyName:   cfg.Discovery.FriendlyName,
		TunerCount:     cfg.Discovery.TunerCount,
	}
}

func knownKey(key string) bool {
	switch key {
	case models.SettingAdvertisedHost, models.SettingFriendlyName, models.SettingTunerCount:
		return true
	}
	return false
}

func validateSetting(key, value string) error {
	switch key {
	case models.SettingAdvertisedHost:
		if value == "" {
			return fmt.Errorf("%w: advertised host cannot be empty, clear the setting instead", ErrInvalidValue)
		}
		if strings.Contains(value, "://") || strings.Contains(value, "/") {
			return fmt.Errorf("%w: advertised host must be host or host:port, not a URL", ErrInvalidValue)
		}
	case models.SettingFriendlyName:
		if value == "" {
			return fmt.Errorf("%w: friendly name cannot be empty", ErrInvalidValue)
		}
		if len(value) > maxFriendlyNameLen {
			return fmt.Errorf("%w: friendly name exceeds %d characters", ErrInvalidValue, maxFriendlyNameLen)
		}
	case models.SettingTunerCount:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: tuner count must be an integer", ErrInvalidValue)
		}
		if n < 1 || n > maxTunerCount {
			return fmt.Errorf("%w: tuner count must be between 1 and %d", ErrInvalidValue, maxTunerCount)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}
