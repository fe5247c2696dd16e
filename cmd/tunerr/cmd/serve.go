package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/tunerr/internal/analyzer"
	"github.com/jmylchreest/tunerr/internal/config"
	"github.com/jmylchreest/tunerr/internal/database"
	"github.com/jmylchreest/tunerr/internal/database/migrations"
	"github.com/jmylchreest/tunerr/internal/emulator"
	"github.com/jmylchreest/tunerr/internal/epg"
	internalhttp "github.com/jmylchreest/tunerr/internal/http"
	"github.com/jmylchreest/tunerr/internal/http/handlers"
	"github.com/jmylchreest/tunerr/internal/ingestor"
	"github.com/jmylchreest/tunerr/internal/plexcompat"
	"github.com/jmylchreest/tunerr/internal/relay"
	"github.com/jmylchreest/tunerr/internal/repository"
	"github.com/jmylchreest/tunerr/internal/scheduler"
	"github.com/jmylchreest/tunerr/internal/session"
	"github.com/jmylchreest/tunerr/internal/settings"
	"github.com/jmylchreest/tunerr/internal/ssdp"
	"github.com/jmylchreest/tunerr/internal/validator"
	"github.com/jmylchreest/tunerr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tunerr server",
	Long: `Start the tunerr HTTP server and SSDP responder.

The server provides:
- HDHomeRun discovery and lineup endpoints for Plex
- Live stream relay with on-the-fly remuxing
- REST API for managing sources, channels, and sessions
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 5004, "Port to listen on")
	serveCmd.Flags().String("data-dir", "data", "Data directory for device identity and guide exports")
	serveCmd.Flags().String("advertised-host", "", "Host advertised in discovery payloads")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("storage.data_dir", serveCmd.Flags().Lookup("data-dir"))
	viper.BindPFlag("server.advertised_host", serveCmd.Flags().Lookup("advertised-host"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Database
	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("initializing migrations: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	// Repositories
	sourceRepo := repository.NewStreamSourceRepository(db.DB)
	guideRepo := repository.NewGuideSourceRepository(db.DB)
	channelRepo := repository.NewChannelRepository(db.DB)
	streamRepo := repository.NewStreamRepository(db.DB)
	programRepo := repository.NewGuideProgramRepository(db.DB)
	settingRepo := repository.NewSettingRepository(db.DB)

	// Runtime settings: stored overrides beat environment and config file.
	settingsService := settings.New(cfg, settingRepo).WithLogger(logger)
	if err := settingsService.Refresh(ctx); err != nil {
		logger.Warn("loading stored settings failed, using boot configuration",
			slog.Any("error", err))
	}
	applySettings(cfg, settingsService.Snapshot())

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		go func() {
			err := settingsService.Watch(ctx, configFile, func() (*config.Config, error) {
				return config.Load(configFile)
			})
			if err != nil {
				logger.Warn("config file watch unavailable", slog.Any("error", err))
			}
		}()
	}

	// Device identity survives restarts so Plex keeps its tuner pairing.
	if strings.TrimSpace(cfg.Discovery.DeviceUUID) == "" {
		deviceUUID, err := emulator.LoadOrCreateDeviceUUID(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("loading device identity: %w", err)
		}
		cfg.Discovery.DeviceUUID = deviceUUID
	}

	// Guide service and ingestion
	epgService := epg.New(epg.Options{
		Channels: channelRepo,
		Programs: programRepo,
		DataDir:  cfg.Storage.DataDir,
		Logger:   logger,
	})

	ing := ingestor.New(ingestor.Options{
		Sources:         sourceRepo,
		Guides:          guideRepo,
		Channels:        channelRepo,
		Streams:         streamRepo,
		Programs:        programRepo,
		Config:          cfg.Ingest,
		Logger:          logger,
		OnLineupChanged: epgService.MarkStale,
		OnGuideChanged:  epgService.MarkStale,
	})

	sched := scheduler.New(sourceRepo, guideRepo, ing).WithLogger(logger)
	schedCfg := scheduler.DefaultConfig()
	schedCfg.RefreshOnStart = cfg.Ingest.RefreshOnStart
	sched = sched.WithConfig(schedCfg)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	// Session tracking and playback
	analyzerService := analyzer.New(cfg.Analyzer, logger)

	registry := session.NewRegistry(cfg.Streaming, cfg.Crash, logger)
	registry.Start(ctx)
	defer registry.Stop()

	consumers := session.NewConsumerManager(cfg.Streaming.ConsumerTTL, logger)
	consumers.Start(ctx)
	defer consumers.Stop()

	detector := session.NewDetector(cfg.Crash, logger)

	streamRelay := relay.New(relay.Options{
		Streaming: cfg.Streaming,
		Encoder:   cfg.Transcoder,
		Channels:  channelRepo,
		Streams:   streamRepo,
		Analyzer:  analyzerService,
		Registry:  registry,
		Consumers: consumers,
		Logger:    logger,
	})
	defer streamRelay.Shutdown()

	go detector.Watch(ctx, registry, 0, streamRelay.OnCrashConfirmed)

	// Device emulation
	tuner := emulator.New(emulator.Options{
		Server:    cfg.Server,
		Discovery: cfg.Discovery,
		Channels:  channelRepo,
		Guide:     epgService,
		Sessions:  registry,
		Logger:    logger,
	})

	interceptor := validator.New(cfg.Compat.ValidatorRingSize, logger)

	compat := plexcompat.New(plexcompat.Options{
		Compat:    cfg.Compat,
		Registry:  registry,
		Consumers: consumers,
		Detector:  detector,
		Channels:  channelRepo,
		Guide:     epgService,
		Logger:    logger,
	})

	// HTTP server
	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	router := server.Router()

	// Tuner-facing routes run through the metadata validator; the admin API
	// and the raw stream paths do not.
	router.Group(func(r chi.Router) {
		r.Use(interceptor.Middleware())
		tuner.RegisterRoutes(r)
		compat.RegisterRoutes(r)
	})

	epgService.RegisterRoutes(router)

	router.Handle("/stream/{channelID}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamRelay.ServeChannel(w, r, chi.URLParam(r, "channelID"))
	}))
	router.Handle("/preview/{channelID}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamRelay.ServePreview(w, r, chi.URLParam(r, "channelID"))
	}))

	router.Handle("/metrics", promhttp.Handler())

	// Admin and monitor API
	handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithTunerStats(registry).
		Register(server.API())
	handlers.NewStreamSourceHandler(sourceRepo, ing, sched, logger).Register(server.API())
	handlers.NewGuideSourceHandler(guideRepo, ing, sched, logger).Register(server.API())
	handlers.NewChannelHandler(channelRepo, streamRepo).Register(server.API())
	handlers.NewGuideHandler(epgService).Register(server.API())
	handlers.NewSettingsHandler(settingsService, settingRepo).Register(server.API())
	handlers.NewMonitorHandler(registry, consumers, streamRelay, analyzerService, interceptor).Register(server.API())

	// SSDP discovery
	if cfg.Discovery.Enabled {
		responder := ssdp.New(ssdp.Options{
			Discovery: cfg.Discovery,
			BaseURL: func() string {
				return tuner.BaseResolver().BaseURL(nil)
			},
			Logger: logger,
		})
		go func() {
			if err := responder.Run(ctx); err != nil {
				logger.Warn("ssdp responder stopped", slog.Any("error", err))
			}
		}()
	}

	logger.Info("starting tunerr server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("device_uuid", cfg.Discovery.DeviceUUID),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

// applySettings folds stored runtime overrides into the boot configuration
// before the collaborators that read it are constructed.
func applySettings(cfg *config.Config, snap settings.Snapshot) {
	if snap.AdvertisedHost != "" {
		cfg.Server.AdvertisedHost = snap.AdvertisedHost
	}
	if snap.FriendlyName != "" {
		cfg.Discovery.FriendlyName = snap.FriendlyName
	}
	if snap.TunerCount > 0 {
		cfg.Discovery.TunerCount = snap.TunerCount
	}
}
