// Package config provides configuration management for tunerr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort          = 5004
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultDiscoveryPort       = 1900
	defaultTunerCount          = 4
	defaultNotifyInterval      = 30 * time.Minute
	defaultDiscoveryDeadline   = 5 * time.Second
	defaultMaxConcurrent       = 10
	defaultMaxPerChannel       = 3
	defaultIdleTimeout         = 30 * time.Second
	defaultSessionMaxAge       = time.Hour
	defaultSweepInterval       = 10 * time.Second
	defaultConsumerTTL         = 2 * time.Minute
	defaultStopGrace           = 5 * time.Second
	defaultAnalyzerCacheTTL    = 5 * time.Minute
	defaultProbeTimeout        = 5 * time.Second
	defaultPlaylistTimeout     = 8 * time.Second
	defaultPlaylistMaxBytes    = 256 * 1024
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultChannelBatchSize    = 1000
	defaultProgramBatchSize    = 5000
	defaultIngestTimeout       = 60 * time.Second
	defaultValidatorRingSize   = 256
	defaultStderrHistoryLines  = 100
	defaultPSIInterval         = 500 * time.Millisecond
	defaultReconnectDelayMax   = 5
	defaultDatabaseRetries     = 5
	defaultDatabaseRetryDelay  = 2 * time.Second
	defaultProbeRatePerSecond  = 2.0
	defaultProbeBurst          = 4
	defaultPlaylistRedirectCap = 3
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	Crash      CrashConfig      `mapstructure:"crash"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Transcoder TranscoderConfig `mapstructure:"transcoder"`
	Compat     CompatConfig     `mapstructure:"compat"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// AdvertisedHost overrides the host (and optionally port) placed into
	// discovery payloads, lineups, and SSDP LOCATION headers. When empty the
	// resolver falls back through env, config, interface scan, and the
	// request Host header.
	AdvertisedHost string `mapstructure:"advertised_host"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
}

// DiscoveryConfig holds tuner-identity and SSDP configuration.
type DiscoveryConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the UDP port for SSDP (conventionally 1900).
	Port int `mapstructure:"port"`

	// MulticastAddress is the SSDP group address.
	MulticastAddress string `mapstructure:"multicast_address"`

	// DeviceUUID identifies the emulated tuner. Empty means a UUID is
	// generated once and persisted in the data directory.
	DeviceUUID string `mapstructure:"device_uuid"`

	FriendlyName string `mapstructure:"friendly_name"`
	TunerCount   int    `mapstructure:"tuner_count"`

	// SearchTargets lists the device and service URNs answered over SSDP,
	// in addition to ssdp:all, upnp:rootdevice, and the device UUID.
	SearchTargets []string `mapstructure:"search_targets"`

	// NotifyInterval is the cadence of unsolicited ssdp:alive announcements.
	NotifyInterval time.Duration `mapstructure:"notify_interval"`

	// RequestDeadline is the soft deadline for discovery HTTP handlers;
	// on expiry they answer 503 instead of holding the client.
	RequestDeadline time.Duration `mapstructure:"request_deadline"`
}

// StreamingConfig holds stream proxy admission and lifecycle configuration.
type StreamingConfig struct {
	// MaxConcurrentStreams is the process-wide active session ceiling.
	MaxConcurrentStreams int `mapstructure:"max_concurrent_streams"`

	// MaxPerChannelStreams bounds active sessions per channel.
	MaxPerChannelStreams int `mapstructure:"max_per_channel_streams"`

	// IdleTimeout tears a session down when no bytes flow for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// SessionMaxAge is the hard ceiling on session lifetime, enforced by
	// the sweeper.
	SessionMaxAge time.Duration `mapstructure:"session_max_age"`

	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// ConsumerTTL expires consumers that were never adopted by a session.
	ConsumerTTL time.Duration `mapstructure:"consumer_ttl"`
}

// CrashConfig holds the crash-detector thresholds. The defaults mirror
// observed Plex client behaviour; every threshold is tunable because the
// cadence differs between client builds.
type CrashConfig struct {
	// PollFresh: polls within this window count as live client activity.
	PollFresh time.Duration `mapstructure:"poll_fresh"`
	// ByteFresh: bytes within this window count as a live upstream.
	ByteFresh time.Duration `mapstructure:"byte_fresh"`
	// ByteStall: polling client but no bytes for this long means the
	// upstream pipe has stalled.
	ByteStall time.Duration `mapstructure:"byte_stall"`
	// AndroidPollGap: Android TV clients stop polling abruptly on crash.
	AndroidPollGap time.Duration `mapstructure:"android_poll_gap"`
	// PollTimeout: no polls for this long is a client timeout.
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	// PollConfirm: no polls for this long confirms the crash.
	PollConfirm time.Duration `mapstructure:"poll_confirm"`
	// StartupSilence: a session with no activity at all since admission
	// for this long is confirmed dead.
	StartupSilence time.Duration `mapstructure:"startup_silence"`
	// ProbeFailureLimit: consecutive probe failures that confirm a crash.
	ProbeFailureLimit int `mapstructure:"probe_failure_limit"`
}

// AnalyzerConfig holds upstream probing configuration.
type AnalyzerConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	PlaylistTimeout time.Duration `mapstructure:"playlist_timeout"`

	// PlaylistMaxBytes bounds how much of an HLS playlist is fetched.
	// Supports human-readable values like "256KB".
	PlaylistMaxBytes ByteSize `mapstructure:"playlist_max_bytes"`

	PlaylistMaxRedirects int `mapstructure:"playlist_max_redirects"`

	// ProbeRatePerHost limits probes against a single upstream host.
	ProbeRatePerHost float64 `mapstructure:"probe_rate_per_host"`
	ProbeBurst       int     `mapstructure:"probe_burst"`
}

// TranscoderConfig holds encoder process configuration.
type TranscoderConfig struct {
	// FFmpegPath is the encoder binary (empty = find "ffmpeg" on PATH).
	FFmpegPath string `mapstructure:"ffmpeg_path"`

	// StopGrace is how long a stopped encoder gets between SIGTERM and
	// SIGKILL.
	StopGrace time.Duration `mapstructure:"stop_grace"`

	// ReconnectDelayMax is passed to the encoder's reconnect flags (seconds).
	ReconnectDelayMax int `mapstructure:"reconnect_delay_max"`

	// StderrHistoryLines bounds the retained encoder stderr ring.
	StderrHistoryLines int `mapstructure:"stderr_history_lines"`

	// PSIKeepalive emits PAT/PMT packets while waiting for the first
	// encoder byte so client demuxers can lock program structure early.
	PSIKeepalive         bool          `mapstructure:"psi_keepalive"`
	PSIKeepaliveInterval time.Duration `mapstructure:"psi_keepalive_interval"`
}

// CompatConfig holds Plex-compat surface switches.
type CompatConfig struct {
	// RecoveryRedirect enables fabricating a consumer and redirecting to
	// the first enabled channel when an index.m3u8 request names an
	// unknown session. Off by default: the redirect hides tuning bugs.
	RecoveryRedirect bool `mapstructure:"recovery_redirect"`

	// ValidatorRingSize bounds the retained metadata-rewrite events.
	ValidatorRingSize int `mapstructure:"validator_ring_size"`
}

// IngestConfig holds playlist/guide ingestion configuration.
type IngestConfig struct {
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	ChannelBatchSize int           `mapstructure:"channel_batch_size"`
	ProgramBatchSize int           `mapstructure:"program_batch_size"`

	// RefreshOnStart triggers an immediate refresh of every enabled source
	// at boot, before the first cron window.
	RefreshOnStart bool `mapstructure:"refresh_on_start"`

	// ProgramRetention prunes guide programmes older than this.
	// Supports day/week units like "7d".
	ProgramRetention Duration `mapstructure:"program_retention"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info

	// ConnectRetries and ConnectRetryDelay bound the boot-time retry
	// budget; exhausting it is fatal.
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	// DataDir holds the persisted device identity and guide exports.
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TUNERR_ and use underscores for
// nesting. Example: TUNERR_SERVER_PORT=5004.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tunerr")
		v.AddConfigPath("$HOME/.tunerr")
	}

	v.SetEnvPrefix("TUNERR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	// The TextUnmarshaller hook is what lets Duration and ByteSize fields
	// decode their string forms ("7d", "256KB") from defaults, files and
	// env vars alike.
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in
// place for every key.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.advertised_host", "")
	v.SetDefault("server.read_header_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Discovery defaults
	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.port", defaultDiscoveryPort)
	v.SetDefault("discovery.multicast_address", "239.255.255.250")
	v.SetDefault("discovery.device_uuid", "")
	v.SetDefault("discovery.friendly_name", "tunerr")
	v.SetDefault("discovery.tuner_count", defaultTunerCount)
	v.SetDefault("discovery.search_targets", []string{"urn:schemas-upnp-org:device:MediaServer:1"})
	v.SetDefault("discovery.notify_interval", defaultNotifyInterval)
	v.SetDefault("discovery.request_deadline", defaultDiscoveryDeadline)

	// Streaming defaults
	v.SetDefault("streaming.max_concurrent_streams", defaultMaxConcurrent)
	v.SetDefault("streaming.max_per_channel_streams", defaultMaxPerChannel)
	v.SetDefault("streaming.idle_timeout", defaultIdleTimeout)
	v.SetDefault("streaming.session_max_age", defaultSessionMaxAge)
	v.SetDefault("streaming.sweep_interval", defaultSweepInterval)
	v.SetDefault("streaming.consumer_ttl", defaultConsumerTTL)

	// Crash detector defaults (observed Plex cadences)
	v.SetDefault("crash.poll_fresh", 2*time.Second)
	v.SetDefault("crash.byte_fresh", 5*time.Second)
	v.SetDefault("crash.byte_stall", 15*time.Second)
	v.SetDefault("crash.android_poll_gap", 10*time.Second)
	v.SetDefault("crash.poll_timeout", 30*time.Second)
	v.SetDefault("crash.poll_confirm", 60*time.Second)
	v.SetDefault("crash.startup_silence", 15*time.Second)
	v.SetDefault("crash.probe_failure_limit", 2)

	// Analyzer defaults
	v.SetDefault("analyzer.cache_ttl", defaultAnalyzerCacheTTL)
	v.SetDefault("analyzer.probe_timeout", defaultProbeTimeout)
	v.SetDefault("analyzer.playlist_timeout", defaultPlaylistTimeout)
	v.SetDefault("analyzer.playlist_max_bytes", defaultPlaylistMaxBytes)
	v.SetDefault("analyzer.playlist_max_redirects", defaultPlaylistRedirectCap)
	v.SetDefault("analyzer.probe_rate_per_host", defaultProbeRatePerSecond)
	v.SetDefault("analyzer.probe_burst", defaultProbeBurst)

	// Transcoder defaults
	v.SetDefault("transcoder.ffmpeg_path", "")
	v.SetDefault("transcoder.stop_grace", defaultStopGrace)
	v.SetDefault("transcoder.reconnect_delay_max", defaultReconnectDelayMax)
	v.SetDefault("transcoder.stderr_history_lines", defaultStderrHistoryLines)
	v.SetDefault("transcoder.psi_keepalive", false)
	v.SetDefault("transcoder.psi_keepalive_interval", defaultPSIInterval)

	// Compat defaults
	v.SetDefault("compat.recovery_redirect", false)
	v.SetDefault("compat.validator_ring_size", defaultValidatorRingSize)

	// Ingest defaults
	v.SetDefault("ingest.http_timeout", defaultIngestTimeout)
	v.SetDefault("ingest.channel_batch_size", defaultChannelBatchSize)
	v.SetDefault("ingest.program_batch_size", defaultProgramBatchSize)
	v.SetDefault("ingest.refresh_on_start", true)
	v.SetDefault("ingest.program_retention", "7d")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "tunerr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.connect_retries", defaultDatabaseRetries)
	v.SetDefault("database.connect_retry_delay", defaultDatabaseRetryDelay)

	// Storage defaults
	v.SetDefault("storage.data_dir", "./data")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Discovery.Port < 1 || c.Discovery.Port > maxPort {
		return fmt.Errorf("discovery.port must be between 1 and %d", maxPort)
	}
	if c.Discovery.TunerCount < 1 {
		return fmt.Errorf("discovery.tuner_count must be at least 1")
	}

	if c.Streaming.MaxConcurrentStreams < 1 {
		return fmt.Errorf("streaming.max_concurrent_streams must be at least 1")
	}
	if c.Streaming.MaxPerChannelStreams < 1 {
		return fmt.Errorf("streaming.max_per_channel_streams must be at least 1")
	}
	if c.Streaming.IdleTimeout <= 0 {
		return fmt.Errorf("streaming.idle_timeout must be positive")
	}

	for name, d := range map[string]time.Duration{
		"crash.poll_fresh":       c.Crash.PollFresh,
		"crash.byte_fresh":       c.Crash.ByteFresh,
		"crash.byte_stall":       c.Crash.ByteStall,
		"crash.android_poll_gap": c.Crash.AndroidPollGap,
		"crash.poll_timeout":     c.Crash.PollTimeout,
		"crash.poll_confirm":     c.Crash.PollConfirm,
		"crash.startup_silence":  c.Crash.StartupSilence,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Crash.ProbeFailureLimit < 1 {
		return fmt.Errorf("crash.probe_failure_limit must be at least 1")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Ingest.ChannelBatchSize < 1 {
		return fmt.Errorf("ingest.channel_batch_size must be at least 1")
	}
	if c.Ingest.ProgramBatchSize < 1 {
		return fmt.Errorf("ingest.program_batch_size must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GroupAddress returns the SSDP group in addr:port format.
func (c *DiscoveryConfig) GroupAddress() string {
	return fmt.Sprintf("%s:%d", c.MulticastAddress, c.Port)
}
