// Package config loads the HLS client engine's configuration from YAML,
// following the same file-then-environment-override pattern the rest of
// the pack uses for its own service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	// BlobStore configures the content-addressed segment/init-section cache.
	BlobStore BlobStoreConfig `json:"blob_store" yaml:"blob_store"`

	// Fetch configures byte-range fetcher and HTTP client behavior.
	Fetch FetchConfig `json:"fetch" yaml:"fetch"`

	// ABR configures the adaptive-bitrate controller.
	ABR ABRConfig `json:"abr" yaml:"abr"`

	// Metrics configures the optional Prometheus text exporter.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Logging configures the engine's logger.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// BlobStoreConfig holds blob store backend selection and tuning.
type BlobStoreConfig struct {
	// Backend selects the blob store backend: "local" or "s3".
	Backend string `json:"backend" yaml:"backend"`

	// LocalDir is the base directory for the local backend (defaults to the
	// system temp directory when empty).
	LocalDir string `json:"local_dir" yaml:"local_dir"`

	// S3 configuration, used when Backend == "s3".
	S3 S3Config `json:"s3" yaml:"s3"`

	// RedisIndex, when enabled, shares the BytesKey -> URL index across
	// processes instead of keeping it in-memory only.
	RedisIndex RedisConfig `json:"redis_index" yaml:"redis_index"`
}

// S3Config holds S3-compatible object storage configuration.
type S3Config struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	Region          string `json:"region" yaml:"region"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// RedisConfig holds Redis configuration for the shared blob index.
type RedisConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Address    string        `json:"address" yaml:"address"`
	Password   string        `json:"password" yaml:"password"`
	DB         int           `json:"db" yaml:"db"`
	KeyPrefix  string        `json:"key_prefix" yaml:"key_prefix"`
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`
}

// FetchConfig controls byte-range fetcher and HTTP client tuning.
type FetchConfig struct {
	// RequestTimeout is the timeout of the engine's shared HTTP client
	// (hlsplayer.New). The playlist loader and both byte-range fetchers use
	// that client, so it bounds streaming-mode requests as well as File-mode
	// ones; zero means no timeout.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// MaxConcurrentFileLoads is the initial value of the per-session
	// whole-file-load admission semaphore (spec §4.3: "initially 1").
	MaxConcurrentFileLoads int `json:"max_concurrent_file_loads" yaml:"max_concurrent_file_loads"`

	// DrainPollInterval is the sleep between bounded drain iterations after
	// a streaming fetch reaches the end of its body (spec §9 Open Question).
	// The engine does not pass it on: StreamingProvider uses its own 10ms
	// default unless SetDrainPollInterval is called.
	DrainPollInterval time.Duration `json:"drain_poll_interval" yaml:"drain_poll_interval"`
}

// ABRConfig controls the adaptive-bitrate downshift trigger.
type ABRConfig struct {
	// WaitingThreshold is the waiting-interval duration that triggers an
	// automatic resolution downshift (spec §4.9: 4 seconds).
	WaitingThreshold time.Duration `json:"waiting_threshold" yaml:"waiting_threshold"`

	// PreferredHeight is the rendition height preferred when no manual
	// selection has been made (spec §4.9: 720).
	PreferredHeight int `json:"preferred_height" yaml:"preferred_height"`

	// BandwidthSampleWindow is the number of bandwidth samples kept before
	// consolidation (spec §4.4: 20). The bandwidth meter does not read it;
	// its window is fixed at 20.
	BandwidthSampleWindow int `json:"bandwidth_sample_window" yaml:"bandwidth_sample_window"`

	// BandwidthMinSamples is the minimum sample count before an estimate is
	// returned (spec §4.4: 4). The bandwidth meter does not read it; its
	// minimum is fixed at 4.
	BandwidthMinSamples int `json:"bandwidth_min_samples" yaml:"bandwidth_min_samples"`
}

// MetricsConfig controls the optional Prometheus text exporter.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns a default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		BlobStore: BlobStoreConfig{
			Backend:  "local",
			LocalDir: "",
			RedisIndex: RedisConfig{
				Enabled:    false,
				Address:    "localhost:6379",
				DB:         0,
				KeyPrefix:  "hlsplayer:blob:",
				DefaultTTL: 24 * time.Hour,
			},
		},
		Fetch: FetchConfig{
			RequestTimeout:          30 * time.Second,
			MaxConcurrentFileLoads:  1,
			DrainPollInterval:       10 * time.Millisecond,
		},
		ABR: ABRConfig{
			WaitingThreshold:      4 * time.Second,
			PreferredHeight:       720,
			BandwidthSampleWindow: 20,
			BandwidthMinSamples:   4,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults for
// anything the file doesn't set, then applying environment overrides.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromEnv overrides config from environment variables.
func (c *Config) loadFromEnv() {
	if addr := os.Getenv("HLSPLAYER_REDIS_ADDRESS"); addr != "" {
		c.BlobStore.RedisIndex.Address = addr
	}
	if pass := os.Getenv("HLSPLAYER_REDIS_PASSWORD"); pass != "" {
		c.BlobStore.RedisIndex.Password = pass
	}
	if level := os.Getenv("HLSPLAYER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
