// Configuration management
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the screening engine configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Worker    WorkerConfig    `yaml:"worker"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
	Retention RetentionConfig `yaml:"retention"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig represents the thin HTTP API's listen settings.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// StoreConfig represents the Postgres connection settings.
type StoreConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`
}

// DispatchConfig tunes the Dispatcher's reuse/sync/enqueue decision.
type DispatchConfig struct {
	// QueueThreshold is the pending+running job count at or above which
	// the dispatcher enqueues instead of running inline. Default 5.
	QueueThreshold int           `yaml:"queue_threshold"`
	RedisAddr      string        `yaml:"redis_addr"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// WorkerConfig tunes the worker pool loop.
type WorkerConfig struct {
	PoolSize           int           `yaml:"pool_size"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	CleanupEveryNLoops int           `yaml:"cleanup_every_n_loops"`
}

// WatchlistConfig tunes the snapshot loader and refresh pipeline.
type WatchlistConfig struct {
	SnapshotPath       string        `yaml:"snapshot_path"`
	SanctionsAllowlist []string      `yaml:"sanctions_allowlist"`
	SanctionsFeedURL   string        `yaml:"sanctions_feed_url"`
	PEPsFeedURL        string        `yaml:"peps_feed_url"`
	FeedTimeout        time.Duration `yaml:"feed_timeout"`
}

// TracingConfig tunes OpenTelemetry span export. Disabled by default; a
// no-op tracer provider is used when Enabled is false.
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	CollectorAddr string  `yaml:"collector_addr"`
	SampleRate    float64 `yaml:"sample_rate"`
	Environment   string  `yaml:"environment"`
}

// RetentionConfig tunes the worker's periodic cleanup sweep.
type RetentionConfig struct {
	JobsRetentionDays               int `yaml:"jobs_retention_days"`
	ScreenedEntitiesRetentionMonths int `yaml:"screened_entities_retention_months"`
}

// cacheValidityDays is fixed at 365 by invariant 5; it is not an operator
// knob, so it is exposed as a constant rather than a config field.
const cacheValidityDays = 365

// CacheValidityDays returns the fixed cache validity window in days.
func CacheValidityDays() int { return cacheValidityDays }

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Server: ServerConfig{
			HTTPAddr: "0.0.0.0:8080",
		},
		Store: StoreConfig{
			Host:            "127.0.0.1",
			Port:            5432,
			Database:        "screening",
			User:            "screening",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			CommandTimeout:  30 * time.Second,
		},
		Dispatch: DispatchConfig{
			QueueThreshold: 5,
			RedisAddr:      "127.0.0.1:6379",
			CacheTTL:       15 * time.Minute,
		},
		Worker: WorkerConfig{
			PoolSize:           1,
			PollInterval:       5 * time.Second,
			CleanupEveryNLoops: 50,
		},
		Watchlist: WatchlistConfig{
			SnapshotPath:       "./data/watchlist_snapshot.json",
			SanctionsAllowlist: []string{"UN", "EU", "OFAC", "HM Treasury", "HMT", "UK Financial", "EU Council", "EU Financial Sanctions"},
			FeedTimeout:        180 * time.Second,
		},
		Retention: RetentionConfig{
			JobsRetentionDays:               7,
			ScreenedEntitiesRetentionMonths: 0,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			SampleRate:  0.1,
			Environment: "development",
		},
	}
}

// Load loads configuration from file or environment.
func Load() (*Config, error) {
	configPath := os.Getenv("SCREENING_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return loadFromFile(configPath)
	}

	cfg := Default()
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("SCREENING_HTTP_ADDR"); addr != "" {
		cfg.Server.HTTPAddr = addr
	}
	if host := os.Getenv("SCREENING_STORE_HOST"); host != "" {
		cfg.Store.Host = host
	}
	if port := os.Getenv("SCREENING_STORE_PORT"); port != "" {
		if v, err := strconv.Atoi(port); err == nil {
			cfg.Store.Port = v
		}
	}
	if pass := os.Getenv("SCREENING_STORE_PASSWORD"); pass != "" {
		cfg.Store.Password = pass
	}
	if threshold := os.Getenv("SCREENING_QUEUE_THRESHOLD"); threshold != "" {
		if v, err := strconv.Atoi(threshold); err == nil {
			cfg.Dispatch.QueueThreshold = v
		}
	}
	if redisAddr := os.Getenv("SCREENING_REDIS_ADDR"); redisAddr != "" {
		cfg.Dispatch.RedisAddr = redisAddr
	}
	if path := os.Getenv("SCREENING_SNAPSHOT_PATH"); path != "" {
		cfg.Watchlist.SnapshotPath = path
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Store.Database == "" {
		return fmt.Errorf("store.database is required")
	}
	if c.Dispatch.QueueThreshold < 0 {
		return fmt.Errorf("dispatch.queue_threshold must be >= 0")
	}
	if c.Worker.PollInterval < 2*time.Second {
		return fmt.Errorf("worker.poll_interval must be >= 2s")
	}
	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("worker.pool_size must be positive")
	}
	if c.Watchlist.SnapshotPath == "" {
		return fmt.Errorf("watchlist.snapshot_path is required")
	}
	return nil
}
