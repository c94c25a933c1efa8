// Package config loads engine configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openmetro/tripwarehouse/internal/logging"
)

// Config is the root configuration for a rebuild run.
type Config struct {
	Source  SourceConfig   `yaml:"source"`
	Store   StoreConfig    `yaml:"store"`
	Build   BuildConfig    `yaml:"build"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Logging logging.Config `yaml:"logging"`
}

// SourceConfig describes where the monthly trip batches and the zone
// lookup live.
type SourceConfig struct {
	Backend    string `yaml:"backend"` // "local" | "s3" | "gcs"
	LocalDir   string `yaml:"local_dir"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
	Pattern    string `yaml:"pattern"`     // batch filename glob
	ZoneLookup string `yaml:"zone_lookup"` // CSV path, optionally .gz or .zst
}

// StoreConfig configures the DuckDB generation store.
type StoreConfig struct {
	DataDir         string `yaml:"data_dir"`
	MemoryLimit     string `yaml:"memory_limit"`
	Threads         int    `yaml:"threads"`
	KeepGenerations int    `yaml:"keep_generations"`
}

// BuildConfig tunes the fact-build pipeline.
type BuildConfig struct {
	Borough         string `yaml:"borough"`
	Workers         int    `yaml:"workers"`
	QueueSize       int    `yaml:"queue_size"`
	InsertBatchSize int    `yaml:"insert_batch_size"`
	ODFlowMinTrips  int    `yaml:"od_flow_min_trips"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Load reads configuration from an optional YAML file, applies
// environment overrides, then fills defaults and validates.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Source.Backend, "SOURCE_BACKEND")
	setString(&cfg.Source.LocalDir, "SOURCE_DIR")
	setString(&cfg.Source.Bucket, "SOURCE_BUCKET")
	setString(&cfg.Source.Prefix, "SOURCE_PREFIX")
	setString(&cfg.Source.S3Endpoint, "SOURCE_S3_ENDPOINT")
	setString(&cfg.Source.S3Region, "SOURCE_S3_REGION")
	setString(&cfg.Source.Pattern, "SOURCE_PATTERN")
	setString(&cfg.Source.ZoneLookup, "ZONE_LOOKUP")

	setString(&cfg.Store.DataDir, "DATA_DIR")
	setString(&cfg.Store.MemoryLimit, "MEMORY_LIMIT")
	setInt(&cfg.Store.Threads, "DB_THREADS")

	setString(&cfg.Build.Borough, "BOROUGH")
	setInt(&cfg.Build.Workers, "BUILD_WORKERS")
	setInt(&cfg.Build.InsertBatchSize, "INSERT_BATCH_SIZE")
	setInt(&cfg.Build.ODFlowMinTrips, "OD_FLOW_MIN_TRIPS")

	if v := os.Getenv("METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = v
	}
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func (cfg *Config) applyDefaults() {
	if cfg.Source.Backend == "" {
		cfg.Source.Backend = "local"
	}
	if cfg.Source.LocalDir == "" {
		cfg.Source.LocalDir = "./data/raw"
	}
	if cfg.Source.Pattern == "" {
		cfg.Source.Pattern = "yellow_tripdata_*.parquet"
	}
	if cfg.Source.ZoneLookup == "" {
		cfg.Source.ZoneLookup = "./data/raw/taxi_zone_lookup.csv"
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "./data"
	}
	if cfg.Store.MemoryLimit == "" {
		cfg.Store.MemoryLimit = "8GB"
	}
	if cfg.Store.Threads <= 0 {
		cfg.Store.Threads = runtime.NumCPU()
	}
	if cfg.Store.KeepGenerations <= 0 {
		cfg.Store.KeepGenerations = 2
	}
	if cfg.Build.Borough == "" {
		cfg.Build.Borough = "Manhattan"
	}
	if cfg.Build.Workers <= 0 {
		cfg.Build.Workers = runtime.NumCPU()
	}
	if cfg.Build.QueueSize <= 0 {
		cfg.Build.QueueSize = cfg.Build.Workers * 2
	}
	if cfg.Build.InsertBatchSize <= 0 {
		cfg.Build.InsertBatchSize = 5000
	}
	if cfg.Build.ODFlowMinTrips <= 0 {
		cfg.Build.ODFlowMinTrips = 100
	}
}

func (cfg *Config) validate() error {
	switch cfg.Source.Backend {
	case "local":
		if cfg.Source.LocalDir == "" {
			return fmt.Errorf("source.local_dir is required for the local backend")
		}
	case "s3", "gcs":
		if cfg.Source.Bucket == "" {
			return fmt.Errorf("source.bucket is required for the %s backend", cfg.Source.Backend)
		}
	default:
		return fmt.Errorf("unknown source backend %q", cfg.Source.Backend)
	}
	if cfg.Source.ZoneLookup == "" {
		return fmt.Errorf("source.zone_lookup is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}
