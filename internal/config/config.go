// Package config loads and validates the content store configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/contentstore/config"
)

// Config represents the complete content store configuration.
type Config struct {
	// Store configures the authoritative hot store.
	Store StoreConfig `yaml:"store"`

	// Cache configures the cache in front of the store.
	Cache CacheConfig `yaml:"cache"`

	// Archive configures the cold tier.
	Archive ArchiveConfig `yaml:"archive"`

	// Retention defines when content moves to the cold tier.
	Retention RetentionConfig `yaml:"retention"`

	// Cascade holds the similarity policy.
	Cascade CascadeConfig `yaml:"cascade"`

	// Partition configures segment pre-creation.
	Partition PartitionConfig `yaml:"partition"`

	// Schedule configures the background jobs.
	Schedule ScheduleConfig `yaml:"schedule"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Stats configures latency tracking.
	Stats StatsConfig `yaml:"stats"`
}

// StoreConfig configures the hot store.
type StoreConfig struct {
	// Driver is the store backend: postgres, duckdb, memory.
	Driver string `yaml:"driver"`

	// DSN is the connection string. For duckdb, a file path; empty opens
	// an in-memory database.
	DSN string `yaml:"dsn"`

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// QueryTimeout is the default timeout for a store call.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// EmbeddingDimensions is the pgvector column size. 0 leaves the
	// column untyped.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// CacheConfig configures the cache.
type CacheConfig struct {
	// Driver is the cache backend: redis, memory, none.
	Driver string `yaml:"driver"`

	// Addr is the Redis address.
	Addr string `yaml:"addr"`

	// Password is the Redis password.
	Password string `yaml:"password"`

	// DB is the Redis database index.
	DB int `yaml:"db"`

	// TTL is the lifetime of every entry.
	TTL time.Duration `yaml:"ttl"`

	// Timeout bounds a single cache call.
	Timeout time.Duration `yaml:"timeout"`
}

// ArchiveConfig configures the cold tier.
type ArchiveConfig struct {
	// Driver is the object store: filesystem, s3.
	Driver string `yaml:"driver"`

	// Dir is the root directory for the filesystem driver.
	Dir string `yaml:"dir"`

	// S3 configures the s3 driver.
	S3 S3Config `yaml:"s3"`

	// Format is the snapshot codec: json, parquet.
	Format string `yaml:"format"`

	// Compression is the Parquet codec: zstd, snappy, gzip, none.
	Compression string `yaml:"compression"`

	// MaxWritesPerSec limits cold writes. 0 disables the limit.
	MaxWritesPerSec float64 `yaml:"max_writes_per_sec"`
}

// S3Config configures an S3-compatible object store.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// RetentionConfig defines when content moves to the cold tier.
type RetentionConfig struct {
	// ColdDays is the age in days after which content is archived.
	ColdDays int `yaml:"cold_days"`

	// BatchSize bounds the records handled by one sweep.
	BatchSize int `yaml:"batch_size"`
}

// ColdRetention returns ColdDays as a duration.
func (c RetentionConfig) ColdRetention() time.Duration {
	return time.Duration(c.ColdDays) * 24 * time.Hour
}

// CascadeConfig holds the similarity policy.
type CascadeConfig struct {
	StructuralLimit     int           `yaml:"structural_limit"`
	SemanticLimit       int           `yaml:"semantic_limit"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	VectorLookback      time.Duration `yaml:"vector_lookback"`
	VectorLimit         int           `yaml:"vector_limit"`
}

// PartitionConfig configures segment pre-creation.
type PartitionConfig struct {
	MonthsBack  int `yaml:"months_back"`
	MonthsAhead int `yaml:"months_ahead"`
}

// ScheduleConfig configures the background jobs. A zero interval disables
// the job.
type ScheduleConfig struct {
	Partitions  time.Duration `yaml:"partitions"`
	Archive     time.Duration `yaml:"archive"`
	Maintenance time.Duration `yaml:"maintenance"`

	// RunOnStart runs every enabled job once when the scheduler starts.
	RunOnStart bool `yaml:"run_on_start"`

	// JobTimeout bounds a single tick.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StatsConfig configures latency tracking.
type StatsConfig struct {
	// Accuracy is the DDSketch relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:          "duckdb",
			DSN:             "/var/lib/contentstore/hot.duckdb",
			MaxOpenConns:    defaults.DefaultMaxOpenConns,
			MaxIdleConns:    defaults.DefaultMaxIdleConns,
			ConnMaxLifetime: defaults.DefaultConnMaxLifetime,
			QueryTimeout:    defaults.DefaultQueryTimeout,
		},
		Cache: CacheConfig{
			Driver:  "memory",
			Addr:    "localhost:6379",
			TTL:     defaults.DefaultCacheTTL,
			Timeout: defaults.DefaultCacheTimeout,
		},
		Archive: ArchiveConfig{
			Driver:      "filesystem",
			Dir:         "/var/lib/contentstore/cold",
			Format:      "json",
			Compression: "zstd",
		},
		Retention: RetentionConfig{
			ColdDays:  defaults.DefaultColdRetentionDays,
			BatchSize: defaults.DefaultArchiveBatchSize,
		},
		Cascade: CascadeConfig{
			StructuralLimit:     defaults.DefaultStructuralLimit,
			SemanticLimit:       defaults.DefaultSemanticLimit,
			SimilarityThreshold: defaults.DefaultSimilarityThreshold,
			VectorLookback:      defaults.DefaultVectorLookback,
			VectorLimit:         defaults.DefaultVectorLimit,
		},
		Partition: PartitionConfig{
			MonthsBack:  defaults.DefaultPartitionMonthsBack,
			MonthsAhead: defaults.DefaultPartitionMonthsAhead,
		},
		Schedule: ScheduleConfig{
			Partitions:  defaults.DefaultPartitionInterval,
			Archive:     defaults.DefaultArchiveInterval,
			Maintenance: defaults.DefaultMaintenanceInterval,
			RunOnStart:  true,
			JobTimeout:  defaults.DefaultJobTimeout,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Stats: StatsConfig{
			Accuracy: defaults.DefaultSketchAccuracy,
		},
	}
}
