package config

import (
	"errors"
	"fmt"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}

	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if err := c.Cascade.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cascade: %w", err))
	}

	if err := c.Partition.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("partition: %w", err))
	}

	if err := c.Schedule.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", cserrors.NewValidation("level", err.Error())))
	}

	if c.Stats.Accuracy <= 0 || c.Stats.Accuracy >= 1 {
		errs = append(errs, fmt.Errorf("stats: %w", cserrors.NewValidation("accuracy", "must be between 0 and 1")))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	v := cserrors.NewValidationErrors()

	switch c.Driver {
	case "postgres":
		if c.DSN == "" {
			v.AddMissing("dsn")
		}
	case "duckdb", "memory":
	default:
		v.AddField("driver", "must be one of: postgres, duckdb, memory")
	}

	if c.MaxOpenConns < 0 {
		v.AddField("max_open_conns", "must not be negative")
	}
	if c.MaxIdleConns < 0 {
		v.AddField("max_idle_conns", "must not be negative")
	}
	if c.QueryTimeout <= 0 {
		v.AddField("query_timeout", "must be positive")
	}
	if c.EmbeddingDimensions < 0 {
		v.AddField("embedding_dimensions", "must not be negative")
	}

	return v.Err()
}

// Validate checks the cache configuration.
func (c *CacheConfig) Validate() error {
	v := cserrors.NewValidationErrors()

	switch c.Driver {
	case "redis":
		if c.Addr == "" {
			v.AddMissing("addr")
		}
	case "memory", "none":
	default:
		v.AddField("driver", "must be one of: redis, memory, none")
	}

	if c.TTL <= 0 {
		v.AddField("ttl", "must be positive")
	}
	if c.Timeout <= 0 {
		v.AddField("timeout", "must be positive")
	}

	return v.Err()
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	v := cserrors.NewValidationErrors()

	switch c.Driver {
	case "filesystem":
		if c.Dir == "" {
			v.AddMissing("dir")
		}
	case "memory":
	case "s3":
		if c.S3.Endpoint == "" {
			v.AddMissing("s3.endpoint")
		}
		if c.S3.Bucket == "" {
			v.AddMissing("s3.bucket")
		}
	default:
		v.AddField("driver", "must be one of: filesystem, s3, memory")
	}

	switch c.Format {
	case "json", "parquet", "":
	default:
		v.AddField("format", "must be one of: json, parquet")
	}

	switch c.Compression {
	case "zstd", "snappy", "gzip", "none", "":
	default:
		v.AddField("compression", "must be one of: zstd, snappy, gzip, none")
	}

	if c.MaxWritesPerSec < 0 {
		v.AddField("max_writes_per_sec", "must not be negative")
	}

	return v.Err()
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	v := cserrors.NewValidationErrors()

	if c.ColdDays <= 0 {
		v.AddField("cold_days", "must be positive")
	}
	if c.BatchSize <= 0 {
		v.AddField("batch_size", "must be positive")
	}

	return v.Err()
}

// Validate checks the cascade policy.
func (c *CascadeConfig) Validate() error {
	v := cserrors.NewValidationErrors()

	if c.StructuralLimit <= 0 {
		v.AddField("structural_limit", "must be positive")
	}
	if c.SemanticLimit <= 0 {
		v.AddField("semantic_limit", "must be positive")
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold >= 1 {
		v.AddField("similarity_threshold", "must be in (0, 1)")
	}
	if c.VectorLookback <= 0 {
		v.AddField("vector_lookback", "must be positive")
	}
	if c.VectorLimit <= 0 {
		v.AddField("vector_limit", "must be positive")
	}

	return v.Err()
}

// Validate checks the partition configuration.
func (c *PartitionConfig) Validate() error {
	v := cserrors.NewValidationErrors()

	if c.MonthsBack < 0 {
		v.AddField("months_back", "must not be negative")
	}
	if c.MonthsAhead < 0 {
		v.AddField("months_ahead", "must not be negative")
	}

	return v.Err()
}

// Validate checks the schedule configuration.
func (c *ScheduleConfig) Validate() error {
	v := cserrors.NewValidationErrors()

	if c.Partitions < 0 || c.Archive < 0 || c.Maintenance < 0 {
		v.AddField("interval", "must not be negative")
	}
	if c.JobTimeout <= 0 {
		v.AddField("job_timeout", "must be positive")
	}

	return v.Err()
}
