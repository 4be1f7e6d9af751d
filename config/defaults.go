// Package config provides configuration defaults for the content store.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Cascade Defaults
// =============================================================================

const (
	// DefaultStructuralLimit is how many recent structural matches are returned.
	// Override via config: cascade.structural_limit
	DefaultStructuralLimit = 5

	// DefaultSemanticLimit is how many recent semantic matches are returned.
	// Override via config: cascade.semantic_limit
	DefaultSemanticLimit = 5

	// DefaultSimilarityThreshold is the vector similarity a candidate must
	// strictly exceed to be reported.
	// Override via config: cascade.similarity_threshold
	DefaultSimilarityThreshold = 0.85

	// DefaultVectorLookback bounds the vector stage to recent content.
	// Override via config: cascade.vector_lookback
	DefaultVectorLookback = 90 * 24 * time.Hour

	// DefaultVectorLimit caps the number of similar records reported.
	// Override via config: cascade.vector_limit
	DefaultVectorLimit = 10
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultMaxRetries is the number of times an embedded-store transaction
	// is retried after a write-write conflict. Not configurable.
	DefaultMaxRetries = 10

	// DefaultRetryBackoff is the first delay between conflict retries. It
	// doubles per attempt up to DefaultMaxRetryBackoff. Not configurable.
	DefaultRetryBackoff = 5 * time.Millisecond

	// DefaultMaxRetryBackoff caps the delay between conflict retries.
	DefaultMaxRetryBackoff = 200 * time.Millisecond
)

// =============================================================================
// Cache Defaults
// =============================================================================

const (
	// DefaultCacheTTL is the lifetime of every cache entry.
	// Override via config: cache.ttl
	DefaultCacheTTL = 3600 * time.Second

	// DefaultCacheTimeout bounds a single cache call. On timeout the caller
	// falls back to the store.
	// Override via config: cache.timeout
	DefaultCacheTimeout = 100 * time.Millisecond

	// DefaultCacheLoadTimeout bounds a coalesced store load behind a cache
	// miss. Not configurable.
	DefaultCacheLoadTimeout = 10 * time.Second

	// DefaultCachePrefix is the key namespace for content entries.
	DefaultCachePrefix = "content:"
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultColdRetentionDays is the age after which content moves to the
	// cold tier.
	// Override via config: retention.cold_days
	DefaultColdRetentionDays = 365

	// DefaultArchiveBatchSize bounds the records handled by one sweep.
	// Override via config: retention.batch_size
	DefaultArchiveBatchSize = 1000
)

// =============================================================================
// Partition Defaults
// =============================================================================

const (
	// DefaultPartitionMonthsBack is how many past months keep a segment.
	// Override via config: partition.months_back
	DefaultPartitionMonthsBack = 1

	// DefaultPartitionMonthsAhead is how many future months are pre-created.
	// Override via config: partition.months_ahead
	DefaultPartitionMonthsAhead = 3
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultMaxOpenConns is the connection pool size.
	// Override via config: store.max_open_conns
	DefaultMaxOpenConns = 25

	// DefaultMaxIdleConns is the number of idle pooled connections.
	// Override via config: store.max_idle_conns
	DefaultMaxIdleConns = 5

	// DefaultConnMaxLifetime recycles pooled connections.
	// Override via config: store.conn_max_lifetime
	DefaultConnMaxLifetime = 5 * time.Minute

	// DefaultQueryTimeout bounds a single store call.
	// Override via config: store.query_timeout
	DefaultQueryTimeout = 10 * time.Second
)

// =============================================================================
// Scheduler Defaults
// =============================================================================

const (
	// DefaultPartitionInterval is how often segments are ensured.
	// Override via config: schedule.partitions
	DefaultPartitionInterval = 24 * time.Hour

	// DefaultArchiveInterval is how often the archival sweep runs.
	// Override via config: schedule.archive
	DefaultArchiveInterval = 24 * time.Hour

	// DefaultMaintenanceInterval is how often maintenance runs.
	// Override via config: schedule.maintenance
	DefaultMaintenanceInterval = 24 * time.Hour

	// DefaultJobTimeout bounds a single scheduled tick.
	// Override via config: schedule.job_timeout
	DefaultJobTimeout = 30 * time.Minute

	// DefaultSchedulerTickInterval is how often the scheduler checks for
	// due jobs. Not configurable.
	DefaultSchedulerTickInterval = time.Second

	// DefaultDrainTimeout is how long shutdown waits for running jobs
	// before cancelling them. Not configurable.
	DefaultDrainTimeout = 30 * time.Second
)

// =============================================================================
// Stats Defaults
// =============================================================================

const (
	// DefaultSketchAccuracy is the relative accuracy of latency percentiles.
	// Override via config: stats.accuracy
	DefaultSketchAccuracy = 0.01
)
