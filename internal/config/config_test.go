package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 365, cfg.Retention.ColdDays)
	assert.Equal(t, 1000, cfg.Retention.BatchSize)
	assert.Equal(t, 3600*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 0.85, cfg.Cascade.SimilarityThreshold)
	assert.Equal(t, 90*24*time.Hour, cfg.Cascade.VectorLookback)
	assert.Equal(t, 10, cfg.Cascade.VectorLimit)
	assert.Equal(t, 5, cfg.Cascade.StructuralLimit)
	assert.Equal(t, 1, cfg.Partition.MonthsBack)
	assert.Equal(t, 3, cfg.Partition.MonthsAhead)
	assert.Equal(t, 365*24*time.Hour, cfg.Retention.ColdRetention())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store driver", func(c *Config) { c.Store.Driver = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }},
		{"redis without addr", func(c *Config) { c.Cache.Driver = "redis"; c.Cache.Addr = "" }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"s3 without bucket", func(c *Config) { c.Archive.Driver = "s3"; c.Archive.S3.Endpoint = "s3:9000" }},
		{"bad format", func(c *Config) { c.Archive.Format = "xml" }},
		{"zero retention", func(c *Config) { c.Retention.ColdDays = 0 }},
		{"zero batch", func(c *Config) { c.Retention.BatchSize = 0 }},
		{"threshold of one", func(c *Config) { c.Cascade.SimilarityThreshold = 1 }},
		{"negative months", func(c *Config) { c.Partition.MonthsAhead = -1 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad accuracy", func(c *Config) { c.Stats.Accuracy = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, cserrors.IsValidation(err), "got %v", err)
		})
	}
}

func TestEmbeddedDriversNeedNoDSN(t *testing.T) {
	for _, driver := range []string{"memory", "duckdb"} {
		cfg := DefaultConfig()
		cfg.Store.Driver = driver
		cfg.Store.DSN = ""
		assert.NoError(t, cfg.Validate(), driver)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "contentstore.yaml")

	configContent := `
store:
  driver: postgres
  dsn: postgres://cs:cs@localhost:5432/content
  query_timeout: 5s
  embedding_dimensions: 768
cache:
  driver: redis
  addr: redis:6379
  ttl: 30m
archive:
  driver: s3
  format: parquet
  compression: snappy
  max_writes_per_sec: 50
  s3:
    endpoint: minio:9000
    bucket: advisor-archive
retention:
  cold_days: 180
cascade:
  similarity_threshold: 0.9
  vector_lookback: 720h
schedule:
  archive: 6h
  run_on_start: false
logging:
  level: debug
  json: true
`

	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Store.QueryTimeout)
	assert.Equal(t, 768, cfg.Store.EmbeddingDimensions)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "advisor-archive", cfg.Archive.S3.Bucket)
	assert.Equal(t, "parquet", cfg.Archive.Format)
	assert.Equal(t, 50.0, cfg.Archive.MaxWritesPerSec)
	assert.Equal(t, 180, cfg.Retention.ColdDays)
	assert.Equal(t, 1000, cfg.Retention.BatchSize, "unset keys keep defaults")
	assert.Equal(t, 0.9, cfg.Cascade.SimilarityThreshold)
	assert.Equal(t, 30*24*time.Hour, cfg.Cascade.VectorLookback)
	assert.Equal(t, 6*time.Hour, cfg.Schedule.Archive)
	assert.False(t, cfg.Schedule.RunOnStart)
	assert.True(t, cfg.Logging.JSON)
}

func TestLoadConfigInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("invalid: yaml: content: ["))
	assert.Error(t, err)
}
