package duckdb

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations create the hot-tier schema. Each statement is idempotent, so
// the list is safe to run on every start.
//
// DuckDB has no declarative partitioning. Segments are rows of
// content_segments and InsertContent refuses records no segment covers.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "content_segments",
		sql: `CREATE TABLE IF NOT EXISTS content_segments (
			year        INTEGER   NOT NULL,
			month       INTEGER   NOT NULL,
			name        VARCHAR   NOT NULL,
			range_start TIMESTAMP NOT NULL,
			range_end   TIMESTAMP NOT NULL,
			created_at  TIMESTAMP NOT NULL DEFAULT current_timestamp,
			PRIMARY KEY (year, month)
		)`,
	},
	{
		name: "content_records",
		sql: `CREATE TABLE IF NOT EXISTS content_records (
			id           VARCHAR   PRIMARY KEY,
			advisor_id   VARCHAR   NOT NULL,
			hash_exact   VARCHAR   NOT NULL,
			text         VARCHAR   NOT NULL,
			content_type VARCHAR   NOT NULL,
			language     VARCHAR   NOT NULL,
			tags         VARCHAR   NOT NULL DEFAULT '[]',
			embedding    FLOAT[],
			created_at   TIMESTAMP NOT NULL,
			sent_at      TIMESTAMP,
			metadata     VARCHAR   NOT NULL DEFAULT '{}'
		)`,
	},
	{
		name: "content_records.created_at",
		sql:  `CREATE INDEX IF NOT EXISTS idx_content_records_created ON content_records (created_at)`,
	},
	{
		name: "content_records.advisor",
		sql:  `CREATE INDEX IF NOT EXISTS idx_content_records_advisor ON content_records (advisor_id, created_at)`,
	},
	{
		name: "content_fingerprints",
		sql: `CREATE TABLE IF NOT EXISTS content_fingerprints (
			id                    VARCHAR   PRIMARY KEY,
			advisor_id            VARCHAR   NOT NULL,
			content_id            VARCHAR   NOT NULL,
			hash_exact            VARCHAR   NOT NULL,
			hash_structural       VARCHAR   NOT NULL,
			hash_semantic         VARCHAR   NOT NULL,
			statistical_signature VARCHAR   NOT NULL DEFAULT '{}',
			ngram_signature       VARCHAR   NOT NULL DEFAULT '[]',
			usage_count           BIGINT    NOT NULL DEFAULT 1,
			last_seen             TIMESTAMP NOT NULL
		)`,
	},
	{
		name: "content_fingerprints.advisor_exact",
		sql:  `CREATE UNIQUE INDEX IF NOT EXISTS uq_fingerprints_advisor_exact ON content_fingerprints (advisor_id, hash_exact)`,
	},
	{
		name: "content_fingerprints.advisor_structural",
		sql:  `CREATE INDEX IF NOT EXISTS idx_fingerprints_advisor_structural ON content_fingerprints (advisor_id, hash_structural)`,
	},
	{
		name: "content_fingerprints.advisor_semantic",
		sql:  `CREATE INDEX IF NOT EXISTS idx_fingerprints_advisor_semantic ON content_fingerprints (advisor_id, hash_semantic)`,
	},
	{
		name: "content_fingerprints.content",
		sql:  `CREATE INDEX IF NOT EXISTS idx_fingerprints_content ON content_fingerprints (content_id)`,
	},
	{
		name: "content_performance",
		sql: `CREATE TABLE IF NOT EXISTS content_performance (
			content_id      VARCHAR   PRIMARY KEY,
			sent_count      BIGINT    NOT NULL DEFAULT 0,
			delivered_count BIGINT    NOT NULL DEFAULT 0,
			read_count      BIGINT    NOT NULL DEFAULT 0,
			clicked_count   BIGINT    NOT NULL DEFAULT 0,
			replied_count   BIGINT    NOT NULL DEFAULT 0,
			engagement_rate DOUBLE    NOT NULL DEFAULT 0,
			updated_at      TIMESTAMP NOT NULL
		)`,
	},
}

// migrate applies every migration in order.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}
