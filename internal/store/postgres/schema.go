package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema returns the hot-tier DDL. content_records is range-partitioned by
// created_at; monthly partitions are created by CreateSegment. A row whose
// created_at no partition covers is rejected by Postgres itself.
func schema(dims int) []string {
	vectorType := "vector"
	if dims > 0 {
		vectorType = fmt.Sprintf("vector(%d)", dims)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS content_records (
			id           TEXT        NOT NULL,
			advisor_id   TEXT        NOT NULL,
			hash_exact   TEXT        NOT NULL,
			text         TEXT        NOT NULL,
			content_type TEXT        NOT NULL,
			language     TEXT        NOT NULL,
			tags         TEXT[]      NOT NULL DEFAULT '{}',
			embedding    %s,
			created_at   TIMESTAMPTZ NOT NULL,
			sent_at      TIMESTAMPTZ,
			metadata     JSONB       NOT NULL DEFAULT '{}',
			PRIMARY KEY (id, created_at)
		) PARTITION BY RANGE (created_at)`, vectorType),
		`CREATE INDEX IF NOT EXISTS idx_content_records_advisor_created
			ON content_records (advisor_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_content_records_id ON content_records (id)`,
		`CREATE TABLE IF NOT EXISTS content_fingerprints (
			id                    TEXT        PRIMARY KEY,
			advisor_id            TEXT        NOT NULL,
			content_id            TEXT        NOT NULL,
			hash_exact            TEXT        NOT NULL,
			hash_structural       TEXT        NOT NULL,
			hash_semantic         TEXT        NOT NULL,
			statistical_signature JSONB       NOT NULL DEFAULT '{}',
			ngram_signature       TEXT[]      NOT NULL DEFAULT '{}',
			usage_count           BIGINT      NOT NULL DEFAULT 1,
			last_seen             TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_fingerprints_advisor_exact
			ON content_fingerprints (advisor_id, hash_exact)`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprints_advisor_structural
			ON content_fingerprints (advisor_id, hash_structural)`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprints_advisor_semantic
			ON content_fingerprints (advisor_id, hash_semantic)`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprints_content ON content_fingerprints (content_id)`,
		`CREATE TABLE IF NOT EXISTS content_performance (
			content_id      TEXT             PRIMARY KEY,
			sent_count      BIGINT           NOT NULL DEFAULT 0,
			delivered_count BIGINT           NOT NULL DEFAULT 0,
			read_count      BIGINT           NOT NULL DEFAULT 0,
			clicked_count   BIGINT           NOT NULL DEFAULT 0,
			replied_count   BIGINT           NOT NULL DEFAULT 0,
			engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ      NOT NULL
		)`,
	}

	// HNSW needs a fixed dimension.
	if dims > 0 {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_content_records_embedding
			ON content_records USING hnsw (embedding vector_cosine_ops)`)
	}
	return stmts
}

func initializeSchema(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	for i, stmt := range schema(dims) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
