package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/types"
)

// =============================================================================
// Write transaction
// =============================================================================

type txn struct {
	tx pgx.Tx
}

func (t *txn) InsertContent(ctx context.Context, rec *types.ContentRecord) error {
	meta, err := store.EncodeJSON(rec.Metadata)
	if err != nil {
		return err
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO content_records (id, advisor_id, hash_exact, text, content_type,
		                             language, tags, embedding, created_at, sent_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9, $10, $11::jsonb)
	`, rec.ID, rec.AdvisorID, rec.HashExact, rec.Text, rec.ContentType,
		rec.Language, tags, vectorArg(rec.Embedding), rec.CreatedAt.UTC(), rec.SentAt, meta)
	if err != nil {
		// "no partition of relation found for row"
		if pgCode(err) == codeCheckViolation {
			return fmt.Errorf("insert content at %s: %w (%v)",
				rec.CreatedAt.UTC().Format(time.RFC3339), cserrors.ErrNoSegment, err)
		}
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

func (t *txn) InsertFingerprint(ctx context.Context, fp *types.ContentFingerprint) error {
	stats, err := store.EncodeJSON(fp.StatisticalSignature)
	if err != nil {
		return err
	}
	ngrams := fp.NgramSignature
	if ngrams == nil {
		ngrams = []string{}
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO content_fingerprints (id, advisor_id, content_id, hash_exact, hash_structural,
		                                  hash_semantic, statistical_signature, ngram_signature,
		                                  usage_count, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10)
	`, fp.ID, fp.AdvisorID, fp.ContentID, fp.HashExact, fp.HashStructural,
		fp.HashSemantic, stats, ngrams, fp.UsageCount, fp.LastSeen.UTC())
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return duplicate(err)
		}
		return fmt.Errorf("insert fingerprint: %w", err)
	}
	return nil
}

// vectorArg returns the pgvector text form, or nil for SQL NULL.
func vectorArg(v []float32) *string {
	s := store.FormatVector(v)
	if s == "" {
		return nil
	}
	return &s
}

// =============================================================================
// Lookups
// =============================================================================

// FindExact implements store.Store.
func (s *Store) FindExact(ctx context.Context, advisorID, hash string) (*types.Match, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	m := types.Match{AdvisorID: advisorID, Stage: types.StageExact}
	err := s.pool.QueryRow(ctx, `
		SELECT f.content_id, r.created_at
		FROM content_fingerprints f
		JOIN content_records r ON r.id = f.content_id
		WHERE f.advisor_id = $1 AND f.hash_exact = $2
	`, advisorID, hash).Scan(&m.ContentID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cserrors.NewNotFound("exact hash", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("find exact: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

// FindStructural implements store.Store.
func (s *Store) FindStructural(ctx context.Context, advisorID, hash string, limit int) ([]types.Match, error) {
	return s.findByHash(ctx, "hash_structural", types.StageStructural, advisorID, hash, limit)
}

// FindSemantic implements store.Store.
func (s *Store) FindSemantic(ctx context.Context, advisorID, hash string, limit int) ([]types.Match, error) {
	return s.findByHash(ctx, "hash_semantic", types.StageSemantic, advisorID, hash, limit)
}

func (s *Store) findByHash(ctx context.Context, column string, stage types.Stage, advisorID, hash string, limit int) ([]types.Match, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT f.content_id, r.created_at
		FROM content_fingerprints f
		JOIN content_records r ON r.id = f.content_id
		WHERE f.advisor_id = $1 AND f.%s = $2
		ORDER BY r.created_at DESC, f.content_id
		LIMIT $3
	`, pgx.Identifier{column}.Sanitize()), advisorID, hash, limit)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", stage, err)
	}
	defer rows.Close()

	var out []types.Match
	for rows.Next() {
		m := types.Match{AdvisorID: advisorID, Stage: stage}
		if err := rows.Scan(&m.ContentID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s match: %w", stage, err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindSimilar implements store.Store. Similarity is 1 - cosine distance.
func (s *Store) FindSimilar(ctx context.Context, q store.SimilarityQuery) ([]types.Match, error) {
	if len(q.Embedding) == 0 {
		return nil, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, created_at, 1 - (embedding <=> $1::vector) AS similarity
		FROM content_records
		WHERE advisor_id = $2
		  AND created_at >= $3
		  AND embedding IS NOT NULL
		  AND vector_dims(embedding) = $4
		ORDER BY embedding <=> $1::vector, id
		LIMIT $5
	`, store.FormatVector(q.Embedding), q.AdvisorID, q.Since.UTC(), len(q.Embedding), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("find similar: %w", err)
	}
	defer rows.Close()

	var out []types.Match
	for rows.Next() {
		m := types.Match{AdvisorID: q.AdvisorID, Stage: types.StageVector}
		var sim *float64
		if err := rows.Scan(&m.ContentID, &m.CreatedAt, &sim); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		if sim != nil {
			m.Similarity = *sim
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// Records
// =============================================================================

const recordColumns = `r.id, r.advisor_id, r.hash_exact, r.text, r.content_type, r.language,
	r.tags, r.embedding::text, r.created_at, r.sent_at, r.metadata::text`

type recordScan struct {
	rec       types.ContentRecord
	embedding *string
	meta      string
}

func (r *recordScan) dest() []any {
	return []any{&r.rec.ID, &r.rec.AdvisorID, &r.rec.HashExact, &r.rec.Text, &r.rec.ContentType,
		&r.rec.Language, &r.rec.Tags, &r.embedding, &r.rec.CreatedAt, &r.rec.SentAt, &r.meta}
}

func (r *recordScan) finish() (*types.ContentRecord, error) {
	rec := r.rec
	rec.CreatedAt = rec.CreatedAt.UTC()
	if len(rec.Tags) == 0 {
		rec.Tags = nil
	}
	if rec.SentAt != nil {
		t := rec.SentAt.UTC()
		rec.SentAt = &t
	}
	if err := store.DecodeJSON(r.meta, &rec.Metadata); err != nil {
		return nil, err
	}
	if r.embedding != nil {
		emb, err := store.ParseVector(*r.embedding)
		if err != nil {
			return nil, err
		}
		rec.Embedding = emb
	}
	return &rec, nil
}

// GetContent implements store.Store.
func (s *Store) GetContent(ctx context.Context, id string) (*types.ContentRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var r recordScan
	err := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM content_records r WHERE r.id = $1`, id).
		Scan(r.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cserrors.NewNotFound("content", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return r.finish()
}

// DeleteContent implements store.Store.
func (s *Store) DeleteContent(ctx context.Context, contentID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.transaction(ctx, func(tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM content_performance WHERE content_id = $1`,
			`DELETE FROM content_fingerprints WHERE content_id = $1`,
			`DELETE FROM content_records WHERE id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, contentID); err != nil {
				return fmt.Errorf("delete content %s: %w", contentID, err)
			}
		}
		return nil
	})
}
