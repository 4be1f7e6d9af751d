package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/types"
)

// =============================================================================
// Write transaction
// =============================================================================

type txn struct {
	tx *sql.Tx
}

func (t *txn) InsertContent(ctx context.Context, rec *types.ContentRecord) error {
	var covered int
	created := rec.CreatedAt.UTC()
	err := t.tx.QueryRowContext(ctx, `
		SELECT count(*) FROM content_segments
		WHERE range_start <= ? AND range_end > ?
	`, created, created).Scan(&covered)
	if err != nil {
		return fmt.Errorf("check segment: %w", err)
	}
	if covered == 0 {
		return fmt.Errorf("insert content at %s: %w", created.Format(time.RFC3339), cserrors.ErrNoSegment)
	}

	tags, err := store.EncodeJSON(rec.Tags)
	if err != nil {
		return err
	}
	meta, err := store.EncodeJSON(rec.Metadata)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO content_records (id, advisor_id, hash_exact, text, content_type,
		                             language, tags, embedding, created_at, sent_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, CAST(? AS FLOAT[]), ?, ?, ?)
	`, rec.ID, rec.AdvisorID, rec.HashExact, rec.Text, rec.ContentType,
		rec.Language, tags, vectorArg(rec.Embedding), created, timeArg(rec.SentAt), meta)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

func (t *txn) InsertFingerprint(ctx context.Context, fp *types.ContentFingerprint) error {
	stats, err := store.EncodeJSON(fp.StatisticalSignature)
	if err != nil {
		return err
	}
	ngrams, err := store.EncodeJSON(fp.NgramSignature)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO content_fingerprints (id, advisor_id, content_id, hash_exact, hash_structural,
		                                  hash_semantic, statistical_signature, ngram_signature,
		                                  usage_count, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fp.ID, fp.AdvisorID, fp.ContentID, fp.HashExact, fp.HashStructural,
		fp.HashSemantic, stats, ngrams, fp.UsageCount, fp.LastSeen.UTC())
	if err != nil {
		return classifyFingerprint(err)
	}
	return nil
}

func vectorArg(v []float32) sql.NullString {
	s := store.FormatVector(v)
	return sql.NullString{String: s, Valid: s != ""}
}

func timeArg(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// =============================================================================
// Lookups
// =============================================================================

// FindExact implements store.Store.
func (s *Store) FindExact(ctx context.Context, advisorID, hash string) (*types.Match, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	m := types.Match{AdvisorID: advisorID, Stage: types.StageExact}
	err := s.db.QueryRowContext(ctx, `
		SELECT f.content_id, r.created_at
		FROM content_fingerprints f
		JOIN content_records r ON r.id = f.content_id
		WHERE f.advisor_id = ? AND f.hash_exact = ?
	`, advisorID, hash).Scan(&m.ContentID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
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

// findByHash selects by one of the fixed hash columns. column is never
// caller-supplied.
func (s *Store) findByHash(ctx context.Context, column string, stage types.Stage, advisorID, hash string, limit int) ([]types.Match, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT f.content_id, r.created_at
		FROM content_fingerprints f
		JOIN content_records r ON r.id = f.content_id
		WHERE f.advisor_id = ? AND f.%s = ?
		ORDER BY r.created_at DESC, f.content_id
		LIMIT ?
	`, column), advisorID, hash, limit)
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

// FindSimilar implements store.Store.
func (s *Store) FindSimilar(ctx context.Context, q store.SimilarityQuery) ([]types.Match, error) {
	if len(q.Embedding) == 0 {
		return nil, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at,
		       CAST(list_cosine_similarity(embedding, CAST(? AS FLOAT[])) AS DOUBLE) AS similarity
		FROM content_records
		WHERE advisor_id = ?
		  AND created_at >= ?
		  AND embedding IS NOT NULL
		  AND len(embedding) = ?
		ORDER BY similarity DESC, id
		LIMIT ?
	`, store.FormatVector(q.Embedding), q.AdvisorID, q.Since.UTC(), len(q.Embedding), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("find similar: %w", err)
	}
	defer rows.Close()

	var out []types.Match
	for rows.Next() {
		m := types.Match{AdvisorID: q.AdvisorID, Stage: types.StageVector}
		var sim sql.NullFloat64
		if err := rows.Scan(&m.ContentID, &m.CreatedAt, &sim); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		m.Similarity = sim.Float64
		out = append(out, m)
	}
	return out, rows.Err()
}

// =============================================================================
// Records
// =============================================================================

const recordColumns = `r.id, r.advisor_id, r.hash_exact, r.text, r.content_type, r.language,
	r.tags, CAST(r.embedding AS VARCHAR), r.created_at, r.sent_at, r.metadata`

type scanner interface {
	Scan(dest ...any) error
}

// recordScan holds the scan targets of recordColumns.
type recordScan struct {
	rec       types.ContentRecord
	tags      string
	embedding sql.NullString
	sentAt    sql.NullTime
	meta      string
}

func (r *recordScan) dest() []any {
	return []any{&r.rec.ID, &r.rec.AdvisorID, &r.rec.HashExact, &r.rec.Text, &r.rec.ContentType,
		&r.rec.Language, &r.tags, &r.embedding, &r.rec.CreatedAt, &r.sentAt, &r.meta}
}

func (r *recordScan) finish() (*types.ContentRecord, error) {
	rec := r.rec
	rec.CreatedAt = rec.CreatedAt.UTC()
	if err := store.DecodeJSON(r.tags, &rec.Tags); err != nil {
		return nil, err
	}
	if len(rec.Tags) == 0 {
		rec.Tags = nil
	}
	if err := store.DecodeJSON(r.meta, &rec.Metadata); err != nil {
		return nil, err
	}
	if r.embedding.Valid {
		emb, err := store.ParseVector(r.embedding.String)
		if err != nil {
			return nil, err
		}
		rec.Embedding = emb
	}
	if r.sentAt.Valid {
		t := r.sentAt.Time.UTC()
		rec.SentAt = &t
	}
	return &rec, nil
}

// GetContent implements store.Store.
func (s *Store) GetContent(ctx context.Context, id string) (*types.ContentRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var r recordScan
	err := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM content_records r WHERE r.id = ?`, id).
		Scan(r.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
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

	return s.transaction(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM content_performance WHERE content_id = ?`,
			`DELETE FROM content_fingerprints WHERE content_id = ?`,
			`DELETE FROM content_records WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, contentID); err != nil {
				return fmt.Errorf("delete content %s: %w", contentID, err)
			}
		}
		return nil
	})
}
