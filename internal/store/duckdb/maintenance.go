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
// Performance
// =============================================================================

// upsertPerformance adds a delta in a single statement. The SET clause sees
// the stored row, so counters and rate never lose a concurrent update.
const upsertPerformance = `
	INSERT INTO content_performance (content_id, sent_count, delivered_count, read_count,
	                                 clicked_count, replied_count, engagement_rate, updated_at)
	VALUES (?, ?, ?, ?, ?, ?,
	        CASE WHEN ? > 0 THEN CAST(? + ? + ? AS DOUBLE) / ? ELSE 0 END, ?)
	ON CONFLICT (content_id) DO UPDATE SET
		sent_count      = sent_count + EXCLUDED.sent_count,
		delivered_count = delivered_count + EXCLUDED.delivered_count,
		read_count      = read_count + EXCLUDED.read_count,
		clicked_count   = clicked_count + EXCLUDED.clicked_count,
		replied_count   = replied_count + EXCLUDED.replied_count,
		engagement_rate = CASE
			WHEN delivered_count + EXCLUDED.delivered_count > 0
			THEN CAST(read_count + EXCLUDED.read_count
			        + clicked_count + EXCLUDED.clicked_count
			        + replied_count + EXCLUDED.replied_count AS DOUBLE)
			     / (delivered_count + EXCLUDED.delivered_count)
			ELSE 0 END,
		updated_at      = EXCLUDED.updated_at
`

const performanceColumns = `content_id, sent_count, delivered_count, read_count,
	clicked_count, replied_count, engagement_rate, updated_at`

func scanPerformance(row scanner) (*types.PerformanceRecord, error) {
	var p types.PerformanceRecord
	if err := row.Scan(&p.ContentID, &p.Sent, &p.Delivered, &p.Read,
		&p.Clicked, &p.Replied, &p.EngagementRate, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// RecordPerformance implements store.Store.
func (s *Store) RecordPerformance(ctx context.Context, contentID string, d types.PerformanceDelta, at time.Time) (*types.PerformanceRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out *types.PerformanceRecord
	err := s.transaction(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM content_records WHERE id = ?`, contentID).Scan(&n); err != nil {
			return fmt.Errorf("check content: %w", err)
		}
		if n == 0 {
			return cserrors.NewNotFound("content", contentID)
		}

		_, err := tx.ExecContext(ctx, upsertPerformance,
			contentID, d.Sent, d.Delivered, d.Read, d.Clicked, d.Replied,
			d.Delivered, d.Read, d.Clicked, d.Replied, d.Delivered, at.UTC())
		if err != nil {
			return fmt.Errorf("upsert performance: %w", err)
		}

		p, err := scanPerformance(tx.QueryRowContext(ctx,
			`SELECT `+performanceColumns+` FROM content_performance WHERE content_id = ?`, contentID))
		if err != nil {
			return fmt.Errorf("read performance: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetPerformance implements store.Store.
func (s *Store) GetPerformance(ctx context.Context, contentID string) (*types.PerformanceRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := scanPerformance(s.db.QueryRowContext(ctx,
		`SELECT `+performanceColumns+` FROM content_performance WHERE content_id = ?`, contentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cserrors.NewNotFound("performance", contentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get performance: %w", err)
	}
	return p, nil
}

// =============================================================================
// Segments
// =============================================================================

// CreateSegment implements store.Store.
func (s *Store) CreateSegment(ctx context.Context, seg store.Segment) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_segments (year, month, name, range_start, range_end)
		VALUES (?, ?, ?, ?, ?)
	`, seg.Year, int(seg.Month), seg.Name(), seg.Start(), seg.End())
	if isConstraint(err) {
		return cserrors.New(cserrors.KindSegmentExists, "create segment",
			fmt.Errorf("%s: %w", seg.Name(), cserrors.ErrAlreadyExists))
	}
	if err != nil {
		return fmt.Errorf("create segment %s: %w", seg.Name(), err)
	}
	return nil
}

// ListSegments implements store.Store.
func (s *Store) ListSegments(ctx context.Context) ([]store.Segment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT year, month FROM content_segments ORDER BY year, month`)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []store.Segment
	for rows.Next() {
		var year, month int
		if err := rows.Scan(&year, &month); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, store.Segment{Year: year, Month: time.Month(month)})
	}
	return out, rows.Err()
}

// =============================================================================
// Retention
// =============================================================================

// ListArchivable implements store.Store.
func (s *Store) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]*types.ArchivedContent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`,
		       f.id, f.hash_structural, f.hash_semantic, f.statistical_signature,
		       f.ngram_signature, f.usage_count, f.last_seen,
		       p.sent_count, p.delivered_count, p.read_count, p.clicked_count,
		       p.replied_count, p.engagement_rate, p.updated_at
		FROM content_records r
		JOIN content_fingerprints f ON f.content_id = r.id
		LEFT JOIN content_performance p ON p.content_id = r.id
		WHERE r.created_at < ?
		ORDER BY r.created_at, r.id
		LIMIT ?
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list archivable: %w", err)
	}
	defer rows.Close()

	var out []*types.ArchivedContent
	for rows.Next() {
		var (
			r       recordScan
			fp      types.ContentFingerprint
			stats   string
			ngrams  string
			sent    sql.NullInt64
			deliv   sql.NullInt64
			read    sql.NullInt64
			clicked sql.NullInt64
			replied sql.NullInt64
			rate    sql.NullFloat64
			updated sql.NullTime
		)
		dest := append(r.dest(),
			&fp.ID, &fp.HashStructural, &fp.HashSemantic, &stats,
			&ngrams, &fp.UsageCount, &fp.LastSeen,
			&sent, &deliv, &read, &clicked, &replied, &rate, &updated)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan archivable: %w", err)
		}

		rec, err := r.finish()
		if err != nil {
			return nil, err
		}
		fp.AdvisorID = rec.AdvisorID
		fp.ContentID = rec.ID
		fp.HashExact = rec.HashExact
		fp.LastSeen = fp.LastSeen.UTC()
		if err := store.DecodeJSON(stats, &fp.StatisticalSignature); err != nil {
			return nil, err
		}
		if err := store.DecodeJSON(ngrams, &fp.NgramSignature); err != nil {
			return nil, err
		}

		a := &types.ArchivedContent{Content: *rec, Fingerprint: fp}
		if updated.Valid {
			a.Performance = &types.PerformanceRecord{
				ContentID:      rec.ID,
				Sent:           sent.Int64,
				Delivered:      deliv.Int64,
				Read:           read.Int64,
				Clicked:        clicked.Int64,
				Replied:        replied.Int64,
				EngagementRate: rate.Float64,
				UpdatedAt:      updated.Time.UTC(),
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountArchivable implements store.Store.
func (s *Store) CountArchivable(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM content_records WHERE created_at < ?`, cutoff.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count archivable: %w", err)
	}
	return n, nil
}

// RefreshStatistics implements store.Store.
func (s *Store) RefreshStatistics(ctx context.Context, table string) error {
	if !store.IsHotTable(table) {
		return cserrors.NewInvalidInput("table", table)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE `+table); err != nil {
		return fmt.Errorf("analyze %s: %w", table, err)
	}
	return nil
}
