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
// Performance
// =============================================================================

// upsertPerformance adds a delta in one statement. It inserts nothing when
// the record does not exist, which surfaces as pgx.ErrNoRows.
const upsertPerformance = `
	INSERT INTO content_performance AS p (content_id, sent_count, delivered_count, read_count,
	                                      clicked_count, replied_count, engagement_rate, updated_at)
	SELECT $1::text, $2::bigint, $3::bigint, $4::bigint, $5::bigint, $6::bigint,
	       CASE WHEN $3::bigint > 0
	            THEN ($4::bigint + $5::bigint + $6::bigint)::double precision / $3::bigint
	            ELSE 0 END,
	       $7::timestamptz
	WHERE EXISTS (SELECT 1 FROM content_records WHERE id = $1::text)
	ON CONFLICT (content_id) DO UPDATE SET
		sent_count      = p.sent_count + EXCLUDED.sent_count,
		delivered_count = p.delivered_count + EXCLUDED.delivered_count,
		read_count      = p.read_count + EXCLUDED.read_count,
		clicked_count   = p.clicked_count + EXCLUDED.clicked_count,
		replied_count   = p.replied_count + EXCLUDED.replied_count,
		engagement_rate = CASE
			WHEN p.delivered_count + EXCLUDED.delivered_count > 0
			THEN (p.read_count + EXCLUDED.read_count
			    + p.clicked_count + EXCLUDED.clicked_count
			    + p.replied_count + EXCLUDED.replied_count)::double precision
			     / (p.delivered_count + EXCLUDED.delivered_count)
			ELSE 0 END,
		updated_at      = EXCLUDED.updated_at
	RETURNING content_id, sent_count, delivered_count, read_count,
	          clicked_count, replied_count, engagement_rate, updated_at
`

const performanceColumns = `content_id, sent_count, delivered_count, read_count,
	clicked_count, replied_count, engagement_rate, updated_at`

func scanPerformance(row pgx.Row) (*types.PerformanceRecord, error) {
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

	p, err := scanPerformance(s.pool.QueryRow(ctx, upsertPerformance,
		contentID, d.Sent, d.Delivered, d.Read, d.Clicked, d.Replied, at.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cserrors.NewNotFound("content", contentID)
	}
	if err != nil {
		return nil, fmt.Errorf("record performance: %w", err)
	}
	return p, nil
}

// GetPerformance implements store.Store.
func (s *Store) GetPerformance(ctx context.Context, contentID string) (*types.PerformanceRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p, err := scanPerformance(s.pool.QueryRow(ctx,
		`SELECT `+performanceColumns+` FROM content_performance WHERE content_id = $1`, contentID))
	if errors.Is(err, pgx.ErrNoRows) {
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

// CreateSegment implements store.Store by creating a monthly partition of
// content_records.
func (s *Store) CreateSegment(ctx context.Context, seg store.Segment) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ddl := fmt.Sprintf(`CREATE TABLE %s PARTITION OF content_records FOR VALUES FROM ('%s') TO ('%s')`,
		pgx.Identifier{seg.Name()}.Sanitize(),
		seg.Start().Format(time.RFC3339), seg.End().Format(time.RFC3339))

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		if pgCode(err) == codeDuplicateTable {
			return cserrors.New(cserrors.KindSegmentExists, "create segment",
				fmt.Errorf("%s: %w", seg.Name(), cserrors.ErrAlreadyExists))
		}
		return fmt.Errorf("create segment %s: %w", seg.Name(), err)
	}
	return nil
}

// ListSegments implements store.Store.
func (s *Store) ListSegments(ctx context.Context) ([]store.Segment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = $1
		ORDER BY c.relname
	`, store.TableRecords)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []store.Segment
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg, err := store.ParseSegmentName(name)
		if err != nil {
			// Partitions created by hand keep working; they are just not
			// managed here.
			log.Warn("ignoring unmanaged partition", "name", name)
			continue
		}
		out = append(out, seg)
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

	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`,
		       f.id, f.hash_structural, f.hash_semantic, f.statistical_signature::text,
		       f.ngram_signature, f.usage_count, f.last_seen,
		       p.sent_count, p.delivered_count, p.read_count, p.clicked_count,
		       p.replied_count, p.engagement_rate, p.updated_at
		FROM content_records r
		JOIN content_fingerprints f ON f.content_id = r.id
		LEFT JOIN content_performance p ON p.content_id = r.id
		WHERE r.created_at < $1
		ORDER BY r.created_at, r.id
		LIMIT $2
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
			sent    *int64
			deliv   *int64
			read    *int64
			clicked *int64
			replied *int64
			rate    *float64
			updated *time.Time
		)
		dest := append(r.dest(),
			&fp.ID, &fp.HashStructural, &fp.HashSemantic, &stats,
			&fp.NgramSignature, &fp.UsageCount, &fp.LastSeen,
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

		a := &types.ArchivedContent{Content: *rec, Fingerprint: fp}
		if updated != nil {
			a.Performance = &types.PerformanceRecord{
				ContentID:      rec.ID,
				Sent:           deref(sent),
				Delivered:      deref(deliv),
				Read:           deref(read),
				Clicked:        deref(clicked),
				Replied:        deref(replied),
				EngagementRate: deref(rate),
				UpdatedAt:      updated.UTC(),
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// CountArchivable implements store.Store.
func (s *Store) CountArchivable(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM content_records WHERE created_at < $1`, cutoff.UTC()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count archivable: %w", err)
	}
	return n, nil
}

// RefreshStatistics implements store.Store.
func (s *Store) RefreshStatistics(ctx context.Context, table string) error {
	if !store.IsHotTable(table) {
		return cserrors.NewInvalidInput("table", table)
	}
	if _, err := s.pool.Exec(ctx, `VACUUM (ANALYZE) `+pgx.Identifier{table}.Sanitize()); err != nil {
		return fmt.Errorf("vacuum analyze %s: %w", table, err)
	}
	return nil
}
