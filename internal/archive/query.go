package archive

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/validation"
)

// Query runs ad-hoc SQL over Parquet snapshots in a filesystem cold tier
// using an in-memory DuckDB. JSON snapshots are not visible to it.
type Query struct {
	db   *sql.DB
	root string

	queries atomic.Int64
	errors  atomic.Int64
}

// Summary aggregates the archived content of one advisor.
type Summary struct {
	AdvisorID     string
	Records       int64
	OldestCreated time.Time
	NewestCreated time.Time
	Sent          int64
	Delivered     int64
	Engaged       int64
}

// NewQuery opens a query engine on the objects directory of a filesystem
// blob store rooted at root.
func NewQuery(root string) (*Query, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Query{db: db, root: root}, nil
}

// Close closes the engine.
func (q *Query) Close() error {
	return q.db.Close()
}

// Stats returns the number of queries executed and failed.
func (q *Query) Stats() (queries, errors int64) {
	return q.queries.Load(), q.errors.Load()
}

// AdvisorSummary summarizes every snapshot archived for advisorID.
func (q *Query) AdvisorSummary(ctx context.Context, advisorID string) (*Summary, error) {
	if err := validation.ValidateAdvisorID(advisorID); err != nil {
		return nil, err
	}
	q.queries.Add(1)

	pattern := filepath.Join(q.root, "objects", "archive", advisorID, "*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		q.errors.Add(1)
		return nil, fmt.Errorf("glob snapshots: %w", err)
	}
	if len(matches) == 0 {
		return nil, cserrors.NewNotFound("archive", advisorID)
	}

	query := `
		SELECT
			count(*),
			min(created_at_ns), max(created_at_ns),
			CAST(coalesce(sum(sent), 0) AS BIGINT),
			CAST(coalesce(sum(delivered), 0) AS BIGINT),
			CAST(coalesce(sum("read" + clicked + replied), 0) AS BIGINT)
		FROM read_parquet($1)
		WHERE advisor_id = $2
	`

	s := Summary{AdvisorID: advisorID}
	var oldest, newest sql.NullInt64
	err = q.db.QueryRowContext(ctx, query, pattern, advisorID).Scan(
		&s.Records, &oldest, &newest, &s.Sent, &s.Delivered, &s.Engaged,
	)
	if err != nil {
		q.errors.Add(1)
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	if oldest.Valid {
		s.OldestCreated = fromNanos(oldest.Int64)
	}
	if newest.Valid {
		s.NewestCreated = fromNanos(newest.Int64)
	}
	return &s, nil
}
