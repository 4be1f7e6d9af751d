package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/store/storetest"
)

// testDSN returns the DSN of a scratch database, skipping the test when
// none is configured. The database needs the pgvector extension.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CONTENTSTORE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("CONTENTSTORE_TEST_PG_DSN not set")
	}
	return dsn
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS content_records, content_fingerprints, content_performance CASCADE`)
	pool.Close()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.DSN = dsn
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	testDSN(t)
	storetest.Run(t, func(t *testing.T) store.Store {
		return setupTestStore(t)
	})
}

func TestSegmentIsPartition(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seg := store.Segment{Year: 2026, Month: 11}

	require.NoError(t, s.CreateSegment(ctx, seg))

	var bound string
	err := s.Pool().QueryRow(ctx, `
		SELECT pg_get_expr(c.relpartbound, c.oid)
		FROM pg_class c WHERE c.relname = $1
	`, seg.Name()).Scan(&bound)
	require.NoError(t, err)
	assert.Contains(t, bound, "2026-11-01")
	assert.Contains(t, bound, "2026-12-01")

	err = s.CreateSegment(ctx, seg)
	assert.True(t, cserrors.IsSegmentExists(err), "got %v", err)
}

func TestNewRejectsBadDSN(t *testing.T) {
	_, err := New(context.Background(), Config{DSN: "postgres://%zz"})
	assert.Error(t, err)
}
