// Package storetest is a behavioural test suite shared by every store
// driver.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/testutil"
	"github.com/xtxerr/contentstore/internal/types"
)

// Opener returns a fresh, empty store. It registers its own cleanup.
type Opener func(t *testing.T) store.Store

// Run runs the suite against the stores returned by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Segments", testSegments},
		{"InsertOutsideSegment", testInsertOutsideSegment},
		{"RoundTrip", testRoundTrip},
		{"ExactDuplicateRejected", testExactDuplicateRejected},
		{"ConcurrentIdenticalInserts", testConcurrentIdenticalInserts},
		{"RollbackOnError", testRollbackOnError},
		{"FindExact", testFindExact},
		{"StructuralAndSemantic", testStructuralAndSemantic},
		{"FindSimilar", testFindSimilar},
		{"Performance", testPerformance},
		{"ConcurrentPerformance", testConcurrentPerformance},
		{"Archivable", testArchivable},
		{"DeleteContent", testDeleteContent},
		{"RefreshStatistics", testRefreshStatistics},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func testSegments(t *testing.T, s store.Store) {
	ctx := context.Background()
	oct := store.Segment{Year: 2026, Month: time.October}
	sep := store.Segment{Year: 2026, Month: time.September}

	require.NoError(t, s.CreateSegment(ctx, oct))
	require.NoError(t, s.CreateSegment(ctx, sep))

	err := s.CreateSegment(ctx, oct)
	require.Error(t, err)
	assert.True(t, cserrors.IsSegmentExists(err), "got %v", err)

	segs, err := s.ListSegments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []store.Segment{sep, oct}, segs)
}

func testInsertOutsideSegment(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateSegment(ctx, store.SegmentFor(testutil.Epoch)))

	rec, fp := testutil.Record("adv-1", "no segment for this one", testutil.Epoch.AddDate(1, 0, 0))
	err := s.Transaction(ctx, func(tx store.Tx) error {
		if err := tx.InsertContent(ctx, rec); err != nil {
			return err
		}
		return tx.InsertFingerprint(ctx, fp)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cserrors.ErrNoSegment)

	_, err = s.GetContent(ctx, rec.ID)
	assert.True(t, cserrors.IsNotFound(err))
}

func testRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	testutil.EnsureSegment(t, s, testutil.Epoch)

	sent := testutil.Epoch.Add(time.Hour)
	rec, fp := testutil.Record("adv-1", "Markets closed higher today.", testutil.Epoch)
	rec.ContentType = "market_update"
	rec.Language = "hi"
	rec.Tags = []string{"equity", "nifty"}
	rec.SentAt = &sent
	rec.Metadata = types.Metadata{types.MetaCampaignID: "cmp-7"}
	testutil.Insert(t, s, rec, fp)

	got, err := s.GetContent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.AdvisorID, got.AdvisorID)
	assert.Equal(t, rec.HashExact, got.HashExact)
	assert.Equal(t, rec.Text, got.Text)
	assert.Equal(t, "market_update", got.ContentType)
	assert.Equal(t, "hi", got.Language)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.SentAt)
	assert.True(t, sent.Equal(*got.SentAt))
	assert.Equal(t, "cmp-7", got.Metadata.Get(types.MetaCampaignID))

	_, err = s.GetContent(ctx, "missing")
	assert.True(t, cserrors.IsNotFound(err))
}

func testExactDuplicateRejected(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := testutil.Seed(t, s, "adv-1", "Same words, same advisor.", testutil.Epoch)

	rec, fp := testutil.Record("adv-1", "Same words, same advisor.", testutil.Epoch.Add(time.Minute))
	err := s.Transaction(ctx, func(tx store.Tx) error {
		if err := tx.InsertContent(ctx, rec); err != nil {
			return err
		}
		return tx.InsertFingerprint(ctx, fp)
	})
	require.Error(t, err)
	assert.True(t, cserrors.IsConstraintViolation(err), "got %v", err)

	// The losing record is rolled back together with its fingerprint.
	_, err = s.GetContent(ctx, rec.ID)
	assert.True(t, cserrors.IsNotFound(err))

	m, err := s.FindExact(ctx, "adv-1", first.HashExact)
	require.NoError(t, err)
	assert.Equal(t, first.ID, m.ContentID)

	// Another advisor may hold the same text.
	testutil.Seed(t, s, "adv-2", "Same words, same advisor.", testutil.Epoch)
}

func testConcurrentIdenticalInserts(t *testing.T, s store.Store) {
	testutil.EnsureSegment(t, s, testutil.Epoch)

	const writers = 8
	var won, lost atomic.Int32
	gt := testutil.NewGoroutineTest(t, 30*time.Second)
	for i := 0; i < writers; i++ {
		gt.Go(func(ctx context.Context) error {
			rec, fp := testutil.Record("adv-1", "Quarter end review.", testutil.Epoch)
			err := s.Transaction(ctx, func(tx store.Tx) error {
				if err := tx.InsertContent(ctx, rec); err != nil {
					return err
				}
				return tx.InsertFingerprint(ctx, fp)
			})
			switch {
			case err == nil:
				won.Add(1)
			case cserrors.IsConstraintViolation(err):
				lost.Add(1)
			default:
				return fmt.Errorf("writer not classified as duplicate: %w", err)
			}
			return nil
		})
	}
	gt.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(writers-1), lost.Load())

	m, err := s.FindExact(context.Background(), "adv-1", testutil.Signals("Quarter end review.").HashExact)
	require.NoError(t, err)
	assert.NotEmpty(t, m.ContentID)
}

func testRollbackOnError(t *testing.T, s store.Store) {
	ctx := context.Background()
	testutil.EnsureSegment(t, s, testutil.Epoch)
	rec, _ := testutil.Record("adv-1", "never committed", testutil.Epoch)

	boom := assert.AnError
	err := s.Transaction(ctx, func(tx store.Tx) error {
		if err := tx.InsertContent(ctx, rec); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetContent(ctx, rec.ID)
	assert.True(t, cserrors.IsNotFound(err))
}

func testFindExact(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := testutil.Seed(t, s, "adv-1", "SIP reminder for October.", testutil.Epoch)

	m, err := s.FindExact(ctx, "adv-1", rec.HashExact)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, m.ContentID)
	assert.Equal(t, "adv-1", m.AdvisorID)
	assert.Equal(t, types.StageExact, m.Stage)
	assert.True(t, rec.CreatedAt.Equal(m.CreatedAt))

	_, err = s.FindExact(ctx, "adv-2", rec.HashExact)
	assert.True(t, cserrors.IsNotFound(err))
}

func testStructuralAndSemantic(t *testing.T, s store.Store) {
	ctx := context.Background()

	// Same shape (word lengths) and same word set, different order.
	var ids []string
	texts := []string{"cat dog", "dog cat", "cat, dog", "dog, cat", "cat dog!", "dog cat.", "cat dog?"}
	for i, text := range texts {
		rec := testutil.Seed(t, s, "adv-1", text, testutil.Epoch.Add(time.Duration(i)*time.Minute))
		ids = append(ids, rec.ID)
	}
	testutil.Seed(t, s, "adv-2", "cat dog", testutil.Epoch)

	sig := testutil.Signals("dog cat")

	structural, err := s.FindStructural(ctx, "adv-1", sig.HashStructural, 5)
	require.NoError(t, err)
	require.Len(t, structural, 5)
	for i, m := range structural {
		assert.Equal(t, ids[len(ids)-1-i], m.ContentID, "most recent first")
		assert.Equal(t, types.StageStructural, m.Stage)
	}

	semantic, err := s.FindSemantic(ctx, "adv-1", sig.HashSemantic, 5)
	require.NoError(t, err)
	require.Len(t, semantic, 5)
	assert.Equal(t, ids[len(ids)-1], semantic[0].ContentID)
	assert.Equal(t, types.StageSemantic, semantic[0].Stage)

	none, err := s.FindStructural(ctx, "adv-3", sig.HashStructural, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testFindSimilar(t *testing.T, s store.Store) {
	ctx := context.Background()

	n := 0
	put := func(emb []float32, at time.Time) string {
		n++
		testutil.EnsureSegment(t, s, at)
		rec, fp := testutil.Record("adv-1", fmt.Sprintf("vector fixture %d", n), at)
		rec.Embedding = emb
		testutil.Insert(t, s, rec, fp)
		return rec.ID
	}

	near := put([]float32{1, 0.1, 0}, testutil.Epoch)
	far := put([]float32{0, 1, 0}, testutil.Epoch)
	exact := put([]float32{1, 0, 0}, testutil.Epoch)
	put([]float32{1, 0, 0}, testutil.DaysAgo(120))

	got, err := s.FindSimilar(ctx, store.SimilarityQuery{
		AdvisorID: "adv-1",
		Embedding: []float32{1, 0, 0},
		Since:     testutil.DaysAgo(90),
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, got, 3, "the 120 day old record is outside the window")
	assert.Equal(t, exact, got[0].ContentID)
	assert.Equal(t, near, got[1].ContentID)
	assert.Equal(t, far, got[2].ContentID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-4)
	assert.InDelta(t, 0.0, got[2].Similarity, 1e-4)
	assert.Equal(t, types.StageVector, got[0].Stage)

	limited, err := s.FindSimilar(ctx, store.SimilarityQuery{
		AdvisorID: "adv-1",
		Embedding: []float32{1, 0, 0},
		Since:     testutil.DaysAgo(90),
		Limit:     1,
	})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, exact, limited[0].ContentID)
}

func testPerformance(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := testutil.Seed(t, s, "adv-1", "Tax saving ideas.", testutil.Epoch)

	_, err := s.GetPerformance(ctx, rec.ID)
	assert.True(t, cserrors.IsNotFound(err))

	p, err := s.RecordPerformance(ctx, rec.ID, types.PerformanceDelta{Sent: 10, Delivered: 10}, testutil.Epoch)
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Delivered)
	assert.Equal(t, 0.0, p.EngagementRate)

	p, err = s.RecordPerformance(ctx, rec.ID, types.PerformanceDelta{Read: 4, Clicked: 1}, testutil.Epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Sent)
	assert.Equal(t, int64(4), p.Read)
	assert.InDelta(t, 0.5, p.EngagementRate, 1e-9)

	got, err := s.GetPerformance(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Read, got.Read)
	assert.True(t, testutil.Epoch.Add(time.Minute).Equal(got.UpdatedAt))

	_, err = s.RecordPerformance(ctx, "missing", types.PerformanceDelta{Sent: 1}, testutil.Epoch)
	assert.True(t, cserrors.IsNotFound(err))
}

func testConcurrentPerformance(t *testing.T, s store.Store) {
	rec := testutil.Seed(t, s, "adv-1", "counted concurrently", testutil.Epoch)

	const workers = 8
	gt := testutil.NewGoroutineTest(t, 30*time.Second)
	for i := 0; i < workers; i++ {
		gt.Go(func(ctx context.Context) error {
			_, err := s.RecordPerformance(ctx, rec.ID,
				types.PerformanceDelta{Delivered: 1, Read: 1}, testutil.Epoch)
			return err
		})
	}
	gt.Wait()

	p, err := s.GetPerformance(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), p.Delivered)
	assert.Equal(t, int64(workers), p.Read)
	assert.InDelta(t, 1.0, p.EngagementRate, 1e-9)
}

func testArchivable(t *testing.T, s store.Store) {
	ctx := context.Background()
	cutoff := testutil.DaysAgo(365)

	kept := testutil.Seed(t, s, "adv-1", "exactly at the cutoff", cutoff)
	older := testutil.Seed(t, s, "adv-1", "one day past", testutil.DaysAgo(366))
	oldest := testutil.Seed(t, s, "adv-2", "long past", testutil.DaysAgo(400))
	_, err := s.RecordPerformance(ctx, older.ID, types.PerformanceDelta{Sent: 3}, testutil.Epoch)
	require.NoError(t, err)

	n, err := s.CountArchivable(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	batch, err := s.ListArchivable(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, oldest.ID, batch[0].Content.ID, "oldest first")
	assert.Equal(t, older.ID, batch[1].Content.ID)
	assert.Nil(t, batch[0].Performance)
	require.NotNil(t, batch[1].Performance)
	assert.Equal(t, int64(3), batch[1].Performance.Sent)
	assert.Equal(t, older.ID, batch[1].Fingerprint.ContentID)
	assert.Equal(t, older.HashExact, batch[1].Fingerprint.HashExact)
	assert.Equal(t, older.Text, batch[1].Content.Text)

	for _, a := range batch {
		assert.NotEqual(t, kept.ID, a.Content.ID)
	}

	one, err := s.ListArchivable(ctx, cutoff, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func testDeleteContent(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := testutil.Seed(t, s, "adv-1", "to be archived", testutil.Epoch)
	_, err := s.RecordPerformance(ctx, rec.ID, types.PerformanceDelta{Sent: 1}, testutil.Epoch)
	require.NoError(t, err)

	require.NoError(t, s.DeleteContent(ctx, rec.ID))

	_, err = s.GetContent(ctx, rec.ID)
	assert.True(t, cserrors.IsNotFound(err))
	_, err = s.FindExact(ctx, "adv-1", rec.HashExact)
	assert.True(t, cserrors.IsNotFound(err))
	_, err = s.GetPerformance(ctx, rec.ID)
	assert.True(t, cserrors.IsNotFound(err))

	require.NoError(t, s.DeleteContent(ctx, rec.ID), "deleting twice is not an error")

	// The exact hash is free again.
	testutil.Seed(t, s, "adv-1", "to be archived", testutil.Epoch)
}

func testRefreshStatistics(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, table := range store.HotTables {
		assert.NoError(t, s.RefreshStatistics(ctx, table), table)
	}
	assert.Error(t, s.RefreshStatistics(ctx, "pg_class"))
}
