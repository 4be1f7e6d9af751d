package cascade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/contentstore/internal/cache"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/stats"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/store/memory"
	"github.com/xtxerr/contentstore/internal/testutil"
	"github.com/xtxerr/contentstore/internal/types"
)

type downBackend struct{ cache.Noop }

func (downBackend) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

type fixture struct {
	mem      *memory.Store
	store    *testutil.CountingStore
	cache    *cache.Adapter
	recorder *stats.Recorder
	resolver *Resolver
}

func newFixture(t *testing.T, backend cache.Backend) *fixture {
	t.Helper()
	mem := memory.New(memory.Options{SkipSegmentCheck: true})
	t.Cleanup(func() { mem.Close() })

	cs := testutil.NewCountingStore(mem)
	c := cache.New(backend, cache.Config{})
	rec := stats.New(0.01)
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return testutil.Epoch }
	return &fixture{mem: mem, store: cs, cache: c, recorder: rec, resolver: New(cs, c, cfg, rec)}
}

func (f *fixture) check(t *testing.T, advisorID, text string) *types.UniquenessResult {
	t.Helper()
	res, err := f.resolver.CheckUniqueness(context.Background(), text, advisorID, testutil.Signals(text))
	require.NoError(t, err)
	return res
}

func TestUniqueContent(t *testing.T) {
	f := newFixture(t, cache.NewMemory())

	res := f.check(t, "adv-1", "Fresh content.")
	assert.True(t, res.IsUnique)
	assert.Nil(t, res.ExactMatch)
	assert.NotNil(t, res.StructuralMatches)
	assert.NotNil(t, res.SemanticMatches)
	assert.NotNil(t, res.SimilarContent)
	assert.False(t, res.HasNearDuplicates())
}

func TestExactDuplicateShortCircuits(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	seeded := testutil.Seed(t, f.mem, "adv-1", "Quarterly results beat estimates.", testutil.DaysAgo(3))
	f.store.Reset()

	res := f.check(t, "adv-1", "Quarterly results beat estimates.")
	assert.False(t, res.IsUnique)
	require.NotNil(t, res.ExactMatch)
	assert.Equal(t, seeded.ID, res.ExactMatch.ContentID)
	assert.Equal(t, types.StageExact, res.ExactMatch.Stage)
	assert.Empty(t, res.StructuralMatches)
	assert.Empty(t, res.SemanticMatches)
	assert.Empty(t, res.SimilarContent)

	assert.Equal(t, 1, f.store.Calls("FindExact"))
	assert.Zero(t, f.store.Calls("FindStructural"))
	assert.Zero(t, f.store.Calls("FindSemantic"))
	assert.Zero(t, f.store.Calls("FindSimilar"))
	assert.Equal(t, Stats{Checks: 1, Duplicates: 1}, f.resolver.Stats())
}

func TestExactIsPerAdvisor(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	testutil.Seed(t, f.mem, "adv-1", "Shared wording.", testutil.DaysAgo(1))

	res := f.check(t, "adv-2", "Shared wording.")
	assert.True(t, res.IsUnique)
	assert.Empty(t, res.SimilarContent)
}

func TestNearDuplicatesAreAdvisory(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	seeded := testutil.Seed(t, f.mem, "adv-1", "Buy gold now.", testutil.DaysAgo(2))

	res := f.check(t, "adv-1", "Buy gold now!")
	assert.True(t, res.IsUnique)
	assert.Nil(t, res.ExactMatch)

	require.Len(t, res.StructuralMatches, 1)
	assert.Equal(t, seeded.ID, res.StructuralMatches[0].ContentID)
	assert.Equal(t, types.StageStructural, res.StructuralMatches[0].Stage)

	require.Len(t, res.SemanticMatches, 1)
	assert.Equal(t, types.StageSemantic, res.SemanticMatches[0].Stage)

	require.Len(t, res.SimilarContent, 1)
	assert.Equal(t, types.StageVector, res.SimilarContent[0].Stage)
	assert.InDelta(t, 1.0, res.SimilarContent[0].Similarity, 1e-6)

	assert.Equal(t, int64(1), f.resolver.Stats().NearMatches)
}

func TestStructuralLimitMostRecentFirst(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	for i := 0; i < 7; i++ {
		rec, fp := testutil.Record("adv-1", fmt.Sprintf("variant %d", i), testutil.DaysAgo(i))
		fp.HashStructural = "shape"
		testutil.Insert(t, f.mem, rec, fp)
	}

	sig := &types.Signals{HashExact: "new", HashStructural: "shape"}
	res, err := f.resolver.CheckUniqueness(context.Background(), "new text", "adv-1", sig)
	require.NoError(t, err)

	require.Len(t, res.StructuralMatches, 5)
	for i := 1; i < len(res.StructuralMatches); i++ {
		assert.True(t, res.StructuralMatches[i-1].CreatedAt.After(res.StructuralMatches[i].CreatedAt))
	}
	assert.Equal(t, testutil.DaysAgo(0), res.StructuralMatches[0].CreatedAt)
	assert.Empty(t, res.SemanticMatches)
	assert.Zero(t, f.store.Calls("FindSemantic"))
	assert.Zero(t, f.store.Calls("FindSimilar"))
}

func TestVectorThresholdIsStrict(t *testing.T) {
	f := newFixture(t, cache.NewMemory())

	var got store.SimilarityQuery
	f.store.Similar = func(_ context.Context, q store.SimilarityQuery) ([]types.Match, error) {
		got = q
		return []types.Match{
			{ContentID: "at", Similarity: 0.85},
			{ContentID: "above", Similarity: 0.851},
			{ContentID: "low", Similarity: 0.5},
			{ContentID: "high", Similarity: 0.97},
		}, nil
	}

	res := f.check(t, "adv-1", "Vector probe.")

	ids := make([]string, len(res.SimilarContent))
	for i, m := range res.SimilarContent {
		ids[i] = m.ContentID
		assert.Equal(t, types.StageVector, m.Stage)
	}
	assert.Equal(t, []string{"high", "above"}, ids)

	assert.Equal(t, "adv-1", got.AdvisorID)
	assert.Equal(t, testutil.DaysAgo(90), got.Since)
	assert.Equal(t, 10, got.Limit)
}

func TestVectorCap(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	f.store.Similar = func(context.Context, store.SimilarityQuery) ([]types.Match, error) {
		var out []types.Match
		for i := 0; i < 15; i++ {
			out = append(out, types.Match{ContentID: fmt.Sprintf("c%02d", i), Similarity: 0.86 + float64(i)/100})
		}
		return out, nil
	}

	res := f.check(t, "adv-1", "Cap probe.")
	require.Len(t, res.SimilarContent, 10)
	assert.Equal(t, "c14", res.SimilarContent[0].ContentID)
	assert.Equal(t, "c05", res.SimilarContent[9].ContentID)
}

func TestVectorLookback(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	recent := testutil.Seed(t, f.mem, "adv-1", "Rates held steady.", testutil.DaysAgo(89))
	testutil.Seed(t, f.mem, "adv-1", "Rates held steady!", testutil.DaysAgo(91))

	res := f.check(t, "adv-1", "Rates held steady?")
	require.Len(t, res.SimilarContent, 1)
	assert.Equal(t, recent.ID, res.SimilarContent[0].ContentID)
	// Hash stages are not windowed.
	assert.Len(t, res.SemanticMatches, 2)
}

func TestNoEmbeddingSkipsVectorStage(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	sig := testutil.Signals("No vector here.")
	sig.Embedding = nil

	res, err := f.resolver.CheckUniqueness(context.Background(), "No vector here.", "adv-1", sig)
	require.NoError(t, err)
	assert.True(t, res.IsUnique)
	assert.Zero(t, f.store.Calls("FindSimilar"))
}

func TestAdvisoryStageFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	testutil.Seed(t, f.mem, "adv-1", "Buy gold now.", testutil.DaysAgo(2))
	f.store.FailOn("FindStructural", errors.New("index corrupt"))
	f.store.FailOn("FindSimilar", errors.New("timeout"))

	res := f.check(t, "adv-1", "Buy gold now!")
	assert.True(t, res.IsUnique)
	assert.Empty(t, res.StructuralMatches)
	assert.NotNil(t, res.StructuralMatches)
	assert.Len(t, res.SemanticMatches, 1)
	assert.Empty(t, res.SimilarContent)
	assert.Equal(t, int64(2), f.resolver.Stats().StageErrors)
}

func TestExactStageFailureIsReturned(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	boom := errors.New("connection reset")
	f.store.FailOn("FindExact", boom)

	_, err := f.resolver.CheckUniqueness(context.Background(), "text", "adv-1", testutil.Signals("text"))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.store.Calls("FindStructural"))
}

func TestExactCacheThenStore(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	seeded := testutil.Seed(t, f.mem, "adv-1", "Cached lookup.", testutil.DaysAgo(1))

	res := f.check(t, "adv-1", "Cached lookup.")
	assert.False(t, res.IsUnique)
	assert.Equal(t, 1, f.store.Calls("FindExact"))

	res = f.check(t, "adv-1", "Cached lookup.")
	assert.False(t, res.IsUnique)
	assert.Equal(t, seeded.ID, res.ExactMatch.ContentID)
	assert.Equal(t, 1, f.store.Calls("FindExact"), "second check served from cache")

	cs := f.cache.Stats()
	assert.Equal(t, int64(1), cs.Hits)
	assert.Equal(t, int64(1), cs.Misses)
}

func TestConcurrentExactChecksDoNotShareMatches(t *testing.T) {
	f := newFixture(t, cache.Noop{})
	seeded := testutil.Seed(t, f.mem, "adv-1", "Rates held steady.", testutil.DaysAgo(2))

	const callers = 16
	results := make([]*types.UniquenessResult, callers)
	gt := testutil.NewGoroutineTest(t, 5*time.Second)
	for i := 0; i < callers; i++ {
		gt.Go(func(ctx context.Context) error {
			res, err := f.resolver.CheckUniqueness(ctx, "Rates held steady.", "adv-1", testutil.Signals("Rates held steady."))
			results[i] = res
			return err
		})
	}
	gt.Wait()

	seen := map[*types.Match]bool{}
	for _, res := range results {
		require.NotNil(t, res.ExactMatch)
		assert.Equal(t, seeded.ID, res.ExactMatch.ContentID)
		assert.Equal(t, types.StageExact, res.ExactMatch.Stage)
		assert.Equal(t, 1.0, res.ExactMatch.Similarity)
		assert.False(t, seen[res.ExactMatch], "match shared between callers")
		seen[res.ExactMatch] = true
	}
}

func TestExactMissIsNotCached(t *testing.T) {
	f := newFixture(t, cache.NewMemory())

	f.check(t, "adv-1", "Not there yet.")
	testutil.Seed(t, f.mem, "adv-1", "Not there yet.", testutil.DaysAgo(0))

	res := f.check(t, "adv-1", "Not there yet.")
	assert.False(t, res.IsUnique)
	assert.Equal(t, 2, f.store.Calls("FindExact"))
}

func TestExactFallsBackToStoreWhenCacheDown(t *testing.T) {
	f := newFixture(t, downBackend{})
	testutil.Seed(t, f.mem, "adv-1", "Cache outage.", testutil.DaysAgo(1))

	for i := 0; i < 3; i++ {
		res := f.check(t, "adv-1", "Cache outage.")
		assert.False(t, res.IsUnique)
	}
	assert.Equal(t, 3, f.store.Calls("FindExact"))
	assert.Equal(t, int64(3), f.cache.Stats().Failures)
}

func TestWithoutCache(t *testing.T) {
	mem := memory.New(memory.Options{SkipSegmentCheck: true})
	testutil.Seed(t, mem, "adv-1", "No cache at all.", testutil.DaysAgo(1))
	r := New(mem, nil, Config{}, nil)

	res, err := r.CheckUniqueness(context.Background(), "No cache at all.", "adv-1", testutil.Signals("No cache at all."))
	require.NoError(t, err)
	assert.False(t, res.IsUnique)
}

func TestInvalidInput(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	ctx := context.Background()

	_, err := f.resolver.CheckUniqueness(ctx, "text", "adv-1", nil)
	assert.ErrorIs(t, err, cserrors.ErrInvalidInput)
	_, err = f.resolver.CheckUniqueness(ctx, "text", "adv-1", &types.Signals{})
	assert.ErrorIs(t, err, cserrors.ErrInvalidInput)
	_, err = f.resolver.CheckUniqueness(ctx, "text", "", testutil.Signals("text"))
	assert.ErrorIs(t, err, cserrors.ErrInvalidInput)
	_, err = f.resolver.CheckUniqueness(ctx, " ", "adv-1", testutil.Signals(" "))
	assert.ErrorIs(t, err, cserrors.ErrInvalidInput)

	assert.Zero(t, f.store.Calls("FindExact"))
	assert.Zero(t, f.resolver.Stats().Checks)
}

func TestStageLatencyRecorded(t *testing.T) {
	f := newFixture(t, cache.NewMemory())
	f.check(t, "adv-1", "Timing one.")
	f.check(t, "adv-1", "Timing two.")

	assert.Equal(t, int64(2), f.recorder.Summary("cascade").Count)
	assert.Equal(t, int64(2), f.recorder.Summary("cascade.exact").Count)
	assert.Equal(t, int64(2), f.recorder.Summary("cascade.structural").Count)
	assert.Equal(t, int64(2), f.recorder.Summary("cascade.semantic").Count)
	assert.Equal(t, int64(2), f.recorder.Summary("cascade.vector").Count)
}

func TestFilterSimilar(t *testing.T) {
	tests := []struct {
		name      string
		in        []float64
		threshold float64
		limit     int
		want      []float64
	}{
		{"boundary excluded", []float64{0.85}, 0.85, 10, []float64{}},
		{"just above included", []float64{0.851}, 0.85, 10, []float64{0.851}},
		{"sorted descending", []float64{0.9, 0.99, 0.95}, 0.85, 10, []float64{0.99, 0.95, 0.9}},
		{"capped", []float64{0.9, 0.91, 0.92}, 0.85, 2, []float64{0.92, 0.91}},
		{"empty", nil, 0.85, 10, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var in []types.Match
			for _, s := range tt.in {
				in = append(in, types.Match{Similarity: s})
			}
			got := FilterSimilar(in, tt.threshold, tt.limit)
			sims := make([]float64, len(got))
			for i, m := range got {
				sims[i] = m.Similarity
			}
			assert.Equal(t, tt.want, sims)
		})
	}
}
