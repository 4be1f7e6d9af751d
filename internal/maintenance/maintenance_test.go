package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/contentstore/internal/archive"
	"github.com/xtxerr/contentstore/internal/blob"
	"github.com/xtxerr/contentstore/internal/cache"
	"github.com/xtxerr/contentstore/internal/retention"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/store/memory"
	"github.com/xtxerr/contentstore/internal/testutil"
)

type archiverFunc func(context.Context) (int, error)

func (f archiverFunc) ArchiveOldContent(ctx context.Context) (int, error) { return f(ctx) }

type sweeperFunc func(context.Context) (int, error)

func (f sweeperFunc) Sweep(ctx context.Context) (int, error) { return f(ctx) }

func TestPerformMaintenance(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Options{SkipSegmentCheck: true})
	cs := testutil.NewCountingStore(mem)

	old, fp := testutil.Record("adv-1", "old news", testutil.DaysAgo(400))
	testutil.Insert(t, mem, old, fp)
	fresh, fp := testutil.Record("adv-1", "fresh news", testutil.DaysAgo(1))
	testutil.Insert(t, mem, fresh, fp)

	backend := cache.NewMemory()
	clock := testutil.NewClock(testutil.Epoch)
	backend.SetClock(clock.Now)
	c := cache.New(backend, cache.Config{TTL: time.Minute})
	require.NoError(t, c.PutContent(ctx, fresh))
	require.NoError(t, backend.SetWithTTL(ctx, cache.ContentKey("stale"), []byte("{}"), time.Second))
	clock.Advance(2 * time.Second)

	arch := retention.New(cs, blob.NewMemory(), archive.JSON{}, c, retention.Config{Now: clock.Now})
	o := New(cs, arch, c)

	rep := o.PerformMaintenance(ctx)
	assert.True(t, rep.OK(), "%v", rep.Errors)
	assert.Equal(t, 1, rep.Archived)
	assert.Equal(t, 1, rep.CacheCleaned)
	assert.Equal(t, store.HotTables, rep.StatsRefreshed)
	assert.Equal(t, 3, cs.Calls("RefreshStatistics"))
	assert.Equal(t, 1, mem.Len())

	stats := o.Stats()
	assert.Equal(t, int64(1), stats.Runs)
	assert.Zero(t, stats.Failures)
	assert.Equal(t, 1, stats.LastReport.Archived)
}

func TestStepsFailIndependently(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Options{})
	cs := testutil.NewCountingStore(mem)
	cs.FailOn("RefreshStatistics", errors.New("permission denied"))

	archived := false
	swept := false
	o := New(cs,
		archiverFunc(func(context.Context) (int, error) {
			archived = true
			return 3, errors.New("bucket unreachable")
		}),
		sweeperFunc(func(context.Context) (int, error) {
			swept = true
			return 2, nil
		}),
	)

	rep := o.PerformMaintenance(ctx)
	assert.True(t, archived)
	assert.True(t, swept)
	assert.False(t, rep.OK())
	assert.Len(t, rep.Errors, 4, "three tables and the archive step")
	assert.Empty(t, rep.StatsRefreshed)
	assert.Equal(t, 3, rep.Archived)
	assert.Equal(t, 2, rep.CacheCleaned)
	assert.Equal(t, int64(1), o.Stats().Failures)

	assert.EqualError(t, rep.Errors[len(rep.Errors)-1], "archive: bucket unreachable")
	assert.Contains(t, rep.Errors[0].Error(), "refresh statistics content_")
}

func TestOptionalSteps(t *testing.T) {
	o := New(memory.New(memory.Options{}), nil, nil)

	rep := o.PerformMaintenance(context.Background())
	assert.True(t, rep.OK())
	assert.Zero(t, rep.Archived)
	assert.Zero(t, rep.CacheCleaned)
	assert.Len(t, rep.StatsRefreshed, 3)
}
