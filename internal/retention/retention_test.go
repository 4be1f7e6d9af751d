package retention

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/contentstore/internal/archive"
	"github.com/xtxerr/contentstore/internal/blob"
	"github.com/xtxerr/contentstore/internal/cache"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
	"github.com/xtxerr/contentstore/internal/store/memory"
	"github.com/xtxerr/contentstore/internal/testutil"
	"github.com/xtxerr/contentstore/internal/types"
)

// flakyBlobs fails Put for the listed keys.
type flakyBlobs struct {
	*blob.Memory
	fail map[string]bool
}

func (f *flakyBlobs) Put(ctx context.Context, key string, data []byte, contentType string, tags map[string]string) error {
	if f.fail[key] {
		return errors.New("503 slow down")
	}
	return f.Memory.Put(ctx, key, data, contentType, tags)
}

type fixture struct {
	mem      *memory.Store
	store    *testutil.CountingStore
	blobs    *flakyBlobs
	cache    *cache.Adapter
	clock    *testutil.Clock
	archiver *Archiver
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mem := memory.New(memory.Options{SkipSegmentCheck: true})
	t.Cleanup(func() { mem.Close() })

	f := &fixture{
		mem:   mem,
		store: testutil.NewCountingStore(mem),
		blobs: &flakyBlobs{Memory: blob.NewMemory(), fail: map[string]bool{}},
		cache: cache.New(cache.NewMemory(), cache.Config{}),
		clock: testutil.NewClock(testutil.Epoch),
	}
	cfg.Now = f.clock.Now
	f.archiver = New(f.store, f.blobs, archive.JSON{}, f.cache, cfg)
	return f
}

func (f *fixture) seed(t *testing.T, advisorID, text string, createdAt time.Time) *types.ContentRecord {
	t.Helper()
	rec, fp := testutil.Record(advisorID, text, createdAt)
	testutil.Insert(t, f.mem, rec, fp)
	return rec
}

func TestRetentionBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	kept := f.seed(t, "adv-1", "exactly a year old", testutil.DaysAgo(365))
	old := f.seed(t, "adv-1", "a year and a day old", testutil.DaysAgo(366))

	n, err := f.archiver.ArchiveOldContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.mem.GetContent(ctx, kept.ID)
	assert.NoError(t, err, "a record aged exactly the retention stays hot")

	_, err = f.mem.GetContent(ctx, old.ID)
	assert.True(t, cserrors.IsNotFound(err))

	keys, err := f.blobs.List(ctx, "archive/")
	require.NoError(t, err)
	assert.Equal(t, []string{"archive/adv-1/" + old.ID}, keys)
}

func TestBatchBound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	var ids []string
	for i := 0; i < 2500; i++ {
		// Older records first: i=0 is the oldest.
		rec := f.seed(t, "adv-1", fmt.Sprintf("record %d", i), testutil.DaysAgo(3000-i))
		ids = append(ids, rec.ID)
	}
	f.seed(t, "adv-1", "recent", testutil.DaysAgo(10))

	res, err := f.archiver.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000, res.Selected)
	assert.Equal(t, 1000, res.Archived)

	remaining, err := f.mem.CountArchivable(ctx, f.archiver.Cutoff())
	require.NoError(t, err)
	assert.Equal(t, int64(1500), remaining)

	// The oldest thousand went first.
	for _, id := range []string{ids[0], ids[999]} {
		_, err := f.blobs.Get(ctx, "archive/adv-1/"+id)
		assert.NoError(t, err)
	}
	_, err = f.blobs.Get(ctx, "archive/adv-1/"+ids[1000])
	assert.True(t, cserrors.IsNotFound(err))

	n, err := f.archiver.ArchiveOldContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)

	n, err = f.archiver.ArchiveOldContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 500, n)

	n, err = f.archiver.ArchiveOldContent(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, 1, f.mem.Len())
	assert.Equal(t, 2500, f.blobs.Len())

	stats := f.archiver.Stats()
	assert.Equal(t, int64(4), stats.Runs)
	assert.Equal(t, int64(2500), stats.Archived)
	assert.Equal(t, testutil.DaysAgo(365), stats.LastCutoff)
}

func TestColdWriteFailureSkipsRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	a := f.seed(t, "adv-1", "first", testutil.DaysAgo(500))
	b := f.seed(t, "adv-1", "second", testutil.DaysAgo(450))
	c := f.seed(t, "adv-1", "third", testutil.DaysAgo(400))
	f.blobs.fail["archive/adv-1/"+b.ID] = true

	res, err := f.archiver.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Selected)
	assert.Equal(t, 2, res.Archived)
	assert.Equal(t, 1, res.WriteFailures)
	require.Len(t, res.Errors, 1)
	assert.True(t, cserrors.IsArchivalWriteFailure(res.Errors[0]))

	_, err = f.mem.GetContent(ctx, b.ID)
	assert.NoError(t, err, "failed record stays hot")
	for _, id := range []string{a.ID, c.ID} {
		_, err = f.mem.GetContent(ctx, id)
		assert.True(t, cserrors.IsNotFound(err))
	}

	// The next sweep retries it.
	delete(f.blobs.fail, "archive/adv-1/"+b.ID)
	n, err := f.archiver.ArchiveOldContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(1), f.archiver.Stats().WriteFailures)
}

func TestDeleteFailureIsRetriedIdempotently(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	rec := f.seed(t, "adv-1", "sticky", testutil.DaysAgo(400))

	f.store.FailOn("DeleteContent", errors.New("lock timeout"))
	res, err := f.archiver.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Archived)
	assert.Equal(t, 1, res.DeleteFailures)

	// Written but still hot.
	_, err = f.blobs.Get(ctx, "archive/adv-1/"+rec.ID)
	require.NoError(t, err)
	_, err = f.mem.GetContent(ctx, rec.ID)
	require.NoError(t, err)

	f.store.FailOn("DeleteContent", nil)
	f.clock.Advance(time.Hour)
	n, err := f.archiver.ArchiveOldContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	obj, err := f.blobs.Get(ctx, "archive/adv-1/"+rec.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Epoch.Add(time.Hour).Format(time.RFC3339), obj.Tags["archived_at"])
	assert.Equal(t, 1, f.blobs.Len())
}

func TestSnapshotContents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	rec := f.seed(t, "adv-7", "with performance", testutil.DaysAgo(400))
	_, err := f.mem.RecordPerformance(ctx, rec.ID, types.PerformanceDelta{Sent: 5, Delivered: 4, Read: 2}, testutil.DaysAgo(399))
	require.NoError(t, err)

	_, err = f.archiver.ArchiveOldContent(ctx)
	require.NoError(t, err)

	obj, err := f.blobs.Get(ctx, types.ArchiveKey("adv-7", rec.ID))
	require.NoError(t, err)
	assert.Equal(t, archive.ContentTypeJSON, obj.ContentType)
	assert.Equal(t, map[string]string{
		"advisor_id":   "adv-7",
		"content_id":   rec.ID,
		"content_type": types.DefaultContentType,
		"language":     types.DefaultLanguage,
		"archived_at":  "2026-10-15T12:00:00Z",
		"tier":         "cold",
	}, obj.Tags)

	snap, err := archive.JSON{}.Decode(obj.Data)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, snap.Content.ID)
	assert.Equal(t, "with performance", snap.Content.Text)
	assert.Equal(t, rec.ID, snap.Fingerprint.ContentID)
	require.NotNil(t, snap.Performance)
	assert.Equal(t, int64(2), snap.Performance.Read)
	assert.Equal(t, testutil.Epoch, snap.ArchivedAt)

	_, err = f.mem.GetPerformance(ctx, rec.ID)
	assert.True(t, cserrors.IsNotFound(err))
}

func TestArchivalInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	rec := f.seed(t, "adv-1", "cached then archived", testutil.DaysAgo(400))

	require.NoError(t, f.cache.PutContent(ctx, rec))
	require.NoError(t, f.cache.PutExact(ctx, rec.HashExact, &types.Match{ContentID: rec.ID, AdvisorID: rec.AdvisorID}))

	_, err := f.archiver.ArchiveOldContent(ctx)
	require.NoError(t, err)

	keys, err := f.cache.Backend().Keys(ctx, cache.Prefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// downBackend fails every delete.
type downBackend struct {
	*cache.Memory
}

func (downBackend) Delete(context.Context, ...string) error {
	return errors.New("connection refused")
}

func TestInvalidationFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logging.InitWithWriter(&buf, slog.LevelDebug, false)
	t.Cleanup(func() { logging.Init(slog.LevelInfo, false) })

	ctx := context.Background()
	f := newFixture(t, Config{})
	adapter := cache.New(downBackend{cache.NewMemory()}, cache.Config{})
	archiver := New(f.store, f.blobs, archive.JSON{}, adapter, Config{Now: f.clock.Now})
	rec := f.seed(t, "adv-1", "archived while cache is down", testutil.DaysAgo(400))

	n, err := archiver.ArchiveOldContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out := buf.String()
	assert.Contains(t, out, "cache invalidation failed")
	assert.Contains(t, out, "content_id="+rec.ID)
	assert.Contains(t, out, "connection refused")
	assert.Equal(t, int64(2), adapter.Stats().Failures)
}

func TestParquetCodec(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Options{SkipSegmentCheck: true})
	blobs := blob.NewMemory()
	a := New(mem, blobs, archive.Parquet{Compression: archive.CompressionZstd}, nil, Config{Now: func() time.Time { return testutil.Epoch }})

	rec, fp := testutil.Record("adv-1", "parquet snapshot", testutil.DaysAgo(400))
	testutil.Insert(t, mem, rec, fp)

	n, err := a.ArchiveOldContent(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	obj, err := blobs.Get(ctx, types.ArchiveKey("adv-1", rec.ID))
	require.NoError(t, err)
	assert.Equal(t, archive.ContentTypeParquet, obj.ContentType)

	codec, err := archive.ForContentType(obj.ContentType)
	require.NoError(t, err)
	snap, err := codec.Decode(obj.Data)
	require.NoError(t, err)
	assert.Equal(t, rec.Text, snap.Content.Text)
}

func TestDryRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{BatchSize: 2})
	var want []string
	for i := 0; i < 3; i++ {
		rec := f.seed(t, "adv-1", fmt.Sprintf("dry %d", i), testutil.DaysAgo(400+i))
		want = append(want, types.ArchiveKey("adv-1", rec.ID))
	}
	f.seed(t, "adv-1", "young", testutil.DaysAgo(1))

	plan, err := f.archiver.DryRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, testutil.DaysAgo(365), plan.Cutoff)
	assert.Equal(t, int64(3), plan.Eligible)
	// Oldest first: dry 2, dry 1.
	assert.Equal(t, []string{want[2], want[1]}, plan.Keys)

	assert.Zero(t, f.blobs.Len())
	assert.Equal(t, 4, f.mem.Len())
	assert.Zero(t, f.archiver.Stats().Runs)
}

func TestSelectFailureAbortsSweep(t *testing.T) {
	f := newFixture(t, Config{})
	boom := errors.New("relation does not exist")
	f.store.FailOn("ListArchivable", boom)

	n, err := f.archiver.ArchiveOldContent(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
	assert.Equal(t, int64(1), f.archiver.Stats().Runs)
}

func TestRateLimitHonoursContext(t *testing.T) {
	f := newFixture(t, Config{MaxWritesPerSec: 0.01})
	f.seed(t, "adv-1", "one", testutil.DaysAgo(401))
	f.seed(t, "adv-1", "two", testutil.DaysAgo(400))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := f.archiver.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, res.Archived, "the burst allows one write")
	assert.Equal(t, 1, f.mem.Len())
}

func TestConcurrentSweepsDoNotDoubleArchive(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 50})
	for i := 0; i < 100; i++ {
		f.seed(t, "adv-1", fmt.Sprintf("parallel %d", i), testutil.DaysAgo(400+i))
	}

	counts := make(chan int, 4)
	gt := testutil.NewGoroutineTest(t, 10*time.Second)
	for i := 0; i < 4; i++ {
		gt.Go(func(ctx context.Context) error {
			n, err := f.archiver.ArchiveOldContent(ctx)
			counts <- n
			return err
		})
	}
	gt.Wait()
	close(counts)

	var got []int
	for n := range counts {
		got = append(got, n)
	}
	sort.Ints(got)
	assert.Equal(t, []int{0, 0, 50, 50}, got)
	assert.Equal(t, 100, f.blobs.Len())
}
