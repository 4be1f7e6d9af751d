package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/contentstore/internal/blob"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/testutil"
	"github.com/xtxerr/contentstore/internal/types"
)

func snapshot(advisorID, text string, createdAt time.Time, withPerf bool) *types.ArchivedContent {
	rec, fp := testutil.Record(advisorID, text, createdAt)
	sent := createdAt.Add(time.Hour)
	rec.SentAt = &sent
	rec.Tags = []string{"funds", "weekly"}
	rec.Metadata = types.Metadata{types.MetaSource: "campaign", types.MetaCampaignID: "c-77"}

	a := &types.ArchivedContent{
		Content:     *rec,
		Fingerprint: *fp,
		ArchivedAt:  testutil.Epoch,
	}
	if withPerf {
		a.Performance = &types.PerformanceRecord{
			ContentID:      rec.ID,
			Sent:           10,
			Delivered:      8,
			Read:           4,
			Clicked:        1,
			Replied:        1,
			EngagementRate: 0.75,
			UpdatedAt:      createdAt.Add(2 * time.Hour),
		}
	}
	return a
}

func TestCodecRoundTrip(t *testing.T) {
	codecs := []Codec{
		JSON{},
		Parquet{Compression: CompressionZstd},
		Parquet{Compression: CompressionSnappy},
		Parquet{Compression: CompressionGzip},
		Parquet{Compression: CompressionNone},
	}

	for _, c := range codecs {
		for _, withPerf := range []bool{true, false} {
			in := snapshot("adv-1", "Markets closed higher today.", testutil.DaysAgo(400), withPerf)

			data, err := c.Encode(in)
			require.NoError(t, err, c.Name())

			out, err := c.Decode(data)
			require.NoError(t, err, c.Name())
			assert.Equal(t, in, out, "%s perf=%v", c.Name(), withPerf)
		}
	}
}

func TestParquetRejectsGarbage(t *testing.T) {
	_, err := Parquet{}.Decode([]byte("not parquet"))
	assert.Error(t, err)
}

func TestNewCodec(t *testing.T) {
	c, err := NewCodec("json", "")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeJSON, c.ContentType())

	c, err = NewCodec("parquet", "snappy")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeParquet, c.ContentType())
	assert.Equal(t, Parquet{Compression: CompressionSnappy}, c)

	_, err = NewCodec("parquet", "brotli")
	assert.Error(t, err)
	_, err = NewCodec("xml", "")
	assert.Error(t, err)

	c, err = ForContentType(ContentTypeParquet)
	require.NoError(t, err)
	assert.Equal(t, "parquet", c.Name())
	_, err = ForContentType("text/plain")
	assert.Error(t, err)
}

func TestQueryAdvisorSummary(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bs, err := blob.NewFilesystem(dir)
	require.NoError(t, err)

	codec := Parquet{Compression: CompressionZstd}
	put := func(a *types.ArchivedContent) {
		data, err := codec.Encode(a)
		require.NoError(t, err)
		require.NoError(t, bs.Put(ctx, a.Key(), data, codec.ContentType(), nil))
	}

	old := testutil.DaysAgo(500)
	newer := testutil.DaysAgo(400)
	put(snapshot("adv-1", "first", old, true))
	put(snapshot("adv-1", "second", newer, true))
	put(snapshot("adv-1", "third", newer, false))
	put(snapshot("adv-2", "other advisor", newer, true))

	q, err := NewQuery(dir)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	s, err := q.AdvisorSummary(ctx, "adv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Records)
	assert.Equal(t, old, s.OldestCreated)
	assert.Equal(t, newer, s.NewestCreated)
	assert.Equal(t, int64(20), s.Sent)
	assert.Equal(t, int64(16), s.Delivered)
	assert.Equal(t, int64(12), s.Engaged)

	_, err = q.AdvisorSummary(ctx, "adv-9")
	assert.True(t, cserrors.IsNotFound(err))

	_, err = q.AdvisorSummary(ctx, "../adv-1")
	assert.ErrorIs(t, err, cserrors.ErrInvalidInput)
	_, err = q.AdvisorSummary(ctx, "adv-*")
	assert.ErrorIs(t, err, cserrors.ErrInvalidInput)

	queries, failures := q.Stats()
	assert.Equal(t, int64(2), queries)
	assert.Zero(t, failures)
}
