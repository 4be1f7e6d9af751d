package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xtxerr/contentstore/internal/testutil"
)

func TestRecorderPercentiles(t *testing.T) {
	r := New(0.01)
	for i := 1; i <= 100; i++ {
		r.Observe("exact", time.Duration(i)*time.Millisecond)
	}

	s := r.Summary("exact")
	assert.Equal(t, int64(100), s.Count)
	assert.InDelta(t, 50.5, s.Mean, 1e-9)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 100.0, s.Max)
	assert.InDelta(t, 50, s.P50, 2)
	assert.InDelta(t, 90, s.P90, 2)
	assert.InDelta(t, 95, s.P95, 2)
	assert.InDelta(t, 99, s.P99, 2)
}

func TestRecorderUnknownSeries(t *testing.T) {
	r := New(0)
	assert.Equal(t, Summary{}, r.Summary("nope"))
	assert.Empty(t, r.Names())
}

func TestRecorderNegativeClamped(t *testing.T) {
	r := New(0.01)
	r.Observe("x", -time.Second)

	s := r.Summary("x")
	assert.Equal(t, int64(1), s.Count)
	assert.Equal(t, 0.0, s.Min)
}

func TestRecorderSnapshotAndReset(t *testing.T) {
	r := New(0.01)
	r.Observe("vector", time.Millisecond)
	r.Observe("exact", time.Millisecond)

	assert.Equal(t, []string{"exact", "vector"}, r.Names())
	snap := r.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, int64(1), snap["vector"].Count)

	r.Reset()
	assert.Empty(t, r.Snapshot())
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Observe("x", time.Second)
	r.Since("x", time.Now())
	r.Reset()
	assert.Empty(t, r.Snapshot())
	assert.Equal(t, Summary{}, r.Summary("x"))
}

func TestRecorderConcurrent(t *testing.T) {
	r := New(0.01)
	gt := testutil.NewGoroutineTest(t, 5*time.Second)
	for g := 0; g < 8; g++ {
		gt.Go(func(ctx context.Context) error {
			for i := 0; i < 500; i++ {
				r.Observe("stage", time.Millisecond)
			}
			return nil
		})
	}
	gt.Wait()

	assert.Equal(t, int64(4000), r.Summary("stage").Count)
}
