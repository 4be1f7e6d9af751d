package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/store/storetest"
	"github.com/xtxerr/contentstore/internal/testutil"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := New(Options{})
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSkipSegmentCheck(t *testing.T) {
	s := New(Options{SkipSegmentCheck: true})
	rec, fp := testutil.Record("adv-1", "no segments needed", testutil.DaysAgo(500))
	testutil.Insert(t, s, rec, fp)
	assert.Equal(t, 1, s.Len())
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New(Options{})
	rec := testutil.Seed(t, s, "adv-1", "immutable text", testutil.Epoch)

	got, err := s.GetContent(context.Background(), rec.ID)
	require.NoError(t, err)
	got.Text = "changed"
	got.Embedding[0] = 42

	again, err := s.GetContent(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "immutable text", again.Text)
	assert.NotEqual(t, float32(42), again.Embedding[0])
}

func TestClosedStore(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Close())

	_, err := s.GetContent(context.Background(), "x")
	assert.ErrorIs(t, err, cserrors.ErrClosed)
}
