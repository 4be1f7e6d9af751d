package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
)

// runStoreTests exercises behaviour common to every driver.
func runStoreTests(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		tags := map[string]string{"advisor_id": "adv-1", "tier": "cold"}
		require.NoError(t, s.Put(ctx, "archive/adv-1/c-1", []byte(`{"a":1}`), "application/json", tags))

		obj, err := s.Get(ctx, "archive/adv-1/c-1")
		require.NoError(t, err)
		assert.Equal(t, "archive/adv-1/c-1", obj.Key)
		assert.Equal(t, []byte(`{"a":1}`), obj.Data)
		assert.Equal(t, "application/json", obj.ContentType)
		assert.Equal(t, tags, obj.Tags)
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "archive/adv-1/c-2", []byte("v1"), "text/plain", nil))
		require.NoError(t, s.Put(ctx, "archive/adv-1/c-2", []byte("v2"), "text/plain", nil))

		obj, err := s.Get(ctx, "archive/adv-1/c-2")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), obj.Data)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, "archive/nobody/nothing")
		assert.True(t, cserrors.IsNotFound(err), "got %v", err)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "archive/adv-2/c-9", []byte("x"), "text/plain", nil))

		keys, err := s.List(ctx, "archive/adv-1/")
		require.NoError(t, err)
		assert.Equal(t, []string{"archive/adv-1/c-1", "archive/adv-1/c-2"}, keys)

		keys, err = s.List(ctx, "archive/")
		require.NoError(t, err)
		assert.Len(t, keys, 3)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "archive/adv-2/c-9"))
		require.NoError(t, s.Delete(ctx, "archive/adv-2/c-9"))

		_, err := s.Get(ctx, "archive/adv-2/c-9")
		assert.True(t, cserrors.IsNotFound(err))
	})

	t.Run("BadKey", func(t *testing.T) {
		for _, key := range []string{"", "/abs", "a/../../etc", "a//b", "../x"} {
			err := s.Put(ctx, key, []byte("x"), "text/plain", nil)
			assert.ErrorIs(t, err, cserrors.ErrInvalidInput, "key %q", key)
		}
	})
}

func TestFilesystem(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	runStoreTests(t, s)
}

func TestMemory(t *testing.T) {
	runStoreTests(t, NewMemory())
}

func TestFilesystemLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFilesystem(dir)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "archive/a/b", []byte("data"), "text/plain", nil))

	err = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		assert.False(t, strings.HasPrefix(d.Name(), ".tmp-"), "stray temp file %s", p)
		return nil
	})
	require.NoError(t, err)
}

func TestFilesystemClosed(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Put(context.Background(), "a", []byte("x"), "", nil)
	assert.ErrorIs(t, err, cserrors.ErrClosed)
}

func TestCleanTags(t *testing.T) {
	got, err := CleanTags(map[string]string{
		"language":  "pt-BR",
		"topic":     "ações & fundos",
		"":          "dropped",
		"long":      strings.Repeat("x", 300),
		"timestamp": "2026-10-15T12:00:00Z",
	})
	require.NoError(t, err)

	assert.Equal(t, "pt-BR", got["language"])
	assert.Equal(t, "a__es _ fundos", got["topic"])
	assert.Len(t, got["long"], 256)
	assert.Equal(t, "2026-10-15T12:00:00Z", got["timestamp"])
	assert.NotContains(t, got, "")

	many := make(map[string]string, MaxTags+1)
	for i := 0; i <= MaxTags; i++ {
		many[strings.Repeat("k", i+1)] = "v"
	}
	_, err = CleanTags(many)
	assert.ErrorIs(t, err, cserrors.ErrInvalidInput)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Options{Driver: "filesystem", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Filesystem{}, s)

	_, err = Open(context.Background(), Options{Driver: "tape"})
	assert.ErrorIs(t, err, cserrors.ErrInvalidInput)

	_, err = Open(context.Background(), Options{Driver: "filesystem"})
	assert.Error(t, err)
}

// TestS3 runs against a real S3-compatible endpoint, e.g. a local MinIO:
//
//	CONTENTSTORE_TEST_S3_ENDPOINT=localhost:9000 \
//	CONTENTSTORE_TEST_S3_ACCESS_KEY=minioadmin \
//	CONTENTSTORE_TEST_S3_SECRET_KEY=minioadmin go test ./internal/blob
func TestS3(t *testing.T) {
	endpoint := os.Getenv("CONTENTSTORE_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("CONTENTSTORE_TEST_S3_ENDPOINT not set")
	}

	ctx := context.Background()
	bucket := "contentstore-test-" + strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))
	s, err := NewS3(ctx, S3Config{
		Endpoint:  endpoint,
		Bucket:    bucket,
		AccessKey: os.Getenv("CONTENTSTORE_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("CONTENTSTORE_TEST_S3_SECRET_KEY"),
	})
	require.NoError(t, err)

	keys, err := s.List(ctx, "")
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, s.Delete(ctx, k))
	}

	runStoreTests(t, s)
}
