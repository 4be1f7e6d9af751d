package history

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/contentstore/internal/config"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
)

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = "memory"
	cfg.Store.DSN = ""
	cfg.Cache.Driver = "memory"
	cfg.Archive.Driver = "memory"
	return cfg
}

func TestOpen(t *testing.T) {
	svc, err := Open(context.Background(), memoryConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Close())
}

func TestOpenClosesClientsWhenServiceFails(t *testing.T) {
	var got Deps
	boom := errors.New("boom")
	newService = func(_ *config.Config, deps Deps) (*Service, error) {
		got = deps
		return nil, boom
	}
	t.Cleanup(func() { newService = New })

	_, err := Open(context.Background(), memoryConfig(), nil)
	require.ErrorIs(t, err, boom)
	require.NotNil(t, got.Store)

	ctx := context.Background()
	_, err = got.Store.GetContent(ctx, "c-1")
	assert.ErrorIs(t, err, cserrors.ErrClosed)

	_, err = got.Blobs.Get(ctx, "archive/adv-1/c-1")
	assert.ErrorIs(t, err, cserrors.ErrClosed)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Driver = "oracle"

	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, cserrors.IsValidation(err))
}
