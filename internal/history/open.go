package history

import (
	"context"
	"fmt"

	"github.com/xtxerr/contentstore/internal/archive"
	"github.com/xtxerr/contentstore/internal/blob"
	"github.com/xtxerr/contentstore/internal/cache"
	"github.com/xtxerr/contentstore/internal/config"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/store/duckdb"
	"github.com/xtxerr/contentstore/internal/store/memory"
	"github.com/xtxerr/contentstore/internal/store/postgres"
	"github.com/xtxerr/contentstore/internal/types"
)

// OpenStore connects the hot store named by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:                 cfg.DSN,
			MaxConns:            int32(cfg.MaxOpenConns),
			MaxConnLifetime:     cfg.ConnMaxLifetime,
			QueryTimeout:        cfg.QueryTimeout,
			EmbeddingDimensions: cfg.EmbeddingDimensions,
		})
	case "duckdb":
		return duckdb.New(duckdb.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			QueryTimeout:    cfg.QueryTimeout,
		})
	case "memory":
		return memory.New(memory.Options{}), nil
	default:
		return nil, cserrors.NewInvalidInput("store driver", fmt.Sprintf("unknown driver %q", cfg.Driver))
	}
}

// OpenCache returns the cache backend named by cfg.Driver.
func OpenCache(cfg config.CacheConfig) (cache.Backend, error) {
	return cache.Open(cache.Options{
		Driver:   cfg.Driver,
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// OpenBlobs returns the object store named by cfg.Driver.
func OpenBlobs(ctx context.Context, cfg config.ArchiveConfig) (blob.Store, error) {
	return blob.Open(ctx, blob.Options{
		Driver: cfg.Driver,
		Dir:    cfg.Dir,
		S3: blob.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
		},
	})
}

// newService builds the Service inside Open.
var newService = New

// Open connects every client named by cfg and builds a Service that owns
// them. fp may be nil when only background jobs will run.
func Open(ctx context.Context, cfg *config.Config, fp types.Fingerprinter) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	codec, err := archive.NewCodec(cfg.Archive.Format, cfg.Archive.Compression)
	if err != nil {
		return nil, fmt.Errorf("archive codec: %w", err)
	}

	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	backend, err := OpenCache(cfg.Cache)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	blobs, err := OpenBlobs(ctx, cfg.Archive)
	if err != nil {
		backend.Close()
		st.Close()
		return nil, fmt.Errorf("open archive: %w", err)
	}

	svc, err := newService(cfg, Deps{
		Store:         st,
		Cache:         backend,
		Blobs:         blobs,
		Codec:         codec,
		Fingerprinter: fp,
	})
	if err != nil {
		blobs.Close()
		backend.Close()
		st.Close()
		return nil, err
	}
	return svc, nil
}
