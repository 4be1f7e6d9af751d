package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	defaults "github.com/xtxerr/contentstore/config"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
	"github.com/xtxerr/contentstore/internal/types"
)

var log = logging.Component("cache")

// Key namespaces.
const (
	Prefix      = defaults.DefaultCachePrefix
	exactPrefix = Prefix + "exact:"
	idPrefix    = Prefix + "id:"
)

// ExactKey is the key of an exact-hash lookup: content:exact:{advisor}:{hash}.
func ExactKey(advisorID, hash string) string {
	return exactPrefix + advisorID + ":" + hash
}

// ContentKey is the key of a record: content:id:{contentID}.
func ContentKey(contentID string) string {
	return idPrefix + contentID
}

// Config configures an Adapter.
type Config struct {
	// TTL is the lifetime of every entry.
	TTL time.Duration

	// Timeout bounds each backend call. On timeout the caller falls back
	// to the store.
	Timeout time.Duration

	// LoadTimeout bounds a coalesced miss load. The load is shared by every
	// waiting caller and does not observe any one caller's cancellation.
	LoadTimeout time.Duration
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		TTL:         defaults.DefaultCacheTTL,
		Timeout:     defaults.DefaultCacheTimeout,
		LoadTimeout: defaults.DefaultCacheLoadTimeout,
	}
}

// Stats holds adapter counters.
type Stats struct {
	Hits     int64
	Misses   int64
	Failures int64
	Evicted  int64
}

// Adapter is the cache-aside policy on top of a Backend.
//
// Adapter is safe for concurrent use.
type Adapter struct {
	backend Backend
	config  Config

	// Coalesces concurrent misses for the same key.
	group singleflight.Group

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
	evicted  atomic.Int64
}

// New returns an adapter on backend. Zero config values take defaults.
func New(backend Backend, cfg Config) *Adapter {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	return &Adapter{backend: backend, config: cfg}
}

// Backend returns the underlying backend.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// Stats returns a snapshot of the counters.
func (a *Adapter) Stats() Stats {
	return Stats{
		Hits:     a.hits.Load(),
		Misses:   a.misses.Load(),
		Failures: a.failures.Load(),
		Evicted:  a.evicted.Load(),
	}
}

// =============================================================================
// Read-through
// =============================================================================

// LoadExact returns the cached exact match for (advisorID, hash), or runs
// load and caches what it finds. Errors from load, including not-found,
// are returned unchanged and nothing is cached.
func (a *Adapter) LoadExact(ctx context.Context, advisorID, hash string, load func(context.Context) (*types.Match, error)) (*types.Match, error) {
	return loadThrough(ctx, a, ExactKey(advisorID, hash), load)
}

// LoadContent returns the cached record with id, or runs load and caches
// what it finds.
func (a *Adapter) LoadContent(ctx context.Context, id string, load func(context.Context) (*types.ContentRecord, error)) (*types.ContentRecord, error) {
	return loadThrough(ctx, a, ContentKey(id), load)
}

func loadThrough[T any](ctx context.Context, a *Adapter, key string, load func(context.Context) (*T, error)) (*T, error) {
	var cached T
	if ok := a.get(ctx, key, &cached); ok {
		return &cached, nil
	}

	// The shared load outlives any single caller, so it runs detached from
	// the first caller's cancellation and is bounded by LoadTimeout instead.
	ch := a.group.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.LoadTimeout)
		defer cancel()

		val, err := load(lctx)
		if err != nil {
			return nil, err
		}
		a.set(lctx, key, val)
		return val, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p, _ := res.Val.(*T)
		if p == nil {
			return nil, nil
		}
		// Every coalesced caller gets its own value.
		v := *p
		return &v, nil
	}
}

// =============================================================================
// Write-through and invalidation
// =============================================================================

// PutExact caches m as the exact match for (m.AdvisorID, hash).
func (a *Adapter) PutExact(ctx context.Context, hash string, m *types.Match) error {
	return a.set(ctx, ExactKey(m.AdvisorID, hash), m)
}

// PutContent caches a record.
func (a *Adapter) PutContent(ctx context.Context, rec *types.ContentRecord) error {
	return a.set(ctx, ContentKey(rec.ID), rec)
}

// InvalidateContent drops the cached record with id.
func (a *Adapter) InvalidateContent(ctx context.Context, id string) error {
	return a.del(ctx, "invalidate content", ContentKey(id))
}

// InvalidateExact drops the cached exact match for (advisorID, hash).
func (a *Adapter) InvalidateExact(ctx context.Context, advisorID, hash string) error {
	return a.del(ctx, "invalidate exact", ExactKey(advisorID, hash))
}

// =============================================================================
// Garbage collection
// =============================================================================

// Sweep deletes every key in the content namespace whose remaining TTL has
// lapsed, including keys stored without expiry. It returns the number of
// keys deleted.
func (a *Adapter) Sweep(ctx context.Context) (int, error) {
	keys, err := a.backend.Keys(ctx, Prefix)
	if err != nil {
		return 0, a.fail("sweep", err)
	}

	var stale []string
	for _, k := range keys {
		ttl, err := a.backend.TTL(ctx, k)
		if err != nil {
			return 0, a.fail("sweep", err)
		}
		// TTLMissing: gone between Keys and TTL.
		if ttl == TTLMissing || ttl > 0 {
			continue
		}
		stale = append(stale, k)
	}

	if len(stale) == 0 {
		return 0, nil
	}
	if err := a.backend.Delete(ctx, stale...); err != nil {
		return 0, a.fail("sweep", err)
	}

	a.evicted.Add(int64(len(stale)))
	log.Info("cache sweep", "scanned", len(keys), "evicted", len(stale))
	return len(stale), nil
}

// =============================================================================
// Backend calls
// =============================================================================

func (a *Adapter) get(ctx context.Context, key string, v any) bool {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	data, err := a.backend.Get(ctx, key)
	if errors.Is(err, cserrors.ErrCacheMiss) {
		a.misses.Add(1)
		return false
	}
	if err != nil {
		a.fail("get", err)
		a.misses.Add(1)
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		a.fail("decode", fmt.Errorf("%s: %w", key, err))
		a.misses.Add(1)
		return false
	}
	a.hits.Add(1)
	return true
}

func (a *Adapter) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return a.fail("encode", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	if err := a.backend.SetWithTTL(ctx, key, data, a.config.TTL); err != nil {
		return a.fail("set", err)
	}
	return nil
}

func (a *Adapter) del(ctx context.Context, op string, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	if err := a.backend.Delete(ctx, keys...); err != nil {
		return a.fail(op, err)
	}
	return nil
}

// fail counts, logs and classifies a backend error.
func (a *Adapter) fail(op string, err error) error {
	a.failures.Add(1)
	log.Warn("cache failure", "op", op, "error", err)
	return cserrors.New(cserrors.KindCacheFailure, "cache "+op, err)
}
