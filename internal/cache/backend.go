// Package cache is the cache-aside layer in front of the hot store.
//
// A Backend is a plain key/value store with per-key expiry. The Adapter
// encodes values, applies the fixed TTL and a per-call timeout, coalesces
// concurrent misses and turns every backend error into a non-fatal
// CacheFailure. The cache is never required for correctness.
package cache

import (
	"context"
	"fmt"
	"time"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
)

// Remaining-TTL values with special meaning, matching Redis.
const (
	// TTLMissing is returned by Backend.TTL for a key that does not exist.
	TTLMissing time.Duration = -2

	// TTLPersistent is returned by Backend.TTL for a key without expiry.
	TTLPersistent time.Duration = -1
)

// Backend is a key/value cache.
type Backend interface {
	// Get returns the value for key, or errors.ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value under key for ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Keys lists the keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// TTL returns the remaining lifetime of key, TTLMissing or
	// TTLPersistent.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Close releases the backend.
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Driver is redis, memory or none.
	Driver   string
	Addr     string
	Password string
	DB       int
}

// Open returns the backend named by opts.Driver.
func Open(opts Options) (Backend, error) {
	switch opts.Driver {
	case "redis":
		return NewRedis(opts.Addr, opts.Password, opts.DB), nil
	case "memory", "":
		return NewMemory(), nil
	case "none":
		return Noop{}, nil
	default:
		return nil, cserrors.NewInvalidInput("cache driver", fmt.Sprintf("unknown driver %q", opts.Driver))
	}
}

// Noop is a backend that stores nothing.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error) { return nil, cserrors.ErrCacheMiss }

func (Noop) SetWithTTL(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) Delete(context.Context, ...string) error { return nil }

func (Noop) Keys(context.Context, string) ([]string, error) { return nil, nil }

func (Noop) TTL(context.Context, string) (time.Duration, error) { return TTLMissing, nil }

func (Noop) Close() error { return nil }
