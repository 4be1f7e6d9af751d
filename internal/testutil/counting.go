package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/types"
)

// CountingStore wraps a store.Store, counting calls per method and
// optionally failing or overriding them.
type CountingStore struct {
	store.Store

	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error

	// Similar, when set, replaces FindSimilar.
	Similar func(ctx context.Context, q store.SimilarityQuery) ([]types.Match, error)
}

// NewCountingStore wraps s.
func NewCountingStore(s store.Store) *CountingStore {
	return &CountingStore{
		Store: s,
		calls: make(map[string]int),
		fail:  make(map[string]error),
	}
}

// Calls returns how often method was called.
func (c *CountingStore) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Reset clears all counters.
func (c *CountingStore) Reset() {
	c.mu.Lock()
	c.calls = make(map[string]int)
	c.mu.Unlock()
}

// FailOn makes method return err until cleared with a nil err.
func (c *CountingStore) FailOn(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.fail, method)
		return
	}
	c.fail[method] = err
}

func (c *CountingStore) record(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[method]++
	return c.fail[method]
}

func (c *CountingStore) Transaction(ctx context.Context, fn func(store.Tx) error) error {
	if err := c.record("Transaction"); err != nil {
		return err
	}
	return c.Store.Transaction(ctx, fn)
}

func (c *CountingStore) FindExact(ctx context.Context, advisorID, hash string) (*types.Match, error) {
	if err := c.record("FindExact"); err != nil {
		return nil, err
	}
	return c.Store.FindExact(ctx, advisorID, hash)
}

func (c *CountingStore) FindStructural(ctx context.Context, advisorID, hash string, limit int) ([]types.Match, error) {
	if err := c.record("FindStructural"); err != nil {
		return nil, err
	}
	return c.Store.FindStructural(ctx, advisorID, hash, limit)
}

func (c *CountingStore) FindSemantic(ctx context.Context, advisorID, hash string, limit int) ([]types.Match, error) {
	if err := c.record("FindSemantic"); err != nil {
		return nil, err
	}
	return c.Store.FindSemantic(ctx, advisorID, hash, limit)
}

func (c *CountingStore) FindSimilar(ctx context.Context, q store.SimilarityQuery) ([]types.Match, error) {
	if err := c.record("FindSimilar"); err != nil {
		return nil, err
	}
	if c.Similar != nil {
		return c.Similar(ctx, q)
	}
	return c.Store.FindSimilar(ctx, q)
}

func (c *CountingStore) GetContent(ctx context.Context, id string) (*types.ContentRecord, error) {
	if err := c.record("GetContent"); err != nil {
		return nil, err
	}
	return c.Store.GetContent(ctx, id)
}

func (c *CountingStore) RecordPerformance(ctx context.Context, id string, d types.PerformanceDelta, at time.Time) (*types.PerformanceRecord, error) {
	if err := c.record("RecordPerformance"); err != nil {
		return nil, err
	}
	return c.Store.RecordPerformance(ctx, id, d, at)
}

func (c *CountingStore) CreateSegment(ctx context.Context, seg store.Segment) error {
	if err := c.record("CreateSegment"); err != nil {
		return err
	}
	return c.Store.CreateSegment(ctx, seg)
}

func (c *CountingStore) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]*types.ArchivedContent, error) {
	if err := c.record("ListArchivable"); err != nil {
		return nil, err
	}
	return c.Store.ListArchivable(ctx, cutoff, limit)
}

func (c *CountingStore) DeleteContent(ctx context.Context, id string) error {
	if err := c.record("DeleteContent"); err != nil {
		return err
	}
	return c.Store.DeleteContent(ctx, id)
}

func (c *CountingStore) RefreshStatistics(ctx context.Context, table string) error {
	if err := c.record("RefreshStatistics"); err != nil {
		return err
	}
	return c.Store.RefreshStatistics(ctx, table)
}
