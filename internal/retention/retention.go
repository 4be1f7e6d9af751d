// Package retention moves aged content from the hot store to the cold tier.
//
// A sweep selects a bounded batch of records older than the retention
// cutoff, oldest first. Each record is written to the object store and only
// then removed from the hot store, so a record is never lost: a failed
// write leaves it hot, and a failed delete after a successful write leaves
// a hot copy that the next sweep overwrites under the same key.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	defaults "github.com/xtxerr/contentstore/config"
	"github.com/xtxerr/contentstore/internal/archive"
	"github.com/xtxerr/contentstore/internal/blob"
	"github.com/xtxerr/contentstore/internal/cache"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/types"
)

var log = logging.Component("retention")

// TierCold is the tier tag value of archived objects.
const TierCold = "cold"

// Config configures an Archiver.
type Config struct {
	// ColdRetention is the age after which content is archived.
	ColdRetention time.Duration

	// BatchSize bounds the records handled by one sweep.
	BatchSize int

	// MaxWritesPerSec limits cold writes. 0 disables the limit.
	MaxWritesPerSec float64

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns 365 days retention in batches of 1000.
func DefaultConfig() Config {
	return Config{
		ColdRetention: time.Duration(defaults.DefaultColdRetentionDays) * 24 * time.Hour,
		BatchSize:     defaults.DefaultArchiveBatchSize,
	}
}

// Result holds the result of one sweep.
type Result struct {
	Cutoff         time.Time
	Selected       int
	Archived       int
	WriteFailures  int
	DeleteFailures int
	Errors         []error
}

// Plan is what a sweep would do, computed without side effects.
type Plan struct {
	Cutoff   time.Time
	Eligible int64

	// Keys are the object keys of the next batch, oldest first.
	Keys []string
}

// Stats holds cumulative archiver statistics.
type Stats struct {
	Runs           int64
	Archived       int64
	WriteFailures  int64
	DeleteFailures int64
	LastRunTime    time.Time
	LastCutoff     time.Time
	LastDuration   time.Duration
}

// Archiver runs archival sweeps.
type Archiver struct {
	store   store.Store
	blobs   blob.Store
	codec   archive.Codec
	cache   *cache.Adapter
	limiter *rate.Limiter
	config  Config

	// run serializes sweeps.
	run sync.Mutex

	mu    sync.RWMutex
	stats Stats
}

// New returns an archiver. c may be nil.
func New(s store.Store, b blob.Store, codec archive.Codec, c *cache.Adapter, cfg Config) *Archiver {
	def := DefaultConfig()
	if cfg.ColdRetention <= 0 {
		cfg.ColdRetention = def.ColdRetention
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if codec == nil {
		codec = archive.JSON{}
	}

	a := &Archiver{store: s, blobs: b, codec: codec, cache: c, config: cfg}
	if cfg.MaxWritesPerSec > 0 {
		burst := int(cfg.MaxWritesPerSec)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.MaxWritesPerSec), burst)
	}
	return a
}

// Cutoff returns the current retention cutoff. Records created strictly
// before it are eligible.
func (a *Archiver) Cutoff() time.Time {
	return a.config.Now().Add(-a.config.ColdRetention)
}

// ArchiveOldContent runs one sweep and returns the number of records
// written to the cold tier and removed from the hot store.
func (a *Archiver) ArchiveOldContent(ctx context.Context) (int, error) {
	res, err := a.Run(ctx)
	if err != nil {
		return res.Archived, err
	}
	return res.Archived, nil
}

// Run runs one sweep. Per-record failures are counted and collected in the
// result; the returned error is set only when the batch could not be
// selected or ctx ended the sweep.
func (a *Archiver) Run(ctx context.Context) (*Result, error) {
	a.run.Lock()
	defer a.run.Unlock()

	start := time.Now()
	now := a.config.Now()
	res := &Result{Cutoff: now.Add(-a.config.ColdRetention)}

	err := a.sweep(ctx, now, res)

	a.mu.Lock()
	a.stats.Runs++
	a.stats.Archived += int64(res.Archived)
	a.stats.WriteFailures += int64(res.WriteFailures)
	a.stats.DeleteFailures += int64(res.DeleteFailures)
	a.stats.LastRunTime = now
	a.stats.LastCutoff = res.Cutoff
	a.stats.LastDuration = time.Since(start)
	a.mu.Unlock()

	log.Info("archival sweep",
		"cutoff", res.Cutoff,
		"selected", res.Selected,
		"archived", res.Archived,
		"write_failures", res.WriteFailures,
		"delete_failures", res.DeleteFailures,
	)
	return res, err
}

func (a *Archiver) sweep(ctx context.Context, now time.Time, res *Result) error {
	batch, err := a.store.ListArchivable(ctx, res.Cutoff, a.config.BatchSize)
	if err != nil {
		return fmt.Errorf("select archivable: %w", err)
	}
	res.Selected = len(batch)

	for _, snap := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		snap.ArchivedAt = now.UTC()
		if err := a.write(ctx, snap); err != nil {
			res.WriteFailures++
			res.Errors = append(res.Errors, err)
			log.Warn("cold write failed", "content_id", snap.Content.ID, "advisor_id", snap.Content.AdvisorID, "error", err)
			continue
		}

		if err := a.store.DeleteContent(ctx, snap.Content.ID); err != nil {
			res.DeleteFailures++
			res.Errors = append(res.Errors, fmt.Errorf("delete %s: %w", snap.Content.ID, err))
			log.Warn("hot delete failed after cold write", "content_id", snap.Content.ID, "error", err)
			continue
		}

		a.invalidate(ctx, snap)
		res.Archived++
	}
	return nil
}

// write encodes and stores one snapshot.
func (a *Archiver) write(ctx context.Context, snap *types.ArchivedContent) error {
	op := "archive " + snap.Content.ID
	data, err := a.codec.Encode(snap)
	if err != nil {
		return cserrors.New(cserrors.KindArchivalWriteFailure, op, err)
	}
	if err := a.blobs.Put(ctx, snap.Key(), data, a.codec.ContentType(), Tags(snap)); err != nil {
		return cserrors.New(cserrors.KindArchivalWriteFailure, op, err)
	}
	return nil
}

func (a *Archiver) invalidate(ctx context.Context, snap *types.ArchivedContent) {
	if a.cache == nil {
		return
	}
	// Failures are counted by the adapter; stale entries expire with the TTL.
	if err := a.cache.InvalidateContent(ctx, snap.Content.ID); err != nil {
		log.Debug("cache invalidation failed", "content_id", snap.Content.ID, "error", err)
	}
	if err := a.cache.InvalidateExact(ctx, snap.Content.AdvisorID, snap.Content.HashExact); err != nil {
		log.Debug("cache invalidation failed", "content_id", snap.Content.ID, "advisor_id", snap.Content.AdvisorID, "error", err)
	}
}

// DryRun reports what the next sweep would archive without writing or
// deleting anything.
func (a *Archiver) DryRun(ctx context.Context) (*Plan, error) {
	plan := &Plan{Cutoff: a.Cutoff()}

	n, err := a.store.CountArchivable(ctx, plan.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("count archivable: %w", err)
	}
	plan.Eligible = n

	batch, err := a.store.ListArchivable(ctx, plan.Cutoff, a.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("select archivable: %w", err)
	}
	plan.Keys = make([]string, len(batch))
	for i, snap := range batch {
		plan.Keys[i] = snap.Key()
	}
	return plan, nil
}

// Stats returns a snapshot of the statistics.
func (a *Archiver) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// Tags returns the object tags of an archived snapshot.
func Tags(snap *types.ArchivedContent) map[string]string {
	return map[string]string{
		"advisor_id":   snap.Content.AdvisorID,
		"content_id":   snap.Content.ID,
		"content_type": snap.Content.ContentType,
		"language":     snap.Content.Language,
		"archived_at":  snap.ArchivedAt.UTC().Format(time.RFC3339),
		"tier":         TierCold,
	}
}
