// Package maintenance runs the periodic housekeeping of the hot tier.
package maintenance

import (
	"context"
	"sync"
	"time"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
	"github.com/xtxerr/contentstore/internal/store"
)

var log = logging.Component("maintenance")

// Archiver runs one archival sweep.
type Archiver interface {
	ArchiveOldContent(ctx context.Context) (int, error)
}

// Sweeper evicts lapsed cache entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Report is the outcome of one maintenance run.
type Report struct {
	Archived     int
	CacheCleaned int

	// StatsRefreshed lists the tables whose statistics were refreshed.
	StatsRefreshed []string

	// Errors holds one entry per failed step or table.
	Errors   []error
	Duration time.Duration
}

// OK reports whether every step succeeded.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Stats holds cumulative orchestrator statistics.
type Stats struct {
	Runs        int64
	Failures    int64
	LastRunTime time.Time
	LastReport  Report
}

// Orchestrator runs statistics refresh, archival and cache GC in order.
type Orchestrator struct {
	store    store.Store
	archiver Archiver
	sweeper  Sweeper

	mu    sync.Mutex
	stats Stats
}

// New returns an orchestrator. archiver and sweeper may be nil to skip
// their step.
func New(s store.Store, archiver Archiver, sweeper Sweeper) *Orchestrator {
	return &Orchestrator{store: s, archiver: archiver, sweeper: sweeper}
}

// PerformMaintenance runs every step. A failing step is recorded in the
// report and does not stop the steps after it.
func (o *Orchestrator) PerformMaintenance(ctx context.Context) *Report {
	start := time.Now()
	rep := &Report{StatsRefreshed: []string{}}

	for _, table := range store.HotTables {
		if err := o.store.RefreshStatistics(ctx, table); err != nil {
			rep.Errors = append(rep.Errors, cserrors.Wrapf(err, "refresh statistics %s", table))
			log.Warn("statistics refresh failed", "table", table, "error", err)
			continue
		}
		rep.StatsRefreshed = append(rep.StatsRefreshed, table)
	}

	if o.archiver != nil {
		n, err := o.archiver.ArchiveOldContent(ctx)
		rep.Archived = n
		if err != nil {
			rep.Errors = append(rep.Errors, cserrors.Wrap(err, "archive"))
			log.Warn("archival failed", "archived", n, "error", err)
		}
	}

	if o.sweeper != nil {
		n, err := o.sweeper.Sweep(ctx)
		rep.CacheCleaned = n
		if err != nil {
			rep.Errors = append(rep.Errors, cserrors.Wrap(err, "cache sweep"))
			log.Warn("cache sweep failed", "error", err)
		}
	}

	rep.Duration = time.Since(start)

	o.mu.Lock()
	o.stats.Runs++
	if !rep.OK() {
		o.stats.Failures++
	}
	o.stats.LastRunTime = start
	o.stats.LastReport = *rep
	o.mu.Unlock()

	log.Info("maintenance complete",
		"archived", rep.Archived,
		"cache_cleaned", rep.CacheCleaned,
		"tables_refreshed", len(rep.StatsRefreshed),
		"errors", len(rep.Errors),
		"duration", rep.Duration,
	)
	return rep
}

// Stats returns a snapshot of the statistics.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}
