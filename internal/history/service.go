// Package history is the content store service: it wires the hot store,
// cache, cold tier and background jobs together and exposes the request
// path to upstream callers.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/contentstore/internal/archive"
	"github.com/xtxerr/contentstore/internal/blob"
	"github.com/xtxerr/contentstore/internal/cache"
	"github.com/xtxerr/contentstore/internal/cascade"
	"github.com/xtxerr/contentstore/internal/config"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
	"github.com/xtxerr/contentstore/internal/maintenance"
	"github.com/xtxerr/contentstore/internal/partition"
	"github.com/xtxerr/contentstore/internal/retention"
	"github.com/xtxerr/contentstore/internal/scheduler"
	"github.com/xtxerr/contentstore/internal/stats"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/types"
	"github.com/xtxerr/contentstore/internal/validation"
	"github.com/xtxerr/contentstore/internal/writer"
)

var log = logging.Component("history")

// Job names.
const (
	JobPartitions  = "partitions"
	JobArchive     = "archive"
	JobMaintenance = "maintenance"
)

// errNoFingerprinter is returned by request-path calls on a service built
// without a fingerprinter.
var errNoFingerprinter = cserrors.NewValidation("fingerprinter", "not configured")

// Deps are the clients a Service is built on. The Service owns them and
// closes them on Close.
type Deps struct {
	Store store.Store

	// Cache is optional; nil runs without a cache.
	Cache cache.Backend

	Blobs blob.Store

	// Codec defaults to JSON.
	Codec archive.Codec

	// Fingerprinter is required by CheckUniqueness, StoreContent and
	// Accept.
	Fingerprinter types.Fingerprinter

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Service is the content store service that orchestrates all components.
//
// Service is safe for concurrent use.
type Service struct {
	config *config.Config
	now    func() time.Time

	// Clients
	store store.Store
	cache *cache.Adapter
	blobs blob.Store
	fp    types.Fingerprinter

	// Components
	recorder    *stats.Recorder
	partitions  *partition.Manager
	writer      *writer.Writer
	cascade     *cascade.Resolver
	archiver    *retention.Archiver
	maintenance *maintenance.Orchestrator
	scheduler   *scheduler.Scheduler

	// State
	running   atomic.Bool
	closeOnce sync.Once
	startTime time.Time
}

// New builds a service on deps.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if deps.Store == nil {
		return nil, cserrors.NewMissingField("store")
	}
	if deps.Blobs == nil {
		return nil, cserrors.NewMissingField("blobs")
	}
	if deps.Cache == nil {
		deps.Cache = cache.Noop{}
	}
	if deps.Codec == nil {
		deps.Codec = archive.JSON{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Service{
		config:   cfg,
		now:      deps.Now,
		store:    deps.Store,
		blobs:    deps.Blobs,
		fp:       deps.Fingerprinter,
		recorder: stats.New(cfg.Stats.Accuracy),
	}

	s.cache = cache.New(deps.Cache, cache.Config{
		TTL:     cfg.Cache.TTL,
		Timeout: cfg.Cache.Timeout,
	})

	s.partitions = partition.New(s.store, partition.Config{
		MonthsBack:  cfg.Partition.MonthsBack,
		MonthsAhead: cfg.Partition.MonthsAhead,
		Now:         deps.Now,
	})

	if s.fp != nil {
		s.writer = writer.New(s.store, s.cache, s.fp,
			writer.WithClock(deps.Now),
			writer.WithRecorder(s.recorder),
		)
	}

	s.cascade = cascade.New(s.store, s.cache, cascade.Config{
		StructuralLimit:     cfg.Cascade.StructuralLimit,
		SemanticLimit:       cfg.Cascade.SemanticLimit,
		SimilarityThreshold: cfg.Cascade.SimilarityThreshold,
		VectorLookback:      cfg.Cascade.VectorLookback,
		VectorLimit:         cfg.Cascade.VectorLimit,
		Now:                 deps.Now,
	}, s.recorder)

	s.archiver = retention.New(s.store, s.blobs, deps.Codec, s.cache, retention.Config{
		ColdRetention:   cfg.Retention.ColdRetention(),
		BatchSize:       cfg.Retention.BatchSize,
		MaxWritesPerSec: cfg.Archive.MaxWritesPerSec,
		Now:             deps.Now,
	})

	s.maintenance = maintenance.New(s.store, s.archiver, s.cache)

	s.scheduler = scheduler.New(scheduler.Config{
		JobTimeout: cfg.Schedule.JobTimeout,
		RunOnStart: cfg.Schedule.RunOnStart,
	})
	if err := s.registerJobs(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) registerJobs() error {
	jobs := []scheduler.Job{
		{
			Name:     JobPartitions,
			Interval: s.config.Schedule.Partitions,
			Run: func(ctx context.Context) error {
				_, err := s.EnsurePartitions(ctx)
				return err
			},
		},
		{
			Name:     JobArchive,
			Interval: s.config.Schedule.Archive,
			Run: func(ctx context.Context) error {
				_, err := s.ArchiveOldContent(ctx)
				return err
			},
		},
		{
			Name:     JobMaintenance,
			Interval: s.config.Schedule.Maintenance,
			Run: func(ctx context.Context) error {
				return errors.Join(s.PerformMaintenance(ctx).Errors...)
			},
		},
	}

	for _, job := range jobs {
		if job.Interval <= 0 {
			log.Info("job disabled", "job", job.Name)
			continue
		}
		if err := s.scheduler.Add(job); err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}
	return nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start starts the background jobs.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("service already running")
	}
	s.startTime = s.now()
	s.scheduler.Start()

	log.Info("service started",
		"store", s.config.Store.Driver,
		"cache", s.config.Cache.Driver,
		"archive", s.config.Archive.Driver,
	)
	return nil
}

// Stop stops the background jobs and waits for running ones.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.scheduler.Stop()
	log.Info("service stopped")
	return nil
}

// Close stops the service and closes every client.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if err := s.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := s.blobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
		if err := s.cache.Backend().Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	})
	return errors.Join(errs...)
}

// =============================================================================
// Request path
// =============================================================================

// CheckUniqueness fingerprints text and runs the cascade for advisorID.
func (s *Service) CheckUniqueness(ctx context.Context, text, advisorID string) (*types.UniquenessResult, error) {
	sig, err := s.fingerprint(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.cascade.CheckUniqueness(ctx, text, advisorID, sig)
}

// StoreContent stores text for advisorID and returns the new content ID.
func (s *Service) StoreContent(ctx context.Context, text, advisorID string, metadata types.Metadata) (string, error) {
	if s.writer == nil {
		return "", errNoFingerprinter
	}
	return s.writer.StoreContent(ctx, text, advisorID, metadata)
}

// Submit stores a prepared submission.
func (s *Service) Submit(ctx context.Context, sub writer.Submission) (*types.ContentRecord, error) {
	if s.writer == nil {
		return nil, errNoFingerprinter
	}
	return s.writer.Store(ctx, sub)
}

// AcceptResult is the outcome of Accept.
type AcceptResult struct {
	// ContentID is set when the content was stored.
	ContentID string

	Uniqueness *types.UniquenessResult
}

// Stored reports whether Accept stored the content.
func (r *AcceptResult) Stored() bool {
	return r.ContentID != ""
}

// Accept checks text for uniqueness and stores it when unique. Losing a
// concurrent race for the same text is reported as a duplicate, not as an
// error.
func (s *Service) Accept(ctx context.Context, text, advisorID string, metadata types.Metadata) (*AcceptResult, error) {
	sig, err := s.fingerprint(ctx, text)
	if err != nil {
		return nil, err
	}

	res, err := s.cascade.CheckUniqueness(ctx, text, advisorID, sig)
	if err != nil {
		return nil, err
	}
	out := &AcceptResult{Uniqueness: res}
	if !res.IsUnique {
		return out, nil
	}

	rec, err := s.writer.Store(ctx, writer.Submission{
		AdvisorID: advisorID,
		Text:      text,
		Metadata:  metadata,
		Signals:   sig,
	})
	switch {
	case err == nil:
		out.ContentID = rec.ID
		return out, nil
	case cserrors.IsConstraintViolation(err):
		m, ferr := s.store.FindExact(ctx, advisorID, sig.HashExact)
		if ferr != nil {
			return nil, fmt.Errorf("resolve concurrent duplicate: %w", ferr)
		}
		m.Stage = types.StageExact
		m.Similarity = 1
		res.IsUnique = false
		res.ExactMatch = m
		log.Debug("concurrent duplicate", "advisor_id", advisorID, "content_id", m.ContentID)
		return out, nil
	default:
		return nil, err
	}
}

func (s *Service) fingerprint(ctx context.Context, text string) (*types.Signals, error) {
	if s.fp == nil {
		return nil, errNoFingerprinter
	}
	sig, err := s.fp.Fingerprint(ctx, text)
	if err != nil {
		return nil, cserrors.New(cserrors.KindTransactionFailure, "fingerprint", err)
	}
	return sig, nil
}

// GetContent returns a hot record, from the cache when possible. Archived
// records are not found.
func (s *Service) GetContent(ctx context.Context, id string) (*types.ContentRecord, error) {
	if err := validation.ValidateContentID(id); err != nil {
		return nil, err
	}
	return s.cache.LoadContent(ctx, id, func(ctx context.Context) (*types.ContentRecord, error) {
		return s.store.GetContent(ctx, id)
	})
}

// RecordPerformance adds d to the counters of a record. The arithmetic
// happens in the store; the cached view of the record is dropped after.
func (s *Service) RecordPerformance(ctx context.Context, id string, d types.PerformanceDelta) (*types.PerformanceRecord, error) {
	if err := validation.ValidateContentID(id); err != nil {
		return nil, err
	}
	if !d.Valid() {
		return nil, cserrors.NewInvalidInput("delta", "counters must not decrease")
	}

	p, err := s.store.RecordPerformance(ctx, id, d, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.cache.InvalidateContent(ctx, id); err != nil {
		log.Debug("invalidate after performance update failed", "content_id", id, "error", err)
	}
	return p, nil
}

// GetPerformance returns the counters of a record.
func (s *Service) GetPerformance(ctx context.Context, id string) (*types.PerformanceRecord, error) {
	return s.store.GetPerformance(ctx, id)
}

// =============================================================================
// Background operations
// =============================================================================

// EnsurePartitions creates the segments of the current window.
func (s *Service) EnsurePartitions(ctx context.Context) (*partition.Result, error) {
	return s.partitions.EnsureWindow(ctx)
}

// ArchiveOldContent runs one archival sweep and returns the number of
// records archived.
func (s *Service) ArchiveOldContent(ctx context.Context) (int, error) {
	return s.archiver.ArchiveOldContent(ctx)
}

// RunArchival runs one archival sweep and returns the full result.
func (s *Service) RunArchival(ctx context.Context) (*retention.Result, error) {
	return s.archiver.Run(ctx)
}

// DryRunArchival reports what the next sweep would archive.
func (s *Service) DryRunArchival(ctx context.Context) (*retention.Plan, error) {
	return s.archiver.DryRun(ctx)
}

// PerformMaintenance refreshes statistics, archives and sweeps the cache.
func (s *Service) PerformMaintenance(ctx context.Context) *maintenance.Report {
	return s.maintenance.PerformMaintenance(ctx)
}

// Segments lists the existing storage segments.
func (s *Service) Segments(ctx context.Context) ([]store.Segment, error) {
	return s.store.ListSegments(ctx)
}

// Restore reads an archived snapshot back from the cold tier.
func (s *Service) Restore(ctx context.Context, advisorID, contentID string) (*types.ArchivedContent, error) {
	obj, err := s.blobs.Get(ctx, types.ArchiveKey(advisorID, contentID))
	if err != nil {
		return nil, err
	}
	codec, err := archive.ForContentType(obj.ContentType)
	if err != nil {
		return nil, err
	}
	return codec.Decode(obj.Data)
}

// TriggerJob runs a scheduled job now.
func (s *Service) TriggerJob(name string) error {
	return s.scheduler.Trigger(name)
}

// =============================================================================
// Statistics
// =============================================================================

// Stats is a combined snapshot of every component.
type Stats struct {
	Running bool
	Uptime  time.Duration

	Cache       cache.Stats
	Writer      writer.Stats
	Cascade     cascade.Stats
	Partitions  partition.Stats
	Retention   retention.Stats
	Maintenance maintenance.Stats
	Jobs        []scheduler.JobStats

	// Latency holds per-operation latency summaries in milliseconds.
	Latency map[string]stats.Summary
}

// Stats returns combined statistics.
func (s *Service) Stats() Stats {
	st := Stats{
		Running:     s.running.Load(),
		Cache:       s.cache.Stats(),
		Cascade:     s.cascade.Stats(),
		Partitions:  s.partitions.Stats(),
		Retention:   s.archiver.Stats(),
		Maintenance: s.maintenance.Stats(),
		Jobs:        s.scheduler.Stats(),
		Latency:     s.recorder.Snapshot(),
	}
	if s.writer != nil {
		st.Writer = s.writer.Stats()
	}
	if st.Running {
		st.Uptime = s.now().Sub(s.startTime)
	}
	return st
}
