// Package writer is the single creator of content records.
//
// A record and its fingerprint are written in one store transaction and
// become visible together or not at all. The cache is populated after the
// commit and is never allowed to fail the write.
package writer

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/contentstore/internal/cache"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
	"github.com/xtxerr/contentstore/internal/stats"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/types"
	"github.com/xtxerr/contentstore/internal/validation"
)

var log = logging.Component("writer")

// Submission is content to store.
type Submission struct {
	AdvisorID string
	Text      string
	Metadata  types.Metadata

	// Tags are merged with the metadata topics.
	Tags []string

	SentAt *time.Time

	// Signals, when set, are used instead of calling the fingerprinter.
	Signals *types.Signals
}

// Stats holds writer counters.
type Stats struct {
	Commits     int64
	Rollbacks   int64
	Conflicts   int64
	CacheErrors int64
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock sets the time source for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithIDs sets the identity generator.
func WithIDs(newID func() string) Option {
	return func(w *Writer) { w.newID = newID }
}

// WithRecorder records write latency.
func WithRecorder(r *stats.Recorder) Option {
	return func(w *Writer) { w.rec = r }
}

// Writer is the write path coordinator.
type Writer struct {
	store store.Store
	cache *cache.Adapter
	fp    types.Fingerprinter
	rec   *stats.Recorder

	now   func() time.Time
	newID func() string

	commits     atomic.Int64
	rollbacks   atomic.Int64
	conflicts   atomic.Int64
	cacheErrors atomic.Int64
}

// New returns a writer. c may be nil to run without a cache.
func New(s store.Store, c *cache.Adapter, fp types.Fingerprinter, opts ...Option) *Writer {
	w := &Writer{
		store: s,
		cache: c,
		fp:    fp,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Stats returns a snapshot of the counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Commits:     w.commits.Load(),
		Rollbacks:   w.rollbacks.Load(),
		Conflicts:   w.conflicts.Load(),
		CacheErrors: w.cacheErrors.Load(),
	}
}

// StoreContent fingerprints text and stores it for advisorID. It returns
// the new content ID.
func (w *Writer) StoreContent(ctx context.Context, text, advisorID string, metadata types.Metadata) (string, error) {
	rec, err := w.Store(ctx, Submission{AdvisorID: advisorID, Text: text, Metadata: metadata})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Store writes a submission and returns the stored record.
//
// A duplicate (advisor, exact hash) fails with a ConstraintViolation; any
// other failure is a TransactionFailure and leaves nothing behind.
func (w *Writer) Store(ctx context.Context, sub Submission) (*types.ContentRecord, error) {
	if err := validate(sub); err != nil {
		return nil, err
	}
	start := time.Now()
	defer w.rec.Since("write", start)

	sig := sub.Signals
	if sig == nil {
		if w.fp == nil {
			return nil, cserrors.NewInvalidInput("signals", "no signals and no fingerprinter")
		}
		var err error
		sig, err = w.fp.Fingerprint(ctx, sub.Text)
		if err != nil {
			return nil, cserrors.New(cserrors.KindTransactionFailure, "fingerprint", err)
		}
	}
	if sig.HashExact == "" {
		return nil, cserrors.NewInvalidInput("signals", "empty exact hash")
	}

	rec, fp := w.build(sub, sig)

	err := w.store.Transaction(ctx, func(tx store.Tx) error {
		if err := tx.InsertContent(ctx, rec); err != nil {
			return fmt.Errorf("insert content: %w", err)
		}
		if err := tx.InsertFingerprint(ctx, fp); err != nil {
			return fmt.Errorf("insert fingerprint: %w", err)
		}
		return nil
	})
	if err != nil {
		w.rollbacks.Add(1)
		if cserrors.IsConstraintViolation(err) {
			w.conflicts.Add(1)
			log.Info("duplicate rejected by store", "advisor_id", rec.AdvisorID, "hash", rec.HashExact)
			return nil, cserrors.New(cserrors.KindConstraintViolation, "store content", err)
		}
		log.Error("store content failed", "advisor_id", rec.AdvisorID, "error", err)
		return nil, cserrors.New(cserrors.KindTransactionFailure, "store content", err)
	}
	w.commits.Add(1)

	w.populate(ctx, rec)

	log.Debug("stored content", "advisor_id", rec.AdvisorID, "content_id", rec.ID)
	return rec, nil
}

func validate(sub Submission) error {
	v := cserrors.NewValidationErrors()
	if err := validation.ValidateAdvisorID(sub.AdvisorID); err != nil {
		v.Add(err)
	}
	if strings.TrimSpace(sub.Text) == "" {
		v.Add(cserrors.NewInvalidInput("text", "empty"))
	}
	return v.Err()
}

func (w *Writer) build(sub Submission, sig *types.Signals) (*types.ContentRecord, *types.ContentFingerprint) {
	now := w.now().UTC()
	meta := sub.Metadata.Clone()

	tags := append(append([]string(nil), sub.Tags...), meta.Topics()...)

	rec := &types.ContentRecord{
		ID:          w.newID(),
		AdvisorID:   sub.AdvisorID,
		HashExact:   sig.HashExact,
		Text:        sub.Text,
		ContentType: meta.ContentType(),
		Language:    meta.Language(),
		Tags:        types.NormalizeTags(tags),
		Embedding:   sig.Embedding,
		CreatedAt:   now,
		SentAt:      sub.SentAt,
		Metadata:    meta,
	}
	fp := &types.ContentFingerprint{
		ID:                   w.newID(),
		AdvisorID:            sub.AdvisorID,
		ContentID:            rec.ID,
		HashExact:            sig.HashExact,
		HashStructural:       sig.HashStructural,
		HashSemantic:         sig.HashSemantic,
		StatisticalSignature: sig.StatisticalSignature,
		NgramSignature:       sig.NgramSignature,
		UsageCount:           1,
		LastSeen:             now,
	}
	return rec, fp
}

// populate writes the committed record through to the cache.
func (w *Writer) populate(ctx context.Context, rec *types.ContentRecord) {
	if w.cache == nil {
		return
	}
	match := &types.Match{
		ContentID: rec.ID,
		AdvisorID: rec.AdvisorID,
		CreatedAt: rec.CreatedAt,
		Stage:     types.StageExact,
	}
	if err := w.cache.PutContent(ctx, rec); err != nil {
		w.cacheErrors.Add(1)
	}
	if err := w.cache.PutExact(ctx, rec.HashExact, match); err != nil {
		w.cacheErrors.Add(1)
	}
}
