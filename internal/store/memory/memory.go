// Package memory is an in-process store.Store.
//
// It mirrors the SQL drivers: records must fall inside a created segment,
// (advisor, exact hash) is unique, and a transaction's writes become visible
// together at commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/types"
)

type exactKey struct {
	advisorID string
	hash      string
}

// Options configures a Store.
type Options struct {
	// SkipSegmentCheck accepts records outside every segment.
	SkipSegmentCheck bool
}

// Store is an in-memory store.Store. It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	records      map[string]*types.ContentRecord
	fingerprints map[string]*types.ContentFingerprint // by content ID
	exact        map[exactKey]string                  // -> content ID
	performance  map[string]*types.PerformanceRecord
	segments     map[store.Segment]struct{}

	opts   Options
	closed bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New(opts Options) *Store {
	return &Store{
		records:      make(map[string]*types.ContentRecord),
		fingerprints: make(map[string]*types.ContentFingerprint),
		exact:        make(map[exactKey]string),
		performance:  make(map[string]*types.PerformanceRecord),
		segments:     make(map[store.Segment]struct{}),
		opts:         opts,
	}
}

// =============================================================================
// Transactions
// =============================================================================

type tx struct {
	s            *Store
	records      []*types.ContentRecord
	fingerprints []*types.ContentFingerprint
}

func (t *tx) InsertContent(ctx context.Context, rec *types.ContentRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if err := t.s.checkRecord(rec); err != nil {
		return err
	}
	for _, p := range t.records {
		if p.ID == rec.ID {
			return fmt.Errorf("insert content %s: %w", rec.ID, cserrors.ErrAlreadyExists)
		}
	}
	t.records = append(t.records, cloneRecord(rec))
	return nil
}

func (t *tx) InsertFingerprint(ctx context.Context, fp *types.ContentFingerprint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	if err := t.s.checkFingerprint(fp); err != nil {
		return err
	}
	for _, p := range t.fingerprints {
		if p.AdvisorID == fp.AdvisorID && p.HashExact == fp.HashExact {
			return duplicate(fp)
		}
	}
	t.fingerprints = append(t.fingerprints, cloneFingerprint(fp))
	return nil
}

// checkRecord validates rec against committed state. Caller holds s.mu.
func (s *Store) checkRecord(rec *types.ContentRecord) error {
	if s.closed {
		return cserrors.ErrClosed
	}
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("insert content %s: %w", rec.ID, cserrors.ErrAlreadyExists)
	}
	if !s.opts.SkipSegmentCheck {
		if _, ok := s.segments[store.SegmentFor(rec.CreatedAt)]; !ok {
			return fmt.Errorf("insert content at %s: %w", rec.CreatedAt.UTC().Format(time.RFC3339), cserrors.ErrNoSegment)
		}
	}
	return nil
}

// checkFingerprint validates fp against committed state. Caller holds s.mu.
func (s *Store) checkFingerprint(fp *types.ContentFingerprint) error {
	if s.closed {
		return cserrors.ErrClosed
	}
	if _, ok := s.exact[exactKey{fp.AdvisorID, fp.HashExact}]; ok {
		return duplicate(fp)
	}
	return nil
}

func duplicate(fp *types.ContentFingerprint) error {
	return cserrors.New(cserrors.KindConstraintViolation, "insert fingerprint",
		fmt.Errorf("advisor %s hash %s: %w", fp.AdvisorID, fp.HashExact, cserrors.ErrDuplicate))
}

// Transaction runs fn and applies its writes atomically. Constraints are
// checked again at commit, so of two racing transactions inserting the same
// (advisor, exact hash) exactly one commits.
func (s *Store) Transaction(ctx context.Context, fn func(store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	t := &tx{s: s}
	if err := fn(t); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before commit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range t.records {
		if err := s.checkRecord(rec); err != nil {
			return err
		}
	}
	for _, fp := range t.fingerprints {
		if err := s.checkFingerprint(fp); err != nil {
			return err
		}
	}

	for _, rec := range t.records {
		s.records[rec.ID] = rec
	}
	for _, fp := range t.fingerprints {
		s.fingerprints[fp.ContentID] = fp
		s.exact[exactKey{fp.AdvisorID, fp.HashExact}] = fp.ContentID
	}
	return nil
}

// =============================================================================
// Lookups
// =============================================================================

// FindExact implements store.Store.
func (s *Store) FindExact(ctx context.Context, advisorID, hash string) (*types.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cserrors.ErrClosed
	}
	id, ok := s.exact[exactKey{advisorID, hash}]
	if !ok {
		return nil, cserrors.NewNotFound("exact hash", hash)
	}
	rec := s.records[id]
	return &types.Match{
		ContentID: id,
		AdvisorID: advisorID,
		CreatedAt: rec.CreatedAt,
		Stage:     types.StageExact,
	}, nil
}

// FindStructural implements store.Store.
func (s *Store) FindStructural(ctx context.Context, advisorID, hash string, limit int) ([]types.Match, error) {
	return s.findByHash(advisorID, limit, types.StageStructural, func(fp *types.ContentFingerprint) bool {
		return fp.HashStructural == hash
	})
}

// FindSemantic implements store.Store.
func (s *Store) FindSemantic(ctx context.Context, advisorID, hash string, limit int) ([]types.Match, error) {
	return s.findByHash(advisorID, limit, types.StageSemantic, func(fp *types.ContentFingerprint) bool {
		return fp.HashSemantic == hash
	})
}

func (s *Store) findByHash(advisorID string, limit int, stage types.Stage, match func(*types.ContentFingerprint) bool) ([]types.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cserrors.ErrClosed
	}

	var out []types.Match
	for id, fp := range s.fingerprints {
		if fp.AdvisorID != advisorID || !match(fp) {
			continue
		}
		out = append(out, types.Match{
			ContentID: id,
			AdvisorID: advisorID,
			CreatedAt: s.records[id].CreatedAt,
			Stage:     stage,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ContentID < out[j].ContentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindSimilar implements store.Store.
func (s *Store) FindSimilar(ctx context.Context, q store.SimilarityQuery) ([]types.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cserrors.ErrClosed
	}

	var out []types.Match
	for _, rec := range s.records {
		if rec.AdvisorID != q.AdvisorID || len(rec.Embedding) != len(q.Embedding) {
			continue
		}
		if rec.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, types.Match{
			ContentID:  rec.ID,
			AdvisorID:  rec.AdvisorID,
			CreatedAt:  rec.CreatedAt,
			Similarity: store.CosineSimilarity(rec.Embedding, q.Embedding),
			Stage:      types.StageVector,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ContentID < out[j].ContentID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetContent implements store.Store.
func (s *Store) GetContent(ctx context.Context, id string) (*types.ContentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cserrors.ErrClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, cserrors.NewNotFound("content", id)
	}
	return cloneRecord(rec), nil
}

// =============================================================================
// Performance
// =============================================================================

// RecordPerformance implements store.Store.
func (s *Store) RecordPerformance(ctx context.Context, contentID string, d types.PerformanceDelta, at time.Time) (*types.PerformanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, cserrors.ErrClosed
	}
	if _, ok := s.records[contentID]; !ok {
		return nil, cserrors.NewNotFound("content", contentID)
	}

	p, ok := s.performance[contentID]
	if !ok {
		p = &types.PerformanceRecord{ContentID: contentID}
		s.performance[contentID] = p
	}
	p.Apply(d, at.UTC())

	cp := *p
	return &cp, nil
}

// GetPerformance implements store.Store.
func (s *Store) GetPerformance(ctx context.Context, contentID string) (*types.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.performance[contentID]
	if !ok {
		return nil, cserrors.NewNotFound("performance", contentID)
	}
	cp := *p
	return &cp, nil
}

// =============================================================================
// Segments
// =============================================================================

// CreateSegment implements store.Store.
func (s *Store) CreateSegment(ctx context.Context, seg store.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cserrors.ErrClosed
	}
	if _, ok := s.segments[seg]; ok {
		return cserrors.New(cserrors.KindSegmentExists, "create segment",
			fmt.Errorf("%s: %w", seg.Name(), cserrors.ErrAlreadyExists))
	}
	s.segments[seg] = struct{}{}
	return nil
}

// ListSegments implements store.Store.
func (s *Store) ListSegments(ctx context.Context) ([]store.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Segment, 0, len(s.segments))
	for seg := range s.segments {
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// =============================================================================
// Retention
// =============================================================================

func (s *Store) archivable(cutoff time.Time) []*types.ContentRecord {
	var out []*types.ContentRecord
	for _, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListArchivable implements store.Store.
func (s *Store) ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]*types.ArchivedContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cserrors.ErrClosed
	}

	recs := s.archivable(cutoff)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	out := make([]*types.ArchivedContent, 0, len(recs))
	for _, rec := range recs {
		a := &types.ArchivedContent{Content: *cloneRecord(rec)}
		if fp, ok := s.fingerprints[rec.ID]; ok {
			a.Fingerprint = *cloneFingerprint(fp)
		}
		if p, ok := s.performance[rec.ID]; ok {
			cp := *p
			a.Performance = &cp
		}
		out = append(out, a)
	}
	return out, nil
}

// CountArchivable implements store.Store.
func (s *Store) CountArchivable(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.archivable(cutoff))), nil
}

// DeleteContent implements store.Store.
func (s *Store) DeleteContent(ctx context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cserrors.ErrClosed
	}
	if fp, ok := s.fingerprints[contentID]; ok {
		delete(s.exact, exactKey{fp.AdvisorID, fp.HashExact})
		delete(s.fingerprints, contentID)
	}
	delete(s.performance, contentID)
	delete(s.records, contentID)
	return nil
}

// RefreshStatistics implements store.Store. There are no statistics to
// refresh in memory.
func (s *Store) RefreshStatistics(ctx context.Context, table string) error {
	if !store.IsHotTable(table) {
		return cserrors.NewInvalidInput("table", table)
	}
	return nil
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// =============================================================================
// Copies
// =============================================================================

func cloneRecord(r *types.ContentRecord) *types.ContentRecord {
	cp := *r
	cp.CreatedAt = r.CreatedAt.UTC()
	if r.Tags != nil {
		cp.Tags = append([]string(nil), r.Tags...)
	}
	if r.Embedding != nil {
		cp.Embedding = append([]float32(nil), r.Embedding...)
	}
	if r.SentAt != nil {
		t := r.SentAt.UTC()
		cp.SentAt = &t
	}
	cp.Metadata = r.Metadata.Clone()
	return &cp
}

func cloneFingerprint(f *types.ContentFingerprint) *types.ContentFingerprint {
	cp := *f
	if f.StatisticalSignature != nil {
		cp.StatisticalSignature = make(map[string]float64, len(f.StatisticalSignature))
		for k, v := range f.StatisticalSignature {
			cp.StatisticalSignature[k] = v
		}
	}
	if f.NgramSignature != nil {
		cp.NgramSignature = append([]string(nil), f.NgramSignature...)
	}
	return &cp
}
