// Package cascade decides whether content is unique for an advisor.
//
// Four stages run in order of cost:
//
//  1. exact: (advisor, exact hash), cache then store. Authoritative; a hit
//     ends the check.
//  2. structural: records sharing the structural hash. Advisory.
//  3. semantic: records sharing the semantic hash. Advisory.
//  4. vector: embedding neighbours within the lookback window whose
//     similarity strictly exceeds the threshold. Advisory.
//
// Only stage 1 can make content non-unique. Failures of the advisory
// stages are logged and leave that stage empty.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	defaults "github.com/xtxerr/contentstore/config"
	"github.com/xtxerr/contentstore/internal/cache"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
	"github.com/xtxerr/contentstore/internal/stats"
	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/types"
	"github.com/xtxerr/contentstore/internal/validation"
)

var log = logging.Component("cascade")

// Config is the similarity policy.
type Config struct {
	StructuralLimit     int
	SemanticLimit       int
	SimilarityThreshold float64
	VectorLookback      time.Duration
	VectorLimit         int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default policy: 5 / 5 / 0.85 / 90 days / 10.
func DefaultConfig() Config {
	return Config{
		StructuralLimit:     defaults.DefaultStructuralLimit,
		SemanticLimit:       defaults.DefaultSemanticLimit,
		SimilarityThreshold: defaults.DefaultSimilarityThreshold,
		VectorLookback:      defaults.DefaultVectorLookback,
		VectorLimit:         defaults.DefaultVectorLimit,
	}
}

// Stats holds resolver counters.
type Stats struct {
	Checks      int64
	Duplicates  int64
	NearMatches int64
	StageErrors int64
}

// Resolver runs the cascade.
type Resolver struct {
	store  store.Store
	cache  *cache.Adapter
	config Config
	rec    *stats.Recorder

	checks      atomic.Int64
	duplicates  atomic.Int64
	nearMatches atomic.Int64
	stageErrors atomic.Int64
}

// New returns a resolver. c and rec may be nil.
func New(s store.Store, c *cache.Adapter, cfg Config, rec *stats.Recorder) *Resolver {
	def := DefaultConfig()
	if cfg.StructuralLimit <= 0 {
		cfg.StructuralLimit = def.StructuralLimit
	}
	if cfg.SemanticLimit <= 0 {
		cfg.SemanticLimit = def.SemanticLimit
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.VectorLookback <= 0 {
		cfg.VectorLookback = def.VectorLookback
	}
	if cfg.VectorLimit <= 0 {
		cfg.VectorLimit = def.VectorLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{store: s, cache: c, config: cfg, rec: rec}
}

// Stats returns a snapshot of the counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Checks:      r.checks.Load(),
		Duplicates:  r.duplicates.Load(),
		NearMatches: r.nearMatches.Load(),
		StageErrors: r.stageErrors.Load(),
	}
}

// CheckUniqueness runs the cascade for text with precomputed signals.
//
// The returned error is non-nil only for invalid input or when the exact
// stage could not be evaluated.
func (r *Resolver) CheckUniqueness(ctx context.Context, text, advisorID string, sig *types.Signals) (*types.UniquenessResult, error) {
	if err := validation.ValidateAdvisorID(advisorID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, cserrors.NewInvalidInput("text", "empty")
	}
	if sig == nil || sig.HashExact == "" {
		return nil, cserrors.NewInvalidInput("signals", "missing exact hash")
	}
	r.checks.Add(1)
	start := time.Now()
	defer r.rec.Since("cascade", start)

	res := &types.UniquenessResult{
		IsUnique:          true,
		StructuralMatches: []types.Match{},
		SemanticMatches:   []types.Match{},
		SimilarContent:    []types.Match{},
	}

	exact, err := r.exact(ctx, advisorID, sig.HashExact)
	if err != nil {
		return nil, err
	}
	if exact != nil {
		r.duplicates.Add(1)
		res.IsUnique = false
		res.ExactMatch = exact
		log.Debug("exact duplicate", "advisor_id", advisorID, "content_id", exact.ContentID)
		return res, nil
	}

	if sig.HashStructural != "" {
		res.StructuralMatches = r.advisory(ctx, types.StageStructural, advisorID, func(ctx context.Context) ([]types.Match, error) {
			return r.store.FindStructural(ctx, advisorID, sig.HashStructural, r.config.StructuralLimit)
		})
	}
	if sig.HashSemantic != "" {
		res.SemanticMatches = r.advisory(ctx, types.StageSemantic, advisorID, func(ctx context.Context) ([]types.Match, error) {
			return r.store.FindSemantic(ctx, advisorID, sig.HashSemantic, r.config.SemanticLimit)
		})
	}
	if sig.HasEmbedding() {
		res.SimilarContent = r.advisory(ctx, types.StageVector, advisorID, func(ctx context.Context) ([]types.Match, error) {
			return r.similar(ctx, advisorID, sig.Embedding)
		})
	}

	if res.HasNearDuplicates() {
		r.nearMatches.Add(1)
	}
	return res, nil
}

// exact returns the exact match, or nil when there is none.
func (r *Resolver) exact(ctx context.Context, advisorID, hash string) (*types.Match, error) {
	start := time.Now()
	defer r.rec.Since(stageSeries(types.StageExact), start)

	load := func(ctx context.Context) (*types.Match, error) {
		return r.store.FindExact(ctx, advisorID, hash)
	}

	var m *types.Match
	var err error
	if r.cache != nil {
		m, err = r.cache.LoadExact(ctx, advisorID, hash, load)
	} else {
		m, err = load(ctx)
	}
	switch {
	case err == nil:
		m.Stage = types.StageExact
		m.Similarity = 1
		return m, nil
	case errors.Is(err, cserrors.ErrNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("exact stage: %w", err)
	}
}

// advisory runs one advisory stage, turning failure into an empty result.
func (r *Resolver) advisory(ctx context.Context, stage types.Stage, advisorID string, run func(context.Context) ([]types.Match, error)) []types.Match {
	start := time.Now()
	defer r.rec.Since(stageSeries(stage), start)

	matches, err := run(ctx)
	if err != nil {
		r.stageErrors.Add(1)
		log.Warn("advisory stage failed", "stage", stage.String(), "advisor_id", advisorID, "error", err)
		return []types.Match{}
	}
	for i := range matches {
		matches[i].Stage = stage
	}
	if matches == nil {
		matches = []types.Match{}
	}
	return matches
}

// similar returns neighbours strictly above the threshold, most similar
// first, capped at VectorLimit.
func (r *Resolver) similar(ctx context.Context, advisorID string, embedding []float32) ([]types.Match, error) {
	candidates, err := r.store.FindSimilar(ctx, store.SimilarityQuery{
		AdvisorID: advisorID,
		Embedding: embedding,
		Since:     r.config.Now().Add(-r.config.VectorLookback),
		Limit:     r.config.VectorLimit,
	})
	if err != nil {
		return nil, err
	}
	return FilterSimilar(candidates, r.config.SimilarityThreshold, r.config.VectorLimit), nil
}

// FilterSimilar keeps candidates whose similarity is strictly greater than
// threshold, sorted by similarity descending and capped at limit.
func FilterSimilar(candidates []types.Match, threshold float64, limit int) []types.Match {
	out := make([]types.Match, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity > threshold {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func stageSeries(s types.Stage) string {
	return "cascade." + s.String()
}
