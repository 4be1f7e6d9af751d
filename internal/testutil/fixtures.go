package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/types"
)

// Epoch is the fixed "now" used across tests.
var Epoch = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

// Clock is a settable clock for tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock reading now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Signals derives deterministic fingerprint signals from text.
//
// The exact hash covers the trimmed text. The structural hash covers the
// sequence of word lengths ignoring punctuation, so texts with the same
// shape collide. The semantic hash covers the sorted set of lowercased words, so reordered
// texts collide. The embedding is a 26-dimension letter histogram.
func Signals(text string) *types.Signals {
	words := strings.Fields(strings.ToLower(text))

	shape := make([]string, len(words))
	set := make(map[string]struct{}, len(words))
	for i, w := range words {
		w = strings.Trim(w, ".,!?;:")
		shape[i] = string(rune('a' + len(w)%26))
		set[w] = struct{}{}
	}
	bag := make([]string, 0, len(set))
	for w := range set {
		bag = append(bag, w)
	}
	sort.Strings(bag)

	emb := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			emb[r-'a']++
		}
	}

	return &types.Signals{
		HashExact:            digest(strings.TrimSpace(text)),
		HashStructural:       digest(strings.Join(shape, "")),
		HashSemantic:         digest(strings.Join(bag, " ")),
		StatisticalSignature: map[string]float64{"words": float64(len(words)), "chars": float64(len(text))},
		NgramSignature:       bag,
		Embedding:            emb,
	}
}

// Fingerprinter returns a types.Fingerprinter backed by Signals.
func Fingerprinter() types.Fingerprinter {
	return types.FingerprinterFunc(func(_ context.Context, text string) (*types.Signals, error) {
		return Signals(text), nil
	})
}

// Record builds a record and its fingerprint for text, created at createdAt.
func Record(advisorID, text string, createdAt time.Time) (*types.ContentRecord, *types.ContentFingerprint) {
	sig := Signals(text)
	rec := &types.ContentRecord{
		ID:          uuid.NewString(),
		AdvisorID:   advisorID,
		HashExact:   sig.HashExact,
		Text:        text,
		ContentType: types.DefaultContentType,
		Language:    types.DefaultLanguage,
		Embedding:   sig.Embedding,
		CreatedAt:   createdAt.UTC(),
		Metadata:    types.Metadata{},
	}
	fp := &types.ContentFingerprint{
		ID:                   uuid.NewString(),
		AdvisorID:            advisorID,
		ContentID:            rec.ID,
		HashExact:            sig.HashExact,
		HashStructural:       sig.HashStructural,
		HashSemantic:         sig.HashSemantic,
		StatisticalSignature: sig.StatisticalSignature,
		NgramSignature:       sig.NgramSignature,
		UsageCount:           1,
		LastSeen:             createdAt.UTC(),
	}
	return rec, fp
}

// Insert writes rec and fp in one transaction and fails the test on error.
func Insert(t testing.TB, s store.Store, rec *types.ContentRecord, fp *types.ContentFingerprint) {
	t.Helper()
	err := s.Transaction(context.Background(), func(tx store.Tx) error {
		if err := tx.InsertContent(context.Background(), rec); err != nil {
			return err
		}
		return tx.InsertFingerprint(context.Background(), fp)
	})
	require.NoError(t, err)
}

// Seed inserts a record for text created at createdAt, creating its segment
// when needed, and returns the record.
func Seed(t testing.TB, s store.Store, advisorID, text string, createdAt time.Time) *types.ContentRecord {
	t.Helper()
	EnsureSegment(t, s, createdAt)
	rec, fp := Record(advisorID, text, createdAt)
	Insert(t, s, rec, fp)
	return rec
}

// EnsureSegment creates the segment covering at unless it exists.
func EnsureSegment(t testing.TB, s store.Store, at time.Time) {
	t.Helper()
	seg := store.SegmentFor(at)
	segs, err := s.ListSegments(context.Background())
	require.NoError(t, err)
	for _, existing := range segs {
		if existing == seg {
			return
		}
	}
	require.NoError(t, s.CreateSegment(context.Background(), seg))
}

// DaysAgo returns Epoch minus n days.
func DaysAgo(n int) time.Time {
	return Epoch.Add(-time.Duration(n) * 24 * time.Hour)
}
