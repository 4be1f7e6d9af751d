package types

import (
	"context"
	"time"
)

// Signals are the matching signals produced for a text by the external
// fingerprint generator.
type Signals struct {
	HashExact            string             `json:"hash_exact"`
	HashStructural       string             `json:"hash_structural"`
	HashSemantic         string             `json:"hash_semantic"`
	StatisticalSignature map[string]float64 `json:"statistical_signature,omitempty"`
	NgramSignature       []string           `json:"ngram_signature,omitempty"`
	Embedding            []float32          `json:"embedding,omitempty"`
}

// HasEmbedding reports whether an embedding vector was supplied.
func (s *Signals) HasEmbedding() bool {
	return s != nil && len(s.Embedding) > 0
}

// Fingerprinter produces signals for raw text. The content store never
// computes these values itself.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, text string) (*Signals, error)
}

// FingerprinterFunc adapts a function to the Fingerprinter interface.
type FingerprinterFunc func(ctx context.Context, text string) (*Signals, error)

// Fingerprint calls f.
func (f FingerprinterFunc) Fingerprint(ctx context.Context, text string) (*Signals, error) {
	return f(ctx, text)
}

// ContentFingerprint is the stored set of signals for a ContentRecord.
//
// (AdvisorID, HashExact) is unique across the hot tier.
type ContentFingerprint struct {
	ID                   string             `json:"id"`
	AdvisorID            string             `json:"advisor_id"`
	ContentID            string             `json:"content_id"`
	HashExact            string             `json:"hash_exact"`
	HashStructural       string             `json:"hash_structural"`
	HashSemantic         string             `json:"hash_semantic"`
	StatisticalSignature map[string]float64 `json:"statistical_signature,omitempty"`
	NgramSignature       []string           `json:"ngram_signature,omitempty"`
	UsageCount           int64              `json:"usage_count"`
	LastSeen             time.Time          `json:"last_seen"`
}
