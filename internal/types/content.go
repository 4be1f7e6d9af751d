package types

import (
	"sort"
	"strings"
	"time"
)

// Known metadata keys. Metadata is an open map; these are the keys the
// store itself reads.
const (
	MetaContentType = "content_type"
	MetaLanguage    = "language"
	MetaTopics      = "topics" // comma-separated
	MetaSource      = "source"
	MetaCampaignID  = "campaign_id"
)

// Defaults applied when metadata does not name a content type or language.
const (
	DefaultContentType = "message"
	DefaultLanguage    = "en"
)

// Metadata is free-form, string-keyed record metadata.
type Metadata map[string]string

// Get returns the value for key, or "" when unset.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// ContentType returns the content type, falling back to DefaultContentType.
func (m Metadata) ContentType() string {
	if v := strings.TrimSpace(m.Get(MetaContentType)); v != "" {
		return v
	}
	return DefaultContentType
}

// Language returns the language, falling back to DefaultLanguage.
func (m Metadata) Language() string {
	if v := strings.TrimSpace(m.Get(MetaLanguage)); v != "" {
		return v
	}
	return DefaultLanguage
}

// Topics returns the topic tags as a normalized set.
func (m Metadata) Topics() []string {
	raw := m.Get(MetaTopics)
	if raw == "" {
		return nil
	}
	return NormalizeTags(strings.Split(raw, ","))
}

// Clone returns a copy of the map. A nil map clones to an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NormalizeTags trims, lowercases, deduplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// ContentRecord is a piece of accepted content in the hot tier.
//
// Text is immutable once the record is created; only SentAt and Metadata
// may change afterwards.
type ContentRecord struct {
	ID          string     `json:"id"`
	AdvisorID   string     `json:"advisor_id"`
	HashExact   string     `json:"hash_exact"`
	Text        string     `json:"text"`
	ContentType string     `json:"content_type"`
	Language    string     `json:"language"`
	Tags        []string   `json:"tags,omitempty"`
	Embedding   []float32  `json:"embedding,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	Metadata    Metadata   `json:"metadata,omitempty"`
}

// Age returns how old the record is at now.
func (r *ContentRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}
