package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/contentstore/internal/store"
	"github.com/xtxerr/contentstore/internal/types"
)

// Compression is a Parquet compression codec.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionZstd
	CompressionGzip
)

// ParseCompression parses a compression name. An empty name is zstd.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "zstd", "":
		return CompressionZstd, nil
	case "snappy":
		return CompressionSnappy, nil
	case "gzip":
		return CompressionGzip, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unknown parquet compression %q", s)
	}
}

func (c Compression) codec() compress.Codec {
	switch c {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// SnapshotRow is the flat Parquet layout of a snapshot. Open maps are
// stored as JSON text; timestamps are Unix nanoseconds.
type SnapshotRow struct {
	ContentID   string    `parquet:"content_id"`
	AdvisorID   string    `parquet:"advisor_id"`
	HashExact   string    `parquet:"hash_exact"`
	Text        string    `parquet:"text,zstd"`
	ContentType string    `parquet:"content_type"`
	Language    string    `parquet:"language"`
	Tags        []string  `parquet:"tags"`
	Embedding   []float32 `parquet:"embedding"`
	CreatedAtNs int64     `parquet:"created_at_ns"`
	SentAtNs    int64     `parquet:"sent_at_ns,optional"`
	Metadata    string    `parquet:"metadata"`

	FingerprintID        string   `parquet:"fingerprint_id"`
	HashStructural       string   `parquet:"hash_structural"`
	HashSemantic         string   `parquet:"hash_semantic"`
	StatisticalSignature string   `parquet:"statistical_signature"`
	NgramSignature       []string `parquet:"ngram_signature"`
	UsageCount           int64    `parquet:"usage_count"`
	LastSeenNs           int64    `parquet:"last_seen_ns"`

	HasPerformance bool    `parquet:"has_performance"`
	Sent           int64   `parquet:"sent"`
	Delivered      int64   `parquet:"delivered"`
	Read           int64   `parquet:"read"`
	Clicked        int64   `parquet:"clicked"`
	Replied        int64   `parquet:"replied"`
	EngagementRate float64 `parquet:"engagement_rate"`
	PerfUpdatedNs  int64   `parquet:"perf_updated_ns,optional"`

	ArchivedAtNs int64 `parquet:"archived_at_ns"`
}

// Parquet encodes a snapshot as a one-row Parquet file, readable by any
// Parquet tool (e.g. DuckDB read_parquet) without this package.
type Parquet struct {
	Compression Compression
}

// Name implements Codec.
func (Parquet) Name() string { return "parquet" }

// ContentType implements Codec.
func (Parquet) ContentType() string { return ContentTypeParquet }

// Encode implements Codec.
func (p Parquet) Encode(a *types.ArchivedContent) ([]byte, error) {
	row, err := SnapshotToRow(a)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[SnapshotRow](&buf, parquet.Compression(p.Compression.codec()))
	if _, err := w.Write([]SnapshotRow{row}); err != nil {
		return nil, fmt.Errorf("write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode implements Codec. The object must hold exactly one row.
func (Parquet) Decode(data []byte) (*types.ArchivedContent, error) {
	r := parquet.NewGenericReader[SnapshotRow](bytes.NewReader(data))
	defer r.Close()

	if n := r.NumRows(); n != 1 {
		return nil, fmt.Errorf("decode snapshot: %d rows, want 1", n)
	}

	rows := make([]SnapshotRow, 1)
	n, err := r.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if n != 1 {
		return nil, fmt.Errorf("decode snapshot: read %d rows", n)
	}
	return RowToSnapshot(&rows[0])
}

// SnapshotToRow flattens a snapshot.
func SnapshotToRow(a *types.ArchivedContent) (SnapshotRow, error) {
	c, f := &a.Content, &a.Fingerprint

	meta, err := store.EncodeJSON(map[string]string(c.Metadata))
	if err != nil {
		return SnapshotRow{}, err
	}
	sig, err := store.EncodeJSON(f.StatisticalSignature)
	if err != nil {
		return SnapshotRow{}, err
	}

	row := SnapshotRow{
		ContentID:   c.ID,
		AdvisorID:   c.AdvisorID,
		HashExact:   c.HashExact,
		Text:        c.Text,
		ContentType: c.ContentType,
		Language:    c.Language,
		Tags:        c.Tags,
		Embedding:   c.Embedding,
		CreatedAtNs: c.CreatedAt.UnixNano(),
		Metadata:    meta,

		FingerprintID:        f.ID,
		HashStructural:       f.HashStructural,
		HashSemantic:         f.HashSemantic,
		StatisticalSignature: sig,
		NgramSignature:       f.NgramSignature,
		UsageCount:           f.UsageCount,
		LastSeenNs:           f.LastSeen.UnixNano(),

		ArchivedAtNs: a.ArchivedAt.UnixNano(),
	}
	if c.SentAt != nil {
		row.SentAtNs = c.SentAt.UnixNano()
	}
	if p := a.Performance; p != nil {
		row.HasPerformance = true
		row.Sent = p.Sent
		row.Delivered = p.Delivered
		row.Read = p.Read
		row.Clicked = p.Clicked
		row.Replied = p.Replied
		row.EngagementRate = p.EngagementRate
		row.PerfUpdatedNs = p.UpdatedAt.UnixNano()
	}
	return row, nil
}

// RowToSnapshot is the inverse of SnapshotToRow.
func RowToSnapshot(r *SnapshotRow) (*types.ArchivedContent, error) {
	a := &types.ArchivedContent{
		Content: types.ContentRecord{
			ID:          r.ContentID,
			AdvisorID:   r.AdvisorID,
			HashExact:   r.HashExact,
			Text:        r.Text,
			ContentType: r.ContentType,
			Language:    r.Language,
			Tags:        nilIfEmpty(r.Tags),
			Embedding:   nilIfEmpty(r.Embedding),
			CreatedAt:   fromNanos(r.CreatedAtNs),
		},
		Fingerprint: types.ContentFingerprint{
			ID:             r.FingerprintID,
			AdvisorID:      r.AdvisorID,
			ContentID:      r.ContentID,
			HashExact:      r.HashExact,
			HashStructural: r.HashStructural,
			HashSemantic:   r.HashSemantic,
			NgramSignature: nilIfEmpty(r.NgramSignature),
			UsageCount:     r.UsageCount,
			LastSeen:       fromNanos(r.LastSeenNs),
		},
		ArchivedAt: fromNanos(r.ArchivedAtNs),
	}

	var meta map[string]string
	if err := store.DecodeJSON(r.Metadata, &meta); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		a.Content.Metadata = meta
	}
	if err := store.DecodeJSON(r.StatisticalSignature, &a.Fingerprint.StatisticalSignature); err != nil {
		return nil, err
	}
	if len(a.Fingerprint.StatisticalSignature) == 0 {
		a.Fingerprint.StatisticalSignature = nil
	}
	if r.SentAtNs != 0 {
		t := fromNanos(r.SentAtNs)
		a.Content.SentAt = &t
	}
	if r.HasPerformance {
		a.Performance = &types.PerformanceRecord{
			ContentID:      r.ContentID,
			Sent:           r.Sent,
			Delivered:      r.Delivered,
			Read:           r.Read,
			Clicked:        r.Clicked,
			Replied:        r.Replied,
			EngagementRate: r.EngagementRate,
			UpdatedAt:      fromNanos(r.PerfUpdatedNs),
		}
	}
	return a, nil
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nilIfEmpty[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}
