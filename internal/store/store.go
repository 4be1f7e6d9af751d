// Package store defines the hot-tier persistence contract of the content
// store.
//
// A Store keeps ContentRecords, their fingerprints and their performance
// counters. Three drivers implement it: postgres (production, native range
// partitioning and pgvector), duckdb (embedded, single node) and memory
// (tests and local development). All drivers classify native failures into
// the kinds of package errors at this boundary.
package store

import (
	"context"
	"time"

	"github.com/xtxerr/contentstore/internal/types"
)

// Hot-tier table names.
const (
	TableRecords      = "content_records"
	TableFingerprints = "content_fingerprints"
	TablePerformance  = "content_performance"
)

// HotTables lists the tables whose statistics are refreshed by maintenance.
var HotTables = []string{TableRecords, TableFingerprints, TablePerformance}

// IsHotTable reports whether name is one of HotTables.
func IsHotTable(name string) bool {
	for _, t := range HotTables {
		if t == name {
			return true
		}
	}
	return false
}

// Tx is the write side of a store transaction. Everything inserted through a
// Tx becomes visible together or not at all.
type Tx interface {
	// InsertContent inserts a record. It fails with errors.ErrNoSegment when
	// no segment covers rec.CreatedAt.
	InsertContent(ctx context.Context, rec *types.ContentRecord) error

	// InsertFingerprint inserts a fingerprint. A second fingerprint for the
	// same (advisor, exact hash) fails with a constraint violation.
	InsertFingerprint(ctx context.Context, fp *types.ContentFingerprint) error
}

// SimilarityQuery selects vector neighbours of an embedding.
type SimilarityQuery struct {
	AdvisorID string
	Embedding []float32

	// Since excludes records created before it.
	Since time.Time

	// Limit caps the result. Results are ordered by similarity descending.
	Limit int
}

// Store is the hot-tier persistence contract.
//
// Implementations are safe for concurrent use.
type Store interface {
	// Transaction runs fn in a transaction. An error from fn, a panic or a
	// cancelled context rolls the transaction back. A driver may run fn
	// again after a write-write conflict, so fn must only touch tx.
	Transaction(ctx context.Context, fn func(Tx) error) error

	// FindExact returns the record holding (advisorID, hash). It returns
	// errors.ErrNotFound when there is none.
	FindExact(ctx context.Context, advisorID, hash string) (*types.Match, error)

	// FindStructural returns up to limit records sharing the structural
	// hash, most recent first.
	FindStructural(ctx context.Context, advisorID, hash string, limit int) ([]types.Match, error)

	// FindSemantic returns up to limit records sharing the semantic hash,
	// most recent first.
	FindSemantic(ctx context.Context, advisorID, hash string, limit int) ([]types.Match, error)

	// FindSimilar returns the records nearest to q.Embedding by cosine
	// similarity. Thresholding is left to the caller.
	FindSimilar(ctx context.Context, q SimilarityQuery) ([]types.Match, error)

	// GetContent returns a record by ID, or errors.ErrNotFound.
	GetContent(ctx context.Context, id string) (*types.ContentRecord, error)

	// RecordPerformance atomically adds d to the counters of a record and
	// returns the updated counters. It returns errors.ErrNotFound when the
	// record does not exist.
	RecordPerformance(ctx context.Context, contentID string, d types.PerformanceDelta, at time.Time) (*types.PerformanceRecord, error)

	// GetPerformance returns the counters of a record, or errors.ErrNotFound.
	GetPerformance(ctx context.Context, contentID string) (*types.PerformanceRecord, error)

	// CreateSegment creates the segment for one month. It fails with a
	// SegmentExists error when the segment already exists.
	CreateSegment(ctx context.Context, seg Segment) error

	// ListSegments returns all segments in ascending order.
	ListSegments(ctx context.Context) ([]Segment, error)

	// ListArchivable returns snapshots of up to limit records created
	// strictly before cutoff, oldest first.
	ListArchivable(ctx context.Context, cutoff time.Time, limit int) ([]*types.ArchivedContent, error)

	// CountArchivable counts records created strictly before cutoff.
	CountArchivable(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteContent removes a record with its fingerprint and counters.
	// Deleting a missing record is not an error.
	DeleteContent(ctx context.Context, contentID string) error

	// RefreshStatistics refreshes planner statistics for one of HotTables.
	RefreshStatistics(ctx context.Context, table string) error

	// Close releases the store's resources.
	Close() error
}
