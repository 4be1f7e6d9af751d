// Package types defines the core data types of the content store.
//
// Key types:
//   - ContentRecord: a piece of accepted advisor content in the hot tier
//   - ContentFingerprint: the matching signals stored for a record
//   - PerformanceRecord: delivery and engagement counters for a record
//   - ArchivedContent: the cold-tier snapshot of all three
//   - UniquenessResult: the outcome of the similarity cascade
package types
