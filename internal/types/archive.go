package types

import (
	"path"
	"time"
)

// ArchivePrefix is the object-store prefix for archived content.
const ArchivePrefix = "archive"

// ArchivedContent is the cold-tier snapshot of a record.
type ArchivedContent struct {
	Content     ContentRecord      `json:"content"`
	Fingerprint ContentFingerprint `json:"fingerprint"`
	Performance *PerformanceRecord `json:"performance,omitempty"`
	ArchivedAt  time.Time          `json:"archived_at"`
}

// ArchiveKey returns the object key for a record: archive/{advisor}/{content}.
func ArchiveKey(advisorID, contentID string) string {
	return path.Join(ArchivePrefix, advisorID, contentID)
}

// Key returns the object key for the snapshot.
func (a *ArchivedContent) Key() string {
	return ArchiveKey(a.Content.AdvisorID, a.Content.ID)
}
