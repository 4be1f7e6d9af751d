package types

import "time"

// PerformanceRecord holds delivery and engagement counters for a record.
// Counters only grow.
type PerformanceRecord struct {
	ContentID      string    `json:"content_id"`
	Sent           int64     `json:"sent"`
	Delivered      int64     `json:"delivered"`
	Read           int64     `json:"read"`
	Clicked        int64     `json:"clicked"`
	Replied        int64     `json:"replied"`
	EngagementRate float64   `json:"engagement_rate"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PerformanceDelta is an increment applied to a PerformanceRecord.
type PerformanceDelta struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Read      int64 `json:"read"`
	Clicked   int64 `json:"clicked"`
	Replied   int64 `json:"replied"`
}

// Valid reports whether every increment is non-negative.
func (d PerformanceDelta) Valid() bool {
	return d.Sent >= 0 && d.Delivered >= 0 && d.Read >= 0 && d.Clicked >= 0 && d.Replied >= 0
}

// IsZero reports whether the delta changes nothing.
func (d PerformanceDelta) IsZero() bool {
	return d == PerformanceDelta{}
}

// Apply adds d to p and recomputes the engagement rate.
func (p *PerformanceRecord) Apply(d PerformanceDelta, at time.Time) {
	p.Sent += d.Sent
	p.Delivered += d.Delivered
	p.Read += d.Read
	p.Clicked += d.Clicked
	p.Replied += d.Replied
	p.EngagementRate = EngagementRate(p.Delivered, p.Read, p.Clicked, p.Replied)
	p.UpdatedAt = at
}

// EngagementRate is (read + clicked + replied) / delivered, or 0 when
// nothing was delivered.
func EngagementRate(delivered, read, clicked, replied int64) float64 {
	if delivered <= 0 {
		return 0
	}
	return float64(read+clicked+replied) / float64(delivered)
}
