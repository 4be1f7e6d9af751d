package store

import (
	"fmt"
	"time"
)

// SegmentPrefix is the name prefix of every monthly segment.
const SegmentPrefix = TableRecords + "_y"

// Segment identifies the storage segment holding one calendar month (UTC) of
// content records.
type Segment struct {
	Year  int
	Month time.Month
}

// SegmentFor returns the segment covering t.
func SegmentFor(t time.Time) Segment {
	t = t.UTC()
	return Segment{Year: t.Year(), Month: t.Month()}
}

// Start returns the inclusive lower bound of the segment.
func (s Segment) Start() time.Time {
	return time.Date(s.Year, s.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the exclusive upper bound of the segment.
func (s Segment) End() time.Time {
	return s.Start().AddDate(0, 1, 0)
}

// Contains reports whether t falls inside the segment.
func (s Segment) Contains(t time.Time) bool {
	return !t.Before(s.Start()) && t.Before(s.End())
}

// AddMonths returns the segment n months away.
func (s Segment) AddMonths(n int) Segment {
	return SegmentFor(s.Start().AddDate(0, n, 0))
}

// Before reports whether s precedes o.
func (s Segment) Before(o Segment) bool {
	if s.Year != o.Year {
		return s.Year < o.Year
	}
	return s.Month < o.Month
}

// Name returns the deterministic table name, e.g. content_records_y2026m03.
func (s Segment) Name() string {
	return fmt.Sprintf("%s%04dm%02d", SegmentPrefix, s.Year, int(s.Month))
}

// String returns the month as YYYY-MM.
func (s Segment) String() string {
	return fmt.Sprintf("%04d-%02d", s.Year, int(s.Month))
}

// ParseSegmentName is the inverse of Segment.Name.
func ParseSegmentName(name string) (Segment, error) {
	var year, month int
	if _, err := fmt.Sscanf(name, SegmentPrefix+"%04dm%02d", &year, &month); err != nil {
		return Segment{}, fmt.Errorf("parse segment name %q: %w", name, err)
	}
	if month < 1 || month > 12 {
		return Segment{}, fmt.Errorf("parse segment name %q: month %d out of range", name, month)
	}
	return Segment{Year: year, Month: time.Month(month)}, nil
}

// SegmentWindow returns the segments from monthsBack months before the
// segment of now through monthsAhead months after it, in ascending order.
func SegmentWindow(now time.Time, monthsBack, monthsAhead int) []Segment {
	cur := SegmentFor(now)
	out := make([]Segment, 0, monthsBack+monthsAhead+1)
	for i := -monthsBack; i <= monthsAhead; i++ {
		out = append(out, cur.AddMonths(i))
	}
	return out
}
