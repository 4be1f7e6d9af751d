// Package partition keeps monthly storage segments ahead of the clock.
//
// Segments are created for a sliding window around the current month so
// that an insert never races a month boundary. Creation is idempotent:
// a segment that already exists counts as success.
package partition

import (
	"context"
	"fmt"
	"sync"
	"time"

	defaults "github.com/xtxerr/contentstore/config"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
	"github.com/xtxerr/contentstore/internal/store"
)

var log = logging.Component("partition")

// Config configures a Manager.
type Config struct {
	// MonthsBack is how many months before the current one are ensured.
	MonthsBack int

	// MonthsAhead is how many months after the current one are ensured.
	MonthsAhead int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the default window [month-1, month+3].
func DefaultConfig() Config {
	return Config{
		MonthsBack:  defaults.DefaultPartitionMonthsBack,
		MonthsAhead: defaults.DefaultPartitionMonthsAhead,
	}
}

// Result reports one EnsureWindow run.
type Result struct {
	Created  []store.Segment
	Existing []store.Segment
}

// Stats holds cumulative manager statistics.
type Stats struct {
	Runs        int64
	Created     int64
	Errors      int64
	LastRunTime time.Time
}

// Manager creates storage segments.
type Manager struct {
	store  store.Store
	config Config

	mu    sync.Mutex
	stats Stats
}

// New returns a manager for s.
func New(s store.Store, cfg Config) *Manager {
	if cfg.MonthsBack < 0 {
		cfg.MonthsBack = 0
	}
	if cfg.MonthsAhead < 0 {
		cfg.MonthsAhead = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{store: s, config: cfg}
}

// Window returns the segments EnsureWindow would ensure now.
func (m *Manager) Window() []store.Segment {
	return store.SegmentWindow(m.config.Now(), m.config.MonthsBack, m.config.MonthsAhead)
}

// EnsureSegment creates seg unless it exists. It reports whether the
// segment was created by this call.
func (m *Manager) EnsureSegment(ctx context.Context, seg store.Segment) (bool, error) {
	err := m.store.CreateSegment(ctx, seg)
	switch {
	case err == nil:
		log.Info("created segment", "segment", seg.Name(), "from", seg.Start(), "to", seg.End())
		return true, nil
	case cserrors.IsSegmentExists(err):
		log.Debug("segment exists", "segment", seg.Name())
		return false, nil
	default:
		return false, fmt.Errorf("ensure segment %s: %w", seg, err)
	}
}

// EnsureWindow ensures every segment of the current window, oldest first.
// The first error other than SegmentExists aborts the run.
func (m *Manager) EnsureWindow(ctx context.Context) (*Result, error) {
	res := &Result{}
	err := m.ensureAll(ctx, res)

	m.mu.Lock()
	m.stats.Runs++
	m.stats.Created += int64(len(res.Created))
	m.stats.LastRunTime = m.config.Now()
	if err != nil {
		m.stats.Errors++
	}
	m.mu.Unlock()

	if err != nil {
		log.Error("segment window failed", "created", len(res.Created), "error", err)
		return res, err
	}
	return res, nil
}

func (m *Manager) ensureAll(ctx context.Context, res *Result) error {
	for _, seg := range m.Window() {
		if err := ctx.Err(); err != nil {
			return err
		}
		created, err := m.EnsureSegment(ctx, seg)
		if err != nil {
			return err
		}
		if created {
			res.Created = append(res.Created, seg)
		} else {
			res.Existing = append(res.Existing, seg)
		}
	}
	return nil
}

// Stats returns a snapshot of the statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
