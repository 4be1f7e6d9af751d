// Package scheduler runs the periodic background jobs of the content store.
//
// The scheduler keeps jobs in a min-heap ordered by their next due time.
// A job never overlaps itself: ticks that come due while the previous run
// is still in flight are skipped and counted. Every run gets its own
// timeout.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	defaults "github.com/xtxerr/contentstore/config"
	cserrors "github.com/xtxerr/contentstore/internal/errors"
	"github.com/xtxerr/contentstore/internal/logging"
)

var log = logging.Component("scheduler")

// =============================================================================
// Types
// =============================================================================

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// JobStats holds the statistics of one job.
type JobStats struct {
	Name     string
	Interval time.Duration
	Runs     int64
	Failures int64

	// Skipped counts ticks dropped because the previous run was still in
	// flight.
	Skipped int64

	Running      bool
	LastRun      time.Time
	LastDuration time.Duration
	LastError    string
	NextRun      time.Time
}

type jobItem struct {
	job     Job
	next    time.Time
	running bool
	index   int
	stats   JobStats
}

// =============================================================================
// Heap Implementation
// =============================================================================

type jobHeap []*jobItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	return h[i].next.Before(h[j].next)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	item := x.(*jobItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

func (h jobHeap) peek() *jobItem {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// =============================================================================
// Scheduler Configuration
// =============================================================================

// Config holds scheduler configuration.
type Config struct {
	// TickInterval is how often the scheduler checks for due jobs.
	TickInterval time.Duration

	// JobTimeout bounds a single run.
	JobTimeout time.Duration

	// DrainTimeout is how long Stop waits for in-flight runs before
	// cancelling them.
	DrainTimeout time.Duration

	// RunOnStart makes every job due immediately when it is added to a
	// started scheduler or when the scheduler starts.
	RunOnStart bool
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval: defaults.DefaultSchedulerTickInterval,
		JobTimeout:   defaults.DefaultJobTimeout,
		DrainTimeout: defaults.DefaultDrainTimeout,
	}
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler runs jobs on their intervals.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu    sync.Mutex
	heap  jobHeap
	items map[string]*jobItem

	cfg Config

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown chan struct{}
	wakeup   chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool
	stopOnce sync.Once

	active atomic.Int32
}

// New creates a scheduler. Zero config values take defaults.
func New(cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		items:    make(map[string]*jobItem),
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
		wakeup:   make(chan struct{}, 1),
	}
}

// Add registers a job. The first run is due one interval from now, or
// immediately with RunOnStart.
func (s *Scheduler) Add(job Job) error {
	switch {
	case job.Name == "":
		return cserrors.NewMissingField("name")
	case job.Run == nil:
		return cserrors.NewMissingField("run")
	case job.Interval <= 0:
		return cserrors.NewInvalidInput("interval", "must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[job.Name]; ok {
		return fmt.Errorf("job %q: %w", job.Name, cserrors.ErrAlreadyExists)
	}

	next := time.Now().Add(job.Interval)
	if s.cfg.RunOnStart {
		next = time.Now()
	}
	item := &jobItem{
		job:   job,
		next:  next,
		stats: JobStats{Name: job.Name, Interval: job.Interval},
	}
	heap.Push(&s.heap, item)
	s.items[job.Name] = item
	s.signalWakeup()

	log.Debug("job added", "job", job.Name, "interval", job.Interval)
	return nil
}

// Trigger makes a job due now. A job that is running is not queued again.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[name]
	if !ok {
		return cserrors.NewNotFound("job", name)
	}
	if item.running {
		return nil
	}
	item.next = time.Now()
	heap.Fix(&s.heap, item.index)
	s.signalWakeup()
	return nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start starts the schedule loop.
func (s *Scheduler) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.wg.Add(1)
	go s.scheduleLoop()

	log.Info("scheduler started", "jobs", s.Count(), "run_on_start", s.cfg.RunOnStart)
}

// Stop stops the loop and waits for in-flight runs. Runs still going
// after the drain timeout are cancelled and waited for.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		log.Info("scheduler stopping")
		close(s.shutdown)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(s.cfg.DrainTimeout)
		defer timer.Stop()

		select {
		case <-done:
			log.Info("scheduler stopped gracefully")
		case <-timer.C:
			log.Warn("scheduler drain timeout, cancelling runs", "active", s.active.Load())
			s.cancel()
			<-done
		}
		s.cancel()
		s.running.Store(false)
	})
}

// =============================================================================
// Schedule Loop
// =============================================================================

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.dispatchDue()
	for {
		select {
		case <-ticker.C:
			s.dispatchDue()
		case <-s.wakeup:
			s.dispatchDue()
		case <-s.shutdown:
			return
		}
	}
}

func (s *Scheduler) dispatchDue() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.shutdown:
		return
	default:
	}

	for s.heap.Len() > 0 {
		next := s.heap.peek()
		if next.next.After(now) {
			break
		}

		// Running items stay out of the heap until complete.
		item := heap.Pop(&s.heap).(*jobItem)
		item.running = true
		item.stats.Running = true

		s.wg.Add(1)
		go s.execute(item)
	}
}

func (s *Scheduler) execute(item *jobItem) {
	defer s.wg.Done()

	start := time.Now()
	err := s.runWithRecovery(item.job)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("job failed", "job", item.job.Name, "duration", elapsed, "error", err)
	} else {
		log.Debug("job complete", "job", item.job.Name, "duration", elapsed)
	}

	s.complete(item, start, elapsed, err)
}

func (s *Scheduler) runWithRecovery(job Job) (err error) {
	s.active.Add(1)
	defer func() {
		s.active.Add(-1)
		if r := recover(); r != nil {
			log.Error("panic in job", "job", job.Name, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	return job.Run(ctx)
}

// complete records the run and reschedules the item on its original
// cadence, skipping ticks that passed while it ran.
func (s *Scheduler) complete(item *jobItem, start time.Time, elapsed time.Duration, err error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := &item.stats
	st.Runs++
	st.Running = false
	st.LastRun = start
	st.LastDuration = elapsed
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}

	next := item.next.Add(item.job.Interval)
	for !next.After(now) {
		next = next.Add(item.job.Interval)
		st.Skipped++
	}
	item.next = next
	item.running = false
	heap.Push(&s.heap, item)
	s.signalWakeup()
}

// =============================================================================
// Utility Methods
// =============================================================================

func (s *Scheduler) signalWakeup() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// Stats returns per-job statistics sorted by name.
func (s *Scheduler) Stats() []JobStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStats, 0, len(s.items))
	for _, item := range s.items {
		st := item.stats
		st.NextRun = item.next
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered jobs.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// ActiveCount returns the number of runs in flight.
func (s *Scheduler) ActiveCount() int {
	return int(s.active.Load())
}
