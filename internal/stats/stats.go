// Package stats records latency distributions for named operations.
//
// Each series keeps running count/sum/min/max and a DDSketch for
// percentiles, so memory per series is bounded no matter how many values
// are observed.
package stats

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	defaults "github.com/xtxerr/contentstore/config"
)

// Summary is a point-in-time view of one series. Durations are in
// milliseconds.
type Summary struct {
	Count int64
	Mean  float64
	Min   float64
	Max   float64
	P50   float64
	P90   float64
	P95   float64
	P99   float64
}

type series struct {
	mu     sync.Mutex
	count  int64
	sum    float64
	min    float64
	max    float64
	sketch *ddsketch.DDSketch
}

func newSeries(accuracy float64) *series {
	s := &series{min: math.MaxFloat64, max: -math.MaxFloat64}
	if sk, err := ddsketch.NewDefaultDDSketch(accuracy); err == nil {
		s.sketch = sk
	}
	return s
}

func (s *series) add(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += v
	if v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	if s.sketch != nil {
		// Add only fails for negative values, which durations never are.
		_ = s.sketch.Add(v)
	}
}

func (s *series) summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{Count: s.count}
	if s.count == 0 {
		return out
	}
	out.Mean = s.sum / float64(s.count)
	out.Min = s.min
	out.Max = s.max
	if s.sketch != nil {
		out.P50, _ = s.sketch.GetValueAtQuantile(0.50)
		out.P90, _ = s.sketch.GetValueAtQuantile(0.90)
		out.P95, _ = s.sketch.GetValueAtQuantile(0.95)
		out.P99, _ = s.sketch.GetValueAtQuantile(0.99)
	}
	return out
}

// Recorder holds named latency series. The zero value is not usable; a nil
// *Recorder discards everything.
type Recorder struct {
	accuracy float64

	mu     sync.RWMutex
	series map[string]*series
}

// New returns a recorder with the given relative accuracy (0.01 = 1%).
// A non-positive accuracy takes the default.
func New(accuracy float64) *Recorder {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = defaults.DefaultSketchAccuracy
	}
	return &Recorder{accuracy: accuracy, series: make(map[string]*series)}
}

func (r *Recorder) get(name string) *series {
	r.mu.RLock()
	s, ok := r.series[name]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.series[name]; !ok {
		s = newSeries(r.accuracy)
		r.series[name] = s
	}
	return s
}

// Observe records one duration for name.
func (r *Recorder) Observe(name string, d time.Duration) {
	if r == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	r.get(name).add(float64(d) / float64(time.Millisecond))
}

// Since records the time elapsed since start.
func (r *Recorder) Since(name string, start time.Time) {
	r.Observe(name, time.Since(start))
}

// Summary returns the summary of one series. Unknown names have a zero
// summary.
func (r *Recorder) Summary(name string) Summary {
	if r == nil {
		return Summary{}
	}
	r.mu.RLock()
	s, ok := r.series[name]
	r.mu.RUnlock()
	if !ok {
		return Summary{}
	}
	return s.summary()
}

// Names returns the recorded series names in order.
func (r *Recorder) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.series))
	for n := range r.series {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the summary of every series.
func (r *Recorder) Snapshot() map[string]Summary {
	out := make(map[string]Summary)
	for _, n := range r.Names() {
		out[n] = r.Summary(n)
	}
	return out
}

// Reset drops every series.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.series = make(map[string]*series)
	r.mu.Unlock()
}
