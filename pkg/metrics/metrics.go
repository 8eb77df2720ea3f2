package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Recorder keeps per-stage latency sketches and named counters for the
// media pipeline. The zero value is not usable; call NewRecorder.
type Recorder struct {
	mu               sync.Mutex
	sketches         map[string]*ddsketch.DDSketch
	counters         map[string]int64
	relativeAccuracy float64
}

// NewRecorder creates a Recorder whose quantiles are accurate to within
// relativeAccuracy (0.01 = 1%).
func NewRecorder(relativeAccuracy float64) *Recorder {
	return &Recorder{
		sketches:         make(map[string]*ddsketch.DDSketch),
		counters:         make(map[string]int64),
		relativeAccuracy: relativeAccuracy,
	}
}

// Observe records one duration for stage, in milliseconds.
func (r *Recorder) Observe(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sketch, ok := r.sketches[stage]
	if !ok {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(r.relativeAccuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(r.relativeAccuracy)
		}
		r.sketches[stage] = sketch
	}
	_ = sketch.Add(float64(d.Microseconds()) / 1000.0)
}

// Time runs fn and records its duration under stage.
func (r *Recorder) Time(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.Observe(stage, time.Since(start))
	return err
}

// Incr bumps a named counter.
func (r *Recorder) Incr(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.counters[name]++
	r.mu.Unlock()
}

// Count returns the current value of a counter.
func (r *Recorder) Count(name string) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

type StageStats struct {
	Stage string
	Count int64
	Min   float64
	P50   float64
	P90   float64
	P99   float64
	Max   float64
}

func (r *Recorder) Stats(stage string) (StageStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked(stage)
}

func (r *Recorder) statsLocked(stage string) (StageStats, error) {
	sketch, ok := r.sketches[stage]
	if !ok {
		return StageStats{}, fmt.Errorf("no data for stage: %s", stage)
	}

	s := StageStats{Stage: stage, Count: int64(sketch.GetCount())}
	if s.Count == 0 {
		return s, nil
	}
	s.Min, _ = sketch.GetMinValue()
	s.P50, _ = sketch.GetValueAtQuantile(0.50)
	s.P90, _ = sketch.GetValueAtQuantile(0.90)
	s.P99, _ = sketch.GetValueAtQuantile(0.99)
	s.Max, _ = sketch.GetMaxValue()
	return s, nil
}

// AllStats returns stats for every observed stage, ordered by name.
func (r *Recorder) AllStats() []StageStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.sketches))
	for name := range r.sketches {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]StageStats, 0, len(names))
	for _, name := range names {
		if s, err := r.statsLocked(name); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func (s StageStats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("  %s: no data", s.Stage)
	}
	return fmt.Sprintf("  %s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		s.Stage, s.Count, s.Min, s.P50, s.P90, s.P99, s.Max)
}

// Report renders all stages and counters as a multi-line string.
func (r *Recorder) Report() string {
	var b strings.Builder
	b.WriteString("stages:\n")
	for _, s := range r.AllStats() {
		b.WriteString(s.String())
		b.WriteByte('\n')
	}

	r.mu.Lock()
	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	b.WriteString("counters:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %s=%d\n", name, r.counters[name])
	}
	r.mu.Unlock()

	return b.String()
}
