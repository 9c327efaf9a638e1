// Package profiler - collects timing and per-image selection statistics for
// target generation runs.
package profiler

import (
	"fmt"
	"io"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"
)

// MetricTracker tracks statistics for a recorded value such as the number of
// foreground regions per image.
type MetricTracker struct {
	sum   float64
	min   float64
	max   float64
	count int64
}

// TimeTracker tracks timing statistics for one operation.
type TimeTracker struct {
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Stats is a snapshot of one tracked metric or operation.
type Stats struct {
	Name  string
	Avg   float64
	Min   float64
	Max   float64
	Count int64
}

// Profiler records operation timings and metric values. It is safe for
// concurrent use by batch workers.
type Profiler struct {
	mu         sync.Mutex
	startTime  time.Time
	metrics    map[string]*MetricTracker
	operations map[string]*TimeTracker
}

// NewProfiler creates an empty profiler.
//
// @example
// prof := profiler.NewProfiler()
// done := prof.StartOperation("compute")
// result, err := computer.Compute(in, out, rng)
// done()
func NewProfiler() *Profiler {
	return &Profiler{
		startTime:  time.Now(),
		metrics:    make(map[string]*MetricTracker),
		operations: make(map[string]*TimeTracker),
	}
}

// RecordMetric records a metric value.
//
// Arguments:
//   - name: The name of the metric.
//   - value: The metric value to record.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.metrics[name]
	if !exists {
		tracker = &MetricTracker{min: value, max: value}
		p.metrics[name] = tracker
	}

	tracker.sum += value
	tracker.count++
	if value < tracker.min {
		tracker.min = value
	}
	if value > tracker.max {
		tracker.max = value
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - A function to call when the operation completes.
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration records the completion time of an operation.
func (p *Profiler) RecordDuration(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operations[name]
	if !exists {
		tracker = &TimeTracker{minTime: duration, maxTime: duration}
		p.operations[name] = tracker
	}

	tracker.totalTime += duration
	tracker.count++
	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Metrics returns a snapshot of every recorded metric, sorted by name.
func (p *Profiler) Metrics() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]Stats, 0, len(p.metrics))
	for name, t := range p.metrics {
		stats = append(stats, Stats{Name: name, Avg: t.sum / float64(t.count), Min: t.min, Max: t.max, Count: t.count})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Operations returns a snapshot of every timed operation in seconds, sorted
// by name.
func (p *Profiler) Operations() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make([]Stats, 0, len(p.operations))
	for name, t := range p.operations {
		avg := t.totalTime / time.Duration(t.count)
		stats = append(stats, Stats{
			Name:  name,
			Avg:   avg.Seconds(),
			Min:   t.minTime.Seconds(),
			Max:   t.maxTime.Seconds(),
			Count: t.count,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Report writes a summary of the run to w.
func (p *Profiler) Report(w io.Writer) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(w, "TARGET GENERATION REPORT - %s\n", time.Now().Format("15:04:05.000"))
	fmt.Fprintf(w, "Elapsed: %v\n", time.Since(p.startTime).Truncate(time.Millisecond))
	fmt.Fprintf(w, "Heap Alloc: %s (total %s, %d GC cycles)\n", formatBytes(mem.HeapAlloc), formatBytes(mem.TotalAlloc), mem.NumGC)

	if ops := p.Operations(); len(ops) > 0 {
		fmt.Fprintf(w, "\nOPERATION TIMINGS:\n")
		for _, s := range ops {
			fmt.Fprintf(w, "  %s: avg=%v, min=%v, max=%v, count=%d\n",
				s.Name, seconds(s.Avg), seconds(s.Min), seconds(s.Max), s.Count)
		}
	}

	if metrics := p.Metrics(); len(metrics) > 0 {
		fmt.Fprintf(w, "\nSELECTION METRICS:\n")
		for _, s := range metrics {
			fmt.Fprintf(w, "  %s: avg=%.2f, min=%.2f, max=%.2f, samples=%d\n", s.Name, s.Avg, s.Min, s.Max, s.Count)
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second))).Truncate(time.Microsecond)
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
