// Package profiler tracks per-stage timings of a detection run.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Stage names recorded by the pipeline.
const (
	StageDecode   = "decode"
	StageInfer    = "infer"
	StageNMS      = "nms"
	StageAnnotate = "annotate"
	StageWrite    = "write"
)

// TimeTracker accumulates timing statistics for one stage.
type TimeTracker struct {
	Name      string
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
	Count     int64
}

// Average returns the mean duration, or zero when nothing was recorded.
func (t TimeTracker) Average() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.TotalTime / time.Duration(t.Count)
}

// Profiler records stage durations. It is safe for concurrent use; a nil *Profiler records nothing.
type Profiler struct {
	mu        sync.Mutex
	startTime time.Time
	stages    map[string]*TimeTracker
}

// New returns a profiler whose uptime starts now.
func New() *Profiler {
	return &Profiler{
		startTime: time.Now(),
		stages:    make(map[string]*TimeTracker),
	}
}

// StartOperation starts timing name and returns the function that stops it.
//
// Usage:
//
//	done := p.StartOperation(profiler.StageInfer)
//	defer done()
func (p *Profiler) StartOperation(name string) func() {
	if p == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record adds one duration for name.
func (p *Profiler) Record(name string, duration time.Duration) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, ok := p.stages[name]
	if !ok {
		tracker = &TimeTracker{Name: name, MinTime: duration, MaxTime: duration}
		p.stages[name] = tracker
	}
	tracker.TotalTime += duration
	tracker.Count++
	tracker.MinTime = min(tracker.MinTime, duration)
	tracker.MaxTime = max(tracker.MaxTime, duration)
}

// Stats returns a copy of every stage tracker, sorted by name.
func (p *Profiler) Stats() []TimeTracker {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TimeTracker, 0, len(p.stages))
	for _, t := range p.stages {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LogSummary writes one line per stage plus a memory line at info level.
func (p *Profiler) LogSummary(log logrus.FieldLogger) {
	if p == nil {
		return
	}

	for _, t := range p.Stats() {
		log.WithFields(logrus.Fields{
			"stage": t.Name,
			"avg":   t.Average().Truncate(time.Microsecond),
			"min":   t.MinTime.Truncate(time.Microsecond),
			"max":   t.MaxTime.Truncate(time.Microsecond),
			"count": t.Count,
		}).Info("Stage timing")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	log.WithFields(logrus.Fields{
		"uptime":    time.Since(p.startTime).Truncate(time.Millisecond),
		"heapAlloc": formatBytes(mem.HeapAlloc),
		"sys":       formatBytes(mem.Sys),
		"gcCycles":  mem.NumGC,
	}).Info("Runtime")
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
