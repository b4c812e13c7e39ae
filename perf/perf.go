// Package perf tracks per-stage call durations with exponential
// smoothing so the service can report stable latency figures.
package perf

import (
	"fmt"
	"sync"
	"time"
)

// smoothingAlpha weights the most recent call in the moving average.
const smoothingAlpha = 0.1

// CallStat accumulates duration statistics for one pipeline stage.
type CallStat struct {
	calls     int64
	total     time.Duration
	last      time.Duration
	smoothed  time.Duration
	lastStart time.Time
	started   bool
	finished  bool
}

// SetStartTime marks the beginning of a call.
func (s *CallStat) SetStartTime() {
	s.lastStart = time.Now()
	s.started = true
}

// CalculateDuration closes the current call and folds its duration
// into the statistics.
func (s *CallStat) CalculateDuration() {
	s.last = time.Since(s.lastStart)
	s.calls++
	s.total += s.last
	if !s.finished {
		s.smoothed = s.last
		s.finished = true
		return
	}
	s.smoothed = time.Duration(float64(s.smoothed)*(1-smoothingAlpha) + float64(s.last)*smoothingAlpha)
}

// SmoothedDuration returns the exponentially smoothed call duration.
// While the first call is still in flight it reports the elapsed time
// of that call, so early metrics reads are not stuck at zero.
func (s *CallStat) SmoothedDuration() time.Duration {
	if !s.finished {
		if s.started {
			return time.Since(s.lastStart)
		}
		return 0
	}
	return s.smoothed
}

func (s *CallStat) TotalDuration() time.Duration { return s.total }

func (s *CallStat) LastDuration() time.Duration { return s.last }

func (s *CallStat) Calls() int64 { return s.calls }

// Timer is a registry of named CallStats shared across a pipeline.
type Timer struct {
	mu    sync.Mutex
	stats map[string]*CallStat
}

func NewTimer() *Timer {
	return &Timer{stats: make(map[string]*CallStat)}
}

// Start begins timing the named stage, creating it on first use.
func (t *Timer) Start(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[name]
	if !ok {
		s = &CallStat{}
		t.stats[name] = s
	}
	s.SetStartTime()
}

// Finish closes the named stage. Finishing a stage that was never
// started is an error.
func (t *Timer) Finish(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[name]
	if !ok {
		return fmt.Errorf("no timer with name %s", name)
	}
	s.CalculateDuration()
	return nil
}

// Stat returns the CallStat for name, or an error if it was never
// started.
func (t *Timer) Stat(name string) (*CallStat, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[name]
	if !ok {
		return nil, fmt.Errorf("no timer with name %s", name)
	}
	return s, nil
}

// Snapshot reports smoothed and total durations for every known stage,
// keyed by stage name.
func (t *Timer) Snapshot() map[string]StageStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]StageStats, len(t.stats))
	for name, s := range t.stats {
		out[name] = StageStats{
			Calls:      s.Calls(),
			SmoothedMs: float64(s.SmoothedDuration()) / float64(time.Millisecond),
			TotalMs:    float64(s.TotalDuration()) / float64(time.Millisecond),
		}
	}
	return out
}

type StageStats struct {
	Calls      int64   `json:"calls"`
	SmoothedMs float64 `json:"smoothed_ms"`
	TotalMs    float64 `json:"total_ms"`
}
