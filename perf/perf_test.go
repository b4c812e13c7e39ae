package perf

import (
	"math"
	"testing"
	"time"
)

func TestCallStatFirstCallSeedsSmoothed(t *testing.T) {
	s := &CallStat{}
	s.SetStartTime()
	s.lastStart = time.Now().Add(-100 * time.Millisecond)
	s.CalculateDuration()

	if s.Calls() != 1 {
		t.Fatalf("calls = %d, want 1", s.Calls())
	}
	if diff := absDuration(s.SmoothedDuration() - s.LastDuration()); diff > time.Millisecond {
		t.Errorf("first smoothed duration should equal last, diff %v", diff)
	}
}

func TestCallStatSmoothing(t *testing.T) {
	s := &CallStat{}

	s.SetStartTime()
	s.lastStart = time.Now().Add(-100 * time.Millisecond)
	s.CalculateDuration()
	first := s.LastDuration()

	s.SetStartTime()
	s.lastStart = time.Now().Add(-200 * time.Millisecond)
	s.CalculateDuration()
	second := s.LastDuration()

	want := time.Duration(float64(first)*0.9 + float64(second)*0.1)
	if diff := absDuration(s.SmoothedDuration() - want); diff > 2*time.Millisecond {
		t.Errorf("smoothed = %v, want ~%v", s.SmoothedDuration(), want)
	}
	if total := s.TotalDuration(); total < first+second {
		t.Errorf("total = %v, want at least %v", total, first+second)
	}
}

func TestCallStatSmoothedWhileInFlight(t *testing.T) {
	s := &CallStat{}
	if got := s.SmoothedDuration(); got != 0 {
		t.Fatalf("smoothed before any call = %v, want 0", got)
	}

	s.SetStartTime()
	s.lastStart = time.Now().Add(-50 * time.Millisecond)
	if got := s.SmoothedDuration(); got < 50*time.Millisecond {
		t.Errorf("in-flight smoothed = %v, want >= 50ms", got)
	}
}

func TestTimerFinishUnknown(t *testing.T) {
	timer := NewTimer()
	if err := timer.Finish("nope"); err == nil {
		t.Fatal("expected error finishing unknown timer")
	}
	if _, err := timer.Stat("nope"); err == nil {
		t.Fatal("expected error reading unknown timer")
	}
}

func TestTimerStartFinishSnapshot(t *testing.T) {
	timer := NewTimer()
	timer.Start("stage")
	if err := timer.Finish("stage"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	snap := timer.Snapshot()
	stats, ok := snap["stage"]
	if !ok {
		t.Fatal("snapshot missing stage")
	}
	if stats.Calls != 1 {
		t.Errorf("calls = %d, want 1", stats.Calls)
	}
}

func absDuration(d time.Duration) time.Duration {
	return time.Duration(math.Abs(float64(d)))
}
