package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/visagelab/face-analysis-service/detections"
	"github.com/visagelab/face-analysis-service/perf"
)

const (
	// DefaultPoolSize is the number of pipelines kept warm.
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

// pipelineFactory builds a fresh pipeline with its own model sessions.
type pipelineFactory func() (*detections.Pipeline, error)

// PipelinePool hands out exclusive pipelines to request handlers. Each
// pipeline owns its own ONNX sessions and tensors, so concurrent
// requests never share inference state.
type PipelinePool struct {
	pipelines  chan *detections.Pipeline
	size       int
	factory    pipelineFactory
	mu         sync.Mutex
	closed     bool
	metrics    *PoolMetrics
	timers     map[*detections.Pipeline]*perf.Timer
	lastErrors []error
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolMetricsSnapshot is a copyable view of the pool counters.
type PoolMetricsSnapshot struct {
	Size            int     `json:"pool_size"`
	InUse           int     `json:"pipelines_in_use"`
	TotalAcquired   int64   `json:"total_acquired"`
	TotalReleased   int64   `json:"total_released"`
	AcquireFailures int64   `json:"acquire_failures"`
	TotalWaitMs     float64 `json:"total_wait_ms"`
}

func NewPipelinePool(factory pipelineFactory, size int) (*PipelinePool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &PipelinePool{
		pipelines: make(chan *detections.Pipeline, size),
		size:      size,
		factory:   factory,
		metrics:   &PoolMetrics{},
		timers:    make(map[*detections.Pipeline]*perf.Timer, size),
	}

	for i := 0; i < size; i++ {
		pipeline, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize pipeline %d: %w", i, err)
		}
		pool.addPipeline(pipeline)
	}

	go pool.healthCheck()

	return pool, nil
}

func (p *PipelinePool) addPipeline(pipeline *detections.Pipeline) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		pipeline.Destroy()
		return
	}
	p.timers[pipeline] = pipeline.Timer()
	p.pipelines <- pipeline
}

func (p *PipelinePool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *PipelinePool) Acquire(ctx context.Context) (*detections.Pipeline, error) {
	if p.isClosed() {
		return nil, fmt.Errorf("pool is closed")
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	select {
	case pipeline := <-p.pipelines:
		// A closed, drained channel yields nil.
		if pipeline == nil {
			return nil, fmt.Errorf("pool is closed")
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return pipeline, nil
	case <-time.After(AcquireTimeout):
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available pipeline")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a pipeline to the pool. The send happens under the
// mutex so it cannot race the close in Destroy; the channel is sized
// for every pipeline the pool owns, so it never blocks.
func (p *PipelinePool) Release(pipeline *detections.Pipeline) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		pipeline.Destroy()
		return
	}

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.pipelines <- pipeline
	p.mu.Unlock()
}

func (p *PipelinePool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.pipelines)

	for pipeline := range p.pipelines {
		pipeline.Destroy()
		delete(p.timers, pipeline)
	}
}

func (p *PipelinePool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if p.isClosed() {
			return
		}
		p.replenishMissing()
	}
}

// replenishMissing rebuilds pipelines the pool has genuinely lost to
// initialization failures. Pipelines checked out by in-flight requests
// still belong to the pool and are not counted as missing.
func (p *PipelinePool) replenishMissing() {
	p.metrics.mu.RLock()
	inUse := p.metrics.inUse
	p.metrics.mu.RUnlock()

	missing := p.size - len(p.pipelines) - inUse
	for i := 0; i < missing; i++ {
		pipeline, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}
		p.addPipeline(pipeline)
	}
}

func (p *PipelinePool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *PipelinePool) Metrics() PoolMetricsSnapshot {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolMetricsSnapshot{
		Size:            p.size,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		TotalWaitMs:     float64(p.metrics.waitTime) / float64(time.Millisecond),
	}
}

// StageStats merges the per-pipeline timers into one view per stage:
// calls and totals are summed, smoothed durations averaged over the
// pipelines that have run the stage.
func (p *PipelinePool) StageStats() map[string]perf.StageStats {
	p.mu.Lock()
	timers := make([]*perf.Timer, 0, len(p.timers))
	for _, t := range p.timers {
		timers = append(timers, t)
	}
	p.mu.Unlock()

	merged := make(map[string]perf.StageStats)
	counts := make(map[string]int)
	for _, t := range timers {
		if t == nil {
			continue
		}
		for name, s := range t.Snapshot() {
			m := merged[name]
			m.Calls += s.Calls
			m.TotalMs += s.TotalMs
			m.SmoothedMs += s.SmoothedMs
			merged[name] = m
			counts[name]++
		}
	}
	for name, n := range counts {
		m := merged[name]
		m.SmoothedMs /= float64(n)
		merged[name] = m
	}
	return merged
}
