package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/visagelab/face-analysis-service/detections"
)

func stubFactory(calls *int) pipelineFactory {
	return func() (*detections.Pipeline, error) {
		*calls++
		return &detections.Pipeline{}, nil
	}
}

func TestPoolInitializesAllPipelines(t *testing.T) {
	var calls int
	pool, err := NewPipelinePool(stubFactory(&calls), 3)
	if err != nil {
		t.Fatalf("NewPipelinePool: %v", err)
	}
	defer pool.Destroy()

	if calls != 3 {
		t.Errorf("factory called %d times, want 3", calls)
	}
	if m := pool.Metrics(); m.Size != 3 || m.InUse != 0 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	var calls int
	pool, err := NewPipelinePool(stubFactory(&calls), 1)
	if err != nil {
		t.Fatalf("NewPipelinePool: %v", err)
	}
	defer pool.Destroy()

	p, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if m := pool.Metrics(); m.InUse != 1 || m.TotalAcquired != 1 {
		t.Errorf("metrics after acquire = %+v", m)
	}

	pool.Release(p)
	if m := pool.Metrics(); m.InUse != 0 || m.TotalReleased != 1 {
		t.Errorf("metrics after release = %+v", m)
	}
}

func TestPoolAcquireCanceledContext(t *testing.T) {
	var calls int
	pool, err := NewPipelinePool(stubFactory(&calls), 1)
	if err != nil {
		t.Fatalf("NewPipelinePool: %v", err)
	}
	defer pool.Destroy()

	// Drain the pool so the context branch is the only way out.
	p, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer pool.Release(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire on canceled ctx = %v, want context.Canceled", err)
	}
}

func TestPoolDestroyedRejectsAcquire(t *testing.T) {
	var calls int
	pool, err := NewPipelinePool(stubFactory(&calls), 1)
	if err != nil {
		t.Fatalf("NewPipelinePool: %v", err)
	}

	pool.Destroy()
	if _, err := pool.Acquire(context.Background()); err == nil {
		t.Error("expected error acquiring from destroyed pool")
	}
}

func TestPoolReplenishSkipsInUsePipelines(t *testing.T) {
	var calls int
	pool, err := NewPipelinePool(stubFactory(&calls), 2)
	if err != nil {
		t.Fatalf("NewPipelinePool: %v", err)
	}
	defer pool.Destroy()

	p, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// A checked-out pipeline still belongs to the pool, so a health
	// check tick must not build a replacement for it.
	pool.replenishMissing()
	if calls != 2 {
		t.Fatalf("factory called %d times, want 2", calls)
	}

	released := make(chan struct{})
	go func() {
		pool.Release(p)
		close(released)
	}()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Release blocked, pool holds more pipelines than its size")
	}

	if n := len(pool.timers); n != 2 {
		t.Errorf("pool tracks %d timers, want 2", n)
	}
}

func TestPoolReleaseAfterDestroy(t *testing.T) {
	var calls int
	pool, err := NewPipelinePool(stubFactory(&calls), 1)
	if err != nil {
		t.Fatalf("NewPipelinePool: %v", err)
	}

	p, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	pool.Destroy()
	// Must destroy the pipeline instead of sending on the closed
	// channel.
	pool.Release(p)
}

func TestPoolFactoryFailure(t *testing.T) {
	factory := func() (*detections.Pipeline, error) {
		return nil, errors.New("no model")
	}
	if _, err := NewPipelinePool(factory, 2); err == nil {
		t.Error("expected pool construction error")
	}
}
