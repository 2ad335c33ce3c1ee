package worker

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	pool := NewPool(4)
	if pool.NumWorkers() != 4 {
		t.Errorf("expected 4 workers, got %d", pool.NumWorkers())
	}

	// Zero should default to CPU count
	pool2 := NewPool(0)
	if pool2.NumWorkers() != runtime.NumCPU() {
		t.Errorf("expected %d workers, got %d", runtime.NumCPU(), pool2.NumWorkers())
	}
}

func TestPoolNegativeWorkers(t *testing.T) {
	pool := NewPool(-5)
	if pool.NumWorkers() != runtime.NumCPU() {
		t.Errorf("expected %d workers for negative input, got %d", runtime.NumCPU(), pool.NumWorkers())
	}
}

func TestPoolStartStop(t *testing.T) {
	pool := NewPool(2)
	ctx := context.Background()

	var iterations atomic.Int64
	loop := func(ctx context.Context, _ int) {
		for ctx.Err() == nil {
			iterations.Add(1)
			time.Sleep(time.Millisecond)
		}
	}

	pool.Start(ctx, loop)
	// Double start should be no-op
	pool.Start(ctx, loop)

	time.Sleep(20 * time.Millisecond)
	if pool.Active() != 2 {
		t.Errorf("expected 2 active goroutines, got %d", pool.Active())
	}

	if !pool.Stop() {
		t.Error("expected pool to drain")
	}
	// Double stop should be no-op
	if !pool.Stop() {
		t.Error("expected second stop to report drained")
	}

	if pool.Active() != 0 {
		t.Errorf("expected 0 active goroutines, got %d", pool.Active())
	}
	if iterations.Load() == 0 {
		t.Error("expected loops to run")
	}
}

func TestPoolContextCancel(t *testing.T) {
	pool := NewPool(3)
	ctx, cancel := context.WithCancel(context.Background())

	pool.Start(ctx, func(ctx context.Context, _ int) {
		<-ctx.Done()
	})

	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := pool.Wait(waitCtx); err != nil {
		t.Fatalf("expected goroutines to exit after cancel, got %v", err)
	}
	if pool.Active() != 0 {
		t.Errorf("expected 0 active goroutines, got %d", pool.Active())
	}
}

func TestPoolStopGraceExceeded(t *testing.T) {
	pool := NewPoolWithConfig(PoolConfig{NumWorkers: 1, StopGrace: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)

	pool.Start(context.Background(), func(context.Context, int) {
		<-release // ignores cancellation
	})

	if pool.Stop() {
		t.Error("expected Stop to report goroutines still running")
	}
	if pool.Active() != 1 {
		t.Errorf("expected 1 active goroutine, got %d", pool.Active())
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	pool := NewPool(1)
	pool.Start(context.Background(), func(context.Context, int) {
		panic("boom")
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Wait(waitCtx); err != nil {
		t.Fatalf("expected panicking goroutine to finish, got %v", err)
	}
	pool.Stop()
}

func TestPoolWaitBeforeStart(t *testing.T) {
	pool := NewPool(1)
	if err := pool.Wait(context.Background()); err != nil {
		t.Errorf("expected nil before start, got %v", err)
	}
}
